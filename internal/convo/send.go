// ABOUTME: The send pipeline: ensure a conversation, stream the answer, commit it.
// ABOUTME: Backend failures degrade to local-only persistence, never to a blank reply.

package convo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/2389/pulse-chat/internal/api"
	"github.com/2389/pulse-chat/internal/markup"
	"github.com/2389/pulse-chat/internal/store"
	"github.com/2389/pulse-chat/internal/stream"
	"github.com/2389/pulse-chat/internal/threads"
)

// ErrSendInProgress is returned when a send overlaps another in-flight send,
// typically a double-fired UI event.
var ErrSendInProgress = errors.New("a send is already in progress")

// Substitute assistant messages, worded by coarse failure class.
const (
	substituteNetwork = "I couldn't reach the assistant. Please check your connection and try again."
	substituteAuth    = "Your session has expired. Please sign in again to continue."
	substituteServer  = "Something went wrong while answering. Please try again in a moment."
	substituteStream  = "\n\n(The connection dropped before the answer finished.)"
)

// SendResult is the outcome of one exchange.
type SendResult struct {
	ConversationID string
	ChatID         string
	Text           string
	Class          stream.Class
	// Substitute is true when Text is a stand-in produced from a failure
	// rather than assistant output.
	Substitute bool
	// Links extracted from the raw assistant text, for the reference panel.
	Links []markup.Link
}

// newProvisionalID mints a client-side conversation id. The prefix marks it
// as unconfirmed for the aggregator and the rekey machinery.
func newProvisionalID() string {
	return "thread_" + uuid.NewString()
}

// StartConversation returns the active conversation id, creating one when
// none is active. A placeholder conversation is promoted in place: the
// remote record is created and the provisional id swapped for the server id
// everywhere it is referenced. Remote failure keeps the conversation
// local-only; the chat goes on.
func (c *Coordinator) StartConversation(ctx context.Context, initialText string) (string, error) {
	c.mu.Lock()
	active := c.activeID
	c.mu.Unlock()

	if active != "" && !threads.IsPlaceholderID(active) {
		return active, nil
	}

	id := active
	if id == "" {
		id = c.newID()
		now := c.now()
		conv := &store.Conversation{
			ID:        id,
			Title:     sentinelTitle,
			Status:    store.StatusActive,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := c.local.UpsertConversation(ctx, conv); err != nil {
			return "", fmt.Errorf("creating local conversation: %w", err)
		}
		c.mu.Lock()
		c.activeID = id
		c.mu.Unlock()
		c.promote(id)
		c.Invalidate(id)
	}

	remote, err := c.remote.CreateConversation(ctx, api.CreateConversationRequest{
		UserID: c.userID,
		Title:  sentinelTitle,
	})
	if err != nil {
		c.logger.Warn("remote conversation create failed, staying local-only",
			"conversation_id", id, "kind", api.Classify(err).String(), "error", err)
		return id, nil
	}

	if err := c.rekeyEverywhere(ctx, id, remote.ID); err != nil {
		// The remote record exists but the local one still carries the
		// provisional id; the next interaction will try again.
		c.logger.Error("rekey after create failed", "old_id", id, "new_id", remote.ID, "error", err)
		return id, nil
	}

	if conv, err := c.local.GetConversation(ctx, remote.ID); err == nil {
		conv.Synced = true
		conv.UpdatedAt = c.now()
		if err := c.local.UpsertConversation(ctx, conv); err != nil {
			c.logger.Warn("marking conversation synced failed", "conversation_id", remote.ID, "error", err)
		}
	}

	c.logger.Info("conversation promoted", "provisional_id", id, "conversation_id", remote.ID)
	return remote.ID, nil
}

// Send runs one full exchange: ensure a conversation, record the question,
// stream the answer through the engine, and commit the result. All backend
// failures are absorbed into a substitute assistant message.
func (c *Coordinator) Send(ctx context.Context, text string, predefined bool, reveal stream.RevealFunc) (*SendResult, error) {
	if !c.beginSend() {
		return nil, ErrSendInProgress
	}
	defer c.endSend()

	convID, err := c.StartConversation(ctx, text)
	if err != nil {
		return nil, err
	}

	fresh := false
	if conv, err := c.local.GetConversation(ctx, convID); err == nil {
		fresh = conv.Title == sentinelTitle
	}

	chatID := uuid.NewString()
	if err := c.SaveMessage(ctx, &store.Message{
		ID:             uuid.NewString(),
		ConversationID: convID,
		ChatID:         chatID,
		Role:           store.RoleUser,
		Content:        text,
		CreatedAt:      c.now(),
	}); err != nil {
		c.logger.Error("recording question failed", "conversation_id", convID, "error", err)
	}

	// Titles resolve in the background so the stream starts immediately.
	if fresh {
		c.FinalizeTitleInBackground(convID, text, predefined)
	}

	result := c.streamAnswer(ctx, convID, chatID, text, reveal)

	if err := c.SaveMessage(ctx, &store.Message{
		ID:             uuid.NewString(),
		ConversationID: convID,
		ChatID:         chatID,
		Role:           store.RoleAssistant,
		Content:        result.Text,
		CreatedAt:      c.now(),
	}); err != nil {
		c.logger.Error("recording answer failed", "conversation_id", convID, "error", err)
	}

	c.promote(convID)
	c.Invalidate(convID)
	return result, nil
}

// streamAnswer opens the chat stream tied to the conversation's task
// context, so switching away or deleting the conversation cancels it.
func (c *Coordinator) streamAnswer(ctx context.Context, convID, chatID, question string, reveal stream.RevealFunc) *SendResult {
	taskCtx, release := c.taskContext(convID)
	defer release()

	streamCtx, cancel := mergeContexts(ctx, taskCtx)
	defer cancel()

	body, err := c.remote.StreamChat(streamCtx, question, c.domainID, convID)
	if err != nil {
		c.logger.Warn("chat stream failed to open",
			"conversation_id", convID, "kind", api.Classify(err).String(), "error", err)
		return &SendResult{
			ConversationID: convID,
			ChatID:         chatID,
			Text:           substituteFor(err),
			Class:          stream.ClassError,
			Substitute:     true,
		}
	}
	defer body.Close()

	res, err := c.engine.Ingest(streamCtx, body, reveal)
	text := res.Text
	if err != nil && res.Class == stream.ClassError {
		// Keep whatever arrived, with a notice that it is incomplete.
		c.logger.Warn("chat stream broke mid-answer", "conversation_id", convID, "error", err)
		text += substituteStream
	}

	return &SendResult{
		ConversationID: convID,
		ChatID:         chatID,
		Text:           text,
		Class:          res.Class,
		Links:          markup.ExtractLinks(res.Raw),
	}
}

// SaveMessage commits an exchange remote-then-local. A remote failure
// degrades to local-only persistence with the conversation flagged
// not-yet-synced; only a local failure is an error.
func (c *Coordinator) SaveMessage(ctx context.Context, msg *store.Message) error {
	synced := true
	if !threads.IsPlaceholderID(msg.ConversationID) {
		_, err := c.remote.SaveMessage(ctx, api.SaveMessageRequest{
			ConversationID: msg.ConversationID,
			ChatID:         msg.ChatID,
			MessageType:    msg.Role,
			Content:        msg.Content,
		})
		if err != nil {
			kind := api.Classify(err)
			if kind == api.KindSoft {
				c.logger.Warn("remote save reported soft failure, treating as applied",
					"conversation_id", msg.ConversationID, "chat_id", msg.ChatID)
			} else {
				synced = false
				c.logger.Warn("remote save failed, persisting locally only",
					"conversation_id", msg.ConversationID, "chat_id", msg.ChatID,
					"kind", kind.String(), "error", err)
			}
		}
	} else {
		synced = false
	}

	msg.Synced = synced
	if err := c.local.UpsertMessage(ctx, msg); err != nil {
		return fmt.Errorf("persisting message locally: %w", err)
	}

	if conv, err := c.local.GetConversation(ctx, msg.ConversationID); err == nil {
		now := c.now()
		conv.UpdatedAt = now
		conv.LastMessageAt = &now
		// The conversation stays flagged while any message is still waiting
		// to reach the backend; a later successful save must not mask an
		// earlier failed one.
		unsynced, uerr := c.local.HasUnsyncedMessages(ctx, msg.ConversationID)
		if uerr != nil {
			c.logger.Warn("checking unsynced messages failed",
				"conversation_id", msg.ConversationID, "error", uerr)
			unsynced = true
		}
		conv.Synced = !unsynced
		if err := c.local.UpsertConversation(ctx, conv); err != nil {
			c.logger.Warn("updating conversation after save failed",
				"conversation_id", msg.ConversationID, "error", err)
		}
	}

	c.Invalidate(msg.ConversationID)
	return nil
}

// substituteFor picks user-facing wording by coarse error class.
func substituteFor(err error) string {
	switch api.Classify(err) {
	case api.KindAuth:
		return substituteAuth
	case api.KindTransient:
		return substituteNetwork
	default:
		return substituteServer
	}
}

// mergeContexts cancels when either parent cancels.
func mergeContexts(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stop := context.AfterFunc(b, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
