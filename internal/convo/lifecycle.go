// ABOUTME: Conversation lifecycle: load, delete, and feedback operations.
// ABOUTME: A failed delete restores state from the remote source of truth.

package convo

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/pulse-chat/internal/api"
	"github.com/2389/pulse-chat/internal/cache"
	"github.com/2389/pulse-chat/internal/store"
	"github.com/2389/pulse-chat/internal/threads"
)

// ConversationView is a loaded conversation ready for rendering.
type ConversationView struct {
	ID       string
	Title    string
	Synced   bool
	Messages []MessageView
}

// MessageView is one rendered exchange entry.
type MessageView struct {
	ChatID   string
	Role     string
	Content  string
	Feedback string
}

// LoadConversation returns a conversation with its messages: cache first,
// then the remote store, then local data when the backend is unreachable.
func (c *Coordinator) LoadConversation(ctx context.Context, id string) (*ConversationView, error) {
	if c.cache != nil {
		if v, ok := c.cache.Get(cache.ConversationKey(id)); ok {
			if view, ok := v.(*ConversationView); ok {
				return view, nil
			}
		}
	}

	if !threads.IsPlaceholderID(id) {
		if conv, err := c.remote.GetConversation(ctx, id); err == nil {
			view := viewFromRemote(conv)
			if c.cache != nil {
				c.cache.Put(cache.ConversationKey(id), view)
			}
			return view, nil
		} else if api.Classify(err) == api.KindValidation {
			return nil, fmt.Errorf("loading conversation %s: %w", id, err)
		} else {
			c.logger.Warn("remote load failed, falling back to local store",
				"conversation_id", id, "error", err)
		}
	}

	return c.loadLocal(ctx, id)
}

func (c *Coordinator) loadLocal(ctx context.Context, id string) (*ConversationView, error) {
	conv, err := c.local.GetConversation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading conversation %s: %w", id, err)
	}
	msgs, err := c.local.ListMessages(ctx, id, 0)
	if err != nil {
		return nil, fmt.Errorf("loading messages for %s: %w", id, err)
	}

	view := &ConversationView{ID: conv.ID, Title: conv.Title, Synced: conv.Synced}
	for _, msg := range msgs {
		view.Messages = append(view.Messages, MessageView{
			ChatID:   msg.ChatID,
			Role:     msg.Role,
			Content:  msg.Content,
			Feedback: msg.Feedback,
		})
	}
	return view, nil
}

func viewFromRemote(conv *api.Conversation) *ConversationView {
	view := &ConversationView{ID: conv.ID, Title: conv.Title, Synced: true}
	for _, msg := range conv.Messages {
		view.Messages = append(view.Messages, MessageView{
			ChatID:   msg.ChatID,
			Role:     msg.MessageType,
			Content:  msg.Content,
			Feedback: msg.Feedback,
		})
	}
	return view
}

// DeleteConversation removes the conversation remotely and locally, cancels
// its background work, and returns the id to activate next: the most recent
// remaining conversation, or a fresh placeholder when none is left. When
// the remote delete fails, local state is restored from the remote record
// and the error surfaces.
func (c *Coordinator) DeleteConversation(ctx context.Context, id string) (string, error) {
	if !threads.IsPlaceholderID(id) {
		if err := c.remote.DeleteConversation(ctx, id); err != nil && api.Classify(err) != api.KindValidation {
			c.restoreFromRemote(ctx, id)
			return id, fmt.Errorf("deleting conversation %s: %w", id, err)
		}
	}

	c.cancelTasks(id)
	if err := c.local.DeleteConversation(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		c.logger.Warn("local delete failed", "conversation_id", id, "error", err)
	}
	c.promotions.Forget(id)
	c.Invalidate(id)

	c.mu.Lock()
	delete(c.titleLocks, id)
	wasActive := c.activeID == id
	c.mu.Unlock()
	if !wasActive {
		return c.ActiveID(), nil
	}

	next := c.nextConversation(ctx)
	c.SetActive(next)
	return next, nil
}

// restoreFromRemote re-syncs local state from the remote record after a
// failed delete, so a half-applied delete cannot leave the two stores
// disagreeing.
func (c *Coordinator) restoreFromRemote(ctx context.Context, id string) {
	conv, err := c.remote.GetConversation(ctx, id)
	if err != nil {
		c.logger.Warn("restore fetch failed after delete failure", "conversation_id", id, "error", err)
		return
	}
	local := &store.Conversation{
		ID:            conv.ID,
		Title:         conv.Title,
		Status:        store.StatusActive,
		Synced:        true,
		CreatedAt:     conv.CreatedAt,
		UpdatedAt:     conv.UpdatedAt,
		LastMessageAt: conv.LastMessageAt,
	}
	if err := c.local.UpsertConversation(ctx, local); err != nil {
		c.logger.Warn("restoring conversation failed", "conversation_id", id, "error", err)
	}
	c.Invalidate(id)
}

// nextConversation picks the most recently updated remaining conversation,
// or creates a fresh placeholder.
func (c *Coordinator) nextConversation(ctx context.Context) string {
	if locals, err := c.local.ListConversations(ctx); err == nil && len(locals) > 0 {
		return locals[0].ID
	}

	id := c.newID()
	now := c.now()
	conv := &store.Conversation{
		ID:        id,
		Title:     sentinelTitle,
		Status:    store.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.local.UpsertConversation(ctx, conv); err != nil {
		c.logger.Warn("creating replacement placeholder failed", "error", err)
	}
	return id
}

// UpdateFeedback records like/dislike on an exchange. The remote write is
// absorbed on failure; the local record always reflects the user's choice.
func (c *Coordinator) UpdateFeedback(ctx context.Context, conversationID, chatID, messageID, feedback string) error {
	if !store.ValidFeedback(feedback) {
		return fmt.Errorf("%w: %q", store.ErrInvalidFeedback, feedback)
	}
	if !threads.IsPlaceholderID(conversationID) {
		err := c.remote.UpdateFeedback(ctx, conversationID, api.FeedbackRequest{
			MessageID: messageID,
			ChatID:    chatID,
			Feedback:  feedback,
		})
		if err != nil {
			c.logger.Warn("remote feedback update failed",
				"conversation_id", conversationID, "chat_id", chatID,
				"kind", api.Classify(err).String(), "error", err)
		}
	}

	if err := c.local.SetMessageFeedback(ctx, conversationID, chatID, feedback); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("feedback target %s/%s: %w", conversationID, chatID, err)
		}
		return fmt.Errorf("recording feedback locally: %w", err)
	}

	c.Invalidate(conversationID)
	return nil
}
