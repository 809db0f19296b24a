// ABOUTME: Title selection and background finalization with bounded retry.
// ABOUTME: The sentinel placeholder must never survive, locally or remotely.

package convo

import (
	"context"
	"strings"
	"time"

	"github.com/2389/pulse-chat/internal/api"
	"github.com/2389/pulse-chat/internal/store"
	"github.com/2389/pulse-chat/internal/threads"
)

const (
	// Predefined prompts already read like titles; free text gets longer
	// for the generator to do something useful with.
	predefinedTitleTimeout = 1500 * time.Millisecond
	manualTitleTimeout     = 3 * time.Second

	// titleRetryCooldown spaces retry attempts for a failed title write.
	titleRetryCooldown = 4 * time.Second

	// fallbackTitleRunes is where the deterministic truncation cuts.
	fallbackTitleRunes = 50

	// untitledFallback covers the degenerate empty-input case. Still not
	// the sentinel.
	untitledFallback = "Untitled conversation"
)

// ChooseInitialTitle picks a title for a conversation opener: a remote
// title-generation call bounded by a short timeout, falling back to a
// deterministic truncation of the text. Never returns the sentinel.
func (c *Coordinator) ChooseInitialTitle(ctx context.Context, text string, predefined bool) string {
	timeout := manualTitleTimeout
	if predefined {
		timeout = predefinedTitleTimeout
	}
	genCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	title, err := c.remote.GenerateTitle(genCtx, text)
	if err != nil {
		c.logger.Debug("title generation failed, using fallback", "error", err)
		return fallbackTitle(text)
	}
	title = strings.TrimSpace(title)
	if title == "" || title == sentinelTitle {
		return fallbackTitle(text)
	}
	return title
}

// fallbackTitle truncates text to a fixed rune budget.
func fallbackTitle(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return untitledFallback
	}
	runes := []rune(text)
	if len(runes) <= fallbackTitleRunes {
		return text
	}
	return string(runes[:fallbackTitleRunes]) + "..."
}

// FinalizeTitleInBackground resolves and applies the real title without
// blocking the send path. The task is keyed to nothing cancellable: a user
// switching conversations must not lose the title of the one they left.
func (c *Coordinator) FinalizeTitleInBackground(conversationID, text string, predefined bool) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.finalizeTitle(context.Background(), conversationID, text, predefined)
	}()
}

func (c *Coordinator) finalizeTitle(ctx context.Context, conversationID, text string, predefined bool) {
	if c.titleLocked(conversationID) {
		return
	}

	title := c.ChooseInitialTitle(ctx, text, predefined)

	// The id may have been promoted while the generator ran.
	conversationID = c.currentID(conversationID)

	c.applyTitleLocally(ctx, conversationID, title)

	if !c.pushTitleRemotely(ctx, conversationID, title) {
		// The server must not be left holding the sentinel: queue the
		// fallback for retry even when the generated title was the one
		// that failed.
		c.queueTitleRetry(ctx, conversationID, title)
	}
}

// applyTitleLocally writes the title to the local store and invalidates
// caches so the sidebar picks it up.
func (c *Coordinator) applyTitleLocally(ctx context.Context, conversationID, title string) {
	conv, err := c.local.GetConversation(ctx, conversationID)
	if err != nil {
		c.logger.Warn("conversation missing for title update", "conversation_id", conversationID, "error", err)
		return
	}
	conv.Title = title
	conv.UpdatedAt = c.now()
	if err := c.local.UpsertConversation(ctx, conv); err != nil {
		c.logger.Warn("local title update failed", "conversation_id", conversationID, "error", err)
		return
	}
	c.Invalidate(conversationID)
}

// pushTitleRemotely writes the title to the remote record. Returns true
// when the title is settled (applied or soft-applied) and locks it so no
// later fallback can regress it.
func (c *Coordinator) pushTitleRemotely(ctx context.Context, conversationID, title string) bool {
	if c.isLocalOnly(conversationID) {
		// Nothing remote to update yet; the retry sweep will catch up
		// once the conversation is promoted.
		return false
	}

	err := c.remote.UpdateConversation(ctx, conversationID, api.UpdateConversationRequest{Title: &title})
	switch {
	case err == nil:
		c.lockTitle(conversationID)
		if derr := c.local.DeletePendingTitle(ctx, conversationID); derr != nil {
			c.logger.Warn("clearing pending title failed", "conversation_id", conversationID, "error", derr)
		}
		return true
	case api.Classify(err) == api.KindSoft:
		// Success-shaped failure: the backend almost certainly applied
		// the write. Treat as settled, keep a retry queued for certainty.
		c.logger.Warn("title update soft-failed", "conversation_id", conversationID, "error", err)
		c.lockTitle(conversationID)
		c.queueTitleRetry(ctx, conversationID, title)
		return true
	default:
		c.logger.Warn("title update failed", "conversation_id", conversationID,
			"kind", api.Classify(err).String(), "error", err)
		return false
	}
}

func (c *Coordinator) queueTitleRetry(ctx context.Context, conversationID, title string) {
	// The failed push counts as an attempt: stamping it here is what makes
	// the sweep's cool-down hold from the moment of failure.
	attemptAt := c.now()
	pending := &store.PendingTitle{
		ConversationID: conversationID,
		Title:          title,
		LastAttemptAt:  &attemptAt,
		CreatedAt:      attemptAt,
	}
	if err := c.local.UpsertPendingTitle(ctx, pending); err != nil {
		c.logger.Warn("queuing title retry failed", "conversation_id", conversationID, "error", err)
	}
}

// RetryPendingTitles re-attempts queued title writes whose cool-down has
// elapsed. Success clears the entry; failure re-stamps the attempt time so
// the sweep stays bounded instead of spinning.
func (c *Coordinator) RetryPendingTitles(ctx context.Context) error {
	pendings, err := c.local.ListPendingTitles(ctx)
	if err != nil {
		return err
	}

	now := c.now()
	for _, pending := range pendings {
		if pending.LastAttemptAt != nil && now.Sub(*pending.LastAttemptAt) < titleRetryCooldown {
			continue
		}
		if c.isLocalOnly(pending.ConversationID) {
			continue
		}

		err := c.remote.UpdateConversation(ctx, pending.ConversationID,
			api.UpdateConversationRequest{Title: &pending.Title})
		if err != nil && api.Classify(err) != api.KindSoft {
			attemptAt := c.now()
			pending.Attempts++
			pending.LastAttemptAt = &attemptAt
			if uerr := c.local.UpsertPendingTitle(ctx, pending); uerr != nil {
				c.logger.Warn("re-stamping pending title failed",
					"conversation_id", pending.ConversationID, "error", uerr)
			}
			continue
		}

		c.lockTitle(pending.ConversationID)
		if derr := c.local.DeletePendingTitle(ctx, pending.ConversationID); derr != nil {
			c.logger.Warn("clearing pending title failed",
				"conversation_id", pending.ConversationID, "error", derr)
		}
		c.Invalidate(pending.ConversationID)
	}
	return nil
}

func (c *Coordinator) lockTitle(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.titleLocks[conversationID] = true
}

func (c *Coordinator) titleLocked(conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.titleLocks[conversationID]
}

// currentID resolves an id that may have been rekeyed while a background
// task was running.
func (c *Coordinator) currentID(conversationID string) string {
	if _, err := c.local.GetConversation(context.Background(), conversationID); err == nil {
		return conversationID
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.activeID != "" {
		return c.activeID
	}
	return conversationID
}

// isLocalOnly reports whether the conversation exists only under a
// provisional id, meaning there is no remote record to write to yet.
func (c *Coordinator) isLocalOnly(conversationID string) bool {
	return threads.IsPlaceholderID(conversationID)
}
