// ABOUTME: Coordinator state, collaborator contracts, and shared plumbing.
// ABOUTME: Owns all write-through to the cache and the local store.

package convo

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/pulse-chat/internal/api"
	"github.com/2389/pulse-chat/internal/cache"
	"github.com/2389/pulse-chat/internal/store"
	"github.com/2389/pulse-chat/internal/stream"
	"github.com/2389/pulse-chat/internal/threads"
)

// sentinelTitle is the placeholder a conversation starts with. It must
// never survive as a final title, locally or remotely.
const sentinelTitle = "New Chat"

const (
	// sendGuardStale lets a new send take over when a previous send never
	// released the guard (crashed task, abandoned tab).
	sendGuardStale = 30 * time.Second
	// promotionRetention bounds how long persisted promotion stamps live.
	promotionRetention = 72 * time.Hour
	// conversationRetention bounds how long local conversations live; it
	// matches the 30-day horizon of the thread list.
	conversationRetention = 30 * 24 * time.Hour
)

// RemoteStore is the remote conversation API surface the coordinator needs.
type RemoteStore interface {
	CreateConversation(ctx context.Context, req api.CreateConversationRequest) (*api.Conversation, error)
	GetConversation(ctx context.Context, id string) (*api.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]api.Conversation, error)
	UpdateConversation(ctx context.Context, id string, req api.UpdateConversationRequest) error
	DeleteConversation(ctx context.Context, id string) error
	GenerateTitle(ctx context.Context, text string) (string, error)
	SaveMessage(ctx context.Context, req api.SaveMessageRequest) (*api.Message, error)
	UpdateFeedback(ctx context.Context, conversationID string, req api.FeedbackRequest) error
	StreamChat(ctx context.Context, question, domainID, conversationID string) (io.ReadCloser, error)
}

// LocalStore is the local persistence surface the coordinator needs.
type LocalStore interface {
	UpsertConversation(ctx context.Context, conv *store.Conversation) error
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	ListConversations(ctx context.Context) ([]*store.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
	Rekey(ctx context.Context, oldID, newID string) error
	UpsertMessage(ctx context.Context, msg *store.Message) error
	ListMessages(ctx context.Context, conversationID string, limit int) ([]*store.Message, error)
	HasUnsyncedMessages(ctx context.Context, conversationID string) (bool, error)
	SetMessageFeedback(ctx context.Context, conversationID, chatID, feedback string) error
	UpsertPendingTitle(ctx context.Context, pending *store.PendingTitle) error
	ListPendingTitles(ctx context.Context) ([]*store.PendingTitle, error)
	DeletePendingTitle(ctx context.Context, conversationID string) error
	SavePromotion(ctx context.Context, conversationID string, promotedAt time.Time) error
	ListPromotions(ctx context.Context) ([]*store.Promotion, error)
	PurgePromotionsOlderThan(ctx context.Context, age time.Duration) (int64, error)
	PurgeConversationsOlderThan(ctx context.Context, age time.Duration) (int64, error)
}

// Config wires a Coordinator.
type Config struct {
	Remote     RemoteStore
	Local      LocalStore
	Cache      *cache.Cache
	Promotions *threads.Registry
	Engine     *stream.Engine
	Logger     *slog.Logger
	UserID     string
	DomainID   string
}

// Coordinator owns conversation state and all write-through to the cache
// and local store. The aggregator and UI only read through it.
type Coordinator struct {
	remote     RemoteStore
	local      LocalStore
	cache      *cache.Cache
	promotions *threads.Registry
	engine     *stream.Engine
	logger     *slog.Logger
	userID     string
	domainID   string

	now   func() time.Time
	newID func() string

	mu           sync.Mutex
	activeID     string
	sendingSince time.Time
	titleLocks   map[string]bool
	tasks        map[string]conversationTask
	taskGen      uint64
	wg           sync.WaitGroup
}

type conversationTask struct {
	cancel context.CancelFunc
	gen    uint64
}

// New creates a coordinator. Call Init before first use to run the startup
// sweep and reload promotion stamps.
func New(cfg Config) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	promotions := cfg.Promotions
	if promotions == nil {
		promotions = threads.NewRegistry()
	}
	engine := cfg.Engine
	if engine == nil {
		engine = stream.New(stream.Options{Logger: logger})
	}
	return &Coordinator{
		remote:     cfg.Remote,
		local:      cfg.Local,
		cache:      cfg.Cache,
		promotions: promotions,
		engine:     engine,
		logger:     logger.With("component", "convo"),
		userID:     cfg.UserID,
		domainID:   cfg.DomainID,
		now:        time.Now,
		newID:      newProvisionalID,
		titleLocks: make(map[string]bool),
		tasks:      make(map[string]conversationTask),
	}
}

// Init runs the startup sweeps, aged conversations first so their stamps go
// with them, and reloads the surviving promotions into the registry.
func (c *Coordinator) Init(ctx context.Context) error {
	if _, err := c.local.PurgeConversationsOlderThan(ctx, conversationRetention); err != nil {
		return fmt.Errorf("conversation sweep: %w", err)
	}
	if _, err := c.local.PurgePromotionsOlderThan(ctx, promotionRetention); err != nil {
		return fmt.Errorf("promotion sweep: %w", err)
	}
	promos, err := c.local.ListPromotions(ctx)
	if err != nil {
		return fmt.Errorf("loading promotions: %w", err)
	}
	for _, p := range promos {
		c.promotions.Restore(p.ConversationID, p.PromotedAt)
	}
	return nil
}

// Close cancels per-conversation tasks and waits for background work.
func (c *Coordinator) Close() {
	c.mu.Lock()
	for id, task := range c.tasks {
		task.cancel()
		delete(c.tasks, id)
	}
	c.mu.Unlock()
	c.wg.Wait()
}

// ActiveID returns the currently active conversation id, if any.
func (c *Coordinator) ActiveID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeID
}

// SetActive switches the active conversation, tearing down any in-flight
// stream or timer belonging to the previous one. Background title work is
// keyed separately and survives the switch.
func (c *Coordinator) SetActive(id string) {
	c.mu.Lock()
	prev := c.activeID
	c.activeID = id
	c.mu.Unlock()

	if prev != "" && prev != id {
		c.cancelTasks(prev)
	}
	if id != "" {
		c.promote(id)
	}
}

// Invalidate drops the conversation detail and the user's list from the
// cache so the next read is authoritative. Always called after a write,
// never before one.
func (c *Coordinator) Invalidate(conversationID string) {
	if c.cache == nil {
		return
	}
	c.cache.Delete(cache.ConversationKey(conversationID))
	c.cache.Delete(cache.UserListKey(c.userID))
}

// ThreadList builds the sidebar list: remote conversations merged with
// local placeholders the API has not confirmed yet.
func (c *Coordinator) ThreadList(ctx context.Context) (threads.List, error) {
	apiThreads, err := c.fetchUserThreads(ctx)
	if err != nil {
		c.logger.Warn("thread list fetch failed, using local data only", "error", err)
	}

	var placeholders []threads.Thread
	locals, localErr := c.local.ListConversations(ctx)
	if localErr != nil {
		if err != nil {
			return threads.List{}, fmt.Errorf("listing local conversations: %w", localErr)
		}
		c.logger.Warn("local conversation list failed", "error", localErr)
	}
	for _, conv := range locals {
		if !threads.IsPlaceholderID(conv.ID) {
			continue
		}
		placeholders = append(placeholders, threads.Thread{
			ID:        conv.ID,
			Title:     conv.Title,
			CreatedAt: conv.CreatedAt,
			UpdatedAt: conv.UpdatedAt,
		})
	}

	agg := threads.NewAggregator(c.promotions)
	return agg.Build(apiThreads, placeholders), nil
}

func (c *Coordinator) fetchUserThreads(ctx context.Context) ([]threads.Thread, error) {
	if c.cache != nil {
		if v, ok := c.cache.Get(cache.UserListKey(c.userID)); ok {
			if cached, ok := v.([]threads.Thread); ok {
				return cached, nil
			}
		}
	}

	convs, err := c.remote.ListConversations(ctx, c.userID)
	if err != nil {
		return nil, err
	}
	list := make([]threads.Thread, 0, len(convs))
	for _, conv := range convs {
		list = append(list, threads.Thread{
			ID:        conv.ID,
			Title:     conv.Title,
			CreatedAt: conv.CreatedAt,
			UpdatedAt: conv.UpdatedAt,
			Deleted:   conv.Status == store.StatusDeleted,
		})
	}
	if c.cache != nil {
		c.cache.Put(cache.UserListKey(c.userID), list)
	}
	return list, nil
}

// promote stamps the conversation as just interacted with, in memory and
// on disk so ordering survives a restart.
func (c *Coordinator) promote(conversationID string) {
	c.promotions.Promote(conversationID)
	if stamp, ok := c.promotions.PromotedAt(conversationID); ok {
		if err := c.local.SavePromotion(context.Background(), conversationID, stamp); err != nil {
			c.logger.Warn("persisting promotion failed", "conversation_id", conversationID, "error", err)
		}
	}
}

// beginSend acquires the reentrancy guard. A guard held longer than the
// stale window is taken over rather than honored.
func (c *Coordinator) beginSend() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.sendingSince.IsZero() && c.now().Sub(c.sendingSince) < sendGuardStale {
		return false
	}
	c.sendingSince = c.now()
	return true
}

func (c *Coordinator) endSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendingSince = time.Time{}
}

// taskContext returns a context tied to the conversation: it is canceled
// when the conversation is deleted or the user switches away.
func (c *Coordinator) taskContext(conversationID string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	if prev, ok := c.tasks[conversationID]; ok {
		prev.cancel()
	}
	c.taskGen++
	gen := c.taskGen
	c.tasks[conversationID] = conversationTask{cancel: cancel, gen: gen}
	c.mu.Unlock()

	return ctx, func() {
		cancel()
		c.mu.Lock()
		if current, ok := c.tasks[conversationID]; ok && current.gen == gen {
			delete(c.tasks, conversationID)
		}
		c.mu.Unlock()
	}
}

func (c *Coordinator) cancelTasks(conversationID string) {
	c.mu.Lock()
	task, ok := c.tasks[conversationID]
	if ok {
		delete(c.tasks, conversationID)
	}
	c.mu.Unlock()
	if ok {
		task.cancel()
	}
}

// rekeyEverywhere migrates a provisional id to the server id across the
// local store, cache, promotion registry, and active pointer. Callers see
// either the old id everywhere or the new id everywhere.
func (c *Coordinator) rekeyEverywhere(ctx context.Context, oldID, newID string) error {
	if err := c.local.Rekey(ctx, oldID, newID); err != nil {
		return fmt.Errorf("rekeying local store: %w", err)
	}
	if c.cache != nil {
		c.cache.Rekey(oldID, newID)
	}
	c.promotions.Rekey(oldID, newID)

	c.mu.Lock()
	if c.activeID == oldID {
		c.activeID = newID
	}
	if task, ok := c.tasks[oldID]; ok {
		delete(c.tasks, oldID)
		c.tasks[newID] = task
	}
	if c.titleLocks[oldID] {
		delete(c.titleLocks, oldID)
		c.titleLocks[newID] = true
	}
	c.mu.Unlock()

	c.Invalidate(oldID)
	c.Invalidate(newID)
	return nil
}
