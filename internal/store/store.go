// ABOUTME: Data types and errors for local conversation persistence.
// ABOUTME: Defines Conversation, Message, PendingTitle, and Promotion rows.

package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Conversation status values.
const (
	StatusActive  = "active"
	StatusDeleted = "deleted"
)

// Message role values.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message feedback values. FeedbackNone is the zero value: no feedback yet.
const (
	FeedbackNone = ""
	FeedbackUp   = "up"
	FeedbackDown = "down"
)

// ErrInvalidFeedback is returned when a feedback value is not one of the
// recognized tri-state values.
var ErrInvalidFeedback = errors.New("invalid feedback value")

// ValidFeedback reports whether v is a recognized feedback value.
func ValidFeedback(v string) bool {
	switch v {
	case FeedbackNone, FeedbackUp, FeedbackDown:
		return true
	}
	return false
}

// Conversation is one locally persisted conversation. ID is a provisional
// client id ("thread_" or "local_" prefix) until the server assigns one.
type Conversation struct {
	ID            string
	Title         string
	Status        string
	Synced        bool // true once the remote store holds the same state
	CreatedAt     time.Time
	UpdatedAt     time.Time
	LastMessageAt *time.Time
}

// Message is one exchange entry inside a conversation. ChatID correlates
// the user question with its answer; (conversation, chat_id, role) is
// unique so repeated commits of the same exchange side collapse to one row.
type Message struct {
	ID             string
	ConversationID string
	ChatID         string
	Role           string
	Content        string
	Feedback       string
	Synced         bool // true once the remote store holds this message
	CreatedAt      time.Time
}

// PendingTitle records a title whose remote write failed and needs retry.
type PendingTitle struct {
	ConversationID string
	Title          string
	Attempts       int
	LastAttemptAt  *time.Time
	CreatedAt      time.Time
}

// Promotion is a persisted promotion stamp, reloaded into the registry at
// startup so ordering survives a restart.
type Promotion struct {
	ConversationID string
	PromotedAt     time.Time
}
