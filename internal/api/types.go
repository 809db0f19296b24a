// ABOUTME: Wire types for the remote conversation-store API.
// ABOUTME: Field names follow the backend's JSON contract.

package api

import "time"

// Conversation is a remote conversation record.
type Conversation struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	Title         string     `json:"title"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	Messages      []Message  `json:"messages,omitempty"`
}

// Message is one exchange inside a conversation. ChatID is the server-issued
// exchange id and is the idempotence key for commits and feedback.
type Message struct {
	ChatID      string    `json:"chat_id"`
	MessageType string    `json:"message_type"`
	Content     string    `json:"content"`
	Feedback    string    `json:"feedback,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// CreateConversationRequest creates a remote conversation.
type CreateConversationRequest struct {
	UserID string `json:"user_id"`
	Title  string `json:"title"`
}

// UpdateConversationRequest patches title or status. Nil fields are left
// untouched.
type UpdateConversationRequest struct {
	Title  *string `json:"title,omitempty"`
	Status *string `json:"status,omitempty"`
}

// SaveMessageRequest commits one exchange.
type SaveMessageRequest struct {
	ConversationID string `json:"conversation_id"`
	ChatID         string `json:"chat_id"`
	MessageType    string `json:"message_type"`
	Content        string `json:"content"`
}

// FeedbackRequest records feedback on an exchange. MessageID is preferred;
// older backends only accept ChatID.
type FeedbackRequest struct {
	MessageID string `json:"message_id,omitempty"`
	ChatID    string `json:"chat_id,omitempty"`
	Feedback  string `json:"feedback"`
}

// GenerateTitleRequest asks the backend to title a conversation opener.
type GenerateTitleRequest struct {
	Text string `json:"text"`
}

// GenerateTitleResponse carries the generated title.
type GenerateTitleResponse struct {
	Title string `json:"title"`
}

// statusEnvelope is the backend's generic write acknowledgement.
type statusEnvelope struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}
