// ABOUTME: Tests for the conversation-store client.
// ABOUTME: Exercises retries, soft-fail mapping, feedback fallback, and streaming.

package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := NewClient(ClientOptions{
		BaseURL:    server.URL,
		HTTPClient: server.Client(),
		Tokens:     NewStaticTokenSource("test-token"),
	})
	return client, server
}

func TestCreateConversation(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/conversations", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		var req CreateConversationRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "user-1", req.UserID)

		json.NewEncoder(w).Encode(Conversation{ID: "srv-1", UserID: req.UserID, Title: req.Title})
	}))

	conv, err := client.CreateConversation(context.Background(), CreateConversationRequest{UserID: "user-1", Title: "Leave question"})
	require.NoError(t, err)
	assert.Equal(t, "srv-1", conv.ID)
	assert.Equal(t, "Leave question", conv.Title)
}

func TestCreateConversation_NotRetried(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := client.CreateConversation(context.Background(), CreateConversationRequest{UserID: "u"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "a create must never be replayed")
}

func TestGetConversation_NotFound(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := client.GetConversation(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetConversation_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(Conversation{ID: "srv-1"})
	}))

	conv, err := client.GetConversation(context.Background(), "srv-1")
	require.NoError(t, err)
	assert.Equal(t, "srv-1", conv.ID)
	assert.Equal(t, int32(3), calls.Load())
}

func TestUpdateConversation_SoftFailOn500(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		w.WriteHeader(http.StatusInternalServerError)
	}))

	title := "New title"
	err := client.UpdateConversation(context.Background(), "srv-1", UpdateConversationRequest{Title: &title})
	assert.ErrorIs(t, err, ErrSoftFail)
	assert.Equal(t, KindSoft, Classify(err))
}

func TestUpdateConversation_SoftFailOnErrorEnvelope(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(statusEnvelope{Status: "error", Message: "write not confirmed"})
	}))

	title := "New title"
	err := client.UpdateConversation(context.Background(), "srv-1", UpdateConversationRequest{Title: &title})
	assert.ErrorIs(t, err, ErrSoftFail)
}

func TestUpdateConversation_OK(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(statusEnvelope{Status: "ok"})
	}))

	title := "New title"
	assert.NoError(t, client.UpdateConversation(context.Background(), "srv-1", UpdateConversationRequest{Title: &title}))
}

func TestSaveMessage_RetriedAsIdempotent(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		var req SaveMessageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		json.NewEncoder(w).Encode(Message{ChatID: req.ChatID, MessageType: req.MessageType, Content: req.Content})
	}))

	msg, err := client.SaveMessage(context.Background(), SaveMessageRequest{
		ConversationID: "srv-1", ChatID: "chat-7", MessageType: "assistant", Content: "answer",
	})
	require.NoError(t, err)
	assert.Equal(t, "chat-7", msg.ChatID)
	assert.Equal(t, int32(2), calls.Load())
}

func TestUpdateFeedback_FallsBackToChatID(t *testing.T) {
	var bodies []FeedbackRequest
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req FeedbackRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		bodies = append(bodies, req)
		if req.MessageID != "" {
			http.Error(w, "unknown field message_id", http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(statusEnvelope{Status: "ok"})
	}))

	err := client.UpdateFeedback(context.Background(), "srv-1", FeedbackRequest{
		MessageID: "msg-1", ChatID: "chat-7", Feedback: "up",
	})
	require.NoError(t, err)
	require.Len(t, bodies, 2)
	assert.Empty(t, bodies[1].MessageID)
	assert.Equal(t, "chat-7", bodies[1].ChatID)
}

func TestUpdateFeedback_NoFallbackNeeded(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(statusEnvelope{Status: "ok"})
	}))

	err := client.UpdateFeedback(context.Background(), "srv-1", FeedbackRequest{MessageID: "msg-1", ChatID: "chat-7", Feedback: "down"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestStreamChat(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.Equal(t, "How much PTO do I have?", r.Header.Get("question"))
		assert.Equal(t, "hr", r.Header.Get("domainid"))
		assert.Equal(t, "srv-1", r.URL.Query().Get("conversation_id"))
		io.WriteString(w, "id: 1\nYou have 12 days left.")
	}))

	body, err := client.StreamChat(context.Background(), "How much PTO do I have?", "hr", "srv-1")
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "12 days")
}

func TestStreamChat_ErrorStatus(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no capacity", http.StatusServiceUnavailable)
	}))

	_, err := client.StreamChat(context.Background(), "q", "hr", "")
	require.Error(t, err)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.Status)
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	// Port 0 never connects, so every attempt is a transport failure.
	client := NewClient(ClientOptions{
		BaseURL:    "http://127.0.0.1:0",
		HTTPClient: &http.Client{Timeout: time.Second},
		MaxRetries: 1,
	})

	var lastErr error
	for i := 0; i < 4; i++ {
		_, lastErr = client.GetConversation(context.Background(), "srv-1")
		require.Error(t, lastErr)
	}
	assert.ErrorIs(t, lastErr, gobreaker.ErrOpenState)
	assert.Equal(t, KindTransient, Classify(lastErr))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, KindSoft, Classify(ErrSoftFail))
	assert.Equal(t, KindValidation, Classify(ErrNotFound))
	assert.Equal(t, KindAuth, Classify(&StatusError{Status: 401}))
	assert.Equal(t, KindValidation, Classify(&StatusError{Status: 422}))
	assert.Equal(t, KindTransient, Classify(&StatusError{Status: 429}))
	assert.Equal(t, KindTransient, Classify(&StatusError{Status: 503}))
	assert.Equal(t, KindTransient, Classify(context.DeadlineExceeded))
	assert.Equal(t, KindProtocol, Classify(assert.AnError))
}
