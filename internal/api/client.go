// ABOUTME: HTTP client for the remote conversation store.
// ABOUTME: Retries idempotent calls with backoff behind a circuit breaker.

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
)

const defaultMaxRetries = 3

// maxErrorBody bounds how much of an error response gets read into memory.
const maxErrorBody = 4096

// ClientOptions configures a Client.
type ClientOptions struct {
	BaseURL    string
	HTTPClient *http.Client
	Tokens     TokenSource
	Logger     *slog.Logger
	MaxRetries int
}

// Client talks to the remote conversation store.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	breaker    *gobreaker.CircuitBreaker
	logger     *slog.Logger
	maxRetries uint64
}

// NewClient creates a conversation-store client.
func NewClient(opts ClientOptions) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "api")

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "conversation-api",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Only connectivity-shaped failures trip the breaker; a request the
		// backend rejected outright is not a backend outage.
		IsSuccessful: func(err error) bool {
			return err == nil || Classify(err) != KindTransient
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
		},
	})

	return &Client{
		baseURL:    opts.BaseURL,
		httpClient: httpClient,
		tokens:     opts.Tokens,
		breaker:    breaker,
		logger:     logger,
		maxRetries: uint64(maxRetries),
	}
}

// CreateConversation creates a remote conversation. Not retried: a replayed
// create would mint a second conversation.
func (c *Client) CreateConversation(ctx context.Context, req CreateConversationRequest) (*Conversation, error) {
	var conv Conversation
	if err := c.do(ctx, "create conversation", http.MethodPost, "/api/conversations", req, &conv, false); err != nil {
		return nil, err
	}
	return &conv, nil
}

// GetConversation fetches one conversation with its messages.
func (c *Client) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var conv Conversation
	path := "/api/conversations/" + url.PathEscape(id)
	if err := c.do(ctx, "get conversation", http.MethodGet, path, nil, &conv, true); err != nil {
		return nil, err
	}
	return &conv, nil
}

// ListConversations returns the user's conversations.
func (c *Client) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	var convs []Conversation
	path := "/api/conversations?user_id=" + url.QueryEscape(userID)
	if err := c.do(ctx, "list conversations", http.MethodGet, path, nil, &convs, true); err != nil {
		return nil, err
	}
	return convs, nil
}

// SearchConversations returns the user's conversations matching query.
func (c *Client) SearchConversations(ctx context.Context, userID, query string) ([]Conversation, error) {
	var convs []Conversation
	path := "/api/conversations/search?user_id=" + url.QueryEscape(userID) + "&q=" + url.QueryEscape(query)
	if err := c.do(ctx, "search conversations", http.MethodGet, path, nil, &convs, true); err != nil {
		return nil, err
	}
	return convs, nil
}

// UpdateConversation patches title or status. A 500/501 response or a
// success-shaped error envelope becomes ErrSoftFail: the backend is known
// to apply these writes before failing, so replaying them is worse than
// reconciling later.
func (c *Client) UpdateConversation(ctx context.Context, id string, req UpdateConversationRequest) error {
	var envelope statusEnvelope
	path := "/api/conversations/" + url.PathEscape(id)
	err := c.do(ctx, "update conversation", http.MethodPut, path, req, &envelope, false)
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && (statusErr.Status == http.StatusInternalServerError || statusErr.Status == http.StatusNotImplemented) {
			return fmt.Errorf("update conversation %s: %w", id, ErrSoftFail)
		}
		return err
	}
	if envelope.Status == "error" {
		return fmt.Errorf("update conversation %s: %s: %w", id, envelope.Message, ErrSoftFail)
	}
	return nil
}

// DeleteConversation removes a remote conversation.
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	path := "/api/conversations/" + url.PathEscape(id)
	return c.do(ctx, "delete conversation", http.MethodDelete, path, nil, nil, true)
}

// GenerateTitle asks the backend to title a conversation opener. The caller
// bounds it with a context deadline; no retries, a late title is useless.
func (c *Client) GenerateTitle(ctx context.Context, text string) (string, error) {
	var resp GenerateTitleResponse
	if err := c.do(ctx, "generate title", http.MethodPost, "/api/generate-title", GenerateTitleRequest{Text: text}, &resp, false); err != nil {
		return "", err
	}
	return resp.Title, nil
}

// SaveMessage commits one exchange. The backend upserts on chat_id, so a
// replayed commit is safe and the call retries as idempotent.
func (c *Client) SaveMessage(ctx context.Context, req SaveMessageRequest) (*Message, error) {
	var msg Message
	if err := c.do(ctx, "save message", http.MethodPost, "/api/messages", req, &msg, true); err != nil {
		return nil, err
	}
	return &msg, nil
}

// UpdateFeedback records feedback on an exchange. Backends that predate
// message ids reject the message_id form; on a validation error the call
// falls back to addressing the exchange by chat_id.
func (c *Client) UpdateFeedback(ctx context.Context, conversationID string, req FeedbackRequest) error {
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/feedback"
	err := c.do(ctx, "update feedback", http.MethodPost, path, req, nil, true)
	if err == nil || req.MessageID == "" || Classify(err) != KindValidation {
		return err
	}

	c.logger.Debug("feedback by message_id rejected, retrying with chat_id",
		"conversation_id", conversationID, "chat_id", req.ChatID)
	fallback := FeedbackRequest{ChatID: req.ChatID, Feedback: req.Feedback}
	return c.do(ctx, "update feedback", http.MethodPost, path, fallback, nil, true)
}

// StreamChat opens the streaming chat endpoint and returns the raw body for
// the stream engine. The caller owns closing it.
func (c *Client) StreamChat(ctx context.Context, question, domainID, conversationID string) (io.ReadCloser, error) {
	u := c.baseURL + "/api/chat"
	if conversationID != "" {
		u += "?conversation_id=" + url.QueryEscape(conversationID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("stream chat: building request: %w", err)
	}
	req.Header.Set("question", question)
	req.Header.Set("domainid", domainID)
	if err := c.authorize(ctx, req); err != nil {
		return nil, err
	}

	result, err := c.breaker.Execute(func() (any, error) {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("stream chat: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			resp.Body.Close()
			return nil, &StatusError{Op: "stream chat", Status: resp.StatusCode, Body: string(body)}
		}
		return resp.Body, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(io.ReadCloser), nil
}

// do runs one JSON request. Idempotent calls retry transient failures with
// exponential backoff; everything else returns after the first attempt.
func (c *Client) do(ctx context.Context, op, method, path string, body, out any, idempotent bool) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encoding request: %w", op, err)
		}
	}

	attempt := func() error {
		_, err := c.breaker.Execute(func() (any, error) {
			return nil, c.roundTrip(ctx, op, method, path, payload, out)
		})
		return err
	}

	if !idempotent {
		return attempt()
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)
	return backoff.Retry(func() error {
		err := attempt()
		if err == nil {
			return nil
		}
		if Classify(err) != KindTransient {
			return backoff.Permanent(err)
		}
		c.logger.Debug("retrying after transient failure", "op", op, "error", err)
		return err
	}, policy)
}

func (c *Client) roundTrip(ctx context.Context, op, method, path string, payload []byte, out any) error {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("%s: building request: %w", op, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := c.authorize(ctx, req); err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Op: op, Status: resp.StatusCode, Body: string(body)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%s: decoding response: %w", op, err)
		}
	}
	return nil
}

func (c *Client) authorize(ctx context.Context, req *http.Request) error {
	if c.tokens == nil {
		return nil
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("authorizing request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}
