// Package chatwoot talks to the chat backend: contacts, conversations,
// messages and the webhook events it sends back.
package chatwoot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// API is the subset of the chat backend used by the pipeline.
type API interface {
	CreateContact(ctx context.Context, in ContactInput) (*Contact, error)
	CreateConversation(ctx context.Context, in ConversationInput) (*Conversation, error)
	SendMessage(ctx context.Context, conversationID int64, content string) (*Message, error)
	UpdateCustomAttributes(ctx context.Context, conversationID int64, attrs map[string]any) error
	ListMessages(ctx context.Context, conversationID int64) ([]Message, error)
}

type Config struct {
	BaseURL   string
	APIToken  string
	AccountID int64
	InboxID   int64
	Timeout   time.Duration
}

// APIError is a non-2xx response.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chatwoot %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// IsClientError reports whether err is a 4xx other than 429. Those mean the
// request was wrong, not that the backend is down.
func IsClientError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 && apiErr.StatusCode != http.StatusTooManyRequests
}

type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (c *Client) InboxID() int64 {
	return c.cfg.InboxID
}

func (c *Client) CreateContact(ctx context.Context, in ContactInput) (*Contact, error) {
	body := map[string]any{
		"inbox_id": c.cfg.InboxID,
		"name":     in.Name,
	}
	if in.Email != "" {
		body["email"] = in.Email
	}
	if in.PhoneNumber != "" {
		body["phone_number"] = in.PhoneNumber
	}
	if in.Identifier != "" {
		body["identifier"] = in.Identifier
	}
	if len(in.CustomAttributes) > 0 {
		body["custom_attributes"] = in.CustomAttributes
	}

	var resp struct {
		Payload struct {
			Contact Contact `json:"contact"`
		} `json:"payload"`
	}
	if err := c.do(ctx, http.MethodPost, "/contacts", body, &resp); err != nil {
		return nil, err
	}
	return &resp.Payload.Contact, nil
}

func (c *Client) CreateConversation(ctx context.Context, in ConversationInput) (*Conversation, error) {
	body := map[string]any{
		"inbox_id":   c.cfg.InboxID,
		"contact_id": in.ContactID,
		"status":     "open",
	}
	if in.SourceID != "" {
		body["source_id"] = in.SourceID
	}
	if len(in.CustomAttributes) > 0 {
		body["custom_attributes"] = in.CustomAttributes
	}

	var conv Conversation
	if err := c.do(ctx, http.MethodPost, "/conversations", body, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (c *Client) SendMessage(ctx context.Context, conversationID int64, content string) (*Message, error) {
	body := map[string]any{
		"content":      content,
		"message_type": "outgoing",
		"private":      false,
	}

	var msg Message
	path := fmt.Sprintf("/conversations/%d/messages", conversationID)
	if err := c.do(ctx, http.MethodPost, path, body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *Client) UpdateCustomAttributes(ctx context.Context, conversationID int64, attrs map[string]any) error {
	path := fmt.Sprintf("/conversations/%d/custom_attributes", conversationID)
	return c.do(ctx, http.MethodPost, path, map[string]any{"custom_attributes": attrs}, nil)
}

func (c *Client) ListMessages(ctx context.Context, conversationID int64) ([]Message, error) {
	var resp struct {
		Payload []Message `json:"payload"`
	}
	path := fmt.Sprintf("/conversations/%d/messages", conversationID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Payload, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	url := fmt.Sprintf("%s/api/v1/accounts/%d%s", c.cfg.BaseURL, c.cfg.AccountID, path)
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("api_access_token", c.cfg.APIToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("chatwoot %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(data)),
		}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
