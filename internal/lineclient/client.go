// Package lineclient is a small client for the LINE Messaging API.
package lineclient

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
)

// DefaultBaseURL is the production Messaging API endpoint.
const DefaultBaseURL = "https://api.line.me"

// ErrNotConfigured is returned by every call when no access token is set.
var ErrNotConfigured = errors.New("line: channel access token not configured")

// Message is a single outgoing message. Only text messages are sent.
type Message struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Text builds a text message.
func Text(s string) Message { return Message{Type: "text", Text: s} }

// BotInfo describes the bot account behind the access token.
type BotInfo struct {
	UserID      string `json:"userId"`
	BasicID     string `json:"basicId"`
	DisplayName string `json:"displayName"`
	ChatMode    string `json:"chatMode"`
}

// APIError is a non-2xx answer from the Messaging API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("line api error %d", e.StatusCode)
	}
	return fmt.Sprintf("line api error %d: %s", e.StatusCode, e.Message)
}

// Client calls the Messaging API with a channel access token.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

// New creates a client. An empty baseURL means DefaultBaseURL.
func New(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: 15 * time.Second},
	}
}

// Configured reports whether the client has a token to send with.
func (c *Client) Configured() bool {
	return c != nil && c.Token != ""
}

// ValidUserID reports whether id looks like a LINE user identifier.
func ValidUserID(id string) bool {
	return len(id) > 1 && strings.HasPrefix(id, "U")
}

// Push sends messages to a single user.
func (c *Client) Push(ctx context.Context, to string, messages ...Message) error {
	return c.post(ctx, "/v2/bot/message/push", map[string]any{
		"to":       to,
		"messages": messages,
	})
}

// Reply answers a webhook event using its reply token.
func (c *Client) Reply(ctx context.Context, replyToken string, messages ...Message) error {
	return c.post(ctx, "/v2/bot/message/reply", map[string]any{
		"replyToken": replyToken,
		"messages":   messages,
	})
}

// BotInfo fetches the bot profile; it doubles as a token check.
func (c *Client) BotInfo(ctx context.Context) (*BotInfo, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/v2/bot/info", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out BotInfo
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("line: decode bot info: %w", err)
	}
	return &out, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	req.Header.Set("Authorization", "Bearer "+c.Token)
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("line request failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var e struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(bodyBytes, &e) != nil || e.Message == "" {
			e.Message = strings.TrimSpace(string(bodyBytes))
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: e.Message}
	}
	return resp, nil
}
