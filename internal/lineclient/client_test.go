package lineclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPush(t *testing.T) {
	var got struct {
		To       string    `json:"to"`
		Messages []Message `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/bot/message/push", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(srv.URL+"/", "tok")
	require.NoError(t, c.Push(context.Background(), "Uabc", Text("hello")))
	assert.Equal(t, "Uabc", got.To)
	assert.Equal(t, []Message{{Type: "text", Text: "hello"}}, got.Messages)
}

func TestReply(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/bot/message/reply", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	require.NoError(t, c.Reply(context.Background(), "rt-1", Text("a"), Text("b")))
	assert.Equal(t, "rt-1", got["replyToken"])
	assert.Len(t, got["messages"], 2)
}

func TestAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"The property, 'to', in the request body is invalid"}`))
	}))
	defer srv.Close()

	err := New(srv.URL, "tok").Push(context.Background(), "bogus", Text("x"))
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Contains(t, apiErr.Error(), "'to'")
}

func TestBotInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v2/bot/info", r.URL.Path)
		_, _ = w.Write([]byte(`{"userId":"Ubot","basicId":"@123abcd","displayName":"長頸鹿補習班","chatMode":"bot"}`))
	}))
	defer srv.Close()

	info, err := New(srv.URL, "tok").BotInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "長頸鹿補習班", info.DisplayName)
	assert.Equal(t, "@123abcd", info.BasicID)
}

func TestNotConfigured(t *testing.T) {
	c := New("", "")
	assert.False(t, c.Configured())
	assert.Equal(t, DefaultBaseURL, c.BaseURL)
	assert.ErrorIs(t, c.Push(context.Background(), "Uabc", Text("x")), ErrNotConfigured)
	_, err := c.BotInfo(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)

	var nilClient *Client
	assert.False(t, nilClient.Configured())
}

func TestValidUserID(t *testing.T) {
	assert.True(t, ValidUserID("U4af4980629"))
	assert.False(t, ValidUserID("U"))
	assert.False(t, ValidUserID(""))
	assert.False(t, ValidUserID("not-a-line-id"))
	assert.False(t, ValidUserID("C123"))
}
