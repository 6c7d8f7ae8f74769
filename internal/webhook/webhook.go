// Package webhook answers LINE platform events so guardians can find the
// user ID the school needs for notifications.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/GiraffeSchool/student-signin-system/internal/lineclient"
	"github.com/GiraffeSchool/student-signin-system/internal/metrics"
)

// Replier answers an event through its reply token.
type Replier interface {
	Reply(ctx context.Context, replyToken string, messages ...lineclient.Message) error
}

// Payload is the webhook request body.
type Payload struct {
	Destination string  `json:"destination"`
	Events      []Event `json:"events"`
}

// Event is the subset of a LINE webhook event this service reads.
type Event struct {
	Type       string `json:"type"`
	ReplyToken string `json:"replyToken"`
	Source     struct {
		Type   string `json:"type"`
		UserID string `json:"userId"`
	} `json:"source"`
	Message *EventMessage `json:"message,omitempty"`
}

// EventMessage is the message carried by a "message" event.
type EventMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

var (
	idKeywords   = []string{"我的ID", "ID", "id", "我的id"}
	helpKeywords = []string{"說明", "功能", "help"}
)

const (
	welcomeText = "歡迎加入育名補習班點名通知系統！\n\n您的 LINE User ID 是：\n%s\n\n請將此 ID 提供給補習班老師，以便設定簽到通知。"
	followUp    = "設定完成後，當您的孩子簽到時，您將會收到即時通知。\n\n如需再次查詢您的 User ID，請輸入「我的ID」。"
	idText      = "您的 LINE User ID 是：\n%s\n\n請將此 ID 提供給補習班老師。"
	helpText    = "育名補習班點名通知系統\n\n功能說明：\n1. 輸入「我的ID」查詢您的 User ID\n2. 將 User ID 提供給老師\n3. 設定完成後會收到孩子的簽到通知\n\n如有問題請聯絡補習班。"
)

// Processor handles verified webhook payloads.
type Processor struct {
	replier Replier
	logger  *slog.Logger
}

// NewProcessor creates a processor replying through r.
func NewProcessor(r Replier, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{replier: r, logger: logger}
}

// Handle processes every event in body. Only a malformed body is an error;
// reply failures are logged and skipped.
func (p *Processor) Handle(ctx context.Context, body []byte) error {
	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("decode webhook payload: %w", err)
	}
	for _, ev := range payload.Events {
		p.handle(ctx, ev)
	}
	return nil
}

func (p *Processor) handle(ctx context.Context, ev Event) {
	metrics.WebhookEvents.WithLabelValues(eventLabel(ev.Type)).Inc()

	msgs := Replies(ev)
	if len(msgs) == 0 || ev.ReplyToken == "" {
		return
	}
	if err := p.replier.Reply(ctx, ev.ReplyToken, msgs...); err != nil {
		p.logger.ErrorContext(ctx, "webhook reply failed",
			slog.String("event", ev.Type),
			slog.String("error", err.Error()))
		return
	}
	p.logger.InfoContext(ctx, "webhook replied", slog.String("event", ev.Type), slog.Int("messages", len(msgs)))
}

// Replies returns the messages to answer ev with, or nil for no reply.
func Replies(ev Event) []lineclient.Message {
	userID := ev.Source.UserID
	switch ev.Type {
	case "follow":
		return []lineclient.Message{
			lineclient.Text(fmt.Sprintf(welcomeText, userID)),
			lineclient.Text(followUp),
		}
	case "message":
		if ev.Message == nil || ev.Message.Type != "text" {
			return nil
		}
		text := strings.TrimSpace(ev.Message.Text)
		switch {
		case contains(idKeywords, text):
			return []lineclient.Message{lineclient.Text(fmt.Sprintf(idText, userID))}
		case contains(helpKeywords, text):
			return []lineclient.Message{lineclient.Text(helpText)}
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func eventLabel(t string) string {
	switch t {
	case "follow", "unfollow", "message", "postback", "join", "leave":
		return t
	}
	return "other"
}
