// Package notify tells guardians that their child has signed in.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/GiraffeSchool/student-signin-system/internal/lineclient"
	"github.com/GiraffeSchool/student-signin-system/internal/metrics"
)

// Sender delivers messages to one recipient.
type Sender interface {
	Configured() bool
	Push(ctx context.Context, to string, messages ...lineclient.Message) error
}

// Notice is one sign-in to announce.
type Notice struct {
	Recipients  []string
	StudentName string
	ClassName   string
	At          time.Time
}

// Outcome of a single delivery.
type Outcome struct {
	Recipient string
	Err       error
}

// Summary values.
const (
	SummaryAll     = "all"
	SummaryPartial = "partial"
	SummaryNone    = "none"
	SummarySkipped = "skipped"
)

// Report collects the outcome of every delivery for one notice.
type Report struct {
	Outcomes []Outcome
	// Dropped lists recipients that did not look like user identifiers.
	Dropped []string
}

// Sent is the number of successful deliveries.
func (r Report) Sent() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Err == nil {
			n++
		}
	}
	return n
}

// Summary condenses the report to all, partial, none or skipped.
func (r Report) Summary() string {
	sent := r.Sent()
	switch {
	case len(r.Outcomes) == 0:
		return SummarySkipped
	case sent == len(r.Outcomes):
		return SummaryAll
	case sent == 0:
		return SummaryNone
	default:
		return SummaryPartial
	}
}

// Dispatcher fans a notice out to all of a student's guardians.
type Dispatcher struct {
	sender  Sender
	timeout time.Duration
	valid   func(string) bool
	logger  *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTimeout bounds the whole fan-out.
func WithTimeout(d time.Duration) Option {
	return func(n *Dispatcher) {
		if d > 0 {
			n.timeout = d
		}
	}
}

// WithRecipientPrefix replaces the LINE user-id check with a prefix a
// recipient must carry.
func WithRecipientPrefix(prefix string) Option {
	return func(n *Dispatcher) {
		if prefix != "" {
			n.valid = func(id string) bool {
				return len(id) > len(prefix) && strings.HasPrefix(id, prefix)
			}
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(n *Dispatcher) { n.logger = l }
}

// New returns a dispatcher sending through s.
func New(s Sender, opts ...Option) *Dispatcher {
	d := &Dispatcher{sender: s, timeout: 10 * time.Second, valid: lineclient.ValidUserID, logger: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Notify delivers the notice to every valid recipient concurrently and waits
// for all of them. Delivery failures are reported, never returned.
func (d *Dispatcher) Notify(ctx context.Context, n Notice) Report {
	var rep Report
	recipients := d.recipients(n.Recipients, &rep)
	if len(recipients) == 0 {
		d.logger.InfoContext(ctx, "no guardians to notify",
			slog.String("student", n.StudentName),
			slog.Int("dropped", len(rep.Dropped)))
		return rep
	}
	if d.sender == nil || !d.sender.Configured() {
		d.logger.WarnContext(ctx, "guardian notification skipped: messaging not configured",
			slog.Int("recipients", len(recipients)))
		return rep
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	msg := lineclient.Text(Message(n))
	rep.Outcomes = make([]Outcome, len(recipients))
	var g errgroup.Group
	for i, to := range recipients {
		g.Go(func() error {
			err := d.sender.Push(ctx, to, msg)
			rep.Outcomes[i] = Outcome{Recipient: to, Err: err}
			if err != nil {
				metrics.Notifications.WithLabelValues("failed").Inc()
				d.logger.ErrorContext(ctx, "guardian notification failed",
					slog.String("recipient", mask(to)),
					slog.String("error", err.Error()))
				return nil
			}
			metrics.Notifications.WithLabelValues("sent").Inc()
			return nil
		})
	}
	_ = g.Wait()

	d.logger.InfoContext(ctx, "guardians notified",
		slog.String("student", n.StudentName),
		slog.Int("sent", rep.Sent()),
		slog.Int("total", len(rep.Outcomes)),
		slog.String("summary", rep.Summary()))
	return rep
}

func (d *Dispatcher) recipients(in []string, rep *Report) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, r := range in {
		r = strings.TrimSpace(r)
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		if !d.valid(r) {
			rep.Dropped = append(rep.Dropped, r)
			continue
		}
		out = append(out, r)
	}
	return out
}

// Message renders the guardian notification text.
func Message(n Notice) string {
	return fmt.Sprintf("【簽到通知】\n您的孩子 %s 已於 %s 完成簽到。\n班級：%s\n\n祝學習愉快！",
		n.StudentName, n.At.Format("2006/01/02 15:04"), n.ClassName)
}

// mask keeps log lines from carrying full user identifiers.
func mask(id string) string {
	if len(id) <= 5 {
		return id
	}
	return id[:5] + "…"
}
