// Package logging configures the process-wide structured logger.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/rollbar/rollbar-go"
)

// Options configure New.
type Options struct {
	Level        string
	Env          string
	RollbarToken string
	CodeVersion  string
	Output       io.Writer
}

// New returns a JSON logger that tags records with the request id carried by
// their context. When a Rollbar token is configured, error
// records are also reported there; the returned func flushes pending
// reports and should be called on shutdown.
func New(opts Options) (*slog.Logger, func()) {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	var h slog.Handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: ParseLevel(opts.Level)})
	if opts.RollbarToken == "" {
		return slog.New(NewContextHandler(h)), func() {}
	}

	host, _ := os.Hostname()
	client := rollbar.New(opts.RollbarToken, opts.Env, opts.CodeVersion, host, "")
	return slog.New(NewContextHandler(NewReportingHandler(h, client))), func() { _ = client.Close() }
}

// ParseLevel maps debug, info, warn and error to slog levels; anything else
// is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Reporter receives error records. *rollbar.Client satisfies it.
type Reporter interface {
	MessageWithExtras(level string, msg string, extras map[string]interface{})
}

// ReportingHandler forwards error-level records to a Reporter and passes
// every record on to the wrapped handler.
type ReportingHandler struct {
	next     slog.Handler
	reporter Reporter
	attrs    []slog.Attr
	group    string
}

// NewReportingHandler wraps next.
func NewReportingHandler(next slog.Handler, r Reporter) *ReportingHandler {
	return &ReportingHandler{next: next, reporter: r}
}

func (h *ReportingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *ReportingHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelError {
		extras := make(map[string]interface{}, len(h.attrs)+r.NumAttrs())
		for _, a := range h.attrs {
			addExtra(extras, "", a)
		}
		r.Attrs(func(a slog.Attr) bool {
			addExtra(extras, h.group, a)
			return true
		})
		h.reporter.MessageWithExtras(rollbar.ERR, r.Message, extras)
	}
	return h.next.Handle(ctx, r)
}

func (h *ReportingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	cp.next = h.next.WithAttrs(attrs)
	cp.attrs = append([]slog.Attr{}, h.attrs...)
	for _, a := range attrs {
		if h.group != "" {
			a.Key = h.group + "." + a.Key
		}
		cp.attrs = append(cp.attrs, a)
	}
	return &cp
}

func (h *ReportingHandler) WithGroup(name string) slog.Handler {
	cp := *h
	cp.next = h.next.WithGroup(name)
	if h.group != "" {
		name = h.group + "." + name
	}
	cp.group = name
	return &cp
}

func addExtra(m map[string]interface{}, prefix string, a slog.Attr) {
	key := a.Key
	if prefix != "" {
		key = prefix + "." + key
	}
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		for _, g := range v.Group() {
			addExtra(m, key, g)
		}
		return
	}
	m[key] = v.Any()
}
