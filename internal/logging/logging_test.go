package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type report struct {
	level  string
	msg    string
	extras map[string]interface{}
}

type fakeReporter struct{ reports []report }

func (f *fakeReporter) MessageWithExtras(level, msg string, extras map[string]interface{}) {
	f.reports = append(f.reports, report{level, msg, extras})
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestNewWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, flush := New(Options{Level: "warn", Output: &buf})
	defer flush()

	logger.Info("dropped")
	logger.Warn("kept", slog.String("roster", "先修"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "kept", line["msg"])
	assert.Equal(t, "先修", line["roster"])
}

func TestReportingHandlerForwardsErrorsOnly(t *testing.T) {
	var buf bytes.Buffer
	rep := &fakeReporter{}
	logger := slog.New(NewReportingHandler(slog.NewJSONHandler(&buf, nil), rep)).
		With(slog.String("service", "signin"))

	logger.Info("sign-in succeeded")
	logger.WithGroup("ledger").ErrorContext(context.Background(), "sign-in failed",
		slog.String("kind", "dependency"), slog.Group("cell", slog.String("a1", "'先修'!F3")))

	require.Len(t, rep.reports, 1)
	r := rep.reports[0]
	assert.Equal(t, "error", r.level)
	assert.Equal(t, "sign-in failed", r.msg)
	assert.Equal(t, "signin", r.extras["service"])
	assert.Equal(t, "dependency", r.extras["ledger.kind"])
	assert.Equal(t, "'先修'!F3", r.extras["ledger.cell.a1"])

	assert.Equal(t, 2, bytes.Count(buf.Bytes(), []byte("\n")))
}

func TestRequestIDFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger, flush := New(Options{Output: &buf})
	defer flush()

	ctx := WithRequestID(context.Background(), "req-42")
	logger.InfoContext(ctx, "attendance marked", slog.String("student_id", "S1001"))
	logger.Info("no context")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var first, second map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &first))
	require.NoError(t, json.Unmarshal(lines[1], &second))
	assert.Equal(t, "req-42", first["request_id"])
	assert.Equal(t, "S1001", first["student_id"])
	assert.NotContains(t, second, "request_id")
}

func TestRequestIDReachesReporter(t *testing.T) {
	rep := &fakeReporter{}
	logger := slog.New(NewContextHandler(NewReportingHandler(slog.NewJSONHandler(&bytes.Buffer{}, nil), rep)))

	logger.ErrorContext(WithRequestID(context.Background(), "req-7"), "sign-in failed")
	require.Len(t, rep.reports, 1)
	assert.Equal(t, "req-7", rep.reports[0].extras["request_id"])
}
