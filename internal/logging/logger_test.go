package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
)

func TestNew_Format(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "info", "json").Info("hello", "n", 1)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("json output = %q: %v", buf.String(), err)
	}
	if rec["msg"] != "hello" {
		t.Errorf("msg = %v", rec["msg"])
	}

	buf.Reset()
	New(&buf, "info", "text").Info("hello")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Errorf("text output = %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestWithBatch(t *testing.T) {
	var buf bytes.Buffer
	ctx := NewContext(context.Background(), New(&buf, "debug", "text"))

	ctx, logger := WithBatch(ctx, "b1", "csv", "g1")
	logger.Info("started")
	FromContext(ctx).Info("again")

	out := buf.String()
	for _, want := range []string{"batch_id=b1", "parser=csv", "group_id=g1"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %s: %q", want, out)
		}
	}
	if n := strings.Count(out, "batch_id=b1"); n != 2 {
		t.Errorf("batch_id lines = %d, want 2", n)
	}
}

func TestFromContext_RequestID(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(New(&buf, "info", "text"))
	t.Cleanup(func() { slog.SetDefault(prev) })

	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-1")
	FromContext(ctx).Info("request")
	if !strings.Contains(buf.String(), "request_id=req-1") {
		t.Errorf("output = %q, want request_id", buf.String())
	}
}
