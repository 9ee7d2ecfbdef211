package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestNewWritesTaggedJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelInfo, "peerd")

	logger.Debug("hidden")
	logger.Info("visible", "poll_id", "p1")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("expected a single JSON record, got %q: %v", buf.String(), err)
	}
	if record["msg"] != "visible" || record["service"] != "peerd" || record["poll_id"] != "p1" {
		t.Fatalf("unexpected record %v", record)
	}
}

func TestContextRoundTrip(t *testing.T) {
	if FromContext(context.Background()) != nil {
		t.Fatal("expected no logger in empty context")
	}

	logger := Discard()
	ctx := ContextWithLogger(context.Background(), logger)
	if FromContext(ctx) != logger {
		t.Fatal("expected stored logger")
	}
	if got := ContextWithLogger(ctx, nil); got != ctx {
		t.Fatal("nil logger should leave the context unchanged")
	}
}

func TestWithAttrsPrefersContextLogger(t *testing.T) {
	var fromCtx, fallback bytes.Buffer
	ctx := ContextWithLogger(context.Background(), slog.New(slog.NewTextHandler(&fromCtx, nil)))

	ctx, logger := WithAttrs(ctx, slog.New(slog.NewTextHandler(&fallback, nil)), "request_id", 7)
	logger.Info("hello")
	FromContext(ctx).Info("again")

	if fallback.Len() != 0 {
		t.Fatalf("fallback should be unused, got %q", fallback.String())
	}
	if got := bytes.Count(fromCtx.Bytes(), []byte("request_id=7")); got != 2 {
		t.Fatalf("expected both records to carry request_id, got %q", fromCtx.String())
	}

	_, logger = WithAttrs(context.Background(), slog.New(slog.NewTextHandler(&fallback, nil)), "k", "v")
	logger.Info("fallback")
	if !bytes.Contains(fallback.Bytes(), []byte("k=v")) {
		t.Fatalf("expected fallback logger to be used, got %q", fallback.String())
	}
}
