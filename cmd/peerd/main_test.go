package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/example/peer-scheduler/internal/config"
)

func setTestEnv(t *testing.T) string {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "peer.db")
	t.Setenv("PEER_SQLITE_DSN", dsn)
	t.Setenv("PEER_LOG_LEVEL", "error")
	t.Setenv("PEER_OPENAI_API_KEY", "")
	return dsn
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestMigrateCommand(t *testing.T) {
	setTestEnv(t)

	out, err := runCommand(t, "migrate")
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if !strings.Contains(out, "schema version 001") || !strings.Contains(out, "0 pending") {
		t.Fatalf("unexpected output %q", out)
	}

	// Running again is a no-op.
	out, err = runCommand(t, "migrate")
	if err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if !strings.Contains(out, "1 applied") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestReapCommand(t *testing.T) {
	setTestEnv(t)

	out, err := runCommand(t, "reap")
	if err != nil {
		t.Fatalf("reap: %v", err)
	}
	if strings.TrimSpace(out) != "reaped 0 expired lobby entries" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestInvalidConfigurationFailsBeforeRunning(t *testing.T) {
	setTestEnv(t)
	t.Setenv("PEER_LOBBY_TTL", "soon")

	_, err := runCommand(t, "migrate")
	if err == nil || !strings.Contains(err.Error(), "PEER_LOBBY_TTL") {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestBuildGeneratorFallsBackToDecks(t *testing.T) {
	cfg := config.Default()
	generator, err := buildGenerator(cfg, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("buildGenerator: %v", err)
	}

	prompts, err := generator.GeneratePrompts(context.Background(), "friendship", 3)
	if err != nil {
		t.Fatalf("GeneratePrompts: %v", err)
	}
	if len(prompts) != 3 {
		t.Fatalf("expected 3 prompts, got %d", len(prompts))
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	dsn := setTestEnv(t)

	cfg := config.Default()
	cfg.SQLiteDSN = dsn
	cfg.ReapInterval = 50 * time.Millisecond
	c := &cli{cfg: cfg, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.serve(ctx, listener) }()

	url := "http://" + listener.Addr().String() + "/healthz"
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never became healthy: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop after cancel")
	}
}
