package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

var allKeys = []string{
	"PEER_HTTP_PORT",
	"PEER_SQLITE_DSN",
	"PEER_LOG_LEVEL",
	"PEER_LOBBY_TTL",
	"PEER_REAP_INTERVAL",
	"PEER_PROMPT_CACHE_TTL",
	"PEER_PROMPTS_PER_SESSION",
	"PEER_PARTNER_MIN_DELAY",
	"PEER_PARTNER_MAX_DELAY",
	"PEER_JOIN_RATE",
	"PEER_JOIN_BURST",
	"PEER_SLOT_RATE",
	"PEER_SLOT_BURST",
	"PEER_OPENAI_API_KEY",
	"PEER_OPENAI_MODEL",
}

// clearEnv blanks every key for the test; empty values count as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range allKeys {
		t.Setenv(key, "")
	}
}

func TestLoader_ParseEnvironment(t *testing.T) {

	t.Run("applies defaults when variables are missing", func(t *testing.T) {
		clearEnv(t)

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}
		if cfg != Default() {
			t.Fatalf("expected defaults, got %+v", cfg)
		}
		if cfg.Addr() != ":8080" {
			t.Fatalf("unexpected addr %q", cfg.Addr())
		}
		if cfg.OpenAIAPIKey != "" {
			t.Fatalf("expected no OpenAI key by default")
		}
	})

	t.Run("parses duration and numeric fields", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("PEER_HTTP_PORT", "9090")
		t.Setenv("PEER_SQLITE_DSN", ":memory:")
		t.Setenv("PEER_LOG_LEVEL", "debug")
		t.Setenv("PEER_LOBBY_TTL", "90s")
		t.Setenv("PEER_REAP_INTERVAL", "5s")
		t.Setenv("PEER_PROMPT_CACHE_TTL", "10m")
		t.Setenv("PEER_PROMPTS_PER_SESSION", "8")
		t.Setenv("PEER_PARTNER_MIN_DELAY", "500ms")
		t.Setenv("PEER_PARTNER_MAX_DELAY", "2s")
		t.Setenv("PEER_JOIN_RATE", "0.5")
		t.Setenv("PEER_JOIN_BURST", "3")
		t.Setenv("PEER_SLOT_RATE", "50")
		t.Setenv("PEER_SLOT_BURST", "500")
		t.Setenv("PEER_OPENAI_API_KEY", " sk-test ")
		t.Setenv("PEER_OPENAI_MODEL", "gpt-4o")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}

		want := Config{
			HTTPPort:          9090,
			SQLiteDSN:         ":memory:",
			LogLevel:          slog.LevelDebug,
			LobbyTTL:          90 * time.Second,
			ReapInterval:      5 * time.Second,
			PromptCacheTTL:    10 * time.Minute,
			PromptsPerSession: 8,
			PartnerMinDelay:   500 * time.Millisecond,
			PartnerMaxDelay:   2 * time.Second,
			JoinRate:          0.5,
			JoinBurst:         3,
			SlotRate:          50,
			SlotBurst:         500,
			OpenAIAPIKey:      "sk-test",
			OpenAIModel:       "gpt-4o",
		}
		if cfg != want {
			t.Fatalf("unexpected config:\n got %+v\nwant %+v", cfg, want)
		}
	})

	t.Run("reports every invalid value", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("PEER_HTTP_PORT", "not-a-port")
		t.Setenv("PEER_LOBBY_TTL", "-1m")
		t.Setenv("PEER_PROMPTS_PER_SESSION", "21")
		t.Setenv("PEER_LOG_LEVEL", "loud")

		_, err := Load()
		if err == nil {
			t.Fatal("expected error for invalid values")
		}
		expected := "invalid environment variables: PEER_HTTP_PORT, PEER_LOG_LEVEL, PEER_LOBBY_TTL, PEER_PROMPTS_PER_SESSION"
		if err.Error() != expected {
			t.Fatalf("unexpected error message: %q", err.Error())
		}
	})

	t.Run("rejects invalid rate limits", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("PEER_JOIN_RATE", "0")
		t.Setenv("PEER_SLOT_RATE", "fast")
		t.Setenv("PEER_SLOT_BURST", "0")

		_, err := Load()
		expected := "invalid environment variables: PEER_JOIN_RATE, PEER_SLOT_RATE, PEER_SLOT_BURST"
		if err == nil || err.Error() != expected {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("rejects inverted partner delays", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("PEER_PARTNER_MIN_DELAY", "5s")
		t.Setenv("PEER_PARTNER_MAX_DELAY", "1s")

		_, err := Load()
		if err == nil || err.Error() != "invalid environment variables: PEER_PARTNER_MAX_DELAY" {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "peer.env")
	content := "PEER_HTTP_PORT=7070\nPEER_OPENAI_MODEL=from-file\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	t.Setenv("PEER_OPENAI_MODEL", "from-env")
	// godotenv only fills variables that are unset, so drop the blank one.
	if err := os.Unsetenv("PEER_HTTP_PORT"); err != nil {
		t.Fatalf("unset: %v", err)
	}

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("PEER_HTTP_PORT") })

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPPort != 7070 {
		t.Fatalf("expected port from file, got %d", cfg.HTTPPort)
	}
	if cfg.OpenAIModel != "from-env" {
		t.Fatalf("expected existing environment to win, got %q", cfg.OpenAIModel)
	}
}
