package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config captures environment driven configuration values for the peer
// scheduling service.
type Config struct {
	HTTPPort          int
	SQLiteDSN         string
	LogLevel          slog.Level
	LobbyTTL          time.Duration
	ReapInterval      time.Duration
	PromptCacheTTL    time.Duration
	PromptsPerSession int
	PartnerMinDelay   time.Duration
	PartnerMaxDelay   time.Duration
	JoinRate          float64
	JoinBurst         int
	SlotRate          float64
	SlotBurst         int
	OpenAIAPIKey      string
	OpenAIModel       string
}

// Default returns the configuration used when no variable is set.
func Default() Config {
	return Config{
		HTTPPort:          8080,
		SQLiteDSN:         "peer.db",
		LogLevel:          slog.LevelInfo,
		LobbyTTL:          2 * time.Minute,
		ReapInterval:      30 * time.Second,
		PromptCacheTTL:    time.Hour,
		PromptsPerSession: 5,
		PartnerMinDelay:   time.Second,
		PartnerMaxDelay:   3 * time.Second,
		JoinRate:          1,
		JoinBurst:         5,
		SlotRate:          20,
		SlotBurst:         200,
		OpenAIModel:       "gpt-4o-mini",
	}
}

// LoadDotEnv loads variables from the given .env files (".env" when none
// are named). Variables already present in the environment win; missing
// files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// Load parses configuration values from the current process environment.
//
// Unset variables keep their defaults. Every invalid variable is reported
// in a single error.
func Load() (Config, error) {
	cfg := Default()
	invalid := make([]string, 0, 2)

	if value := env("PEER_HTTP_PORT"); value != "" {
		port, err := strconv.Atoi(value)
		if err != nil || port <= 0 || port > 65535 {
			invalid = append(invalid, "PEER_HTTP_PORT")
		} else {
			cfg.HTTPPort = port
		}
	}

	if dsn := env("PEER_SQLITE_DSN"); dsn != "" {
		cfg.SQLiteDSN = dsn
	}

	if value := env("PEER_LOG_LEVEL"); value != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(value)); err != nil {
			invalid = append(invalid, "PEER_LOG_LEVEL")
		}
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"PEER_LOBBY_TTL", &cfg.LobbyTTL},
		{"PEER_REAP_INTERVAL", &cfg.ReapInterval},
		{"PEER_PROMPT_CACHE_TTL", &cfg.PromptCacheTTL},
		{"PEER_PARTNER_MIN_DELAY", &cfg.PartnerMinDelay},
		{"PEER_PARTNER_MAX_DELAY", &cfg.PartnerMaxDelay},
	}
	for _, d := range durations {
		value := env(d.key)
		if value == "" {
			continue
		}
		parsed, err := time.ParseDuration(value)
		if err != nil || parsed <= 0 {
			invalid = append(invalid, d.key)
			continue
		}
		*d.dst = parsed
	}
	if cfg.PartnerMinDelay > cfg.PartnerMaxDelay && !contains(invalid, "PEER_PARTNER_MAX_DELAY") {
		invalid = append(invalid, "PEER_PARTNER_MAX_DELAY")
	}

	if value := env("PEER_PROMPTS_PER_SESSION"); value != "" {
		count, err := strconv.Atoi(value)
		if err != nil || count < 1 || count > 20 {
			invalid = append(invalid, "PEER_PROMPTS_PER_SESSION")
		} else {
			cfg.PromptsPerSession = count
		}
	}

	limits := []struct {
		rateKey, burstKey string
		rate              *float64
		burst             *int
	}{
		{"PEER_JOIN_RATE", "PEER_JOIN_BURST", &cfg.JoinRate, &cfg.JoinBurst},
		{"PEER_SLOT_RATE", "PEER_SLOT_BURST", &cfg.SlotRate, &cfg.SlotBurst},
	}
	for _, l := range limits {
		if value := env(l.rateKey); value != "" {
			perSecond, err := strconv.ParseFloat(value, 64)
			if err != nil || perSecond <= 0 {
				invalid = append(invalid, l.rateKey)
			} else {
				*l.rate = perSecond
			}
		}
		if value := env(l.burstKey); value != "" {
			burst, err := strconv.Atoi(value)
			if err != nil || burst < 1 {
				invalid = append(invalid, l.burstKey)
			} else {
				*l.burst = burst
			}
		}
	}

	cfg.OpenAIAPIKey = env("PEER_OPENAI_API_KEY")
	if model := env("PEER_OPENAI_MODEL"); model != "" {
		cfg.OpenAIModel = model
	}

	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("invalid environment variables: %s", strings.Join(invalid, ", "))
	}

	return cfg, nil
}

// Addr returns the listen address for the HTTP server.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
