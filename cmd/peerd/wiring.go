package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/peer-scheduler/internal/application"
	"github.com/example/peer-scheduler/internal/config"
	"github.com/example/peer-scheduler/internal/content"
	"github.com/example/peer-scheduler/internal/feed"
	httptransport "github.com/example/peer-scheduler/internal/http"
	"github.com/example/peer-scheduler/internal/metrics"
	"github.com/example/peer-scheduler/internal/persistence"
	"github.com/example/peer-scheduler/internal/persistence/sqlite"
	"github.com/example/peer-scheduler/internal/persistence/sqlite/migration"
)

func openStorage(ctx context.Context, cfg config.Config, logger *slog.Logger) (*sqlite.Storage, error) {
	storage, err := sqlite.OpenWithConfig(migration.DefaultSQLiteConfig(cfg.SQLiteDSN), logger)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	if err := storage.Migrate(ctx); err != nil {
		_ = storage.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return storage, nil
}

// buildGenerator prefers the OpenAI generator when a key is configured.
// The embedded decks always back it up.
func buildGenerator(cfg config.Config, m *metrics.Metrics, logger *slog.Logger) (*content.CachedGenerator, error) {
	decks, err := content.NewDeckGenerator()
	if err != nil {
		return nil, fmt.Errorf("load prompt decks: %w", err)
	}

	var primary content.Generator = decks
	if cfg.OpenAIAPIKey != "" {
		primary = content.NewOpenAIGenerator(cfg.OpenAIAPIKey, cfg.OpenAIModel, logger)
	}
	return content.NewCachedGenerator(primary, decks, cfg.PromptCacheTTL,
		content.WithCacheLogger(logger),
		content.WithCacheMetrics(m),
	), nil
}

// server is the fully wired process.
type server struct {
	handler  http.Handler
	broker   *feed.Broker
	matches  *application.MatchService
	sessions *application.SessionService
}

func (s *server) Close() {
	s.sessions.Close()
	s.broker.Close()
}

func buildServer(cfg config.Config, storage *sqlite.Storage, m *metrics.Metrics, logger *slog.Logger) (*server, error) {
	generator, err := buildGenerator(cfg, m, logger)
	if err != nil {
		return nil, err
	}

	broker := feed.NewBroker(
		feed.WithLogger(logger),
		feed.WithDropObserver(func(key string) {
			kind, _, err := feed.ParseKey(key)
			if err != nil {
				kind = "unknown"
			}
			m.FeedDropped(kind)
		}),
	)

	opts := []application.Option{
		application.WithLogger(logger),
		application.WithMetrics(m),
		application.WithPublisher(broker),
	}
	identity := application.NewIdentityService(storage, opts...)
	polls := application.NewPollService(storage, opts...)
	availability := application.NewAvailabilityService(storage, storage, identity, opts...)
	matches := application.NewMatchService(storage, storage, generator, application.MatchConfig{
		LobbyTTL:          cfg.LobbyTTL,
		PromptsPerSession: cfg.PromptsPerSession,
	}, opts...)

	partner := application.NewSimulatedPartner(cfg.PartnerMinDelay, cfg.PartnerMaxDelay, application.WithPartnerLogger(logger))
	completions := application.CompletionRecorderFunc(func(ctx context.Context, session persistence.Session, completedBy string) error {
		logger.InfoContext(ctx, "session completion recorded",
			"session_id", session.ID, "completed_by", completedBy, "topic", session.Topic)
		return nil
	})
	sessions := application.NewSessionService(storage, generator, partner, completions, opts...)

	handler := httptransport.NewRouter(httptransport.RouterConfig{
		Polls:        httptransport.NewPollHandler(polls, availability, logger),
		Lobby:        httptransport.NewLobbyHandler(matches, logger),
		Sessions:     httptransport.NewSessionHandler(sessions, logger),
		Feed:         httptransport.NewFeedHandler(broker, polls, matches, sessions, m, logger),
		Health:       httptransport.Health(storage, logger),
		Metrics:      m.Handler(),
		Authenticate: httptransport.RequireIdentity(identity, logger),
		JoinLimiter:  httptransport.NewUserRateLimiter(cfg.JoinRate, cfg.JoinBurst),
		SlotLimiter:  httptransport.NewUserRateLimiter(cfg.SlotRate, cfg.SlotBurst),
		Logger:       logger,
		Middleware:   []func(http.Handler) http.Handler{httptransport.RequestLogger(logger, m)},
	})

	return &server{
		handler:  handler,
		broker:   broker,
		matches:  matches,
		sessions: sessions,
	}, nil
}

func newHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Feed connections are long lived; the feed handler sets its own
		// per-frame write deadlines.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
}
