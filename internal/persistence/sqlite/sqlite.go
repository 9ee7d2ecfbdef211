package sqlite

import (
	"context"
	"log/slog"

	"github.com/example/peer-scheduler/internal/persistence/sqlite/migration"
)

// Storage bundles every SQLite repository over one connection pool. It
// satisfies each persistence repository interface through embedding.
type Storage struct {
	*ProfileRepository
	*PollRepository
	*SlotRepository
	*LobbyRepository
	*SessionRepository

	pool   *ConnectionPool
	logger *slog.Logger
}

// Open connects to the database at dsn using the default SQLite settings.
func Open(dsn string) (*Storage, error) {
	return OpenWithConfig(migration.DefaultSQLiteConfig(dsn), nil)
}

// OpenWithConfig connects using an explicit configuration.
func OpenWithConfig(config migration.SQLiteConfig, logger *slog.Logger) (*Storage, error) {
	pool, err := NewConnectionPool(config)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Storage{
		ProfileRepository: NewProfileRepository(pool),
		PollRepository:    NewPollRepository(pool),
		SlotRepository:    NewSlotRepository(pool),
		LobbyRepository:   NewLobbyRepository(pool),
		SessionRepository: NewSessionRepository(pool),
		pool:              pool,
		logger:            logger,
	}, nil
}

// Migrate applies pending embedded migrations.
func (s *Storage) Migrate(ctx context.Context) error {
	return migration.Apply(ctx, s.pool.DB(), s.logger)
}

// Status reports the applied and pending migrations.
func (s *Storage) Status(ctx context.Context) (*migration.MigrationStatus, error) {
	manager := migration.NewMigrationManager(migration.NewFileScanner(), migration.NewSQLiteExecutor(s.pool.DB()), migration.Files(), s.logger)
	return manager.GetMigrationStatus(ctx)
}

// Ping checks that the database is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Storage) Close() error {
	return s.pool.Close()
}
