package migration

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"strconv"
	"time"
)

// migrationManagerImpl implements the MigrationManager interface
type migrationManagerImpl struct {
	scanner  FileScanner
	executor Executor
	files    fs.FS
	logger   *slog.Logger
}

// NewMigrationManager creates a new MigrationManager implementation
func NewMigrationManager(scanner FileScanner, executor Executor, files fs.FS, logger *slog.Logger) MigrationManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &migrationManagerImpl{
		scanner:  scanner,
		executor: executor,
		files:    files,
		logger:   logger.With("component", "migration"),
	}
}

// RunMigrations executes all pending migrations in sequential order
func (m *migrationManagerImpl) RunMigrations(ctx context.Context) error {
	startTime := time.Now()

	if err := m.executor.InitializeVersionTable(ctx); err != nil {
		m.logger.ErrorContext(ctx, "failed to initialize schema_migrations table", "error", err)
		return fmt.Errorf("failed to initialize version table: %w", err)
	}

	pending, err := m.GetPendingMigrations(ctx)
	if err != nil {
		m.logger.ErrorContext(ctx, "failed to scan for pending migrations", "error", err)
		return fmt.Errorf("failed to get pending migrations: %w", err)
	}

	if len(pending) == 0 {
		m.logger.DebugContext(ctx, "schema up to date")
		return nil
	}

	for i, migration := range pending {
		migrationStart := time.Now()
		logger := m.logger.With(
			"version", migration.Version,
			"description", migration.Description,
			"position", fmt.Sprintf("%d/%d", i+1, len(pending)),
		)
		logger.InfoContext(ctx, "executing migration")

		if err := m.executor.ExecuteMigration(ctx, migration); err != nil {
			logger.ErrorContext(ctx, "migration failed", "error", err)
			return NewMigrationError(migration.Version, migration.FilePath,
				"execute migration", fmt.Errorf("%w: %v", ErrMigrationFailed, err))
		}

		executionTime := time.Since(migrationStart)
		if err := m.executor.RecordMigration(ctx, migration, executionTime); err != nil {
			logger.ErrorContext(ctx, "failed to record migration", "error", err)
			return NewMigrationError(migration.Version, migration.FilePath,
				"record migration", fmt.Errorf("failed to record migration: %w", err))
		}

		logger.InfoContext(ctx, "migration applied", "duration", executionTime)
	}

	m.logger.InfoContext(ctx, "migrations complete", "applied", len(pending), "duration", time.Since(startTime))
	return nil
}

// GetPendingMigrations returns list of migrations that need to be applied.
// An applied migration whose file content changed is reported as an error.
func (m *migrationManagerImpl) GetPendingMigrations(ctx context.Context) ([]Migration, error) {
	all, err := m.scanner.ScanMigrations(m.files)
	if err != nil {
		return nil, err
	}

	applied, err := m.executor.GetAppliedVersions(ctx)
	if err != nil {
		return nil, err
	}

	appliedByVersion := make(map[int]AppliedMigration, len(applied))
	for _, a := range applied {
		number, convErr := strconv.Atoi(a.Version)
		if convErr != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidVersion, a.Version)
		}
		appliedByVersion[number] = a
	}

	var pending []Migration
	for _, migration := range all {
		number, _ := strconv.Atoi(migration.Version)
		record, ok := appliedByVersion[number]
		if !ok {
			pending = append(pending, migration)
			continue
		}
		if record.Checksum != "" && record.Checksum != migration.Checksum {
			return nil, NewMigrationError(migration.Version, migration.FilePath, "verify checksum", ErrChecksumMismatch)
		}
	}

	return pending, nil
}

// GetMigrationStatus returns status information about migrations
func (m *migrationManagerImpl) GetMigrationStatus(ctx context.Context) (*MigrationStatus, error) {
	if err := m.executor.InitializeVersionTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize version table: %w", err)
	}

	applied, err := m.executor.GetAppliedVersions(ctx)
	if err != nil {
		return nil, err
	}

	pending, err := m.GetPendingMigrations(ctx)
	if err != nil {
		return nil, err
	}

	status := &MigrationStatus{
		PendingCount:      len(pending),
		AppliedMigrations: applied,
		PendingMigrations: pending,
	}
	if len(applied) > 0 {
		status.CurrentVersion = applied[len(applied)-1].Version
	}

	return status, nil
}

// Apply runs every embedded migration that db has not seen yet.
func Apply(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	manager := NewMigrationManager(NewFileScanner(), NewSQLiteExecutor(db), Files(), logger)
	return manager.RunMigrations(ctx)
}
