package migration

import (
	"context"
	"io/fs"
	"time"
)

// Migration represents a database migration with its metadata and SQL content
type Migration struct {
	Version     string // Version identifier (e.g., "001", "002")
	Description string // Human-readable description of the migration
	SQL         string // SQL statements to execute
	FilePath    string // Path of the migration inside its file system
	Checksum    string // SHA256 of the SQL content
}

// MigrationManager orchestrates the migration process
type MigrationManager interface {
	// RunMigrations executes all pending migrations in sequential order
	RunMigrations(ctx context.Context) error

	// GetPendingMigrations returns list of migrations that need to be applied
	GetPendingMigrations(ctx context.Context) ([]Migration, error)

	// GetMigrationStatus returns status information about migrations
	GetMigrationStatus(ctx context.Context) (*MigrationStatus, error)
}

// FileScanner handles scanning and parsing migration files
type FileScanner interface {
	// ScanMigrations scans the root of fsys for migration files
	ScanMigrations(fsys fs.FS) ([]Migration, error)

	// ValidateFileName checks if migration file follows naming convention
	ValidateFileName(filename string) error
}

// Executor handles the actual execution of migrations against the database
type Executor interface {
	// ExecuteMigration runs a single migration within a transaction
	ExecuteMigration(ctx context.Context, migration Migration) error

	// InitializeVersionTable creates the schema_migrations table if it doesn't exist
	InitializeVersionTable(ctx context.Context) error

	// RecordMigration records a successful migration in the version tracking table
	RecordMigration(ctx context.Context, migration Migration, executionTime time.Duration) error

	// GetAppliedVersions returns all applied migration versions with timestamps
	GetAppliedVersions(ctx context.Context) ([]AppliedMigration, error)
}

// MigrationStatus provides information about the current migration state
type MigrationStatus struct {
	CurrentVersion    string             // Latest applied migration version
	PendingCount      int                // Number of pending migrations
	AppliedMigrations []AppliedMigration // List of applied migrations
	PendingMigrations []Migration        // List of pending migrations
}

// AppliedMigration represents a migration that has been successfully applied
type AppliedMigration struct {
	Version       string        // Migration version
	AppliedAt     time.Time     // When the migration was applied
	ExecutionTime time.Duration // How long the migration took to execute
	Checksum      string        // Checksum of the migration file when applied
}
