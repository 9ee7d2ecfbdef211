package migration

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteConfig holds SQLite-specific database configuration
type SQLiteConfig struct {
	// Path is the database file path, or ":memory:"
	Path string

	// BusyTimeout sets how long to wait for database locks
	BusyTimeout time.Duration

	// EnableForeignKeys enables foreign key constraint checking
	EnableForeignKeys bool

	// JournalMode sets the SQLite journal mode (WAL, DELETE, TRUNCATE, etc.)
	JournalMode string

	// Synchronous sets the synchronous mode (FULL, NORMAL, OFF)
	Synchronous string

	// ImmediateTransactions takes the write lock at BEGIN so read-then-write
	// transactions cannot deadlock on lock upgrade.
	ImmediateTransactions bool

	// MaxOpenConns sets the maximum number of open connections
	MaxOpenConns int

	// MaxIdleConns sets the maximum number of idle connections
	MaxIdleConns int

	// ConnMaxLifetime sets the maximum lifetime of connections
	ConnMaxLifetime time.Duration
}

// ConnectionManager manages SQLite database connections with proper configuration
type ConnectionManager interface {
	// GetConnection returns a configured SQLite database connection
	GetConnection() (*sql.DB, error)

	// ValidateConfig validates the SQLite configuration
	ValidateConfig() error
}

type sqliteConnectionManager struct {
	config SQLiteConfig
}

// NewConnectionManager creates a new SQLite connection manager
func NewConnectionManager(config SQLiteConfig) ConnectionManager {
	return &sqliteConnectionManager{config: config}
}

// GetConnection returns a configured SQLite database connection.
//
// PRAGMAs are passed through the DSN so every pooled connection gets them,
// not only the first one.
func (cm *sqliteConnectionManager) GetConnection() (*sql.DB, error) {
	if err := cm.ValidateConfig(); err != nil {
		return nil, fmt.Errorf("invalid SQLite configuration: %w", err)
	}

	if err := cm.createDatabaseDir(); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cm.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	maxOpen := cm.config.MaxOpenConns
	if cm.inMemory() {
		// each connection to :memory: is a separate database
		maxOpen = 1
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if cm.config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cm.config.MaxIdleConns)
	}
	if cm.config.ConnMaxLifetime > 0 && !cm.inMemory() {
		db.SetConnMaxLifetime(cm.config.ConnMaxLifetime)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	return db, nil
}

// DSN renders the driver connection string including PRAGMA parameters.
func (cm *sqliteConnectionManager) DSN() string {
	params := url.Values{}
	if cm.config.BusyTimeout > 0 {
		params.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", cm.config.BusyTimeout.Milliseconds()))
	}
	if cm.config.EnableForeignKeys {
		params.Add("_pragma", "foreign_keys(1)")
	}
	if cm.config.JournalMode != "" && !cm.inMemory() {
		params.Add("_pragma", fmt.Sprintf("journal_mode(%s)", cm.config.JournalMode))
	}
	if cm.config.Synchronous != "" {
		params.Add("_pragma", fmt.Sprintf("synchronous(%s)", cm.config.Synchronous))
	}
	if cm.config.ImmediateTransactions {
		params.Set("_txlock", "immediate")
	}

	base := cm.config.Path
	if !strings.HasPrefix(base, "file:") {
		base = "file:" + base
	}
	if len(params) == 0 {
		return base
	}
	separator := "?"
	if strings.Contains(base, "?") {
		separator = "&"
	}
	return base + separator + params.Encode()
}

func (cm *sqliteConnectionManager) inMemory() bool {
	return cm.config.Path == ":memory:" || strings.Contains(cm.config.Path, "mode=memory")
}

func (cm *sqliteConnectionManager) createDatabaseDir() error {
	if cm.inMemory() {
		return nil
	}
	filePath := strings.TrimPrefix(cm.config.Path, "file:")
	if idx := strings.Index(filePath, "?"); idx != -1 {
		filePath = filePath[:idx]
	}
	dbDir := filepath.Dir(filePath)
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		return fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
	}
	return nil
}

// ValidateConfig validates the SQLite configuration
func (cm *sqliteConnectionManager) ValidateConfig() error {
	if strings.TrimSpace(cm.config.Path) == "" {
		return fmt.Errorf("path cannot be empty")
	}

	if cm.config.BusyTimeout < 0 {
		return fmt.Errorf("BusyTimeout cannot be negative")
	}

	validJournalModes := map[string]bool{
		"DELETE":   true,
		"TRUNCATE": true,
		"PERSIST":  true,
		"MEMORY":   true,
		"WAL":      true,
		"OFF":      true,
	}
	if cm.config.JournalMode != "" && !validJournalModes[cm.config.JournalMode] {
		return fmt.Errorf("invalid journal mode: %s", cm.config.JournalMode)
	}

	validSyncModes := map[string]bool{
		"OFF":    true,
		"NORMAL": true,
		"FULL":   true,
		"EXTRA":  true,
	}
	if cm.config.Synchronous != "" && !validSyncModes[cm.config.Synchronous] {
		return fmt.Errorf("invalid synchronous mode: %s", cm.config.Synchronous)
	}

	if cm.config.MaxOpenConns < 0 || cm.config.MaxIdleConns < 0 {
		return fmt.Errorf("connection limits cannot be negative")
	}

	if cm.config.ConnMaxLifetime < 0 {
		return fmt.Errorf("ConnMaxLifetime cannot be negative")
	}

	return nil
}

// DefaultSQLiteConfig returns a SQLite configuration with sensible defaults
func DefaultSQLiteConfig(databasePath string) SQLiteConfig {
	return SQLiteConfig{
		Path:                  databasePath,
		BusyTimeout:           10 * time.Second,
		EnableForeignKeys:     true,
		JournalMode:           "WAL",
		Synchronous:           "NORMAL",
		ImmediateTransactions: true,
		MaxOpenConns:          8,
		MaxIdleConns:          4,
		ConnMaxLifetime:       5 * time.Minute,
	}
}

// TempFileTestSQLiteConfig returns a SQLite configuration for temporary file-based testing
func TempFileTestSQLiteConfig(tempFilePath string) SQLiteConfig {
	return SQLiteConfig{
		Path:                  tempFilePath,
		BusyTimeout:           5 * time.Second,
		EnableForeignKeys:     true,
		JournalMode:           "WAL",
		Synchronous:           "OFF",
		ImmediateTransactions: true,
		MaxOpenConns:          4,
		MaxIdleConns:          2,
		ConnMaxLifetime:       time.Minute,
	}
}
