// Package migration applies versioned SQL migrations to the SQLite store.
//
// Migration files are embedded into the binary from the sql/ directory and
// follow the naming convention {version}_{description}.sql (for example
// "001_initial_schema.sql"). Applied versions are tracked in the
// schema_migrations table so every file runs at most once, in ascending
// version order, each inside its own transaction.
//
// Example usage:
//
//	manager := NewMigrationManager(NewFileScanner(), NewSQLiteExecutor(db), Files(), logger)
//	if err := manager.RunMigrations(ctx); err != nil {
//		return fmt.Errorf("migrate: %w", err)
//	}
package migration
