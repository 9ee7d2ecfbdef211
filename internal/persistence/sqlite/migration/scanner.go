package migration

import (
	"crypto/sha256"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

//go:embed sql/*.sql
var embedded embed.FS

// Files returns the migrations compiled into the binary.
func Files() fs.FS {
	sub, err := fs.Sub(embedded, "sql")
	if err != nil {
		// sql/ is guaranteed by the embed directive.
		panic(err)
	}
	return sub
}

// fileScannerImpl implements the FileScanner interface
type fileScannerImpl struct {
	migrationFilePattern *regexp.Regexp
}

// NewFileScanner creates a new FileScanner implementation
func NewFileScanner() FileScanner {
	// {version}_{description}.sql, version numeric
	pattern := regexp.MustCompile(`^(\d+)_([a-zA-Z0-9_-]+)\.sql$`)

	return &fileScannerImpl{
		migrationFilePattern: pattern,
	}
}

// ScanMigrations reads every .sql file at the root of fsys, sorted by version.
func (s *fileScannerImpl) ScanMigrations(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, NewMigrationError("", ".", "read directory", err)
	}

	var migrations []Migration
	versionMap := make(map[int]string)

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		if err := s.ValidateFileName(entry.Name()); err != nil {
			return nil, NewMigrationError("", entry.Name(), "validate filename", err)
		}

		migration, err := s.parseMigrationFile(fsys, entry.Name())
		if err != nil {
			return nil, err
		}

		number, _ := strconv.Atoi(migration.Version)
		if existingFile, exists := versionMap[number]; exists {
			return nil, NewMigrationError(migration.Version, entry.Name(), "check duplicates",
				fmt.Errorf("%w: version %s found in both %s and %s",
					ErrDuplicateVersion, migration.Version, existingFile, entry.Name()))
		}
		versionMap[number] = entry.Name()

		migrations = append(migrations, migration)
	}

	sort.Slice(migrations, func(i, j int) bool {
		versionI, _ := strconv.Atoi(migrations[i].Version)
		versionJ, _ := strconv.Atoi(migrations[j].Version)
		return versionI < versionJ
	})

	return migrations, nil
}

// ValidateFileName checks if migration file follows naming convention
func (s *fileScannerImpl) ValidateFileName(filename string) error {
	matches := s.migrationFilePattern.FindStringSubmatch(filename)
	if len(matches) != 3 {
		return fmt.Errorf("%w: filename '%s' does not match pattern '{version}_{description}.sql'",
			ErrInvalidMigrationFile, filename)
	}

	if _, err := strconv.Atoi(matches[1]); err != nil {
		return fmt.Errorf("%w: version '%s' in filename '%s' is not a valid number",
			ErrInvalidVersion, matches[1], filename)
	}

	return nil
}

func (s *fileScannerImpl) parseMigrationFile(fsys fs.FS, name string) (Migration, error) {
	matches := s.migrationFilePattern.FindStringSubmatch(name)
	version := matches[1]

	content, err := fs.ReadFile(fsys, name)
	if err != nil {
		return Migration{}, NewMigrationError(version, name, "read file", err)
	}

	sqlContent := string(content)
	if strings.TrimSpace(stripComments(sqlContent)) == "" {
		return Migration{}, NewMigrationError(version, name, "validate content",
			fmt.Errorf("%w: migration file has no statements", ErrInvalidMigrationFile))
	}

	description := extractDescription(sqlContent)
	if description == "" {
		description = strings.ReplaceAll(matches[2], "_", " ")
	}

	return Migration{
		Version:     version,
		Description: description,
		SQL:         sqlContent,
		FilePath:    path.Clean(name),
		Checksum:    fmt.Sprintf("%x", sha256.Sum256(content)),
	}, nil
}

func stripComments(sql string) string {
	lines := strings.Split(sql, "\n")
	kept := lines[:0:0]
	for _, line := range lines {
		if idx := strings.Index(line, "--"); idx != -1 {
			line = line[:idx]
		}
		if line = strings.TrimSpace(line); line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, " ")
}

// extractDescription reads a leading "-- Description: ..." comment.
func extractDescription(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "--") {
			break
		}
		if strings.HasPrefix(line, "-- Description:") {
			return strings.TrimSpace(strings.TrimPrefix(line, "-- Description:"))
		}
	}
	return ""
}
