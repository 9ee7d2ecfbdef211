package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/example/peer-scheduler/internal/persistence"
)

// ProfileRepository implements persistence.ProfileRepository using SQLite
type ProfileRepository struct {
	helper *QueryHelper
	mapper *ErrorMapper
}

// NewProfileRepository creates a new SQLite profile repository
func NewProfileRepository(pool *ConnectionPool) *ProfileRepository {
	return &ProfileRepository{
		helper: NewQueryHelper(pool),
		mapper: NewErrorMapper(),
	}
}

// UpsertProfile records the latest display name reported for a user.
func (r *ProfileRepository) UpsertProfile(ctx context.Context, profile persistence.Profile) error {
	if strings.TrimSpace(profile.ID) == "" {
		return persistence.ErrConstraintViolation
	}
	if profile.UpdatedAt.IsZero() {
		profile.UpdatedAt = time.Now()
	}

	query := `
		INSERT INTO profiles (id, display_name, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			updated_at = excluded.updated_at
	`

	if _, err := r.helper.Exec(ctx, query, profile.ID, profile.DisplayName, formatTime(profile.UpdatedAt)); err != nil {
		return r.mapper.MapError(err)
	}
	return nil
}

// ListProfiles returns the known profiles among ids. Unknown ids are skipped.
func (r *ProfileRepository) ListProfiles(ctx context.Context, ids []string) ([]persistence.Profile, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	query := fmt.Sprintf(`
		SELECT id, display_name, updated_at
		FROM profiles
		WHERE id IN (%s)
		ORDER BY id ASC
	`, strings.Join(placeholders, ", "))

	rows, err := r.helper.Query(ctx, query, args...)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var profiles []persistence.Profile
	for rows.Next() {
		var profile persistence.Profile
		var updatedAt string
		if err := rows.Scan(&profile.ID, &profile.DisplayName, &updatedAt); err != nil {
			return nil, r.mapper.MapError(err)
		}
		if profile.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		profiles = append(profiles, profile)
	}

	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	return profiles, nil
}
