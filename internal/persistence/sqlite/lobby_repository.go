package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/peer-scheduler/internal/persistence"
)

// LobbyRepository implements persistence.LobbyRepository using SQLite.
//
// The partial unique index idx_lobby_one_waiting keeps at most one waiting
// entry per user and topic; CompleteMatch claims an entry with a conditional
// update so two joiners can never both match the same entry.
type LobbyRepository struct {
	pool   *ConnectionPool
	helper *QueryHelper
	mapper *ErrorMapper
	retry  *RetryHelper
}

// NewLobbyRepository creates a new SQLite lobby repository
func NewLobbyRepository(pool *ConnectionPool) *LobbyRepository {
	return &LobbyRepository{
		pool:   pool,
		helper: NewQueryHelper(pool),
		mapper: NewErrorMapper(),
		retry:  NewRetryHelper(DefaultRetryConfig()),
	}
}

const lobbyColumns = `id, user_id, topic, status, matched_with, session_id, created_at, expires_at`

// EnqueueEntry deletes the user's prior waiting entries for the topic and
// inserts entry in one transaction.
func (r *LobbyRepository) EnqueueEntry(ctx context.Context, entry persistence.LobbyEntry) error {
	if entry.ID == "" || entry.UserID == "" || entry.Topic == "" {
		return persistence.ErrConstraintViolation
	}
	entry.Status = persistence.LobbyWaiting

	err := r.retry.WithRetry(ctx, func() error {
		return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, `
				DELETE FROM lobby_entries
				WHERE user_id = ? AND topic = ? AND status = 'waiting'
			`, entry.UserID, entry.Topic); err != nil {
				return err
			}
			return insertLobbyEntry(ctx, tx, entry)
		})
	})
	return r.mapper.MapError(err)
}

// GetEntry retrieves a lobby entry by ID
func (r *LobbyRepository) GetEntry(ctx context.Context, id string) (persistence.LobbyEntry, error) {
	row := r.helper.QueryRow(ctx, `SELECT `+lobbyColumns+` FROM lobby_entries WHERE id = ?`, id)
	entry, err := scanLobbyEntry(row)
	if err != nil {
		return persistence.LobbyEntry{}, r.mapper.MapError(err)
	}
	return entry, nil
}

// ListWaitingCandidates returns unexpired waiting entries for topic owned by
// someone other than excludeUserID, oldest first.
func (r *LobbyRepository) ListWaitingCandidates(ctx context.Context, topic, excludeUserID string, now time.Time, limit int) ([]persistence.LobbyEntry, error) {
	if limit <= 0 {
		limit = 1
	}

	query := `SELECT ` + lobbyColumns + `
		FROM lobby_entries
		WHERE topic = ? AND status = 'waiting' AND user_id <> ? AND expires_at > ?
		ORDER BY created_at ASC, id ASC
		LIMIT ?`

	rows, err := r.helper.Query(ctx, query, topic, excludeUserID, formatTime(now), limit)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var entries []persistence.LobbyEntry
	for rows.Next() {
		entry, err := scanLobbyEntry(rows)
		if err != nil {
			return nil, r.mapper.MapError(err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	return entries, nil
}

// CompleteMatch creates the session, claims the waiting entry, and records
// the caller's mirror entry atomically. A claim that updates no row means
// another joiner won or the lease lapsed; it reports ErrConflict and leaves
// nothing behind.
func (r *LobbyRepository) CompleteMatch(ctx context.Context, match persistence.Match, now time.Time) error {
	caller := match.CallerEntry
	session := match.Session
	if match.ClaimedEntryID == "" || caller.ID == "" || session.ID == "" {
		return persistence.ErrConstraintViolation
	}

	err := r.retry.WithRetry(ctx, func() error {
		return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
			if err := insertSession(ctx, tx, session); err != nil {
				return err
			}

			result, err := tx.ExecContext(ctx, `
				UPDATE lobby_entries
				SET status = 'matched', matched_with = ?, session_id = ?
				WHERE id = ? AND status = 'waiting' AND expires_at > ?
			`, caller.UserID, session.ID, match.ClaimedEntryID, formatTime(now))
			if err != nil {
				return err
			}
			claimed, err := result.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to get rows affected: %w", err)
			}
			if claimed == 0 {
				return persistence.ErrConflict
			}

			if _, err := tx.ExecContext(ctx, `
				DELETE FROM lobby_entries
				WHERE user_id = ? AND topic = ? AND status = 'waiting'
			`, caller.UserID, caller.Topic); err != nil {
				return err
			}

			caller.Status = persistence.LobbyMatched
			caller.SessionID = &session.ID
			return insertLobbyEntry(ctx, tx, caller)
		})
	})
	return r.mapper.MapError(err)
}

// RefreshEntry extends the lease of a live waiting entry.
func (r *LobbyRepository) RefreshEntry(ctx context.Context, id string, expiresAt, now time.Time) error {
	result, err := r.helper.Exec(ctx, `
		UPDATE lobby_entries
		SET expires_at = ?
		WHERE id = ? AND status = 'waiting' AND expires_at > ?
	`, formatTime(expiresAt), id, formatTime(now))
	if err != nil {
		return r.mapper.MapError(err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	if _, err := r.GetEntry(ctx, id); err != nil {
		return err
	}
	return persistence.ErrConflict
}

// DeleteWaitingEntry removes a waiting entry owned by userID.
func (r *LobbyRepository) DeleteWaitingEntry(ctx context.Context, id, userID string) error {
	result, err := r.helper.Exec(ctx, `
		DELETE FROM lobby_entries
		WHERE id = ? AND user_id = ? AND status = 'waiting'
	`, id, userID)
	if err != nil {
		return r.mapper.MapError(err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

// DeleteExpiredEntries removes waiting entries whose lease lapsed and returns them.
func (r *LobbyRepository) DeleteExpiredEntries(ctx context.Context, now time.Time) ([]persistence.LobbyEntry, error) {
	var expired []persistence.LobbyEntry
	err := r.retry.WithRetry(ctx, func() error {
		expired = nil
		return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
			rows, err := tx.QueryContext(ctx, `SELECT `+lobbyColumns+`
				FROM lobby_entries
				WHERE status = 'waiting' AND expires_at <= ?
				ORDER BY created_at ASC, id ASC`, formatTime(now))
			if err != nil {
				return err
			}
			for rows.Next() {
				entry, err := scanLobbyEntry(rows)
				if err != nil {
					rows.Close()
					return err
				}
				expired = append(expired, entry)
			}
			if err := rows.Close(); err != nil {
				return err
			}
			if err := rows.Err(); err != nil {
				return err
			}

			for _, entry := range expired {
				if _, err := tx.ExecContext(ctx, `DELETE FROM lobby_entries WHERE id = ? AND status = 'waiting'`, entry.ID); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	return expired, nil
}

// CountWaiting returns the number of live waiting entries across topics.
func (r *LobbyRepository) CountWaiting(ctx context.Context, now time.Time) (int, error) {
	var count int
	err := r.helper.QueryRow(ctx, `
		SELECT COUNT(*) FROM lobby_entries WHERE status = 'waiting' AND expires_at > ?
	`, formatTime(now)).Scan(&count)
	if err != nil {
		return 0, r.mapper.MapError(err)
	}
	return count, nil
}

func insertLobbyEntry(ctx context.Context, tx *sql.Tx, entry persistence.LobbyEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO lobby_entries (`+lobbyColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.UserID,
		entry.Topic,
		string(entry.Status),
		nullString(entry.MatchedWith),
		nullString(entry.SessionID),
		formatTime(entry.CreatedAt),
		formatTime(entry.ExpiresAt),
	)
	return err
}

func insertSession(ctx context.Context, tx *sql.Tx, session persistence.Session) error {
	prompts, err := json.Marshal(session.Prompts)
	if err != nil {
		return fmt.Errorf("encode prompts: %w", err)
	}
	if session.Status == "" {
		session.Status = persistence.SessionActive
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}

	var completedAt sql.NullString
	if session.CompletedAt != nil {
		completedAt = sql.NullString{String: formatTime(*session.CompletedAt), Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, participant_a, participant_b, topic, prompts, status, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		session.ID,
		session.ParticipantA,
		session.ParticipantB,
		session.Topic,
		string(prompts),
		string(session.Status),
		formatTime(session.CreatedAt),
		completedAt,
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLobbyEntry(row rowScanner) (persistence.LobbyEntry, error) {
	var entry persistence.LobbyEntry
	var status, createdAt, expiresAt string
	var matchedWith, sessionID sql.NullString

	if err := row.Scan(
		&entry.ID,
		&entry.UserID,
		&entry.Topic,
		&status,
		&matchedWith,
		&sessionID,
		&createdAt,
		&expiresAt,
	); err != nil {
		return persistence.LobbyEntry{}, err
	}

	entry.Status = persistence.LobbyStatus(status)
	entry.MatchedWith = stringPtr(matchedWith)
	entry.SessionID = stringPtr(sessionID)

	var err error
	if entry.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.LobbyEntry{}, err
	}
	if entry.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return persistence.LobbyEntry{}, err
	}
	return entry, nil
}
