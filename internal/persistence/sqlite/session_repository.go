package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/peer-scheduler/internal/persistence"
)

// SessionRepository implements persistence.SessionRepository using SQLite
type SessionRepository struct {
	pool   *ConnectionPool
	helper *QueryHelper
	mapper *ErrorMapper
}

// NewSessionRepository creates a new SQLite session repository
func NewSessionRepository(pool *ConnectionPool) *SessionRepository {
	return &SessionRepository{
		pool:   pool,
		helper: NewQueryHelper(pool),
		mapper: NewErrorMapper(),
	}
}

// CreateSession stores a session outside the lobby, as the demo path does.
func (r *SessionRepository) CreateSession(ctx context.Context, session persistence.Session) error {
	if session.ID == "" || session.ParticipantA == "" || session.ParticipantB == "" {
		return persistence.ErrConstraintViolation
	}

	err := r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		return insertSession(ctx, tx, session)
	})
	return r.mapper.MapError(err)
}

// GetSession retrieves a session by ID
func (r *SessionRepository) GetSession(ctx context.Context, id string) (persistence.Session, error) {
	query := `
		SELECT id, participant_a, participant_b, topic, prompts, status, created_at, completed_at
		FROM sessions
		WHERE id = ?
	`

	var session persistence.Session
	var prompts, status, createdAt string
	var completedAt sql.NullString

	err := r.helper.QueryRow(ctx, query, id).Scan(
		&session.ID,
		&session.ParticipantA,
		&session.ParticipantB,
		&session.Topic,
		&prompts,
		&status,
		&createdAt,
		&completedAt,
	)
	if err != nil {
		return persistence.Session{}, r.mapper.MapError(err)
	}

	if err := json.Unmarshal([]byte(prompts), &session.Prompts); err != nil {
		return persistence.Session{}, fmt.Errorf("decode prompts: %w", err)
	}
	session.Status = persistence.SessionStatus(status)
	if session.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.Session{}, err
	}
	if session.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return persistence.Session{}, err
	}
	return session, nil
}

// CompleteSession marks an active session completed and reports whether this
// call made the transition. Completing an already completed session keeps the
// original completion time.
func (r *SessionRepository) CompleteSession(ctx context.Context, id string, completedAt time.Time) (persistence.Session, bool, error) {
	result, err := r.helper.Exec(ctx, `
		UPDATE sessions
		SET status = 'completed', completed_at = ?
		WHERE id = ? AND status = 'active'
	`, formatTime(completedAt), id)
	if err != nil {
		return persistence.Session{}, false, r.mapper.MapError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.Session{}, false, r.mapper.MapError(err)
	}

	session, err := r.GetSession(ctx, id)
	if err != nil {
		return persistence.Session{}, false, err
	}
	return session, affected == 1, nil
}

// InsertResponse stores a card response unless the participant already
// answered that card.
func (r *SessionRepository) InsertResponse(ctx context.Context, response persistence.CardResponse) (bool, error) {
	if response.CreatedAt.IsZero() {
		response.CreatedAt = time.Now()
	}

	result, err := r.helper.Exec(ctx, `
		INSERT INTO card_responses (session_id, user_id, card_index, selected_option, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id, user_id, card_index) DO NOTHING
	`,
		response.SessionID,
		response.UserID,
		response.CardIndex,
		response.SelectedOption,
		formatTime(response.CreatedAt),
	)
	if err != nil {
		return false, r.mapper.MapError(err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// ListResponses returns every response of a session ordered by card then time.
func (r *SessionRepository) ListResponses(ctx context.Context, sessionID string) ([]persistence.CardResponse, error) {
	rows, err := r.helper.Query(ctx, `
		SELECT session_id, user_id, card_index, selected_option, created_at
		FROM card_responses
		WHERE session_id = ?
		ORDER BY card_index ASC, created_at ASC, user_id ASC
	`, sessionID)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var responses []persistence.CardResponse
	for rows.Next() {
		var response persistence.CardResponse
		var createdAt string
		if err := rows.Scan(&response.SessionID, &response.UserID, &response.CardIndex, &response.SelectedOption, &createdAt); err != nil {
			return nil, r.mapper.MapError(err)
		}
		if response.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		responses = append(responses, response)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	return responses, nil
}
