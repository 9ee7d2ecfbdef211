package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/peer-scheduler/internal/persistence"
)

// PollRepository implements persistence.PollRepository using SQLite
type PollRepository struct {
	helper *QueryHelper
	mapper *ErrorMapper
}

// NewPollRepository creates a new SQLite poll repository
func NewPollRepository(pool *ConnectionPool) *PollRepository {
	return &PollRepository{
		helper: NewQueryHelper(pool),
		mapper: NewErrorMapper(),
	}
}

// CreatePoll inserts a new poll. Dates are stored as a JSON array.
func (r *PollRepository) CreatePoll(ctx context.Context, poll persistence.Poll) error {
	if strings.TrimSpace(poll.ID) == "" || strings.TrimSpace(poll.OwnerID) == "" || len(poll.Dates) == 0 {
		return persistence.ErrConstraintViolation
	}
	if poll.CreatedAt.IsZero() {
		poll.CreatedAt = time.Now()
	}

	dates, err := json.Marshal(poll.Dates)
	if err != nil {
		return fmt.Errorf("encode poll dates: %w", err)
	}

	query := `
		INSERT INTO polls (id, title, owner_id, dates, hour_start, hour_end, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.helper.Exec(ctx, query,
		poll.ID,
		poll.Title,
		poll.OwnerID,
		string(dates),
		poll.HourStart,
		poll.HourEnd,
		formatTime(poll.CreatedAt),
	)
	if err != nil {
		return r.mapper.MapError(err)
	}
	return nil
}

// GetPoll retrieves a poll by ID
func (r *PollRepository) GetPoll(ctx context.Context, id string) (persistence.Poll, error) {
	if id == "" {
		return persistence.Poll{}, persistence.ErrNotFound
	}

	query := `
		SELECT id, title, owner_id, dates, hour_start, hour_end, created_at
		FROM polls
		WHERE id = ?
	`

	var poll persistence.Poll
	var dates, createdAt string
	err := r.helper.QueryRow(ctx, query, id).Scan(
		&poll.ID,
		&poll.Title,
		&poll.OwnerID,
		&dates,
		&poll.HourStart,
		&poll.HourEnd,
		&createdAt,
	)
	if err != nil {
		return persistence.Poll{}, r.mapper.MapError(err)
	}

	if err := json.Unmarshal([]byte(dates), &poll.Dates); err != nil {
		return persistence.Poll{}, fmt.Errorf("decode poll dates: %w", err)
	}
	if poll.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.Poll{}, err
	}
	return poll, nil
}

// DeletePoll removes a poll. Slot facts and participants cascade.
func (r *PollRepository) DeletePoll(ctx context.Context, id string) error {
	result, err := r.helper.Exec(ctx, `DELETE FROM polls WHERE id = ?`, id)
	if err != nil {
		return r.mapper.MapError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

// ListParticipants returns the users that have written to the poll, in join order.
func (r *PollRepository) ListParticipants(ctx context.Context, pollID string) ([]string, error) {
	if _, err := r.GetPoll(ctx, pollID); err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return nil, persistence.ErrNotFound
		}
		return nil, err
	}

	query := `
		SELECT user_id
		FROM poll_participants
		WHERE poll_id = ?
		ORDER BY joined_at ASC, user_id ASC
	`

	rows, err := r.helper.Query(ctx, query, pollID)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var participants []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, r.mapper.MapError(err)
		}
		participants = append(participants, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	return participants, nil
}
