package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/example/peer-scheduler/internal/persistence"
)

// SlotRepository implements the slot ledger on SQLite. Every write runs in a
// single transaction and is retried when the database is busy.
type SlotRepository struct {
	pool   *ConnectionPool
	helper *QueryHelper
	mapper *ErrorMapper
	retry  *RetryHelper
}

// NewSlotRepository creates a new SQLite slot repository
func NewSlotRepository(pool *ConnectionPool) *SlotRepository {
	return &SlotRepository{
		pool:   pool,
		helper: NewQueryHelper(pool),
		mapper: NewErrorMapper(),
		retry:  NewRetryHelper(DefaultRetryConfig()),
	}
}

// ToggleSlot deletes the fact when present and inserts it otherwise.
func (r *SlotRepository) ToggleSlot(ctx context.Context, fact persistence.SlotFact) (bool, error) {
	if fact.CreatedAt.IsZero() {
		fact.CreatedAt = time.Now()
	}

	var selected bool
	err := r.retry.WithRetry(ctx, func() error {
		return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
			if err := ensurePollExists(ctx, tx, fact.PollID); err != nil {
				return err
			}

			removed, err := deleteFact(ctx, tx, fact)
			if err != nil {
				return err
			}
			if removed {
				selected = false
				return nil
			}

			if _, err := insertFact(ctx, tx, fact); err != nil {
				return err
			}
			selected = true
			return nil
		})
	})
	if err != nil {
		return false, r.mapper.MapError(err)
	}
	return selected, nil
}

// SetSlot converges the fact to selected. An insert that finds the row
// already present is a no-op, so retries of the same intent succeed.
func (r *SlotRepository) SetSlot(ctx context.Context, fact persistence.SlotFact, selected bool) (bool, error) {
	if fact.CreatedAt.IsZero() {
		fact.CreatedAt = time.Now()
	}

	var changed bool
	err := r.retry.WithRetry(ctx, func() error {
		return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
			if err := ensurePollExists(ctx, tx, fact.PollID); err != nil {
				return err
			}

			var err error
			if selected {
				changed, err = insertFact(ctx, tx, fact)
			} else {
				changed, err = deleteFact(ctx, tx, fact)
			}
			return err
		})
	})
	if err != nil {
		return false, r.mapper.MapError(err)
	}
	return changed, nil
}

// ListSlots returns every fact of a poll ordered by cell then owner.
func (r *SlotRepository) ListSlots(ctx context.Context, pollID string) ([]persistence.SlotFact, error) {
	query := `
		SELECT poll_id, owner_id, slot_date, hour, created_at
		FROM slot_facts
		WHERE poll_id = ?
		ORDER BY slot_date ASC, hour ASC, owner_id ASC
	`

	rows, err := r.helper.Query(ctx, query, pollID)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var facts []persistence.SlotFact
	for rows.Next() {
		var fact persistence.SlotFact
		var createdAt string
		if err := rows.Scan(&fact.PollID, &fact.OwnerID, &fact.Date, &fact.Hour, &createdAt); err != nil {
			return nil, r.mapper.MapError(err)
		}
		if fact.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		facts = append(facts, fact)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	return facts, nil
}

func ensurePollExists(ctx context.Context, tx *sql.Tx, pollID string) error {
	var exists int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM polls WHERE id = ?`, pollID).Scan(&exists)
	if err == sql.ErrNoRows {
		return persistence.ErrNotFound
	}
	return err
}

func deleteFact(ctx context.Context, tx *sql.Tx, fact persistence.SlotFact) (bool, error) {
	result, err := tx.ExecContext(ctx, `
		DELETE FROM slot_facts
		WHERE poll_id = ? AND owner_id = ? AND slot_date = ? AND hour = ?
	`, fact.PollID, fact.OwnerID, fact.Date, fact.Hour)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// insertFact records membership before the fact so a fact never exists
// without its owner being a participant.
func insertFact(ctx context.Context, tx *sql.Tx, fact persistence.SlotFact) (bool, error) {
	createdAt := formatTime(fact.CreatedAt)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO poll_participants (poll_id, user_id, joined_at)
		VALUES (?, ?, ?)
		ON CONFLICT(poll_id, user_id) DO NOTHING
	`, fact.PollID, fact.OwnerID, createdAt); err != nil {
		return false, err
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO slot_facts (poll_id, owner_id, slot_date, hour, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(poll_id, owner_id, slot_date, hour) DO NOTHING
	`, fact.PollID, fact.OwnerID, fact.Date, fact.Hour, createdAt)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}
