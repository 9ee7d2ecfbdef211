package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/example/peer-scheduler/internal/availability"
	"github.com/example/peer-scheduler/internal/feed"
	"github.com/example/peer-scheduler/internal/persistence"
)

// SlotRepository captures the slot ledger operations needed by the availability service.
type SlotRepository interface {
	ToggleSlot(ctx context.Context, fact persistence.SlotFact) (bool, error)
	SetSlot(ctx context.Context, fact persistence.SlotFact, selected bool) (bool, error)
	ListSlots(ctx context.Context, pollID string) ([]persistence.SlotFact, error)
}

// AvailabilityService writes the caller's own slot facts and aggregates the
// poll grid.
type AvailabilityService struct {
	polls PollRepository
	slots SlotRepository
	names NameResolver
	opts  serviceOptions
}

// NewAvailabilityService constructs an availability service. names may be nil,
// in which case owner IDs are shown instead of names.
func NewAvailabilityService(polls PollRepository, slots SlotRepository, names NameResolver, opts ...Option) *AvailabilityService {
	return &AvailabilityService{polls: polls, slots: slots, names: names, opts: newServiceOptions(opts)}
}

func (s *AvailabilityService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.opts.logger, "AvailabilityService", operation, attrs...)
}

// ToggleSlot flips the principal's availability at one cell.
func (s *AvailabilityService) ToggleSlot(ctx context.Context, principal Principal, pollID, date string, hour int) (SlotResult, error) {
	return s.write(ctx, "ToggleSlot", principal, pollID, date, hour, nil)
}

// SetSlot makes the principal's availability at one cell match selected.
// Repeating it is a no-op, which makes it the safe form for retries.
func (s *AvailabilityService) SetSlot(ctx context.Context, principal Principal, pollID, date string, hour int, selected bool) (SlotResult, error) {
	return s.write(ctx, "SetSlot", principal, pollID, date, hour, &selected)
}

func (s *AvailabilityService) write(ctx context.Context, operation string, principal Principal, pollID, date string, hour int, selected *bool) (result SlotResult, err error) {
	if s == nil {
		err = fmt.Errorf("AvailabilityService is nil")
		return
	}

	logger := s.loggerWith(ctx, operation,
		"user_id", principal.UserID,
		"poll_id", pollID,
		"date", date,
		"hour", hour,
	)
	defer func() {
		if err != nil {
			s.opts.metrics.SlotWrite("error")
			logger.ErrorContext(ctx, "failed to write slot", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.DebugContext(ctx, "slot written", "selected", result.Selected, "changed", result.Changed)
	}()

	if principal.UserID == "" {
		err = ErrUnauthorized
		return
	}

	var poll persistence.Poll
	poll, err = s.polls.GetPoll(ctx, pollID)
	if err != nil {
		err = mapRepoError(err)
		return
	}
	if !availability.DomainOf(poll).Contains(date, hour) {
		err = fieldError("cell", fmt.Sprintf("%s %02d:00 is outside the poll", date, hour))
		return
	}

	fact := persistence.SlotFact{
		PollID:    pollID,
		OwnerID:   principal.UserID,
		Date:      date,
		Hour:      hour,
		CreatedAt: s.opts.now(),
	}
	result = SlotResult{PollID: pollID, Date: date, Hour: hour}

	if selected == nil {
		result.Selected, err = s.slots.ToggleSlot(ctx, fact)
		result.Changed = err == nil
	} else {
		result.Selected = *selected
		result.Changed, err = s.slots.SetSlot(ctx, fact, *selected)
	}
	if err != nil {
		err = mapRepoError(err)
		result = SlotResult{}
		return
	}

	if !result.Changed {
		s.opts.metrics.SlotWrite("noop")
		return
	}

	eventType, outcome := feed.SlotRemoved, "removed"
	if result.Selected {
		eventType, outcome = feed.SlotAdded, "added"
	}
	s.opts.metrics.SlotWrite(outcome)
	s.opts.publish(ctx, logger, feed.PollKey(pollID), eventType, slotEventID(fact), !result.Selected, SlotPayload{
		PollID:  pollID,
		OwnerID: fact.OwnerID,
		Date:    date,
		Hour:    hour,
	})
	return
}

// slotEventID is the primary key of a fact within its poll.
func slotEventID(fact persistence.SlotFact) string {
	return fmt.Sprintf("%s/%s/%02d", fact.OwnerID, fact.Date, fact.Hour)
}

// GetAggregatedGrid returns the heatmap of a poll as seen by the principal.
func (s *AvailabilityService) GetAggregatedGrid(ctx context.Context, principal Principal, pollID string) (grid availability.Grid, err error) {
	if s == nil {
		err = fmt.Errorf("AvailabilityService is nil")
		return
	}

	logger := s.loggerWith(ctx, "GetAggregatedGrid", "user_id", principal.UserID, "poll_id", pollID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to aggregate grid", "error", err, "error_kind", ErrorKind(err))
		}
	}()

	var poll persistence.Poll
	poll, err = s.polls.GetPoll(ctx, pollID)
	if err != nil {
		err = mapRepoError(err)
		return
	}

	var facts []persistence.SlotFact
	facts, err = s.slots.ListSlots(ctx, pollID)
	if err != nil {
		err = mapRepoError(err)
		return
	}

	var participants []string
	participants, err = s.polls.ListParticipants(ctx, pollID)
	if err != nil {
		err = mapRepoError(err)
		return
	}

	names := s.resolveNames(ctx, logger, participants)
	grid = availability.Aggregate(poll, facts, participants, names, principal.UserID)
	return
}

// BestSlots returns the non-empty cells with the most available owners.
func (s *AvailabilityService) BestSlots(ctx context.Context, principal Principal, pollID string, limit int) ([]availability.CellSummary, error) {
	grid, err := s.GetAggregatedGrid(ctx, principal, pollID)
	if err != nil {
		return nil, err
	}
	return availability.BestSlots(grid, limit), nil
}

// resolveNames degrades to bare IDs when the resolver fails; names are
// presentation only.
func (s *AvailabilityService) resolveNames(ctx context.Context, logger *slog.Logger, ids []string) map[string]string {
	if s.names == nil || len(ids) == 0 {
		return nil
	}
	names, err := s.names.ResolveDisplayNames(ctx, ids)
	if err != nil {
		logger.WarnContext(ctx, "display names unavailable", "error", err)
	}
	return names
}
