package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/example/peer-scheduler/internal/feed"
	"github.com/example/peer-scheduler/internal/persistence"
	"github.com/example/peer-scheduler/internal/recurrence"
)

const (
	dateLayout     = recurrence.DateLayout
	maxPollDates   = 62
	maxTitleLength = 120
	hoursPerDay    = 24
)

// PollRepository captures the persistence operations needed by the poll service.
type PollRepository interface {
	CreatePoll(ctx context.Context, poll persistence.Poll) error
	GetPoll(ctx context.Context, id string) (persistence.Poll, error)
	DeletePoll(ctx context.Context, id string) error
	ListParticipants(ctx context.Context, pollID string) ([]string, error)
}

// PollService creates and removes polls.
type PollService struct {
	polls PollRepository
	opts  serviceOptions
}

// NewPollService constructs a poll service.
func NewPollService(polls PollRepository, opts ...Option) *PollService {
	return &PollService{polls: polls, opts: newServiceOptions(opts)}
}

func (s *PollService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.opts.logger, "PollService", operation, attrs...)
}

// CreatePoll validates input and persists a poll owned by the principal.
func (s *PollService) CreatePoll(ctx context.Context, principal Principal, input CreatePollInput) (poll persistence.Poll, err error) {
	if s == nil {
		err = fmt.Errorf("PollService is nil")
		return
	}

	logger := s.loggerWith(ctx, "CreatePoll", "user_id", principal.UserID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to create poll", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("poll_id", poll.ID).InfoContext(ctx, "poll created", "dates", len(poll.Dates))
	}()

	if principal.UserID == "" {
		err = ErrUnauthorized
		return
	}

	dates, vErr := validatePollInput(input)
	if vErr.HasErrors() {
		err = vErr
		return
	}

	poll = persistence.Poll{
		ID:        s.opts.idGenerator(),
		Title:     strings.TrimSpace(input.Title),
		OwnerID:   principal.UserID,
		Dates:     dates,
		HourStart: input.HourStart,
		HourEnd:   input.HourEnd,
		CreatedAt: s.opts.now(),
	}

	if err = s.polls.CreatePoll(ctx, poll); err != nil {
		err = mapRepoError(err)
		poll = persistence.Poll{}
		return
	}
	return
}

// GetPoll returns a poll by ID.
func (s *PollService) GetPoll(ctx context.Context, id string) (persistence.Poll, error) {
	poll, err := s.polls.GetPoll(ctx, id)
	if err != nil {
		return persistence.Poll{}, mapRepoError(err)
	}
	return poll, nil
}

// DeletePoll removes a poll and its slot facts. Only the owner may delete.
func (s *PollService) DeletePoll(ctx context.Context, principal Principal, id string) (err error) {
	if s == nil {
		return fmt.Errorf("PollService is nil")
	}

	logger := s.loggerWith(ctx, "DeletePoll", "user_id", principal.UserID, "poll_id", id)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to delete poll", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "poll deleted")
	}()

	var poll persistence.Poll
	poll, err = s.polls.GetPoll(ctx, id)
	if err != nil {
		err = mapRepoError(err)
		return
	}
	if poll.OwnerID != principal.UserID {
		err = ErrUnauthorized
		return
	}

	if err = s.polls.DeletePoll(ctx, id); err != nil {
		err = mapRepoError(err)
		return
	}

	s.opts.publish(ctx, logger, feed.PollKey(id), feed.PollDeleted, id, true, nil)
	return nil
}

func validatePollInput(input CreatePollInput) ([]string, *ValidationError) {
	vErr := &ValidationError{}

	title := strings.TrimSpace(input.Title)
	switch {
	case title == "":
		vErr.add("title", "title is required")
	case utf8.RuneCountInString(title) > maxTitleLength:
		vErr.add("title", fmt.Sprintf("title must be at most %d characters", maxTitleLength))
	}

	if input.HourStart < 0 || input.HourStart >= hoursPerDay {
		vErr.add("hour_start", "hour_start must be between 0 and 23")
	}
	if input.HourEnd <= input.HourStart || input.HourEnd > hoursPerDay {
		vErr.add("hour_end", "hour_end must be after hour_start and at most 24")
	}

	dates, dErr := normalizeDates(input)
	vErr.merge(dErr)
	return dates, vErr
}

// normalizeDates returns sorted unique dates from the explicit list or the
// inclusive range, optionally filtered by weekday.
func normalizeDates(input CreatePollInput) ([]string, *ValidationError) {
	vErr := &ValidationError{}
	var dates []string

	switch {
	case len(input.Dates) > 0:
		if input.DateStart != "" || input.DateEnd != "" {
			vErr.add("dates", "give either dates or a date range, not both")
			return nil, vErr
		}
		if len(input.Weekdays) > 0 {
			vErr.add("weekdays", "weekdays only apply to a date range")
			return nil, vErr
		}
		seen := make(map[string]struct{}, len(input.Dates))
		for _, raw := range input.Dates {
			day, err := time.Parse(dateLayout, strings.TrimSpace(raw))
			if err != nil {
				vErr.add("dates", fmt.Sprintf("invalid date %q", raw))
				return nil, vErr
			}
			date := day.Format(dateLayout)
			if _, dup := seen[date]; dup {
				continue
			}
			seen[date] = struct{}{}
			dates = append(dates, date)
		}
		sort.Strings(dates)
	case input.DateStart != "" && input.DateEnd != "":
		if _, err := time.Parse(dateLayout, input.DateStart); err != nil {
			vErr.add("date_start", "date_start must be YYYY-MM-DD")
		}
		if _, err := time.Parse(dateLayout, input.DateEnd); err != nil {
			vErr.add("date_end", "date_end must be YYYY-MM-DD")
		}
		weekdays, err := recurrence.ParseWeekdays(input.Weekdays)
		if err != nil {
			vErr.add("weekdays", "weekdays must be names such as mon or monday")
		}
		if vErr.HasErrors() {
			return nil, vErr
		}

		dates, err = recurrence.ExpandStrings(input.DateStart, input.DateEnd, weekdays, maxPollDates)
		switch {
		case errors.Is(err, recurrence.ErrInvalidWindow):
			vErr.add("date_end", "date_end must not be before date_start")
			return nil, vErr
		case errors.Is(err, recurrence.ErrTooManyDates):
			vErr.add("dates", fmt.Sprintf("a poll may span at most %d dates", maxPollDates))
			return nil, vErr
		case err != nil:
			vErr.add("dates", err.Error())
			return nil, vErr
		case len(dates) == 0:
			vErr.add("weekdays", "no date in the range falls on the selected weekdays")
			return nil, vErr
		}
	default:
		vErr.add("dates", "dates or date_start and date_end are required")
		return nil, vErr
	}

	if len(dates) > maxPollDates {
		vErr.add("dates", fmt.Sprintf("a poll may span at most %d dates", maxPollDates))
		return nil, vErr
	}
	return dates, vErr
}
