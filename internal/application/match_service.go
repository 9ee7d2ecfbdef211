package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/example/peer-scheduler/internal/content"
	"github.com/example/peer-scheduler/internal/feed"
	"github.com/example/peer-scheduler/internal/persistence"
)

const maxTopicLength = 64

// LobbyRepository captures the lobby operations needed by the matchmaker.
type LobbyRepository interface {
	EnqueueEntry(ctx context.Context, entry persistence.LobbyEntry) error
	GetEntry(ctx context.Context, id string) (persistence.LobbyEntry, error)
	ListWaitingCandidates(ctx context.Context, topic, excludeUserID string, now time.Time, limit int) ([]persistence.LobbyEntry, error)
	CompleteMatch(ctx context.Context, match persistence.Match, now time.Time) error
	RefreshEntry(ctx context.Context, id string, expiresAt, now time.Time) error
	DeleteWaitingEntry(ctx context.Context, id, userID string) error
	DeleteExpiredEntries(ctx context.Context, now time.Time) ([]persistence.LobbyEntry, error)
	CountWaiting(ctx context.Context, now time.Time) (int, error)
}

// SessionCreator persists demo sessions that bypass the lobby.
type SessionCreator interface {
	CreateSession(ctx context.Context, session persistence.Session) error
}

// MatchConfig tunes the matchmaker.
type MatchConfig struct {
	// LobbyTTL is the lease of a waiting entry; heartbeats extend it.
	LobbyTTL time.Duration
	// PromptsPerSession is the number of cards generated per session.
	PromptsPerSession int
	// MaxClaimAttempts bounds how many candidates a joiner tries to claim
	// before waiting itself.
	MaxClaimAttempts int
}

// DefaultMatchConfig returns the defaults used when a field is zero.
func DefaultMatchConfig() MatchConfig {
	return MatchConfig{
		LobbyTTL:          2 * time.Minute,
		PromptsPerSession: 5,
		MaxClaimAttempts:  3,
	}
}

// MatchService runs the lobby queue and the matchmaker.
type MatchService struct {
	lobby    LobbyRepository
	sessions SessionCreator
	content  content.Generator
	config   MatchConfig
	opts     serviceOptions
}

// NewMatchService constructs a matchmaker.
func NewMatchService(lobby LobbyRepository, sessions SessionCreator, generator content.Generator, config MatchConfig, opts ...Option) *MatchService {
	defaults := DefaultMatchConfig()
	if config.LobbyTTL <= 0 {
		config.LobbyTTL = defaults.LobbyTTL
	}
	if config.PromptsPerSession <= 0 {
		config.PromptsPerSession = defaults.PromptsPerSession
	}
	if config.MaxClaimAttempts <= 0 {
		config.MaxClaimAttempts = defaults.MaxClaimAttempts
	}
	return &MatchService{
		lobby:    lobby,
		sessions: sessions,
		content:  generator,
		config:   config,
		opts:     newServiceOptions(opts),
	}
}

func (s *MatchService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.opts.logger, "MatchService", operation, attrs...)
}

// NormalizeTopic lower-cases and trims a topic and checks its length.
func NormalizeTopic(topic string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(topic))
	if normalized == "" {
		return "", fieldError("topic", "topic is required")
	}
	if utf8.RuneCountInString(normalized) > maxTopicLength {
		return "", fieldError("topic", fmt.Sprintf("topic must be at most %d characters", maxTopicLength))
	}
	return normalized, nil
}

// Join pairs the principal with the oldest waiting entry on topic, or leaves
// the principal waiting. With demo set the lobby is skipped and the session
// partner is the simulated partner.
func (s *MatchService) Join(ctx context.Context, principal Principal, topic string, demo bool) (result JoinResult, err error) {
	if s == nil {
		err = fmt.Errorf("MatchService is nil")
		return
	}

	logger := s.loggerWith(ctx, "Join", "user_id", principal.UserID, "topic", topic, "demo", demo)
	defer func() {
		if err != nil {
			s.opts.metrics.LobbyJoin("error")
			logger.ErrorContext(ctx, "failed to join lobby", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "joined lobby",
			"matched", result.Matched,
			"lobby_id", result.EntryID,
			"session_id", result.SessionID,
		)
	}()

	if principal.UserID == "" || principal.UserID == persistence.SimulatedPartnerID {
		err = ErrUnauthorized
		return
	}
	topic, err = NormalizeTopic(topic)
	if err != nil {
		return
	}

	if demo {
		result, err = s.startDemo(ctx, principal, topic)
		if err == nil {
			s.opts.metrics.LobbyJoin("demo")
		}
		return
	}

	now := s.opts.now()
	var candidates []persistence.LobbyEntry
	candidates, err = s.lobby.ListWaitingCandidates(ctx, topic, principal.UserID, now, s.config.MaxClaimAttempts)
	if err != nil {
		err = mapRepoError(err)
		return
	}

	if len(candidates) > 0 {
		var prompts []persistence.Prompt
		prompts, err = s.prompts(ctx, topic)
		if err != nil {
			return
		}

		for _, candidate := range candidates {
			var matched bool
			result, matched, err = s.claim(ctx, logger, principal, candidate, prompts)
			if err != nil {
				return
			}
			if matched {
				s.opts.metrics.LobbyJoin("matched")
				return
			}
		}
	}

	entry := persistence.LobbyEntry{
		ID:        s.opts.idGenerator(),
		UserID:    principal.UserID,
		Topic:     topic,
		Status:    persistence.LobbyWaiting,
		CreatedAt: now,
		ExpiresAt: now.Add(s.config.LobbyTTL),
	}
	if err = s.lobby.EnqueueEntry(ctx, entry); err != nil {
		err = mapRepoError(err)
		return
	}

	s.opts.metrics.LobbyJoin("waiting")
	expiresAt := entry.ExpiresAt
	result = JoinResult{Matched: false, EntryID: entry.ID, ExpiresAt: &expiresAt}
	return
}

// claim tries to match the principal with one waiting candidate. It reports
// matched=false without error when another joiner claimed it first or its
// lease lapsed.
func (s *MatchService) claim(ctx context.Context, logger *slog.Logger, principal Principal, candidate persistence.LobbyEntry, prompts []persistence.Prompt) (JoinResult, bool, error) {
	now := s.opts.now()
	sessionID := s.opts.idGenerator()
	candidateID := candidate.UserID

	match := persistence.Match{
		ClaimedEntryID: candidate.ID,
		CallerEntry: persistence.LobbyEntry{
			ID:          s.opts.idGenerator(),
			UserID:      principal.UserID,
			Topic:       candidate.Topic,
			Status:      persistence.LobbyMatched,
			MatchedWith: &candidateID,
			SessionID:   &sessionID,
			CreatedAt:   now,
			ExpiresAt:   now,
		},
		Session: persistence.Session{
			ID:           sessionID,
			ParticipantA: candidate.UserID,
			ParticipantB: principal.UserID,
			Topic:        candidate.Topic,
			Prompts:      prompts,
			Status:       persistence.SessionActive,
			CreatedAt:    now,
		},
	}

	if err := s.lobby.CompleteMatch(ctx, match, now); err != nil {
		if errors.Is(err, persistence.ErrConflict) {
			s.opts.metrics.ClaimConflict()
			logger.InfoContext(ctx, "lost claim on waiting entry", "candidate_id", candidate.ID)
			return JoinResult{}, false, nil
		}
		return JoinResult{}, false, mapRepoError(err)
	}

	s.opts.publish(ctx, logger, feed.LobbyKey(candidate.ID), feed.LobbyMatched, candidate.ID, false, MatchPayload{
		EntryID:   candidate.ID,
		SessionID: sessionID,
		PartnerID: principal.UserID,
		Prompts:   prompts,
	})

	return JoinResult{
		Matched:   true,
		EntryID:   match.CallerEntry.ID,
		SessionID: sessionID,
		PartnerID: candidate.UserID,
		Prompts:   prompts,
	}, true, nil
}

func (s *MatchService) startDemo(ctx context.Context, principal Principal, topic string) (JoinResult, error) {
	prompts, err := s.prompts(ctx, topic)
	if err != nil {
		return JoinResult{}, err
	}

	session := persistence.Session{
		ID:           s.opts.idGenerator(),
		ParticipantA: principal.UserID,
		ParticipantB: persistence.SimulatedPartnerID,
		Topic:        topic,
		Prompts:      prompts,
		Status:       persistence.SessionActive,
		CreatedAt:    s.opts.now(),
	}
	if err := s.sessions.CreateSession(ctx, session); err != nil {
		return JoinResult{}, mapRepoError(err)
	}

	return JoinResult{
		Matched:   true,
		SessionID: session.ID,
		PartnerID: persistence.SimulatedPartnerID,
		Prompts:   prompts,
	}, nil
}

func (s *MatchService) prompts(ctx context.Context, topic string) ([]persistence.Prompt, error) {
	if s.content == nil {
		return nil, fmt.Errorf("content generator not configured")
	}
	prompts, err := s.content.GeneratePrompts(ctx, topic, s.config.PromptsPerSession)
	if err != nil {
		return nil, fmt.Errorf("generate prompts for %q: %w", topic, err)
	}
	if len(prompts) == 0 {
		return nil, fmt.Errorf("generate prompts for %q: %w", topic, content.ErrNoPrompts)
	}
	return prompts, nil
}

// GetEntry returns one of the principal's lobby entries.
func (s *MatchService) GetEntry(ctx context.Context, principal Principal, id string) (persistence.LobbyEntry, error) {
	entry, err := s.lobby.GetEntry(ctx, id)
	if err != nil {
		return persistence.LobbyEntry{}, mapRepoError(err)
	}
	if entry.UserID != principal.UserID {
		return persistence.LobbyEntry{}, ErrUnauthorized
	}
	return entry, nil
}

// Heartbeat extends the lease of a waiting entry. A matched entry is
// returned unchanged so a polling client learns about its session; a
// vanished entry yields ErrEntryExpired.
func (s *MatchService) Heartbeat(ctx context.Context, principal Principal, id string) (entry persistence.LobbyEntry, err error) {
	logger := s.loggerWith(ctx, "Heartbeat", "user_id", principal.UserID, "lobby_id", id)
	defer func() {
		if err != nil {
			logger.WarnContext(ctx, "heartbeat rejected", "error", err, "error_kind", ErrorKind(err))
		}
	}()

	entry, err = s.GetEntry(ctx, principal, id)
	if errors.Is(err, ErrNotFound) {
		// Reaped or cancelled.
		err = ErrEntryExpired
		return
	}
	if err != nil {
		return
	}
	if entry.Status == persistence.LobbyMatched {
		return
	}

	now := s.opts.now()
	expiresAt := now.Add(s.config.LobbyTTL)
	err = s.lobby.RefreshEntry(ctx, id, expiresAt, now)
	switch {
	case err == nil:
		entry.ExpiresAt = expiresAt
		return
	case errors.Is(err, persistence.ErrConflict):
		// Matched in the meantime, or the lease already lapsed.
		var current persistence.LobbyEntry
		current, err = s.lobby.GetEntry(ctx, id)
		if err == nil && current.Status == persistence.LobbyMatched {
			entry = current
			return
		}
		entry = persistence.LobbyEntry{}
		err = ErrEntryExpired
		return
	case errors.Is(err, persistence.ErrNotFound):
		entry = persistence.LobbyEntry{}
		err = ErrEntryExpired
		return
	default:
		entry = persistence.LobbyEntry{}
		err = mapRepoError(err)
		return
	}
}

// Cancel deletes the principal's waiting entry. Cancelling an entry that was
// matched in the meantime returns ErrConflict; cancelling a missing one is a
// no-op.
func (s *MatchService) Cancel(ctx context.Context, principal Principal, id string) (err error) {
	logger := s.loggerWith(ctx, "Cancel", "user_id", principal.UserID, "lobby_id", id)
	defer func() {
		if err != nil {
			logger.WarnContext(ctx, "failed to cancel lobby entry", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "lobby entry cancelled")
	}()

	var entry persistence.LobbyEntry
	entry, err = s.GetEntry(ctx, principal, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return
	}
	if entry.Status == persistence.LobbyMatched {
		return ErrConflict
	}

	err = s.lobby.DeleteWaitingEntry(ctx, id, principal.UserID)
	if errors.Is(err, persistence.ErrNotFound) {
		// Claimed or reaped between the read and the delete.
		if current, getErr := s.lobby.GetEntry(ctx, id); getErr == nil && current.Status == persistence.LobbyMatched {
			return ErrConflict
		}
		return nil
	}
	if err != nil {
		return mapRepoError(err)
	}

	s.opts.publish(ctx, logger, feed.LobbyKey(id), feed.LobbyCancelled, id, true, LobbyPayload{
		EntryID: id,
		UserID:  entry.UserID,
		Topic:   entry.Topic,
	})
	return nil
}

// Reap deletes waiting entries whose lease lapsed and tells their owners.
func (s *MatchService) Reap(ctx context.Context) (int, error) {
	logger := s.loggerWith(ctx, "Reap")

	now := s.opts.now()
	expired, err := s.lobby.DeleteExpiredEntries(ctx, now)
	if err != nil {
		err = mapRepoError(err)
		logger.ErrorContext(ctx, "failed to reap lobby", "error", err, "error_kind", ErrorKind(err))
		return 0, err
	}

	for _, entry := range expired {
		s.opts.publish(ctx, logger, feed.LobbyKey(entry.ID), feed.LobbyExpired, entry.ID, true, LobbyPayload{
			EntryID: entry.ID,
			UserID:  entry.UserID,
			Topic:   entry.Topic,
		})
	}

	waiting, err := s.lobby.CountWaiting(ctx, now)
	if err != nil {
		logger.WarnContext(ctx, "failed to count waiting entries", "error", err)
		waiting = -1
	}
	s.opts.metrics.LobbyReaped(len(expired), waiting)

	if len(expired) > 0 {
		logger.InfoContext(ctx, "reaped expired lobby entries", "expired", len(expired), "waiting", waiting)
	}
	return len(expired), nil
}

// RunReaper calls Reap every interval until ctx is done.
func (s *MatchService) RunReaper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = s.Reap(ctx)
		}
	}
}
