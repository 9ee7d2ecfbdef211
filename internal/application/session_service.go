package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/example/peer-scheduler/internal/cardflow"
	"github.com/example/peer-scheduler/internal/content"
	"github.com/example/peer-scheduler/internal/feed"
	"github.com/example/peer-scheduler/internal/persistence"
)

const (
	maxChatLength = 1000
	sparkTimeout  = 15 * time.Second
)

// SessionRepository captures the session operations needed by the service.
type SessionRepository interface {
	GetSession(ctx context.Context, id string) (persistence.Session, error)
	CompleteSession(ctx context.Context, id string, completedAt time.Time) (persistence.Session, bool, error)
	InsertResponse(ctx context.Context, response persistence.CardResponse) (bool, error)
	ListResponses(ctx context.Context, sessionID string) ([]persistence.CardResponse, error)
}

// CompletionRecorder receives completed sessions, e.g. for streaks and points.
type CompletionRecorder interface {
	RecordCompletion(ctx context.Context, session persistence.Session, completedBy string) error
}

// CompletionRecorderFunc adapts a function to CompletionRecorder.
type CompletionRecorderFunc func(ctx context.Context, session persistence.Session, completedBy string) error

// RecordCompletion calls f.
func (f CompletionRecorderFunc) RecordCompletion(ctx context.Context, session persistence.Session, completedBy string) error {
	return f(ctx, session, completedBy)
}

// SessionService runs the card flow of matched sessions.
type SessionService struct {
	sessions SessionRepository
	content  content.Generator
	partner  PartnerStrategy
	recorder CompletionRecorder
	opts     serviceOptions

	sparked sync.Map
	sparks  sync.WaitGroup
}

// NewSessionService constructs a session service. generator, partner and
// recorder may be nil: sparks are skipped, nobody answers for the simulated
// partner, and completions are not forwarded.
func NewSessionService(sessions SessionRepository, generator content.Generator, partner PartnerStrategy, recorder CompletionRecorder, opts ...Option) *SessionService {
	if partner == nil {
		partner = NoPartner{}
	}
	return &SessionService{
		sessions: sessions,
		content:  generator,
		partner:  partner,
		recorder: recorder,
		opts:     newServiceOptions(opts),
	}
}

func (s *SessionService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.opts.logger, "SessionService", operation, attrs...)
}

func (s *SessionService) load(ctx context.Context, userID, id string) (persistence.Session, *cardflow.Flow, error) {
	session, err := s.sessions.GetSession(ctx, id)
	if err != nil {
		return persistence.Session{}, nil, mapRepoError(err)
	}
	responses, err := s.sessions.ListResponses(ctx, id)
	if err != nil {
		return persistence.Session{}, nil, mapRepoError(err)
	}
	flow, err := cardflow.New(session, userID, responses)
	if errors.Is(err, cardflow.ErrNotParticipant) {
		return persistence.Session{}, nil, ErrUnauthorized
	}
	if err != nil {
		return persistence.Session{}, nil, err
	}
	return session, flow, nil
}

// Authorize checks that the principal participates in the session.
func (s *SessionService) Authorize(ctx context.Context, principal Principal, id string) error {
	session, err := s.sessions.GetSession(ctx, id)
	if err != nil {
		return mapRepoError(err)
	}
	if !isParticipant(session, principal.UserID) {
		return ErrUnauthorized
	}
	return nil
}

// GetSessionView returns the principal's view of the session. Partner
// answers appear only on revealed cards.
func (s *SessionService) GetSessionView(ctx context.Context, principal Principal, id string) (SessionView, error) {
	session, flow, err := s.load(ctx, principal.UserID, id)
	if err != nil {
		return SessionView{}, err
	}
	return SessionView{
		SessionID:   session.ID,
		Topic:       session.Topic,
		Status:      session.Status,
		Simulated:   flow.Partner() == persistence.SimulatedPartnerID,
		CreatedAt:   session.CreatedAt,
		CompletedAt: session.CompletedAt,
		View:        flow.View(),
	}, nil
}

// SubmitAnswer records the principal's answer to a card. Resubmitting the
// same option is accepted as a no-op; a different option is rejected.
func (s *SessionService) SubmitAnswer(ctx context.Context, principal Principal, id string, card int, option string) (AnswerResult, error) {
	if principal.UserID == "" || principal.UserID == persistence.SimulatedPartnerID {
		return AnswerResult{}, ErrUnauthorized
	}

	result, session, err := s.answer(ctx, principal.UserID, id, card, option)
	if err != nil || !result.Accepted {
		return result, err
	}

	s.partner.AfterAnswer(ctx, session, card, s.answerAsPartner)
	return result, nil
}

func (s *SessionService) answerAsPartner(ctx context.Context, id string, card int, option string) error {
	_, _, err := s.answer(ctx, persistence.SimulatedPartnerID, id, card, option)
	return err
}

func (s *SessionService) answer(ctx context.Context, userID, id string, card int, option string) (result AnswerResult, session persistence.Session, err error) {
	if s == nil {
		err = fmt.Errorf("SessionService is nil")
		return
	}

	logger := s.loggerWith(ctx, "SubmitAnswer", "user_id", userID, "session_id", id, "card_index", card)
	defer func() {
		if err != nil {
			s.opts.metrics.CardAnswer("error")
			logger.ErrorContext(ctx, "failed to submit answer", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.DebugContext(ctx, "answer submitted", "accepted", result.Accepted, "revealed", result.Revealed)
	}()

	var flow *cardflow.Flow
	session, flow, err = s.load(ctx, userID, id)
	if err != nil {
		return
	}
	if session.Status == persistence.SessionCompleted {
		err = ErrSessionClosed
		return
	}

	if vErr := flow.Validate(card, option); vErr != nil {
		switch {
		case errors.Is(vErr, cardflow.ErrAlreadyAnswered):
			if previous, _ := flow.MyAnswer(card); previous != option {
				err = ErrAlreadyAnswered
				return
			}
			s.opts.metrics.CardAnswer("duplicate")
			result = AnswerResult{Accepted: false, Revealed: flow.Revealed(card)}
		case errors.Is(vErr, cardflow.ErrCardOutOfRange):
			err = fieldError("card_index", fmt.Sprintf("card_index must be between 0 and %d", flow.Len()-1))
		case errors.Is(vErr, cardflow.ErrInvalidOption):
			err = fieldError("option", "option is not offered by this card")
		case errors.Is(vErr, cardflow.ErrWrongPhase):
			err = ErrSessionClosed
		default:
			err = vErr
		}
		return
	}

	response := persistence.CardResponse{
		SessionID:      id,
		UserID:         userID,
		CardIndex:      card,
		SelectedOption: option,
		CreatedAt:      s.opts.now(),
	}
	var inserted bool
	inserted, err = s.sessions.InsertResponse(ctx, response)
	if err != nil {
		err = mapRepoError(err)
		return
	}
	if !inserted {
		s.opts.metrics.CardAnswer("duplicate")
		result = AnswerResult{Accepted: false, Revealed: flow.Revealed(card)}
		return
	}
	s.opts.metrics.CardAnswer("accepted")

	s.opts.publish(ctx, logger, feed.SessionKey(id), feed.CardAnswered, fmt.Sprintf("%d/%s", card, userID), false, AnswerPayload{
		CardIndex: card,
		UserID:    userID,
	})

	// Re-read so two answers stored concurrently still reveal the card.
	var fresh *cardflow.Flow
	_, fresh, err = s.load(ctx, userID, id)
	if err != nil {
		return
	}
	result = AnswerResult{Accepted: true, Revealed: fresh.Revealed(card)}
	if !result.Revealed {
		return
	}

	mine, _ := fresh.MyAnswer(card)
	theirs, _ := fresh.PartnerAnswer(card)
	answers := map[string]string{userID: mine, fresh.Partner(): theirs}
	s.opts.publish(ctx, logger, feed.SessionKey(id), feed.CardRevealed, strconv.Itoa(card), false, RevealPayload{
		CardIndex: card,
		Answers:   answers,
	})
	s.requestSpark(ctx, logger, session, card, answers[session.ParticipantA], answers[session.ParticipantB])
	return
}

// requestSpark asks for a spark in the background, at most one in flight per
// card. Failures are logged and counted; the card flow never waits for it.
func (s *SessionService) requestSpark(ctx context.Context, logger *slog.Logger, session persistence.Session, card int, answerA, answerB string) {
	if s.content == nil {
		return
	}
	key := fmt.Sprintf("%s/%d", session.ID, card)
	if _, started := s.sparked.LoadOrStore(key, struct{}{}); started {
		return
	}

	question := session.Prompts[card].Question
	sparkCtx := context.WithoutCancel(ctx)

	s.sparks.Add(1)
	go func() {
		defer s.sparks.Done()
		defer s.sparked.Delete(key)

		ctx, cancel := context.WithTimeout(sparkCtx, sparkTimeout)
		defer cancel()

		text, err := s.content.GenerateSpark(ctx, question, answerA, answerB)
		if err != nil {
			s.opts.metrics.SparkFailed()
			logger.WarnContext(ctx, "spark unavailable", "error", err)
			return
		}
		s.opts.publish(ctx, logger, feed.SessionKey(session.ID), feed.CardSpark, strconv.Itoa(card), false, SparkPayload{
			CardIndex: card,
			Text:      text,
		})
	}()
}

// SendChat relays a chat message to the session feed. Messages are not stored.
func (s *SessionService) SendChat(ctx context.Context, principal Principal, id, text string) (msg ChatPayload, err error) {
	logger := s.loggerWith(ctx, "SendChat", "user_id", principal.UserID, "session_id", id)
	defer func() {
		if err != nil {
			logger.WarnContext(ctx, "chat message rejected", "error", err, "error_kind", ErrorKind(err))
		}
	}()

	text = strings.TrimSpace(text)
	switch {
	case text == "":
		err = fieldError("text", "text is required")
		return
	case utf8.RuneCountInString(text) > maxChatLength:
		err = fieldError("text", fmt.Sprintf("text must be at most %d characters", maxChatLength))
		return
	}

	var session persistence.Session
	session, err = s.sessions.GetSession(ctx, id)
	if err != nil {
		err = mapRepoError(err)
		return
	}
	if !isParticipant(session, principal.UserID) {
		err = ErrUnauthorized
		return
	}
	if session.Status == persistence.SessionCompleted {
		err = ErrSessionClosed
		return
	}

	msg = ChatPayload{
		ID:       s.opts.idGenerator(),
		SenderID: principal.UserID,
		Text:     text,
		SentAt:   s.opts.now(),
	}
	s.opts.publish(ctx, logger, feed.SessionKey(id), feed.ChatMessage, msg.ID, false, msg)
	return
}

// EndSession completes the session. Ending a completed session returns it
// unchanged. Only the call that performs the transition records the
// completion and publishes it.
func (s *SessionService) EndSession(ctx context.Context, principal Principal, id string) (session persistence.Session, err error) {
	logger := s.loggerWith(ctx, "EndSession", "user_id", principal.UserID, "session_id", id)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to end session", "error", err, "error_kind", ErrorKind(err))
		}
	}()

	session, err = s.sessions.GetSession(ctx, id)
	if err != nil {
		err = mapRepoError(err)
		return
	}
	if !isParticipant(session, principal.UserID) {
		session = persistence.Session{}
		err = ErrUnauthorized
		return
	}
	if session.Status == persistence.SessionCompleted {
		return
	}

	var transitioned bool
	session, transitioned, err = s.sessions.CompleteSession(ctx, id, s.opts.now())
	if err != nil {
		err = mapRepoError(err)
		return
	}
	if !transitioned {
		logger.DebugContext(ctx, "session already completed by partner")
		return
	}
	s.opts.metrics.SessionCompleted()
	logger.InfoContext(ctx, "session completed")

	if s.recorder != nil {
		if recErr := s.recorder.RecordCompletion(ctx, session, principal.UserID); recErr != nil {
			logger.WarnContext(ctx, "failed to record completion", "error", recErr)
		}
	}

	completedAt := s.opts.now()
	if session.CompletedAt != nil {
		completedAt = *session.CompletedAt
	}
	s.opts.publish(ctx, logger, feed.SessionKey(id), feed.SessionCompleted, id, false, CompletionPayload{
		SessionID:   id,
		CompletedBy: principal.UserID,
		CompletedAt: completedAt,
	})
	return
}

// Close stops the partner strategy and waits for pending sparks.
func (s *SessionService) Close() {
	s.partner.Stop()
	s.sparks.Wait()
}

func isParticipant(session persistence.Session, userID string) bool {
	return userID != "" && (session.ParticipantA == userID || session.ParticipantB == userID)
}
