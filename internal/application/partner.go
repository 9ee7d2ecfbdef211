package application

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/example/peer-scheduler/internal/persistence"
)

// AnswerFunc records an answer on behalf of the simulated partner.
type AnswerFunc func(ctx context.Context, sessionID string, card int, option string) error

// PartnerStrategy decides how a session's non-human participant reacts to
// human answers. Demo and real sessions share the same answer path; only the
// strategy differs.
type PartnerStrategy interface {
	// AfterAnswer is called once a human participant's answer was stored.
	AfterAnswer(ctx context.Context, session persistence.Session, card int, answer AnswerFunc)
	// Stop cancels pending replies and waits for running ones.
	Stop()
}

// NoPartner never answers. It is the strategy for deployments without demo
// sessions.
type NoPartner struct{}

// AfterAnswer does nothing.
func (NoPartner) AfterAnswer(context.Context, persistence.Session, int, AnswerFunc) {}

// Stop does nothing.
func (NoPartner) Stop() {}

// SimulatedPartner answers the same card as the human after a random delay,
// picking a random option.
type SimulatedPartner struct {
	minDelay time.Duration
	maxDelay time.Duration
	intN     func(n int) int
	int64N   func(n int64) int64
	timeout  time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[uint64]*time.Timer
	nextID  uint64
	stopped bool
	running sync.WaitGroup
}

// PartnerOption configures a SimulatedPartner.
type PartnerOption func(*SimulatedPartner)

// WithPartnerRandom replaces the random sources, for deterministic tests.
func WithPartnerRandom(intN func(int) int, int64N func(int64) int64) PartnerOption {
	return func(p *SimulatedPartner) {
		if intN != nil {
			p.intN = intN
		}
		if int64N != nil {
			p.int64N = int64N
		}
	}
}

// WithPartnerLogger sets the logger.
func WithPartnerLogger(logger *slog.Logger) PartnerOption {
	return func(p *SimulatedPartner) {
		p.logger = logger
	}
}

// NewSimulatedPartner replies after a delay in [minDelay, maxDelay].
func NewSimulatedPartner(minDelay, maxDelay time.Duration, opts ...PartnerOption) *SimulatedPartner {
	if minDelay < 0 {
		minDelay = 0
	}
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	p := &SimulatedPartner{
		minDelay: minDelay,
		maxDelay: maxDelay,
		intN:     rand.IntN,
		int64N:   rand.Int64N,
		timeout:  10 * time.Second,
		pending:  make(map[uint64]*time.Timer),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = defaultLogger(p.logger).With("component", "simulated_partner")
	return p
}

// AfterAnswer schedules a reply when the session's other participant is the
// simulated partner.
func (p *SimulatedPartner) AfterAnswer(ctx context.Context, session persistence.Session, card int, answer AnswerFunc) {
	if session.ParticipantA != persistence.SimulatedPartnerID && session.ParticipantB != persistence.SimulatedPartnerID {
		return
	}
	if card < 0 || card >= len(session.Prompts) || len(session.Prompts[card].Options) == 0 {
		return
	}

	options := session.Prompts[card].Options
	option := options[p.intN(len(options))]
	delay := p.delay()
	replyCtx := context.WithoutCancel(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}

	id := p.nextID
	p.nextID++
	p.running.Add(1)
	p.pending[id] = time.AfterFunc(delay, func() {
		defer p.running.Done()

		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()

		ctx, cancel := context.WithTimeout(replyCtx, p.timeout)
		defer cancel()
		if err := answer(ctx, session.ID, card, option); err != nil {
			p.logger.WarnContext(ctx, "simulated answer failed",
				"session_id", session.ID,
				"card_index", card,
				"error", err,
			)
		}
	})
}

func (p *SimulatedPartner) delay() time.Duration {
	spread := p.maxDelay - p.minDelay
	if spread <= 0 {
		return p.minDelay
	}
	return p.minDelay + time.Duration(p.int64N(int64(spread)+1))
}

// Pending reports how many replies are scheduled and not yet started.
func (p *SimulatedPartner) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Stop cancels scheduled replies and waits for running ones. Later calls to
// AfterAnswer are ignored.
func (p *SimulatedPartner) Stop() {
	p.mu.Lock()
	p.stopped = true
	for id, timer := range p.pending {
		if timer.Stop() {
			p.running.Done()
		}
		delete(p.pending, id)
	}
	p.mu.Unlock()

	p.running.Wait()
}
