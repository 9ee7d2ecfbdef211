package application

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/example/peer-scheduler/internal/feed"
	"github.com/example/peer-scheduler/internal/persistence"
	"github.com/example/peer-scheduler/internal/testfixtures"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []feed.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev feed.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) ofType(eventType string) []feed.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []feed.Event
	for _, ev := range p.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

type staticGenerator struct {
	mu          sync.Mutex
	prompts     []persistence.Prompt
	promptErr   error
	sparkErr    error
	promptCalls int
	sparkCalls  int
}

func (g *staticGenerator) GeneratePrompts(ctx context.Context, topic string, count int) ([]persistence.Prompt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.promptCalls++
	if g.promptErr != nil {
		return nil, g.promptErr
	}
	return g.prompts, nil
}

func (g *staticGenerator) GenerateSpark(ctx context.Context, question, answerA, answerB string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sparkCalls++
	if g.sparkErr != nil {
		return "", g.sparkErr
	}
	return answerA + " / " + answerB, nil
}

func (g *staticGenerator) calls() (prompts, sparks int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.promptCalls, g.sparkCalls
}

// testEnv wires services against a migrated SQLite file.
type testEnv struct {
	store     *testfixtures.SQLiteHarness
	clock     *testfixtures.Clock
	ids       *testfixtures.IDGenerator
	publisher *recordingPublisher
	generator *staticGenerator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return &testEnv{
		store:     testfixtures.NewSQLiteHarness(t),
		clock:     testfixtures.NewClock(testfixtures.ReferenceTime()),
		ids:       testfixtures.NewIDGenerator("id"),
		publisher: &recordingPublisher{},
		generator: &staticGenerator{prompts: testfixtures.DefaultPrompts()},
	}
}

func (e *testEnv) options() []Option {
	return []Option{
		WithIDGenerator(e.ids.NextFunc()),
		WithClock(e.clock.NowFunc()),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithPublisher(e.publisher),
	}
}

func (e *testEnv) pollService() *PollService {
	return NewPollService(e.store, e.options()...)
}

func (e *testEnv) availabilityService() *AvailabilityService {
	return NewAvailabilityService(e.store, e.store, NewIdentityService(e.store, e.options()...), e.options()...)
}

func (e *testEnv) matchService(config MatchConfig) *MatchService {
	return NewMatchService(e.store, e.store, e.generator, config, e.options()...)
}

func (e *testEnv) sessionService(partner PartnerStrategy, recorder CompletionRecorder) *SessionService {
	svc := NewSessionService(e.store, e.generator, partner, recorder, e.options()...)
	return svc
}

func principal(id string) Principal {
	return Principal{UserID: id}
}

func requireValidationField(t *testing.T, err error, field string) {
	t.Helper()
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, ok := vErr.FieldErrors[field]; !ok {
		t.Fatalf("expected field %q in %v", field, vErr.FieldErrors)
	}
}

func eventually(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}
