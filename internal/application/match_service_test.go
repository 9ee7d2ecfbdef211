package application

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/example/peer-scheduler/internal/feed"
	"github.com/example/peer-scheduler/internal/persistence"
	"github.com/example/peer-scheduler/internal/testfixtures"
)

func TestMatchService_JoinScenario(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	svc := env.matchService(MatchConfig{})

	first, err := svc.Join(ctx, principal("alice"), "friendship", false)
	if err != nil {
		t.Fatalf("alice join: %v", err)
	}
	if first.Matched || first.EntryID == "" || first.ExpiresAt == nil {
		t.Fatalf("expected alice to wait, got %+v", first)
	}
	if want := testfixtures.ReferenceTime().Add(2 * time.Minute); !first.ExpiresAt.Equal(want) {
		t.Fatalf("expected lease until %v, got %v", want, first.ExpiresAt)
	}

	env.clock.Advance(time.Second)
	second, err := svc.Join(ctx, principal("bob"), "  Friendship ", false)
	if err != nil {
		t.Fatalf("bob join: %v", err)
	}
	if !second.Matched || second.PartnerID != "alice" || second.SessionID == "" {
		t.Fatalf("expected bob to match alice, got %+v", second)
	}

	matched := env.publisher.ofType(feed.LobbyMatched)
	if len(matched) != 1 || matched[0].Key != feed.LobbyKey(first.EntryID) {
		t.Fatalf("expected one lobby.matched on alice's entry, got %+v", matched)
	}
	payload, err := feed.Decode[MatchPayload](matched[0])
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.SessionID != second.SessionID || payload.PartnerID != "bob" {
		t.Fatalf("unexpected match payload: %+v", payload)
	}
	if !reflect.DeepEqual(payload.Prompts, second.Prompts) {
		t.Fatalf("expected identical prompts, got %v and %v", payload.Prompts, second.Prompts)
	}

	entry, err := svc.GetEntry(ctx, principal("alice"), first.EntryID)
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	if entry.Status != persistence.LobbyMatched || entry.SessionID == nil || *entry.SessionID != second.SessionID {
		t.Fatalf("expected alice's entry matched into the session, got %+v", entry)
	}
	if _, err := svc.GetEntry(ctx, principal("bob"), first.EntryID); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected other users to be rejected, got %v", err)
	}

	session, err := env.store.GetSession(ctx, second.SessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if session.ParticipantA != "alice" || session.ParticipantB != "bob" || session.Topic != "friendship" {
		t.Fatalf("unexpected session: %+v", session)
	}
}

func TestMatchService_RejoinKeepsOneWaitingEntry(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	svc := env.matchService(MatchConfig{})

	for i := 0; i < 3; i++ {
		env.clock.Advance(time.Second)
		result, err := svc.Join(ctx, principal("alice"), "career", false)
		if err != nil || result.Matched {
			t.Fatalf("join %d: %+v, %v", i, result, err)
		}
	}

	waiting, err := env.store.CountWaiting(ctx, env.clock.Now())
	if err != nil {
		t.Fatalf("count waiting: %v", err)
	}
	if waiting != 1 {
		t.Fatalf("expected exactly one waiting entry, got %d", waiting)
	}
}

func TestMatchService_TopicsDoNotMix(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	svc := env.matchService(MatchConfig{})

	if _, err := svc.Join(ctx, principal("alice"), "career", false); err != nil {
		t.Fatalf("join: %v", err)
	}
	result, err := svc.Join(ctx, principal("bob"), "wellbeing", false)
	if err != nil || result.Matched {
		t.Fatalf("expected bob to wait on another topic, got %+v, %v", result, err)
	}

	if _, err := svc.Join(ctx, principal("carol"), "", false); err == nil {
		t.Fatalf("expected empty topic to be rejected")
	}
	if _, err := svc.Join(ctx, principal(persistence.SimulatedPartnerID), "career", false); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected reserved identity to be rejected, got %v", err)
	}
}

func TestMatchService_DemoSkipsTheLobby(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	svc := env.matchService(MatchConfig{})

	if _, err := svc.Join(ctx, principal("bob"), "friendship", false); err != nil {
		t.Fatalf("bob join: %v", err)
	}

	result, err := svc.Join(ctx, principal("alice"), "friendship", true)
	if err != nil {
		t.Fatalf("demo join: %v", err)
	}
	if !result.Matched || result.PartnerID != persistence.SimulatedPartnerID || result.EntryID != "" {
		t.Fatalf("unexpected demo result: %+v", result)
	}

	session, err := env.store.GetSession(ctx, result.SessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if session.ParticipantB != persistence.SimulatedPartnerID {
		t.Fatalf("expected simulated partner, got %+v", session)
	}

	waiting, _ := env.store.CountWaiting(ctx, env.clock.Now())
	if waiting != 1 {
		t.Fatalf("expected bob to keep waiting, got %d waiting", waiting)
	}
}

func TestMatchService_LeasesExpire(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	svc := env.matchService(MatchConfig{LobbyTTL: time.Minute})

	stale, err := svc.Join(ctx, principal("alice"), "friendship", false)
	if err != nil {
		t.Fatalf("alice join: %v", err)
	}

	env.clock.Advance(2 * time.Minute)
	result, err := svc.Join(ctx, principal("bob"), "friendship", false)
	if err != nil {
		t.Fatalf("bob join: %v", err)
	}
	if result.Matched {
		t.Fatalf("expected expired entry to be skipped, got %+v", result)
	}

	if _, err := svc.Heartbeat(ctx, principal("alice"), stale.EntryID); !errors.Is(err, ErrEntryExpired) {
		t.Fatalf("expected ErrEntryExpired, got %v", err)
	}

	reaped, err := svc.Reap(ctx)
	if err != nil {
		t.Fatalf("reap: %v", err)
	}
	if reaped != 1 {
		t.Fatalf("expected one reaped entry, got %d", reaped)
	}
	expired := env.publisher.ofType(feed.LobbyExpired)
	if len(expired) != 1 || expired[0].ID != stale.EntryID || !expired[0].Deleted {
		t.Fatalf("expected lobby.expired for alice, got %+v", expired)
	}

	if _, err := svc.Heartbeat(ctx, principal("alice"), stale.EntryID); !errors.Is(err, ErrEntryExpired) {
		t.Fatalf("expected ErrEntryExpired after reap, got %v", err)
	}
}

func TestMatchService_HeartbeatExtendsLease(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	svc := env.matchService(MatchConfig{LobbyTTL: time.Minute})

	waiting, err := svc.Join(ctx, principal("alice"), "friendship", false)
	if err != nil {
		t.Fatalf("join: %v", err)
	}

	env.clock.Advance(45 * time.Second)
	entry, err := svc.Heartbeat(ctx, principal("alice"), waiting.EntryID)
	if err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if want := env.clock.Now().Add(time.Minute); !entry.ExpiresAt.Equal(want) {
		t.Fatalf("expected lease until %v, got %v", want, entry.ExpiresAt)
	}

	env.clock.Advance(45 * time.Second)
	result, err := svc.Join(ctx, principal("bob"), "friendship", false)
	if err != nil || !result.Matched {
		t.Fatalf("expected bob to match the refreshed entry, got %+v, %v", result, err)
	}

	entry, err = svc.Heartbeat(ctx, principal("alice"), waiting.EntryID)
	if err != nil || entry.Status != persistence.LobbyMatched {
		t.Fatalf("expected heartbeat to report the match, got %+v, %v", entry, err)
	}
}

func TestMatchService_Cancel(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	svc := env.matchService(MatchConfig{})

	waiting, err := svc.Join(ctx, principal("alice"), "friendship", false)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := svc.Cancel(ctx, principal("bob"), waiting.EntryID); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := svc.Cancel(ctx, principal("alice"), waiting.EntryID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := svc.Cancel(ctx, principal("alice"), waiting.EntryID); err != nil {
		t.Fatalf("expected repeated cancel to be a no-op, got %v", err)
	}
	if got := len(env.publisher.ofType(feed.LobbyCancelled)); got != 1 {
		t.Fatalf("expected one lobby.cancelled event, got %d", got)
	}

	env.clock.Advance(time.Second)
	result, err := svc.Join(ctx, principal("bob"), "friendship", false)
	if err != nil || result.Matched {
		t.Fatalf("expected bob to wait after alice cancelled, got %+v, %v", result, err)
	}

	env.clock.Advance(time.Second)
	if _, err := svc.Join(ctx, principal("carol"), "friendship", false); err != nil {
		t.Fatalf("carol join: %v", err)
	}
	if err := svc.Cancel(ctx, principal("bob"), result.EntryID); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict cancelling a matched entry, got %v", err)
	}
}

func TestMatchService_ConcurrentJoinsClaimOnce(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	svc := env.matchService(MatchConfig{})

	if _, err := svc.Join(ctx, principal("alice"), "friendship", false); err != nil {
		t.Fatalf("alice join: %v", err)
	}
	env.clock.Advance(time.Second)

	joiners := []string{"bob", "carol", "dave", "erin"}
	results := make([]JoinResult, len(joiners))
	errs := make([]error, len(joiners))

	var wg sync.WaitGroup
	for i, user := range joiners {
		wg.Add(1)
		go func(i int, user string) {
			defer wg.Done()
			results[i], errs[i] = svc.Join(ctx, principal(user), "friendship", false)
		}(i, user)
	}
	wg.Wait()

	partners := make(map[string]int)
	for i, result := range results {
		if errs[i] != nil {
			t.Fatalf("join %s: %v", joiners[i], errs[i])
		}
		if result.Matched {
			partners[result.PartnerID]++
		}
	}
	if partners["alice"] != 1 {
		t.Fatalf("expected alice to be claimed exactly once, got %v", partners)
	}
	for partner, n := range partners {
		if n != 1 {
			t.Fatalf("entry of %s claimed %d times", partner, n)
		}
	}
}

// lobbyStub scripts candidate lists and claim outcomes.
type lobbyStub struct {
	candidates []persistence.LobbyEntry
	claimErrs  map[string]error
	claimed    []string
	enqueued   []persistence.LobbyEntry
}

func (l *lobbyStub) EnqueueEntry(ctx context.Context, entry persistence.LobbyEntry) error {
	l.enqueued = append(l.enqueued, entry)
	return nil
}

func (l *lobbyStub) GetEntry(ctx context.Context, id string) (persistence.LobbyEntry, error) {
	return persistence.LobbyEntry{}, persistence.ErrNotFound
}

func (l *lobbyStub) ListWaitingCandidates(ctx context.Context, topic, excludeUserID string, now time.Time, limit int) ([]persistence.LobbyEntry, error) {
	if len(l.candidates) > limit {
		return l.candidates[:limit], nil
	}
	return l.candidates, nil
}

func (l *lobbyStub) CompleteMatch(ctx context.Context, match persistence.Match, now time.Time) error {
	if err := l.claimErrs[match.ClaimedEntryID]; err != nil {
		return err
	}
	l.claimed = append(l.claimed, match.ClaimedEntryID)
	return nil
}

func (l *lobbyStub) RefreshEntry(ctx context.Context, id string, expiresAt, now time.Time) error {
	return nil
}

func (l *lobbyStub) DeleteWaitingEntry(ctx context.Context, id, userID string) error {
	return nil
}

func (l *lobbyStub) DeleteExpiredEntries(ctx context.Context, now time.Time) ([]persistence.LobbyEntry, error) {
	return nil, nil
}

func (l *lobbyStub) CountWaiting(ctx context.Context, now time.Time) (int, error) {
	return len(l.enqueued), nil
}

func TestMatchService_LosingClaimTriesNextCandidate(t *testing.T) {
	ctx := context.Background()
	generator := &staticGenerator{prompts: testfixtures.DefaultPrompts()}

	candidates := []persistence.LobbyEntry{
		testfixtures.NewLobbyEntry(testfixtures.WithEntryID("c1"), testfixtures.WithEntryUser("u1")),
		testfixtures.NewLobbyEntry(testfixtures.WithEntryID("c2"), testfixtures.WithEntryUser("u2")),
		testfixtures.NewLobbyEntry(testfixtures.WithEntryID("c3"), testfixtures.WithEntryUser("u3")),
		testfixtures.NewLobbyEntry(testfixtures.WithEntryID("c4"), testfixtures.WithEntryUser("u4")),
	}

	t.Run("next candidate wins", func(t *testing.T) {
		lobby := &lobbyStub{candidates: candidates, claimErrs: map[string]error{"c1": persistence.ErrConflict}}
		svc := NewMatchService(lobby, nil, generator, MatchConfig{})

		result, err := svc.Join(ctx, principal("joiner"), "friendship", false)
		if err != nil {
			t.Fatalf("join: %v", err)
		}
		if !result.Matched || result.PartnerID != "u2" {
			t.Fatalf("expected match with second candidate, got %+v", result)
		}
		if !reflect.DeepEqual(lobby.claimed, []string{"c2"}) {
			t.Fatalf("unexpected claims: %v", lobby.claimed)
		}
	})

	t.Run("gives up after the attempt budget and waits", func(t *testing.T) {
		lobby := &lobbyStub{candidates: candidates, claimErrs: map[string]error{
			"c1": persistence.ErrConflict,
			"c2": persistence.ErrConflict,
			"c3": persistence.ErrConflict,
		}}
		svc := NewMatchService(lobby, nil, generator, MatchConfig{MaxClaimAttempts: 3})

		result, err := svc.Join(ctx, principal("joiner"), "friendship", false)
		if err != nil {
			t.Fatalf("join: %v", err)
		}
		if result.Matched || len(lobby.enqueued) != 1 || len(lobby.claimed) != 0 {
			t.Fatalf("expected joiner to wait, got %+v, claimed %v", result, lobby.claimed)
		}
	})

	t.Run("store failures surface", func(t *testing.T) {
		boom := errors.New("disk I/O error")
		lobby := &lobbyStub{candidates: candidates, claimErrs: map[string]error{"c1": boom}}
		svc := NewMatchService(lobby, nil, generator, MatchConfig{})

		if _, err := svc.Join(ctx, principal("joiner"), "friendship", false); !errors.Is(err, boom) {
			t.Fatalf("expected store error, got %v", err)
		}
		if len(lobby.enqueued) != 0 {
			t.Fatalf("expected nothing enqueued after a failure")
		}
	})

	t.Run("prompt failures surface before claiming", func(t *testing.T) {
		lobby := &lobbyStub{candidates: candidates}
		failing := &staticGenerator{promptErr: errors.New("quota")}
		svc := NewMatchService(lobby, nil, failing, MatchConfig{})

		if _, err := svc.Join(ctx, principal("joiner"), "friendship", false); err == nil {
			t.Fatalf("expected prompt failure to surface")
		}
		if len(lobby.claimed) != 0 {
			t.Fatalf("expected no claim without prompts")
		}
	})
}
