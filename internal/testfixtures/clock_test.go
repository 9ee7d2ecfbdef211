package testfixtures

import (
	"testing"
	"time"
)

func TestClockDefaultsToReferenceTime(t *testing.T) {
	clock := NewClock(time.Time{})
	if !clock.Now().Equal(ReferenceTime()) {
		t.Fatalf("expected ReferenceTime, got %v", clock.Now())
	}
}

func TestClockAdvanceAndSet(t *testing.T) {
	start := time.Date(2024, time.June, 1, 14, 0, 0, 0, time.UTC)
	clock := NewClock(start)

	if updated := clock.Advance(90 * time.Minute); !updated.Equal(start.Add(90 * time.Minute)) {
		t.Fatalf("advance returned %v", updated)
	}

	clock.Set(start.Add(2 * time.Hour))
	if got := clock.NowFunc()(); !got.Equal(start.Add(2 * time.Hour)) {
		t.Fatalf("expected %v, got %v", start.Add(2*time.Hour), got)
	}
}

func TestClockTickIsMonotonic(t *testing.T) {
	clock := NewClock(time.Time{})
	tick := clock.Tick(time.Millisecond)

	first := tick()
	second := tick()
	if !second.After(first) {
		t.Fatalf("expected %v to be after %v", second, first)
	}
	if !clock.Now().Equal(second) {
		t.Fatalf("clock did not follow ticks: %v", clock.Now())
	}
}
