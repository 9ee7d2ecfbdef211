package application

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func TestPollService_CreatePoll(t *testing.T) {
	ctx := context.Background()

	t.Run("normalizes explicit dates", func(t *testing.T) {
		env := newTestEnv(t)
		poll, err := env.pollService().CreatePoll(ctx, principal("owner"), CreatePollInput{
			Title:     "  Study group  ",
			Dates:     []string{"2024-06-03", "2024-06-01", "2024-06-03"},
			HourStart: 9,
			HourEnd:   17,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if poll.ID != "id-1" || poll.Title != "Study group" || poll.OwnerID != "owner" {
			t.Fatalf("unexpected poll: %+v", poll)
		}
		if want := []string{"2024-06-01", "2024-06-03"}; !reflect.DeepEqual(poll.Dates, want) {
			t.Fatalf("expected dates %v, got %v", want, poll.Dates)
		}

		stored, err := env.pollService().GetPoll(ctx, poll.ID)
		if err != nil {
			t.Fatalf("get poll: %v", err)
		}
		if !reflect.DeepEqual(stored.Dates, poll.Dates) || stored.HourEnd != 17 {
			t.Fatalf("stored poll differs: %+v", stored)
		}
	})

	t.Run("expands an inclusive range", func(t *testing.T) {
		env := newTestEnv(t)
		poll, err := env.pollService().CreatePoll(ctx, principal("owner"), CreatePollInput{
			Title:     "Range",
			DateStart: "2024-02-28",
			DateEnd:   "2024-03-01",
			HourStart: 0,
			HourEnd:   24,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if want := []string{"2024-02-28", "2024-02-29", "2024-03-01"}; !reflect.DeepEqual(poll.Dates, want) {
			t.Fatalf("expected dates %v, got %v", want, poll.Dates)
		}
	})

	t.Run("filters a range by weekday", func(t *testing.T) {
		env := newTestEnv(t)
		// 2024-06-03 is a Monday.
		poll, err := env.pollService().CreatePoll(ctx, principal("owner"), CreatePollInput{
			Title:     "Weekdays",
			DateStart: "2024-06-03",
			DateEnd:   "2024-06-16",
			Weekdays:  []string{"tue", "Thursday"},
			HourStart: 18,
			HourEnd:   20,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if want := []string{"2024-06-04", "2024-06-06", "2024-06-11", "2024-06-13"}; !reflect.DeepEqual(poll.Dates, want) {
			t.Fatalf("expected dates %v, got %v", want, poll.Dates)
		}
	})

	cases := []struct {
		name  string
		input CreatePollInput
		field string
	}{
		{name: "missing title", input: CreatePollInput{Dates: []string{"2024-06-01"}, HourStart: 9, HourEnd: 10}, field: "title"},
		{name: "empty hour window", input: CreatePollInput{Title: "x", Dates: []string{"2024-06-01"}, HourStart: 10, HourEnd: 10}, field: "hour_end"},
		{name: "hour past midnight", input: CreatePollInput{Title: "x", Dates: []string{"2024-06-01"}, HourStart: 9, HourEnd: 25}, field: "hour_end"},
		{name: "negative start", input: CreatePollInput{Title: "x", Dates: []string{"2024-06-01"}, HourStart: -1, HourEnd: 5}, field: "hour_start"},
		{name: "no dates", input: CreatePollInput{Title: "x", HourStart: 9, HourEnd: 10}, field: "dates"},
		{name: "bad date", input: CreatePollInput{Title: "x", Dates: []string{"June 1"}, HourStart: 9, HourEnd: 10}, field: "dates"},
		{name: "both forms", input: CreatePollInput{Title: "x", Dates: []string{"2024-06-01"}, DateStart: "2024-06-01", DateEnd: "2024-06-02", HourStart: 9, HourEnd: 10}, field: "dates"},
		{name: "reversed range", input: CreatePollInput{Title: "x", DateStart: "2024-06-05", DateEnd: "2024-06-01", HourStart: 9, HourEnd: 10}, field: "date_end"},
		{name: "too many dates", input: CreatePollInput{Title: "x", DateStart: "2024-01-01", DateEnd: "2024-12-31", HourStart: 9, HourEnd: 10}, field: "dates"},
		{name: "unknown weekday", input: CreatePollInput{Title: "x", DateStart: "2024-06-01", DateEnd: "2024-06-09", Weekdays: []string{"someday"}, HourStart: 9, HourEnd: 10}, field: "weekdays"},
		{name: "weekdays with explicit dates", input: CreatePollInput{Title: "x", Dates: []string{"2024-06-01"}, Weekdays: []string{"mon"}, HourStart: 9, HourEnd: 10}, field: "weekdays"},
		{name: "no matching weekday", input: CreatePollInput{Title: "x", DateStart: "2024-06-03", DateEnd: "2024-06-04", Weekdays: []string{"sun"}, HourStart: 9, HourEnd: 10}, field: "weekdays"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			_, err := env.pollService().CreatePoll(ctx, principal("owner"), tc.input)
			requireValidationField(t, err, tc.field)
		})
	}

	t.Run("requires an identity", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.pollService().CreatePoll(ctx, Principal{}, CreatePollInput{Title: "x", Dates: []string{"2024-06-01"}, HourStart: 9, HourEnd: 10})
		if !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized, got %v", err)
		}
	})
}

func TestPollService_DeletePoll(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	svc := env.pollService()

	poll, err := svc.CreatePoll(ctx, principal("owner"), CreatePollInput{Title: "x", Dates: []string{"2024-06-01"}, HourStart: 9, HourEnd: 12})
	if err != nil {
		t.Fatalf("create poll: %v", err)
	}

	if err := svc.DeletePoll(ctx, principal("intruder"), poll.ID); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := svc.DeletePoll(ctx, principal("owner"), poll.ID); err != nil {
		t.Fatalf("delete poll: %v", err)
	}
	if _, err := svc.GetPoll(ctx, poll.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := svc.DeletePoll(ctx, principal("owner"), poll.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for second delete, got %v", err)
	}

	deleted := env.publisher.ofType("poll.deleted")
	if len(deleted) != 1 || !deleted[0].Deleted || deleted[0].Key != "poll:"+poll.ID {
		t.Fatalf("expected one poll.deleted event, got %+v", deleted)
	}
}
