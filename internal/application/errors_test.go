package application

import (
	"errors"
	"fmt"
	"testing"

	"github.com/example/peer-scheduler/internal/persistence"
)

func TestValidationError_Error(t *testing.T) {
	t.Parallel()

	var err *ValidationError
	if err.Error() != "" {
		t.Fatalf("expected empty string for nil error, got %q", err.Error())
	}

	withFields := &ValidationError{FieldErrors: map[string]string{"field": "invalid"}}
	if got := withFields.Error(); got != "validation failed" {
		t.Fatalf("expected consistent message for populated error, got %q", got)
	}
}

func TestValidationError_AddAndMerge(t *testing.T) {
	t.Parallel()

	base := &ValidationError{}
	if base.HasErrors() {
		t.Fatalf("expected HasErrors to report false for empty error")
	}
	base.add("first", "value")
	base.merge(&ValidationError{FieldErrors: map[string]string{"second": "another"}})
	base.merge(nil)

	if !base.HasErrors() || len(base.FieldErrors) != 2 {
		t.Fatalf("expected two field errors, got %v", base.FieldErrors)
	}
}

func TestMapRepoError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   error
		want error
	}{
		{name: "not found", in: fmt.Errorf("wrap: %w", persistence.ErrNotFound), want: ErrNotFound},
		{name: "duplicate", in: persistence.ErrDuplicate, want: ErrAlreadyExists},
		{name: "conflict", in: persistence.ErrConflict, want: ErrConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := mapRepoError(tc.in); !errors.Is(got, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}

	var vErr *ValidationError
	if !errors.As(mapRepoError(persistence.ErrConstraintViolation), &vErr) {
		t.Fatalf("expected constraint violations to become validation errors")
	}

	other := errors.New("disk full")
	if got := mapRepoError(other); got != other {
		t.Fatalf("expected unknown errors to pass through, got %v", got)
	}
}
