package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"forbidden", Forbidden("user %s", "u1"), KindForbidden},
		{"wrapped validation", fmt.Errorf("send: %w", Validation("empty")), KindValidation},
		{"transient", Transient(errors.New("busy"), "append"), KindTransientStorage},
		{"untyped", errors.New("boom"), KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestIsSentinel(t *testing.T) {
	err := fmt.Errorf("join: %w", Forbidden("not a participant"))
	if !errors.Is(err, ErrForbidden) {
		t.Error("errors.Is(err, ErrForbidden) = false")
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("errors.Is(err, ErrNotFound) = true")
	}
}

func TestMessageOfHidesInternal(t *testing.T) {
	if got := MessageOf(errors.New("sql: connection refused")); got != "internal error" {
		t.Errorf("MessageOf(untyped) = %q", got)
	}
	if got := MessageOf(NotFound("case %d", 7)); got != "case 7" {
		t.Errorf("MessageOf(not found) = %q", got)
	}
}

func TestTransientUnwraps(t *testing.T) {
	cause := errors.New("database is locked")
	err := Transient(cause, "append")
	if !errors.Is(err, cause) {
		t.Error("transient error does not unwrap to its cause")
	}
}
