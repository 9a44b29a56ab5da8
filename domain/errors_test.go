package domain

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
		{name: "tagged", err: ErrNotFound("task"), want: KindNotFound},
		{name: "wrapped", err: fmt.Errorf("outer: %w", ErrAccessDenied("task")), want: KindAccessDenied},
		{name: "untagged", err: errors.New("boom"), want: ""},
		{name: "nil", err: nil, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Fatalf("KindOf = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsBusiness(t *testing.T) {
	for _, err := range []error{
		ErrNotFound("task"),
		ErrAccessDenied("task"),
		ErrAlreadyCompleted(),
		ErrDuplicate("email"),
		ErrInvalidCredential(),
		ErrSessionInvalidated(),
	} {
		if !IsBusiness(err) {
			t.Fatalf("expected %v to be a business outcome", err)
		}
	}

	if IsBusiness(NewError(KindConflict, "write conflict")) {
		t.Fatal("conflict must not be terminal")
	}
	if IsBusiness(errors.New("engine failure")) {
		t.Fatal("untagged errors must not be terminal")
	}
}

func TestErrorKeepsCause(t *testing.T) {
	cause := errors.New("disk full")
	err := WrapError(KindTxnExhausted, "storage is contended", cause)

	if !errors.Is(err, cause) {
		t.Fatal("wrapped cause lost")
	}
	if got := err.Error(); got != "storage is contended: disk full" {
		t.Fatalf("unexpected message: %s", got)
	}
}
