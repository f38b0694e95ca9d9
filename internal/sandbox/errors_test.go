package sandbox

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{ErrInvalidPath, KindInvalidInput},
		{ErrPathEscape, KindInvalidInput},
		{fmt.Errorf("wrap: %w", ErrInvalidName), KindInvalidInput},
		{ErrInvalidKind, KindInvalidInput},
		{ErrEmptyUpload, KindInvalidInput},
		{fmt.Errorf("%w: x", ErrNotFound), KindNotFound},
		{fmt.Errorf("%w: x", ErrConflict), KindConflict},
		{errors.New("disk on fire"), KindInternal},
	}
	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.want {
			t.Errorf("KindOf(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestOutcome(t *testing.T) {
	if got := Outcome(nil); got != "ok" {
		t.Errorf("Outcome(nil) = %q", got)
	}
	if got := Outcome(ErrConflict); got != "conflict" {
		t.Errorf("Outcome(ErrConflict) = %q", got)
	}
	if !errors.Is(ErrPathEscape, ErrInvalidPath) {
		t.Error("ErrPathEscape should wrap ErrInvalidPath")
	}
}
