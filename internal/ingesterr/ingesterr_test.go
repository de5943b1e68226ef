package ingesterr

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsMatchesWrappedKind(t *testing.T) {
	base := errors.New("directory unreadable")
	wrapped := fmt.Errorf("ingest failed: %w", New(AdapterFailure, base))

	if !Is(wrapped, AdapterFailure) {
		t.Fatalf("expected Is to match AdapterFailure through fmt.Errorf wrapping")
	}
	if Is(wrapped, ParseSkip) {
		t.Fatalf("expected Is to reject a mismatched kind")
	}
}

func TestKindOfPlainError(t *testing.T) {
	if _, ok := KindOf(errors.New("plain")); ok {
		t.Fatalf("expected KindOf to return ok=false for a non-ingesterr error")
	}
}
