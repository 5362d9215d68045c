package provider

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorKinds(t *testing.T) {
	base := errors.New("boom")
	tests := []struct {
		err       error
		kind      Kind
		transient bool
	}{
		{Transient("quotes", "NIFTY", base), KindTransient, true},
		{Auth("spot", "NIFTY", base), KindAuth, false},
		{Protocol("instruments", "SENSEX", base), KindProtocol, false},
		{Unavailable("instruments", "NIFTY", base), KindUnavailable, false},
		{base, KindTransient, true},
	}
	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.kind {
			t.Errorf("KindOf(%v) = %s, want %s", tt.err, got, tt.kind)
		}
		if got := IsTransient(tt.err); got != tt.transient {
			t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.transient)
		}
	}
}

func TestErrorWrapping(t *testing.T) {
	base := errors.New("expired token")
	err := Auth("quotes", "BANKNIFTY", base)

	if !errors.Is(err, base) {
		t.Fatal("wrapped error lost")
	}
	wrapped := fmt.Errorf("pass failed: %w", err)
	if KindOf(wrapped) != KindAuth {
		t.Fatalf("kind through wrapping: %s", KindOf(wrapped))
	}
	if IsUnavailable(wrapped) {
		t.Fatal("auth error is not unavailable")
	}
}
