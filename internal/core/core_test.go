package core

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

// Test sentinel errors
func TestSentinelErrors(t *testing.T) {
	t.Run("ErrorMessages", func(t *testing.T) {
		tests := []struct {
			err     error
			message string
		}{
			{ErrConfigInvalid, "dgawatch: invalid configuration"},
			{ErrCancelled, "dgawatch: pipeline cancelled"},
			{ErrRetriesExhausted, "dgawatch: retries exhausted"},
			{ErrPublishTimeout, "dgawatch: publish confirmation timeout"},
			{ErrNotDNS, "dgawatch: not a dns payload"},
		}

		for _, tt := range tests {
			if tt.err.Error() != tt.message {
				t.Errorf("expected error message %q, got %q", tt.message, tt.err.Error())
			}
		}
	})

	t.Run("ErrorWrapping", func(t *testing.T) {
		wrapped := fmt.Errorf("lookup blacklist: %w", ErrRetriesExhausted)
		if !errors.Is(wrapped, ErrRetriesExhausted) {
			t.Error("errors.Is failed for wrapped error")
		}
	})
}

func TestExitCode(t *testing.T) {
	t.Run("WithExitCode", func(t *testing.T) {
		err := WithExitCode(ExitStoreConnectionFailure, fmt.Errorf("ping: %w", ErrStoreUnavailable))

		var coded *CodedError
		if !errors.As(err, &coded) {
			t.Fatalf("expected CodedError, got %T", err)
		}
		if coded.Code != ExitStoreConnectionFailure {
			t.Errorf("expected code %d, got %d", ExitStoreConnectionFailure, coded.Code)
		}
		if !errors.Is(err, ErrStoreUnavailable) {
			t.Error("coded error should unwrap to its cause")
		}
	})

	t.Run("NilStaysNil", func(t *testing.T) {
		if err := WithExitCode(ExitFailure, nil); err != nil {
			t.Errorf("expected nil, got %v", err)
		}
	})

	t.Run("Names", func(t *testing.T) {
		if ExitPublisherTimeout.String() != "publisher_timeout" {
			t.Errorf("unexpected name %q", ExitPublisherTimeout.String())
		}
		if ExitCode(99).String() != "unknown" {
			t.Errorf("unexpected name %q", ExitCode(99).String())
		}
	})
}

func TestDomainBatch(t *testing.T) {
	t.Run("AddKeepsEarliestCapture", func(t *testing.T) {
		base := time.Unix(1700000000, 0)
		b := NewDomainBatch(4)
		b.Add("b.example", 0, base.Add(time.Second))
		b.Add("a.example", 3, base)
		b.Add("b.example", 2, base.Add(2*time.Second))

		if b.Len() != 2 {
			t.Fatalf("expected 2 names, got %d", b.Len())
		}
		if b.Domains["b.example"] != 2 {
			t.Errorf("expected last rcode to win, got %d", b.Domains["b.example"])
		}
		if !b.CapturedAt.Equal(base) {
			t.Errorf("expected CapturedAt=%v, got %v", base, b.CapturedAt)
		}
		names := b.Names()
		if names[0] != "a.example" || names[1] != "b.example" {
			t.Errorf("expected sorted names, got %v", names)
		}
	})

	t.Run("ZeroValueUsable", func(t *testing.T) {
		var b DomainBatch
		b.Add("example.com", 0, time.Time{})
		if b.Len() != 1 {
			t.Errorf("expected 1 name, got %d", b.Len())
		}
	})
}

func TestVerdictString(t *testing.T) {
	expected := map[Verdict]string{
		VerdictUnlisted:    "unlisted",
		VerdictBlacklisted: "blacklisted",
		VerdictWhitelisted: "whitelisted",
	}
	for v, name := range expected {
		if v.String() != name {
			t.Errorf("expected %q, got %q", name, v.String())
		}
	}
}
