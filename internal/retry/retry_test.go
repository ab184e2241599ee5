package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"firestige.xyz/dgawatch/internal/core"
)

var errFlaky = errors.New("flaky")

// failing returns an op that fails the first n calls.
func failing(n int, calls *int) func(context.Context) error {
	return func(context.Context) error {
		*calls++
		if *calls <= n {
			return errFlaky
		}
		return nil
	}
}

func TestDo_SucceedsAfterFailures(t *testing.T) {
	tests := []struct {
		name     string
		failures int
		attempts int
	}{
		{"first try", 0, 3},
		{"one failure", 1, 3},
		{"last chance", 2, 3},
		{"broker policy", 4, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Do(context.Background(), Policy{Attempts: tt.attempts}, "op", failing(tt.failures, &calls))
			require.NoError(t, err)
			assert.Equal(t, tt.failures+1, calls)
		})
	}
}

func TestDo_Exhausted(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{Attempts: 3, Delay: time.Millisecond}, "query", failing(100, &calls))
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, core.ErrRetriesExhausted)
	assert.ErrorIs(t, err, errFlaky)
	assert.Contains(t, err.Error(), "query")
}

func TestDo_WaitsDelayBetweenAttempts(t *testing.T) {
	calls := 0
	start := time.Now()
	_ = Do(context.Background(), Policy{Attempts: 3, Delay: 20 * time.Millisecond}, "op", failing(100, &calls))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	assert.Equal(t, 3, calls)
}

func TestDo_Permanent(t *testing.T) {
	calls := 0
	bad := errors.New("bad request")
	err := Do(context.Background(), Policy{Attempts: 5}, "op", func(context.Context) error {
		calls++
		return Permanent(bad)
	})
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, bad)
	assert.NotErrorIs(t, err, core.ErrRetriesExhausted)
}

func TestDo_NoAttemptAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancelCause(context.Background())
	boom := errors.New("capture died")
	calls := 0
	err := Do(ctx, Policy{Attempts: 5, Delay: time.Millisecond}, "op", func(context.Context) error {
		calls++
		cancel(boom)
		return errFlaky
	})
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, core.ErrCancelled)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, core.ErrRetriesExhausted)
}

func TestDo_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Do(ctx, StorePolicy, "op", failing(0, &calls))
	assert.Equal(t, 0, calls)
	assert.ErrorIs(t, err, core.ErrCancelled)
}

func TestDo_CancelDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	err := Do(ctx, Policy{Attempts: 3, Delay: time.Hour}, "op", failing(100, &calls))
	assert.Less(t, time.Since(start), time.Minute)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, core.ErrCancelled)
}

func TestPolicy_Validate(t *testing.T) {
	assert.NoError(t, StorePolicy.Validate())
	assert.NoError(t, BrokerPolicy.Validate())
	assert.ErrorIs(t, Policy{Attempts: 0}.Validate(), core.ErrConfigInvalid)
	assert.ErrorIs(t, Policy{Attempts: 1, Delay: -1}.Validate(), core.ErrConfigInvalid)
}

func TestDo_AttemptCountProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		max := rapid.IntRange(1, 8).Draw(t, "max")
		failures := rapid.IntRange(0, 12).Draw(t, "failures")
		calls := 0
		err := Do(context.Background(), Policy{Attempts: max}, "op", failing(failures, &calls))
		if failures < max {
			if err != nil || calls != failures+1 {
				t.Fatalf("failures=%d max=%d: calls=%d err=%v", failures, max, calls, err)
			}
			return
		}
		if !errors.Is(err, core.ErrRetriesExhausted) || calls != max {
			t.Fatalf("failures=%d max=%d: calls=%d err=%v", failures, max, calls, err)
		}
	})
}
