package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"firestige.xyz/dgawatch/internal/core"
)

func kinds() []Kind { return []Kind{KindRing, KindChan} }

func mustNew[T any](t *testing.T, kind Kind, capacity int) Queue[T] {
	t.Helper()
	q, err := New[T](kind, capacity)
	require.NoError(t, err)
	return q
}

func TestNew_InvalidArguments(t *testing.T) {
	_, err := New[int](KindRing, 0)
	assert.ErrorIs(t, err, core.ErrConfigInvalid)

	_, err = New[int]("heap", 4)
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
}

func TestQueue_TryPopEmpty(t *testing.T) {
	for _, kind := range kinds() {
		t.Run(string(kind), func(t *testing.T) {
			q := mustNew[int](t, kind, 4)
			v, ok := q.TryPop()
			assert.False(t, ok)
			assert.Zero(t, v)
			assert.Equal(t, 0, q.Len())

			require.True(t, q.TryEmplace(7))
			v, ok = q.TryPop()
			assert.True(t, ok)
			assert.Equal(t, 7, v)
		})
	}
}

func TestQueue_CapacityBound(t *testing.T) {
	for _, kind := range kinds() {
		t.Run(string(kind), func(t *testing.T) {
			q := mustNew[int](t, kind, 3)
			assert.Equal(t, 3, q.Cap())
			for i := 0; i < 3; i++ {
				require.True(t, q.TryEmplace(i))
			}
			assert.False(t, q.TryEmplace(3))
			assert.Equal(t, 3, q.Len())
		})
	}
}

func TestQueue_EmplaceBlocksUntilSpace(t *testing.T) {
	for _, kind := range kinds() {
		t.Run(string(kind), func(t *testing.T) {
			q := mustNew[int](t, kind, 1)
			require.True(t, q.TryEmplace(1))

			done := make(chan error, 1)
			go func() { done <- q.Emplace(context.Background(), 2) }()

			select {
			case <-done:
				t.Fatal("Emplace returned while queue was full")
			case <-time.After(20 * time.Millisecond):
			}

			v, ok := q.TryPop()
			require.True(t, ok)
			assert.Equal(t, 1, v)

			select {
			case err := <-done:
				require.NoError(t, err)
			case <-time.After(time.Second):
				t.Fatal("Emplace did not resume after space was freed")
			}
			v, ok = q.Pop(context.Background(), time.Second)
			require.True(t, ok)
			assert.Equal(t, 2, v)
		})
	}
}

func TestQueue_EmplaceCancelled(t *testing.T) {
	for _, kind := range kinds() {
		t.Run(string(kind), func(t *testing.T) {
			q := mustNew[int](t, kind, 1)
			require.True(t, q.TryEmplace(1))

			ctx, cancel := context.WithCancelCause(context.Background())
			done := make(chan error, 1)
			go func() { done <- q.Emplace(ctx, 2) }()
			time.Sleep(10 * time.Millisecond)
			boom := errors.New("boom")
			cancel(boom)

			select {
			case err := <-done:
				assert.ErrorIs(t, err, core.ErrCancelled)
				assert.ErrorIs(t, err, boom)
			case <-time.After(time.Second):
				t.Fatal("Emplace ignored cancellation")
			}
			assert.Equal(t, 1, q.Len())
		})
	}
}

func TestQueue_EmplaceAfterCancelNeverInserts(t *testing.T) {
	for _, kind := range kinds() {
		t.Run(string(kind), func(t *testing.T) {
			q := mustNew[int](t, kind, 4)
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			err := q.Emplace(ctx, 1)
			assert.ErrorIs(t, err, core.ErrCancelled)
			assert.Equal(t, 0, q.Len())
		})
	}
}

func TestQueue_PopTimeout(t *testing.T) {
	for _, kind := range kinds() {
		t.Run(string(kind), func(t *testing.T) {
			q := mustNew[int](t, kind, 1)
			start := time.Now()
			_, ok := q.Pop(context.Background(), 30*time.Millisecond)
			assert.False(t, ok)
			assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
		})
	}
}

func TestQueue_PopWakesOnEmplace(t *testing.T) {
	for _, kind := range kinds() {
		t.Run(string(kind), func(t *testing.T) {
			q := mustNew[string](t, kind, 2)
			go func() {
				time.Sleep(10 * time.Millisecond)
				_ = q.Emplace(context.Background(), "a")
			}()
			v, ok := q.Pop(context.Background(), time.Second)
			require.True(t, ok)
			assert.Equal(t, "a", v)
		})
	}
}

func TestQueue_SPSCOrder(t *testing.T) {
	const n = 10000
	for _, kind := range kinds() {
		t.Run(string(kind), func(t *testing.T) {
			q := mustNew[int](t, kind, 16)
			go func() {
				for i := 0; i < n; i++ {
					_ = q.Emplace(context.Background(), i)
				}
			}()
			for want := 0; want < n; want++ {
				got, ok := q.Pop(context.Background(), time.Second)
				require.True(t, ok)
				require.Equal(t, want, got)
			}
		})
	}
}

func TestQueue_MPMCDeliversEverything(t *testing.T) {
	const producers, perProducer = 4, 2500
	for _, kind := range kinds() {
		t.Run(string(kind), func(t *testing.T) {
			q := mustNew[int](t, kind, 8)
			var wg sync.WaitGroup
			for p := 0; p < producers; p++ {
				wg.Add(1)
				go func(p int) {
					defer wg.Done()
					for i := 0; i < perProducer; i++ {
						_ = q.Emplace(context.Background(), p*perProducer+i)
					}
				}(p)
			}

			var mu sync.Mutex
			seen := make(map[int]int)
			var cwg sync.WaitGroup
			for c := 0; c < 3; c++ {
				cwg.Add(1)
				go func() {
					defer cwg.Done()
					for {
						v, ok := q.Pop(context.Background(), 200*time.Millisecond)
						if !ok {
							return
						}
						mu.Lock()
						seen[v]++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()
			cwg.Wait()

			assert.Len(t, seen, producers*perProducer)
			for v, count := range seen {
				if count != 1 {
					t.Fatalf("value %d delivered %d times", v, count)
				}
			}
		})
	}
}

func TestQueue_BoundAndFIFOProperty(t *testing.T) {
	for _, kind := range kinds() {
		t.Run(string(kind), func(t *testing.T) {
			rapid.Check(t, func(t *rapid.T) {
				capacity := rapid.IntRange(1, 32).Draw(t, "capacity")
				q, err := New[int](kind, capacity)
				if err != nil {
					t.Fatal(err)
				}
				var model []int
				next := 0
				ops := rapid.SliceOfN(rapid.Bool(), 1, 200).Draw(t, "ops")
				for _, push := range ops {
					if push {
						ok := q.TryEmplace(next)
						if ok != (len(model) < capacity) {
							t.Fatalf("TryEmplace=%v with %d/%d queued", ok, len(model), capacity)
						}
						if ok {
							model = append(model, next)
						}
						next++
					} else {
						v, ok := q.TryPop()
						if ok != (len(model) > 0) {
							t.Fatalf("TryPop=%v with %d queued", ok, len(model))
						}
						if ok {
							if v != model[0] {
								t.Fatalf("popped %d, want %d", v, model[0])
							}
							model = model[1:]
						}
					}
					if q.Len() != len(model) || q.Len() > capacity {
						t.Fatalf("Len=%d, model=%d, cap=%d", q.Len(), len(model), capacity)
					}
				}
			})
		})
	}
}
