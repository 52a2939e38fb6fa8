package circuitbreaker

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(cfg Config) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	b := New(cfg, zerolog.Nop())
	b.now = clock.now
	return b, clock
}

func fail() error    { return errBoom }
func succeed() error { return nil }

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestNew_Defaults(t *testing.T) {
	b := New(Config{Name: "geo"}, zerolog.Nop())
	assert.Equal(t, 5, b.cfg.MaxFailures)
	assert.Equal(t, 30*time.Second, b.cfg.Cooldown)
	assert.Equal(t, 1, b.cfg.HalfOpenMaxRequests)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(Config{MaxFailures: 3, Cooldown: time.Minute})

	assert.ErrorIs(t, b.Do(fail), errBoom)
	assert.ErrorIs(t, b.Do(fail), errBoom)
	require.NoError(t, b.Do(succeed)) // resets the streak
	assert.ErrorIs(t, b.Do(fail), errBoom)
	assert.ErrorIs(t, b.Do(fail), errBoom)
	assert.Equal(t, StateClosed, b.State())

	assert.ErrorIs(t, b.Do(fail), errBoom)
	assert.Equal(t, StateOpen, b.State())

	called := false
	err := b.Do(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	b, clock := newTestBreaker(Config{MaxFailures: 1, Cooldown: time.Minute, HalfOpenMaxRequests: 2})

	require.Error(t, b.Do(fail))
	require.Equal(t, StateOpen, b.State())

	clock.advance(59 * time.Second)
	assert.ErrorIs(t, b.Do(succeed), ErrOpen)

	clock.advance(time.Second)
	require.NoError(t, b.Do(succeed))
	assert.Equal(t, StateHalfOpen, b.State())
	require.NoError(t, b.Do(succeed))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(Config{MaxFailures: 1, Cooldown: time.Minute})

	require.Error(t, b.Do(fail))
	clock.advance(time.Minute)
	require.ErrorIs(t, b.Do(fail), errBoom)
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Do(succeed), ErrOpen)
}

func TestBreaker_HalfOpenTrialBudget(t *testing.T) {
	b, clock := newTestBreaker(Config{MaxFailures: 1, Cooldown: time.Second, HalfOpenMaxRequests: 1})
	require.Error(t, b.Do(fail))
	clock.advance(time.Second)

	release := make(chan struct{})
	done := make(chan error)
	go func() {
		done <- b.Do(func() error { <-release; return nil })
	}()
	// Wait for the trial call to be admitted.
	require.Eventually(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.trials == 1
	}, time.Second, time.Millisecond)

	assert.ErrorIs(t, b.Do(succeed), ErrOpen)
	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_IsFailureFilter(t *testing.T) {
	errNotFound := errors.New("not found")
	b, _ := newTestBreaker(Config{
		MaxFailures: 1,
		IsFailure:   func(err error) bool { return err != nil && !errors.Is(err, errNotFound) },
	})

	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, b.Do(func() error { return errNotFound }), errNotFound)
	}
	assert.Equal(t, StateClosed, b.State())

	require.Error(t, b.Do(fail))
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_OnStateChangeAndStats(t *testing.T) {
	var transitions []string
	b, clock := newTestBreaker(Config{
		Name:        "geo",
		MaxFailures: 1,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, name+":"+from.String()+"->"+to.String())
		},
	})

	require.Error(t, b.Do(fail))
	stats := b.Stats()
	assert.Equal(t, "geo", stats.Name)
	assert.Equal(t, "open", stats.State)
	assert.False(t, stats.LastFailure.IsZero())

	clock.advance(time.Minute)
	require.NoError(t, b.Do(succeed))
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, []string{"geo:closed->open", "geo:open->half-open", "geo:half-open->closed"}, transitions)
	assert.Equal(t, "closed", b.Stats().State)
}

func TestBreaker_Concurrent(t *testing.T) {
	b := New(Config{MaxFailures: 1000}, zerolog.Nop())
	var calls atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_ = b.Do(func() error {
					calls.Add(1)
					if j%2 == 0 {
						return errBoom
					}
					return nil
				})
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1000), calls.Load())
	assert.Equal(t, StateClosed, b.State())
}
