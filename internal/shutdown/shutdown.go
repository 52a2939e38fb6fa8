package shutdown

import (
	"cmp"
	"context"
	"errors"
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// Closer is anything with a Close method (store, catalog, storage backend).
type Closer interface {
	Close() error
}

// Hook performs one cleanup step within the shutdown deadline.
type Hook func(ctx context.Context) error

// Shutdown order, lowest first.
const (
	PriorityHTTPServer = 10 // stop accepting requests
	PriorityQueries    = 20 // drain the query registry
	PriorityStore      = 30 // dataset store
	PriorityStorage    = 80 // blob backend
	PriorityCatalog    = 90 // sqlite catalog last
)

type step struct {
	name     string
	priority int
	run      Hook
}

// Coordinator runs registered cleanup steps in priority order once.
type Coordinator struct {
	timeout time.Duration
	logger  zerolog.Logger

	mu    sync.Mutex
	steps []step

	shutdownOnce sync.Once
	triggerOnce  sync.Once
	shutdownCh   chan struct{}
	err          error
}

func New(timeout time.Duration, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		timeout:    timeout,
		logger:     logger.With().Str("component", "shutdown").Logger(),
		shutdownCh: make(chan struct{}),
	}
}

// Register closes c during shutdown.
func (c *Coordinator) Register(name string, closer Closer, priority int) {
	c.RegisterHook(name, func(context.Context) error { return closer.Close() }, priority)
}

// RegisterHook runs hook during shutdown. Steps with equal priority run in
// registration order.
func (c *Coordinator) RegisterHook(name string, hook Hook, priority int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.steps = append(c.steps, step{name: name, priority: priority, run: hook})
	c.logger.Debug().
		Str("name", name).
		Int("priority", priority).
		Msg("Registered shutdown step")
}

// WaitForSignal blocks until SIGINT/SIGTERM/SIGQUIT or TriggerShutdown.
func (c *Coordinator) WaitForSignal() os.Signal {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		c.logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		return sig
	case <-c.shutdownCh:
		return syscall.SIGTERM
	}
}

// TriggerShutdown unblocks WaitForSignal. Safe for concurrent use.
func (c *Coordinator) TriggerShutdown() {
	c.triggerOnce.Do(func() {
		c.logger.Info().Msg("Programmatic shutdown triggered")
		close(c.shutdownCh)
	})
}

// Shutdown runs every step once. Steps still pending when the timeout
// expires are skipped. The returned error joins all step failures.
func (c *Coordinator) Shutdown() error {
	c.shutdownOnce.Do(func() {
		c.triggerOnce.Do(func() { close(c.shutdownCh) })

		c.mu.Lock()
		steps := slices.Clone(c.steps)
		c.mu.Unlock()
		slices.SortStableFunc(steps, func(a, b step) int { return cmp.Compare(a.priority, b.priority) })

		c.logger.Info().
			Dur("timeout", c.timeout).
			Int("steps", len(steps)).
			Msg("Starting graceful shutdown")

		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		start := time.Now()

		var errs []error
		for _, s := range steps {
			if ctx.Err() != nil {
				c.logger.Warn().Str("step", s.name).Msg("Shutdown timeout reached, skipping remaining steps")
				errs = append(errs, ctx.Err())
				break
			}
			if err := s.run(ctx); err != nil {
				c.logger.Error().Err(err).Str("step", s.name).Msg("Shutdown step failed")
				errs = append(errs, err)
				continue
			}
			c.logger.Debug().Str("step", s.name).Msg("Shutdown step complete")
		}
		c.err = errors.Join(errs...)

		c.logger.Info().Dur("duration", time.Since(start)).Msg("Graceful shutdown complete")
	})
	return c.err
}
