// Package circuitbreaker guards calls to an external service. After
// MaxFailures consecutive failures the breaker opens and rejects calls
// until Cooldown has passed; then a limited number of trial calls decide
// whether it closes again.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// State represents the circuit breaker state
type State int

const (
	StateClosed   State = iota // calls pass through
	StateOpen                  // calls are rejected
	StateHalfOpen              // trial calls decide the next state
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned without calling fn while the breaker is open or its
// half-open trial budget is used up.
var ErrOpen = errors.New("circuit breaker is open")

// Config holds circuit breaker configuration
type Config struct {
	Name string

	// MaxFailures consecutive failures open the circuit.
	MaxFailures int

	// Cooldown is how long the circuit stays open before trial calls.
	Cooldown time.Duration

	// HalfOpenMaxRequests trial calls are allowed; that many successes close the circuit.
	HalfOpenMaxRequests int

	// IsFailure decides which errors count against the service. Defaults to err != nil.
	IsFailure func(error) bool

	OnStateChange func(name string, from, to State)
}

// DefaultConfig returns default circuit breaker configuration
func DefaultConfig(name string) Config {
	return Config{
		Name:                name,
		MaxFailures:         5,
		Cooldown:            30 * time.Second,
		HalfOpenMaxRequests: 1,
	}
}

// Breaker implements the circuit breaker pattern. It is safe for concurrent use.
type Breaker struct {
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	trials      int
	openedAt    time.Time
	lastFailure time.Time
}

// New creates a breaker. Zero config fields take their defaults.
func New(cfg Config, logger zerolog.Logger) *Breaker {
	def := DefaultConfig(cfg.Name)
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = def.MaxFailures
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = def.HalfOpenMaxRequests
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool { return err != nil }
	}
	return &Breaker{
		cfg:    cfg,
		logger: logger.With().Str("component", "circuit-breaker").Str("name", cfg.Name).Logger(),
		now:    time.Now,
	}
}

// Do runs fn unless the circuit is open, and records its outcome. fn's
// error is returned unchanged.
func (b *Breaker) Do(fn func() error) error {
	if !b.allow() {
		return ErrOpen
	}
	err := fn()
	b.record(b.cfg.IsFailure(err))
	return err
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return false
		}
		b.setState(StateHalfOpen)
		fallthrough
	case StateHalfOpen:
		if b.trials >= b.cfg.HalfOpenMaxRequests {
			return false
		}
		b.trials++
		return true
	default:
		return true
	}
}

func (b *Breaker) record(failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if failed {
		b.failures++
		b.successes = 0
		b.lastFailure = b.now()
		switch {
		case b.state == StateHalfOpen:
			b.setState(StateOpen)
		case b.state == StateClosed && b.failures >= b.cfg.MaxFailures:
			b.setState(StateOpen)
		}
		return
	}

	b.successes++
	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		if b.successes >= b.cfg.HalfOpenMaxRequests {
			b.setState(StateClosed)
		}
	}
}

// setState must be called with mu held.
func (b *Breaker) setState(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.failures = 0
	b.successes = 0
	b.trials = 0
	if to == StateOpen {
		b.openedAt = b.now()
	}

	event := b.logger.Info()
	if to == StateOpen {
		event = b.logger.Warn()
	}
	event.Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state changed")

	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.cfg.Name, from, to)
	}
}

// State returns the current state
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats is a point-in-time view of a breaker.
type Stats struct {
	Name        string    `json:"name"`
	State       string    `json:"state"`
	Failures    int       `json:"failures"`
	MaxFailures int       `json:"max_failures"`
	LastFailure time.Time `json:"last_failure_time"`
}

func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Name:        b.cfg.Name,
		State:       b.state.String(),
		Failures:    b.failures,
		MaxFailures: b.cfg.MaxFailures,
		LastFailure: b.lastFailure,
	}
}
