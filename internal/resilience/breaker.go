package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Do] while the breaker rejects calls.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the cool-down
	// elapses.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through.
	StateHalfOpen
)

// String returns the human-readable name of the state.
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

// BreakerConfig tunes a [Breaker]. Zero values select defaults.
type BreakerConfig struct {
	// Name labels log messages, e.g. "whisper-server".
	Name string

	// MaxFailures is the number of consecutive failures that open the
	// breaker. Default: 3.
	MaxFailures int

	// Cooldown is how long the breaker stays open before probing.
	// Default: 30s.
	Cooldown time.Duration

	// Probes is the number of successful half-open calls needed to close
	// again. Default: 1.
	Probes int

	// Counts reports whether err should count against the backend. Nil
	// counts every error. Context cancellation and deadline errors never
	// count and are not passed to Counts.
	Counts func(err error) bool

	// OnStateChange is called outside the lock after every transition.
	OnStateChange func(from, to State)
}

// Breaker stops sending work to a backend that keeps failing, such as an
// unreachable speech server, and periodically probes it again.
type Breaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	inFlight  int
	probeWins int
}

// NewBreaker creates a closed [Breaker].
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Probes <= 0 {
		cfg.Probes = 1
	}
	if cfg.Counts == nil {
		cfg.Counts = func(error) bool { return true }
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

func (b *Breaker) counts(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return b.cfg.Counts(err)
}

// Do runs fn unless the breaker is open. Cancellation, deadline errors and
// errors for which Counts returns false pass through without affecting the
// breaker.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	probe, err := b.admit()
	if err != nil {
		return err
	}
	err = fn(ctx)
	b.settle(probe, err)
	return err
}

func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return false, ErrCircuitOpen
		}
		b.transition(StateHalfOpen)
		b.probeWins = 0
		b.inFlight = 0
	case StateHalfOpen:
		if b.inFlight >= b.cfg.Probes {
			return false, ErrCircuitOpen
		}
	default:
		return false, nil
	}
	b.inFlight++
	return true, nil
}

func (b *Breaker) settle(probe bool, err error) {
	var from, to State
	b.mu.Lock()
	from = b.state
	if probe {
		b.inFlight--
	}
	switch {
	case b.counts(err):
		b.failures++
		if probe || b.failures >= b.cfg.MaxFailures {
			b.openedAt = b.now()
			b.transition(StateOpen)
		}
	case err != nil:
	case probe:
		b.probeWins++
		if b.probeWins >= b.cfg.Probes {
			b.failures = 0
			b.transition(StateClosed)
		}
	default:
		b.failures = 0
	}
	to = b.state
	b.mu.Unlock()

	if from != to {
		b.logTransition(from, to)
	}
}

// transition must be called with b.mu held.
func (b *Breaker) transition(to State) {
	b.state = to
}

func (b *Breaker) logTransition(from, to State) {
	switch to {
	case StateOpen:
		slog.Warn("circuit breaker opened", "name", b.cfg.Name, "from", from, "cooldown", b.cfg.Cooldown)
	default:
		slog.Info("circuit breaker state changed", "name", b.cfg.Name, "from", from, "to", to)
	}
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(from, to)
	}
}

// State returns the current state. An open breaker whose cool-down has
// elapsed reports [StateHalfOpen]; the transition happens on the next call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker closed and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = StateClosed
	b.failures = 0
	b.inFlight = 0
	b.probeWins = 0
	b.mu.Unlock()
	if from != StateClosed {
		b.logTransition(from, StateClosed)
	}
}
