// Package resilience guards calls to flaky collaborators, such as the MQTT
// broker, with a circuit breaker.
//
// A [Breaker] is closed while calls succeed. After MaxFailures consecutive
// failures it opens and rejects calls with [ErrOpen] for Cooldown. The first
// call after the cooldown is a trial: success closes the breaker, failure
// re-opens it for another cooldown.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Do] while the breaker rejects calls.
var ErrOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [Breaker].
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
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

// BreakerConfig tunes a [Breaker].
type BreakerConfig struct {
	// Name labels log lines.
	Name string

	// MaxFailures is the consecutive failure count that opens the breaker.
	// Default: 5.
	MaxFailures int

	// Cooldown is how long the breaker stays open. Default: 30s.
	Cooldown time.Duration
}

// Breaker is a circuit breaker. It is safe for concurrent use.
type Breaker struct {
	name        string
	maxFailures int
	cooldown    time.Duration
	now         func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
}

// NewBreaker returns a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &Breaker{
		name:        cfg.Name,
		maxFailures: cfg.MaxFailures,
		cooldown:    cfg.Cooldown,
		now:         time.Now,
	}
}

// Do runs fn unless the breaker is open or a trial is already in flight.
// Failures after ctx was cancelled are returned but not counted. A deadline
// that runs out does count: that is how a stalled dependency shows up.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	trial, err := b.admit()
	if err != nil {
		return err
	}
	err = fn(ctx)
	if err != nil && errors.Is(ctx.Err(), context.Canceled) {
		if trial {
			b.mu.Lock()
			b.state = StateOpen
			b.mu.Unlock()
		}
		return err
	}
	b.record(err)
	return err
}

func (b *Breaker) admit() (trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateHalfOpen:
		return false, ErrOpen
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false, ErrOpen
		}
		b.state = StateHalfOpen
		return true, nil
	}
	return false, nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		if b.state == StateHalfOpen {
			slog.Info("circuit closed", "name", b.name)
		}
		b.state = StateClosed
		b.failures = 0
		return
	}
	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.maxFailures {
		if b.state != StateOpen {
			slog.Warn("circuit opened", "name", b.name, "failures", b.failures, "err", err)
		}
		b.state = StateOpen
		b.openedAt = b.now()
	}
}

// State reports the current state. An open breaker whose cooldown has
// elapsed still reports open until the next Do.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
