package relink

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

const (
	defaultBackoffBase       = 1 * time.Second
	defaultBackoffMax        = 30 * time.Second
	defaultBackoffMultiplier = 2.0
	defaultBackoffJitter     = 0.1
	defaultMaxAttempts       = 10
)

// BackoffConfig defines the reconnect delay schedule.
type BackoffConfig struct {
	// Base is the delay before applying exponential growth.
	Base time.Duration
	// Max caps the pre-jitter delay.
	Max time.Duration
	// Multiplier is the exponential growth factor.
	Multiplier float64
	// Jitter scales the upward random perturbation: final delay lies in
	// [delay, delay*(1+Jitter)).
	Jitter float64
	// MaxAttempts bounds consecutive failed attempts before giving up.
	MaxAttempts int
	// Random returns a value in [0,1); defaults to math/rand.
	Random func() float64
}

func (c BackoffConfig) withDefaults() BackoffConfig {
	if c.Base <= 0 {
		c.Base = defaultBackoffBase
	}
	if c.Max <= 0 {
		c.Max = defaultBackoffMax
	}
	if c.Multiplier <= 1 {
		c.Multiplier = defaultBackoffMultiplier
	}
	if c.Jitter < 0 {
		c.Jitter = defaultBackoffJitter
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.Random == nil {
		c.Random = rand.Float64
	}

	return c
}

// BackoffOption configures a Backoff.
type BackoffOption func(*BackoffConfig)

// WithBackoffBase sets the base delay.
func WithBackoffBase(base time.Duration) BackoffOption {
	return func(c *BackoffConfig) {
		c.Base = base
	}
}

// WithBackoffMax sets the delay cap.
func WithBackoffMax(max time.Duration) BackoffOption {
	return func(c *BackoffConfig) {
		c.Max = max
	}
}

// WithBackoffMultiplier sets the exponential growth factor.
func WithBackoffMultiplier(multiplier float64) BackoffOption {
	return func(c *BackoffConfig) {
		c.Multiplier = multiplier
	}
}

// WithBackoffJitter sets the jitter factor; zero disables jitter.
func WithBackoffJitter(jitter float64) BackoffOption {
	return func(c *BackoffConfig) {
		c.Jitter = jitter
	}
}

// WithMaxAttempts sets the consecutive-failure cap.
func WithMaxAttempts(attempts int) BackoffOption {
	return func(c *BackoffConfig) {
		c.MaxAttempts = attempts
	}
}

// WithRandom sets the jitter randomness source.
func WithRandom(random func() float64) BackoffOption {
	return func(c *BackoffConfig) {
		c.Random = random
	}
}

// Backoff schedules reconnect attempts with exponential backoff and jitter.
//
// Exponential growth avoids hammering a recovering server; jitter desynchronizes
// reconnect storms across many clients.
type Backoff struct {
	cfg BackoffConfig

	mu       sync.Mutex
	attempts int
	timer    *time.Timer
}

// NewBackoff constructs a Backoff with defaults and optional settings.
func NewBackoff(opts ...BackoffOption) *Backoff {
	var cfg BackoffConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Backoff{cfg: cfg.withDefaults()}
}

// ScheduleReconnect arms a timer to invoke fn after the next backoff delay.
//
// It returns false, scheduling nothing, once the attempt cap is reached; the
// caller must treat that as terminal. At most one timer is armed at a time: a
// second call replaces the pending one.
func (b *Backoff) ScheduleReconnect(fn func()) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attempts >= b.cfg.MaxAttempts {
		return false
	}

	if b.timer != nil {
		b.timer.Stop()
	}

	b.attempts++
	b.timer = time.AfterFunc(b.delayFor(b.attempts), fn)

	return true
}

// Reset cancels any armed timer and zeroes the attempt counter.
//
// Must be called on every successful connection.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.attempts = 0
}

// Cancel stops any armed timer without touching the attempt counter.
func (b *Backoff) Cancel() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

// HasReachedMax reports whether the attempt cap is reached.
func (b *Backoff) HasReachedMax() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.attempts >= b.cfg.MaxAttempts
}

// Attempts returns the current consecutive-failure count.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.attempts
}

// delayFor computes the delay for the given attempt number (1-based).
func (b *Backoff) delayFor(attempt int) time.Duration {
	delay := float64(b.cfg.Base) * math.Pow(b.cfg.Multiplier, float64(attempt))
	if delay > float64(b.cfg.Max) {
		delay = float64(b.cfg.Max)
	}
	delay += delay * b.cfg.Jitter * b.cfg.Random()

	return time.Duration(delay)
}
