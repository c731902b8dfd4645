package relink

import "time"

const (
	defaultDialTimeout       = 10 * time.Second
	defaultWriteTimeout      = 5 * time.Second
	defaultHeartbeatInterval = 30 * time.Second
	// The liveness window defaults to twice the heartbeat interval.
	defaultHeartbeatFactor = 2
)

// SupervisorConfig defines how the Supervisor dials, monitors, and buffers.
type SupervisorConfig struct {
	// Queue buffers messages while not connected; built with defaults when nil.
	Queue *Queue
	// Backoff schedules reconnect attempts; built with defaults when nil.
	Backoff *Backoff
	// Network gates reconnect timing; defaults to AlwaysOnline.
	Network NetworkStatus
	// DialTimeout bounds a single transport dial.
	DialTimeout time.Duration
	// WriteTimeout bounds a single transport send.
	WriteTimeout time.Duration
	// HeartbeatInterval is the ping cadence while connected; zero disables
	// heartbeats entirely.
	HeartbeatInterval time.Duration
	heartbeatSet      bool
	// HeartbeatTimeout is the inbound-silence window treated as a close event.
	HeartbeatTimeout time.Duration
	Clock            Clock
	Logger           Logger
	Metrics          Metrics
}

func (c SupervisorConfig) withDefaults() SupervisorConfig {
	if c.Network == nil {
		c.Network = AlwaysOnline{}
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if !c.heartbeatSet {
		c.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 && c.HeartbeatInterval > 0 {
		c.HeartbeatTimeout = defaultHeartbeatFactor * c.HeartbeatInterval
	}
	if c.Clock == nil {
		c.Clock = SystemClock{}
	}
	if c.Logger == nil {
		c.Logger = NopLogger{}
	}
	if c.Metrics == nil {
		c.Metrics = NopMetrics{}
	}

	return c
}

// Option configures Supervisor behavior.
type Option func(*SupervisorConfig)

// WithQueue injects the outbound queue instance.
func WithQueue(queue *Queue) Option {
	return func(c *SupervisorConfig) {
		c.Queue = queue
	}
}

// WithBackoff injects the reconnect scheduler instance.
func WithBackoff(backoff *Backoff) Option {
	return func(c *SupervisorConfig) {
		c.Backoff = backoff
	}
}

// WithNetworkStatus injects a connectivity capability.
func WithNetworkStatus(network NetworkStatus) Option {
	return func(c *SupervisorConfig) {
		c.Network = network
	}
}

// WithDialTimeout bounds a single transport dial.
func WithDialTimeout(timeout time.Duration) Option {
	return func(c *SupervisorConfig) {
		c.DialTimeout = timeout
	}
}

// WithWriteTimeout bounds a single transport send.
func WithWriteTimeout(timeout time.Duration) Option {
	return func(c *SupervisorConfig) {
		c.WriteTimeout = timeout
	}
}

// WithHeartbeatInterval sets the ping cadence; zero disables heartbeats.
func WithHeartbeatInterval(interval time.Duration) Option {
	return func(c *SupervisorConfig) {
		c.HeartbeatInterval = interval
		c.heartbeatSet = true
	}
}

// WithHeartbeatTimeout sets the inbound-silence window treated as a close.
func WithHeartbeatTimeout(timeout time.Duration) Option {
	return func(c *SupervisorConfig) {
		c.HeartbeatTimeout = timeout
	}
}

// WithClock sets the supervisor clock.
func WithClock(clock Clock) Option {
	return func(c *SupervisorConfig) {
		c.Clock = clock
	}
}

// WithLogger sets the supervisor logger.
func WithLogger(logger Logger) Option {
	return func(c *SupervisorConfig) {
		c.Logger = logger
	}
}

// WithMetrics sets the supervisor metrics recorder.
func WithMetrics(metrics Metrics) Option {
	return func(c *SupervisorConfig) {
		c.Metrics = metrics
	}
}
