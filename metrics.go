package relink

import "time"

// Metrics captures connection and queue telemetry.
type Metrics interface {
	// AddReconnects increments the count of reconnect attempts.
	AddReconnects(count int)
	// ObserveFlushDuration records the time to run one flush pass.
	ObserveFlushDuration(duration time.Duration)
	// AddDelivered increments the count of messages delivered from the queue.
	AddDelivered(count int)
	// AddRetries increments the count of per-message delivery retries.
	AddRetries(count int)
	// AddDropped increments the count of messages dropped after retry exhaustion.
	AddDropped(count int)
	// AddEvicted increments the count of messages evicted by queue overflow.
	AddEvicted(count int)
	// SetQueueDepth updates the current queue length.
	SetQueueDepth(count int)
}

// NopMetrics is a no-op metrics recorder.
type NopMetrics struct{}

// AddReconnects implements Metrics.
func (NopMetrics) AddReconnects(int) {}

// ObserveFlushDuration implements Metrics.
func (NopMetrics) ObserveFlushDuration(time.Duration) {}

// AddDelivered implements Metrics.
func (NopMetrics) AddDelivered(int) {}

// AddRetries implements Metrics.
func (NopMetrics) AddRetries(int) {}

// AddDropped implements Metrics.
func (NopMetrics) AddDropped(int) {}

// AddEvicted implements Metrics.
func (NopMetrics) AddEvicted(int) {}

// SetQueueDepth implements Metrics.
func (NopMetrics) SetQueueDepth(int) {}
