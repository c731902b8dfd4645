package relink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	defaultMaxQueueSize = 100
	defaultMaxRetries   = 3
)

// SendFunc delivers one message during a flush pass.
type SendFunc func(ctx context.Context, msg Message) error

// OverflowHandler is called when a full queue evicts its oldest message.
type OverflowHandler func(evicted QueuedMessage)

// DeliveryFailureHandler is called when a message exhausts its delivery retries.
type DeliveryFailureHandler func(msg QueuedMessage, err error)

// QueueConfig defines outbound queue behavior.
type QueueConfig struct {
	// MaxSize bounds the queue; the oldest message is evicted at capacity.
	MaxSize int
	// MaxRetries bounds failed delivery attempts per message.
	MaxRetries int
	// Storage, when set, persists the queue under StorageKey.
	Storage Storage
	// StorageKey names the persisted snapshot; required with Storage.
	StorageKey string
	Clock      Clock
	Generator  IDGenerator
	Logger     Logger
	Metrics    Metrics
	// OnOverflow observes FIFO evictions.
	OnOverflow OverflowHandler
	// OnDeliveryFailure observes retry-exhausted removals.
	OnDeliveryFailure DeliveryFailureHandler
}

func (c QueueConfig) withDefaults() QueueConfig {
	if c.MaxSize <= 0 {
		c.MaxSize = defaultMaxQueueSize
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.Clock == nil {
		c.Clock = SystemClock{}
	}
	if c.Generator == nil {
		c.Generator = UUIDv7Generator{}
	}
	if c.Logger == nil {
		c.Logger = NopLogger{}
	}
	if c.Metrics == nil {
		c.Metrics = NopMetrics{}
	}

	return c
}

// QueueOption configures a Queue.
type QueueOption func(*QueueConfig)

// WithQueueMaxSize sets the queue capacity.
func WithQueueMaxSize(size int) QueueOption {
	return func(c *QueueConfig) {
		c.MaxSize = size
	}
}

// WithQueueMaxRetries sets the per-message delivery retry cap.
func WithQueueMaxRetries(retries int) QueueOption {
	return func(c *QueueConfig) {
		c.MaxRetries = retries
	}
}

// WithQueueStorage enables persistence under the given key.
func WithQueueStorage(storage Storage, key string) QueueOption {
	return func(c *QueueConfig) {
		c.Storage = storage
		c.StorageKey = key
	}
}

// WithQueueClock sets the queue clock.
func WithQueueClock(clock Clock) QueueOption {
	return func(c *QueueConfig) {
		c.Clock = clock
	}
}

// WithQueueGenerator sets the message ID generator.
func WithQueueGenerator(generator IDGenerator) QueueOption {
	return func(c *QueueConfig) {
		c.Generator = generator
	}
}

// WithQueueLogger sets the queue logger.
func WithQueueLogger(logger Logger) QueueOption {
	return func(c *QueueConfig) {
		c.Logger = logger
	}
}

// WithQueueMetrics sets the queue metrics recorder.
func WithQueueMetrics(metrics Metrics) QueueOption {
	return func(c *QueueConfig) {
		c.Metrics = metrics
	}
}

// WithOverflowHandler registers an eviction observer.
func WithOverflowHandler(fn OverflowHandler) QueueOption {
	return func(c *QueueConfig) {
		c.OnOverflow = fn
	}
}

// WithDeliveryFailureHandler registers a retry-exhaustion observer.
func WithDeliveryFailureHandler(fn DeliveryFailureHandler) QueueOption {
	return func(c *QueueConfig) {
		c.OnDeliveryFailure = fn
	}
}

// Queue is a bounded FIFO buffer for messages awaiting delivery.
//
// Eviction and flush both follow strict insertion order: the first message
// enqueued is the first evicted at capacity and the first attempted on flush.
type Queue struct {
	cfg   QueueConfig
	mu    sync.Mutex
	items []QueuedMessage
}

// NewQueue constructs a Queue, reloading any persisted snapshot.
func NewQueue(opts ...QueueOption) (*Queue, error) {
	var cfg QueueConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	if cfg.Storage != nil && cfg.StorageKey == "" {
		return nil, ErrStorageKeyRequired
	}

	q := &Queue{cfg: cfg}
	if err := q.reload(); err != nil {
		return nil, err
	}
	q.cfg.Metrics.SetQueueDepth(len(q.items))

	return q, nil
}

// MustNewQueue constructs a Queue or panics on error.
func MustNewQueue(opts ...QueueOption) *Queue {
	q, err := NewQueue(opts...)
	if err != nil {
		panic(err)
	}

	return q
}

// Enqueue appends a message and returns its assigned identifier.
//
// At capacity the oldest message is evicted first and reported through the
// overflow handler; data loss is accepted only under sustained overflow, and it
// is always observable.
func (q *Queue) Enqueue(msgType string, payload json.RawMessage) (ID, error) {
	if err := (Message{Type: msgType, Payload: payload}).Validate(); err != nil {
		return ID{}, err
	}

	id, err := q.cfg.Generator.New()
	if err != nil {
		return ID{}, err
	}

	msg := QueuedMessage{
		ID:         id,
		Type:       msgType,
		Payload:    payload,
		EnqueuedAt: q.cfg.Clock.Now(),
	}

	q.mu.Lock()
	var evicted *QueuedMessage
	if len(q.items) >= q.cfg.MaxSize {
		head := q.items[0]
		evicted = &head
		q.items = append(q.items[:0], q.items[1:]...)
	}
	q.items = append(q.items, msg)
	q.persistLocked()
	depth := len(q.items)
	q.mu.Unlock()

	q.cfg.Metrics.SetQueueDepth(depth)
	if evicted != nil {
		q.cfg.Metrics.AddEvicted(1)
		q.cfg.Logger.Warn("relink queue overflow, evicting oldest message",
			"evicted_id", evicted.ID.String(), "type", evicted.Type)
		if q.cfg.OnOverflow != nil {
			q.cfg.OnOverflow(*evicted)
		}
	}

	return id, nil
}

// Flush attempts delivery of every queued message in insertion order.
//
// A failed item stays queued with its retry counter incremented until the
// counter reaches the retry cap, at which point it is removed and reported
// exactly once through the delivery-failure handler. One item's failure never
// stops the pass. The returned count is the number of successful deliveries.
func (q *Queue) Flush(ctx context.Context, send SendFunc) (int, error) {
	start := time.Now()
	defer func() {
		q.cfg.Metrics.ObserveFlushDuration(time.Since(start))
	}()

	q.mu.Lock()
	snapshot := make([]QueuedMessage, len(q.items))
	copy(snapshot, q.items)
	q.mu.Unlock()

	delivered := 0
	for _, msg := range snapshot {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}

		sendErr := send(ctx, msg.Envelope())
		if sendErr == nil {
			if q.remove(msg.ID) {
				delivered++
			}

			continue
		}

		dropped, attempts := q.recordFailure(msg.ID)
		if !dropped {
			q.cfg.Logger.Debug("relink delivery failed, message retained",
				"id", msg.ID.String(), "attempts", attempts, "err", sendErr)

			continue
		}

		q.cfg.Logger.Warn("relink delivery retries exhausted, dropping message",
			"id", msg.ID.String(), "type", msg.Type, "err", sendErr)
		if q.cfg.OnDeliveryFailure != nil {
			msg.Attempts = attempts
			q.cfg.OnDeliveryFailure(msg, sendErr)
		}
	}

	q.mu.Lock()
	depth := len(q.items)
	q.mu.Unlock()

	q.cfg.Metrics.AddDelivered(delivered)
	q.cfg.Metrics.SetQueueDepth(depth)

	return delivered, nil
}

// Size returns the current queue length.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items)
}

// Messages returns a copy of the queued messages in insertion order.
func (q *Queue) Messages() []QueuedMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]QueuedMessage, len(q.items))
	copy(out, q.items)

	return out
}

// remove deletes the message with the given ID; it reports whether it was
// still present (a concurrent eviction may have removed it already).
func (q *Queue) remove(id ID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.items {
		if q.items[i].ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			q.persistLocked()

			return true
		}
	}

	return false
}

// recordFailure bumps the retry counter for id, removing the message once the
// counter reaches the cap. It returns whether the message was dropped and the
// counter value after the update.
func (q *Queue) recordFailure(id ID) (dropped bool, attempts int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.items {
		if q.items[i].ID != id {
			continue
		}
		if q.items[i].Attempts >= q.cfg.MaxRetries {
			attempts = q.items[i].Attempts
			q.items = append(q.items[:i], q.items[i+1:]...)
			q.persistLocked()
			q.cfg.Metrics.AddDropped(1)

			return true, attempts
		}
		q.items[i].Attempts++
		q.persistLocked()
		q.cfg.Metrics.AddRetries(1)

		return false, q.items[i].Attempts
	}

	return false, 0
}

func (q *Queue) reload() error {
	if q.cfg.Storage == nil {
		return nil
	}

	data, err := q.cfg.Storage.Get(context.Background(), q.cfg.StorageKey)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}

		return fmt.Errorf("relink: reload queue snapshot failed: %w", err)
	}

	var items []QueuedMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("%w: %v", ErrQueueCorrupt, err)
	}
	q.items = items

	return nil
}

// persistLocked mirrors the queue to storage; callers hold q.mu.
func (q *Queue) persistLocked() {
	if q.cfg.Storage == nil {
		return
	}

	ctx := context.Background()
	if len(q.items) == 0 {
		if err := q.cfg.Storage.Delete(ctx, q.cfg.StorageKey); err != nil {
			q.cfg.Logger.Warn("relink queue snapshot delete failed", "err", err)
		}

		return
	}

	data, err := json.Marshal(q.items)
	if err != nil {
		q.cfg.Logger.Error("relink queue snapshot encode failed", "err", err)

		return
	}
	if err := q.cfg.Storage.Set(ctx, q.cfg.StorageKey, data); err != nil {
		q.cfg.Logger.Warn("relink queue snapshot write failed", "err", err)
	}
}
