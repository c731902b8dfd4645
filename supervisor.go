package relink

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// PingType is the envelope type of heartbeat messages.
const PingType = "ping"

type pingPayload struct {
	Timestamp int64 `json:"timestamp"`
}

// StatusHandler observes status transitions.
type StatusHandler func(old, new Status)

// ErrorHandler observes locally recovered errors (transport faults, inbound
// frames that fail to parse).
type ErrorHandler func(err error)

// Supervisor owns the transport lifecycle for one logical connection.
//
// It mediates between application calls and the transport: sends are forwarded
// while connected and buffered in the outbound queue otherwise, transport
// failures trigger the reconnect flow, and a successful reconnect drains the
// queue before direct sends resume. Transport errors never surface to callers;
// retry exhaustion is observable as the failed status.
type Supervisor struct {
	dialer   Dialer
	queue    *Queue
	backoff  *Backoff
	cfg      SupervisorConfig
	notifier *notifier

	mu           sync.Mutex
	status       Status
	conn         Conn
	connCtx      context.Context
	connCancel   context.CancelFunc
	gen          int
	draining     bool
	closed       bool
	lastActivity time.Time
	statusSubs   map[int]StatusHandler
	errorSubs    map[int]ErrorHandler
	msgSubs      map[string]map[int]Handler
	nextSubID    int

	netUnsub func()
}

// NewSupervisor constructs a Supervisor around the given transport dialer.
func NewSupervisor(dialer Dialer, opts ...Option) *Supervisor {
	if dialer == nil {
		panic("relink: nil Dialer")
	}

	var cfg SupervisorConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	s := &Supervisor{
		dialer:     dialer,
		queue:      cfg.Queue,
		backoff:    cfg.Backoff,
		cfg:        cfg,
		notifier:   newNotifier(),
		status:     StatusDisconnected,
		statusSubs: make(map[int]StatusHandler),
		errorSubs:  make(map[int]ErrorHandler),
		msgSubs:    make(map[string]map[int]Handler),
	}
	if s.queue == nil {
		s.queue = MustNewQueue(
			WithQueueClock(cfg.Clock),
			WithQueueLogger(cfg.Logger),
			WithQueueMetrics(cfg.Metrics),
		)
	}
	if s.backoff == nil {
		s.backoff = NewBackoff()
	}
	s.netUnsub = cfg.Network.OnChange(func(online bool) {
		if online {
			s.networkRestored()
		}
	})

	return s
}

// Status returns the current connection status.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.status
}

// Queue returns the outbound queue.
func (s *Supervisor) Queue() *Queue {
	return s.queue
}

// Connect initiates the transport dial.
//
// It is idempotent: a no-op while already connecting or connected. Calling it
// from the failed status is the manual reset, it zeroes the reconnect attempt
// counter and tries again.
func (s *Supervisor) Connect() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()

		return
	}
	if s.status == StatusConnecting || s.status == StatusConnected {
		s.mu.Unlock()

		return
	}
	s.backoff.Reset()
	gen := s.gen
	s.setStatusLocked(StatusConnecting)
	s.mu.Unlock()

	go s.dial(gen)
}

// Disconnect closes the connection and cancels any pending reconnect timer.
//
// Queued messages are retained for a future connection.
func (s *Supervisor) Disconnect() {
	s.mu.Lock()
	if s.closed || s.status == StatusDisconnected {
		s.mu.Unlock()

		return
	}
	s.teardownLocked()
	s.setStatusLocked(StatusDisconnected)
	s.mu.Unlock()

	s.backoff.Cancel()
}

// Close disconnects and releases all observers and background resources. The
// Supervisor is unusable afterwards.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()

		return nil
	}
	s.teardownLocked()
	if s.status != StatusDisconnected {
		s.setStatusLocked(StatusDisconnected)
	}
	s.closed = true
	s.mu.Unlock()

	s.backoff.Cancel()
	s.netUnsub()
	s.notifier.close()

	return nil
}

// Send transmits a message, buffering it when the connection is unavailable.
//
// The payload may be any JSON-serializable value or a json.RawMessage. While
// connected (and not draining a flush) the message goes straight to the
// transport; a synchronous send failure enqueues it and triggers the reconnect
// flow. In every other status the message is enqueued, never dropped silently.
// The returned error covers invalid input only, not transport faults.
func (s *Supervisor) Send(ctx context.Context, msgType string, payload any) error {
	raw, err := marshalPayload(payload)
	if err != nil {
		return err
	}
	msg := Message{Type: msgType, Payload: raw}
	if err := msg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()

		return ErrSupervisorClosed
	}
	if s.status != StatusConnected || s.draining {
		s.mu.Unlock()
		if _, enqErr := s.queue.Enqueue(msgType, raw); enqErr != nil {
			return enqErr
		}
		// The drain pass may have finished between the status check and the
		// enqueue; restart it so the message is not stranded until the next
		// reconnect.
		s.kickFlush()

		return nil
	}
	conn := s.conn
	gen := s.gen
	s.mu.Unlock()

	if sendErr := s.write(ctx, conn, msg); sendErr != nil {
		if _, enqErr := s.queue.Enqueue(msgType, raw); enqErr != nil {
			return enqErr
		}
		s.transportError(gen, sendErr)
	}

	return nil
}

// OnStatusChange registers a transition observer and returns an unsubscribe
// function. Observers run off the caller's goroutine, one transition at a time,
// in order.
func (s *Supervisor) OnStatusChange(fn StatusHandler) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSubID
	s.nextSubID++
	s.statusSubs[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.statusSubs, id)
	}
}

// OnError registers an observer for locally recovered errors and returns an
// unsubscribe function.
func (s *Supervisor) OnError(fn ErrorHandler) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSubID
	s.nextSubID++
	s.errorSubs[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.errorSubs, id)
	}
}

// Subscribe registers a handler for inbound messages of the given envelope type
// and returns an unsubscribe function.
func (s *Supervisor) Subscribe(eventType string, h Handler) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSubID
	s.nextSubID++
	if s.msgSubs[eventType] == nil {
		s.msgSubs[eventType] = make(map[int]Handler)
	}
	s.msgSubs[eventType][id] = h

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		handlers := s.msgSubs[eventType]
		delete(handlers, id)
		if len(handlers) == 0 {
			delete(s.msgSubs, eventType)
		}
	}
}

// dial runs one transport-open attempt for the given connection generation.
func (s *Supervisor) dial(gen int) {
	dialCtx, cancel := context.WithTimeout(context.Background(), s.cfg.DialTimeout)
	conn, err := s.dialer.Dial(dialCtx)
	cancel()

	s.mu.Lock()
	if s.closed || gen != s.gen || s.status != StatusConnecting {
		s.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}

		return
	}

	if err != nil {
		s.setStatusLocked(StatusReconnecting)
		s.mu.Unlock()
		s.cfg.Logger.Warn("relink dial failed", "err", err)
		s.notifyError(fmt.Errorf("relink: dial failed: %w", err))
		s.scheduleRetry(gen)

		return
	}

	connCtx, connCancel := context.WithCancel(context.Background())
	s.conn = conn
	s.connCtx = connCtx
	s.connCancel = connCancel
	s.lastActivity = s.cfg.Clock.Now()
	s.draining = true
	s.backoff.Reset()
	s.setStatusLocked(StatusConnected)
	s.mu.Unlock()

	s.cfg.Logger.Info("relink connected")
	go s.readLoop(connCtx, gen, conn)
	if s.cfg.HeartbeatInterval > 0 {
		go s.heartbeatLoop(connCtx, gen, conn)
	}
	go s.drain(connCtx, gen, conn)
}

// scheduleRetry arms the backoff timer; exhaustion transitions to failed.
func (s *Supervisor) scheduleRetry(gen int) {
	s.cfg.Metrics.AddReconnects(1)
	armed := s.backoff.ScheduleReconnect(func() {
		s.retryFired(gen)
	})
	if armed {
		return
	}

	s.mu.Lock()
	if s.closed || gen != s.gen || s.status != StatusReconnecting {
		s.mu.Unlock()

		return
	}
	s.setStatusLocked(StatusFailed)
	s.mu.Unlock()

	s.cfg.Logger.Error("relink reconnect attempts exhausted",
		"attempts", s.backoff.Attempts())
}

func (s *Supervisor) retryFired(gen int) {
	s.mu.Lock()
	if s.closed || gen != s.gen || s.status != StatusReconnecting {
		s.mu.Unlock()

		return
	}
	s.setStatusLocked(StatusConnecting)
	s.mu.Unlock()

	go s.dial(gen)
}

// networkRestored short-circuits a pending backoff delay after an
// offline-to-online edge.
func (s *Supervisor) networkRestored() {
	s.mu.Lock()
	if s.closed || s.status != StatusReconnecting {
		s.mu.Unlock()

		return
	}
	gen := s.gen
	s.setStatusLocked(StatusConnecting)
	s.mu.Unlock()

	s.backoff.Cancel()
	s.cfg.Logger.Info("relink network restored, retrying immediately")
	go s.dial(gen)
}

// transportError handles a close or error event from the current connection.
// Stale generations are ignored, which makes Disconnect's timer cancellation
// atomic with its status transition.
func (s *Supervisor) transportError(gen int, err error) {
	s.mu.Lock()
	if s.closed || gen != s.gen || s.status != StatusConnected {
		s.mu.Unlock()

		return
	}
	s.teardownLocked()
	s.setStatusLocked(StatusReconnecting)
	gen = s.gen
	s.mu.Unlock()

	s.cfg.Logger.Warn("relink connection lost", "err", err)
	s.notifyError(fmt.Errorf("relink: connection lost: %w", err))
	s.scheduleRetry(gen)
}

// teardownLocked invalidates the current generation and closes the transport.
// Callers hold s.mu.
func (s *Supervisor) teardownLocked() {
	s.gen++
	s.draining = false
	if s.connCancel != nil {
		s.connCancel()
		s.connCancel = nil
		s.connCtx = nil
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

func (s *Supervisor) readLoop(ctx context.Context, gen int, conn Conn) {
	for {
		data, err := conn.Receive(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.transportError(gen, err)
			}

			return
		}

		s.mu.Lock()
		if gen == s.gen {
			s.lastActivity = s.cfg.Clock.Now()
		}
		s.mu.Unlock()

		msg, decErr := DecodeMessage(data)
		if decErr != nil {
			s.cfg.Logger.Warn("relink inbound message rejected", "err", decErr)
			s.notifyError(fmt.Errorf("relink: inbound message rejected: %w", decErr))

			continue
		}
		s.dispatch(msg)
	}
}

func (s *Supervisor) heartbeatLoop(ctx context.Context, gen int, conn Conn) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		last := s.lastActivity
		s.mu.Unlock()

		if s.cfg.HeartbeatTimeout > 0 && s.cfg.Clock.Now().Sub(last) > s.cfg.HeartbeatTimeout {
			s.transportError(gen, ErrLivenessTimeout)

			return
		}

		payload, _ := json.Marshal(pingPayload{
			Timestamp: s.cfg.Clock.Now().UnixMilli(),
		})
		err := s.write(ctx, conn, Message{Type: PingType, Payload: payload})
		if err != nil {
			if ctx.Err() == nil {
				s.transportError(gen, err)
			}

			return
		}
	}
}

// drain flushes the queue after a connect. Direct sends stay diverted into the
// queue until a pass empties it or makes no progress, preserving FIFO order
// across the reconnect boundary.
func (s *Supervisor) drain(ctx context.Context, gen int, conn Conn) {
	for {
		s.mu.Lock()
		if s.closed || gen != s.gen || ctx.Err() != nil {
			s.mu.Unlock()

			return
		}
		if s.queue.Size() == 0 {
			s.draining = false
			s.mu.Unlock()

			return
		}
		s.mu.Unlock()

		delivered, err := s.queue.Flush(ctx, func(ctx context.Context, msg Message) error {
			return s.write(ctx, conn, msg)
		})
		if err != nil {
			return
		}
		if delivered == 0 {
			// Every remaining message is failing; stop diverting direct sends
			// and leave the stragglers for the next flush.
			s.mu.Lock()
			if gen == s.gen {
				s.draining = false
			}
			s.mu.Unlock()

			return
		}
	}
}

// kickFlush restarts the drain pass when a message lands in the queue while
// connected but no pass is running.
func (s *Supervisor) kickFlush() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.status != StatusConnected || s.draining {
		return
	}
	if s.queue.Size() == 0 {
		return
	}
	s.draining = true
	go s.drain(s.connCtx, s.gen, s.conn)
}

// write encodes and transmits one envelope with the write timeout applied.
func (s *Supervisor) write(ctx context.Context, conn Conn, msg Message) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	writeCtx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
	defer cancel()

	return conn.Send(writeCtx, data)
}

func (s *Supervisor) dispatch(msg Message) {
	s.mu.Lock()
	handlers := make([]Handler, 0, len(s.msgSubs[msg.Type]))
	for _, h := range s.msgSubs[msg.Type] {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()

	if len(handlers) == 0 {
		s.cfg.Logger.Debug("relink inbound message without subscriber", "type", msg.Type)

		return
	}
	for _, h := range handlers {
		h.Handle(msg)
	}
}

// setStatusLocked transitions the status and publishes the change. Callers
// hold s.mu; observers run on the notifier goroutine, strictly in order.
func (s *Supervisor) setStatusLocked(next Status) {
	if s.status == next {
		return
	}
	old := s.status
	s.status = next

	subs := make([]StatusHandler, 0, len(s.statusSubs))
	for _, fn := range s.statusSubs {
		subs = append(subs, fn)
	}
	s.notifier.publish(func() {
		for _, fn := range subs {
			fn(old, next)
		}
	})
}

func (s *Supervisor) notifyError(err error) {
	s.mu.Lock()
	subs := make([]ErrorHandler, 0, len(s.errorSubs))
	for _, fn := range s.errorSubs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	s.notifier.publish(func() {
		for _, fn := range subs {
			fn(err)
		}
	})
}

func marshalPayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	default:
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}

		return data, nil
	}
}
