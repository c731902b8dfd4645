package relink

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

var (
	errConnClosed  = errors.New("fake conn closed")
	errDialRefused = errors.New("fake dial refused")
)

type fakeConn struct {
	mu      sync.Mutex
	sent    []Message
	sendErr error
	inbound chan []byte
	closed  chan struct{}
	once    sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) Send(_ context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sendErr != nil {
		return c.sendErr
	}
	msg, err := DecodeMessage(data)
	if err != nil {
		return err
	}
	c.sent = append(c.sent, msg)

	return nil
}

func (c *fakeConn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, errConnClosed
	case data := <-c.inbound:
		return data, nil
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() {
		close(c.closed)
	})

	return nil
}

func (c *fakeConn) failSends(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

func (c *fakeConn) sentTypes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, 0, len(c.sent))
	for _, msg := range c.sent {
		out = append(out, msg.Type)
	}

	return out
}

func (c *fakeConn) hasSent(msgType string) bool {
	for _, sent := range c.sentTypes() {
		if sent == msgType {
			return true
		}
	}

	return false
}

type fakeDialer struct {
	mu           sync.Mutex
	dials        int
	failuresLeft int
	gate         chan struct{}
	conns        []*fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context) (Conn, error) {
	d.mu.Lock()
	d.dials++
	gate := d.gate
	fail := d.failuresLeft != 0
	if d.failuresLeft > 0 {
		d.failuresLeft--
	}
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail {
		return nil, errDialRefused
	}

	conn := newFakeConn()
	d.mu.Lock()
	d.conns = append(d.conns, conn)
	d.mu.Unlock()

	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.dials
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()

	if i < 0 {
		i += len(d.conns)
	}
	if i < 0 || i >= len(d.conns) {
		return nil
	}

	return d.conns[i]
}

func (d *fakeDialer) stopFailing() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failuresLeft = 0
}

type transitionLog struct {
	mu    sync.Mutex
	trans [][2]Status
}

func (l *transitionLog) record(old, next Status) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.trans = append(l.trans, [2]Status{old, next})
}

func (l *transitionLog) all() [][2]Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([][2]Status, len(l.trans))
	copy(out, l.trans)

	return out
}

func (l *transitionLog) contains(old, next Status) bool {
	for _, tr := range l.all() {
		if tr[0] == old && tr[1] == next {
			return true
		}
	}

	return false
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", msg)
}

// fastOpts keeps reconnect timing tight and heartbeats off unless a test
// enables them.
func fastOpts(extra ...Option) []Option {
	opts := []Option{
		WithBackoff(NewBackoff(
			WithBackoffBase(2*time.Millisecond),
			WithBackoffMultiplier(2),
			WithBackoffMax(20*time.Millisecond),
			WithBackoffJitter(0),
			WithMaxAttempts(10),
		)),
		WithHeartbeatInterval(0),
		WithDialTimeout(500 * time.Millisecond),
		WithWriteTimeout(500 * time.Millisecond),
	}

	return append(opts, extra...)
}

func TestSupervisorConnectLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t)

	dialer := &fakeDialer{}
	sup := NewSupervisor(dialer, fastOpts()...)

	var log transitionLog
	unsub := sup.OnStatusChange(log.record)
	defer unsub()

	sup.Connect()
	waitFor(t, func() bool { return sup.Status() == StatusConnected }, "connected")

	if !log.contains(StatusDisconnected, StatusConnecting) {
		t.Fatalf("missing disconnected->connecting transition: %v", log.all())
	}
	if !log.contains(StatusConnecting, StatusConnected) {
		t.Fatalf("missing connecting->connected transition: %v", log.all())
	}

	if err := sup.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	waitFor(t, func() bool { return dialer.conn(-1) != nil }, "conn recorded")
}

func TestSupervisorConnectIdempotent(t *testing.T) {
	gate := make(chan struct{})
	dialer := &fakeDialer{gate: gate}
	sup := NewSupervisor(dialer, fastOpts()...)
	defer func() {
		_ = sup.Close()
	}()

	sup.Connect()
	sup.Connect()
	sup.Connect()
	close(gate)

	waitFor(t, func() bool { return sup.Status() == StatusConnected }, "connected")
	if got := dialer.dialCount(); got != 1 {
		t.Fatalf("expected exactly one dial, got %d", got)
	}
}

func TestSupervisorSendWhileDisconnectedEnqueues(t *testing.T) {
	dialer := &fakeDialer{}
	sup := NewSupervisor(dialer, fastOpts()...)
	defer func() {
		_ = sup.Close()
	}()

	if err := sup.Send(context.Background(), "note", map[string]int{"n": 1}); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	if got := sup.Queue().Size(); got != 1 {
		t.Fatalf("expected 1 queued message, got %d", got)
	}
	if got := dialer.dialCount(); got != 0 {
		t.Fatalf("expected no dials, got %d", got)
	}
}

func TestSupervisorSendWhileConnected(t *testing.T) {
	dialer := &fakeDialer{}
	sup := NewSupervisor(dialer, fastOpts()...)
	defer func() {
		_ = sup.Close()
	}()

	sup.Connect()
	waitFor(t, func() bool { return sup.Status() == StatusConnected }, "connected")

	if err := sup.Send(context.Background(), "note", map[string]int{"n": 1}); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	waitFor(t, func() bool { return dialer.conn(0).hasSent("note") }, "note transmitted")
}

func TestSupervisorReconnectsAfterDialFailure(t *testing.T) {
	dialer := &fakeDialer{failuresLeft: 2}
	backoff := NewBackoff(
		WithBackoffBase(2*time.Millisecond),
		WithBackoffJitter(0),
		WithMaxAttempts(10),
	)
	sup := NewSupervisor(dialer, fastOpts(WithBackoff(backoff))...)
	defer func() {
		_ = sup.Close()
	}()

	var log transitionLog
	defer sup.OnStatusChange(log.record)()

	sup.Connect()
	waitFor(t, func() bool { return sup.Status() == StatusConnected }, "connected")

	if got := dialer.dialCount(); got != 3 {
		t.Fatalf("expected 3 dials, got %d", got)
	}
	if !log.contains(StatusConnecting, StatusReconnecting) {
		t.Fatalf("missing connecting->reconnecting transition: %v", log.all())
	}
	if got := backoff.Attempts(); got != 0 {
		t.Fatalf("expected attempt counter reset on success, got %d", got)
	}
}

func TestSupervisorFailsAfterMaxAttempts(t *testing.T) {
	dialer := &fakeDialer{failuresLeft: -1}
	backoff := NewBackoff(
		WithBackoffBase(time.Millisecond),
		WithBackoffJitter(0),
		WithMaxAttempts(3),
	)
	sup := NewSupervisor(dialer, fastOpts(WithBackoff(backoff))...)
	defer func() {
		_ = sup.Close()
	}()

	sup.Connect()
	waitFor(t, func() bool { return sup.Status() == StatusFailed }, "failed")

	// One initial dial plus one per scheduled attempt.
	if got := dialer.dialCount(); got != 4 {
		t.Fatalf("expected 4 dials, got %d", got)
	}
	if !backoff.HasReachedMax() {
		t.Fatal("expected backoff at max attempts")
	}

	// Connect from failed is the manual reset.
	dialer.stopFailing()
	sup.Connect()
	waitFor(t, func() bool { return sup.Status() == StatusConnected }, "connected after reset")
}

func TestSupervisorDisconnectCancelsRetry(t *testing.T) {
	dialer := &fakeDialer{failuresLeft: -1}
	backoff := NewBackoff(
		WithBackoffBase(30*time.Millisecond),
		WithBackoffJitter(0),
		WithMaxAttempts(10),
	)
	sup := NewSupervisor(dialer, fastOpts(WithBackoff(backoff))...)
	defer func() {
		_ = sup.Close()
	}()

	sup.Connect()
	waitFor(t, func() bool { return sup.Status() == StatusReconnecting }, "reconnecting")

	sup.Disconnect()
	if got := sup.Status(); got != StatusDisconnected {
		t.Fatalf("expected disconnected, got %v", got)
	}

	dials := dialer.dialCount()
	time.Sleep(120 * time.Millisecond)
	if got := sup.Status(); got != StatusDisconnected {
		t.Fatalf("late timer reopened the connection: %v", got)
	}
	if got := dialer.dialCount(); got != dials {
		t.Fatalf("expected no dials after disconnect, got %d extra", got-dials)
	}
}

func TestSupervisorReconnectsOnTransportLoss(t *testing.T) {
	dialer := &fakeDialer{}
	sup := NewSupervisor(dialer, fastOpts()...)
	defer func() {
		_ = sup.Close()
	}()

	var log transitionLog
	defer sup.OnStatusChange(log.record)()

	sup.Connect()
	waitFor(t, func() bool { return sup.Status() == StatusConnected }, "connected")

	_ = dialer.conn(0).Close()
	waitFor(t, func() bool { return dialer.dialCount() == 2 }, "redial")
	waitFor(t, func() bool { return sup.Status() == StatusConnected }, "reconnected")

	if !log.contains(StatusConnected, StatusReconnecting) {
		t.Fatalf("missing connected->reconnecting transition: %v", log.all())
	}
}

func TestSupervisorFlushesQueueOnConnect(t *testing.T) {
	dialer := &fakeDialer{}
	sup := NewSupervisor(dialer, fastOpts()...)
	defer func() {
		_ = sup.Close()
	}()

	ctx := context.Background()
	for _, msgType := range []string{"a", "b", "c"} {
		if err := sup.Send(ctx, msgType, map[string]int{"n": 1}); err != nil {
			t.Fatalf("send %q failed: %v", msgType, err)
		}
	}
	if got := sup.Queue().Size(); got != 3 {
		t.Fatalf("expected 3 queued, got %d", got)
	}

	sup.Connect()
	waitFor(t, func() bool { return sup.Queue().Size() == 0 }, "queue drained")

	got := dialer.conn(0).sentTypes()
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("flush out of order: expected %v, got %v", want, got)
		}
	}
}

func TestSupervisorSendFailureTriggersReconnect(t *testing.T) {
	dialer := &fakeDialer{}
	sup := NewSupervisor(dialer, fastOpts()...)
	defer func() {
		_ = sup.Close()
	}()

	sup.Connect()
	waitFor(t, func() bool { return sup.Status() == StatusConnected }, "connected")

	dialer.conn(0).failSends(errors.New("broken pipe"))
	if err := sup.Send(context.Background(), "note", map[string]int{"n": 1}); err != nil {
		t.Fatalf("send must not surface transport errors, got %v", err)
	}

	// The message is preserved and delivered over the replacement connection.
	waitFor(t, func() bool { return dialer.dialCount() == 2 }, "redial")
	waitFor(t, func() bool {
		conn := dialer.conn(1)

		return conn != nil && conn.hasSent("note")
	}, "note redelivered")
}

func TestSupervisorInboundDispatch(t *testing.T) {
	dialer := &fakeDialer{}
	sup := NewSupervisor(dialer, fastOpts()...)
	defer func() {
		_ = sup.Close()
	}()

	var mu sync.Mutex
	var received []string
	unsub := sup.Subscribe("evt", HandlerFunc(func(msg Message) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, string(msg.Payload))
	}))

	var errMu sync.Mutex
	var recovered []error
	defer sup.OnError(func(err error) {
		errMu.Lock()
		defer errMu.Unlock()
		recovered = append(recovered, err)
	})()

	sup.Connect()
	waitFor(t, func() bool { return sup.Status() == StatusConnected }, "connected")
	conn := dialer.conn(0)

	conn.inbound <- []byte(`{"type":"evt","payload":{"n":1}}`)
	conn.inbound <- []byte(`{"type":"other","payload":{}}`)
	conn.inbound <- []byte(`{bad json`)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(received) == 1
	}, "evt dispatched")
	waitFor(t, func() bool {
		errMu.Lock()
		defer errMu.Unlock()

		for _, err := range recovered {
			if errors.Is(err, ErrInvalidEnvelope) {
				return true
			}
		}

		return false
	}, "malformed frame reported")

	// After unsubscribe no further messages are delivered.
	unsub()
	conn.inbound <- []byte(`{"type":"evt","payload":{"n":2}}`)
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("expected 1 delivery after unsubscribe, got %d", len(received))
	}
}

func TestSupervisorHeartbeat(t *testing.T) {
	dialer := &fakeDialer{}
	sup := NewSupervisor(dialer, fastOpts(
		WithHeartbeatInterval(10*time.Millisecond),
		WithHeartbeatTimeout(time.Hour),
	)...)
	defer func() {
		_ = sup.Close()
	}()

	sup.Connect()
	waitFor(t, func() bool { return sup.Status() == StatusConnected }, "connected")
	waitFor(t, func() bool { return dialer.conn(0).hasSent(PingType) }, "ping sent")

	conn := dialer.conn(0)
	conn.mu.Lock()
	var ping *Message
	for i := range conn.sent {
		if conn.sent[i].Type == PingType {
			ping = &conn.sent[i]

			break
		}
	}
	conn.mu.Unlock()
	if ping == nil {
		t.Fatal("no ping captured")
	}

	var payload struct {
		Timestamp int64 `json:"timestamp"`
	}
	if err := json.Unmarshal(ping.Payload, &payload); err != nil {
		t.Fatalf("ping payload malformed: %v", err)
	}
	if payload.Timestamp == 0 {
		t.Fatal("ping payload missing timestamp")
	}
}

func TestSupervisorLivenessTimeout(t *testing.T) {
	dialer := &fakeDialer{}
	sup := NewSupervisor(dialer, fastOpts(
		WithHeartbeatInterval(10*time.Millisecond),
		WithHeartbeatTimeout(5*time.Millisecond),
	)...)
	defer func() {
		_ = sup.Close()
	}()

	var errMu sync.Mutex
	var recovered []error
	defer sup.OnError(func(err error) {
		errMu.Lock()
		defer errMu.Unlock()
		recovered = append(recovered, err)
	})()

	sup.Connect()
	waitFor(t, func() bool { return dialer.dialCount() >= 2 }, "liveness redial")
	waitFor(t, func() bool {
		errMu.Lock()
		defer errMu.Unlock()

		for _, err := range recovered {
			if errors.Is(err, ErrLivenessTimeout) {
				return true
			}
		}

		return false
	}, "liveness timeout reported")
}

type fakeNetwork struct {
	mu     sync.Mutex
	online bool
	subs   map[int]func(bool)
	nextID int
}

func newFakeNetwork(online bool) *fakeNetwork {
	return &fakeNetwork{online: online, subs: make(map[int]func(bool))}
}

func (n *fakeNetwork) Online() bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.online
}

func (n *fakeNetwork) OnChange(fn func(bool)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++
	n.subs[id] = fn

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.subs, id)
	}
}

func (n *fakeNetwork) set(online bool) {
	n.mu.Lock()
	n.online = online
	subs := make([]func(bool), 0, len(n.subs))
	for _, fn := range n.subs {
		subs = append(subs, fn)
	}
	n.mu.Unlock()

	for _, fn := range subs {
		fn(online)
	}
}

func TestSupervisorNetworkRestoredShortCircuitsBackoff(t *testing.T) {
	dialer := &fakeDialer{failuresLeft: 1}
	network := newFakeNetwork(false)
	backoff := NewBackoff(
		WithBackoffBase(time.Hour),
		WithBackoffJitter(0),
		WithMaxAttempts(10),
	)
	sup := NewSupervisor(dialer, fastOpts(
		WithBackoff(backoff),
		WithNetworkStatus(network),
	)...)
	defer func() {
		_ = sup.Close()
	}()

	sup.Connect()
	waitFor(t, func() bool { return sup.Status() == StatusReconnecting }, "reconnecting")

	// The armed timer would not fire for an hour; the online edge retries now.
	network.set(true)
	waitFor(t, func() bool { return sup.Status() == StatusConnected }, "connected")
	if got := dialer.dialCount(); got != 2 {
		t.Fatalf("expected 2 dials, got %d", got)
	}
}

func TestSupervisorClosed(t *testing.T) {
	dialer := &fakeDialer{}
	sup := NewSupervisor(dialer, fastOpts()...)

	if err := sup.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := sup.Close(); err != nil {
		t.Fatalf("second close failed: %v", err)
	}

	if err := sup.Send(context.Background(), "note", nil); !errors.Is(err, ErrSupervisorClosed) {
		t.Fatalf("expected ErrSupervisorClosed, got %v", err)
	}
	sup.Connect()
	if got := sup.Status(); got != StatusDisconnected {
		t.Fatalf("expected connect on closed supervisor to be a no-op, got %v", got)
	}
}
