package relink

import "context"

// Conn is an open message-oriented connection.
//
// Receive blocks until a frame arrives, the context is canceled, or the
// connection is lost; any error is treated by the Supervisor as a close event.
type Conn interface {
	// Send transmits one frame.
	Send(ctx context.Context, data []byte) error
	// Receive returns the next inbound frame.
	Receive(ctx context.Context) ([]byte, error)
	// Close tears the connection down.
	Close() error
}

// Dialer opens transport connections.
type Dialer interface {
	// Dial establishes a connection.
	Dial(ctx context.Context) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context) (Conn, error)

// Dial implements Dialer.
func (fn DialerFunc) Dial(ctx context.Context) (Conn, error) {
	return fn(ctx)
}
