package wstransport

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/coder/websocket"

	"github.com/relink-io/relink"
)

// ErrURLRequired is returned when the dialer URL is empty.
var ErrURLRequired = errors.New("wstransport: url is required")

// Config defines WebSocket dial behavior.
type Config struct {
	// HTTPClient overrides the client used for the handshake.
	HTTPClient *http.Client
	// HTTPHeader adds headers to the handshake request.
	HTTPHeader http.Header
	// Subprotocols lists acceptable subprotocols, in preference order.
	Subprotocols []string
}

// Option configures the dialer.
type Option func(*Config)

// WithHTTPClient sets the handshake HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) {
		c.HTTPClient = client
	}
}

// WithHTTPHeader sets extra handshake headers.
func WithHTTPHeader(header http.Header) Option {
	return func(c *Config) {
		c.HTTPHeader = header
	}
}

// WithSubprotocols sets the acceptable subprotocols.
func WithSubprotocols(subprotocols ...string) Option {
	return func(c *Config) {
		c.Subprotocols = subprotocols
	}
}

// Dialer opens WebSocket connections to a fixed URL.
type Dialer struct {
	url string
	cfg Config
}

var _ relink.Dialer = (*Dialer)(nil)

// NewDialer constructs a Dialer for the given ws:// or wss:// URL.
func NewDialer(url string, opts ...Option) (*Dialer, error) {
	if url == "" {
		return nil, ErrURLRequired
	}

	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Dialer{url: url, cfg: cfg}, nil
}

// MustNewDialer constructs a Dialer or panics on error.
func MustNewDialer(url string, opts ...Option) *Dialer {
	d, err := NewDialer(url, opts...)
	if err != nil {
		panic(err)
	}

	return d
}

// Dial implements relink.Dialer.
func (d *Dialer) Dial(ctx context.Context) (relink.Conn, error) {
	ws, resp, err := websocket.Dial(ctx, d.url, &websocket.DialOptions{
		HTTPClient:   d.cfg.HTTPClient,
		HTTPHeader:   d.cfg.HTTPHeader,
		Subprotocols: d.cfg.Subprotocols,
	})
	if err != nil {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}

		return nil, fmt.Errorf("wstransport: dial %s failed: %w", d.url, err)
	}

	return &conn{ws: ws}, nil
}

type conn struct {
	ws *websocket.Conn
}

// Send implements relink.Conn.
func (c *conn) Send(ctx context.Context, data []byte) error {
	if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("wstransport: write failed: %w", err)
	}

	return nil
}

// Receive implements relink.Conn.
func (c *conn) Receive(ctx context.Context) ([]byte, error) {
	_, data, err := c.ws.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("wstransport: read failed: %w", err)
	}

	return data, nil
}

// Close implements relink.Conn.
func (c *conn) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "client closing")
}
