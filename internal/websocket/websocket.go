// Package websocket implements the "websocket" protocol adaptor on
// gorilla/websocket. Each dialog channel owns one connection, optionally
// borrowed from a pool of idle connections.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/torosent/scensim/internal/clientmetrics"
)

const frameQueueSize = 64

// Frame is one WebSocket data message.
type Frame struct {
	Type int // websocket.TextMessage or websocket.BinaryMessage
	Data []byte
}

// Config configures a client connection.
type Config struct {
	URL              string
	Headers          http.Header
	HandshakeTimeout time.Duration
	MaxMessageSize   int64
	Metrics          *clientmetrics.ClientMetrics
}

// Client is one WebSocket connection. A background reader queues inbound
// frames so that Receive can honour context cancellation.
type Client struct {
	url     string
	headers http.Header
	dialer  *websocket.Dialer
	maxSize int64
	metrics *clientmetrics.ClientMetrics

	mu     sync.Mutex // guards conn and writes
	conn   *websocket.Conn
	frames chan Frame
	dead   chan struct{}
	err    error
}

// NewClient creates an unconnected client.
func NewClient(cfg Config) *Client {
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 30 * time.Second
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = 1024 * 1024
	}
	if cfg.Metrics == nil {
		cfg.Metrics = clientmetrics.New()
	}

	dialer := &websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}

	return &Client{
		url:     cfg.URL,
		headers: cfg.Headers,
		dialer:  dialer,
		maxSize: cfg.MaxMessageSize,
		metrics: cfg.Metrics,
	}
}

// Connect performs the handshake and starts the reader.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return fmt.Errorf("already connected")
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.url, c.headers)
	if err != nil {
		if resp != nil {
			return &HandshakeError{Status: resp.StatusCode, Err: err}
		}
		return fmt.Errorf("websocket dial failed: %w", err)
	}
	conn.SetReadLimit(c.maxSize)

	c.conn = conn
	c.frames = make(chan Frame, frameQueueSize)
	c.dead = make(chan struct{})
	c.err = nil
	go c.readLoop(conn, c.frames, c.dead)
	return nil
}

// HandshakeError reports an upgrade refused by the server.
type HandshakeError struct {
	Status int
	Err    error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("websocket dial failed with status %d: %v", e.Status, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

func (c *Client) readLoop(conn *websocket.Conn, frames chan Frame, dead chan struct{}) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			c.err = err
			c.mu.Unlock()
			close(dead)
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		c.metrics.IncrementReceived(int64(len(data)))
		select {
		case frames <- Frame{Type: msgType, Data: data}:
		default:
			// Slow dialog; drop the oldest frame rather than stall the socket.
			select {
			case <-frames:
			default:
			}
			c.metrics.IncrementErrors()
			frames <- Frame{Type: msgType, Data: data}
		}
	}
}

// Send writes one frame. The context deadline, if any, bounds the write.
func (c *Client) Send(ctx context.Context, frame Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	if err := c.conn.WriteMessage(frame.Type, frame.Data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	c.metrics.IncrementSent(int64(len(frame.Data)))
	return nil
}

// Receive returns the next inbound frame. Queued frames are delivered before
// a connection failure is reported.
func (c *Client) Receive(ctx context.Context) (Frame, error) {
	c.mu.Lock()
	frames, dead := c.frames, c.dead
	c.mu.Unlock()

	if frames == nil {
		return Frame{}, fmt.Errorf("not connected")
	}

	select {
	case f := <-frames:
		return f, nil
	default:
	}

	select {
	case f := <-frames:
		return f, nil
	case <-dead:
		select {
		case f := <-frames:
			return f, nil
		default:
		}
		return Frame{}, fmt.Errorf("read message: %w", c.readErr())
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (c *Client) readErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		return errors.New("connection closed")
	}
	return c.err
}

// Alive reports whether the connection is open and its reader running.
func (c *Client) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return false
	}
	select {
	case <-c.dead:
		return false
	default:
		return true
	}
}

// Drain discards queued inbound frames so a pooled connection starts clean.
func (c *Client) Drain() int {
	c.mu.Lock()
	frames := c.frames
	c.mu.Unlock()
	n := 0
	for {
		select {
		case <-frames:
			n++
		default:
			return n
		}
	}
}

// Close closes the WebSocket connection gracefully.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}

	err := c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)

	closeErr := c.conn.Close()
	c.conn = nil

	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return err
	}
	return closeErr
}
