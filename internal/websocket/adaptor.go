package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/torosent/scensim/internal/adaptor"
	"github.com/torosent/scensim/internal/auth"
	"github.com/torosent/scensim/internal/clientmetrics"
	"github.com/torosent/scensim/internal/logging"
	"github.com/torosent/scensim/internal/pool"
	"github.com/torosent/scensim/internal/tracing"
)

// Type is the catalog name of the WebSocket adaptor.
const Type = "websocket"

// Message attributes.
const (
	AttrFrame = "frame"
	FrameText = "text"
	FrameBin  = "binary"
)

// TypeInfo describes the WebSocket adaptor for catalog registration.
func TypeInfo() adaptor.TypeInfo {
	return adaptor.TypeInfo{
		Name:        Type,
		Description: "WebSocket client: one connection per dialog, frames as messages (properties: address, header.*, frame, name_path, handshake_timeout, max_message_size, reuse_connections, pool_size, propagate, auth.*)",
		Schemas:     []string{"ws", "wss", "websocket"},
	}
}

// Adaptor opens one WebSocket connection per dialog channel.
type Adaptor struct {
	endpoint         string
	address          atomic.Value // string
	headers          http.Header
	frameType        int
	namePath         string
	handshakeTimeout time.Duration
	maxMessageSize   int64
	propagate        bool
	creds            auth.Provider
	conns            *pool.Pool[*Client]
	metrics          *clientmetrics.ClientMetrics
	closed           atomic.Bool
	logger           *slog.Logger
}

// New builds a WebSocket adaptor from endpoint properties.
func New(spec adaptor.Spec) (adaptor.Adaptor, error) {
	props := spec.Properties
	handshake, err := props.Duration("handshake_timeout", 30*time.Second)
	if err != nil {
		return nil, err
	}
	maxSize, err := props.Int("max_message_size", 1024*1024)
	if err != nil {
		return nil, err
	}
	reuse, err := props.Bool("reuse_connections", false)
	if err != nil {
		return nil, err
	}
	poolSize, err := props.Int("pool_size", 10)
	if err != nil {
		return nil, err
	}
	propagate, err := props.Bool("propagate", true)
	if err != nil {
		return nil, err
	}
	frameType, err := parseFrameType(props.String("frame", FrameText))
	if err != nil {
		return nil, err
	}
	if spec.Address != "" {
		if err := validateAddress(spec.Address); err != nil {
			return nil, err
		}
	}
	creds, err := auth.FromProperties(props)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	for key, value := range props.WithPrefix("header.") {
		if strings.ContainsAny(key+value, "\r\n") {
			return nil, fmt.Errorf("invalid header %q", key)
		}
		headers.Set(key, value)
	}

	a := &Adaptor{
		endpoint:         spec.Endpoint,
		headers:          headers,
		frameType:        frameType,
		namePath:         props.String("name_path", ""),
		handshakeTimeout: handshake,
		maxMessageSize:   int64(maxSize),
		propagate:        propagate,
		creds:            creds,
		metrics:          clientmetrics.New(),
		logger:           logging.OrDiscard(spec.Logger),
	}
	if reuse {
		a.conns = pool.New[*Client](poolSize)
	}
	a.address.Store(spec.Address)
	if spec.Address != "" {
		a.metrics.MarkConnected()
	}
	return a, nil
}

func parseFrameType(s string) (int, error) {
	switch strings.ToLower(s) {
	case FrameText:
		return websocket.TextMessage, nil
	case FrameBin:
		return websocket.BinaryMessage, nil
	default:
		return 0, fmt.Errorf("unsupported frame type %q (want text or binary)", s)
	}
}

func frameName(t int) string {
	if t == websocket.BinaryMessage {
		return FrameBin
	}
	return FrameText
}

func validateAddress(address string) error {
	u, err := url.Parse(address)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", address, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("address %q must use ws or wss", address)
	}
	return nil
}

// Open connects (or reuses) a connection for one dialog.
func (a *Adaptor) Open(ctx context.Context) (adaptor.Channel, error) {
	if a.closed.Load() {
		return nil, adaptor.ErrClosed
	}
	address := a.Address()
	if address == "" {
		return nil, fmt.Errorf("websocket %s: endpoint has no address", a.endpoint)
	}

	headers := a.headers.Clone()
	key := pool.MakePoolKey(address, headers)
	if a.creds != nil {
		header, err := auth.Header(ctx, a.creds)
		if err != nil {
			a.metrics.IncrementErrors()
			return nil, fmt.Errorf("websocket %s: %w", a.endpoint, err)
		}
		headers.Set("Authorization", header)
	}
	if a.propagate && a.conns == nil {
		tracing.InjectHTTPHeaders(ctx, headers)
	}
	factory := func() *Client {
		return NewClient(Config{
			URL:              address,
			Headers:          headers,
			HandshakeTimeout: a.handshakeTimeout,
			MaxMessageSize:   a.maxMessageSize,
			Metrics:          a.metrics,
		})
	}

	var client *Client
	if a.conns != nil {
		c, reused := a.conns.Get(key, factory)
		switch {
		case reused && c.Alive():
			client = c
		case reused:
			fresh, err := a.conns.RetryStaleConnection(ctx, c, factory)
			if err != nil {
				return nil, a.dialFailed(err)
			}
			client = fresh
		default:
			client = c
		}
	} else {
		client = factory()
	}

	if !client.Alive() {
		if err := client.Connect(ctx); err != nil {
			return nil, a.dialFailed(err)
		}
	}

	a.metrics.ChannelOpened()
	return &channel{parent: a, client: client, key: key}, nil
}

func (a *Adaptor) dialFailed(err error) error {
	var hs *HandshakeError
	var opErr *net.OpError
	switch {
	case errors.As(err, &hs) && (hs.Status == http.StatusTooManyRequests || hs.Status == http.StatusServiceUnavailable):
		a.metrics.IncrementRejections()
		return fmt.Errorf("websocket %s: %v: %w", a.endpoint, err, adaptor.ErrRejected)
	case errors.As(err, &opErr) && opErr.Op == "dial":
		a.metrics.IncrementRejections()
		return fmt.Errorf("websocket %s: %v: %w", a.endpoint, err, adaptor.ErrRejected)
	default:
		a.metrics.IncrementErrors()
		return fmt.Errorf("websocket %s: %w", a.endpoint, err)
	}
}

// Close closes pooled connections. Open channels keep their connection
// until they are closed.
func (a *Adaptor) Close() error {
	if a.closed.Swap(true) {
		return nil
	}
	if a.creds != nil {
		_ = a.creds.Close()
	}
	if a.conns != nil {
		return a.conns.Close()
	}
	return nil
}

// Ready reports whether the adaptor has an address to dial.
func (a *Adaptor) Ready() bool {
	return !a.closed.Load() && a.Address() != ""
}

// SetAddress rebinds the endpoint. Pooled connections to the old address
// are keyed by it and are no longer handed out.
func (a *Adaptor) SetAddress(address string) error {
	if err := validateAddress(address); err != nil {
		return err
	}
	a.address.Store(address)
	a.metrics.MarkConnected()
	a.logger.Debug("websocket endpoint rebound", "endpoint", a.endpoint, "address", address)
	return nil
}

// Address returns the dial URL.
func (a *Adaptor) Address() string {
	v, _ := a.address.Load().(string)
	return v
}

// Metrics returns the adaptor's traffic counters.
func (a *Adaptor) Metrics() clientmetrics.Snapshot {
	return a.metrics.Snapshot()
}

func (a *Adaptor) inbound(f Frame) adaptor.Message {
	name := frameName(f.Type)
	if a.namePath != "" {
		if r := gjson.GetBytes(f.Data, a.namePath); r.Exists() {
			name = r.String()
		}
	}
	return adaptor.Message{
		Name:       name,
		Attributes: map[string]string{AttrFrame: frameName(f.Type)},
		Body:       f.Data,
	}
}

type channel struct {
	parent *Adaptor
	client *Client
	key    string

	closeOnce sync.Once
	closed    atomic.Bool
}

// Send writes the message body as one frame. The "frame" attribute
// overrides the endpoint's frame type.
func (c *channel) Send(ctx context.Context, msg adaptor.Message) error {
	if c.closed.Load() {
		return adaptor.ErrClosed
	}
	frameType := c.parent.frameType
	if v := msg.Attributes[AttrFrame]; v != "" {
		t, err := parseFrameType(v)
		if err != nil {
			return err
		}
		frameType = t
	}
	if err := c.client.Send(ctx, Frame{Type: frameType, Data: msg.Body}); err != nil {
		c.parent.metrics.IncrementErrors()
		return fmt.Errorf("websocket %s: %w", c.parent.endpoint, err)
	}
	return nil
}

func (c *channel) Receive(ctx context.Context) (adaptor.Message, error) {
	if c.closed.Load() {
		return adaptor.Message{}, adaptor.ErrClosed
	}
	f, err := c.client.Receive(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return adaptor.Message{}, ctx.Err()
		}
		if websocket.IsCloseError(errors.Unwrap(err), websocket.CloseTryAgainLater, websocket.ClosePolicyViolation, websocket.CloseMessageTooBig) {
			c.parent.metrics.IncrementRejections()
			return adaptor.Message{}, fmt.Errorf("websocket %s: %v: %w", c.parent.endpoint, err, adaptor.ErrRejected)
		}
		c.parent.metrics.IncrementErrors()
		return adaptor.Message{}, fmt.Errorf("websocket %s: %w", c.parent.endpoint, err)
	}
	return c.parent.inbound(f), nil
}

// Close returns a healthy connection to the pool, or closes it.
func (c *channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.parent.metrics.ChannelClosed()
		if c.parent.conns != nil && c.client.Alive() && !c.parent.closed.Load() {
			c.client.Drain()
			err = c.parent.conns.Put(c.key, c.client)
			return
		}
		err = c.client.Close()
	})
	return err
}
