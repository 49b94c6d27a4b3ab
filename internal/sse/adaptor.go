package sse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/torosent/scensim/internal/adaptor"
	"github.com/torosent/scensim/internal/auth"
	"github.com/torosent/scensim/internal/clientmetrics"
	"github.com/torosent/scensim/internal/httpclient"
	"github.com/torosent/scensim/internal/logging"
	"github.com/torosent/scensim/internal/tracing"
)

// Type is the catalog name of the server-sent events adaptor.
const Type = "sse"

// Attributes of inbound event messages.
const (
	AttrID    = "id"
	AttrEvent = "event"
)

const inboxSize = 64

// TypeInfo describes the SSE adaptor for catalog registration.
func TypeInfo() adaptor.TypeInfo {
	return adaptor.TypeInfo{
		Name:        Type,
		Description: "Server-sent events: one event stream per dialog, each event an inbound message named by its event type; sent messages are requests to post_address (properties: address, post_address, method, header.*, timeout, reject_status, propagate, auth.*)",
		Schemas:     []string{"sse", "event-stream"},
	}
}

// Adaptor subscribes each dialog channel to an event stream.
type Adaptor struct {
	endpoint    string
	address     atomic.Value // string
	postAddress string
	headers     http.Header
	timeout     time.Duration
	stream      *http.Client
	poster      *http.Client
	builder     *httpclient.RequestBuilder
	rejects     map[int]bool
	propagate   bool
	creds       auth.Provider
	metrics     *clientmetrics.ClientMetrics
	closed      atomic.Bool
	logger      *slog.Logger
}

// New builds an SSE adaptor from endpoint properties.
func New(spec adaptor.Spec) (adaptor.Adaptor, error) {
	props := spec.Properties
	timeout, err := props.Duration("timeout", 30*time.Second)
	if err != nil {
		return nil, err
	}
	propagate, err := props.Bool("propagate", true)
	if err != nil {
		return nil, err
	}
	rejects, err := parseStatusList(props.String("reject_status", "429,503"))
	if err != nil {
		return nil, err
	}
	builder, err := httpclient.NewRequestBuilder(props)
	if err != nil {
		return nil, err
	}
	creds, err := auth.FromProperties(props)
	if err != nil {
		return nil, err
	}
	postAddress := props.String("post_address", "")
	for _, address := range []string{spec.Address, postAddress} {
		if address == "" {
			continue
		}
		if err := validateAddress(address); err != nil {
			return nil, err
		}
	}

	headers := http.Header{}
	for key, value := range props.WithPrefix("header.") {
		if strings.ContainsAny(key+value, "\r\n") {
			return nil, fmt.Errorf("invalid header %q", key)
		}
		headers.Set(key, value)
	}

	a := &Adaptor{
		endpoint:    spec.Endpoint,
		postAddress: postAddress,
		headers:     headers,
		timeout:     timeout,
		stream:      httpclient.NewClient(0),
		poster:      httpclient.NewClient(timeout),
		builder:     builder,
		rejects:     rejects,
		propagate:   propagate,
		creds:       creds,
		metrics:     clientmetrics.New(),
		logger:      logging.OrDiscard(spec.Logger),
	}
	a.address.Store(spec.Address)
	if spec.Address != "" {
		a.metrics.MarkConnected()
	}
	return a, nil
}

func parseStatusList(s string) (map[int]bool, error) {
	out := make(map[int]bool)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		code, err := strconv.Atoi(part)
		if err != nil || code < 100 || code > 599 {
			return nil, fmt.Errorf("property reject_status: invalid status %q", part)
		}
		out[code] = true
	}
	return out, nil
}

func validateAddress(address string) error {
	u, err := url.Parse(address)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", address, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("address %q must use http or https", address)
	}
	return nil
}

// Open subscribes to the event stream. The stream outlives ctx and ends
// when the channel is closed.
func (a *Adaptor) Open(ctx context.Context) (adaptor.Channel, error) {
	if a.closed.Load() {
		return nil, adaptor.ErrClosed
	}
	address := a.Address()
	if address == "" {
		return nil, fmt.Errorf("sse %s: endpoint has no address", a.endpoint)
	}

	headers, err := a.requestHeaders(ctx, a.headers.Clone())
	if err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	timer := time.AfterFunc(a.timeout, cancel)
	stream, err := Connect(streamCtx, a.stream, address, headers)
	if !timer.Stop() {
		if stream != nil {
			_ = stream.Close()
		}
		err = fmt.Errorf("no response within %s", a.timeout)
	}
	if err != nil {
		cancel()
		return nil, a.connectFailed(err)
	}

	a.metrics.ChannelOpened()
	c := &channel{
		parent: a,
		stream: stream,
		cancel: cancel,
		inbox:  make(chan adaptor.Message, inboxSize),
		ended:  make(chan struct{}),
		done:   make(chan struct{}),
	}
	go c.pump()
	return c, nil
}

func (a *Adaptor) requestHeaders(ctx context.Context, headers http.Header) (http.Header, error) {
	if a.creds != nil {
		header, err := auth.Header(ctx, a.creds)
		if err != nil {
			a.metrics.IncrementErrors()
			return nil, fmt.Errorf("sse %s: %w", a.endpoint, err)
		}
		headers.Set("Authorization", header)
	}
	if a.propagate {
		tracing.InjectHTTPHeaders(ctx, headers)
	}
	return headers, nil
}

func (a *Adaptor) connectFailed(err error) error {
	var status *StatusError
	var opErr *net.OpError
	switch {
	case errors.As(err, &status) && a.rejects[status.Code]:
		a.metrics.IncrementRejections()
		return fmt.Errorf("sse %s: %v: %w", a.endpoint, err, adaptor.ErrRejected)
	case errors.As(err, &opErr) && opErr.Op == "dial":
		a.metrics.IncrementRejections()
		return fmt.Errorf("sse %s: %v: %w", a.endpoint, err, adaptor.ErrRejected)
	default:
		a.metrics.IncrementErrors()
		return fmt.Errorf("sse %s: %w", a.endpoint, err)
	}
}

// Close releases idle connections. Open streams end when their channel is
// closed.
func (a *Adaptor) Close() error {
	if a.closed.Swap(true) {
		return nil
	}
	a.stream.CloseIdleConnections()
	a.poster.CloseIdleConnections()
	if a.creds != nil {
		return a.creds.Close()
	}
	return nil
}

// Ready reports whether the adaptor has a stream address.
func (a *Adaptor) Ready() bool {
	return !a.closed.Load() && a.Address() != ""
}

// SetAddress rebinds the stream URL for channels opened afterwards.
func (a *Adaptor) SetAddress(address string) error {
	if err := validateAddress(address); err != nil {
		return err
	}
	a.address.Store(address)
	a.metrics.MarkConnected()
	a.logger.Debug("sse endpoint rebound", "endpoint", a.endpoint, "address", address)
	return nil
}

// Address returns the stream URL.
func (a *Adaptor) Address() string {
	v, _ := a.address.Load().(string)
	return v
}

// Metrics returns the adaptor's traffic counters.
func (a *Adaptor) Metrics() clientmetrics.Snapshot {
	return a.metrics.Snapshot()
}

type channel struct {
	parent *Adaptor
	stream *Stream
	cancel context.CancelFunc
	inbox  chan adaptor.Message

	ended  chan struct{}
	endErr error

	closeOnce sync.Once
	done      chan struct{}
}

func (c *channel) pump() {
	defer close(c.ended)
	for {
		ev, err := c.stream.Next()
		if err != nil {
			c.endErr = err
			return
		}
		msg := adaptor.Message{
			Name:       ev.Name(),
			Attributes: map[string]string{AttrEvent: ev.Name()},
			Body:       []byte(ev.Data),
		}
		if ev.ID != "" {
			msg.Attributes[AttrID] = ev.ID
		}
		select {
		case c.inbox <- msg:
			c.parent.metrics.IncrementReceived(int64(len(ev.Data)))
		case <-c.done:
			return
		}
	}
}

// Send issues a request to post_address; replies arrive on the stream.
func (c *channel) Send(ctx context.Context, msg adaptor.Message) error {
	select {
	case <-c.done:
		return adaptor.ErrClosed
	default:
	}
	a := c.parent
	if a.postAddress == "" {
		a.metrics.IncrementErrors()
		return fmt.Errorf("sse %s: stream is receive-only (no post_address)", a.endpoint)
	}

	req, err := a.builder.Build(ctx, a.postAddress, msg)
	if err != nil {
		a.metrics.IncrementErrors()
		return err
	}
	if _, err := a.requestHeaders(ctx, req.Header); err != nil {
		return err
	}

	resp, err := a.poster.Do(req)
	if err != nil {
		return a.connectFailed(err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	switch {
	case a.rejects[resp.StatusCode]:
		a.metrics.IncrementRejections()
		return fmt.Errorf("sse %s: status %d: %w", a.endpoint, resp.StatusCode, adaptor.ErrRejected)
	case resp.StatusCode >= 300:
		a.metrics.IncrementErrors()
		return fmt.Errorf("sse %s: post status %d", a.endpoint, resp.StatusCode)
	}
	a.metrics.IncrementSent(req.ContentLength)
	return nil
}

// Receive returns the next event. Events already read are delivered before
// the end of the stream is reported.
func (c *channel) Receive(ctx context.Context) (adaptor.Message, error) {
	select {
	case msg := <-c.inbox:
		return msg, nil
	case <-c.ended:
		select {
		case msg := <-c.inbox:
			return msg, nil
		default:
		}
		return adaptor.Message{}, c.streamEnded()
	case <-c.done:
		return adaptor.Message{}, adaptor.ErrClosed
	case <-ctx.Done():
		return adaptor.Message{}, ctx.Err()
	}
}

func (c *channel) streamEnded() error {
	select {
	case <-c.done:
		return adaptor.ErrClosed
	default:
	}
	if errors.Is(c.endErr, io.EOF) {
		return fmt.Errorf("sse %s: stream closed by peer: %w", c.parent.endpoint, adaptor.ErrRejected)
	}
	return fmt.Errorf("sse %s: %w", c.parent.endpoint, c.endErr)
}

func (c *channel) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.cancel()
		_ = c.stream.Close()
		c.parent.metrics.ChannelClosed()
	})
	return nil
}
