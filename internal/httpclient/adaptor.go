package httpclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/torosent/scensim/internal/adaptor"
	"github.com/torosent/scensim/internal/auth"
	"github.com/torosent/scensim/internal/clientmetrics"
	"github.com/torosent/scensim/internal/logging"
	"github.com/torosent/scensim/internal/tracing"
)

// Type is the catalog name of the HTTP adaptor.
const Type = "http"

const (
	defaultMaxBody = 1 << 20
	inboxSize      = 16
)

// TypeInfo describes the HTTP adaptor for catalog registration.
func TypeInfo() adaptor.TypeInfo {
	return adaptor.TypeInfo{
		Name:        Type,
		Description: "HTTP client: each sent message is a request, each response an inbound message named by its status (properties: address, method, timeout, header.*, body_file, max_rate, reject_status, max_body, propagate, auth.*)",
		Schemas:     []string{"http", "https", "rest"},
	}
}

// Adaptor sends dialog messages as HTTP requests to one base address.
type Adaptor struct {
	endpoint  string
	address   atomic.Value // string
	client    *http.Client
	builder   *RequestBuilder
	limiter   *rate.Limiter
	rejects   map[int]bool
	maxBody   int64
	propagate bool
	creds     auth.Provider
	metrics   *clientmetrics.ClientMetrics
	closed    atomic.Bool
	logger    *slog.Logger
}

// New builds an HTTP adaptor from endpoint properties.
func New(spec adaptor.Spec) (adaptor.Adaptor, error) {
	props := spec.Properties
	timeout, err := props.Duration("timeout", 30*time.Second)
	if err != nil {
		return nil, err
	}
	maxRate, err := props.Float("max_rate", 0)
	if err != nil {
		return nil, err
	}
	if maxRate < 0 {
		return nil, fmt.Errorf("property max_rate must be >= 0")
	}
	maxBody, err := props.Int("max_body", defaultMaxBody)
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
	builder, err := NewRequestBuilder(props)
	if err != nil {
		return nil, err
	}
	creds, err := auth.FromProperties(props)
	if err != nil {
		return nil, err
	}
	if spec.Address != "" {
		if _, err := resolveTarget(spec.Address, ""); err != nil {
			return nil, err
		}
	}

	a := &Adaptor{
		endpoint:  spec.Endpoint,
		client:    NewClient(timeout),
		builder:   builder,
		rejects:   rejects,
		maxBody:   int64(maxBody),
		propagate: propagate,
		creds:     creds,
		metrics:   clientmetrics.New(),
		logger:    logging.OrDiscard(spec.Logger),
	}
	if maxRate > 0 {
		burst := int(maxRate)
		if burst < 1 {
			burst = 1
		}
		a.limiter = rate.NewLimiter(rate.Limit(maxRate), burst)
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

// Open returns a channel; HTTP connections are pooled by the client.
func (a *Adaptor) Open(ctx context.Context) (adaptor.Channel, error) {
	if a.closed.Load() {
		return nil, adaptor.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.metrics.ChannelOpened()
	return &channel{
		parent: a,
		inbox:  make(chan adaptor.Message, inboxSize),
		done:   make(chan struct{}),
	}, nil
}

// Close releases idle connections.
func (a *Adaptor) Close() error {
	if a.closed.Swap(true) {
		return nil
	}
	a.client.CloseIdleConnections()
	if a.creds != nil {
		return a.creds.Close()
	}
	return nil
}

// Ready reports whether the adaptor has an address to send to.
func (a *Adaptor) Ready() bool {
	return !a.closed.Load() && a.Address() != ""
}

// SetAddress rebinds the base URL.
func (a *Adaptor) SetAddress(address string) error {
	if _, err := resolveTarget(address, ""); err != nil {
		return err
	}
	a.address.Store(address)
	a.client.CloseIdleConnections()
	a.metrics.MarkConnected()
	a.logger.Debug("http endpoint rebound", "endpoint", a.endpoint, "address", address)
	return nil
}

// Address returns the base URL.
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
	inbox  chan adaptor.Message

	closeOnce sync.Once
	done      chan struct{}
}

// Send performs the request and queues the response for Receive.
func (c *channel) Send(ctx context.Context, msg adaptor.Message) error {
	select {
	case <-c.done:
		return adaptor.ErrClosed
	default:
	}
	a := c.parent
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	req, err := a.builder.Build(ctx, a.Address(), msg)
	if err != nil {
		a.metrics.IncrementErrors()
		return err
	}
	if a.creds != nil {
		header, err := auth.Header(ctx, a.creds)
		if err != nil {
			a.metrics.IncrementErrors()
			return fmt.Errorf("http %s: %w", a.endpoint, err)
		}
		req.Header.Set("Authorization", header)
	}
	if a.propagate {
		tracing.InjectHTTPHeaders(ctx, req.Header)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		if isRefused(err) {
			a.metrics.IncrementRejections()
			return fmt.Errorf("http %s: %v: %w", a.endpoint, err, adaptor.ErrRejected)
		}
		a.metrics.IncrementErrors()
		return fmt.Errorf("http %s: %w", a.endpoint, err)
	}
	defer resp.Body.Close()
	a.metrics.IncrementSent(req.ContentLength)

	if a.rejects[resp.StatusCode] {
		a.metrics.IncrementRejections()
		return fmt.Errorf("http %s: status %d: %w", a.endpoint, resp.StatusCode, adaptor.ErrRejected)
	}

	reply, err := responseMessage(resp, a.maxBody)
	if err != nil {
		a.metrics.IncrementErrors()
		return err
	}
	a.metrics.IncrementReceived(int64(len(reply.Body)))

	select {
	case c.inbox <- reply:
		return nil
	default:
		a.metrics.IncrementErrors()
		return fmt.Errorf("http %s: %d unread responses", a.endpoint, inboxSize)
	}
}

func (c *channel) Receive(ctx context.Context) (adaptor.Message, error) {
	select {
	case msg := <-c.inbox:
		return msg, nil
	case <-c.done:
		return adaptor.Message{}, adaptor.ErrClosed
	case <-ctx.Done():
		return adaptor.Message{}, ctx.Err()
	}
}

func (c *channel) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.parent.metrics.ChannelClosed()
	})
	return nil
}

// isRefused reports whether err is a refused or unreachable connection.
func isRefused(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	return false
}
