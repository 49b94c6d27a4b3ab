package adaptor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/torosent/scensim/internal/clientmetrics"
)

// EchoType is the catalog name of the echo adaptor.
const EchoType = "echo"

const echoInboxSize = 64

// EchoTypeInfo describes the echo adaptor for catalog registration.
func EchoTypeInfo() TypeInfo {
	return TypeInfo{
		Name:        EchoType,
		Description: "In-process loopback: replies to every sent message (properties: reply, reply_name, delay, reject, max_rate, ready_after)",
		Schemas:     nil,
	}
}

// Echo is an in-process adaptor that answers every sent message.
type Echo struct {
	endpoint  string
	address   atomic.Value // string
	reply     []byte
	hasReply  bool
	replyName string
	delay     time.Duration
	reject    bool
	limiter   *rate.Limiter
	readyAt   time.Time
	metrics   *clientmetrics.ClientMetrics
	closed    atomic.Bool
	logger    *slog.Logger
}

// NewEcho builds an echo adaptor from endpoint properties.
func NewEcho(spec Spec) (Adaptor, error) {
	props := spec.Properties
	delay, err := props.Duration("delay", 0)
	if err != nil {
		return nil, err
	}
	reject, err := props.Bool("reject", false)
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
	readyAfter, err := props.Duration("ready_after", 0)
	if err != nil {
		return nil, err
	}

	e := &Echo{
		endpoint:  spec.Endpoint,
		replyName: props.String("reply_name", ""),
		delay:     delay,
		reject:    reject,
		readyAt:   time.Now().Add(readyAfter),
		metrics:   clientmetrics.New(),
		logger:    spec.Logger,
	}
	if v, ok := props["reply"]; ok {
		e.reply = []byte(v)
		e.hasReply = true
	}
	if maxRate > 0 {
		burst := int(maxRate)
		if burst < 1 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(maxRate), burst)
	}
	e.address.Store(spec.Address)
	e.metrics.MarkConnected()
	return e, nil
}

// Open returns a new loopback channel.
func (e *Echo) Open(ctx context.Context) (Channel, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.reject {
		e.metrics.IncrementRejections()
		return nil, fmt.Errorf("echo %s: connection refused: %w", e.endpoint, ErrRejected)
	}
	e.metrics.ChannelOpened()
	return &echoChannel{
		parent: e,
		inbox:  make(chan Message, echoInboxSize),
		done:   make(chan struct{}),
	}, nil
}

// Close marks the adaptor closed; open channels keep working until closed.
func (e *Echo) Close() error {
	e.closed.Store(true)
	return nil
}

// Ready reports readiness once the configured ready_after delay elapsed.
func (e *Echo) Ready() bool {
	return !e.closed.Load() && !time.Now().Before(e.readyAt)
}

// SetAddress records a new (purely informational) address.
func (e *Echo) SetAddress(address string) error {
	e.address.Store(address)
	return nil
}

// Address returns the current address.
func (e *Echo) Address() string {
	v, _ := e.address.Load().(string)
	return v
}

// Metrics returns the adaptor's traffic counters.
func (e *Echo) Metrics() clientmetrics.Snapshot {
	return e.metrics.Snapshot()
}

type echoChannel struct {
	parent *Echo
	inbox  chan Message

	mu     sync.Mutex
	timers []*time.Timer
	closed bool
	done   chan struct{}
}

func (c *echoChannel) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}

	e := c.parent
	if e.limiter != nil && !e.limiter.Allow() {
		e.metrics.IncrementRejections()
		return fmt.Errorf("echo %s: over capacity: %w", e.endpoint, ErrRejected)
	}
	e.metrics.IncrementSent(int64(len(msg.Body)))

	reply := msg.Clone()
	if e.hasReply {
		reply.Body = append([]byte(nil), e.reply...)
	}
	if e.replyName != "" {
		reply.Name = e.replyName
	}

	if e.delay <= 0 {
		c.deliver(reply)
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.timers = append(c.timers, time.AfterFunc(e.delay, func() { c.deliver(reply) }))
	return nil
}

func (c *echoChannel) deliver(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.inbox <- msg:
		c.parent.metrics.IncrementReceived(int64(len(msg.Body)))
	default:
		c.parent.metrics.IncrementErrors()
		if c.parent.logger != nil {
			c.parent.logger.Warn("echo inbox full, reply dropped", "endpoint", c.parent.endpoint)
		}
	}
}

func (c *echoChannel) Receive(ctx context.Context) (Message, error) {
	select {
	case msg := <-c.inbox:
		return msg, nil
	case <-c.done:
		return Message{}, ErrClosed
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (c *echoChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	for _, t := range c.timers {
		t.Stop()
	}
	c.timers = nil
	close(c.done)
	c.parent.metrics.ChannelClosed()
	return nil
}
