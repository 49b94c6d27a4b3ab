package grpcclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/dynamic"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/protoadapt"

	"github.com/torosent/scensim/internal/adaptor"
	"github.com/torosent/scensim/internal/auth"
	"github.com/torosent/scensim/internal/clientmetrics"
	"github.com/torosent/scensim/internal/logging"
	"github.com/torosent/scensim/internal/tracing"
)

// Type is the catalog name of the gRPC adaptor.
const Type = "grpc"

// Message attributes.
const (
	AttrMethod         = "method"
	AttrStatus         = "status"
	AttrMessage        = "message"
	AttrMetadataPrefix = "metadata."
)

const inboxSize = 16

// TypeInfo describes the gRPC adaptor for catalog registration.
func TypeInfo() adaptor.TypeInfo {
	return adaptor.TypeInfo{
		Name:        Type,
		Description: "gRPC unary client over a .proto descriptor: JSON bodies in, status-named JSON replies out (properties: address, proto_file, service, method, timeout, tls, insecure, metadata.*, propagate, auth.*)",
		Schemas:     []string{"grpc"},
	}
}

// Adaptor invokes unary methods of one service through a shared connection.
type Adaptor struct {
	endpoint      string
	service       *desc.ServiceDescriptor
	defaultMethod string
	timeout       time.Duration
	useTLS        bool
	insecure      bool
	md            map[string]string
	propagate     bool
	creds         auth.Provider
	metrics       *clientmetrics.ClientMetrics
	logger        *slog.Logger

	mu      sync.RWMutex
	address string
	client  *Client
	closed  atomic.Bool
}

// New builds a gRPC adaptor. proto_file and service are required.
func New(spec adaptor.Spec) (adaptor.Adaptor, error) {
	props := spec.Properties
	svc, err := loadService(props.String("proto_file", ""), props.String("service", ""))
	if err != nil {
		return nil, err
	}
	defaultMethod := props.String("method", "")
	if defaultMethod != "" {
		if _, err := findUnaryMethod(svc, defaultMethod); err != nil {
			return nil, err
		}
	}
	timeout, err := props.Duration("timeout", 30*time.Second)
	if err != nil {
		return nil, err
	}
	useTLS, err := props.Bool("tls", false)
	if err != nil {
		return nil, err
	}
	insecureTLS, err := props.Bool("insecure", false)
	if err != nil {
		return nil, err
	}
	propagate, err := props.Bool("propagate", true)
	if err != nil {
		return nil, err
	}
	creds, err := auth.FromProperties(props)
	if err != nil {
		return nil, err
	}

	a := &Adaptor{
		endpoint:      spec.Endpoint,
		service:       svc,
		defaultMethod: defaultMethod,
		timeout:       timeout,
		useTLS:        useTLS,
		insecure:      insecureTLS,
		md:            lowerKeys(props.WithPrefix(AttrMetadataPrefix)),
		propagate:     propagate,
		creds:         creds,
		metrics:       clientmetrics.New(),
		logger:        logging.OrDiscard(spec.Logger),
	}
	if spec.Address != "" {
		if err := a.SetAddress(spec.Address); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func lowerKeys(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		if key := strings.ToLower(strings.TrimSpace(k)); key != "" {
			out[key] = v
		}
	}
	return out
}

// SetAddress points the adaptor at a new target, replacing the connection.
// Calls in flight on the old connection fail.
func (a *Adaptor) SetAddress(address string) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return fmt.Errorf("grpc address cannot be empty")
	}
	if a.closed.Load() {
		return adaptor.ErrClosed
	}
	client := NewClient(Config{
		Target:   address,
		Metadata: a.md,
		UseTLS:   a.useTLS,
		Insecure: a.insecure,
	}, a.metrics)
	if err := client.Connect(context.Background()); err != nil {
		return fmt.Errorf("grpc %s: %w", a.endpoint, err)
	}

	a.mu.Lock()
	old := a.client
	a.client = client
	a.address = address
	a.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	a.logger.Debug("grpc endpoint bound", "endpoint", a.endpoint, "address", address)
	return nil
}

// Address returns the current target.
func (a *Adaptor) Address() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.address
}

// Ready reports whether a connection target is set.
func (a *Adaptor) Ready() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return !a.closed.Load() && a.client != nil
}

// Metrics returns the adaptor's traffic counters.
func (a *Adaptor) Metrics() clientmetrics.Snapshot {
	return a.metrics.Snapshot()
}

// Open returns a channel on the shared connection.
func (a *Adaptor) Open(ctx context.Context) (adaptor.Channel, error) {
	if a.closed.Load() {
		return nil, adaptor.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !a.Ready() {
		return nil, fmt.Errorf("grpc %s: endpoint has no address", a.endpoint)
	}
	a.metrics.ChannelOpened()
	return &channel{
		parent: a,
		inbox:  make(chan adaptor.Message, inboxSize),
		done:   make(chan struct{}),
	}, nil
}

// Close closes the shared connection.
func (a *Adaptor) Close() error {
	if a.closed.Swap(true) {
		return nil
	}
	a.mu.Lock()
	client := a.client
	a.client = nil
	a.mu.Unlock()
	if a.creds != nil {
		_ = a.creds.Close()
	}
	if client != nil {
		return client.Close()
	}
	return nil
}

func (a *Adaptor) currentClient() *Client {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.client
}

// resolveMethod picks the method for msg: the "method" attribute, else the
// message name when it names a method, else the endpoint default.
func (a *Adaptor) resolveMethod(msg adaptor.Message) (*desc.MethodDescriptor, error) {
	if name := msg.Attributes[AttrMethod]; name != "" {
		return findUnaryMethod(a.service, name)
	}
	if msg.Name != "" && a.service.FindMethodByName(msg.Name) != nil {
		return findUnaryMethod(a.service, msg.Name)
	}
	if a.defaultMethod == "" {
		return nil, fmt.Errorf("grpc %s: message %q names no method of %s", a.endpoint, msg.Name, a.service.GetFullyQualifiedName())
	}
	return findUnaryMethod(a.service, a.defaultMethod)
}

// isRejection reports statuses that mean the peer turned the call away.
func isRejection(code codes.Code) bool {
	return code == codes.Unavailable || code == codes.ResourceExhausted
}

type channel struct {
	parent *Adaptor
	inbox  chan adaptor.Message

	closeOnce sync.Once
	done      chan struct{}
}

// Send performs the call and queues its outcome. Non-OK statuses other than
// rejections are delivered as replies named by the status code.
func (c *channel) Send(ctx context.Context, msg adaptor.Message) error {
	select {
	case <-c.done:
		return adaptor.ErrClosed
	default:
	}
	a := c.parent
	client := a.currentClient()
	if client == nil {
		return adaptor.ErrClosed
	}

	method, err := a.resolveMethod(msg)
	if err != nil {
		a.metrics.IncrementErrors()
		return err
	}
	req, err := buildDynamicRequest(method, msg.Body)
	if err != nil {
		a.metrics.IncrementErrors()
		return fmt.Errorf("grpc %s: request payload: %w", a.endpoint, err)
	}
	resp := dynamic.NewMessage(method.GetOutputType())

	extra := metadata.MD{}
	for k, v := range adaptor.Properties(msg.Attributes).WithPrefix(AttrMetadataPrefix) {
		extra.Set(strings.ToLower(k), v)
	}
	if a.creds != nil {
		header, err := auth.Header(ctx, a.creds)
		if err != nil {
			a.metrics.IncrementErrors()
			return fmt.Errorf("grpc %s: %w", a.endpoint, err)
		}
		extra.Set("authorization", header)
	}
	if a.propagate {
		tracing.InjectGRPCMetadata(ctx, extra)
	}

	callCtx := ctx
	if a.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	code, err := client.Invoke(callCtx, fullMethodName(method), protoadapt.MessageV2Of(req), protoadapt.MessageV2Of(resp), extra)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}

	reply := adaptor.Message{
		Name: code.String(),
		Attributes: map[string]string{
			AttrStatus: code.String(),
			AttrMethod: method.GetName(),
		},
	}
	switch {
	case err == nil:
		body, merr := resp.MarshalJSON()
		if merr != nil {
			a.metrics.IncrementErrors()
			return fmt.Errorf("grpc %s: encode reply: %w", a.endpoint, merr)
		}
		reply.Body = body
	case isRejection(code):
		a.metrics.IncrementRejections()
		return fmt.Errorf("grpc %s: %v: %w", a.endpoint, err, adaptor.ErrRejected)
	default:
		st, ok := statusOf(err)
		if !ok {
			a.metrics.IncrementErrors()
			return fmt.Errorf("grpc %s: %w", a.endpoint, err)
		}
		reply.Attributes[AttrMessage] = st.Message()
		reply.Body = []byte(st.Message())
	}

	select {
	case c.inbox <- reply:
		return nil
	default:
		a.metrics.IncrementErrors()
		return fmt.Errorf("grpc %s: %d unread replies", a.endpoint, inboxSize)
	}
}

// statusOf returns the status carried by err, without wrapping text.
func statusOf(err error) (*status.Status, bool) {
	var se interface{ GRPCStatus() *status.Status }
	if errors.As(err, &se) {
		return se.GRPCStatus(), true
	}
	return nil, false
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
