package adaptor

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"strings"

	"github.com/torosent/scensim/internal/clientmetrics"
)

// ErrRejected marks an inbound rejection reported by the peer or the transport
// (refused connection, overload, malformed framing).
var ErrRejected = errors.New("rejected by peer")

// ErrClosed is returned by channel operations after Close.
var ErrClosed = errors.New("channel closed")

// Message is a protocol-neutral message exchanged with an endpoint.
type Message struct {
	// Name identifies the message kind: a request name, a response status,
	// a frame type. Its meaning is adaptor specific.
	Name       string
	Attributes map[string]string
	Body       []byte
}

// Clone returns a deep copy of m.
func (m Message) Clone() Message {
	out := Message{Name: m.Name}
	if m.Attributes != nil {
		out.Attributes = maps.Clone(m.Attributes)
	}
	if m.Body != nil {
		out.Body = append([]byte(nil), m.Body...)
	}
	return out
}

// Channel is one dialog's view of an endpoint.
// Implementations must honour ctx cancellation in Receive.
type Channel interface {
	Send(ctx context.Context, msg Message) error
	Receive(ctx context.Context) (Message, error)
	Close() error
}

// Adaptor binds an endpoint to a transport and hands out per-dialog channels.
type Adaptor interface {
	Open(ctx context.Context) (Channel, error)
	Close() error
}

// Addressable adaptors accept a new transport address at runtime.
type Addressable interface {
	SetAddress(address string) error
	Address() string
}

// ReadinessReporter adaptors report whether they can accept dialog traffic.
// Adaptors without it are ready as soon as they are constructed.
type ReadinessReporter interface {
	Ready() bool
}

// MetricsProvider adaptors expose their traffic counters.
type MetricsProvider interface {
	Metrics() clientmetrics.Snapshot
}

// Spec carries everything a Factory needs to build an adaptor for one endpoint.
type Spec struct {
	Endpoint   string
	Address    string
	Properties Properties
	Schemas    []string
	Logger     *slog.Logger
}

// Factory constructs an adaptor for an endpoint.
type Factory func(spec Spec) (Adaptor, error)

// TypeInfo describes a registered adaptor type.
type TypeInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Schemas     []string `json:"schemas"`
}

// Supports reports whether the type can serve schema. A type that declares
// no schemas accepts any.
func (t TypeInfo) Supports(schema string) bool {
	if len(t.Schemas) == 0 {
		return true
	}
	for _, s := range t.Schemas {
		if strings.EqualFold(s, schema) {
			return true
		}
	}
	return false
}
