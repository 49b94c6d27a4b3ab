// Package pool keeps idle protocol connections for reuse across dialogs.
package pool

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
	"sync"
)

// Poolable is a connection that can be pooled and reused.
type Poolable interface {
	Connect(ctx context.Context) error
	Close() error
}

// Pool holds idle connections keyed by target and handshake headers.
type Pool[T Poolable] struct {
	mu     sync.Mutex
	idle   map[string]chan T
	size   int
	closed bool
}

// New creates a pool holding at most size idle connections per key.
func New[T Poolable](size int) *Pool[T] {
	if size <= 0 {
		size = 10
	}
	return &Pool[T]{idle: make(map[string]chan T), size: size}
}

func (p *Pool[T]) bucket(key string) (chan T, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, false
	}
	b, ok := p.idle[key]
	if !ok {
		b = make(chan T, p.size)
		p.idle[key] = b
	}
	return b, true
}

// Get returns an idle connection for key (reused=true) or a new unconnected
// one from factory that the caller must connect.
func (p *Pool[T]) Get(key string, factory func() T) (client T, reused bool) {
	b, ok := p.bucket(key)
	if !ok {
		return factory(), false
	}
	select {
	case client = <-b:
		return client, true
	default:
		return factory(), false
	}
}

// Put returns a connection for reuse. It is closed instead when the pool is
// full or closed.
func (p *Pool[T]) Put(key string, client T) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.idle[key]
	if p.closed || !ok {
		return client.Close()
	}
	select {
	case b <- client:
		return nil
	default:
		return client.Close()
	}
}

// RetryStaleConnection closes a stale connection and connects a fresh one
// from factory.
func (p *Pool[T]) RetryStaleConnection(ctx context.Context, stale T, factory func() T) (T, error) {
	_ = stale.Close()
	fresh := factory()
	if err := fresh.Connect(ctx); err != nil {
		var zero T
		return zero, err
	}
	return fresh, nil
}

// Idle returns the number of idle connections held for key.
func (p *Pool[T]) Idle(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle[key])
}

// Close closes every idle connection. Later Puts close their connection.
func (p *Pool[T]) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	buckets := p.idle
	p.idle = make(map[string]chan T)
	p.mu.Unlock()

	var errs []error
	for _, b := range buckets {
		close(b)
		for client := range b {
			if err := client.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// MakePoolKey generates a deterministic key from a target URL and headers.
func MakePoolKey(target string, headers http.Header) string {
	var sb strings.Builder
	sb.WriteString(target)
	sb.WriteString("|")

	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteString("=")
		sb.WriteString(strings.Join(headers[k], ","))
		sb.WriteString(";")
	}
	return sb.String()
}
