package events

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/torosent/scensim/internal/dialog"
	"github.com/torosent/scensim/internal/logging"
)

const defaultBufferSize = 1024

type subscription struct {
	id    uint64
	queue chan any
	done  chan struct{}

	lifecycle LifecycleListener
	message   MessageListener
	dropped   atomic.Int64
}

// Dispatcher delivers events to listeners. Each listener owns a bounded FIFO
// queue drained by its own goroutine, so events reach a listener in the order
// they were published; a full queue drops the event for that listener.
type Dispatcher struct {
	logger     *slog.Logger
	bufferSize int

	mu      sync.RWMutex
	subs    map[uint64]*subscription
	nextID  uint64
	closed  bool
	dropped atomic.Int64
}

// NewDispatcher creates a dispatcher. bufferSize <= 0 uses the default.
func NewDispatcher(bufferSize int, logger *slog.Logger) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Dispatcher{
		logger:     logging.OrDiscard(logger),
		bufferSize: bufferSize,
		subs:       make(map[uint64]*subscription),
	}
}

// AddLifecycleListener registers fn and returns a function removing it.
func (d *Dispatcher) AddLifecycleListener(fn LifecycleListener) func() {
	return d.add(&subscription{lifecycle: fn})
}

// AddMessageListener registers fn and returns a function removing it.
func (d *Dispatcher) AddMessageListener(fn MessageListener) func() {
	return d.add(&subscription{message: fn})
}

func (d *Dispatcher) add(sub *subscription) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return func() {}
	}
	d.nextID++
	sub.id = d.nextID
	sub.queue = make(chan any, d.bufferSize)
	sub.done = make(chan struct{})
	d.subs[sub.id] = sub
	go d.drain(sub)
	return func() { d.remove(sub.id) }
}

func (d *Dispatcher) drain(sub *subscription) {
	defer close(sub.done)
	for ev := range sub.queue {
		switch e := ev.(type) {
		case LifecycleEvent:
			sub.lifecycle(e)
		case dialog.MessageEvent:
			sub.message(e)
		}
	}
}

func (d *Dispatcher) remove(id uint64) {
	d.mu.Lock()
	sub, ok := d.subs[id]
	if ok {
		delete(d.subs, id)
		close(sub.queue)
	}
	d.mu.Unlock()
	if ok {
		<-sub.done
	}
}

// PublishLifecycle queues e for every lifecycle listener.
func (d *Dispatcher) PublishLifecycle(e LifecycleEvent) {
	d.publish(e, func(s *subscription) bool { return s.lifecycle != nil })
}

// PublishMessage queues e for every message listener.
func (d *Dispatcher) PublishMessage(e dialog.MessageEvent) {
	d.publish(e, func(s *subscription) bool { return s.message != nil })
}

// HasMessageListeners reports whether any message listener is registered.
func (d *Dispatcher) HasMessageListeners() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, s := range d.subs {
		if s.message != nil {
			return true
		}
	}
	return false
}

func (d *Dispatcher) publish(ev any, wants func(*subscription) bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	for _, sub := range d.subs {
		if !wants(sub) {
			continue
		}
		select {
		case sub.queue <- ev:
		default:
			d.dropped.Add(1)
			if sub.dropped.Add(1) == 1 {
				d.logger.Warn("listener queue full, dropping events", "listener", sub.id)
			}
		}
	}
}

// Dropped returns the number of events dropped across all listeners.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Close stops accepting events, delivers what is queued and waits for every
// listener goroutine to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	subs := d.subs
	d.subs = make(map[uint64]*subscription)
	for _, sub := range subs {
		close(sub.queue)
	}
	d.mu.Unlock()

	for _, sub := range subs {
		<-sub.done
	}
}
