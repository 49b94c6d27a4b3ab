// Package clientmetrics tracks per-endpoint traffic counters for protocol adaptors.
package clientmetrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// ClientMetrics counts messages, bytes, rejections and errors for one adaptor.
// All methods are safe for concurrent use.
type ClientMetrics struct {
	mu           sync.Mutex
	connectTime  time.Time
	channels     atomic.Int64
	openChannels atomic.Int64
	messagesSent atomic.Int64
	messagesRecv atomic.Int64
	bytesSent    atomic.Int64
	bytesRecv    atomic.Int64
	rejections   atomic.Int64
	errors       atomic.Int64
}

// New creates a new ClientMetrics instance.
func New() *ClientMetrics {
	return &ClientMetrics{}
}

// MarkConnected records the time the adaptor became usable.
func (m *ClientMetrics) MarkConnected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectTime = time.Now()
}

// ChannelOpened records a new dialog channel.
func (m *ClientMetrics) ChannelOpened() {
	m.channels.Add(1)
	m.openChannels.Add(1)
}

// ChannelClosed records the release of a dialog channel.
func (m *ClientMetrics) ChannelClosed() {
	m.openChannels.Add(-1)
}

// IncrementSent increments messages sent and bytes sent counters.
func (m *ClientMetrics) IncrementSent(bytes int64) {
	m.messagesSent.Add(1)
	m.bytesSent.Add(bytes)
}

// IncrementReceived increments messages received and bytes received counters.
func (m *ClientMetrics) IncrementReceived(bytes int64) {
	m.messagesRecv.Add(1)
	m.bytesRecv.Add(bytes)
}

// IncrementRejections counts a peer rejection (refused connection, overload).
func (m *ClientMetrics) IncrementRejections() {
	m.rejections.Add(1)
}

// IncrementErrors increments the error counter.
func (m *ClientMetrics) IncrementErrors() {
	m.errors.Add(1)
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	ConnectionDuration time.Duration `json:"-"`
	ChannelsOpened     int64         `json:"channels_opened"`
	ChannelsOpen       int64         `json:"channels_open"`
	MessagesSent       int64         `json:"messages_sent"`
	MessagesReceived   int64         `json:"messages_received"`
	BytesSent          int64         `json:"bytes_sent"`
	BytesReceived      int64         `json:"bytes_received"`
	Rejections         int64         `json:"rejections"`
	Errors             int64         `json:"errors"`
}

// Snapshot returns the current counter values.
func (m *ClientMetrics) Snapshot() Snapshot {
	m.mu.Lock()
	connected := m.connectTime
	m.mu.Unlock()

	var duration time.Duration
	if !connected.IsZero() {
		duration = time.Since(connected)
	}

	return Snapshot{
		ConnectionDuration: duration,
		ChannelsOpened:     m.channels.Load(),
		ChannelsOpen:       m.openChannels.Load(),
		MessagesSent:       m.messagesSent.Load(),
		MessagesReceived:   m.messagesRecv.Load(),
		BytesSent:          m.bytesSent.Load(),
		BytesReceived:      m.bytesRecv.Load(),
		Rejections:         m.rejections.Load(),
		Errors:             m.errors.Load(),
	}
}
