package realtime

import (
	"sync/atomic"
	"time"
)

// PerformanceMetrics is a point-in-time snapshot of the client's throughput
// counters. Counters only ever grow; they reset when the client is recreated.
type PerformanceMetrics struct {
	MessagesSent     uint64
	BytesSent        uint64
	MessagesReceived uint64
	BytesReceived    uint64
	Reconnects       uint64
}

// ClientStats combines the session snapshot with the throughput counters, as
// returned by Client.Stats.
type ClientStats struct {
	Status             Status
	ConnectionID       string
	SubscribedChannels []string
	Uptime             time.Duration
	Metrics            PerformanceMetrics
}

// metrics accumulates the counters behind PerformanceMetrics. All methods are
// safe for concurrent use.
type metrics struct {
	messagesSent     atomic.Uint64
	bytesSent        atomic.Uint64
	messagesReceived atomic.Uint64
	bytesReceived    atomic.Uint64
	reconnects       atomic.Uint64
}

func newMetrics() *metrics {
	return &metrics{}
}

func (m *metrics) addSent(bytes int) {
	m.messagesSent.Add(1)
	m.bytesSent.Add(uint64(bytes))
}

func (m *metrics) addReceived(bytes int) {
	m.messagesReceived.Add(1)
	m.bytesReceived.Add(uint64(bytes))
}

func (m *metrics) incReconnects() {
	m.reconnects.Add(1)
}

func (m *metrics) snapshot() PerformanceMetrics {
	return PerformanceMetrics{
		MessagesSent:     m.messagesSent.Load(),
		BytesSent:        m.bytesSent.Load(),
		MessagesReceived: m.messagesReceived.Load(),
		BytesReceived:    m.bytesReceived.Load(),
		Reconnects:       m.reconnects.Load(),
	}
}
