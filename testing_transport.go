package realtime

import (
	"context"
	"encoding/json"
	"sync"
)

const (
	mockConnectionID = "mock-connection-id"
	mockUserID       = "mock-user-id"
)

// mockTransport is a Transport double driven entirely from tests. By default
// it accepts Open, records every write and answers the auth frame with a
// canned positive acknowledgement.
type mockTransport struct {
	mu      sync.Mutex
	recv    chan<- Frame
	written []Frame

	closeC    CloseChan
	closeOnce sync.Once
	closeErr  error

	// OpenFunc and WriteFunc override the default accept-everything behavior.
	OpenFunc  func(ctx context.Context) error
	WriteFunc func(f Frame) error

	// autoAck answers the first auth frame with ack. Disable it to exercise
	// handshake timeouts.
	autoAck bool
	ack     authAck
}

func newMockTransport(recv chan<- Frame) *mockTransport {
	return &mockTransport{
		recv:    recv,
		closeC:  make(CloseChan),
		autoAck: true,
		ack: authAck{
			Success:           true,
			ConnectionID:      mockConnectionID,
			UserID:            mockUserID,
			SessionID:         "mock-session-id",
			AvailableChannels: []string{"general"},
		},
	}
}

func (m *mockTransport) Open(ctx context.Context) error {
	if m.OpenFunc != nil {
		return m.OpenFunc(ctx)
	}
	return nil
}

func (m *mockTransport) Write(f Frame) error {
	if m.WriteFunc != nil {
		if err := m.WriteFunc(f); err != nil {
			return err
		}
	}

	select {
	case <-m.closeC:
		return ErrConnectionClosed
	default:
	}

	m.mu.Lock()
	m.written = append(m.written, f)
	m.mu.Unlock()

	if m.autoAck && f.Type().IsData() && frameTypeOf(f) == frameAuth {
		bts, _ := json.Marshal(m.ack)
		m.push(NewTextFrame(bts))
	}
	return nil
}

func (m *mockTransport) Close() {
	m.closeOnce.Do(func() {
		close(m.closeC)
	})
}

func (m *mockTransport) CloseChan() CloseChan { return m.closeC }

func (m *mockTransport) CloseErr() error { return m.closeErr }

// push delivers a frame to the client as if the server had sent it.
func (m *mockTransport) push(f Frame) {
	select {
	case m.recv <- f:
	case <-m.closeC:
	}
}

// closeWithErr simulates an unexpected connection drop.
func (m *mockTransport) closeWithErr(err error) {
	m.closeErr = err
	m.Close()
}

func (m *mockTransport) writtenFrames() []Frame {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Frame, len(m.written))
	copy(out, m.written)
	return out
}

// framesOfType filters recorded data frames by their wire type field.
func (m *mockTransport) framesOfType(frameType string) []Frame {
	var out []Frame
	for _, f := range m.writtenFrames() {
		if f.Type().IsData() && frameTypeOf(f) == frameType {
			out = append(out, f)
		}
	}
	return out
}

func frameTypeOf(f Frame) string {
	var probe struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(f.Data(), &probe)
	return probe.Type
}

// mockTransportFactory hands mock transports to the client and keeps hold of
// every instance it created, so tests can inspect or kill connections.
type mockTransportFactory struct {
	mu        sync.Mutex
	configure func(*mockTransport)
	created   []*mockTransport
}

func newMockTransportFactory(configure func(*mockTransport)) *mockTransportFactory {
	return &mockTransportFactory{configure: configure}
}

func (f *mockTransportFactory) factory() TransportFactory {
	return func(_ Logger, recv chan<- Frame) Transport {
		mt := newMockTransport(recv)
		if f.configure != nil {
			f.configure(mt)
		}

		f.mu.Lock()
		f.created = append(f.created, mt)
		f.mu.Unlock()
		return mt
	}
}

func (f *mockTransportFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.created)
}

func (f *mockTransportFactory) last() *mockTransport {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.created) == 0 {
		return nil
	}
	return f.created[len(f.created)-1]
}

func (f *mockTransportFactory) at(i int) *mockTransport {
	f.mu.Lock()
	defer f.mu.Unlock()

	if i < 0 || i >= len(f.created) {
		return nil
	}
	return f.created[i]
}
