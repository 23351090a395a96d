package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(
	t *testing.T,
	mutate func(*Config),
	configure func(*mockTransport),
	opts ...Option,
) (*Client, *mockTransportFactory) {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Token = "test-token"
	cfg.SessionID = "test-session"
	cfg.Channels = nil
	cfg.ConnectTimeout = 500 * time.Millisecond
	cfg.HeartbeatInterval = time.Hour
	cfg.ReconnectAttempts = 0
	cfg.ReconnectDelay = time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}

	factory := newMockTransportFactory(configure)
	opts = append([]Option{WithTransportFactory(factory.factory())}, opts...)

	c, err := NewClient(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(c.Destroy)

	return c, factory
}

func eventFrame(t *testing.T, typ EventType, payload any) Frame {
	t.Helper()

	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	bts, err := json.Marshal(Event{
		ID:        newFrameID(),
		Type:      typ,
		Timestamp: nowMillis(),
		Payload:   raw,
	})
	require.NoError(t, err)

	return NewTextFrame(bts)
}

func TestConnectPopulatesSession(t *testing.T) {
	c, factory := newTestClient(t, func(cfg *Config) {
		cfg.ReconnectAttempts = 1
	}, nil)

	require.NoError(t, c.Connect(context.Background()))

	state := c.State()
	assert.Equal(t, StatusConnected, state.Status)
	assert.Equal(t, mockConnectionID, state.ConnectionID)
	assert.Equal(t, mockUserID, state.UserID)
	assert.NotEmpty(t, state.AvailableChannels)
	assert.False(t, state.ConnectedAt.IsZero())
	assert.Equal(t, 1, factory.count())

	c.Disconnect()
	assert.Equal(t, StatusDisconnected, c.State().Status)
	assert.Empty(t, c.State().ConnectionID)
}

func TestConnectWhileConnectedIsNoop(t *testing.T) {
	c, factory := newTestClient(t, nil, nil)

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Connect(context.Background()))

	assert.Equal(t, 1, factory.count())
}

func TestConnectConcurrent(t *testing.T) {
	c, factory := newTestClient(t, nil, nil)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = c.Connect(context.Background())
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, factory.count())
}

func TestConnectAfterDestroy(t *testing.T) {
	c, _ := newTestClient(t, nil, nil)

	c.Destroy()

	err := c.Connect(context.Background())
	assert.ErrorIs(t, err, ErrDestroyed)
}

func TestConnectOpenFailure(t *testing.T) {
	c, _ := newTestClient(t, nil, func(mt *mockTransport) {
		mt.OpenFunc = func(context.Context) error { return ErrCannotConnect }
	})

	err := c.Connect(context.Background())
	assert.ErrorIs(t, err, ErrCannotConnect)
	assert.Equal(t, StatusDisconnected, c.State().Status)
}

func TestConnectRetriesInitialFailure(t *testing.T) {
	var attempts atomic.Int32
	c, factory := newTestClient(t, func(cfg *Config) {
		cfg.ReconnectAttempts = 1
	}, func(mt *mockTransport) {
		if attempts.Add(1) == 1 {
			mt.OpenFunc = func(context.Context) error { return ErrCannotConnect }
		}
	})

	require.NoError(t, c.Connect(context.Background()))

	assert.Equal(t, 2, factory.count())
	assert.Equal(t, uint64(1), c.PerformanceMetrics().Reconnects)
}

func TestConnectHandshakeTimeout(t *testing.T) {
	c, _ := newTestClient(t, func(cfg *Config) {
		cfg.ConnectTimeout = 20 * time.Millisecond
	}, func(mt *mockTransport) {
		mt.autoAck = false
	})

	err := c.Connect(context.Background())
	assert.ErrorIs(t, err, ErrHandshakeTimeout)
}

func TestConnectAuthRejected(t *testing.T) {
	c, _ := newTestClient(t, nil, func(mt *mockTransport) {
		mt.ack = authAck{Success: false, Error: "bad token"}
	})

	err := c.Connect(context.Background())
	assert.ErrorIs(t, err, ErrHandshakeFailed)
}

func TestSendNotConnected(t *testing.T) {
	c, _ := newTestClient(t, nil, nil)

	err := c.Send(EventChatMessage, ChatMessage{Text: "hi"})
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Zero(t, c.PerformanceMetrics().MessagesSent)
}

func TestSendIncrementsMetrics(t *testing.T) {
	c, factory := newTestClient(t, nil, nil)
	require.NoError(t, c.Connect(context.Background()))

	require.NoError(t, c.SendChatMessage("hello there"))

	snap := c.PerformanceMetrics()
	assert.Equal(t, uint64(1), snap.MessagesSent)
	assert.Greater(t, snap.BytesSent, uint64(len("hello there")))

	frames := factory.last().framesOfType(string(EventChatMessage))
	require.Len(t, frames, 1)

	var sent Event
	require.NoError(t, json.Unmarshal(frames[0].Data(), &sent))
	assert.NotEmpty(t, sent.ID)

	msg, err := DecodeChatMessage(sent)
	require.NoError(t, err)
	assert.Equal(t, "hello there", msg.Text)
}

func TestSendAfterDisconnect(t *testing.T) {
	c, _ := newTestClient(t, nil, nil)
	require.NoError(t, c.Connect(context.Background()))

	c.Disconnect()

	err := c.SendChatMessage("too late")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestHeartbeatWhileConnected(t *testing.T) {
	c, factory := newTestClient(t, func(cfg *Config) {
		cfg.HeartbeatInterval = 5 * time.Millisecond
	}, nil)
	require.NoError(t, c.Connect(context.Background()))

	mt := factory.last()
	require.Eventually(t, func() bool {
		return len(mt.framesOfType(frameHeartbeat)) >= 2
	}, time.Second, time.Millisecond)

	c.Disconnect()
	settled := len(mt.framesOfType(frameHeartbeat))
	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, settled, len(mt.framesOfType(frameHeartbeat)))
}

func TestInboundEventDispatch(t *testing.T) {
	c, factory := newTestClient(t, nil, nil)
	require.NoError(t, c.Connect(context.Background()))

	got := make(chan Event, 2)
	handler := func(ev Event) { got <- ev }
	c.On(EventChatMessage, handler)

	factory.last().push(eventFrame(t, EventChatMessage, ChatMessage{Text: "yo"}))

	select {
	case ev := <-got:
		msg, err := DecodeChatMessage(ev)
		require.NoError(t, err)
		assert.Equal(t, "yo", msg.Text)
	case <-time.After(time.Second):
		t.Fatal("event was not dispatched")
	}

	c.Off(EventChatMessage, handler)
	factory.last().push(eventFrame(t, EventChatMessage, ChatMessage{Text: "again"}))

	select {
	case <-got:
		t.Fatal("handler fired after Off")
	case <-time.After(30 * time.Millisecond):
	}
}

func TestMalformedInboundFrameIsAbsorbed(t *testing.T) {
	c, factory := newTestClient(t, nil, nil)
	require.NoError(t, c.Connect(context.Background()))

	got := make(chan Event, 1)
	c.On(EventChatMessage, func(ev Event) { got <- ev })

	factory.last().push(NewTextFrame([]byte("{definitely not json")))
	factory.last().push(eventFrame(t, EventChatMessage, ChatMessage{Text: "still alive"}))

	select {
	case ev := <-got:
		msg, err := DecodeChatMessage(ev)
		require.NoError(t, err)
		assert.Equal(t, "still alive", msg.Text)
	case <-time.After(time.Second):
		t.Fatal("processing stopped after malformed frame")
	}

	assert.Equal(t, StatusConnected, c.State().Status)
	assert.Equal(t, uint64(2), c.PerformanceMetrics().MessagesReceived)
}

func TestSubscribeWhileConnected(t *testing.T) {
	c, factory := newTestClient(t, nil, nil)
	require.NoError(t, c.Connect(context.Background()))

	require.NoError(t, c.SubscribeToChannels("a", "b"))
	require.NoError(t, c.SubscribeToChannels("a", "c"))

	frames := factory.last().framesOfType(frameSubscribe)
	require.Len(t, frames, 2)

	var first, second subscribeFrame
	require.NoError(t, json.Unmarshal(frames[0].Data(), &first))
	require.NoError(t, json.Unmarshal(frames[1].Data(), &second))

	assert.Equal(t, []string{"a", "b"}, first.Channels)
	assert.Equal(t, []string{"a", "b", "c"}, second.Channels)
}

func TestSubscribeReplayOnConnect(t *testing.T) {
	c, factory := newTestClient(t, func(cfg *Config) {
		cfg.Channels = []string{"general"}
	}, nil)

	// Recorded while disconnected, replayed by the handshake.
	require.NoError(t, c.SubscribeToChannels("alerts"))
	require.NoError(t, c.Connect(context.Background()))

	frames := factory.last().framesOfType(frameSubscribe)
	require.Len(t, frames, 1)

	var replay subscribeFrame
	require.NoError(t, json.Unmarshal(frames[0].Data(), &replay))
	assert.Equal(t, []string{"alerts", "general"}, replay.Channels)
}

func TestReconnectOnUnexpectedClose(t *testing.T) {
	c, factory := newTestClient(t, func(cfg *Config) {
		cfg.Channels = []string{"general"}
		cfg.ReconnectAttempts = 2
	}, nil)
	require.NoError(t, c.Connect(context.Background()))

	reconnected := make(chan Event, 1)
	c.On(EventReconnected, func(ev Event) { reconnected <- ev })

	factory.at(0).closeWithErr(ErrConnectionClosed)

	select {
	case <-reconnected:
	case <-time.After(time.Second):
		t.Fatal("client did not reconnect")
	}

	assert.Equal(t, StatusConnected, c.State().Status)
	assert.Equal(t, 2, factory.count())
	assert.GreaterOrEqual(t, c.PerformanceMetrics().Reconnects, uint64(1))

	// The channel registry was replayed on the new connection.
	frames := factory.at(1).framesOfType(frameSubscribe)
	require.Len(t, frames, 1)
}

func TestReconnectExhausted(t *testing.T) {
	var attempts atomic.Int32
	c, factory := newTestClient(t, func(cfg *Config) {
		cfg.ReconnectAttempts = 2
	}, func(mt *mockTransport) {
		if attempts.Add(1) > 1 {
			mt.OpenFunc = func(context.Context) error { return ErrCannotConnect }
		}
	})
	require.NoError(t, c.Connect(context.Background()))

	factory.at(0).closeWithErr(ErrConnectionClosed)

	require.Eventually(t, func() bool {
		return c.State().Status == StatusDisconnected &&
			c.PerformanceMetrics().Reconnects == 2
	}, time.Second, time.Millisecond)

	// 1 initial + 2 failed retries.
	assert.Equal(t, 3, factory.count())
}

func TestReconnectDisabled(t *testing.T) {
	c, factory := newTestClient(t, nil, nil)
	require.NoError(t, c.Connect(context.Background()))

	disconnected := make(chan Event, 1)
	c.On(EventDisconnected, func(ev Event) { disconnected <- ev })

	factory.at(0).closeWithErr(ErrConnectionClosed)

	select {
	case ev := <-disconnected:
		change, err := DecodeStateChange(ev)
		require.NoError(t, err)
		assert.Equal(t, StatusDisconnected, change.Current)
		assert.NotEmpty(t, change.Reason)
	case <-time.After(time.Second):
		t.Fatal("no disconnected event")
	}

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, factory.count())
	assert.Equal(t, StatusDisconnected, c.State().Status)
}

func TestDestroyCancelsPendingReconnect(t *testing.T) {
	c, factory := newTestClient(t, func(cfg *Config) {
		cfg.ReconnectAttempts = 3
	}, nil, WithBackoff(FixedBackoff(time.Hour)))
	require.NoError(t, c.Connect(context.Background()))

	factory.at(0).closeWithErr(ErrConnectionClosed)

	require.Eventually(t, func() bool {
		return c.State().Status == StatusConnecting
	}, time.Second, time.Millisecond)

	c.Destroy()

	assert.ErrorIs(t, c.Connect(context.Background()), ErrDestroyed)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, factory.count())
}

func TestLifecycleEvents(t *testing.T) {
	c, _ := newTestClient(t, nil, nil)

	events := make(chan EventType, 4)
	c.On(EventConnected, func(Event) { events <- EventConnected })
	c.On(EventDisconnected, func(Event) { events <- EventDisconnected })

	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, EventConnected, <-events)

	c.Disconnect()
	assert.Equal(t, EventDisconnected, <-events)
}

func TestStats(t *testing.T) {
	c, _ := newTestClient(t, func(cfg *Config) {
		cfg.Channels = []string{"general"}
	}, nil)
	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.SendChatMessage("ping"))

	stats := c.Stats()
	assert.Equal(t, StatusConnected, stats.Status)
	assert.Equal(t, mockConnectionID, stats.ConnectionID)
	assert.Equal(t, []string{"general"}, stats.SubscribedChannels)
	// Subscription replay + chat message.
	assert.Equal(t, uint64(2), stats.Metrics.MessagesSent)
}
