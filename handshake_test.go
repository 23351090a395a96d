package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandshakeSuccess(t *testing.T) {
	recv := make(chan Frame, 8)
	mt := newMockTransport(recv)

	h := newHandshake(NewNoopLogger(), "tok", "sess", time.Second)
	ack, err := h.run(context.Background(), mt, recv)
	require.NoError(t, err)

	assert.Equal(t, mockConnectionID, ack.ConnectionID)
	assert.Equal(t, mockUserID, ack.UserID)
	assert.NotEmpty(t, ack.AvailableChannels)

	// The auth frame must carry the token and session id.
	frames := mt.framesOfType(frameAuth)
	require.Len(t, frames, 1)

	var sent authFrame
	require.NoError(t, json.Unmarshal(frames[0].Data(), &sent))
	assert.Equal(t, "tok", sent.Token)
	assert.Equal(t, "sess", sent.SessionID)
}

func TestHandshakeTimeout(t *testing.T) {
	recv := make(chan Frame, 8)
	mt := newMockTransport(recv)
	mt.autoAck = false

	h := newHandshake(NewNoopLogger(), "tok", "sess", 10*time.Millisecond)
	_, err := h.run(context.Background(), mt, recv)

	assert.ErrorIs(t, err, ErrHandshakeTimeout)
}

func TestHandshakeRejected(t *testing.T) {
	recv := make(chan Frame, 8)
	mt := newMockTransport(recv)
	mt.ack = authAck{Success: false, Error: "bad token"}

	h := newHandshake(NewNoopLogger(), "tok", "sess", time.Second)
	_, err := h.run(context.Background(), mt, recv)

	require.ErrorIs(t, err, ErrHandshakeFailed)

	var rejected *AuthRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "bad token", rejected.Reason)
}

func TestHandshakeMalformedAck(t *testing.T) {
	recv := make(chan Frame, 8)
	mt := newMockTransport(recv)
	mt.autoAck = false

	go func() {
		// Whatever arrives first settles the handshake.
		mt.push(NewTextFrame([]byte("{not json")))
	}()

	h := newHandshake(NewNoopLogger(), "tok", "sess", time.Second)
	_, err := h.run(context.Background(), mt, recv)

	assert.ErrorIs(t, err, ErrHandshakeFailed)
}

func TestHandshakeAckMissingConnectionID(t *testing.T) {
	recv := make(chan Frame, 8)
	mt := newMockTransport(recv)
	mt.ack = authAck{Success: true}

	h := newHandshake(NewNoopLogger(), "tok", "sess", time.Second)
	_, err := h.run(context.Background(), mt, recv)

	assert.ErrorIs(t, err, ErrHandshakeFailed)
}

func TestHandshakeTransportClosed(t *testing.T) {
	recv := make(chan Frame, 8)
	mt := newMockTransport(recv)
	mt.Close()

	h := newHandshake(NewNoopLogger(), "tok", "sess", time.Second)
	_, err := h.run(context.Background(), mt, recv)

	assert.ErrorIs(t, err, ErrHandshakeFailed)
}

func TestHandshakeRepliesToPings(t *testing.T) {
	recv := make(chan Frame, 8)
	mt := newMockTransport(recv)
	mt.autoAck = false

	recv <- NewPingFrame([]byte("keepalive"))
	go func() {
		time.Sleep(5 * time.Millisecond)
		bts, _ := json.Marshal(authAck{Success: true, ConnectionID: mockConnectionID})
		mt.push(NewTextFrame(bts))
	}()

	h := newHandshake(NewNoopLogger(), "tok", "sess", time.Second)
	_, err := h.run(context.Background(), mt, recv)
	require.NoError(t, err)

	var pongs int
	for _, f := range mt.writtenFrames() {
		if f.Type().IsPong() {
			pongs++
		}
	}
	assert.Equal(t, 1, pongs)
}
