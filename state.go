package realtime

import (
	"encoding/json"
	"time"
)

// Status is the connection state machine position.
type Status int32

const (
	// StatusDisconnected is both the initial state and the terminal state of
	// any given connection attempt.
	StatusDisconnected Status = iota

	// StatusConnecting means the transport is opening or the handshake is in
	// flight. Reconnection rides through this state as well.
	StatusConnecting

	// StatusConnected means the handshake succeeded and the session is live.
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "unknown"
	}
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw {
	case "connecting":
		*s = StatusConnecting
	case "connected":
		*s = StatusConnected
	default:
		*s = StatusDisconnected
	}
	return nil
}

// Session is a point-in-time snapshot of the connection state. The
// server-assigned fields are populated if and only if Status is
// StatusConnected.
type Session struct {
	Status            Status
	ConnectionID      string
	UserID            string
	SessionID         string
	AvailableChannels []string
	ConnectedAt       time.Time
}
