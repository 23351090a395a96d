package realtime

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// EventType identifies an application event on the wire. The enumeration is
// closed: frames carrying an unknown type parse fine but match no handlers.
type EventType string

const (
	EventChatMessage  EventType = "chat_message"
	EventSystemNotice EventType = "system_notice"
	EventUserJoined   EventType = "user_joined"
	EventUserLeft     EventType = "user_left"

	// Lifecycle events are emitted locally by the client, never by the server.
	// They ride the same dispatcher so callers observe state transitions with
	// the On/Off surface they already use for server events.
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
	EventReconnected  EventType = "reconnected"
)

const (
	frameAuth      = "auth"
	frameHeartbeat = "heartbeat"
	frameSubscribe = "subscribe"
)

// Event is the uniform envelope for application events, inbound and outbound.
// The payload stays opaque until a typed decode helper is applied.
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// authFrame opens the application-level handshake right after transport-open.
type authFrame struct {
	Type      string `json:"type"`
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
}

// authAck is the single server reply that settles the handshake.
type authAck struct {
	Success           bool     `json:"success"`
	ConnectionID      string   `json:"connection_id"`
	UserID            string   `json:"user_id"`
	SessionID         string   `json:"session_id"`
	AvailableChannels []string `json:"available_channels"`
	Error             string   `json:"error,omitempty"`
}

type heartbeatFrame struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// subscribeFrame names the full desired channel set, not a delta.
type subscribeFrame struct {
	ID        string   `json:"id"`
	Type      string   `json:"type"`
	Timestamp int64    `json:"timestamp"`
	Channels  []string `json:"channels"`
}

type outboundEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp int64     `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// ChatMessage is the payload of chat_message events.
type ChatMessage struct {
	Text   string `json:"text"`
	UserID string `json:"user_id,omitempty"`
}

// SystemNotice is the payload of system_notice events.
type SystemNotice struct {
	Text  string `json:"text"`
	Level string `json:"level,omitempty"`
}

// StateChange is the payload of the locally emitted lifecycle events.
type StateChange struct {
	Previous Status `json:"previous"`
	Current  Status `json:"current"`
	Reason   string `json:"reason,omitempty"`
}

// DecodeChatMessage extracts the typed payload of a chat_message event.
func DecodeChatMessage(ev Event) (ChatMessage, error) {
	var msg ChatMessage
	if !ev.Type.Is(EventChatMessage) {
		return msg, errors.Errorf("cannot decode chat message from %q event", ev.Type)
	}
	if err := json.Unmarshal(ev.Payload, &msg); err != nil {
		return msg, errors.Wrap(err, "malformed chat message payload")
	}
	return msg, nil
}

// DecodeSystemNotice extracts the typed payload of a system_notice event.
func DecodeSystemNotice(ev Event) (SystemNotice, error) {
	var notice SystemNotice
	if !ev.Type.Is(EventSystemNotice) {
		return notice, errors.Errorf("cannot decode system notice from %q event", ev.Type)
	}
	if err := json.Unmarshal(ev.Payload, &notice); err != nil {
		return notice, errors.Wrap(err, "malformed system notice payload")
	}
	return notice, nil
}

// DecodeStateChange extracts the typed payload of a lifecycle event.
func DecodeStateChange(ev Event) (StateChange, error) {
	var change StateChange
	if err := json.Unmarshal(ev.Payload, &change); err != nil {
		return change, errors.Wrap(err, "malformed state change payload")
	}
	return change, nil
}

func (t EventType) Is(other EventType) bool {
	return t == other
}

func newFrameID() string {
	return uuid.NewString()
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
