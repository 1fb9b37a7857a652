// Package protocol defines the JSON event envelope exchanged over the chat
// WebSocket and the typed payloads carried by each event.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Events sent by clients.
const (
	EventJoin        = "join"
	EventSendMessage = "send-message"
	EventTyping      = "typing"
	EventStopTyping  = "stop-typing"
)

// Events sent by the server.
const (
	EventPreviousMessages = "previous-messages"
	EventReceiveMessage   = "receive-message"
	EventUserJoined       = "user-joined"
	EventUserLeft         = "user-left"
	EventOnlineUsers      = "online-users"
	EventUserTyping       = "user-typing"
	EventUserStopTyping   = "user-stop-typing"
)

// ErrMalformedEvent is returned when a frame is not a valid event envelope
// or its payload does not match the event.
var ErrMalformedEvent = errors.New("malformed event")

// Envelope is the wire frame for every event in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// JoinPayload is sent by a client after it has authenticated over HTTP.
type JoinPayload struct {
	Username string `json:"username"`
	UserID   string `json:"userId"`
}

// SendMessagePayload carries a chat message from a client. The identity
// fields are informational; the server uses the identity bound at join.
type SendMessagePayload struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Text     string `json:"text"`
}

// TypingPayload is used for both client typing signals and the server relay.
type TypingPayload struct {
	Username string `json:"username"`
}

// MessagePayload is a persisted chat message as delivered to clients.
type MessagePayload struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
	UserID    string    `json:"userId"`
}

// NoticePayload announces a user joining or leaving the room.
type NoticePayload struct {
	Username string `json:"username"`
	Message  string `json:"message"`
}

// OnlineUser is one entry of the online-users snapshot.
type OnlineUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Encode wraps data in an envelope for the given event.
func Encode(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// Decode parses a raw frame into an envelope. The payload is left undecoded.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("%w: missing event name", ErrMalformedEvent)
	}
	return env, nil
}

// Bind decodes the envelope payload into v.
func (e Envelope) Bind(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%w: %s has no payload", ErrMalformedEvent, e.Event)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformedEvent, e.Event, err)
	}
	return nil
}
