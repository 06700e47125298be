// README: Realtime wire envelope, connection status and the client surface shared by the websocket and loopback transports.
package realtime

import (
	"encoding/json"
	"errors"

	"orbix/internal/types"
)

// Envelope is one realtime frame: {"event": name, "data": payload, "id": uuid}.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	ID    string          `json:"id,omitempty"`
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}

type Handler func(Envelope)

type Status string

const (
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusReconnecting Status = "reconnecting"
)

// Identity is announced with the join event after every (re)connect.
type Identity struct {
	ID   types.ID   `json:"identityId"`
	Role types.Role `json:"role"`
}

const EventJoin = "join"

var (
	ErrNotConnected = errors.New("realtime: not connected")
	ErrSendBuffer   = errors.New("realtime: send buffer full")
	ErrClosed       = errors.New("realtime: connection closed")
)

// Client is the surface the event router and tracker depend on.
type Client interface {
	On(event string, h Handler) func()
	OnUnknown(h Handler) func()
	Emit(event string, payload any) error
	Status() Status
	WatchStatus(fn func(Status)) func()
	Close() error
}

func encode(event string, payload any, id string) (Envelope, error) {
	env := Envelope{Event: event, ID: id}
	if payload == nil {
		return env, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		env.Data = raw
		return env, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	env.Data = b
	return env, nil
}
