package channel

import (
	"encoding/json"
	"fmt"

	"vote-app-client/internal/domain/room"
)

const (
	EventJoinRoom    = "join-room"
	EventLeaveRoom   = "leave-room"
	EventVoteUpdated = "vote-updated"
)

// Envelope is one realtime frame: an event name and its JSON payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func Encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode frame: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("decode frame: missing event name")
	}
	return env, nil
}

// RoomCode reads the payload of a join-room or leave-room frame.
func (e Envelope) RoomCode() (string, error) {
	var code string
	if err := json.Unmarshal(e.Data, &code); err != nil {
		return "", fmt.Errorf("decode %s payload: %w", e.Event, err)
	}
	if code == "" {
		return "", fmt.Errorf("decode %s payload: empty room code", e.Event)
	}
	return code, nil
}

// VoteUpdate reads the payload of a vote-updated frame.
func (e Envelope) VoteUpdate() (room.VoteUpdateEvent, error) {
	var ev room.VoteUpdateEvent
	if err := json.Unmarshal(e.Data, &ev); err != nil {
		return room.VoteUpdateEvent{}, fmt.Errorf("decode %s payload: %w", e.Event, err)
	}
	if ev.RoomID == "" {
		return room.VoteUpdateEvent{}, fmt.Errorf("decode %s payload: missing roomId", e.Event)
	}
	return ev, nil
}
