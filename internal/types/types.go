package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/DoyleJ11/truthdare-live/internal/room"
)

var ErrMissingEventType = errors.New("missing eventType")
var ErrNoSnapshot = errors.New("event carries no snapshot")

type EventType string

const (
	EvtRoomState       EventType = "ROOM_STATE"
	EvtRoomCreated     EventType = "ROOM_CREATED"
	EvtPlayerJoined    EventType = "PLAYER_JOINED"
	EvtPlayerLeft      EventType = "PLAYER_LEFT"
	EvtGameStarted     EventType = "GAME_STARTED"
	EvtQuestionSent    EventType = "QUESTION_SENT"
	EvtAdminOverride   EventType = "ADMIN_OVERRIDE"
	EvtNextTurn        EventType = "NEXT_TURN"
	EvtGameModeChanged EventType = "GAME_MODE_CHANGED"
)

// Event is the push envelope: {"eventType": "...", "data": {...} | null}.
type Event struct {
	Type      EventType       `json:"eventType"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp,omitempty"` // ms since epoch, server clock
	Topic     string          `json:"-"`
}

// DecodeError marks a frame that could not be turned into an Event.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return "decode event: " + e.Err.Error() }
func (e *DecodeError) Unwrap() error { return e.Err }

func Decode(payload []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Event{}, &DecodeError{Err: err}
	}
	if ev.Type == "" {
		return Event{}, &DecodeError{Err: ErrMissingEventType}
	}
	return ev, nil
}

// HasData reports whether the event carried a non-null payload.
func (e Event) HasData() bool {
	d := bytes.TrimSpace(e.Data)
	return len(d) > 0 && !bytes.Equal(d, []byte("null"))
}

// Snapshot decodes the payload of a ROOM_STATE event.
func (e Event) Snapshot() (room.State, error) {
	if !e.HasData() {
		return room.State{}, ErrNoSnapshot
	}
	var s room.State
	if err := json.Unmarshal(e.Data, &s); err != nil {
		return room.State{}, fmt.Errorf("snapshot: %w", err)
	}
	if err := s.Validate(); err != nil {
		return room.State{}, fmt.Errorf("snapshot: %w", err)
	}
	return s, nil
}
