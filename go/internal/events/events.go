package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrUnknownEventType is returned when a frame carries a type nobody handles
var ErrUnknownEventType = errors.New("unknown event type")

// Type names a realtime event on the room WebSocket
type Type string

const (
	// server → client
	TypeConnected         Type = "connected"
	TypeRoomSnapshot      Type = "room-snapshot"
	TypeResync            Type = "resync"
	TypeParticipantJoined Type = "participant-joined"
	TypeParticipantLeft   Type = "participant-left"

	// client → server
	TypeJoin        Type = "join"
	TypeLeave       Type = "leave"
	TypeRequestSync Type = "request-sync"

	// both directions
	TypePlay        Type = "play"
	TypePause       Type = "pause"
	TypeSeek        Type = "seek"
	TypeChangeVideo Type = "change-video"
	TypeSpeedChange Type = "speed-change"
	TypeThemeChange Type = "theme-change"
	TypeChatMessage Type = "chat-message"
	TypeReaction    Type = "reaction"
)

// Event is the envelope for every frame on the room WebSocket. ID stays the
// same across publish retries.
type Event struct {
	ID        string          `json:"id,omitempty"`
	Type      Type            `json:"type"`
	RoomCode  string          `json:"room_code,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// New builds an envelope around payload
func New(t Type, roomCode string, at time.Time, payload interface{}) (*Event, error) {
	ev := &Event{ID: uuid.NewString(), Type: t, RoomCode: roomCode, Timestamp: at}
	if payload == nil {
		return ev, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	ev.Data = data
	return ev, nil
}

// Encode marshals the envelope for the wire
func (e *Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses a wire frame into an envelope
func Decode(frame []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(frame, &ev); err != nil {
		return nil, fmt.Errorf("unmarshal event envelope: %w", err)
	}
	if ev.Type == "" {
		return nil, fmt.Errorf("event envelope without type")
	}
	return &ev, nil
}

// ParsePayload decodes the data field into the payload struct for the event type
func ParsePayload(ev *Event) (interface{}, error) {
	var target interface{}
	switch ev.Type {
	case TypeConnected:
		target = &ConnectedPayload{}
	case TypeRoomSnapshot:
		target = &SnapshotPayload{}
	case TypeResync:
		target = &ResyncPayload{}
	case TypeParticipantJoined, TypeParticipantLeft:
		target = &PresencePayload{}
	case TypeJoin, TypeLeave, TypeRequestSync:
		target = &RoomRef{}
	case TypePlay, TypePause, TypeSeek:
		target = &PlaybackPayload{}
	case TypeChangeVideo:
		target = &ChangeVideoPayload{}
	case TypeSpeedChange:
		target = &SpeedPayload{}
	case TypeThemeChange:
		target = &ThemePayload{}
	case TypeChatMessage:
		target = &ChatPayload{}
	case TypeReaction:
		target = &ReactionPayload{}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, ev.Type)
	}

	if len(ev.Data) > 0 {
		if err := json.Unmarshal(ev.Data, target); err != nil {
			return nil, fmt.Errorf("unmarshal %s payload: %w", ev.Type, err)
		}
	}
	return target, nil
}
