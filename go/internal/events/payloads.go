package events

import (
	"time"

	"github.com/mcdev12/watchparty/go/internal/models"
)

// Payload types shared by the session coordinator, the gateway and the client.

// RoomRef addresses a room. Join, leave and request-sync carry nothing else.
type RoomRef struct {
	RoomCode string `json:"room_code,omitempty"`
}

// ConnectedPayload is unicast once a socket is accepted
type ConnectedPayload struct {
	ConnectionID string `json:"connection_id"`
	DisplayName  string `json:"display_name"`
}

// SnapshotPayload is the full room state unicast on join
type SnapshotPayload = models.RoomSnapshot

// ResyncPayload forces every receiver onto the authoritative state
type ResyncPayload struct {
	Video    string  `json:"video"`
	Position float64 `json:"position"`
	Playing  bool    `json:"playing"`
}

// PlaybackPayload is used by play, pause and seek in both directions.
// Playing is only meaningful on relayed play/pause.
type PlaybackPayload struct {
	RoomRef
	Position float64 `json:"position"`
	Playing  bool    `json:"playing"`
	OriginID string  `json:"origin_id,omitempty"`
}

// ChangeVideoPayload requests a new video for the room
type ChangeVideoPayload struct {
	RoomRef
	Video string `json:"video"`
}

// SpeedPayload carries a playback rate change
type SpeedPayload struct {
	RoomRef
	Rate     float64 `json:"rate"`
	OriginID string  `json:"origin_id,omitempty"`
}

// ThemePayload carries a theme change
type ThemePayload struct {
	RoomRef
	Theme string `json:"theme"`
}

// ChatPayload is a chat message. Clients fill RoomCode, Text and ReplyRef;
// the coordinator stamps the rest before broadcasting.
type ChatPayload struct {
	RoomRef
	ID          string    `json:"id,omitempty"`
	SenderID    string    `json:"sender_id,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	Text        string    `json:"text"`
	ReplyRef    string    `json:"reply_ref,omitempty"`
	Time        time.Time `json:"time,omitempty"`
}

// ScreenPosition is a point in percent of the viewport
type ScreenPosition struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ReactionPayload is a transient on-screen reaction
type ReactionPayload struct {
	RoomRef
	ID          string          `json:"id,omitempty"`
	SenderID    string          `json:"sender_id,omitempty"`
	DisplayName string          `json:"display_name,omitempty"`
	Symbol      string          `json:"symbol"`
	Position    *ScreenPosition `json:"position,omitempty"`
}

// PresencePayload announces a participant joining or leaving
type PresencePayload struct {
	ParticipantID    string `json:"participant_id"`
	DisplayName      string `json:"display_name"`
	ParticipantCount int    `json:"participant_count"`
}
