package models

import (
	"sort"
	"time"
)

const (
	// DefaultVideo is loaded into every freshly created room.
	DefaultVideo = "https://www.youtube.com/watch?v=dQw4w9WgXcQ"
	// DefaultTheme is the cosmetic theme tag of a new room.
	DefaultTheme = "dark"
	// DefaultPlaybackRate is the playback multiplier of a new room.
	DefaultPlaybackRate = 1.0
)

// Participant is a connection currently joined to a room.
type Participant struct {
	DisplayName string    `json:"display_name"`
	JoinedAt    time.Time `json:"joined_at"`
}

// Room holds the authoritative playback state shared by everyone in it.
type Room struct {
	Code          string                 `json:"code"`
	Video         string                 `json:"video"`
	Position      float64                `json:"position"`
	Playing       bool                   `json:"playing"`
	PlaybackRate  float64                `json:"playback_rate"`
	Theme         string                 `json:"theme"`
	Participants  map[string]Participant `json:"-"` // keyed by connection id
	CreatedAt     time.Time              `json:"created_at"`
	LastUpdateAt  time.Time              `json:"last_update_at"`
	LastUpdatedBy string                 `json:"last_updated_by,omitempty"`
}

// Clone returns a deep copy that is safe to hand out of the registry.
func (r *Room) Clone() Room {
	out := *r
	out.Participants = make(map[string]Participant, len(r.Participants))
	for id, p := range r.Participants {
		out.Participants[id] = p
	}
	return out
}

// ParticipantInfo is a participant entry as it appears in snapshots.
type ParticipantInfo struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	JoinedAt    time.Time `json:"joined_at"`
}

// ParticipantList returns the participants ordered by join time, then id.
func (r *Room) ParticipantList() []ParticipantInfo {
	list := make([]ParticipantInfo, 0, len(r.Participants))
	for id, p := range r.Participants {
		list = append(list, ParticipantInfo{ID: id, DisplayName: p.DisplayName, JoinedAt: p.JoinedAt})
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].JoinedAt.Equal(list[j].JoinedAt) {
			return list[i].JoinedAt.Before(list[j].JoinedAt)
		}
		return list[i].ID < list[j].ID
	})
	return list
}

// RoomSnapshot is the full state sent to a joining client and returned by the HTTP API.
type RoomSnapshot struct {
	Code         string            `json:"code"`
	Video        string            `json:"video"`
	Position     float64           `json:"position"`
	Playing      bool              `json:"playing"`
	PlaybackRate float64           `json:"playback_rate"`
	Theme        string            `json:"theme"`
	Participants []ParticipantInfo `json:"participants"`
	CreatedAt    time.Time         `json:"created_at"`
}

// Snapshot builds the wire snapshot of the room.
func (r *Room) Snapshot() RoomSnapshot {
	return RoomSnapshot{
		Code:         r.Code,
		Video:        r.Video,
		Position:     r.Position,
		Playing:      r.Playing,
		PlaybackRate: r.PlaybackRate,
		Theme:        r.Theme,
		Participants: r.ParticipantList(),
		CreatedAt:    r.CreatedAt,
	}
}
