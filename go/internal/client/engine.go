package client

import (
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/watchparty/go/internal/events"
	"github.com/mcdev12/watchparty/go/internal/models"
)

// DefaultDriftThreshold is how far, in seconds, the local player may be from a
// relayed position before it is corrected
const DefaultDriftThreshold = 2.0

// Engine reconciles the local player with events from the room. It never emits
// anything itself, so applying a remote event cannot loop back to the server.
type Engine struct {
	mu        sync.Mutex
	player    Player
	selfID    string
	threshold float64

	roomCode string
}

// NewEngine creates an engine driving player
func NewEngine(player Player) *Engine {
	return &Engine{
		player:    player,
		threshold: DefaultDriftThreshold,
	}
}

// WithDriftThreshold overrides the drift threshold
func (e *Engine) WithDriftThreshold(seconds float64) *Engine {
	if seconds > 0 {
		e.threshold = seconds
	}
	return e
}

// SelfID returns the connection id the server assigned, once known
func (e *Engine) SelfID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selfID
}

// SetSelfID records the connection id used to recognise our own echoes
func (e *Engine) SetSelfID(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.selfID = id
}

// RoomCode returns the room of the last snapshot
func (e *Engine) RoomCode() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.roomCode
}

func (e *Engine) isEcho(originID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return originID != "" && originID == e.selfID
}

// ApplySnapshot adopts the full room state received on join
func (e *Engine) ApplySnapshot(snap models.RoomSnapshot) {
	e.mu.Lock()
	e.roomCode = snap.Code
	e.mu.Unlock()

	if snap.Video != "" && snap.Video != e.player.Video() {
		e.player.Load(snap.Video)
	}
	e.player.Seek(snap.Position)
	e.player.SetPlaying(snap.Playing)
	if snap.PlaybackRate > 0 {
		e.player.SetRate(snap.PlaybackRate)
	}
}

// ApplyPlayback handles a relayed play or pause. The local player only seeks
// when it has drifted past the threshold. It reports whether the event was
// applied.
func (e *Engine) ApplyPlayback(p events.PlaybackPayload) bool {
	if e.isEcho(p.OriginID) {
		return false
	}
	if math.Abs(e.player.Position()-p.Position) > e.threshold {
		e.player.Seek(p.Position)
	}
	e.player.SetPlaying(p.Playing)
	return true
}

// ApplySeek handles a relayed seek, which always moves the local player
func (e *Engine) ApplySeek(p events.PlaybackPayload) bool {
	if e.isEcho(p.OriginID) {
		return false
	}
	e.player.Seek(p.Position)
	return true
}

// ApplyResync forces the player onto the authoritative state
func (e *Engine) ApplyResync(p events.ResyncPayload) {
	if p.Video != "" && p.Video != e.player.Video() {
		e.player.Load(p.Video)
	}
	e.player.Seek(p.Position)
	e.player.SetPlaying(p.Playing)
}

// ApplySpeed handles a relayed playback rate change
func (e *Engine) ApplySpeed(p events.SpeedPayload) bool {
	if e.isEcho(p.OriginID) {
		return false
	}
	e.player.SetRate(p.Rate)
	return true
}

// Handle routes a server event to the matching reconciliation rule. Events that
// do not affect playback are accepted and ignored.
func (e *Engine) Handle(ev *events.Event) error {
	payload, err := events.ParsePayload(ev)
	if err != nil {
		return fmt.Errorf("failed to parse %s event: %w", ev.Type, err)
	}

	switch p := payload.(type) {
	case *events.ConnectedPayload:
		e.SetSelfID(p.ConnectionID)
	case *events.SnapshotPayload:
		e.ApplySnapshot(*p)
	case *events.ResyncPayload:
		e.ApplyResync(*p)
	case *events.PlaybackPayload:
		if ev.Type == events.TypeSeek {
			e.ApplySeek(*p)
		} else {
			e.ApplyPlayback(*p)
		}
	case *events.SpeedPayload:
		e.ApplySpeed(*p)
	default:
		log.Debug().Str("event_type", string(ev.Type)).Msg("event does not affect playback")
	}
	return nil
}
