package client

import (
	"fmt"

	"github.com/mcdev12/watchparty/go/internal/events"
)

// Emitter sends an event to the room server
type Emitter interface {
	Emit(typ events.Type, payload interface{}) error
}

// Controller turns local user actions into room events. Playback actions are
// throttled; a throttled action is dropped and the local player is left alone.
type Controller struct {
	player   Player
	throttle *Throttle
	emitter  Emitter
	roomCode func() string
}

// NewController creates a controller. roomCode is read on every action so the
// controller follows the room the engine last joined.
func NewController(player Player, throttle *Throttle, emitter Emitter, roomCode func() string) *Controller {
	return &Controller{
		player:   player,
		throttle: throttle,
		emitter:  emitter,
		roomCode: roomCode,
	}
}

// Play starts local playback and announces it. It reports whether the action
// was accepted by the throttle.
func (c *Controller) Play() (bool, error) {
	return c.setPlaying(true)
}

// Pause stops local playback and announces it
func (c *Controller) Pause() (bool, error) {
	return c.setPlaying(false)
}

func (c *Controller) setPlaying(playing bool) (bool, error) {
	if !c.throttle.Allow() {
		return false, nil
	}

	c.player.SetPlaying(playing)

	typ := events.TypePause
	if playing {
		typ = events.TypePlay
	}
	payload := events.PlaybackPayload{
		RoomRef:  events.RoomRef{RoomCode: c.roomCode()},
		Position: c.player.Position(),
		Playing:  playing,
	}
	if err := c.emitter.Emit(typ, payload); err != nil {
		return true, fmt.Errorf("failed to emit %s: %w", typ, err)
	}
	return true, nil
}

// Seek moves the local player and announces the new position
func (c *Controller) Seek(position float64) (bool, error) {
	if !c.throttle.Allow() {
		return false, nil
	}

	c.player.Seek(position)
	payload := events.PlaybackPayload{
		RoomRef:  events.RoomRef{RoomCode: c.roomCode()},
		Position: c.player.Position(),
		Playing:  c.player.Playing(),
	}
	if err := c.emitter.Emit(events.TypeSeek, payload); err != nil {
		return true, fmt.Errorf("failed to emit seek: %w", err)
	}
	return true, nil
}

// SetRate changes the local rate and announces it
func (c *Controller) SetRate(rate float64) error {
	c.player.SetRate(rate)
	return c.emitter.Emit(events.TypeSpeedChange, events.SpeedPayload{
		RoomRef: events.RoomRef{RoomCode: c.roomCode()},
		Rate:    rate,
	})
}

// ChangeVideo asks the room to load video. The local player follows the resync
// the server sends back.
func (c *Controller) ChangeVideo(video string) error {
	return c.emitter.Emit(events.TypeChangeVideo, events.ChangeVideoPayload{
		RoomRef: events.RoomRef{RoomCode: c.roomCode()},
		Video:   video,
	})
}

// Chat sends a chat message, optionally replying to replyRef
func (c *Controller) Chat(text, replyRef string) error {
	return c.emitter.Emit(events.TypeChatMessage, events.ChatPayload{
		RoomRef:  events.RoomRef{RoomCode: c.roomCode()},
		Text:     text,
		ReplyRef: replyRef,
	})
}

// React sends a reaction
func (c *Controller) React(symbol string) error {
	return c.emitter.Emit(events.TypeReaction, events.ReactionPayload{
		RoomRef: events.RoomRef{RoomCode: c.roomCode()},
		Symbol:  symbol,
	})
}

// ChangeTheme asks the room to switch theme
func (c *Controller) ChangeTheme(theme string) error {
	return c.emitter.Emit(events.TypeThemeChange, events.ThemePayload{
		RoomRef: events.RoomRef{RoomCode: c.roomCode()},
		Theme:   theme,
	})
}

// RequestSync asks the server for the authoritative playback state
func (c *Controller) RequestSync() error {
	return c.emitter.Emit(events.TypeRequestSync, events.RoomRef{RoomCode: c.roomCode()})
}

// Join asks to enter room code. The engine adopts the snapshot the server
// answers with.
func (c *Controller) Join(code string) error {
	return c.emitter.Emit(events.TypeJoin, events.RoomRef{RoomCode: code})
}

// Leave exits the current room
func (c *Controller) Leave() error {
	return c.emitter.Emit(events.TypeLeave, events.RoomRef{RoomCode: c.roomCode()})
}
