package session

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/watchparty/go/internal/events"
	"github.com/mcdev12/watchparty/go/internal/room"
)

// The operations below must only be called from the loop goroutine (or from a
// single goroutine in tests). Operations on unknown rooms are silent no-ops.

// Connect registers conn, assigns its display name and tells the client its id
func (c *Coordinator) Connect(conn Conn) {
	id := conn.ID()
	if _, exists := c.conns[id]; exists {
		return
	}

	state := &connState{
		conn:        conn,
		displayName: c.presence.AssignDisplayName(),
	}
	c.conns[id] = state
	c.connCount.Add(1)

	c.unicast(state, events.TypeConnected, "", events.ConnectedPayload{
		ConnectionID: id,
		DisplayName:  state.displayName,
	})

	log.Info().
		Str("connection_id", id).
		Str("display_name", state.displayName).
		Msg("connection registered")
}

// Join adds the connection to the room, sends it the snapshot and announces it
func (c *Coordinator) Join(connID, code string) {
	state, ok := c.conns[connID]
	if !ok {
		return
	}

	r, added, err := c.presence.Join(code, connID, state.displayName)
	if err != nil {
		log.Debug().Err(err).Str("connection_id", connID).Str("room_code", code).Msg("join ignored")
		return
	}

	c.topics.Topic(code).Subscribe(state.conn)

	snap := r.Snapshot()
	if participants, err := c.presence.Participants(code); err == nil {
		snap.Participants = participants
	}
	c.unicast(state, events.TypeRoomSnapshot, code, snap)
	if r.Playing {
		c.unicast(state, events.TypeResync, code, events.ResyncPayload{
			Video:    r.Video,
			Position: r.Position,
			Playing:  true,
		})
	}

	if !added {
		return
	}

	joined := events.PresencePayload{
		ParticipantID:    connID,
		DisplayName:      state.displayName,
		ParticipantCount: len(r.Participants),
	}
	c.publish(code, events.TypeParticipantJoined, joined, connID)

	log.Info().
		Str("connection_id", connID).
		Str("room_code", code).
		Int("participant_count", len(r.Participants)).
		Msg("joined room")
}

// SetPlaying applies a play or pause and relays it to everyone else in the room.
// It reports whether the mutation was accepted.
func (c *Coordinator) SetPlaying(connID, code string, position float64, playing bool) bool {
	if !validPosition(position) {
		log.Warn().Str("connection_id", connID).Float64("position", position).Msg("dropping playback event with invalid position")
		return false
	}
	if !c.gate(connID, code) {
		return false
	}

	if _, err := c.rooms.Apply(code, room.Mutation{
		Position:  &position,
		Playing:   &playing,
		UpdatedBy: connID,
	}); err != nil {
		log.Error().Err(err).Str("room_code", code).Msg("failed to apply playback state")
		return false
	}

	typ := events.TypePause
	if playing {
		typ = events.TypePlay
	}
	c.publish(code, typ, events.PlaybackPayload{
		Position: position,
		Playing:  playing,
		OriginID: connID,
	}, connID)
	return true
}

// Seek moves the authoritative position and relays it to everyone else
func (c *Coordinator) Seek(connID, code string, position float64) bool {
	if !validPosition(position) {
		log.Warn().Str("connection_id", connID).Float64("position", position).Msg("dropping seek with invalid position")
		return false
	}
	if !c.gate(connID, code) {
		return false
	}

	r, err := c.rooms.Apply(code, room.Mutation{Position: &position, UpdatedBy: connID})
	if err != nil {
		log.Error().Err(err).Str("room_code", code).Msg("failed to apply seek")
		return false
	}

	c.publish(code, events.TypeSeek, events.PlaybackPayload{
		Position: position,
		Playing:  r.Playing,
		OriginID: connID,
	}, connID)
	return true
}

// gate checks room existence, membership and the per-room throttle, in that
// order. Throttle state is only allocated for rooms with a participant, so the
// last leave always releases it.
func (c *Coordinator) gate(connID, code string) bool {
	if !c.rooms.Exists(code) {
		log.Debug().Str("connection_id", connID).Str("room_code", code).Msg("event for unknown room ignored")
		return false
	}
	if _, member := c.presence.DisplayName(code, connID); !member {
		log.Debug().Str("connection_id", connID).Str("room_code", code).Msg("event from non-participant ignored")
		return false
	}
	if !c.limiter.Allow(code) {
		log.Debug().Str("connection_id", connID).Str("room_code", code).Msg("event rate limited")
		return false
	}
	return true
}

// ChangeVideo loads a new video, rewinds and pauses, then resyncs everyone
// including the requester. It is not rate limited.
func (c *Coordinator) ChangeVideo(connID, code, video string) {
	video = strings.TrimSpace(video)
	if video == "" {
		return
	}

	zero, paused := 0.0, false
	r, err := c.rooms.Apply(code, room.Mutation{
		Video:     &video,
		Position:  &zero,
		Playing:   &paused,
		UpdatedBy: connID,
	})
	if err != nil {
		log.Debug().Err(err).Str("connection_id", connID).Str("room_code", code).Msg("change video ignored")
		return
	}

	c.publish(code, events.TypeResync, events.ResyncPayload{
		Video:    r.Video,
		Position: r.Position,
		Playing:  r.Playing,
	}, "")

	log.Info().
		Str("connection_id", connID).
		Str("room_code", code).
		Str("video", video).
		Msg("video changed")
}

// ChangeSpeed updates the playback rate and relays it to everyone else
func (c *Coordinator) ChangeSpeed(connID, code string, rate float64) {
	r, err := c.rooms.Apply(code, room.Mutation{PlaybackRate: &rate, UpdatedBy: connID})
	if err != nil {
		log.Debug().Err(err).Str("connection_id", connID).Str("room_code", code).Msg("speed change ignored")
		return
	}

	c.publish(code, events.TypeSpeedChange, events.SpeedPayload{
		Rate:     r.PlaybackRate,
		OriginID: connID,
	}, connID)
}

// ChangeTheme updates the room theme and tells everyone
func (c *Coordinator) ChangeTheme(connID, code, theme string) {
	theme = strings.TrimSpace(theme)
	if theme == "" {
		return
	}

	r, err := c.rooms.Apply(code, room.Mutation{Theme: &theme, UpdatedBy: connID})
	if err != nil {
		log.Debug().Err(err).Str("connection_id", connID).Str("room_code", code).Msg("theme change ignored")
		return
	}

	c.publish(code, events.TypeThemeChange, events.ThemePayload{Theme: r.Theme}, "")
}

// ChatMessage stamps and broadcasts a message to the whole room, sender included
func (c *Coordinator) ChatMessage(connID, code, text, replyRef string) {
	text = strings.TrimSpace(text)
	if text == "" || utf8.RuneCountInString(text) > c.config.MaxChatLength {
		log.Debug().Str("connection_id", connID).Int("length", len(text)).Msg("dropping chat message")
		return
	}
	if !c.rooms.Exists(code) {
		return
	}

	c.publish(code, events.TypeChatMessage, events.ChatPayload{
		ID:          uuid.NewString(),
		SenderID:    connID,
		DisplayName: c.displayName(connID, code),
		Text:        text,
		ReplyRef:    replyRef,
		Time:        c.clock.Now().UTC(),
	}, "")
}

// Reaction broadcasts a transient reaction at a random spot on screen
func (c *Coordinator) Reaction(connID, code, symbol string) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" || !c.rooms.Exists(code) {
		return
	}

	b := c.config.ReactionBounds
	pos := &events.ScreenPosition{
		X: b.MinX + c.rng.Float64()*(b.MaxX-b.MinX),
		Y: b.MinY + c.rng.Float64()*(b.MaxY-b.MinY),
	}

	c.publish(code, events.TypeReaction, events.ReactionPayload{
		ID:          uuid.NewString(),
		SenderID:    connID,
		DisplayName: c.displayName(connID, code),
		Symbol:      symbol,
		Position:    pos,
	}, "")
}

// RequestSync unicasts the authoritative playback state to the requester
func (c *Coordinator) RequestSync(connID, code string) {
	state, ok := c.conns[connID]
	if !ok {
		return
	}
	r, err := c.rooms.Get(code)
	if err != nil {
		return
	}
	c.unicast(state, events.TypeResync, code, events.ResyncPayload{
		Video:    r.Video,
		Position: r.Position,
		Playing:  r.Playing,
	})
}

// Leave removes the connection from one room
func (c *Coordinator) Leave(connID, code string) {
	c.leaveRoom(connID, code)
}

// Disconnect removes the connection from every room it joined and forgets it
func (c *Coordinator) Disconnect(connID string) {
	for _, code := range c.presence.RoomsOf(connID) {
		c.leaveRoom(connID, code)
	}

	if _, ok := c.conns[connID]; ok {
		delete(c.conns, connID)
		c.connCount.Add(-1)
	}

	log.Info().Str("connection_id", connID).Msg("connection unregistered")
}

func (c *Coordinator) leaveRoom(connID, code string) {
	if t, ok := c.topics.Lookup(code); ok {
		t.Unsubscribe(connID)
	}
	p, remaining, removed := c.presence.Leave(code, connID)
	if !removed {
		return
	}

	c.publish(code, events.TypeParticipantLeft, events.PresencePayload{
		ParticipantID:    connID,
		DisplayName:      p.DisplayName,
		ParticipantCount: remaining,
	}, "")

	if remaining == 0 {
		c.limiter.Release(code)
		c.topics.Drop(code)
		log.Debug().Str("room_code", code).Msg("room empty, released throttle state")
	}

	log.Info().
		Str("connection_id", connID).
		Str("room_code", code).
		Int("participant_count", remaining).
		Msg("left room")
}

func (c *Coordinator) displayName(connID, code string) string {
	if name, ok := c.presence.DisplayName(code, connID); ok {
		return name
	}
	if state, ok := c.conns[connID]; ok {
		return state.displayName
	}
	return ""
}

// publish fans an event out to the room topic, skipping exceptID, and hands it
// to the event sink
func (c *Coordinator) publish(code string, typ events.Type, payload interface{}, exceptID string) {
	ev, err := events.New(typ, code, c.clock.Now().UTC(), payload)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(typ)).Msg("failed to build event")
		return
	}
	frame, err := ev.Encode()
	if err != nil {
		log.Error().Err(err).Str("event_type", string(typ)).Msg("failed to marshal event for broadcast")
		return
	}

	delivered := c.topics.Publish(code, frame, exceptID)
	c.sink.Enqueue(ev)

	log.Debug().
		Str("event_type", string(typ)).
		Str("room_code", code).
		Int("connections", delivered).
		Msg("event broadcasted")
}

func (c *Coordinator) unicast(state *connState, typ events.Type, code string, payload interface{}) {
	ev, err := events.New(typ, code, c.clock.Now().UTC(), payload)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(typ)).Msg("failed to build event")
		return
	}
	frame, err := ev.Encode()
	if err != nil {
		log.Error().Err(err).Str("event_type", string(typ)).Msg("failed to marshal event")
		return
	}
	if !state.conn.Deliver(frame) {
		log.Warn().
			Str("connection_id", state.conn.ID()).
			Str("event_type", string(typ)).
			Msg("connection rejected unicast frame")
	}
}

func validPosition(p float64) bool {
	return !math.IsNaN(p) && !math.IsInf(p, 0) && p >= 0
}
