package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/watchparty/go/internal/events"
	"github.com/mcdev12/watchparty/go/internal/room"
	"github.com/mcdev12/watchparty/go/internal/session"
)

func TestCoordinator_Connect(t *testing.T) {
	f := newFixture(t)
	a := f.connect("conn-a")

	got := a.ofType(events.TypeConnected)
	require.Len(t, got, 1)
	p := decode[events.ConnectedPayload](t, got[0])
	assert.Equal(t, "conn-a", p.ConnectionID)
	assert.NotEmpty(t, p.DisplayName)
	assert.Equal(t, 1, f.coord.Connections())

	f.coord.Connect(a)
	assert.Equal(t, 1, f.coord.Connections(), "reconnecting the same id is ignored")
}

func TestCoordinator_Join(t *testing.T) {
	t.Run("snapshot of a paused room", func(t *testing.T) {
		f := newFixture(t)
		code := f.createRoom(t)
		a := f.connect("conn-a")
		a.reset()

		f.coord.Join("conn-a", code)

		frames := a.all()
		require.Len(t, frames, 1, "joiner gets only its snapshot")
		assert.Equal(t, events.TypeRoomSnapshot, frames[0].Type)
		snap := decode[events.SnapshotPayload](t, frames[0])
		assert.Equal(t, 0.0, snap.Position)
		assert.False(t, snap.Playing)
		assert.Equal(t, "dark", snap.Theme)
		require.Len(t, snap.Participants, 1)
		assert.Equal(t, "conn-a", snap.Participants[0].ID)
	})

	t.Run("playing room adds a sync instruction", func(t *testing.T) {
		f := newFixture(t)
		code := f.createRoom(t)
		pos, playing := 42.0, true
		_, err := f.rooms.Apply(code, room.Mutation{Position: &pos, Playing: &playing})
		require.NoError(t, err)

		b := f.connect("conn-b")
		b.reset()
		f.coord.Join("conn-b", code)

		frames := b.all()
		require.Len(t, frames, 2)
		assert.Equal(t, events.TypeRoomSnapshot, frames[0].Type)
		snap := decode[events.SnapshotPayload](t, frames[0])
		assert.Equal(t, 42.0, snap.Position)
		assert.True(t, snap.Playing)

		assert.Equal(t, events.TypeResync, frames[1].Type)
		sync := decode[events.ResyncPayload](t, frames[1])
		assert.Equal(t, 42.0, sync.Position)
		assert.True(t, sync.Playing)
	})

	t.Run("others hear about the new participant", func(t *testing.T) {
		f := newFixture(t)
		code := f.createRoom(t)
		a := f.connect("conn-a")
		b := f.connect("conn-b")
		f.coord.Join("conn-a", code)
		a.reset()

		f.coord.Join("conn-b", code)

		joined := a.ofType(events.TypeParticipantJoined)
		require.Len(t, joined, 1)
		p := decode[events.PresencePayload](t, joined[0])
		assert.Equal(t, "conn-b", p.ParticipantID)
		assert.Equal(t, 2, p.ParticipantCount)
		assert.Empty(t, b.ofType(events.TypeParticipantJoined), "joiner is not told about itself")
	})

	t.Run("rejoining resends the snapshot without a second announcement", func(t *testing.T) {
		f := newFixture(t)
		code := f.createRoom(t)
		a := f.connect("conn-a")
		b := f.connect("conn-b")
		f.coord.Join("conn-a", code)
		f.coord.Join("conn-b", code)
		a.reset()
		b.reset()

		f.coord.Join("conn-b", code)

		assert.Len(t, b.ofType(events.TypeRoomSnapshot), 1)
		assert.Empty(t, a.all())
	})

	t.Run("unknown room is a silent no-op", func(t *testing.T) {
		f := newFixture(t)
		a := f.connect("conn-a")
		a.reset()

		f.coord.Join("conn-a", "nope")
		assert.Empty(t, a.all())
		assert.Equal(t, 0, f.topics.Len())
	})
}

func TestCoordinator_SetPlaying(t *testing.T) {
	f := newFixture(t)
	code := f.createRoom(t)
	a := f.connect("conn-a")
	b := f.connect("conn-b")
	f.coord.Join("conn-a", code)
	f.coord.Join("conn-b", code)
	a.reset()
	b.reset()

	require.True(t, f.coord.SetPlaying("conn-a", code, 10, true))

	r, err := f.rooms.Get(code)
	require.NoError(t, err)
	assert.Equal(t, 10.0, r.Position)
	assert.True(t, r.Playing)
	assert.Equal(t, "conn-a", r.LastUpdatedBy)

	assert.Empty(t, a.all(), "origin gets no relay")
	relays := b.ofType(events.TypePlay)
	require.Len(t, relays, 1)
	p := decode[events.PlaybackPayload](t, relays[0])
	assert.Equal(t, 10.0, p.Position)
	assert.True(t, p.Playing)
	assert.Equal(t, "conn-a", p.OriginID)

	t.Run("pause inside the window is dropped silently", func(t *testing.T) {
		f.clock.Advance(100 * time.Millisecond)
		assert.False(t, f.coord.SetPlaying("conn-b", code, 11, false))
		assert.Empty(t, a.all())

		r, _ := f.rooms.Get(code)
		assert.True(t, r.Playing)
	})

	t.Run("pause after the window is relayed", func(t *testing.T) {
		f.clock.Advance(400 * time.Millisecond)
		assert.True(t, f.coord.SetPlaying("conn-b", code, 12, false))
		pauses := a.ofType(events.TypePause)
		require.Len(t, pauses, 1)
		p := decode[events.PlaybackPayload](t, pauses[0])
		assert.False(t, p.Playing)
		assert.Equal(t, "conn-b", p.OriginID)
	})

	t.Run("negative positions are rejected before the throttle", func(t *testing.T) {
		f.clock.Advance(time.Second)
		assert.False(t, f.coord.SetPlaying("conn-a", code, -5, true))
		assert.True(t, f.limiter.Allow(code), "invalid event must not consume the window")
	})

	t.Run("unknown room", func(t *testing.T) {
		f.clock.Advance(time.Second)
		assert.False(t, f.coord.SetPlaying("conn-a", "nope", 1, true))
	})
}

func TestCoordinator_NonParticipantCannotMutate(t *testing.T) {
	f := newFixture(t)
	code := f.createRoom(t)
	f.connect("conn-a")
	b := f.connect("conn-b")
	f.coord.Join("conn-b", code)
	f.coord.Leave("conn-b", code)
	b.reset()

	assert.False(t, f.coord.Seek("conn-a", code, 30))
	assert.False(t, f.coord.SetPlaying("conn-a", code, 30, true))
	assert.Equal(t, 0, f.limiter.Len(), "no throttle state for a room nobody is in")

	r, err := f.rooms.Get(code)
	require.NoError(t, err)
	assert.Equal(t, 0.0, r.Position)
	assert.False(t, r.Playing)

	f.coord.Disconnect("conn-a")
	assert.Equal(t, 0, f.limiter.Len())
}

func TestCoordinator_SeekBurstIsThrottled(t *testing.T) {
	f := newFixture(t)
	code := f.createRoom(t)
	f.connect("conn-a")
	b := f.connect("conn-b")
	f.coord.Join("conn-a", code)
	f.coord.Join("conn-b", code)
	b.reset()

	accepted := 0
	for i := 0; i < 10; i++ {
		if f.coord.Seek("conn-a", code, float64(20+i)) {
			accepted++
		}
		f.clock.Advance(45 * time.Millisecond)
	}

	assert.Equal(t, 1, accepted)
	seeks := b.ofType(events.TypeSeek)
	require.Len(t, seeks, 1)
	assert.Equal(t, 20.0, decode[events.PlaybackPayload](t, seeks[0]).Position)

	r, _ := f.rooms.Get(code)
	assert.Equal(t, 20.0, r.Position)
	assert.False(t, r.Playing, "seek leaves playing untouched")
}

func TestCoordinator_ChangeVideo(t *testing.T) {
	f := newFixture(t)
	code := f.createRoom(t)
	a := f.connect("conn-a")
	b := f.connect("conn-b")
	f.coord.Join("conn-a", code)
	f.coord.Join("conn-b", code)

	require.True(t, f.coord.SetPlaying("conn-a", code, 30, true))
	a.reset()
	b.reset()

	// not gated: still inside the throttle window
	f.coord.ChangeVideo("conn-a", code, "https://example.com/next.mp4")

	r, _ := f.rooms.Get(code)
	assert.Equal(t, "https://example.com/next.mp4", r.Video)
	assert.Equal(t, 0.0, r.Position)
	assert.False(t, r.Playing)

	for _, c := range []*fakeConn{a, b} {
		resyncs := c.ofType(events.TypeResync)
		require.Len(t, resyncs, 1, "requester is resynced too")
		p := decode[events.ResyncPayload](t, resyncs[0])
		assert.Equal(t, "https://example.com/next.mp4", p.Video)
		assert.Equal(t, 0.0, p.Position)
		assert.False(t, p.Playing)
	}

	a.reset()
	f.coord.ChangeVideo("conn-a", code, "   ")
	assert.Empty(t, a.all())
}

func TestCoordinator_SpeedAndTheme(t *testing.T) {
	f := newFixture(t)
	code := f.createRoom(t)
	a := f.connect("conn-a")
	b := f.connect("conn-b")
	f.coord.Join("conn-a", code)
	f.coord.Join("conn-b", code)
	a.reset()
	b.reset()

	f.coord.ChangeSpeed("conn-a", code, 1.5)
	assert.Empty(t, a.ofType(events.TypeSpeedChange))
	speeds := b.ofType(events.TypeSpeedChange)
	require.Len(t, speeds, 1)
	sp := decode[events.SpeedPayload](t, speeds[0])
	assert.Equal(t, 1.5, sp.Rate)
	assert.Equal(t, "conn-a", sp.OriginID)

	f.coord.ChangeSpeed("conn-a", code, 0)
	assert.Len(t, b.ofType(events.TypeSpeedChange), 1, "non-positive rate dropped")

	f.coord.ChangeTheme("conn-b", code, "cinema")
	assert.Len(t, a.ofType(events.TypeThemeChange), 1)
	assert.Len(t, b.ofType(events.TypeThemeChange), 1)

	r, _ := f.rooms.Get(code)
	assert.Equal(t, 1.5, r.PlaybackRate)
	assert.Equal(t, "cinema", r.Theme)
}

func TestCoordinator_ChatMessage(t *testing.T) {
	f := newFixture(t)
	code := f.createRoom(t)
	a := f.connect("conn-a")
	b := f.connect("conn-b")
	f.coord.Join("conn-a", code)
	f.coord.Join("conn-b", code)
	a.reset()
	b.reset()

	f.coord.ChatMessage("conn-a", code, "  hello there ", "msg-1")
	// chat is never throttled
	f.coord.ChatMessage("conn-a", code, "second", "")

	for _, c := range []*fakeConn{a, b} {
		msgs := c.ofType(events.TypeChatMessage)
		require.Len(t, msgs, 2)
		first := decode[events.ChatPayload](t, msgs[0])
		assert.Equal(t, "hello there", first.Text)
		assert.Equal(t, "msg-1", first.ReplyRef)
		assert.Equal(t, "conn-a", first.SenderID)
		assert.NotEmpty(t, first.ID)
		assert.NotEmpty(t, first.DisplayName)
		assert.Equal(t, "second", decode[events.ChatPayload](t, msgs[1]).Text)
	}

	f.coord.ChatMessage("conn-a", code, "   ", "")
	f.coord.ChatMessage("conn-a", "nope", "hi", "")
	assert.Len(t, a.ofType(events.TypeChatMessage), 2)
}

func TestCoordinator_Reaction(t *testing.T) {
	f := newFixture(t)
	code := f.createRoom(t)
	a := f.connect("conn-a")
	f.coord.Join("conn-a", code)
	a.reset()

	for i := 0; i < 50; i++ {
		f.coord.Reaction("conn-a", code, "🎉")
	}

	reactions := a.ofType(events.TypeReaction)
	require.Len(t, reactions, 50)
	for _, ev := range reactions {
		p := decode[events.ReactionPayload](t, ev)
		require.NotNil(t, p.Position)
		assert.GreaterOrEqual(t, p.Position.X, 30.0)
		assert.Less(t, p.Position.X, 70.0)
		assert.GreaterOrEqual(t, p.Position.Y, 20.0)
		assert.Less(t, p.Position.Y, 80.0)
		assert.Equal(t, "🎉", p.Symbol)
	}

	r, _ := f.rooms.Get(code)
	assert.True(t, r.LastUpdateAt.IsZero(), "reactions never mutate the room")
}

func TestCoordinator_RequestSync(t *testing.T) {
	f := newFixture(t)
	code := f.createRoom(t)
	a := f.connect("conn-a")
	b := f.connect("conn-b")
	f.coord.Join("conn-a", code)
	f.coord.Join("conn-b", code)
	require.True(t, f.coord.SetPlaying("conn-a", code, 55, true))
	a.reset()
	b.reset()

	f.coord.RequestSync("conn-b", code)

	assert.Empty(t, a.all())
	resyncs := b.ofType(events.TypeResync)
	require.Len(t, resyncs, 1)
	p := decode[events.ResyncPayload](t, resyncs[0])
	assert.Equal(t, 55.0, p.Position)
	assert.True(t, p.Playing)
}

func TestCoordinator_Disconnect(t *testing.T) {
	f := newFixture(t)
	r1 := f.createRoom(t)
	r2 := f.createRoom(t)
	f.connect("conn-a")
	b := f.connect("conn-b")
	f.coord.Join("conn-a", r1)
	f.coord.Join("conn-b", r1)
	f.coord.Join("conn-a", r2)
	require.True(t, f.coord.Seek("conn-a", r2, 3))
	b.reset()

	f.coord.Disconnect("conn-a")

	room1, _ := f.rooms.Get(r1)
	assert.Len(t, room1.Participants, 1)
	assert.Contains(t, room1.Participants, "conn-b")

	left := b.ofType(events.TypeParticipantLeft)
	require.Len(t, left, 1)
	p := decode[events.PresencePayload](t, left[0])
	assert.Equal(t, "conn-a", p.ParticipantID)
	assert.Equal(t, 1, p.ParticipantCount)

	room2, _ := f.rooms.Get(r2)
	assert.Empty(t, room2.Participants)
	assert.Equal(t, 3.0, room2.Position, "empty rooms stay allocated")

	_, stillTracked := f.topics.Lookup(r2)
	assert.False(t, stillTracked)
	assert.Equal(t, 0, f.limiter.Len(), "throttle state of the empty room is released")
	assert.True(t, f.limiter.Allow(r2))

	assert.Equal(t, 1, f.coord.Connections())

	b.reset()
	f.coord.ChatMessage("conn-b", r1, "anyone?", "")
	assert.Len(t, b.ofType(events.TypeChatMessage), 1)
}

func TestCoordinator_Leave(t *testing.T) {
	f := newFixture(t)
	code := f.createRoom(t)
	a := f.connect("conn-a")
	b := f.connect("conn-b")
	f.coord.Join("conn-a", code)
	f.coord.Join("conn-b", code)
	a.reset()

	f.coord.Leave("conn-b", code)
	f.coord.Leave("conn-b", code)

	assert.Len(t, a.ofType(events.TypeParticipantLeft), 1)
	b.reset()
	f.coord.ChatMessage("conn-a", code, "bye", "")
	assert.Empty(t, b.all(), "left connection no longer receives room traffic")
}

func TestCoordinator_HandleFrame(t *testing.T) {
	f := newFixture(t)
	code := f.createRoom(t)
	f.connect("conn-a")
	b := f.connect("conn-b")

	f.coord.HandleFrame("conn-a", frame(t, events.TypeJoin, events.RoomRef{RoomCode: code}))
	f.coord.HandleFrame("conn-b", frame(t, events.TypeJoin, events.RoomRef{RoomCode: code}))
	b.reset()

	f.coord.HandleFrame("conn-a", frame(t, events.TypePlay, events.PlaybackPayload{
		RoomRef:  events.RoomRef{RoomCode: code},
		Position: 10,
		OriginID: "spoofed",
	}))

	plays := b.ofType(events.TypePlay)
	require.Len(t, plays, 1)
	assert.Equal(t, "conn-a", decode[events.PlaybackPayload](t, plays[0]).OriginID,
		"origin is the sending connection, not the claimed one")

	t.Run("malformed frames are dropped", func(t *testing.T) {
		b.reset()
		f.coord.HandleFrame("conn-a", []byte("{not json"))
		f.coord.HandleFrame("conn-a", []byte(`{"type":"seek","data":{"position":"ten"}}`))
		f.coord.HandleFrame("conn-a", []byte(`{"type":"warp-drive"}`))
		f.coord.HandleFrame("conn-a", frame(t, events.TypeResync, events.ResyncPayload{}))
		assert.Empty(t, b.all())
	})

	t.Run("room code falls back to the envelope", func(t *testing.T) {
		f.clock.Advance(time.Second)
		b.reset()
		f.coord.HandleFrame("conn-a", []byte(`{"type":"seek","room_code":"`+code+`","data":{"position":4}}`))
		assert.Len(t, b.ofType(events.TypeSeek), 1)
	})
}

func TestCoordinator_EventsReachSink(t *testing.T) {
	f := newFixture(t)
	code := f.createRoom(t)
	f.connect("conn-a")
	f.coord.Join("conn-a", code)
	f.coord.SetPlaying("conn-a", code, 1, true)
	f.coord.SetPlaying("conn-a", code, 2, false) // throttled

	var types []events.Type
	for _, ev := range f.sink.got {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []events.Type{events.TypeParticipantJoined, events.TypePlay}, types)
}

func TestCoordinator_Run(t *testing.T) {
	f := newFixture(t)
	code := f.createRoom(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.coord.Run(ctx)
		close(done)
	}()

	a, b := newConn("conn-a"), newConn("conn-b")
	require.NoError(t, f.coord.SubmitConnect(ctx, a))
	require.NoError(t, f.coord.SubmitConnect(ctx, b))
	require.NoError(t, f.coord.SubmitFrame(ctx, "conn-a", frame(t, events.TypeJoin, events.RoomRef{RoomCode: code})))
	require.NoError(t, f.coord.SubmitFrame(ctx, "conn-b", frame(t, events.TypeJoin, events.RoomRef{RoomCode: code})))
	require.NoError(t, f.coord.SubmitFrame(ctx, "conn-a", frame(t, events.TypeChatMessage, events.ChatPayload{RoomRef: events.RoomRef{RoomCode: code}, Text: "one"})))
	require.NoError(t, f.coord.SubmitFrame(ctx, "conn-a", frame(t, events.TypeChatMessage, events.ChatPayload{RoomRef: events.RoomRef{RoomCode: code}, Text: "two"})))
	require.NoError(t, f.coord.SubmitDisconnect(ctx, "conn-a"))

	require.Eventually(t, func() bool {
		return len(b.ofType(events.TypeParticipantLeft)) == 1
	}, time.Second, 5*time.Millisecond)

	msgs := b.ofType(events.TypeChatMessage)
	require.Len(t, msgs, 2)
	assert.Equal(t, "one", decode[events.ChatPayload](t, msgs[0]).Text)
	assert.Equal(t, "two", decode[events.ChatPayload](t, msgs[1]).Text)

	cancel()
	<-done
	assert.ErrorIs(t, f.coord.SubmitDisconnect(context.Background(), "conn-b"), session.ErrStopped)
}
