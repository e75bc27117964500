package session_test

import (
	"encoding/json"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/watchparty/go/internal/events"
	"github.com/mcdev12/watchparty/go/internal/presence"
	"github.com/mcdev12/watchparty/go/internal/pubsub"
	"github.com/mcdev12/watchparty/go/internal/ratelimit"
	"github.com/mcdev12/watchparty/go/internal/room"
	"github.com/mcdev12/watchparty/go/internal/session"
)

// fakeConn records every frame delivered to it
type fakeConn struct {
	id string

	mu     sync.Mutex
	frames []*events.Event
}

func newConn(id string) *fakeConn { return &fakeConn{id: id} }

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) Deliver(frame []byte) bool {
	ev, err := events.Decode(frame)
	if err != nil {
		panic(err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, ev)
	return true
}

func (f *fakeConn) all() []*events.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*events.Event(nil), f.frames...)
}

func (f *fakeConn) ofType(t events.Type) []*events.Event {
	var out []*events.Event
	for _, ev := range f.all() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (f *fakeConn) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = nil
}

func decode[T any](t *testing.T, ev *events.Event) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(ev.Data, &out))
	return out
}

type fakeSink struct {
	mu  sync.Mutex
	got []*events.Event
}

func (s *fakeSink) Enqueue(ev *events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, ev)
}

type fixture struct {
	clock   *clockwork.FakeClock
	rooms   *room.Registry
	limiter *ratelimit.Limiter
	topics  *pubsub.Broker
	sink    *fakeSink
	coord   *session.Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClock()
	rooms := room.NewRegistry(room.DefaultConfig(), clock)
	limiter := ratelimit.NewLimiter(ratelimit.DefaultInterval, clock)
	topics := pubsub.NewBroker()
	sink := &fakeSink{}
	tracker := presence.NewTracker(rooms, presence.Words{}, rand.New(rand.NewPCG(7, 7)))

	coord := session.NewCoordinator(session.Deps{
		Rooms:    rooms,
		Limiter:  limiter,
		Presence: tracker,
		Topics:   topics,
		Sink:     sink,
		Clock:    clock,
		Rand:     rand.New(rand.NewPCG(3, 4)),
	}, session.DefaultConfig())

	return &fixture{clock: clock, rooms: rooms, limiter: limiter, topics: topics, sink: sink, coord: coord}
}

func (f *fixture) createRoom(t *testing.T) string {
	t.Helper()
	code, err := f.rooms.Create()
	require.NoError(t, err)
	return code
}

func (f *fixture) connect(id string) *fakeConn {
	c := newConn(id)
	f.coord.Connect(c)
	return c
}

func frame(t *testing.T, typ events.Type, payload interface{}) []byte {
	t.Helper()
	ev := &events.Event{Type: typ}
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		ev.Data = data
	}
	out, err := json.Marshal(ev)
	require.NoError(t, err)
	return out
}
