package session

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync/atomic"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/watchparty/go/internal/events"
	"github.com/mcdev12/watchparty/go/internal/notify"
	"github.com/mcdev12/watchparty/go/internal/presence"
	"github.com/mcdev12/watchparty/go/internal/pubsub"
	"github.com/mcdev12/watchparty/go/internal/ratelimit"
	"github.com/mcdev12/watchparty/go/internal/room"
)

// ErrStopped is returned when submitting to a coordinator whose loop has exited
var ErrStopped = errors.New("coordinator stopped")

// Conn is a client connection as seen by the coordinator
type Conn interface {
	pubsub.Subscriber
}

// Bounds is the on-screen area, in percent, where reactions may appear
type Bounds struct {
	MinX float64 `yaml:"min_x"`
	MaxX float64 `yaml:"max_x"`
	MinY float64 `yaml:"min_y"`
	MaxY float64 `yaml:"max_y"`
}

// Config holds coordinator tuning
type Config struct {
	ReactionBounds Bounds
	MaxChatLength  int
	InboxSize      int
}

// DefaultConfig keeps reactions in the middle of the screen
func DefaultConfig() Config {
	return Config{
		ReactionBounds: Bounds{MinX: 30, MaxX: 70, MinY: 20, MaxY: 80},
		MaxChatLength:  2000,
		InboxSize:      1024,
	}
}

// Deps are the collaborators the coordinator mutates and publishes through
type Deps struct {
	Rooms    *room.Registry
	Limiter  *ratelimit.Limiter
	Presence *presence.Tracker
	Topics   *pubsub.Broker
	Sink     notify.Sink
	Clock    clockwork.Clock
	Rand     *rand.Rand
}

type commandKind int

const (
	cmdConnect commandKind = iota
	cmdFrame
	cmdDisconnect
)

type command struct {
	kind   commandKind
	conn   Conn
	connID string
	frame  []byte
}

// connState is owned by the loop goroutine
type connState struct {
	conn        Conn
	displayName string
}

// Coordinator applies and relays room events. Every handler runs on a single loop
// goroutine, so room mutations and publications are serialized across all
// connections. Handlers must never block.
type Coordinator struct {
	rooms    *room.Registry
	limiter  *ratelimit.Limiter
	presence *presence.Tracker
	topics   *pubsub.Broker
	sink     notify.Sink
	clock    clockwork.Clock
	rng      *rand.Rand
	config   Config

	conns     map[string]*connState
	connCount atomic.Int64

	inbox chan command
	done  chan struct{}
}

// NewCoordinator wires a coordinator. Missing optional deps get defaults.
func NewCoordinator(deps Deps, config Config) *Coordinator {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Sink == nil {
		deps.Sink = notify.NoopSink{}
	}
	if deps.Topics == nil {
		deps.Topics = pubsub.NewBroker()
	}
	if deps.Rand == nil {
		deps.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if config.ReactionBounds == (Bounds{}) {
		config.ReactionBounds = DefaultConfig().ReactionBounds
	}
	if config.InboxSize <= 0 {
		config.InboxSize = DefaultConfig().InboxSize
	}
	if config.MaxChatLength <= 0 {
		config.MaxChatLength = DefaultConfig().MaxChatLength
	}

	return &Coordinator{
		rooms:    deps.Rooms,
		limiter:  deps.Limiter,
		presence: deps.Presence,
		topics:   deps.Topics,
		sink:     deps.Sink,
		clock:    deps.Clock,
		rng:      deps.Rand,
		config:   config,
		conns:    make(map[string]*connState),
		inbox:    make(chan command, config.InboxSize),
		done:     make(chan struct{}),
	}
}

// Run processes submitted commands until ctx is cancelled
func (c *Coordinator) Run(ctx context.Context) {
	log.Info().Msg("session coordinator started")
	defer close(c.done)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("session coordinator shutting down")
			return
		case cmd := <-c.inbox:
			c.execute(cmd)
		}
	}
}

// execute runs one command, keeping a faulty handler from taking the loop down
func (c *Coordinator) execute(cmd command) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("connection_id", cmd.connID).
				Msg("recovered from panic in session handler")
		}
	}()

	switch cmd.kind {
	case cmdConnect:
		c.Connect(cmd.conn)
	case cmdFrame:
		c.HandleFrame(cmd.connID, cmd.frame)
	case cmdDisconnect:
		c.Disconnect(cmd.connID)
	}
}

func (c *Coordinator) submit(ctx context.Context, cmd command) error {
	select {
	case <-c.done:
		return ErrStopped
	default:
	}

	select {
	case c.inbox <- cmd:
		return nil
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubmitConnect queues registration of a new connection
func (c *Coordinator) SubmitConnect(ctx context.Context, conn Conn) error {
	return c.submit(ctx, command{kind: cmdConnect, conn: conn, connID: conn.ID()})
}

// SubmitFrame queues a raw client frame. Frames of one connection are handled in
// submission order.
func (c *Coordinator) SubmitFrame(ctx context.Context, connID string, frame []byte) error {
	return c.submit(ctx, command{kind: cmdFrame, connID: connID, frame: frame})
}

// SubmitDisconnect queues removal of a connection from every room it joined
func (c *Coordinator) SubmitDisconnect(ctx context.Context, connID string) error {
	return c.submit(ctx, command{kind: cmdDisconnect, connID: connID})
}

// Connections returns the number of registered connections
func (c *Coordinator) Connections() int {
	return int(c.connCount.Load())
}

// HandleFrame decodes a client frame and routes it to the matching operation.
// Malformed frames are dropped.
func (c *Coordinator) HandleFrame(connID string, frame []byte) {
	ev, err := events.Decode(frame)
	if err != nil {
		log.Warn().Err(err).Str("connection_id", connID).Msg("dropping malformed frame")
		return
	}
	c.HandleEvent(connID, ev)
}

// HandleEvent routes a decoded client event
func (c *Coordinator) HandleEvent(connID string, ev *events.Event) {
	payload, err := events.ParsePayload(ev)
	if err != nil {
		log.Warn().
			Err(err).
			Str("connection_id", connID).
			Str("event_type", string(ev.Type)).
			Msg("dropping event with invalid payload")
		return
	}

	code := func(ref events.RoomRef) string {
		if ref.RoomCode != "" {
			return ref.RoomCode
		}
		return ev.RoomCode
	}

	switch p := payload.(type) {
	case *events.RoomRef:
		switch ev.Type {
		case events.TypeJoin:
			c.Join(connID, code(*p))
		case events.TypeLeave:
			c.Leave(connID, code(*p))
		case events.TypeRequestSync:
			c.RequestSync(connID, code(*p))
		}
	case *events.PlaybackPayload:
		switch ev.Type {
		case events.TypePlay:
			c.SetPlaying(connID, code(p.RoomRef), p.Position, true)
		case events.TypePause:
			c.SetPlaying(connID, code(p.RoomRef), p.Position, false)
		case events.TypeSeek:
			c.Seek(connID, code(p.RoomRef), p.Position)
		}
	case *events.ChangeVideoPayload:
		c.ChangeVideo(connID, code(p.RoomRef), p.Video)
	case *events.SpeedPayload:
		c.ChangeSpeed(connID, code(p.RoomRef), p.Rate)
	case *events.ThemePayload:
		c.ChangeTheme(connID, code(p.RoomRef), p.Theme)
	case *events.ChatPayload:
		c.ChatMessage(connID, code(p.RoomRef), p.Text, p.ReplyRef)
	case *events.ReactionPayload:
		c.Reaction(connID, code(p.RoomRef), p.Symbol)
	default:
		log.Warn().
			Str("connection_id", connID).
			Str("event_type", string(ev.Type)).
			Msg("event type not accepted from clients")
	}
}
