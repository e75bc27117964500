package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/watchparty/go/internal/events"
)

const writeTimeout = 10 * time.Second

// Conn is a client WebSocket connection to the room server. Frames it reads
// are handed to the engine, then to the optional observer.
type Conn struct {
	ws      *websocket.Conn
	engine  *Engine
	clock   clockwork.Clock
	writeMu sync.Mutex

	observer func(*events.Event)

	connected chan struct{}
	once      sync.Once
}

// Dial connects to the room server WebSocket at url
func Dial(ctx context.Context, url string, engine *Engine, clock clockwork.Clock) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Conn{
		ws:        ws,
		engine:    engine,
		clock:     clock,
		connected: make(chan struct{}),
	}, nil
}

// OnEvent registers fn to see every event after the engine applied it. It must
// be called before Run.
func (c *Conn) OnEvent(fn func(*events.Event)) {
	c.observer = fn
}

// Connected is closed once the server has told us our connection id
func (c *Conn) Connected() <-chan struct{} {
	return c.connected
}

// Emit implements Emitter
func (c *Conn) Emit(typ events.Type, payload interface{}) error {
	ev, err := events.New(typ, "", c.clock.Now().UTC(), payload)
	if err != nil {
		return err
	}
	frame, err := ev.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", typ, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("failed to write %s: %w", typ, err)
	}
	return nil
}

// Run reads frames until the connection closes or ctx is cancelled
func (c *Conn) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		c.ws.Close()
	}()

	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("failed to read from server: %w", err)
		}

		ev, err := events.Decode(frame)
		if err != nil {
			log.Warn().Err(err).Msg("dropping malformed server frame")
			continue
		}
		if err := c.engine.Handle(ev); err != nil {
			if errors.Is(err, events.ErrUnknownEventType) {
				log.Debug().Str("event_type", string(ev.Type)).Msg("ignoring unknown event type")
			} else {
				log.Warn().Err(err).Msg("failed to apply server event")
			}
			continue
		}
		if ev.Type == events.TypeConnected {
			c.once.Do(func() { close(c.connected) })
		}
		if c.observer != nil {
			c.observer(ev)
		}
	}
}

// Close sends a close frame and closes the socket
func (c *Conn) Close() error {
	c.writeMu.Lock()
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return c.ws.Close()
}
