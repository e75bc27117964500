package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/watchparty/go/internal/session"
)

// Coordinator is the session loop that connections feed
type Coordinator interface {
	SubmitConnect(ctx context.Context, conn session.Conn) error
	SubmitFrame(ctx context.Context, connID string, frame []byte) error
	SubmitDisconnect(ctx context.Context, connID string) error
}

// ConnectionManager upgrades and tracks room WebSocket connections
type ConnectionManager struct {
	connections map[string]*Connection
	mu          sync.RWMutex

	upgrader    websocket.Upgrader
	config      ConnectionConfig
	coordinator Coordinator
}

// Connection represents a WebSocket connection to a client
type Connection struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	manager *ConnectionManager

	closeOnce sync.Once
	closed    chan struct{}

	ConnectedAt time.Time
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  MaxMessageSizeFor(2000),
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// A chat rune escaped as a UTF-16 surrogate pair takes 12 bytes on the wire
const (
	maxEscapedRuneSize = 12
	envelopeAllowance  = 4096
)

// MaxMessageSizeFor returns a read limit that fits a chat message of
// chatRunes runes however the client escapes it
func MaxMessageSizeFor(chatRunes int) int64 {
	return int64(chatRunes)*maxEscapedRuneSize + envelopeAllowance
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig, coordinator Coordinator) *ConnectionManager {
	if config.SendBufferSize <= 0 {
		config.SendBufferSize = DefaultConnectionConfig().SendBufferSize
	}
	return &ConnectionManager{
		connections: make(map[string]*Connection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		coordinator: coordinator,
	}
}

// Start blocks until ctx is cancelled, then closes every open connection
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")
	<-ctx.Done()

	cm.mu.RLock()
	open := make([]*Connection, 0, len(cm.connections))
	for _, c := range cm.connections {
		open = append(open, c)
	}
	cm.mu.RUnlock()

	for _, c := range open {
		c.Close()
	}
	log.Info().Int("closed_connections", len(open)).Msg("connection manager shutting down")
}

// UpgradeConnection upgrades an HTTP connection to WebSocket and hands it to the
// coordinator
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		id:          uuid.New().String(),
		conn:        conn,
		send:        make(chan []byte, cm.config.SendBufferSize),
		manager:     cm,
		closed:      make(chan struct{}),
		ConnectedAt: time.Now(),
	}

	cm.registerConnection(connection)

	// The write pump must be running before the coordinator unicasts the
	// connected event, or a tiny send buffer could drop it.
	go connection.writePump()

	if err := cm.coordinator.SubmitConnect(r.Context(), connection); err != nil {
		connection.Close()
		cm.unregisterConnection(connection)
		return fmt.Errorf("failed to register connection with coordinator: %w", err)
	}

	go connection.readPump()

	log.Info().
		Str("connection_id", connection.id).
		Str("remote_addr", r.RemoteAddr).
		Msg("WebSocket connection established")

	return nil
}

// registerConnection adds a connection to the manager
func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.connections[conn.id] = conn

	log.Debug().
		Str("connection_id", conn.id).
		Int("total_connections", len(cm.connections)).
		Msg("connection registered")
}

// unregisterConnection removes a connection from the manager. It reports whether
// the connection was still registered.
func (cm *ConnectionManager) unregisterConnection(conn *Connection) bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if _, exists := cm.connections[conn.id]; !exists {
		return false
	}
	delete(cm.connections, conn.id)

	log.Info().
		Str("connection_id", conn.id).
		Dur("connected_for", time.Since(conn.ConnectedAt)).
		Msg("connection unregistered")
	return true
}

// Len returns the number of open connections
func (cm *ConnectionManager) Len() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.connections)
}

// ID implements pubsub.Subscriber
func (c *Connection) ID() string { return c.id }

// Deliver queues frame for the write pump without blocking. A connection whose
// send buffer is full is too slow to keep in sync and gets closed.
func (c *Connection) Deliver(frame []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	default:
		log.Warn().
			Str("connection_id", c.id).
			Msg("connection send buffer full, closing connection")
		c.Close()
		return false
	}
}

// Close stops both pumps. Safe to call more than once.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.Close()
	})
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	cfg := c.manager.config
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.closed:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.id).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.id).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump forwards client frames to the coordinator and reports the disconnect
// once the socket closes
func (c *Connection) readPump() {
	cfg := c.manager.config
	defer func() {
		c.Close()
		if c.manager.unregisterConnection(c) {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.WriteTimeout)
			defer cancel()
			if err := c.manager.coordinator.SubmitDisconnect(ctx, c.id); err != nil {
				log.Error().Err(err).Str("connection_id", c.id).Msg("failed to submit disconnect")
			}
		}
	}()

	c.conn.SetReadLimit(cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
		return nil
	})

	ctx := context.Background()
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.id).
					Msg("unexpected WebSocket close error")
			}
			return
		}

		if err := c.manager.coordinator.SubmitFrame(ctx, c.id, message); err != nil {
			log.Error().Err(err).Str("connection_id", c.id).Msg("failed to submit frame")
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	}
}
