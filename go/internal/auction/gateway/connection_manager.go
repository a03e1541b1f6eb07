package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/gavel/go/internal/auction/session"
)

// ConnectionManager manages WebSocket connections to session views
type ConnectionManager struct {
	// Connection pools organized by session ID
	sessionConnections map[uuid.UUID]map[*Connection]bool
	mu                 sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
	registry *ViewRegistry
}

// Connection represents a WebSocket connection to a client
type Connection struct {
	ID        string
	Viewer    session.Viewer
	SessionID uuid.UUID
	Conn      *websocket.Conn
	Send      chan []byte
	Manager   *ConnectionManager

	view    *session.View
	release func()
	ctx     context.Context
	cancel  context.CancelFunc

	sendMu sync.Mutex
	closed bool
	once   sync.Once

	// Connection metadata
	ConnectedAt time.Time
	LastPing    time.Time
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

// MessageType tags frames sent to clients.
type MessageType string

const (
	MessageState  MessageType = "state"
	MessageResult MessageType = "result"
	MessageError  MessageType = "error"
)

// ServerMessage is a frame sent to the client.
type ServerMessage struct {
	Type   MessageType     `json:"type"`
	ID     string          `json:"id,omitempty"`
	State  *session.State  `json:"state,omitempty"`
	Result *session.Result `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		SendBufferSize:  64,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig, registry *ViewRegistry) *ConnectionManager {
	return &ConnectionManager{
		sessionConnections: make(map[uuid.UUID]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:   config,
		registry: registry,
	}
}

// Start blocks until ctx is done, then closes every connection.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")
	<-ctx.Done()
	log.Info().Msg("connection manager shutting down")
	cm.CloseAll()
}

// UpgradeConnection upgrades an HTTP connection to WebSocket and streams the
// viewer's session state over it. The view must already be acquired; the
// connection releases it when it closes.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, view *session.View, release func()) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		release()
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	connection := &Connection{
		ID:          uuid.New().String(),
		Viewer:      view.Viewer(),
		SessionID:   view.SessionID(),
		Conn:        conn,
		Send:        make(chan []byte, cm.config.SendBufferSize),
		Manager:     cm,
		view:        view,
		release:     release,
		ctx:         ctx,
		cancel:      cancel,
		ConnectedAt: now,
		LastPing:    now,
	}

	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()
	go connection.forwardStates()

	log.Info().
		Str("connection_id", connection.ID).
		Str("viewer", connection.Viewer.String()).
		Str("session_id", connection.SessionID.String()).
		Msg("WebSocket connection established")

	return nil
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.sessionConnections[conn.SessionID] == nil {
		cm.sessionConnections[conn.SessionID] = make(map[*Connection]bool)
	}
	cm.sessionConnections[conn.SessionID][conn] = true

	log.Debug().
		Str("connection_id", conn.ID).
		Str("session_id", conn.SessionID.String()).
		Int("total_connections", len(cm.sessionConnections[conn.SessionID])).
		Msg("connection registered")
}

// unregisterConnection removes a connection, stops its goroutines and
// releases its view. It is safe to call from any pump.
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	conn.once.Do(func() {
		cm.mu.Lock()
		if connections, exists := cm.sessionConnections[conn.SessionID]; exists {
			delete(connections, conn)
			if len(connections) == 0 {
				delete(cm.sessionConnections, conn.SessionID)
			}
		}
		cm.mu.Unlock()

		conn.cancel()
		conn.sendMu.Lock()
		conn.closed = true
		close(conn.Send)
		conn.sendMu.Unlock()
		conn.release()

		log.Info().
			Str("connection_id", conn.ID).
			Str("viewer", conn.Viewer.String()).
			Str("session_id", conn.SessionID.String()).
			Msg("connection unregistered")
	})
}

// CloseAll closes every open connection.
func (cm *ConnectionManager) CloseAll() {
	cm.mu.RLock()
	var all []*Connection
	for _, connections := range cm.sessionConnections {
		for conn := range connections {
			all = append(all, conn)
		}
	}
	cm.mu.RUnlock()

	for _, conn := range all {
		cm.unregisterConnection(conn)
	}
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() map[string]interface{} {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	totalConnections := 0
	sessionCounts := make(map[string]int)

	for sessionID, connections := range cm.sessionConnections {
		count := len(connections)
		totalConnections += count
		sessionCounts[sessionID.String()] = count
	}

	views := cm.registry.Stats()
	return map[string]interface{}{
		"total_connections":   totalConnections,
		"active_sessions":     len(cm.sessionConnections),
		"session_connections": sessionCounts,
		"open_views":          cm.registry.Len(),
		"view_polls":          views.Polls,
		"view_poll_failures":  views.PollFailures,
		"view_resubscribes":   views.Resubscribes,
		"bid_collisions":      views.BidCollisions,
	}
}

// enqueue queues a frame for the write pump. A connection whose buffer is
// full is closed.
func (c *Connection) enqueue(msg ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to marshal frame")
		return
	}

	c.sendMu.Lock()
	if c.closed {
		c.sendMu.Unlock()
		return
	}
	select {
	case c.Send <- data:
		c.sendMu.Unlock()
	default:
		c.sendMu.Unlock()
		log.Warn().
			Str("connection_id", c.ID).
			Str("viewer", c.Viewer.String()).
			Msg("connection send buffer full, closing connection")
		c.Manager.unregisterConnection(c)
	}
}

// forwardStates pushes every view change to the client.
func (c *Connection) forwardStates() {
	states, cancel := c.view.Watch()
	defer cancel()

	for {
		select {
		case <-c.ctx.Done():
			return
		case st, ok := <-states:
			if !ok {
				c.Manager.unregisterConnection(c)
				return
			}
			c.enqueue(ServerMessage{Type: MessageState, State: &st})
		}
	}
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
			c.LastPing = time.Now()
		}
	}
}

// readPump reads command frames from the client
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		c.handleClientMessage(message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

// handleClientMessage runs one command frame and answers with its result.
// Commands on a connection run one at a time.
func (c *Connection) handleClientMessage(message []byte) {
	var cmd Command
	if err := json.Unmarshal(message, &cmd); err != nil {
		log.Debug().Err(err).Str("connection_id", c.ID).Msg("malformed client message")
		c.enqueue(ServerMessage{Type: MessageError, Error: "malformed command"})
		return
	}

	log.Debug().
		Str("connection_id", c.ID).
		Str("viewer", c.Viewer.String()).
		Str("command", string(cmd.Command)).
		Msg("received client command")

	result, err := cmd.Run(c.ctx, c.view)
	if err != nil {
		c.enqueue(ServerMessage{Type: MessageError, ID: cmd.ID, Error: err.Error()})
		return
	}
	c.enqueue(ServerMessage{Type: MessageResult, ID: cmd.ID, Result: &result})
}
