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
	"github.com/mcdev12/reflex/go/internal/round"
	"github.com/mcdev12/reflex/go/internal/round/coordinator"
	"github.com/mcdev12/reflex/go/internal/round/events"
	"github.com/mcdev12/reflex/go/internal/round/metrics"
	"github.com/rs/zerolog/log"
)

// Role is what a connection is allowed to do.
type Role string

const (
	RoleAdmin       Role = "admin"
	RoleParticipant Role = "participant"
)

// Dispatcher runs commands decoded from client frames.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd coordinator.Command) (coordinator.Result, error)
}

// ConnectionManager manages WebSocket connections for game events
type ConnectionManager struct {
	// Connection pools organized by game ID
	gameConnections map[uuid.UUID]map[*Connection]struct{}
	mu              sync.RWMutex
	closing         bool

	upgrader   websocket.Upgrader
	config     ConnectionConfig
	dispatcher Dispatcher
	metrics    metrics.Collector

	// commands decoded from frames run under this context
	ctx    context.Context
	cancel context.CancelFunc
}

// Connection represents a WebSocket connection to a client
type Connection struct {
	ID            string
	GameID        uuid.UUID
	ParticipantID uuid.UUID // uuid.Nil for admins
	Role          Role
	ConnectedAt   time.Time

	conn    *websocket.Conn
	send    chan []byte
	manager *ConnectionManager
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

	// MaxReactionTimeMs bounds client-reported reaction times.
	MaxReactionTimeMs int
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
		MaxReactionTimeMs: round.MaxReactionTimeMs,
	}
}

// ManagerOption configures a ConnectionManager.
type ManagerOption func(*ConnectionManager)

func WithManagerMetrics(m metrics.Collector) ManagerOption {
	return func(cm *ConnectionManager) { cm.metrics = m }
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig, dispatcher Dispatcher, opts ...ManagerOption) *ConnectionManager {
	ctx, cancel := context.WithCancel(context.Background())
	cm := &ConnectionManager{
		gameConnections: make(map[uuid.UUID]map[*Connection]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:     config,
		dispatcher: dispatcher,
		metrics:    metrics.NoOp{},
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(cm)
	}
	return cm
}

// SetDispatcher binds the command handler. Call it before serving.
func (cm *ConnectionManager) SetDispatcher(d Dispatcher) {
	cm.dispatcher = d
}

// UpgradeConnection upgrades an HTTP connection to WebSocket and registers
// it with the game. Participant connections are reported to presence.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, gameID, participantID uuid.UUID, role Role) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:            uuid.New().String(),
		GameID:        gameID,
		ParticipantID: participantID,
		Role:          role,
		ConnectedAt:   time.Now(),
		conn:          conn,
		send:          make(chan []byte, cm.config.SendBufferSize),
		manager:       cm,
	}

	if !cm.registerConnection(connection) {
		conn.Close()
		return fmt.Errorf("connection manager is closed")
	}

	if role == RoleParticipant {
		if _, err := cm.dispatcher.Dispatch(cm.ctx, coordinator.Connect{GameID: gameID, ParticipantID: participantID}); err != nil {
			log.Error().Err(err).Str("participant_id", participantID.String()).Msg("failed to register presence")
		}
	}

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("game_id", gameID.String()).
		Str("participant_id", participantID.String()).
		Str("role", string(role)).
		Msg("WebSocket connection established")

	return nil
}

// registerConnection adds a connection to the manager
func (cm *ConnectionManager) registerConnection(conn *Connection) bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.closing {
		return false
	}
	if cm.gameConnections[conn.GameID] == nil {
		cm.gameConnections[conn.GameID] = make(map[*Connection]struct{})
	}
	cm.gameConnections[conn.GameID][conn] = struct{}{}
	cm.metrics.RecordConnection(1)

	log.Debug().
		Str("connection_id", conn.ID).
		Str("game_id", conn.GameID.String()).
		Int("total_connections", len(cm.gameConnections[conn.GameID])).
		Msg("connection registered")
	return true
}

// unregisterConnection removes a connection and closes its send channel. The
// write pump then closes the socket. It reports whether conn was registered.
func (cm *ConnectionManager) unregisterConnection(conn *Connection) bool {
	cm.mu.Lock()
	connections, exists := cm.gameConnections[conn.GameID]
	if !exists {
		cm.mu.Unlock()
		return false
	}
	if _, exists := connections[conn]; !exists {
		cm.mu.Unlock()
		return false
	}
	delete(connections, conn)
	close(conn.send)
	if len(connections) == 0 {
		delete(cm.gameConnections, conn.GameID)
	}
	cm.mu.Unlock()

	cm.metrics.RecordConnection(-1)
	log.Info().
		Str("connection_id", conn.ID).
		Str("game_id", conn.GameID.String()).
		Str("participant_id", conn.ParticipantID.String()).
		Msg("connection unregistered")
	return true
}

// releasePresence reports a closed participant connection. It runs on the
// read pump, never under a publisher's lock, since going offline may
// eliminate the participant and publish in turn.
func (cm *ConnectionManager) releasePresence(conn *Connection) {
	cm.mu.RLock()
	closing := cm.closing
	cm.mu.RUnlock()
	if conn.Role != RoleParticipant || closing {
		return
	}
	if _, err := cm.dispatcher.Dispatch(cm.ctx, coordinator.Disconnect{ParticipantID: conn.ParticipantID}); err != nil {
		log.Error().Err(err).Str("participant_id", conn.ParticipantID.String()).Msg("failed to release presence")
	}
}

// Publish delivers an event to every connection of its game. It never
// blocks: a connection whose buffer is full is evicted and misses the event.
func (cm *ConnectionManager) Publish(_ context.Context, event *events.Event) error {
	gameID, err := uuid.Parse(event.GameID)
	if err != nil {
		return fmt.Errorf("parse game ID %q: %w", event.GameID, err)
	}

	// Marshal the event once
	eventData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	var slow []*Connection
	cm.mu.RLock()
	connections := cm.gameConnections[gameID]
	for conn := range connections {
		select {
		case conn.send <- eventData:
		default:
			slow = append(slow, conn)
		}
	}
	delivered := len(connections) - len(slow)
	cm.mu.RUnlock()

	for _, conn := range slow {
		log.Warn().
			Str("connection_id", conn.ID).
			Str("participant_id", conn.ParticipantID.String()).
			Msg("connection send buffer full, closing connection")
		if cm.unregisterConnection(conn) {
			cm.metrics.RecordEviction()
		}
	}

	log.Debug().
		Str("event_type", string(event.Type)).
		Str("game_id", event.GameID).
		Int("connections", delivered).
		Msg("event broadcasted")
	return nil
}

// reply queues a direct message for one connection.
func (cm *ConnectionManager) reply(conn *Connection, msg ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal reply")
		return
	}

	cm.mu.RLock()
	_, registered := cm.gameConnections[conn.GameID][conn]
	full := false
	if registered {
		select {
		case conn.send <- data:
		default:
			full = true
		}
	}
	cm.mu.RUnlock()

	if full && cm.unregisterConnection(conn) {
		cm.metrics.RecordEviction()
	}
}

// Stats is a point-in-time view of the open connections.
type Stats struct {
	TotalConnections int            `json:"total_connections"`
	ActiveGames      int            `json:"active_games"`
	GameConnections  map[string]int `json:"game_connections"`
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() Stats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := Stats{
		ActiveGames:     len(cm.gameConnections),
		GameConnections: make(map[string]int, len(cm.gameConnections)),
	}
	for gameID, connections := range cm.gameConnections {
		stats.TotalConnections += len(connections)
		stats.GameConnections[gameID.String()] = len(connections)
	}
	return stats
}

// Close disconnects every client without reporting them offline.
func (cm *ConnectionManager) Close() {
	cm.mu.Lock()
	cm.closing = true
	var all []*Connection
	for _, connections := range cm.gameConnections {
		for conn := range connections {
			all = append(all, conn)
		}
	}
	cm.mu.Unlock()

	for _, conn := range all {
		cm.unregisterConnection(conn)
	}
	cm.cancel()
	log.Info().Int("connections", len(all)).Msg("connection manager closed")
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if !ok {
				// Channel was closed
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				c.manager.unregisterConnection(c)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				c.manager.unregisterConnection(c)
				return
			}
		}
	}
}

// readPump handles reading messages from the WebSocket connection
func (c *Connection) readPump() {
	defer func() {
		c.manager.unregisterConnection(c)
		c.conn.Close()
		c.manager.releasePresence(c)
	}()

	c.conn.SetReadLimit(c.manager.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		c.manager.handleClientMessage(c, message)
		c.conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	}
}
