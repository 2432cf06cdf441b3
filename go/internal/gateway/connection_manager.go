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
	"github.com/mcdev12/scoreboard/go/internal/events"
	"github.com/rs/zerolog/log"
)

// CommandHandler processes one inbound client message.
type CommandHandler interface {
	Handle(ctx context.Context, s Session, message []byte)
}

// ConnectionManager manages WebSocket connections and the rooms they belong to
type ConnectionManager struct {
	// Connection pools organized by room
	rooms map[string]map[*Connection]bool
	mu    sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
	handler  CommandHandler

	broadcastCh chan BroadcastMessage
}

// Connection represents a WebSocket connection to a client
type Connection struct {
	id      string
	UserID  string
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	// guarded by Manager.mu
	rooms  map[string]bool
	closed bool

	// last ordered event delivered per room
	cursorMu sync.Mutex
	cursors  map[string]roomCursor

	ConnectedAt time.Time
}

type roomCursor struct {
	epoch   int64
	version int64
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

	// BroadcastBufferSize bounds the queue between publishers and the
	// broadcast loop. A publisher facing a full queue waits up to
	// PublishTimeout before the event is dropped.
	BroadcastBufferSize int
	PublishTimeout      time.Duration
}

// BroadcastMessage is an event queued for delivery to a room
type BroadcastMessage struct {
	Room  string
	Event *events.Event
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  8 * 1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
		BroadcastBufferSize: 1000,
		PublishTimeout:      2 * time.Second,
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	if config.SendBufferSize <= 0 {
		config.SendBufferSize = 256
	}
	if config.BroadcastBufferSize <= 0 {
		config.BroadcastBufferSize = 1000
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = 2 * time.Second
	}
	return &ConnectionManager{
		rooms: make(map[string]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan BroadcastMessage, config.BroadcastBufferSize),
	}
}

// SetHandler installs the handler for client messages. Call it before
// accepting connections.
func (cm *ConnectionManager) SetHandler(h CommandHandler) {
	cm.handler = h
}

// Start processes queued broadcasts until ctx is done
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// Publish queues ev for every connection in ev.Room. Events for one room are
// delivered in the order they were published, and a connection never receives
// an event older than one it already has. When the queue is full Publish
// waits up to PublishTimeout, or until ctx is done, before dropping ev.
func (cm *ConnectionManager) Publish(ctx context.Context, ev *events.Event) {
	msg := BroadcastMessage{Room: ev.Room, Event: ev}
	select {
	case cm.broadcastCh <- msg:
		return
	default:
	}

	timer := time.NewTimer(cm.config.PublishTimeout)
	defer timer.Stop()
	select {
	case cm.broadcastCh <- msg:
		return
	case <-ctx.Done():
	case <-timer.C:
	}
	log.Warn().
		Str("room", ev.Room).
		Str("event_type", string(ev.Type)).
		Int64("version", ev.Version).
		Msg("broadcast channel full, dropping message")
}

// UpgradeConnection upgrades an HTTP connection to WebSocket and starts its
// pumps. The connection belongs to no room until it joins one.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, userID string) (*Connection, error) {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := cm.newConnection(userID, conn)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.id).
		Str("user_id", userID).
		Msg("WebSocket connection established")

	return connection, nil
}

func (cm *ConnectionManager) newConnection(userID string, conn *websocket.Conn) *Connection {
	return &Connection{
		id:          uuid.New().String(),
		UserID:      userID,
		Conn:        conn,
		Send:        make(chan []byte, cm.config.SendBufferSize),
		Manager:     cm,
		rooms:       make(map[string]bool),
		cursors:     make(map[string]roomCursor),
		ConnectedAt: time.Now(),
	}
}

func (cm *ConnectionManager) join(conn *Connection, room string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if conn.closed {
		return
	}

	if cm.rooms[room] == nil {
		cm.rooms[room] = make(map[*Connection]bool)
	}
	cm.rooms[room][conn] = true
	conn.rooms[room] = true

	log.Debug().
		Str("connection_id", conn.id).
		Str("room", room).
		Int("room_size", len(cm.rooms[room])).
		Msg("connection joined room")
}

func (cm *ConnectionManager) leave(conn *Connection, room string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.leaveLocked(conn, room)
}

func (cm *ConnectionManager) leaveLocked(conn *Connection, room string) {
	delete(conn.rooms, room)
	if members, ok := cm.rooms[room]; ok {
		delete(members, conn)
		if len(members) == 0 {
			delete(cm.rooms, room)
		}
	}
}

// unregisterConnection removes a connection from every room and closes its
// send channel. Safe to call more than once.
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if conn.closed {
		return
	}

	for room := range conn.rooms {
		cm.leaveLocked(conn, room)
	}
	conn.closed = true
	close(conn.Send)

	log.Info().
		Str("connection_id", conn.id).
		Str("user_id", conn.UserID).
		Msg("connection unregistered")
}

// send queues ev on conn without blocking. It reports false when the
// connection is gone or its buffer is full. An event older than one conn
// already received for the room is skipped.
func (cm *ConnectionManager) send(conn *Connection, ev *events.Event, data []byte) bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	if conn.closed {
		return false
	}
	if !conn.admit(ev) {
		log.Debug().
			Str("connection_id", conn.id).
			Str("room", ev.Room).
			Int64("version", ev.Version).
			Msg("skipping stale event")
		return true
	}
	select {
	case conn.Send <- data:
		return true
	default:
		return false
	}
}

func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	eventData, err := json.Marshal(message.Event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	var slow []*Connection
	var stale int
	cm.mu.RLock()
	members := cm.rooms[message.Room]
	delivered := len(members)
	for conn := range members {
		if !conn.admit(message.Event) {
			stale++
			continue
		}
		select {
		case conn.Send <- eventData:
		default:
			slow = append(slow, conn)
		}
	}
	cm.mu.RUnlock()

	// Slow consumers are dropped.
	for _, conn := range slow {
		log.Warn().
			Str("connection_id", conn.id).
			Str("user_id", conn.UserID).
			Msg("connection send buffer full, closing connection")
		cm.unregisterConnection(conn)
		if conn.Conn != nil {
			conn.Conn.Close()
		}
	}

	log.Debug().
		Str("event_type", string(message.Event.Type)).
		Str("room", message.Room).
		Int64("version", message.Event.Version).
		Int("connections", delivered-len(slow)-stale).
		Int("stale", stale).
		Msg("event broadcasted")
}

// ConnectionStats summarises the active connections
type ConnectionStats struct {
	TotalConnections int            `json:"total_connections"`
	ActiveRooms      int            `json:"active_rooms"`
	Rooms            map[string]int `json:"rooms"`
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	seen := make(map[*Connection]bool)
	stats := ConnectionStats{Rooms: make(map[string]int, len(cm.rooms))}
	for room, members := range cm.rooms {
		stats.Rooms[room] = len(members)
		for conn := range members {
			seen[conn] = true
		}
	}
	stats.TotalConnections = len(seen)
	stats.ActiveRooms = len(cm.rooms)
	return stats
}

// ID identifies the connection in logs.
func (c *Connection) ID() string { return c.id }

// Join adds the connection to room.
func (c *Connection) Join(room string) { c.Manager.join(c, room) }

// Leave removes the connection from room.
func (c *Connection) Leave(room string) { c.Manager.leave(c, room) }

// SendEvent delivers ev to this connection only.
func (c *Connection) SendEvent(ev *events.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event")
		return
	}
	if !c.Manager.send(c, ev, data) {
		log.Warn().
			Str("connection_id", c.id).
			Str("event_type", string(ev.Type)).
			Msg("failed to deliver event to connection")
	}
}

// admit reports whether ev is no older than every ordered event c already
// received for ev.Room, and records it if so.
func (c *Connection) admit(ev *events.Event) bool {
	if ev.Version == 0 {
		return true
	}
	c.cursorMu.Lock()
	defer c.cursorMu.Unlock()
	if cur, seen := c.cursors[ev.Room]; seen && !ev.Supersedes(cur.epoch, cur.version) {
		return false
	}
	c.cursors[ev.Room] = roomCursor{epoch: ev.Epoch, version: ev.Version}
	return true
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
			_ = c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.id).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.id).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump reads client commands and hands them to the handler one at a
// time, so a connection's commands are applied in the order they were sent.
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.id).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		if c.Manager.handler != nil {
			c.Manager.handler.Handle(context.Background(), c, message)
		} else {
			log.Debug().
				Str("connection_id", c.id).
				RawJSON("message", message).
				Msg("received client message")
		}
		_ = c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}
