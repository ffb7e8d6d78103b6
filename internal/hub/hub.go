// Package hub provides connection and room management for WebSocket clients.
package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/xiaot623/prism/internal/domain"
	"github.com/xiaot623/prism/internal/protocol"
)

// Connection represents a single WebSocket connection.
type Connection struct {
	ID     string
	UserID string
	// ChatID is the session authorized at handshake; RoomID is set once the room is joined.
	ChatID string
	RoomID string
	Conn   *websocket.Conn
	Send   chan []byte
	hub    *Hub
	mu     sync.Mutex
}

// Hub manages all WebSocket connections.
type Hub struct {
	// Connections indexed by connection ID
	connections map[string]*Connection

	// Rooms maps session_id to set of connection IDs
	rooms map[string]map[string]bool

	unregister chan *Connection

	done chan struct{}
	log  logrus.FieldLogger
	mu   sync.RWMutex
}

var _ domain.Emitter = (*Hub)(nil)

// NewHub creates a new Hub.
func NewHub(log logrus.FieldLogger) *Hub {
	return &Hub{
		connections: make(map[string]*Connection),
		rooms:       make(map[string]map[string]bool),
		unregister:  make(chan *Connection),
		done:        make(chan struct{}),
		log:         log,
	}
}

// Run starts the hub's main loop and returns when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.connections[conn.ID]; ok {
				delete(h.connections, conn.ID)
				h.leaveLocked(conn)
				close(conn.Send)
			}
			h.mu.Unlock()
			h.log.WithField("conn_id", conn.ID).Debug("connection unregistered")
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, conn := range h.connections {
		close(conn.Send)
		delete(h.connections, id)
	}
	h.rooms = make(map[string]map[string]bool)
}

// NewConnection creates a connection for an authenticated user. It is not registered yet.
func (h *Hub) NewConnection(ws *websocket.Conn, userID, chatID string) *Connection {
	return &Connection{
		ID:     uuid.New().String(),
		UserID: userID,
		ChatID: chatID,
		Conn:   ws,
		Send:   make(chan []byte, 256),
		hub:    h,
	}
}

// Register registers a connection with the hub. It is addressable as soon as Register returns.
func (h *Hub) Register(conn *Connection) {
	h.mu.Lock()
	h.connections[conn.ID] = conn
	h.mu.Unlock()
	h.log.WithFields(logrus.Fields{"conn_id": conn.ID, "user_id": conn.UserID}).Debug("connection registered")
}

// Unregister unregisters a connection from the hub.
func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// JoinRoom binds a connection to a room, leaving any previous one.
func (h *Hub) JoinRoom(conn *Connection, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.leaveLocked(conn)
	conn.RoomID = roomID
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[string]bool)
	}
	h.rooms[roomID][conn.ID] = true
}

func (h *Hub) leaveLocked(conn *Connection) {
	if conn.RoomID == "" || h.rooms[conn.RoomID] == nil {
		return
	}
	delete(h.rooms[conn.RoomID], conn.ID)
	if len(h.rooms[conn.RoomID]) == 0 {
		delete(h.rooms, conn.RoomID)
	}
}

// Broadcast queues a message on every connection in the room. Delivery is
// synchronous with the caller, so it stays ordered with SendToConnection.
func (h *Hub) Broadcast(roomID string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for connID := range h.rooms[roomID] {
		conn, exists := h.connections[connID]
		if !exists {
			continue
		}
		select {
		case conn.Send <- data:
		default:
			// Buffer full, close the connection
			h.log.WithField("conn_id", connID).Warn("connection buffer full, closing")
			go h.Unregister(conn)
		}
	}
}

// BroadcastJSON sends a JSON message to all connections in a room.
func (h *Hub) BroadcastJSON(roomID string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(roomID, data)
	return nil
}

// Emit delivers a session event to its room.
func (h *Hub) Emit(evt domain.Event) {
	if err := h.BroadcastJSON(evt.SessionID, protocol.FromEvent(evt)); err != nil {
		h.log.WithError(err).WithField("session_id", evt.SessionID).Error("failed to encode event")
	}
}

// SendToConnection sends a message to a specific connection.
func (h *Hub) SendToConnection(conn *Connection, data []byte) error {
	// Send is closed once the connection is unregistered.
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.connections[conn.ID]; !ok {
		return ErrConnectionClosed
	}
	select {
	case conn.Send <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// SendJSONToConnection sends a JSON message to a specific connection.
func (h *Hub) SendJSONToConnection(conn *Connection, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return h.SendToConnection(conn, data)
}

// GetConnectionCount returns the number of active connections.
func (h *Hub) GetConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// GetRoomCount returns the number of rooms with at least one connection.
func (h *Hub) GetRoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// HasActiveConnections checks if a room has any active connections.
func (h *Hub) HasActiveConnections(roomID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID]) > 0
}

// WriteMessage writes a message to the connection with proper locking.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteMessage(messageType, data)
}

// SetWriteDeadline sets the write deadline for the connection.
func (c *Connection) SetWriteDeadline(t time.Time) error {
	return c.Conn.SetWriteDeadline(t)
}

// SetReadDeadline sets the read deadline for the connection.
func (c *Connection) SetReadDeadline(t time.Time) error {
	return c.Conn.SetReadDeadline(t)
}

// Close closes the connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// ErrBufferFull is returned when the send buffer is full.
var ErrBufferFull = &BufferFullError{}

// BufferFullError represents a buffer full error.
type BufferFullError struct{}

func (e *BufferFullError) Error() string {
	return "send buffer full"
}

// ErrConnectionClosed is returned when sending to an unregistered connection.
var ErrConnectionClosed = &ConnectionClosedError{}

// ConnectionClosedError represents a send to a closed connection.
type ConnectionClosedError struct{}

func (e *ConnectionClosedError) Error() string {
	return "connection closed"
}
