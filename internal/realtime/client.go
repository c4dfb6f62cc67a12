package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer (64KB for attachment metadata)
	maxMessageSize = 65536
)

// Client represents one live transport-level connection. A user may own
// several at once (tabs, devices); the Registry tracks the multiplicity.
type Client struct {
	id        uuid.UUID
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	userID    uuid.UUID
	username  string
	createdAt time.Time

	mu     sync.RWMutex
	rooms  map[uuid.UUID]bool // conversation IDs this connection is subscribed to
	closed bool

	logger *slog.Logger
}

// NewClient creates a client for an already-authenticated connection.
// Identity is established before the realtime core runs.
func NewClient(hub *Hub, conn *websocket.Conn, userID uuid.UUID, username string, logger *slog.Logger) *Client {
	return &Client{
		id:        uuid.New(),
		hub:       hub,
		conn:      conn,
		send:      make(chan []byte, 256),
		userID:    userID,
		username:  username,
		createdAt: time.Now(),
		rooms:     make(map[uuid.UUID]bool),
		logger:    logger,
	}
}

// ID returns the unique connection id
func (c *Client) ID() uuid.UUID { return c.id }

// UserID returns the owning user's id
func (c *Client) UserID() uuid.UUID { return c.userID }

// Username returns the owning user's username
func (c *Client) Username() string { return c.username }

// JoinRoom subscribes the connection to a conversation topic
func (c *Client) JoinRoom(roomID uuid.UUID) {
	c.mu.Lock()
	c.rooms[roomID] = true
	c.mu.Unlock()
}

// LeaveRoom unsubscribes the connection from a conversation topic
func (c *Client) LeaveRoom(roomID uuid.UUID) {
	c.mu.Lock()
	delete(c.rooms, roomID)
	c.mu.Unlock()
}

// IsInRoom checks if the connection is subscribed to a topic
func (c *Client) IsInRoom(roomID uuid.UUID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rooms[roomID]
}

// Rooms returns all topics the connection is subscribed to
func (c *Client) Rooms() []uuid.UUID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rooms := make([]uuid.UUID, 0, len(c.rooms))
	for id := range c.rooms {
		rooms = append(rooms, id)
	}
	return rooms
}

// close shuts the send channel exactly once; safe against double teardown.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// enqueue queues pre-marshaled bytes for delivery. Returns false if the
// connection is closed or its buffer is full; the caller treats both as a
// best-effort miss, never an error.
func (c *Client) enqueue(data []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		c.logger.Warn("client send buffer full, dropping message", "user_id", c.userID, "conn_id", c.id)
		return false
	}
}

// Send marshals and queues a message to this connection
func (c *Client) Send(msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.enqueue(data)
	return nil
}

// sendError sends an error event to this connection only
func (c *Client) sendError(code, message string) {
	msg, _ := NewMessage(EventTypeError, ErrorPayload{
		Code:    code,
		Message: message,
	})
	_ = c.Send(msg)
}

// ReadPump feeds inbound frames to the hub until the connection dies.
// Returning triggers the full disconnect path, including the offline
// transition if this was the user's last connection.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.hub.Disconnect(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if ctx.Err() != nil {
			return
		}

		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read error", "error", err, "user_id", c.userID)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.sendError("invalid_message", "Failed to parse message")
			continue
		}
		c.hub.HandleEvent(ctx, c, &msg)
	}
}

// WritePump drains the send buffer to the wire and keeps the connection
// alive with pings. One frame per queued message.
func (c *Client) WritePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// close() drained us; say goodbye properly
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
