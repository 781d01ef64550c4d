package websocket

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/scythe504/horde-backend/internal"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	DefaultSendBuffer = 64
)

type frame struct {
	kind int
	data []byte
}

// Client is one live connection. The hub only ever holds ids into room and
// session state, never the state itself.
type Client struct {
	ID    string
	User  internal.User
	codec Codec

	hub  *Hub
	conn *websocket.Conn
	send chan frame

	mu     sync.RWMutex
	roomID string

	done      chan struct{}
	closeOnce sync.Once
	dropped   atomic.Uint64
}

func newClient(hub *Hub, conn *websocket.Conn, id string, user internal.User, codec Codec, buffer int) *Client {
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}
	return &Client{
		ID:    id,
		User:  user,
		codec: codec,
		hub:   hub,
		conn:  conn,
		send:  make(chan frame, buffer),
		done:  make(chan struct{}),
	}
}

// Room is the id of the room this connection is subscribed to, if any.
func (c *Client) Room() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roomID
}

func (c *Client) setRoom(roomID string) {
	c.mu.Lock()
	c.roomID = roomID
	c.mu.Unlock()
}

func (c *Client) Dropped() uint64 { return c.dropped.Load() }

// Send encodes and queues one message. Slow clients lose frames instead of
// stalling the caller.
func (c *Client) Send(msgType string, payload any) bool {
	data, err := c.codec.Encode(msgType, payload)
	if err != nil {
		log.Printf("[Client.Send] %s: %v", c.ID, err)
		return false
	}
	return c.enqueue(frame{kind: c.codec.FrameType(), data: data})
}

func (c *Client) enqueue(f frame) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- f:
		return true
	default:
		if n := c.dropped.Add(1); n%50 == 1 {
			log.Printf("[Client.enqueue] %s (user %s): send buffer full, %d frames dropped", c.ID, c.User.ID, n)
		}
		return false
	}
}

func (c *Client) sendError(err error) {
	code := internal.KindOf(err)
	if code == "" {
		code = internal.KindResource
	}
	c.Send(internal.EventRoomError, internal.ErrorData{Message: err.Error(), Code: code})
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// readPump feeds inbound frames to the hub until the connection fails.
func (c *Client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[Client.readPump] %s (user %s): read error: %v", c.ID, c.User.ID, err)
			}
			return
		}
		c.hub.Dispatch(c, raw)
	}
}

// writePump is the only goroutine that writes to the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case f := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(f.kind, f.data); err != nil {
				log.Printf("[Client.writePump] %s (user %s): write error: %v", c.ID, c.User.ID, err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
