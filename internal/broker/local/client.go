package local

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chatrelay/internal/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufSize    = 256
)

// bufPool pools bytes.Buffer for JSON encoding on the write hot path.
var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// Client is one broker WebSocket connection.
// Lifecycle: NewClient -> Start(ctx, cancel) -> [readPump, writePump] -> Close -> Wait.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan OutgoingFrame
	socketID string
	userID   string

	// subscriptions is touched only by the hub, under its lock.
	subscriptions map[string]struct{}

	// done guards enqueue against sends after Close.
	done   chan struct{}
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup
}

func NewClient(hub *Hub, conn *websocket.Conn, socketID, userID string) *Client {
	return &Client{
		hub:           hub,
		conn:          conn,
		send:          make(chan OutgoingFrame, sendBufSize),
		socketID:      socketID,
		userID:        userID,
		subscriptions: make(map[string]struct{}),
		done:          make(chan struct{}),
	}
}

// Start launches both pumps and announces the socket id to the peer.
func (c *Client) Start(ctx context.Context, cancel context.CancelFunc) {
	c.cancel = cancel
	c.wg.Add(2)
	go c.writePump(ctx)
	go c.readPump(ctx)

	data, err := json.Marshal(map[string]string{"socket_id": c.socketID})
	if err != nil {
		logger.Errorf("local broker: marshal hello socket=%s: %v", c.socketID, err)
		return
	}
	c.enqueue(OutgoingFrame{Event: eventConnectionEstablished, Data: data})
}

// Wait blocks until both pumps have exited.
func (c *Client) Wait() {
	c.wg.Wait()
}

// Close signals the client to stop. Safe to call multiple times from any
// goroutine.
func (c *Client) Close() {
	c.once.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		close(c.done)
		c.conn.Close()
	})
}

// enqueue offers a frame without blocking. False means the buffer is full or
// the client is closing.
func (c *Client) enqueue(frame OutgoingFrame) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Client) sendError(msg string) {
	data, err := json.Marshal(map[string]string{"message": msg})
	if err != nil {
		return
	}
	c.enqueue(OutgoingFrame{Event: eventError, Data: data})
}

func (c *Client) readPump(ctx context.Context) {
	defer c.wg.Done()
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logger.Errorf("local broker: set read deadline socket=%s: %v", c.socketID, err)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Errorf("local broker: read socket=%s: %v", c.socketID, err)
			}
			return
		}

		var frame IncomingFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.sendError("malformed frame")
			continue
		}
		c.hub.HandleFrame(c, frame)
	}
}

func (c *Client) writePump(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			if err := c.conn.WriteMessage(websocket.CloseMessage, nil); err != nil {
				logger.Errorf("local broker: close socket=%s: %v", c.socketID, err)
			}
			return
		case frame := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logger.Errorf("local broker: set write deadline socket=%s: %v", c.socketID, err)
				return
			}
			buf := bufPool.Get().(*bytes.Buffer)
			buf.Reset()
			enc := json.NewEncoder(buf)
			if err := enc.Encode(frame); err != nil {
				bufPool.Put(buf)
				logger.Errorf("local broker: marshal socket=%s: %v", c.socketID, err)
				continue
			}
			data := buf.Bytes()
			// json.Encoder appends '\n'; trim it for WebSocket text messages.
			if len(data) > 0 && data[len(data)-1] == '\n' {
				data = data[:len(data)-1]
			}
			writeErr := c.conn.WriteMessage(websocket.TextMessage, data)
			bufPool.Put(buf)
			if writeErr != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logger.Errorf("local broker: set write deadline socket=%s: %v", c.socketID, err)
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
