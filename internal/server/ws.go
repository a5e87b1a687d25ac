package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ayusman/nimesh/internal/app"
	"github.com/ayusman/nimesh/internal/blink"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Outbound messages buffered per client before it is dropped.
	sendBuffer = 32
)

// Event types published on the feed.
const (
	EventBlink   = "blink"
	EventGesture = "gesture"
	EventAction  = "action"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Message is one entry of the event feed.
type Message struct {
	Type string    `json:"type"`
	At   time.Time `json:"at"`
	Data any       `json:"data"`
}

type actionPayload struct {
	BlinkCount int    `json:"blink_count"`
	Action     string `json:"action,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Hub fans detection events out to WebSocket clients. It implements the
// blink, gesture and action handler interfaces so it can be attached to an
// app.App directly.
type Hub struct {
	clients    map[*client]struct{}
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	now        func() time.Time
	logger     *zap.Logger

	mu    sync.RWMutex
	count int
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates a Hub. Call Run to start delivering messages.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 64),
		now:        time.Now,
		logger:     logger,
	}
}

// Run delivers messages until ctx is canceled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.setCount(0)
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.setCount(len(h.clients))
			h.logger.Debug("feed client connected", zap.String("remote", c.conn.RemoteAddr().String()))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				h.setCount(len(h.clients))
				h.logger.Debug("feed client disconnected", zap.String("remote", c.conn.RemoteAddr().String()))
			}

		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Slow client.
					delete(h.clients, c)
					close(c.send)
					h.setCount(len(h.clients))
					h.logger.Warn("dropping slow feed client")
				}
			}
		}
	}
}

func (h *Hub) setCount(n int) {
	h.mu.Lock()
	h.count = n
	h.mu.Unlock()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Publish queues a message for every client. It never blocks; messages are
// dropped when the hub is backed up.
func (h *Hub) Publish(typ string, data any) {
	msg, err := json.Marshal(Message{Type: typ, At: h.now(), Data: data})
	if err != nil {
		h.logger.Error("encoding feed message", zap.String("type", typ), zap.Error(err))
		return
	}

	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("feed backlog full, dropping message", zap.String("type", typ))
	}
}

// HandleBlink publishes a blink event.
func (h *Hub) HandleBlink(e blink.Event) {
	h.Publish(EventBlink, e)
}

// HandleGesture publishes a finalized gesture.
func (h *Hub) HandleGesture(g blink.Gesture) {
	h.Publish(EventGesture, g)
}

// HandleAction publishes the outcome of a dispatch.
func (h *Hub) HandleAction(e app.ActionEvent) {
	p := actionPayload{BlinkCount: e.Gesture.BlinkCount, Action: e.Action.String()}
	if e.Err != nil {
		p.Error = e.Err.Error()
	}
	h.Publish(EventAction, p)
}

// ServeHTTP upgrades the request and streams feed messages to it.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{hub: h, conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- c:
	case <-r.Context().Done():
		conn.Close()
		return
	}

	go c.writePump()
	c.readPump()
}

// readPump discards inbound messages and unregisters the client when the
// connection closes.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-time.After(writeWait):
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
