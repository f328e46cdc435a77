// Package gateway exposes the scanner's quote and opportunity streams to
// WebSocket clients. The hub fans events out to every connected client;
// clients that cannot keep up are dropped rather than allowed to stall the
// broadcast path.
package gateway

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/archserver/vbtrader-sub001/internal/model"
)

const (
	clientBuffer = 256
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 54 * time.Second
)

// Envelope wraps every message pushed to clients.
type Envelope struct {
	Type string          `json:"type"` // "quote" or "opportunity"
	Seq  int64           `json:"seq"`
	TS   time.Time       `json:"ts"`
	Data json.RawMessage `json:"data"`
}

// Client is one connected WebSocket consumer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub manages connected clients and broadcasts scanner events to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	seq     int64

	upgrader websocket.Upgrader
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Run consumes the quote and opportunity streams and broadcasts them until
// ctx is cancelled. Either channel may be nil.
func (h *Hub) Run(ctx context.Context, quoteCh <-chan model.Quote, oppCh <-chan model.Opportunity) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case q, ok := <-quoteCh:
			if !ok {
				quoteCh = nil
				continue
			}
			h.broadcast("quote", q.JSON())
		case opp, ok := <-oppCh:
			if !ok {
				oppCh = nil
				continue
			}
			h.broadcast("opportunity", opp.JSON())
		}
	}
}

// broadcast fans one event to every client, dropping clients whose send
// buffer is full.
func (h *Hub) broadcast(typ string, data []byte) {
	h.mu.Lock()
	h.seq++
	env := Envelope{Type: typ, Seq: h.seq, TS: time.Now().UTC(), Data: data}
	payload, err := json.Marshal(env)
	if err != nil {
		h.mu.Unlock()
		return
	}

	var slow []*Client
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			slow = append(slow, c)
		}
	}
	for _, c := range slow {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()

	for range slow {
		log.Printf("[gateway] dropped slow client (%d connected)", h.ClientCount())
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// ServeWS upgrades an HTTP request and attaches the client to the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[gateway] upgrade failed: %v", err)
		return
	}

	c := &Client{conn: conn, send: make(chan []byte, clientBuffer)}
	h.register(c)
	log.Printf("[gateway] client connected from %s (%d total)", r.RemoteAddr, h.ClientCount())

	go c.writePump()
	go c.readPump(h)
}

// writePump drains the send buffer to the socket and keeps the connection
// alive with pings.
func (c *Client) writePump() {
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

// readPump discards inbound frames (the stream is one-way) and tears the
// client down on disconnect.
func (c *Client) readPump(h *Hub) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
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
