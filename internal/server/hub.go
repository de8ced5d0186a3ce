package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket" //nolint:staticcheck // TODO: migrate to github.com/coder/websocket

	"github.com/scrypster/introducer/internal/engine"
	"github.com/scrypster/introducer/internal/logging"
)

// subscriber is anything that can receive broadcast frames. Tests register
// channel-backed subscribers without a websocket.
type subscriber interface {
	sendChannel() chan []byte
	close()
}

type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

func (c *wsClient) sendChannel() chan []byte { return c.send }

func (c *wsClient) close() {
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
}

// Hub fans contact transition events out to websocket subscribers.
type Hub struct {
	clients    map[subscriber]bool
	broadcast  chan engine.TransitionEvent
	register   chan subscriber
	unregister chan subscriber
	mu         sync.RWMutex
	ctx        context.Context
	cancel     context.CancelFunc
	origins    []string
	logger     *zap.Logger
}

// NewHub creates a hub. originPatterns are passed to websocket.Accept; an
// empty list only admits same-origin upgrades.
func NewHub(originPatterns []string, logger *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[subscriber]bool),
		broadcast:  make(chan engine.TransitionEvent, 256),
		register:   make(chan subscriber),
		unregister: make(chan subscriber),
		ctx:        ctx,
		cancel:     cancel,
		origins:    originPatterns,
		logger:     logging.OrNop(logger),
	}
}

// Run processes registrations and broadcasts until Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("event subscriber connected", zap.Int("total", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.sendChannel())
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("event subscriber disconnected", zap.Int("total", n))

		case ev := <-h.broadcast:
			data, err := json.Marshal(ev)
			if err != nil {
				h.logger.Error("failed to encode transition event", zap.Error(err))
				continue
			}
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.sendChannel() <- data:
				default:
					// Slow subscriber.
					close(c.sendChannel())
					delete(h.clients, c)
				}
			}
			h.mu.Unlock()

		case <-h.ctx.Done():
			return
		}
	}
}

// Stop disconnects every subscriber and ends Run.
func (h *Hub) Stop() {
	h.cancel()

	h.mu.Lock()
	for c := range h.clients {
		close(c.sendChannel())
		c.close()
	}
	h.clients = make(map[subscriber]bool)
	h.mu.Unlock()
}

// Publish queues ev for broadcast. It never blocks; events are dropped when
// the queue is full. It matches engine.OnTransition.
func (h *Hub) Publish(ev engine.TransitionEvent) {
	select {
	case h.broadcast <- ev:
	default:
		h.logger.Warn("event queue full, dropping transition", logging.Contact(ev.ContactID))
	}
}

func (h *Hub) subscribe(c subscriber) {
	select {
	case h.register <- c:
	case <-h.ctx.Done():
	}
}

func (h *Hub) unsubscribe(c subscriber) {
	select {
	case h.unregister <- c:
	case <-h.ctx.Done():
	}
}

// ServeHTTP upgrades the request and streams events until the client goes
// away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &wsClient{hub: h, conn: conn, send: make(chan []byte, 64)}
	h.subscribe(c)

	go c.writePump()
	c.readPump()
}

func (c *wsClient) writePump() {
	defer c.close()
	for msg := range c.send {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := c.conn.Write(ctx, websocket.MessageText, msg)
		cancel()
		if err != nil {
			c.hub.logger.Debug("websocket write failed", zap.Error(err))
			c.hub.unsubscribe(c)
			return
		}
	}
}

// readPump drains inbound frames so disconnects are noticed.
func (c *wsClient) readPump() {
	defer c.hub.unsubscribe(c)
	for {
		if _, _, err := c.conn.Read(c.hub.ctx); err != nil {
			return
		}
	}
}

func (h *Hub) subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
