// Package hub fans out dashboard events to websocket subscribers using
// the channel-based broadcast pattern.
package hub

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/simhire/callsim/internal/log"
)

// Event is one dashboard update. Kind routes it on the client side:
// "state", "transcript", or "log".
type Event struct {
	Kind string          `json:"kind"`
	Time time.Time       `json:"time"`
	Data json.RawMessage `json:"data"`
}

// NewEvent encodes payload into an Event. Returns a zero Event and false
// if the payload does not marshal.
func NewEvent(kind string, payload any) (Event, bool) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, false
	}
	return Event{Kind: kind, Time: time.Now().UTC(), Data: data}, true
}

// Hub maintains the subscriber set and broadcasts events to all of them.
// Slow subscribers are dropped rather than allowed to stall the call loop.
type Hub struct {
	name   string
	logger *slog.Logger

	clients    map[*Client]bool
	broadcast  chan Event
	register   chan *Client
	unregister chan *Client
	stop       chan struct{}
	stopOnce   sync.Once

	mu sync.RWMutex
}

func New(name string) *Hub {
	return &Hub{
		name:       name,
		logger:     log.L().With("hub", name),
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
	}
}

// Run is the hub's main loop. Call it in a goroutine; it exits on Stop.
func (h *Hub) Run() {
	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("subscriber connected", "total", count)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("subscriber disconnected", "remaining", count)

		case ev := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- ev:
				default:
					close(client.send)
					delete(h.clients, client)
					h.logger.Warn("dropped slow subscriber")
				}
			}
			h.mu.Unlock()
		}
	}
}

// Stop shuts the hub down and disconnects all subscribers.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// add hands a client to the run loop. A stopped hub accepts nobody, and
// the send must not block once the loop has exited.
func (h *Hub) add(c *Client) {
	select {
	case h.register <- c:
	case <-h.stop:
	}
}

// remove mirrors add for disconnection.
func (h *Hub) remove(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.stop:
	}
}

// Publish marshals payload and broadcasts it under kind. Never blocks;
// events are dropped when the broadcast queue is full.
func (h *Hub) Publish(kind string, payload any) {
	ev, ok := NewEvent(kind, payload)
	if !ok {
		h.logger.Warn("unencodable event dropped", "kind", kind)
		return
	}
	select {
	case h.broadcast <- ev:
	case <-h.stop:
	default:
		h.logger.Warn("broadcast queue full, event dropped", "kind", kind)
	}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
