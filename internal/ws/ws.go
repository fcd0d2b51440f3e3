// Package ws streams run progress to WebSocket clients.
package ws

import (
	"context"
	"log/slog"
	"sync"

	"nhooyr.io/websocket"
)

// StateProviderFunc returns the current state of all runs as JSON bytes.
type StateProviderFunc func() ([]byte, error)

// Hub manages WebSocket connections and broadcasts messages to all clients.
type Hub struct {
	clients       map[*Client]bool
	broadcast     chan outbound
	register      chan *Client
	unregister    chan *Client
	direct        chan directMessage
	done          chan struct{}
	logger        *slog.Logger
	mu            sync.RWMutex
	stateProvider StateProviderFunc

	// AllowAnyOrigin accepts cross-origin upgrades (development mode).
	AllowAnyOrigin bool
}

// Client represents a single WebSocket connection.
type Client struct {
	hub  *Hub
	send chan []byte
	conn *websocket.Conn

	// runID limits delivery to one run's messages. Guarded by hub.mu.
	runID string
}

// outbound is a queued broadcast. An empty runID reaches every client.
type outbound struct {
	runID string
	data  []byte
}

func (c *Client) wants(runID string) bool {
	return c.runID == "" || runID == "" || c.runID == runID
}

type directMessage struct {
	client  *Client
	message []byte
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		direct:     make(chan directMessage),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// SetStateProvider sets the function called to get current state for
// new and re-syncing clients.
func (h *Hub) SetStateProvider(fn StateProviderFunc) {
	h.mu.Lock()
	h.stateProvider = fn
	h.mu.Unlock()
}

func (h *Hub) state() ([]byte, bool) {
	h.mu.RLock()
	fn := h.stateProvider
	h.mu.RUnlock()
	if fn == nil {
		return nil, false
	}
	data, err := fn()
	if err != nil {
		h.logger.Warn("building websocket state", "error", err)
		return nil, false
	}
	return data, true
}

// Run starts the hub's event loop. It returns when ctx is done, closing
// every client's send channel.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Debug("websocket client disconnected")

		case dm := <-h.direct:
			h.mu.RLock()
			if h.clients[dm.client] {
				select {
				case dm.client.send <- dm.message:
				default:
				}
			}
			h.mu.RUnlock()

		case out := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if !client.wants(out.runID) {
					continue
				}
				select {
				case client.send <- out.data:
				default:
					close(client.send)
					delete(h.clients, client)
					h.logger.Warn("dropping slow websocket client")
				}
			}
			h.mu.Unlock()

		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return
		}
	}
}

// sendTo queues a message for one client. It is a no-op once the client is
// gone or the hub has stopped.
func (h *Hub) sendTo(c *Client, message []byte) {
	select {
	case h.direct <- directMessage{client: c, message: message}:
	case <-h.done:
	}
}

func (h *Hub) add(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) remove(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// subscribe limits c to messages of runID; empty means every run.
func (h *Hub) subscribe(c *Client, runID string) {
	h.mu.Lock()
	c.runID = runID
	h.mu.Unlock()
}

// Broadcast queues a message for all connected clients. It never blocks;
// when the queue is full the message is dropped.
func (h *Hub) Broadcast(message []byte) {
	h.enqueue(outbound{data: message})
}

func (h *Hub) enqueue(out outbound) {
	select {
	case h.broadcast <- out:
	default:
		h.logger.Warn("websocket broadcast queue full, dropping message", "run_id", out.runID)
	}
}

// BroadcastJSON broadcasts a JSON-serializable payload with the given type.
func (h *Hub) BroadcastJSON(msgType MessageType, payload any) {
	h.BroadcastRun("", msgType, payload)
}

// BroadcastRun sends a message about one run to clients watching every run
// or subscribed to runID.
func (h *Hub) BroadcastRun(runID string, msgType MessageType, payload any) {
	msg, err := NewMessage(msgType, payload)
	if err != nil {
		h.logger.Error("failed to create broadcast message", "type", msgType, "error", err)
		return
	}
	h.enqueue(outbound{runID: runID, data: msg})
}

// BroadcastError reports a run failure to the run's watchers.
func (h *Hub) BroadcastError(runID, errMsg string) {
	h.BroadcastRun(runID, MsgError, ErrorPayload{RunID: runID, Message: errMsg})
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
