package websocket

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/nortesoft/catasync/internal/bulksync"
)

// Hub maintains the set of connected backoffice clients and broadcasts
// sync session progress to them.
type Hub struct {
	// Registered clients map: ClientID -> Client
	clients map[string]*Client

	// Register requests
	register chan *Client

	// Unregister requests
	unregister chan *Client

	// Outbound progress events
	broadcast chan []byte

	// Mutex for thread-safe access to clients map
	mu sync.RWMutex
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 64),
		clients:    make(map[string]*Client),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if old, ok := h.clients[client.ClientID]; ok {
				close(old.send)
				delete(h.clients, client.ClientID)
			}
			h.clients[client.ClientID] = client
			h.mu.Unlock()
			log.Printf("🖥️ Backoffice client connected: %s", client.ClientID)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ClientID]; ok {
				delete(h.clients, client.ClientID)
				close(client.send)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.RLock()
			for _, client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Buffer full or client dead, skip
				}
			}
			h.mu.RUnlock()
		}
	}
}

// NotifyProgress implements bulksync.Notifier: every connected client
// receives each session progress event.
func (h *Hub) NotifyProgress(evt bulksync.ProgressEvent) {
	msg, err := json.Marshal(map[string]interface{}{
		"type":  "SYNC_PROGRESS",
		"event": evt,
	})
	if err != nil {
		log.Printf("Error marshaling progress event: %v", err)
		return
	}

	select {
	case h.broadcast <- msg:
	default:
		// Nobody is draining; progress push is best-effort
	}
}
