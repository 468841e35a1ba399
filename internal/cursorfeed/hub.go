// Package cursorfeed broadcasts an airreplay Engine's trace cursor to
// connected websocket clients, grounded on
// internal/websocket/dag_streamer.go's client-registry hub.
package cursorfeed

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// CursorEvent is one position update, pushed to every connected client
// whenever the watched trace records or consumes an entry.
type CursorEvent struct {
	Pos         int       `json:"pos"`
	Total       int       `json:"total"`
	DebugString string    `json:"debug_string"`
	Timestamp   time.Time `json:"timestamp"`
}

// Hub manages websocket connections for a live trace-cursor feed.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan CursorEvent
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
}

// NewHub returns a Hub whose Run loop has not yet been started.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan CursorEvent, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Run drives the hub's registration and broadcast loop; call it in its own
// goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			slog.Info("cursorfeed: client connected", "total", n)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			n := len(h.clients)
			h.mu.Unlock()
			slog.Info("cursorfeed: client disconnected", "total", n)

		case event := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				if err := client.WriteJSON(event); err != nil {
					slog.Warn("cursorfeed: write failed, dropping client", "err", err)
					client.Close()
					delete(h.clients, client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// HandleWebSocket upgrades an HTTP request to a websocket connection and
// registers it with the hub.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("cursorfeed: upgrade failed", "err", err)
		return
	}
	h.register <- conn

	go func() {
		defer func() { h.unregister <- conn }()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Observer returns a callback suitable for airreplay.Engine.SetCursorObserver
// that broadcasts every cursor change to connected clients.
func (h *Hub) Observer() func(pos, total int, debugString string) {
	return func(pos, total int, debugString string) {
		h.BroadcastCursor(pos, total, debugString)
	}
}

// BroadcastCursor pushes a cursor update to all connected clients.
func (h *Hub) BroadcastCursor(pos, total int, debugString string) {
	select {
	case h.broadcast <- CursorEvent{Pos: pos, Total: total, DebugString: debugString, Timestamp: time.Now()}:
	default:
		slog.Warn("cursorfeed: broadcast queue full, dropping cursor event", "pos", pos)
	}
}
