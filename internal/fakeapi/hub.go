package fakeapi

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Hub keeps the open notification sockets and broadcasts to all of them.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
	joined  chan struct{}
}

func newHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		clients:  map[*websocket.Conn]struct{}{},
		joined:   make(chan struct{}, 16),
	}
}

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()
	select {
	case h.joined <- struct{}{}:
	default:
	}

	// inbound frames are ignored; reading only detects the close
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	_ = conn.Close()
}

func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// WaitForClients blocks until at least n sockets are open or timeout passes.
func (h *Hub) WaitForClients(n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for h.Clients() < n {
		select {
		case <-h.joined:
		case <-deadline:
			return h.Clients() >= n
		case <-time.After(10 * time.Millisecond):
		}
	}
	return true
}

func (h *Hub) Broadcast(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	h.BroadcastRaw(b)
}

// BroadcastRaw sends a frame as-is; tests use it for malformed or unknown messages.
func (h *Hub) BroadcastRaw(b []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		_ = c.SetWriteDeadline(time.Now().Add(time.Second))
		if err := c.WriteMessage(websocket.TextMessage, b); err != nil {
			_ = c.Close()
			delete(h.clients, c)
		}
	}
}

// CloseAll drops every connection, simulating a backend restart.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		_ = c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"), time.Now().Add(time.Second))
		_ = c.Close()
		delete(h.clients, c)
	}
}
