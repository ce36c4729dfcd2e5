package receipt

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zombor/ticketmiam/internal/nutrition"
)

const (
	clientBuffer = 8
	writeWait    = 10 * time.Second
)

// HistoryEvent is pushed to websocket clients whenever the history changes
type HistoryEvent struct {
	Type  string                  `json:"type"`
	Scans []*nutrition.ScanResult `json:"scans"`
}

type hubClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub broadcasts history changes to connected websocket clients. Clients
// that cannot keep up are dropped.
type Hub struct {
	mu       sync.Mutex
	clients  map[*hubClient]struct{}
	upgrader websocket.Upgrader
	snapshot func() []*nutrition.ScanResult
}

// NewHub creates a Hub. snapshot provides the history sent to new clients.
func NewHub(snapshot func() []*nutrition.ScanResult) *Hub {
	return &Hub{
		clients: make(map[*hubClient]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		snapshot: snapshot,
	}
}

// Notify implements Notifier. When the hub has a snapshot source, the
// history is re-read under the hub lock so clients always receive events in
// history order; scans is only used without one.
func (h *Hub) Notify(scans []*nutrition.ScanResult) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.snapshot != nil {
		scans = h.snapshot()
	}
	msg, err := encodeHistoryEvent(scans)
	if err != nil {
		slog.Error("Error encoding history event", "error", err)
		return
	}

	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			slog.Warn("Dropping slow websocket client", "remote", c.conn.RemoteAddr().String())
			h.removeLocked(c)
		}
	}
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and streams history events until the client goes away
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Error upgrading websocket", "error", err)
		return
	}

	c := &hubClient{conn: conn, send: make(chan []byte, clientBuffer)}
	h.mu.Lock()
	if h.snapshot != nil {
		if msg, err := encodeHistoryEvent(h.snapshot()); err == nil {
			c.send <- msg
		}
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(c)
	h.readLoop(c)
}

// Close disconnects every client
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.removeLocked(c)
	}
}

// readLoop discards client messages; it returns when the connection closes
func (h *Hub) readLoop(c *hubClient) {
	defer func() {
		h.mu.Lock()
		h.removeLocked(c)
		h.mu.Unlock()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *hubClient) {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// removeLocked unregisters c; callers hold h.mu
func (h *Hub) removeLocked(c *hubClient) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

func encodeHistoryEvent(scans []*nutrition.ScanResult) ([]byte, error) {
	if scans == nil {
		scans = []*nutrition.ScanResult{}
	}
	return json.Marshal(HistoryEvent{Type: "history", Scans: scans})
}
