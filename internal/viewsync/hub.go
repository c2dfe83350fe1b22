package viewsync

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"paper-twinview/internal/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The asset server only listens on the loopback interface.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	writeTimeout = 10 * time.Second
	sendBuffer   = 64
)

// Message is the wire envelope pushed to detached viewers.
type Message struct {
	Kind    string          `json:"kind"` // "scroll", "pages", "state"
	Payload json.RawMessage `json:"payload"`
}

// scrollPayload carries a normalized scroll fraction.
type scrollPayload struct {
	Fraction float64 `json:"fraction"`
}

// Hub fans pipeline and scroll updates out to detached pop-out viewers
// over websockets. The detached window subscribes on open and re-renders
// from scratch; the hub only ever pushes, it never reads document state
// back from the remote side.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]bool

	onAttach func()
	onDetach func()
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*client]bool)}
}

// SetLifecycleCallbacks registers attach/detach observers, used to
// drive the popout state machine.
func (h *Hub) SetLifecycleCallbacks(onAttach, onDetach func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onAttach = onAttach
	h.onDetach = onDetach
}

// ClientCount returns the number of attached viewers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades an HTTP request to a websocket subscription.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", logger.Err(err))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	h.clients[c] = true
	onAttach := h.onAttach
	h.mu.Unlock()

	logger.Info("popout viewer attached")
	if onAttach != nil {
		onAttach()
	}

	go h.writeLoop(c)
	go h.readLoop(c)
}

// writeLoop drains the client's send queue.
func (h *Hub) writeLoop(c *client) {
	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.drop(c)
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.conn.Close()
}

// readLoop consumes pings and detects remote close. Detached viewers
// never send document mutations.
func (h *Hub) readLoop(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.drop(c)
			return
		}
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	onDetach := h.onDetach
	remaining := len(h.clients)
	h.mu.Unlock()

	close(c.send)
	c.conn.Close()

	logger.Info("popout viewer detached", logger.Int("remaining", remaining))
	if onDetach != nil && remaining == 0 {
		onDetach()
	}
}

// CloseAll tears down every subscription, used when the host view closes.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*client]bool)
	h.mu.Unlock()

	for _, c := range clients {
		close(c.send)
		c.conn.Close()
	}
}

// BroadcastScroll pushes a normalized scroll fraction to every viewer.
func (h *Hub) BroadcastScroll(fraction float64) {
	h.broadcast("scroll", scrollPayload{Fraction: fraction})
}

// BroadcastJSON pushes an arbitrary payload under the given kind, used
// for page-image and state updates.
func (h *Hub) BroadcastJSON(kind string, payload interface{}) {
	h.broadcast(kind, payload)
}

func (h *Hub) broadcast(kind string, payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		logger.Warn("failed to marshal broadcast payload", logger.Err(err))
		return
	}
	data, err := json.Marshal(Message{Kind: kind, Payload: raw})
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// Slow consumer; skip rather than block the UI thread.
		}
	}
}
