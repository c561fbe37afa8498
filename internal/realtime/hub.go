package realtime

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	appLog "condcal/internal/log"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Clients only send pings and close frames.
	maxMessageSize = 4096

	sendBuffer = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin checks are left to the CORS layer and bearer auth.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Message is the frame pushed to websocket clients.
type Message struct {
	Type   string  `json:"type"`
	Change *Change `json:"change,omitempty"`
}

// client is one websocket connection bound to an owner.
type client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	ownerID string
}

// Hub fans changes out to the websocket clients of the owner they concern.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

// Attach registers the hub on bus and returns the unregister function.
func (h *Hub) Attach(bus Bus) func() {
	return bus.OnChange(h.Broadcast)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends c to every client of c.OwnerID. Clients whose send
// buffer is full are dropped.
func (h *Hub) Broadcast(c Change) {
	data, err := json.Marshal(Message{Type: "change", Change: &c})
	if err != nil {
		appLog.Error("hub: marshal change", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for cl := range h.clients {
		if cl.ownerID != c.OwnerID {
			continue
		}
		select {
		case cl.send <- data:
		default:
			appLog.Warn("hub: client send buffer full, dropping client", "owner", cl.ownerID)
			delete(h.clients, cl)
			close(cl.send)
		}
	}
}

// ServeWS upgrades the request and streams ownerID's changes to it until
// the connection closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, ownerID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		appLog.Error("hub: websocket upgrade failed", err)
		return
	}
	cl := &client{hub: h, conn: conn, send: make(chan []byte, sendBuffer), ownerID: ownerID}

	h.mu.Lock()
	h.clients[cl] = struct{}{}
	h.mu.Unlock()
	appLog.Debug("hub: client connected", "owner", ownerID)

	go cl.writePump()
	cl.readPump()
}

func (h *Hub) unregister(cl *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[cl]; ok {
		delete(h.clients, cl)
		close(cl.send)
		appLog.Debug("hub: client disconnected", "owner", cl.ownerID)
	}
}

// readPump drains the connection so pongs and close frames are processed.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				appLog.Error("hub: websocket read", err, "owner", c.ownerID)
			}
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
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
