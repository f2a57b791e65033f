package events

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"docqa/internal/models"

	"github.com/gorilla/websocket"
)

/*
LEARNING: WEBSOCKET HUB

One goroutine owns the set of subscribers; everything else talks to it
over channels:
  register   - a new websocket connection
  unregister - a connection went away
  broadcast  - a document changed state

A subscriber that cannot keep up (its Send buffer is full) is dropped
rather than slowing down ingestion.
*/

const (
	sendBuffer   = 64
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
)

// Hub fans out document status events to websocket subscribers
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan models.StatusEvent
	mu         sync.RWMutex

	done     chan struct{}
	stopOnce sync.Once
}

// Client is one websocket subscriber. An empty DocumentID receives events
// for every document.
type Client struct {
	Conn       *websocket.Conn
	Send       chan []byte
	DocumentID string
	hub        *Hub
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan models.StatusEvent, 256),
		done:       make(chan struct{}),
	}
}

// Start begins the hub event loop
func (h *Hub) Start() {
	go h.run()
	log.Println("✓ Status event hub started")
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for c := range h.clients {
				close(c.Send)
			}
			h.clients = make(map[*Client]bool)
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()

		case c := <-h.unregister:
			h.remove(c)

		case ev := <-h.broadcast:
			h.fanOut(ev)
		}
	}
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.Send)
	}
}

func (h *Hub) fanOut(ev models.StatusEvent) {
	msg, err := json.Marshal(ev)
	if err != nil {
		log.Printf("⚠️  Failed to encode status event: %v", err)
		return
	}

	h.mu.RLock()
	var slow []*Client
	for c := range h.clients {
		if c.DocumentID != "" && c.DocumentID != ev.DocumentID {
			continue
		}
		select {
		case c.Send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		log.Printf("⚠️  Status subscriber buffer full, closing connection")
		h.remove(c)
	}
}

// Publish queues an event for delivery. It never blocks the caller; when
// the hub is stopped or backed up the event is dropped.
func (h *Hub) Publish(ev models.StatusEvent) {
	if ev.Type == "" {
		ev.Type = models.EventDocumentStatus
	}
	select {
	case <-h.done:
	case h.broadcast <- ev:
	default:
		log.Printf("⚠️  Status event for %s dropped, hub is backed up", ev.DocumentID)
	}
}

// Clients returns the number of connected subscribers
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown closes every subscriber connection
func (h *Hub) Shutdown() {
	h.stopOnce.Do(func() {
		log.Println("🛑 Shutting down status event hub...")
		close(h.done)
	})
}

// Subscribe registers a connection and starts its pumps.
func (h *Hub) Subscribe(conn *websocket.Conn, documentID string) *Client {
	c := &Client{Conn: conn, Send: make(chan []byte, sendBuffer), DocumentID: documentID, hub: h}

	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return c
	}

	go c.WritePump()
	go c.ReadPump()
	return c
}

// ReadPump discards anything the client sends and notices when it leaves.
// Learning: a reader is still required, otherwise pongs and close frames
// are never processed
func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.Conn.Close()
	}()

	c.Conn.SetReadLimit(4096)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			return
		}
	}
}

// WritePump writes queued events, one JSON message per frame
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
