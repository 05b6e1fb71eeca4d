package server

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/woozymasta/muster/internal/models"
)

const (
	// writeWait is the deadline for a single websocket write.
	writeWait = 10 * time.Second

	// sendBuffer is the per-client outgoing frame buffer. Publishes never
	// block; a full buffer drops the frame with an error to the publisher.
	sendBuffer = 32
)

var (
	// ErrClientGone means the target client is not connected.
	ErrClientGone = errors.New("client is not connected")

	// ErrDuplicateClient means the client name is already connected.
	ErrDuplicateClient = errors.New("client name already connected")
)

// hubClient is one connected client: its websocket, identity, resolved
// country, and outgoing frame queue.
type hubClient struct {
	conn    *websocket.Conn
	send    chan models.Envelope
	done    chan struct{}
	name    string
	country string
	once    sync.Once
}

// stop signals the write pump to exit. Idempotent.
func (c *hubClient) stop() {
	c.once.Do(func() { close(c.done) })
}

// writePump serializes all writes to the websocket. It exits when the client
// is removed from the hub or a write fails, closing the connection either way.
func (c *hubClient) writePump() {
	defer func() { _ = c.conn.Close() }()

	for {
		select {
		case env := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// Hub tracks connected clients by name and delivers topic-scoped frames to
// their send queues.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*hubClient
}

func newHub() *Hub {
	return &Hub{clients: make(map[string]*hubClient)}
}

// add registers a client. A live connection under the same name is rejected.
func (h *Hub) add(c *hubClient) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c.name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateClient, c.name)
	}
	h.clients[c.name] = c

	return nil
}

// remove unregisters a client and stops its write pump.
func (h *Hub) remove(name string) {
	h.mu.Lock()
	c, ok := h.clients[name]
	delete(h.clients, name)
	h.mu.Unlock()

	if ok {
		c.stop()
	}
}

// connected reports whether a client name has a live connection.
func (h *Hub) connected(name string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	_, ok := h.clients[name]
	return ok
}

// country returns the resolved country code of a connected client.
func (h *Hub) country(name string) string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if c, ok := h.clients[name]; ok {
		return c.country
	}
	return ""
}

// Publish queues a frame for one client without blocking. It satisfies
// rallypoint.Publisher.
func (h *Hub) Publish(client, topic string, data any) error {
	h.mu.RLock()
	c, ok := h.clients[client]
	h.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrClientGone, client)
	}

	select {
	case c.send <- models.Envelope{Topic: topic, Data: data}:
		return nil
	default:
		return fmt.Errorf("send buffer full for client %s", client)
	}
}
