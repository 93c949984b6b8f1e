package realtime

import (
	"errors"
	"sync"
)

const defaultBufferSize = 16

var (
	// ErrNotConnected means the recipient has no open connection at all.
	ErrNotConnected = errors.New("recipient not connected")

	// ErrNoActiveConns means connections existed when the send started but
	// none of them accepted the event.
	ErrNoActiveConns = errors.New("no active connections accepted the event")

	// ErrHubClosed means the hub has been shut down.
	ErrHubClosed = errors.New("hub is closed")
)

// Event is a realtime frame pushed to a connected recipient.
type Event struct {
	NotificationID string
	Payload        map[string]any
}

// Conn is one recipient connection. Events arrive on a buffered channel;
// slow consumers have events dropped rather than blocking the publisher.
type Conn struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

// Events returns the receive channel. It is closed when the connection is
// detached or the hub shuts down.
func (c *Conn) Events() <-chan Event {
	return c.ch
}

func (c *Conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.ch)
		c.closed = true
	}
}

// send attempts a non-blocking delivery. It reports whether the event was
// accepted by this connection's buffer.
func (c *Conn) send(ev Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.ch <- ev:
		return true
	default:
		return false
	}
}

// Hub is the in-process connection-presence registry: it answers whether a
// recipient currently holds a realtime connection and fans events out to all
// of that recipient's connections.
type Hub struct {
	mu         sync.RWMutex
	conns      map[string]map[*Conn]struct{}
	bufferSize int
	closed     bool
}

func NewHub(bufferSize int) *Hub {
	if bufferSize < 1 {
		bufferSize = defaultBufferSize
	}
	return &Hub{
		conns:      make(map[string]map[*Conn]struct{}),
		bufferSize: bufferSize,
	}
}

// Connect attaches a connection for the recipient and returns it together
// with a detach function. Detach is idempotent.
func (h *Hub) Connect(recipientID string) (*Conn, func()) {
	conn := &Conn{ch: make(chan Event, h.bufferSize)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.close()
		return conn, func() {}
	}
	set, ok := h.conns[recipientID]
	if !ok {
		set = make(map[*Conn]struct{})
		h.conns[recipientID] = set
	}
	set[conn] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	detach := func() {
		once.Do(func() {
			h.mu.Lock()
			if set, ok := h.conns[recipientID]; ok {
				delete(set, conn)
				if len(set) == 0 {
					delete(h.conns, recipientID)
				}
			}
			h.mu.Unlock()
			conn.close()
		})
	}

	return conn, detach
}

// IsConnected reports whether the recipient has at least one attached
// connection.
func (h *Hub) IsConnected(recipientID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	set, ok := h.conns[recipientID]
	return ok && len(set) > 0
}

// Publish fans the event out to every connection of the recipient. It
// succeeds when at least one connection accepted the event.
func (h *Hub) Publish(recipientID string, ev Event) error {
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return ErrHubClosed
	}
	set, ok := h.conns[recipientID]
	if !ok || len(set) == 0 {
		h.mu.RUnlock()
		return ErrNotConnected
	}
	conns := make([]*Conn, 0, len(set))
	for conn := range set {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	accepted := 0
	for _, conn := range conns {
		if conn.send(ev) {
			accepted++
		}
	}
	if accepted == 0 {
		return ErrNoActiveConns
	}
	return nil
}

// ConnectionCount returns the number of attached connections across all
// recipients.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	total := 0
	for _, set := range h.conns {
		total += len(set)
	}
	return total
}

// Close shuts the hub down and closes every connection.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true

	for recipientID, set := range h.conns {
		for conn := range set {
			conn.close()
		}
		delete(h.conns, recipientID)
	}
	return nil
}
