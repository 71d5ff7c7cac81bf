// internal/hub/registry.go
package hub

import (
	"errors"
	"sync"
)

var (
	ErrDuplicateConnection = errors.New("hub: connection already registered")
	// ErrClientClosed is returned when re-adding a client whose Send channel
	// was already closed by Remove or Drain.
	ErrClientClosed = errors.New("hub: client already closed")
)

// Registry owns the set of live clients. Enqueueing to a client's Send
// channel only happens under the read lock and Remove closes the channel
// under the write lock, so a removed client is never written to.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]*Client)}
}

// Add registers c. Subjects may repeat; connection IDs may not. A client
// cannot be added again once removed.
func (r *Registry) Add(c *Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	if _, ok := r.clients[c.ID]; ok {
		return ErrDuplicateConnection
	}
	r.clients[c.ID] = c
	return nil
}

// Remove unregisters c and closes its Send channel. It reports whether c was
// registered; removing an unknown or already removed client is a no-op.
func (r *Registry) Remove(c *Client) bool {
	if c == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.clients[c.ID]
	if !ok || current != c {
		return false
	}
	delete(r.clients, c.ID)
	c.closed = true
	close(c.Send)
	return true
}

// All returns a snapshot of every registered client.
func (r *Registry) All() []*Client {
	return r.AllExcept(nil)
}

// AllExcept returns a snapshot of every registered client other than c.
func (r *Registry) AllExcept(c *Client) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.clients))
	for _, client := range r.clients {
		if client != c {
			out = append(out, client)
		}
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Deliver enqueues payload for every client whose ID is not except.
// Clients whose buffer is full are returned in failed; the caller decides
// what to do with them.
func (r *Registry) Deliver(except string, payload []byte) (delivered int, failed []*Client) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, client := range r.clients {
		if id == except {
			continue
		}
		if enqueue(client, payload) {
			delivered++
		} else {
			failed = append(failed, client)
		}
	}
	return delivered, failed
}

// DeliverTo enqueues payload for c alone.
func (r *Registry) DeliverTo(c *Client, payload []byte) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.clients[c.ID]; !ok {
		return false
	}
	return enqueue(c, payload)
}

// Drain removes every client and returns them.
func (r *Registry) Drain() []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Client, 0, len(r.clients))
	for id, client := range r.clients {
		delete(r.clients, id)
		client.closed = true
		close(client.Send)
		out = append(out, client)
	}
	return out
}

// enqueue must be called with r.mu held.
func enqueue(c *Client, payload []byte) bool {
	if c.closed {
		return false
	}
	select {
	case c.Send <- payload:
		return true
	default:
		return false
	}
}
