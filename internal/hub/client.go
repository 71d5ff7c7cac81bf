// internal/hub/client.go
package hub

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Client is one live, authenticated connection.
type Client struct {
	ID       string
	Username string // token subject
	Conn     *websocket.Conn
	Send     chan []byte

	lastActive atomic.Int64
	closed     bool // guarded by Registry.mu
}

// NewClient creates a client with a fresh connection ID. conn may be nil in tests.
func NewClient(username string, conn *websocket.Conn, buffer int) *Client {
	if buffer <= 0 {
		buffer = defaultSendBuffer
	}
	c := &Client{
		ID:       uuid.NewString(),
		Username: username,
		Conn:     conn,
		Send:     make(chan []byte, buffer),
	}
	c.touch()
	return c
}

func (c *Client) touch() {
	c.lastActive.Store(time.Now().UnixNano())
}

// LastActive is the time of the last frame read from the client.
func (c *Client) LastActive() time.Time {
	return time.Unix(0, c.lastActive.Load())
}
