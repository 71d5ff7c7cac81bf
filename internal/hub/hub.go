// internal/hub/hub.go
// Hub relays chat events from one authenticated connection to the others.
package hub

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/erilali/chathub/internal/logger"
	"github.com/erilali/chathub/internal/message"
)

const (
	defaultSendBuffer   = 256
	relayPublishTimeout = 2 * time.Second
)

// TokenVerifier resolves an access token to its subject.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// Relay carries broadcasts between hub instances.
type Relay interface {
	Name() string
	Publish(ctx context.Context, env message.Envelope) error
	Subscribe(ctx context.Context) (<-chan message.Envelope, error)
	Close() error
}

type Options struct {
	// Relay is optional; nil keeps fan-out local to this process.
	Relay Relay
	// SendBuffer is the per-client outbound queue length.
	SendBuffer int
	// MaxFrameBytes caps inbound websocket messages. 0 means no limit.
	MaxFrameBytes int64
	// CheckOrigin decides whether a websocket upgrade may proceed.
	CheckOrigin func(r *http.Request) bool
}

// Hub represents the chat hub: a registry of live clients plus the
// broadcast operations that fan events out to them.
type Hub struct {
	registry      *Registry
	verifier      TokenVerifier
	relay         Relay
	instanceID    string
	sendBuffer    int
	maxFrameBytes int64
	upgrader      websocket.Upgrader
	Logger        *logger.Logger
}

// NewHub wires a hub around registry. The registry is owned by the caller and
// only mutated through connection lifecycle events.
func NewHub(registry *Registry, verifier TokenVerifier, log *logger.Logger, opts Options) *Hub {
	if log == nil {
		log = logger.Nop()
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	return &Hub{
		registry:      registry,
		verifier:      verifier,
		relay:         opts.Relay,
		instanceID:    uuid.NewString(),
		sendBuffer:    opts.SendBuffer,
		maxFrameBytes: opts.MaxFrameBytes,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     opts.CheckOrigin,
		},
		Logger: log,
	}
}

// Connections is the number of live local clients.
func (h *Hub) Connections() int {
	return h.registry.Len()
}

// RelayName reports the relay backend, or "local".
func (h *Hub) RelayName() string {
	if h.relay == nil {
		return "local"
	}
	return h.relay.Name()
}

// RelayConnected reports whether the relay link is up. A hub without a
// relay, or with one that cannot tell, counts as connected.
func (h *Hub) RelayConnected() bool {
	rs, ok := h.relay.(interface{ Connected() bool })
	if !ok {
		return true
	}
	return rs.Connected()
}

// Run delivers relayed broadcasts from other instances until ctx is done,
// then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	var incoming <-chan message.Envelope
	if h.relay != nil {
		ch, err := h.relay.Subscribe(ctx)
		if err != nil {
			h.Logger.Err(err).Warnf("Relay %s subscribe failed, fan-out stays local", h.relay.Name())
		} else {
			incoming = ch
			h.Logger.Infof("Relay %s subscribed (instance %s)", h.relay.Name(), h.instanceID)
		}
	}

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case env, ok := <-incoming:
			if !ok {
				h.Logger.Warn("Relay subscription closed, fan-out stays local")
				incoming = nil
				continue
			}
			if env.Origin == h.instanceID {
				continue
			}
			h.deliver(env.Except, env.Frame)
		}
	}
}

func (h *Hub) shutdown() {
	clients := h.registry.Drain()
	h.Logger.Infof("Hub stopped, closed %d connections", len(clients))
}

// SendMessage emits ReceiveMessage(user, body) to every client, sender included.
func (h *Hub) SendMessage(sender *Client, user, body string) {
	h.Logger.WithField("length", len(body)).LogEvent("debug", "message_received", user, "")
	h.broadcast(message.Invocation(message.TargetReceiveMessage, user, body), "")
}

// TypingNotification emits UserTyping(user) to every client except sender.
func (h *Hub) TypingNotification(sender *Client, user string) {
	h.Logger.LogEvent("debug", "typing_started", user, "")
	h.broadcast(message.Invocation(message.TargetUserTyping, user), senderID(sender))
}

// StopTypingNotification emits UserStopTyping(user) to every client except sender.
func (h *Hub) StopTypingNotification(sender *Client, user string) {
	h.Logger.LogEvent("debug", "typing_stopped", user, "")
	h.broadcast(message.Invocation(message.TargetUserStopTyping, user), senderID(sender))
}

func senderID(c *Client) string {
	if c == nil {
		return ""
	}
	return c.ID
}

func (h *Hub) broadcast(frame message.Frame, except string) {
	payload, err := message.Encode(frame)
	if err != nil {
		h.Logger.Err(err).Errorf("Failed to encode %s", frame.Target)
		return
	}
	h.deliver(except, payload)

	if h.relay == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), relayPublishTimeout)
	defer cancel()
	env := message.Envelope{Origin: h.instanceID, Except: except, Frame: payload}
	if err := h.relay.Publish(ctx, env); err != nil {
		h.Logger.Err(err).Warnf("Failed to relay %s", frame.Target)
	}
}

// deliver hands payload to each local recipient. A recipient whose send
// buffer is full is logged and disconnected; the others still get payload.
func (h *Hub) deliver(except string, payload []byte) {
	_, failed := h.registry.Deliver(except, payload)
	for _, client := range failed {
		h.Logger.WithField("conn_id", client.ID).LogEvent("warn", "delivery_failed", client.Username, "send buffer full")
		h.disconnect(client)
	}
}

// reply sends payload to c only.
func (h *Hub) reply(c *Client, payload []byte) {
	if !h.registry.DeliverTo(c, payload) {
		h.Logger.WithField("conn_id", c.ID).LogEvent("warn", "delivery_failed", c.Username, "reply dropped")
	}
}

// disconnect removes c; safe to call any number of times.
func (h *Hub) disconnect(c *Client) {
	if h.registry.Remove(c) {
		h.Logger.WithField("conn_id", c.ID).LogEvent("info", "client_disconnected", c.Username, "")
	}
}
