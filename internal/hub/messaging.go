// internal/hub/messaging.go
package hub

import (
	"fmt"

	"github.com/erilali/chathub/internal/message"
)

// HandleClientMessage processes one websocket payload from client. It returns
// false when the client asked to close the connection.
func (h *Hub) HandleClientMessage(client *Client, payload []byte) bool {
	frames, err := message.Decode(payload)
	if err != nil {
		h.Logger.WithField("conn_id", client.ID).Err(err).Warnf("Malformed frame from %s", client.Username)
		h.SendErrorMessage(client, "Invalid message format")
	}

	for _, frame := range frames {
		switch {
		case frame.IsHandshake():
			h.reply(client, message.HandshakeResponse())
		case frame.Type == message.TypePing:
		case frame.Type == message.TypeClose:
			return false
		case frame.Type == message.TypeInvocation || frame.Type == 0:
			h.invoke(client, frame)
		default:
			h.SendErrorMessage(client, fmt.Sprintf("Unsupported frame type %d", frame.Type))
		}
	}
	return true
}

func (h *Hub) invoke(client *Client, frame message.Frame) {
	args := frame.Arguments
	switch frame.Target {
	case message.TargetSendMessage:
		if len(args) != 2 {
			h.arityError(client, frame.Target, 2)
			return
		}
		h.checkSender(client, args[0])
		h.SendMessage(client, args[0], args[1])

	case message.TargetTypingNotification:
		if len(args) != 1 {
			h.arityError(client, frame.Target, 1)
			return
		}
		h.checkSender(client, args[0])
		h.TypingNotification(client, args[0])

	case message.TargetStopTypingNotification:
		if len(args) != 1 {
			h.arityError(client, frame.Target, 1)
			return
		}
		h.checkSender(client, args[0])
		h.StopTypingNotification(client, args[0])

	default:
		h.SendErrorMessage(client, fmt.Sprintf("Unknown method '%s'", frame.Target))
	}
}

// checkSender notes events whose user argument differs from the token
// subject. The argument is still relayed as given.
func (h *Hub) checkSender(client *Client, user string) {
	if user != client.Username {
		h.Logger.WithFields(map[string]interface{}{
			"conn_id": client.ID,
			"subject": client.Username,
		}).Debugf("Event user %q differs from token subject", user)
	}
}

func (h *Hub) arityError(client *Client, target string, want int) {
	h.SendErrorMessage(client, fmt.Sprintf("'%s' takes %d arguments", target, want))
}

// SendErrorMessage sends an Error invocation to client only.
func (h *Hub) SendErrorMessage(client *Client, errorMsg string) {
	data, err := message.Encode(message.Invocation(message.TargetError, errorMsg))
	if err != nil {
		return
	}
	h.reply(client, data)
}
