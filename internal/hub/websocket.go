// internal/hub/websocket.go
package hub

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/erilali/chathub/internal/auth"
)

const (
	webSocketReadDeadline  = 60 * time.Second
	webSocketWriteDeadline = 10 * time.Second
	webSocketPingPeriod    = (webSocketReadDeadline * 9) / 10 // Must be less than readDeadline
)

// ServeWs authenticates the request and upgrades it to a websocket. The
// token comes from the Authorization header or, for browsers, the
// access_token query parameter. A rejected token never reaches the upgrade.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	token := auth.BearerToken(r.Header.Get("Authorization"))
	if token == "" {
		token = r.URL.Query().Get("access_token")
	}
	subject, err := h.verifier.Verify(token)
	if err != nil {
		h.Logger.LogEvent("warn", "token_rejected", "", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Errorf("WebSocket upgrade error: %v", err)
		return
	}

	client := NewClient(subject, conn, h.sendBuffer)
	if err := h.registry.Add(client); err != nil {
		h.Logger.Err(err).Errorf("Failed to register %s", subject)
		conn.Close()
		return
	}
	h.Logger.WithField("conn_id", client.ID).LogEvent("info", "client_connected", subject, "")

	go h.WritePump(client)
	go h.ReadPump(client)
}

// ReadPump reads frames until the connection fails or the client closes it.
func (h *Hub) ReadPump(client *Client) {
	defer func() {
		h.disconnect(client)
		client.Conn.Close()
	}()

	if h.maxFrameBytes > 0 {
		client.Conn.SetReadLimit(h.maxFrameBytes)
	}
	client.Conn.SetReadDeadline(time.Now().Add(webSocketReadDeadline))
	client.Conn.SetPongHandler(func(string) error {
		client.Conn.SetReadDeadline(time.Now().Add(webSocketReadDeadline))
		return nil
	})

	for {
		_, payload, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.Logger.WithField("conn_id", client.ID).LogEvent("error", "read_error", client.Username, err.Error())
			}
			return
		}

		client.touch()
		client.Conn.SetReadDeadline(time.Now().Add(webSocketReadDeadline))
		if !h.HandleClientMessage(client, payload) {
			return
		}
	}
}

// WritePump drains client.Send to the connection. Frames queued behind the
// current one go out in the same websocket message; each already ends with a
// record separator.
func (h *Hub) WritePump(client *Client) {
	ticker := time.NewTicker(webSocketPingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case payload, ok := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(webSocketWriteDeadline))
			if !ok {
				// The registry closed the channel.
				client.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			w, err := client.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				h.disconnect(client)
				return
			}
			w.Write(payload)

			n := len(client.Send)
			for i := 0; i < n; i++ {
				next, ok := <-client.Send
				if !ok {
					break
				}
				w.Write(next)
			}

			if err := w.Close(); err != nil {
				h.disconnect(client)
				return
			}

		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(webSocketWriteDeadline))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.disconnect(client)
				return
			}
		}
	}
}
