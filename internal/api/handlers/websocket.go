package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/booking-calendar-sync/backend/internal/logging"
	ws "github.com/booking-calendar-sync/backend/internal/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 65536
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The feed is behind basic auth and carries no mutations.
		return true
	},
}

// WebSocketUpgrade returns a handler that upgrades HTTP connections to the
// operator feed.
func WebSocketUpgrade(hub *ws.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := logging.FromContext(r.Context(), nil)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", "err", err)
			return
		}

		client := ws.NewClient(hub)
		hub.Register(client)

		go writePump(conn, client)
		go readPump(conn, client, hub, logger)
	}
}

// writePump pumps messages from the hub to the WebSocket connection.
func writePump(conn *websocket.Conn, client *ws.Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump pumps messages from the WebSocket connection to the hub.
func readPump(conn *websocket.Conn, client *ws.Client, hub *ws.Hub, logger *slog.Logger) {
	defer func() {
		hub.Unregister(client)
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("websocket read failed", "err", err)
			}
			break
		}

		handleClientMessage(message, client, logger)
	}
}

// handleClientMessage answers client commands. Replies go through the
// client's send channel so writePump stays the only writer.
func handleClientMessage(message []byte, client *ws.Client, logger *slog.Logger) {
	var msg ws.Message
	if err := json.Unmarshal(message, &msg); err != nil {
		reply(client, ws.NewMessage(ws.TypeError, ws.ErrorPayload{
			Code:    "invalid_message",
			Message: "message must be a JSON object with a type",
		}), logger)
		return
	}

	switch msg.Type {
	case ws.TypePing:
		reply(client, ws.NewMessage(ws.TypePong, nil), logger)
	default:
		reply(client, ws.NewMessage(ws.TypeError, ws.ErrorPayload{
			Code:         "unknown_type",
			Message:      "unsupported message type",
			OriginalType: string(msg.Type),
		}), logger)
	}
}

func reply(client *ws.Client, msg ws.Message, logger *slog.Logger) {
	data, err := msg.JSON()
	if err != nil {
		logger.Error("encoding websocket reply", "err", err)
		return
	}

	defer func() {
		// The hub may have closed the channel after a broadcast overflow.
		_ = recover()
	}()
	select {
	case client.Send() <- data:
	default:
		logger.Debug("websocket client buffer full, dropping reply")
	}
}
