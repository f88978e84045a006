package ws

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

// request is a client-to-hub message.
type request struct {
	Action string `json:"action"`
}

// frame encodes a hub-built reply. Bus events are forwarded as published
// and carry their own type field.
func frame(typ string, payload any) []byte {
	b, err := json.Marshal(struct {
		Type    string `json:"type"`
		Payload any    `json:"payload"`
	}{typ, payload})
	if err != nil {
		b, _ = json.Marshal(map[string]string{"type": "error", "payload": err.Error()})
	}
	return b
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

func newClient(h *Hub, conn *websocket.Conn) *client {
	return &client{hub: h, conn: conn, send: make(chan []byte, sendBufferSize)}
}

// offer queues msg without blocking. It reports false when the client's
// buffer is full.
func (c *client) offer(msg []byte) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// answer handles one client request.
func (c *client) answer(raw []byte) []byte {
	var req request
	if err := json.Unmarshal(raw, &req); err != nil {
		return frame("error", "malformed request")
	}
	switch req.Action {
	case "getAddresses":
		return c.hub.addresses()
	default:
		return frame("error", "unknown action "+req.Action)
	}
}

func (c *client) readLoop() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("observer read failed", slog.String("error", err.Error()))
			}
			return
		}
		c.offer(c.answer(raw))
	}
}

func (c *client) writeLoop() {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		_ = c.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = write(websocket.CloseMessage, nil)
				return
			}
			if err := write(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-c.hub.done:
			_ = write(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "keeper shutting down"))
			return
		case <-ping.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
