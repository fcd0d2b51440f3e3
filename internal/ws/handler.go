package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"nhooyr.io/websocket"
)

const (
	writeTimeout = 10 * time.Second
	pingPeriod   = 30 * time.Second

	// Clients only send small control messages.
	maxClientMessage = 4 << 10
	sendBuffer       = 256
)

// HandleWebSocket upgrades the request and streams hub messages to the
// client until either side goes away. Cross-origin upgrades are refused
// unless AllowAnyOrigin is set.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: h.AllowAnyOrigin,
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn.SetReadLimit(maxClientMessage)

	c := &Client{hub: h, send: make(chan []byte, sendBuffer), conn: conn}
	if !h.add(c) {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	h.logger.Debug("websocket client connected", "remote", r.RemoteAddr)

	c.sendState()
	c.serve(r.Context())
}

// serve runs the write loop in the background and reads client requests
// until the connection fails. The client is unregistered on return.
func (c *Client) serve(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.hub.remove(c)

	go func() {
		c.writeLoop(ctx)
		// A failed write must also end the read side.
		cancel()
	}()

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && ctx.Err() == nil {
				c.hub.logger.Debug("websocket read ended", "error", err)
			}
			c.conn.Close(websocket.StatusNormalClosure, "")
			return
		}
		c.handle(data)
	}
}

func (c *Client) handle(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.hub.logger.Debug("ignoring malformed websocket message", "error", err)
		return
	}
	switch msg.Type {
	case MsgSync:
		c.sendState()
	case MsgSubscribe:
		var sub SubscribePayload
		if len(msg.Payload) > 0 {
			if err := json.Unmarshal(msg.Payload, &sub); err != nil {
				c.hub.logger.Debug("ignoring malformed subscribe", "error", err)
				return
			}
		}
		c.hub.subscribe(c, sub.RunID)
		c.sendState()
	default:
		c.hub.logger.Debug("ignoring websocket message", "type", msg.Type)
	}
}

// sendState queues a full_state message if a provider is set.
func (c *Client) sendState() {
	data, ok := c.hub.state()
	if !ok {
		return
	}
	msg, err := NewMessage(MsgFullState, json.RawMessage(data))
	if err != nil {
		return
	}
	c.hub.sendTo(c, msg)
}

// writeLoop delivers queued messages and keeps the connection alive with
// pings. It returns when the hub closes the send channel or a write fails.
func (c *Client) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				c.conn.Close(websocket.StatusGoingAway, "")
				return
			}
			if err := c.write(ctx, message); err != nil {
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) write(ctx context.Context, message []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, message)
}
