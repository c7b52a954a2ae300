// Package websocket implements the PTY attach endpoint: binary
// terminal I/O between a live PTY session and one WebSocket client.
package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/relaybridge/codexgw/internal/server/common"
)

// controlMessage is an inbound text frame. Binary frames are raw
// terminal input; text frames carry structured control.
type controlMessage struct {
	Type string `json:"type"`
	Cols int    `json:"cols,omitempty"`
	Rows int    `json:"rows,omitempty"`
	Data string `json:"data,omitempty"`
}

// PTYConn is the subset of the registry the client needs for inbound
// traffic.
type PTYConn interface {
	Write(id string, data []byte) error
	Resize(id string, cols, rows int) error
}

// Client is one attached WebSocket terminal. It implements the PTY
// registry's sink contract: Write receives output chunks, Exit signals
// process death.
//
// Outbound chunks pass through a send buffer so the PTY read loop never
// blocks on a slow connection; a full buffer drops the chunk.
type Client struct {
	id        string
	sessionID string
	conn      *websocket.Conn
	buf       *common.SendBuffer
	pty       PTYConn

	mu         sync.Mutex
	closed     bool
	exitReason string
}

// NewClient wraps an upgraded connection for one PTY session.
func NewClient(conn *websocket.Conn, sessionID string, pty PTYConn) *Client {
	id := uuid.NewString()
	return &Client{
		id:        id,
		sessionID: sessionID,
		conn:      conn,
		buf:       common.NewSendBuffer(id, common.SendBufferSize),
		pty:       pty,
	}
}

// ID returns the client's unique identifier.
func (c *Client) ID() string { return c.id }

// Write queues a PTY output chunk for the peer.
func (c *Client) Write(data []byte) error {
	return c.buf.Send(data)
}

// Exit closes the client with a close frame naming the cause, so the
// peer can distinguish process death from a dropped connection.
func (c *Client) Exit() {
	c.mu.Lock()
	c.exitReason = "pty exited"
	c.mu.Unlock()
	c.Close()
}

func (c *Client) closeReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exitReason
}

// Close shuts the client down. Idempotent.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	c.buf.Close()
}

// Run pumps until the connection drops or the PTY exits. onClose fires
// once, after both pumps stop.
func (c *Client) Run(onClose func()) {
	var once sync.Once
	done := func() {
		once.Do(func() {
			c.Close()
			_ = c.conn.Close()
			if onClose != nil {
				onClose()
			}
		})
	}
	go func() {
		c.writePump()
		done()
	}()
	c.readPump()
	done()
}

// readPump forwards peer input to the PTY. Binary frames are raw
// terminal bytes, text frames are control messages.
func (c *Client) readPump() {
	c.conn.SetReadLimit(common.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(common.PongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(common.PongWait))
		return nil
	})

	for {
		msgType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("client_id", c.id).Msg("websocket read error")
			}
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			if err := c.pty.Write(c.sessionID, message); err != nil {
				log.Debug().Err(err).Str("pty_id", c.sessionID).Msg("pty write failed")
				return
			}
		case websocket.TextMessage:
			c.handleControl(message)
		}
	}
}

func (c *Client) handleControl(message []byte) {
	var ctrl controlMessage
	if err := json.Unmarshal(message, &ctrl); err != nil {
		log.Debug().Err(err).Str("client_id", c.id).Msg("dropping malformed control message")
		return
	}
	switch ctrl.Type {
	case "resize":
		if err := c.pty.Resize(c.sessionID, ctrl.Cols, ctrl.Rows); err != nil {
			log.Debug().Err(err).Str("pty_id", c.sessionID).Msg("pty resize failed")
		}
	case "input":
		if ctrl.Data == "" {
			return
		}
		if err := c.pty.Write(c.sessionID, []byte(ctrl.Data)); err != nil {
			log.Debug().Err(err).Str("pty_id", c.sessionID).Msg("pty write failed")
		}
	default:
		log.Debug().Str("type", ctrl.Type).Str("client_id", c.id).Msg("unknown control message")
	}
}

// writePump drains the send buffer to the peer and keeps the
// connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(common.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.SetWriteDeadline(time.Now().Add(common.WriteWait))
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, c.closeReason()))
	}()

	for {
		select {
		case chunk, ok := <-c.buf.Channel():
			if !ok {
				// Buffer closed and drained.
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(common.WriteWait))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				log.Debug().Err(err).Str("client_id", c.id).Msg("write error")
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(common.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("client_id", c.id).Msg("ping error")
				return
			}
		}
	}
}
