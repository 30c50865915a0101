package server

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/martinemde/planact/agent"
)

// Frame is a websocket message in either direction that is not an engine
// event.
type Frame struct {
	Type           string `json:"type"`
	Message        string `json:"message,omitempty"`
	Approved       bool   `json:"approved,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	Error          string `json:"error,omitempty"`
}

const (
	frameConnected        = "connected"
	frameMessage          = "message"
	frameApprovalResponse = "approval_response"
	framePing             = "ping"
	framePong             = "pong"
	frameError            = "error"

	writeTimeout = 10 * time.Second
)

// ChatSocket serves a chat over a websocket. Each client frame starts a run
// whose events are written back before the next frame is read.
func (h *Handler) ChatSocket(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return nil
	}
	defer conn.Close()

	id := c.Param("id")
	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	if err := writeFrame(conn, Frame{Type: frameConnected, ConversationID: id}); err != nil {
		return nil
	}
	h.logger.Debug("websocket connected", "conversation_id", id)

	for {
		var in Frame
		if err := conn.ReadJSON(&in); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("websocket read ended", "conversation_id", id, "error", err)
			}
			return nil
		}

		var events <-chan agent.Event
		switch in.Type {
		case frameMessage:
			events = h.engine.ProcessMessage(ctx, id, in.Message)
		case frameApprovalResponse:
			events = h.engine.ProcessApproval(ctx, id, in.Approved)
		case framePing:
			if err := writeFrame(conn, Frame{Type: framePong}); err != nil {
				return nil
			}
			continue
		default:
			if err := writeFrame(conn, Frame{Type: frameError, Error: "unknown frame type " + in.Type}); err != nil {
				return nil
			}
			continue
		}

		if !h.relay(conn, events, cancel) {
			return nil
		}
	}
}

// relay writes events to the socket. On a write failure it cancels the
// run, drains the channel and reports false.
func (h *Handler) relay(conn *websocket.Conn, events <-chan agent.Event, cancel context.CancelFunc) bool {
	ok := true
	for ev := range events {
		if !ok {
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(ev); err != nil {
			h.logger.Warn("websocket write failed", "conversation_id", ev.ConversationID, "error", err)
			cancel()
			ok = false
		}
	}
	return ok
}

func writeFrame(conn *websocket.Conn, f Frame) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(f)
}
