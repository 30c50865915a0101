package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/martinemde/planact/agent"
)

// MessageRequest is the body of POST /api/chat/:id/messages.
type MessageRequest struct {
	Message string `json:"message"`
}

// ApprovalRequest is the body of POST /api/chat/:id/approval.
type ApprovalRequest struct {
	Approved bool `json:"approved"`
}

// SendMessage runs the engine on a user message and streams its events.
// An empty message resumes the conversation without adding one.
func (h *Handler) SendMessage(c echo.Context) error {
	var req MessageRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	events := h.engine.ProcessMessage(c.Request().Context(), c.Param("id"), req.Message)
	return h.streamEvents(c, events)
}

// SendApproval answers the pending approval and streams the resumed run.
func (h *Handler) SendApproval(c echo.Context) error {
	var req ApprovalRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	events := h.engine.ProcessApproval(c.Request().Context(), c.Param("id"), req.Approved)
	return h.streamEvents(c, events)
}

// GetPending returns the tool call waiting for approval.
func (h *Handler) GetPending(c echo.Context) error {
	p, ok := h.engine.PendingApproval(c.Param("id"))
	if !ok {
		return errorJSON(c, http.StatusNotFound, "no pending approval")
	}
	return c.JSON(http.StatusOK, p)
}

// streamEvents writes events as server-sent events until the channel
// closes. The channel is drained even after the client goes away so the
// run can finish.
func (h *Handler) streamEvents(c echo.Context, events <-chan agent.Event) error {
	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	var writeErr error
	for ev := range events {
		if writeErr != nil {
			continue
		}
		data, err := json.Marshal(ev)
		if err != nil {
			h.logger.Error("failed to encode event", "type", ev.Kind, "error", err)
			continue
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data); err != nil {
			h.logger.Warn("event stream closed by client", "conversation_id", ev.ConversationID, "error", err)
			writeErr = err
			continue
		}
		w.Flush()
	}
	return nil
}
