package server

import (
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/martinemde/planact/conversation"
)

const maxImportBytes = 16 << 20

// ListConversations returns conversations, most recently updated first.
func (h *Handler) ListConversations(c echo.Context) error {
	limit, err := queryInt(c, "limit", 50)
	if err != nil {
		return err
	}
	infos, err := h.convs.List(c.Request().Context(), limit)
	if err != nil {
		return h.storeError(c, err)
	}
	if infos == nil {
		infos = []conversation.Info{}
	}
	return c.JSON(http.StatusOK, map[string]any{"conversations": infos})
}

// SearchConversations finds messages containing q.
func (h *Handler) SearchConversations(c echo.Context) error {
	limit, err := queryInt(c, "limit", 20)
	if err != nil {
		return err
	}
	results, err := h.convs.Search(c.Request().Context(), c.QueryParam("q"), limit)
	if err != nil {
		return h.storeError(c, err)
	}
	if results == nil {
		results = []conversation.SearchResult{}
	}
	return c.JSON(http.StatusOK, map[string]any{"query": c.QueryParam("q"), "results": results})
}

// GetConversation returns a conversation summary.
func (h *Handler) GetConversation(c echo.Context) error {
	s, err := h.convs.Summary(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.storeError(c, err)
	}
	return c.JSON(http.StatusOK, s)
}

// GetMessages returns the messages of a conversation.
func (h *Handler) GetMessages(c echo.Context) error {
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		return err
	}
	includeSystem := c.QueryParam("include_system") != "false"
	msgs, err := h.convs.GetMessages(c.Request().Context(), c.Param("id"), limit, includeSystem)
	if err != nil {
		return h.storeError(c, err)
	}
	if msgs == nil {
		msgs = []conversation.Message{}
	}
	return c.JSON(http.StatusOK, map[string]any{"conversation_id": c.Param("id"), "messages": msgs})
}

// ExportConversation downloads a conversation as a JSON document.
func (h *Handler) ExportConversation(c echo.Context) error {
	id := c.Param("id")
	data, err := h.convs.Export(c.Request().Context(), id)
	if err != nil {
		return h.storeError(c, err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", id+".json"))
	return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, data)
}

// ImportConversation loads an exported document, replacing any
// conversation with the same id.
func (h *Handler) ImportConversation(c echo.Context) error {
	data, err := io.ReadAll(io.LimitReader(c.Request().Body, maxImportBytes))
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	conv, err := h.convs.Import(c.Request().Context(), data)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, map[string]any{
		"conversation_id": conv.ID,
		"message_count":   len(conv.Messages),
	})
}

// ClearConversation removes all messages but keeps the conversation.
func (h *Handler) ClearConversation(c echo.Context) error {
	if err := h.convs.Clear(c.Request().Context(), c.Param("id")); err != nil {
		return h.storeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// DeleteConversation removes a conversation.
func (h *Handler) DeleteConversation(c echo.Context) error {
	if err := h.convs.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return h.storeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
