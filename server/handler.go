// Package server exposes the agent engine over HTTP. Engine runs stream to
// clients as server-sent events or over a websocket.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/martinemde/planact/agent"
	"github.com/martinemde/planact/conversation"
	"github.com/martinemde/planact/gateway"
)

// ModelSelector switches the model backend at runtime.
type ModelSelector interface {
	Current() gateway.Selection
	Switch(t gateway.ProviderType, model, apiKey string) (gateway.Selection, error)
	Models(ctx context.Context) ([]gateway.ModelInfo, error)
}

// Handler handles HTTP requests.
type Handler struct {
	engine   *agent.Engine
	convs    *conversation.Manager
	models   ModelSelector
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithModelSelector enables provider and model switching through the
// config endpoints.
func WithModelSelector(s ModelSelector) HandlerOption {
	return func(h *Handler) {
		h.models = s
	}
}

// NewHandler creates a new handler.
func NewHandler(engine *agent.Engine, convs *conversation.Manager, logger *slog.Logger, opts ...HandlerOption) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		engine: engine,
		convs:  convs,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	api := e.Group("/api")

	api.POST("/chat/:id/messages", h.SendMessage)
	api.POST("/chat/:id/approval", h.SendApproval)
	api.GET("/chat/:id/pending", h.GetPending)

	api.GET("/conversations", h.ListConversations)
	api.GET("/conversations/search", h.SearchConversations)
	api.POST("/conversations/import", h.ImportConversation)
	api.GET("/conversations/:id", h.GetConversation)
	api.GET("/conversations/:id/messages", h.GetMessages)
	api.GET("/conversations/:id/export", h.ExportConversation)
	api.POST("/conversations/:id/clear", h.ClearConversation)
	api.DELETE("/conversations/:id", h.DeleteConversation)

	api.GET("/tools", h.ListTools)
	api.GET("/tools/:name", h.GetTool)
	api.GET("/config", h.GetConfig)
	api.PUT("/config", h.UpdateConfig)
	api.GET("/config/models", h.ListModels)

	e.GET("/ws/chat/:id", h.ChatSocket)
	e.GET("/healthz", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status": "healthy",
		"tools":  h.engine.Tools().Count(),
	})
}

func errorJSON(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]string{"error": msg})
}

// storeError maps conversation errors onto HTTP statuses.
func (h *Handler) storeError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, conversation.ErrConversationNotFound):
		return errorJSON(c, http.StatusNotFound, "conversation not found")
	case errors.Is(err, conversation.ErrNoActiveConversation):
		return errorJSON(c, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("conversation store failed", "path", c.Path(), "error", err)
		return errorJSON(c, http.StatusInternalServerError, "internal error")
	}
}

// queryInt reads an optional integer query parameter.
func queryInt(c echo.Context, name string, def int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, name+" must be a non-negative integer")
	}
	return n, nil
}
