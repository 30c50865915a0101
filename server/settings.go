package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/martinemde/planact/agent"
	"github.com/martinemde/planact/gateway"
)

// ConfigUpdate is the body of PUT /api/config. Omitted fields keep their
// current values. Provider, Model and APIKey switch the model backend.
type ConfigUpdate struct {
	AutonomyLevel         *string   `json:"autonomy_level"`
	MaxIterations         *int      `json:"max_iterations"`
	ApprovalRequiredNames *[]string `json:"approval_required_names"`
	Provider              *string   `json:"provider"`
	Model                 *string   `json:"model"`
	APIKey                *string   `json:"api_key"`
}

// configView is the engine configuration plus the active backend.
type configView struct {
	agent.Config
	Provider gateway.ProviderType `json:"provider,omitempty"`
}

// ListTools returns the definitions of all registered tools.
func (h *Handler) ListTools(c echo.Context) error {
	defs := h.engine.Tools().Definitions()
	return c.JSON(http.StatusOK, map[string]any{"tools": defs, "count": len(defs)})
}

// GetTool returns the definition of one tool.
func (h *Handler) GetTool(c echo.Context) error {
	name := c.Param("name")
	tool, ok := h.engine.Tools().Get(name)
	if !ok {
		return errorJSON(c, http.StatusNotFound, "tool not found: "+name)
	}
	return c.JSON(http.StatusOK, tool.Definition())
}

// GetConfig returns the engine configuration.
func (h *Handler) GetConfig(c echo.Context) error {
	return c.JSON(http.StatusOK, h.configView())
}

func (h *Handler) configView() configView {
	view := configView{Config: h.engine.Config()}
	if h.models != nil {
		sel := h.models.Current()
		view.Provider = sel.Provider
		view.Model = sel.Model
	}
	return view
}

// UpdateConfig changes the engine configuration for subsequent runs. Every
// field is validated before anything is applied.
func (h *Handler) UpdateConfig(c echo.Context) error {
	var req ConfigUpdate
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}

	cfg := h.engine.Config()
	if req.AutonomyLevel != nil {
		level, err := agent.ParseAutonomyLevel(*req.AutonomyLevel)
		if err != nil {
			return errorJSON(c, http.StatusBadRequest, err.Error())
		}
		cfg.AutonomyLevel = level
	}
	if req.MaxIterations != nil {
		if *req.MaxIterations < 1 {
			return errorJSON(c, http.StatusBadRequest, "max_iterations must be at least 1")
		}
		cfg.MaxIterations = *req.MaxIterations
	}
	if req.ApprovalRequiredNames != nil {
		cfg.ApprovalRequiredNames = *req.ApprovalRequiredNames
	}

	if req.Provider != nil || req.Model != nil || req.APIKey != nil {
		if h.models == nil {
			return errorJSON(c, http.StatusBadRequest, "model switching is not available")
		}
		t := h.models.Current().Provider
		if req.Provider != nil {
			pt, err := gateway.ParseProviderType(*req.Provider)
			if err != nil {
				return errorJSON(c, http.StatusBadRequest, err.Error())
			}
			t = pt
		}
		sel, err := h.models.Switch(t, deref(req.Model), deref(req.APIKey))
		if err != nil {
			return errorJSON(c, http.StatusBadRequest, err.Error())
		}
		cfg.Model = sel.Model
		h.logger.Info("model backend switched", "provider", sel.Provider, "model", sel.Model)
	}

	h.engine.SetConfig(cfg)
	h.logger.Info("engine configuration updated",
		"autonomy_level", cfg.AutonomyLevel,
		"max_iterations", cfg.MaxIterations)
	return c.JSON(http.StatusOK, h.configView())
}

// ListModels returns the models of the active provider, or the whole
// catalog when the backend cannot be switched.
func (h *Handler) ListModels(c echo.Context) error {
	if h.models == nil {
		models := gateway.ListModels("")
		return c.JSON(http.StatusOK, map[string]any{"models": models, "count": len(models)})
	}
	models, err := h.models.Models(c.Request().Context())
	if err != nil {
		h.logger.Warn("listing models failed", "error", err)
		return errorJSON(c, http.StatusBadGateway, "failed to list models: "+err.Error())
	}
	sel := h.models.Current()
	return c.JSON(http.StatusOK, map[string]any{
		"provider": sel.Provider,
		"current":  sel.Model,
		"models":   models,
		"count":    len(models),
	})
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
