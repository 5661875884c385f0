package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"fleetsync/internal/service"
)

type SettingsHandler struct {
	Settings *service.SystemSettingsService
}

func (h *SettingsHandler) Register(r *gin.Engine) {
	g := r.Group("/api/settings")
	g.GET("/switches", h.listSwitches)
	g.PUT("/switches/:key", h.putSwitch)
}

// @Summary List feature switches
// @Tags settings
// @Success 200 {object} apiResponse
// @Router /api/settings/switches [get]
func (h *SettingsHandler) listSwitches(c *gin.Context) {
	if h.Settings == nil {
		Error(c, http.StatusInternalServerError, "settings service unavailable", nil)
		return
	}
	switches, err := h.Settings.Switches(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, switches, map[string]any{"total": len(switches)})
}

type putSwitchRequest struct {
	Enabled bool `json:"enabled"`
}

// @Summary Turn a feature switch on or off
// @Tags settings
// @Param key path string true "switch name, with or without the feature. prefix"
// @Param body body putSwitchRequest true "state"
// @Success 200 {object} apiResponse
// @Router /api/settings/switches/{key} [put]
func (h *SettingsHandler) putSwitch(c *gin.Context) {
	if h.Settings == nil {
		Error(c, http.StatusInternalServerError, "settings service unavailable", nil)
		return
	}
	key := service.SwitchKey(c.Param("key"))
	if strings.TrimPrefix(key, "feature.") == "" {
		Error(c, http.StatusBadRequest, "invalid switch name", nil)
		return
	}
	var req putSwitchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	sw, err := h.Settings.SetEnabled(c.Request.Context(), key, req.Enabled, "api:"+c.ClientIP())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, sw, nil)
}
