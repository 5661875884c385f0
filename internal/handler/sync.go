package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"fleetsync/internal/opslog"
	"fleetsync/internal/repository"
	"fleetsync/internal/service"
)

type SyncHandler struct {
	Collections *service.CollectionSyncService
	// Routes is nil when GreenMile is not configured.
	Routes *service.RouteSyncService
	States repository.SyncStateStore
	Logger *zap.Logger
}

func (h *SyncHandler) Register(r *gin.Engine) {
	g := r.Group("/api/sync")
	g.POST("/run", h.runAll)
	g.POST("/collections/:name", h.syncCollection)
	g.POST("/collections/:name/reset-watermark", h.resetWatermark)
	g.GET("/collections/:name/count", h.countTasks)
	g.POST("/routes", h.syncRoutes)
	g.GET("/state", h.listState)
}

// @Summary Sync every configured collection
// @Tags sync
// @Success 200 {object} apiResponse
// @Router /api/sync/run [post]
func (h *SyncHandler) runAll(c *gin.Context) {
	if h.Collections == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	reports := h.Collections.RunAll(c.Request.Context())
	failed := 0
	for _, r := range reports {
		if r.Error != "" {
			failed++
		}
	}
	Ok(c, reports, map[string]any{"collections": len(reports), "failed": failed})
}

// @Summary Sync one collection
// @Tags sync
// @Param name path string true "collection name"
// @Success 200 {object} apiResponse
// @Failure 404 {object} apiResponse
// @Failure 409 {object} apiResponse
// @Router /api/sync/collections/{name} [post]
func (h *SyncHandler) syncCollection(c *gin.Context) {
	if h.Collections == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	name := strings.TrimSpace(c.Param("name"))
	report, err := h.Collections.SyncCollection(c.Request.Context(), name)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warn("manual collection sync failed", zap.String("collection", name), zap.Error(err))
		}
		Error(c, statusFor(err), err.Error(), map[string]any{"report": report})
		return
	}
	Ok(c, report, nil)
}

// @Summary Rewind a collection watermark to its minimum date
// @Tags sync
// @Param name path string true "collection name, or all"
// @Success 200 {object} apiResponse
// @Router /api/sync/collections/{name}/reset-watermark [post]
func (h *SyncHandler) resetWatermark(c *gin.Context) {
	if h.Collections == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	name := strings.TrimSpace(c.Param("name"))
	reset, err := h.Collections.ResetWatermark(c.Request.Context(), name)
	if err != nil {
		Error(c, statusFor(err), err.Error(), map[string]any{"reset": reset})
		return
	}
	opslog.FromGin(c, "watermark_reset", "warn", map[string]any{"collections": reset})
	Ok(c, map[string]any{"reset": reset}, nil)
}

// @Summary Count upstream tasks of a collection without writing
// @Tags sync
// @Param name path string true "collection name"
// @Success 200 {object} apiResponse
// @Router /api/sync/collections/{name}/count [get]
func (h *SyncHandler) countTasks(c *gin.Context) {
	if h.Collections == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	report, err := h.Collections.CountTasks(c.Request.Context(), strings.TrimSpace(c.Param("name")))
	if err != nil {
		Error(c, statusFor(err), err.Error(), nil)
		return
	}
	Ok(c, report, nil)
}

// @Summary Download GreenMile stops for new and pending routes
// @Tags sync
// @Param route query []string false "route keys to download regardless of state"
// @Success 200 {object} apiResponse
// @Failure 503 {object} apiResponse
// @Router /api/sync/routes [post]
func (h *SyncHandler) syncRoutes(c *gin.Context) {
	if h.Routes == nil {
		Error(c, http.StatusServiceUnavailable, "route sync not configured", nil)
		return
	}
	report, err := h.Routes.Sync(c.Request.Context(), cleanStrings(c.QueryArray("route"))...)
	if err != nil {
		Error(c, statusFor(err), err.Error(), map[string]any{"report": report})
		return
	}
	Ok(c, report, nil)
}

// @Summary List sync state per collection
// @Tags sync
// @Success 200 {object} apiResponse
// @Router /api/sync/state [get]
func (h *SyncHandler) listState(c *gin.Context) {
	if h.States == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	items, err := h.States.ListSyncStates(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, map[string]any{"total": len(items)})
}
