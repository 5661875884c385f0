package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"fleetsync/internal/service"
)

type TaskHandler struct {
	Service *service.TaskStatusService
}

func (h *TaskHandler) Register(r *gin.Engine) {
	g := r.Group("/api/tasks")
	g.PUT("/:id/status", h.updateStatus)
	g.POST("/:id/finalize", h.finalize)
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

// @Summary Change a task status upstream and in the stored row
// @Tags tasks
// @Param id path string true "task id"
// @Param body body updateStatusRequest true "new status"
// @Success 200 {object} apiResponse
// @Failure 400 {object} apiResponse
// @Router /api/tasks/{id}/status [put]
func (h *TaskHandler) updateStatus(c *gin.Context) {
	if h.Service == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	res, err := h.Service.UpdateStatus(c.Request.Context(), c.Param("id"), strings.TrimSpace(req.Status))
	if err != nil {
		Error(c, statusFor(err), err.Error(), nil)
		return
	}
	Ok(c, res, nil)
}

// @Summary Mark a task as finalized
// @Tags tasks
// @Param id path string true "task id"
// @Success 200 {object} apiResponse
// @Router /api/tasks/{id}/finalize [post]
func (h *TaskHandler) finalize(c *gin.Context) {
	if h.Service == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	res, err := h.Service.Finalize(c.Request.Context(), c.Param("id"))
	if err != nil {
		Error(c, statusFor(err), err.Error(), nil)
		return
	}
	Ok(c, res, nil)
}
