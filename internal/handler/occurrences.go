package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"fleetsync/internal/models"
	"fleetsync/internal/repository"
	"fleetsync/internal/service"
)

type OccurrenceHandler struct {
	Service *service.OccurrenceService
}

func (h *OccurrenceHandler) Register(r *gin.Engine) {
	g := r.Group("/api/occurrences")
	g.POST("", h.create)
	g.GET("", h.list)
}

type createOccurrenceRequest struct {
	OccurredAt  *time.Time       `json:"occurred_at"`
	Driver      string           `json:"driver"`
	Route       string           `json:"route"`
	Customer    string           `json:"customer"`
	DepartureAt *time.Time       `json:"departure_at"`
	Invoice     string           `json:"invoice"`
	Reason      string           `json:"reason"`
	Cause       string           `json:"cause"`
	Amount      *decimal.Decimal `json:"amount"`
	Description string           `json:"description"`
}

// @Summary Log a delivery occurrence
// @Tags occurrences
// @Param body body createOccurrenceRequest true "occurrence"
// @Success 201 {object} apiResponse
// @Failure 400 {object} apiResponse
// @Router /api/occurrences [post]
func (h *OccurrenceHandler) create(c *gin.Context) {
	if h.Service == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	var req createOccurrenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	item := models.Occurrence{
		Driver:      req.Driver,
		Route:       req.Route,
		Customer:    req.Customer,
		DepartureAt: req.DepartureAt,
		Invoice:     req.Invoice,
		Reason:      req.Reason,
		Cause:       req.Cause,
		Amount:      req.Amount,
		Description: req.Description,
	}
	if req.OccurredAt != nil {
		item.OccurredAt = req.OccurredAt.UTC()
	}
	saved, err := h.Service.Record(c.Request.Context(), item)
	if err != nil {
		Error(c, statusFor(err), err.Error(), nil)
		return
	}
	c.JSON(http.StatusCreated, apiResponse{Code: 0, Message: "ok", Data: saved})
}

// @Summary List occurrences, newest first
// @Tags occurrences
// @Param limit query int false "page size"
// @Param offset query int false "offset"
// @Param route query string false "route key"
// @Param driver query string false "driver name (partial match)"
// @Success 200 {object} apiResponse
// @Router /api/occurrences [get]
func (h *OccurrenceHandler) list(c *gin.Context) {
	if h.Service == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	params := repository.ListOccurrencesParams{
		Limit:  intQuery(c, "limit", 50),
		Offset: intQuery(c, "offset", 0),
		Route:  strQueryPtr(c, "route"),
		Driver: strQueryPtr(c, "driver"),
	}
	items, total, err := h.Service.List(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(params.Limit, params.Offset, total))
}
