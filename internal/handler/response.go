package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"fleetsync/internal/safety"
	"fleetsync/internal/service"
)

type apiResponse struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    any            `json:"data,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

func Ok(c *gin.Context, data any, meta map[string]any) {
	c.JSON(http.StatusOK, apiResponse{
		Code:    0,
		Message: "ok",
		Data:    data,
		Meta:    meta,
	})
}

func Error(c *gin.Context, status int, message string, meta map[string]any) {
	c.JSON(status, apiResponse{
		Code:    status,
		Message: message,
		Meta:    meta,
	})
}

// statusFor maps service errors to HTTP statuses. Refused writes are
// conflicts with the stored data, not server faults.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, service.ErrUnknownCollection):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidOccurrence), errors.Is(err, service.ErrInvalidStatusUpdate):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrCycleInProgress),
		errors.Is(err, service.ErrInconsistentRead),
		errors.Is(err, safety.ErrUnsafeShrink),
		errors.Is(err, safety.ErrEmptyOverwrite):
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}
