package opslog

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func RegisterDocs(r *gin.Engine) {
	r.GET("/docs", func(c *gin.Context) {
		c.Header("Content-Type", "text/markdown; charset=utf-8")
		c.String(http.StatusOK, `# fleetsync

Keeps the delivery, driver and occurrence collections in sync with ClickUp and
the route stops in sync with GreenMile.

## Auth

All /api/* routes require a Bearer token. Health endpoints are public.

## Routes

- GET /healthz
- GET /readyz
- GET /swagger/index.html
- POST /api/sync/run
- POST /api/sync/collections/:name
- POST /api/sync/collections/:name/reset-watermark
- GET /api/sync/collections/:name/count
- POST /api/sync/routes
- GET /api/sync/state
- PUT /api/tasks/:id/status
- POST /api/tasks/:id/finalize
- POST /api/occurrences
- GET /api/occurrences
- GET /api/settings/switches
- PUT /api/settings/switches/:key

## Safety

A cycle never writes a collection that would shrink by more than the
configured ratio unless a full upstream listing confirmed the deletions.
Aborted cycles are reported in sync_state.last_error and alerted.
`)
	})
}
