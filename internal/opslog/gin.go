package opslog

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"fleetsync/internal/config"
)

func InjectClientMiddleware(p *Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		if p != nil && c.Request != nil {
			c.Request = c.Request.WithContext(WithClient(c.Request.Context(), p))
		}
		c.Next()
	}
}

func FromGin(c *gin.Context, action, level string, details map[string]any) {
	if c == nil || c.Request == nil {
		return
	}
	BestEffortCtx(c.Request.Context(), action, level, details)
}

// RequireBearerMiddleware guards /api, /swagger and /docs. With an API token
// configured the bearer must match it; without one any bearer is accepted
// (a gateway in front is expected to validate it).
func RequireBearerMiddleware(cfg config.ServerConfig) gin.HandlerFunc {
	want := strings.TrimSpace(cfg.APIToken)
	return func(c *gin.Context) {
		if cfg.AuthDisabled {
			c.Next()
			return
		}
		p := c.Request.URL.Path
		if p == "/healthz" || p == "/readyz" {
			c.Next()
			return
		}
		if strings.HasPrefix(p, "/api/") || strings.HasPrefix(p, "/swagger") || p == "/docs" {
			auth := strings.TrimSpace(c.GetHeader("Authorization"))
			if !strings.HasPrefix(auth, "Bearer ") {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
				return
			}
			got := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
			if want != "" && subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid bearer token"})
				return
			}
		}
		c.Next()
	}
}

// WriteAuditMiddleware records every non-GET /api call in the ops log.
func WriteAuditMiddleware(p *Client, logger *zap.Logger) gin.HandlerFunc {
	if p == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.Request.URL.Path
		method := strings.ToUpper(c.Request.Method)
		if !strings.HasPrefix(path, "/api/") {
			return
		}
		if method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions {
			return
		}

		status := c.Writer.Status()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		err := p.Write(ctx, Entry{
			Action: "fleetsync_http_write",
			Level:  LevelFromStatus(status),
			Details: map[string]any{
				"method":   method,
				"path":     path,
				"route":    c.FullPath(),
				"status":   status,
				"duration": time.Since(start).String(),
			},
		})
		if err != nil && logger != nil {
			logger.Debug("ops log audit failed", zap.Error(err))
		}
	}
}

func LevelFromStatus(status int) string {
	if status >= 500 {
		return "error"
	}
	if status >= 400 {
		return "warn"
	}
	return "info"
}
