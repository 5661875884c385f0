package app

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"fleetsync/internal/handler"
	"fleetsync/internal/opslog"
)

// Router builds the HTTP engine with every handler registered.
func (a *App) Router() *gin.Engine {
	if strings.EqualFold(a.Config.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())
	engine.Use(opslog.RequireBearerMiddleware(a.Config.Server))
	engine.Use(opslog.InjectClientMiddleware(a.Ops))
	engine.Use(opslog.WriteAuditMiddleware(a.Ops, a.Logger))

	health := &handler.HealthHandler{Redis: a.Redis}
	if a.DB != nil {
		health.DB = a.DB.Gorm
	}
	health.Register(engine)
	opslog.RegisterDocs(engine)

	(&handler.SyncHandler{
		Collections: a.Collections,
		Routes:      a.Routes,
		States:      a.Store,
		Logger:      a.Logger,
	}).Register(engine)
	(&handler.TaskHandler{Service: a.Tasks}).Register(engine)
	(&handler.OccurrenceHandler{Service: a.Occurrences}).Register(engine)
	(&handler.SettingsHandler{Settings: a.Settings}).Register(engine)

	engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	return engine
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
