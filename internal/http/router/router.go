package router

import (
	apphttp "salesbot_backend/internal/http"
	"salesbot_backend/platform/httpkit"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// New builds the Gin engine: shared middleware, the versioned API group,
// the API-key-guarded webhook group, and every module's routes.
func New(app *apphttp.App) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(httpkit.RequestID())
	engine.Use(httpkit.RequestLogger(app.Logger))
	engine.Use(httpkit.SecurityHeaders())
	engine.Use(corsMiddleware(app))

	// Webhook bursts arrive in clusters when the gateway flushes a backlog;
	// the burst size absorbs that without letting a runaway client flood us.
	limiter := httpkit.NewIPRateLimiter(20, 60, app.Logger)
	engine.Use(limiter.RateLimit())

	v1 := engine.Group("/api/v1")

	webhook := v1.Group("/webhook")
	webhook.Use(httpkit.APIKeyRequired(app.Config.GetWebhookAPIKey()))

	ctx := &apphttp.RouterContext{
		Engine:  engine,
		V1:      v1,
		Webhook: webhook,
	}

	for _, module := range app.Modules {
		module.RegisterRoutes(ctx)
		app.Logger.Info("module routes registered", "module", module.Name())
	}

	return engine
}

func corsMiddleware(app *apphttp.App) gin.HandlerFunc {
	cfg := cors.DefaultConfig()
	cfg.AllowHeaders = append(cfg.AllowHeaders, "Authorization", "apikey", "X-API-Key")

	if app.Config.GetCORSAllowAll() {
		cfg.AllowAllOrigins = true
	} else if origins := app.Config.GetCORSOrigins(); len(origins) > 0 {
		cfg.AllowOrigins = origins
	} else {
		cfg.AllowAllOrigins = true
	}

	return cors.New(cfg)
}
