package webhook

import (
	"salesbot_backend/internal/conversation"
	apphttp "salesbot_backend/internal/http"
	"salesbot_backend/internal/ingest"
	"salesbot_backend/platform/logger"
	"salesbot_backend/platform/validator"
)

// Module is the webhook ingress module implementing http.Module.
type Module struct {
	handler *Handler
	health  *HealthHandler
}

// NewModule creates and initializes the webhook module.
func NewModule(enqueuer ingest.Enqueuer, orchestrator *conversation.Orchestrator, val *validator.Validator, log *logger.Logger) *Module {
	return &Module{
		handler: NewHandler(enqueuer, val, log),
		health:  NewHealthHandler(orchestrator),
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "webhook"
}

// RegisterRoutes mounts webhook routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	// Gateway deliveries (API key auth via the shared webhook group).
	ctx.Webhook.POST("/messages", m.handler.HandleMessage)

	// Liveness, outside the API key guard so probes stay simple.
	ctx.Engine.GET("/api/health", m.health.HandleHealth)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
