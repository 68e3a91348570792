package webhook

import (
	"encoding/json"
	"io"
	"net/http"

	"salesbot_backend/internal/conversation"
	"salesbot_backend/internal/ingest"
	"salesbot_backend/platform/httpkit"
	"salesbot_backend/platform/logger"
	"salesbot_backend/platform/sanitize"
	"salesbot_backend/platform/validator"

	"github.com/gin-gonic/gin"
)

const maxBodyBytes = 1 << 20 // 1 MiB, gateway payloads are small

// Handler handles gateway webhook HTTP requests.
type Handler struct {
	enqueuer ingest.Enqueuer
	val      *validator.Validator
	log      *logger.Logger
}

// NewHandler creates a new webhook handler.
func NewHandler(enqueuer ingest.Enqueuer, val *validator.Validator, log *logger.Logger) *Handler {
	return &Handler{enqueuer: enqueuer, val: val, log: log}
}

// HandleMessage accepts one gateway delivery.
// POST /api/v1/webhook/messages
//
// The gateway treats any non-2xx as a delivery failure and re-sends, so
// the handler acknowledges with 202 as soon as the event is queued and
// never blocks on processing.
func (h *Handler) HandleMessage(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "unreadable body", nil)
		return
	}

	var delivery Delivery
	if err := json.Unmarshal(body, &delivery); err != nil {
		h.log.Warn("malformed webhook payload", "error", err, "body", sanitize.Payload(string(body), 512))
		httpkit.Error(c, http.StatusBadRequest, "malformed payload", nil)
		return
	}

	event, ok := ExtractEvent(delivery)
	if !ok {
		// Ignored deliveries (groups, status updates, reactions) still get
		// a 202 so the gateway stops re-sending them.
		httpkit.Accepted(c)
		return
	}

	if err := h.val.Struct(event); err != nil {
		h.log.Warn("webhook event failed validation", "event_id", event.EventID, "error", err)
		httpkit.Accepted(c)
		return
	}

	h.log.WebhookEvent(event.EventID, event.ConversationID, event.FromMe, string(event.Kind))

	if err := h.enqueuer.Enqueue(c.Request.Context(), event); err != nil {
		h.log.Error("failed to enqueue webhook event", "event_id", event.EventID, "error", err)
		httpkit.Error(c, http.StatusServiceUnavailable, "queue unavailable", nil)
		return
	}

	httpkit.Accepted(c)
}

// HealthHandler serves the liveness endpoint with pipeline counters.
type HealthHandler struct {
	orchestrator *conversation.Orchestrator
}

// NewHealthHandler creates the health handler.
func NewHealthHandler(orchestrator *conversation.Orchestrator) *HealthHandler {
	return &HealthHandler{orchestrator: orchestrator}
}

// HandleHealth reports service status and counters.
// GET /api/health
func (h *HealthHandler) HandleHealth(c *gin.Context) {
	payload := gin.H{"status": "ok"}
	if h.orchestrator != nil {
		payload["stats"] = h.orchestrator.Stats(c.Request.Context())
	}
	httpkit.OK(c, payload)
}
