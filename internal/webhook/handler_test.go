package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"salesbot_backend/internal/conversation"
	apphttp "salesbot_backend/internal/http"
	"salesbot_backend/internal/http/router"
	"salesbot_backend/platform/logger"
	"salesbot_backend/platform/validator"

	"github.com/gin-gonic/gin"
)

type stubWebhookConfig struct {
	apiKey string
}

func (c stubWebhookConfig) GetHTTPAddr() string      { return ":8080" }
func (c stubWebhookConfig) GetWebhookAPIKey() string { return c.apiKey }
func (c stubWebhookConfig) GetCORSAllowAll() bool    { return true }
func (c stubWebhookConfig) GetCORSOrigins() []string { return nil }

type recordingEnqueuer struct {
	mu     sync.Mutex
	events []conversation.InboundEvent
	err    error
}

func (e *recordingEnqueuer) Enqueue(_ context.Context, event conversation.InboundEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.events = append(e.events, event)
	return nil
}

func newTestEngine(t *testing.T, enq *recordingEnqueuer, apiKey string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logger.New("development")
	module := NewModule(enq, nil, validator.New(), log)
	return router.New(&apphttp.App{
		Config:  stubWebhookConfig{apiKey: apiKey},
		Logger:  log,
		Modules: []apphttp.Module{module},
	})
}

const samplePayload = `{
  "event": "messages.upsert",
  "instance": "main",
  "data": {
    "key": {"remoteJid": "5215512345678@s.whatsapp.net", "fromMe": false, "id": "3EB0C431"},
    "pushName": "Ana",
    "message": {"conversation": "hola, tienen la 250z?"},
    "messageTimestamp": 1756380600
  }
}`

func TestHandleMessageAcceptsAndEnqueues(t *testing.T) {
	enq := &recordingEnqueuer{}
	engine := newTestEngine(t, enq, "")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhook/messages", strings.NewReader(samplePayload))
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}
	if len(enq.events) != 1 {
		t.Fatalf("enqueued = %d, want 1", len(enq.events))
	}
	if enq.events[0].ConversationID != "+5215512345678" {
		t.Errorf("conversation = %q", enq.events[0].ConversationID)
	}
}

func TestHandleMessageRequiresAPIKey(t *testing.T) {
	enq := &recordingEnqueuer{}
	engine := newTestEngine(t, enq, "hook-secret")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhook/messages", strings.NewReader(samplePayload))
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("without key: status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/webhook/messages", strings.NewReader(samplePayload))
	req.Header.Set("apikey", "hook-secret")
	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("with key: status = %d, want 202", rec.Code)
	}
}

func TestHandleMessageIgnoredDeliveryStillAccepted(t *testing.T) {
	enq := &recordingEnqueuer{}
	engine := newTestEngine(t, enq, "")

	group := `{"event":"messages.upsert","data":{"key":{"remoteJid":"1203630@g.us","id":"g1"},"message":{"conversation":"hola grupo"}}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhook/messages", strings.NewReader(group))
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 so the gateway stops re-sending", rec.Code)
	}
	if len(enq.events) != 0 {
		t.Errorf("ignored delivery was enqueued: %+v", enq.events)
	}
}

func TestHandleMessageMalformedBody(t *testing.T) {
	engine := newTestEngine(t, &recordingEnqueuer{}, "")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhook/messages", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleMessageQueueFailure(t *testing.T) {
	enq := &recordingEnqueuer{err: context.DeadlineExceeded}
	engine := newTestEngine(t, enq, "")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhook/messages", strings.NewReader(samplePayload))
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestHealthEndpointOpen(t *testing.T) {
	engine := newTestEngine(t, &recordingEnqueuer{}, "hook-secret")

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}
