// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// RedisConfig provides the Redis connection settings shared by the session
// store and the ingest queue.
type RedisConfig interface {
	GetRedisURL() string
}

// GatewayConfig provides settings for the outbound messaging gateway.
type GatewayConfig interface {
	GetGatewayBaseURL() string
	GetGatewayAPIKey() string
	GetGatewayInstance() string
	GetOwnerPhone() string
}

// WebhookConfig provides settings for the ingress endpoint.
type WebhookConfig interface {
	GetHTTPAddr() string
	GetWebhookAPIKey() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
}

// OrchestratorConfig provides tuning knobs for the session orchestrator.
type OrchestratorConfig interface {
	GetEventLedgerCapacity() int
	GetLeadLedgerCapacity() int
	GetBotSentLedgerCapacity() int
	GetHistoryLimit() int
	GetFallbackMessage() string
	GetAccumulationWindow() time.Duration
}

// HandoffConfig provides settings for the human-takeover detector.
type HandoffConfig interface {
	GetDetectionWindow() time.Duration
	GetAutoReactivate() time.Duration
	GetSignalFile() string
}

// NotifyConfig provides settings for owner alerting.
type NotifyConfig interface {
	GetOwnerPhone() string
	GetAutoReactivate() time.Duration
}

// RetryConfig provides defaults for the retry executor.
type RetryConfig interface {
	GetRetryMaxAttempts() int
	GetRetryBaseDelay() time.Duration
}

// ReplyConfig provides settings for the reply generator.
type ReplyConfig interface {
	GetGeminiAPIKey() string
	GetGeminiModel() string
}

// CRMConfig provides settings for the CRM board adapter.
type CRMConfig interface {
	GetCRMAPIKey() string
	GetCRMBoardID() string
	GetCRMPhoneColumn() string
	GetCRMStatusColumn() string
	IsCRMEnabled() bool
}

// CatalogConfig provides settings for the catalog loader.
type CatalogConfig interface {
	GetCatalogURL() string
	GetCatalogRefreshInterval() time.Duration
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                    string
	HTTPAddr               string
	RedisURL               string
	CORSAllowAll           bool
	CORSOrigins            []string
	WebhookAPIKey          string
	GatewayBaseURL         string
	GatewayAPIKey          string
	GatewayInstance        string
	OwnerPhone             string
	GeminiAPIKey           string
	GeminiModel            string
	CRMAPIKey              string
	CRMBoardID             string
	CRMPhoneColumn         string
	CRMStatusColumn        string
	CatalogURL             string
	CatalogRefreshInterval time.Duration
	EventLedgerCapacity    int
	LeadLedgerCapacity     int
	BotSentLedgerCapacity  int
	HistoryLimit           int
	FallbackMessage        string
	AccumulationWindow     time.Duration
	DetectionWindow        time.Duration
	AutoReactivate         time.Duration
	SignalFile             string
	RetryMaxAttempts       int
	RetryBaseDelay         time.Duration
}

// =============================================================================
// Interface Implementations
// =============================================================================

// RedisConfig implementation
func (c *Config) GetRedisURL() string { return c.RedisURL }

// GatewayConfig implementation
func (c *Config) GetGatewayBaseURL() string  { return c.GatewayBaseURL }
func (c *Config) GetGatewayAPIKey() string   { return c.GatewayAPIKey }
func (c *Config) GetGatewayInstance() string { return c.GatewayInstance }
func (c *Config) GetOwnerPhone() string      { return c.OwnerPhone }

// WebhookConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetWebhookAPIKey() string { return c.WebhookAPIKey }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }

// OrchestratorConfig implementation
func (c *Config) GetEventLedgerCapacity() int          { return c.EventLedgerCapacity }
func (c *Config) GetLeadLedgerCapacity() int           { return c.LeadLedgerCapacity }
func (c *Config) GetBotSentLedgerCapacity() int        { return c.BotSentLedgerCapacity }
func (c *Config) GetHistoryLimit() int                 { return c.HistoryLimit }
func (c *Config) GetFallbackMessage() string           { return c.FallbackMessage }
func (c *Config) GetAccumulationWindow() time.Duration { return c.AccumulationWindow }

// HandoffConfig implementation
func (c *Config) GetDetectionWindow() time.Duration { return c.DetectionWindow }
func (c *Config) GetAutoReactivate() time.Duration  { return c.AutoReactivate }
func (c *Config) GetSignalFile() string             { return c.SignalFile }

// RetryConfig implementation
func (c *Config) GetRetryMaxAttempts() int         { return c.RetryMaxAttempts }
func (c *Config) GetRetryBaseDelay() time.Duration { return c.RetryBaseDelay }

// ReplyConfig implementation
func (c *Config) GetGeminiAPIKey() string { return c.GeminiAPIKey }
func (c *Config) GetGeminiModel() string  { return c.GeminiModel }

// CRMConfig implementation
func (c *Config) GetCRMAPIKey() string       { return c.CRMAPIKey }
func (c *Config) GetCRMBoardID() string      { return c.CRMBoardID }
func (c *Config) GetCRMPhoneColumn() string  { return c.CRMPhoneColumn }
func (c *Config) GetCRMStatusColumn() string { return c.CRMStatusColumn }
func (c *Config) IsCRMEnabled() bool {
	return c.CRMAPIKey != "" && c.CRMBoardID != ""
}

// CatalogConfig implementation
func (c *Config) GetCatalogURL() string { return c.CatalogURL }
func (c *Config) GetCatalogRefreshInterval() time.Duration {
	return c.CatalogRefreshInterval
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", ""))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "true"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	cfg := &Config{
		Env:                    getEnv("APP_ENV", "development"),
		HTTPAddr:               getEnv("HTTP_ADDR", ":8080"),
		RedisURL:               getEnv("REDIS_URL", ""),
		CORSAllowAll:           corsAllowAll,
		CORSOrigins:            corsOrigins,
		WebhookAPIKey:          getEnv("WEBHOOK_API_KEY", ""),
		GatewayBaseURL:         strings.TrimRight(getEnv("GATEWAY_BASE_URL", ""), "/"),
		GatewayAPIKey:          getEnv("GATEWAY_API_KEY", ""),
		GatewayInstance:        getEnv("GATEWAY_INSTANCE", ""),
		OwnerPhone:             getEnv("OWNER_PHONE", ""),
		GeminiAPIKey:           getEnv("GEMINI_API_KEY", ""),
		GeminiModel:            getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		CRMAPIKey:              getEnv("CRM_API_KEY", ""),
		CRMBoardID:             getEnv("CRM_BOARD_ID", ""),
		CRMPhoneColumn:         getEnv("CRM_PHONE_COLUMN", "telefono"),
		CRMStatusColumn:        getEnv("CRM_STATUS_COLUMN", "estado"),
		CatalogURL:             getEnv("CATALOG_URL", ""),
		CatalogRefreshInterval: mustDuration(getEnv("CATALOG_REFRESH_INTERVAL", "15m")),
		EventLedgerCapacity:    mustInt(getEnv("EVENT_LEDGER_CAPACITY", "4000")),
		LeadLedgerCapacity:     mustInt(getEnv("LEAD_LEDGER_CAPACITY", "8000")),
		BotSentLedgerCapacity:  mustInt(getEnv("BOT_SENT_LEDGER_CAPACITY", "2000")),
		HistoryLimit:           mustInt(getEnv("HISTORY_LIMIT", "40")),
		FallbackMessage:        getEnv("FALLBACK_MESSAGE", "Dame un momento, en seguida te respondo."),
		AccumulationWindow:     mustDuration(getEnv("MESSAGE_ACCUMULATION_WINDOW", "4s")),
		DetectionWindow:        mustDuration(getEnv("HUMAN_DETECTION_WINDOW", "3s")),
		AutoReactivate:         mustDuration(getEnv("AUTO_REACTIVATE_AFTER", "60m")),
		SignalFile:             getEnv("HANDOFF_SIGNAL_FILE", "configs/handoff.yaml"),
		RetryMaxAttempts:       mustInt(getEnv("RETRY_MAX_ATTEMPTS", "3")),
		RetryBaseDelay:         mustDuration(getEnv("RETRY_BASE_DELAY", "4s")),
	}

	if cfg.GatewayBaseURL == "" {
		return nil, fmt.Errorf("GATEWAY_BASE_URL is required")
	}
	if cfg.GatewayAPIKey == "" || cfg.GatewayInstance == "" {
		return nil, fmt.Errorf("GATEWAY_API_KEY and GATEWAY_INSTANCE are required")
	}
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	if cfg.EventLedgerCapacity <= 0 || cfg.LeadLedgerCapacity <= 0 || cfg.BotSentLedgerCapacity <= 0 {
		return nil, fmt.Errorf("ledger capacities must be positive")
	}
	if cfg.RetryMaxAttempts < 1 {
		return nil, fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1")
	}
	if cfg.HistoryLimit < 2 {
		return nil, fmt.Errorf("HISTORY_LIMIT must be at least 2")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
