// Package gateway talks to the Evolution-style WhatsApp bridge: outbound
// text/media/document sends and inbound media downloads.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"salesbot_backend/platform/config"
	"salesbot_backend/platform/logger"
	"salesbot_backend/platform/phone"
	"salesbot_backend/platform/retry"

	"golang.org/x/time/rate"
)

// Client is the outbound gateway adapter. A nil client drops sends
// silently, which keeps local development without a bridge workable.
type Client struct {
	baseURL  string
	apiKey   string
	instance string
	http     *http.Client
	limiter  *rate.Limiter
	tracker  *Tracker
	log      *logger.Logger
}

type sendTextRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
	Delay  int    `json:"delay,omitempty"`
}

type sendMediaRequest struct {
	Number    string `json:"number"`
	MediaType string `json:"mediatype"`
	Media     string `json:"media"`
	Caption   string `json:"caption,omitempty"`
	FileName  string `json:"fileName,omitempty"`
}

type sendResponse struct {
	Key struct {
		ID string `json:"id"`
	} `json:"key"`
}

type mediaDownloadRequest struct {
	Message struct {
		Key struct {
			ID string `json:"id"`
		} `json:"key"`
	} `json:"message"`
	ConvertToMp4 bool `json:"convertToMp4"`
}

type mediaDownloadResponse struct {
	Base64   string `json:"base64"`
	MimeType string `json:"mimetype"`
}

// NewClient creates a gateway client. Returns nil when no base URL is
// configured.
func NewClient(cfg config.GatewayConfig, tracker *Tracker, log *logger.Logger) *Client {
	if cfg.GetGatewayBaseURL() == "" {
		return nil
	}

	return &Client{
		baseURL:  strings.TrimRight(cfg.GetGatewayBaseURL(), "/"),
		apiKey:   cfg.GetGatewayAPIKey(),
		instance: cfg.GetGatewayInstance(),
		http:     &http.Client{Timeout: 30 * time.Second},
		limiter:  rate.NewLimiter(rate.Limit(1), 3),
		tracker:  tracker,
		log:      log,
	}
}

// Tracker exposes the bot-activity tracker for the handoff detector.
func (c *Client) Tracker() *Tracker {
	if c == nil {
		return nil
	}
	return c.tracker
}

// SendText delivers a text reply with a humanized typing delay.
func (c *Client) SendText(ctx context.Context, to, text string) error {
	return c.sendText(ctx, to, text, typingDelayMs())
}

// SendAlert delivers an operational notification without a typing delay.
func (c *Client) SendAlert(ctx context.Context, to, text string) error {
	return c.sendText(ctx, to, text, 0)
}

func (c *Client) sendText(ctx context.Context, to, text string, delayMs int) error {
	if c == nil {
		return nil
	}

	payload := sendTextRequest{
		Number: strings.TrimPrefix(phone.NormalizeE164(to), "+"),
		Text:   text,
		Delay:  delayMs,
	}

	var resp sendResponse
	if err := c.post(ctx, "/message/sendText/"+c.instance, payload, &resp); err != nil {
		return err
	}

	if c.tracker != nil {
		c.tracker.Record(phone.NormalizeE164(to), resp.Key.ID, text, time.Now())
	}
	c.log.Info("gateway text sent", "to", payload.Number)
	return nil
}

// SendImage delivers an image by URL with an optional caption.
func (c *Client) SendImage(ctx context.Context, to, mediaURL, caption string) error {
	return c.sendMedia(ctx, to, "image", mediaURL, caption, "")
}

// SendDocument delivers a document by URL under the given file name.
func (c *Client) SendDocument(ctx context.Context, to, mediaURL, fileName, caption string) error {
	return c.sendMedia(ctx, to, "document", mediaURL, caption, fileName)
}

func (c *Client) sendMedia(ctx context.Context, to, mediaType, mediaURL, caption, fileName string) error {
	if c == nil {
		return nil
	}

	payload := sendMediaRequest{
		Number:    strings.TrimPrefix(phone.NormalizeE164(to), "+"),
		MediaType: mediaType,
		Media:     mediaURL,
		Caption:   caption,
		FileName:  fileName,
	}

	var resp sendResponse
	if err := c.post(ctx, "/message/sendMedia/"+c.instance, payload, &resp); err != nil {
		return err
	}

	if c.tracker != nil {
		c.tracker.Record(phone.NormalizeE164(to), resp.Key.ID, caption, time.Now())
	}
	c.log.Info("gateway media sent", "to", payload.Number, "type", mediaType)
	return nil
}

// DownloadMedia fetches the base64 payload of an inbound media message.
func (c *Client) DownloadMedia(ctx context.Context, messageID string) (data string, mimeType string, err error) {
	if c == nil {
		return "", "", fmt.Errorf("gateway not configured")
	}

	var payload mediaDownloadRequest
	payload.Message.Key.ID = messageID
	payload.ConvertToMp4 = false

	var resp mediaDownloadResponse
	if err := c.post(ctx, "/chat/getBase64FromMediaMessage/"+c.instance, payload, &resp); err != nil {
		return "", "", err
	}
	if resp.Base64 == "" {
		return "", "", retry.Permanent(fmt.Errorf("media %s has no payload", messageID))
	}
	return resp.Base64, resp.MimeType, nil
}

// post sends a JSON request and decodes the response. Failures come back
// classified for the retry executor.
func (c *Client) post(ctx context.Context, path string, payload, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return retry.Permanent(fmt.Errorf("marshal gateway payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return retry.Transient(fmt.Errorf("gateway request failed: %w", err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(resp.Body)
		return retry.ClassifyHTTP(resp.StatusCode, resp.Header.Get("Retry-After"),
			fmt.Errorf("gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data))))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return retry.Permanent(fmt.Errorf("decode gateway response: %w", err))
		}
	}
	return nil
}

// typingDelayMs spreads replies across 5-8 seconds so they read as typed
// by a person.
func typingDelayMs() int {
	return 5000 + rand.IntN(3000)
}
