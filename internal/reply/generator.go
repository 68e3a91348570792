// Package reply produces the bot's answer for an inbound turn. The
// generator is opaque to the orchestrator: text in, structured reply out.
package reply

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// HistoryTurn is one prior utterance passed as context.
type HistoryTurn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Request carries everything the generator may use for one turn.
type Request struct {
	ConversationID string
	ContactName    string
	Message        string
	History        []HistoryTurn
	CatalogSummary string
	Stage          string
}

// Reply is the structured generator output. Text is what the contact
// receives; the remaining fields are extracted intent the orchestrator
// feeds into the funnel and CRM.
type Reply struct {
	Text string `json:"reply"`
	// Model is the catalog model the contact showed interest in, empty
	// when none was mentioned.
	Model string `json:"interest_model"`
	// Appointment holds the confirmed visit detail ("sábado 11am"),
	// empty when no appointment was agreed this turn.
	Appointment string `json:"appointment"`
	// Payment notes a payment or down-payment commitment.
	Payment string `json:"payment"`
	// ContactName is the contact's name when they introduced themselves.
	ContactName string `json:"contact_name"`
}

// Generator produces a reply for one turn. Implementations are retried by
// the caller; errors need no retry classification beyond the usual
// transient/permanent wrapping.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Reply, error)
}

var (
	jsonFenceRegex    = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*\\})\\s*```")
	markdownLinkRegex = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
)

// ParseReply decodes a model response into a Reply. It tolerates code
// fences and prose around the JSON object; a response with no JSON at all
// becomes a plain-text reply.
func ParseReply(raw string) (*Reply, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("empty model response")
	}

	payload := trimmed
	if m := jsonFenceRegex.FindStringSubmatch(trimmed); m != nil {
		payload = m[1]
	} else if start := strings.Index(trimmed, "{"); start >= 0 {
		if end := strings.LastIndex(trimmed, "}"); end > start {
			payload = trimmed[start : end+1]
		}
	}

	var reply Reply
	if err := json.Unmarshal([]byte(payload), &reply); err != nil {
		// Some turns come back as bare prose; use it as the reply text.
		if !strings.HasPrefix(payload, "{") {
			return &Reply{Text: CleanText(trimmed)}, nil
		}
		return nil, fmt.Errorf("decode model response: %w", err)
	}

	if strings.TrimSpace(reply.Text) == "" {
		return nil, fmt.Errorf("model response has no reply text")
	}
	reply.Text = CleanText(reply.Text)
	return &reply, nil
}

// CleanText strips markdown artifacts WhatsApp renders literally.
func CleanText(text string) string {
	cleaned := markdownLinkRegex.ReplaceAllString(text, "$1")
	cleaned = strings.ReplaceAll(cleaned, "**", "")
	cleaned = strings.ReplaceAll(cleaned, "##", "")
	return strings.TrimSpace(cleaned)
}
