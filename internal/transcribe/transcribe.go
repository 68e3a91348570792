// Package transcribe converts inbound voice notes to text so they can be
// processed as ordinary message turns.
package transcribe

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"salesbot_backend/platform/config"
	"salesbot_backend/platform/retry"

	"google.golang.org/genai"
)

const transcribePrompt = "Transcribe este mensaje de voz al español tal como se dijo. " +
	"Devuelve únicamente la transcripción, sin comentarios."

// Transcriber converts audio to text.
type Transcriber interface {
	Transcribe(ctx context.Context, base64Data, mimeType string) (string, error)
}

// GeminiTranscriber implements Transcriber over the Gemini API.
type GeminiTranscriber struct {
	client *genai.Client
	model  string
}

// NewGeminiTranscriber dials the Gemini API.
func NewGeminiTranscriber(ctx context.Context, cfg config.ReplyConfig) (*GeminiTranscriber, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GetGeminiAPIKey(),
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiTranscriber{client: client, model: cfg.GetGeminiModel()}, nil
}

// Transcribe sends the audio inline and returns the spoken text.
func (t *GeminiTranscriber) Transcribe(ctx context.Context, base64Data, mimeType string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(base64Data)
	if err != nil {
		return "", retry.Permanent(fmt.Errorf("decode audio payload: %w", err))
	}
	if mimeType == "" {
		mimeType = "audio/ogg"
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(transcribePrompt),
			genai.NewPartFromBytes(data, mimeType),
		}, genai.RoleUser),
	}

	resp, err := t.client.Models.GenerateContent(ctx, t.model, contents, nil)
	if err != nil {
		return "", retry.Transient(fmt.Errorf("gemini transcribe: %w", err))
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", retry.Permanent(fmt.Errorf("empty transcription"))
	}
	return text, nil
}
