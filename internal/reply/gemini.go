package reply

import (
	"context"
	"fmt"
	"strings"

	"salesbot_backend/platform/config"
	"salesbot_backend/platform/logger"
	"salesbot_backend/platform/retry"

	"google.golang.org/genai"
)

const systemPrompt = `Eres Tono, asesor de ventas de una agencia de motocicletas en México.
Atiendes WhatsApp: respuestas cortas, cálidas y sin tecnicismos. Nunca inventes
precios ni modelos fuera del catálogo. Si el cliente confirma una visita,
regístrala. Responde SIEMPRE con un único objeto JSON:
{"reply": "...", "interest_model": "", "appointment": "", "payment": "", "contact_name": ""}
- reply: tu respuesta al cliente (obligatorio)
- interest_model: modelo del catálogo por el que pregunta, si aplica
- appointment: detalle de la cita solo si el cliente la confirmó este turno
- payment: compromiso de pago o enganche mencionado este turno
- contact_name: nombre del cliente solo si se presentó este turno`

// GeminiGenerator implements Generator over the Gemini API.
type GeminiGenerator struct {
	client *genai.Client
	model  string
	log    *logger.Logger
}

// NewGeminiGenerator dials the Gemini API.
func NewGeminiGenerator(ctx context.Context, cfg config.ReplyConfig, log *logger.Logger) (*GeminiGenerator, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GetGeminiAPIKey(),
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return &GeminiGenerator{
		client: client,
		model:  cfg.GetGeminiModel(),
		log:    log,
	}, nil
}

// Generate builds the turn prompt and decodes the structured reply.
func (g *GeminiGenerator) Generate(ctx context.Context, req Request) (*Reply, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model,
		genai.Text(buildPrompt(req)),
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
			ResponseMIMEType:  "application/json",
		},
	)
	if err != nil {
		return nil, retry.Transient(fmt.Errorf("gemini generate: %w", err))
	}

	raw := resp.Text()
	parsed, err := ParseReply(raw)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("gemini response unusable: %w", err))
	}
	return parsed, nil
}

func buildPrompt(req Request) string {
	var b strings.Builder

	if req.CatalogSummary != "" {
		b.WriteString("Catálogo vigente:\n")
		b.WriteString(req.CatalogSummary)
		b.WriteString("\n")
	}
	if req.ContactName != "" {
		fmt.Fprintf(&b, "El cliente se llama %s.\n", req.ContactName)
	}
	if req.Stage != "" {
		fmt.Fprintf(&b, "Etapa del cliente en el embudo: %s.\n", req.Stage)
	}

	if len(req.History) > 0 {
		b.WriteString("\nConversación hasta ahora:\n")
		for _, turn := range req.History {
			speaker := "Cliente"
			if turn.Role == "bot" {
				speaker = "Tono"
			}
			fmt.Fprintf(&b, "%s: %s\n", speaker, turn.Text)
		}
	}

	fmt.Fprintf(&b, "\nCliente: %s\n", req.Message)
	return b.String()
}
