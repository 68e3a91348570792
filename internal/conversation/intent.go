package conversation

import "strings"

// Deterministic keyword intents handled before the reply generator runs.
// These mirror how contacts actually type: lowercase checks, accents
// optional, common typos included.

const (
	commandSilence    = "/silencio"
	commandReactivate = "/activar"
)

// Document request classes.
const (
	documentSpec      = "spec"
	documentFinancing = "financing"
	documentLast      = "last"
)

var photoKeywords = []string{
	"foto", "fotos", "imagen", "imagenes", "imágenes", "pics",
}

var morePhotoKeywords = []string{
	"otra foto", "otras fotos", "mas fotos", "más fotos", "otra", "otro angulo", "otro ángulo",
}

var specSheetKeywords = []string{
	"ficha", "ficha tecnica", "ficha técnica", "especificaciones", "caracteristicas", "características",
}

var financingSheetKeywords = []string{
	"corrida", "corrida financiera", "financiamiento", "plan de pagos", "mensualidades",
}

var continueDocumentKeywords = []string{
	"pasamela", "pásamela", "pasala", "pásala", "mandala", "mándala", "enviala", "envíala", "mandamela", "mándamela",
}

var hotKeywords = []string{
	"comprar", "apartar", "enganche", "credito", "crédito", "a meses", "llevarmela", "llevármela",
}

func normalizeIntent(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// isCommand matches operator commands typed directly into the chat.
func isCommand(text, command string) bool {
	return normalizeIntent(text) == command
}

// wantsPhotos reports whether the message asks for photos, and whether it
// asks for more of what was already shown (advancing the carousel) rather
// than a fresh batch.
func wantsPhotos(text string) (wants bool, more bool) {
	lower := normalizeIntent(text)
	if lower == "" {
		return false, false
	}

	for _, kw := range morePhotoKeywords {
		if strings.Contains(lower, kw) {
			return true, true
		}
	}
	for _, kw := range photoKeywords {
		if containsWord(lower, kw) {
			return true, false
		}
	}
	return false, false
}

// documentType classifies a document request: "spec", "financing", "last"
// (a follow-up like "pásamela" continuing the previous request), or "".
func documentType(text string) string {
	lower := normalizeIntent(text)
	if lower == "" {
		return ""
	}

	for _, kw := range specSheetKeywords {
		if strings.Contains(lower, kw) {
			return documentSpec
		}
	}
	for _, kw := range financingSheetKeywords {
		if strings.Contains(lower, kw) {
			return documentFinancing
		}
	}
	for _, kw := range continueDocumentKeywords {
		if strings.Contains(lower, kw) {
			return documentLast
		}
	}
	return ""
}

// hotKeyword returns the first high-intent keyword found, if any.
func hotKeyword(text string) (string, bool) {
	lower := normalizeIntent(text)
	for _, kw := range hotKeywords {
		if strings.Contains(lower, kw) {
			return kw, true
		}
	}
	return "", false
}

// containsWord reports whether lower contains kw bounded by non-letters,
// so "foto" does not match inside "fotografo".
func containsWord(lower, kw string) bool {
	idx := 0
	for {
		i := strings.Index(lower[idx:], kw)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(kw)
		beforeOK := start == 0 || !isLetter(lower[start-1])
		afterOK := end == len(lower) || !isLetter(lower[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || b >= 0x80
}
