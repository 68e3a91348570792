package handoff

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Signals holds the configurable phrase lists the detector matches against.
type Signals struct {
	// HumanPhrases are informal expressions a human seller types and the
	// bot never would.
	HumanPhrases []string `yaml:"human_phrases"`
	// Emojis mark a message as hand-typed; the bot's replies carry none.
	Emojis []string `yaml:"emojis"`
	// AutomatedGreetings identify WhatsApp Business auto-replies, which
	// must never silence the bot.
	AutomatedGreetings []string `yaml:"automated_greetings"`
}

// DefaultSignals returns the built-in lists used when no signal file is
// configured.
func DefaultSignals() Signals {
	return Signals{
		HumanPhrases: []string{
			"deja lo checo",
			"deja checo",
			"ahorita te digo",
			"ahorita te paso",
			"yo te aviso",
			"dejame ver",
			"déjame ver",
			"un momento porfa",
			"lo checo y te digo",
			"te marco",
			"ya te contesto",
			"q onda",
			"k onda",
			"ntp",
			"va que va",
		},
		Emojis: []string{
			"👍", "🙏", "😂", "🤣", "❤️", "😅", "🤝", "💪", "🔥", "😉", "🙌",
		},
		AutomatedGreetings: []string{
			"fuera de horario",
			"gracias por contactarnos",
			"en breve te atenderemos",
			"wa.me/",
			"mensaje automático",
		},
	}
}

// LoadSignals reads a YAML signal file, falling back to the defaults for
// any list the file leaves empty. A missing path returns the defaults.
func LoadSignals(path string) (Signals, error) {
	defaults := DefaultSignals()
	if path == "" {
		return defaults, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaults, nil
		}
		return defaults, fmt.Errorf("read signal file: %w", err)
	}

	var loaded Signals
	if err := yaml.Unmarshal(raw, &loaded); err != nil {
		return defaults, fmt.Errorf("parse signal file: %w", err)
	}

	if len(loaded.HumanPhrases) == 0 {
		loaded.HumanPhrases = defaults.HumanPhrases
	}
	if len(loaded.Emojis) == 0 {
		loaded.Emojis = defaults.Emojis
	}
	if len(loaded.AutomatedGreetings) == 0 {
		loaded.AutomatedGreetings = defaults.AutomatedGreetings
	}
	return loaded, nil
}

func (s Signals) matchesHumanPhrase(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, phrase := range s.HumanPhrases {
		if strings.Contains(lower, phrase) {
			return phrase, true
		}
	}
	return "", false
}

func (s Signals) containsEmoji(text string) (string, bool) {
	for _, emoji := range s.Emojis {
		if strings.Contains(text, emoji) {
			return emoji, true
		}
	}
	return "", false
}

func (s Signals) isAutomatedGreeting(text string) bool {
	lower := strings.ToLower(text)
	for _, marker := range s.AutomatedGreetings {
		if strings.Contains(lower, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}
