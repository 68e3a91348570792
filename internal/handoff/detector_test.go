package handoff

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type fakeTrace struct {
	sentIDs  map[string]bool
	said     map[string]bool
	lastSend time.Time
}

func (f *fakeTrace) SentMessage(id string) bool { return f.sentIDs[id] }
func (f *fakeTrace) RecentlySaid(text string) bool {
	return f.said[text]
}
func (f *fakeTrace) LastSendAt(conversationID string) time.Time { return f.lastSend }

func newDetectorForTest(trace *fakeTrace) *Detector {
	return NewDetector(DefaultSignals(), trace, 3*time.Second, time.Hour)
}

func TestEvaluateIgnoresInboundFrames(t *testing.T) {
	d := newDetectorForTest(&fakeTrace{})
	res := d.Evaluate("+5215512345678", Frame{
		FromMe: false,
		Text:   "deja lo checo 👍",
	}, time.Now())
	if res.HumanActive {
		t.Error("inbound frame flagged as human takeover")
	}
}

func TestEvaluateExcludesBotSentMessages(t *testing.T) {
	now := time.Now()
	trace := &fakeTrace{sentIDs: map[string]bool{"MSG1": true}}
	d := newDetectorForTest(trace)

	res := d.Evaluate("+5215512345678", Frame{
		EventID: "MSG1",
		FromMe:  true,
		Text:    "Claro, la 250Z cuesta...",
	}, now)
	if res.HumanActive {
		t.Error("bot's own echo flagged as human")
	}
}

func TestEvaluateExcludesRecentBotText(t *testing.T) {
	now := time.Now()
	trace := &fakeTrace{said: map[string]bool{"Con gusto te comparto la ficha.": true}}
	d := newDetectorForTest(trace)

	res := d.Evaluate("+5215512345678", Frame{
		EventID: "OTHER-ID",
		FromMe:  true,
		Text:    "Con gusto te comparto la ficha.",
	}, now)
	if res.HumanActive {
		t.Error("recently sent bot text flagged as human")
	}
}

func TestEvaluateExcludesAutomatedGreetings(t *testing.T) {
	now := time.Now()
	d := newDetectorForTest(&fakeTrace{})

	for _, text := range []string{
		"Estamos fuera de horario, te contestamos mañana",
		"Agenda aquí: https://wa.me/5215512345678",
	} {
		res := d.Evaluate("+5215512345678", Frame{EventID: "X", FromMe: true, Text: text}, now)
		if res.HumanActive {
			t.Errorf("automated greeting %q silenced the bot", text)
		}
	}
}

func TestEvaluateDetectsHumanSignals(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name       string
		text       string
		wantSignal string
	}{
		{name: "emoji", text: "sale, nos vemos 👍", wantSignal: "emoji:"},
		{name: "human phrase", text: "deja lo checo y te digo", wantSignal: "phrase:"},
		{name: "unattributed outbound", text: "Hola Juan, soy Pedro de la agencia", wantSignal: "manual_outbound"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			trace := &fakeTrace{lastSend: now.Add(-time.Minute)}
			d := newDetectorForTest(trace)
			res := d.Evaluate("+5215512345678", Frame{EventID: "Y", FromMe: true, Text: tc.text}, now)
			if !res.HumanActive {
				t.Fatalf("expected takeover for %q", tc.text)
			}
			if !strings.HasPrefix(res.Signal, tc.wantSignal) {
				t.Errorf("Signal = %q, want prefix %q", res.Signal, tc.wantSignal)
			}
			if got := res.SilencedUntil.Sub(now); got != time.Hour {
				t.Errorf("SilencedUntil offset = %v, want 1h", got)
			}
		})
	}
}

func TestEvaluateTimingWindowAttributesEchoToBot(t *testing.T) {
	now := time.Now()
	trace := &fakeTrace{lastSend: now.Add(-time.Second)}
	d := newDetectorForTest(trace)

	// Plain outbound text right after a bot send is treated as the bot's
	// own echo, not a takeover.
	res := d.Evaluate("+5215512345678", Frame{
		EventID: "Z",
		FromMe:  true,
		Text:    "La enganche es de 3,500 pesos",
	}, now)
	if res.HumanActive {
		t.Error("echo within the attribution window flagged as human")
	}

	// The same frame a minute later is conclusive.
	res = d.Evaluate("+5215512345678", Frame{
		EventID: "Z2",
		FromMe:  true,
		Text:    "La enganche es de 3,500 pesos",
	}, now.Add(time.Minute))
	if !res.HumanActive {
		t.Error("unattributed outbound frame not flagged")
	}
}

func TestEvaluateDeterministic(t *testing.T) {
	now := time.Now()
	trace := &fakeTrace{lastSend: now.Add(-time.Minute)}
	d := newDetectorForTest(trace)
	frame := Frame{EventID: "D", FromMe: true, Text: "ahorita te digo"}

	first := d.Evaluate("+5215512345678", frame, now)
	second := d.Evaluate("+5215512345678", frame, now)
	if first != second {
		t.Errorf("same inputs produced different results: %+v vs %+v", first, second)
	}
}

func TestLoadSignalsFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "handoff.yaml")
	content := "human_phrases:\n  - \"custom phrase\"\nemojis:\n  - \"🛵\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	signals, err := LoadSignals(path)
	if err != nil {
		t.Fatalf("LoadSignals: %v", err)
	}
	if len(signals.HumanPhrases) != 1 || signals.HumanPhrases[0] != "custom phrase" {
		t.Errorf("HumanPhrases = %v", signals.HumanPhrases)
	}
	// Lists absent from the file keep the defaults.
	if len(signals.AutomatedGreetings) == 0 {
		t.Error("AutomatedGreetings defaults not applied")
	}
}

func TestLoadSignalsMissingFileUsesDefaults(t *testing.T) {
	signals, err := LoadSignals(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadSignals: %v", err)
	}
	if len(signals.HumanPhrases) == 0 || len(signals.Emojis) == 0 {
		t.Error("defaults not returned for missing file")
	}
}
