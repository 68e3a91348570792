// Package handoff decides when a human seller has taken over a conversation
// so the bot can silence itself instead of talking over them.
package handoff

import "time"

// Frame is the outbound-side view of a gateway event the detector inspects.
type Frame struct {
	EventID   string
	FromMe    bool
	OriginID  string
	Text      string
	Timestamp time.Time
}

// BotTrace reports the bot's own outbound activity. Implemented by the
// gateway client, which records everything the bot sends.
type BotTrace interface {
	// SentMessage reports whether the bot produced the given message id.
	SentMessage(id string) bool
	// RecentlySaid reports whether the text matches one of the bot's
	// recent replies.
	RecentlySaid(text string) bool
	// LastSendAt returns when the bot last sent anything in the
	// conversation, or the zero time if it never has.
	LastSendAt(conversationID string) time.Time
}

// Result is the detector's verdict for a frame.
type Result struct {
	HumanActive   bool
	Signal        string
	SilencedUntil time.Time
}

// Detector evaluates outbound frames through an ordered chain of signal
// evaluators combined with OR. It favors over-silencing: missing a reply
// is cheaper than the bot interrupting a live human conversation.
type Detector struct {
	signals        Signals
	trace          BotTrace
	window         time.Duration
	autoReactivate time.Duration
}

// NewDetector creates a detector. window is the echo attribution window
// after a bot send; autoReactivate is how long a detected takeover keeps
// the bot quiet.
func NewDetector(signals Signals, trace BotTrace, window, autoReactivate time.Duration) *Detector {
	return &Detector{
		signals:        signals,
		trace:          trace,
		window:         window,
		autoReactivate: autoReactivate,
	}
}

// Evaluate inspects a frame for a conversation. Only outbound (from-me)
// frames can signal a takeover; inbound frames always return an inactive
// result. Deterministic given the frame, the trace and now.
func (d *Detector) Evaluate(conversationID string, frame Frame, now time.Time) Result {
	if !frame.FromMe {
		return Result{}
	}

	// Exclusions first: frames attributable to the bot itself never count.
	if d.trace != nil && frame.EventID != "" && d.trace.SentMessage(frame.EventID) {
		return Result{}
	}
	if d.trace != nil && frame.Text != "" && d.trace.RecentlySaid(frame.Text) {
		return Result{}
	}
	if d.signals.isAutomatedGreeting(frame.Text) {
		return Result{}
	}

	if emoji, ok := d.signals.containsEmoji(frame.Text); ok {
		return d.human("emoji:"+emoji, now)
	}
	if phrase, ok := d.signals.matchesHumanPhrase(frame.Text); ok {
		return d.human("phrase:"+phrase, now)
	}

	// Echo frames of the bot's own sends arrive within the attribution
	// window. An outbound frame outside it came from the phone.
	if d.trace != nil {
		last := d.trace.LastSendAt(conversationID)
		if !last.IsZero() && now.Sub(last) <= d.window {
			return Result{}
		}
	}

	return d.human("manual_outbound", now)
}

func (d *Detector) human(signal string, now time.Time) Result {
	return Result{
		HumanActive:   true,
		Signal:        signal,
		SilencedUntil: now.Add(d.autoReactivate),
	}
}
