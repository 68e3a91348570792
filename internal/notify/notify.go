// Package notify forwards domain events as WhatsApp alerts to the agency
// owner. It subscribes to the event bus so the conversation pipeline never
// blocks on alerting.
package notify

import (
	"context"
	"fmt"
	"time"

	"salesbot_backend/internal/events"
	"salesbot_backend/platform/config"
	"salesbot_backend/platform/logger"
)

// AlertSender delivers a low-priority message outside any conversation.
// Implemented by the gateway client.
type AlertSender interface {
	SendAlert(ctx context.Context, to, text string) error
}

// Notifier turns domain events into owner alerts.
type Notifier struct {
	sender         AlertSender
	ownerPhone     string
	autoReactivate time.Duration
	log            *logger.Logger
}

// NewNotifier creates a notifier. With no owner phone configured it
// subscribes nothing and alerts are dropped.
func NewNotifier(cfg config.NotifyConfig, sender AlertSender, log *logger.Logger) *Notifier {
	return &Notifier{
		sender:         sender,
		ownerPhone:     cfg.GetOwnerPhone(),
		autoReactivate: cfg.GetAutoReactivate(),
		log:            log,
	}
}

// RegisterHandlers subscribes the notifier to the events it alerts on.
func (n *Notifier) RegisterHandlers(bus events.Bus) {
	if n.ownerPhone == "" || n.sender == nil {
		n.log.Info("owner alerts disabled, no owner phone configured")
		return
	}

	bus.Subscribe(events.HumanHandoffDetected{}.EventName(), events.HandlerFunc(n.onHandoff))
	bus.Subscribe(events.LeadQualified{}.EventName(), events.HandlerFunc(n.onLeadQualified))
	bus.Subscribe(events.AppointmentBooked{}.EventName(), events.HandlerFunc(n.onAppointment))
	bus.Subscribe(events.HotMessageDetected{}.EventName(), events.HandlerFunc(n.onHotMessage))
}

func (n *Notifier) onHandoff(ctx context.Context, event events.Event) error {
	e, ok := event.(events.HumanHandoffDetected)
	if !ok {
		return fmt.Errorf("unexpected event type %T", event)
	}

	mode := fmt.Sprintf("por %d min", int(n.autoReactivate.Minutes()))
	if e.Permanent {
		mode = "hasta /activar"
	}
	return n.send(ctx, fmt.Sprintf("🤝 Bot pausado en %s (%s, señal: %s).",
		e.ConversationID, mode, e.Signal))
}

func (n *Notifier) onLeadQualified(ctx context.Context, event events.Event) error {
	e, ok := event.(events.LeadQualified)
	if !ok {
		return fmt.Errorf("unexpected event type %T", event)
	}

	name := e.ContactName
	if name == "" {
		name = e.ConversationID
	}
	msg := fmt.Sprintf("📈 Lead calificado: %s pasó a %s.", name, e.StageLabel)
	if e.Interest != "" {
		msg += fmt.Sprintf(" Interés: %s.", e.Interest)
	}
	return n.send(ctx, msg)
}

func (n *Notifier) onAppointment(ctx context.Context, event events.Event) error {
	e, ok := event.(events.AppointmentBooked)
	if !ok {
		return fmt.Errorf("unexpected event type %T", event)
	}

	name := e.ContactName
	if name == "" {
		name = e.ConversationID
	}
	msg := fmt.Sprintf("📅 Cita agendada con %s.", name)
	if e.Detail != "" {
		msg += " " + e.Detail
	}
	return n.send(ctx, msg)
}

func (n *Notifier) onHotMessage(ctx context.Context, event events.Event) error {
	e, ok := event.(events.HotMessageDetected)
	if !ok {
		return fmt.Errorf("unexpected event type %T", event)
	}

	return n.send(ctx, fmt.Sprintf("🔥 Mensaje caliente de %s (%q): %s",
		e.ConversationID, e.Keyword, e.Text))
}

func (n *Notifier) send(ctx context.Context, text string) error {
	if err := n.sender.SendAlert(ctx, n.ownerPhone, text); err != nil {
		n.log.UpstreamError("gateway", "owner_alert", err)
		return err
	}
	return nil
}
