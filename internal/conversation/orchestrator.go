package conversation

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"salesbot_backend/internal/catalog"
	"salesbot_backend/internal/crm"
	"salesbot_backend/internal/dedup"
	"salesbot_backend/internal/events"
	"salesbot_backend/internal/funnel"
	"salesbot_backend/internal/handoff"
	"salesbot_backend/internal/reply"
	"salesbot_backend/internal/session"
	"salesbot_backend/platform/logger"
	"salesbot_backend/platform/retry"
)

// UI state keys persisted on the session.
const (
	uiPhotoModel      = "photo_model"
	uiPhotoCursor     = "photo_cursor"
	uiLastDocumentReq = "last_document_request"
)

const photoBatchSize = 3

// Sender delivers outbound actions through the gateway.
type Sender interface {
	SendText(ctx context.Context, to, text string) error
	SendImage(ctx context.Context, to, mediaURL, caption string) error
	SendDocument(ctx context.Context, to, mediaURL, fileName, caption string) error
}

// MediaDownloader fetches inbound media payloads from the gateway.
type MediaDownloader interface {
	DownloadMedia(ctx context.Context, messageID string) (data string, mimeType string, err error)
}

// Transcriber converts audio to text.
type Transcriber interface {
	Transcribe(ctx context.Context, base64Data, mimeType string) (string, error)
}

// LeadUpserter syncs a qualified lead to the CRM.
type LeadUpserter interface {
	UpsertLead(ctx context.Context, lead crm.Lead, stageLabel, note string, fields map[string]string) (string, error)
}

// Deps wires the orchestrator's collaborators.
type Deps struct {
	Log        *logger.Logger
	Store      session.Store
	Sender     Sender
	Detector   *handoff.Detector
	Generator  reply.Generator
	Catalog    *catalog.Loader
	CRM        LeadUpserter
	Downloader MediaDownloader
	Transcribe Transcriber
	Bus        events.Bus
}

// Options tunes orchestration behavior.
type Options struct {
	EventLedgerCapacity int
	LeadLedgerCapacity  int
	HistoryLimit        int
	FallbackMessage     string
	RetryPolicy         retry.Policy
}

// Orchestrator drives one inbound event through the full pipeline. One
// instance serves the whole process; all state it owns is concurrent-safe.
type Orchestrator struct {
	deps Deps
	opts Options

	eventLedger *dedup.Ledger
	leadLedger  *dedup.Ledger
	locks       *session.LockTable

	now func() time.Time

	processed  atomic.Int64
	duplicates atomic.Int64
	silenced   atomic.Int64
	fallbacks  atomic.Int64
	handoffs   atomic.Int64
}

// NewOrchestrator creates the orchestrator.
func NewOrchestrator(deps Deps, opts Options) *Orchestrator {
	return &Orchestrator{
		deps:        deps,
		opts:        opts,
		eventLedger: dedup.NewLedger(opts.EventLedgerCapacity),
		leadLedger:  dedup.NewLedger(opts.LeadLedgerCapacity),
		locks:       session.NewLockTable(),
		now:         time.Now,
	}
}

// Handle processes one inbound event and returns the outbound action, or
// nil when the bot stays quiet. The only error surfaced is a failed
// session save; everything upstream degrades instead.
func (o *Orchestrator) Handle(ctx context.Context, event InboundEvent) (*OutboundAction, error) {
	if event.ConversationID == "" {
		return nil, nil
	}

	if event.EventID != "" && o.eventLedger.SeenOrAdmit(event.EventID) {
		o.duplicates.Add(1)
		o.deps.Log.Debug("duplicate event dropped", "event_id", event.EventID)
		return nil, nil
	}

	release := o.locks.Acquire(event.ConversationID)
	defer release()

	now := o.now()
	log := o.deps.Log.WithConversation(event.ConversationID)

	sess, err := o.deps.Store.Load(ctx, event.ConversationID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		sess = session.New(event.ConversationID, now)
		sess.FunnelStage, _ = funnel.Advance(sess.FunnelStage, sess.TurnCount, funnel.TriggerFirstContact)
	}

	if event.FromMe {
		return nil, o.handleOutboundFrame(ctx, log, sess, event, now)
	}

	if sess.Silenced(now) {
		o.silenced.Add(1)
		sess.TurnCount++
		sess.LastInteractionAt = now
		if event.Text != "" {
			sess.AppendTurn(session.RoleContact, event.Text, now, o.opts.HistoryLimit)
		}
		return nil, o.deps.Store.Save(ctx, sess)
	}

	text := event.Text
	if event.Kind == KindAudio {
		transcript, transcribeErr := o.transcribeAudio(ctx, event)
		if transcribeErr != nil {
			log.UpstreamError("transcribe", "audio_turn", transcribeErr)
			return o.respond(ctx, sess, event, now,
				"Disculpa, no pude escuchar tu audio. ¿Me lo puedes escribir?")
		}
		text = transcript
	}
	if event.Kind == KindOther {
		return o.respond(ctx, sess, event, now,
			"Por ahora solo puedo leer mensajes de texto o audios.")
	}

	if event.PushName != "" && sess.ContactName == "" {
		sess.ContactName = event.PushName
	}

	sess.TurnCount++
	sess.LastInteractionAt = now
	sess.AppendTurn(session.RoleContact, text, now, o.opts.HistoryLimit)

	if kw, hot := hotKeyword(text); hot && o.deps.Bus != nil {
		o.deps.Bus.Publish(ctx, events.HotMessageDetected{
			BaseEvent:      events.NewBaseEvent(),
			ConversationID: event.ConversationID,
			Keyword:        kw,
			Text:           text,
		})
	}

	if action := o.servePhotos(sess, event, text); action != nil {
		o.recordBotTurn(sess, action, now)
		if err := o.deps.Store.Save(ctx, sess); err != nil {
			return nil, err
		}
		o.processed.Add(1)
		return action, nil
	}
	if action := o.serveDocument(sess, event, text); action != nil {
		o.recordBotTurn(sess, action, now)
		if err := o.deps.Store.Save(ctx, sess); err != nil {
			return nil, err
		}
		o.processed.Add(1)
		return action, nil
	}

	answer := o.generateReply(ctx, log, sess, text)

	triggers := []funnel.Trigger{funnel.TriggerReply}
	if answer.Model != "" {
		sess.LastInterest = answer.Model
		triggers = append(triggers, funnel.TriggerModelMentioned)
	}
	if answer.Appointment != "" {
		sess.LastAppointment = answer.Appointment
		triggers = append(triggers, funnel.TriggerAppointmentConfirmed)
	}
	if answer.Payment != "" {
		sess.LastPayment = answer.Payment
	}
	if answer.ContactName != "" && sess.ContactName == "" {
		sess.ContactName = answer.ContactName
	}

	var transitions []funnel.Transition
	for _, trigger := range triggers {
		var moved []funnel.Transition
		sess.FunnelStage, moved = funnel.Advance(sess.FunnelStage, sess.TurnCount, trigger)
		transitions = append(transitions, moved...)
	}

	o.syncTransitions(ctx, log, sess, transitions)

	action := &OutboundAction{ConversationID: event.ConversationID, Text: answer.Text}
	o.recordBotTurn(sess, action, now)
	if err := o.deps.Store.Save(ctx, sess); err != nil {
		return nil, err
	}
	o.processed.Add(1)
	return action, nil
}

// ApplyManualTrigger applies an operator-driven funnel trigger (no-show,
// closed) outside the inbound flow.
func (o *Orchestrator) ApplyManualTrigger(ctx context.Context, conversationID string, trigger funnel.Trigger) error {
	release := o.locks.Acquire(conversationID)
	defer release()

	sess, err := o.deps.Store.Load(ctx, conversationID)
	if err != nil {
		return err
	}
	if sess == nil {
		return fmt.Errorf("no session for %s", conversationID)
	}

	var transitions []funnel.Transition
	sess.FunnelStage, transitions = funnel.Advance(sess.FunnelStage, sess.TurnCount, trigger)
	o.syncTransitions(ctx, o.deps.Log.WithConversation(conversationID), sess, transitions)
	return o.deps.Store.Save(ctx, sess)
}

// handleOutboundFrame runs the handoff detector over a from-me frame and
// applies silencing commands.
func (o *Orchestrator) handleOutboundFrame(ctx context.Context, log *logger.Logger, sess *session.Session, event InboundEvent, now time.Time) error {
	switch {
	case isCommand(event.Text, commandSilence):
		sess.SilenceForever()
		o.handoffs.Add(1)
		log.HandoffDetected(event.ConversationID, "command:/silencio", true)
		o.publishHandoff(ctx, event.ConversationID, "command:/silencio", true)
		return o.deps.Store.Save(ctx, sess)
	case isCommand(event.Text, commandReactivate):
		sess.Reactivate()
		log.Info("conversation reactivated", "conversation_id", event.ConversationID)
		return o.deps.Store.Save(ctx, sess)
	}

	if o.deps.Detector == nil {
		return nil
	}

	result := o.deps.Detector.Evaluate(event.ConversationID, handoff.Frame{
		EventID:   event.EventID,
		FromMe:    true,
		OriginID:  event.OriginID,
		Text:      event.Text,
		Timestamp: event.Timestamp,
	}, now)
	if !result.HumanActive {
		return nil
	}

	sess.SilenceUntil(result.SilencedUntil)
	o.handoffs.Add(1)
	log.HandoffDetected(event.ConversationID, result.Signal, false)
	o.publishHandoff(ctx, event.ConversationID, result.Signal, false)
	return o.deps.Store.Save(ctx, sess)
}

func (o *Orchestrator) publishHandoff(ctx context.Context, conversationID, signal string, permanent bool) {
	if o.deps.Bus == nil {
		return
	}
	o.deps.Bus.Publish(ctx, events.HumanHandoffDetected{
		BaseEvent:      events.NewBaseEvent(),
		ConversationID: conversationID,
		Signal:         signal,
		Permanent:      permanent,
	})
}

// respond persists bookkeeping for a canned answer outside the generator
// flow (unsupported media, failed transcription).
func (o *Orchestrator) respond(ctx context.Context, sess *session.Session, event InboundEvent, now time.Time, text string) (*OutboundAction, error) {
	sess.TurnCount++
	sess.LastInteractionAt = now
	action := &OutboundAction{ConversationID: event.ConversationID, Text: text}
	o.recordBotTurn(sess, action, now)
	if err := o.deps.Store.Save(ctx, sess); err != nil {
		return nil, err
	}
	o.processed.Add(1)
	return action, nil
}

func (o *Orchestrator) transcribeAudio(ctx context.Context, event InboundEvent) (string, error) {
	if o.deps.Downloader == nil || o.deps.Transcribe == nil {
		return "", fmt.Errorf("audio support not configured")
	}

	type download struct {
		data string
		mime string
	}
	dl, err := retry.Do(ctx, o.opts.RetryPolicy, func(ctx context.Context) (download, error) {
		data, mime, err := o.deps.Downloader.DownloadMedia(ctx, event.MediaID)
		return download{data: data, mime: mime}, err
	})
	if err != nil {
		return "", err
	}

	return retry.Do(ctx, o.opts.RetryPolicy, func(ctx context.Context) (string, error) {
		return o.deps.Transcribe.Transcribe(ctx, dl.data, dl.mime)
	})
}

// servePhotos answers photo requests from the catalog without a generator
// round-trip. Returns nil when the message is not a photo request or no
// photos are available.
func (o *Orchestrator) servePhotos(sess *session.Session, event InboundEvent, text string) *OutboundAction {
	wants, more := wantsPhotos(text)
	if !wants || o.deps.Catalog == nil {
		return nil
	}

	item := o.deps.Catalog.FindModel(text)
	if item == nil && sess.UIStateValue(uiPhotoModel) != "" {
		item = o.deps.Catalog.FindModel(sess.UIStateValue(uiPhotoModel))
	}
	if item == nil || len(item.Photos) == 0 {
		return nil
	}

	cursor := 0
	if sess.UIStateValue(uiPhotoModel) == item.Model {
		cursor, _ = strconv.Atoi(sess.UIStateValue(uiPhotoCursor))
	}

	action := &OutboundAction{ConversationID: event.ConversationID}
	if more {
		// Advance one photo, looping back to the start.
		cursor = (cursor + 1) % len(item.Photos)
		action.Images = []MediaItem{{URL: item.Photos[cursor], Caption: item.Model}}
		action.Text = fmt.Sprintf("Va otra foto de la %s.", item.Model)
	} else {
		count := photoBatchSize
		if count > len(item.Photos) {
			count = len(item.Photos)
		}
		for i := 0; i < count; i++ {
			action.Images = append(action.Images, MediaItem{
				URL:     item.Photos[(cursor+i)%len(item.Photos)],
				Caption: item.Model,
			})
		}
		cursor = (cursor + count - 1) % len(item.Photos)
		action.Text = fmt.Sprintf("Te mando fotos de la %s.", item.Model)
	}

	sess.SetUIState(uiPhotoModel, item.Model)
	sess.SetUIState(uiPhotoCursor, strconv.Itoa(cursor))
	return action
}

// serveDocument answers spec-sheet and financing-table requests. A generic
// follow-up ("pásamela") continues the last requested type.
func (o *Orchestrator) serveDocument(sess *session.Session, event InboundEvent, text string) *OutboundAction {
	docType := documentType(text)
	if docType == "" || o.deps.Catalog == nil {
		return nil
	}
	if docType == documentLast {
		docType = sess.UIStateValue(uiLastDocumentReq)
		if docType == "" {
			return nil
		}
	}

	item := o.deps.Catalog.FindModel(text)
	if item == nil && sess.UIStateValue(uiPhotoModel) != "" {
		item = o.deps.Catalog.FindModel(sess.UIStateValue(uiPhotoModel))
	}
	if item == nil {
		return nil
	}

	var url, label string
	switch docType {
	case documentSpec:
		url, label = item.SpecSheetURL, "la ficha técnica"
	case documentFinancing:
		url, label = item.FinancingURL, "la corrida de financiamiento"
	}
	if url == "" {
		return nil
	}

	sess.SetUIState(uiLastDocumentReq, docType)
	sess.SetUIState(uiPhotoModel, item.Model)
	return &OutboundAction{
		ConversationID: event.ConversationID,
		Text:           fmt.Sprintf("Claro, aquí tienes %s de la %s.", label, item.Model),
		Document: &MediaItem{
			URL:      url,
			FileName: fmt.Sprintf("%s.pdf", item.Model),
			Caption:  item.Model,
		},
	}
}

// generateReply runs the generator through the retry executor, degrading
// to the configured fallback text when attempts are exhausted.
func (o *Orchestrator) generateReply(ctx context.Context, log *logger.Logger, sess *session.Session, text string) *reply.Reply {
	if o.deps.Generator == nil {
		o.fallbacks.Add(1)
		return &reply.Reply{Text: o.opts.FallbackMessage}
	}

	// The current message travels in the request itself; the contact turn
	// just appended would repeat it in the history.
	turns := sess.History
	if n := len(turns); n > 0 && turns[n-1].Role == session.RoleContact && turns[n-1].Text == text {
		turns = turns[:n-1]
	}

	history := make([]reply.HistoryTurn, 0, len(turns))
	for _, turn := range turns {
		history = append(history, reply.HistoryTurn{Role: string(turn.Role), Text: turn.Text})
	}

	var catalogSummary string
	if o.deps.Catalog != nil {
		catalogSummary = o.deps.Catalog.PromptSummary()
	}

	answer, err := retry.Do(ctx, o.opts.RetryPolicy, func(ctx context.Context) (*reply.Reply, error) {
		return o.deps.Generator.Generate(ctx, reply.Request{
			ConversationID: sess.ConversationID,
			ContactName:    sess.ContactName,
			Message:        text,
			History:        history,
			CatalogSummary: catalogSummary,
			Stage:          funnel.Label(sess.FunnelStage),
		})
	})
	if err != nil {
		o.fallbacks.Add(1)
		log.UpstreamError("generator", "generate_reply", err)
		return &reply.Reply{Text: o.opts.FallbackMessage}
	}
	return answer
}

// syncTransitions forwards CRM-worthy funnel transitions, deduped per
// (conversation, stage). CRM failures degrade: the stage change survives
// locally and the next qualifying transition retries the sync.
func (o *Orchestrator) syncTransitions(ctx context.Context, log *logger.Logger, sess *session.Session, transitions []funnel.Transition) {
	for _, tr := range transitions {
		o.publishTransition(ctx, sess, tr)

		if !funnel.SyncsToCRM(tr.To) || o.deps.CRM == nil {
			continue
		}

		key := sess.ConversationID + "|" + string(tr.To)
		if o.leadLedger.Seen(key) {
			continue
		}

		stage := tr
		leadID, err := retry.Do(ctx, o.opts.RetryPolicy, func(ctx context.Context) (string, error) {
			return o.deps.CRM.UpsertLead(ctx, crm.Lead{
				Phone: sess.ConversationID,
				Name:  sess.ContactName,
			}, funnel.Label(stage.To), stage.Note, o.leadFields(sess))
		})
		if err != nil {
			log.UpstreamError("crm", "upsert_lead", err)
			continue
		}

		o.leadLedger.Admit(key)
		if leadID != "" {
			sess.CRMLeadID = leadID
		}
	}
}

func (o *Orchestrator) leadFields(sess *session.Session) map[string]string {
	fields := make(map[string]string)
	if sess.LastInterest != "" {
		fields["interes"] = sess.LastInterest
	}
	if sess.LastAppointment != "" {
		fields["cita"] = sess.LastAppointment
	}
	if sess.LastPayment != "" {
		fields["pago"] = sess.LastPayment
	}
	return fields
}

func (o *Orchestrator) publishTransition(ctx context.Context, sess *session.Session, tr funnel.Transition) {
	if o.deps.Bus == nil {
		return
	}

	if funnel.SyncsToCRM(tr.To) {
		o.deps.Bus.Publish(ctx, events.LeadQualified{
			BaseEvent:      events.NewBaseEvent(),
			ConversationID: sess.ConversationID,
			ContactName:    sess.ContactName,
			Stage:          string(tr.To),
			StageLabel:     funnel.Label(tr.To),
			Interest:       sess.LastInterest,
			Note:           tr.Note,
		})
	}
	if tr.To == funnel.StageAppointment {
		o.deps.Bus.Publish(ctx, events.AppointmentBooked{
			BaseEvent:      events.NewBaseEvent(),
			ConversationID: sess.ConversationID,
			ContactName:    sess.ContactName,
			Detail:         sess.LastAppointment,
		})
	}
}

func (o *Orchestrator) recordBotTurn(sess *session.Session, action *OutboundAction, now time.Time) {
	if action != nil && action.Text != "" {
		sess.AppendTurn(session.RoleBot, action.Text, now, o.opts.HistoryLimit)
	}
}

// Process handles one inbound event end to end and dispatches the
// resulting action through the gateway. Send failures are logged, not
// returned: the event is already in the dedup ledger, so a redelivery
// would be dropped anyway.
func (o *Orchestrator) Process(ctx context.Context, event InboundEvent) error {
	action, err := o.Handle(ctx, event)
	if err != nil {
		return err
	}
	if action == nil || o.deps.Sender == nil {
		return nil
	}

	log := o.deps.Log.WithConversation(action.ConversationID)

	if action.Text != "" {
		if err := o.send(ctx, func(ctx context.Context) error {
			return o.deps.Sender.SendText(ctx, action.ConversationID, action.Text)
		}); err != nil {
			log.UpstreamError("gateway", "send_text", err)
		}
	}
	for _, img := range action.Images {
		image := img
		if err := o.send(ctx, func(ctx context.Context) error {
			return o.deps.Sender.SendImage(ctx, action.ConversationID, image.URL, image.Caption)
		}); err != nil {
			log.UpstreamError("gateway", "send_image", err)
		}
	}
	if doc := action.Document; doc != nil {
		if err := o.send(ctx, func(ctx context.Context) error {
			return o.deps.Sender.SendDocument(ctx, action.ConversationID, doc.URL, doc.FileName, doc.Caption)
		}); err != nil {
			log.UpstreamError("gateway", "send_document", err)
		}
	}
	return nil
}

func (o *Orchestrator) send(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := retry.Do(ctx, o.opts.RetryPolicy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Stats is a point-in-time view of orchestration counters for the health
// endpoint.
type Stats struct {
	Processed         int64 `json:"processed"`
	Duplicates        int64 `json:"duplicates"`
	SilencedTurns     int64 `json:"silencedTurns"`
	Fallbacks         int64 `json:"fallbacks"`
	Handoffs          int64 `json:"handoffs"`
	EventLedgerSize   int   `json:"eventLedgerSize"`
	LeadLedgerSize    int   `json:"leadLedgerSize"`
	ActiveLocks       int   `json:"activeLocks"`
	CatalogItems      int   `json:"catalogItems"`
	StoredSessions    int64 `json:"storedSessions"`
	SessionCountError bool  `json:"sessionCountError,omitempty"`
}

// Stats snapshots the counters.
func (o *Orchestrator) Stats(ctx context.Context) Stats {
	s := Stats{
		Processed:       o.processed.Load(),
		Duplicates:      o.duplicates.Load(),
		SilencedTurns:   o.silenced.Load(),
		Fallbacks:       o.fallbacks.Load(),
		Handoffs:        o.handoffs.Load(),
		EventLedgerSize: o.eventLedger.Len(),
		LeadLedgerSize:  o.leadLedger.Len(),
		ActiveLocks:     o.locks.Len(),
	}
	if o.deps.Catalog != nil {
		s.CatalogItems = o.deps.Catalog.ItemCount()
	}
	if count, err := o.deps.Store.Count(ctx); err == nil {
		s.StoredSessions = count
	} else {
		s.SessionCountError = true
	}
	return s
}
