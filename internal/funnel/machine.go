// Package funnel implements the sales-funnel state machine for a
// conversation. Advancement is pure and deterministic; the orchestrator
// owns side effects (CRM sync, notifications).
package funnel

import "fmt"

// Stage is a conversation's position in the sales funnel.
type Stage string

const (
	StageNew         Stage = "new"
	StageEngaged     Stage = "engaged"
	StageInterested  Stage = "interested"
	StageAppointment Stage = "appointment"
	StageNoShow      Stage = "no_show"
	StageClosed      Stage = "closed"
)

// Trigger is an observed fact that may advance the funnel.
type Trigger string

const (
	TriggerFirstContact         Trigger = "first_contact"
	TriggerReply                Trigger = "reply"
	TriggerModelMentioned       Trigger = "model_mentioned"
	TriggerAppointmentConfirmed Trigger = "appointment_confirmed"
	TriggerManualNoShow         Trigger = "manual_no_show"
	TriggerManualClosed         Trigger = "manual_closed"
)

// Transition records a single stage change.
type Transition struct {
	From    Stage
	To      Stage
	Trigger Trigger
	Note    string
}

// rank orders the automatic stages. Manual terminal stages are outside the
// automatic ordering.
var rank = map[Stage]int{
	StageNew:         0,
	StageEngaged:     1,
	StageInterested:  2,
	StageAppointment: 3,
}

// IsTerminal reports whether automatic triggers can no longer move the stage.
func IsTerminal(stage Stage) bool {
	return stage == StageNoShow || stage == StageClosed
}

// Advance applies a trigger to the current stage and returns the resulting
// stage plus the transitions performed. Unmatched triggers are no-ops.
// Automatic advancement is monotonic: a trigger targeting an earlier or
// equal stage changes nothing.
func Advance(stage Stage, turnCount int, trigger Trigger) (Stage, []Transition) {
	if stage == "" {
		stage = StageNew
	}

	switch trigger {
	case TriggerManualNoShow:
		return manual(stage, StageNoShow, trigger, "marked no-show by operator")
	case TriggerManualClosed:
		return manual(stage, StageClosed, trigger, "closed by operator")
	}

	if IsTerminal(stage) {
		return stage, nil
	}

	var target Stage
	var note string
	switch trigger {
	case TriggerFirstContact:
		// First contact establishes the session at the entry stage.
		return stage, nil
	case TriggerReply:
		if turnCount <= 1 {
			return stage, nil
		}
		target = StageEngaged
		note = "contact replied beyond the first turn"
	case TriggerModelMentioned:
		target = StageInterested
		note = "contact asked about a specific model"
	case TriggerAppointmentConfirmed:
		target = StageAppointment
		note = "appointment confirmed"
	default:
		return stage, nil
	}

	if rank[target] <= rank[stage] {
		return stage, nil
	}

	return target, []Transition{{
		From:    stage,
		To:      target,
		Trigger: trigger,
		Note:    note,
	}}
}

func manual(from, to Stage, trigger Trigger, note string) (Stage, []Transition) {
	if from == to {
		return from, nil
	}
	return to, []Transition{{From: from, To: to, Trigger: trigger, Note: note}}
}

// Label returns the CRM-facing display name for a stage.
func Label(stage Stage) string {
	switch stage {
	case StageNew:
		return "Mensaje"
	case StageEngaged:
		return "Enganche"
	case StageInterested:
		return "Intención"
	case StageAppointment:
		return "Cita agendada"
	case StageNoShow:
		return "No asistió"
	case StageClosed:
		return "Cerrado"
	default:
		return string(stage)
	}
}

// SyncsToCRM reports whether reaching the stage should be forwarded to the
// CRM board.
func SyncsToCRM(stage Stage) bool {
	switch stage {
	case StageEngaged, StageInterested, StageAppointment:
		return true
	default:
		return false
	}
}

// Parse converts a stored stage value, defaulting unknown values to the
// entry stage.
func Parse(value string) (Stage, error) {
	switch Stage(value) {
	case StageNew, StageEngaged, StageInterested, StageAppointment, StageNoShow, StageClosed:
		return Stage(value), nil
	case "":
		return StageNew, nil
	default:
		return StageNew, fmt.Errorf("unknown funnel stage %q", value)
	}
}
