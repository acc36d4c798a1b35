// Package engine is the boundary to the AI decision-maker. It fixes the
// structured input context and output contract; the model behind it is
// treated as fallible and latency-bearing.
package engine

import (
	"context"
	"fmt"
	"time"
)

// Intent is the closed classification of what the latest inbound message is
// doing, produced by the first decision stage. Classification never produces
// outbound content.
type Intent string

const (
	IntentNewRequest          Intent = "new_request"
	IntentProvideAvailability Intent = "provide_availability"
	IntentProposeAlternative  Intent = "propose_alternative"
	IntentConfirmTime         Intent = "confirm_time"
	IntentClarificationQuery  Intent = "clarification_query"
	IntentRequestCancellation Intent = "request_cancellation"
	IntentRequestReschedule   Intent = "request_reschedule"
	IntentSimpleReply         Intent = "simple_reply"
	IntentUnknown             Intent = "unknown"
)

// NextStep is the closed action decision produced by the second stage.
type NextStep string

const (
	StepRequestClarification        NextStep = "request_clarification"
	StepAskParticipantAvailability  NextStep = "ask_participant_availability"
	StepProposeTimeToOrganizer      NextStep = "propose_time_to_organizer"
	StepProposeTimeToParticipant    NextStep = "propose_time_to_participant"
	StepSendFinalConfirmation       NextStep = "send_final_confirmation"
	StepProcessCancellation         NextStep = "process_cancellation"
	StepInformOrganizerCancellation NextStep = "inform_organizer_of_participant_cancellation"
	StepProcessOrganizerChange      NextStep = "process_organizer_change_request"
	StepProcessParticipantChange    NextStep = "process_participant_change_request"
	StepNoAction                    NextStep = "no_action_needed"
	StepCannotSchedule              NextStep = "error_cannot_schedule"
)

var validIntents = map[Intent]bool{
	IntentNewRequest: true, IntentProvideAvailability: true,
	IntentProposeAlternative: true, IntentConfirmTime: true,
	IntentClarificationQuery: true, IntentRequestCancellation: true,
	IntentRequestReschedule: true, IntentSimpleReply: true, IntentUnknown: true,
}

var validSteps = map[NextStep]bool{
	StepRequestClarification: true, StepAskParticipantAvailability: true,
	StepProposeTimeToOrganizer: true, StepProposeTimeToParticipant: true,
	StepSendFinalConfirmation: true, StepProcessCancellation: true,
	StepInformOrganizerCancellation: true, StepProcessOrganizerChange: true,
	StepProcessParticipantChange: true, StepNoAction: true, StepCannotSchedule: true,
}

// Valid reports whether the intent is in the closed enumeration.
func (i Intent) Valid() bool { return validIntents[i] }

// Valid reports whether the step is in the closed enumeration.
func (s NextStep) Valid() bool { return validSteps[s] }

// RequiresSend reports whether the step carries an outbound email.
func (s NextStep) RequiresSend() bool {
	return s != StepNoAction && s != StepCannotSchedule
}

// ParticipantSnapshot is one row of the per-participant status table handed
// to the model.
type ParticipantSnapshot struct {
	Email         string    `json:"email"`
	Status        string    `json:"status"`
	LastRequestAt time.Time `json:"last_request_at"`
}

// SessionContext is the typed session state both stages receive. It is
// serialized only at the model boundary.
type SessionContext struct {
	SessionID       string                `json:"session_id"`
	Status          string                `json:"status"`
	OrganizerEmail  string                `json:"organizer_email"`
	OrganizerName   string                `json:"organizer_name,omitempty"`
	Participants    []string              `json:"participants"`
	ParticipantRows []ParticipantSnapshot `json:"participant_status"`
	Topic           string                `json:"topic,omitempty"`
	DurationMinutes int                   `json:"duration_minutes,omitempty"`
	Location        string                `json:"location,omitempty"`
	Virtual         bool                  `json:"virtual,omitempty"`
	Timezones       []string              `json:"timezones,omitempty"`
	ConfirmedTime   *time.Time            `json:"confirmed_time,omitempty"`
}

// HistoryMessage is one role-tagged conversation entry.
type HistoryMessage struct {
	Role   string    `json:"role"` // organizer, participant or assistant
	Sender string    `json:"sender"`
	Body   string    `json:"body"`
	SentAt time.Time `json:"sent_at"`
}

// Classification is the first-stage output.
type Classification struct {
	Intent Intent
	// RequestingParticipant is set when a specific participant asked for a
	// cancellation or reschedule.
	RequestingParticipant string
}

// Decision is the second-stage output.
type Decision struct {
	NextStep      NextStep
	Recipients    []string
	EmailBody     string
	ConfirmedTime *time.Time
}

// Validate enforces the output contract the model is asked for but not
// guaranteed to honor: send-bearing steps need both recipients and a body,
// no-action steps must carry neither.
func (d *Decision) Validate() error {
	if !d.NextStep.Valid() {
		return fmt.Errorf("unknown next step %q", d.NextStep)
	}
	if d.NextStep.RequiresSend() {
		if len(d.Recipients) == 0 {
			return fmt.Errorf("step %s requires recipients", d.NextStep)
		}
		if d.EmailBody == "" {
			return fmt.Errorf("step %s requires an email body", d.NextStep)
		}
		return nil
	}
	if len(d.Recipients) != 0 || d.EmailBody != "" {
		return fmt.Errorf("step %s must not carry recipients or a body", d.NextStep)
	}
	return nil
}

// DecisionEngine is the two-stage routed decision boundary.
type DecisionEngine interface {
	ClassifyIntent(ctx context.Context, history []HistoryMessage, latest HistoryMessage, sc SessionContext) (Classification, error)
	DecideAction(ctx context.Context, history []HistoryMessage, latest HistoryMessage, sc SessionContext, intent Intent) (Decision, error)
}
