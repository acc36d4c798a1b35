package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIntentValid(t *testing.T) {
	for _, intent := range []Intent{
		IntentNewRequest, IntentProvideAvailability, IntentProposeAlternative,
		IntentConfirmTime, IntentClarificationQuery, IntentRequestCancellation,
		IntentRequestReschedule, IntentSimpleReply, IntentUnknown,
	} {
		assert.True(t, intent.Valid(), string(intent))
	}
	assert.False(t, Intent("").Valid())
	assert.False(t, Intent("schedule_meeting").Valid())
}

func TestNextStepValid(t *testing.T) {
	for _, step := range []NextStep{
		StepRequestClarification, StepAskParticipantAvailability,
		StepProposeTimeToOrganizer, StepProposeTimeToParticipant,
		StepSendFinalConfirmation, StepProcessCancellation,
		StepInformOrganizerCancellation, StepProcessOrganizerChange,
		StepProcessParticipantChange, StepNoAction, StepCannotSchedule,
	} {
		assert.True(t, step.Valid(), string(step))
	}
	assert.False(t, NextStep("").Valid())
	assert.False(t, NextStep("reply_to_everyone").Valid())
}

func TestRequiresSend(t *testing.T) {
	assert.False(t, StepNoAction.RequiresSend())
	assert.False(t, StepCannotSchedule.RequiresSend())
	assert.True(t, StepAskParticipantAvailability.RequiresSend())
	assert.True(t, StepSendFinalConfirmation.RequiresSend())
	assert.True(t, StepProcessCancellation.RequiresSend())
}

func TestDecisionValidate(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name     string
		decision Decision
		wantErr  bool
	}{
		{
			name: "send step with recipients and body",
			decision: Decision{
				NextStep:   StepAskParticipantAvailability,
				Recipients: []string{"p1@x.com"},
				EmailBody:  "What times work?",
			},
		},
		{
			name: "send step without recipients",
			decision: Decision{
				NextStep:  StepAskParticipantAvailability,
				EmailBody: "What times work?",
			},
			wantErr: true,
		},
		{
			name: "send step without body",
			decision: Decision{
				NextStep:   StepProposeTimeToOrganizer,
				Recipients: []string{"dana@x.com"},
			},
			wantErr: true,
		},
		{
			name:     "no-action step with nothing attached",
			decision: Decision{NextStep: StepNoAction},
		},
		{
			name: "no-action step leaking a body",
			decision: Decision{
				NextStep:  StepNoAction,
				EmailBody: "Noted, thanks!",
			},
			wantErr: true,
		},
		{
			name: "no-action step leaking recipients",
			decision: Decision{
				NextStep:   StepCannotSchedule,
				Recipients: []string{"p1@x.com"},
			},
			wantErr: true,
		},
		{
			name:     "unknown step",
			decision: Decision{NextStep: NextStep("escalate_to_support")},
			wantErr:  true,
		},
		{
			name: "confirmation with time",
			decision: Decision{
				NextStep:      StepSendFinalConfirmation,
				Recipients:    []string{"dana@x.com"},
				EmailBody:     "Confirmed.",
				ConfirmedTime: &now,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.decision.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
