package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Session status values. confirmed, cancelled and error are terminal.
const (
	SessionStatusNew                  = "new"
	SessionStatusPendingParticipants  = "pending_participant_response"
	SessionStatusPendingOrganizer     = "pending_organizer_confirmation"
	SessionStatusConfirmed            = "confirmed"
	SessionStatusEscalatedToOrganizer = "escalated_to_organizer"
	SessionStatusCancelled            = "cancelled"
	SessionStatusError                = "error"
)

// Participant status values. received supersedes any nudge state, so the
// nudge track needs no separate column.
const (
	ParticipantStatusPending   = "pending"
	ParticipantStatusNudged1   = "nudged_1"
	ParticipantStatusNudged2   = "nudged_2"
	ParticipantStatusEscalated = "escalated"
	ParticipantStatusReceived  = "received"
)

// StringList is a JSON-encoded string slice column.
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		l = StringList{}
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = StringList{}
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		if s, ok := value.(string); ok {
			b = []byte(s)
		} else {
			return fmt.Errorf("unsupported type %T for StringList", value)
		}
	}
	return json.Unmarshal(b, l)
}

// ParticipantState tracks one participant's progress within a session.
// LastRequestAt is the time of the last outbound email addressed to them,
// which is what the nudge thresholds are measured against.
type ParticipantState struct {
	Email         string    `json:"email"`
	Status        string    `json:"status"`
	LastRequestAt time.Time `json:"last_request_at"`
}

// ParticipantStates is a JSON-encoded participant status column.
type ParticipantStates []ParticipantState

// Value implements driver.Valuer.
func (p ParticipantStates) Value() (driver.Value, error) {
	if p == nil {
		p = ParticipantStates{}
	}
	return json.Marshal(p)
}

// Scan implements sql.Scanner.
func (p *ParticipantStates) Scan(value interface{}) error {
	if value == nil {
		*p = ParticipantStates{}
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		if s, ok := value.(string); ok {
			b = []byte(s)
		} else {
			return fmt.Errorf("unsupported type %T for ParticipantStates", value)
		}
	}
	return json.Unmarshal(b, p)
}

// Find returns the state entry for the given address, or nil.
func (p ParticipantStates) Find(email string) *ParticipantState {
	for i := range p {
		if p[i].Email == email {
			return &p[i]
		}
	}
	return nil
}

// AllReceived reports whether every tracked participant has replied.
// True for an empty set: a session with no participants has nothing to wait for.
func (p ParticipantStates) AllReceived() bool {
	for i := range p {
		if p[i].Status != ParticipantStatusReceived {
			return false
		}
	}
	return true
}

// Session represents one meeting-scheduling negotiation. The primary key
// doubles as the reply-routing token embedded in outbound Reply-To addresses.
type Session struct {
	ID                string            `json:"id" gorm:"type:varchar(64);primaryKey"`
	OrganizerEmail    string            `json:"organizer_email" gorm:"type:varchar(255);not null;index"`
	OrganizerName     string            `json:"organizer_name" gorm:"type:varchar(255)"`
	Participants      StringList        `json:"participants" gorm:"type:json"`
	ParticipantStates ParticipantStates `json:"participant_states" gorm:"type:json"`
	Status            string            `json:"status" gorm:"type:varchar(50);not null;index"`
	Topic             string            `json:"topic" gorm:"type:varchar(500)"`
	DurationMinutes   int               `json:"duration_minutes"`
	Location          string            `json:"location" gorm:"type:varchar(500)"`
	Virtual           bool              `json:"virtual"`
	Timezones         StringList        `json:"timezones" gorm:"type:json"`
	ConfirmedTime     *time.Time        `json:"confirmed_time"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// TableName specifies the table name for Session
func (Session) TableName() string {
	return "sessions"
}
