package model

import (
	"time"
)

// Message author roles, used to reconstruct a role-tagged conversation for
// the decision engine.
const (
	RoleOrganizer   = "organizer"
	RoleParticipant = "participant"
	RoleAssistant   = "assistant"
)

// SessionMessage represents one inbound or outbound email belonging to a
// session. Rows are immutable once created; creation time defines the
// conversation ordering the decision engine consumes.
type SessionMessage struct {
	ID                uint       `json:"id" gorm:"primaryKey;autoIncrement"`
	SessionID         string     `json:"session_id" gorm:"type:varchar(64);not null;index"`
	ProviderMessageID string     `json:"provider_message_id" gorm:"type:varchar(255);not null;uniqueIndex"`
	RFCMessageID      string     `json:"rfc_message_id" gorm:"type:varchar(255);index"`
	Role              string     `json:"role" gorm:"type:varchar(20);not null"`
	Sender            string     `json:"sender" gorm:"type:varchar(255);not null"`
	Recipients        StringList `json:"recipients" gorm:"type:json"`
	Subject           string     `json:"subject" gorm:"type:varchar(998)"`
	Body              string     `json:"body" gorm:"type:text"`
	HTMLBody          string     `json:"html_body" gorm:"type:text"`
	InReplyTo         string     `json:"in_reply_to" gorm:"type:varchar(255)"`
	CreatedAt         time.Time  `json:"created_at"`

	Session *Session `json:"-" gorm:"foreignKey:SessionID"`
}

// TableName specifies the table name for SessionMessage
func (SessionMessage) TableName() string {
	return "session_messages"
}
