package model

import (
	"time"
)

// QuarantinedEmail records an inbound message identified as a probable
// send-loop and deliberately kept out of every session. Forensic only.
type QuarantinedEmail struct {
	ID                uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	ProviderMessageID string    `json:"provider_message_id" gorm:"type:varchar(255);index"`
	Sender            string    `json:"sender" gorm:"type:varchar(255);not null"`
	Subject           string    `json:"subject" gorm:"type:varchar(998)"`
	Body              string    `json:"body" gorm:"type:text"`
	Reason            string    `json:"reason" gorm:"type:varchar(255)"`
	CreatedAt         time.Time `json:"created_at"`
}

// TableName specifies the table name for QuarantinedEmail
func (QuarantinedEmail) TableName() string {
	return "quarantined_emails"
}
