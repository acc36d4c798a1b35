package workflow

import (
	"github.com/sirupsen/logrus"

	"github.com/max-delvita/scheduler-v4/internal/mail"
	"github.com/max-delvita/scheduler-v4/internal/model"
	"github.com/max-delvita/scheduler-v4/internal/repository"
)

// LoopGuard detects inbound messages that originated from the assistant's
// own outbound sends. Feeding those back into the resolver is the primary
// feedback-loop vector, so they are archived and dropped before any session
// resolution happens.
type LoopGuard struct {
	repo          repository.SessionRepository
	assistantAddr string
}

// NewLoopGuard creates a loop guard bound to the assistant's address.
func NewLoopGuard(repo repository.SessionRepository, assistantAddr string) *LoopGuard {
	return &LoopGuard{repo: repo, assistantAddr: assistantAddr}
}

// Quarantined reports whether the message is a probable send-loop and, if
// so, archives it. A message from the assistant's own address passes only
// when it carries a syntactically valid routing token (the rare legitimate
// case of the assistant being cc'd on its own thread).
func (g *LoopGuard) Quarantined(msg mail.CanonicalMessage) bool {
	if !mail.IsAssistantAddress(msg.SenderEmail, g.assistantAddr) {
		return false
	}
	if mail.ValidRoutingToken(msg.RoutingToken) {
		return false
	}

	record := &model.QuarantinedEmail{
		ProviderMessageID: msg.ProviderMessageID,
		Sender:            msg.SenderEmail,
		Subject:           msg.Subject,
		Body:              msg.TextBody,
		Reason:            "self-sender without valid routing token",
	}
	if err := g.repo.Quarantine(record); err != nil {
		logrus.Errorf("Failed to archive quarantined message: %v", err)
	}

	logrus.WithFields(logrus.Fields{
		"provider_message_id": msg.ProviderMessageID,
		"sender":              msg.SenderEmail,
	}).Warn("Quarantined probable send-loop message")

	return true
}
