package session

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/max-delvita/scheduler-v4/internal/model"
	"github.com/max-delvita/scheduler-v4/internal/repository"
)

// Tracker maintains per-participant response state. It is deliberately
// fail-soft: a sender that is not tracked never mutates state.
type Tracker struct {
	repo repository.SessionRepository
}

// NewTracker creates a participant response tracker.
func NewTracker(repo repository.SessionRepository) *Tracker {
	return &Tracker{repo: repo}
}

// MarkReceived records a reply from a tracked participant, superseding any
// nudge state. Returns false when the sender is not tracked in the session;
// that case is logged as an anomaly and nothing is mutated.
func (t *Tracker) MarkReceived(session *model.Session, senderEmail string) (bool, error) {
	entry := session.ParticipantStates.Find(senderEmail)
	if entry == nil {
		logrus.WithFields(logrus.Fields{
			"session_id": session.ID,
			"sender":     senderEmail,
		}).Warn("Inbound message from sender not tracked in session")
		return false, nil
	}

	if entry.Status == model.ParticipantStatusReceived {
		return true, nil
	}

	if err := t.repo.UpdateParticipantStatus(session.ID, senderEmail, model.ParticipantStatusReceived, nil); err != nil {
		return false, fmt.Errorf("mark participant received: %w", err)
	}
	entry.Status = model.ParticipantStatusReceived

	logrus.WithFields(logrus.Fields{
		"session_id":  session.ID,
		"participant": senderEmail,
	}).Info("Participant response received")

	return true, nil
}

// GateOpen reports whether every tracked participant has replied. The
// workflow only contacts the organizer once the gate is open, so individual
// availability replies batch into one coherent proposal.
func (t *Tracker) GateOpen(session *model.Session) bool {
	return session.ParticipantStates.AllReceived()
}
