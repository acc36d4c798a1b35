// Package nudge sweeps sessions awaiting participant responses and advances
// each participant's reminder/escalation track on elapsed time.
package nudge

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/max-delvita/scheduler-v4/internal/config"
	"github.com/max-delvita/scheduler-v4/internal/events"
	"github.com/max-delvita/scheduler-v4/internal/mail"
	"github.com/max-delvita/scheduler-v4/internal/metrics"
	"github.com/max-delvita/scheduler-v4/internal/model"
	"github.com/max-delvita/scheduler-v4/internal/repository"
)

// Summary reports what one sweep did.
type Summary struct {
	SessionsScanned int `json:"sessions_scanned"`
	RemindersSent   int `json:"reminders_sent"`
	Escalations     int `json:"escalations"`
	Failures        int `json:"failures"`
}

// Sweeper runs the periodic nudge pass. It is idempotent and safe to invoke
// repeatedly: state only advances together with a successful send, so a
// failed reminder is simply retried on the next sweep.
type Sweeper struct {
	repo    repository.SessionRepository
	sender  mail.MessageSender
	cfg     config.NudgeConfig
	metrics *metrics.Metrics
	sink    events.Sink
}

// NewSweeper creates a nudge sweeper.
func NewSweeper(repo repository.SessionRepository, sender mail.MessageSender, cfg config.NudgeConfig,
	m *metrics.Metrics, sink events.Sink) *Sweeper {
	if sink == nil {
		sink = events.NopSink{}
	}
	return &Sweeper{repo: repo, sender: sender, cfg: cfg, metrics: m, sink: sink}
}

// Sweep inspects every session awaiting participant responses and advances
// each outstanding participant's track independently; one slow participant
// never blocks nudges to others.
func (s *Sweeper) Sweep(ctx context.Context) Summary {
	var summary Summary

	sessions, err := s.repo.ListSessionsByStatus(model.SessionStatusPendingParticipants)
	if err != nil {
		logrus.Errorf("Nudge sweep failed to list sessions: %v", err)
		summary.Failures++
		return summary
	}

	for i := range sessions {
		summary.SessionsScanned++
		s.sweepSession(ctx, &sessions[i], &summary)
	}

	logrus.WithFields(logrus.Fields{
		"sessions":  summary.SessionsScanned,
		"reminders": summary.RemindersSent,
		"escalated": summary.Escalations,
		"failures":  summary.Failures,
	}).Info("Nudge sweep completed")

	return summary
}

func (s *Sweeper) sweepSession(ctx context.Context, sess *model.Session, summary *Summary) {
	now := time.Now()
	threading := s.threadingFor(sess)

	for _, p := range sess.ParticipantStates {
		elapsed := now.Sub(p.LastRequestAt)

		switch p.Status {
		case model.ParticipantStatusPending:
			if elapsed >= s.cfg.FirstReminder {
				s.remind(ctx, sess, p.Email, model.ParticipantStatusNudged1, firstReminderBody(sess), threading, summary)
			}
		case model.ParticipantStatusNudged1:
			if elapsed >= s.cfg.SecondReminder {
				s.remind(ctx, sess, p.Email, model.ParticipantStatusNudged2, secondReminderBody(sess), threading, summary)
			}
		case model.ParticipantStatusNudged2:
			if elapsed >= s.cfg.Escalation {
				s.escalate(ctx, sess, p.Email, threading, summary)
			}
		}
	}
}

// remind sends one reminder; the participant's status and timestamp advance
// only when the send succeeded.
func (s *Sweeper) remind(ctx context.Context, sess *model.Session, email, nextStatus, body string,
	threading mail.ThreadingContext, summary *Summary) {
	_, err := s.sender.SendThreaded(ctx, mail.SendRequest{
		Recipients:   []string{email},
		Subject:      nudgeSubject(sess),
		Body:         body,
		RoutingToken: sess.ID,
		Threading:    threading,
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"session_id":  sess.ID,
			"participant": email,
		}).Errorf("Reminder send failed, will retry next sweep: %v", err)
		s.metrics.SendFailures.Inc()
		summary.Failures++
		return
	}
	s.metrics.SendSuccesses.Inc()
	s.metrics.NudgesSent.Inc()

	now := time.Now()
	if err := s.repo.UpdateParticipantStatus(sess.ID, email, nextStatus, &now); err != nil {
		logrus.Errorf("Failed to advance nudge state for %s: %v", email, err)
		summary.Failures++
		return
	}
	summary.RemindersSent++
	s.sink.Publish("participant.nudged", sess.ID, map[string]string{
		"participant": email,
		"status":      nextStatus,
	})
}

// escalate notifies the organizer instead of the participant and flips the
// session to escalated.
func (s *Sweeper) escalate(ctx context.Context, sess *model.Session, email string,
	threading mail.ThreadingContext, summary *Summary) {
	_, err := s.sender.SendThreaded(ctx, mail.SendRequest{
		Recipients:   []string{sess.OrganizerEmail},
		Subject:      nudgeSubject(sess),
		Body:         escalationBody(sess, email),
		RoutingToken: sess.ID,
		Threading:    threading,
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"session_id":  sess.ID,
			"participant": email,
		}).Errorf("Escalation send failed, will retry next sweep: %v", err)
		s.metrics.SendFailures.Inc()
		summary.Failures++
		return
	}
	s.metrics.SendSuccesses.Inc()
	s.metrics.Escalations.Inc()

	now := time.Now()
	if err := s.repo.UpdateParticipantStatus(sess.ID, email, model.ParticipantStatusEscalated, &now); err != nil {
		logrus.Errorf("Failed to mark participant %s escalated: %v", email, err)
		summary.Failures++
		return
	}
	if err := s.repo.UpdateSessionFields(sess.ID, map[string]interface{}{
		"status": model.SessionStatusEscalatedToOrganizer,
	}); err != nil {
		logrus.Errorf("Failed to mark session %s escalated: %v", sess.ID, err)
	}
	summary.Escalations++
	s.sink.Publish("participant.escalated", sess.ID, email)
}

// threadingFor anchors reminders on the last assistant-sent message so mail
// clients keep them in the existing conversation.
func (s *Sweeper) threadingFor(sess *model.Session) mail.ThreadingContext {
	messages, err := s.repo.ListMessages(sess.ID)
	if err != nil {
		logrus.Errorf("Failed to load messages for threading: %v", err)
		return mail.ThreadingContext{}
	}
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == model.RoleAssistant {
			return mail.ThreadingContext{TriggerRFCID: messages[i].RFCMessageID}
		}
	}
	return mail.ThreadingContext{}
}

func nudgeSubject(sess *model.Session) string {
	if sess.Topic != "" {
		return "Re: " + sess.Topic
	}
	return "Re: Scheduling your meeting"
}

func firstReminderBody(sess *model.Session) string {
	return fmt.Sprintf("Hi,\n\nJust a gentle reminder - I'm still waiting for your availability for %s. A quick reply with a few times that work for you would be great.\n\nThanks!",
		topicOr(sess, "the meeting we're scheduling"))
}

func secondReminderBody(sess *model.Session) string {
	return fmt.Sprintf("Hi,\n\nFollowing up once more on %s - I haven't heard back yet and the others are waiting on your availability. Could you send a few times that work for you?\n\nThanks!",
		topicOr(sess, "the meeting we're scheduling"))
}

func escalationBody(sess *model.Session, participant string) string {
	return fmt.Sprintf("Hi %s,\n\nDespite a couple of reminders, %s hasn't replied with their availability for %s. Would you like to proceed without them, pick a time yourself, or reach out to them directly?",
		organizerName(sess), participant, topicOr(sess, "the meeting"))
}

func topicOr(sess *model.Session, fallback string) string {
	if sess.Topic != "" {
		return "\"" + sess.Topic + "\""
	}
	return fallback
}

func organizerName(sess *model.Session) string {
	if sess.OrganizerName != "" {
		return sess.OrganizerName
	}
	return sess.OrganizerEmail
}
