// Package workflow is the scheduling state machine: it turns inbound emails
// into decision-engine calls and decision-engine output into the correct set
// of outbound emails and durable state transitions.
package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/max-delvita/scheduler-v4/internal/engine"
	"github.com/max-delvita/scheduler-v4/internal/enrich"
	"github.com/max-delvita/scheduler-v4/internal/events"
	"github.com/max-delvita/scheduler-v4/internal/mail"
	"github.com/max-delvita/scheduler-v4/internal/metrics"
	"github.com/max-delvita/scheduler-v4/internal/model"
	"github.com/max-delvita/scheduler-v4/internal/repository"
	"github.com/max-delvita/scheduler-v4/internal/session"
)

// Outcome statuses reported back to the webhook handler. The transport
// response is always a success either way; these only describe what happened.
const (
	OutcomeProcessed   = "processed"
	OutcomeIgnored     = "ignored"
	OutcomeDuplicate   = "duplicate"
	OutcomeQuarantined = "quarantined"
	OutcomeFailed      = "could_not_process"
)

// Outcome summarizes one inbound handling run.
type Outcome struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id,omitempty"`
}

// Workflow wires the components of one inbound-message handling run.
type Workflow struct {
	repo          repository.SessionRepository
	sender        mail.MessageSender
	engine        engine.DecisionEngine
	resolver      *session.Resolver
	tracker       *session.Tracker
	guard         *LoopGuard
	metrics       *metrics.Metrics
	sink          events.Sink
	assistantAddr string
}

// New creates a workflow with injected dependencies.
func New(repo repository.SessionRepository, sender mail.MessageSender, eng engine.DecisionEngine,
	m *metrics.Metrics, sink events.Sink, assistantAddr string) *Workflow {
	if sink == nil {
		sink = events.NopSink{}
	}
	return &Workflow{
		repo:          repo,
		sender:        sender,
		engine:        eng,
		resolver:      session.NewResolver(repo, assistantAddr),
		tracker:       session.NewTracker(repo),
		guard:         NewLoopGuard(repo, assistantAddr),
		metrics:       m,
		sink:          sink,
		assistantAddr: assistantAddr,
	}
}

// HandleInbound processes one inbound email event end to end. Every failure
// mode degrades to "no further action"; nothing escapes to the transport.
func (w *Workflow) HandleInbound(ctx context.Context, payload *mail.InboundPayload) Outcome {
	start := time.Now()
	defer func() {
		w.metrics.ProcessingTime.Observe(time.Since(start).Seconds())
	}()
	w.metrics.InboundCount.Inc()

	msg, ok := mail.Normalize(payload)
	if !ok {
		logrus.Warn("Ignoring inbound payload without a usable sender")
		return Outcome{Status: OutcomeIgnored}
	}

	// Redelivery dedup before anything else: the provider retries on its
	// own schedule and a replay must not create duplicate sessions or sends.
	if msg.ProviderMessageID != "" {
		seen, err := w.repo.SeenProviderMessage(msg.ProviderMessageID)
		if err != nil {
			logrus.Errorf("Dedup check failed: %v", err)
			return Outcome{Status: OutcomeFailed}
		}
		if seen {
			logrus.WithFields(logrus.Fields{
				"provider_message_id": msg.ProviderMessageID,
			}).Info("Skipping already-processed inbound message")
			w.metrics.DuplicateCount.Inc()
			return Outcome{Status: OutcomeDuplicate}
		}
	}

	if w.guard.Quarantined(msg) {
		w.metrics.QuarantinedCount.Inc()
		w.sink.Publish("message.quarantined", "", msg.ProviderMessageID)
		return Outcome{Status: OutcomeQuarantined}
	}

	res, err := w.resolver.Resolve(msg)
	if err != nil {
		// The only genuinely distinct failure: nothing can be persisted or
		// acted upon without a session identity.
		logrus.Errorf("Session resolution failed: %v", err)
		return Outcome{Status: OutcomeFailed}
	}
	sess := res.Session
	if res.Created {
		w.metrics.SessionsCreated.Inc()
		w.sink.Publish("session.created", sess.ID, sess.OrganizerEmail)
	}

	log := logrus.WithFields(logrus.Fields{
		"session_id": sess.ID,
		"sender":     msg.SenderEmail,
		"via":        res.Via,
	})

	role := w.roleOf(sess, msg.SenderEmail)
	inbound := &model.SessionMessage{
		SessionID:         sess.ID,
		ProviderMessageID: msg.ProviderMessageID,
		RFCMessageID:      msg.RFCMessageID,
		Role:              role,
		Sender:            msg.SenderEmail,
		Recipients:        append(model.StringList{}, append(msg.To, msg.Cc...)...),
		Subject:           msg.Subject,
		Body:              msg.TextBody,
		HTMLBody:          msg.HTMLBody,
		InReplyTo:         msg.InReplyTo,
	}
	if err := w.repo.SaveMessage(inbound); err != nil {
		log.Errorf("Failed to persist inbound message: %v", err)
		return Outcome{Status: OutcomeFailed, SessionID: sess.ID}
	}

	if updates := enrich.Apply(sess, enrich.Extract(msg.Subject+"\n"+msg.TextBody)); len(updates) > 0 {
		if err := w.repo.UpdateSessionFields(sess.ID, updates); err != nil {
			log.Errorf("Failed to persist enrichment: %v", err)
		}
	}

	switch role {
	case model.RoleAssistant:
		// Legitimately routed copy of our own mail; persisted for audit,
		// never acted on.
		log.Info("Stored assistant-originated message without action")
		return Outcome{Status: OutcomeProcessed, SessionID: sess.ID}

	case model.RoleParticipant:
		tracked, err := w.tracker.MarkReceived(sess, msg.SenderEmail)
		if err != nil {
			log.Errorf("Failed to update participant status: %v", err)
			return Outcome{Status: OutcomeProcessed, SessionID: sess.ID}
		}
		if !tracked {
			// Anomalous sender: logged by the tracker, message kept for
			// audit, state untouched.
			return Outcome{Status: OutcomeProcessed, SessionID: sess.ID}
		}
		if !w.tracker.GateOpen(sess) {
			log.Info("Waiting for remaining participants before proceeding")
			return Outcome{Status: OutcomeProcessed, SessionID: sess.ID}
		}
	}

	w.act(ctx, sess, msg, log)
	return Outcome{Status: OutcomeProcessed, SessionID: sess.ID}
}

// act invokes the decision engine and applies its output. All failures
// degrade to no action.
func (w *Workflow) act(ctx context.Context, sess *model.Session, msg mail.CanonicalMessage, log *logrus.Entry) {
	history, latest, err := w.conversationFor(sess, msg)
	if err != nil {
		log.Errorf("Failed to load conversation history: %v", err)
		return
	}
	sc := contextFor(sess)

	w.metrics.DecisionCount.Inc()
	classification, err := w.engine.ClassifyIntent(ctx, history, latest, sc)
	if err != nil {
		log.Errorf("Intent classification failed: %v", err)
		w.metrics.DecisionFailures.Inc()
		return
	}
	log = log.WithField("intent", classification.Intent)

	decision, err := w.engine.DecideAction(ctx, history, latest, sc, classification.Intent)
	if err != nil {
		log.Errorf("Action decision failed: %v", err)
		w.metrics.DecisionFailures.Inc()
		return
	}
	if err := decision.Validate(); err != nil {
		// The engine is probabilistic; a contract violation is downgraded
		// to no action rather than trusted.
		log.Warnf("Decision violates output contract, taking no action: %v", err)
		w.metrics.DecisionFailures.Inc()
		return
	}
	log = log.WithField("next_step", decision.NextStep)

	if !decision.NextStep.RequiresSend() {
		if decision.NextStep == engine.StepCannotSchedule {
			w.transition(sess, map[string]interface{}{"status": model.SessionStatusError}, log)
		}
		log.Info("Decision requires no outbound email")
		return
	}

	recipients, broadcast := w.authorizedRecipients(decision.NextStep, decision.Recipients, sess)
	if len(recipients) == 0 {
		log.Warn("No valid recipients left after role filtering, taking no action")
		return
	}

	providerID, err := w.sender.SendThreaded(ctx, mail.SendRequest{
		Recipients:   recipients,
		Subject:      replySubject(sess, msg),
		Body:         decision.EmailBody,
		RoutingToken: sess.ID,
		Broadcast:    broadcast,
		Threading: mail.ThreadingContext{
			TriggerRFCID:        msg.RFCMessageID,
			InheritedReferences: msg.RawReferences,
		},
	})
	if err != nil {
		// No assistant message is persisted for an email that was never
		// delivered.
		log.Errorf("Outbound send failed: %v", err)
		w.metrics.SendFailures.Inc()
		return
	}
	w.metrics.SendSuccesses.Inc()

	outbound := &model.SessionMessage{
		SessionID:         sess.ID,
		ProviderMessageID: providerID,
		RFCMessageID:      providerID,
		Role:              model.RoleAssistant,
		Sender:            w.assistantAddr,
		Recipients:        append(model.StringList{}, recipients...),
		Subject:           replySubject(sess, msg),
		Body:              decision.EmailBody,
		InReplyTo:         msg.RFCMessageID,
	}
	if err := w.repo.SaveMessage(outbound); err != nil {
		log.Errorf("Failed to persist outbound message: %v", err)
	}

	w.touchRequestedParticipants(sess, decision.NextStep, recipients, log)

	updates := map[string]interface{}{}
	if next := nextStatus(decision.NextStep, sess.Status); next != sess.Status {
		updates["status"] = next
	}
	if decision.ConfirmedTime != nil && decision.NextStep == engine.StepSendFinalConfirmation {
		updates["confirmed_time"] = decision.ConfirmedTime
	}
	if len(updates) > 0 {
		w.transition(sess, updates, log)
	}

	w.sink.Publish("email.sent", sess.ID, map[string]interface{}{
		"next_step":  string(decision.NextStep),
		"recipients": recipients,
	})
	log.WithField("recipients", recipients).Info("Processed inbound message and sent reply")
}

func (w *Workflow) roleOf(sess *model.Session, sender string) string {
	switch {
	case sender == sess.OrganizerEmail:
		return model.RoleOrganizer
	case mail.IsAssistantAddress(sender, w.assistantAddr):
		return model.RoleAssistant
	default:
		return model.RoleParticipant
	}
}

// authorizedRecipients applies the workflow's final authority over the
// engine-suggested recipient list: the assistant's own address never
// receives mail, participants-only steps never include the organizer, and
// organizer-facing or broadcast steps ignore the suggestion entirely.
func (w *Workflow) authorizedRecipients(step engine.NextStep, suggested []string, sess *model.Session) ([]string, bool) {
	switch step {
	case engine.StepSendFinalConfirmation, engine.StepProcessCancellation:
		all := append([]string{sess.OrganizerEmail}, sess.Participants...)
		return w.stripAssistant(all), true

	case engine.StepProposeTimeToOrganizer, engine.StepRequestClarification,
		engine.StepInformOrganizerCancellation, engine.StepProcessParticipantChange:
		return w.stripAssistant([]string{sess.OrganizerEmail}), false

	case engine.StepProcessOrganizerChange:
		// Organizer changed the plan; every participant is re-asked.
		return w.stripAssistant(sess.Participants), false

	default: // participant-facing: ask availability, propose time
		var out []string
		seen := make(map[string]bool)
		for _, r := range suggested {
			if seen[r] || mail.IsAssistantAddress(r, w.assistantAddr) || r == sess.OrganizerEmail {
				continue
			}
			seen[r] = true
			out = append(out, r)
		}
		return out, false
	}
}

func (w *Workflow) stripAssistant(addrs []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, a := range addrs {
		if a == "" || seen[a] || mail.IsAssistantAddress(a, w.assistantAddr) {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out
}

// touchRequestedParticipants resets tracked participants that were just
// asked for something: their status returns to pending and the nudge clock
// restarts from this send.
func (w *Workflow) touchRequestedParticipants(sess *model.Session, step engine.NextStep, recipients []string, log *logrus.Entry) {
	switch step {
	case engine.StepAskParticipantAvailability, engine.StepProposeTimeToParticipant,
		engine.StepProcessOrganizerChange:
	default:
		return
	}
	now := time.Now()
	for _, rcpt := range recipients {
		if sess.ParticipantStates.Find(rcpt) == nil {
			continue
		}
		if err := w.repo.UpdateParticipantStatus(sess.ID, rcpt, model.ParticipantStatusPending, &now); err != nil {
			log.Errorf("Failed to reset participant %s: %v", rcpt, err)
		}
	}
}

func (w *Workflow) transition(sess *model.Session, updates map[string]interface{}, log *logrus.Entry) {
	if err := w.repo.UpdateSessionFields(sess.ID, updates); err != nil {
		log.Errorf("Failed to update session state: %v", err)
		return
	}
	if status, ok := updates["status"].(string); ok {
		w.sink.Publish("session.status_changed", sess.ID, map[string]string{
			"from": sess.Status,
			"to":   status,
		})
		sess.Status = status
	}
}

// conversationFor rebuilds the ordered role-tagged history, with the
// triggering message split out as the latest entry.
func (w *Workflow) conversationFor(sess *model.Session, msg mail.CanonicalMessage) ([]engine.HistoryMessage, engine.HistoryMessage, error) {
	stored, err := w.repo.ListMessages(sess.ID)
	if err != nil {
		return nil, engine.HistoryMessage{}, fmt.Errorf("list messages: %w", err)
	}

	var history []engine.HistoryMessage
	latest := engine.HistoryMessage{
		Role:   w.roleOf(sess, msg.SenderEmail),
		Sender: msg.SenderEmail,
		Body:   msg.TextBody,
		SentAt: time.Now(),
	}
	for _, m := range stored {
		if m.ProviderMessageID == msg.ProviderMessageID {
			latest.SentAt = m.CreatedAt
			continue
		}
		history = append(history, engine.HistoryMessage{
			Role:   m.Role,
			Sender: m.Sender,
			Body:   m.Body,
			SentAt: m.CreatedAt,
		})
	}
	return history, latest, nil
}

func contextFor(sess *model.Session) engine.SessionContext {
	sc := engine.SessionContext{
		SessionID:       sess.ID,
		Status:          sess.Status,
		OrganizerEmail:  sess.OrganizerEmail,
		OrganizerName:   sess.OrganizerName,
		Participants:    sess.Participants,
		Topic:           sess.Topic,
		DurationMinutes: sess.DurationMinutes,
		Location:        sess.Location,
		Virtual:         sess.Virtual,
		Timezones:       sess.Timezones,
		ConfirmedTime:   sess.ConfirmedTime,
	}
	for _, p := range sess.ParticipantStates {
		sc.ParticipantRows = append(sc.ParticipantRows, engine.ParticipantSnapshot{
			Email:         p.Email,
			Status:        p.Status,
			LastRequestAt: p.LastRequestAt,
		})
	}
	return sc
}

// nextStatus implements the transition table. Steps not listed keep the
// current status.
func nextStatus(step engine.NextStep, current string) string {
	switch step {
	case engine.StepAskParticipantAvailability, engine.StepProposeTimeToParticipant,
		engine.StepProcessOrganizerChange:
		return model.SessionStatusPendingParticipants
	case engine.StepProposeTimeToOrganizer, engine.StepRequestClarification:
		return model.SessionStatusPendingOrganizer
	case engine.StepSendFinalConfirmation:
		return model.SessionStatusConfirmed
	case engine.StepProcessCancellation:
		return model.SessionStatusCancelled
	case engine.StepProcessParticipantChange:
		return model.SessionStatusEscalatedToOrganizer
	case engine.StepCannotSchedule:
		return model.SessionStatusError
	default:
		return current
	}
}

func replySubject(sess *model.Session, msg mail.CanonicalMessage) string {
	subject := msg.Subject
	if subject == "" && sess.Topic != "" {
		subject = sess.Topic
	}
	if subject == "" {
		subject = "Scheduling your meeting"
	}
	if len(subject) >= 3 && (subject[:3] == "Re:" || subject[:3] == "RE:") {
		return subject
	}
	return "Re: " + subject
}
