// Package session maps inbound messages onto scheduling sessions and tracks
// per-participant progress within them.
package session

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/max-delvita/scheduler-v4/internal/mail"
	"github.com/max-delvita/scheduler-v4/internal/model"
	"github.com/max-delvita/scheduler-v4/internal/repository"
)

// Resolution paths, in authority order.
const (
	ViaRoutingToken = "routing_token"
	ViaInReplyTo    = "in_reply_to"
	ViaNewSession   = "new_session"
)

var (
	participantsBlockRe = regexp.MustCompile(`(?im)^\s*participants?\s*:\s*(.+)$`)
	emailPatternRe      = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
)

// Resolution is the outcome of attaching a message to a session.
type Resolution struct {
	Session *model.Session
	Created bool
	Via     string
}

// Resolver attaches inbound messages to existing sessions or creates new
// ones. The fallback chain is strict and ordered: routing token, then
// In-Reply-To, then a fresh session.
type Resolver struct {
	repo          repository.SessionRepository
	assistantAddr string
}

// NewResolver creates a resolver bound to the assistant's own address.
func NewResolver(repo repository.SessionRepository, assistantAddr string) *Resolver {
	return &Resolver{repo: repo, assistantAddr: assistantAddr}
}

// Resolve runs the fallback chain for one canonical inbound message.
func (r *Resolver) Resolve(msg mail.CanonicalMessage) (*Resolution, error) {
	// 1. Routing token: authoritative. Replies to assistant-sent email
	// always carry it, and it does not depend on mail clients round-tripping
	// headers faithfully.
	if mail.ValidRoutingToken(msg.RoutingToken) {
		session, err := r.repo.GetSession(msg.RoutingToken)
		if err == nil {
			return &Resolution{Session: session, Via: ViaRoutingToken}, nil
		}
		if err != repository.ErrSessionNotFound {
			return nil, fmt.Errorf("routing token lookup: %w", err)
		}
		logrus.WithFields(logrus.Fields{
			"routing_token": msg.RoutingToken,
		}).Warn("Routing token did not resolve to a session, falling back")
	}

	// 2. In-Reply-To: fragile but covers manual forwards and clients that
	// dropped the tagged reply address.
	if msg.InReplyTo != "" {
		prior, err := r.repo.FindMessageByRFCID(msg.InReplyTo)
		if err != nil {
			return nil, fmt.Errorf("in-reply-to lookup: %w", err)
		}
		if prior != nil {
			session, err := r.repo.GetSession(prior.SessionID)
			if err == nil {
				return &Resolution{Session: session, Via: ViaInReplyTo}, nil
			}
			if err != repository.ErrSessionNotFound {
				return nil, fmt.Errorf("in-reply-to session lookup: %w", err)
			}
		}
	}

	// 3. New session.
	session, err := r.createSession(msg)
	if err != nil {
		return nil, err
	}
	return &Resolution{Session: session, Created: true, Via: ViaNewSession}, nil
}

func (r *Resolver) createSession(msg mail.CanonicalMessage) (*model.Session, error) {
	participants := r.deriveParticipants(msg)
	if len(participants) == 0 {
		participants = r.participantsFromBody(msg)
	}

	now := time.Now()
	states := make(model.ParticipantStates, 0, len(participants))
	for _, p := range participants {
		states = append(states, model.ParticipantState{
			Email:         p,
			Status:        model.ParticipantStatusPending,
			LastRequestAt: now,
		})
	}

	session := &model.Session{
		ID:                uuid.NewString(),
		OrganizerEmail:    msg.SenderEmail,
		OrganizerName:     msg.SenderName,
		Topic:             cleanTopic(msg.Subject),
		Participants:      participants,
		ParticipantStates: states,
		Status:            model.SessionStatusNew,
		CreatedAt:         now,
	}

	if err := r.repo.CreateSession(session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"session_id":   session.ID,
		"organizer":    session.OrganizerEmail,
		"participants": len(participants),
	}).Info("Created new scheduling session")

	return session, nil
}

// deriveParticipants takes the union of To and Cc minus the sender and minus
// the assistant itself in both bare and routing-token forms.
func (r *Resolver) deriveParticipants(msg mail.CanonicalMessage) model.StringList {
	var out model.StringList
	seen := make(map[string]bool)
	for _, addr := range append(append([]string{}, msg.To...), msg.Cc...) {
		if addr == "" || seen[addr] {
			continue
		}
		seen[addr] = true
		if addr == msg.SenderEmail || mail.IsAssistantAddress(addr, r.assistantAddr) {
			continue
		}
		out = append(out, addr)
	}
	return out
}

var replyPrefixRe = regexp.MustCompile(`(?i)^((re|fwd?)\s*:\s*)+`)

// cleanTopic strips reply/forward prefixes from a subject line.
func cleanTopic(subject string) string {
	return strings.TrimSpace(replyPrefixRe.ReplaceAllString(strings.TrimSpace(subject), ""))
}

// participantsFromBody is the last-resort extraction from a "Participants:"
// block in the message text. A session with zero participants is still
// valid; it will immediately need clarification.
func (r *Resolver) participantsFromBody(msg mail.CanonicalMessage) model.StringList {
	m := participantsBlockRe.FindStringSubmatch(msg.TextBody)
	if m == nil {
		return nil
	}
	var out model.StringList
	seen := make(map[string]bool)
	for _, addr := range emailPatternRe.FindAllString(m[1], -1) {
		email, _ := mail.ParseAddress(addr)
		if email == "" || seen[email] || email == msg.SenderEmail ||
			mail.IsAssistantAddress(email, r.assistantAddr) {
			continue
		}
		seen[email] = true
		out = append(out, email)
	}
	return out
}
