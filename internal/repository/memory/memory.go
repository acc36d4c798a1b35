// Package memory is an in-memory SessionRepository used by tests and local
// development. It mirrors the store's partial-update semantics: field
// updates only touch the named columns.
package memory

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/max-delvita/scheduler-v4/internal/model"
	"github.com/max-delvita/scheduler-v4/internal/repository"
)

// Repository is a map-backed SessionRepository.
type Repository struct {
	mu          sync.RWMutex
	sessions    map[string]*model.Session
	messages    []model.SessionMessage
	quarantined []model.QuarantinedEmail
	nextMsgID   uint
}

// New creates an empty in-memory repository.
func New() *Repository {
	return &Repository{sessions: make(map[string]*model.Session)}
}

func copySession(s *model.Session) *model.Session {
	out := *s
	out.Participants = append(model.StringList{}, s.Participants...)
	out.ParticipantStates = append(model.ParticipantStates{}, s.ParticipantStates...)
	out.Timezones = append(model.StringList{}, s.Timezones...)
	if s.ConfirmedTime != nil {
		t := *s.ConfirmedTime
		out.ConfirmedTime = &t
	}
	return &out
}

func (r *Repository) CreateSession(session *model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[session.ID]; exists {
		return fmt.Errorf("session %s already exists", session.ID)
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}
	r.sessions[session.ID] = copySession(session)
	return nil
}

func (r *Repository) GetSession(id string) (*model.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[id]
	if !ok {
		return nil, repository.ErrSessionNotFound
	}
	return copySession(session), nil
}

func (r *Repository) UpdateSessionFields(id string, fields map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	if !ok {
		return repository.ErrSessionNotFound
	}
	for column, value := range fields {
		switch column {
		case "status":
			session.Status = value.(string)
		case "topic":
			session.Topic = value.(string)
		case "duration_minutes":
			session.DurationMinutes = value.(int)
		case "location":
			session.Location = value.(string)
		case "virtual":
			session.Virtual = value.(bool)
		case "timezones":
			session.Timezones = append(model.StringList{}, value.(model.StringList)...)
		case "participant_states":
			session.ParticipantStates = append(model.ParticipantStates{}, value.(model.ParticipantStates)...)
		case "confirmed_time":
			t := *value.(*time.Time)
			session.ConfirmedTime = &t
		case "organizer_name":
			session.OrganizerName = value.(string)
		default:
			return fmt.Errorf("unsupported column %q", column)
		}
	}
	session.UpdatedAt = time.Now()
	return nil
}

func (r *Repository) UpdateParticipantStatus(sessionID, email, status string, lastRequestAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[sessionID]
	if !ok {
		return repository.ErrSessionNotFound
	}
	entry := session.ParticipantStates.Find(email)
	if entry == nil {
		return fmt.Errorf("participant %s not tracked in session %s", email, sessionID)
	}
	entry.Status = status
	if lastRequestAt != nil {
		entry.LastRequestAt = *lastRequestAt
	}
	session.UpdatedAt = time.Now()
	return nil
}

func (r *Repository) SaveMessage(msg *model.SessionMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if msg.ProviderMessageID != "" {
		for _, m := range r.messages {
			if m.ProviderMessageID == msg.ProviderMessageID {
				return fmt.Errorf("duplicate provider message id %s", msg.ProviderMessageID)
			}
		}
	}
	r.nextMsgID++
	msg.ID = r.nextMsgID
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	r.messages = append(r.messages, *msg)
	return nil
}

func (r *Repository) ListMessages(sessionID string) ([]model.SessionMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.SessionMessage
	for _, m := range r.messages {
		if m.SessionID == sessionID {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *Repository) FindMessageByRFCID(rfcID string) (*model.SessionMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := len(r.messages) - 1; i >= 0; i-- {
		if r.messages[i].RFCMessageID == rfcID {
			m := r.messages[i]
			return &m, nil
		}
	}
	return nil, nil
}

func (r *Repository) SeenProviderMessage(providerID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.messages {
		if m.ProviderMessageID == providerID {
			return true, nil
		}
	}
	return false, nil
}

func (r *Repository) ListSessionsByStatus(status string) ([]model.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.Session
	for _, s := range r.sessions {
		if s.Status == status {
			out = append(out, *copySession(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Repository) Quarantine(q *model.QuarantinedEmail) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	q.ID = uint(len(r.quarantined) + 1)
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now()
	}
	r.quarantined = append(r.quarantined, *q)
	return nil
}

func (r *Repository) ListQuarantined(limit int) ([]model.QuarantinedEmail, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := append([]model.QuarantinedEmail{}, r.quarantined...)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// SessionCount reports how many sessions exist (test helper).
func (r *Repository) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// QuarantineCount reports how many messages were quarantined (test helper).
func (r *Repository) QuarantineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.quarantined)
}
