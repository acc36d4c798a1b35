package repository

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/max-delvita/scheduler-v4/internal/model"
)

// ErrSessionNotFound is returned when a session lookup misses.
var ErrSessionNotFound = errors.New("session not found")

// SessionRepository is the durable-state capability consumed by the workflow,
// resolver and nudge sweep. Implementations must guarantee that partial
// updates never clobber columns they do not name.
type SessionRepository interface {
	CreateSession(session *model.Session) error
	GetSession(id string) (*model.Session, error)
	// UpdateSessionFields applies a column-scoped partial update. Fields not
	// present in the map are left untouched.
	UpdateSessionFields(id string, fields map[string]interface{}) error
	// UpdateParticipantStatus rewrites the status entry for a single
	// participant, serialized against concurrent writers of the same session.
	// A nil lastRequestAt leaves the participant's timestamp unchanged.
	UpdateParticipantStatus(sessionID, email, status string, lastRequestAt *time.Time) error
	SaveMessage(msg *model.SessionMessage) error
	ListMessages(sessionID string) ([]model.SessionMessage, error)
	FindMessageByRFCID(rfcID string) (*model.SessionMessage, error)
	// SeenProviderMessage reports whether an inbound provider message id has
	// already been processed (redelivery dedup).
	SeenProviderMessage(providerID string) (bool, error)
	ListSessionsByStatus(status string) ([]model.Session, error)
	Quarantine(q *model.QuarantinedEmail) error
	ListQuarantined(limit int) ([]model.QuarantinedEmail, error)
}

// Repository is the gorm-backed SessionRepository.
type Repository struct {
	db *gorm.DB
}

// New creates a gorm-backed repository.
func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) CreateSession(session *model.Session) error {
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}
	result := r.db.Create(session)
	if result.Error != nil {
		return fmt.Errorf("failed to create session: %w", result.Error)
	}
	return nil
}

func (r *Repository) GetSession(id string) (*model.Session, error) {
	var session model.Session
	result := r.db.Where("id = ?", id).First(&session)
	if result.Error == gorm.ErrRecordNotFound {
		return nil, ErrSessionNotFound
	}
	if result.Error != nil {
		return nil, fmt.Errorf("database error: %w", result.Error)
	}
	return &session, nil
}

func (r *Repository) UpdateSessionFields(id string, fields map[string]interface{}) error {
	result := r.db.Model(&model.Session{}).Where("id = ?", id).Updates(fields)
	if result.Error != nil {
		return fmt.Errorf("failed to update session %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// UpdateParticipantStatus holds a SELECT .. FOR UPDATE row lock for the
// duration of the rewrite, so two near-simultaneous replies to the same
// session serialize at the row and neither overwrites the other's entry.
func (r *Repository) UpdateParticipantStatus(sessionID, email, status string, lastRequestAt *time.Time) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var session model.Session
		result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", sessionID).First(&session)
		if result.Error == gorm.ErrRecordNotFound {
			return ErrSessionNotFound
		}
		if result.Error != nil {
			return fmt.Errorf("database error: %w", result.Error)
		}

		entry := session.ParticipantStates.Find(email)
		if entry == nil {
			return fmt.Errorf("participant %s not tracked in session %s", email, sessionID)
		}
		entry.Status = status
		if lastRequestAt != nil {
			entry.LastRequestAt = *lastRequestAt
		}

		result = tx.Model(&model.Session{}).Where("id = ?", sessionID).
			Update("participant_states", session.ParticipantStates)
		if result.Error != nil {
			return fmt.Errorf("failed to update participant status: %w", result.Error)
		}
		return nil
	})
}

func (r *Repository) SaveMessage(msg *model.SessionMessage) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	result := r.db.Create(msg)
	if result.Error != nil {
		return fmt.Errorf("failed to save message: %w", result.Error)
	}
	return nil
}

func (r *Repository) ListMessages(sessionID string) ([]model.SessionMessage, error) {
	var messages []model.SessionMessage
	result := r.db.Where("session_id = ?", sessionID).Order("created_at ASC, id ASC").Find(&messages)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list messages: %w", result.Error)
	}
	return messages, nil
}

func (r *Repository) FindMessageByRFCID(rfcID string) (*model.SessionMessage, error) {
	var msg model.SessionMessage
	result := r.db.Where("rfc_message_id = ?", rfcID).Order("created_at DESC").First(&msg)
	if result.Error == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if result.Error != nil {
		return nil, fmt.Errorf("database error: %w", result.Error)
	}
	return &msg, nil
}

func (r *Repository) SeenProviderMessage(providerID string) (bool, error) {
	var msg model.SessionMessage
	result := r.db.Select("id").Where("provider_message_id = ?", providerID).First(&msg)
	if result.Error == nil {
		return true, nil
	}
	if result.Error == gorm.ErrRecordNotFound {
		return false, nil
	}
	return false, fmt.Errorf("database error checking processed message: %w", result.Error)
}

func (r *Repository) ListSessionsByStatus(status string) ([]model.Session, error) {
	var sessions []model.Session
	result := r.db.Where("status = ?", status).Find(&sessions)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", result.Error)
	}
	return sessions, nil
}

func (r *Repository) Quarantine(q *model.QuarantinedEmail) error {
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now()
	}
	result := r.db.Create(q)
	if result.Error != nil {
		return fmt.Errorf("failed to quarantine message: %w", result.Error)
	}
	return nil
}

func (r *Repository) ListQuarantined(limit int) ([]model.QuarantinedEmail, error) {
	if limit <= 0 {
		limit = 100
	}
	var quarantined []model.QuarantinedEmail
	result := r.db.Order("created_at DESC").Limit(limit).Find(&quarantined)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list quarantined messages: %w", result.Error)
	}
	return quarantined, nil
}
