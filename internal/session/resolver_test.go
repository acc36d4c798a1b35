package session

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/max-delvita/scheduler-v4/internal/mail"
	"github.com/max-delvita/scheduler-v4/internal/model"
	"github.com/max-delvita/scheduler-v4/internal/repository/memory"
)

const assistant = "amy@scheduler.example.com"

func seedSession(t *testing.T, repo *memory.Repository) *model.Session {
	t.Helper()
	sess := &model.Session{
		ID:             uuid.NewString(),
		OrganizerEmail: "dana@corp.example.com",
		Participants:   model.StringList{"p1@corp.example.com"},
		ParticipantStates: model.ParticipantStates{
			{Email: "p1@corp.example.com", Status: model.ParticipantStatusPending},
		},
		Status: model.SessionStatusPendingParticipants,
	}
	require.NoError(t, repo.CreateSession(sess))
	return sess
}

func TestResolveByRoutingToken(t *testing.T) {
	repo := memory.New()
	sess := seedSession(t, repo)
	resolver := NewResolver(repo, assistant)

	res, err := resolver.Resolve(mail.CanonicalMessage{
		ProviderMessageID: "prov-1",
		SenderEmail:       "p1@corp.example.com",
		RoutingToken:      sess.ID,
		// Corrupted threading headers must not matter.
		InReplyTo: "garbage-id",
	})
	require.NoError(t, err)
	assert.Equal(t, sess.ID, res.Session.ID)
	assert.Equal(t, ViaRoutingToken, res.Via)
	assert.False(t, res.Created)
}

func TestRoutingTokenWinsOverInReplyTo(t *testing.T) {
	repo := memory.New()
	tokenSession := seedSession(t, repo)
	headerSession := seedSession(t, repo)
	require.NoError(t, repo.SaveMessage(&model.SessionMessage{
		SessionID:         headerSession.ID,
		ProviderMessageID: "prov-old",
		RFCMessageID:      "rfc-old",
		Role:              model.RoleAssistant,
		Sender:            assistant,
	}))
	resolver := NewResolver(repo, assistant)

	res, err := resolver.Resolve(mail.CanonicalMessage{
		ProviderMessageID: "prov-2",
		SenderEmail:       "p1@corp.example.com",
		RoutingToken:      tokenSession.ID,
		InReplyTo:         "rfc-old",
	})
	require.NoError(t, err)
	assert.Equal(t, tokenSession.ID, res.Session.ID)
	assert.Equal(t, ViaRoutingToken, res.Via)
}

func TestResolveByInReplyTo(t *testing.T) {
	repo := memory.New()
	sess := seedSession(t, repo)
	require.NoError(t, repo.SaveMessage(&model.SessionMessage{
		SessionID:         sess.ID,
		ProviderMessageID: "prov-old",
		RFCMessageID:      "rfc-old",
		Role:              model.RoleAssistant,
		Sender:            assistant,
	}))
	resolver := NewResolver(repo, assistant)

	res, err := resolver.Resolve(mail.CanonicalMessage{
		ProviderMessageID: "prov-3",
		SenderEmail:       "p1@corp.example.com",
		InReplyTo:         "rfc-old",
	})
	require.NoError(t, err)
	assert.Equal(t, sess.ID, res.Session.ID)
	assert.Equal(t, ViaInReplyTo, res.Via)
}

func TestResolveCreatesNewSessionWithParticipants(t *testing.T) {
	repo := memory.New()
	resolver := NewResolver(repo, assistant)

	res, err := resolver.Resolve(mail.CanonicalMessage{
		ProviderMessageID: "prov-4",
		SenderEmail:       "dana@corp.example.com",
		SenderName:        "Dana",
		To: []string{
			"p1@corp.example.com",
			"p2@corp.example.com",
			assistant,
		},
		Cc:      []string{"p3@corp.example.com", "dana@corp.example.com"},
		Subject: "Re: Fwd: Quarterly Sync",
	})
	require.NoError(t, err)
	require.True(t, res.Created)
	assert.Equal(t, ViaNewSession, res.Via)

	sess := res.Session
	assert.Equal(t, "dana@corp.example.com", sess.OrganizerEmail)
	assert.Equal(t, "Dana", sess.OrganizerName)
	assert.Equal(t, "Quarterly Sync", sess.Topic)
	assert.Equal(t, model.SessionStatusNew, sess.Status)
	// Sender and assistant excluded regardless of order.
	assert.ElementsMatch(t, []string{"p1@corp.example.com", "p2@corp.example.com", "p3@corp.example.com"}, []string(sess.Participants))

	require.Len(t, sess.ParticipantStates, 3)
	for _, p := range sess.ParticipantStates {
		assert.Equal(t, model.ParticipantStatusPending, p.Status)
	}
	assert.True(t, mail.ValidRoutingToken(sess.ID))
}

func TestResolveNewSessionParticipantsFromBody(t *testing.T) {
	repo := memory.New()
	resolver := NewResolver(repo, assistant)

	res, err := resolver.Resolve(mail.CanonicalMessage{
		ProviderMessageID: "prov-5",
		SenderEmail:       "dana@corp.example.com",
		To:                []string{assistant},
		TextBody:          "Please set something up.\nParticipants: P1 <p1@corp.example.com>, p2@corp.example.com\nThanks",
	})
	require.NoError(t, err)
	require.True(t, res.Created)
	assert.ElementsMatch(t, []string{"p1@corp.example.com", "p2@corp.example.com"}, []string(res.Session.Participants))
}

func TestResolveNewSessionWithZeroParticipantsIsValid(t *testing.T) {
	repo := memory.New()
	resolver := NewResolver(repo, assistant)

	res, err := resolver.Resolve(mail.CanonicalMessage{
		ProviderMessageID: "prov-6",
		SenderEmail:       "dana@corp.example.com",
		To:                []string{assistant},
		TextBody:          "Find me a slot next week",
	})
	require.NoError(t, err)
	require.True(t, res.Created)
	assert.Empty(t, res.Session.Participants)
}

func TestStaleRoutingTokenFallsBackToNewSession(t *testing.T) {
	repo := memory.New()
	resolver := NewResolver(repo, assistant)

	res, err := resolver.Resolve(mail.CanonicalMessage{
		ProviderMessageID: "prov-7",
		SenderEmail:       "dana@corp.example.com",
		RoutingToken:      uuid.NewString(), // valid shape, no such session
	})
	require.NoError(t, err)
	assert.True(t, res.Created)
}
