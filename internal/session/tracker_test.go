package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/max-delvita/scheduler-v4/internal/model"
	"github.com/max-delvita/scheduler-v4/internal/repository/memory"
)

func TestMarkReceivedSupersedesNudgeState(t *testing.T) {
	repo := memory.New()
	sess := seedSession(t, repo)
	require.NoError(t, repo.UpdateParticipantStatus(sess.ID, "p1@corp.example.com", model.ParticipantStatusNudged2, nil))
	sess, err := repo.GetSession(sess.ID)
	require.NoError(t, err)

	tracker := NewTracker(repo)
	tracked, err := tracker.MarkReceived(sess, "p1@corp.example.com")
	require.NoError(t, err)
	assert.True(t, tracked)
	assert.Equal(t, model.ParticipantStatusReceived, sess.ParticipantStates.Find("p1@corp.example.com").Status)

	stored, err := repo.GetSession(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ParticipantStatusReceived, stored.ParticipantStates.Find("p1@corp.example.com").Status)
}

func TestMarkReceivedUntrackedSenderIsNoOp(t *testing.T) {
	repo := memory.New()
	sess := seedSession(t, repo)
	tracker := NewTracker(repo)

	tracked, err := tracker.MarkReceived(sess, "stranger@elsewhere.example.com")
	require.NoError(t, err)
	assert.False(t, tracked)

	stored, err := repo.GetSession(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ParticipantStatusPending, stored.ParticipantStates.Find("p1@corp.example.com").Status)
	assert.Len(t, stored.ParticipantStates, 1)
}

func TestMarkReceivedIdempotent(t *testing.T) {
	repo := memory.New()
	sess := seedSession(t, repo)
	tracker := NewTracker(repo)

	for i := 0; i < 2; i++ {
		tracked, err := tracker.MarkReceived(sess, "p1@corp.example.com")
		require.NoError(t, err)
		assert.True(t, tracked)
	}
}

func TestGateOpen(t *testing.T) {
	tracker := NewTracker(memory.New())

	sess := &model.Session{ParticipantStates: model.ParticipantStates{
		{Email: "p1@x.com", Status: model.ParticipantStatusReceived},
		{Email: "p2@x.com", Status: model.ParticipantStatusNudged1},
	}}
	assert.False(t, tracker.GateOpen(sess))

	sess.ParticipantStates[1].Status = model.ParticipantStatusReceived
	assert.True(t, tracker.GateOpen(sess))

	// No tracked participants means nothing to wait for.
	assert.True(t, tracker.GateOpen(&model.Session{}))
}
