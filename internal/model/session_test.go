package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParticipantStatesFind(t *testing.T) {
	states := ParticipantStates{
		{Email: "a@x.com", Status: ParticipantStatusPending},
		{Email: "b@x.com", Status: ParticipantStatusReceived},
	}

	entry := states.Find("b@x.com")
	require.NotNil(t, entry)
	assert.Equal(t, ParticipantStatusReceived, entry.Status)

	// Find returns a pointer into the slice, so callers can mutate in place.
	states.Find("a@x.com").Status = ParticipantStatusNudged1
	assert.Equal(t, ParticipantStatusNudged1, states[0].Status)

	assert.Nil(t, states.Find("missing@x.com"))
}

func TestAllReceived(t *testing.T) {
	assert.True(t, ParticipantStates{}.AllReceived())
	assert.True(t, ParticipantStates{
		{Email: "a@x.com", Status: ParticipantStatusReceived},
	}.AllReceived())
	assert.False(t, ParticipantStates{
		{Email: "a@x.com", Status: ParticipantStatusReceived},
		{Email: "b@x.com", Status: ParticipantStatusNudged2},
	}.AllReceived())
}

func TestStringListScansFromStringAndBytes(t *testing.T) {
	var l StringList
	require.NoError(t, l.Scan([]byte(`["a@x.com","b@x.com"]`)))
	assert.Equal(t, StringList{"a@x.com", "b@x.com"}, l)

	require.NoError(t, l.Scan(`["c@x.com"]`))
	assert.Equal(t, StringList{"c@x.com"}, l)

	require.NoError(t, l.Scan(nil))
	assert.Empty(t, l)

	assert.Error(t, l.Scan(42))
}
