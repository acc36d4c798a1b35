package mail

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	payload := &InboundPayload{
		FromFull:  InboundAddress{Email: "Dana@Corp.Example.com", Name: "Dana"},
		ToFull:    []InboundAddress{{Email: "amy+" + token + "@scheduler.example.com"}},
		CcFull:    []InboundAddress{{Email: "p1@corp.example.com"}},
		Subject:   "Sync",
		TextBody:  "Does Tuesday work?",
		MessageID: "prov-123",
		Headers: []InboundHeader{
			{Name: "Message-ID", Value: "<rfc-abc@mail.example.com>"},
			{Name: "In-Reply-To", Value: "<rfc-parent@mail.example.com>"},
			{Name: "References", Value: "<rfc-root> <rfc-parent>"},
		},
		MailboxHash: token,
	}

	msg, ok := Normalize(payload)
	require.True(t, ok)
	assert.Equal(t, "prov-123", msg.ProviderMessageID)
	assert.Equal(t, "dana@corp.example.com", msg.SenderEmail)
	assert.Equal(t, "Dana", msg.SenderName)
	assert.Equal(t, []string{"amy+" + token + "@scheduler.example.com"}, msg.To)
	assert.Equal(t, []string{"p1@corp.example.com"}, msg.Cc)
	assert.Equal(t, "rfc-abc", msg.RFCMessageID)
	assert.Equal(t, "rfc-parent", msg.InReplyTo)
	assert.Equal(t, "<rfc-root> <rfc-parent>", msg.RawReferences)
	assert.Equal(t, token, msg.RoutingToken)
}

func TestNormalizeMissingHeadersFallsBackToProviderID(t *testing.T) {
	payload := &InboundPayload{
		From:      "dana@corp.example.com",
		MessageID: "prov-456",
	}

	msg, ok := Normalize(payload)
	require.True(t, ok)
	assert.Equal(t, "prov-456", msg.RFCMessageID)
	assert.Equal(t, "", msg.InReplyTo)
}

func TestNormalizeRecoversTokenFromRecipients(t *testing.T) {
	payload := &InboundPayload{
		FromFull:  InboundAddress{Email: "p1@corp.example.com"},
		ToFull:    []InboundAddress{{Email: "amy+" + token + "@scheduler.example.com"}},
		MessageID: "prov-789",
	}

	msg, ok := Normalize(payload)
	require.True(t, ok)
	assert.Equal(t, token, msg.RoutingToken)
}

func TestNormalizeWithoutSenderIsIgnorable(t *testing.T) {
	_, ok := Normalize(&InboundPayload{Subject: "hello", MessageID: "prov-000"})
	assert.False(t, ok)
}
