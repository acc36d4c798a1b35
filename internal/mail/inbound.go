package mail

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// InboundAddress is one entry of a webhook payload address list.
type InboundAddress struct {
	Email string `json:"Email"`
	Name  string `json:"Name"`
}

// InboundHeader is one raw header carried by the webhook payload.
type InboundHeader struct {
	Name  string `json:"Name"`
	Value string `json:"Value"`
}

// InboundPayload is the provider-shaped JSON body posted to the inbound
// webhook. MailboxHash carries the plus-addressed routing token when the
// message was sent to a tagged reply address.
type InboundPayload struct {
	From        string           `json:"From"`
	FromName    string           `json:"FromName"`
	FromFull    InboundAddress   `json:"FromFull"`
	ToFull      []InboundAddress `json:"ToFull"`
	CcFull      []InboundAddress `json:"CcFull"`
	Subject     string           `json:"Subject"`
	TextBody    string           `json:"TextBody"`
	HTMLBody    string           `json:"HtmlBody"`
	MessageID   string           `json:"MessageID"`
	MailboxHash string           `json:"MailboxHash"`
	Headers     []InboundHeader  `json:"Headers"`
}

// CanonicalMessage is the normalized inbound message record every downstream
// component consumes.
type CanonicalMessage struct {
	ProviderMessageID string
	RFCMessageID      string // cleaned Message-ID header
	SenderEmail       string
	SenderName        string
	To                []string
	Cc                []string
	Subject           string
	TextBody          string
	HTMLBody          string
	RoutingToken      string
	InReplyTo         string // cleaned In-Reply-To header
	RawReferences     string
}

// Header returns the first raw header with the given name, case-insensitive.
func (p *InboundPayload) Header(name string) string {
	for _, h := range p.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// Normalize converts a webhook payload into a CanonicalMessage. It tolerates
// missing or malformed headers by falling back to provider-assigned
// identifiers, and reports ok=false only when the payload has no usable
// sender, the one content-level failure that makes a message ignorable.
func Normalize(p *InboundPayload) (CanonicalMessage, bool) {
	msg := CanonicalMessage{
		ProviderMessageID: strings.TrimSpace(p.MessageID),
		Subject:           strings.TrimSpace(p.Subject),
		TextBody:          p.TextBody,
		HTMLBody:          p.HTMLBody,
	}

	if p.FromFull.Email != "" {
		msg.SenderEmail = strings.ToLower(strings.TrimSpace(p.FromFull.Email))
		msg.SenderName = strings.TrimSpace(p.FromFull.Name)
	} else {
		msg.SenderEmail, msg.SenderName = ParseAddress(p.From)
		if msg.SenderName == "" {
			msg.SenderName = strings.TrimSpace(p.FromName)
		}
	}
	if msg.SenderEmail == "" {
		return msg, false
	}

	for _, a := range p.ToFull {
		if a.Email != "" {
			msg.To = append(msg.To, strings.ToLower(strings.TrimSpace(a.Email)))
		}
	}
	for _, a := range p.CcFull {
		if a.Email != "" {
			msg.Cc = append(msg.Cc, strings.ToLower(strings.TrimSpace(a.Email)))
		}
	}

	msg.RFCMessageID = CleanMessageID(p.Header("Message-ID"))
	if msg.RFCMessageID == "" {
		// Header round-tripping is not guaranteed; the provider id still
		// identifies the message for threading purposes.
		msg.RFCMessageID = msg.ProviderMessageID
	}
	msg.InReplyTo = CleanMessageID(p.Header("In-Reply-To"))
	msg.RawReferences = p.Header("References")

	msg.RoutingToken = strings.TrimSpace(p.MailboxHash)
	if msg.RoutingToken == "" {
		// Some providers do not split the hash out; recover it from the
		// recipient list.
		for _, addr := range append(append([]string{}, msg.To...), msg.Cc...) {
			if tok := ExtractRoutingToken(addr); tok != "" {
				msg.RoutingToken = tok
				break
			}
		}
	}

	logrus.WithFields(logrus.Fields{
		"provider_message_id": msg.ProviderMessageID,
		"sender":              msg.SenderEmail,
		"routing_token":       msg.RoutingToken,
	}).Debug("Normalized inbound message")

	return msg, true
}
