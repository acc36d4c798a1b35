package mail

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message"
	"github.com/sirupsen/logrus"

	"github.com/max-delvita/scheduler-v4/internal/config"
)

// IMAPSource polls an inbox over IMAP and yields inbound payloads shaped
// like webhook deliveries, so both paths share the same pipeline. Optional
// fallback for deployments without a provider webhook.
type IMAPSource struct {
	client    *client.Client
	lastCheck time.Time
}

// NewIMAPSource connects and logs in to the configured IMAP server.
func NewIMAPSource(cfg *config.MailConfig) (*IMAPSource, error) {
	c, err := client.DialTLS(fmt.Sprintf("%s:%d", cfg.IMAPHost, cfg.IMAPPort), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}
	if err := c.Login(cfg.IMAPUser, cfg.IMAPPassword); err != nil {
		c.Logout()
		return nil, fmt.Errorf("failed to login to IMAP server: %w", err)
	}
	return &IMAPSource{
		client:    c,
		lastCheck: time.Now().Add(-24 * time.Hour),
	}, nil
}

// FetchNew returns messages received since the last poll.
func (s *IMAPSource) FetchNew(ctx context.Context) ([]InboundPayload, error) {
	if _, err := s.client.Select("INBOX", false); err != nil {
		return nil, fmt.Errorf("failed to select INBOX: %w", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.Since = s.lastCheck

	uids, err := s.client.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	if len(uids) == 0 {
		s.lastCheck = time.Now()
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	section := &imap.BodySectionName{}
	go func() {
		done <- s.client.Fetch(seqset, []imap.FetchItem{imap.FetchEnvelope, section.FetchItem(), imap.FetchUid}, messages)
	}()

	var payloads []InboundPayload
	for msg := range messages {
		payload, err := s.toPayload(msg, section)
		if err != nil {
			logrus.Warnf("Failed to parse IMAP message: %v", err)
			continue
		}
		payloads = append(payloads, payload)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	s.lastCheck = time.Now()
	return payloads, nil
}

func (s *IMAPSource) toPayload(msg *imap.Message, section *imap.BodySectionName) (InboundPayload, error) {
	var p InboundPayload

	if env := msg.Envelope; env != nil {
		p.Subject = env.Subject
		p.MessageID = env.MessageId
		if len(env.From) > 0 {
			p.FromFull = InboundAddress{
				Email: env.From[0].Address(),
				Name:  env.From[0].PersonalName,
			}
			p.From = env.From[0].Address()
		}
		for _, addr := range env.To {
			p.ToFull = append(p.ToFull, InboundAddress{Email: addr.Address(), Name: addr.PersonalName})
		}
		for _, addr := range env.Cc {
			p.CcFull = append(p.CcFull, InboundAddress{Email: addr.Address(), Name: addr.PersonalName})
		}
		p.Headers = append(p.Headers,
			InboundHeader{Name: "Message-ID", Value: env.MessageId},
			InboundHeader{Name: "In-Reply-To", Value: env.InReplyTo},
		)
	}

	if err := s.parseBody(msg, section, &p); err != nil {
		return p, err
	}
	return p, nil
}

func (s *IMAPSource) parseBody(msg *imap.Message, section *imap.BodySectionName, p *InboundPayload) error {
	r := msg.GetBody(section)
	if r == nil {
		return nil
	}

	entity, err := message.Read(r)
	if err != nil {
		return fmt.Errorf("failed to read message: %w", err)
	}

	if refs := entity.Header.Get("References"); refs != "" {
		p.Headers = append(p.Headers, InboundHeader{Name: "References", Value: refs})
	}

	if mr := entity.MultipartReader(); mr != nil {
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				return fmt.Errorf("failed to read part: %w", err)
			}
			content, err := io.ReadAll(part.Body)
			if err != nil {
				return fmt.Errorf("failed to read part body: %w", err)
			}
			contentType := part.Header.Get("Content-Type")
			if strings.Contains(contentType, "text/plain") {
				p.TextBody = string(content)
			} else if strings.Contains(contentType, "text/html") {
				p.HTMLBody = string(content)
			}
		}
		return nil
	}

	content, err := io.ReadAll(entity.Body)
	if err != nil {
		return fmt.Errorf("failed to read message body: %w", err)
	}
	contentType := entity.Header.Get("Content-Type")
	if strings.Contains(contentType, "text/html") {
		p.HTMLBody = string(content)
	} else {
		p.TextBody = string(content)
	}
	return nil
}

// Close logs out of the IMAP session.
func (s *IMAPSource) Close() error {
	return s.client.Logout()
}
