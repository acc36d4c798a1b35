package mail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/sirupsen/logrus"

	"github.com/max-delvita/scheduler-v4/internal/config"
)

// ErrNoRecipients is returned when a send is requested with an empty
// recipient list. The adapter never sends to no one silently.
var ErrNoRecipients = errors.New("no recipients to send to")

// noReplyAllNote is appended to individual (non-broadcast) sends so
// participants keep their availability threads private.
const noReplyAllNote = "P.S. Please reply directly to this email rather than using reply-all - I'm coordinating with each attendee separately."

// ThreadingContext carries what the sender needs to keep mail clients
// threading the conversation correctly.
type ThreadingContext struct {
	// TriggerRFCID is the cleaned Message-ID of the message being replied to.
	TriggerRFCID string
	// InheritedReferences is the raw References header of that message.
	InheritedReferences string
}

// SendRequest describes one outbound threaded email.
type SendRequest struct {
	Recipients []string
	Subject    string
	Body       string
	// RoutingToken is embedded in the Reply-To local part so replies map
	// deterministically back to their session.
	RoutingToken string
	Threading    ThreadingContext
	// Broadcast sends a single email to all recipients (final confirmations);
	// otherwise one separate email goes to each recipient.
	Broadcast bool
}

// MessageSender is the outbound capability of the email gateway.
type MessageSender interface {
	// SendThreaded sends per the recipient-group policy and returns the
	// provider message id of the first successful send.
	SendThreaded(ctx context.Context, req SendRequest) (string, error)
}

// GmailSender sends threaded email through the Gmail API.
type GmailSender struct {
	service    *gmail.Service
	senderAddr string
	senderName string
}

// NewGmailSender creates a Gmail API backed sender.
func NewGmailSender(cfg *config.MailConfig) (*GmailSender, error) {
	ctx := context.Background()

	oauth2Config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       []string{gmail.GmailSendScope},
		Endpoint:     google.Endpoint,
	}
	token := &oauth2.Token{RefreshToken: cfg.RefreshToken}
	tokenSource := oauth2Config.TokenSource(ctx, token)

	service, err := gmail.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	return &GmailSender{
		service:    service,
		senderAddr: cfg.SenderAddress,
		senderName: cfg.SenderName,
	}, nil
}

// SendThreaded implements MessageSender.
func (s *GmailSender) SendThreaded(ctx context.Context, req SendRequest) (string, error) {
	if len(req.Recipients) == 0 {
		return "", ErrNoRecipients
	}

	if req.Broadcast || len(req.Recipients) == 1 {
		return s.sendOne(ctx, req.Recipients, req.Body, req)
	}

	// Individual sends: one email per recipient with the reply-all note.
	body := req.Body + "\r\n\r\n" + noReplyAllNote
	var firstID string
	var lastErr error
	for _, rcpt := range req.Recipients {
		id, err := s.sendOne(ctx, []string{rcpt}, body, req)
		if err != nil {
			logrus.WithFields(logrus.Fields{"recipient": rcpt}).
				Errorf("Failed to send email: %v", err)
			lastErr = err
			continue
		}
		if firstID == "" {
			firstID = id
		}
	}
	if firstID == "" {
		return "", fmt.Errorf("all sends failed: %w", lastErr)
	}
	return firstID, nil
}

func (s *GmailSender) sendOne(ctx context.Context, to []string, body string, req SendRequest) (string, error) {
	raw := s.buildMessage(to, body, req)
	msg := &gmail.Message{Raw: base64.URLEncoding.EncodeToString([]byte(raw))}

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		resp, err := s.service.Users.Messages.Send("me", msg).Context(ctx).Do()
		if err == nil {
			logrus.WithFields(logrus.Fields{
				"recipients":          to,
				"provider_message_id": resp.Id,
			}).Info("Sent email")
			return resp.Id, nil
		}
		lastErr = err
		if strings.Contains(err.Error(), "quota") || strings.Contains(err.Error(), "rate") {
			wait := time.Duration(attempt*attempt) * time.Second
			logrus.Warnf("Rate limited sending email, waiting %v before retry (attempt %d/3)", wait, attempt)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return "", ctx.Err()
			}
			continue
		}
		break
	}
	return "", fmt.Errorf("failed to send email: %w", lastErr)
}

// buildMessage assembles the RFC822 wire form with the routing Reply-To and
// threading headers.
func (s *GmailSender) buildMessage(to []string, body string, req SendRequest) string {
	var b strings.Builder

	from := s.senderAddr
	if s.senderName != "" {
		from = fmt.Sprintf("%s <%s>", s.senderName, s.senderAddr)
	}
	b.WriteString(fmt.Sprintf("From: %s\r\n", from))
	b.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(to, ", ")))
	b.WriteString(fmt.Sprintf("Subject: %s\r\n", req.Subject))
	b.WriteString(fmt.Sprintf("Date: %s\r\n", time.Now().Format(time.RFC1123Z)))
	if req.RoutingToken != "" {
		b.WriteString(fmt.Sprintf("Reply-To: %s\r\n", ReplyAddress(s.senderAddr, req.RoutingToken)))
	}
	if req.Threading.TriggerRFCID != "" {
		b.WriteString(fmt.Sprintf("In-Reply-To: <%s>\r\n", req.Threading.TriggerRFCID))
	}
	if refs := BuildReferences(req.Threading.InheritedReferences, req.Threading.TriggerRFCID); refs != "" {
		b.WriteString(fmt.Sprintf("References: %s\r\n", refs))
	}
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 7bit\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)

	return b.String()
}
