package mailer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/pulsarhq/licensing-backend/pkg/config"
)

// Message is a single outbound email.
type Message struct {
	To        string
	Subject   string
	PlainBody string
	HTMLBody  string
}

// Sender delivers formatted messages. The licensing core formats content
// and delegates delivery here.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type sendgridSender struct {
	client *sendgrid.Client
	from   *mail.Email
}

// NewSendgrid builds a Sender backed by the SendGrid v3 API.
func NewSendgrid(cfg config.SendgridConfig) (Sender, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("sendgrid api key is required")
	}
	from := strings.TrimSpace(cfg.DefaultFrom)
	if from == "" {
		return nil, errors.New("sendgrid from address is required")
	}
	return &sendgridSender{
		client: sendgrid.NewSendClient(apiKey),
		from:   mail.NewEmail(cfg.FromName, from),
	}, nil
}

func (s *sendgridSender) Send(ctx context.Context, msg Message) error {
	to := strings.TrimSpace(msg.To)
	if to == "" {
		return errors.New("recipient address is required")
	}
	email := mail.NewSingleEmail(s.from, msg.Subject, mail.NewEmail("", to), msg.PlainBody, msg.HTMLBody)
	resp, err := s.client.SendWithContext(ctx, email)
	if err != nil {
		return fmt.Errorf("sendgrid send: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sendgrid send: unexpected status %d", resp.StatusCode)
	}
	return nil
}
