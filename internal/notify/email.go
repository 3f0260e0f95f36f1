package notify

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/wolfman30/rental-ops/pkg/logging"
)

const (
	defaultFromName = "Rental Ops"
	mailCategory    = "rental-ops"
)

// EmailSender delivers operator alerts by e-mail.
type EmailSender interface {
	Send(ctx context.Context, alert EmailAlert) error
}

// EmailAlert is a plain-text operator alert. Channel is carried to the
// provider as a category/tag so inbox rules can route it.
type EmailAlert struct {
	To      string
	Channel string
	Subject string
	Text    string
}

// SendGridSender delivers alerts through the SendGrid v3 mail API.
type SendGridSender struct {
	client *sendgrid.Client
	from   *mail.Email
	logger *logging.Logger
}

type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// NewSendGridSender returns nil when no API key or sender address is set.
func NewSendGridSender(cfg SendGridConfig, logger *logging.Logger) *SendGridSender {
	if cfg.APIKey == "" || cfg.FromEmail == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = defaultFromName
	}
	return &SendGridSender{
		client: sendgrid.NewSendClient(cfg.APIKey),
		from:   mail.NewEmail(cfg.FromName, cfg.FromEmail),
		logger: logger,
	}
}

func (s *SendGridSender) Send(ctx context.Context, alert EmailAlert) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("notify: sendgrid client not configured")
	}
	response, err := s.client.SendWithContext(ctx, buildSendGridMail(s.from, alert))
	if err != nil {
		return fmt.Errorf("notify: sendgrid send to %s: %w", alert.To, err)
	}
	if response.StatusCode >= 400 {
		s.logger.Warn("sendgrid rejected alert", "status", response.StatusCode, "body", response.Body, "channel", alert.Channel)
		return fmt.Errorf("notify: sendgrid returned status %d", response.StatusCode)
	}
	s.logger.Debug("alert mailed via sendgrid", "channel", alert.Channel, "status", response.StatusCode)
	return nil
}

func buildSendGridMail(from *mail.Email, alert EmailAlert) *mail.SGMailV3 {
	p := mail.NewPersonalization()
	p.AddTos(mail.NewEmail("", alert.To))

	m := mail.NewV3Mail()
	m.SetFrom(from)
	m.Subject = alert.Subject
	m.AddPersonalizations(p)
	m.AddContent(mail.NewContent("text/plain", alert.Text))
	m.AddCategories(mailCategory)
	if alert.Channel != "" {
		m.AddCategories(alert.Channel)
	}
	return m
}

var _ EmailSender = (*SendGridSender)(nil)
