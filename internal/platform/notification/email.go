// Package notification delivers TrialFlow emails: time-window announcements
// to patients and high-burden alerts to trial coordinators.
package notification

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// EmailMessage is one outbound email.
type EmailMessage struct {
	To      string
	ToName  string
	Subject string
	Text    string
	HTML    string
}

// EmailSender delivers a single email.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// SendGridSender sends emails through the SendGrid v3 API.
type SendGridSender struct {
	client *sendgrid.Client
	from   *mail.Email
	logger zerolog.Logger
}

func NewSendGridSender(cfg SendGridConfig, logger zerolog.Logger) *SendGridSender {
	if cfg.FromName == "" {
		cfg.FromName = "Clinical Trial Team"
	}
	return &SendGridSender{
		client: sendgrid.NewSendClient(cfg.APIKey),
		from:   mail.NewEmail(cfg.FromName, cfg.FromEmail),
		logger: logger,
	}
}

func (s *SendGridSender) Send(ctx context.Context, msg EmailMessage) error {
	html := msg.HTML
	if html == "" {
		html = msg.Text
	}
	message := mail.NewSingleEmail(s.from, msg.Subject, mail.NewEmail(msg.ToName, msg.To), msg.Text, html)

	resp, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("notification: sendgrid send: %w", err)
	}
	if resp.StatusCode >= 400 {
		s.logger.Error().Int("status", resp.StatusCode).Str("body", resp.Body).Str("to", msg.To).Msg("sendgrid rejected email")
		return fmt.Errorf("notification: sendgrid returned status %d", resp.StatusCode)
	}

	s.logger.Debug().Str("to", msg.To).Str("subject", msg.Subject).Int("status", resp.StatusCode).Msg("email sent")
	return nil
}

// LogSender only logs. It stands in for SendGrid when no API key is set.
type LogSender struct {
	logger zerolog.Logger
}

func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, msg EmailMessage) error {
	s.logger.Info().Str("to", msg.To).Str("subject", msg.Subject).Msg("email delivery disabled, not sending")
	return nil
}

// NewEmailSender picks SendGrid when an API key is configured and the log
// sender otherwise.
func NewEmailSender(cfg SendGridConfig, logger zerolog.Logger) EmailSender {
	if cfg.APIKey == "" {
		return NewLogSender(logger)
	}
	return NewSendGridSender(cfg, logger)
}
