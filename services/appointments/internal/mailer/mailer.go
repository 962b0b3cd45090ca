package mailer

import (
	"context"
	"fmt"

	"github.com/diagnosis/tutoring-appointments/pkg/config"
)

// Message is one rendered email for one recipient.
type Message struct {
	To      string
	ToName  string
	Subject string
	Text    string
	HTML    string
}

// Sender delivers a message. Implementations honor ctx cancellation where
// the transport allows it.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// New picks the transport named by EMAIL_PROVIDER.
func New(cfg config.EmailConfig) (Sender, error) {
	switch cfg.Provider {
	case config.EmailProviderMailerSend:
		if cfg.MailerSendKey == "" || cfg.FromEmail == "" {
			return nil, fmt.Errorf("mailersend requires MAILERSEND_API_KEY and EMAIL_ADDRESS")
		}
		return NewMailerSend(cfg.MailerSendKey, cfg.FromName, cfg.FromEmail), nil
	case config.EmailProviderSMTP:
		if cfg.SMTPHost == "" || cfg.FromEmail == "" {
			return nil, fmt.Errorf("smtp requires SMTP_HOST and EMAIL_ADDRESS")
		}
		return NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.FromName, cfg.FromEmail, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPUseTLS), nil
	case config.EmailProviderDev, "":
		return NewDevMailer(), nil
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.Provider)
	}
}
