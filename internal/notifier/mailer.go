package notifier

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

// SMTPConfig holds mail relay settings
type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Sender   string
}

// SMTPMailer sends mail through a plain SMTP relay.
type SMTPMailer struct {
	addr   string
	auth   smtp.Auth
	sender string
}

// NewSMTPMailer creates a new SMTPMailer
func NewSMTPMailer(cfg *SMTPConfig) *SMTPMailer {
	var auth smtp.Auth
	if cfg.User != "" {
		auth = smtp.PlainAuth("", cfg.User, cfg.Password, cfg.Host)
	}
	return &SMTPMailer{
		addr:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		auth:   auth,
		sender: cfg.Sender,
	}
}

// Send delivers one email
func (m *SMTPMailer) Send(_ context.Context, to, subject, body string) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "From: %s\r\n", m.sender)
	fmt.Fprintf(&sb, "To: %s\r\n", to)
	fmt.Fprintf(&sb, "Subject: %s\r\n", subject)
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(body)

	if err := smtp.SendMail(m.addr, m.auth, m.sender, []string{to}, []byte(sb.String())); err != nil {
		return fmt.Errorf("smtp send to %s: %w", to, err)
	}
	return nil
}
