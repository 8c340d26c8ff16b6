package mailer

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/volunteerhub/vms-api/pkg/config"
)

// Mailer sends plain-text email through an SMTP relay. Callers treat
// delivery as fire-and-forget; a failed send is logged upstream and
// never propagated to the triggering operation.
type Mailer struct {
	host string
	port int
	auth smtp.Auth
	from string
}

// New builds a mailer from SMTP config. A nil mailer is returned when
// no host is configured, which disables email.
func New(cfg config.SMTPConfig) *Mailer {
	if cfg.Host == "" {
		return nil
	}
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return &Mailer{host: cfg.Host, port: cfg.Port, auth: auth, from: cfg.From}
}

// Send delivers a single message to one recipient.
func (m *Mailer) Send(to, subject, body string) error {
	if m == nil {
		return nil
	}
	msg := strings.Join([]string{
		"From: " + m.from,
		"To: " + to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=\"UTF-8\"",
		"",
		body,
	}, "\r\n")

	addr := fmt.Sprintf("%s:%d", m.host, m.port)
	if err := smtp.SendMail(addr, m.auth, m.from, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	return nil
}
