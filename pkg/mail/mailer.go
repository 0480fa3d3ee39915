// Package mail delivers rendered charts to snapshot recipients over SMTP.
package mail

import (
	"crypto/tls"
	"fmt"
	"io"
	"log"
	"strings"

	gomail "gopkg.in/gomail.v2"

	"github.com/yourusername/chartsnap/pkg/model"
)

// Mailer sends chart emails using the configured SMTP server.
type Mailer struct {
	config model.SMTPConfig
}

// NewMailer creates a new mailer instance
func NewMailer(config model.SMTPConfig) *Mailer {
	return &Mailer{config: config}
}

// SendChart sends a rendered chart as a PNG attachment to the recipients.
func (m *Mailer) SendChart(recipients model.Recipients, subject, body string, png []byte, filename string) error {
	if len(recipients.To) == 0 {
		return fmt.Errorf("no recipients specified")
	}
	if m.config.Host == "" {
		return fmt.Errorf("SMTP host not configured")
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.config.From)
	msg.SetHeader("To", recipients.To...)
	if len(recipients.CC) > 0 {
		msg.SetHeader("Cc", recipients.CC...)
	}
	if len(recipients.BCC) > 0 {
		msg.SetHeader("Bcc", recipients.BCC...)
	}
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)

	msg.Attach(filename, gomail.SetCopyFunc(func(w io.Writer) error {
		_, err := w.Write(png)
		return err
	}))

	dialer := gomail.NewDialer(m.config.Host, m.config.Port, m.config.Username, m.config.Password)
	if m.config.UseTLS {
		dialer.SSL = true
	}
	if m.config.SkipTLSVerify {
		dialer.TLSConfig = &tls.Config{InsecureSkipVerify: true}
		log.Printf("WARNING: TLS certificate verification disabled for SMTP")
	}

	if err := dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	log.Printf("[MAIL] Sent %q (%d bytes) to %d recipient(s)", filename, len(png), len(recipients.To))
	return nil
}

// InterpolateTemplate replaces {{key}} placeholders in text with values.
func InterpolateTemplate(text string, vars map[string]string) string {
	for key, value := range vars {
		text = strings.ReplaceAll(text, "{{"+key+"}}", value)
	}
	return text
}
