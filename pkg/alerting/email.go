package alerting

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/jihwankim/redisguard/pkg/config"
)

// EmailChannel sends alerts over SMTP
type EmailChannel struct {
	cfg  *config.EmailConfig
	send func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailChannel creates an SMTP-backed channel
func NewEmailChannel(cfg *config.EmailConfig) *EmailChannel {
	return &EmailChannel{cfg: cfg, send: smtp.SendMail}
}

func (e *EmailChannel) Name() string { return "email" }

// Send delivers the alert as a plain-text message
func (e *EmailChannel) Send(ctx context.Context, alert Alert) error {
	var body strings.Builder
	fmt.Fprintf(&body, "From: %s\r\n", e.cfg.FromAddress)
	fmt.Fprintf(&body, "To: %s\r\n", strings.Join(e.cfg.ToAddresses, ", "))
	fmt.Fprintf(&body, "Subject: [%s] %s\r\n", strings.ToUpper(alert.Severity), alert.Type)
	body.WriteString("\r\n")
	fmt.Fprintf(&body, "%s\r\n\r\n", alert.Message)
	for _, line := range formatDetails(alert.Details) {
		fmt.Fprintf(&body, "%s\r\n", line)
	}
	fmt.Fprintf(&body, "\r\nAlert ID: %s\r\nTime: %s\r\n", alert.ID, alert.Timestamp.Format("2006-01-02 15:04:05 MST"))

	var auth smtp.Auth
	if e.cfg.Username != "" {
		auth = smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.SMTPServer)
	}

	addr := fmt.Sprintf("%s:%d", e.cfg.SMTPServer, e.cfg.Port)
	if err := e.send(addr, auth, e.cfg.FromAddress, e.cfg.ToAddresses, []byte(body.String())); err != nil {
		return fmt.Errorf("smtp send failed: %w", err)
	}
	return nil
}
