package email

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

// GmailSMTPAddr is Gmail's submission endpoint, used with an app password.
const GmailSMTPAddr = "smtp.gmail.com:587"

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPProvider sends mail through an SMTP server with PLAIN auth.
type SMTPProvider struct {
	addr     string
	from     string
	password string
	logger   *slog.Logger
	sendMail sendMailFunc
}

// NewSMTPProvider creates an SMTP provider logging in as from.
func NewSMTPProvider(addr, from, password string, logger *slog.Logger) *SMTPProvider {
	return &SMTPProvider{
		addr:     addr,
		from:     from,
		password: password,
		logger:   logger,
		sendMail: smtp.SendMail,
	}
}

func (p *SMTPProvider) Name() string {
	return "smtp"
}

func (p *SMTPProvider) message(to, subject, body string) []byte {
	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("From: BoligPing <%s>\r\n", sanitizeEmailHeader(p.from)))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", sanitizeEmailHeader(to)))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", sanitizeEmailHeader(subject)))
	msg.WriteString(fmt.Sprintf("Date: %s\r\n", time.Now().Format(time.RFC1123Z)))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n")
	msg.WriteString(toHTML(body))
	return []byte(msg.String())
}

// Send delivers one message.
func (p *SMTPProvider) Send(ctx context.Context, to, subject, body string) error {
	host, _, err := net.SplitHostPort(p.addr)
	if err != nil {
		return fmt.Errorf("smtp address %q: %w", p.addr, err)
	}
	auth := smtp.PlainAuth("", p.from, p.password, host)
	msg := p.message(to, subject, body)

	return retry.Do(
		func() error {
			startTime := time.Now()
			err := p.sendMail(p.addr, auth, p.from, []string{to}, msg)
			duration := time.Since(startTime)
			if err != nil {
				p.logger.Warn("SMTP send failed, will retry",
					"to", to,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			p.logger.Info("SMTP send completed",
				"to", to,
				"duration_ms", duration.Milliseconds())
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(time.Minute),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			p.logger.Info("Retrying SMTP send after error", "attempt", n, "error", err)
		}),
	)
}
