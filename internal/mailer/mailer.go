// Package mailer is the outbound mail transport.
//
// Drivers:
//   - "smtp": real delivery via an SMTP relay
//   - "log":  renders every send into the log (staging / dry-run)
//   - "none": drops sends silently
//
// Delivery failure is terminal here: the engine does not retry, a rule's
// next firing is the natural retry for recurring notifications.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"automail/pkg/logx"
)

// Mailer sends one rendered notification to one address.
type Mailer interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// Config configures the transport.
type Config struct {
	Driver string // "smtp", "log" or "none" (default "log")

	From     string
	Host     string
	Port     int
	Username string
	Password string

	// RatePerSec caps outbound sends (token bucket, burst = rate).
	// 0 means no limit.
	RatePerSec int
}

// New initializes the configured transport.
func New(cfg Config, log logx.Logger) (Mailer, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "log":
		return &logMailer{log: log}, nil
	case "none":
		return nopMailer{}, nil
	case "smtp":
		return newSMTP(cfg, log)
	default:
		return nil, errors.New("unknown mailer driver: " + driver)
	}
}

type nopMailer struct{}

func (nopMailer) Send(context.Context, string, string, string) error { return nil }

type logMailer struct{ log logx.Logger }

func (m *logMailer) Send(_ context.Context, to, subject, htmlBody string) error {
	m.log.Info("mail (dry-run)",
		logx.String("to", to), logx.String("subject", subject), logx.Int("body_bytes", len(htmlBody)))
	return nil
}

type smtpMailer struct {
	addr    string
	from    string
	auth    smtp.Auth
	limiter *rate.Limiter
	log     logx.Logger
}

func newSMTP(cfg Config, log logx.Logger) (*smtpMailer, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("smtp host is required")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, errors.New("smtp from address is required")
	}
	port := cfg.Port
	if port <= 0 {
		port = 587
	}

	m := &smtpMailer{
		addr: fmt.Sprintf("%s:%d", cfg.Host, port),
		from: cfg.From,
		log:  log,
	}
	if cfg.Username != "" {
		m.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	if cfg.RatePerSec > 0 {
		m.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	return m, nil
}

func (m *smtpMailer) Send(ctx context.Context, to, subject, htmlBody string) error {
	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := buildMessage(m.from, to, subject, htmlBody)
	start := time.Now()
	if err := smtp.SendMail(m.addr, m.auth, m.from, []string{to}, msg); err != nil {
		return fmt.Errorf("smtp send to %s: %w", to, err)
	}
	m.log.Debug("mail sent",
		logx.String("to", to), logx.String("subject", subject), logx.Duration("dur", time.Since(start)))
	return nil
}

func buildMessage(from, to, subject, htmlBody string) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + sanitizeHeader(subject) + "\r\n")
	b.WriteString("Date: " + time.Now().UTC().Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(htmlBody)
	return []byte(b.String())
}

// sanitizeHeader strips CR/LF so template output can never inject headers.
func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.TrimSpace(s)
}
