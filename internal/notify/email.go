package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"text/template"

	"stockwatch/internal/clock"
	"stockwatch/internal/config"
	"stockwatch/internal/domain"
	"stockwatch/internal/permanent"
	"stockwatch/internal/templatefmt"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"
)

// EmailSender delivers alerts over SMTP.
// Params: server address, credentials, sender address, and compiled templates.
// Returns: email channel sender.
type EmailSender struct {
	cfg     config.EmailConfig
	addr    string
	subject *template.Template
	body    *template.Template
	clock   clock.Clock
}

// NewEmailSender compiles templates and builds SMTP sender.
// Params: email config and clock for Date header.
// Returns: sender or template parse error.
func NewEmailSender(cfg config.EmailConfig, clk clock.Clock) (*EmailSender, error) {
	subject, err := templatefmt.ParseNotificationTemplate("notify.email.subject_template", cfg.SubjectTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse email subject template: %w", err)
	}
	body, err := templatefmt.ParseNotificationTemplate("notify.email.body_template", cfg.BodyTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse email body template: %w", err)
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &EmailSender{
		cfg:     cfg,
		addr:    net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		subject: subject,
		body:    body,
		clock:   clk,
	}, nil
}

// Channel returns sender channel name.
func (s *EmailSender) Channel() string {
	return domain.ChannelEmail
}

// Send renders message and submits it to all recipients in one SMTP transaction.
// Params: context and delivery with email recipients.
// Returns: Message-ID header value; authentication rejections are marked permanent.
func (s *EmailSender) Send(ctx context.Context, delivery Delivery) (SendResult, error) {
	subject, err := templatefmt.Render(s.subject, delivery.Alert)
	if err != nil {
		return SendResult{}, fmt.Errorf("render email subject: %w", err)
	}
	body, err := templatefmt.Render(s.body, delivery.Alert)
	if err != nil {
		return SendResult{}, fmt.Errorf("render email body: %w", err)
	}
	messageID := "<" + uuid.NewString() + "@stockwatch>"
	message := s.buildMessage(messageID, delivery.Recipients, strings.TrimSpace(subject), body)

	// go-smtp client calls are not context-aware; the session runs aside and is abandoned on cancel.
	done := make(chan error, 1)
	go func() {
		done <- s.submit(delivery.Recipients, message)
	}()

	select {
	case err := <-done:
		if err != nil {
			return SendResult{}, err
		}
		return SendResult{
			MessageID: messageID,
			Metadata:  map[string]string{"recipients": strconv.Itoa(len(delivery.Recipients))},
		}, nil
	case <-ctx.Done():
		return SendResult{}, fmt.Errorf("smtp send: %w", ctx.Err())
	}
}

// submit performs one SMTP session.
// Params: envelope recipients and full RFC 5322 message.
// Returns: classified SMTP error.
func (s *EmailSender) submit(recipients []string, message string) error {
	var (
		client *smtp.Client
		err    error
	)
	if s.cfg.StartTLS {
		client, err = smtp.DialStartTLS(s.addr, &tls.Config{ServerName: s.cfg.Host})
	} else {
		client, err = smtp.Dial(s.addr)
	}
	if err != nil {
		return fmt.Errorf("smtp dial %s: %w", s.addr, err)
	}
	defer client.Close()

	if s.cfg.Username != "" {
		if err := client.Auth(sasl.NewPlainClient("", s.cfg.Username, s.cfg.Password)); err != nil {
			return classifySMTPError("smtp auth", err)
		}
	}
	if err := client.SendMail(s.cfg.From, recipients, strings.NewReader(message)); err != nil {
		return classifySMTPError("smtp send", err)
	}
	if err := client.Quit(); err != nil {
		return fmt.Errorf("smtp quit: %w", err)
	}
	return nil
}

// buildMessage renders headers and plain-text body with CRLF line endings.
func (s *EmailSender) buildMessage(messageID string, recipients []string, subject, body string) string {
	var builder strings.Builder
	writeHeader := func(key, value string) {
		builder.WriteString(key)
		builder.WriteString(": ")
		builder.WriteString(value)
		builder.WriteString("\r\n")
	}
	writeHeader("From", s.cfg.From)
	writeHeader("To", strings.Join(recipients, ", "))
	writeHeader("Subject", subject)
	writeHeader("Date", s.clock.Now().Format("Mon, 02 Jan 2006 15:04:05 -0700"))
	writeHeader("Message-ID", messageID)
	writeHeader("MIME-Version", "1.0")
	writeHeader("Content-Type", "text/plain; charset=utf-8")
	builder.WriteString("\r\n")
	builder.WriteString(strings.ReplaceAll(strings.ReplaceAll(body, "\r\n", "\n"), "\n", "\r\n"))
	return builder.String()
}

// classifySMTPError marks credential rejections as permanent.
// Params: operation label and SMTP error.
// Returns: wrapped error.
func classifySMTPError(op string, err error) error {
	wrapped := fmt.Errorf("%s: %w", op, err)
	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		switch smtpErr.Code {
		case 530, 534, 535:
			return permanent.MarkAuth(wrapped)
		}
	}
	return wrapped
}
