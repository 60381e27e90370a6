// Package email composes and delivers account emails.
package email

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"
)

// Message is a plain-text email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes messages to the log at debug level instead of sending them.
// Development and test deployments use it in place of an SMTP relay.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.logger.DebugContext(ctx, "email not sent, logging instead",
		"to", msg.To,
		"subject", msg.Subject,
		"body", msg.Body,
	)
	return nil
}

// VerificationMessage builds the email carrying an email verification token.
func VerificationMessage(to, token string, expiresAt time.Time) Message {
	first, _ := DeriveNameFromEmail(to)
	body := fmt.Sprintf("Hello %s,\n\nYour email verification code is:\n\n%s\n\nIt expires at %s.\n",
		first, token, expiresAt.UTC().Format(time.RFC1123))
	return Message{
		To:      to,
		Subject: "Verify your email address",
		Body:    body,
	}
}

// DeriveNameFromEmail guesses first and last names from the local part of an
// address, e.g. "jane.doe@example.com" gives "Jane", "Doe".
func DeriveNameFromEmail(email string) (string, string) {
	localPart := email
	if at := strings.IndexByte(email, '@'); at > 0 {
		localPart = email[:at]
	}

	parts := strings.FieldsFunc(localPart, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+'
	})

	if len(parts) == 0 {
		return "User", "User"
	}

	first := capitalize(parts[0])
	last := "User"
	if len(parts) > 1 {
		last = capitalize(parts[len(parts)-1])
	}

	return first, last
}

func capitalize(s string) string {
	if s == "" {
		return s
	}

	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
