package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"fiscus/internal/domain"
	pstrings "fiscus/pkg/platform/strings"
)

// EmailSender delivers events as plain-text mail. It suits the critical
// channel, where a failed invoice needs a human in the loop.
type EmailSender struct {
	addr string
	from string
	to   []string
	auth smtp.Auth
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// EmailOption configures an EmailSender.
type EmailOption func(*EmailSender)

// WithSMTPAuth sets server authentication.
func WithSMTPAuth(auth smtp.Auth) EmailOption {
	return func(s *EmailSender) { s.auth = auth }
}

// NewEmailSender creates a sender for the given relay and recipients.
// Recipients are trimmed and deduplicated; each one gets at most one copy.
func NewEmailSender(addr, from string, to []string, opts ...EmailOption) *EmailSender {
	s := &EmailSender{
		addr: addr,
		from: from,
		to:   pstrings.DedupeAndTrim(to),
		send: smtp.SendMail,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name identifies this sender in logs and metrics.
func (s *EmailSender) Name() string { return "email" }

// Send composes and relays one message. net/smtp carries no context, so
// cancellation is honored only before dialing.
func (s *EmailSender) Send(ctx context.Context, event domain.NotificationEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.send(s.addr, s.auth, s.from, s.to, s.compose(event)); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

func (s *EmailSender) compose(event domain.NotificationEvent) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(s.to, ", "))
	fmt.Fprintf(&b, "Subject: [fiscus] %s %s\r\n", event.Outcome, event.DocumentID)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "Document %s finalized as %s.\r\n\r\n", event.DocumentID, event.Outcome)
	fmt.Fprintf(&b, "Reason: %s\r\n", event.Reason)
	if len(event.ViolationCodes) > 0 {
		fmt.Fprintf(&b, "Violations: %s\r\n", strings.Join(event.ViolationCodes, ", "))
	}
	if event.Delta.Valid {
		fmt.Fprintf(&b, "Tax delta: %s\r\n", event.Delta.Decimal.StringFixed(2))
	}
	if event.Jurisdiction != "" {
		fmt.Fprintf(&b, "Jurisdiction: %s\r\n", event.Jurisdiction)
	}
	if event.SupplierName != "" {
		fmt.Fprintf(&b, "Supplier: %s\r\n", event.SupplierName)
	}
	fmt.Fprintf(&b, "Evaluated at: %s\r\n", event.EvaluatedAt.Format("2006-01-02 15:04:05 UTC"))
	return []byte(b.String())
}
