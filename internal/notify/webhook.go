package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"fiscus/internal/domain"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body when the
// sender is configured with a secret. Receivers verify it against the shared
// secret before trusting the payload.
const SignatureHeader = "X-Fiscus-Signature"

const defaultWebhookTimeout = 10 * time.Second

// webhookPayload is the wire format: a one-line text summary plus the full
// event, so chat webhooks and machine consumers can share an endpoint.
type webhookPayload struct {
	Text  string                   `json:"text"`
	Event domain.NotificationEvent `json:"event"`
}

// WebhookSender POSTs events as JSON to a fixed URL.
type WebhookSender struct {
	url    string
	secret string
	client *http.Client
}

// WebhookOption configures a WebhookSender.
type WebhookOption func(*WebhookSender)

// WithWebhookSecret enables request signing.
func WithWebhookSecret(secret string) WebhookOption {
	return func(s *WebhookSender) { s.secret = secret }
}

// WithWebhookClient overrides the HTTP client.
func WithWebhookClient(client *http.Client) WebhookOption {
	return func(s *WebhookSender) { s.client = client }
}

// NewWebhookSender creates a sender for the given endpoint.
func NewWebhookSender(url string, opts ...WebhookOption) *WebhookSender {
	s := &WebhookSender{
		url:    url,
		client: &http.Client{Timeout: defaultWebhookTimeout},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name identifies this sender in logs and metrics.
func (s *WebhookSender) Name() string { return "webhook" }

// Send posts the event. Any status outside 2xx is a failed delivery.
func (s *WebhookSender) Send(ctx context.Context, event domain.NotificationEvent) error {
	body, err := json.Marshal(webhookPayload{
		Text:  summaryLine(event),
		Event: event,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.secret != "" {
		req.Header.Set(SignatureHeader, Sign(s.secret, body))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func summaryLine(event domain.NotificationEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", event.Outcome, event.DocumentID)
	if event.Jurisdiction != "" {
		fmt.Fprintf(&b, " (%s)", event.Jurisdiction)
	}
	b.WriteString(": ")
	b.WriteString(event.Reason)
	return b.String()
}
