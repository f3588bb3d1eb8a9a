package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fiscus/internal/domain"
)

func TestWebhookSenderDelivers(t *testing.T) {
	var (
		gotBody        []byte
		gotSignature   string
		gotContentType string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSignature = r.Header.Get(SignatureHeader)
		gotContentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := NewWebhookSender(srv.URL, WithWebhookSecret("s3cret"))
	event := NewEvent(domain.ChannelOperational, failRecord("INV-W1"), fixedNow)
	require.NoError(t, sender.Send(context.Background(), event))

	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, Sign("s3cret", gotBody), gotSignature)

	var payload webhookPayload
	require.NoError(t, json.Unmarshal(gotBody, &payload))
	assert.Contains(t, payload.Text, "FAIL")
	assert.Contains(t, payload.Text, "INV-W1")
	assert.Equal(t, "INV-W1", payload.Event.DocumentID)
	assert.Equal(t, []string{"MATH_MISMATCH"}, payload.Event.ViolationCodes)
}

func TestWebhookSenderSkipsSignatureWithoutSecret(t *testing.T) {
	var gotSignature string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get(SignatureHeader)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sender := NewWebhookSender(srv.URL)
	err := sender.Send(context.Background(), NewEvent(domain.ChannelOperational, passRecord("INV-W2"), fixedNow))
	require.NoError(t, err)
	assert.Empty(t, gotSignature)
}

func TestWebhookSenderRejectsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "try later", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	sender := NewWebhookSender(srv.URL)
	err := sender.Send(context.Background(), NewEvent(domain.ChannelOperational, passRecord("INV-W3"), fixedNow))
	require.ErrorContains(t, err, "503")
}

func TestWebhookSenderUnreachableEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listens anymore

	sender := NewWebhookSender(srv.URL)
	err := sender.Send(context.Background(), NewEvent(domain.ChannelOperational, passRecord("INV-W4"), fixedNow))
	require.ErrorContains(t, err, "post webhook")
}

func TestSummaryLine(t *testing.T) {
	pass := NewEvent(domain.ChannelOperational, passRecord("INV-W5"), fixedNow)
	assert.Equal(t, "[PASS] INV-W5 (DE): All checks passed", summaryLine(pass))

	fail := NewEvent(domain.ChannelCritical, failRecord("INV-W6"), fixedNow)
	assert.Equal(t, "[FAIL] INV-W6 (DE): math check failed", summaryLine(fail))
}
