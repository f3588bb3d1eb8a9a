package submission

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fiscus/internal/analytics"
	"fiscus/internal/domain"
	"fiscus/internal/notify"
	"fiscus/internal/pipeline"
	"fiscus/internal/platform/middleware"
	"fiscus/internal/ratetable"
	"fiscus/internal/status"
	httptransport "fiscus/internal/transport/http"
	"fiscus/internal/validate"
	"fiscus/pkg/testutil"
)

// captureSender records delivered events in memory.
type captureSender struct {
	name string

	mu     sync.Mutex
	events []domain.NotificationEvent
}

func (c *captureSender) Name() string { return c.name }

func (c *captureSender) Send(_ context.Context, event domain.NotificationEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *captureSender) snapshot() []domain.NotificationEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.NotificationEvent, len(c.events))
	copy(out, c.events)
	return out
}

// captureSink records exported analytics rows in memory.
type captureSink struct {
	mu   sync.Mutex
	rows []analytics.Record
}

func (c *captureSink) WriteBatch(_ context.Context, rows []analytics.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows = append(c.rows, rows...)
	return nil
}

func (c *captureSink) snapshot() []analytics.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]analytics.Record, len(c.rows))
	copy(out, c.rows)
	return out
}

type stack struct {
	router      http.Handler
	store       *status.InMemoryStore
	operational *captureSender
	critical    *captureSender
	sink        *captureSink
}

// newStack wires the whole in-memory pipeline behind the real router:
// normalization, validation, status store, feed, notification dispatch and
// analytics export.
func newStack(t *testing.T) *stack {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	feed := status.NewFeed(status.WithFeedLogger(logger))
	t.Cleanup(feed.Close)

	store := status.NewInMemoryStore(feed)
	engine := validate.New(ratetable.Default(), validate.WithLogger(logger))
	service := pipeline.New(engine, store, pipeline.WithLogger(logger))

	operational := &captureSender{name: "webhook"}
	critical := &captureSender{name: "email"}
	dispatcher := notify.New([]notify.Route{
		{Channel: domain.ChannelOperational, Policy: notify.PolicyAlways, Sender: operational},
		{Channel: domain.ChannelCritical, Policy: notify.PolicyFailuresOnly, Sender: critical},
	}, notify.WithLogger(logger))
	notifySub := feed.Subscribe("notify")
	go func() { _ = dispatcher.Run(ctx, notifySub) }()

	sink := &captureSink{}
	projector := analytics.NewProjector(sink,
		analytics.WithBatchSize(1),
		analytics.WithProjectorLogger(logger),
	)
	analyticsSub := feed.Subscribe("analytics")
	go func() { _ = projector.Run(ctx, analyticsSub) }()

	handler := httptransport.NewInvoiceHandler(service, ratetable.Default(), logger)
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	handler.Register(r)

	return &stack{
		router:      r,
		store:       store,
		operational: operational,
		critical:    critical,
		sink:        sink,
	}
}

func submitBody(documentID, netTotal, taxRate, taxAmount string) httptransport.SubmitInvoiceRequest {
	return httptransport.SubmitInvoiceRequest{
		DocumentID:           documentID,
		Source:               "scanner-eu-1",
		ExtractionConfidence: 0.97,
		Fields: map[string]string{
			"jurisdiction_code": "DE",
			"currency":          "EUR",
			"net_total":         netTotal,
			"tax_rate":          taxRate,
			"tax_amount":        taxAmount,
			"supplier_name":     "ACME GmbH",
		},
	}
}

func TestSubmitFlow_PassingInvoice(t *testing.T) {
	s := newStack(t)

	testutil.Given(t, "a submission that passes every check", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/invoices", submitBody("INV-1001", "100.00", "0.19", "19.00"))
		rr := testutil.DoRequest(s.router, req)

		testutil.AssertStatus(t, rr, http.StatusCreated)
		res := testutil.UnmarshalResponse[httptransport.SubmitInvoiceResponse](t, rr)
		assert.False(t, res.Duplicate)
		assert.Equal(t, domain.OutcomePass, res.Status.Outcome)
		assert.Empty(t, res.Status.Violations)
	})

	testutil.When(t, "its status is requested", func(t *testing.T) {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(t, http.MethodGet, "/invoices/INV-1001/status"))

		testutil.AssertStatus(t, rr, http.StatusOK)
		rec := testutil.UnmarshalResponse[domain.StatusRecord](t, rr)
		assert.Equal(t, "INV-1001", rec.DocumentID)
		assert.Equal(t, domain.OutcomePass, rec.Outcome)
		assert.Equal(t, validate.RuleSetVersion, rec.RuleSetVersion)
	})

	testutil.Then(t, "only the operational channel is notified", func(t *testing.T) {
		require.Eventually(t, func() bool {
			return len(s.operational.snapshot()) == 1
		}, 2*time.Second, 20*time.Millisecond)

		event := s.operational.snapshot()[0]
		assert.Equal(t, domain.ChannelOperational, event.Channel)
		assert.Equal(t, "INV-1001", event.DocumentID)
		assert.Equal(t, domain.OutcomePass, event.Outcome)
		assert.Empty(t, s.critical.snapshot())
	})

	testutil.Then(t, "one analytics row is exported", func(t *testing.T) {
		require.Eventually(t, func() bool {
			return len(s.sink.snapshot()) == 1
		}, 2*time.Second, 20*time.Millisecond)

		row := s.sink.snapshot()[0]
		assert.Equal(t, "INV-1001", row.DocumentID)
		assert.Equal(t, string(domain.OutcomePass), row.Outcome)
	})
}

func TestSubmitFlow_FailedInvoiceAndDuplicate(t *testing.T) {
	s := newStack(t)

	testutil.Given(t, "a submission whose tax math is off", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/invoices", submitBody("INV-2001", "100.00", "0.19", "25.00"))
		rr := testutil.DoRequest(s.router, req)

		testutil.AssertStatus(t, rr, http.StatusCreated)
		res := testutil.UnmarshalResponse[httptransport.SubmitInvoiceResponse](t, rr)
		assert.Equal(t, domain.OutcomeFail, res.Status.Outcome)
		require.Len(t, res.Status.Violations, 1)
		assert.Equal(t, domain.ViolationMathMismatch, res.Status.Violations[0].Code)
	})

	testutil.When(t, "the same document is resubmitted with corrected amounts", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/invoices", submitBody("INV-2001", "100.00", "0.19", "19.00"))
		rr := testutil.DoRequest(s.router, req)

		testutil.AssertStatus(t, rr, http.StatusOK)
		res := testutil.UnmarshalResponse[httptransport.SubmitInvoiceResponse](t, rr)
		assert.True(t, res.Duplicate)
		// First verdict stands; the resubmission changes nothing.
		assert.Equal(t, domain.OutcomeFail, res.Status.Outcome)
	})

	// A second distinct document proves the duplicate stayed invisible: the
	// feed is ordered per subscriber, so once INV-2002 shows up, a duplicate
	// event for INV-2001 would already have been seen.
	testutil.When(t, "another passing document follows", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/invoices", submitBody("INV-2002", "200.00", "0.07", "14.00"))
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatus(t, rr, http.StatusCreated)
	})

	testutil.Then(t, "the failure reached both channels, the duplicate neither", func(t *testing.T) {
		require.Eventually(t, func() bool {
			return len(s.operational.snapshot()) == 2
		}, 2*time.Second, 20*time.Millisecond)

		operational := s.operational.snapshot()
		assert.Equal(t, "INV-2001", operational[0].DocumentID)
		assert.Equal(t, "INV-2002", operational[1].DocumentID)

		critical := s.critical.snapshot()
		require.Len(t, critical, 1)
		assert.Equal(t, "INV-2001", critical[0].DocumentID)
		assert.Equal(t, domain.OutcomeFail, critical[0].Outcome)
		assert.Equal(t, []string{"MATH_MISMATCH"}, critical[0].ViolationCodes)
		require.True(t, critical[0].Delta.Valid)
		assert.Equal(t, "6", critical[0].Delta.Decimal.String())
	})

	testutil.Then(t, "analytics holds one row per document", func(t *testing.T) {
		require.Eventually(t, func() bool {
			return len(s.sink.snapshot()) == 2
		}, 2*time.Second, 20*time.Millisecond)

		rows := s.sink.snapshot()
		assert.Equal(t, "INV-2001", rows[0].DocumentID)
		assert.Equal(t, string(domain.OutcomeFail), rows[0].Outcome)
		assert.Equal(t, "INV-2002", rows[1].DocumentID)
	})
}

func TestSubmitFlow_Rejections(t *testing.T) {
	s := newStack(t)

	t.Run("status of an unknown document", func(t *testing.T) {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(t, http.MethodGet, "/invoices/INV-NOPE/status"))
		testutil.AssertStatusAndError(t, rr, http.StatusNotFound, "not_found")
	})

	t.Run("keyless submission", func(t *testing.T) {
		rr := testutil.DoRequest(s.router, testutil.NewRequestWithBody(t, http.MethodPost, "/invoices", `{"fields":null}`))
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "invalid_input")
	})

	t.Run("unparsable body", func(t *testing.T) {
		rr := testutil.DoRequest(s.router, testutil.NewRequestWithBody(t, http.MethodPost, "/invoices", "{oops"))
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "bad_request")
	})

	t.Run("nothing was stored or notified", func(t *testing.T) {
		assert.Equal(t, 0, s.store.Len())
		assert.Empty(t, s.operational.snapshot())
		assert.Empty(t, s.sink.snapshot())
	})
}
