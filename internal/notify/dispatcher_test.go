package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"fiscus/internal/domain"
	"fiscus/internal/notify/mocks"
	"fiscus/internal/status"
)

//go:generate mockgen -source=channel.go -destination=mocks/sender_mocks.go -package=mocks Sender

var fixedNow = time.Date(2025, 11, 5, 12, 0, 0, 0, time.UTC)

func passRecord(documentID string) domain.StatusRecord {
	return domain.StatusRecord{
		DocumentID:     documentID,
		Outcome:        domain.OutcomePass,
		Reason:         domain.ReasonAllChecksPassed,
		RuleSetVersion: "v3",
		Jurisdiction:   "DE",
		EvaluatedAt:    fixedNow.Add(-time.Minute),
	}
}

func failRecord(documentID string) domain.StatusRecord {
	rec := passRecord(documentID)
	rec.Outcome = domain.OutcomeFail
	rec.Reason = "math check failed"
	rec.Violations = []domain.Violation{{
		Code:    domain.ViolationMathMismatch,
		Field:   "tax_amount",
		Message: "math check failed",
		Delta:   decimal.NewNullDecimal(decimal.RequireFromString("6.00")),
	}}
	return rec
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *mocks.MockSender, *mocks.MockSender) {
	t.Helper()
	ctrl := gomock.NewController(t)
	operational := mocks.NewMockSender(ctrl)
	operational.EXPECT().Name().Return("webhook").AnyTimes()
	critical := mocks.NewMockSender(ctrl)
	critical.EXPECT().Name().Return("email").AnyTimes()

	d := New([]Route{
		{Channel: domain.ChannelOperational, Policy: PolicyAlways, Sender: operational},
		{Channel: domain.ChannelCritical, Policy: PolicyFailuresOnly, Sender: critical},
	}, WithClock(func() time.Time { return fixedNow }))
	return d, operational, critical
}

func TestDispatchRoutesByPolicy(t *testing.T) {
	t.Run("pass reaches only the operational route", func(t *testing.T) {
		d, operational, critical := newTestDispatcher(t)
		operational.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil).Times(1)
		critical.EXPECT().Send(gomock.Any(), gomock.Any()).Times(0)

		d.Dispatch(context.Background(), passRecord("INV-1"))
	})

	t.Run("fail reaches both routes", func(t *testing.T) {
		d, operational, critical := newTestDispatcher(t)
		operational.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil).Times(1)
		critical.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil).Times(1)

		d.Dispatch(context.Background(), failRecord("INV-2"))
	})
}

func TestDispatchDeliveriesAreIndependent(t *testing.T) {
	d, operational, critical := newTestDispatcher(t)
	operational.EXPECT().Send(gomock.Any(), gomock.Any()).Return(errors.New("webhook down")).Times(1)
	critical.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil).Times(1)

	// The failing operational delivery must not stop the critical one, and
	// Dispatch itself never surfaces delivery errors.
	d.Dispatch(context.Background(), failRecord("INV-3"))
}

func TestDispatchDeadLettersWhenCircuitOpens(t *testing.T) {
	ctrl := gomock.NewController(t)
	webhook := mocks.NewMockSender(ctrl)
	webhook.EXPECT().Name().Return("webhook").AnyTimes()
	deadLetter := mocks.NewMockSender(ctrl)
	deadLetter.EXPECT().Name().Return("kafka").AnyTimes()

	d := New(
		[]Route{{Channel: domain.ChannelOperational, Policy: PolicyAlways, Sender: webhook}},
		WithDeadLetter(deadLetter),
		WithClock(func() time.Time { return fixedNow }),
	)

	// Five consecutive failures open the circuit; the opening failure and
	// every one after it mirror the event to the dead-letter sender.
	webhook.EXPECT().Send(gomock.Any(), gomock.Any()).Return(errors.New("webhook down")).Times(6)
	deadLetter.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil).Times(2)
	for range 6 {
		d.Dispatch(context.Background(), passRecord("INV-DL"))
	}

	// Three successes close it again and stop the mirroring.
	webhook.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil).Times(3)
	for range 3 {
		d.Dispatch(context.Background(), passRecord("INV-DL"))
	}

	// A single failure on a closed circuit is not mirrored.
	webhook.EXPECT().Send(gomock.Any(), gomock.Any()).Return(errors.New("blip")).Times(1)
	d.Dispatch(context.Background(), passRecord("INV-DL"))
}

func TestDispatchEventShape(t *testing.T) {
	d, operational, critical := newTestDispatcher(t)

	var operationalEvent, criticalEvent domain.NotificationEvent
	operational.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, e domain.NotificationEvent) error {
			operationalEvent = e
			return nil
		}).Times(1)
	critical.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, e domain.NotificationEvent) error {
			criticalEvent = e
			return nil
		}).Times(1)

	rec := failRecord("INV-4")
	d.Dispatch(context.Background(), rec)

	assert.Equal(t, domain.ChannelOperational, operationalEvent.Channel)
	assert.Equal(t, domain.ChannelCritical, criticalEvent.Channel)

	for _, event := range []domain.NotificationEvent{operationalEvent, criticalEvent} {
		assert.Equal(t, "INV-4", event.DocumentID)
		assert.Equal(t, domain.OutcomeFail, event.Outcome)
		assert.Equal(t, []string{"MATH_MISMATCH"}, event.ViolationCodes)
		require.True(t, event.Delta.Valid)
		assert.True(t, event.Delta.Decimal.Equal(decimal.RequireFromString("6.00")))
		assert.Equal(t, fixedNow, event.EmittedAt)
		assert.NotEmpty(t, event.ID)
	}
	assert.NotEqual(t, operationalEvent.ID, criticalEvent.ID, "each delivery gets its own event id")
}

func TestRunConsumesFeedUntilClose(t *testing.T) {
	d, operational, critical := newTestDispatcher(t)
	operational.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil).Times(2)
	critical.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil).Times(1)

	feed := status.NewFeed()
	sub := feed.Subscribe("notify")

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background(), sub) }()

	// Buffered events survive Close; Run drains them before returning.
	feed.Publish(passRecord("INV-5"))
	feed.Publish(failRecord("INV-6"))
	feed.Close()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop when feed closed")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	feed := status.NewFeed()
	defer feed.Close()
	sub := feed.Subscribe("notify")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, sub) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop on cancel")
	}
}

func TestPolicyMatches(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		outcome domain.Outcome
		want    bool
	}{
		{"always matches pass", PolicyAlways, domain.OutcomePass, true},
		{"always matches fail", PolicyAlways, domain.OutcomeFail, true},
		{"failures-only skips pass", PolicyFailuresOnly, domain.OutcomePass, false},
		{"failures-only matches fail", PolicyFailuresOnly, domain.OutcomeFail, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.policy.Matches(tt.outcome))
		})
	}
}

func TestNewEventFromPassRecord(t *testing.T) {
	event := NewEvent(domain.ChannelOperational, passRecord("INV-7"), fixedNow)

	assert.Equal(t, domain.OutcomePass, event.Outcome)
	assert.Equal(t, domain.ReasonAllChecksPassed, event.Reason)
	assert.Empty(t, event.ViolationCodes)
	assert.False(t, event.Delta.Valid)
}
