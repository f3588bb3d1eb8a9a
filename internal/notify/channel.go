// Package notify fans finalized verdicts out to delivery channels. Channels
// are independent: a webhook outage never blocks email, and no delivery
// failure ever touches the stored record.
package notify

import (
	"context"

	"fiscus/internal/domain"
)

// Sender delivers one event over one transport.
type Sender interface {
	// Name identifies the sender in logs and metrics.
	Name() string
	// Send delivers the event. Errors mean this delivery failed; the
	// dispatcher logs and counts them but never retries into the store.
	Send(ctx context.Context, event domain.NotificationEvent) error
}

// Policy decides which outcomes a route receives.
type Policy string

const (
	// PolicyAlways delivers every finalized record.
	PolicyAlways Policy = "always"
	// PolicyFailuresOnly delivers only FAIL records.
	PolicyFailuresOnly Policy = "failures_only"
)

// Matches reports whether a record with the given outcome is delivered.
func (p Policy) Matches(outcome domain.Outcome) bool {
	if p == PolicyFailuresOnly {
		return outcome == domain.OutcomeFail
	}
	return true
}

// Route binds a logical channel to a sender under a policy. The default
// production set is an operational route on PolicyAlways and a critical
// route on PolicyFailuresOnly; adding a channel means adding a Route.
type Route struct {
	Channel domain.NotificationChannel
	Policy  Policy
	Sender  Sender
}
