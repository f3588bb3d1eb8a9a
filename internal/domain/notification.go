package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// NotificationChannel names a logical delivery stream. Operational carries
// every finalized document; critical carries only failures. New channels are
// added by declaring a constant and wiring a route, not by touching the
// dispatcher.
type NotificationChannel string

const (
	ChannelOperational NotificationChannel = "operational"
	ChannelCritical    NotificationChannel = "critical"
)

// NotificationEvent is what a sender delivers for one finalized document on
// one channel. It is built from the stored record, never from in-flight
// pipeline state, so every delivery describes a durable fact.
type NotificationEvent struct {
	ID             string              `json:"id"`
	Channel        NotificationChannel `json:"channel"`
	DocumentID     string              `json:"document_id"`
	Outcome        Outcome             `json:"outcome"`
	Reason         string              `json:"reason"`
	ViolationCodes []string            `json:"violation_codes,omitempty"`
	Delta          decimal.NullDecimal `json:"delta,omitempty"`
	Jurisdiction   string              `json:"jurisdiction_code,omitempty"`
	SupplierName   string              `json:"supplier_name,omitempty"`
	NetTotal       decimal.NullDecimal `json:"net_total"`
	TaxAmount      decimal.NullDecimal `json:"tax_amount"`
	EvaluatedAt    time.Time           `json:"evaluated_at"`
	EmittedAt      time.Time           `json:"emitted_at"`
}
