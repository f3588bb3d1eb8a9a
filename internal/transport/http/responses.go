package httptransport

import (
	"fiscus/internal/domain"
)

// SubmitInvoiceResponse reports how a submission was finalized. Duplicate
// set means the document already had a verdict and Status is the stored
// one, so at-least-once senders can stop retrying.
type SubmitInvoiceResponse struct {
	Duplicate bool                `json:"duplicate"`
	Status    domain.StatusRecord `json:"status"`
}

// JurisdictionRates lists the allowed rates for one jurisdiction, rendered
// as decimal strings.
type JurisdictionRates struct {
	Code  string   `json:"code"`
	Rates []string `json:"rates"`
}

// RatesResponse shows operators the live rate table and rule-chain version.
type RatesResponse struct {
	RuleSetVersion string              `json:"rule_set_version"`
	Jurisdictions  []JurisdictionRates `json:"jurisdictions"`
}
