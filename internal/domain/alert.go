package domain

import "time"

// Alert is an operator notification delivered through the alert channel.
type Alert struct {
	Key        string    `json:"key"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Alert keys raised by ingestion and reconciliation.
const (
	AlertMalformedWebhook      = "WEBHOOK_MALFORMED_EVENT"
	AlertAmbiguousMatch        = "RECONCILIATION_AMBIGUOUS_MATCH"
	AlertNoMatch               = "RECONCILIATION_NO_MATCH"
	AlertNoBackingRecord       = "RECONCILIATION_NO_BACKING_RECORD"
	AlertConflictingSettlement = "RECONCILIATION_CONFLICTING_SETTLEMENT"
	AlertAmountMismatch        = "RECONCILIATION_AMOUNT_MISMATCH"
	AlertReconciliationFailed  = "RECONCILIATION_FAILED"
)
