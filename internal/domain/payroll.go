package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PayrollStatus tracks funding of an employer payroll.
type PayrollStatus string

const (
	PayrollStatusPending PayrollStatus = "PENDING"
	PayrollStatusFunded  PayrollStatus = "FUNDED"
	PayrollStatusFailed  PayrollStatus = "FAILED"
)

// Payroll is the external payroll record the matcher reconciles deposits against.
type Payroll struct {
	ID                     uuid.UUID       `json:"id"`
	Amount                 decimal.Decimal `json:"amount"`
	Currency               string          `json:"currency"`
	EmployerDocumentNumber string          `json:"employer_document_number"`
	DepositMatchingName    string          `json:"deposit_matching_name"`
	Status                 PayrollStatus   `json:"status"`
	CollectionLinkID       *string         `json:"collection_link_id,omitempty"`
	FailureReason          *string         `json:"failure_reason,omitempty"`
	CreatedAt              time.Time       `json:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at"`
}

// LockKey is the correlation key used to serialize mutations on this payroll.
func (p *Payroll) LockKey() string {
	if p.CollectionLinkID != nil && *p.CollectionLinkID != "" {
		return *p.CollectionLinkID
	}
	return p.ID.String()
}
