/**
 * @description
 * Core ledger models for the settlement-service: the Transaction record, its two
 * money sides, frozen fees and the status state machine.
 *
 * @notes
 * - Amounts are decimals in major currency units; rounding to the currency's minor
 *   unit happens where amounts are produced (see the quote engine).
 * - Transactions are mutated only through the ledger, which enforces the state machine.
 */

package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WorkflowName is the transaction category governing validation and side effects.
type WorkflowName string

const (
	WorkflowDeposit        WorkflowName = "DEPOSIT"
	WorkflowWithdrawal     WorkflowName = "WITHDRAWAL"
	WorkflowTransfer       WorkflowName = "TRANSFER"
	WorkflowPayrollDeposit WorkflowName = "PAYROLL_DEPOSIT"
	WorkflowCardWithdrawal WorkflowName = "CARD_WITHDRAWAL"
)

// Valid reports whether w is one of the enumerated workflows.
func (w WorkflowName) Valid() bool {
	switch w {
	case WorkflowDeposit, WorkflowWithdrawal, WorkflowTransfer, WorkflowPayrollDeposit, WorkflowCardWithdrawal:
		return true
	}
	return false
}

// AllowsPresetID reports whether callers may supply the transaction id. Card
// authorizations create the record under the authorizer's id so the upstream
// authorizer never has to look it up after creation.
func (w WorkflowName) AllowsPresetID() bool {
	return w == WorkflowCardWithdrawal
}

// TransactionStatus is a state in the ledger state machine.
type TransactionStatus string

const (
	StatusInitiated  TransactionStatus = "INITIATED"
	StatusProcessing TransactionStatus = "PROCESSING"
	StatusCompleted  TransactionStatus = "COMPLETED"
	StatusFailed     TransactionStatus = "FAILED"
)

var allowedTransitions = map[TransactionStatus][]TransactionStatus{
	StatusInitiated:  {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusProcessing, StatusCompleted, StatusFailed},
}

// Valid reports whether s is a known status.
func (s TransactionStatus) Valid() bool {
	switch s {
	case StatusInitiated, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition may leave s.
func (s TransactionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo reports whether moving from s to next is legal.
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	for _, candidate := range allowedTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// ParseTransactionStatus normalizes a user-supplied status string.
func ParseTransactionStatus(raw string) (TransactionStatus, bool) {
	status := TransactionStatus(strings.ToUpper(strings.TrimSpace(raw)))
	return status, status.Valid()
}

// TransactionSide is one leg (debit or credit) of a money movement.
type TransactionSide struct {
	ConsumerID string          `json:"consumer_id"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
}

// Populated reports whether every field of the side is set.
func (s *TransactionSide) Populated() bool {
	return s != nil &&
		strings.TrimSpace(s.ConsumerID) != "" &&
		s.Amount.IsPositive() &&
		strings.TrimSpace(s.Currency) != ""
}

// FeeType names the component a fee line belongs to.
type FeeType string

const (
	FeeTypeNoba       FeeType = "NOBA_FEE"
	FeeTypeProcessing FeeType = "PROCESSING_FEE"
)

// TransactionFee is a fee line frozen into a transaction at creation.
type TransactionFee struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Type     FeeType         `json:"type"`
}

// Transaction is the central ledger record for any money movement.
type Transaction struct {
	ID             uuid.UUID         `json:"id"`
	TransactionRef string            `json:"transaction_ref"`
	WorkflowName   WorkflowName      `json:"workflow_name"`
	Status         TransactionStatus `json:"status"`
	Debit          *TransactionSide  `json:"debit,omitempty"`
	Credit         *TransactionSide  `json:"credit,omitempty"`
	ExchangeRate   decimal.Decimal   `json:"exchange_rate"`
	Fees           []TransactionFee  `json:"fees"`
	Memo           string            `json:"memo,omitempty"`
	SessionKey     string            `json:"session_key,omitempty"`
	CorrelationKey *string           `json:"correlation_key,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// VisibleTo applies the consumer visibility rule: an incomplete transfer is hidden
// from the receiving consumer until it completes, while the sender always sees it.
func (t *Transaction) VisibleTo(consumerID string) bool {
	if t.Debit != nil && t.Debit.ConsumerID == consumerID {
		return true
	}
	if t.Credit != nil && t.Credit.ConsumerID == consumerID {
		if t.WorkflowName == WorkflowTransfer && t.Status != StatusCompleted {
			return false
		}
		return true
	}
	return false
}

// TransactionFilter selects transactions for paginated queries.
type TransactionFilter struct {
	ConsumerID     string
	Status         *TransactionStatus
	CreditCurrency string
	DebitCurrency  string
	StartDate      *time.Time
	EndDate        *time.Time
	PageLimit      int
	PageOffset     int
}

const (
	DefaultPageLimit = 10
	MaxPageLimit     = 100
)

// Normalize clamps pagination values and converts dates to UTC.
func (f TransactionFilter) Normalize() TransactionFilter {
	if f.PageLimit <= 0 {
		f.PageLimit = DefaultPageLimit
	}
	if f.PageLimit > MaxPageLimit {
		f.PageLimit = MaxPageLimit
	}
	if f.PageOffset < 0 {
		f.PageOffset = 0
	}
	if f.StartDate != nil {
		start := f.StartDate.UTC()
		f.StartDate = &start
	}
	if f.EndDate != nil {
		end := f.EndDate.UTC()
		f.EndDate = &end
	}
	f.CreditCurrency = strings.ToUpper(strings.TrimSpace(f.CreditCurrency))
	f.DebitCurrency = strings.ToUpper(strings.TrimSpace(f.DebitCurrency))
	return f
}

// Matches reports whether t satisfies every filter criterion, visibility included.
func (f TransactionFilter) Matches(t *Transaction) bool {
	if f.ConsumerID != "" && !t.VisibleTo(f.ConsumerID) {
		return false
	}
	if f.Status != nil && t.Status != *f.Status {
		return false
	}
	if f.CreditCurrency != "" && (t.Credit == nil || t.Credit.Currency != f.CreditCurrency) {
		return false
	}
	if f.DebitCurrency != "" && (t.Debit == nil || t.Debit.Currency != f.DebitCurrency) {
		return false
	}
	if f.StartDate != nil && t.CreatedAt.Before(*f.StartDate) {
		return false
	}
	if f.EndDate != nil && t.CreatedAt.After(*f.EndDate) {
		return false
	}
	return true
}

// PaginatedResult is a page of items plus totals for the whole result set.
type PaginatedResult[T any] struct {
	Items       []T  `json:"items"`
	TotalItems  int  `json:"total_items"`
	TotalPages  int  `json:"total_pages"`
	HasNextPage bool `json:"has_next_page"`
}

// NewPaginatedResult computes page totals for a query window.
func NewPaginatedResult[T any](items []T, totalItems, limit, offset int) PaginatedResult[T] {
	if items == nil {
		items = []T{}
	}
	totalPages := 0
	if limit > 0 {
		totalPages = (totalItems + limit - 1) / limit
	}
	return PaginatedResult[T]{
		Items:       items,
		TotalItems:  totalItems,
		TotalPages:  totalPages,
		HasNextPage: offset+len(items) < totalItems,
	}
}
