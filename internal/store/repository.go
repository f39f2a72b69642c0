/**
 * @description
 * This file defines the repository contracts used by the settlement-service. Business
 * logic depends on these interfaces only; PostgresRepository is the production
 * implementation and memstore.Store backs the tests.
 *
 * @dependencies
 * - github.com/shopspring/decimal: Monetary amounts.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/settlement-service/internal/domain"
)

// TransactionRepository persists ledger transactions.
type TransactionRepository interface {
	// CreateTransaction inserts tx. A duplicate reference or correlation key
	// yields domain.ErrDuplicateTransactionRef.
	CreateTransaction(ctx context.Context, tx *domain.Transaction) error
	FindTransactionByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	FindTransactionByRef(ctx context.Context, ref string) (*domain.Transaction, error)
	FindTransactionByCorrelationKey(ctx context.Context, correlationKey string) (*domain.Transaction, error)
	// UpdateTransaction applies the non-nil fields of params and returns the stored row.
	UpdateTransaction(ctx context.Context, id uuid.UUID, params UpdateTransactionParams) (*domain.Transaction, error)
	// UpdateTransactionStatus moves id from `from` to `to` only if the stored status is
	// still `from`. It reports false when another writer got there first.
	UpdateTransactionStatus(ctx context.Context, id uuid.UUID, from, to domain.TransactionStatus) (bool, error)
	// ListTransactions returns one page of matches and the total match count.
	ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, int, error)
}

// EventRepository is append-only: there is no update or delete.
type EventRepository interface {
	CreateTransactionEvent(ctx context.Context, event *domain.TransactionEvent) error
	ListTransactionEvents(ctx context.Context, transactionID uuid.UUID, includeInternal bool) ([]domain.TransactionEvent, error)
}

// LockRepository stores lock rows. A row's existence means the lock is held.
type LockRepository interface {
	// InsertLock returns domain.ErrLockHeld when (object type, key) already exists.
	// CreatedAt is stamped by the store's clock and written back to lock.
	InsertLock(ctx context.Context, lock *domain.Lock) error
	// DeleteLock is a no-op when no row exists.
	DeleteLock(ctx context.Context, objectType domain.LockObjectType, key string) error
	// DeleteLockByID removes only the row with this ID, leaving any later holder of
	// the same key alone.
	DeleteLockByID(ctx context.Context, id uuid.UUID) error
	// DeleteLocksOlderThan measures age against the store's clock.
	DeleteLocksOlderThan(ctx context.Context, lease time.Duration) (int64, error)
}

// PayrollRepository exposes the payroll records the matcher reconciles against.
type PayrollRepository interface {
	CreatePayroll(ctx context.Context, payroll *domain.Payroll) error
	FindPayrollByID(ctx context.Context, id uuid.UUID) (*domain.Payroll, error)
	FindPayrollByCollectionLinkID(ctx context.Context, linkID string) (*domain.Payroll, error)
	FindPendingPayrollsByAmountAndDocument(ctx context.Context, amount decimal.Decimal, currency, documentNumber string) ([]domain.Payroll, error)
	FindPendingPayrollsByAmountAndName(ctx context.Context, amount decimal.Decimal, currency, matchingName string) ([]domain.Payroll, error)
	SetPayrollCollectionLink(ctx context.Context, id uuid.UUID, linkID string) error
	// UpdatePayrollStatus moves a PENDING payroll to status. It reports false when the
	// payroll was no longer PENDING.
	UpdatePayrollStatus(ctx context.Context, id uuid.UUID, status domain.PayrollStatus, failureReason *string) (bool, error)
}

// Repository is the full data access surface of the service.
type Repository interface {
	TransactionRepository
	EventRepository
	LockRepository
	PayrollRepository
}

// UpdateTransactionParams is a narrow patch; nil fields are left unchanged.
type UpdateTransactionParams struct {
	DebitAmount    *decimal.Decimal
	CreditAmount   *decimal.Decimal
	ExchangeRate   *decimal.Decimal
	SessionKey     *string
	CorrelationKey *string
	Memo           *string
}
