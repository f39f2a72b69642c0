/**
 * @description
 * The ledger is the only writer of transaction records. It validates creation input,
 * enforces the status state machine and appends an audit event for every change.
 *
 * @notes
 * - Status changes are compare-and-set in the store; a lost race is reported as
 *   ErrConcurrentModification unless the winner moved the record to the same status.
 * - Re-applying a record's current status is a silent no-op so webhook replays do not
 *   mutate anything.
 */
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/settlement-service/internal/domain"
	"github.com/transfa/settlement-service/internal/store"
	"go.uber.org/zap"
)

// Repository is the slice of the store the ledger needs.
type Repository interface {
	store.TransactionRepository
	store.EventRepository
}

type Ledger struct {
	repo Repository
	log  *zap.Logger
	now  func() time.Time
}

func New(repo Repository, log *zap.Logger) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{
		repo: repo,
		log:  log.With(zap.String("component", "ledger")),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// CreateTransactionInput describes a new transaction. ID may only be supplied for
// workflows that allow it. When Quote is set its fees are frozen into the record and
// its rate is used unless ExchangeRate is given.
type CreateTransactionInput struct {
	ID             *uuid.UUID
	TransactionRef string
	WorkflowName   domain.WorkflowName
	Debit          *domain.TransactionSide
	Credit         *domain.TransactionSide
	ExchangeRate   decimal.Decimal
	Quote          *domain.Quote
	Fees           []domain.TransactionFee
	Memo           string
	SessionKey     string
	CorrelationKey *string
}

// UpdateTransactionInput is a narrow patch; nil fields are left unchanged.
type UpdateTransactionInput struct {
	DebitAmount    *decimal.Decimal
	CreditAmount   *decimal.Decimal
	Status         *domain.TransactionStatus
	ExchangeRate   *decimal.Decimal
	SessionKey     *string
	CorrelationKey *string
}

func normalizeSide(side *domain.TransactionSide, name string) (*domain.TransactionSide, error) {
	if side == nil {
		return nil, nil
	}
	normalized := &domain.TransactionSide{
		ConsumerID: strings.TrimSpace(side.ConsumerID),
		Amount:     side.Amount,
		Currency:   domain.NormalizeCurrency(side.Currency),
	}
	if !normalized.Populated() {
		return nil, domain.NewError(domain.KindValidation, "%s side requires consumer, positive amount and currency", name)
	}
	if !domain.ValidCurrency(normalized.Currency) {
		return nil, domain.NewError(domain.KindValidation, "%s side currency %q is not a valid ISO-4217 code", name, side.Currency)
	}
	return normalized, nil
}

func newTransactionRef() string {
	return "TX" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:18])
}

// Create validates input and persists a new INITIATED transaction.
func (l *Ledger) Create(ctx context.Context, in CreateTransactionInput) (*domain.Transaction, error) {
	if !in.WorkflowName.Valid() {
		return nil, domain.NewError(domain.KindValidation, "unknown workflow %q", in.WorkflowName)
	}
	if in.ID != nil && !in.WorkflowName.AllowsPresetID() {
		return nil, domain.ErrPresetIDNotAllowed
	}
	if in.Debit == nil && in.Credit == nil {
		return nil, domain.ErrNoSidePopulated
	}
	debit, err := normalizeSide(in.Debit, "debit")
	if err != nil {
		return nil, err
	}
	credit, err := normalizeSide(in.Credit, "credit")
	if err != nil {
		return nil, err
	}
	if in.ExchangeRate.IsNegative() {
		return nil, domain.NewError(domain.KindValidation, "exchange rate must not be negative")
	}

	now := l.now()
	tx := &domain.Transaction{
		ID:             uuid.New(),
		TransactionRef: strings.TrimSpace(in.TransactionRef),
		WorkflowName:   in.WorkflowName,
		Status:         domain.StatusInitiated,
		Debit:          debit,
		Credit:         credit,
		ExchangeRate:   in.ExchangeRate,
		Fees:           append([]domain.TransactionFee(nil), in.Fees...),
		Memo:           strings.TrimSpace(in.Memo),
		SessionKey:     strings.TrimSpace(in.SessionKey),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if in.ID != nil {
		tx.ID = *in.ID
	}
	if tx.TransactionRef == "" {
		tx.TransactionRef = newTransactionRef()
	}
	if in.CorrelationKey != nil && strings.TrimSpace(*in.CorrelationKey) != "" {
		key := strings.TrimSpace(*in.CorrelationKey)
		tx.CorrelationKey = &key
	}
	if in.Quote != nil {
		tx.Fees = append(tx.Fees, in.Quote.Fees()...)
		if tx.ExchangeRate.IsZero() {
			tx.ExchangeRate = in.Quote.Rate
		}
	}
	if tx.Fees == nil {
		tx.Fees = []domain.TransactionFee{}
	}

	if err := l.repo.CreateTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("create transaction %s: %w", tx.TransactionRef, err)
	}

	l.appendEvent(ctx, domain.TransactionEvent{
		TransactionID: tx.ID,
		Message:       fmt.Sprintf("Transaction %s created", tx.TransactionRef),
		Key:           domain.EventKeyCreated,
		Param1:        string(tx.WorkflowName),
		Param2:        tx.TransactionRef,
	})
	l.log.Info("transaction created",
		zap.String("transaction_id", tx.ID.String()),
		zap.String("transaction_ref", tx.TransactionRef),
		zap.String("workflow", string(tx.WorkflowName)),
	)
	return tx, nil
}

// Update applies a narrow patch. Amounts may only change on an already populated
// side; a status change goes through the state machine.
func (l *Ledger) Update(ctx context.Context, id uuid.UUID, in UpdateTransactionInput) (*domain.Transaction, error) {
	tx, err := l.repo.FindTransactionByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.DebitAmount != nil {
		if tx.Debit == nil {
			return nil, domain.NewError(domain.KindValidation, "transaction %s has no debit side", id)
		}
		if !in.DebitAmount.IsPositive() {
			return nil, domain.NewError(domain.KindValidation, "debit amount must be positive")
		}
	}
	if in.CreditAmount != nil {
		if tx.Credit == nil {
			return nil, domain.NewError(domain.KindValidation, "transaction %s has no credit side", id)
		}
		if !in.CreditAmount.IsPositive() {
			return nil, domain.NewError(domain.KindValidation, "credit amount must be positive")
		}
	}
	if in.ExchangeRate != nil && in.ExchangeRate.IsNegative() {
		return nil, domain.NewError(domain.KindValidation, "exchange rate must not be negative")
	}
	if in.Status != nil {
		if !in.Status.Valid() {
			return nil, domain.NewError(domain.KindValidation, "unknown status %q", *in.Status)
		}
		if err := checkTransition(tx.Status, *in.Status); err != nil {
			return nil, err
		}
	}

	params := store.UpdateTransactionParams{
		DebitAmount:    in.DebitAmount,
		CreditAmount:   in.CreditAmount,
		ExchangeRate:   in.ExchangeRate,
		SessionKey:     in.SessionKey,
		CorrelationKey: in.CorrelationKey,
	}
	if params != (store.UpdateTransactionParams{}) {
		if tx, err = l.repo.UpdateTransaction(ctx, id, params); err != nil {
			return nil, fmt.Errorf("update transaction %s: %w", id, err)
		}
		l.appendEvent(ctx, domain.TransactionEvent{
			TransactionID: id,
			Message:       "Transaction details updated",
			Key:           domain.EventKeyUpdated,
			Internal:      true,
		})
	}

	if in.Status != nil {
		tx, _, err = l.Transition(ctx, id, *in.Status, "")
		if err != nil {
			return nil, err
		}
	}
	return tx, nil
}

func checkTransition(from, to domain.TransactionStatus) error {
	if from == to && (to.IsTerminal() || from.CanTransitionTo(to)) {
		return nil
	}
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%s -> %s: %w", from, to, domain.ErrInvalidTransition)
	}
	return nil
}

// Transition moves the transaction to status. changed is false when the record was
// already in that status (idempotent replay).
func (l *Ledger) Transition(ctx context.Context, id uuid.UUID, status domain.TransactionStatus, reason string) (tx *domain.Transaction, changed bool, err error) {
	tx, err = l.repo.FindTransactionByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if err := checkTransition(tx.Status, status); err != nil {
		return tx, false, err
	}
	if tx.Status == status {
		return tx, false, nil
	}

	from := tx.Status
	ok, err := l.repo.UpdateTransactionStatus(ctx, id, from, status)
	if err != nil {
		return nil, false, fmt.Errorf("transition transaction %s to %s: %w", id, status, err)
	}
	if !ok {
		current, findErr := l.repo.FindTransactionByID(ctx, id)
		if findErr != nil {
			return nil, false, findErr
		}
		if current.Status == status {
			return current, false, nil
		}
		return current, false, fmt.Errorf("transaction %s moved to %s while transitioning from %s: %w", id, current.Status, from, domain.ErrConcurrentModification)
	}

	l.appendEvent(ctx, domain.TransactionEvent{
		TransactionID: id,
		Message:       fmt.Sprintf("Status changed from %s to %s", from, status),
		Key:           domain.EventKeyStatusChanged,
		Param1:        string(from),
		Param2:        string(status),
		Param3:        reason,
	})
	l.log.Info("transaction status changed",
		zap.String("transaction_id", id.String()),
		zap.String("from", string(from)),
		zap.String("to", string(status)),
	)

	updated, err := l.repo.FindTransactionByID(ctx, id)
	if err != nil {
		return nil, true, err
	}
	return updated, true, nil
}

func (l *Ledger) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return l.repo.FindTransactionByID(ctx, id)
}

func (l *Ledger) GetByRef(ctx context.Context, ref string) (*domain.Transaction, error) {
	return l.repo.FindTransactionByRef(ctx, strings.TrimSpace(ref))
}

func (l *Ledger) GetByCorrelationKey(ctx context.Context, correlationKey string) (*domain.Transaction, error) {
	key := strings.TrimSpace(correlationKey)
	if key == "" {
		return nil, domain.ErrTransactionNotFound
	}
	return l.repo.FindTransactionByCorrelationKey(ctx, key)
}

// GetFiltered returns one page of transactions matching filter, visibility rule included.
func (l *Ledger) GetFiltered(ctx context.Context, filter domain.TransactionFilter) (domain.PaginatedResult[domain.Transaction], error) {
	filter = filter.Normalize()
	if filter.StartDate != nil && filter.EndDate != nil && filter.StartDate.After(*filter.EndDate) {
		return domain.PaginatedResult[domain.Transaction]{}, domain.NewError(domain.KindValidation, "start date must not be after end date")
	}
	if filter.Status != nil && !filter.Status.Valid() {
		return domain.PaginatedResult[domain.Transaction]{}, domain.NewError(domain.KindValidation, "unknown status %q", *filter.Status)
	}

	items, total, err := l.repo.ListTransactions(ctx, filter)
	if err != nil {
		return domain.PaginatedResult[domain.Transaction]{}, fmt.Errorf("list transactions: %w", err)
	}
	return domain.NewPaginatedResult(items, total, filter.PageLimit, filter.PageOffset), nil
}

// AddEvent appends an audit entry to an existing transaction.
func (l *Ledger) AddEvent(ctx context.Context, event domain.TransactionEvent) (*domain.TransactionEvent, error) {
	if strings.TrimSpace(event.Message) == "" {
		return nil, domain.NewError(domain.KindValidation, "event message is required")
	}
	if _, err := l.repo.FindTransactionByID(ctx, event.TransactionID); err != nil {
		return nil, err
	}
	event.ID = uuid.New()
	event.CreatedAt = l.now()
	if err := l.repo.CreateTransactionEvent(ctx, &event); err != nil {
		return nil, fmt.Errorf("add event to transaction %s: %w", event.TransactionID, err)
	}
	return &event, nil
}

// GetEvents lists a transaction's audit trail. Internal events are included only
// when requested.
func (l *Ledger) GetEvents(ctx context.Context, transactionID uuid.UUID, includeInternal bool) ([]domain.TransactionEvent, error) {
	if _, err := l.repo.FindTransactionByID(ctx, transactionID); err != nil {
		return nil, err
	}
	return l.repo.ListTransactionEvents(ctx, transactionID, includeInternal)
}

// appendEvent records ledger-generated audit entries. The state change has already
// been committed, so a failure here is logged rather than returned.
func (l *Ledger) appendEvent(ctx context.Context, event domain.TransactionEvent) {
	if _, err := l.AddEvent(ctx, event); err != nil && !errors.Is(err, context.Canceled) {
		l.log.Error("failed to append transaction event",
			zap.String("transaction_id", event.TransactionID.String()),
			zap.String("key", event.Key),
			zap.Error(err),
		)
	}
}
