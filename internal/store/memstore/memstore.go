// Package memstore is an in-memory store.Repository used by tests and local runs
// without Postgres. It enforces the same uniqueness rules as the SQL schema.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/settlement-service/internal/domain"
	"github.com/transfa/settlement-service/internal/store"
)

type lockKey struct {
	objectType domain.LockObjectType
	key        string
}

// Store keeps copies of every record so callers can never mutate stored state
// without going through the repository methods.
type Store struct {
	mu           sync.Mutex
	transactions map[uuid.UUID]domain.Transaction
	events       []domain.TransactionEvent
	locks        map[lockKey]domain.Lock
	payrolls     map[uuid.UUID]domain.Payroll
	now          func() time.Time
}

var _ store.Repository = (*Store)(nil)

func New() *Store {
	return &Store{
		transactions: make(map[uuid.UUID]domain.Transaction),
		locks:        make(map[lockKey]domain.Lock),
		payrolls:     make(map[uuid.UUID]domain.Payroll),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the clock that stamps and ages locks.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	return s
}

func cloneTransaction(tx domain.Transaction) domain.Transaction {
	if tx.Debit != nil {
		side := *tx.Debit
		tx.Debit = &side
	}
	if tx.Credit != nil {
		side := *tx.Credit
		tx.Credit = &side
	}
	if tx.CorrelationKey != nil {
		key := *tx.CorrelationKey
		tx.CorrelationKey = &key
	}
	tx.Fees = append([]domain.TransactionFee(nil), tx.Fees...)
	return tx
}

func clonePayroll(p domain.Payroll) domain.Payroll {
	if p.CollectionLinkID != nil {
		link := *p.CollectionLinkID
		p.CollectionLinkID = &link
	}
	if p.FailureReason != nil {
		reason := *p.FailureReason
		p.FailureReason = &reason
	}
	return p
}

func (s *Store) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.transactions[tx.ID]; exists {
		return domain.ErrDuplicateTransactionRef
	}
	for _, existing := range s.transactions {
		if existing.TransactionRef == tx.TransactionRef {
			return domain.ErrDuplicateTransactionRef
		}
		if tx.CorrelationKey != nil && existing.CorrelationKey != nil && *existing.CorrelationKey == *tx.CorrelationKey {
			return domain.ErrDuplicateTransactionRef
		}
	}
	s.transactions[tx.ID] = cloneTransaction(*tx)
	return nil
}

func (s *Store) find(match func(domain.Transaction) bool) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tx := range s.transactions {
		if match(tx) {
			found := cloneTransaction(tx)
			return &found, nil
		}
	}
	return nil, domain.ErrTransactionNotFound
}

func (s *Store) FindTransactionByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return s.find(func(tx domain.Transaction) bool { return tx.ID == id })
}

func (s *Store) FindTransactionByRef(ctx context.Context, ref string) (*domain.Transaction, error) {
	return s.find(func(tx domain.Transaction) bool { return tx.TransactionRef == ref })
}

func (s *Store) FindTransactionByCorrelationKey(ctx context.Context, correlationKey string) (*domain.Transaction, error) {
	return s.find(func(tx domain.Transaction) bool {
		return tx.CorrelationKey != nil && *tx.CorrelationKey == correlationKey
	})
}

func (s *Store) UpdateTransaction(ctx context.Context, id uuid.UUID, params store.UpdateTransactionParams) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[id]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	tx = cloneTransaction(tx)
	if params.CorrelationKey != nil {
		for otherID, other := range s.transactions {
			if otherID != id && other.CorrelationKey != nil && *other.CorrelationKey == *params.CorrelationKey {
				return nil, domain.ErrDuplicateTransactionRef
			}
		}
		key := *params.CorrelationKey
		tx.CorrelationKey = &key
	}
	if params.DebitAmount != nil && tx.Debit != nil {
		tx.Debit.Amount = *params.DebitAmount
	}
	if params.CreditAmount != nil && tx.Credit != nil {
		tx.Credit.Amount = *params.CreditAmount
	}
	if params.ExchangeRate != nil {
		tx.ExchangeRate = *params.ExchangeRate
	}
	if params.SessionKey != nil {
		tx.SessionKey = *params.SessionKey
	}
	if params.Memo != nil {
		tx.Memo = *params.Memo
	}
	tx.UpdatedAt = time.Now().UTC()
	s.transactions[id] = tx

	updated := cloneTransaction(tx)
	return &updated, nil
}

func (s *Store) UpdateTransactionStatus(ctx context.Context, id uuid.UUID, from, to domain.TransactionStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[id]
	if !ok {
		return false, domain.ErrTransactionNotFound
	}
	if tx.Status != from {
		return false, nil
	}
	tx.Status = to
	tx.UpdatedAt = time.Now().UTC()
	s.transactions[id] = tx
	return true, nil
}

func (s *Store) ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, int, error) {
	filter = filter.Normalize()

	s.mu.Lock()
	matches := make([]domain.Transaction, 0)
	for _, tx := range s.transactions {
		candidate := tx
		if filter.Matches(&candidate) {
			matches = append(matches, cloneTransaction(tx))
		}
	}
	s.mu.Unlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].ID.String() > matches[j].ID.String()
		}
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})

	total := len(matches)
	if filter.PageOffset >= total {
		return []domain.Transaction{}, total, nil
	}
	end := filter.PageOffset + filter.PageLimit
	if end > total {
		end = total
	}
	return matches[filter.PageOffset:end], total, nil
}

func (s *Store) CreateTransactionEvent(ctx context.Context, event *domain.TransactionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transactions[event.TransactionID]; !ok {
		return domain.ErrTransactionNotFound
	}
	s.events = append(s.events, *event)
	return nil
}

func (s *Store) ListTransactionEvents(ctx context.Context, transactionID uuid.UUID, includeInternal bool) ([]domain.TransactionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := []domain.TransactionEvent{}
	for _, e := range s.events {
		if e.TransactionID != transactionID {
			continue
		}
		if e.Internal && !includeInternal {
			continue
		}
		events = append(events, e)
	}
	return events, nil
}

func (s *Store) InsertLock(ctx context.Context, lock *domain.Lock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := lockKey{objectType: lock.ObjectType, key: lock.Key}
	if _, held := s.locks[k]; held {
		return domain.ErrLockHeld
	}
	lock.CreatedAt = s.now()
	s.locks[k] = *lock
	return nil
}

func (s *Store) DeleteLock(ctx context.Context, objectType domain.LockObjectType, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, lockKey{objectType: objectType, key: key})
	return nil
}

func (s *Store) DeleteLockByID(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, l := range s.locks {
		if l.ID == id {
			delete(s.locks, k)
			return nil
		}
	}
	return nil
}

func (s *Store) DeleteLocksOlderThan(ctx context.Context, lease time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-lease)
	var removed int64
	for k, l := range s.locks {
		if l.CreatedAt.Before(cutoff) {
			delete(s.locks, k)
			removed++
		}
	}
	return removed, nil
}

// HeldLocks reports how many locks are currently held.
func (s *Store) HeldLocks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}

func (s *Store) CreatePayroll(ctx context.Context, payroll *domain.Payroll) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if payroll.CollectionLinkID != nil {
		for _, existing := range s.payrolls {
			if existing.CollectionLinkID != nil && *existing.CollectionLinkID == *payroll.CollectionLinkID {
				return domain.NewError(domain.KindConflict, "collection link %s already assigned", *payroll.CollectionLinkID)
			}
		}
	}
	s.payrolls[payroll.ID] = clonePayroll(*payroll)
	return nil
}

func (s *Store) FindPayrollByID(ctx context.Context, id uuid.UUID) (*domain.Payroll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payrolls[id]
	if !ok {
		return nil, domain.ErrPayrollNotFound
	}
	found := clonePayroll(p)
	return &found, nil
}

func (s *Store) FindPayrollByCollectionLinkID(ctx context.Context, linkID string) (*domain.Payroll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payrolls {
		if p.CollectionLinkID != nil && *p.CollectionLinkID == linkID {
			found := clonePayroll(p)
			return &found, nil
		}
	}
	return nil, domain.ErrPayrollNotFound
}

func (s *Store) pending(match func(domain.Payroll) bool) []domain.Payroll {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.Payroll{}
	for _, p := range s.payrolls {
		if p.Status == domain.PayrollStatusPending && match(p) {
			out = append(out, clonePayroll(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *Store) FindPendingPayrollsByAmountAndDocument(ctx context.Context, amount decimal.Decimal, currency, documentNumber string) ([]domain.Payroll, error) {
	return s.pending(func(p domain.Payroll) bool {
		return p.Amount.Equal(amount) && p.Currency == currency && p.EmployerDocumentNumber == documentNumber
	}), nil
}

func (s *Store) FindPendingPayrollsByAmountAndName(ctx context.Context, amount decimal.Decimal, currency, matchingName string) ([]domain.Payroll, error) {
	name := strings.TrimSpace(matchingName)
	return s.pending(func(p domain.Payroll) bool {
		return p.Amount.Equal(amount) && p.Currency == currency &&
			strings.EqualFold(strings.TrimSpace(p.DepositMatchingName), name)
	}), nil
}

func (s *Store) SetPayrollCollectionLink(ctx context.Context, id uuid.UUID, linkID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payrolls[id]
	if !ok {
		return domain.ErrPayrollNotFound
	}
	link := linkID
	p.CollectionLinkID = &link
	p.UpdatedAt = time.Now().UTC()
	s.payrolls[id] = p
	return nil
}

func (s *Store) UpdatePayrollStatus(ctx context.Context, id uuid.UUID, status domain.PayrollStatus, failureReason *string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payrolls[id]
	if !ok {
		return false, domain.ErrPayrollNotFound
	}
	if p.Status != domain.PayrollStatusPending {
		return false, nil
	}
	p.Status = status
	if failureReason != nil {
		reason := *failureReason
		p.FailureReason = &reason
	}
	p.UpdatedAt = time.Now().UTC()
	s.payrolls[id] = p
	return true, nil
}
