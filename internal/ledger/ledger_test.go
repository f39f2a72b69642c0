package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/settlement-service/internal/domain"
	"github.com/transfa/settlement-service/internal/store/memstore"
)

func side(consumer, amount, currency string) *domain.TransactionSide {
	return &domain.TransactionSide{ConsumerID: consumer, Amount: decimal.RequireFromString(amount), Currency: currency}
}

func newLedger() (*Ledger, *memstore.Store) {
	repo := memstore.New()
	return New(repo, nil), repo
}

func TestCreate_RequiresAtLeastOneSide(t *testing.T) {
	l, _ := newLedger()
	_, err := l.Create(context.Background(), CreateTransactionInput{WorkflowName: domain.WorkflowDeposit})
	assert.ErrorIs(t, err, domain.ErrNoSidePopulated)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestCreate_RejectsPartiallyPopulatedSide(t *testing.T) {
	l, _ := newLedger()
	_, err := l.Create(context.Background(), CreateTransactionInput{
		WorkflowName: domain.WorkflowDeposit,
		Credit:       side("c-1", "0", "COP"),
	})
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	_, err = l.Create(context.Background(), CreateTransactionInput{
		WorkflowName: domain.WorkflowDeposit,
		Credit:       side("c-1", "10", "pesos"),
	})
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestCreate_PresetIDOnlyForCardWithdrawal(t *testing.T) {
	l, _ := newLedger()
	id := uuid.New()

	_, err := l.Create(context.Background(), CreateTransactionInput{
		ID:           &id,
		WorkflowName: domain.WorkflowWithdrawal,
		Debit:        side("c-1", "10", "USD"),
	})
	assert.ErrorIs(t, err, domain.ErrPresetIDNotAllowed)

	tx, err := l.Create(context.Background(), CreateTransactionInput{
		ID:           &id,
		WorkflowName: domain.WorkflowCardWithdrawal,
		Debit:        side("c-1", "10", "USD"),
	})
	require.NoError(t, err)
	assert.Equal(t, id, tx.ID)
}

func TestCreate_InitializesRecordAndFreezesQuoteFees(t *testing.T) {
	l, _ := newLedger()
	q := &domain.Quote{
		TargetCurrency: "USD",
		Rate:           decimal.RequireFromString("0.00025"),
		NobaFee:        decimal.RequireFromString("0.50"),
		ProcessingFee:  decimal.RequireFromString("0.85"),
	}
	tx, err := l.Create(context.Background(), CreateTransactionInput{
		WorkflowName: domain.WorkflowWithdrawal,
		Debit:        side(" c-1 ", "100000", "cop"),
		Quote:        q,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusInitiated, tx.Status)
	assert.NotEmpty(t, tx.TransactionRef)
	assert.Equal(t, "c-1", tx.Debit.ConsumerID)
	assert.Equal(t, "COP", tx.Debit.Currency)
	assert.True(t, tx.ExchangeRate.Equal(q.Rate))
	require.Len(t, tx.Fees, 2)
	assert.Equal(t, domain.FeeTypeNoba, tx.Fees[0].Type)
	assert.Equal(t, domain.FeeTypeProcessing, tx.Fees[1].Type)

	events, err := l.GetEvents(context.Background(), tx.ID, false)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventKeyCreated, events[0].Key)
}

func TestCreate_DuplicateRefIsConflict(t *testing.T) {
	l, _ := newLedger()
	in := CreateTransactionInput{TransactionRef: "REF-1", WorkflowName: domain.WorkflowDeposit, Credit: side("c", "1", "USD")}
	_, err := l.Create(context.Background(), in)
	require.NoError(t, err)
	_, err = l.Create(context.Background(), in)
	assert.Equal(t, domain.KindConflict, domain.KindOf(err))
}

func TestTransition_StateMachine(t *testing.T) {
	l, _ := newLedger()
	ctx := context.Background()
	tx, err := l.Create(ctx, CreateTransactionInput{WorkflowName: domain.WorkflowWithdrawal, Debit: side("c", "5", "USD")})
	require.NoError(t, err)

	_, _, err = l.Transition(ctx, tx.ID, domain.StatusCompleted, "")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	updated, changed, err := l.Transition(ctx, tx.ID, domain.StatusProcessing, "submitted")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, domain.StatusProcessing, updated.Status)

	_, changed, err = l.Transition(ctx, tx.ID, domain.StatusProcessing, "")
	require.NoError(t, err)
	assert.False(t, changed)

	_, changed, err = l.Transition(ctx, tx.ID, domain.StatusCompleted, "settled")
	require.NoError(t, err)
	assert.True(t, changed)

	eventsBefore, err := l.GetEvents(ctx, tx.ID, true)
	require.NoError(t, err)

	final, changed, err := l.Transition(ctx, tx.ID, domain.StatusCompleted, "replay")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, domain.StatusCompleted, final.Status)

	for _, next := range []domain.TransactionStatus{domain.StatusFailed, domain.StatusProcessing, domain.StatusInitiated} {
		_, _, err = l.Transition(ctx, tx.ID, next, "")
		assert.ErrorIs(t, err, domain.ErrInvalidTransition, "COMPLETED -> %s", next)
	}

	eventsAfter, err := l.GetEvents(ctx, tx.ID, true)
	require.NoError(t, err)
	assert.Len(t, eventsAfter, len(eventsBefore))
}

type racingRepo struct {
	*memstore.Store
}

func (r racingRepo) UpdateTransactionStatus(ctx context.Context, id uuid.UUID, from, to domain.TransactionStatus) (bool, error) {
	// Another writer fails the transaction first.
	if _, err := r.Store.UpdateTransactionStatus(ctx, id, from, domain.StatusFailed); err != nil {
		return false, err
	}
	return false, nil
}

func TestTransition_LostRaceIsConcurrentModification(t *testing.T) {
	base := memstore.New()
	l := New(racingRepo{Store: base}, nil)
	ctx := context.Background()
	tx, err := l.Create(ctx, CreateTransactionInput{WorkflowName: domain.WorkflowDeposit, Credit: side("c", "5", "USD")})
	require.NoError(t, err)

	_, _, err = l.Transition(ctx, tx.ID, domain.StatusProcessing, "")
	assert.ErrorIs(t, err, domain.ErrConcurrentModification)
	assert.Equal(t, domain.KindConflict, domain.KindOf(err))
}

func TestUpdate_NarrowPatch(t *testing.T) {
	l, _ := newLedger()
	ctx := context.Background()
	tx, err := l.Create(ctx, CreateTransactionInput{WorkflowName: domain.WorkflowDeposit, Credit: side("c", "5", "USD")})
	require.NoError(t, err)

	debit := decimal.NewFromInt(3)
	_, err = l.Update(ctx, tx.ID, UpdateTransactionInput{DebitAmount: &debit})
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	credit := decimal.NewFromInt(7)
	session := "sess-1"
	processing := domain.StatusProcessing
	updated, err := l.Update(ctx, tx.ID, UpdateTransactionInput{CreditAmount: &credit, SessionKey: &session, Status: &processing})
	require.NoError(t, err)
	assert.True(t, updated.Credit.Amount.Equal(credit))
	assert.Equal(t, "sess-1", updated.SessionKey)
	assert.Equal(t, domain.StatusProcessing, updated.Status)

	initiated := domain.StatusInitiated
	_, err = l.Update(ctx, tx.ID, UpdateTransactionInput{Status: &initiated})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = l.Update(ctx, uuid.New(), UpdateTransactionInput{SessionKey: &session})
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestGetFiltered_VisibilityAndPagination(t *testing.T) {
	l, _ := newLedger()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := l.Create(ctx, CreateTransactionInput{
			WorkflowName: domain.WorkflowTransfer,
			Debit:        side("sender", "1", "USD"),
			Credit:       side("receiver", "1", "USD"),
		})
		require.NoError(t, err)
	}

	page, err := l.GetFiltered(ctx, domain.TransactionFilter{ConsumerID: "receiver"})
	require.NoError(t, err)
	assert.Equal(t, 0, page.TotalItems)
	assert.Empty(t, page.Items)

	page, err = l.GetFiltered(ctx, domain.TransactionFilter{ConsumerID: "sender", PageLimit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, page.TotalItems)
	assert.Equal(t, 2, page.TotalPages)
	assert.True(t, page.HasNextPage)
	assert.Len(t, page.Items, 2)
}

func TestGetFiltered_RejectsInvertedDateRange(t *testing.T) {
	l, _ := newLedger()
	start := time.Now()
	end := start.Add(-time.Hour)
	_, err := l.GetFiltered(context.Background(), domain.TransactionFilter{StartDate: &start, EndDate: &end})
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestEvents_InternalHiddenByDefault(t *testing.T) {
	l, _ := newLedger()
	ctx := context.Background()
	tx, err := l.Create(ctx, CreateTransactionInput{WorkflowName: domain.WorkflowDeposit, Credit: side("c", "5", "USD")})
	require.NoError(t, err)

	_, err = l.AddEvent(ctx, domain.TransactionEvent{TransactionID: tx.ID, Message: "vendor payload stored", Internal: true})
	require.NoError(t, err)
	_, err = l.AddEvent(ctx, domain.TransactionEvent{TransactionID: tx.ID})
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	public, err := l.GetEvents(ctx, tx.ID, false)
	require.NoError(t, err)
	all, err := l.GetEvents(ctx, tx.ID, true)
	require.NoError(t, err)
	assert.Len(t, public, 1)
	assert.Len(t, all, 2)

	_, err = l.GetEvents(ctx, uuid.New(), true)
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)
}
