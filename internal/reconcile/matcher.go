/**
 * @description
 * The reconciliation matcher binds a canonical webhook event to exactly one ledger
 * transaction or payroll record and applies the settlement it reports.
 *
 * @notes
 * - A correlation key is authoritative. Without one, pending payrolls are matched by
 *   amount plus payer document number and by amount plus deposit-matching name; the
 *   event is applied only when those lookups agree on a single record.
 * - Every mutation runs under a lock on the record's correlation key and re-reads the
 *   record inside the lock.
 * - Nothing here returns an error to the webhook path. Conditions needing a human are
 *   reported through the alerter and summarized in the returned Outcome.
 */
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/transfa/settlement-service/internal/alert"
	"github.com/transfa/settlement-service/internal/domain"
	"github.com/transfa/settlement-service/internal/metrics"
	"github.com/transfa/settlement-service/internal/store"
	"go.uber.org/zap"
)

// OutcomeKind summarizes what a reconciliation attempt did.
type OutcomeKind string

const (
	OutcomeApplied        OutcomeKind = "applied"
	OutcomeAlreadySettled OutcomeKind = "already_settled"
	OutcomeInProgress     OutcomeKind = "in_progress"
	OutcomeAmbiguous      OutcomeKind = "ambiguous"
	OutcomeNotFound       OutcomeKind = "not_found"
	OutcomeIgnored        OutcomeKind = "ignored"
	OutcomeFailed         OutcomeKind = "failed"
)

type Outcome struct {
	Kind          OutcomeKind
	TransactionID *uuid.UUID
	PayrollID     *uuid.UUID
	Detail        string
}

// Ledger is the slice of the transaction ledger the matcher mutates through.
type Ledger interface {
	GetByCorrelationKey(ctx context.Context, correlationKey string) (*domain.Transaction, error)
	Transition(ctx context.Context, id uuid.UUID, status domain.TransactionStatus, reason string) (*domain.Transaction, bool, error)
}

// Locker serializes work per key.
type Locker interface {
	WithLock(ctx context.Context, key string, objectType domain.LockObjectType, fn func(ctx context.Context) error) error
}

type Matcher struct {
	ledger   Ledger
	payrolls store.PayrollRepository
	locks    Locker
	alerter  alert.Alerter
	log      *zap.Logger
	metrics  *metrics.Metrics
}

func NewMatcher(ledger Ledger, payrolls store.PayrollRepository, locks Locker, alerter alert.Alerter, log *zap.Logger, m *metrics.Metrics) *Matcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Matcher{
		ledger:   ledger,
		payrolls: payrolls,
		locks:    locks,
		alerter:  alerter,
		log:      log.With(zap.String("component", "reconciliation_matcher")),
		metrics:  m,
	}
}

// Reconcile applies event to the single record it pertains to, or escalates.
func (m *Matcher) Reconcile(ctx context.Context, event domain.CanonicalWebhookEvent) Outcome {
	log := m.log.With(
		zap.String("event_type", string(event.Type)),
		zap.String("vendor", event.Vendor),
		zap.String("delivery_id", event.DeliveryID),
		zap.String("correlation_key", event.CorrelationKey),
	)

	var outcome Outcome
	if event.CorrelationKey != "" {
		outcome = m.reconcileByCorrelationKey(ctx, log, event)
	} else {
		outcome = m.reconcileBySoftMatch(ctx, log, event)
	}

	m.metrics.ReconciliationOutcome(string(outcome.Kind))
	log.Info("reconciliation finished", zap.String("outcome", string(outcome.Kind)), zap.String("detail", outcome.Detail))
	return outcome
}

func (m *Matcher) reconcileByCorrelationKey(ctx context.Context, log *zap.Logger, event domain.CanonicalWebhookEvent) Outcome {
	var outcome Outcome
	err := m.locks.WithLock(ctx, event.CorrelationKey, domain.LockObjectCorrelation, func(ctx context.Context) error {
		tx, err := m.ledger.GetByCorrelationKey(ctx, event.CorrelationKey)
		switch {
		case err == nil:
			outcome = m.applyToTransaction(ctx, log, tx, event)
			return nil
		case !errors.Is(err, domain.ErrTransactionNotFound):
			return fmt.Errorf("lookup transaction by correlation key: %w", err)
		}

		payroll, err := m.payrolls.FindPayrollByCollectionLinkID(ctx, event.CorrelationKey)
		switch {
		case err == nil:
			outcome = m.applyToPayroll(ctx, log, payroll, event)
			return nil
		case !errors.Is(err, domain.ErrPayrollNotFound):
			return fmt.Errorf("lookup payroll by collection link: %w", err)
		}

		m.alert(ctx, domain.AlertNoBackingRecord, "no transaction or payroll for correlation key "+event.CorrelationKey, event)
		outcome = Outcome{Kind: OutcomeNotFound, Detail: "no backing record for correlation key"}
		return nil
	})
	return m.finish(ctx, log, outcome, err, event)
}

func (m *Matcher) reconcileBySoftMatch(ctx context.Context, log *zap.Logger, event domain.CanonicalWebhookEvent) Outcome {
	if event.Type != domain.EventAccountCredited || !event.Amount.IsPositive() {
		m.alert(ctx, domain.AlertNoMatch, "event carries no correlation key and cannot be soft matched", event)
		return Outcome{Kind: OutcomeNotFound, Detail: "no correlation key"}
	}

	var byDocument, byName []domain.Payroll
	var err error
	if event.PayerDocumentNumber != "" {
		byDocument, err = m.payrolls.FindPendingPayrollsByAmountAndDocument(ctx, event.Amount, event.Currency, event.PayerDocumentNumber)
		if err != nil {
			return m.finish(ctx, log, Outcome{}, fmt.Errorf("lookup payrolls by document: %w", err), event)
		}
	}
	if event.PayerName != "" {
		byName, err = m.payrolls.FindPendingPayrollsByAmountAndName(ctx, event.Amount, event.Currency, event.PayerName)
		if err != nil {
			return m.finish(ctx, log, Outcome{}, fmt.Errorf("lookup payrolls by name: %w", err), event)
		}
	}

	match, decision := decide(byDocument, byName)
	switch decision {
	case decisionNone:
		m.alert(ctx, domain.AlertNoMatch, "no pending payroll matches deposit", event)
		return Outcome{Kind: OutcomeNotFound, Detail: "no candidates"}
	case decisionAmbiguous:
		m.alert(ctx, domain.AlertAmbiguousMatch, fmt.Sprintf("deposit matches %d payroll(s) by document and %d by name", len(byDocument), len(byName)), event)
		return Outcome{Kind: OutcomeAmbiguous, Detail: domain.ErrAmbiguousMatch.Error()}
	}

	var outcome Outcome
	err = m.locks.WithLock(ctx, match.LockKey(), domain.LockObjectCorrelation, func(ctx context.Context) error {
		current, err := m.payrolls.FindPayrollByID(ctx, match.ID)
		if errors.Is(err, domain.ErrPayrollNotFound) {
			m.alert(ctx, domain.AlertNoBackingRecord, "matched payroll "+match.ID.String()+" disappeared", event)
			outcome = Outcome{Kind: OutcomeNotFound, Detail: "matched payroll no longer exists"}
			return nil
		}
		if err != nil {
			return fmt.Errorf("reload payroll: %w", err)
		}
		outcome = m.applyToPayroll(ctx, log, current, event)
		return nil
	})
	return m.finish(ctx, log, outcome, err, event)
}

type decision int

const (
	decisionNone decision = iota
	decisionMatch
	decisionAmbiguous
)

// decide applies the soft-match table: a single candidate wins only when the other
// lookup is empty or returns that same candidate.
func decide(byDocument, byName []domain.Payroll) (*domain.Payroll, decision) {
	switch {
	case len(byDocument) == 0 && len(byName) == 0:
		return nil, decisionNone
	case len(byDocument) > 1 || len(byName) > 1:
		return nil, decisionAmbiguous
	case len(byDocument) == 1 && len(byName) == 1:
		if byDocument[0].ID != byName[0].ID {
			return nil, decisionAmbiguous
		}
		return &byDocument[0], decisionMatch
	case len(byDocument) == 1:
		return &byDocument[0], decisionMatch
	default:
		return &byName[0], decisionMatch
	}
}

func (m *Matcher) applyToTransaction(ctx context.Context, log *zap.Logger, tx *domain.Transaction, event domain.CanonicalWebhookEvent) Outcome {
	id := tx.ID
	outcome := Outcome{TransactionID: &id}
	reason := ""
	if event.DeclineReason != nil {
		reason = *event.DeclineReason
	}

	var target domain.TransactionStatus
	switch event.Type {
	case domain.EventSettlementProcessing:
		target = domain.StatusProcessing
	case domain.EventSettlementSucceeded, domain.EventAccountCredited:
		target = domain.StatusCompleted
	case domain.EventSettlementFailed:
		target = domain.StatusFailed
	default:
		outcome.Kind = OutcomeIgnored
		outcome.Detail = "event type has no ledger effect"
		return outcome
	}

	if tx.Status.IsTerminal() {
		outcome.Kind = OutcomeAlreadySettled
		outcome.Detail = "transaction already " + string(tx.Status)
		if target.IsTerminal() && target != tx.Status {
			m.alert(ctx, domain.AlertConflictingSettlement,
				fmt.Sprintf("transaction %s is %s but vendor reports %s", tx.ID, tx.Status, target), event)
		}
		return outcome
	}

	// Settlement may arrive without a prior processing event.
	if target == domain.StatusCompleted && tx.Status == domain.StatusInitiated {
		if _, _, err := m.ledger.Transition(ctx, tx.ID, domain.StatusProcessing, "settlement reported by "+event.Vendor); err != nil {
			return m.transitionFailed(ctx, log, outcome, err, event)
		}
	}

	_, changed, err := m.ledger.Transition(ctx, tx.ID, target, reason)
	if err != nil {
		return m.transitionFailed(ctx, log, outcome, err, event)
	}
	if !changed {
		outcome.Kind = OutcomeAlreadySettled
		outcome.Detail = "transaction already " + string(target)
		return outcome
	}
	outcome.Kind = OutcomeApplied
	outcome.Detail = "transaction moved to " + string(target)
	return outcome
}

func (m *Matcher) transitionFailed(ctx context.Context, log *zap.Logger, outcome Outcome, err error, event domain.CanonicalWebhookEvent) Outcome {
	log.Error("ledger transition failed", zap.Error(err))
	m.alert(ctx, domain.AlertReconciliationFailed, "ledger transition failed: "+err.Error(), event)
	outcome.Kind = OutcomeFailed
	outcome.Detail = err.Error()
	return outcome
}

func (m *Matcher) applyToPayroll(ctx context.Context, log *zap.Logger, payroll *domain.Payroll, event domain.CanonicalWebhookEvent) Outcome {
	id := payroll.ID
	outcome := Outcome{PayrollID: &id}

	var target domain.PayrollStatus
	var reason *string
	switch event.Type {
	case domain.EventSettlementSucceeded, domain.EventAccountCredited:
		target = domain.PayrollStatusFunded
		if !event.Amount.IsZero() && (!event.Amount.Equal(payroll.Amount) || event.Currency != payroll.Currency) {
			m.alert(ctx, domain.AlertAmountMismatch, fmt.Sprintf("payroll %s expects %s %s but received %s %s",
				payroll.ID, payroll.Amount, payroll.Currency, event.Amount, event.Currency), event)
			outcome.Kind = OutcomeFailed
			outcome.Detail = "amount mismatch"
			return outcome
		}
	case domain.EventSettlementFailed:
		target = domain.PayrollStatusFailed
		reason = event.DeclineReason
	default:
		outcome.Kind = OutcomeIgnored
		outcome.Detail = "event type has no payroll effect"
		return outcome
	}

	if payroll.Status != domain.PayrollStatusPending {
		outcome.Kind = OutcomeAlreadySettled
		outcome.Detail = "payroll already " + string(payroll.Status)
		if payroll.Status != target {
			m.alert(ctx, domain.AlertConflictingSettlement,
				fmt.Sprintf("payroll %s is %s but vendor reports %s", payroll.ID, payroll.Status, target), event)
		}
		return outcome
	}

	changed, err := m.payrolls.UpdatePayrollStatus(ctx, payroll.ID, target, reason)
	if err != nil {
		log.Error("payroll update failed", zap.String("payroll_id", payroll.ID.String()), zap.Error(err))
		m.alert(ctx, domain.AlertReconciliationFailed, "payroll update failed: "+err.Error(), event)
		outcome.Kind = OutcomeFailed
		outcome.Detail = err.Error()
		return outcome
	}
	if !changed {
		outcome.Kind = OutcomeAlreadySettled
		outcome.Detail = "payroll no longer pending"
		return outcome
	}
	outcome.Kind = OutcomeApplied
	outcome.Detail = "payroll marked " + string(target)
	return outcome
}

// finish turns the lock wrapper's result into an outcome.
func (m *Matcher) finish(ctx context.Context, log *zap.Logger, outcome Outcome, err error, event domain.CanonicalWebhookEvent) Outcome {
	switch {
	case err == nil:
		return outcome
	case errors.Is(err, domain.ErrLockHeld):
		return Outcome{Kind: OutcomeInProgress, Detail: "record is being reconciled by another delivery"}
	default:
		log.Error("reconciliation failed", zap.Error(err))
		m.alert(ctx, domain.AlertReconciliationFailed, err.Error(), event)
		return Outcome{Kind: OutcomeFailed, Detail: err.Error()}
	}
}

// alert attaches the full event so an operator can reconcile by hand.
func (m *Matcher) alert(ctx context.Context, key, reason string, event domain.CanonicalWebhookEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		payload = event.Raw
	}
	m.alerter.Alert(ctx, key, reason+"; event="+string(payload))
}
