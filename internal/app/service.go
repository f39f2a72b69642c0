/**
 * @description
 * This file contains the application use cases that sit in front of the ledger:
 * quoting, transaction creation with frozen fees, withdrawal initiation through the
 * banking provider, and payroll collection links.
 *
 * Key features:
 * - Every vendor call happens after the ledger record exists, so a settlement webhook
 *   always has a record to reconcile against once the correlation key is stored.
 * - Vendor failures mark the transaction FAILED instead of leaving it INITIATED.
 *
 * @dependencies
 * - internal/ledger, internal/quote, internal/store: domain operations.
 * - pkg/bankclient: transfer and collection-link creation.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/settlement-service/internal/domain"
	"github.com/transfa/settlement-service/internal/ledger"
	"github.com/transfa/settlement-service/internal/quote"
	"github.com/transfa/settlement-service/internal/store"
	"github.com/transfa/settlement-service/pkg/bankclient"
	"go.uber.org/zap"
)

const withdrawalRateScope = "withdrawal"

// QuoteEngine prices conversions.
type QuoteEngine interface {
	Quote(ctx context.Context, req quote.Request) (*domain.Quote, error)
}

// BankClient is the subset of the banking provider API the service calls.
type BankClient interface {
	CreateTransfer(ctx context.Context, in bankclient.TransferRequest) (*bankclient.TransferResponse, error)
	CreateCollectionLink(ctx context.Context, in bankclient.CollectionLinkRequest) (*bankclient.CollectionLinkResponse, error)
}

// RateLimitError is returned when a consumer exceeds the withdrawal rate limit.
type RateLimitError struct {
	RetryAfterSeconds int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded; retry after %ds", e.RetryAfterSeconds)
}

// ServiceConfig carries the tunables the use cases need.
type ServiceConfig struct {
	SettlementAccountID string
	WithdrawalLimit     int
	WithdrawalWindow    time.Duration
}

// Service provides the settlement use cases.
type Service struct {
	ledger   *ledger.Ledger
	quotes   QuoteEngine
	bank     BankClient
	payrolls store.PayrollRepository
	limiter  RateLimiter
	cfg      ServiceConfig
	log      *zap.Logger
}

func NewService(l *ledger.Ledger, quotes QuoteEngine, bank BankClient, payrolls store.PayrollRepository, limiter RateLimiter, cfg ServiceConfig, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		ledger:   l,
		quotes:   quotes,
		bank:     bank,
		payrolls: payrolls,
		limiter:  limiter,
		cfg:      cfg,
		log:      log.With(zap.String("component", "settlement_service")),
	}
}

// Ledger exposes the ledger for read paths.
func (s *Service) Ledger() *ledger.Ledger {
	return s.ledger
}

func (s *Service) Quote(ctx context.Context, req quote.Request) (*domain.Quote, error) {
	return s.quotes.Quote(ctx, req)
}

// CreateTransactionRequest creates a ledger record, optionally pricing it first.
type CreateTransactionRequest struct {
	Input ledger.CreateTransactionInput
	Quote *quote.Request
}

func (s *Service) CreateTransaction(ctx context.Context, req CreateTransactionRequest) (*domain.Transaction, error) {
	in := req.Input
	if req.Quote != nil {
		q, err := s.quotes.Quote(ctx, *req.Quote)
		if err != nil {
			return nil, err
		}
		in.Quote = q
	}
	return s.ledger.Create(ctx, in)
}

// WithdrawalRequest moves a consumer's funds to an external counterparty.
type WithdrawalRequest struct {
	ConsumerID     string             `json:"consumer_id"`
	CounterpartyID string             `json:"counterparty_id"`
	Amount         decimal.Decimal    `json:"amount"`
	SourceCurrency string             `json:"source_currency"`
	TargetCurrency string             `json:"target_currency"`
	Flags          []domain.QuoteFlag `json:"flags,omitempty"`
	Memo           string             `json:"memo,omitempty"`
}

// InitiateWithdrawal records the withdrawal, asks the bank to pay it out and stores the
// bank's transfer id as the correlation key for the settlement webhook.
func (s *Service) InitiateWithdrawal(ctx context.Context, req WithdrawalRequest) (*domain.Transaction, error) {
	if strings.TrimSpace(req.ConsumerID) == "" || strings.TrimSpace(req.CounterpartyID) == "" {
		return nil, domain.NewError(domain.KindValidation, "consumer_id and counterparty_id are required")
	}

	if s.limiter != nil {
		count, retryAfter, err := s.limiter.Consume(ctx, withdrawalRateScope, req.ConsumerID, s.cfg.WithdrawalLimit, s.cfg.WithdrawalWindow)
		if err != nil {
			s.log.Warn("withdrawal rate limiter unavailable", zap.Error(err))
		} else if s.cfg.WithdrawalLimit > 0 && count > s.cfg.WithdrawalLimit {
			return nil, &RateLimitError{RetryAfterSeconds: retryAfter}
		}
	}

	q, err := s.quotes.Quote(ctx, quote.Request{
		Amount:         req.Amount,
		SourceCurrency: req.SourceCurrency,
		TargetCurrency: req.TargetCurrency,
		Flags:          req.Flags,
	})
	if err != nil {
		return nil, err
	}

	tx, err := s.ledger.Create(ctx, ledger.CreateTransactionInput{
		WorkflowName: domain.WorkflowWithdrawal,
		Debit:        &domain.TransactionSide{ConsumerID: req.ConsumerID, Amount: req.Amount, Currency: q.SourceCurrency},
		Credit:       &domain.TransactionSide{ConsumerID: req.CounterpartyID, Amount: q.QuoteAmountWithFees, Currency: q.TargetCurrency},
		Quote:        q,
		Memo:         req.Memo,
	})
	if err != nil {
		return nil, err
	}
	log := s.log.With(zap.String("transaction_id", tx.ID.String()), zap.String("transaction_ref", tx.TransactionRef))

	transfer, err := s.bank.CreateTransfer(ctx, bankclient.TransferRequest{
		Reference:       tx.TransactionRef,
		SourceAccountID: s.cfg.SettlementAccountID,
		CounterpartyID:  req.CounterpartyID,
		Amount:          q.QuoteAmountWithFees,
		Currency:        q.TargetCurrency,
		Reason:          req.Memo,
	})
	if err != nil {
		log.Error("bank transfer initiation failed", zap.Error(err))
		failed, _, transErr := s.ledger.Transition(context.WithoutCancel(ctx), tx.ID, domain.StatusFailed, "transfer initiation failed: "+err.Error())
		if transErr != nil {
			log.Error("failed to mark withdrawal as failed", zap.Error(transErr))
			return tx, fmt.Errorf("initiate transfer: %w", err)
		}
		return failed, fmt.Errorf("initiate transfer: %w", err)
	}

	transferID := transfer.Data.ID
	if _, err := s.ledger.Update(ctx, tx.ID, ledger.UpdateTransactionInput{CorrelationKey: &transferID}); err != nil {
		log.Error("failed to store transfer id", zap.String("transfer_id", transferID), zap.Error(err))
		return tx, fmt.Errorf("store correlation key: %w", err)
	}

	updated, _, err := s.ledger.Transition(ctx, tx.ID, domain.StatusProcessing, "transfer "+transferID+" accepted by bank")
	if err != nil {
		// A settlement webhook may already have advanced the record.
		if errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrConcurrentModification) {
			return s.ledger.GetByID(ctx, tx.ID)
		}
		return tx, err
	}
	log.Info("withdrawal initiated", zap.String("transfer_id", transferID))
	return updated, nil
}

// CreatePayrollRequest registers a payroll awaiting employer funding.
type CreatePayrollRequest struct {
	Amount                 decimal.Decimal `json:"amount"`
	Currency               string          `json:"currency"`
	EmployerDocumentNumber string          `json:"employer_document_number"`
	DepositMatchingName    string          `json:"deposit_matching_name"`
}

func (s *Service) CreatePayroll(ctx context.Context, req CreatePayrollRequest) (*domain.Payroll, error) {
	currency := domain.NormalizeCurrency(req.Currency)
	switch {
	case !req.Amount.IsPositive():
		return nil, domain.NewError(domain.KindValidation, "amount must be positive")
	case !domain.ValidCurrency(currency):
		return nil, domain.NewError(domain.KindValidation, "currency %q is not a valid ISO-4217 code", req.Currency)
	case strings.TrimSpace(req.EmployerDocumentNumber) == "" && strings.TrimSpace(req.DepositMatchingName) == "":
		return nil, domain.NewError(domain.KindValidation, "employer document number or deposit matching name is required")
	}

	now := time.Now().UTC()
	p := &domain.Payroll{
		ID:                     uuid.New(),
		Amount:                 req.Amount.Round(domain.CurrencyPrecision(currency)),
		Currency:               currency,
		EmployerDocumentNumber: strings.TrimSpace(req.EmployerDocumentNumber),
		DepositMatchingName:    strings.TrimSpace(req.DepositMatchingName),
		Status:                 domain.PayrollStatusPending,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if err := s.payrolls.CreatePayroll(ctx, p); err != nil {
		return nil, fmt.Errorf("create payroll: %w", err)
	}
	return p, nil
}

// CollectionLink is what an employer needs to fund a payroll.
type CollectionLink struct {
	PayrollID uuid.UUID `json:"payroll_id"`
	LinkID    string    `json:"link_id"`
	URL       string    `json:"url,omitempty"`
}

// CreatePayrollCollectionLink creates the payment link for a pending payroll and
// records its id, which later identifies the payroll in collection webhooks.
func (s *Service) CreatePayrollCollectionLink(ctx context.Context, payrollID uuid.UUID) (*CollectionLink, error) {
	p, err := s.payrolls.FindPayrollByID(ctx, payrollID)
	if err != nil {
		return nil, err
	}
	if p.Status != domain.PayrollStatusPending {
		return nil, domain.NewError(domain.KindConflict, "payroll %s is %s", p.ID, p.Status)
	}
	if p.CollectionLinkID != nil && *p.CollectionLinkID != "" {
		return &CollectionLink{PayrollID: p.ID, LinkID: *p.CollectionLinkID}, nil
	}

	resp, err := s.bank.CreateCollectionLink(ctx, bankclient.CollectionLinkRequest{
		Reference:           p.ID.String(),
		Amount:              p.Amount,
		Currency:            p.Currency,
		PayerDocumentNumber: p.EmployerDocumentNumber,
		Description:         "Payroll funding",
	})
	if err != nil {
		return nil, fmt.Errorf("create collection link: %w", err)
	}
	if err := s.payrolls.SetPayrollCollectionLink(ctx, p.ID, resp.Data.ID); err != nil {
		return nil, fmt.Errorf("store collection link: %w", err)
	}
	s.log.Info("payroll collection link created", zap.String("payroll_id", p.ID.String()), zap.String("link_id", resp.Data.ID))
	return &CollectionLink{PayrollID: p.ID, LinkID: resp.Data.ID, URL: resp.Data.Attributes.URL}, nil
}
