/**
 * @description
 * This file contains the HTTP handlers for the settlement-service API. Handlers parse
 * requests, call the application service and write JSON responses.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: Path parameters.
 * - internal/app, internal/domain: Use cases, models and classified errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/settlement-service/internal/app"
	"github.com/transfa/settlement-service/internal/domain"
	"github.com/transfa/settlement-service/internal/ledger"
	"github.com/transfa/settlement-service/internal/quote"
	"go.uber.org/zap"
)

// Handlers holds the application service that handlers use.
type Handlers struct {
	service *app.Service
	log     *zap.Logger
}

func NewHandlers(service *app.Service, log *zap.Logger) *Handlers {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handlers{service: service, log: log.With(zap.String("component", "api"))}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// mapServiceError translates classified errors into HTTP responses.
func mapServiceError(err error) (int, string) {
	var limited *app.RateLimitError
	if errors.As(err, &limited) {
		return http.StatusTooManyRequests, limited.Error()
	}

	switch domain.KindOf(err) {
	case domain.KindValidation:
		return http.StatusBadRequest, err.Error()
	case domain.KindNotFound:
		return http.StatusNotFound, err.Error()
	case domain.KindConflict:
		return http.StatusConflict, err.Error()
	case domain.KindAuthentication:
		return http.StatusUnauthorized, err.Error()
	case domain.KindAmountTooLow:
		return http.StatusUnprocessableEntity, err.Error()
	case domain.KindAmbiguousMatch:
		return http.StatusConflict, err.Error()
	case domain.KindConfiguration:
		return http.StatusInternalServerError, "Service is not configured for this request."
	}
	return http.StatusInternalServerError, "Internal server error"
}

func (h *Handlers) fail(w http.ResponseWriter, endpoint string, err error) {
	status, message := mapServiceError(err)
	var limited *app.RateLimitError
	if errors.As(err, &limited) {
		w.Header().Set("Retry-After", strconv.Itoa(limited.RetryAfterSeconds))
	}
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("endpoint", endpoint), zap.Error(err))
	} else {
		h.log.Warn("request rejected", zap.String("endpoint", endpoint), zap.Int("status", status), zap.Error(err))
	}
	writeError(w, status, message)
}

func decodeBody(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return domain.NewError(domain.KindValidation, "invalid request body: %v", err)
	}
	return nil
}

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, domain.NewError(domain.KindValidation, "invalid id")
	}
	return id, nil
}

func parseTime(raw, name string) (*time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, domain.NewError(domain.KindValidation, "%s must be an RFC3339 timestamp", name)
	}
	return &t, nil
}

func parseInt(raw, name string) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, domain.NewError(domain.KindValidation, "%s must be an integer", name)
	}
	return n, nil
}

// queryValue returns the first non-empty value among names.
func queryValue(q url.Values, names ...string) string {
	for _, name := range names {
		if v := q.Get(name); v != "" {
			return v
		}
	}
	return ""
}

func filterFromQuery(r *http.Request) (domain.TransactionFilter, error) {
	q := r.URL.Query()
	filter := domain.TransactionFilter{
		ConsumerID:     strings.TrimSpace(q.Get("consumer_id")),
		CreditCurrency: q.Get("credit_currency"),
		DebitCurrency:  q.Get("debit_currency"),
	}
	if raw := q.Get("status"); raw != "" {
		status, ok := domain.ParseTransactionStatus(raw)
		if !ok {
			return filter, domain.NewError(domain.KindValidation, "unknown status %q", raw)
		}
		filter.Status = &status
	}

	var err error
	if filter.StartDate, err = parseTime(q.Get("start_date"), "start_date"); err != nil {
		return filter, err
	}
	if filter.EndDate, err = parseTime(q.Get("end_date"), "end_date"); err != nil {
		return filter, err
	}
	if filter.PageLimit, err = parseInt(queryValue(q, "limit", "pageLimit"), "limit"); err != nil {
		return filter, err
	}
	if filter.PageOffset, err = parseInt(queryValue(q, "offset", "pageOffset"), "offset"); err != nil {
		return filter, err
	}
	return filter, nil
}

// ListTransactionsHandler returns a filtered page. Consumers only ever see their own
// transactions; internal callers may filter by any consumer.
func (h *Handlers) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		h.fail(w, "list_transactions", err)
		return
	}
	if consumerID, ok := ConsumerID(r.Context()); ok {
		filter.ConsumerID = consumerID
	}

	page, err := h.service.Ledger().GetFiltered(r.Context(), filter)
	if err != nil {
		h.fail(w, "list_transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// visibleTransaction loads a transaction and hides it from consumers it is not visible to.
func (h *Handlers) visibleTransaction(r *http.Request) (*domain.Transaction, error) {
	id, err := pathID(r)
	if err != nil {
		return nil, err
	}
	tx, err := h.service.Ledger().GetByID(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if consumerID, ok := ConsumerID(r.Context()); ok && !tx.VisibleTo(consumerID) {
		return nil, domain.ErrTransactionNotFound
	}
	return tx, nil
}

func (h *Handlers) GetTransactionHandler(w http.ResponseWriter, r *http.Request) {
	tx, err := h.visibleTransaction(r)
	if err != nil {
		h.fail(w, "get_transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// GetTransactionEventsHandler returns the audit trail. Internal entries are only
// returned to internal callers that ask for them.
func (h *Handlers) GetTransactionEventsHandler(w http.ResponseWriter, r *http.Request) {
	tx, err := h.visibleTransaction(r)
	if err != nil {
		h.fail(w, "get_transaction_events", err)
		return
	}
	includeInternal := IsInternal(r.Context()) && r.URL.Query().Get("include_internal") == "true"

	events, err := h.service.Ledger().GetEvents(r.Context(), tx.ID, includeInternal)
	if err != nil {
		h.fail(w, "get_transaction_events", err)
		return
	}
	if events == nil {
		events = []domain.TransactionEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": events})
}

type createTransactionRequest struct {
	ID             *uuid.UUID              `json:"id,omitempty"`
	TransactionRef string                  `json:"transaction_ref,omitempty"`
	WorkflowName   domain.WorkflowName     `json:"workflow_name"`
	Debit          *domain.TransactionSide `json:"debit,omitempty"`
	Credit         *domain.TransactionSide `json:"credit,omitempty"`
	ExchangeRate   decimal.Decimal         `json:"exchange_rate"`
	Memo           string                  `json:"memo,omitempty"`
	SessionKey     string                  `json:"session_key,omitempty"`
	CorrelationKey *string                 `json:"correlation_key,omitempty"`
	Quote          *quote.Request          `json:"quote,omitempty"`
}

func (h *Handlers) CreateTransactionHandler(w http.ResponseWriter, r *http.Request) {
	var req createTransactionRequest
	if err := decodeBody(r, &req); err != nil {
		h.fail(w, "create_transaction", err)
		return
	}

	tx, err := h.service.CreateTransaction(r.Context(), app.CreateTransactionRequest{
		Input: ledger.CreateTransactionInput{
			ID:             req.ID,
			TransactionRef: req.TransactionRef,
			WorkflowName:   domain.WorkflowName(strings.ToUpper(strings.TrimSpace(string(req.WorkflowName)))),
			Debit:          req.Debit,
			Credit:         req.Credit,
			ExchangeRate:   req.ExchangeRate,
			Memo:           req.Memo,
			SessionKey:     req.SessionKey,
			CorrelationKey: req.CorrelationKey,
		},
		Quote: req.Quote,
	})
	if err != nil {
		h.fail(w, "create_transaction", err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

func (h *Handlers) QuoteHandler(w http.ResponseWriter, r *http.Request) {
	var req quote.Request
	if err := decodeBody(r, &req); err != nil {
		h.fail(w, "quote", err)
		return
	}
	q, err := h.service.Quote(r.Context(), req)
	if err != nil {
		h.fail(w, "quote", err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// WithdrawalHandler initiates a payout. A consumer may only withdraw their own funds.
func (h *Handlers) WithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	var req app.WithdrawalRequest
	if err := decodeBody(r, &req); err != nil {
		h.fail(w, "withdrawal", err)
		return
	}
	if consumerID, ok := ConsumerID(r.Context()); ok {
		req.ConsumerID = consumerID
	}

	tx, err := h.service.InitiateWithdrawal(r.Context(), req)
	if err != nil {
		if tx != nil && tx.Status == domain.StatusFailed {
			h.log.Warn("withdrawal failed at bank", zap.String("transaction_id", tx.ID.String()), zap.Error(err))
			writeJSON(w, http.StatusBadGateway, map[string]interface{}{
				"error":       "Withdrawal could not be initiated with the bank.",
				"transaction": tx,
			})
			return
		}
		h.fail(w, "withdrawal", err)
		return
	}
	writeJSON(w, http.StatusAccepted, tx)
}

func (h *Handlers) CreatePayrollHandler(w http.ResponseWriter, r *http.Request) {
	var req app.CreatePayrollRequest
	if err := decodeBody(r, &req); err != nil {
		h.fail(w, "create_payroll", err)
		return
	}
	p, err := h.service.CreatePayroll(r.Context(), req)
	if err != nil {
		h.fail(w, "create_payroll", err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *Handlers) CreatePayrollCollectionLinkHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, "payroll_collection_link", err)
		return
	}
	link, err := h.service.CreatePayrollCollectionLink(r.Context(), id)
	if err != nil {
		h.fail(w, "payroll_collection_link", fmt.Errorf("payroll %s: %w", id, err))
		return
	}
	writeJSON(w, http.StatusOK, link)
}
