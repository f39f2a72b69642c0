package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/settlement-service/internal/app"
	"github.com/transfa/settlement-service/internal/domain"
	"github.com/transfa/settlement-service/internal/ledger"
	"github.com/transfa/settlement-service/internal/quote"
	"github.com/transfa/settlement-service/internal/store/memstore"
	"github.com/transfa/settlement-service/pkg/bankclient"
)

const (
	testJWTSecret     = "jwt-secret"
	testAPIKey        = "internal-key"
	testSigningSecret = "signing-secret"
)

type fakeBank struct {
	app.BankClient
}

func (fakeBank) CreateTransfer(ctx context.Context, in bankclient.TransferRequest) (*bankclient.TransferResponse, error) {
	resp := &bankclient.TransferResponse{}
	resp.Data.ID = "trf_" + in.Reference
	return resp, nil
}

type apiFixture struct {
	router http.Handler
	svc    *app.Service
	repo   *memstore.Store
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	repo := memstore.New()
	engine := quote.NewEngine(quote.Config{
		SourceCurrency: "COP",
		TargetCurrency: "USD",
		Standard: quote.Schedule{
			FixedFee:   decimal.NewFromInt(400),
			Multiplier: decimal.RequireFromString("0.03"),
			NobaFee:    decimal.RequireFromString("0.50"),
		},
	}, quote.NewStaticRateProvider().Set("COP", "USD", decimal.RequireFromString("0.00025")))
	svc := app.NewService(ledger.New(repo, nil), engine, fakeBank{}, repo, nil, app.ServiceConfig{}, nil)

	webhooks := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	router := Routes(NewHandlers(svc, nil), webhooks, RouterConfig{
		Auth: Auth{
			JWTSecret:     []byte(testJWTSecret),
			APIKey:        testAPIKey,
			SigningSecret: []byte(testSigningSecret),
			Window:        5 * time.Minute,
		},
	})
	return &apiFixture{router: router, svc: svc, repo: repo}
}

func bearer(t *testing.T, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": subject,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return "Bearer " + signed
}

func (f *apiFixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func signedRequest(method, path, body string, at time.Time) *http.Request {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	InternalScheme.Apply(req, []byte(testSigningSecret), testAPIKey, []byte(body), at)
	return req
}

func (f *apiFixture) seedTransfer(t *testing.T, status domain.TransactionStatus) *domain.Transaction {
	t.Helper()
	l := f.svc.Ledger()
	tx, err := l.Create(context.Background(), ledger.CreateTransactionInput{
		WorkflowName: domain.WorkflowTransfer,
		Debit:        &domain.TransactionSide{ConsumerID: "alice", Amount: decimal.NewFromInt(10), Currency: "USD"},
		Credit:       &domain.TransactionSide{ConsumerID: "bob", Amount: decimal.NewFromInt(10), Currency: "USD"},
	})
	require.NoError(t, err)
	if status != domain.StatusInitiated {
		tx, _, err = l.Transition(context.Background(), tx.ID, domain.StatusProcessing, "")
		require.NoError(t, err)
	}
	if status == domain.StatusCompleted {
		tx, _, err = l.Transition(context.Background(), tx.ID, domain.StatusCompleted, "")
		require.NoError(t, err)
	}
	return tx
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListTransactions_RequiresAuthentication(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/transactions", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/transactions", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	assert.Equal(t, http.StatusUnauthorized, f.do(req).Code)
}

func TestListTransactions_ConsumerSeesOnlyVisibleTransfers(t *testing.T) {
	f := newAPIFixture(t)
	f.seedTransfer(t, domain.StatusProcessing)

	for _, tc := range []struct {
		consumer string
		want     int
	}{
		{consumer: "alice", want: 1},
		{consumer: "bob", want: 0},
		{consumer: "carol", want: 0},
	} {
		req := httptest.NewRequest(http.MethodGet, "/transactions?consumer_id=alice", nil)
		req.Header.Set("Authorization", bearer(t, tc.consumer))
		rec := f.do(req)
		require.Equal(t, http.StatusOK, rec.Code)

		var page domain.PaginatedResult[domain.Transaction]
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
		assert.Equal(t, tc.want, page.TotalItems, tc.consumer)
	}
}

func TestListTransactions_AcceptsPageAliases(t *testing.T) {
	f := newAPIFixture(t)
	for i := 0; i < 3; i++ {
		f.seedTransfer(t, domain.StatusProcessing)
	}

	for _, query := range []string{"limit=2&offset=2", "pageLimit=2&pageOffset=2"} {
		req := httptest.NewRequest(http.MethodGet, "/transactions?"+query, nil)
		req.Header.Set("Authorization", bearer(t, "alice"))
		rec := f.do(req)
		require.Equal(t, http.StatusOK, rec.Code, query)

		var page domain.PaginatedResult[domain.Transaction]
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
		assert.Len(t, page.Items, 1, query)
		assert.Equal(t, 3, page.TotalItems, query)
		assert.Equal(t, 2, page.TotalPages, query)
		assert.False(t, page.HasNextPage, query)
	}
}

func TestListTransactions_RejectsBadFilter(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/transactions?status=PAUSED", nil)
	req.Header.Set("Authorization", bearer(t, "alice"))
	assert.Equal(t, http.StatusBadRequest, f.do(req).Code)

	req = httptest.NewRequest(http.MethodGet, "/transactions?start_date=2026-02-01T00:00:00Z&end_date=2026-01-01T00:00:00Z", nil)
	req.Header.Set("Authorization", bearer(t, "alice"))
	assert.Equal(t, http.StatusBadRequest, f.do(req).Code)
}

func TestGetTransaction_HiddenFromUnrelatedConsumer(t *testing.T) {
	f := newAPIFixture(t)
	tx := f.seedTransfer(t, domain.StatusCompleted)

	req := httptest.NewRequest(http.MethodGet, "/transactions/"+tx.ID.String(), nil)
	req.Header.Set("Authorization", bearer(t, "bob"))
	assert.Equal(t, http.StatusOK, f.do(req).Code)

	req = httptest.NewRequest(http.MethodGet, "/transactions/"+tx.ID.String(), nil)
	req.Header.Set("Authorization", bearer(t, "mallory"))
	assert.Equal(t, http.StatusNotFound, f.do(req).Code)

	req = httptest.NewRequest(http.MethodGet, "/transactions/not-a-uuid", nil)
	req.Header.Set("Authorization", bearer(t, "bob"))
	assert.Equal(t, http.StatusBadRequest, f.do(req).Code)
}

func TestGetTransactionEvents_InternalOnlyForSignedCallers(t *testing.T) {
	f := newAPIFixture(t)
	tx := f.seedTransfer(t, domain.StatusInitiated)
	_, err := f.svc.Ledger().AddEvent(context.Background(), domain.TransactionEvent{
		TransactionID: tx.ID,
		Message:       "operator note",
		Internal:      true,
	})
	require.NoError(t, err)

	count := func(rec *httptest.ResponseRecorder) int {
		var body struct {
			Items []domain.TransactionEvent `json:"items"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		return len(body.Items)
	}

	path := "/transactions/" + tx.ID.String() + "/events"
	req := httptest.NewRequest(http.MethodGet, path+"?include_internal=true", nil)
	req.Header.Set("Authorization", bearer(t, "alice"))
	consumerView := f.do(req)
	require.Equal(t, http.StatusOK, consumerView.Code)

	internalView := f.do(signedRequest(http.MethodGet, path+"?include_internal=true", "", time.Now()))
	require.Equal(t, http.StatusOK, internalView.Code)

	assert.Equal(t, count(consumerView)+1, count(internalView))
}

func TestCreateTransaction_SignedOnly(t *testing.T) {
	f := newAPIFixture(t)
	body := `{"workflow_name":"deposit","credit":{"consumer_id":"alice","amount":"25","currency":"usd"},` +
		`"quote":{"amount":"100000","source_currency":"COP","target_currency":"USD"}}`

	req := httptest.NewRequest(http.MethodPost, "/transactions", bytes.NewBufferString(body))
	req.Header.Set("Authorization", bearer(t, "alice"))
	assert.Equal(t, http.StatusUnauthorized, f.do(req).Code)

	stale := f.do(signedRequest(http.MethodPost, "/transactions", body, time.Now().Add(-10*time.Minute)))
	assert.Equal(t, http.StatusUnauthorized, stale.Code)

	rec := f.do(signedRequest(http.MethodPost, "/transactions", body, time.Now()))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var tx domain.Transaction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tx))
	assert.Equal(t, domain.StatusInitiated, tx.Status)
	assert.Equal(t, "USD", tx.Credit.Currency)
	assert.Len(t, tx.Fees, 2)
}

func TestCreateTransaction_TamperedBodyRejected(t *testing.T) {
	f := newAPIFixture(t)
	body := `{"workflow_name":"DEPOSIT","credit":{"consumer_id":"alice","amount":"25","currency":"USD"}}`

	tampered := `{"workflow_name":"DEPOSIT","credit":{"consumer_id":"alice","amount":"2500","currency":"USD"}}`

	req := signedRequest(http.MethodPost, "/transactions", body, time.Now())
	req.Body = io.NopCloser(bytes.NewBufferString(tampered))
	assert.Equal(t, http.StatusUnauthorized, f.do(req).Code)

	_, total, err := f.repo.ListTransactions(context.Background(), domain.TransactionFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestQuote_AmountTooLowIsUnprocessable(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/quotes", bytes.NewBufferString(`{"amount":"2000","source_currency":"COP","target_currency":"USD"}`))
	req.Header.Set("Authorization", bearer(t, "alice"))
	assert.Equal(t, http.StatusUnprocessableEntity, f.do(req).Code)

	req = httptest.NewRequest(http.MethodPost, "/quotes", bytes.NewBufferString(`{"amount":"100000","source_currency":"COP","target_currency":"USD"}`))
	req.Header.Set("Authorization", bearer(t, "alice"))
	rec := f.do(req)
	require.Equal(t, http.StatusOK, rec.Code)

	var q domain.Quote
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &q))
	assert.Equal(t, "23.65", q.QuoteAmountWithFees.StringFixed(2))
}

func TestWithdrawal_UsesTokenSubjectAsConsumer(t *testing.T) {
	f := newAPIFixture(t)

	body := `{"consumer_id":"someone-else","counterparty_id":"cp-1","amount":"100000","source_currency":"COP","target_currency":"USD"}`
	req := httptest.NewRequest(http.MethodPost, "/withdrawals", bytes.NewBufferString(body))
	req.Header.Set("Authorization", bearer(t, "alice"))
	rec := f.do(req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var tx domain.Transaction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tx))
	assert.Equal(t, "alice", tx.Debit.ConsumerID)
	assert.Equal(t, domain.StatusProcessing, tx.Status)
}

func TestPayrollEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(signedRequest(http.MethodPost, "/payrolls", `{"amount":"1500","currency":"COP","employer_document_number":"900123"}`, time.Now()))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var p domain.Payroll
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, domain.PayrollStatusPending, p.Status)

	invalid := f.do(signedRequest(http.MethodPost, "/payrolls", `{"amount":"-1","currency":"COP","employer_document_number":"900123"}`, time.Now()))
	assert.Equal(t, http.StatusBadRequest, invalid.Code)

	missing := f.do(signedRequest(http.MethodPost, "/payrolls/"+uuid.NewString()+"/collection-link", "", time.Now()))
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestMapServiceError(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrTransactionNotFound, http.StatusNotFound},
		{domain.ErrInvalidTransition, http.StatusBadRequest},
		{domain.ErrLockHeld, http.StatusConflict},
		{domain.ErrAmountTooLow, http.StatusUnprocessableEntity},
		{domain.ErrRateNotConfigured, http.StatusInternalServerError},
		{&app.RateLimitError{RetryAfterSeconds: 3}, http.StatusTooManyRequests},
		{context.DeadlineExceeded, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		status, _ := mapServiceError(tc.err)
		assert.Equal(t, tc.want, status, tc.err.Error())
	}
}
