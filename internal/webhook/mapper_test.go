package webhook

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/settlement-service/internal/domain"
)

func TestBankMapper(t *testing.T) {
	body := []byte(`{
		"id": "evt_1",
		"event": "transfer.failed",
		"data": {"id": "trf_9", "type": "transfer", "attributes": {"amount": "12.50", "currency": "usd", "reason": "insufficient funds"}},
		"created_at": "2024-05-10T14:00:00Z"
	}`)

	event, err := mapBankEvent(body)
	require.NoError(t, err)
	assert.Equal(t, domain.EventSettlementFailed, event.Type)
	assert.Equal(t, "trf_9", event.CorrelationKey)
	assert.Equal(t, "evt_1", event.DeliveryID)
	assert.True(t, event.Amount.Equal(decimal.RequireFromString("12.5")))
	assert.Equal(t, "USD", event.Currency)
	require.NotNil(t, event.DeclineReason)
	assert.Equal(t, "insufficient funds", *event.DeclineReason)
	assert.True(t, event.Timestamp.Equal(fixedNow))
	assert.JSONEq(t, string(body), string(event.Raw))
}

func TestBankMapper_AmountOptionalForStatusEvents(t *testing.T) {
	event, err := mapBankEvent([]byte(`{"id":"e","event":"transfer.processing","data":{"id":"trf_1","type":"transfer"}}`))
	require.NoError(t, err)
	assert.Equal(t, domain.EventSettlementProcessing, event.Type)
	assert.True(t, event.Amount.IsZero())
}

func TestCollectionMapper_ReadsRelationship(t *testing.T) {
	body := []byte(`{
		"id": "evt_2",
		"event": "collection.paid",
		"data": {
			"id": "pay_1", "type": "payment",
			"attributes": {"amount": 1500, "currency": "COP", "payer": {"document_number": "900123", "name": "Acme SAS"}},
			"relationships": {"collectionLink": {"data": {"id": "link_7", "type": "collectionLink"}}}
		}
	}`)

	event, err := mapCollectionEvent(body)
	require.NoError(t, err)
	assert.Equal(t, domain.EventSettlementSucceeded, event.Type)
	assert.Equal(t, "link_7", event.CorrelationKey)
	assert.True(t, event.Amount.Equal(decimal.NewFromInt(1500)))
	assert.Equal(t, "900123", event.PayerDocumentNumber)
	assert.Equal(t, "Acme SAS", event.PayerName)
}

func TestCollectionMapper_FallsBackToIncluded(t *testing.T) {
	body := []byte(`{"event":"collection.declined","data":{"id":"p","type":"payment","attributes":{"message":"card declined"}},
		"included":[{"id":"link_8","type":"CollectionLink"}]}`)

	event, err := mapCollectionEvent(body)
	require.NoError(t, err)
	assert.Equal(t, "link_8", event.CorrelationKey)
	require.NotNil(t, event.DeclineReason)
	assert.Equal(t, "card declined", *event.DeclineReason)
}

func TestAccountMapper(t *testing.T) {
	event, err := mapAccountEvent([]byte(`{"id":"evt_3","event":"account.credited","data":{"id":"cr_1","type":"credit",
		"attributes":{"amount":"1500.00","currency":"COP","payer_document_number":"900123","payer_name":"Acme SAS"}}}`))
	require.NoError(t, err)
	assert.Equal(t, domain.EventAccountCredited, event.Type)
	assert.Empty(t, event.CorrelationKey)
	assert.Equal(t, "900123", event.PayerDocumentNumber)
}

func TestMappers_ClassifyFailures(t *testing.T) {
	tests := []struct {
		name    string
		mapper  MapperFunc
		body    string
		wantErr error
	}{
		{"bank unknown event", mapBankEvent, `{"event":"customer.created","data":{"id":"c"}}`, ErrUnrecognizedEvent},
		{"bank invalid json", mapBankEvent, `{not json`, ErrMalformedEvent},
		{"bank missing transfer id", mapBankEvent, `{"event":"transfer.succeeded","data":{"type":"transfer"}}`, ErrMalformedEvent},
		{"bank bad amount", mapBankEvent, `{"event":"transfer.succeeded","data":{"id":"t","attributes":{"amount":"ten","currency":"USD"}}}`, ErrMalformedEvent},
		{"collection paid without amount", mapCollectionEvent, `{"event":"collection.paid","data":{"id":"p","attributes":{"collection_link_id":"l"}}}`, ErrMalformedEvent},
		{"collection missing link", mapCollectionEvent, `{"event":"collection.paid","data":{"id":"p","attributes":{"amount":"1","currency":"COP"}}}`, ErrMalformedEvent},
		{"account unknown event", mapAccountEvent, `{"event":"account.debited","data":{"id":"a"}}`, ErrUnrecognizedEvent},
		{"account missing payer", mapAccountEvent, `{"event":"account.credited","data":{"id":"a","attributes":{"amount":"1","currency":"COP"}}}`, ErrMalformedEvent},
		{"account negative amount", mapAccountEvent, `{"event":"account.credited","data":{"id":"a","attributes":{"amount":"-1","currency":"COP","payer_name":"x"}}}`, ErrMalformedEvent},
		{"account bad currency", mapAccountEvent, `{"event":"account.credited","data":{"id":"a","attributes":{"amount":"1","currency":"DOLLARS","payer_name":"x"}}}`, ErrMalformedEvent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.mapper.Map([]byte(tt.body))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
