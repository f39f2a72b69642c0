/**
 * @description
 * Vendor payload mappers. Each vendor sends a JSON:API-like envelope; a Mapper
 * decodes it and produces a CanonicalWebhookEvent the matcher understands.
 *
 * @notes
 * - Event names a mapper does not know yield ErrUnrecognizedEvent (logged, ignored).
 * - Known events missing required fields yield ErrMalformedEvent (alerted, dropped).
 */
package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/transfa/settlement-service/internal/domain"
)

// Vendor names as they appear in the webhook route.
const (
	VendorBank       = "bank"
	VendorCollection = "collection"
	VendorAccount    = "account"
)

var (
	ErrUnrecognizedEvent = errors.New("unrecognized webhook event")
	ErrMalformedEvent    = errors.New("malformed webhook event")
)

// Mapper converts a verified vendor payload into a canonical event.
type Mapper interface {
	Map(body []byte) (*domain.CanonicalWebhookEvent, error)
}

// MapperFunc adapts a function to Mapper.
type MapperFunc func(body []byte) (*domain.CanonicalWebhookEvent, error)

func (f MapperFunc) Map(body []byte) (*domain.CanonicalWebhookEvent, error) {
	return f(body)
}

// DefaultMappers returns the mapper for every supported vendor.
func DefaultMappers() map[string]Mapper {
	return map[string]Mapper{
		VendorBank:       MapperFunc(mapBankEvent),
		VendorCollection: MapperFunc(mapCollectionEvent),
		VendorAccount:    MapperFunc(mapAccountEvent),
	}
}

var bankEvents = map[string]domain.CanonicalEventType{
	"transfer.processing": domain.EventSettlementProcessing,
	"transfer.succeeded":  domain.EventSettlementSucceeded,
	"transfer.failed":     domain.EventSettlementFailed,
}

var collectionEvents = map[string]domain.CanonicalEventType{
	"collection.paid":     domain.EventSettlementSucceeded,
	"collection.declined": domain.EventSettlementFailed,
}

func malformed(event, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrMalformedEvent, event, fmt.Sprintf(format, args...))
}

func decodeEnvelope(body []byte) (*domain.VendorWebhookEvent, error) {
	var event domain.VendorWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON payload: %v", ErrMalformedEvent, err)
	}
	if event.Event == "" && event.Data.Type != "" {
		event.Event = event.Data.Type
	}
	event.Event = strings.ToLower(strings.TrimSpace(event.Event))
	return &event, nil
}

func newCanonical(vendor string, event *domain.VendorWebhookEvent, eventType domain.CanonicalEventType, body []byte) *domain.CanonicalWebhookEvent {
	ts := event.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return &domain.CanonicalWebhookEvent{
		Type:       eventType,
		Vendor:     vendor,
		DeliveryID: event.ID,
		Timestamp:  ts.UTC(),
		Raw:        json.RawMessage(append([]byte(nil), body...)),
	}
}

// applyMoney reads amount and currency. required controls whether their absence is malformed.
func applyMoney(out *domain.CanonicalWebhookEvent, event *domain.VendorWebhookEvent, required bool) error {
	amount, present, err := attributeDecimal(event.Data.Attributes, "amount")
	if err != nil {
		return malformed(event.Event, "amount: %v", err)
	}
	if !present {
		if required {
			return malformed(event.Event, "amount is missing")
		}
		return nil
	}
	if !amount.IsPositive() {
		return malformed(event.Event, "amount must be positive")
	}
	currency := domain.NormalizeCurrency(attributeString(event.Data.Attributes, "currency"))
	if !domain.ValidCurrency(currency) {
		return malformed(event.Event, "currency %q is invalid", currency)
	}
	out.Amount = amount
	out.Currency = currency
	return nil
}

func mapBankEvent(body []byte) (*domain.CanonicalWebhookEvent, error) {
	event, err := decodeEnvelope(body)
	if err != nil {
		return nil, err
	}
	eventType, known := bankEvents[event.Event]
	if !known {
		return nil, fmt.Errorf("%w: %s", ErrUnrecognizedEvent, event.Event)
	}

	out := newCanonical(VendorBank, event, eventType, body)
	out.CorrelationKey = firstNonEmpty(relationshipID(event, "transfer"), event.Data.ID)
	if out.CorrelationKey == "" {
		return nil, malformed(event.Event, "transfer id is missing")
	}
	if err := applyMoney(out, event, false); err != nil {
		return nil, err
	}
	if eventType == domain.EventSettlementFailed {
		out.DeclineReason = nullableString(extractReason(event.Data.Attributes))
	}
	return out, nil
}

func mapCollectionEvent(body []byte) (*domain.CanonicalWebhookEvent, error) {
	event, err := decodeEnvelope(body)
	if err != nil {
		return nil, err
	}
	eventType, known := collectionEvents[event.Event]
	if !known {
		return nil, fmt.Errorf("%w: %s", ErrUnrecognizedEvent, event.Event)
	}

	out := newCanonical(VendorCollection, event, eventType, body)
	out.CorrelationKey = firstNonEmpty(
		relationshipID(event, "collectionLink"),
		attributeString(event.Data.Attributes, "collection_link_id"),
		includedID(event, "collectionlink"),
	)
	if out.CorrelationKey == "" {
		return nil, malformed(event.Event, "collection link id is missing")
	}
	if err := applyMoney(out, event, eventType == domain.EventSettlementSucceeded); err != nil {
		return nil, err
	}
	if eventType == domain.EventSettlementFailed {
		out.DeclineReason = nullableString(extractReason(event.Data.Attributes))
	}
	out.PayerDocumentNumber, out.PayerName = payerIdentity(event.Data.Attributes)
	return out, nil
}

func mapAccountEvent(body []byte) (*domain.CanonicalWebhookEvent, error) {
	event, err := decodeEnvelope(body)
	if err != nil {
		return nil, err
	}
	if event.Event != "account.credited" {
		return nil, fmt.Errorf("%w: %s", ErrUnrecognizedEvent, event.Event)
	}

	out := newCanonical(VendorAccount, event, domain.EventAccountCredited, body)
	if err := applyMoney(out, event, true); err != nil {
		return nil, err
	}
	out.PayerDocumentNumber, out.PayerName = payerIdentity(event.Data.Attributes)
	if out.PayerDocumentNumber == "" && out.PayerName == "" {
		return nil, malformed(event.Event, "payer document number and name are both missing")
	}
	return out, nil
}

func payerIdentity(attrs map[string]interface{}) (document, name string) {
	if payer, ok := attrs["payer"].(map[string]interface{}); ok {
		document = attributeString(payer, "document_number")
		name = attributeString(payer, "name")
	}
	document = firstNonEmpty(document, attributeString(attrs, "payer_document_number"))
	name = firstNonEmpty(name, attributeString(attrs, "payer_name"))
	return document, name
}

// relationshipID returns the id of the named relationship, accepting single and list forms.
func relationshipID(event *domain.VendorWebhookEvent, name string) string {
	rel, ok := event.Data.Relationships[name]
	if !ok || len(rel.Data) == 0 {
		return ""
	}
	var single domain.RelationshipData
	if err := json.Unmarshal(rel.Data, &single); err == nil && single.ID != "" {
		return single.ID
	}
	var list []domain.RelationshipData
	if err := json.Unmarshal(rel.Data, &list); err == nil {
		for _, item := range list {
			if item.ID != "" {
				return item.ID
			}
		}
	}
	return ""
}

func includedID(event *domain.VendorWebhookEvent, typeFragment string) string {
	for _, included := range event.Included {
		if strings.Contains(strings.ToLower(included.Type), typeFragment) && included.ID != "" {
			return included.ID
		}
	}
	return ""
}

func extractReason(attrs map[string]interface{}) string {
	for _, key := range []string{"reason", "message", "detail"} {
		if v := attributeString(attrs, key); v != "" {
			return v
		}
	}
	return ""
}

func attributeString(attrs map[string]interface{}, key string) string {
	if attrs == nil {
		return ""
	}
	if v, ok := attrs[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// attributeDecimal accepts amounts sent either as JSON strings or numbers.
func attributeDecimal(attrs map[string]interface{}, key string) (decimal.Decimal, bool, error) {
	raw, ok := attrs[key]
	if !ok || raw == nil {
		return decimal.Zero, false, nil
	}
	switch v := raw.(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return decimal.Zero, false, nil
		}
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		return d, true, err
	case float64:
		return decimal.NewFromFloat(v), true, nil
	default:
		return decimal.Zero, true, fmt.Errorf("unsupported type %T", raw)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func nullableString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
