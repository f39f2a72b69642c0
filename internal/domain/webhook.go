/**
 * @description
 * Webhook payload models. Vendor payloads follow the JSON:API-like envelope the
 * banking providers send ({event, data{id, type, attributes}, created_at}); they are
 * mapped into a CanonicalWebhookEvent before anything touches ledger state.
 */
package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// VendorWebhookEvent is the top-level structure of an inbound vendor payload.
type VendorWebhookEvent struct {
	ID        string          `json:"id"`
	Event     string          `json:"event"`
	Data      EventResource   `json:"data"`
	Included  []EventResource `json:"included,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// EventResource is the resource the vendor event pertains to.
type EventResource struct {
	ID            string                  `json:"id"`
	Type          string                  `json:"type"`
	Attributes    map[string]interface{}  `json:"attributes,omitempty"`
	Relationships map[string]Relationship `json:"relationships,omitempty"`
}

// Relationship captures nested relationship objects.
type Relationship struct {
	Data json.RawMessage `json:"data,omitempty"`
}

// RelationshipData is the node inside a relationship.
type RelationshipData struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// CanonicalEventType is the provider-independent meaning of a webhook.
type CanonicalEventType string

const (
	EventSettlementProcessing CanonicalEventType = "SETTLEMENT_PROCESSING"
	EventSettlementSucceeded  CanonicalEventType = "SETTLEMENT_SUCCEEDED"
	EventSettlementFailed     CanonicalEventType = "SETTLEMENT_FAILED"
	EventAccountCredited      CanonicalEventType = "ACCOUNT_CREDITED"
)

// CanonicalWebhookEvent is an authenticated, vendor-independent webhook event.
// It is transient: only its effects are persisted.
type CanonicalWebhookEvent struct {
	Type                CanonicalEventType `json:"type"`
	Vendor              string             `json:"vendor"`
	DeliveryID          string             `json:"delivery_id,omitempty"`
	CorrelationKey      string             `json:"correlation_key,omitempty"`
	Amount              decimal.Decimal    `json:"amount"`
	Currency            string             `json:"currency"`
	DeclineReason       *string            `json:"decline_reason,omitempty"`
	PayerDocumentNumber string             `json:"payer_document_number,omitempty"`
	PayerName           string             `json:"payer_name,omitempty"`
	Timestamp           time.Time          `json:"timestamp"`
	Raw                 json.RawMessage    `json:"raw,omitempty"`
}
