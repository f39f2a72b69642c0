package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransactionEvent is an append-only audit entry in a transaction's history.
// Key and Param1..Param5 let clients render a localized message; Message is the
// fallback text. Internal entries are shown to operators only.
type TransactionEvent struct {
	ID            uuid.UUID `json:"id"`
	TransactionID uuid.UUID `json:"transaction_id"`
	Message       string    `json:"message"`
	Key           string    `json:"key,omitempty"`
	Param1        string    `json:"param1,omitempty"`
	Param2        string    `json:"param2,omitempty"`
	Param3        string    `json:"param3,omitempty"`
	Param4        string    `json:"param4,omitempty"`
	Param5        string    `json:"param5,omitempty"`
	Internal      bool      `json:"internal"`
	CreatedAt     time.Time `json:"created_at"`
}

// Event keys written by the ledger.
const (
	EventKeyCreated       = "TRANSACTION_CREATED"
	EventKeyStatusChanged = "TRANSACTION_STATUS_CHANGED"
	EventKeyUpdated       = "TRANSACTION_UPDATED"
	EventKeySettlement    = "SETTLEMENT_DETAIL"
)
