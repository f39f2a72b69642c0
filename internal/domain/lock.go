package domain

import (
	"time"

	"github.com/google/uuid"
)

// LockObjectType scopes lock keys so unrelated record kinds never contend.
type LockObjectType string

const (
	LockObjectTransaction LockObjectType = "TRANSACTION"
	LockObjectPayroll     LockObjectType = "PAYROLL"
	LockObjectCorrelation LockObjectType = "CORRELATION_KEY"
)

// Lock is a held mutual-exclusion record. Row existence means held.
type Lock struct {
	ID         uuid.UUID      `json:"id"`
	ObjectType LockObjectType `json:"object_type"`
	Key        string         `json:"key"`
	CreatedAt  time.Time      `json:"created_at"`
}
