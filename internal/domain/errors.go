package domain

import (
	"errors"
	"fmt"
)

// Kind classifies an error by how callers are expected to react to it.
type Kind string

const (
	KindValidation     Kind = "VALIDATION"
	KindNotFound       Kind = "NOT_FOUND"
	KindConflict       Kind = "CONFLICT"
	KindAuthentication Kind = "AUTHENTICATION"
	KindAmbiguousMatch Kind = "AMBIGUOUS_MATCH"
	KindAmountTooLow   Kind = "AMOUNT_TOO_LOW"
	KindConfiguration  Kind = "CONFIGURATION"
	KindUnknown        Kind = "UNKNOWN"
)

// Error is a classified domain error. Sentinels below are compared with errors.Is;
// ad-hoc validation failures are built with NewError and classified with KindOf.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// NewError builds a classified error with a formatted message.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

var (
	ErrTransactionNotFound     = &Error{Kind: KindNotFound, Message: "transaction not found"}
	ErrPayrollNotFound         = &Error{Kind: KindNotFound, Message: "payroll not found"}
	ErrDuplicateTransactionRef = &Error{Kind: KindConflict, Message: "transaction reference already exists"}
	ErrLockHeld                = &Error{Kind: KindConflict, Message: "lock already held"}
	ErrConcurrentModification  = &Error{Kind: KindConflict, Message: "record modified concurrently"}
	ErrInvalidTransition       = &Error{Kind: KindValidation, Message: "invalid status transition"}
	ErrNoSidePopulated         = &Error{Kind: KindValidation, Message: "at least one of debit or credit side must be populated"}
	ErrPresetIDNotAllowed      = &Error{Kind: KindValidation, Message: "workflow does not allow a caller-supplied transaction id"}
	ErrAmountTooLow            = &Error{Kind: KindAmountTooLow, Message: "amount too low to cover fees"}
	ErrUnsupportedCurrencyPair = &Error{Kind: KindConfiguration, Message: "unsupported currency pair"}
	ErrRateNotConfigured       = &Error{Kind: KindConfiguration, Message: "no exchange rate configured for currency pair"}
	ErrInvalidSignature        = &Error{Kind: KindAuthentication, Message: "invalid signature"}
	ErrStaleTimestamp          = &Error{Kind: KindAuthentication, Message: "request timestamp outside freshness window"}
	ErrMissingSignature        = &Error{Kind: KindAuthentication, Message: "missing signature headers"}
	ErrAmbiguousMatch          = &Error{Kind: KindAmbiguousMatch, Message: "reconciliation match is ambiguous"}
)

// KindOf returns the classification of err, or KindUnknown for unclassified errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Kind
	}
	return KindUnknown
}
