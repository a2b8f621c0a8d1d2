package bulksync

import (
	"database/sql/driver"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

var (
	// ErrInvalidTransition is returned for illegal session state changes.
	ErrInvalidTransition = errors.New("invalid session transition")

	// ErrSessionNotActive is returned when a batch or finish call hits a
	// session that is not in iniciada/procesando.
	ErrSessionNotActive = errors.New("session not active")

	// ErrSessionNotFound is returned for unknown session ids.
	ErrSessionNotFound = errors.New("session not found")

	// ErrStoreUnavailable marks a durable-store outage. It aborts the
	// current batch with partial statistics but never transitions the
	// session; only an explicit finish does that.
	ErrStoreUnavailable = errors.New("catalog store unavailable")
)

// ValidationError rejects bad input shape or bounds before any state
// mutation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func newValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Record error classification, kept as strings because they cross the
// API boundary in batch results.
const (
	RecordErrorValidation = "validation"
	RecordErrorProduct    = "product"
	RecordErrorCategory   = "category"
	RecordErrorPrice      = "price"
	RecordErrorStock      = "stock"
)

// RecordError is one record's reconciliation failure, collected into the
// batch result rather than raised. It carries enough context for
// operator triage: batch number, original record index and the product
// business key.
type RecordError struct {
	BatchNumber int    `json:"batchNumber"`
	Index       int    `json:"index"`
	ProductCode int64  `json:"productCode"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type"`
	Message     string `json:"message"`
}

func (e RecordError) Error() string {
	return fmt.Sprintf("record %d (product %d): %s: %s", e.Index, e.ProductCode, e.Type, e.Message)
}

// IsUnavailable reports whether err indicates the durable store itself
// is down, as opposed to a per-record failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, gorm.ErrInvalidDB)
}
