// Package errors consolidates error definitions for the quotad daemon.
//
// This package provides:
// - Sentinel errors for all error conditions
// - Error category checking functions
// - HTTP status mapping for the API surface
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ============================================================================
// Sentinel errors for common conditions
// ============================================================================

var (
	// Accounting errors
	ErrRegistryFull  = errors.New("aggregate table is full")
	ErrUnitNotFound  = errors.New("storage unit not found")
	ErrOwnerUnknown  = errors.New("owner unknown")
	ErrQuotaExceeded = errors.New("disk space quota exceeded")

	// Validation errors
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrInvalidPartition = errors.New("invalid partition name")
	ErrInvalidUnitID    = errors.New("invalid unit identifier")
	ErrMissingField     = errors.New("missing required field")

	// Collaborator errors
	ErrCatalogUnavailable = errors.New("catalog unavailable")
	ErrQuotaSourceMissing = errors.New("quota configuration source missing")

	// Lifecycle errors
	ErrClosed = errors.New("closed")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// New is a convenience wrapper for errors.New
var New = errors.New

// IsValidation returns true if err is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrInvalidPartition) ||
		errors.Is(err, ErrInvalidUnitID) ||
		errors.Is(err, ErrMissingField)
}

// IsRecoverable returns true if the error must be logged and skipped rather
// than crash a reconciliation worker. These conditions clear themselves: a
// full table drains as partitions reset, a missing quota source may appear,
// and an unavailable catalog is retried next cycle.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrRegistryFull) ||
		errors.Is(err, ErrQuotaSourceMissing) ||
		errors.Is(err, ErrCatalogUnavailable) ||
		errors.Is(err, ErrOwnerUnknown)
}

// ============================================================================
// HTTP status mapping
// ============================================================================

// HTTPStatus maps a sentinel error to an HTTP status code for the API surface.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case Is(err, ErrQuotaExceeded):
		// Matches the enforcement contract: deny is a single binary outcome.
		return http.StatusForbidden
	case Is(err, ErrUnitNotFound):
		return http.StatusNotFound
	case IsValidation(err):
		return http.StatusBadRequest
	case Is(err, ErrCatalogUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ============================================================================
// Validation error construction
// ============================================================================

// NewValidation creates a validation error with context.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidConfig)
}

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}

// ValidationErrors collects multiple validation errors.
type ValidationErrors struct {
	Errors []error
}

// NewValidationErrors creates a new ValidationErrors collector.
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{}
}

// Add adds an error to the collection.
func (v *ValidationErrors) Add(err error) {
	if err != nil {
		v.Errors = append(v.Errors, err)
	}
}

// AddField adds a field validation error.
func (v *ValidationErrors) AddField(field, reason string) {
	v.Errors = append(v.Errors, NewValidation(field, reason))
}

// AddMissing adds a missing field error.
func (v *ValidationErrors) AddMissing(field string) {
	v.Errors = append(v.Errors, NewMissingField(field))
}

// HasErrors returns true if there are any errors.
func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

// Error implements the error interface.
func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return ""
	}
	if len(v.Errors) == 1 {
		return v.Errors[0].Error()
	}

	msg := fmt.Sprintf("validation failed with %d errors:", len(v.Errors))
	for _, err := range v.Errors {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Err returns nil if no errors, otherwise returns the ValidationErrors.
func (v *ValidationErrors) Err() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v
}

// Unwrap returns the first error for errors.Is/As support.
func (v *ValidationErrors) Unwrap() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v.Errors[0]
}
