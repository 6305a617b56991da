/*
errors.go - Error taxonomy for the payment and margin engine

PURPOSE:
  All error kinds in one place. Callers classify with errors.Is against the
  sentinels and extract detail with errors.As against the structured types.

ERROR KINDS:
  NotFound        - invoice, contract or margin record id does not resolve
  Conflict        - second margin record for an invoice, repeated dispatch
  Validation      - margin config out of range, empty splits, bad override
  BusinessRule    - unknown payment model, split allocation mismatch
  ExternalService - repository or audit sink failure (safe to retry)

PROPAGATION:
  NotFound, Conflict, Validation and BusinessRule are caller mistakes and
  are never retried automatically. ExternalService aborts the in-flight
  repository transaction, so nothing is partially committed.

USAGE:
  if errors.Is(err, billing.ErrConflict) { ... }

  var verr *billing.ValidationError
  if errors.As(err, &verr) {
      for _, p := range verr.Problems { ... }
  }
*/
package billing

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrValidation      = errors.New("validation failed")
	ErrBusinessRule    = errors.New("business rule violated")
	ErrExternalService = errors.New("external service failure")
)

// =============================================================================
// STRUCTURED ERRORS - Carry entity ids and offending fields
// =============================================================================

// NotFoundError names the entity that could not be resolved.
type NotFoundError struct {
	Entity string // "invoice", "contract", "margin_record"
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ConflictError reports a uniqueness violation.
type ConflictError struct {
	Entity string
	ID     string
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Entity, e.ID, e.Reason)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// ValidationError collects every problem found on one input.
type ValidationError struct {
	Field    string
	Problems []string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + strings.Join(e.Problems, "; ")
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// BusinessRuleError reports a rule the request cannot satisfy.
type BusinessRuleError struct {
	Rule   string
	Detail string
}

func (e *BusinessRuleError) Error() string {
	if e.Detail == "" {
		return e.Rule
	}
	return fmt.Sprintf("%s: %s", e.Rule, e.Detail)
}

func (e *BusinessRuleError) Unwrap() error { return ErrBusinessRule }

// ExternalServiceError wraps a failure of a collaborator (store, audit sink).
type ExternalServiceError struct {
	Op  string
	Err error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ExternalServiceError) Unwrap() []error { return []error{ErrExternalService, e.Err} }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// Unavailable wraps err as an ExternalServiceError unless it already
// carries one of the engine's kinds.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrValidation) || errors.Is(err, ErrBusinessRule) ||
		errors.Is(err, ErrExternalService) {
		return err
	}
	return &ExternalServiceError{Op: op, Err: err}
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrBusinessRule)
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrExternalService)
}
