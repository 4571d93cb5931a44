// Package apperrors provides code-tagged business errors for the policy engine.
package apperrors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	CodeUnknown Code = "UNKNOWN"

	// Lifecycle errors
	CodeInvalidTransition Code = "INVALID_TRANSITION"
	CodeCycleDetected     Code = "CYCLE_DETECTED"

	// Referential lookups
	CodeNotFound           Code = "NOT_FOUND"
	CodeUnknownInstallment Code = "UNKNOWN_INSTALLMENT"

	// Idempotency violations
	CodeAlreadyPaid     Code = "ALREADY_PAID"
	CodeAlreadyApproved Code = "ALREADY_APPROVED"

	// Payment amount/date inconsistency
	CodePaymentError Code = "PAYMENT_ERROR"

	CodeValidationFailed Code = "VALIDATION_FAILED"
	CodeVersionConflict  Code = "VERSION_CONFLICT"
	CodeInternal         Code = "INTERNAL"
)

// HTTPStatus maps domain codes to HTTP status codes.
func HTTPStatus(code Code) int {
	switch code {
	case CodeNotFound, CodeUnknownInstallment:
		return http.StatusNotFound
	case CodeInvalidTransition, CodeAlreadyPaid, CodeAlreadyApproved, CodeCycleDetected, CodeVersionConflict:
		return http.StatusConflict
	case CodePaymentError, CodeValidationFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
