package apperrors

import (
	"errors"
	"fmt"
	"maps"
)

// Error is a business failure surfaced to the caller. Two errors match under
// errors.Is when their codes are equal.
type Error struct {
	Code     Code
	Message  string
	Metadata map[string]string
	cause    error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// New creates an error with a code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithMetadata creates an error carrying structured context.
func WithMetadata(code Code, message string, metadata map[string]string) *Error {
	return &Error{Code: code, Message: message, Metadata: maps.Clone(metadata)}
}

// Wrap attaches a code to an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// CodeOf returns the code of the first *Error in err's chain, or CodeUnknown.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// MetadataOf returns the metadata of the first *Error in err's chain.
func MetadataOf(err error) map[string]string {
	var e *Error
	if errors.As(err, &e) {
		return e.Metadata
	}
	return nil
}

var (
	// ErrInvalidTransition indicates a status edge that does not exist.
	ErrInvalidTransition = New(CodeInvalidTransition, "policy status transition is not allowed")
	// ErrNotFound indicates a missing policy or endorsement.
	ErrNotFound = New(CodeNotFound, "record not found")
	// ErrUnknownInstallment indicates an installment id not on the policy.
	ErrUnknownInstallment = New(CodeUnknownInstallment, "installment not found on policy")
	// ErrAlreadyPaid indicates a repeated payment on a settled installment.
	ErrAlreadyPaid = New(CodeAlreadyPaid, "installment is already paid")
	// ErrAlreadyApproved indicates a repeated endorsement approval.
	ErrAlreadyApproved = New(CodeAlreadyApproved, "endorsement is already approved")
	// ErrCycleDetected indicates a renewal chain that would reference itself.
	ErrCycleDetected = New(CodeCycleDetected, "renewal chain cycle detected")
	// ErrPayment indicates an amount or date inconsistency on a payment.
	ErrPayment = New(CodePaymentError, "payment is inconsistent with the installment")
	// ErrValidation indicates a malformed command or record.
	ErrValidation = New(CodeValidationFailed, "validation failed")
	// ErrVersionConflict indicates a concurrent write won the optimistic check.
	ErrVersionConflict = New(CodeVersionConflict, "policy was modified concurrently")
)
