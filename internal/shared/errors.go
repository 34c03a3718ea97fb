package shared

import (
	"errors"
	"fmt"
)

// Error kinds. Every coded error unwraps to exactly one of these.
var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a uniqueness or duplicate-state violation.
	ErrConflict = errors.New("conflict")
	// ErrInsufficientStock indicates a physical or sellable quantity check failed.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInvalidState indicates an operation outside its allowed workflow state.
	ErrInvalidState = errors.New("invalid state")
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrBranchNotFound indicates an unrecognised branch literal.
	ErrBranchNotFound = errors.New("branch not found")
	// ErrCarrier indicates the shipping carrier rejected a call or answered garbage.
	ErrCarrier = errors.New("carrier error")
	// ErrInternal indicates an unexpected failure.
	ErrInternal = errors.New("internal error")
)

// Error is a domain error with a stable machine readable code.
type Error struct {
	Kind    error
	Code    string
	Message string
}

// NewError builds a coded error of the given kind.
func NewError(kind error, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

// Unwrap exposes the kind so errors.Is(err, ErrNotFound) holds.
func (e *Error) Unwrap() error {
	return e.Kind
}

// WithMessage returns a copy carrying a more specific message. The copy still
// matches the original with errors.Is.
func (e *Error) WithMessage(format string, args ...any) error {
	return &detailed{base: e, msg: fmt.Sprintf(format, args...)}
}

type detailed struct {
	base *Error
	msg  string
}

func (d *detailed) Error() string {
	return d.base.Code + ": " + d.msg
}

func (d *detailed) Unwrap() error {
	return d.base
}

// CodeOf extracts the stable code carried by err, falling back to the kind name.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Code()
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrConflict):
		return "CONFLICT"
	case errors.Is(err, ErrInsufficientStock):
		return "INSUFFICIENT_STOCK"
	case errors.Is(err, ErrInvalidState):
		return "INVALID_STATE"
	case errors.Is(err, ErrValidation):
		return "VALIDATION_FAILED"
	case errors.Is(err, ErrBranchNotFound):
		return "BRANCH_NOT_FOUND"
	case errors.Is(err, ErrCarrier):
		return "CARRIER_ERROR"
	}
	return "INTERNAL_ERROR"
}

// Common coded errors shared by several modules.
var (
	ErrUserNotFound          = NewError(ErrNotFound, "NOT_FOUND_USER", "user not found or inactive")
	ErrInvalidAmount         = NewError(ErrValidation, "INVALID_AMOUNT", "amount must be greater than zero")
	ErrAmountGreaterThanDebt = NewError(ErrValidation, "AMOUNT_GREATER_THAN_DEBT", "amount exceeds outstanding debt")
	ErrItemsRequired         = NewError(ErrValidation, "ITEMS_REQUIRED", "at least one item is required")
	ErrInvalidQuantity       = NewError(ErrValidation, "INVALID_QUANTITY", "quantity must be greater than zero")
)
