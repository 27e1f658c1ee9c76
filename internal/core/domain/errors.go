package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindForbidden
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Error is the engine's error type. Two errors are considered the same by
// errors.Is when their codes match, so wrapped detail errors still match
// the package sentinels.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Fields  map[string]string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s: %s", k, e.Fields[k])
		}
		b.WriteString(")")
	}
	if e.Err != nil && e.Kind == KindInternal {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

var (
	ErrEmptyOrder           = &Error{Kind: KindValidation, Code: "empty_order", Message: "order must contain at least one item"}
	ErrInvalidInput         = &Error{Kind: KindValidation, Code: "invalid_input", Message: "invalid input"}
	ErrInvalidQuantity      = &Error{Kind: KindValidation, Code: "invalid_quantity", Message: "quantity must be greater than zero"}
	ErrInvalidPaymentMethod = &Error{Kind: KindValidation, Code: "invalid_payment_method", Message: "unsupported payment method"}
	ErrInvalidMovementType  = &Error{Kind: KindValidation, Code: "invalid_movement_type", Message: "unsupported movement type"}

	ErrOrderNotFound    = &Error{Kind: KindNotFound, Code: "order_not_found", Message: "order not found"}
	ErrItemNotFound     = &Error{Kind: KindNotFound, Code: "inventory_item_not_found", Message: "inventory item not found"}
	ErrMenuItemNotFound = &Error{Kind: KindNotFound, Code: "menu_item_not_found", Message: "menu item not found"}

	ErrForbidden      = &Error{Kind: KindForbidden, Code: "forbidden", Message: "action not allowed for this actor"}
	ErrForbiddenOwner = &Error{Kind: KindForbidden, Code: "forbidden_owner", Message: "waiters may only cancel their own orders"}

	ErrItemUnavailable     = &Error{Kind: KindConflict, Code: "item_unavailable", Message: "menu item is not available"}
	ErrInvalidTransition   = &Error{Kind: KindConflict, Code: "invalid_transition", Message: "invalid status transition"}
	ErrAlreadyTerminal     = &Error{Kind: KindConflict, Code: "already_terminal", Message: "order is already in a terminal state"}
	ErrNotReadyForPayment  = &Error{Kind: KindConflict, Code: "not_ready_for_payment", Message: "order must be completed before payment"}
	ErrInsufficientPayment = &Error{Kind: KindConflict, Code: "insufficient_payment", Message: "payment amount is less than the order total"}
	ErrInsufficientStock   = &Error{Kind: KindConflict, Code: "insufficient_stock", Message: "insufficient stock"}
	ErrDuplicateRequest    = &Error{Kind: KindConflict, Code: "duplicate_request", Message: "request is already being processed"}

	ErrInternal = &Error{Kind: KindInternal, Code: "internal", Message: "internal error"}
)

// Detail returns a copy of sentinel carrying a more specific message.
func Detail(sentinel *Error, format string, args ...any) *Error {
	return &Error{
		Kind:    sentinel.Kind,
		Code:    sentinel.Code,
		Message: fmt.Sprintf(format, args...),
		Err:     sentinel,
	}
}

// Validation builds a validation error with per-field messages.
func Validation(fields map[string]string) *Error {
	return &Error{
		Kind:    KindValidation,
		Code:    ErrInvalidInput.Code,
		Message: ErrInvalidInput.Message,
		Fields:  fields,
		Err:     ErrInvalidInput,
	}
}

// Internal wraps a storage or infrastructure failure.
func Internal(op string, err error) *Error {
	return &Error{
		Kind:    KindInternal,
		Code:    ErrInternal.Code,
		Message: op,
		Err:     err,
	}
}

// KindOf classifies err. Errors that are not *Error are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// FieldsOf returns field-level validation detail, if any.
func FieldsOf(err error) map[string]string {
	var e *Error
	if errors.As(err, &e) {
		return e.Fields
	}
	return nil
}

// AsEngineError passes *Error values through and wraps anything else as internal.
func AsEngineError(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return Internal(op, err)
}
