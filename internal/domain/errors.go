package domain

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindGuardViolation    ErrorKind = "guard_violation"
	KindNotFound          ErrorKind = "not_found"
	KindForbidden         ErrorKind = "forbidden"
	KindPaymentFailed     ErrorKind = "payment_failed"
	KindInsufficientFunds ErrorKind = "insufficient_funds"
	KindAlreadyDone       ErrorKind = "already_done"
	KindAlreadyPaid       ErrorKind = "already_paid"
	KindInvalidAmount     ErrorKind = "invalid_amount"
	KindInvalidInput      ErrorKind = "invalid_input"
)

// Error is the error type returned by every rental and ledger operation.
// Code is stable and machine readable, Message is for humans.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on Kind, and on Code too when the target carries one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != "" && t.Code != e.Code {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrGuardViolation    = &Error{Kind: KindGuardViolation, Message: "guard violation"}
	ErrNotFound          = &Error{Kind: KindNotFound, Message: "not found"}
	ErrForbidden         = &Error{Kind: KindForbidden, Message: "forbidden"}
	ErrPaymentFailed     = &Error{Kind: KindPaymentFailed, Message: "payment failed"}
	ErrInsufficientFunds = &Error{Kind: KindInsufficientFunds, Message: "insufficient funds"}
	ErrAlreadyDone       = &Error{Kind: KindAlreadyDone, Message: "already done"}
	ErrAlreadyPaid       = &Error{Kind: KindAlreadyPaid, Message: "already paid"}
	ErrInvalidAmount     = &Error{Kind: KindInvalidAmount, Message: "invalid amount"}
	ErrInvalidInput      = &Error{Kind: KindInvalidInput, Message: "invalid input"}
)

func NewGuardViolation(code, message string) *Error {
	return &Error{Kind: KindGuardViolation, Code: code, Message: message}
}

func NewNotFound(entity string, id any) *Error {
	return &Error{Kind: KindNotFound, Code: "NOT_FOUND", Message: fmt.Sprintf("%s %v not found", entity, id)}
}

func NewForbidden(code, message string) *Error {
	return &Error{Kind: KindForbidden, Code: code, Message: message}
}

func NewPaymentFailed(code, message string, err error) *Error {
	return &Error{Kind: KindPaymentFailed, Code: code, Message: message, Err: err}
}

func NewInsufficientFunds(account string) *Error {
	return &Error{Kind: KindInsufficientFunds, Code: "INSUFFICIENT_FUNDS", Message: fmt.Sprintf("account %s has insufficient funds", account)}
}

func NewAlreadyDone(code, message string) *Error {
	return &Error{Kind: KindAlreadyDone, Code: code, Message: message}
}

func NewAlreadyPaid(code, message string) *Error {
	return &Error{Kind: KindAlreadyPaid, Code: code, Message: message}
}

func NewInvalidAmount(message string) *Error {
	return &Error{Kind: KindInvalidAmount, Code: "INVALID_AMOUNT", Message: message}
}

func NewInvalidInput(code, message string) *Error {
	return &Error{Kind: KindInvalidInput, Code: code, Message: message}
}

// KindOf returns the kind of the first *Error in err's chain, or "" for
// infrastructure errors.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// CodeOf returns the stable code of the first *Error in err's chain.
func CodeOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}
