package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation indicates malformed or inconsistent input detected before any side effect.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound indicates resource not found under the caller's tenant.
	ErrNotFound = errors.New("not found")
	// ErrInsufficientFunds indicates a debit larger than the account's current balance.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrPeriodClosed indicates the date falls inside a CLOSED fiscal period.
	ErrPeriodClosed = errors.New("fiscal period closed")
	// ErrNoOpenPeriod indicates no OPEN fiscal period covers the date.
	ErrNoOpenPeriod = errors.New("no open fiscal period")
	// ErrConstraint indicates a business constraint violation (overlap, bad state transition).
	ErrConstraint = errors.New("constraint violation")
)

// Errorf returns an error carrying the message while still matching kind through errors.Is.
func Errorf(kind error, format string, args ...any) error {
	return &kindError{kind: kind, msg: fmt.Sprintf(format, args...)}
}

type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Unwrap() error { return e.kind }

var kindNames = []struct {
	err  error
	name string
}{
	{ErrValidation, "validation"},
	{ErrNotFound, "not_found"},
	{ErrInsufficientFunds, "insufficient_funds"},
	{ErrPeriodClosed, "period_closed"},
	{ErrNoOpenPeriod, "no_open_period"},
	{ErrConstraint, "constraint_violation"},
	{ErrIdempotencyConflict, "idempotency_conflict"},
}

// KindOf returns the stable kind name of err, or "internal" when it carries none.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kindNames {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "internal"
}
