package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrRecordTerminal = errors.New("record already terminal")
	ErrInvalidAmount  = errors.New("amount must be positive")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrLockHeld       = errors.New("lock already held")
	ErrMissingProof   = errors.New("transaction proof not recorded")
)

// RemoteCallError wraps a failed call to an external ledger.
type RemoteCallError struct {
	Ledger string
	Op     string
	Err    error
}

func (e *RemoteCallError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Ledger, e.Op, e.Err)
}

func (e *RemoteCallError) Unwrap() error { return e.Err }

// InsufficientCollateralError is raised before any mutating call when the
// available or offered collateral is below what the flow needs.
type InsufficientCollateralError struct {
	Required  decimal.Decimal
	Available decimal.Decimal
	Unit      string
}

func (e *InsufficientCollateralError) Error() string {
	return fmt.Sprintf("insufficient collateral: need %s %s, have %s %s",
		e.Required.String(), e.Unit, e.Available.String(), e.Unit)
}

// LoanToValueExceededError is raised when a mint would push the position
// above the configured ceiling.
type LoanToValueExceededError struct {
	Projected decimal.Decimal
	Max       decimal.Decimal
}

func (e *LoanToValueExceededError) Error() string {
	return fmt.Sprintf("loan-to-value %s%% would exceed maximum %s%%",
		e.Projected.StringFixed(2), e.Max.String())
}

// TimeoutError marks a monitored record that outlived its polling budget.
type TimeoutError struct {
	ID      string
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout: no finality after %s, check transaction %s manually",
		e.Elapsed.Round(time.Second), e.ID)
}

// IsValidation reports whether err belongs to the validation class that is
// surfaced synchronously and never creates a record.
func IsValidation(err error) bool {
	var ic *InsufficientCollateralError
	var ltv *LoanToValueExceededError
	return errors.As(err, &ic) || errors.As(err, &ltv) || errors.Is(err, ErrInvalidAmount)
}
