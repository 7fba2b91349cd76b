package transfer

import (
	"errors"

	"bankledger/internal/idempotency"
)

var (
	ErrInvalidAmount          = errors.New("transfer amount must be positive with at most two decimal places")
	ErrSameAccount            = errors.New("can't transfer to the same account")
	ErrAccountNotFound        = errors.New("account not found")
	ErrAccountInactive        = errors.New("account is inactive")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrConcurrentModification = errors.New("account modified concurrently")
	ErrDuplicateInFlight      = idempotency.ErrDuplicateInFlight
	ErrIdempotencyKeyReused   = errors.New("idempotency key already used for a different transfer")
)

// IsRetriable reports whether the same request may succeed if attempted again
func IsRetriable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// codes name the errors a finished transfer can end with so that a replayed
// request returns the same error
var codes = map[string]error{
	"invalid_amount":     ErrInvalidAmount,
	"same_account":       ErrSameAccount,
	"account_not_found":  ErrAccountNotFound,
	"account_inactive":   ErrAccountInactive,
	"insufficient_funds": ErrInsufficientFunds,
}

// Code returns the name of err, or "" for nil and errors without a name
func Code(err error) string {
	if err == nil {
		return ""
	}
	for code, target := range codes {
		if errors.Is(err, target) {
			return code
		}
	}
	return ""
}

func errorFromCode(code string) error {
	if code == "" {
		return nil
	}
	if err, ok := codes[code]; ok {
		return err
	}
	return errors.New(code)
}
