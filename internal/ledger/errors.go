package ledger

import (
	"errors"
	"fmt"
)

// Error kinds returned by the ledger. Callers compare with errors.Is.
var (
	ErrAlreadyExists       = errors.New("ledger: user already exists")
	ErrInvalidReferral     = errors.New("ledger: invalid referral code")
	ErrBelowMinimum        = errors.New("ledger: amount below minimum withdrawal")
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	ErrInvalidAmount       = errors.New("ledger: invalid amount")
	ErrInvalidArgument     = errors.New("ledger: invalid argument")
	ErrNotFound            = errors.New("ledger: not found")
	ErrUserInactive        = errors.New("ledger: user is deactivated")
	ErrInvalidTransition   = errors.New("ledger: invalid withdrawal status transition")
	ErrStorageFailure      = errors.New("ledger: storage failure")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrAlreadyExists, "already_exists"},
	{ErrInvalidReferral, "invalid_referral"},
	{ErrBelowMinimum, "below_minimum"},
	{ErrInsufficientBalance, "insufficient_balance"},
	{ErrInvalidAmount, "invalid_amount"},
	{ErrInvalidArgument, "invalid_argument"},
	{ErrNotFound, "not_found"},
	{ErrUserInactive, "user_inactive"},
	{ErrInvalidTransition, "invalid_transition"},
	{ErrStorageFailure, "storage_failure"},
}

// Kind names the ledger error kind of err: "ok" for nil and "unknown" for
// errors the ledger did not produce.
func Kind(err error) string {
	if err == nil {
		return "ok"
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "unknown"
}

func storageFailure(err error) error {
	return fmt.Errorf("%w: %w", ErrStorageFailure, err)
}
