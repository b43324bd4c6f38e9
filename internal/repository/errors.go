package repository

import (
	"errors"
	"strings"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrUserExists is returned when a user with the same id is already stored.
	ErrUserExists = errors.New("user already exists")
	// ErrReferralCodeTaken is returned when a generated referral code collides.
	ErrReferralCodeTaken = errors.New("referral code already taken")
	// ErrAlreadyReferred is returned when the user already has a referral record.
	ErrAlreadyReferred = errors.New("user already referred")
	// ErrUserNotFound is returned when no user matches.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserInactive is returned when a deactivated user tries to move money.
	ErrUserInactive = errors.New("user inactive")
	// ErrInsufficientFunds is returned when the balance cannot cover a debit.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrWithdrawalNotFound is returned when no withdrawal matches.
	ErrWithdrawalNotFound = errors.New("withdrawal not found")
	// ErrStatusConflict is returned when a withdrawal is not in a state that
	// allows the requested transition.
	ErrStatusConflict = errors.New("withdrawal status conflict")
)

const pqUniqueViolation = "23505"

// classify maps unique constraint violations reported by either driver
// onto the repository sentinels. Other errors pass through unchanged.
func classify(err error) error {
	name, ok := uniqueViolation(err)
	if !ok {
		return err
	}

	switch {
	case strings.Contains(name, "referral_code"):
		return ErrReferralCodeTaken
	case strings.Contains(name, "referred_id"):
		return ErrAlreadyReferred
	case strings.Contains(name, "users_pkey"), strings.Contains(name, "users.id"):
		return ErrUserExists
	default:
		return err
	}
}

// uniqueViolation reports whether err is a unique or primary key violation
// and returns the text naming the constraint.
func uniqueViolation(err error) (string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if pqErr.Code != pqUniqueViolation {
			return "", false
		}
		return pqErr.Constraint, true
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		msg := liteErr.Error()
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return msg, true
		case sqlite3.SQLITE_CONSTRAINT:
			return msg, strings.Contains(msg, "UNIQUE constraint failed")
		}
	}

	return "", false
}
