package domain

import (
	"fmt"
	"time"

	"github.com/Proton-105/earnyha-bot/pkg/money"
)

// WithdrawalStatus is the processing state of a withdrawal request.
type WithdrawalStatus string

const (
	WithdrawalPending  WithdrawalStatus = "pending"
	WithdrawalApproved WithdrawalStatus = "approved"
	WithdrawalRejected WithdrawalStatus = "rejected"
	WithdrawalPaid     WithdrawalStatus = "paid"
)

var withdrawalTransitions = map[WithdrawalStatus][]WithdrawalStatus{
	WithdrawalPending:  {WithdrawalApproved, WithdrawalRejected},
	WithdrawalApproved: {WithdrawalPaid},
}

// ParseWithdrawalStatus converts a stored or typed value into a status.
func ParseWithdrawalStatus(s string) (WithdrawalStatus, error) {
	switch status := WithdrawalStatus(s); status {
	case WithdrawalPending, WithdrawalApproved, WithdrawalRejected, WithdrawalPaid:
		return status, nil
	default:
		return "", fmt.Errorf("unknown withdrawal status %q", s)
	}
}

// CanTransitionTo reports whether an administrator may move a request from s to next.
func (s WithdrawalStatus) CanTransitionTo(next WithdrawalStatus) bool {
	for _, allowed := range withdrawalTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Final reports whether no further transitions are possible.
func (s WithdrawalStatus) Final() bool {
	return len(withdrawalTransitions[s]) == 0
}

// Withdrawal is a request to pay out part of a user's balance.
// The amount is debited from the balance when the request is created.
type Withdrawal struct {
	ID             int64
	UserID         int64
	Amount         money.Amount
	PaymentMethod  string
	PaymentDetails string
	Status         WithdrawalStatus
	CreatedAt      time.Time
	ProcessedAt    *time.Time
}

// PendingWithdrawal joins a withdrawal with the requester's display data.
type PendingWithdrawal struct {
	Withdrawal
	DisplayName string
	Handle      string
}
