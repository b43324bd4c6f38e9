package domain

import (
	"time"

	"github.com/Proton-105/earnyha-bot/pkg/money"
)

// User is a registered participant of the referral program.
// ID is the chat platform identifier of the person.
type User struct {
	ID             int64        `json:"id"`
	DisplayName    string       `json:"display_name"`
	Handle         string       `json:"handle,omitempty"`
	ReferralCode   string       `json:"referral_code"`
	ReferredBy     *int64       `json:"referred_by,omitempty"`
	Balance        money.Amount `json:"balance"`
	TotalEarned    money.Amount `json:"total_earned"`
	TotalReferrals int64        `json:"total_referrals"`
	CreatedAt      time.Time    `json:"created_at"`
	Active         bool         `json:"active"`
}

// WasReferred reports whether a referrer was attributed at registration.
func (u *User) WasReferred() bool {
	return u != nil && u.ReferredBy != nil
}
