package domain

import "github.com/Proton-105/earnyha-bot/pkg/money"

// Stats aggregates the ledger for administrators.
type Stats struct {
	TotalUsers         int64
	ActiveUsers        int64
	TotalBalance       money.Amount
	TotalEarned        money.Amount
	TotalReferrals     int64
	ReferralRecords    int64
	PendingWithdrawals int64
	PendingAmount      money.Amount
}
