package ledger

import (
	"fmt"
	"time"

	"github.com/Proton-105/earnyha-bot/pkg/config"
	"github.com/Proton-105/earnyha-bot/pkg/money"
)

const defaultTxTimeout = 5 * time.Second

// Config holds the program rules. It is read once at startup.
type Config struct {
	ReferralBonus   money.Amount
	MinWithdrawal   money.Amount
	StrictReferrals bool
	TxTimeout       time.Duration
}

// ConfigFrom converts the loaded settings into a ledger Config.
func ConfigFrom(settings config.LedgerConfig) (Config, error) {
	bonus, err := money.Parse(settings.ReferralBonus)
	if err != nil {
		return Config{}, fmt.Errorf("referral bonus %q: %w", settings.ReferralBonus, err)
	}

	minimum, err := money.Parse(settings.MinWithdrawal)
	if err != nil {
		return Config{}, fmt.Errorf("min withdrawal %q: %w", settings.MinWithdrawal, err)
	}

	timeout := settings.TxTimeout
	if timeout <= 0 {
		timeout = defaultTxTimeout
	}

	return Config{
		ReferralBonus:   bonus,
		MinWithdrawal:   minimum,
		StrictReferrals: settings.StrictReferrals,
		TxTimeout:       timeout,
	}, nil
}
