package domain

import (
	"time"

	"github.com/Proton-105/earnyha-bot/pkg/money"
)

// Referral records that ReferrerID brought in ReferredID.
// BonusAmount is the bonus in effect at the moment of crediting.
type Referral struct {
	ID          int64
	ReferrerID  int64
	ReferredID  int64
	BonusAmount money.Amount
	CreatedAt   time.Time
}
