package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/Proton-105/earnyha-bot/internal/domain"
)

const (
	TaskTypeWithdrawalCreated = "withdrawal:created"
	TaskTypeWithdrawalStatus  = "withdrawal:status"
	TaskTypeReferralBonus     = "referral:bonus"
	TaskTypeDailyReport       = "report:daily"
)

const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

// Queues are the worker queues with their priority weights.
var Queues = map[string]int{
	QueueCritical: 6,
	QueueDefault:  3,
	QueueLow:      1,
}

const notifyMaxRetry = 5

// WithdrawalCreatedPayload tells admins about a new payout request.
type WithdrawalCreatedPayload struct {
	WithdrawalID int64     `json:"withdrawal_id"`
	UserID       int64     `json:"user_id"`
	DisplayName  string    `json:"display_name"`
	Handle       string    `json:"handle"`
	Amount       string    `json:"amount"`
	Method       string    `json:"method"`
	Details      string    `json:"details"`
	CreatedAt    time.Time `json:"created_at"`
}

// WithdrawalStatusPayload tells a user that an admin processed their request.
type WithdrawalStatusPayload struct {
	WithdrawalID int64                   `json:"withdrawal_id"`
	UserID       int64                   `json:"user_id"`
	Amount       string                  `json:"amount"`
	Status       domain.WithdrawalStatus `json:"status"`
}

// ReferralBonusPayload tells a referrer that their code was used.
type ReferralBonusPayload struct {
	ReferrerID   int64  `json:"referrer_id"`
	ReferredName string `json:"referred_name"`
	Bonus        string `json:"bonus"`
}

func NewWithdrawalCreatedTask(w *domain.Withdrawal, user *domain.User) (*asynq.Task, error) {
	if w == nil {
		return nil, fmt.Errorf("withdrawal created task: nil withdrawal")
	}

	payload := WithdrawalCreatedPayload{
		WithdrawalID: w.ID,
		UserID:       w.UserID,
		Amount:       w.Amount.String(),
		Method:       w.PaymentMethod,
		Details:      w.PaymentDetails,
		CreatedAt:    w.CreatedAt,
	}
	if user != nil {
		payload.DisplayName = user.DisplayName
		payload.Handle = user.Handle
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(TaskTypeWithdrawalCreated, data,
		asynq.Queue(QueueCritical),
		asynq.MaxRetry(notifyMaxRetry),
		// one notification per withdrawal even if the bot enqueues twice
		asynq.TaskID(fmt.Sprintf("withdrawal-created-%d", w.ID)),
	), nil
}

func NewWithdrawalStatusTask(w *domain.Withdrawal) (*asynq.Task, error) {
	if w == nil {
		return nil, fmt.Errorf("withdrawal status task: nil withdrawal")
	}

	data, err := json.Marshal(WithdrawalStatusPayload{
		WithdrawalID: w.ID,
		UserID:       w.UserID,
		Amount:       w.Amount.String(),
		Status:       w.Status,
	})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(TaskTypeWithdrawalStatus, data,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(notifyMaxRetry),
		asynq.TaskID(fmt.Sprintf("withdrawal-status-%d-%s", w.ID, w.Status)),
	), nil
}

func NewReferralBonusTask(referrerID int64, referredName, bonus string) (*asynq.Task, error) {
	data, err := json.Marshal(ReferralBonusPayload{
		ReferrerID:   referrerID,
		ReferredName: referredName,
		Bonus:        bonus,
	})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(TaskTypeReferralBonus, data,
		asynq.Queue(QueueLow),
		asynq.MaxRetry(notifyMaxRetry),
	), nil
}

func NewDailyReportTask() *asynq.Task {
	return asynq.NewTask(TaskTypeDailyReport, nil,
		asynq.Queue(QueueLow),
		asynq.MaxRetry(1),
	)
}
