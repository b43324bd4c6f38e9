package state

import "time"

// State represents a finite-state machine state.
type State string

const (
	// StateIdle indicates that the bot is waiting for the next user command.
	StateIdle State = "idle"
	// StateWithdrawAmount indicates that the user is typing the amount to withdraw.
	StateWithdrawAmount State = "withdraw_amount"
	// StateWithdrawMethod indicates that the user is choosing a payment method.
	StateWithdrawMethod State = "withdraw_method"
	// StateWithdrawDetails indicates that the user is typing payment details.
	StateWithdrawDetails State = "withdraw_details"
	// StateWithdrawConfirm indicates that the user is confirming the withdrawal.
	StateWithdrawConfirm State = "withdraw_confirm"
	// StateError indicates that the bot is in an error state and requires recovery.
	StateError State = "error"
)

var knownStates = []State{
	StateIdle,
	StateWithdrawAmount,
	StateWithdrawMethod,
	StateWithdrawDetails,
	StateWithdrawConfirm,
	StateError,
}

// Context keys used by the withdrawal conversation.
const (
	KeyAmount  = "amount"
	KeyMethod  = "method"
	KeyDetails = "details"
)

// UserState captures the current FSM state for a Telegram user.
type UserState struct {
	UserID       int64                  `json:"user_id"`
	CurrentState State                  `json:"current_state"`
	Context      map[string]interface{} `json:"context"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// String returns a context value as a string, or "" when absent.
func (s *UserState) String(key string) string {
	if s == nil || s.Context == nil {
		return ""
	}
	v, _ := s.Context[key].(string)
	return v
}
