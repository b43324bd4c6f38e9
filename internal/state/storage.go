// Package state tracks where each user is in a multi-step conversation.
package state

import "context"

// Storage persists UserState records keyed by Telegram user ID. GetState
// returns ErrStateNotFound for users without a record.
type Storage interface {
	GetState(ctx context.Context, userID int64) (*UserState, error)
	SetState(ctx context.Context, userID int64, state *UserState) error
	ClearState(ctx context.Context, userID int64) error
	// GetAllStates lists every live record, used for the state census
	// and the stale conversation sweep.
	GetAllStates(ctx context.Context) ([]*UserState, error)
}
