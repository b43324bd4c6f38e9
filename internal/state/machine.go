package state

import (
	"context"
	"errors"
	"log/slog"
	"maps"
)

var (
	// ErrInvalidTransition indicates that a requested FSM transition is not allowed.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrStateNotFound indicates that a user state record does not exist.
	ErrStateNotFound = errors.New("user state not found")
	// ErrStateLocked indicates that a concurrent operation already holds the lock.
	ErrStateLocked = errors.New("state is locked, try again later")
)

// StateMachine describes the operations supported by the FSM controller.
type StateMachine interface {
	GetState(ctx context.Context, userID int64) (*UserState, error)
	SetState(ctx context.Context, userID int64, state State, contextData map[string]interface{}) error
	TransitionTo(ctx context.Context, userID int64, newState State, contextData map[string]interface{}) error
	ClearState(ctx context.Context, userID int64) error
	Census(ctx context.Context) (map[State]int, error)
}

// Option configures a Machine.
type Option func(*Machine)

// WithLocker replaces the in-process lock, typically with a RedisLocker
// so that several bot instances serialize on the same user.
func WithLocker(l Locker) Option {
	return func(m *Machine) {
		if l != nil {
			m.locker = l
		}
	}
}

// WithObserver registers a callback run after every accepted transition.
func WithObserver(fn func(from, to State)) Option {
	return func(m *Machine) {
		if fn != nil {
			m.observers = append(m.observers, fn)
		}
	}
}

// Machine implements StateMachine on top of a Storage. Every write holds
// the user's lock, so a read-modify-write in TransitionTo never
// interleaves with another update of the same user.
type Machine struct {
	storage   Storage
	locker    Locker
	observers []func(from, to State)
	log       *slog.Logger
}

var _ StateMachine = (*Machine)(nil)

// NewStateMachine returns a Machine persisting to storage.
func NewStateMachine(storage Storage, log *slog.Logger, opts ...Option) *Machine {
	if log == nil {
		log = slog.Default()
	}

	m := &Machine{storage: storage, locker: NewLocalLocker(), log: log}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetState returns the stored state or ErrStateNotFound.
func (m *Machine) GetState(ctx context.Context, userID int64) (*UserState, error) {
	return m.storage.GetState(ctx, userID)
}

// SetState overwrites the user's state without checking the transition
// table.
func (m *Machine) SetState(ctx context.Context, userID int64, state State, contextData map[string]interface{}) error {
	return m.locked(ctx, userID, func() error {
		return m.save(ctx, userID, state, contextData)
	})
}

// TransitionTo moves the user to newState when the transition table allows
// it. contextData is merged over the context collected so far; moving to
// idle drops the collected context.
func (m *Machine) TransitionTo(ctx context.Context, userID int64, newState State, contextData map[string]interface{}) error {
	return m.locked(ctx, userID, func() error {
		from := StateIdle
		merged := make(map[string]interface{}, len(contextData))

		current, err := m.storage.GetState(ctx, userID)
		switch {
		case errors.Is(err, ErrStateNotFound):
		case err != nil:
			return err
		case current != nil:
			from = current.CurrentState
			if newState != StateIdle {
				maps.Copy(merged, current.Context)
			}
		}
		maps.Copy(merged, contextData)

		if !IsTransitionAllowed(from, newState) {
			m.log.WarnContext(ctx, "invalid state transition",
				slog.Int64("user_id", userID),
				slog.String("from", string(from)),
				slog.String("to", string(newState)),
			)
			return ErrInvalidTransition
		}

		if err := m.save(ctx, userID, newState, merged); err != nil {
			return err
		}
		for _, observe := range m.observers {
			observe(from, newState)
		}
		return nil
	})
}

// ClearState removes the user's state.
func (m *Machine) ClearState(ctx context.Context, userID int64) error {
	return m.locked(ctx, userID, func() error {
		return m.storage.ClearState(ctx, userID)
	})
}

// Census counts stored states per state. Every known state is present,
// zero when nobody is in it.
func (m *Machine) Census(ctx context.Context) (map[State]int, error) {
	states, err := m.storage.GetAllStates(ctx)
	if err != nil {
		return nil, err
	}

	counts := make(map[State]int, len(knownStates))
	for _, s := range knownStates {
		counts[s] = 0
	}
	for _, st := range states {
		if st != nil {
			counts[st.CurrentState]++
		}
	}
	return counts, nil
}

func (m *Machine) locked(ctx context.Context, userID int64, fn func() error) error {
	unlock, err := m.locker.Lock(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrStateLocked) {
			m.log.ErrorContext(ctx, "failed to acquire user state lock", slog.Int64("user_id", userID), slog.Any("error", err))
		}
		return err
	}
	defer unlock()

	return fn()
}

func (m *Machine) save(ctx context.Context, userID int64, state State, contextData map[string]interface{}) error {
	return m.storage.SetState(ctx, userID, &UserState{
		UserID:       userID,
		CurrentState: state,
		Context:      contextData,
	})
}
