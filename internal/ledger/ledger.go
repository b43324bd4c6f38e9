// Package ledger implements the referral earning ledger: registration with
// referral attribution, balances and withdrawal requests.
//
// The ledger returns typed errors and never logs or formats user-facing
// text; presentation decides how failures are reported.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"

	"github.com/Proton-105/earnyha-bot/internal/domain"
	"github.com/Proton-105/earnyha-bot/internal/repository"
	"github.com/Proton-105/earnyha-bot/pkg/metrics"
	"github.com/Proton-105/earnyha-bot/pkg/money"
)

// UserCache is a read-through cache for user profiles. Implementations are
// best effort: a miss or a failed write only costs a database read.
//
// Get returns a generation on a miss; Set must drop the fill when the user
// was invalidated since that generation was issued.
type UserCache interface {
	Get(ctx context.Context, id int64) (user *domain.User, generation int64, ok bool)
	Set(ctx context.Context, user *domain.User, generation int64)
	Invalidate(ctx context.Context, ids ...int64)
}

// Registration carries the identity of a person starting the bot.
type Registration struct {
	ID           int64  `validate:"ne=0"`
	DisplayName  string `validate:"max=256"`
	Handle       string `validate:"max=64"`
	ReferralCode string
}

// WithdrawalRequest carries raw withdrawal input as typed by the user.
type WithdrawalRequest struct {
	UserID  int64 `validate:"ne=0"`
	Amount  string
	Method  string `validate:"required,max=64"`
	Details string `validate:"required,max=512"`
}

// Option customises a Ledger.
type Option func(*Ledger)

// WithCache enables the profile cache.
func WithCache(cache UserCache) Option {
	return func(l *Ledger) { l.cache = cache }
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithCodeGenerator replaces the referral code generator.
func WithCodeGenerator(gen CodeGenerator) Option {
	return func(l *Ledger) { l.genCode = gen }
}

// Ledger is the entry point for every balance-affecting operation.
type Ledger struct {
	repo     repository.LedgerRepository
	cfg      Config
	cache    UserCache
	now      func() time.Time
	genCode  CodeGenerator
	validate *validator.Validate
}

// New constructs a Ledger over repo.
func New(repo repository.LedgerRepository, cfg Config, opts ...Option) *Ledger {
	if cfg.TxTimeout <= 0 {
		cfg.TxTimeout = defaultTxTimeout
	}

	l := &Ledger{
		repo:     repo,
		cfg:      cfg,
		now:      time.Now,
		genCode:  NewReferralCode,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Config returns the rules the ledger runs with.
func (l *Ledger) Config() Config {
	return l.cfg
}

// RegisterUser creates a user with a fresh referral code. When the supplied
// code belongs to another user, that user is credited the referral bonus in
// the same transaction. Unknown codes register the user without a referrer.
func (l *Ledger) RegisterUser(ctx context.Context, in Registration) (user *domain.User, err error) {
	defer l.observe("register_user", time.Now(), &err)

	ctx, cancel := context.WithTimeout(ctx, l.cfg.TxTimeout)
	defer cancel()

	in.DisplayName = strings.TrimSpace(in.DisplayName)
	in.Handle = strings.TrimPrefix(strings.TrimSpace(in.Handle), "@")
	if err := l.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	var referrerCode string
	if raw := strings.TrimSpace(in.ReferralCode); raw != "" {
		code, ok := NormalizeReferralCode(raw)
		switch {
		case ok:
			referrerCode = code
		case l.cfg.StrictReferrals:
			return nil, fmt.Errorf("%w: malformed code %q", ErrInvalidReferral, raw)
		}
	}

	createdAt := l.now().UTC().Truncate(time.Millisecond)

	for attempt := 0; ; attempt++ {
		length := codeLength(attempt)
		if length == 0 {
			return nil, storageFailure(errors.New("referral code space exhausted"))
		}

		code, err := l.genCode(length)
		if err != nil {
			return nil, storageFailure(fmt.Errorf("generate referral code: %w", err))
		}

		created, referral, err := l.repo.CreateUser(ctx, repository.NewUser{
			ID:           in.ID,
			DisplayName:  in.DisplayName,
			Handle:       in.Handle,
			ReferralCode: code,
			ReferrerCode: referrerCode,
			Bonus:        l.cfg.ReferralBonus,
			CreatedAt:    createdAt,
		})
		switch {
		case err == nil:
			l.invalidate(ctx, created.ID)
			if referral != nil {
				l.invalidate(ctx, referral.ReferrerID)
				metrics.AddReferralBonus(referral.BonusAmount)
			}
			return created, nil
		case errors.Is(err, repository.ErrReferralCodeTaken):
			continue
		case errors.Is(err, repository.ErrUserExists), errors.Is(err, repository.ErrAlreadyReferred):
			return nil, fmt.Errorf("%w: id %d", ErrAlreadyExists, in.ID)
		default:
			return nil, storageFailure(err)
		}
	}
}

// LookupByReferralCode returns the owner of code. Malformed codes are
// simply not found.
func (l *Ledger) LookupByReferralCode(ctx context.Context, code string) (user *domain.User, found bool, err error) {
	defer l.observe("lookup_referral_code", time.Now(), &err)

	normalized, ok := NormalizeReferralCode(code)
	if !ok {
		return nil, false, nil
	}

	ctx, cancel := context.WithTimeout(ctx, l.cfg.TxTimeout)
	defer cancel()

	user, err = l.repo.UserByReferralCode(ctx, normalized)
	if errors.Is(err, repository.ErrUserNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, storageFailure(err)
	}
	return user, true, nil
}

// GetUser returns the user with id.
func (l *Ledger) GetUser(ctx context.Context, id int64) (user *domain.User, found bool, err error) {
	defer l.observe("get_user", time.Now(), &err)

	var generation int64
	if l.cache != nil {
		cached, gen, ok := l.cache.Get(ctx, id)
		if ok {
			return cached, true, nil
		}
		generation = gen
	}

	ctx, cancel := context.WithTimeout(ctx, l.cfg.TxTimeout)
	defer cancel()

	user, err = l.repo.UserByID(ctx, id)
	if errors.Is(err, repository.ErrUserNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, storageFailure(err)
	}

	if l.cache != nil {
		l.cache.Set(ctx, user, generation)
	}
	return user, true, nil
}

// CreateWithdrawal validates the raw amount, debits it from the balance
// and records a pending request. Both happen atomically or not at all.
func (l *Ledger) CreateWithdrawal(ctx context.Context, req WithdrawalRequest) (w *domain.Withdrawal, err error) {
	defer l.observe("create_withdrawal", time.Now(), &err)

	amount, err := money.Parse(req.Amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	if amount.IsZero() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidAmount)
	}
	if amount.LessThan(l.cfg.MinWithdrawal) {
		return nil, fmt.Errorf("%w: %s < %s", ErrBelowMinimum, amount, l.cfg.MinWithdrawal)
	}

	req.Method = strings.TrimSpace(req.Method)
	req.Details = strings.TrimSpace(req.Details)
	if err := l.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	ctx, cancel := context.WithTimeout(ctx, l.cfg.TxTimeout)
	defer cancel()

	w, err = l.repo.CreateWithdrawal(ctx, repository.NewWithdrawal{
		UserID:    req.UserID,
		Amount:    amount,
		Method:    req.Method,
		Details:   req.Details,
		CreatedAt: l.now().UTC().Truncate(time.Millisecond),
	})
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrInsufficientFunds):
		return nil, fmt.Errorf("%w: requested %s", ErrInsufficientBalance, amount)
	case errors.Is(err, repository.ErrUserInactive):
		return nil, fmt.Errorf("%w: user %d", ErrUserInactive, req.UserID)
	case errors.Is(err, repository.ErrUserNotFound):
		return nil, fmt.Errorf("%w: user %d", ErrNotFound, req.UserID)
	default:
		return nil, storageFailure(err)
	}

	l.invalidate(ctx, req.UserID)
	metrics.AddWithdrawalRequested(amount)
	return w, nil
}

// ProcessWithdrawal moves a request along pending -> approved|rejected and
// approved -> paid. Rejection returns the amount to the user's balance.
func (l *Ledger) ProcessWithdrawal(ctx context.Context, id int64, status domain.WithdrawalStatus) (w *domain.Withdrawal, err error) {
	defer l.observe("process_withdrawal", time.Now(), &err)

	ctx, cancel := context.WithTimeout(ctx, l.cfg.TxTimeout)
	defer cancel()

	w, err = l.repo.TransitionWithdrawal(ctx, id, status, l.now().UTC().Truncate(time.Millisecond))
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrWithdrawalNotFound):
		return nil, fmt.Errorf("%w: withdrawal %d", ErrNotFound, id)
	case errors.Is(err, repository.ErrStatusConflict):
		return nil, fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	default:
		return nil, storageFailure(err)
	}

	l.invalidate(ctx, w.UserID)
	return w, nil
}

// SetActive deactivates or reactivates a user. Users are never deleted.
func (l *Ledger) SetActive(ctx context.Context, id int64, active bool) (err error) {
	defer l.observe("set_active", time.Now(), &err)

	ctx, cancel := context.WithTimeout(ctx, l.cfg.TxTimeout)
	defer cancel()

	err = l.repo.SetUserActive(ctx, id, active)
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrUserNotFound):
		return fmt.Errorf("%w: user %d", ErrNotFound, id)
	default:
		return storageFailure(err)
	}

	l.invalidate(ctx, id)
	return nil
}

// ListAllUsers returns every user, newest first.
func (l *Ledger) ListAllUsers(ctx context.Context) (users []domain.User, err error) {
	defer l.observe("list_users", time.Now(), &err)

	ctx, cancel := context.WithTimeout(ctx, l.cfg.TxTimeout)
	defer cancel()

	users, err = l.repo.ListUsers(ctx)
	if err != nil {
		return nil, storageFailure(err)
	}
	return users, nil
}

// ListPendingWithdrawals returns pending requests with requester names, newest first.
func (l *Ledger) ListPendingWithdrawals(ctx context.Context) (pending []domain.PendingWithdrawal, err error) {
	defer l.observe("list_pending_withdrawals", time.Now(), &err)

	ctx, cancel := context.WithTimeout(ctx, l.cfg.TxTimeout)
	defer cancel()

	pending, err = l.repo.ListPendingWithdrawals(ctx)
	if err != nil {
		return nil, storageFailure(err)
	}
	return pending, nil
}

// Stats returns ledger aggregates.
func (l *Ledger) Stats(ctx context.Context) (stats domain.Stats, err error) {
	defer l.observe("stats", time.Now(), &err)

	ctx, cancel := context.WithTimeout(ctx, l.cfg.TxTimeout)
	defer cancel()

	stats, err = l.repo.Stats(ctx)
	if err != nil {
		return domain.Stats{}, storageFailure(err)
	}
	return stats, nil
}

// Ping reports whether storage is reachable.
func (l *Ledger) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.TxTimeout)
	defer cancel()

	if err := l.repo.Ping(ctx); err != nil {
		return storageFailure(err)
	}
	return nil
}

func (l *Ledger) invalidate(ctx context.Context, ids ...int64) {
	if l.cache != nil {
		l.cache.Invalidate(context.WithoutCancel(ctx), ids...)
	}
}

func (l *Ledger) observe(operation string, started time.Time, err *error) {
	metrics.RecordLedgerOperation(operation, Kind(*err), time.Since(started))
}
