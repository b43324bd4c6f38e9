package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/earnyha-bot/internal/database"
	"github.com/Proton-105/earnyha-bot/internal/domain"
	"github.com/Proton-105/earnyha-bot/pkg/config"
	"github.com/Proton-105/earnyha-bot/pkg/money"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestRepository(t *testing.T) LedgerRepository {
	t.Helper()

	ctx := context.Background()
	db, dialect, err := database.Open(ctx, config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "ledger.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = database.NewMigrator(db, dialect, slog.New(slog.NewTextHandler(io.Discard, nil))).Migrate(ctx)
	require.NoError(t, err)

	return NewLedgerRepository(db, dialect)
}

func createUser(t *testing.T, repo LedgerRepository, id int64, code, referrerCode string) *domain.User {
	t.Helper()

	user, _, err := repo.CreateUser(context.Background(), NewUser{
		ID:           id,
		DisplayName:  fmt.Sprintf("user-%d", id),
		ReferralCode: code,
		ReferrerCode: referrerCode,
		Bonus:        money.MustParse("10"),
		CreatedAt:    testNow.Add(time.Duration(id) * time.Second),
	})
	require.NoError(t, err)
	return user
}

func TestCreateUserWithReferral(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	referrer := createUser(t, repo, 1, "AAAAAAAA", "")
	assert.Nil(t, referrer.ReferredBy)
	assert.True(t, referrer.Active)
	assert.Equal(t, testNow.Add(time.Second), referrer.CreatedAt)

	user, referral, err := repo.CreateUser(ctx, NewUser{
		ID:           2,
		DisplayName:  "Bob",
		Handle:       "bob",
		ReferralCode: "BBBBBBBB",
		ReferrerCode: "AAAAAAAA",
		Bonus:        money.MustParse("10"),
		CreatedAt:    testNow,
	})
	require.NoError(t, err)
	require.NotNil(t, referral)
	require.NotNil(t, user.ReferredBy)
	assert.Equal(t, int64(1), *user.ReferredBy)
	assert.Equal(t, money.MustParse("10"), referral.BonusAmount)

	credited, err := repo.UserByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, money.MustParse("10"), credited.Balance)
	assert.Equal(t, money.MustParse("10"), credited.TotalEarned)
	assert.Equal(t, int64(1), credited.TotalReferrals)
}

func TestCreateUserConflicts(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	createUser(t, repo, 1, "AAAAAAAA", "")

	_, _, err := repo.CreateUser(ctx, NewUser{ID: 1, ReferralCode: "CCCCCCCC", CreatedAt: testNow})
	assert.ErrorIs(t, err, ErrUserExists)

	_, _, err = repo.CreateUser(ctx, NewUser{ID: 2, ReferralCode: "AAAAAAAA", CreatedAt: testNow})
	assert.ErrorIs(t, err, ErrReferralCodeTaken)

	_, err = repo.UserByID(ctx, 2)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestCreateUserUnknownReferrer(t *testing.T) {
	repo := newTestRepository(t)

	user := createUser(t, repo, 5, "EEEEEEEE", "ZZZZZZZZ")
	assert.Nil(t, user.ReferredBy)

	stats, err := repo.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.ReferralRecords)
}

func TestCreateWithdrawal(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	createUser(t, repo, 1, "AAAAAAAA", "")
	for i := int64(2); i <= 7; i++ {
		createUser(t, repo, i, fmt.Sprintf("CODE%04d", i), "AAAAAAAA")
	}

	w, err := repo.CreateWithdrawal(ctx, NewWithdrawal{
		UserID:    1,
		Amount:    money.MustParse("50"),
		Method:    "UPI",
		Details:   "alice@upi",
		CreatedAt: testNow,
	})
	require.NoError(t, err)
	assert.NotZero(t, w.ID)
	assert.Equal(t, domain.WithdrawalPending, w.Status)

	user, err := repo.UserByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, money.MustParse("10"), user.Balance)
	assert.Equal(t, money.MustParse("60"), user.TotalEarned)

	_, err = repo.CreateWithdrawal(ctx, NewWithdrawal{UserID: 1, Amount: money.MustParse("50"), Method: "UPI", Details: "x", CreatedAt: testNow})
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	_, err = repo.CreateWithdrawal(ctx, NewWithdrawal{UserID: 99, Amount: money.MustParse("50"), Method: "UPI", Details: "x", CreatedAt: testNow})
	assert.ErrorIs(t, err, ErrUserNotFound)

	require.NoError(t, repo.SetUserActive(ctx, 1, false))
	_, err = repo.CreateWithdrawal(ctx, NewWithdrawal{UserID: 1, Amount: money.MustParse("10"), Method: "UPI", Details: "x", CreatedAt: testNow})
	assert.ErrorIs(t, err, ErrUserInactive)
	user, err = repo.UserByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, money.MustParse("10"), user.Balance)

	pending, err := repo.ListPendingWithdrawals(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "user-1", pending[0].DisplayName)
	assert.Equal(t, "alice@upi", pending[0].PaymentDetails)
}

func TestTransitionWithdrawal(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	createUser(t, repo, 1, "AAAAAAAA", "")
	for i := int64(2); i <= 11; i++ {
		createUser(t, repo, i, fmt.Sprintf("CODE%04d", i), "AAAAAAAA")
	}

	first, err := repo.CreateWithdrawal(ctx, NewWithdrawal{UserID: 1, Amount: money.MustParse("50"), Method: "UPI", Details: "a", CreatedAt: testNow})
	require.NoError(t, err)
	second, err := repo.CreateWithdrawal(ctx, NewWithdrawal{UserID: 1, Amount: money.MustParse("50"), Method: "Bank", Details: "b", CreatedAt: testNow})
	require.NoError(t, err)

	processedAt := testNow.Add(time.Hour)
	approved, err := repo.TransitionWithdrawal(ctx, first.ID, domain.WithdrawalApproved, processedAt)
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalApproved, approved.Status)
	require.NotNil(t, approved.ProcessedAt)
	assert.Equal(t, processedAt, *approved.ProcessedAt)

	paid, err := repo.TransitionWithdrawal(ctx, first.ID, domain.WithdrawalPaid, processedAt.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, processedAt, *paid.ProcessedAt)

	_, err = repo.TransitionWithdrawal(ctx, first.ID, domain.WithdrawalRejected, processedAt)
	assert.ErrorIs(t, err, ErrStatusConflict)

	_, err = repo.TransitionWithdrawal(ctx, second.ID, domain.WithdrawalRejected, processedAt)
	require.NoError(t, err)

	user, err := repo.UserByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, money.MustParse("50"), user.Balance)
	assert.Equal(t, money.MustParse("100"), user.TotalEarned)

	_, err = repo.TransitionWithdrawal(ctx, 999, domain.WithdrawalApproved, processedAt)
	assert.ErrorIs(t, err, ErrWithdrawalNotFound)

	pending, err := repo.ListPendingWithdrawals(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestListUsersAndStats(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	createUser(t, repo, 1, "AAAAAAAA", "")
	createUser(t, repo, 2, "BBBBBBBB", "AAAAAAAA")
	createUser(t, repo, 3, "CCCCCCCC", "BBBBBBBB")
	require.NoError(t, repo.SetUserActive(ctx, 3, false))
	assert.ErrorIs(t, repo.SetUserActive(ctx, 42, false), ErrUserNotFound)

	users, err := repo.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 3)
	assert.Equal(t, []int64{3, 2, 1}, []int64{users[0].ID, users[1].ID, users[2].ID})
	assert.False(t, users[0].Active)

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.Stats{
		TotalUsers:      3,
		ActiveUsers:     2,
		TotalBalance:    money.MustParse("20"),
		TotalEarned:     money.MustParse("20"),
		TotalReferrals:  2,
		ReferralRecords: 2,
	}, stats)
}

func TestClassify(t *testing.T) {
	assert.ErrorIs(t, classify(&pq.Error{Code: "23505", Constraint: "users_referral_code_key"}), ErrReferralCodeTaken)
	assert.ErrorIs(t, classify(&pq.Error{Code: "23505", Constraint: "users_pkey"}), ErrUserExists)
	assert.ErrorIs(t, classify(&pq.Error{Code: "23505", Constraint: "referrals_referred_id_key"}), ErrAlreadyReferred)

	checkErr := &pq.Error{Code: "23514", Constraint: "users_balance_check"}
	assert.Equal(t, error(checkErr), classify(checkErr))

	plain := errors.New("boom")
	assert.Equal(t, plain, classify(plain))
}
