package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Proton-105/earnyha-bot/internal/database"
	"github.com/Proton-105/earnyha-bot/internal/domain"
	"github.com/Proton-105/earnyha-bot/pkg/money"
)

// NewUser describes a registration. ReferrerCode is the normalised code
// the user arrived with, empty when none.
type NewUser struct {
	ID           int64
	DisplayName  string
	Handle       string
	ReferralCode string
	ReferrerCode string
	Bonus        money.Amount
	CreatedAt    time.Time
}

// NewWithdrawal describes a withdrawal request.
type NewWithdrawal struct {
	UserID    int64
	Amount    money.Amount
	Method    string
	Details   string
	CreatedAt time.Time
}

// LedgerRepository defines persistence operations for the referral ledger.
// Every write runs in one transaction and leaves no partial state on error.
type LedgerRepository interface {
	CreateUser(ctx context.Context, in NewUser) (*domain.User, *domain.Referral, error)
	UserByID(ctx context.Context, id int64) (*domain.User, error)
	UserByReferralCode(ctx context.Context, code string) (*domain.User, error)
	SetUserActive(ctx context.Context, id int64, active bool) error
	ListUsers(ctx context.Context) ([]domain.User, error)

	CreateWithdrawal(ctx context.Context, in NewWithdrawal) (*domain.Withdrawal, error)
	TransitionWithdrawal(ctx context.Context, id int64, to domain.WithdrawalStatus, at time.Time) (*domain.Withdrawal, error)
	ListPendingWithdrawals(ctx context.Context) ([]domain.PendingWithdrawal, error)

	Stats(ctx context.Context) (domain.Stats, error)
	Ping(ctx context.Context) error
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

type ledgerRepository struct {
	db      *sql.DB
	dialect database.Dialect
	txOpts  *sql.TxOptions
}

// NewLedgerRepository creates a SQL-backed ledger repository for db.
func NewLedgerRepository(db *sql.DB, dialect database.Dialect) LedgerRepository {
	r := &ledgerRepository{db: db, dialect: dialect}
	if dialect == database.Postgres {
		r.txOpts = &sql.TxOptions{Isolation: sql.LevelReadCommitted}
	}
	return r
}

const userColumns = `id, display_name, handle, referral_code, referred_by, balance,
	total_earned, total_referrals, created_at, active`

const withdrawalColumns = `w.id, w.user_id, w.amount, w.payment_method, w.payment_details,
	w.status, w.created_at, w.processed_at`

// CreateUser inserts the user and, when the referrer code resolves, credits
// the referrer and records the referral in the same transaction. The
// existence check runs first, so a code can only resolve to someone else;
// the users_not_self_referred constraint backs that up.
func (r *ledgerRepository) CreateUser(ctx context.Context, in NewUser) (*domain.User, *domain.Referral, error) {
	var (
		user     *domain.User
		referral *domain.Referral
	)

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := r.userByID(ctx, tx, in.ID); err == nil {
			return ErrUserExists
		} else if !errors.Is(err, ErrUserNotFound) {
			return err
		}

		var referredBy *int64
		if in.ReferrerCode != "" {
			referrer, err := r.userByReferralCode(ctx, tx, in.ReferrerCode)
			switch {
			case errors.Is(err, ErrUserNotFound):
				// unknown code, register without attribution
			case err != nil:
				return err
			default:
				referredBy = &referrer.ID
			}
		}

		const insertUser = `
			INSERT INTO users (id, display_name, handle, referral_code, referred_by,
				balance, total_earned, total_referrals, created_at, active)
			VALUES (?, ?, ?, ?, ?, 0, 0, 0, ?, ?)
		`
		if _, err := tx.ExecContext(ctx, r.dialect.Rebind(insertUser),
			in.ID, in.DisplayName, in.Handle, in.ReferralCode, referredBy,
			in.CreatedAt.UnixMilli(), true,
		); err != nil {
			return fmt.Errorf("insert user: %w", classify(err))
		}

		if referredBy != nil {
			ref, err := r.creditReferral(ctx, tx, *referredBy, in)
			if err != nil {
				return err
			}
			referral = ref
		}

		created, err := r.userByID(ctx, tx, in.ID)
		if err != nil {
			return err
		}
		user = created
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	return user, referral, nil
}

func (r *ledgerRepository) creditReferral(ctx context.Context, tx *sql.Tx, referrerID int64, in NewUser) (*domain.Referral, error) {
	const credit = `
		UPDATE users
		SET balance = balance + ?,
			total_earned = total_earned + ?,
			total_referrals = total_referrals + 1
		WHERE id = ?
	`
	res, err := tx.ExecContext(ctx, r.dialect.Rebind(credit), in.Bonus.Minor(), in.Bonus.Minor(), referrerID)
	if err != nil {
		return nil, fmt.Errorf("credit referrer: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, fmt.Errorf("credit referrer: %w", err)
	} else if n != 1 {
		return nil, fmt.Errorf("credit referrer %d: %w", referrerID, ErrUserNotFound)
	}

	const insertReferral = `
		INSERT INTO referrals (referrer_id, referred_id, bonus_amount, created_at)
		VALUES (?, ?, ?, ?)
		RETURNING id
	`
	ref := &domain.Referral{
		ReferrerID:  referrerID,
		ReferredID:  in.ID,
		BonusAmount: in.Bonus,
		CreatedAt:   in.CreatedAt,
	}
	if err := tx.QueryRowContext(ctx, r.dialect.Rebind(insertReferral),
		referrerID, in.ID, in.Bonus.Minor(), in.CreatedAt.UnixMilli(),
	).Scan(&ref.ID); err != nil {
		return nil, fmt.Errorf("insert referral: %w", classify(err))
	}

	return ref, nil
}

// UserByID retrieves a user by the chat platform identifier.
func (r *ledgerRepository) UserByID(ctx context.Context, id int64) (*domain.User, error) {
	return r.userByID(ctx, r.db, id)
}

// UserByReferralCode retrieves the owner of a referral code.
func (r *ledgerRepository) UserByReferralCode(ctx context.Context, code string) (*domain.User, error) {
	return r.userByReferralCode(ctx, r.db, code)
}

func (r *ledgerRepository) userByID(ctx context.Context, q queryer, id int64) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ?`
	user, err := scanUser(q.QueryRowContext(ctx, r.dialect.Rebind(query), id))
	if err != nil {
		return nil, fmt.Errorf("select user by id: %w", err)
	}
	return user, nil
}

func (r *ledgerRepository) userByReferralCode(ctx context.Context, q queryer, code string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE referral_code = ?`
	user, err := scanUser(q.QueryRowContext(ctx, r.dialect.Rebind(query), code))
	if err != nil {
		return nil, fmt.Errorf("select user by referral code: %w", err)
	}
	return user, nil
}

// SetUserActive flips the soft-delete flag of a user.
func (r *ledgerRepository) SetUserActive(ctx context.Context, id int64, active bool) error {
	res, err := r.db.ExecContext(ctx, r.dialect.Rebind(`UPDATE users SET active = ? WHERE id = ?`), active, id)
	if err != nil {
		return fmt.Errorf("update user active: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user active: %w", err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// ListUsers returns every user, newest first.
func (r *ledgerRepository) ListUsers(ctx context.Context) ([]domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY created_at DESC, id DESC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("list users: %w", err)
		}
		users = append(users, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	return users, nil
}

// CreateWithdrawal debits the balance and records a pending request in one
// transaction. The debit is conditional on the user being active and the
// balance covering the amount.
func (r *ledgerRepository) CreateWithdrawal(ctx context.Context, in NewWithdrawal) (*domain.Withdrawal, error) {
	var withdrawal *domain.Withdrawal

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		const debit = `UPDATE users SET balance = balance - ? WHERE id = ? AND active = ? AND balance >= ?`
		res, err := tx.ExecContext(ctx, r.dialect.Rebind(debit), in.Amount.Minor(), in.UserID, true, in.Amount.Minor())
		if err != nil {
			return fmt.Errorf("debit balance: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("debit balance: %w", err)
		}
		if n == 0 {
			user, err := r.userByID(ctx, tx, in.UserID)
			switch {
			case err != nil:
				return err
			case !user.Active:
				return ErrUserInactive
			default:
				return ErrInsufficientFunds
			}
		}

		const insert = `
			INSERT INTO withdrawals (user_id, amount, payment_method, payment_details, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
			RETURNING id
		`
		w := &domain.Withdrawal{
			UserID:         in.UserID,
			Amount:         in.Amount,
			PaymentMethod:  in.Method,
			PaymentDetails: in.Details,
			Status:         domain.WithdrawalPending,
			CreatedAt:      in.CreatedAt,
		}
		if err := tx.QueryRowContext(ctx, r.dialect.Rebind(insert),
			in.UserID, in.Amount.Minor(), in.Method, in.Details, string(w.Status), in.CreatedAt.UnixMilli(),
		).Scan(&w.ID); err != nil {
			return fmt.Errorf("insert withdrawal: %w", err)
		}

		withdrawal = w
		return nil
	})
	if err != nil {
		return nil, err
	}

	return withdrawal, nil
}

// TransitionWithdrawal moves a request to a new status. Rejecting a request
// refunds its amount to the requester.
func (r *ledgerRepository) TransitionWithdrawal(ctx context.Context, id int64, to domain.WithdrawalStatus, at time.Time) (*domain.Withdrawal, error) {
	var withdrawal *domain.Withdrawal

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		query := `SELECT ` + withdrawalColumns + ` FROM withdrawals w WHERE w.id = ?`
		w, err := scanWithdrawal(tx.QueryRowContext(ctx, r.dialect.Rebind(query), id))
		if errors.Is(err, sql.ErrNoRows) {
			return ErrWithdrawalNotFound
		}
		if err != nil {
			return fmt.Errorf("select withdrawal: %w", err)
		}

		from := w.Status
		if !from.CanTransitionTo(to) {
			return fmt.Errorf("%w: %s -> %s", ErrStatusConflict, from, to)
		}
		if from == domain.WithdrawalPending {
			processed := at
			w.ProcessedAt = &processed
		}

		var processedAt *int64
		if w.ProcessedAt != nil {
			ms := w.ProcessedAt.UnixMilli()
			processedAt = &ms
		}

		const update = `UPDATE withdrawals SET status = ?, processed_at = ? WHERE id = ? AND status = ?`
		res, err := tx.ExecContext(ctx, r.dialect.Rebind(update), string(to), processedAt, id, string(from))
		if err != nil {
			return fmt.Errorf("update withdrawal: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("update withdrawal: %w", err)
		} else if n == 0 {
			return fmt.Errorf("%w: %s changed concurrently", ErrStatusConflict, from)
		}

		if to == domain.WithdrawalRejected {
			const refund = `UPDATE users SET balance = balance + ? WHERE id = ?`
			if _, err := tx.ExecContext(ctx, r.dialect.Rebind(refund), w.Amount.Minor(), w.UserID); err != nil {
				return fmt.Errorf("refund withdrawal: %w", err)
			}
		}

		w.Status = to
		withdrawal = w
		return nil
	})
	if err != nil {
		return nil, err
	}

	return withdrawal, nil
}

// ListPendingWithdrawals returns pending requests with requester names, newest first.
func (r *ledgerRepository) ListPendingWithdrawals(ctx context.Context) ([]domain.PendingWithdrawal, error) {
	query := `
		SELECT ` + withdrawalColumns + `, u.display_name, u.handle
		FROM withdrawals w
		JOIN users u ON u.id = w.user_id
		WHERE w.status = ?
		ORDER BY w.created_at DESC, w.id DESC
	`

	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(query), string(domain.WithdrawalPending))
	if err != nil {
		return nil, fmt.Errorf("list pending withdrawals: %w", err)
	}
	defer rows.Close()

	var result []domain.PendingWithdrawal
	for rows.Next() {
		var p domain.PendingWithdrawal
		w, err := scanWithdrawal(rows, &p.DisplayName, &p.Handle)
		if err != nil {
			return nil, fmt.Errorf("list pending withdrawals: %w", err)
		}
		p.Withdrawal = *w
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list pending withdrawals: %w", err)
	}

	return result, nil
}

// Stats aggregates users, referrals and pending withdrawals.
func (r *ledgerRepository) Stats(ctx context.Context) (domain.Stats, error) {
	var (
		stats                      domain.Stats
		balance, earned, pendingAm int64
	)

	const users = `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN active THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(balance), 0),
			COALESCE(SUM(total_earned), 0),
			COALESCE(SUM(total_referrals), 0)
		FROM users
	`
	if err := r.db.QueryRowContext(ctx, users).Scan(
		&stats.TotalUsers, &stats.ActiveUsers, &balance, &earned, &stats.TotalReferrals,
	); err != nil {
		return domain.Stats{}, fmt.Errorf("user stats: %w", err)
	}

	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM referrals`).Scan(&stats.ReferralRecords); err != nil {
		return domain.Stats{}, fmt.Errorf("referral stats: %w", err)
	}

	const pending = `SELECT COUNT(*), COALESCE(SUM(amount), 0) FROM withdrawals WHERE status = ?`
	if err := r.db.QueryRowContext(ctx, r.dialect.Rebind(pending), string(domain.WithdrawalPending)).Scan(
		&stats.PendingWithdrawals, &pendingAm,
	); err != nil {
		return domain.Stats{}, fmt.Errorf("withdrawal stats: %w", err)
	}

	stats.TotalBalance = money.FromMinor(balance)
	stats.TotalEarned = money.FromMinor(earned)
	stats.PendingAmount = money.FromMinor(pendingAm)
	return stats, nil
}

// Ping checks connectivity of the underlying pool.
func (r *ledgerRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *ledgerRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, r.txOpts)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func scanUser(row rowScanner) (*domain.User, error) {
	var (
		user                     domain.User
		referredBy               sql.NullInt64
		balance, earned, created int64
	)

	if err := row.Scan(
		&user.ID,
		&user.DisplayName,
		&user.Handle,
		&user.ReferralCode,
		&referredBy,
		&balance,
		&earned,
		&user.TotalReferrals,
		&created,
		&user.Active,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	if referredBy.Valid {
		id := referredBy.Int64
		user.ReferredBy = &id
	}
	user.Balance = money.FromMinor(balance)
	user.TotalEarned = money.FromMinor(earned)
	user.CreatedAt = time.UnixMilli(created).UTC()

	return &user, nil
}

func scanWithdrawal(row rowScanner, extra ...any) (*domain.Withdrawal, error) {
	var (
		w         domain.Withdrawal
		amount    int64
		status    string
		created   int64
		processed sql.NullInt64
	)

	dest := append([]any{
		&w.ID,
		&w.UserID,
		&amount,
		&w.PaymentMethod,
		&w.PaymentDetails,
		&status,
		&created,
		&processed,
	}, extra...)

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	parsed, err := domain.ParseWithdrawalStatus(status)
	if err != nil {
		return nil, err
	}

	w.Status = parsed
	w.Amount = money.FromMinor(amount)
	w.CreatedAt = time.UnixMilli(created).UTC()
	if processed.Valid {
		at := time.UnixMilli(processed.Int64).UTC()
		w.ProcessedAt = &at
	}

	return &w, nil
}
