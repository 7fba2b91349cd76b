package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// Columns selects an account row; the date and time columns are combined into created_at
const Columns = `accountno, user_id, accounttype, balance, isactive, (datecreated + timecreated) AS created_at`

// Data store abstraction for accounts
type Repo interface {
	Open(ctx context.Context, a *Account) error
	FindByNo(ctx context.Context, no int64) (*Account, error)
	FindByUser(ctx context.Context, userID int64) ([]*Account, error)
	SetActive(ctx context.Context, no int64, active bool) error
	TotalBalance(ctx context.Context) (decimal.Decimal, error)
}

var _ Repo = (*PostgresRepo)(nil)

type PostgresRepo struct {
	db *sqlx.DB
}

func NewPostgresRepo(db *sqlx.DB) (*PostgresRepo, error) {
	return &PostgresRepo{db: db}, nil
}

// Open inserts a new account; the account number comes from the database sequence
func (r *PostgresRepo) Open(ctx context.Context, a *Account) error {
	if err := a.Validate(); err != nil {
		return err
	}

	query := `INSERT INTO bankaccount (user_id, accounttype, balance, isactive)
		VALUES ($1, $2, $3, $4)
		RETURNING accountno, (datecreated + timecreated) AS created_at`

	err := r.db.QueryRowxContext(ctx, query, a.UserID, a.Type, a.Balance, a.Active).
		Scan(&a.No, &a.CreatedAt)
	if err != nil {
		return fmt.Errorf("opening account: %w", err)
	}
	return nil
}

func (r *PostgresRepo) FindByNo(ctx context.Context, no int64) (*Account, error) {
	var result Account
	err := r.db.GetContext(ctx, &result, "SELECT "+Columns+" FROM bankaccount WHERE accountno = $1", no)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, no)
	}
	if err != nil {
		return nil, err
	}

	return &result, nil
}

// FindByUser lists every account of the user, active or not, by account number
func (r *PostgresRepo) FindByUser(ctx context.Context, userID int64) ([]*Account, error) {
	var result []*Account
	err := r.db.SelectContext(ctx, &result,
		"SELECT "+Columns+" FROM bankaccount WHERE user_id = $1 ORDER BY accountno",
		userID,
	)
	if err != nil {
		return nil, err
	}

	return result, nil
}

// SetActive is the administrative (de)activation of an account
func (r *PostgresRepo) SetActive(ctx context.Context, no int64, active bool) error {
	res, err := r.db.ExecContext(ctx, "UPDATE bankaccount SET isactive = $1 WHERE accountno = $2", active, no)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, no)
	}
	return nil
}

// TotalBalance sums the balance of every account
func (r *PostgresRepo) TotalBalance(ctx context.Context) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.db.GetContext(ctx, &total, "SELECT COALESCE(SUM(balance), 0) FROM bankaccount")
	return total, err
}
