package transfer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"bankledger/account"
	"bankledger/transaction"
)

const DefaultLockTimeout = 5 * time.Second

// SQLSTATE codes of a unit that lost to a concurrent one
var conflictCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
}

var _ Store = (*PostgresStore)(nil)

// PostgresStore runs each unit as a database transaction and locks accounts
// with SELECT ... FOR UPDATE
type PostgresStore struct {
	db *sqlx.DB
	// how long a unit waits for an account row before giving up with
	// ErrConcurrentModification
	LockTimeout time.Duration
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db, LockTimeout: DefaultLockTimeout}
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return classify(fmt.Errorf("beginning transaction: %w", err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if s.LockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.LockTimeout.Milliseconds())
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return classify(err)
		}
	}

	if err = fn(&postgresTx{tx: tx}); err != nil {
		return classify(err)
	}
	if err = tx.Commit(); err != nil {
		return classify(fmt.Errorf("committing transaction: %w", err))
	}
	return nil
}

// classify marks errors from either driver that a retry may cure
func classify(err error) error {
	var code string
	var pqErr *pq.Error
	var pgErr *pgconn.PgError
	switch {
	case errors.As(err, &pqErr):
		code = string(pqErr.Code)
	case errors.As(err, &pgErr):
		code = pgErr.Code
	}
	if conflictCodes[code] {
		return fmt.Errorf("%w: %v", ErrConcurrentModification, err)
	}
	return err
}

type postgresTx struct {
	tx *sqlx.Tx
}

func (p *postgresTx) LockAccount(ctx context.Context, no int64) (*account.Account, error) {
	var a account.Account
	query := "SELECT " + account.Columns + " FROM bankaccount WHERE accountno = $1 FOR UPDATE"
	err := p.tx.GetContext(ctx, &a, query, no)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrAccountNotFound, no)
	}
	if err != nil {
		return nil, fmt.Errorf("locking account %d: %w", no, err)
	}
	return &a, nil
}

func (p *postgresTx) UpdateBalance(ctx context.Context, no int64, balance decimal.Decimal) error {
	_, err := p.tx.ExecContext(ctx, "UPDATE bankaccount SET balance = $1 WHERE accountno = $2", balance, no)
	if err != nil {
		return fmt.Errorf("updating balance of %d: %w", no, err)
	}
	return nil
}

func (p *postgresTx) RecordTransaction(ctx context.Context, t *transaction.Transaction) error {
	return transaction.Insert(ctx, p.tx, t)
}
