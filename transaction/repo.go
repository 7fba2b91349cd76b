package transaction

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"bankledger/transaction/options"
)

// Columns selects a ledger row; the date and time columns are combined into created_at
const Columns = `transactionid, fromaccount, toaccount, senderbal, receiverbal, amount, transactionstatus,
	(transactiondate + transactiontime) AS created_at, description`

// Data store abstraction for querying transactions. The ledger is append-only:
// there is no update or delete.
type Repo interface {
	Create(ctx context.Context, t *Transaction) error
	FindById(ctx context.Context, id int64) (*Transaction, error)
	Find(ctx context.Context, opts ...*options.TransactionOptions) ([]*Transaction, error)
	History(ctx context.Context, accountNo int64) ([]*Transaction, error)
}

var _ Repo = (*PostgresRepo)(nil)

type PostgresRepo struct {
	db *sqlx.DB
}

func NewPostgresRepo(db *sqlx.DB) (*PostgresRepo, error) {
	return &PostgresRepo{db: db}, nil
}

func (r *PostgresRepo) Create(ctx context.Context, t *Transaction) error {
	return Insert(ctx, r.db, t)
}

// Insert writes t through q, which may be a pool or an open transaction,
// and fills in the id and timestamp assigned by the database
func Insert(ctx context.Context, q sqlx.QueryerContext, t *Transaction) error {
	if !t.Status.Valid() {
		return fmt.Errorf("invalid transaction status %q", t.Status)
	}

	query := `INSERT INTO transactions
		(fromaccount, toaccount, senderbal, receiverbal, amount, transactionstatus, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING transactionid, (transactiondate + transactiontime) AS created_at`

	err := q.QueryRowxContext(ctx, query,
		t.FromAccount,
		t.ToAccount,
		t.SenderBal,
		t.ReceiverBal,
		t.Amount,
		t.Status,
		t.Description,
	).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return fmt.Errorf("recording transaction: %w", err)
	}
	return nil
}

func (r *PostgresRepo) FindById(ctx context.Context, id int64) (*Transaction, error) {
	var result Transaction
	err := r.db.GetContext(ctx, &result, "SELECT "+Columns+" FROM transactions WHERE transactionid = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	return &result, nil
}

// History returns the transactions sent or received by the account, newest first
func (r *PostgresRepo) History(ctx context.Context, accountNo int64) ([]*Transaction, error) {
	opts := options.NewTransactionOptions().
		SetAccounts(accountNo).
		SetDescending(true)
	return r.Find(ctx, opts)
}

// Executes a Find operation and returns a list of Transactions ordered by id.
// The `transactionOptions` can be used to specify options for the operation
func (r *PostgresRepo) Find(ctx context.Context, transactionOptions ...*options.TransactionOptions) ([]*Transaction, error) {
	var result []*Transaction
	query := "SELECT " + Columns + " FROM transactions"

	if len(transactionOptions) == 0 {
		err := r.db.SelectContext(ctx, &result, query+" ORDER BY transactionid")
		if err != nil {
			return nil, err
		}

		return result, nil
	}

	opt := transactionOptions[0]

	var where []string
	namedParams := make(map[string]interface{})

	addFilter := func(stmt, key string, value interface{}) {
		where = append(where, stmt)
		namedParams[key] = value
	}
	addRange := func(column, key string, v options.Range) {
		if from, ok := v.From(); ok {
			addFilter(fmt.Sprintf("%s >= :%s_from", column, key), key+"_from", from)
		}
		if to, ok := v.To(); ok {
			addFilter(fmt.Sprintf("%s <= :%s_to", column, key), key+"_to", to)
		}
	}

	if len(opt.IDs) > 0 {
		addFilter("transactionid IN (:ids)", "ids", opt.IDs)
	}
	if len(opt.Accounts) > 0 {
		addFilter("(fromaccount IN (:accounts) OR toaccount IN (:accounts))", "accounts", opt.Accounts)
	}
	if len(opt.FromAccounts) > 0 {
		addFilter("fromaccount IN (:from_accounts)", "from_accounts", opt.FromAccounts)
	}
	if len(opt.ToAccounts) > 0 {
		addFilter("toaccount IN (:to_accounts)", "to_accounts", opt.ToAccounts)
	}
	if len(opt.Statuses) > 0 {
		addFilter("transactionstatus IN (:statuses)", "statuses", opt.Statuses)
	}
	if opt.Amount != nil {
		addRange("amount", "amount", opt.Amount)
	}
	if opt.Timestamp != nil {
		addRange("(transactiondate + transactiontime)", "created_at", opt.Timestamp)
	}

	if len(where) > 0 {
		query = fmt.Sprintf("%s WHERE %s", query, strings.Join(where, " AND "))
	}

	order := "ASC"
	if opt.Descending {
		order = "DESC"
	}
	query = fmt.Sprintf("%s ORDER BY transactionid %s", query, order)
	if opt.Limit > 0 {
		query = fmt.Sprintf("%s LIMIT %d", query, opt.Limit)
	}

	query, args, err := sqlx.Named(query, namedParams)
	if err != nil {
		return nil, err
	}
	query, args, err = sqlx.In(query, args...)
	if err != nil {
		return nil, err
	}
	query = r.db.Rebind(query)
	err = r.db.SelectContext(ctx, &result, query, args...)
	if err != nil {
		return nil, err
	}

	return result, nil
}
