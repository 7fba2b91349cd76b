// Package beneficiary stores the payees a customer saved for later transfers.
package beneficiary

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"bankledger/account"
)

var (
	ErrNotFound    = errors.New("beneficiary not found")
	ErrMissingName = errors.New("beneficiary name is required")
)

type Beneficiary struct {
	ID        int64     `db:"id" json:"id"`
	UserID    int64     `db:"user_id" json:"userId"`
	AccountNo int64     `db:"accountno" json:"accountno"`
	Name      string    `db:"name" json:"name"`
	Relation  string    `db:"relation" json:"relation"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

type Repo interface {
	Add(ctx context.Context, b *Beneficiary) error
	ListByUser(ctx context.Context, userID int64) ([]*Beneficiary, error)
	Remove(ctx context.Context, userID, id int64) error
}

var _ Repo = (*PostgresRepo)(nil)

type PostgresRepo struct {
	db *sqlx.DB
}

func NewPostgresRepo(db *sqlx.DB) (*PostgresRepo, error) {
	return &PostgresRepo{db: db}, nil
}

// Add saves the payee once the target account is known to exist
func (r *PostgresRepo) Add(ctx context.Context, b *Beneficiary) error {
	b.Name = strings.TrimSpace(b.Name)
	if b.Name == "" {
		return ErrMissingName
	}

	var exists bool
	err := r.db.GetContext(ctx, &exists, "SELECT EXISTS (SELECT 1 FROM bankaccount WHERE accountno = $1)", b.AccountNo)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %d", account.ErrNotFound, b.AccountNo)
	}

	err = r.db.QueryRowxContext(ctx,
		`INSERT INTO beneficiary (user_id, accountno, name, relation)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		b.UserID, b.AccountNo, b.Name, b.Relation,
	).Scan(&b.ID, &b.CreatedAt)
	if err != nil {
		return fmt.Errorf("adding beneficiary: %w", err)
	}
	return nil
}

func (r *PostgresRepo) ListByUser(ctx context.Context, userID int64) ([]*Beneficiary, error) {
	var result []*Beneficiary
	err := r.db.SelectContext(ctx, &result,
		"SELECT id, user_id, accountno, name, relation, created_at FROM beneficiary WHERE user_id = $1 ORDER BY name, id",
		userID,
	)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Remove deletes a payee of the user; another user's payee is reported as not found
func (r *PostgresRepo) Remove(ctx context.Context, userID, id int64) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM beneficiary WHERE id = $1 AND user_id = $2", id, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return nil
}
