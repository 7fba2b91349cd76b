package postgres

import (
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// ErrSeedConflict is returned by Seed when a demo account number is already
// held by a different owner or account type
var ErrSeedConflict = errors.New("seed account number already taken")

// SeedAccount is a demo account loaded by Seed
type SeedAccount struct {
	No      int64  `db:"accountno"`
	UserID  int64  `db:"user_id"`
	Type    string `db:"accounttype"`
	Balance string `db:"balance"`
}

// SeedAccounts belong to the demo users user1..user3@example.com
var SeedAccounts = []SeedAccount{
	{No: 1000001, UserID: 1, Type: "SAVINGS", Balance: "10000.00"},
	{No: 1000002, UserID: 2, Type: "CHECKING", Balance: "5000.00"},
	{No: 1000003, UserID: 3, Type: "SAVINGS", Balance: "15000.00"},
}

// Seed inserts the demo accounts and moves the account number sequence past
// them. Rows already seeded are left untouched; a seed number held by anyone
// else fails with ErrSeedConflict.
func Seed(db *sqlx.DB) error {
	for _, a := range SeedAccounts {
		_, err := db.NamedExec(
			`INSERT INTO bankaccount (accountno, user_id, accounttype, balance)
			VALUES (:accountno, :user_id, :accounttype, :balance)
			ON CONFLICT (accountno) DO NOTHING`,
			a,
		)
		if err != nil {
			return fmt.Errorf("seeding account %d: %w", a.No, err)
		}

		var got SeedAccount
		err = db.Get(&got, `SELECT accountno, user_id, accounttype FROM bankaccount WHERE accountno = $1`, a.No)
		if err != nil {
			return fmt.Errorf("checking seeded account %d: %w", a.No, err)
		}
		if got.UserID != a.UserID || got.Type != a.Type {
			return fmt.Errorf("%w: account %d belongs to user %d (%s)", ErrSeedConflict, a.No, got.UserID, got.Type)
		}
	}

	_, err := db.Exec(fmt.Sprintf(
		`SELECT setval('bankaccount_accountno_seq', GREATEST((SELECT MAX(accountno) FROM bankaccount), %d))`,
		firstAccountNo-1,
	))
	if err != nil {
		return fmt.Errorf("advancing account sequence: %w", err)
	}
	return nil
}
