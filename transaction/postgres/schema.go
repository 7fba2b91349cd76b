package postgres

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

// account numbers handed out by the sequence start after the seeded ones
const firstAccountNo = 1000001

var migrations = []string{
	fmt.Sprintf(`CREATE SEQUENCE IF NOT EXISTS bankaccount_accountno_seq START %d`, firstAccountNo),

	`CREATE TABLE IF NOT EXISTS bankaccount (
	accountno   BIGINT PRIMARY KEY DEFAULT nextval('bankaccount_accountno_seq'),
	user_id     BIGINT NOT NULL,
	accounttype VARCHAR(16) NOT NULL CHECK (accounttype IN ('SAVINGS', 'CHECKING')),
	datecreated DATE NOT NULL DEFAULT CURRENT_DATE,
	timecreated TIME NOT NULL DEFAULT LOCALTIME,
	balance     NUMERIC(15, 2) NOT NULL DEFAULT 0 CHECK (balance >= 0),
	isactive    BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bankaccount_user_id ON bankaccount(user_id)`,

	`CREATE TABLE IF NOT EXISTS transactions (
	transactionid     BIGSERIAL PRIMARY KEY,
	fromaccount       BIGINT NOT NULL REFERENCES bankaccount(accountno),
	toaccount         BIGINT NOT NULL REFERENCES bankaccount(accountno),
	senderbal         NUMERIC(15, 2) NOT NULL,
	receiverbal       NUMERIC(15, 2) NOT NULL,
	amount            NUMERIC(15, 2) NOT NULL CHECK (amount > 0),
	transactionstatus VARCHAR(16) NOT NULL CHECK (transactionstatus IN ('SUCCESS', 'FAILED', 'PENDING')),
	transactiondate   DATE NOT NULL DEFAULT CURRENT_DATE,
	transactiontime   TIME NOT NULL DEFAULT LOCALTIME,
	description       TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_fromaccount ON transactions(fromaccount)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_toaccount ON transactions(toaccount)`,

	`CREATE TABLE IF NOT EXISTS beneficiary (
	id         BIGSERIAL PRIMARY KEY,
	user_id    BIGINT NOT NULL,
	accountno  BIGINT NOT NULL REFERENCES bankaccount(accountno),
	name       VARCHAR(100) NOT NULL,
	relation   VARCHAR(50) NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL DEFAULT (now() AT TIME ZONE 'UTC')
	)`,
	`CREATE INDEX IF NOT EXISTS idx_beneficiary_user_id ON beneficiary(user_id)`,
}

// Migrate creates the tables if they don't exist yet
func Migrate(db *sqlx.DB) error {
	for i, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}
