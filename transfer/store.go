package transfer

import (
	"context"

	"github.com/shopspring/decimal"

	"bankledger/account"
	"bankledger/transaction"
)

// Store runs transfers as atomic units. Either every write made through the Tx
// becomes visible or none does.
type Store interface {
	// WithTx runs fn in a new unit and commits it when fn returns nil.
	// Conflicts with concurrent units are reported as ErrConcurrentModification.
	WithTx(ctx context.Context, fn func(Tx) error) error
}

type Tx interface {
	// LockAccount reads the account and holds it until the unit ends.
	// Unknown accounts return ErrAccountNotFound.
	LockAccount(ctx context.Context, no int64) (*account.Account, error)
	// UpdateBalance sets the balance of an account locked in this unit
	UpdateBalance(ctx context.Context, no int64, balance decimal.Decimal) error
	// RecordTransaction appends t to the ledger, setting its ID and CreatedAt
	// once they are known
	RecordTransaction(ctx context.Context, t *transaction.Transaction) error
}
