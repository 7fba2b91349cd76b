package transaction

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var ErrNotFound = errors.New("transaction not found")

// Status is the outcome recorded for a transfer attempt
type Status string

const (
	Success Status = "SUCCESS"
	Failed  Status = "FAILED"
	Pending Status = "PENDING"
)

func (s Status) Valid() bool {
	return s == Success || s == Failed || s == Pending
}

// Transaction is one row of the ledger. SenderBal and ReceiverBal are the
// balances of both accounts after the attempt; rows are never updated.
type Transaction struct {
	ID          int64           `db:"transactionid" json:"transactionId"`
	FromAccount int64           `db:"fromaccount" json:"fromAccount"`
	ToAccount   int64           `db:"toaccount" json:"toAccount"`
	SenderBal   decimal.Decimal `db:"senderbal" json:"senderBal"`
	ReceiverBal decimal.Decimal `db:"receiverbal" json:"receiverBal"`
	Amount      decimal.Decimal `db:"amount" json:"amount"`
	Status      Status          `db:"transactionstatus" json:"transactionStatus"`
	CreatedAt   time.Time       `db:"created_at" json:"createdAt"`
	Description string          `db:"description" json:"description"`
}
