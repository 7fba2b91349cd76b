package account

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound        = errors.New("account not found")
	ErrNegativeBalance = errors.New("account balance can't be negative")
	ErrInvalidType     = errors.New("invalid account type")
)

// Type is the kind of account a customer holds
type Type string

const (
	Savings  Type = "SAVINGS"
	Checking Type = "CHECKING"
)

// ParseType accepts any casing, e.g. "savings" or "Checking"
func ParseType(s string) (Type, error) {
	t := Type(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidType, s)
	}
	return t, nil
}

func (t Type) Valid() bool {
	return t == Savings || t == Checking
}

// Account is a row of the bankaccount table. Balance only changes through a
// transfer and accounts are deactivated rather than deleted.
type Account struct {
	No        int64           `db:"accountno" json:"accountno"`
	UserID    int64           `db:"user_id" json:"userId"`
	Type      Type            `db:"accounttype" json:"accountType"`
	Balance   decimal.Decimal `db:"balance" json:"balance"`
	Active    bool            `db:"isactive" json:"isactive"`
	CreatedAt time.Time       `db:"created_at" json:"createdAt"`
}

// Validate checks an account about to be opened
func (a *Account) Validate() error {
	if !a.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidType, a.Type)
	}
	if a.Balance.IsNegative() {
		return ErrNegativeBalance
	}
	return nil
}
