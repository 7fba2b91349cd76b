// Package transfer moves money between accounts. Every attempt that reaches
// the accounts is recorded as exactly one ledger row, and the balances of both
// accounts change together or not at all.
package transfer

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"bankledger/internal/idempotency"
	"bankledger/internal/notify"
	"bankledger/transaction"
)

const (
	DefaultMaxRetries     = 3
	DefaultRetryBackoff   = 50 * time.Millisecond
	DefaultAttemptTimeout = 10 * time.Second

	// added to MaxDuration for the idempotency claim to cover the guard's own round trips
	claimSlack = 5 * time.Second
)

type Request struct {
	From        int64
	To          int64
	Amount      decimal.Decimal
	Description string
	// optional; requests sharing a key are carried out once
	IdempotencyKey string
}

func (r Request) validate() error {
	if !r.Amount.IsPositive() || !r.Amount.Equal(r.Amount.Round(2)) {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, r.Amount)
	}
	if r.From == r.To {
		return fmt.Errorf("%w: %d", ErrSameAccount, r.From)
	}
	return nil
}

// fingerprint identifies what was asked for, so a reused idempotency key can
// be told apart from a replay
func (r Request) fingerprint() string {
	return fmt.Sprintf("%d>%d:%s", r.From, r.To, r.Amount.StringFixed(2))
}

type Config struct {
	Store Store
	// told about every recorded row; defaults to notify.Discard
	Notifier notify.Notifier
	// optional
	Guard  idempotency.Guard
	Logger *log.Logger
	// attempts after the first when the store reports a conflict
	MaxRetries int
	// the n-th retry waits n times RetryBackoff
	RetryBackoff time.Duration
	// bounds a single attempt; running out counts as a conflict
	AttemptTimeout time.Duration
}

type Engine struct {
	Config
}

func NewEngine(config Config) (*Engine, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("transfer engine needs a store")
	}
	if config.Notifier == nil {
		config.Notifier = notify.Discard
	}
	if config.Logger == nil {
		config.Logger = log.New(io.Discard, "", 0)
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = DefaultMaxRetries
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.RetryBackoff == 0 {
		config.RetryBackoff = DefaultRetryBackoff
	}
	if config.AttemptTimeout == 0 {
		config.AttemptTimeout = DefaultAttemptTimeout
	}
	return &Engine{Config: config}, nil
}

// MaxDuration is the longest a transfer can run: every attempt timing out,
// plus the waits between them
func (e *Engine) MaxDuration() time.Duration {
	d := time.Duration(e.MaxRetries+1) * e.AttemptTimeout
	for n := 1; n <= e.MaxRetries; n++ {
		d += time.Duration(n) * e.RetryBackoff
	}
	return d
}

// Do transfers amount without an idempotency key
func (e *Engine) Do(ctx context.Context, from, to int64, amount decimal.Decimal, description string) (*transaction.Transaction, error) {
	return e.Transfer(ctx, Request{
		From:        from,
		To:          to,
		Amount:      amount,
		Description: description,
	})
}

// Transfer moves req.Amount from req.From to req.To.
//
// A rejection by a business rule (inactive account, insufficient funds) still
// records a failed row; the row is returned together with the error. Invalid
// requests and unknown accounts record nothing.
func (e *Engine) Transfer(ctx context.Context, req Request) (*transaction.Transaction, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	if req.IdempotencyKey == "" || e.Guard == nil {
		t, err := e.transfer(ctx, req)
		e.notify(ctx, t)
		return t, err
	}

	// the claim outlives every attempt, so a duplicate can't start while this one runs
	claim, o, err := e.Guard.Begin(ctx, req.IdempotencyKey, e.MaxDuration()+claimSlack)
	if err != nil {
		return nil, fmt.Errorf("idempotency key %q: %w", req.IdempotencyKey, err)
	}
	if o != nil {
		if o.Request != "" && o.Request != req.fingerprint() {
			return nil, fmt.Errorf("%w: %q", ErrIdempotencyKeyReused, req.IdempotencyKey)
		}
		e.Logger.Printf("replaying outcome of idempotency key %q", req.IdempotencyKey)
		return o.Transaction, errorFromCode(o.Code)
	}

	t, err := e.transfer(ctx, req)

	// the claim must be settled even when ctx is done
	settleCtx := context.WithoutCancel(ctx)
	if t != nil {
		o := idempotency.Outcome{Transaction: t, Code: Code(err), Request: req.fingerprint()}
		if gerr := e.Guard.Finish(settleCtx, claim, o); gerr != nil {
			e.Logger.Printf("storing outcome of idempotency key %q: %v", req.IdempotencyKey, gerr)
		}
	} else if gerr := e.Guard.Abort(settleCtx, claim); gerr != nil {
		e.Logger.Printf("releasing idempotency key %q: %v", req.IdempotencyKey, gerr)
	}
	e.notify(ctx, t)
	return t, err
}

// transfer attempts req until it commits, fails for good or runs out of retries
func (e *Engine) transfer(ctx context.Context, req Request) (*transaction.Transaction, error) {
	for attempt := 0; ; attempt++ {
		t, err := e.attempt(ctx, req)
		if !IsRetriable(err) {
			return t, err
		}
		if attempt == e.MaxRetries {
			return nil, fmt.Errorf("transfer %d -> %d failed after %d attempts: %w", req.From, req.To, attempt+1, err)
		}

		wait := e.RetryBackoff * time.Duration(attempt+1)
		e.Logger.Printf("transfer %d -> %d conflicted, retrying in %s: %v", req.From, req.To, wait, err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

// attempt runs one unit within AttemptTimeout. The row is returned whenever
// the unit committed.
func (e *Engine) attempt(parent context.Context, req Request) (*transaction.Transaction, error) {
	ctx, cancel := context.WithTimeout(parent, e.AttemptTimeout)
	defer cancel()

	var (
		row      *transaction.Transaction
		rejected error
	)

	err := e.Store.WithTx(ctx, func(tx Tx) error {
		rejected = nil

		// a fixed lock order keeps a transfer and its reverse from deadlocking
		first, second := req.From, req.To
		if second < first {
			first, second = second, first
		}
		a, err := tx.LockAccount(ctx, first)
		if err != nil {
			return err
		}
		b, err := tx.LockAccount(ctx, second)
		if err != nil {
			return err
		}
		from, to := a, b
		if from.No != req.From {
			from, to = b, a
		}

		row = &transaction.Transaction{
			FromAccount: from.No,
			ToAccount:   to.No,
			SenderBal:   from.Balance,
			ReceiverBal: to.Balance,
			Amount:      req.Amount,
			Status:      transaction.Failed,
			Description: req.Description,
		}

		switch {
		case !from.Active:
			rejected = fmt.Errorf("%w: %d", ErrAccountInactive, from.No)
		case !to.Active:
			rejected = fmt.Errorf("%w: %d", ErrAccountInactive, to.No)
		case from.Balance.LessThan(req.Amount):
			rejected = fmt.Errorf("%w: account %d holds %s, transfer needs %s",
				ErrInsufficientFunds, from.No, from.Balance.StringFixed(2), req.Amount.StringFixed(2))
		default:
			row.SenderBal = from.Balance.Sub(req.Amount)
			row.ReceiverBal = to.Balance.Add(req.Amount)
			row.Status = transaction.Success

			if err = tx.UpdateBalance(ctx, from.No, row.SenderBal); err != nil {
				return err
			}
			if err = tx.UpdateBalance(ctx, to.No, row.ReceiverBal); err != nil {
				return err
			}
		}

		return tx.RecordTransaction(ctx, row)
	})
	if err != nil {
		// drivers report a canceled statement in their own words
		if ctx.Err() != nil && parent.Err() == nil {
			err = fmt.Errorf("%w: attempt timed out after %s", ErrConcurrentModification, e.AttemptTimeout)
		}
		return nil, err
	}

	if rejected != nil {
		e.Logger.Printf("transfer %d -> %d of %s rejected: %v", req.From, req.To, req.Amount.StringFixed(2), rejected)
	}
	return row, rejected
}

func (e *Engine) notify(ctx context.Context, t *transaction.Transaction) {
	if t == nil {
		return
	}
	if err := e.Notifier.Notify(context.WithoutCancel(ctx), t); err != nil {
		e.Logger.Printf("notifying transaction %d: %v", t.ID, err)
	}
}
