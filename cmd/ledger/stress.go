package main

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"bankledger/account"
	"bankledger/internal/auth"
	"bankledger/transfer"
)

// stressResults counts the outcomes of concurrent transfers
type stressResults struct {
	Successes    int32
	Insufficient int32
	Conflicts    int32
	Duplicates   int32
	Errors       int32
	Duration     time.Duration
}

func (c *cli) stressCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Run concurrent transfers and check that the total balance is conserved",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.authorize(auth.ObjectAccount, auth.ActionTransfer); err != nil {
				return err
			}

			fs := cmd.Flags()
			from, _ := fs.GetInt64("from")
			to, _ := fs.GetInt64("to")
			rawAmount, _ := fs.GetString("amount")
			concurrency, _ := fs.GetInt("concurrency")
			reverse, _ := fs.GetBool("reverse")
			key, _ := fs.GetString("idempotency-key")

			amount, err := decimal.NewFromString(rawAmount)
			if err != nil {
				return fmt.Errorf("%w: %q", transfer.ErrInvalidAmount, rawAmount)
			}

			engine, err := c.engine()
			if err != nil {
				return err
			}
			accounts, err := c.accounts()
			if err != nil {
				return err
			}

			before, err := accounts.TotalBalance(c.ctx)
			if err != nil {
				return err
			}

			results := c.runStress(engine, transfer.Request{
				From:           from,
				To:             to,
				Amount:         amount,
				Description:    "stress",
				IdempotencyKey: key,
			}, concurrency, reverse)

			after, err := accounts.TotalBalance(c.ctx)
			if err != nil {
				return err
			}
			return c.report(cmd, results, concurrency, before, after, accounts, from, to)
		},
	}

	fs := cmd.Flags()
	fs.Int64("from", 1000001, "Account to debit")
	fs.Int64("to", 1000003, "Account to credit")
	fs.String("amount", "10.00", "Amount of every transfer")
	fs.Int("concurrency", 50, "Number of concurrent transfers")
	fs.Bool("reverse", false, "Send every other transfer in the opposite direction")
	fs.String("idempotency-key", "", "Send every transfer with this key")
	return cmd
}

func (c *cli) runStress(engine *transfer.Engine, req transfer.Request, concurrency int, reverse bool) stressResults {
	var (
		results stressResults
		wg      sync.WaitGroup
	)

	start := time.Now()
	for i := 0; i < concurrency; i++ {
		req := req
		if reverse && i%2 == 1 {
			req.From, req.To = req.To, req.From
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Transfer(c.ctx, req)
			switch {
			case err == nil:
				atomic.AddInt32(&results.Successes, 1)
			case errors.Is(err, transfer.ErrInsufficientFunds):
				atomic.AddInt32(&results.Insufficient, 1)
			case errors.Is(err, transfer.ErrConcurrentModification):
				atomic.AddInt32(&results.Conflicts, 1)
			case errors.Is(err, transfer.ErrDuplicateInFlight):
				atomic.AddInt32(&results.Duplicates, 1)
			default:
				atomic.AddInt32(&results.Errors, 1)
				c.logger.Printf("transfer %d -> %d: %v", req.From, req.To, err)
			}
		}()
	}
	wg.Wait()
	results.Duration = time.Since(start)

	return results
}

func (c *cli) report(
	cmd *cobra.Command,
	r stressResults,
	concurrency int,
	before, after decimal.Decimal,
	accounts account.Repo,
	from, to int64,
) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Transfers:      %d in %s\n", concurrency, r.Duration.Round(time.Millisecond))
	fmt.Fprintf(out, "Succeeded:      %d\n", r.Successes)
	fmt.Fprintf(out, "Insufficient:   %d\n", r.Insufficient)
	fmt.Fprintf(out, "Conflicts:      %d\n", r.Conflicts)
	fmt.Fprintf(out, "Duplicates:     %d\n", r.Duplicates)
	fmt.Fprintf(out, "Errors:         %d\n", r.Errors)

	for _, no := range []int64{from, to} {
		a, err := accounts.FindByNo(c.ctx, no)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Balance %d: %s\n", no, a.Balance.StringFixed(2))
	}
	fmt.Fprintf(out, "Total balance:  %s -> %s\n", before.StringFixed(2), after.StringFixed(2))

	if !before.Equal(after) {
		return fmt.Errorf("total balance changed from %s to %s", before.StringFixed(2), after.StringFixed(2))
	}
	if r.Errors > 0 {
		return fmt.Errorf("%d transfers failed unexpectedly", r.Errors)
	}
	return nil
}
