package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"bankledger/account"
	"bankledger/beneficiary"
	"bankledger/internal/auth"
	"bankledger/transaction"
	"bankledger/transaction/postgres"
	"bankledger/transfer"
)

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the tables if they don't exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// connecting migrates
			if _, err := c.database(); err != nil {
				return err
			}
			c.logger.Print("schema up to date")
			return nil
		},
	}
}

func (c *cli) seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Insert the demo accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.authorize(auth.ObjectAccount, auth.ActionOpen); err != nil {
				return err
			}
			db, err := c.database()
			if err != nil {
				return err
			}
			if err = postgres.Seed(db); err != nil {
				return err
			}
			c.logger.Printf("seeded %d accounts", len(postgres.SeedAccounts))
			return nil
		},
	}
}

func (c *cli) transferCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transfer",
		Short: "Move money between two accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.authorize(auth.ObjectAccount, auth.ActionTransfer); err != nil {
				return err
			}

			fs := cmd.Flags()
			from, _ := fs.GetInt64("from")
			to, _ := fs.GetInt64("to")
			rawAmount, _ := fs.GetString("amount")
			description, _ := fs.GetString("description")
			key, _ := fs.GetString("idempotency-key")

			amount, err := decimal.NewFromString(rawAmount)
			if err != nil {
				return fmt.Errorf("%w: %q", transfer.ErrInvalidAmount, rawAmount)
			}

			engine, err := c.engine()
			if err != nil {
				return err
			}
			t, err := engine.Transfer(c.ctx, transfer.Request{
				From:           from,
				To:             to,
				Amount:         amount,
				Description:    description,
				IdempotencyKey: key,
			})
			if t != nil {
				if perr := printJSON(cmd, t); perr != nil {
					return perr
				}
			}
			return err
		},
	}

	fs := cmd.Flags()
	fs.Int64("from", 0, "Account to debit")
	fs.Int64("to", 0, "Account to credit")
	fs.String("amount", "", "Amount, e.g. 500.00")
	fs.String("description", "", "Free text stored with the transaction")
	fs.String("idempotency-key", "", "Carry out requests sharing this key once")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func (c *cli) accounts() (account.Repo, error) {
	db, err := c.database()
	if err != nil {
		return nil, err
	}
	return account.NewPostgresRepo(db)
}

func (c *cli) accountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Show, open and (de)activate accounts",
	}

	show := &cobra.Command{
		Use:   "show <accountno>",
		Short: "Show an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.authorize(auth.ObjectAccount, auth.ActionRead); err != nil {
				return err
			}
			no, err := parseNo(args[0])
			if err != nil {
				return err
			}
			repo, err := c.accounts()
			if err != nil {
				return err
			}
			a, err := repo.FindByNo(c.ctx, no)
			if err != nil {
				return err
			}
			return printJSON(cmd, a)
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List the accounts of a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.authorize(auth.ObjectAccount, auth.ActionRead); err != nil {
				return err
			}
			user, _ := cmd.Flags().GetInt64("user")
			repo, err := c.accounts()
			if err != nil {
				return err
			}
			accounts, err := repo.FindByUser(c.ctx, user)
			if err != nil {
				return err
			}
			return printJSON(cmd, accounts)
		},
	}
	list.Flags().Int64("user", 0, "Owning user id")
	_ = list.MarkFlagRequired("user")

	open := &cobra.Command{
		Use:   "open",
		Short: "Open an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.authorize(auth.ObjectAccount, auth.ActionOpen); err != nil {
				return err
			}
			fs := cmd.Flags()
			user, _ := fs.GetInt64("user")
			rawType, _ := fs.GetString("type")
			rawBalance, _ := fs.GetString("balance")

			accountType, err := account.ParseType(rawType)
			if err != nil {
				return err
			}
			balance, err := decimal.NewFromString(rawBalance)
			if err != nil {
				return fmt.Errorf("invalid balance %q: %w", rawBalance, err)
			}

			repo, err := c.accounts()
			if err != nil {
				return err
			}
			a := &account.Account{UserID: user, Type: accountType, Balance: balance, Active: true}
			if err = repo.Open(c.ctx, a); err != nil {
				return err
			}
			return printJSON(cmd, a)
		},
	}
	open.Flags().Int64("user", 0, "Owning user id")
	open.Flags().String("type", string(account.Savings), "SAVINGS or CHECKING")
	open.Flags().String("balance", "0.00", "Opening balance")
	_ = open.MarkFlagRequired("user")

	cmd.AddCommand(show, list, open, c.setActiveCmd("activate", true), c.setActiveCmd("deactivate", false))
	return cmd
}

func (c *cli) setActiveCmd(use string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <accountno>",
		Short: "Mark an account " + map[bool]string{true: "active", false: "inactive"}[active],
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.authorize(auth.ObjectAccount, auth.ActionAdminister); err != nil {
				return err
			}
			no, err := parseNo(args[0])
			if err != nil {
				return err
			}
			repo, err := c.accounts()
			if err != nil {
				return err
			}
			if err = repo.SetActive(c.ctx, no, active); err != nil {
				return err
			}
			a, err := repo.FindByNo(c.ctx, no)
			if err != nil {
				return err
			}
			return printJSON(cmd, a)
		},
	}
}

func (c *cli) historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <accountno>",
		Short: "List the transactions of an account, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.authorize(auth.ObjectAccount, auth.ActionRead); err != nil {
				return err
			}
			no, err := parseNo(args[0])
			if err != nil {
				return err
			}
			db, err := c.database()
			if err != nil {
				return err
			}
			repo, err := transaction.NewPostgresRepo(db)
			if err != nil {
				return err
			}
			history, err := repo.History(c.ctx, no)
			if err != nil {
				return err
			}
			return printJSON(cmd, history)
		},
	}
}

func (c *cli) beneficiaries() (beneficiary.Repo, error) {
	db, err := c.database()
	if err != nil {
		return nil, err
	}
	return beneficiary.NewPostgresRepo(db)
}

func (c *cli) beneficiaryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "beneficiary",
		Short: "Manage saved payees",
	}
	cmd.PersistentFlags().Int64("user", 0, "Owning user id")
	_ = cmd.MarkPersistentFlagRequired("user")

	add := &cobra.Command{
		Use:   "add",
		Short: "Save a payee",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.authorize(auth.ObjectBeneficiary, auth.ActionWrite); err != nil {
				return err
			}
			fs := cmd.Flags()
			user, _ := fs.GetInt64("user")
			accountNo, _ := fs.GetInt64("account")
			name, _ := fs.GetString("name")
			relation, _ := fs.GetString("relation")

			repo, err := c.beneficiaries()
			if err != nil {
				return err
			}
			b := &beneficiary.Beneficiary{UserID: user, AccountNo: accountNo, Name: name, Relation: relation}
			if err = repo.Add(c.ctx, b); err != nil {
				return err
			}
			return printJSON(cmd, b)
		},
	}
	add.Flags().Int64("account", 0, "Payee account number")
	add.Flags().String("name", "", "Display name")
	add.Flags().String("relation", "", "Relation to the user, e.g. family")
	_ = add.MarkFlagRequired("account")

	list := &cobra.Command{
		Use:   "list",
		Short: "List saved payees",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.authorize(auth.ObjectAccount, auth.ActionRead); err != nil {
				return err
			}
			user, _ := cmd.Flags().GetInt64("user")
			repo, err := c.beneficiaries()
			if err != nil {
				return err
			}
			list, err := repo.ListByUser(c.ctx, user)
			if err != nil {
				return err
			}
			return printJSON(cmd, list)
		},
	}

	remove := &cobra.Command{
		Use:   "remove <id>",
		Short: "Forget a saved payee",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.authorize(auth.ObjectBeneficiary, auth.ActionWrite); err != nil {
				return err
			}
			user, _ := cmd.Flags().GetInt64("user")
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid beneficiary id %q", args[0])
			}
			repo, err := c.beneficiaries()
			if err != nil {
				return err
			}
			return repo.Remove(c.ctx, user, id)
		},
	}

	cmd.AddCommand(add, list, remove)
	return cmd
}

func (c *cli) journalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Read the journal of recorded transactions",
	}

	tail := &cobra.Command{
		Use:   "tail",
		Short: "Print the journal's events from an offset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.authorize(auth.ObjectAccount, auth.ActionRead); err != nil {
				return err
			}
			from, _ := cmd.Flags().GetUint64("from")
			j, err := c.openJournal()
			if err != nil {
				return err
			}
			events, next, err := j.Since(from)
			if err != nil {
				return err
			}
			for _, e := range events {
				if err = printJSON(cmd, e); err != nil {
					return err
				}
			}
			c.logger.Printf("next offset %d", next)
			return nil
		},
	}
	tail.Flags().Uint64("from", 0, "Offset of the first event")

	truncate := &cobra.Command{
		Use:   "truncate",
		Short: "Drop journal segments holding only events before an offset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.authorize(auth.ObjectAccount, auth.ActionAdminister); err != nil {
				return err
			}
			before, _ := cmd.Flags().GetUint64("before")
			j, err := c.openJournal()
			if err != nil {
				return err
			}
			if err = j.Truncate(before); err != nil {
				return err
			}
			oldest, err := j.Oldest()
			if err != nil {
				return err
			}
			c.logger.Printf("oldest kept offset %d", oldest)
			return nil
		},
	}
	truncate.Flags().Uint64("before", 0, "First offset still to be consumed")
	_ = truncate.MarkFlagRequired("before")

	cmd.AddCommand(tail, truncate)
	return cmd
}

func parseNo(s string) (int64, error) {
	no, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid account number %q", s)
	}
	return no, nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return err
}
