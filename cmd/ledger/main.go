package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bankledger/config"
	"bankledger/internal/auth"
	"bankledger/internal/idempotency"
	ledgerlog "bankledger/internal/log"
	"bankledger/internal/notify"
	"bankledger/transaction/postgres"
	"bankledger/transfer"
)

func main() {
	// a missing .env is fine, the environment may already be set
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cli := &cli{ctx: ctx, logger: log.New(os.Stderr, "[ledger] ", log.LstdFlags)}

	cmd := &cobra.Command{
		Use:               "ledger",
		Short:             "ledger: transfers between bank accounts with an append-only ledger",
		SilenceUsage:      true,
		PersistentPreRunE: cli.setupConfig,
	}

	if err := setupFlags(cmd); err != nil {
		log.Fatal(err)
	}
	cmd.AddCommand(
		cli.migrateCmd(),
		cli.seedCmd(),
		cli.transferCmd(),
		cli.accountCmd(),
		cli.historyCmd(),
		cli.beneficiaryCmd(),
		cli.journalCmd(),
		cli.stressCmd(),
	)

	err := cmd.Execute()
	// the journal must be closed even when a command fails
	cli.close()
	if err != nil {
		os.Exit(1)
	}
}

type cli struct {
	ctx    context.Context
	cfg    cfg
	logger *log.Logger

	db         *sqlx.DB
	journal    *notify.Journal
	authorizer *auth.Authorizer
	redis      *redis.Client
}

type cfg struct {
	Postgres      *postgres.Config
	JournalDir    string
	ACLModelFile  string
	ACLPolicyFile string
	Role          string
	RedisAddr     string
	MaxRetries    int
}

// Reads the config fields from flags, LEDGER_ environment variables or a file
func (c *cli) setupConfig(cmd *cobra.Command, args []string) error {
	configFile, err := cmd.Flags().GetString("config-file")
	if err != nil {
		return err
	}

	viper.SetEnvPrefix("LEDGER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err = viper.ReadInConfig(); err != nil {
			// allow non-existent config file
			if !errors.As(err, &viper.ConfigFileNotFoundError{}) && !os.IsNotExist(err) {
				return err
			}
		}
	}

	// postgres settings not given here fall back to POSTGRES_ variables
	var pgArgs []string
	for _, name := range []string{"driver", "host", "port", "user", "password", "db_name", "ssl_mode", "max_open_conns"} {
		key := "postgres-" + strings.ReplaceAll(name, "_", "-")
		if viper.IsSet(key) {
			pgArgs = append(pgArgs, fmt.Sprintf("-%s=%s", name, viper.GetString(key)))
		}
	}
	if c.cfg.Postgres, err = postgres.Parse(pgArgs); err != nil {
		return err
	}

	c.cfg.JournalDir = viper.GetString("journal-dir")
	c.cfg.ACLModelFile = viper.GetString("acl-model-file")
	c.cfg.ACLPolicyFile = viper.GetString("acl-policy-file")
	c.cfg.Role = viper.GetString("role")
	c.cfg.RedisAddr = viper.GetString("redis-addr")
	c.cfg.MaxRetries = viper.GetInt("max-retries")

	return nil
}

func setupFlags(cmd *cobra.Command) error {
	fs := cmd.PersistentFlags()

	fs.String("config-file", "", "Path to config file")

	fs.String("postgres-driver", postgres.DriverPQ, "database/sql driver: postgres or pgx")
	fs.String("postgres-host", "localhost", "Postgres host")
	fs.Int("postgres-port", 5432, "Postgres port")
	fs.String("postgres-user", "", "Postgres user")
	fs.String("postgres-password", "", "Postgres password")
	fs.String("postgres-db-name", "", "Postgres database")
	fs.String("postgres-ssl-mode", "disable", "libpq sslmode")
	fs.Int("postgres-max-open-conns", 0, "Max open Postgres connections")

	fs.String("journal-dir", config.JournalDir, "Directory of the transaction journal")
	fs.String("acl-model-file", config.ACLModelFile, "Path to ACL model")
	fs.String("acl-policy-file", config.ACLPolicyFile, "Path to ACL policy")
	fs.String("role", auth.RoleCustomer, "Role the command runs as")
	fs.String("redis-addr", "", "Redis address for idempotency keys")
	fs.Int("max-retries", transfer.DefaultMaxRetries, "Retries of a transfer that conflicts with another")

	return viper.BindPFlags(fs)
}

func (c *cli) database() (*sqlx.DB, error) {
	if c.db != nil {
		return c.db, nil
	}
	db, err := postgres.Connect(c.cfg.Postgres)
	if err != nil {
		return nil, err
	}
	c.db = db
	return db, nil
}

func (c *cli) openJournal() (*notify.Journal, error) {
	if c.journal != nil {
		return c.journal, nil
	}
	j, err := notify.NewJournal(c.cfg.JournalDir, ledgerlog.Config{})
	if err != nil {
		return nil, err
	}
	c.journal = j
	return j, nil
}

// authorize checks the configured role against the ACL. Without ACL files
// every command is allowed.
func (c *cli) authorize(object, action string) error {
	if c.authorizer == nil {
		if !exists(c.cfg.ACLModelFile) || !exists(c.cfg.ACLPolicyFile) {
			return nil
		}
		a, err := auth.New(c.cfg.ACLModelFile, c.cfg.ACLPolicyFile)
		if err != nil {
			return err
		}
		c.authorizer = a
	}
	return c.authorizer.Authorize(c.cfg.Role, object, action)
}

func (c *cli) engine() (*transfer.Engine, error) {
	db, err := c.database()
	if err != nil {
		return nil, err
	}
	j, err := c.openJournal()
	if err != nil {
		return nil, err
	}

	var guard idempotency.Guard
	if c.cfg.RedisAddr != "" {
		c.redis = redis.NewClient(&redis.Options{Addr: c.cfg.RedisAddr})
		guard = idempotency.NewRedis(c.redis)
	}

	return transfer.NewEngine(transfer.Config{
		Store:      transfer.NewPostgresStore(db),
		Notifier:   j,
		Guard:      guard,
		Logger:     log.New(os.Stderr, "[transfer] ", log.LstdFlags),
		MaxRetries: c.cfg.MaxRetries,
	})
}

func (c *cli) close() {
	if c.journal != nil {
		if err := c.journal.Close(); err != nil {
			c.logger.Printf("closing journal: %v", err)
		}
	}
	if c.redis != nil {
		_ = c.redis.Close()
	}
	if c.db != nil {
		_ = c.db.Close()
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
