package postgres

import (
	"flag"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/peterbourgon/ff"

	// database/sql drivers: "postgres" (lib/pq) and "pgx"
	_ "github.com/jackc/pgx/v4/stdlib"
	_ "github.com/lib/pq"
)

const (
	DriverPQ  = "postgres"
	DriverPGX = "pgx"
)

type Config struct {
	Driver       string
	Host         string
	Port         int
	User         string
	Password     string
	DatabaseName string
	SSLMode      string
	// max open connections, 0 leaves database/sql's default
	MaxOpenConns int
}

// DSN is a key/value connection string understood by both drivers. The session
// time zone is pinned to UTC on every pooled connection.
func (c *Config) DSN() string {
	parts := []string{
		fmt.Sprintf("host=%s", c.Host),
		fmt.Sprintf("port=%d", c.Port),
		fmt.Sprintf("user=%s", c.User),
		fmt.Sprintf("dbname=%s", c.DatabaseName),
		fmt.Sprintf("sslmode=%s", c.SSLMode),
		"timezone=UTC",
	}
	if c.Password != "" {
		parts = append(parts, fmt.Sprintf("password=%s", c.Password))
	}
	return strings.Join(parts, " ")
}

// Connect opens a pool of connections and brings the schema up to date
func Connect(config *Config) (*sqlx.DB, error) {
	driver := config.Driver
	if driver == "" {
		driver = DriverPQ
	}
	if driver != DriverPQ && driver != DriverPGX {
		return nil, fmt.Errorf("unsupported postgres driver %q", driver)
	}

	db, err := sqlx.Connect(driver, config.DSN())
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}

	if err = Migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// Parse the flags in args, falling back to environment variables.
// Flags get priority over the environment.
//
// Example .env file
//
//	POSTGRES_DRIVER=postgres
//	POSTGRES_HOST=localhost
//	POSTGRES_PORT=5432
//	POSTGRES_USER=alice
//	POSTGRES_PASSWORD=secret
//	POSTGRES_DB_NAME=bank_dev
func Parse(args []string) (*Config, error) {
	fs := flag.NewFlagSet("postgres", flag.ContinueOnError)
	var (
		driver   = fs.String("driver", DriverPQ, "database/sql driver: postgres or pgx")
		host     = fs.String("host", "localhost", "host to connect to")
		port     = fs.Int("port", 5432, "port to bind to")
		user     = fs.String("user", "", "user to sign in as")
		password = fs.String("password", "", "password of the user")
		dbName   = fs.String("db_name", "", "name of the database")
		sslMode  = fs.String("ssl_mode", "disable", "libpq sslmode")
		maxConns = fs.Int("max_open_conns", 0, "max open connections")
	)

	err := ff.Parse(fs, args,
		ff.WithIgnoreUndefined(true),
		ff.WithEnvVarPrefix("POSTGRES"),
	)
	if err != nil {
		return nil, err
	}

	return &Config{
		Driver:       *driver,
		Host:         *host,
		Port:         *port,
		User:         *user,
		Password:     *password,
		DatabaseName: *dbName,
		SSLMode:      *sslMode,
		MaxOpenConns: *maxConns,
	}, nil
}
