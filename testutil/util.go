package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"

	"bankledger/transaction/postgres"
)

// ACL fixtures matching config/model.conf and config/policy.csv
const (
	ACLModel = `[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.obj == p.obj && r.act == p.act
`
	ACLPolicy = `p, customer, account, read
p, customer, account, transfer
p, customer, beneficiary, write
p, admin, account, administer
p, admin, account, open
g, admin, customer
`
)

// LoadEnv loads the .env file at the module root, if there is one
func LoadEnv() {
	dir, err := os.Getwd()
	if err != nil {
		return
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			_ = godotenv.Load(filepath.Join(dir, ".env"))
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}

// PostgresDB connects to the database configured through POSTGRES_* variables and
// migrates it. Tests are skipped when no database is configured.
func PostgresDB(t *testing.T) *sqlx.DB {
	t.Helper()
	LoadEnv()

	if os.Getenv("POSTGRES_USER") == "" || os.Getenv("POSTGRES_DB_NAME") == "" {
		t.Skip("postgres not configured: set POSTGRES_USER and POSTGRES_DB_NAME")
	}

	config, err := postgres.Parse(nil)
	if err != nil {
		t.Fatal(err)
	}
	db, err := postgres.Connect(config)
	if err != nil {
		t.Fatal(err)
	}
	return db
}

// ResetTables empties the ledger tables, dependents first
func ResetTables(db *sqlx.DB) {
	db.MustExec("DELETE FROM beneficiary")
	db.MustExec("DELETE FROM transactions")
	db.MustExec("DELETE FROM bankaccount")
}

// WriteACL writes the ACL fixtures into a temp dir and returns their paths
func WriteACL(t *testing.T) (model, policy string) {
	t.Helper()
	dir := t.TempDir()
	model = filepath.Join(dir, "model.conf")
	policy = filepath.Join(dir, "policy.csv")
	if err := os.WriteFile(model, []byte(ACLModel), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(policy, []byte(ACLPolicy), 0600); err != nil {
		t.Fatal(err)
	}
	return model, policy
}
