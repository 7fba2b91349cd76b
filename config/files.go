package config

import (
	"os"
	"path/filepath"
)

// default file locations for the CLI
var (
	// access control lists
	ACLModelFile  = configFile("model.conf")
	ACLPolicyFile = configFile("policy.csv")
	// journal of recorded transactions
	JournalDir = configFile("journal")
)

func configFile(filename string) string {
	dir := os.Getenv("CONFIG_DIR")
	if dir != "" {
		return filepath.Join(dir, filename)
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".bankledger", filename)
	}

	return filepath.Join(homeDir, ".bankledger", filename)
}
