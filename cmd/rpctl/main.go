// Command rpctl manages API credentials in the local SQLite ledger named by
// credential_ledger_dsn. It never talks to the syncserver's primary
// database; syncserver verifies join requests against the api_credentials
// table of database_dsn, so it accepts credentials created here only when
// both settings name the same database.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/Ap3pp3rs94/docsync/internal/config"
	"github.com/Ap3pp3rs94/docsync/internal/credentials"
	"github.com/Ap3pp3rs94/docsync/internal/db"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "generate":
		generate(os.Args[2:])
	case "list":
		list(os.Args[2:])
	case "revoke":
		revoke(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Println("rpctl generate --name <label> [--config docsync.yaml]")
	fmt.Println("rpctl list [--config docsync.yaml]")
	fmt.Println("rpctl revoke --api-key <key> [--config docsync.yaml]")
}

func generate(args []string) {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	name := fs.String("name", "", "label identifying who or what this credential is for")
	configPath := fs.String("config", "", "path to a docsync.yaml config file")
	_ = fs.Parse(args)

	if strings.TrimSpace(*name) == "" {
		fmt.Fprintln(os.Stderr, "generate: --name is required")
		os.Exit(2)
	}

	store := openLedger(*configPath)
	cred, err := store.Create(context.Background(), *name)
	if err != nil {
		fmt.Fprintln(os.Stderr, "generate:", err)
		os.Exit(1)
	}

	fmt.Println("credential created — the secret is shown once and never stored in plaintext elsewhere:")
	fmt.Println("  api_key:", cred.ApiKey)
	fmt.Println("  secret: ", cred.Secret)
}

func list(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	configPath := fs.String("config", "", "path to a docsync.yaml config file")
	_ = fs.Parse(args)

	store := openLedger(*configPath)
	creds, err := store.List(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, "list:", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tAPI_KEY\tACTIVE\tLAST_USED\tCREATED")
	for _, c := range creds {
		lastUsed := "never"
		if c.LastUsedAt != nil {
			lastUsed = c.LastUsedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\n", c.Name, c.ApiKey, c.IsActive, lastUsed, c.CreatedAt.Format(time.RFC3339))
	}
	_ = w.Flush()
}

func revoke(args []string) {
	fs := flag.NewFlagSet("revoke", flag.ExitOnError)
	apiKey := fs.String("api-key", "", "api key to revoke")
	configPath := fs.String("config", "", "path to a docsync.yaml config file")
	_ = fs.Parse(args)

	if strings.TrimSpace(*apiKey) == "" {
		fmt.Fprintln(os.Stderr, "revoke: --api-key is required")
		os.Exit(2)
	}

	store := openLedger(*configPath)
	if err := store.Revoke(context.Background(), *apiKey); err != nil {
		fmt.Fprintln(os.Stderr, "revoke:", err)
		os.Exit(1)
	}
	fmt.Println("revoked", *apiKey)
}

func openLedger(configPath string) *credentials.Store {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	sqlDB, driver, err := db.Open(cfg.CredentialLedgerDSN)
	if err != nil {
		fmt.Fprintln(os.Stderr, "db:", err)
		os.Exit(1)
	}

	if err := db.EnsureCredentialLedgerSchema(sqlDB); err != nil {
		fmt.Fprintln(os.Stderr, "db:", err)
		os.Exit(1)
	}

	return credentials.New(sqlDB, driver)
}
