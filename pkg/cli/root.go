package cli

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/platinummonkey/gatehouse/pkg/storage"
)

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(ctx context.Context, args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet
}

// env carries the process dependencies commands use
type env struct {
	out    io.Writer
	openDB func(ctx context.Context, url string) (*sql.DB, error)
	getenv func(string) string
}

func defaultEnv(out io.Writer) *env {
	return &env{
		out: out,
		openDB: func(ctx context.Context, url string) (*sql.DB, error) {
			return storage.OpenPostgres(ctx, storage.PostgresConfig{URL: url, MaxOpenConns: 2})
		},
		getenv: os.Getenv,
	}
}

// NewRootCommand creates the root command writing to out
func NewRootCommand(out io.Writer) *Command {
	return newRootCommand(defaultEnv(out))
}

func newRootCommand(e *env) *Command {
	root := &Command{
		Name:        "gatehouse-admin",
		Description: "Gatehouse - access control administration",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("gatehouse-admin", flag.ContinueOnError),
	}
	root.Flags.SetOutput(e.out)

	for _, cmd := range []*Command{
		newMigrateCommand(e),
		newValidateCatalogCommand(e),
		newSeedCatalogCommand(e),
		newAssignRoleCommand(e),
		newMintFileLinkCommand(e),
	} {
		cmd.Flags.SetOutput(e.out)
		root.Subcommands[cmd.Name] = cmd
	}
	return root
}

// Execute runs the subcommand named by args[0]
func (c *Command) Execute(ctx context.Context, args []string) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" {
		return c.usage()
	}
	if subcmd, ok := c.Subcommands[args[0]]; ok {
		return subcmd.Run(ctx, args[1:])
	}
	return fmt.Errorf("unknown command: %s", args[0])
}

func (c *Command) usage() error {
	out := c.Flags.Output()
	fmt.Fprintf(out, "Usage: %s <command> [args]\n\n", c.Name)
	fmt.Fprintf(out, "Commands:\n")
	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "  %-18s %s\n", name, c.Subcommands[name].Description)
	}
	return nil
}

// dbURL returns the --db flag value or GATEHOUSE_POSTGRES_URL
func (e *env) dbURL(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if url := e.getenv("GATEHOUSE_POSTGRES_URL"); url != "" {
		return url, nil
	}
	return "", fmt.Errorf("--db or GATEHOUSE_POSTGRES_URL is required")
}
