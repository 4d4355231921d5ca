package cli

import (
	"context"
	"flag"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/gatehouse/pkg/migrations"
)

func newMigrateCommand(e *env) *Command {
	cmd := &Command{
		Name:        "migrate",
		Description: "Apply pending database migrations",
		Flags:       flag.NewFlagSet("migrate", flag.ContinueOnError),
	}
	dbFlag := cmd.Flags.String("db", "", "PostgreSQL connection URL")
	status := cmd.Flags.Bool("status", false, "List migrations and whether they are applied, without applying")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		url, err := e.dbURL(*dbFlag)
		if err != nil {
			return err
		}
		db, err := e.openDB(ctx, url)
		if err != nil {
			return err
		}
		defer db.Close()

		if *status {
			applied, err := migrations.Applied(ctx, db)
			if err != nil {
				return err
			}
			for _, m := range migrations.All() {
				state := "pending"
				if applied[m.Version] {
					state = "applied"
				}
				fmt.Fprintf(e.out, "%04d %-40s %s\n", m.Version, m.Description, state)
			}
			return nil
		}

		log := logrus.New()
		log.SetOutput(e.out)
		n, err := migrations.Apply(ctx, db, log)
		if err != nil {
			return err
		}
		fmt.Fprintf(e.out, "Applied %d migration(s)\n", n)
		return nil
	}
	return cmd
}
