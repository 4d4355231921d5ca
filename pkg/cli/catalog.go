package cli

import (
	"context"
	"flag"
	"fmt"

	"github.com/platinummonkey/gatehouse/pkg/catalog"
	"github.com/platinummonkey/gatehouse/pkg/rbac"
)

type permissionEnsurer interface {
	Ensure(ctx context.Context, perms []catalog.Permission) error
}

type roleSeeder interface {
	SeedRoles(ctx context.Context, roles []catalog.RoleSpec) error
}

func newValidateCatalogCommand(e *env) *Command {
	cmd := &Command{
		Name:        "validate-catalog",
		Description: "Check a permission catalog file",
		Flags:       flag.NewFlagSet("validate-catalog", flag.ContinueOnError),
	}
	file := cmd.Flags.String("file", "", "Catalog YAML file")

	cmd.Run = func(_ context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *file == "" {
			return fmt.Errorf("--file is required")
		}
		f, err := catalog.LoadFile(*file)
		if err != nil {
			return err
		}
		fmt.Fprintf(e.out, "%s: %d permission(s), %d role(s)\n", *file, len(f.AllPermissions()), len(f.Roles))
		return nil
	}
	return cmd
}

func newSeedCatalogCommand(e *env) *Command {
	cmd := &Command{
		Name:        "seed-catalog",
		Description: "Register catalog permissions and roles in the database",
		Flags:       flag.NewFlagSet("seed-catalog", flag.ContinueOnError),
	}
	file := cmd.Flags.String("file", "", "Catalog YAML file; built-in permissions are always registered")
	dbFlag := cmd.Flags.String("db", "", "PostgreSQL connection URL")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		var f *catalog.File
		if *file != "" {
			var err error
			if f, err = catalog.LoadFile(*file); err != nil {
				return err
			}
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

		return seedCatalog(ctx, e, f, catalog.NewSQLRegistry(db), rbac.NewPostgresStore(db))
	}
	return cmd
}

// seedCatalog registers permissions before roles so role grants resolve
func seedCatalog(ctx context.Context, e *env, f *catalog.File, perms permissionEnsurer, roles roleSeeder) error {
	all := f.AllPermissions()
	if err := perms.Ensure(ctx, all); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "Registered %d permission(s)\n", len(all))

	if f == nil || len(f.Roles) == 0 {
		return nil
	}
	if err := roles.SeedRoles(ctx, f.Roles); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "Seeded %d role(s)\n", len(f.Roles))
	return nil
}
