package cli

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/rbac"
)

type assignment struct {
	scope   rbac.ScopeKind
	scopeID string
	orgID   string
	actorID string
	roleKey string
	expires *time.Time
}

func newAssignRoleCommand(e *env) *Command {
	cmd := &Command{
		Name:        "assign-role",
		Description: "Grant a role to an actor in a project, org or the platform",
		Flags:       flag.NewFlagSet("assign-role", flag.ContinueOnError),
	}
	scope := cmd.Flags.String("scope", "", "Scope kind: project, org or platform")
	scopeID := cmd.Flags.String("scope-id", "", "Project or org id")
	org := cmd.Flags.String("org", "", "Owning org id (project scope only)")
	actor := cmd.Flags.String("actor", "", "Actor id")
	role := cmd.Flags.String("role", "", "Role key")
	expires := cmd.Flags.String("expires", "", "RFC 3339 expiry (platform scope only)")
	dbFlag := cmd.Flags.String("db", "", "PostgreSQL connection URL")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		a, err := parseAssignment(*scope, *scopeID, *org, *actor, *role, *expires)
		if err != nil {
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

		return assignRole(ctx, e, rbac.NewPostgresStore(db), a)
	}
	return cmd
}

func parseAssignment(scope, scopeID, org, actor, role, expires string) (assignment, error) {
	a := assignment{
		scope:   rbac.ScopeKind(scope),
		scopeID: scopeID,
		orgID:   org,
		actorID: actor,
		roleKey: role,
	}
	if actor == "" || role == "" {
		return a, fmt.Errorf("--actor and --role are required")
	}

	switch a.scope {
	case rbac.ScopeProject:
		if scopeID == "" || org == "" {
			return a, fmt.Errorf("project scope requires --scope-id and --org")
		}
	case rbac.ScopeOrg:
		if scopeID == "" {
			return a, fmt.Errorf("org scope requires --scope-id")
		}
	case rbac.ScopePlatform:
		if scopeID != "" {
			return a, fmt.Errorf("platform scope takes no --scope-id")
		}
	default:
		return a, fmt.Errorf("invalid scope %q (must be project, org or platform)", scope)
	}

	if expires != "" {
		if a.scope != rbac.ScopePlatform {
			return a, fmt.Errorf("--expires applies to platform scope only")
		}
		t, err := time.Parse(time.RFC3339, expires)
		if err != nil {
			return a, fmt.Errorf("invalid --expires: %w", err)
		}
		a.expires = &t
	}
	return a, nil
}

func assignRole(ctx context.Context, e *env, admin rbac.MembershipAdmin, a assignment) error {
	var err error
	switch a.scope {
	case rbac.ScopeProject:
		err = admin.AssignProjectRole(ctx, a.scopeID, a.orgID, a.actorID, a.roleKey)
	case rbac.ScopeOrg:
		err = admin.AssignOrgRole(ctx, a.scopeID, a.actorID, a.roleKey)
	case rbac.ScopePlatform:
		err = admin.AssignPlatformRole(ctx, a.actorID, a.roleKey, a.expires)
	}
	if err != nil {
		return err
	}

	target := string(a.scope)
	if a.scopeID != "" {
		target += " " + a.scopeID
	}
	fmt.Fprintf(e.out, "Assigned %s to %s on %s\n", a.roleKey, a.actorID, target)
	return nil
}
