// Package rbac decides whether an internal actor holds a permission.
//
// A decision walks a fixed pipeline: context validation, the permission
// catalog, the superadmin allow-list, then scope resolvers in priority order
// (project, org, platform). Permissions found in each evaluated scope are
// unioned; the wildcard "*" satisfies any catalogued permission. Every
// decision carries a reason code and the scopes that were consulted.
//
//	engine := rbac.NewEngine(cat, store, rbac.WithSuperadmins(allow), rbac.WithAuditSink(recorder))
//	decision, err := engine.Authorize(ctx, rbac.Request{
//		Permission: "project.budget.view",
//		ActorID:    actorID,
//		ProjectID:  projectID,
//	})
//
// Enforcement points use RequireAuthorization, or Guard for HTTP routes.
package rbac
