// Package cli provides the gatehouse-admin command-line interface.
//
// # Commands
//
// migrate: Apply pending schema migrations
//
//	gatehouse-admin migrate --db postgres://localhost/gatehouse?sslmode=disable
//
// validate-catalog: Check a catalog file without touching a database
//
//	gatehouse-admin validate-catalog --file catalog.yaml
//
// seed-catalog: Register catalog permissions and roles
//
//	gatehouse-admin seed-catalog --file catalog.yaml --db $GATEHOUSE_POSTGRES_URL
//
// assign-role: Grant a role to an actor in one scope
//
//	gatehouse-admin assign-role --scope project --scope-id p-1 --org o-1 \
//		--actor u-7 --role project_manager
//	gatehouse-admin assign-role --scope platform --actor u-1 --role support \
//		--expires 2026-12-31T00:00:00Z
//
// mint-file-link: Sign a file link for support and debugging. The secret is
// read from GATEHOUSE_SIGNED_TOKEN_SECRET.
//
//	gatehouse-admin mint-file-link --project p-1 --path plans/site.pdf --ttl 10m
//
// The database URL defaults to GATEHOUSE_POSTGRES_URL.
package cli
