// Package catalog is the registry of valid permission keys.
//
// Authorization requests naming a permission that is not in the catalog are
// denied before any membership lookup. Lookups are cached per key for a short
// TTL; the cache is an injected object so tests control its clock and can
// purge it between cases.
//
//	cat := catalog.New(catalog.NewSQLRegistry(db), catalog.NewMemoryCache(clockwork.NewRealClock(), 0, catalog.DefaultTTL))
//	if !cat.Exists(ctx, "project.budget.view") { ... }
package catalog
