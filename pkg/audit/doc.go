// Package audit persists authorization decisions.
//
// Callers never see audit failures: the Recorder wraps any Logger, swallows
// and counts write errors, and optionally performs writes off the request
// path.
//
//	dbLogger, _ := audit.NewDBLogger(db)
//	recorder := audit.NewRecorder(dbLogger, audit.WithAsync(2*time.Second))
//	engine := rbac.NewEngine(cat, store, rbac.WithAuditSink(recorder))
//	defer recorder.Close()
package audit
