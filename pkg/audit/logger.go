package audit

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
)

// Logger persists audit records
type Logger interface {
	Log(ctx context.Context, rec *Record) error
	Close() error
}

// Searcher queries persisted audit records, newest first
type Searcher interface {
	Search(ctx context.Context, filter Filter) ([]Record, error)
}

// LogLogger writes records as structured log entries
type LogLogger struct {
	log logrus.FieldLogger
}

// NewLogLogger creates a logger that writes to log
func NewLogLogger(log logrus.FieldLogger) *LogLogger {
	if log == nil {
		log = logrus.New()
	}
	return &LogLogger{log: log}
}

// Log writes rec at info level
func (l *LogLogger) Log(_ context.Context, rec *Record) error {
	l.log.WithFields(logrus.Fields{
		"audit_id":         rec.ID,
		"actor_id":         rec.ActorID,
		"org_id":           rec.OrgID,
		"project_id":       rec.ProjectID,
		"permission":       rec.Permission,
		"resource_type":    rec.ResourceType,
		"resource_id":      rec.ResourceID,
		"allowed":          rec.Allowed,
		"reason":           rec.Reason,
		"policy_version":   rec.PolicyVersion,
		"scopes_evaluated": rec.ScopesEvaluated,
		"request_id":       rec.RequestID,
	}).Info("authorization decision")
	return nil
}

// Close is a no-op
func (l *LogLogger) Close() error {
	return nil
}

// MultiLogger fans records out to several loggers
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a fan-out logger
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

// Log writes rec to every logger, returning all failures
func (m *MultiLogger) Log(ctx context.Context, rec *Record) error {
	var errs []error
	for _, l := range m.loggers {
		if err := l.Log(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every logger
func (m *MultiLogger) Close() error {
	var errs []error
	for _, l := range m.loggers {
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
