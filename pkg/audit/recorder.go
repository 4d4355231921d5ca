package audit

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/rbac"
)

// Recorder adapts a Logger into an rbac.AuditSink. Write failures are logged
// and counted, never returned.
type Recorder struct {
	logger  Logger
	log     logrus.FieldLogger
	metrics *observability.Metrics

	async   bool
	timeout time.Duration

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// RecorderOption configures a Recorder
type RecorderOption func(*Recorder)

// WithAsync moves writes off the caller's goroutine. Each write gets its own
// timeout and outlives cancellation of the request context.
func WithAsync(timeout time.Duration) RecorderOption {
	return func(r *Recorder) {
		r.async = true
		r.timeout = timeout
	}
}

// WithRecorderLogger sets where write failures are reported
func WithRecorderLogger(log logrus.FieldLogger) RecorderOption {
	return func(r *Recorder) { r.log = log }
}

// WithRecorderMetrics counts write failures
func WithRecorderMetrics(m *observability.Metrics) RecorderOption {
	return func(r *Recorder) { r.metrics = m }
}

// NewRecorder wraps logger
func NewRecorder(logger Logger, opts ...RecorderOption) *Recorder {
	r := &Recorder{logger: logger, timeout: 5 * time.Second}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logrus.StandardLogger()
	}
	return r
}

var _ rbac.AuditSink = (*Recorder)(nil)

// RecordDecision implements rbac.AuditSink
func (r *Recorder) RecordDecision(ctx context.Context, d rbac.Decision, req rbac.Request) {
	r.Record(ctx, FromDecision(d, req))
}

// Record writes rec, synchronously or in the background
func (r *Recorder) Record(ctx context.Context, rec *Record) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.log.WithField("audit_id", rec.ID).Warn("audit recorder closed, dropping record")
		r.metrics.IncAuditWriteFailure()
		return
	}
	if !r.async {
		r.mu.Unlock()
		r.write(ctx, rec)
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	bg := context.WithoutCancel(ctx)
	go func() {
		defer r.wg.Done()
		wctx, cancel := context.WithTimeout(bg, r.timeout)
		defer cancel()
		r.write(wctx, rec)
	}()
}

func (r *Recorder) write(ctx context.Context, rec *Record) {
	defer func() {
		if p := recover(); p != nil {
			r.log.WithField("panic", p).Error("audit logger panicked")
			r.metrics.IncAuditWriteFailure()
		}
	}()
	if err := r.logger.Log(ctx, rec); err != nil {
		observability.WithTraceContext(ctx, r.log).WithError(err).WithFields(logrus.Fields{
			"audit_id":   rec.ID,
			"actor_id":   rec.ActorID,
			"permission": rec.Permission,
			"reason":     rec.Reason,
		}).Error("failed to write audit record")
		r.metrics.IncAuditWriteFailure()
	}
}

// Close waits for pending writes and closes the underlying logger
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	r.wg.Wait()
	return r.logger.Close()
}
