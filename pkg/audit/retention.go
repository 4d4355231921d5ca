package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Purger deletes audit records older than a cutoff
type Purger interface {
	Purge(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionJob periodically purges expired audit records
type RetentionJob struct {
	purger    Purger
	retention time.Duration
	clock     clockwork.Clock
	log       logrus.FieldLogger
	cron      *cron.Cron
}

// NewRetentionJob creates a job that keeps retention worth of records
func NewRetentionJob(purger Purger, retention time.Duration, clock clockwork.Clock, log logrus.FieldLogger) *RetentionJob {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &RetentionJob{
		purger:    purger,
		retention: retention,
		clock:     clock,
		log:       log,
	}
}

// RunOnce purges everything older than the retention window
func (j *RetentionJob) RunOnce(ctx context.Context) (int64, error) {
	if j.retention <= 0 {
		return 0, nil
	}
	cutoff := j.clock.Now().Add(-j.retention)
	n, err := j.purger.Purge(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	j.log.WithFields(logrus.Fields{
		"cutoff":  cutoff,
		"deleted": n,
	}).Info("purged audit records")
	return n, nil
}

// Start schedules RunOnce using a cron expression
func (j *RetentionJob) Start(schedule string) error {
	if j.cron != nil {
		return fmt.Errorf("retention job already started")
	}
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := j.RunOnce(ctx); err != nil {
			j.log.WithError(err).Error("audit retention run failed")
		}
	}); err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", schedule, err)
	}
	c.Start()
	j.cron = c
	return nil
}

// Stop halts scheduling and waits for a running purge
func (j *RetentionJob) Stop() {
	if j.cron == nil {
		return
	}
	<-j.cron.Stop().Done()
	j.cron = nil
}
