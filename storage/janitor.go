package storage

import (
	"fmt"
	"time"

	"DetStreamServer/logger"

	"github.com/robfig/cron/v3"
)

// Janitor prunes old history rows on a cron schedule.
type Janitor struct {
	store     *Store
	retention time.Duration
	sched     *cron.Cron
}

// StartJanitor schedules Prune runs with a standard 5-field cron expression.
// Rows older than the retention window are dropped on every run.
func StartJanitor(store *Store, spec string, retention time.Duration) (*Janitor, error) {
	if retention <= 0 {
		return nil, fmt.Errorf("retention must be positive, got %s", retention)
	}
	j := &Janitor{store: store, retention: retention, sched: cron.New()}
	if _, err := j.sched.AddFunc(spec, j.run); err != nil {
		return nil, fmt.Errorf("invalid prune schedule %q: %w", spec, err)
	}
	j.sched.Start()
	logger.S().Infof("history janitor scheduled: %s, retention %s", spec, retention)
	return j, nil
}

func (j *Janitor) run() {
	n, err := j.store.Prune(time.Now().Add(-j.retention))
	if err != nil {
		logger.S().Errorf("history prune failed: %v", err)
		return
	}
	if n > 0 {
		logger.S().Infof("history prune removed %d rows", n)
	}
}

// Stop halts the schedule; a running prune finishes first.
func (j *Janitor) Stop() {
	ctx := j.sched.Stop()
	<-ctx.Done()
}
