// Package scheduler implements the Scheduler component from spec.md §4.1:
// on each tick it finds SCHEDULED batches whose fire time has arrived and
// conditionally swaps them to RUNNING, so exactly one process instance wins
// the swap on any given tick even if several instances tick concurrently.
// Grounded on original_source's AppWorkerMixin._scheduler_step, generalized
// from its single sqlite transaction into the Store's conditional-update
// calls, and on the teacher's executors.StartLoop ticker/select idiom for
// the run loop itself.
package scheduler

import (
	"context"
	"time"

	logger "github.com/sirupsen/logrus"

	"strategyexecutor/src/clock"
	"strategyexecutor/src/model"
	"strategyexecutor/src/store"
)

type Scheduler struct {
	store *store.Store
	clock clock.Clock
	cfg   Config
	log   *logger.Entry
}

func New(s *store.Store, c clock.Clock, cfg Config, log *logger.Entry) *Scheduler {
	return &Scheduler{store: s, clock: c, cfg: cfg, log: log}
}

// Tick runs one scheduler pass: every due SCHEDULED batch either fires
// (wins the RUNNING swap) or, if it is past its grace window, is marked
// ERROR without ever starting (spec.md §4.1's missed-fire policy).
func (sch *Scheduler) Tick(now time.Time) {
	run := model.SchedulerRun{RanAt: now}

	due, err := sch.store.ListScheduledDue(now)
	if err != nil {
		sch.log.WithError(err).Error("listing due batches")
		run.Errored = 1
		run.Outcome = err.Error()
		_ = sch.store.RecordSchedulerRun(&run)
		return
	}

	for _, job := range due {
		if job.ScheduleMode == model.ScheduleModeScheduled && job.ScheduledAt != nil &&
			now.Sub(*job.ScheduledAt) > sch.cfg.GraceWindow {
			if err := sch.store.MarkBatchJobMissedFire(job.ID, "missed scheduled fire window"); err != nil {
				sch.log.WithError(err).WithField("batch_job_id", job.ID).Error("marking missed fire")
				run.Errored++
			} else {
				sch.log.WithField("batch_job_id", job.ID).Warn("batch missed its fire window, marked ERROR")
				run.Errored++
			}
			continue
		}

		ok, err := sch.store.TransitionBatchJobToRunning(job.ID, now)
		if err != nil {
			sch.log.WithError(err).WithField("batch_job_id", job.ID).Error("transitioning batch to RUNNING")
			run.Errored++
			continue
		}
		if ok {
			run.Triggered++
			sch.log.WithField("batch_job_id", job.ID).WithField("mode", job.ScheduleMode).Info("batch triggered")
		}
	}

	run.Outcome = "ok"
	if err := sch.store.RecordSchedulerRun(&run); err != nil {
		sch.log.WithError(err).Error("recording scheduler run")
	}
}

// Run ticks on cfg.TickPeriod until ctx is cancelled, mirroring the
// teacher's executors.StartLoop ticker/select shape.
func (sch *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(sch.cfg.TickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sch.log.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			sch.Tick(sch.clock.Now())
		}
	}
}
