// Package supervisor is the tenth component from spec.md §2/§6: it wires
// every other component together (Store, Broker Adapter, rate limiter,
// Clock, Scheduler, Execution Engine, Watcher, OCO Manager, EOD Closer),
// runs them concurrently, and exposes the manual-intervention control
// surface (create/schedule/pause/resume/cancel a batch, cancel one item's
// brackets, force-close one item, panic-stop everything). Every command
// writes exactly one AuditLog row (spec.md §6), grounded on the teacher's
// OrderController methods each logging one audit trail entry per call and
// on original_source's manual override endpoints (`pause_job`,
// `resume_job`, `cancel_job`, `panic_stop`) in logic.py.
package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"strategyexecutor/src/apperr"
	"strategyexecutor/src/archive"
	"strategyexecutor/src/broker"
	"strategyexecutor/src/bus"
	"strategyexecutor/src/clock"
	"strategyexecutor/src/eod"
	"strategyexecutor/src/execution"
	"strategyexecutor/src/metrics"
	"strategyexecutor/src/model"
	"strategyexecutor/src/oco"
	"strategyexecutor/src/ratelimit"
	"strategyexecutor/src/scheduler"
	"strategyexecutor/src/security"
	"strategyexecutor/src/server"
	"strategyexecutor/src/store"
	"strategyexecutor/src/watcher"
)

// Supervisor owns every long-running component and the Store. It is the
// only thing cmd/ constructs directly.
type Supervisor struct {
	store     *store.Store
	broker    *broker.Client
	clock     clock.Clock
	bus       *bus.Bus
	scheduler *scheduler.Scheduler
	execution *execution.Engine
	watcher   *watcher.Watcher
	oco       *oco.Manager
	eod       *eod.Closer
	archive   *archive.Exporter
	serverCfg server.Config
	cfg       Config
	metrics   *metrics.Registry
	log       *logger.Entry
}

// New resolves the active BrokerAccount, decrypts its password with box,
// and wires every component against one Store/Client pair — the same
// "resolve account, build one client, hand it to every consumer" shape as
// original_source's `_get_active_api_account` → single shared client.
func New(
	s *store.Store,
	account *model.BrokerAccount,
	box *security.Box,
	brokerCfg broker.Config,
	limitsCfg ratelimit.Config,
	schedulerCfg scheduler.Config,
	executionCfg execution.Config,
	watcherCfg watcher.Config,
	ocoCfg oco.Config,
	eodCfg eod.Config,
	busCfg bus.Config,
	archiveCfg archive.Config,
	serverCfg server.Config,
	cfg Config,
	reg *metrics.Registry,
	log *logger.Entry,
) (*Supervisor, error) {
	password, err := box.Decrypt(account.PasswordEncNonce, account.PasswordEnc)
	if err != nil {
		return nil, fmt.Errorf("decrypting broker account %q password: %w", account.Name, err)
	}
	brokerCfg.BaseURL = account.BaseURL

	limits := ratelimit.New(limitsCfg)
	b := broker.New(brokerCfg, password, limits, log.WithField("component", "broker"))
	c := clock.Real{}

	evtBus, err := bus.New(busCfg, log.WithField("component", "bus"))
	if err != nil {
		return nil, fmt.Errorf("wiring event bus: %w", err)
	}

	exec := execution.New(s, b, executionCfg, log.WithField("component", "execution"))
	watch := watcher.New(s, b, c, watcherCfg, log.WithField("component", "watcher"))
	ocoMgr := oco.New(s, b, ocoCfg, log.WithField("component", "oco"))
	eodCloser := eod.New(s, b, c, eodCfg, log.WithField("component", "eod"))

	watch.SetBus(evtBus)
	ocoMgr.SetBus(evtBus)

	if reg != nil {
		limits.SetMetrics(reg)
		b.SetMetrics(reg)
		exec.SetMetrics(reg)
		watch.SetMetrics(reg)
		ocoMgr.SetMetrics(reg)
		eodCloser.SetMetrics(reg)
	}

	return &Supervisor{
		store:     s,
		broker:    b,
		clock:     c,
		bus:       evtBus,
		scheduler: scheduler.New(s, c, schedulerCfg, log.WithField("component", "scheduler")),
		execution: exec,
		watcher:   watch,
		oco:       ocoMgr,
		eod:       eodCloser,
		archive:   archive.New(s, archiveCfg, log.WithField("component", "archive")),
		serverCfg: serverCfg,
		cfg:       cfg,
		metrics:   reg,
		log:       log,
	}, nil
}

// Close releases resources Run does not own the lifetime of, namely the
// event bus's optional Redis connection.
func (sv *Supervisor) Close() error {
	if sv.bus == nil {
		return nil
	}
	return sv.bus.Close()
}

// Run starts every long-running component concurrently and blocks until
// ctx is cancelled or one of them returns an error, at which point it
// cancels the rest and waits for them to stop (spec.md §5: "one process
// owns every loop").
func (sv *Supervisor) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sv.scheduler.Run(gctx) })
	g.Go(func() error { return sv.execution.Run(gctx) })
	g.Go(func() error { return sv.watcher.Run(gctx) })
	g.Go(func() error { return sv.oco.Run(gctx) })
	g.Go(func() error { return sv.eod.Run(gctx) })
	g.Go(func() error { return sv.archive.Run(gctx) })
	g.Go(func() error { return server.Run(gctx, sv.serverCfg.Port, sv.log.WithField("component", "http")) })
	if sv.metrics != nil {
		g.Go(func() error { return sv.runMetricsRefresh(gctx) })
	}

	sv.log.Info("supervisor started")

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		sv.log.Info("supervisor stopped")
		return err
	case <-ctx.Done():
		select {
		case err := <-done:
			sv.log.Info("supervisor stopped")
			return err
		case <-time.After(sv.cfg.ShutdownTimeout):
			sv.log.Warn("supervisor shutdown timed out waiting for component loops")
			return fmt.Errorf("supervisor shutdown exceeded %s", sv.cfg.ShutdownTimeout)
		}
	}
}

// runMetricsRefresh periodically samples executor_batches_active and
// executor_items_by_status — the two gauges that have no single write
// site of their own (unlike the counters, which increment inline where
// the event happens) because they describe standing state, not an event.
func (sv *Supervisor) runMetricsRefresh(ctx context.Context) error {
	ticker := time.NewTicker(sv.cfg.MetricsRefreshInterval)
	defer ticker.Stop()

	sv.refreshMetrics()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			sv.refreshMetrics()
		}
	}
}

func (sv *Supervisor) refreshMetrics() {
	active, err := sv.store.CountActiveBatchJobs()
	if err != nil {
		sv.log.WithError(err).Warn("counting active batch jobs for metrics")
	} else {
		sv.metrics.BatchesActive.Set(float64(active))
	}

	for _, status := range model.AllItemStatuses {
		n, err := sv.store.CountItemsByStatus(status)
		if err != nil {
			sv.log.WithError(err).WithField("status", status).Warn("counting items by status for metrics")
			continue
		}
		sv.metrics.ItemsByStatus.WithLabelValues(string(status)).Set(float64(n))
	}
}

// audit appends one AuditLog row and logs the outcome, the single choke
// point every command below routes through so none can forget it
// (spec.md §6: "every manual command is audited").
func (sv *Supervisor) audit(actor, command string, batchJobID *uint, reason string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "rejected"
	}
	entry := &model.AuditLog{Actor: actor, Command: command, BatchJobID: batchJobID, Reason: reason, Outcome: outcome}
	if logErr := sv.store.LogAudit(entry); logErr != nil {
		sv.log.WithError(logErr).Error("writing audit log")
	}
	log := sv.log.WithFields(logger.Fields{"actor": actor, "command": command, "outcome": outcome})
	if err != nil {
		log.WithError(err).Warn("supervisor command rejected")
	} else {
		log.Info("supervisor command applied")
	}
}

// CreateBatch validates and persists a new batch plan in SCHEDULED state.
// Each item is assigned a ClientRef up front so the Execution Engine's
// restart-idempotency check has something to key on from the very first
// submit attempt (spec.md §5).
func (sv *Supervisor) CreateBatch(actor string, job *model.BatchJob, items []*model.BatchItem) error {
	for _, item := range items {
		if item.ClientRef == "" {
			item.ClientRef = uuid.NewString()
		}
		item.Status = model.ItemReady
	}
	job.Status = model.BatchJobScheduled
	err := sv.store.CreateBatch(job, items)
	sv.audit(actor, "create_batch", &job.ID, "", err)
	return err
}

// ScheduleBatch sets a SCHEDULED batch's fire time to at, switching an
// immediate-mode batch to scheduled mode — an operator correction before
// the Scheduler has picked it up.
func (sv *Supervisor) ScheduleBatch(actor string, batchJobID uint, at time.Time) error {
	job, err := sv.getRunnable(batchJobID)
	if err != nil {
		sv.audit(actor, "schedule_batch", &batchJobID, "", err)
		return err
	}
	if job.Status != model.BatchJobScheduled {
		err = apperr.New(apperr.KindValidation, fmt.Sprintf("batch %d is %s, not SCHEDULED", batchJobID, job.Status))
		sv.audit(actor, "schedule_batch", &batchJobID, "", err)
		return err
	}
	err = sv.store.DB().Model(&model.BatchJob{}).Where("id = ?", batchJobID).
		Updates(map[string]interface{}{"schedule_mode": model.ScheduleModeScheduled, "scheduled_at": at}).Error
	sv.audit(actor, "schedule_batch", &batchJobID, at.Format(time.RFC3339), err)
	return err
}

// PauseBatch stops the Execution Engine and OCO Manager from acting on a
// batch's items without cancelling anything already in flight — both only
// pick up items of RUNNING batches. The Watcher keeps recording fills on
// the batch's open orders, and the EOD Closer still flattens it.
func (sv *Supervisor) PauseBatch(actor string, batchJobID uint, reason string) error {
	return sv.transitionBatch(actor, "pause_batch", batchJobID, model.BatchJobPaused, reason)
}

// ResumeBatch moves a PAUSED batch back to RUNNING.
func (sv *Supervisor) ResumeBatch(actor string, batchJobID uint, reason string) error {
	return sv.transitionBatch(actor, "resume_batch", batchJobID, model.BatchJobRunning, reason)
}

// CancelBatch moves a batch to CANCELLED. It does not itself cancel
// in-flight broker orders or open brackets — an operator follows up with
// CancelItemBrackets/ForceCloseItem per item. PanicStopAll walks RUNNING
// batches only, so it does not reach a CANCELLED batch.
func (sv *Supervisor) CancelBatch(actor string, batchJobID uint, reason string) error {
	return sv.transitionBatch(actor, "cancel_batch", batchJobID, model.BatchJobCancelled, reason)
}

func (sv *Supervisor) transitionBatch(actor, command string, batchJobID uint, to model.BatchJobStatus, reason string) error {
	job, err := sv.getRunnable(batchJobID)
	if err != nil {
		sv.audit(actor, command, &batchJobID, reason, err)
		return err
	}
	ok, err := sv.store.TransitionBatchJobStatus(*job, to)
	if err == nil && !ok {
		err = apperr.New(apperr.KindInternalInvariant, fmt.Sprintf("batch %d transition to %s lost the race", batchJobID, to))
	}
	sv.audit(actor, command, &batchJobID, reason, err)
	return err
}

func (sv *Supervisor) getRunnable(batchJobID uint) (*model.BatchJob, error) {
	job, err := sv.store.GetBatchJob(batchJobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, apperr.New(apperr.KindValidation, fmt.Sprintf("batch %d not found", batchJobID))
	}
	return job, nil
}

// CancelItemBrackets cancels every live OCO bracket on one item without
// touching its entry or forcing a flatten — an operator wants the item to
// stop being bracket-managed but not necessarily closed yet.
func (sv *Supervisor) CancelItemBrackets(ctx context.Context, actor string, itemID uint, reason string) error {
	item, err := sv.getItem(itemID)
	if err != nil {
		sv.audit(actor, "cancel_item_brackets", nil, reason, err)
		return err
	}
	sv.eod.CancelBrackets(ctx, *item)
	sv.audit(actor, "cancel_item_brackets", &item.BatchJobID, reason, nil)
	return nil
}

// ForceCloseItem runs the EOD Closer's cancel-brackets-then-flatten
// sequence on demand, outside of the scheduled EOD tick — the manual
// equivalent of spec.md §4.6 for one item.
func (sv *Supervisor) ForceCloseItem(ctx context.Context, actor string, itemID uint, reason string) error {
	item, err := sv.getItem(itemID)
	if err != nil {
		sv.audit(actor, "force_close_item", nil, reason, err)
		return err
	}
	sv.eod.ForceClose(ctx, *item)
	sv.audit(actor, "force_close_item", &item.BatchJobID, reason, nil)
	return nil
}

func (sv *Supervisor) getItem(itemID uint) (*model.BatchItem, error) {
	item, err := sv.store.GetBatchItem(itemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, apperr.New(apperr.KindValidation, fmt.Sprintf("item %d not found", itemID))
	}
	return item, nil
}

// PanicStopAll is the emergency stop from spec.md §6: cancel every
// bracket and force-flatten every open item across every RUNNING batch,
// then cancel the batches themselves. Grounded on original_source's
// `panic_stop` endpoint, which walks every open job exactly this way.
func (sv *Supervisor) PanicStopAll(ctx context.Context, actor, reason string) error {
	jobs, err := sv.store.ListRunningBatchJobs()
	if err != nil {
		sv.audit(actor, "panic_stop_all", nil, reason, err)
		return err
	}
	for _, job := range jobs {
		full, err := sv.store.GetBatchJob(job.ID)
		if err != nil || full == nil {
			continue
		}
		for _, item := range full.Items {
			if item.Status.IsTerminal() {
				continue
			}
			sv.eod.ForceClose(ctx, item)
		}
		if ok, err := sv.store.TransitionBatchJobStatus(*full, model.BatchJobCancelled); err != nil || !ok {
			sv.log.WithField("batch_job_id", full.ID).Warn("panic-stop could not cancel batch job, it may have finished concurrently")
		}
	}
	sv.audit(actor, "panic_stop_all", nil, reason, nil)
	return nil
}
