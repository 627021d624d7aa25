package store

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"strategyexecutor/src/apperr"
	"strategyexecutor/src/model"
)

// CreateBatch persists a BatchJob and its BatchItems in one transaction,
// grounded on the teacher's OrderRepository.CreateWithAutoLog pattern
// (db.Transaction wrapping a parent create plus dependent rows).
func (s *Store) CreateBatch(job *model.BatchJob, items []*model.BatchItem) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(job).Error; err != nil {
			return fmt.Errorf("creating batch job: %w", err)
		}
		for _, item := range items {
			item.BatchJobID = job.ID
			if err := tx.Create(item).Error; err != nil {
				return fmt.Errorf("creating batch item: %w", err)
			}
		}
		return nil
	})
}

// GetBatchJob returns nil, nil on not-found, matching the teacher's
// OrderRepository.FindByID convention.
func (s *Store) GetBatchJob(id uint) (*model.BatchJob, error) {
	var job model.BatchJob
	err := s.db.Preload("Items").First(&job, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *Store) GetBatchJobByCode(code string) (*model.BatchJob, error) {
	var job model.BatchJob
	err := s.db.Preload("Items").First(&job, "batch_code = ?", code).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ListRunningBatchJobs returns every RUNNING batch, polled once per
// Execution Engine tick (spec.md §4.2) to find batches with pending entry
// submissions.
func (s *Store) ListRunningBatchJobs() ([]model.BatchJob, error) {
	var jobs []model.BatchJob
	err := s.db.Where("status = ?", model.BatchJobRunning).Order("id asc").Find(&jobs).Error
	return jobs, err
}

// CountActiveBatchJobs returns the number of batches currently RUNNING or
// PAUSED, the gauge Supervisor.Run samples periodically for
// executor_batches_active.
func (s *Store) CountActiveBatchJobs() (int64, error) {
	var n int64
	err := s.db.Model(&model.BatchJob{}).
		Where("status IN ?", []model.BatchJobStatus{model.BatchJobRunning, model.BatchJobPaused}).
		Count(&n).Error
	return n, err
}

// CountItemsByStatus returns the current BatchItem count for one status,
// one call per status so Supervisor.Run can populate
// executor_items_by_status without a GROUP BY this package otherwise
// never needs.
func (s *Store) CountItemsByStatus(status model.ItemStatus) (int64, error) {
	var n int64
	err := s.db.Model(&model.BatchItem{}).Where("status = ?", status).Count(&n).Error
	return n, err
}

// ListScheduledDue returns SCHEDULED batches whose scheduled_at has
// passed, plus batches in immediate mode, ordered by id (spec.md §4.1).
func (s *Store) ListScheduledDue(now time.Time) ([]model.BatchJob, error) {
	var jobs []model.BatchJob
	err := s.db.Where("status = ?", model.BatchJobScheduled).
		Where("(schedule_mode = ? AND scheduled_at <= ?) OR schedule_mode = ?",
			model.ScheduleModeScheduled, now, model.ScheduleModeImmediate).
		Order("id asc").
		Find(&jobs).Error
	return jobs, err
}

// TransitionBatchJobToRunning is the Scheduler's conditional swap: keyed
// on (id, status='SCHEDULED'), losers observe zero rows changed and skip
// (spec.md §4.1).
func (s *Store) TransitionBatchJobToRunning(id uint, now time.Time) (bool, error) {
	res := s.db.Model(&model.BatchJob{}).
		Where("id = ? AND status = ?", id, model.BatchJobScheduled).
		Updates(map[string]interface{}{
			"status":     model.BatchJobRunning,
			"started_at": now,
			"version":    gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// MarkBatchJobMissedFire transitions a batch past its grace window
// straight to ERROR without firing (spec.md §4.1 missed-fire policy).
func (s *Store) MarkBatchJobMissedFire(id uint, reason string) error {
	res := s.db.Model(&model.BatchJob{}).
		Where("id = ? AND status = ?", id, model.BatchJobScheduled).
		Updates(map[string]interface{}{
			"status":     model.BatchJobError,
			"last_error": reason,
			"version":    gorm.Expr("version + 1"),
		})
	return res.Error
}

// FinalizeIfTerminal sets DONE when every item is CLOSED, or ERROR when
// any item is ERROR, grounded on original_source's _finalize_jobs_step.
func (s *Store) FinalizeIfTerminal(batchJobID uint) error {
	job, err := s.GetBatchJob(batchJobID)
	if err != nil || job == nil {
		return err
	}
	if job.Status != model.BatchJobRunning && job.Status != model.BatchJobPaused {
		return nil
	}
	if len(job.Items) == 0 {
		return nil
	}
	// Matches original_source's _finalize_jobs_step exactly: ERROR fires as
	// soon as any item has errored, even while others are still open — an
	// errored item is treated as needing operator attention immediately,
	// not as something to wait out alongside the rest of the batch.
	closed, errored := 0, 0
	for _, it := range job.Items {
		switch it.Status {
		case model.ItemClosed:
			closed++
		case model.ItemError:
			errored++
		}
	}
	now := time.Now()
	switch {
	case closed == len(job.Items):
		return s.db.Model(&model.BatchJob{}).Where("id = ?", job.ID).Updates(map[string]interface{}{
			"status":      model.BatchJobDone,
			"finished_at": now,
			"version":     gorm.Expr("version + 1"),
		}).Error
	case errored > 0:
		return s.db.Model(&model.BatchJob{}).Where("id = ?", job.ID).Updates(map[string]interface{}{
			"status":      model.BatchJobError,
			"finished_at": now,
			"version":     gorm.Expr("version + 1"),
		}).Error
	}
	return nil
}

// RecordSchedulerRun persists one Scheduler tick outcome.
func (s *Store) RecordSchedulerRun(run *model.SchedulerRun) error {
	return s.db.Create(run).Error
}

// ListReadyItems returns a batch's READY items in ascending id order
// (spec.md §4.2 "stable order").
func (s *Store) ListReadyItems(batchJobID uint) ([]model.BatchItem, error) {
	var items []model.BatchItem
	err := s.db.Where("batch_job_id = ? AND status = ?", batchJobID, model.ItemReady).
		Order("id asc").Find(&items).Error
	return items, err
}

// ListItemsByStatus returns all items across batches in the given status,
// used by the Watcher and EOD Closer to find work without being handed a
// batch id.
func (s *Store) ListItemsByStatus(statuses ...model.ItemStatus) ([]model.BatchItem, error) {
	var items []model.BatchItem
	err := s.db.Where("status IN ?", statuses).Order("id asc").Find(&items).Error
	return items, err
}

func (s *Store) GetBatchItem(id uint) (*model.BatchItem, error) {
	var item model.BatchItem
	err := s.db.First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// TransitionItem performs the Store's single conditional-update path for
// item state changes (spec.md §5: "conditional update on
// (id, status=expected, version=v); losers re-read"). It rejects the
// transition outright (without touching the row) if the sum type says
// it's illegal, so a programming error surfaces as apperr.InternalInvariant
// rather than corrupting the state machine.
func (s *Store) TransitionItem(item model.BatchItem, to model.ItemStatus, fields map[string]interface{}) (bool, error) {
	if !model.ValidateTransition(item.Status, to) {
		return false, apperr.New(apperr.KindInternalInvariant,
			fmt.Sprintf("illegal item transition %s -> %s", item.Status, to))
	}
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields["status"] = to
	fields["version"] = gorm.Expr("version + 1")

	res := s.db.Model(&model.BatchItem{}).
		Where("id = ? AND status = ? AND version = ?", item.ID, item.Status, item.Version).
		Updates(fields)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListItemsAwaitingHoldID returns margin items that have a filled entry
// but no position handle yet, candidates for the Watcher's position-handle
// assignment step (spec.md §4.4, grounded on original_source's
// _sync_orders_step candidate query).
func (s *Store) ListItemsAwaitingHoldID(symbol string, side model.Side) ([]model.BatchItem, error) {
	var items []model.BatchItem
	err := s.db.Joins("JOIN batch_jobs ON batch_jobs.id = batch_items.batch_job_id").
		Where("batch_items.product = ? AND batch_items.symbol = ? AND batch_items.side = ?", model.ProductMargin, symbol, side).
		Where("batch_items.status IN ?", []model.ItemStatus{model.ItemEntryFilled, model.ItemBracketSent, model.ItemEntryPartial}).
		Where("(batch_items.position_hold_id IS NULL OR batch_items.position_hold_id = '')").
		Where("batch_jobs.status = ?", model.BatchJobRunning).
		Order("batch_items.id asc").
		Find(&items).Error
	return items, err
}

// SetItemPositionHoldID assigns the broker's position handle once a unique
// match is found; this does not change item status so it bypasses
// TransitionItem's state-machine guard.
func (s *Store) SetItemPositionHoldID(itemID uint, holdID string) error {
	return s.db.Model(&model.BatchItem{}).Where("id = ?", itemID).Updates(map[string]interface{}{
		"position_hold_id": holdID,
		"last_error":       "",
	}).Error
}

// ListItemsAwaitingOco returns RUNNING items whose filled quantity is not
// yet fully covered by an OCO group, across every status a fill can land
// in (including ENTRY_PARTIAL and BRACKET_SENT, once the previous group
// already covers an earlier slice) — candidates for the OCO Manager's
// per-delta bracket-submission pass (spec.md §4.5 step 1, grounded on
// original_source's _oco_step eligibility query, generalized from a single
// fully-filled check to the running Σqty-of-every-group-ever-opened
// comparison per_partial mode needs). A group keeps covering its slice
// permanently once opened, closed or not, so coverage sums every group the
// item has ever had, not just the active ones.
func (s *Store) ListItemsAwaitingOco() ([]model.BatchItem, error) {
	var items []model.BatchItem
	err := s.db.Joins("JOIN batch_jobs ON batch_jobs.id = batch_items.batch_job_id").
		Where("batch_items.status IN ?", []model.ItemStatus{
			model.ItemEntryPartial, model.ItemEntryFilled, model.ItemEntryFilledWaitPx, model.ItemBracketSent,
		}).
		Where("batch_jobs.status = ?", model.BatchJobRunning).
		Where("batch_items.filled_qty > (SELECT COALESCE(SUM(oco_groups.qty), 0) FROM oco_groups WHERE oco_groups.batch_item_id = batch_items.id)").
		Order("batch_items.id asc").
		Find(&items).Error
	return items, err
}

// ListBracketSentItems returns every item still waiting on its OCO
// group(s) to fully settle for RUNNING batches: BRACKET_SENT covers items
// whose brackets haven't had a leg fill yet (and, under oco.mode=
// per_partial, items with some groups already closed but others still
// live); TP_FILLED/SL_FILLED covers the single-bracket item that has
// already recorded which leg filled (spec.md §4.3) and is only waiting on
// the cancelled sibling's terminal confirmation before reaching CLOSED.
func (s *Store) ListBracketSentItems() ([]model.BatchItem, error) {
	var items []model.BatchItem
	err := s.db.Joins("JOIN batch_jobs ON batch_jobs.id = batch_items.batch_job_id").
		Where("batch_items.status IN ?", []model.ItemStatus{
			model.ItemBracketSent, model.ItemTPFilled, model.ItemSLFilled,
		}).
		Where("batch_jobs.status = ?", model.BatchJobRunning).
		Order("batch_items.id asc").
		Find(&items).Error
	return items, err
}

// ListItemsForEodClose returns items whose batch has eod_force_close set
// and whose batch-level close time has arrived (compared as "HH:MM"
// wall-clock strings, so nowHHMM must already be in the same timezone the
// batch's EodCloseTime was entered in), still open (spec.md §4.6 step 1,
// grounded on original_source's _eod_step eligibility query, extended
// from the original's single global "14:30" to a per-batch time). The
// trigger fires for a batch that's RUNNING or PAUSED — matching the same
// RUNNING-or-PAUSED eligibility this package already applies elsewhere
// (FinalizeIfTerminal, RejectPlanMutation): a paused batch still holds
// open positions that need flattening at the close bell.
func (s *Store) ListItemsForEodClose(nowHHMM string) ([]model.BatchItem, error) {
	var items []model.BatchItem
	err := s.db.Joins("JOIN batch_jobs ON batch_jobs.id = batch_items.batch_job_id").
		Where("batch_jobs.status IN ? AND batch_jobs.eod_force_close = ?",
			[]model.BatchJobStatus{model.BatchJobRunning, model.BatchJobPaused}, true).
		Where("batch_jobs.eod_close_time <= ?", nowHHMM).
		Where("batch_items.status IN ?", []model.ItemStatus{model.ItemEntryPartial, model.ItemEntryFilled, model.ItemBracketSent}).
		Order("batch_items.id asc").
		Find(&items).Error
	return items, err
}

// ListEodMarketSentItems returns items the EOD Closer is still waiting on
// a fill confirmation for.
func (s *Store) ListEodMarketSentItems() ([]model.BatchItem, error) {
	var items []model.BatchItem
	err := s.db.Where("status = ?", model.ItemEodMarketSent).Order("id asc").Find(&items).Error
	return items, err
}

// SetItemLastError records an operator-visible note without touching
// status, for "waiting on X" conditions that are not errors in the state
// machine sense.
func (s *Store) SetItemLastError(itemID uint, msg string) error {
	return s.db.Model(&model.BatchItem{}).Where("id = ?", itemID).Update("last_error", msg).Error
}

// RejectPlanMutation enforces spec.md §5's lock discipline: plan fields
// may not change while the parent batch is RUNNING or PAUSED.
func (s *Store) RejectPlanMutation(itemID uint) error {
	var item model.BatchItem
	if err := s.db.First(&item, "id = ?", itemID).Error; err != nil {
		return err
	}
	var job model.BatchJob
	if err := s.db.First(&job, "id = ?", item.BatchJobID).Error; err != nil {
		return err
	}
	if job.Status == model.BatchJobRunning || job.Status == model.BatchJobPaused {
		return apperr.New(apperr.KindValidation, "cannot mutate plan fields while batch is RUNNING or PAUSED")
	}
	return nil
}

// batchJobTransitions mirrors model.ValidateTransition for BatchJobStatus:
// the Supervisor's pause/resume/cancel commands are the only source of
// these moves (spec.md §6), so the adjacency list lives next to the store
// method that enforces it rather than in the model package.
var batchJobTransitions = map[model.BatchJobStatus][]model.BatchJobStatus{
	model.BatchJobScheduled: {model.BatchJobRunning, model.BatchJobCancelled, model.BatchJobError},
	model.BatchJobRunning:   {model.BatchJobPaused, model.BatchJobCancelled, model.BatchJobDone, model.BatchJobError},
	model.BatchJobPaused:    {model.BatchJobRunning, model.BatchJobCancelled, model.BatchJobError},
	model.BatchJobDone:      {},
	model.BatchJobError:     {},
	model.BatchJobCancelled: {},
}

func validBatchJobTransition(from, to model.BatchJobStatus) bool {
	for _, candidate := range batchJobTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// TransitionBatchJobStatus is the Supervisor's conditional-update path for
// pause/resume/cancel (spec.md §6), keyed on (id, status, version) exactly
// like TransitionItem.
func (s *Store) TransitionBatchJobStatus(job model.BatchJob, to model.BatchJobStatus) (bool, error) {
	if !validBatchJobTransition(job.Status, to) {
		return false, apperr.New(apperr.KindInternalInvariant,
			fmt.Sprintf("illegal batch job transition %s -> %s", job.Status, to))
	}
	fields := map[string]interface{}{"status": to, "version": gorm.Expr("version + 1")}
	if to.IsTerminal() {
		fields["finished_at"] = gorm.Expr("CURRENT_TIMESTAMP")
	}
	res := s.db.Model(&model.BatchJob{}).
		Where("id = ? AND status = ? AND version = ?", job.ID, job.Status, job.Version).
		Updates(fields)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
