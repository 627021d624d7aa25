// Package createbatch is the `create-batch` command: it reads a JSON
// batch plan from disk and hands it to Supervisor.CreateBatch, the same
// entry point the Scheduler later watches. JSON rather than CSV, per
// SPEC_FULL.md's explicit exclusion of CSV import/export.
package createbatch

import (
	"encoding/json"
	"fmt"
	"os"

	logger "github.com/sirupsen/logrus"
	"github.com/shopspring/decimal"

	"strategyexecutor/cmd/executor"
	"strategyexecutor/src/eod"
	"strategyexecutor/src/model"
)

// planItem is the JSON shape an operator writes for one BatchItem; Qty,
// EntryPrice, TPOffset, SLOffset are decimal strings, not floats, to
// avoid floating-point drift on the same values the Execution Engine and
// OCO Manager will later operate on with shopspring/decimal.
type planItem struct {
	Symbol     string  `json:"symbol"`
	MarketCode int     `json:"market_code"`
	Product    string  `json:"product"`
	Side       string  `json:"side"`
	Qty        string  `json:"qty"`
	EntryType  string  `json:"entry_type"`
	EntryPrice *string `json:"entry_price,omitempty"`
	TPOffset   string  `json:"tp_offset"`
	SLOffset   string  `json:"sl_offset"`
}

// plan is the JSON shape of the whole batch.
type plan struct {
	BatchCode     string     `json:"batch_code"`
	AccountID     uint       `json:"account_id"`
	ScheduleMode  string     `json:"schedule_mode"`
	EodCloseTime  string     `json:"eod_close_time"`
	EodForceClose bool       `json:"eod_force_close"`
	Items         []planItem `json:"items"`
}

// Run parses path and creates the batch it describes.
func Run(path string) error {
	log := logger.NewEntry(logger.StandardLogger())

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading batch plan %s: %w", path, err)
	}
	var p plan
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("parsing batch plan %s: %w", path, err)
	}

	job, items, err := toModel(p)
	if err != nil {
		return fmt.Errorf("validating batch plan: %w", err)
	}

	sv, err := executor.Build(log)
	if err != nil {
		return err
	}
	defer func() {
		if err := sv.Close(); err != nil {
			log.WithError(err).Warn("closing supervisor")
		}
	}()

	if err := sv.CreateBatch("cli-operator", job, items); err != nil {
		return fmt.Errorf("creating batch: %w", err)
	}
	log.WithField("batch_code", job.BatchCode).WithField("batch_job_id", job.ID).Info("batch created")
	return nil
}

func toModel(p plan) (*model.BatchJob, []*model.BatchItem, error) {
	if p.BatchCode == "" {
		return nil, nil, fmt.Errorf("batch_code is required")
	}
	if len(p.Items) == 0 {
		return nil, nil, fmt.Errorf("at least one item is required")
	}

	job := &model.BatchJob{
		BatchCode:     p.BatchCode,
		AccountID:     p.AccountID,
		ScheduleMode:  model.ScheduleMode(p.ScheduleMode),
		EodCloseTime:  p.EodCloseTime,
		EodForceClose: p.EodForceClose,
	}
	if job.EodCloseTime == "" {
		job.EodCloseTime = eod.GetConfig().TriggerTime
	}

	items := make([]*model.BatchItem, 0, len(p.Items))
	for i, it := range p.Items {
		qty, err := decimal.NewFromString(it.Qty)
		if err != nil {
			return nil, nil, fmt.Errorf("item %d: parsing qty %q: %w", i, it.Qty, err)
		}
		tpOffset, err := decimal.NewFromString(it.TPOffset)
		if err != nil {
			return nil, nil, fmt.Errorf("item %d: parsing tp_offset %q: %w", i, it.TPOffset, err)
		}
		slOffset, err := decimal.NewFromString(it.SLOffset)
		if err != nil {
			return nil, nil, fmt.Errorf("item %d: parsing sl_offset %q: %w", i, it.SLOffset, err)
		}

		item := &model.BatchItem{
			Symbol:     it.Symbol,
			MarketCode: it.MarketCode,
			Product:    model.Product(it.Product),
			Side:       model.Side(it.Side),
			Qty:        qty,
			EntryType:  model.EntryType(it.EntryType),
			TPOffset:   tpOffset,
			SLOffset:   slOffset,
		}
		if it.EntryPrice != nil {
			price, err := decimal.NewFromString(*it.EntryPrice)
			if err != nil {
				return nil, nil, fmt.Errorf("item %d: parsing entry_price %q: %w", i, *it.EntryPrice, err)
			}
			item.EntryPrice = &price
		}
		items = append(items, item)
	}
	return job, items, nil
}
