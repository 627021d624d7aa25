// Package archive periodically flushes closed-out EventLog/AuditLog rows
// older than a retention window out of the hot OLTP store and into
// Parquet files on disk, per SPEC_FULL.md §2. Grounded on
// chenjiangme-jupitor's internal/store.ParquetStore: the same
// parquet.WriteFile/parquet.ReadFile-and-merge helpers, the same
// symbol/year-keyed (here: kind/year-month-keyed) file layout.
package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/parquet-go/parquet-go"
	logger "github.com/sirupsen/logrus"

	"strategyexecutor/src/store"
)

// EventLogRecord is the on-disk schema for an archived EventLog row.
type EventLogRecord struct {
	ID          uint   `parquet:"id"`
	BatchJobID  uint   `parquet:"batch_job_id,optional"`
	BatchItemID uint   `parquet:"batch_item_id,optional"`
	EventType   string `parquet:"event_type"`
	Level       string `parquet:"level"`
	Message     string `parquet:"message"`
	Context     string `parquet:"context,optional"`
	CreatedAt   int64  `parquet:"created_at,timestamp(millisecond)"`
}

// AuditLogRecord is the on-disk schema for an archived AuditLog row.
type AuditLogRecord struct {
	ID         uint   `parquet:"id"`
	Actor      string `parquet:"actor"`
	Command    string `parquet:"command"`
	BatchJobID uint   `parquet:"batch_job_id,optional"`
	Reason     string `parquet:"reason,optional"`
	Outcome    string `parquet:"outcome"`
	CreatedAt  int64  `parquet:"created_at,timestamp(millisecond)"`
}

// Exporter owns the periodic archive pass.
type Exporter struct {
	store *store.Store
	cfg   Config
	log   *logger.Entry
}

func New(s *store.Store, cfg Config, log *logger.Entry) *Exporter {
	return &Exporter{store: s, cfg: cfg, log: log}
}

// RunOnce exports every EventLog/AuditLog row older than cfg.Retention,
// BatchSize rows at a time, deleting each batch from the store only after
// it has landed on disk.
func (e *Exporter) RunOnce() {
	cutoff := time.Now().Add(-e.cfg.Retention)
	e.exportEvents(cutoff)
	e.exportAudits(cutoff)
}

func (e *Exporter) exportEvents(cutoff time.Time) {
	for {
		events, err := e.store.ListEventLogsOlderThan(cutoff, e.cfg.BatchSize)
		if err != nil {
			e.log.WithError(err).Error("listing event logs for archive")
			return
		}
		if len(events) == 0 {
			return
		}

		groups := make(map[string][]EventLogRecord)
		ids := make(map[string][]uint)
		for _, ev := range events {
			key := eventPath(e.cfg.DataDir, ev.CreatedAt)
			var jobID, itemID uint
			if ev.BatchJobID != nil {
				jobID = *ev.BatchJobID
			}
			if ev.BatchItemID != nil {
				itemID = *ev.BatchItemID
			}
			groups[key] = append(groups[key], EventLogRecord{
				ID: ev.ID, BatchJobID: jobID, BatchItemID: itemID,
				EventType: ev.EventType, Level: ev.Level, Message: ev.Message, Context: ev.Context,
				CreatedAt: ev.CreatedAt.UnixMilli(),
			})
			ids[key] = append(ids[key], ev.ID)
		}

		if err := e.flush(groups); err != nil {
			e.log.WithError(err).Error("writing event log archive")
			return
		}
		var allIDs []uint
		for _, v := range ids {
			allIDs = append(allIDs, v...)
		}
		if err := e.store.DeleteEventLogs(allIDs); err != nil {
			e.log.WithError(err).Error("deleting archived event logs")
			return
		}
		e.log.WithField("count", len(events)).Info("archived event logs")
		if len(events) < e.cfg.BatchSize {
			return
		}
	}
}

func (e *Exporter) exportAudits(cutoff time.Time) {
	for {
		entries, err := e.store.ListAuditLogsOlderThan(cutoff, e.cfg.BatchSize)
		if err != nil {
			e.log.WithError(err).Error("listing audit logs for archive")
			return
		}
		if len(entries) == 0 {
			return
		}

		groups := make(map[string][]AuditLogRecord)
		ids := make(map[string][]uint)
		for _, a := range entries {
			key := auditPath(e.cfg.DataDir, a.CreatedAt)
			var jobID uint
			if a.BatchJobID != nil {
				jobID = *a.BatchJobID
			}
			groups[key] = append(groups[key], AuditLogRecord{
				ID: a.ID, Actor: a.Actor, Command: a.Command, BatchJobID: jobID,
				Reason: a.Reason, Outcome: a.Outcome, CreatedAt: a.CreatedAt.UnixMilli(),
			})
			ids[key] = append(ids[key], a.ID)
		}

		if err := e.flushAudits(groups); err != nil {
			e.log.WithError(err).Error("writing audit log archive")
			return
		}
		var allIDs []uint
		for _, v := range ids {
			allIDs = append(allIDs, v...)
		}
		if err := e.store.DeleteAuditLogs(allIDs); err != nil {
			e.log.WithError(err).Error("deleting archived audit logs")
			return
		}
		e.log.WithField("count", len(entries)).Info("archived audit logs")
		if len(entries) < e.cfg.BatchSize {
			return
		}
	}
}

func (e *Exporter) flush(groups map[string][]EventLogRecord) error {
	for path, records := range groups {
		existing, _ := readParquetFile[EventLogRecord](path)
		merged := mergeEventRecords(existing, records)
		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
	}
	return nil
}

func (e *Exporter) flushAudits(groups map[string][]AuditLogRecord) error {
	for path, records := range groups {
		existing, _ := readParquetFile[AuditLogRecord](path)
		merged := mergeAuditRecords(existing, records)
		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
	}
	return nil
}

// Run calls RunOnce every cfg.ExportPeriod until ctx is cancelled.
func (e *Exporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.ExportPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.log.Info("archive exporter stopped")
			return nil
		case <-ticker.C:
			e.RunOnce()
		}
	}
}

func eventPath(dataDir string, t time.Time) string {
	return filepath.Join(dataDir, "event_logs", t.Format("2006-01")+".parquet")
}

func auditPath(dataDir string, t time.Time) string {
	return filepath.Join(dataDir, "audit_logs", t.Format("2006-01")+".parquet")
}

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	return parquet.ReadFile[T](path)
}

func mergeEventRecords(existing, incoming []EventLogRecord) []EventLogRecord {
	seen := make(map[uint]EventLogRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.ID] = r
	}
	for _, r := range incoming {
		seen[r.ID] = r
	}
	merged := make([]EventLogRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].ID < merged[j].ID })
	return merged
}

func mergeAuditRecords(existing, incoming []AuditLogRecord) []AuditLogRecord {
	seen := make(map[uint]AuditLogRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.ID] = r
	}
	for _, r := range incoming {
		seen[r.ID] = r
	}
	merged := make([]AuditLogRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].ID < merged[j].ID })
	return merged
}
