package store

import (
	"time"

	"strategyexecutor/src/model"
)

// LogEvent appends one EventLog row, the generalization of the teacher's
// controller.Capture helper from "system exception" to "any domain
// event" (ORDER_SENT, OCO_SENT, TP_FILLED, EOD_FAILED, ...).
func (s *Store) LogEvent(event *model.EventLog) error {
	return s.db.Create(event).Error
}

// LogAudit appends one AuditLog row; every Supervisor command emits
// exactly one (spec.md §6).
func (s *Store) LogAudit(entry *model.AuditLog) error {
	return s.db.Create(entry).Error
}

// ListEventsByBatch supports operator inspection of a batch's history.
func (s *Store) ListEventsByBatch(batchJobID uint) ([]model.EventLog, error) {
	var events []model.EventLog
	err := s.db.Where("batch_job_id = ?", batchJobID).Order("id asc").Find(&events).Error
	return events, err
}

// ListEventLogsOlderThan feeds the archive exporter: rows the hot OLTP
// store no longer needs to keep indexed once they are past the
// retention window.
func (s *Store) ListEventLogsOlderThan(cutoff time.Time, limit int) ([]model.EventLog, error) {
	var events []model.EventLog
	err := s.db.Where("created_at < ?", cutoff).Order("id asc").Limit(limit).Find(&events).Error
	return events, err
}

// ListAuditLogsOlderThan is ListEventLogsOlderThan's AuditLog counterpart.
func (s *Store) ListAuditLogsOlderThan(cutoff time.Time, limit int) ([]model.AuditLog, error) {
	var entries []model.AuditLog
	err := s.db.Where("created_at < ?", cutoff).Order("id asc").Limit(limit).Find(&entries).Error
	return entries, err
}

// DeleteEventLogs removes rows by id once the archive exporter has
// durably written them to Parquet.
func (s *Store) DeleteEventLogs(ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.Where("id IN ?", ids).Delete(&model.EventLog{}).Error
}

// DeleteAuditLogs is DeleteEventLogs's AuditLog counterpart.
func (s *Store) DeleteAuditLogs(ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.Where("id IN ?", ids).Delete(&model.AuditLog{}).Error
}
