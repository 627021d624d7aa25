package model

import "time"

// BatchJobStatus is the closed set of legal BatchJob states.
type BatchJobStatus string

const (
	BatchJobScheduled BatchJobStatus = "SCHEDULED"
	BatchJobRunning   BatchJobStatus = "RUNNING"
	BatchJobPaused    BatchJobStatus = "PAUSED"
	BatchJobDone      BatchJobStatus = "DONE"
	BatchJobError     BatchJobStatus = "ERROR"
	BatchJobCancelled BatchJobStatus = "CANCELLED"
)

// IsTerminal reports whether the batch can never transition again.
func (s BatchJobStatus) IsTerminal() bool {
	return s == BatchJobDone || s == BatchJobError || s == BatchJobCancelled
}

// ScheduleMode is immediate (fire on the next Scheduler tick) or
// scheduled (fire once ScheduledAt has passed).
type ScheduleMode string

const (
	ScheduleModeImmediate ScheduleMode = "immediate"
	ScheduleModeScheduled ScheduleMode = "scheduled"
)

// BatchJob is a plan: a named group of per-symbol BatchItems submitted and
// managed as a unit. BatchCode is the business identifier an operator uses
// to refer to the batch outside the Store.
type BatchJob struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	BatchCode      string         `gorm:"size:64;uniqueIndex;not null" json:"batch_code"`
	AccountID      uint           `gorm:"index;not null" json:"account_id"`
	ScheduleMode   ScheduleMode   `gorm:"size:16;not null" json:"schedule_mode"`
	ScheduledAt    *time.Time     `json:"scheduled_at,omitempty"`
	EodCloseTime   string         `gorm:"size:5;not null;default:'14:30'" json:"eod_close_time"`
	EodForceClose  bool           `gorm:"not null;default:true" json:"eod_force_close"`
	Status         BatchJobStatus `gorm:"size:16;not null;default:SCHEDULED;index" json:"status"`
	Version        uint           `gorm:"not null;default:1" json:"version"`
	LastError      string         `gorm:"type:text" json:"last_error,omitempty"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	FinishedAt     *time.Time     `json:"finished_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`

	Items []BatchItem `gorm:"foreignKey:BatchJobID" json:"items,omitempty"`
}

func (BatchJob) TableName() string { return "batch_jobs" }

// AllItemsTerminal reports whether every loaded item has reached CLOSED or
// ERROR. Callers must have preloaded Items.
func (b BatchJob) AllItemsTerminal() bool {
	if len(b.Items) == 0 {
		return false
	}
	for _, it := range b.Items {
		if !it.Status.IsTerminal() {
			return false
		}
	}
	return true
}
