package model

import "time"

// EventLog is an append-only structured event stream, grounded on the
// teacher's Exception model but generalized from "system error" to any
// domain event (ORDER_SENT, ORDER_REJECTED, OCO_SENT, TP_FILLED, ...).
type EventLog struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	BatchJobID  *uint     `gorm:"index" json:"batch_job_id,omitempty"`
	BatchItemID *uint     `gorm:"index" json:"batch_item_id,omitempty"`
	EventType   string    `gorm:"size:64;not null;index" json:"event_type"`
	Level       string    `gorm:"size:16;not null;index" json:"level"` // debug|info|warn|error
	Message     string    `gorm:"type:text" json:"message"`
	Context     string    `gorm:"type:text" json:"context,omitempty"` // JSON blob
	CreatedAt   time.Time `json:"created_at"`
}

func (EventLog) TableName() string { return "event_logs" }

// AuditLog is an append-only manual-intervention trail: every Supervisor
// command (spec.md §6 control surface) emits one row.
type AuditLog struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Actor      string    `gorm:"size:64;not null" json:"actor"`
	Command    string    `gorm:"size:64;not null" json:"command"`
	BatchJobID *uint     `gorm:"index" json:"batch_job_id,omitempty"`
	Reason     string    `gorm:"type:text" json:"reason,omitempty"`
	Outcome    string    `gorm:"size:16;not null" json:"outcome"` // ok|rejected
	CreatedAt  time.Time `json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_logs" }
