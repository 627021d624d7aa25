package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionSnapshot persists one observation from list_positions, mainly
// for audit and for the OCO Manager's margin-close position-handle lookup
// (spec.md §4.4 poll_positions).
type PositionSnapshot struct {
	ID         uint            `gorm:"primaryKey" json:"id"`
	Symbol     string          `gorm:"size:32;index" json:"symbol"`
	Side       Side            `gorm:"size:4" json:"side"`
	HoldID     string          `gorm:"size:64;index" json:"hold_id"`
	Qty        decimal.Decimal `gorm:"type:numeric" json:"qty"`
	LeavesQty  decimal.Decimal `gorm:"type:numeric" json:"leaves_qty"`
	RawPayload string          `gorm:"type:text" json:"raw_payload,omitempty"`
	ObservedAt time.Time       `json:"observed_at"`
	CreatedAt  time.Time       `json:"created_at"`
}

func (PositionSnapshot) TableName() string { return "position_snapshots" }

// SchedulerRun records one Scheduler tick outcome (spec.md §4.1: "records
// a scheduler_runs entry with count of jobs triggered and outcome").
type SchedulerRun struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	RanAt     time.Time `json:"ran_at"`
	Triggered int       `json:"triggered"`
	Errored   int       `json:"errored"`
	Outcome   string    `gorm:"size:16" json:"outcome"`
	CreatedAt time.Time `json:"created_at"`
}

func (SchedulerRun) TableName() string { return "scheduler_runs" }
