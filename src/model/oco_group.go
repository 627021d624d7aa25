package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type OcoGroupStatus string

const (
	OcoPreparing OcoGroupStatus = "PREPARING"
	OcoActive    OcoGroupStatus = "ACTIVE"
	OcoTPFilled  OcoGroupStatus = "TP_FILLED"
	OcoSLFilled  OcoGroupStatus = "SL_FILLED"
	OcoClosed    OcoGroupStatus = "CLOSED"
)

func (s OcoGroupStatus) IsTerminal() bool { return s == OcoClosed }

// OcoGroup is the bracket pair protecting one filled slice of a
// BatchItem. PREPARING is the intent-row state written before either leg
// is submitted (spec.md §5's checkpoint-before-submit requirement);
// records created in PREPARING with no corresponding broker submit are
// harmless to discover on restart since neither order id is set yet.
type OcoGroup struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	BatchItemID    uint            `gorm:"index;not null" json:"batch_item_id"`
	Qty            decimal.Decimal `gorm:"type:numeric;not null" json:"qty"`
	TPOrderID      *uint           `gorm:"index" json:"tp_order_id,omitempty"`
	SLOrderID      *uint           `gorm:"index" json:"sl_order_id,omitempty"`
	Status         OcoGroupStatus  `gorm:"size:16;not null;default:PREPARING;index" json:"status"`
	// ClosedSubstate records which leg closed this group, set the moment it
	// leaves ACTIVE; it survives the later TP_FILLED/SL_FILLED -> CLOSED
	// promotion so the item-level substate can still be derived once every
	// group in a multi-group (per_partial) item has closed.
	ClosedSubstate CloseSubstate   `gorm:"size:16" json:"closed_substate,omitempty"`
	Version        uint            `gorm:"not null;default:1" json:"version"`
	PositionHoldID string          `gorm:"size:64" json:"position_hold_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func (OcoGroup) TableName() string { return "oco_groups" }
