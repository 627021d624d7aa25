package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Fill is an immutable, append-only record of quantity filled on an Order
// at a price. Replaying the same broker poll response must never produce
// a duplicate row (spec.md §8 round-trip property).
type Fill struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	OrderID   uint            `gorm:"index;not null" json:"order_id"`
	Qty       decimal.Decimal `gorm:"type:numeric;not null" json:"qty"`
	Price     decimal.Decimal `gorm:"type:numeric;not null" json:"price"`
	Synthetic bool            `gorm:"not null;default:false" json:"synthetic"`
	ObservedAt time.Time      `json:"observed_at"`
	CreatedAt time.Time       `json:"created_at"`
}

func (Fill) TableName() string { return "fills" }
