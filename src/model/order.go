package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderRole string

const (
	OrderRoleEntry OrderRole = "entry"
	OrderRoleTP    OrderRole = "tp"
	OrderRoleSL    OrderRole = "sl"
	OrderRoleEOD   OrderRole = "eod"
)

type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
	OrderTypeStop   OrderType = "stop"
)

// OrderStatus mirrors the broker's State codes, translated once at the
// Broker Adapter boundary (see src/broker).
type OrderStatus string

const (
	OrderNew       OrderStatus = "NEW"
	OrderWorking   OrderStatus = "WORKING"
	OrderPartial   OrderStatus = "PARTIAL"
	OrderFilled    OrderStatus = "FILLED"
	OrderCancelled OrderStatus = "CANCELLED"
	OrderExpired   OrderStatus = "EXPIRED"
	OrderRejected  OrderStatus = "REJECTED"
)

func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderFilled, OrderCancelled, OrderExpired, OrderRejected:
		return true
	default:
		return false
	}
}

// Order is a broker-submitted order record. BrokerOrderID is globally
// unique, enforced by a unique index at the Store (spec.md §3).
type Order struct {
	ID            uint             `gorm:"primaryKey" json:"id"`
	BatchItemID   uint             `gorm:"index;not null" json:"batch_item_id"`
	OcoGroupID    *uint            `gorm:"index" json:"oco_group_id,omitempty"`
	Role          OrderRole        `gorm:"size:8;not null;index" json:"role"`
	BrokerOrderID string           `gorm:"size:64;uniqueIndex" json:"broker_order_id,omitempty"`
	ClientRef     string           `gorm:"size:64;uniqueIndex" json:"client_ref"`
	MarketCode    int              `json:"market_code"`
	Side          Side             `gorm:"size:4;not null" json:"side"`
	Qty           decimal.Decimal  `gorm:"type:numeric;not null" json:"qty"`
	OrderType     OrderType        `gorm:"size:8;not null" json:"order_type"`
	Price         *decimal.Decimal `gorm:"type:numeric" json:"price,omitempty"`
	TriggerPrice  *decimal.Decimal `gorm:"type:numeric" json:"trigger_price,omitempty"`
	Status        OrderStatus      `gorm:"size:16;not null;default:NEW;index" json:"status"`
	Version       uint             `gorm:"not null;default:1" json:"version"`
	CumQty        decimal.Decimal  `gorm:"type:numeric;not null;default:0" json:"cum_qty"`
	AvgPrice      *decimal.Decimal `gorm:"type:numeric" json:"avg_price,omitempty"`
	RawPayload    string           `gorm:"type:text" json:"raw_payload,omitempty"`
	SubmittedAt   time.Time        `json:"submitted_at"`
	LastPolledAt  *time.Time       `json:"last_polled_at,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`

	Fills []Fill `gorm:"foreignKey:OrderID" json:"fills,omitempty"`
}

func (Order) TableName() string { return "orders" }
