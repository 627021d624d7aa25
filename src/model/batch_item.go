package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ItemStatus is the closed sum type for §4.3's item state machine. The
// Store column is the short string code; everywhere else this typed value
// is what flows through the system so an illegal transition is a compile
// error at the call site that tries to assign an unrelated string.
type ItemStatus string

const (
	ItemReady               ItemStatus = "READY"
	ItemEntrySent           ItemStatus = "ENTRY_SENT"
	ItemEntryPartial        ItemStatus = "ENTRY_PARTIAL"
	ItemEntryFilled         ItemStatus = "ENTRY_FILLED"
	ItemEntryFilledWaitPx   ItemStatus = "ENTRY_FILLED_WAIT_PRICE"
	ItemBracketSent         ItemStatus = "BRACKET_SENT"
	ItemTPFilled            ItemStatus = "TP_FILLED"
	ItemSLFilled            ItemStatus = "SL_FILLED"
	ItemEodMarketSent       ItemStatus = "EOD_MARKET_SENT"
	ItemClosed              ItemStatus = "CLOSED"
	ItemError               ItemStatus = "ERROR"
)

func (s ItemStatus) IsTerminal() bool { return s == ItemClosed || s == ItemError }

// AllItemStatuses enumerates the full sum type, for callers (the metrics
// gauge refresh) that need to report a count for every status rather than
// branch on a subset of it.
var AllItemStatuses = []ItemStatus{
	ItemReady,
	ItemEntrySent,
	ItemEntryPartial,
	ItemEntryFilled,
	ItemEntryFilledWaitPx,
	ItemBracketSent,
	ItemTPFilled,
	ItemSLFilled,
	ItemEodMarketSent,
	ItemClosed,
	ItemError,
}

// itemTransitions is the adjacency list of legal moves from §4.3. A
// transition not listed here is rejected by ValidateTransition.
var itemTransitions = map[ItemStatus][]ItemStatus{
	ItemReady:             {ItemEntrySent, ItemError},
	ItemEntrySent:         {ItemEntryPartial, ItemEntryFilled, ItemEntryFilledWaitPx, ItemClosed, ItemEodMarketSent, ItemError},
	ItemEntryPartial:      {ItemEntryPartial, ItemEntryFilled, ItemBracketSent, ItemEodMarketSent, ItemError},
	ItemEntryFilled:       {ItemBracketSent, ItemEodMarketSent, ItemError},
	ItemEntryFilledWaitPx: {ItemEntryFilled, ItemBracketSent, ItemEodMarketSent, ItemError},
	// The self-loop lets a later fill on the same entry order keep updating
	// filled_qty/avg_fill_price once the first bracket has already gone out
	// (per_partial mode, spec.md §4.5): the item stays BRACKET_SENT while
	// the OCO Manager opens one more group per newly uncovered delta.
	ItemBracketSent:       {ItemBracketSent, ItemTPFilled, ItemSLFilled, ItemClosed, ItemEodMarketSent, ItemError},
	ItemTPFilled:          {ItemClosed, ItemError},
	ItemSLFilled:          {ItemClosed, ItemError},
	ItemEodMarketSent:     {ItemClosed, ItemError},
	ItemClosed:            {},
	ItemError:             {},
}

// ValidateTransition reports whether moving an item from `from` to `to` is
// legal. Terminal states never yield a legal transition (spec.md §8
// invariant 4: no item returns from a terminal state).
func ValidateTransition(from, to ItemStatus) bool {
	for _, candidate := range itemTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

type Product string

const (
	ProductCash   Product = "cash"
	ProductMargin Product = "margin"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the side a closing order must use: OCO Manager §4.5
// step 2 requires the closing side be inverted from the entry side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

type EntryType string

const (
	EntryTypeMarket EntryType = "market"
	EntryTypeLimit  EntryType = "limit"
)

// CloseSubstate records which leg(s) of the bracket actually closed the
// item, for display purposes only (spec.md §4.5 step 5, §8 boundary case
// "TP+SL mixed").
type CloseSubstate string

const (
	CloseSubstateTP    CloseSubstate = "TP_FILLED"
	CloseSubstateSL    CloseSubstate = "SL_FILLED"
	CloseSubstateMixed CloseSubstate = "MIXED"
	CloseSubstateEOD   CloseSubstate = "EOD"
)

// BatchItem is the per-symbol plan and progress record. TPOffset and
// SLOffset are resolved against the actual average fill price once known,
// never against an estimate made before fill (see DESIGN.md Open Question
// 1) — this is the field pair that replaces an "absolute TP/SL price" in
// the strict reading of the original distillation.
type BatchItem struct {
	ID               uint            `gorm:"primaryKey" json:"id"`
	BatchJobID       uint            `gorm:"index;not null" json:"batch_job_id"`
	Symbol           string          `gorm:"size:32;not null" json:"symbol"`
	MarketCode       int             `gorm:"not null" json:"market_code"`
	Product          Product         `gorm:"size:8;not null" json:"product"`
	Side             Side            `gorm:"size:4;not null" json:"side"`
	Qty              decimal.Decimal `gorm:"type:numeric;not null" json:"qty"`
	EntryType        EntryType       `gorm:"size:8;not null" json:"entry_type"`
	EntryPrice       *decimal.Decimal `gorm:"type:numeric" json:"entry_price,omitempty"`
	TPOffset         decimal.Decimal `gorm:"type:numeric;not null" json:"tp_offset"`
	SLOffset         decimal.Decimal `gorm:"type:numeric;not null" json:"sl_offset"`
	Status           ItemStatus      `gorm:"size:24;not null;default:READY;index" json:"status"`
	Version          uint            `gorm:"not null;default:1" json:"version"`
	FilledQty        decimal.Decimal `gorm:"type:numeric;not null;default:0" json:"filled_qty"`
	ClosedQty        decimal.Decimal `gorm:"type:numeric;not null;default:0" json:"closed_qty"`
	AvgFillPrice     *decimal.Decimal `gorm:"type:numeric" json:"avg_fill_price,omitempty"`
	EntryOrderID     string          `gorm:"size:64;index" json:"entry_order_id,omitempty"`
	PositionHoldID   string          `gorm:"size:64;index" json:"position_hold_id,omitempty"`
	CloseSubstate    CloseSubstate   `gorm:"size:16" json:"close_substate,omitempty"`
	LastError        string          `gorm:"type:text" json:"last_error,omitempty"`
	ClientRef        string          `gorm:"size:64;uniqueIndex" json:"client_ref"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func (BatchItem) TableName() string { return "batch_items" }

// RemainingOpenQty is the quantity that is filled but not yet closed by a
// completed OCO group or EOD flatten — what the EOD Closer must still deal
// with (spec.md §4.6 step 2).
func (b BatchItem) RemainingOpenQty() decimal.Decimal {
	return b.FilledQty.Sub(b.ClosedQty)
}

// ResolveTP resolves the stored offset to an absolute price given the
// item's actual average fill price.
func (b BatchItem) ResolveTP() decimal.Decimal {
	avg := decimal.Zero
	if b.AvgFillPrice != nil {
		avg = *b.AvgFillPrice
	}
	return avg.Add(b.TPOffset)
}

// ResolveSL resolves the stored offset to an absolute stop trigger given
// the item's actual average fill price.
func (b BatchItem) ResolveSL() decimal.Decimal {
	avg := decimal.Zero
	if b.AvgFillPrice != nil {
		avg = *b.AvgFillPrice
	}
	return avg.Add(b.SLOffset)
}
