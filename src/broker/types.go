package broker

import (
	"encoding/json"

	"github.com/shopspring/decimal"
	"strategyexecutor/src/model"
)

// Market/exchange codes, named the way original_source names them
// ("Exchange" field on the order payload). marketCodeFallback is the
// ordered-retry table grounded on
// _examples/original_source/logic_worker_mixin.py's
// retry_candidates_by_exchange: on errCodeMarketMismatch, try the next
// code in the list for the code that was rejected.
var marketCodeFallback = map[int][]int{
	1:  {9, 27},
	9:  {27, 1},
	27: {9, 1},
}

// kabuSide converts the internal Side to the broker's own "1"/"2" wire
// values (sell/buy), grounded on _side_to_kabu.
func kabuSide(s model.Side) string {
	if s == model.SideBuy {
		return "2"
	}
	return "1"
}

func kabuSideToInternal(v string) model.Side {
	if v == "2" {
		return model.SideBuy
	}
	return model.SideSell
}

// frontOrderType is the broker's order-type code: 10 market, 20 limit, 30
// stop (carries a ReverseLimitOrder block).
const (
	frontOrderTypeMarket = 10
	frontOrderTypeLimit  = 20
	frontOrderTypeStop   = 30
)

func frontOrderType(t model.OrderType) int {
	switch t {
	case model.OrderTypeMarket:
		return frontOrderTypeMarket
	case model.OrderTypeLimit:
		return frontOrderTypeLimit
	default:
		return frontOrderTypeStop
	}
}

const (
	underOverBelow = 1
	underOverAbove = 2
)

// State codes returned by /orders, mapped per §4.4/original_source's
// _order_status_from_api: 1,2 WORKING; 3,4 PARTIAL; 5 FILLED; 6,7 CANCELLED.
func mapOrderState(state int) model.OrderStatus {
	switch state {
	case 1, 2:
		return model.OrderWorking
	case 3, 4:
		return model.OrderPartial
	case 5:
		return model.OrderFilled
	case 6, 7:
		return model.OrderCancelled
	default:
		return model.OrderNew
	}
}

// apiErrorBody is the broker's JSON error envelope.
type apiErrorBody struct {
	Code    int    `json:"Code"`
	Message string `json:"Message"`
}

// tokenResponse is /token's response body.
type tokenResponse struct {
	Token      string `json:"Token"`
	ResultCode int    `json:"ResultCode"`
}

// sendOrderResponse is /sendorder's response body.
type sendOrderResponse struct {
	OrderID string `json:"OrderID"`
}

// orderDetail is one line of an order's Details[] array, used to derive
// an average fill price when the broker does not surface one directly
// (grounded on _extract_order_avg_price's weighted-average fallback).
type orderDetail struct {
	RecPrice        json.Number `json:"RecPrice"`
	ExecutionPrice  json.Number `json:"ExecutionPrice"`
	Price           json.Number `json:"Price"`
	RecQty          json.Number `json:"RecQty"`
	ExecutionQty    json.Number `json:"ExecutionQty"`
	Qty             json.Number `json:"Qty"`
}

// BrokerOrder is one row of /orders.
type BrokerOrder struct {
	OrderID   string        `json:"OrderID"`
	Symbol    string        `json:"Symbol"`
	Exchange  int           `json:"Exchange"`
	Side      string        `json:"Side"`
	State     int           `json:"State"`
	OrderQty  json.Number   `json:"OrderQty"`
	CumQty    json.Number   `json:"CumQty"`
	Price     json.Number   `json:"Price"`
	Details   []orderDetail `json:"Details"`
}

// Status translates this row into the internal OrderStatus/CumQty/AvgPrice
// tuple the Watcher persists.
func (o BrokerOrder) Status() model.OrderStatus { return mapOrderState(o.State) }

func (o BrokerOrder) CumQtyDecimal() decimal.Decimal {
	d, err := decimal.NewFromString(o.CumQty.String())
	if err != nil {
		return decimal.Zero
	}
	return d
}

// AvgPrice prefers the direct Price field; if absent or zero, it falls
// back to the qty-weighted average of Details[], grounded on
// _extract_order_avg_price.
func (o BrokerOrder) AvgPrice() (decimal.Decimal, bool) {
	if p, err := decimal.NewFromString(o.Price.String()); err == nil && p.GreaterThan(decimal.Zero) {
		return p, true
	}
	totalQty := decimal.Zero
	totalNotional := decimal.Zero
	for _, d := range o.Details {
		qtyStr := firstNonEmpty(d.RecQty, d.ExecutionQty, d.Qty)
		priceStr := firstNonEmpty(d.RecPrice, d.ExecutionPrice, d.Price)
		qty, err1 := decimal.NewFromString(qtyStr)
		price, err2 := decimal.NewFromString(priceStr)
		if err1 != nil || err2 != nil || qty.IsZero() {
			continue
		}
		totalQty = totalQty.Add(qty)
		totalNotional = totalNotional.Add(qty.Mul(price))
	}
	if totalQty.IsZero() {
		return decimal.Zero, false
	}
	return totalNotional.Div(totalQty), true
}

func firstNonEmpty(ns ...json.Number) string {
	for _, n := range ns {
		if n.String() != "" && n.String() != "0" {
			return n.String()
		}
	}
	return "0"
}

// BrokerPosition is one row of /positions.
type BrokerPosition struct {
	HoldID      string      `json:"HoldID"`
	ExecutionID string      `json:"ExecutionID"`
	Symbol      string      `json:"Symbol"`
	Side        string      `json:"Side"`
	LeavesQty   json.Number `json:"LeavesQty"`
	Price       json.Number `json:"Price"`
}

// HandleID prefers HoldID, falls back to ExecutionID, grounded on
// _extract_position_hold_id.
func (p BrokerPosition) HandleID() string {
	if p.HoldID != "" {
		return p.HoldID
	}
	return p.ExecutionID
}

// IsValidHandle reports whether the handle is usable to close a margin
// position: must start with "E" (grounded on _is_valid_hold_id).
func IsValidHandle(handle string) bool {
	return len(handle) > 0 && handle[0] == 'E'
}

func (p BrokerPosition) LeavesQtyDecimal() decimal.Decimal {
	d, err := decimal.NewFromString(p.LeavesQty.String())
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Quote is get_board's response, used only by optional pre-trade checks.
type Quote struct {
	Symbol      string      `json:"Symbol"`
	BidPrice    json.Number `json:"BidPrice"`
	AskPrice    json.Number `json:"AskPrice"`
	LastPrice   json.Number `json:"LastPrice"`
}
