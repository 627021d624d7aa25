package broker

import "strategyexecutor/src/model"

// reverseLimitOrder is the broker's stop-order trigger block, grounded on
// _build_exit_payload's stop branch.
type reverseLimitOrder struct {
	TriggerSec      int    `json:"TriggerSec"`
	TriggerPrice    string `json:"TriggerPrice"`
	UnderOver       int    `json:"UnderOver"`
	AfterHitOrderType int  `json:"AfterHitOrderType"`
	AfterHitPrice   string `json:"AfterHitPrice"`
}

type closePosition struct {
	HoldID string `json:"HoldID"`
	Qty    string `json:"Qty"`
}

// EntryRequest is everything the Broker Adapter needs to build and submit
// an entry order (spec.md §4.2 step 2 "compose the entry payload").
type EntryRequest struct {
	Symbol     string
	MarketCode int
	Product    model.Product
	Side       model.Side
	Qty        string
	EntryType  model.EntryType
	Price      string // empty for market
	ClientRef  string
}

// buildEntryPayload mirrors _build_entry_payload: SecurityType 1,
// AccountType 4, cash vs margin fields, FrontOrderType from entry type.
func buildEntryPayload(req EntryRequest, marketCode int) map[string]interface{} {
	p := map[string]interface{}{
		"Symbol":         req.Symbol,
		"Exchange":       marketCode,
		"SecurityType":   1,
		"Side":           kabuSide(req.Side),
		"Qty":            req.Qty,
		"FrontOrderType": frontOrderType(entryFrontOrderType(req.EntryType)),
		"ExpireDay":      0,
		"AccountType":    4,
		"ClientRef":      req.ClientRef,
	}
	if req.EntryType == model.EntryTypeLimit {
		p["Price"] = req.Price
	} else {
		p["Price"] = "0"
	}

	if req.Product == model.ProductCash {
		p["CashMargin"] = 1
		p["DelivType"] = 2
		p["FundType"] = "AA"
	} else {
		p["CashMargin"] = 2
		p["MarginTradeType"] = 3
		p["DelivType"] = 0
	}
	return p
}

func entryFrontOrderType(t model.EntryType) model.OrderType {
	if t == model.EntryTypeLimit {
		return model.OrderTypeLimit
	}
	return model.OrderTypeMarket
}

// ExitRequest is a closing order for either leg of a bracket, or the EOD
// market flatten. EntrySide is the side of the order being closed; the
// closing side is always its opposite (spec.md §4.5 step 2).
type ExitRequest struct {
	Symbol       string
	MarketCode   int
	Product      model.Product
	EntrySide    model.Side
	Qty          string
	OrderType    model.OrderType
	Price        string // limit price, for TP
	TriggerPrice string // stop trigger, for SL
	HoldID       string // required for margin
	ClientRef    string
}

// buildExitPayload mirrors _build_exit_payload: cash closes with
// CashMargin 1 / DelivType 2 (+FundType "AA" unless this is a closing
// sell), margin closes with CashMargin 3 / MarginTradeType 3 / DelivType 0
// and a single-element ClosePositions referencing HoldID.
func buildExitPayload(req ExitRequest) (map[string]interface{}, error) {
	closingSide := req.EntrySide.Opposite()

	p := map[string]interface{}{
		"Symbol":         req.Symbol,
		"Exchange":       req.MarketCode,
		"SecurityType":   1,
		"Side":           kabuSide(closingSide),
		"Qty":            req.Qty,
		"FrontOrderType": frontOrderType(req.OrderType),
		"ExpireDay":      0,
		"AccountType":    4,
		"ClientRef":      req.ClientRef,
	}

	switch req.OrderType {
	case model.OrderTypeMarket:
		p["Price"] = "0"
	case model.OrderTypeLimit:
		p["Price"] = req.Price
	default: // stop
		p["Price"] = "0"
		underOver := underOverBelow
		if req.EntrySide == model.SideSell {
			underOver = underOverAbove
		}
		p["ReverseLimitOrder"] = reverseLimitOrder{
			TriggerSec:        1,
			TriggerPrice:      req.TriggerPrice,
			UnderOver:         underOver,
			AfterHitOrderType: 1,
			AfterHitPrice:     "0",
		}
	}

	if req.Product == model.ProductCash {
		p["CashMargin"] = 1
		p["DelivType"] = 2
		if closingSide != model.SideSell {
			p["FundType"] = "AA"
		}
	} else {
		if !IsValidHandle(req.HoldID) {
			return nil, errInvalidHoldID(req.HoldID)
		}
		p["CashMargin"] = 3
		p["MarginTradeType"] = 3
		p["DelivType"] = 0
		p["ClosePositions"] = []closePosition{{HoldID: req.HoldID, Qty: req.Qty}}
	}

	return p, nil
}
