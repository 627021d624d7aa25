package broker

import (
	"context"
	"fmt"

	"strategyexecutor/src/apperr"
)

func errInvalidHoldID(holdID string) error {
	return apperr.New(apperr.KindPositionNotAvailable, fmt.Sprintf("invalid position handle %q", holdID))
}

// SendEntry submits an entry order, retrying with the market-code
// fallback table on errCodeMarketMismatch (DESIGN.md Open Question 2).
// Returns the broker order id and the market code that was actually
// accepted, which the caller persists on the Order row.
func (c *Client) SendEntry(ctx context.Context, req EntryRequest) (brokerOrderID string, resolvedMarketCode int, err error) {
	codes := append([]int{req.MarketCode}, marketCodeFallback[req.MarketCode]...)
	var lastErr error
	for _, code := range codes {
		payload := buildEntryPayload(req, code)
		var out sendOrderResponse
		errCode, err := c.doJSONWithCode(ctx, "POST", "/sendorder", payload, &out)
		if err == nil {
			return out.OrderID, code, nil
		}
		lastErr = err
		if errCode != errCodeMarketMismatch {
			return "", 0, err
		}
		c.log.WithFields(map[string]interface{}{
			"symbol":       req.Symbol,
			"rejected_code": code,
		}).Warn("market code rejected, retrying with fallback candidate")
	}
	return "", 0, lastErr
}

// SendExit submits a TP, SL, or EOD closing order.
func (c *Client) SendExit(ctx context.Context, req ExitRequest) (brokerOrderID string, resolvedMarketCode int, err error) {
	codes := append([]int{req.MarketCode}, marketCodeFallback[req.MarketCode]...)
	var lastErr error
	for _, code := range codes {
		req.MarketCode = code
		payload, err := buildExitPayload(req)
		if err != nil {
			return "", 0, err
		}
		var out sendOrderResponse
		errCode, err := c.doJSONWithCode(ctx, "POST", "/sendorder", payload, &out)
		if err == nil {
			return out.OrderID, code, nil
		}
		lastErr = err
		if errCode != errCodeMarketMismatch {
			return "", 0, err
		}
	}
	return "", 0, lastErr
}

// CancelOrder cancels a broker order. "order not found" is treated as
// idempotent success per spec.md §7.
func (c *Client) CancelOrder(ctx context.Context, brokerOrderID string) error {
	errCode, err := c.doJSONWithCode(ctx, "PUT", "/cancelorder", map[string]string{"OrderID": brokerOrderID}, nil)
	if err == nil {
		return nil
	}
	if errCode == 4001006 {
		return nil
	}
	return err
}

// ListOrders fetches the active-session order snapshot.
func (c *Client) ListOrders(ctx context.Context) ([]BrokerOrder, error) {
	var out []BrokerOrder
	if err := c.doJSON(ctx, "GET", "/orders", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListPositions fetches the open-position snapshot.
func (c *Client) ListPositions(ctx context.Context) ([]BrokerPosition, error) {
	var out []BrokerPosition
	if err := c.doJSON(ctx, "GET", "/positions", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetBoard fetches a symbol quote, used only by optional pre-trade checks.
func (c *Client) GetBoard(ctx context.Context, symbol string) (Quote, error) {
	var out Quote
	if err := c.doJSON(ctx, "GET", fmt.Sprintf("/symbol/%s", symbol), nil, &out); err != nil {
		return Quote{}, err
	}
	return out, nil
}
