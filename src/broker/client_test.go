package broker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strategyexecutor/src/apperr"
	"strategyexecutor/src/model"
	"strategyexecutor/src/ratelimit"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := Config{
		BaseURL:        srv.URL,
		RequestTimeout: 2 * time.Second,
		RetryAttempts:  1,
		RetryBaseDelay: 10 * time.Millisecond,
		RetryMaxDelay:  20 * time.Millisecond,
	}
	limits := ratelimit.New(ratelimit.Config{
		OrderCallsPerSecond: 1000, OrderBurst: 1000,
		InfoCallsPerSecond: 1000, InfoBurst: 1000,
	})
	return New(cfg, "secret-password", limits, logger.NewEntry(logger.New()))
}

func TestAuthenticate_CachesToken(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode(tokenResponse{Token: "tok-1"})
	})

	tok, err := c.Authenticate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "tok-1", c.currentToken())
}

func TestSendEntry_MarketCodeFallback(t *testing.T) {
	attempts := []int{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token":
			_ = json.NewEncoder(w).Encode(tokenResponse{Token: "tok"})
		case "/sendorder":
			var body map[string]interface{}
			_ = json.NewDecoder(r.Body).Decode(&body)
			ex := int(body["Exchange"].(float64))
			attempts = append(attempts, ex)
			if ex == 1 {
				w.WriteHeader(http.StatusBadRequest)
				_ = json.NewEncoder(w).Encode(apiErrorBody{Code: errCodeMarketMismatch, Message: "bad market"})
				return
			}
			_ = json.NewEncoder(w).Encode(sendOrderResponse{OrderID: "ord-1"})
		}
	})

	id, resolved, err := c.SendEntry(context.Background(), EntryRequest{
		Symbol:     "9432",
		MarketCode: 1,
		Product:    model.ProductCash,
		Side:       model.SideBuy,
		Qty:        "100",
		EntryType:  model.EntryTypeMarket,
		ClientRef:  "ref-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "ord-1", id)
	assert.Equal(t, 9, resolved)
	assert.Equal(t, []int{1, 9}, attempts)
}

// TestSendEntry_SaturatedOrderBucketSurfacesRateLimitedNotHang covers the
// review fix wiring WaitOrderTimeout into the order-class call path: a
// drained Order bucket with a short RequestTimeout must fail fast with
// apperr.KindRateLimited rather than block on the unbounded WaitOrder.
func TestSendEntry_SaturatedOrderBucketSurfacesRateLimitedNotHang(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(tokenResponse{Token: "tok"})
	}))
	t.Cleanup(srv.Close)

	cfg := Config{BaseURL: srv.URL, RequestTimeout: 20 * time.Millisecond, RetryAttempts: 1}
	limits := ratelimit.New(ratelimit.Config{
		OrderCallsPerSecond: 0.001, OrderBurst: 1,
		InfoCallsPerSecond: 1000, InfoBurst: 1000,
	})
	require.NoError(t, limits.WaitOrder(context.Background()))

	c := New(cfg, "secret-password", limits, logger.NewEntry(logger.New()))

	start := time.Now()
	_, _, err := c.SendEntry(context.Background(), EntryRequest{
		Symbol: "9432", MarketCode: 1, Product: model.ProductCash,
		Side: model.SideBuy, Qty: "100", EntryType: model.EntryTypeMarket, ClientRef: "ref-1",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.Sentinel(apperr.KindRateLimited)))
	assert.Less(t, time.Since(start), time.Second)
}

func TestCancelOrder_NotFoundIsIdempotent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token":
			_ = json.NewEncoder(w).Encode(tokenResponse{Token: "tok"})
		case "/cancelorder":
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(apiErrorBody{Code: 4001006, Message: "not found"})
		}
	})

	err := c.CancelOrder(context.Background(), "missing-order")
	assert.NoError(t, err)
}

func TestListOrders_MapsState(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token":
			_ = json.NewEncoder(w).Encode(tokenResponse{Token: "tok"})
		case "/orders":
			_ = json.NewEncoder(w).Encode([]BrokerOrder{
				{OrderID: "o1", State: 5, CumQty: "100", Price: "950"},
			})
		}
	})

	orders, err := c.ListOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, model.OrderFilled, orders[0].Status())
	avg, ok := orders[0].AvgPrice()
	require.True(t, ok)
	assert.True(t, avg.Equal(decimal.RequireFromString("950")))
}

func TestBrokerPosition_HandleIDAndValidity(t *testing.T) {
	p := BrokerPosition{HoldID: "", ExecutionID: "E12345"}
	assert.Equal(t, "E12345", p.HandleID())
	assert.True(t, IsValidHandle(p.HandleID()))

	p2 := BrokerPosition{HoldID: "12345"}
	assert.False(t, IsValidHandle(p2.HandleID()))
}
