// Package eod implements the EOD Closer from spec.md §4.6: once a batch's
// close time arrives, it cancels any live bracket for each open item and
// flattens the remaining position with a market order, then watches that
// closing order to completion. Grounded on original_source's
// AppWorkerMixin._eod_step (same cancel-both-legs-then-flatten sequencing,
// same "no remaining qty just closes" short-circuit, same margin-without-
// hold-id failure mode) generalized from a single hardcoded "14:30" to a
// per-batch EodCloseTime.
package eod

import (
	"context"
	"fmt"
	"time"

	logger "github.com/sirupsen/logrus"

	"strategyexecutor/src/broker"
	"strategyexecutor/src/clock"
	"strategyexecutor/src/metrics"
	"strategyexecutor/src/model"
	"strategyexecutor/src/store"
)

type Closer struct {
	store   *store.Store
	broker  *broker.Client
	clock   clock.Clock
	cfg     Config
	log     *logger.Entry
	metrics *metrics.Registry
}

func New(s *store.Store, b *broker.Client, c clock.Clock, cfg Config, log *logger.Entry) *Closer {
	return &Closer{store: s, broker: b, clock: c, cfg: cfg, log: log}
}

// SetMetrics wires a Registry in after construction; nil is a no-op.
func (c *Closer) SetMetrics(r *metrics.Registry) { c.metrics = r }

// Tick runs one EOD pass: force-close every eligible item, then check
// whether any previously sent flattening order has since filled. The
// force-close sweep only runs on a business day (spec.md §4.6) — a batch
// left RUNNING or PAUSED over a weekend or holiday must not get flattened
// on a bare wall-clock match. reconcileSentFlattens still runs every tick
// regardless, since a flatten order sent on a prior business day can fill
// at any time afterward.
func (c *Closer) Tick(ctx context.Context) {
	now := c.clock.Now()

	if !clock.IsBusinessDay(now, clock.USMarketHolidays(now.Year())) {
		c.reconcileSentFlattens()
		return
	}

	nowHHMM := now.Format("15:04")

	items, err := c.store.ListItemsForEodClose(nowHHMM)
	if err != nil {
		c.log.WithError(err).Error("listing items for EOD close")
	} else {
		for _, item := range items {
			c.ForceClose(ctx, item)
		}
	}

	c.reconcileSentFlattens()
}

// ForceClose is exported so the Supervisor's force-close-item command
// (spec.md §6) can invoke the identical flatten sequence outside of a
// scheduled EOD tick.
func (c *Closer) ForceClose(ctx context.Context, item model.BatchItem) {
	log := c.log.WithField("batch_item_id", item.ID)

	c.CancelBrackets(ctx, item)

	remaining := item.RemainingOpenQty()
	if remaining.Sign() <= 0 {
		if _, err := c.store.TransitionItem(item, model.ItemClosed, nil); err != nil {
			log.WithError(err).Error("closing item with no remaining qty at EOD")
		}
		return
	}

	if item.Product == model.ProductMargin && item.PositionHoldID == "" {
		msg := "no position handle available at EOD close time"
		if _, err := c.store.TransitionItem(item, model.ItemError, map[string]interface{}{"last_error": msg}); err != nil {
			log.WithError(err).Error("marking item ERROR for missing hold id at EOD")
		}
		_ = c.store.LogEvent(&model.EventLog{BatchJobID: &item.BatchJobID, BatchItemID: &item.ID, Level: "ERROR", EventType: "EOD_HOLD_ID_MISSING"})
		return
	}

	order := &model.Order{
		BatchItemID: item.ID, Role: model.OrderRoleEOD, ClientRef: fmt.Sprintf("eod-%d", item.ID),
		OrderType: model.OrderTypeMarket, Side: item.Side.Opposite(), Qty: remaining, Status: model.OrderNew,
	}
	if err := c.store.CreateOrderIntent(order); err != nil {
		c.markEodFailed(item, "writing EOD intent: "+err.Error())
		return
	}

	brokerOrderID, marketCode, err := c.broker.SendExit(ctx, broker.ExitRequest{
		Symbol: item.Symbol, MarketCode: item.MarketCode, Product: item.Product, EntrySide: item.Side,
		Qty: remaining.String(), OrderType: model.OrderTypeMarket, HoldID: item.PositionHoldID, ClientRef: order.ClientRef,
	})
	if err != nil {
		c.markEodFailed(item, "EOD submit: "+err.Error())
		return
	}
	_ = c.store.UpdateOrderAccepted(order.ID, brokerOrderID, marketCode)

	if _, err := c.store.TransitionItem(item, model.ItemEodMarketSent, nil); err != nil {
		log.WithError(err).Error("transitioning item to EOD_MARKET_SENT")
	}
	_ = c.store.LogEvent(&model.EventLog{
		BatchJobID: &item.BatchJobID, BatchItemID: &item.ID, Level: "WARN", EventType: "EOD_FORCE_CLOSE",
		Message: fmt.Sprintf("eod_order_id=%s qty=%s", brokerOrderID, remaining.String()),
	})
}

// cancelPollInterval is how often waitForCancelConfirmation re-checks the
// legs' Store rows while inside its cfg.CancelWaitMs budget.
const cancelPollInterval = 100 * time.Millisecond

// CancelBrackets is exported for the Supervisor's cancel-item-brackets
// command.
func (c *Closer) CancelBrackets(ctx context.Context, item model.BatchItem) {
	groups, err := c.store.ListActiveOcoGroupsByItem(item.ID)
	if err != nil {
		return
	}
	for _, g := range groups {
		tpPending := c.cancelIfSet(ctx, g.TPOrderID)
		slPending := c.cancelIfSet(ctx, g.SLOrderID)
		if tpPending || slPending {
			c.waitForCancelConfirmation(g.TPOrderID, g.SLOrderID)
		}
		if ok, err := c.store.TransitionOcoGroup(g, model.OcoClosed, map[string]interface{}{"closed_substate": model.CloseSubstateEOD}); err != nil {
			c.log.WithError(err).WithField("oco_group_id", g.ID).Warn("closing OCO group at EOD")
		} else if ok && c.metrics != nil {
			c.metrics.OcoGroupsClosedTotal.WithLabelValues(string(model.CloseSubstateEOD)).Inc()
		}
	}
}

func (c *Closer) cancelIfSet(ctx context.Context, orderID *uint) bool {
	if orderID == nil {
		return false
	}
	order, err := c.store.GetOrder(*orderID)
	if err != nil || order == nil || order.BrokerOrderID == "" || order.Status.IsTerminal() {
		return false
	}
	if err := c.broker.CancelOrder(ctx, order.BrokerOrderID); err != nil {
		c.log.WithError(err).WithField("broker_order_id", order.BrokerOrderID).Warn("cancelling bracket leg at EOD")
		return false
	}
	return true
}

// waitForCancelConfirmation blocks up to cfg.CancelWaitMs (spec.md §4.6)
// for the given legs to reach a terminal Store status via the Watcher's
// ongoing polling, rather than promoting the group to CLOSED out from
// under a cancel request that hasn't actually confirmed yet. It gives up
// and returns once the budget is spent regardless of outcome; the group
// still closes afterward, matching the spec's "at most" wording.
func (c *Closer) waitForCancelConfirmation(orderIDs ...*uint) {
	deadline := time.Now().Add(c.cfg.CancelWaitMs)
	for {
		allTerminal := true
		for _, id := range orderIDs {
			if id == nil {
				continue
			}
			order, err := c.store.GetOrder(*id)
			if err != nil || order == nil || !order.Status.IsTerminal() {
				allTerminal = false
			}
		}
		if allTerminal || !time.Now().Before(deadline) {
			return
		}
		time.Sleep(cancelPollInterval)
	}
}

func (c *Closer) markEodFailed(item model.BatchItem, reason string) {
	if _, err := c.store.TransitionItem(item, model.ItemError, map[string]interface{}{"last_error": reason}); err != nil {
		c.log.WithError(err).WithField("batch_item_id", item.ID).Error("marking item ERROR after EOD failure")
	}
	_ = c.store.LogEvent(&model.EventLog{BatchJobID: &item.BatchJobID, BatchItemID: &item.ID, Level: "ERROR", EventType: "EOD_FAILED", Message: reason})
}

// reconcileSentFlattens closes any EOD_MARKET_SENT item whose flattening
// order the Watcher has since observed as FILLED.
func (c *Closer) reconcileSentFlattens() {
	items, err := c.store.ListEodMarketSentItems()
	if err != nil {
		c.log.WithError(err).Error("listing EOD_MARKET_SENT items")
		return
	}
	for _, item := range items {
		latest, err := c.latestEodOrder(item.ID)
		if err != nil || latest == nil || latest.Status != model.OrderFilled {
			continue
		}
		if _, err := c.store.TransitionItem(item, model.ItemClosed, map[string]interface{}{
			"closed_qty": item.ClosedQty.Add(latest.CumQty),
		}); err != nil {
			c.log.WithError(err).WithField("batch_item_id", item.ID).Error("closing item after EOD fill")
			continue
		}
		_ = c.store.LogEvent(&model.EventLog{BatchJobID: &item.BatchJobID, BatchItemID: &item.ID, Level: "INFO", EventType: "EOD_FILLED"})
	}
}

func (c *Closer) latestEodOrder(itemID uint) (*model.Order, error) {
	orders, err := c.store.ListOrdersByItem(itemID)
	if err != nil {
		return nil, err
	}
	for i := len(orders) - 1; i >= 0; i-- {
		if orders[i].Role == model.OrderRoleEOD {
			return &orders[i], nil
		}
	}
	return nil, nil
}

// Run ticks once a minute until ctx is cancelled — the EOD trigger only
// needs minute-granularity wall-clock resolution.
func (c *Closer) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("eod closer stopped")
			return nil
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}
