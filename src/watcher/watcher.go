// Package watcher implements the Watcher from spec.md §4.4: it polls the
// broker's order and position snapshots, applies observed fill deltas to
// local Order rows, advances entry items through ENTRY_PARTIAL/
// ENTRY_FILLED/ENTRY_FILLED_WAIT_PRICE, and assigns margin position
// handles once a unique match is found. Grounded on original_source's
// AppWorkerMixin._sync_orders_step (same polling/matching shape, trimmed
// of its raw-JSON candidate-diagnostics logging) and on the teacher's
// executors.StartLoop ticker idiom for the run loop.
package watcher

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"strategyexecutor/src/broker"
	"strategyexecutor/src/bus"
	"strategyexecutor/src/clock"
	"strategyexecutor/src/metrics"
	"strategyexecutor/src/model"
	"strategyexecutor/src/store"
)

type Watcher struct {
	store   *store.Store
	broker  *broker.Client
	clock   clock.Clock
	cfg     Config
	log     *logger.Entry
	metrics *metrics.Registry
	bus     *bus.Bus
	// sessionStart bounds orphan reconciliation (spec.md §4.4) to orders
	// submitted since this process started, matching the spec's "within
	// the current session" wording.
	sessionStart time.Time
}

func New(s *store.Store, b *broker.Client, c clock.Clock, cfg Config, log *logger.Entry) *Watcher {
	return &Watcher{store: s, broker: b, clock: c, cfg: cfg, log: log, sessionStart: c.Now()}
}

// SetMetrics wires a Registry in after construction; nil is a no-op.
func (w *Watcher) SetMetrics(r *metrics.Registry) { w.metrics = r }

// SetBus wires the fast-path fan-out in after construction; nil is a
// no-op, so the OCO Manager's next durable tick is always still correct.
func (w *Watcher) SetBus(b *bus.Bus) { w.bus = b }

// PollOnce runs one full poll pass: orders first (so fills are recorded),
// then positions (so the hold-id matching below sees up-to-date
// filled/closed quantities).
func (w *Watcher) PollOnce(ctx context.Context) {
	now := w.clock.Now()
	w.pollOrders(ctx, now)
	w.pollPositions(ctx, now)
}

func (w *Watcher) pollOrders(ctx context.Context, now time.Time) {
	local, err := w.store.ListNonTerminalOrders()
	if err != nil {
		w.log.WithError(err).Error("listing non-terminal orders")
		return
	}
	if len(local) == 0 {
		return
	}

	remote, err := w.broker.ListOrders(ctx)
	if err != nil {
		w.log.WithError(err).Warn("polling broker orders")
		return
	}
	byID := make(map[string]broker.BrokerOrder, len(remote))
	for _, o := range remote {
		if o.OrderID != "" {
			byID[o.OrderID] = o
		}
	}

	for _, order := range local {
		bo, found := byID[order.BrokerOrderID]
		if !found {
			continue
		}
		newStatus := bo.Status()
		cumQty := bo.CumQtyDecimal()
		avgPrice, havePrice := bo.AvgPrice()

		changed, err := w.store.ApplyPoll(order, newStatus, cumQty, avgPrice, false, now)
		if err != nil {
			w.log.WithError(err).WithField("order_id", order.ID).Error("applying poll result")
			continue
		}
		if !changed {
			continue
		}
		if w.metrics != nil && cumQty.GreaterThan(order.CumQty) {
			w.metrics.FillsProcessedTotal.Inc()
		}
		if order.Role != model.OrderRoleEntry {
			continue
		}
		w.advanceEntryItem(ctx, order.BatchItemID, newStatus, cumQty, avgPrice, havePrice, now)
	}

	w.logOrphanOrders(remote)
}

// logOrphanOrders implements spec.md §4.4's orphan/HoldID reconciliation:
// a broker order submitted within the current session that the Store has
// no record of at all (not merely no *open* record — the match loop above
// already covers that case via ApplyPoll) is logged at WARN with its full
// broker payload and never adopted into the state machine. This is what
// surfaces the crash window between an intent row's write and the
// broker's accept (spec.md §8 scenario 6).
func (w *Watcher) logOrphanOrders(remote []broker.BrokerOrder) {
	known, err := w.store.ListOrdersSubmittedSince(w.sessionStart)
	if err != nil {
		w.log.WithError(err).Warn("listing orders for orphan reconciliation")
		return
	}
	knownBrokerIDs := make(map[string]struct{}, len(known))
	for _, o := range known {
		if o.BrokerOrderID != "" {
			knownBrokerIDs[o.BrokerOrderID] = struct{}{}
		}
	}
	for _, bo := range remote {
		if bo.OrderID == "" {
			continue
		}
		if _, ok := knownBrokerIDs[bo.OrderID]; ok {
			continue
		}
		if stored, err := w.store.FindOrderByBrokerID(bo.OrderID); err == nil && stored != nil {
			continue
		}
		w.log.WithFields(map[string]interface{}{
			"broker_order_id": bo.OrderID, "payload": bo,
		}).Warn("broker order has no matching Store record")
	}
}

// advanceEntryItem mirrors _sync_orders_step's entry-role branch: FILLED
// with no resolvable avg price parks the item in
// ENTRY_FILLED_WAIT_PRICE rather than proceeding without a fill price to
// resolve TP/SL offsets against.
func (w *Watcher) advanceEntryItem(ctx context.Context, itemID uint, orderStatus model.OrderStatus, cumQty decimal.Decimal, avgPrice decimal.Decimal, havePrice bool, now time.Time) {
	item, err := w.store.GetBatchItem(itemID)
	if err != nil || item == nil {
		return
	}

	var to model.ItemStatus
	switch orderStatus {
	case model.OrderFilled:
		if havePrice {
			to = model.ItemEntryFilled
		} else {
			to = model.ItemEntryFilledWaitPx
			_ = w.store.LogEvent(&model.EventLog{
				BatchJobID: &item.BatchJobID, BatchItemID: &item.ID,
				Level: "WARN", EventType: "ENTRY_PRICE_UNAVAILABLE",
			})
		}
	case model.OrderPartial:
		to = model.ItemEntryPartial
	default:
		return
	}
	// An item already past its first bracket (per_partial fan-out has
	// opened at least one OCO group) stays in BRACKET_SENT on further
	// entry fills; it only needs filled_qty/avg_fill_price kept current
	// so the OCO Manager's next tick sees the newly uncovered delta.
	if item.Status == model.ItemBracketSent {
		to = model.ItemBracketSent
	}
	if !model.ValidateTransition(item.Status, to) {
		return
	}

	fields := map[string]interface{}{"filled_qty": cumQty}
	if havePrice {
		fields["avg_fill_price"] = avgPrice
	}
	if _, err := w.store.TransitionItem(*item, to, fields); err != nil {
		w.log.WithError(err).WithField("batch_item_id", item.ID).Error("advancing entry item")
		return
	}
	if w.bus != nil {
		w.bus.Publish(ctx, bus.ItemFilled{BatchItemID: item.ID})
	}
}

func (w *Watcher) pollPositions(ctx context.Context, now time.Time) {
	positions, err := w.broker.ListPositions(ctx)
	if err != nil {
		w.log.WithError(err).Warn("polling broker positions")
		return
	}

	for _, p := range positions {
		handle := p.HandleID()
		leaves := p.LeavesQtyDecimal()
		if p.Symbol == "" || handle == "" || leaves.Sign() <= 0 {
			continue
		}
		_ = w.store.SavePositionSnapshot(&model.PositionSnapshot{
			Symbol: p.Symbol, HoldID: handle, Qty: leaves, LeavesQty: leaves, ObservedAt: now,
		})

		if !broker.IsValidHandle(handle) {
			continue
		}
		side := kabuSideToSide(p.Side)
		candidates, err := w.store.ListItemsAwaitingHoldID(p.Symbol, side)
		if err != nil || len(candidates) == 0 {
			continue
		}

		var matched *model.BatchItem
		matchCount := 0
		for i := range candidates {
			c := candidates[i]
			if c.RemainingOpenQty().Equal(leaves) {
				matched = &candidates[i]
				matchCount++
			}
		}
		if matchCount != 1 {
			w.log.WithFields(map[string]interface{}{
				"symbol": p.Symbol, "hold_id": handle, "candidates": len(candidates), "matched": matchCount,
			}).Warn("position handle match ambiguous or not found")
			continue
		}

		if err := w.store.SetItemPositionHoldID(matched.ID, handle); err != nil {
			w.log.WithError(err).WithField("batch_item_id", matched.ID).Error("assigning position handle")
			continue
		}
		_ = w.store.LogEvent(&model.EventLog{
			BatchJobID: &matched.BatchJobID, BatchItemID: &matched.ID,
			Level: "DEBUG", EventType: "HOLD_ID_ASSIGNED", Message: handle,
		})
	}
}

func kabuSideToSide(kabuSide string) model.Side {
	if kabuSide == "1" {
		return model.SideSell
	}
	return model.SideBuy
}

// Run polls on cfg.PollPeriod until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.PollPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("watcher stopped")
			return nil
		case <-ticker.C:
			w.PollOnce(ctx)
		}
	}
}
