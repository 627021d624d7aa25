// Package oco implements the OCO Manager from spec.md §4.5: once an
// item's entry is filled it submits a TP/SL bracket, then watches for
// either leg to fill and cancels the other (mutual cancellation). A
// second-leg submit failure after the first leg succeeded rolls the first
// leg back by cancelling it (spec.md §4.5 step 4); a rollback cancel that
// fails is logged at ERROR. Grounded on
// original_source's AppWorkerMixin._oco_step, including its TP/SL
// direction validation and its exchange-mismatch-between-legs check.
package oco

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"strategyexecutor/src/apperr"
	"strategyexecutor/src/broker"
	"strategyexecutor/src/bus"
	"strategyexecutor/src/metrics"
	"strategyexecutor/src/model"
	"strategyexecutor/src/store"
)

type Manager struct {
	store   *store.Store
	broker  *broker.Client
	cfg     Config
	log     *logger.Entry
	metrics *metrics.Registry
	bus     *bus.Bus
}

func New(s *store.Store, b *broker.Client, cfg Config, log *logger.Entry) *Manager {
	return &Manager{store: s, broker: b, cfg: cfg, log: log}
}

// SetMetrics wires a Registry in after construction; nil is a no-op.
func (m *Manager) SetMetrics(r *metrics.Registry) { m.metrics = r }

// SetBus wires the fast-path fan-out in after construction; nil means
// Run only ever reacts on its own tick, which is still correct since the
// Store's filled_qty is the canonical trigger (spec.md §9).
func (m *Manager) SetBus(b *bus.Bus) { m.bus = b }

// SubmitBrackets handles every item ready for its OCO bracket.
func (m *Manager) SubmitBrackets(ctx context.Context) {
	items, err := m.store.ListItemsAwaitingOco()
	if err != nil {
		m.log.WithError(err).Error("listing items awaiting OCO")
		return
	}
	for _, item := range items {
		m.submitBracket(ctx, item)
	}
}

func (m *Manager) submitBracket(ctx context.Context, item model.BatchItem) {
	log := m.log.WithField("batch_item_id", item.ID)

	if item.Product == model.ProductMargin && item.PositionHoldID == "" {
		const waitMsg = "waiting for position handle before submitting TP/SL"
		if item.LastError != waitMsg {
			_ = m.store.SetItemLastError(item.ID, waitMsg)
			_ = m.store.LogEvent(&model.EventLog{BatchJobID: &item.BatchJobID, BatchItemID: &item.ID, Level: "WARN", EventType: "OCO_WAIT_HOLD_ID"})
		}
		return
	}

	if item.RemainingOpenQty().Sign() <= 0 {
		if _, err := m.store.TransitionItem(item, model.ItemClosed, nil); err != nil {
			log.WithError(err).Error("closing item with no remaining qty")
		}
		_ = m.store.LogEvent(&model.EventLog{BatchJobID: &item.BatchJobID, BatchItemID: &item.ID, Level: "INFO", EventType: "OCO_NO_REMAINING"})
		return
	}

	groups, err := m.store.ListOcoGroupsByItem(item.ID)
	if err != nil {
		log.WithError(err).Error("listing OCO groups for item")
		return
	}

	if m.cfg.Mode == ModePostComplete {
		if item.Status != model.ItemEntryFilled && item.Status != model.ItemEntryFilledWaitPx {
			return // post_complete waits out the rest of the fill before bracketing anything
		}
		if len(groups) > 0 {
			return // post_complete opens exactly one group per item, ever
		}
	}

	qty := uncoveredQty(item, groups)
	if qty.Sign() <= 0 {
		return // every filled slice already has a bracket covering it
	}

	if item.AvgFillPrice == nil || item.AvgFillPrice.Sign() <= 0 {
		if item.Status != model.ItemEntryFilledWaitPx && item.Status != model.ItemBracketSent {
			if _, err := m.store.TransitionItem(item, model.ItemEntryFilledWaitPx, map[string]interface{}{"last_error": "waiting for fill price before computing TP/SL"}); err != nil {
				log.WithError(err).Warn("parking item pending fill price")
			}
		}
		return
	}

	tpAbs := item.ResolveTP()
	slAbs := item.ResolveSL()
	if err := validateOcoPrices(item.Side, *item.AvgFillPrice, tpAbs, slAbs); err != nil {
		m.markError(item, err.Error())
		return
	}

	group := &model.OcoGroup{BatchItemID: item.ID, Qty: qty, Status: model.OcoPreparing}
	if err := m.store.CreateOcoGroupPreparing(group); err != nil {
		log.WithError(err).Error("writing OCO group intent")
		m.markError(item, "writing OCO group intent: "+err.Error())
		return
	}

	tpOrder, slOrder, err := m.submitBothLegs(ctx, item, qty, tpAbs, slAbs)
	if err != nil {
		log.WithError(err).Error("submitting bracket")
		m.markError(item, "OCO submit: "+err.Error())
		return
	}

	if m.metrics != nil {
		m.metrics.OcoGroupsOpenedTotal.Inc()
	}

	if err := m.store.AttachOcoLegs(group.ID, tpOrder.ID, slOrder.ID); err != nil {
		log.WithError(err).Error("attaching OCO legs")
		return
	}
	if _, err := m.store.TransitionItem(item, model.ItemBracketSent, map[string]interface{}{}); err != nil {
		log.WithError(err).Error("transitioning item to BRACKET_SENT")
	}
	_ = m.store.LogEvent(&model.EventLog{
		BatchJobID: &item.BatchJobID, BatchItemID: &item.ID, Level: "INFO", EventType: "OCO_SENT",
		Message: fmt.Sprintf("tp=%s sl=%s qty=%s", tpOrder.BrokerOrderID, slOrder.BrokerOrderID, qty.String()),
	})
}

// submitBothLegs submits TP then SL. If SL fails after TP succeeded, it
// cancels the TP leg so no naked take-profit order survives. A failed
// rollback cancel is only logged at ERROR by rollbackLeg; the SL error is
// returned as is, not as apperr.KindBracketRollbackFailed. That kind is
// returned only when the two legs resolved to different market codes.
func (m *Manager) submitBothLegs(ctx context.Context, item model.BatchItem, qty, tpAbs, slAbs decimal.Decimal) (*model.Order, *model.Order, error) {
	tpOrder := &model.Order{BatchItemID: item.ID, Role: model.OrderRoleTP, ClientRef: uuid.NewString(), OrderType: model.OrderTypeLimit, Side: item.Side.Opposite(), Qty: qty, Price: &tpAbs, Status: model.OrderNew}
	if err := m.store.CreateOrderIntent(tpOrder); err != nil {
		return nil, nil, fmt.Errorf("writing TP intent: %w", err)
	}
	tpBrokerID, tpMarketCode, err := m.broker.SendExit(ctx, broker.ExitRequest{
		Symbol: item.Symbol, MarketCode: item.MarketCode, Product: item.Product, EntrySide: item.Side,
		Qty: qty.String(), OrderType: model.OrderTypeLimit, Price: tpAbs.String(), HoldID: item.PositionHoldID, ClientRef: tpOrder.ClientRef,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("submitting TP: %w", err)
	}
	_ = m.store.UpdateOrderAccepted(tpOrder.ID, tpBrokerID, tpMarketCode)
	tpOrder.BrokerOrderID = tpBrokerID

	slOrder := &model.Order{BatchItemID: item.ID, Role: model.OrderRoleSL, ClientRef: uuid.NewString(), OrderType: model.OrderTypeStop, Side: item.Side.Opposite(), Qty: qty, TriggerPrice: &slAbs, Status: model.OrderNew}
	if err := m.store.CreateOrderIntent(slOrder); err != nil {
		m.rollbackLeg(ctx, tpOrder)
		return nil, nil, fmt.Errorf("writing SL intent: %w", err)
	}
	slBrokerID, slMarketCode, err := m.broker.SendExit(ctx, broker.ExitRequest{
		Symbol: item.Symbol, MarketCode: item.MarketCode, Product: item.Product, EntrySide: item.Side,
		Qty: qty.String(), OrderType: model.OrderTypeStop, TriggerPrice: slAbs.String(), HoldID: item.PositionHoldID, ClientRef: slOrder.ClientRef,
	})
	if err != nil {
		m.rollbackLeg(ctx, tpOrder)
		return nil, nil, fmt.Errorf("submitting SL: %w", err)
	}
	_ = m.store.UpdateOrderAccepted(slOrder.ID, slBrokerID, slMarketCode)
	slOrder.BrokerOrderID = slBrokerID

	if tpMarketCode != slMarketCode {
		m.rollbackLeg(ctx, tpOrder)
		m.rollbackLeg(ctx, slOrder)
		return nil, nil, apperr.New(apperr.KindBracketRollbackFailed, fmt.Sprintf("TP/SL market code mismatch: tp=%d sl=%d", tpMarketCode, slMarketCode))
	}

	return tpOrder, slOrder, nil
}

func (m *Manager) rollbackLeg(ctx context.Context, order *model.Order) {
	if order.BrokerOrderID == "" {
		return
	}
	if m.metrics != nil {
		m.metrics.OcoRollbacksTotal.Inc()
	}
	if err := m.broker.CancelOrder(ctx, order.BrokerOrderID); err != nil {
		m.log.WithError(err).WithField("broker_order_id", order.BrokerOrderID).
			Error("rollback cancel failed; leg may still be live at the broker")
	}
}

// uncoveredQty is the fill-qty delta not yet covered by any OCO group the
// item has ever had — the quantity the next bracket must cover in
// per_partial mode (spec.md §4.5 step 1). A group covers its slice
// permanently once opened, whether it is still ACTIVE or long since
// CLOSED, so this sums every group ever created for the item.
func uncoveredQty(item model.BatchItem, groups []model.OcoGroup) decimal.Decimal {
	covered := decimal.Zero
	for i := range groups {
		covered = covered.Add(groups[i].Qty)
	}
	return item.FilledQty.Sub(covered)
}

func validateOcoPrices(side model.Side, avg, tpAbs, slAbs decimal.Decimal) error {
	if tpAbs.Sign() <= 0 || slAbs.Sign() <= 0 {
		return apperr.New(apperr.KindValidation, fmt.Sprintf("TP/SL resolved to a non-positive price: tp=%s sl=%s", tpAbs, slAbs))
	}
	switch side {
	case model.SideBuy:
		if !(tpAbs.GreaterThan(avg) && slAbs.LessThan(avg)) {
			return apperr.New(apperr.KindValidation, fmt.Sprintf("buy OCO direction invalid: avg=%s tp=%s sl=%s", avg, tpAbs, slAbs))
		}
	case model.SideSell:
		if !(tpAbs.LessThan(avg) && slAbs.GreaterThan(avg)) {
			return apperr.New(apperr.KindValidation, fmt.Sprintf("sell OCO direction invalid: avg=%s tp=%s sl=%s", avg, tpAbs, slAbs))
		}
	}
	return nil
}

func (m *Manager) markError(item model.BatchItem, reason string) {
	if _, err := m.store.TransitionItem(item, model.ItemError, map[string]interface{}{"last_error": reason}); err != nil {
		m.log.WithError(err).WithField("batch_item_id", item.ID).Error("marking item ERROR")
	}
	_ = m.store.LogEvent(&model.EventLog{BatchJobID: &item.BatchJobID, BatchItemID: &item.ID, Level: "ERROR", EventType: "OCO_FAILED", Message: reason})
}

// ReconcileClosures checks every BRACKET_SENT item's OCO groups in three
// stages (spec.md §4.5 steps 4-5): an ACTIVE group whose leg filled moves
// to TP_FILLED/SL_FILLED and has its sibling cancelled; a TP_FILLED/
// SL_FILLED group whose sibling has since been confirmed terminal is
// promoted to CLOSED; once every group the item has ever had is CLOSED
// and together covers filled_qty, the item itself closes. A per_partial
// item can have several groups open across its lifetime, so none of this
// happens on the first group's leg fill alone — every group must settle.
func (m *Manager) ReconcileClosures(ctx context.Context) {
	items, err := m.store.ListBracketSentItems()
	if err != nil {
		m.log.WithError(err).Error("listing BRACKET_SENT items")
		return
	}
	for _, item := range items {
		m.reconcileItem(ctx, item)
	}
}

func (m *Manager) reconcileItem(ctx context.Context, item model.BatchItem) {
	groups, err := m.store.ListOcoGroupsByItem(item.ID)
	if err != nil {
		m.log.WithError(err).WithField("batch_item_id", item.ID).Error("listing OCO groups for item")
		return
	}

	closedQty := decimal.Zero
	var substate model.CloseSubstate
	mixed := false
	settled := true

	for i := range groups {
		group := groups[i]
		switch group.Status {
		case model.OcoClosed:
			closedQty = closedQty.Add(group.Qty)
			substate = mergeSubstate(substate, group.ClosedSubstate, &mixed)
		case model.OcoTPFilled, model.OcoSLFilled:
			if m.promoteIfSiblingTerminal(group) {
				closedQty = closedQty.Add(group.Qty)
				substate = mergeSubstate(substate, group.ClosedSubstate, &mixed)
			} else {
				settled = false
			}
		case model.OcoActive:
			ok, errored := m.reconcileActiveGroup(ctx, item, group, len(groups) == 1)
			if errored {
				return // item already moved to ERROR; nothing left to close
			}
			if !ok {
				settled = false
			}
		}
	}

	if !settled || closedQty.Sign() <= 0 || closedQty.LessThan(item.FilledQty) {
		return
	}
	if mixed {
		substate = model.CloseSubstateMixed
	}
	if _, err := m.store.TransitionItem(item, model.ItemClosed, map[string]interface{}{
		"closed_qty":     closedQty,
		"close_substate": substate,
	}); err != nil {
		m.log.WithError(err).WithField("batch_item_id", item.ID).Error("closing item once every OCO group is accounted for")
		return
	}
	_ = m.store.LogEvent(&model.EventLog{BatchJobID: &item.BatchJobID, BatchItemID: &item.ID, Level: "INFO", EventType: "ITEM_CLOSED"})
}

func mergeSubstate(current, next model.CloseSubstate, mixed *bool) model.CloseSubstate {
	if current != "" && current != next {
		*mixed = true
	}
	return next
}

// reconcileActiveGroup inspects one ACTIVE group's legs. Both legs FILLED
// is the overfill race spec.md §7 calls out as rare but mandatory to
// detect (TP and SL both report fills on the same slice before either's
// cancel lands) — checked before the ordinary single-leg branches so it
// is never masked by them. Returns (settled, errored): settled is true
// once the group has moved off ACTIVE; errored is true if the overfill
// path fired, meaning the item itself moved to ERROR and the caller
// should stop reconciling its other groups. solo is true when this is the
// only OCO group the item has ever had, the case spec.md §4.3's item
// state machine describes literally (BRACKET_SENT -> TP_FILLED/SL_FILLED
// -> CLOSED); a per_partial item with several groups has no single
// substate to show at the item level until every group has settled, so it
// skips the item-level intermediate and closes directly once it does.
func (m *Manager) reconcileActiveGroup(ctx context.Context, item model.BatchItem, group model.OcoGroup, solo bool) (settled, errored bool) {
	var tp, sl *model.Order
	if group.TPOrderID != nil {
		tp, _ = m.store.GetOrder(*group.TPOrderID)
	}
	if group.SLOrderID != nil {
		sl, _ = m.store.GetOrder(*group.SLOrderID)
	}

	tpFilled := tp != nil && tp.Status == model.OrderFilled
	slFilled := sl != nil && sl.Status == model.OrderFilled

	switch {
	case tpFilled && slFilled:
		m.markOverfill(item, group, tp, sl)
		return true, true
	case tpFilled:
		m.closeOnLegFilled(ctx, item, group, tp, sl, model.CloseSubstateTP, solo)
		return true, false
	case slFilled:
		m.closeOnLegFilled(ctx, item, group, sl, tp, model.CloseSubstateSL, solo)
		return true, false
	default:
		return false, false
	}
}

func (m *Manager) closeOnLegFilled(ctx context.Context, item model.BatchItem, group model.OcoGroup, filled, other *model.Order, substate model.CloseSubstate, solo bool) {
	if other != nil && other.BrokerOrderID != "" && !other.Status.IsTerminal() {
		if err := m.broker.CancelOrder(ctx, other.BrokerOrderID); err != nil {
			m.log.WithError(err).WithField("broker_order_id", other.BrokerOrderID).Warn("cancelling opposite leg")
		}
	}
	to := model.OcoTPFilled
	itemTo := model.ItemTPFilled
	if substate == model.CloseSubstateSL {
		to = model.OcoSLFilled
		itemTo = model.ItemSLFilled
	}
	if _, err := m.store.TransitionOcoGroup(group, to, map[string]interface{}{"closed_substate": substate}); err != nil {
		m.log.WithError(err).Error("transitioning OCO group")
	}
	if solo && item.Status == model.ItemBracketSent {
		if _, err := m.store.TransitionItem(item, itemTo, nil); err != nil {
			m.log.WithError(err).WithField("batch_item_id", item.ID).Error("recording item-level leg-filled substate")
		}
	}
	_ = m.store.LogEvent(&model.EventLog{
		BatchJobID: &item.BatchJobID, BatchItemID: &item.ID, Level: "INFO", EventType: string(substate),
		Message: fmt.Sprintf("oco_group_id=%d broker_order_id=%s", group.ID, filled.BrokerOrderID),
	})
}

// promoteIfSiblingTerminal moves a TP_FILLED/SL_FILLED group to CLOSED
// once the cancelled sibling leg is confirmed terminal by the Watcher's
// poll — the step the group's lifecycle would otherwise never complete
// (model.OcoGroupStatus.IsTerminal is true only for CLOSED). The
// OcoGroupsClosedTotal counter fires here, at the point the group is
// actually closed, not when the first leg filled.
func (m *Manager) promoteIfSiblingTerminal(group model.OcoGroup) bool {
	siblingID := group.SLOrderID
	if group.Status == model.OcoSLFilled {
		siblingID = group.TPOrderID
	}
	if siblingID == nil {
		return false
	}
	sibling, err := m.store.GetOrder(*siblingID)
	if err != nil || sibling == nil || !sibling.Status.IsTerminal() {
		return false
	}
	substate := model.CloseSubstateTP
	if group.Status == model.OcoSLFilled {
		substate = model.CloseSubstateSL
	}
	ok, err := m.store.TransitionOcoGroup(group, model.OcoClosed, nil)
	if err != nil {
		m.log.WithError(err).WithField("oco_group_id", group.ID).Error("closing OCO group after sibling went terminal")
		return false
	}
	if !ok {
		return false
	}
	if m.metrics != nil {
		m.metrics.OcoGroupsClosedTotal.WithLabelValues(string(substate)).Inc()
	}
	return true
}

// markOverfill handles the both-legs-filled race spec.md §7 mandates be
// surfaced rather than silently resolved: the item goes to ERROR with no
// automatic re-hedge, and both the event log and the audit trail record
// it for an operator to untangle manually.
func (m *Manager) markOverfill(item model.BatchItem, group model.OcoGroup, tp, sl *model.Order) {
	reason := apperr.New(apperr.KindOverfillDetected, fmt.Sprintf(
		"both OCO legs filled for group %d on item %d: tp_order=%d sl_order=%d", group.ID, item.ID, tp.ID, sl.ID)).Error()
	m.log.WithField("batch_item_id", item.ID).WithField("oco_group_id", group.ID).Error(reason)
	if _, err := m.store.TransitionItem(item, model.ItemError, map[string]interface{}{"last_error": reason}); err != nil {
		m.log.WithError(err).WithField("batch_item_id", item.ID).Error("marking item ERROR after overfill")
	}
	_ = m.store.LogEvent(&model.EventLog{BatchJobID: &item.BatchJobID, BatchItemID: &item.ID, Level: "ERROR", EventType: "OVERFILL_DETECTED", Message: reason})
	_ = m.store.LogAudit(&model.AuditLog{Actor: "system", Command: "overfill_detected", BatchJobID: &item.BatchJobID, Reason: reason, Outcome: "rejected"})
}

// Run ticks SubmitBrackets then ReconcileClosures until ctx is cancelled.
// When a Bus is wired in, a fast-path nudge from the Watcher runs the same
// pass immediately instead of waiting out the rest of the tick; the tick
// itself never goes away, since the Store's filled_qty is still the
// canonical trigger this loop falls back to (spec.md §9).
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.TickPeriod)
	defer ticker.Stop()

	var nudges <-chan bus.ItemFilled
	if m.bus != nil {
		nudges = m.bus.Subscribe()
	}

	for {
		select {
		case <-ctx.Done():
			m.log.Info("oco manager stopped")
			return nil
		case <-ticker.C:
			m.SubmitBrackets(ctx)
			m.ReconcileClosures(ctx)
		case <-nudges:
			m.SubmitBrackets(ctx)
			m.ReconcileClosures(ctx)
		}
	}
}
