// Package execution implements the Execution Engine from spec.md §4.2: for
// each RUNNING batch it submits entry orders for every READY item and
// records the result. Grounded on original_source's
// AppWorkerMixin._execution_step (same READY-items-of-RUNNING-batches
// query, same intent-then-submit-then-accept sequencing) and on the
// teacher's controller.OrderController for the submit/record-on-success,
// mark-ERROR-on-failure split.
package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"strategyexecutor/src/apperr"
	"strategyexecutor/src/broker"
	"strategyexecutor/src/metrics"
	"strategyexecutor/src/model"
	"strategyexecutor/src/store"
)

type Engine struct {
	store   *store.Store
	broker  *broker.Client
	cfg     Config
	log     *logger.Entry
	metrics *metrics.Registry
}

func New(s *store.Store, b *broker.Client, cfg Config, log *logger.Entry) *Engine {
	return &Engine{store: s, broker: b, cfg: cfg, log: log}
}

// SetMetrics wires a Registry in after construction; nil is a no-op.
func (e *Engine) SetMetrics(r *metrics.Registry) { e.metrics = r }

// RunBatch submits every READY item belonging to batchJobID. A submit
// failure marks that one item ERROR and moves on — one bad item never
// blocks the rest of the batch (spec.md §4.2 edge cases).
func (e *Engine) RunBatch(ctx context.Context, batchJobID uint) error {
	items, err := e.store.ListReadyItems(batchJobID)
	if err != nil {
		return fmt.Errorf("listing ready items: %w", err)
	}
	for _, item := range items {
		e.submitEntry(ctx, item)
	}
	return nil
}

func (e *Engine) submitEntry(ctx context.Context, item model.BatchItem) {
	log := e.log.WithField("batch_item_id", item.ID)

	// Restart idempotency: an intent row with this ClientRef already means
	// either the broker call already happened (brokerOrderID set — nothing
	// to do, the Watcher will pick it up) or it was in flight when the
	// process died (brokerOrderID empty — the Watcher's orphan
	// reconciliation settles it, this engine never re-submits blindly).
	if item.ClientRef != "" {
		existing, err := e.store.FindOrderByClientRef(item.ClientRef)
		if err != nil {
			log.WithError(err).Error("checking existing intent")
			return
		}
		if existing != nil {
			log.Info("entry intent already recorded, skipping resubmit")
			return
		}
	}

	clientRef := item.ClientRef
	if clientRef == "" {
		clientRef = uuid.NewString()
	}

	order := &model.Order{
		BatchItemID: item.ID,
		Role:        model.OrderRoleEntry,
		ClientRef:   clientRef,
		OrderType:   model.OrderType(item.EntryType),
		Side:        item.Side,
		Qty:         item.Qty,
		Status:      model.OrderNew,
	}
	if item.EntryPrice != nil {
		order.Price = item.EntryPrice
	}
	if err := e.store.CreateOrderIntent(order); err != nil {
		log.WithError(err).Error("writing entry intent")
		e.markItemError(item, "writing entry intent: "+err.Error())
		return
	}

	brokerOrderID, resolvedMarketCode, err := e.broker.SendEntry(ctx, broker.EntryRequest{
		Symbol:     item.Symbol,
		MarketCode: item.MarketCode,
		Product:    item.Product,
		Side:       item.Side,
		Qty:        item.Qty.String(),
		EntryType:  item.EntryType,
		Price:      priceString(item.EntryPrice),
		ClientRef:  clientRef,
	})
	if err != nil {
		log.WithError(err).Error("submitting entry order")
		e.markItemError(item, "entry submit: "+err.Error())
		eventType := "ENTRY_FAILED"
		if errors.Is(err, apperr.Sentinel(apperr.KindBrokerRejected)) {
			eventType = "ORDER_REJECTED"
		}
		_ = e.store.LogEvent(&model.EventLog{BatchJobID: &item.BatchJobID, BatchItemID: &item.ID, Level: "ERROR", EventType: eventType, Message: err.Error()})
		e.countSubmit("entry", "error")
		return
	}
	e.countSubmit("entry", "ok")

	if err := e.store.UpdateOrderAccepted(order.ID, brokerOrderID, resolvedMarketCode); err != nil {
		log.WithError(err).Error("recording accepted entry order")
		return
	}

	ok, err := e.store.TransitionItem(item, model.ItemEntrySent, map[string]interface{}{
		"client_ref":  clientRef,
		"market_code": resolvedMarketCode,
	})
	if err != nil || !ok {
		log.WithError(err).Warn("item transition to ENTRY_SENT lost the race or failed; Watcher reconciles")
	}

	_ = e.store.LogEvent(&model.EventLog{
		BatchJobID: &item.BatchJobID, BatchItemID: &item.ID,
		Level: "INFO", EventType: "ORDER_SENT",
		Message: fmt.Sprintf("order_id=%s market_code=%d", brokerOrderID, resolvedMarketCode),
	})
}

func (e *Engine) countSubmit(role, outcome string) {
	if e.metrics == nil {
		return
	}
	e.metrics.OrdersSubmittedTotal.WithLabelValues(role, outcome).Inc()
}

func (e *Engine) markItemError(item model.BatchItem, reason string) {
	if _, err := e.store.TransitionItem(item, model.ItemError, map[string]interface{}{"last_error": reason}); err != nil {
		e.log.WithError(err).WithField("batch_item_id", item.ID).Error("marking item ERROR")
	}
}

func priceString(p *decimal.Decimal) string {
	if p == nil {
		return "0"
	}
	return p.String()
}

// RunAll drives one pass across every RUNNING batch, the query original_source's
// _execution_step runs before the per-item loop.
func (e *Engine) RunAll(ctx context.Context) {
	jobs, err := e.store.ListRunningBatchJobs()
	if err != nil {
		e.log.WithError(err).Error("listing running batches")
		return
	}
	for _, job := range jobs {
		if err := e.RunBatch(ctx, job.ID); err != nil {
			e.log.WithError(err).WithField("batch_job_id", job.ID).Error("running batch")
		}
	}
}

// Run ticks RunAll on cfg.TickPeriod until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.TickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.log.Info("execution engine stopped")
			return nil
		case <-ticker.C:
			e.RunAll(ctx)
		}
	}
}
