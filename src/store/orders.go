package store

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"strategyexecutor/src/model"
)

// CreateOrderIntent writes the pre-submit intent row (spec.md §5:
// "checkpoint before every broker submit"). BrokerOrderID is empty until
// UpdateOrderAccepted fills it in; ClientRef is the idempotency key a
// restart uses to detect whether the submit already happened.
func (s *Store) CreateOrderIntent(order *model.Order) error {
	return s.db.Create(order).Error
}

// UpdateOrderAccepted records the broker's returned order id once the
// submit call returns successfully.
func (s *Store) UpdateOrderAccepted(orderID uint, brokerOrderID string, marketCode int) error {
	return s.db.Model(&model.Order{}).Where("id = ?", orderID).Updates(map[string]interface{}{
		"broker_order_id": brokerOrderID,
		"market_code":     marketCode,
		"status":          model.OrderWorking,
		"version":         gorm.Expr("version + 1"),
	}).Error
}

// FindOrderByClientRef supports the restart-idempotency check: an intent
// row with no broker_order_id yet means the submit may or may not have
// reached the broker; the Watcher's orphan reconciliation is what settles
// it (spec.md §4.2 step 6).
func (s *Store) FindOrderByClientRef(ref string) (*model.Order, error) {
	var o model.Order
	err := s.db.First(&o, "client_ref = ?", ref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Store) GetOrder(id uint) (*model.Order, error) {
	var o model.Order
	err := s.db.First(&o, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Store) FindOrderByBrokerID(brokerOrderID string) (*model.Order, error) {
	var o model.Order
	err := s.db.First(&o, "broker_order_id = ?", brokerOrderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// ListOpenOrdersByItem returns non-terminal orders for an item, i.e. what
// would still need cancelling.
func (s *Store) ListOpenOrdersByItem(itemID uint) ([]model.Order, error) {
	var orders []model.Order
	err := s.db.Where("batch_item_id = ? AND status NOT IN ?", itemID,
		[]model.OrderStatus{model.OrderFilled, model.OrderCancelled, model.OrderExpired, model.OrderRejected}).
		Find(&orders).Error
	return orders, err
}

// ListOrdersByItem returns every order ever recorded for an item,
// including terminal ones, for callers that need to find a specific role's
// final outcome (e.g. the EOD Closer checking whether its flattening order
// filled).
func (s *Store) ListOrdersByItem(itemID uint) ([]model.Order, error) {
	var orders []model.Order
	err := s.db.Where("batch_item_id = ?", itemID).Order("id asc").Find(&orders).Error
	return orders, err
}

// ApplyPoll is the Watcher's single read-modify-write per order (spec.md
// §4.4): guarded by the order's optimistic version, it updates
// status/cum_qty/avg_price and appends one Fill row for the observed
// delta, all in one transaction. A newCumQty that does not exceed the
// order's current cum_qty produces zero new Fill rows, and when the status
// is unchanged too the call is a no-op (idempotent replay of the same poll
// response, spec.md §8).
func (s *Store) ApplyPoll(order model.Order, newStatus model.OrderStatus, newCumQty decimal.Decimal, avgPrice decimal.Decimal, synthetic bool, observedAt time.Time) (bool, error) {
	delta := newCumQty.Sub(order.CumQty)
	if delta.LessThanOrEqual(decimal.Zero) && newStatus == order.Status {
		return false, nil
	}

	ok := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Order{}).
			Where("id = ? AND version = ?", order.ID, order.Version).
			Updates(map[string]interface{}{
				"status":         newStatus,
				"cum_qty":        newCumQty,
				"avg_price":      avgPrice,
				"last_polled_at": observedAt,
				"version":        gorm.Expr("version + 1"),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil // lost the race; caller re-reads
		}
		ok = true
		if delta.GreaterThan(decimal.Zero) {
			fill := &model.Fill{
				OrderID:    order.ID,
				Qty:        delta,
				Price:      avgPrice,
				Synthetic:  synthetic,
				ObservedAt: observedAt,
			}
			if err := tx.Create(fill).Error; err != nil {
				return err
			}
		}
		return nil
	})
	return ok, err
}

// ListFillsByOrder returns every Fill recorded for an order, used to
// recompute filled_qty/avg_fill_price on the parent item.
func (s *Store) ListFillsByOrder(orderID uint) ([]model.Fill, error) {
	var fills []model.Fill
	err := s.db.Where("order_id = ?", orderID).Order("id asc").Find(&fills).Error
	return fills, err
}

// ListNonTerminalOrders returns every order the Watcher still needs to
// poll — anything not yet FILLED/CANCELLED/EXPIRED/REJECTED, across every
// batch (spec.md §4.4: the Watcher polls every open order, not just one
// batch's).
func (s *Store) ListNonTerminalOrders() ([]model.Order, error) {
	var orders []model.Order
	err := s.db.Where("status NOT IN ? AND broker_order_id != ''", []model.OrderStatus{
		model.OrderFilled, model.OrderCancelled, model.OrderExpired, model.OrderRejected,
	}).Find(&orders).Error
	return orders, err
}

// ListOrdersSubmittedSince supports the Watcher's orphan reconciliation:
// broker orders within the session window that the Store has no record
// of are logged, never adopted (spec.md §4.4).
func (s *Store) ListOrdersSubmittedSince(since time.Time) ([]model.Order, error) {
	var orders []model.Order
	err := s.db.Where("submitted_at >= ?", since).Find(&orders).Error
	return orders, err
}
