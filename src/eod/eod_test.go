package eod

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	logger "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"strategyexecutor/src/broker"
	"strategyexecutor/src/clock"
	"strategyexecutor/src/model"
	"strategyexecutor/src/ratelimit"
	"strategyexecutor/src/store"
)

func newMockStore(t *testing.T) (*store.Store, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	dialector := postgres.New(postgres.Config{DSN: "sqlmock_db_0", Conn: sqlDB, PreferSimpleProtocol: true})
	gdb, err := gorm.Open(dialector, &gorm.Config{})
	require.NoError(t, err)
	return store.WithDB(gdb), mock
}

func TestTick_NoEligibleItemsIsANoop(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT .*FROM "batch_items"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`SELECT \* FROM "batch_items" WHERE status`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	limits := ratelimit.New(ratelimit.Config{OrderCallsPerSecond: 1000, OrderBurst: 1000, InfoCallsPerSecond: 1000, InfoBurst: 1000})
	b := broker.New(broker.Config{BaseURL: "http://localhost:1"}, "pw", limits, logger.NewEntry(logger.New()))

	c := New(s, b, clock.NewFake(time.Now()), Config{TriggerTime: "14:30"}, logger.NewEntry(logger.New()))
	c.Tick(context.Background())
}

// TestTick_WeekendSkipsForceCloseButStillReconciles covers spec.md §4.6's
// "on a business day" trigger condition: a Saturday tick must not query
// ListItemsForEodClose at all, but reconcileSentFlattens still has to run
// since an earlier flatten order can fill on any day.
func TestTick_WeekendSkipsForceCloseButStillReconciles(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT \* FROM "batch_items" WHERE status`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	limits := ratelimit.New(ratelimit.Config{OrderCallsPerSecond: 1000, OrderBurst: 1000, InfoCallsPerSecond: 1000, InfoBurst: 1000})
	b := broker.New(broker.Config{BaseURL: "http://localhost:1"}, "pw", limits, logger.NewEntry(logger.New()))

	saturday := time.Date(2026, time.August, 8, 14, 30, 0, 0, time.UTC)
	c := New(s, b, clock.NewFake(saturday), Config{TriggerTime: "14:30"}, logger.NewEntry(logger.New()))
	c.Tick(context.Background())
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestWaitForCancelConfirmation_ReturnsImmediatelyWhenTerminal covers the
// common case: the Watcher's last poll already landed a terminal status
// on the cancelled leg, so the bounded wait (spec.md §4.6 cancel.wait_ms)
// never has to sleep at all.
func TestWaitForCancelConfirmation_ReturnsImmediatelyWhenTerminal(t *testing.T) {
	s, mock := newMockStore(t)
	c := &Closer{store: s, cfg: Config{CancelWaitMs: 3 * time.Second}, log: logger.NewEntry(logger.New())}
	orderID := uint(9)

	mock.ExpectQuery(`SELECT \* FROM "orders" WHERE id = \$1`).
		WithArgs(orderID, 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}).AddRow(orderID, string(model.OrderCancelled)))

	start := time.Now()
	c.waitForCancelConfirmation(&orderID)
	require.Less(t, time.Since(start), 50*time.Millisecond)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestWaitForCancelConfirmation_GivesUpAfterBudget covers the degraded
// case: the leg never confirms terminal within cfg.CancelWaitMs, so the
// wait gives up once its budget is spent rather than blocking CancelBrackets
// indefinitely.
func TestWaitForCancelConfirmation_GivesUpAfterBudget(t *testing.T) {
	s, mock := newMockStore(t)
	c := &Closer{store: s, cfg: Config{CancelWaitMs: 50 * time.Millisecond}, log: logger.NewEntry(logger.New())}
	orderID := uint(7)

	mock.ExpectQuery(`SELECT \* FROM "orders" WHERE id = \$1`).
		WithArgs(orderID, 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}).AddRow(orderID, string(model.OrderNew)))
	mock.ExpectQuery(`SELECT \* FROM "orders" WHERE id = \$1`).
		WithArgs(orderID, 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}).AddRow(orderID, string(model.OrderNew)))

	start := time.Now()
	c.waitForCancelConfirmation(&orderID)
	require.Less(t, time.Since(start), 500*time.Millisecond)
	require.NoError(t, mock.ExpectationsWereMet())
}
