package watcher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	logger "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"strategyexecutor/src/broker"
	"strategyexecutor/src/clock"
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

func TestPollOnce_NoOpenOrdersSkipsBrokerCall(t *testing.T) {
	s, mock := newMockStore(t)
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode([]broker.BrokerOrder{})
	}))
	t.Cleanup(srv.Close)

	limits := ratelimit.New(ratelimit.Config{OrderCallsPerSecond: 1000, OrderBurst: 1000, InfoCallsPerSecond: 1000, InfoBurst: 1000})
	b := broker.New(broker.Config{BaseURL: srv.URL, RequestTimeout: 2 * time.Second, RetryAttempts: 1}, "pw", limits, logger.NewEntry(logger.New()))

	mock.ExpectQuery(`SELECT \* FROM "orders"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	w := New(s, b, clock.NewFake(time.Now()), Config{PollPeriod: time.Second}, logger.NewEntry(logger.New()))
	w.pollOrders(context.Background(), time.Now())
	require.Equal(t, 0, calls)
}

// TestLogOrphanOrders_SkipsKnownAndFlagsUnknown covers spec.md §4.4's
// orphan reconciliation: a broker order the Store has a submitted-since
// record for is left alone, one it has never heard of is only ever
// logged, never adopted into the state machine.
func TestLogOrphanOrders_SkipsKnownAndFlagsUnknown(t *testing.T) {
	s, mock := newMockStore(t)
	w := &Watcher{store: s, log: logger.NewEntry(logger.New()), sessionStart: time.Now()}

	mock.ExpectQuery(`SELECT \* FROM "orders" WHERE submitted_at`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "broker_order_id"}).AddRow(1, "known-1"))

	remote := []broker.BrokerOrder{{OrderID: "known-1"}, {OrderID: "orphan-1"}}
	w.logOrphanOrders(remote)
	require.NoError(t, mock.ExpectationsWereMet())
}
