package execution

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	logger "github.com/sirupsen/logrus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"strategyexecutor/src/broker"
	"strategyexecutor/src/model"
	"strategyexecutor/src/ratelimit"
	"strategyexecutor/src/store"
)

func newMockStore(t *testing.T) (*store.Store, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	dialector := postgres.New(postgres.Config{
		DSN:                  "sqlmock_db_0",
		Conn:                 sqlDB,
		PreferSimpleProtocol: true,
	})
	gdb, err := gorm.Open(dialector, &gorm.Config{})
	require.NoError(t, err)

	return store.WithDB(gdb), mock
}

func newTestBroker(t *testing.T, handler http.HandlerFunc) *broker.Client {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := broker.Config{BaseURL: srv.URL, RequestTimeout: 2 * time.Second, RetryAttempts: 1, RetryBaseDelay: 5 * time.Millisecond, RetryMaxDelay: 10 * time.Millisecond}
	limits := ratelimit.New(ratelimit.Config{OrderCallsPerSecond: 1000, OrderBurst: 1000, InfoCallsPerSecond: 1000, InfoBurst: 1000})
	return broker.New(cfg, "pw", limits, logger.NewEntry(logger.New()))
}

func TestSubmitEntry_AlreadyRecordedSkipsResubmit(t *testing.T) {
	s, mock := newMockStore(t)
	calls := 0
	b := newTestBroker(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
	})
	e := New(s, b, Config{TickPeriod: time.Second}, logger.NewEntry(logger.New()))

	mock.ExpectQuery(`SELECT \* FROM "orders"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "client_ref"}).AddRow(1, "ref-1"))

	item := model.BatchItem{ID: 1, BatchJobID: 1, ClientRef: "ref-1", Qty: decimal.RequireFromString("100")}
	e.submitEntry(context.Background(), item)
	require.Equal(t, 0, calls)
}
