package oco

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	logger "github.com/sirupsen/logrus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"strategyexecutor/src/model"
	"strategyexecutor/src/store"
)

// newMockStore mirrors the same sqlmock+postgres-dialector harness used
// throughout src/store, src/watcher and src/execution's tests.
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

func TestValidateOcoPrices_BuyDirectionMustBracketAvg(t *testing.T) {
	avg := decimal.RequireFromString("1000")

	err := validateOcoPrices(model.SideBuy, avg, decimal.RequireFromString("1050"), decimal.RequireFromString("950"))
	assert.NoError(t, err)

	err = validateOcoPrices(model.SideBuy, avg, decimal.RequireFromString("950"), decimal.RequireFromString("1050"))
	assert.Error(t, err)
}

func TestValidateOcoPrices_SellDirectionMustBracketAvg(t *testing.T) {
	avg := decimal.RequireFromString("1000")

	err := validateOcoPrices(model.SideSell, avg, decimal.RequireFromString("950"), decimal.RequireFromString("1050"))
	assert.NoError(t, err)

	err = validateOcoPrices(model.SideSell, avg, decimal.RequireFromString("1050"), decimal.RequireFromString("950"))
	assert.Error(t, err)
}

func TestValidateOcoPrices_NonPositivePriceRejected(t *testing.T) {
	err := validateOcoPrices(model.SideBuy, decimal.RequireFromString("1000"), decimal.Zero, decimal.RequireFromString("950"))
	assert.Error(t, err)
}

// TestReconcileActiveGroup_BothLegsFilledMarksOverfill covers the case
// where TP and SL both report FILLED on the same group before either's
// cancel lands (spec.md §7's rare race). The item must go to ERROR with no
// automatic re-hedge; the switch checks the both-filled case before either
// single-leg branch, so the TP branch never masks it.
func TestReconcileActiveGroup_BothLegsFilledMarksOverfill(t *testing.T) {
	s, mock := newMockStore(t)
	m := New(s, nil, Config{Mode: ModePerPartial}, logger.NewEntry(logger.New()))

	tpID, slID := uint(10), uint(11)
	group := model.OcoGroup{ID: 1, BatchItemID: 5, Qty: decimal.RequireFromString("100"), Status: model.OcoActive, TPOrderID: &tpID, SLOrderID: &slID}
	item := model.BatchItem{ID: 5, BatchJobID: 1, Status: model.ItemBracketSent, Version: 1, FilledQty: decimal.RequireFromString("100")}

	mock.ExpectQuery(`SELECT \* FROM "orders" WHERE id = \$1`).
		WithArgs(tpID, 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}).AddRow(tpID, string(model.OrderFilled)))
	mock.ExpectQuery(`SELECT \* FROM "orders" WHERE id = \$1`).
		WithArgs(slID, 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}).AddRow(slID, string(model.OrderFilled)))
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "batch_items" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "event_logs"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "audit_logs"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	settled, errored := m.reconcileActiveGroup(context.Background(), item, group, true)
	assert.True(t, settled)
	assert.True(t, errored)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestUncoveredQty_PerPartialFanOut is spec.md §8's boundary case made
// concrete: a 300-qty item that already has one CLOSED group covering an
// earlier 100-qty fill must report exactly 200 still uncovered once the
// entry's filled_qty reaches 300 — the size the next per_partial bracket
// has to cover, not the item's full remaining-open amount.
func TestUncoveredQty_PerPartialFanOut(t *testing.T) {
	item := model.BatchItem{FilledQty: decimal.RequireFromString("300")}
	groups := []model.OcoGroup{{Qty: decimal.RequireFromString("100"), Status: model.OcoClosed}}

	got := uncoveredQty(item, groups)
	assert.True(t, decimal.RequireFromString("200").Equal(got), "got %s", got)
}

func TestUncoveredQty_FullyCoveredIsZeroOrLess(t *testing.T) {
	item := model.BatchItem{FilledQty: decimal.RequireFromString("100")}
	groups := []model.OcoGroup{{Qty: decimal.RequireFromString("100"), Status: model.OcoActive}}

	got := uncoveredQty(item, groups)
	assert.True(t, got.Sign() <= 0)
}
