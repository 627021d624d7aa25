package store

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"strategyexecutor/src/model"
)

// newMockStore mirrors the teacher's newMockDB helper in
// src/repository/order_repository_test.go: sqlmock wrapped by the
// postgres dialector in simple-protocol mode so gorm's query builder
// produces plain $N-parameterized SQL we can match with regexp.
func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
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

	return WithDB(gdb), mock
}

func TestCountActiveBatchJobs_CountsRunningAndPaused(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT count\(\*\) FROM "batch_jobs" WHERE status IN`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	n, err := s.CountActiveBatchJobs()
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestCountItemsByStatus_CountsOneStatus(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT count\(\*\) FROM "batch_items" WHERE status = \$1`).
		WithArgs(string(model.ItemBracketSent)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))

	n, err := s.CountItemsByStatus(model.ItemBracketSent)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
}

func TestTransitionBatchJobToRunning_LoserSkipsCleanly(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "batch_jobs" SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	ok, err := s.TransitionBatchJobToRunning(1, time.Now())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTransitionBatchJobToRunning_WinnerApplies(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "batch_jobs" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ok, err := s.TransitionBatchJobToRunning(1, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTransitionItem_RejectsIllegalTransition(t *testing.T) {
	s, _ := newMockStore(t)

	item := model.BatchItem{ID: 1, Status: model.ItemClosed, Version: 1}
	ok, err := s.TransitionItem(item, model.ItemReady, nil)
	assert.False(t, ok)
	assert.Error(t, err)
}

func TestTransitionItem_ConditionalUpdate(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "batch_items" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	item := model.BatchItem{ID: 5, Status: model.ItemReady, Version: 1}
	ok, err := s.TransitionItem(item, model.ItemEntrySent, map[string]interface{}{
		"entry_order_id": "ord-123",
	})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCreateBatch_TransactionalWrite(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "batch_jobs"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectQuery(`INSERT INTO "batch_items"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	job := &model.BatchJob{BatchCode: "20260306-0001", ScheduleMode: model.ScheduleModeImmediate}
	items := []*model.BatchItem{{Symbol: "9432", Product: model.ProductCash, Side: model.SideBuy, ClientRef: "ref-1"}}

	err := s.CreateBatch(job, items)
	require.NoError(t, err)
}
