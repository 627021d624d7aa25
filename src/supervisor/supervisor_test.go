package supervisor

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	logger "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"strategyexecutor/src/model"
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

func newTestSupervisor(s *store.Store) *Supervisor {
	return &Supervisor{store: s, log: logger.NewEntry(logger.New())}
}

func TestCreateBatch_AssignsClientRefsAndAudits(t *testing.T) {
	s, mock := newMockStore(t)
	sv := newTestSupervisor(s)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "batch_jobs"`).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectQuery(`INSERT INTO "batch_items"`).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "audit_logs"`).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	job := &model.BatchJob{BatchCode: "B1", AccountID: 1, ScheduleMode: model.ScheduleModeImmediate}
	items := []*model.BatchItem{{Symbol: "7203", Product: model.ProductCash, Side: model.SideBuy}}

	err := sv.CreateBatch("operator1", job, items)
	require.NoError(t, err)
	require.NotEmpty(t, items[0].ClientRef)
	require.Equal(t, model.ItemReady, items[0].Status)
	require.Equal(t, model.BatchJobScheduled, job.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPauseThenResumeBatch_RoundTrips(t *testing.T) {
	s, mock := newMockStore(t)
	sv := newTestSupervisor(s)

	mock.ExpectQuery(`SELECT \* FROM "batch_jobs"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status", "version"}).AddRow(1, "RUNNING", 1))
	mock.ExpectQuery(`SELECT \* FROM "batch_items"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "batch_job_id"}))
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "batch_jobs"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "audit_logs"`).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	err := sv.PauseBatch("operator1", 1, "manual intervention")
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT \* FROM "batch_jobs"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status", "version"}).AddRow(1, "PAUSED", 2))
	mock.ExpectQuery(`SELECT \* FROM "batch_items"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "batch_job_id"}))
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "batch_jobs"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "audit_logs"`).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	err = sv.ResumeBatch("operator1", 1, "resuming after review")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelBatch_IllegalFromTerminalStateIsRejectedAndAudited(t *testing.T) {
	s, mock := newMockStore(t)
	sv := newTestSupervisor(s)

	mock.ExpectQuery(`SELECT \* FROM "batch_jobs"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status", "version"}).AddRow(1, "DONE", 1))
	mock.ExpectQuery(`SELECT \* FROM "batch_items"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "batch_job_id"}))
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "audit_logs"`).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	err := sv.CancelBatch("operator1", 1, "too late")
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
