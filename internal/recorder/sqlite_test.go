package recorder

import (
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newMockRecorder(t *testing.T) (*SQLiteRecorder, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	// 4 tables, 4 indexes.
	for i := 0; i < 8; i++ {
		mock.ExpectExec("CREATE").WillReturnResult(sqlmock.NewResult(0, 0))
	}
	r, err := NewSQLiteRecorderFromDB(db, zap.NewNop())
	require.NoError(t, err)
	return r, mock
}

func TestSQLiteRecorder_RecordCycle(t *testing.T) {
	r, mock := newMockRecorder(t)

	mock.ExpectExec("INSERT INTO cycle_events").
		WithArgs(sqlmock.AnyArg(), "c-1", "pool-a", "USDC", ActionStart, int64(1_000_000), 3, 0, 0, "").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := r.RecordCycle(&CycleEvent{
		CycleID:        "c-1",
		Pool:           "pool-a",
		Asset:          "USDC",
		Action:         ActionStart,
		TotalLiquidity: 1_000_000,
		Steps:          3,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteRecorder_RecordDistributionStoresSharesAsJSON(t *testing.T) {
	r, mock := newMockRecorder(t)

	mock.ExpectExec("INSERT INTO distribution_events").
		WithArgs(sqlmock.AnyArg(), "USDC", "oracle-key", int64(7), "[500000000,500000000]").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := r.RecordDistribution(&DistributionEvent{
		Asset:     "USDC",
		Authority: "oracle-key",
		Sequence:  7,
		Shares:    []uint64{500_000_000, 500_000_000},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteRecorder_MigrateFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE").WillReturnError(assert.AnError)

	_, err = NewSQLiteRecorderFromDB(db, zap.NewNop())
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestSQLiteRecorder_RealDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	r, err := NewSQLiteRecorder(path, zap.NewNop())
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.RecordCycle(&CycleEvent{CycleID: "c-1", Pool: "p", Asset: "a", Action: ActionStart}))
	require.NoError(t, r.RecordStep(&StepEvent{CycleID: "c-1", Pool: "p", Asset: "a", Operation: "DEPOSIT", Amount: 10}))
	require.NoError(t, r.RecordStep(&StepEvent{CycleID: "c-1", Pool: "p", Asset: "a", Operation: "WITHDRAW", Error: "frozen"}))
	require.NoError(t, r.RecordIncome(&IncomeEvent{Pool: "p", Asset: "a", Accrued: []uint64{0, 5}, Total: 5}))

	var steps int
	require.NoError(t, r.db.QueryRow("SELECT COUNT(*) FROM step_events WHERE cycle_id = ?", "c-1").Scan(&steps))
	assert.Equal(t, 2, steps)

	var accrued string
	require.NoError(t, r.db.QueryRow("SELECT accrued FROM income_events").Scan(&accrued))
	assert.Equal(t, "[0,5]", accrued)
}
