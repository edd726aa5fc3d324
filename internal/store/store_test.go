package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/kepco-scraper/api/schemas"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

func newMockStore(t *testing.T, logger *zap.Logger) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing()
	s, err := New(context.Background(), mockPool, logger)
	require.NoError(t, err)
	return s, mockPool
}

func sampleRecords() []schemas.BillingRecord {
	card := "카드"
	return []schemas.BillingRecord{
		{ClaimDate: schemas.NewDate(2024, time.February, 1).Ptr(), Usage: 300, Amount: 52340, Paid: 52340, PaymentMethod: &card},
		{ClaimDate: schemas.NewDate(2024, time.January, 1).Ptr(), Usage: 310, Paid: 50000, Unpaid: 3000},
	}
}

func TestNewStore(t *testing.T) {
	t.Run("should connect when ping succeeds", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing()

		s, err := New(context.Background(), mockPool, zap.NewNop())
		require.NoError(t, err)
		assert.NotNil(t, s)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = New(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr, "Error from ping should be propagated")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestMigrate(t *testing.T) {
	s, mockPool := newMockStore(t, zap.NewNop())
	mockPool.ExpectExec(flexibleSQLMatcher(sqlSchema)).WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestSaveSnapshot(t *testing.T) {
	ctx := context.Background()

	t.Run("should insert the snapshot and upsert each month", func(t *testing.T) {
		observedZapCore, observedLogs := observer.New(zapcore.ErrorLevel)
		s, mockPool := newMockStore(t, zap.New(observedZapCore))

		id := uuid.New()
		at := time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC)
		records := append(sampleRecords(), schemas.BillingRecord{Paid: 1})

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertSnapshot)).
			WithArgs(id, "kepco-on", "0123456789", "all-periods", 3, pgxmock.AnyArg(), at).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		for _, rec := range records[:2] {
			mockPool.ExpectExec(flexibleSQLMatcher(sqlUpsertRecord)).
				WithArgs("kepco-on", "0123456789", rec.ClaimDate.Time, pgxmock.AnyArg(), id).
				WillReturnResult(pgxmock.NewResult("INSERT", 1))
		}
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		got, err := s.SaveSnapshot(ctx, Snapshot{
			ID: id, Portal: "kepco-on", Account: "0123456789", Mode: "all-periods",
			Records: records, CapturedAt: at,
		})
		require.NoError(t, err)
		assert.Equal(t, id, got)
		assert.NoError(t, mockPool.ExpectationsWereMet())
		assert.Empty(t, observedLogs.All(), "Expected no errors logged on successful commit")
	})

	t.Run("should assign an id and roll back when an upsert fails", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		upsertErr := errors.New("constraint violation")

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertSnapshot)).
			WithArgs(pgxmock.AnyArg(), "pp", "0123456789", "latest-3", 2, pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectExec(flexibleSQLMatcher(sqlUpsertRecord)).
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnError(upsertErr)
		mockPool.ExpectRollback()

		_, err := s.SaveSnapshot(ctx, Snapshot{Portal: "pp", Account: "0123456789", Mode: "latest-3", Records: sampleRecords()})
		require.Error(t, err)
		assert.ErrorIs(t, err, upsertErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should fail when the transaction cannot begin", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		mockPool.ExpectBegin().WillReturnError(errors.New("pool exhausted"))

		_, err := s.SaveSnapshot(ctx, Snapshot{Portal: "pp", Account: "1"})
		assert.ErrorContains(t, err, "failed to begin transaction")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestLatestSnapshot(t *testing.T) {
	ctx := context.Background()
	columns := []string{"id", "mode", "records", "captured_at"}

	t.Run("should decode the stored records", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		id := uuid.New()
		at := time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC)
		payload, err := json.Marshal(sampleRecords())
		require.NoError(t, err)

		mockPool.ExpectQuery(flexibleSQLMatcher(sqlLatestSnapshot)).
			WithArgs("kepco-on", "0123456789").
			WillReturnRows(pgxmock.NewRows(columns).AddRow(id, "all-periods", payload, at))

		snap, err := s.LatestSnapshot(ctx, "kepco-on", "0123456789")
		require.NoError(t, err)
		assert.Equal(t, id, snap.ID)
		assert.Equal(t, "all-periods", snap.Mode)
		assert.Equal(t, at, snap.CapturedAt)
		if diff := cmp.Diff(sampleRecords(), snap.Records); diff != "" {
			t.Errorf("records mismatch (-want +got):\n%s", diff)
		}
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should report a missing snapshot", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlLatestSnapshot)).
			WithArgs("pp", "42").
			WillReturnRows(pgxmock.NewRows(columns))

		_, err := s.LatestSnapshot(ctx, "pp", "42")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}
