package store

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/parcelpicker/internal/geometry"
	"github.com/sells-group/parcelpicker/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return newPostgresStore(mock, nil), mock
}

func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS lookup_runs`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO lookup_runs`).
		WithArgs(anyArgs(10)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run, err := s.CreateRun(context.Background(), model.NewRun{InputAddress: "123 MAIN ST", RingsRequested: 1, Provider: "test"})
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.RunStatusRunning, run.Status)
	assert.Equal(t, "123 MAIN ST", run.InputAddress)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateRun_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO lookup_runs`).
		WithArgs(anyArgs(10)...).
		WillReturnError(errors.New("connection refused"))

	_, err := s.CreateRun(context.Background(), model.NewRun{InputAddress: "x", Provider: "test"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: insert run")
}

func TestPostgresStore_CompleteRun_NotRunning(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE lookup_runs SET status = \$1`).
		WithArgs(anyArgs(7)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.CompleteRun(context.Background(), "run-1", model.CompleteRun{Status: model.RunStatusCompleted})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM lookup_runs r WHERE r.id = \$1`).
		WithArgs("nonexistent-run").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), "nonexistent-run")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "get run")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertParcel(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	g, err := geometry.FromRings([][][]float64{{{0, 0}, {0, 1}, {1, 1}, {0, 0}}})
	require.NoError(t, err)

	mock.ExpectExec(`INSERT INTO "parcels" .* ON CONFLICT \("parcel_id"\) DO UPDATE SET "owner_name" = EXCLUDED."owner_name"`).
		WithArgs("P1", "Smith", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "test", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.UpsertParcel(context.Background(), model.Parcel{ID: "P1", OwnerName: "Smith", Geometry: g, Source: "test"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AddRunMembership(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO "run_parcels" .* ON CONFLICT \("run_id", "parcel_id"\) DO UPDATE SET`).
		WithArgs("run-1", "P2", 1, false, "touches_adjacency").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.AddRunMembership(context.Background(), model.Membership{
		RunID: "run-1", ParcelID: "P2", RingNumber: 1, MatchedBy: model.MatchTouches,
	}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ResolveAddressAlias(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT parcel_id FROM address_aliases`).
		WithArgs("123 MAIN ST", pgxmock.AnyArg()).
		WillReturnRows(mock.NewRows([]string{"parcel_id"}).AddRow("P1"))
	mock.ExpectQuery(`SELECT parcel_id FROM address_aliases`).
		WithArgs("9 NOWHERE RD", pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)

	id, err := s.ResolveAddressAlias(context.Background(), "123 MAIN ST", 7)
	require.NoError(t, err)
	assert.Equal(t, "P1", id)

	id, err = s.ResolveAddressAlias(context.Background(), "9 NOWHERE RD", 7)
	require.NoError(t, err)
	assert.Empty(t, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertAddressAlias_SkipsBlank(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	require.NoError(t, s.UpsertAddressAlias(context.Background(), "   ", "P1"))
	require.NoError(t, s.UpsertAddressAlias(context.Background(), "1 A ST", ""))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRecentRunForSeed_None(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id FROM lookup_runs`).
		WithArgs("P1", pgxmock.AnyArg(), 2, pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)

	run, err := s.GetRecentRunForSeed(context.Background(), "P1", 2, 7)
	require.NoError(t, err)
	assert.Nil(t, run)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CleanupExpired(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM run_parcels`).WithArgs(pgxmock.AnyArg()).WillReturnResult(pgxmock.NewResult("DELETE", 5))
	mock.ExpectExec(`DELETE FROM lookup_runs`).WithArgs(pgxmock.AnyArg()).WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectExec(`DELETE FROM parcels`).WithArgs(pgxmock.AnyArg()).WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectExec(`DELETE FROM address_aliases`).WithArgs(pgxmock.AnyArg()).WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	res, err := s.CleanupExpired(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, model.CleanupResult{Runs: 2, Memberships: 5, Parcels: 3, Aliases: 1}, res)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CleanupExpired_RollsBack(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM run_parcels`).WithArgs(pgxmock.AnyArg()).WillReturnError(errors.New("deadlock"))
	mock.ExpectRollback()

	_, err := s.CleanupExpired(context.Background(), 7)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: cleanup")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CleanupExpired_Disabled(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	res, err := s.CleanupExpired(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, model.CleanupResult{}, res)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Close(t *testing.T) {
	closed := false
	s := newPostgresStore(nil, func() { closed = true })
	require.NoError(t, s.Close())
	assert.True(t, closed)
}
