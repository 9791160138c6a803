package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/parcelpicker/internal/db"
	"github.com/sells-group/parcelpicker/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	now     func() time.Time
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

var (
	upsertParcelSQL = db.MustUpsertSQL(db.UpsertConfig{
		Table:        "parcels",
		Columns:      []string{"parcel_id", "owner_name", "normalized_owner_name", "site_address", "geometry", "source", "updated_at"},
		ConflictKeys: []string{"parcel_id"},
	})
	upsertMembershipSQL = db.MustUpsertSQL(db.UpsertConfig{
		Table:        "run_parcels",
		Columns:      []string{"run_id", "parcel_id", "ring_number", "is_seed", "matched_by"},
		ConflictKeys: []string{"run_id", "parcel_id"},
	})
	upsertAliasSQL = db.MustUpsertSQL(db.UpsertConfig{
		Table:        "address_aliases",
		Columns:      []string{"address", "parcel_id", "updated_at"},
		ConflictKeys: []string{"address"},
	})
)

const (
	pgInsertRunSQL = `INSERT INTO lookup_runs (id, input_address, input_lon, input_lat, rings_requested, status, provider, llm_enabled, from_cache, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	pgCompleteRunSQL = `UPDATE lookup_runs SET status = $1, seed_parcel_id = $2, summary = $3, error = $4, completed_at = $5
	WHERE id = $6 AND status = $7`
	pgResolveAliasSQL = `SELECT parcel_id FROM address_aliases WHERE address = $1 AND updated_at >= $2`
	pgRecentRunSQL    = `SELECT id FROM lookup_runs
	WHERE seed_parcel_id = $1 AND status = ANY($2) AND rings_requested >= $3 AND created_at >= $4
	ORDER BY created_at DESC LIMIT 1`
)

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the statements every run issues.
var preparedStatements = map[string]string{
	"insert_run":      pgInsertRunSQL,
	"complete_run":    pgCompleteRunSQL,
	"upsert_parcel":   upsertParcelSQL,
	"add_membership":  upsertMembershipSQL,
	"upsert_alias":    upsertAliasSQL,
	"resolve_alias":   pgResolveAliasSQL,
	"recent_run_seed": pgRecentRunSQL,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return newPostgresStore(pool, pool.Close), nil
}

func newPostgresStore(pool db.Pool, closeFn func()) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: closeFn, now: func() time.Time { return time.Now().UTC() }}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS lookup_runs (
	id              TEXT PRIMARY KEY,
	input_address   TEXT NOT NULL,
	input_lon       DOUBLE PRECISION,
	input_lat       DOUBLE PRECISION,
	rings_requested INTEGER NOT NULL,
	status          TEXT NOT NULL DEFAULT 'running',
	provider        TEXT NOT NULL,
	llm_enabled     BOOLEAN NOT NULL DEFAULT false,
	from_cache      BOOLEAN NOT NULL DEFAULT false,
	seed_parcel_id  TEXT,
	summary         TEXT,
	error           TEXT,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at    TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS parcels (
	parcel_id             TEXT PRIMARY KEY,
	owner_name            TEXT NOT NULL DEFAULT '',
	normalized_owner_name TEXT,
	site_address          TEXT,
	geometry              JSONB,
	source                TEXT NOT NULL,
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS run_parcels (
	run_id      TEXT NOT NULL REFERENCES lookup_runs(id),
	parcel_id   TEXT NOT NULL REFERENCES parcels(parcel_id),
	ring_number INTEGER NOT NULL CHECK (ring_number >= 0),
	is_seed     BOOLEAN NOT NULL DEFAULT false,
	matched_by  TEXT NOT NULL,
	PRIMARY KEY (run_id, parcel_id)
);

CREATE TABLE IF NOT EXISTS address_aliases (
	address    TEXT PRIMARY KEY,
	parcel_id  TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_lookup_runs_created_at ON lookup_runs(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_lookup_runs_seed ON lookup_runs(seed_parcel_id, status, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_run_parcels_parcel_id ON run_parcels(parcel_id);
CREATE INDEX IF NOT EXISTS idx_parcels_updated_at ON parcels(updated_at DESC);
CREATE INDEX IF NOT EXISTS idx_parcels_polygon ON parcels((geometry->>'type')) WHERE geometry IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_address_aliases_updated_at ON address_aliases(updated_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, in model.NewRun) (*model.Run, error) {
	id := uuid.New().String()
	now := s.now()
	lon, lat := pointArgs(in.InputPoint)

	_, err := s.pool.Exec(ctx, pgInsertRunSQL,
		id, in.InputAddress, lon, lat, in.RingsRequested, string(model.RunStatusRunning),
		in.Provider, in.AssistEnabled, in.FromCache, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:             id,
		InputAddress:   in.InputAddress,
		InputPoint:     in.InputPoint,
		RingsRequested: in.RingsRequested,
		Status:         model.RunStatusRunning,
		Provider:       in.Provider,
		AssistEnabled:  in.AssistEnabled,
		FromCache:      in.FromCache,
		CreatedAt:      now,
		Parcels:        []model.RunParcel{},
	}, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, c model.CompleteRun) error {
	tag, err := s.pool.Exec(ctx, pgCompleteRunSQL,
		string(c.Status), nullable(c.SeedParcelID), nullable(c.Summary), nullable(c.Error), s.now(),
		runID, string(model.RunStatusRunning),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	var r runRow
	err := s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM lookup_runs r WHERE r.id = $1`, runID,
	).Scan(r.dest()...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	run := r.finish()

	rows, err := s.pool.Query(ctx,
		`SELECT `+parcelColumns+`, rp.ring_number, rp.is_seed, rp.matched_by
		 FROM run_parcels rp JOIN parcels p ON p.parcel_id = rp.parcel_id
		 WHERE rp.run_id = $1
		 ORDER BY rp.ring_number ASC, rp.is_seed DESC, rp.parcel_id ASC`, runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run parcels %s", runID)
	}
	defer rows.Close()

	for rows.Next() {
		var rp model.RunParcel
		var matchedBy string
		p, err := scanParcel(rows, &rp.RingNumber, &rp.IsSeed, &matchedBy)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run parcel")
		}
		rp.Parcel = p
		rp.MatchedBy = model.MatchMethod(matchedBy)
		run.Parcels = append(run.Parcels, rp)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate run parcels")
	}
	run.Recount()
	return &run, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+runColumns+`, `+parcelCountExpr+`, `+ownerCountExpr+`
		 FROM lookup_runs r ORDER BY r.created_at DESC, r.id DESC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r runRow
		var parcels, owners int
		if err := rows.Scan(r.dest(&parcels, &owners)...); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		run := r.finish()
		run.ParcelCount = parcels
		run.OwnerCount = owners
		runs = append(runs, run)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: iterate runs")
}

func (s *PostgresStore) GetRecentRunForSeed(ctx context.Context, parcelID string, minRings, maxAgeDays int) (*model.Run, error) {
	var runID string
	err := s.pool.QueryRow(ctx, pgRecentRunSQL,
		parcelID, reusableStatuses, minRings, cutoff(s.now(), maxAgeDays),
	).Scan(&runID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: recent run for seed %s", parcelID)
	}
	return s.GetRun(ctx, runID)
}

func (s *PostgresStore) UpsertParcel(ctx context.Context, p model.Parcel) error {
	geom, err := encodeGeometry(p.Geometry)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, upsertParcelSQL,
		p.ID, p.OwnerName, nullable(p.NormalizedOwnerName), nullable(p.SiteAddress), geom, p.Source, s.now(),
	)
	return eris.Wrapf(err, "postgres: upsert parcel %s", p.ID)
}

func (s *PostgresStore) AddRunMembership(ctx context.Context, m model.Membership) error {
	_, err := s.pool.Exec(ctx, upsertMembershipSQL,
		m.RunID, m.ParcelID, m.RingNumber, m.IsSeed, string(m.MatchedBy),
	)
	return eris.Wrapf(err, "postgres: add membership %s/%s", m.RunID, m.ParcelID)
}

func (s *PostgresStore) GetParcel(ctx context.Context, parcelID string) (*model.Parcel, error) {
	p, err := scanParcel(s.pool.QueryRow(ctx,
		`SELECT `+parcelColumns+` FROM parcels p WHERE p.parcel_id = $1`, parcelID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get parcel %s", parcelID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get parcel %s", parcelID)
	}
	return &p, nil
}

func (s *PostgresStore) ListRecentCachedParcels(ctx context.Context, maxAgeDays, limit int) ([]model.Parcel, error) {
	if limit <= 0 {
		limit = DefaultCachedScanLimit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+parcelColumns+` FROM parcels p
		 WHERE p.geometry->>'type' = 'Polygon'
		   AND EXISTS (
			SELECT 1 FROM run_parcels rp JOIN lookup_runs r ON r.id = rp.run_id
			WHERE rp.parcel_id = p.parcel_id AND r.status = ANY($1) AND r.created_at >= $2
		   )
		 ORDER BY p.updated_at DESC LIMIT $3`,
		reusableStatuses, cutoff(s.now(), maxAgeDays), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list cached parcels")
	}
	defer rows.Close()

	var parcels []model.Parcel
	for rows.Next() {
		p, err := scanParcel(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan cached parcel")
		}
		parcels = append(parcels, p)
	}
	return parcels, eris.Wrap(rows.Err(), "postgres: iterate cached parcels")
}

func (s *PostgresStore) ResolveAddressAlias(ctx context.Context, address string, maxAgeDays int) (string, error) {
	var parcelID string
	err := s.pool.QueryRow(ctx, pgResolveAliasSQL,
		strings.TrimSpace(address), cutoff(s.now(), maxAgeDays),
	).Scan(&parcelID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", eris.Wrapf(err, "postgres: resolve alias %q", address)
	}
	return parcelID, nil
}

func (s *PostgresStore) UpsertAddressAlias(ctx context.Context, address, parcelID string) error {
	address = strings.TrimSpace(address)
	if address == "" || parcelID == "" {
		return nil
	}
	_, err := s.pool.Exec(ctx, upsertAliasSQL, address, parcelID, s.now())
	return eris.Wrapf(err, "postgres: upsert alias %q", address)
}

func (s *PostgresStore) CleanupExpired(ctx context.Context, retentionDays int) (model.CleanupResult, error) {
	var out model.CleanupResult
	if retentionDays <= 0 {
		return out, nil
	}
	before := cutoff(s.now(), retentionDays)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return out, eris.Wrap(err, "postgres: begin cleanup")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	steps := []struct {
		query string
		count *int64
	}{
		{`DELETE FROM run_parcels WHERE run_id IN (SELECT id FROM lookup_runs WHERE created_at < $1)`, &out.Memberships},
		{`DELETE FROM lookup_runs WHERE created_at < $1`, &out.Runs},
		{`DELETE FROM parcels p WHERE p.updated_at < $1 AND NOT EXISTS (SELECT 1 FROM run_parcels rp WHERE rp.parcel_id = p.parcel_id)`, &out.Parcels},
		{`DELETE FROM address_aliases WHERE updated_at < $1`, &out.Aliases},
	}
	for _, step := range steps {
		tag, err := tx.Exec(ctx, step.query, before)
		if err != nil {
			return model.CleanupResult{}, eris.Wrap(err, "postgres: cleanup")
		}
		*step.count = tag.RowsAffected()
	}
	if err := tx.Commit(ctx); err != nil {
		return model.CleanupResult{}, eris.Wrap(err, "postgres: commit cleanup")
	}
	return out, nil
}
