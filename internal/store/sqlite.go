package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/parcelpicker/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS lookup_runs (
	id              TEXT PRIMARY KEY,
	input_address   TEXT NOT NULL,
	input_lon       REAL,
	input_lat       REAL,
	rings_requested INTEGER NOT NULL,
	status          TEXT NOT NULL DEFAULT 'running',
	provider        TEXT NOT NULL,
	llm_enabled     BOOLEAN NOT NULL DEFAULT 0,
	from_cache      BOOLEAN NOT NULL DEFAULT 0,
	seed_parcel_id  TEXT,
	summary         TEXT,
	error           TEXT,
	created_at      DATETIME NOT NULL,
	completed_at    DATETIME
);

CREATE TABLE IF NOT EXISTS parcels (
	parcel_id             TEXT PRIMARY KEY,
	owner_name            TEXT NOT NULL DEFAULT '',
	normalized_owner_name TEXT,
	site_address          TEXT,
	geometry              TEXT,
	source                TEXT NOT NULL,
	updated_at            DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS run_parcels (
	run_id      TEXT NOT NULL REFERENCES lookup_runs(id),
	parcel_id   TEXT NOT NULL REFERENCES parcels(parcel_id),
	ring_number INTEGER NOT NULL CHECK (ring_number >= 0),
	is_seed     BOOLEAN NOT NULL DEFAULT 0,
	matched_by  TEXT NOT NULL,
	PRIMARY KEY (run_id, parcel_id)
);

CREATE TABLE IF NOT EXISTS address_aliases (
	address    TEXT PRIMARY KEY,
	parcel_id  TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_lookup_runs_created_at ON lookup_runs(created_at);
CREATE INDEX IF NOT EXISTS idx_lookup_runs_seed ON lookup_runs(seed_parcel_id, status);
CREATE INDEX IF NOT EXISTS idx_run_parcels_parcel_id ON run_parcels(parcel_id);
CREATE INDEX IF NOT EXISTS idx_parcels_updated_at ON parcels(updated_at);
CREATE INDEX IF NOT EXISTS idx_address_aliases_updated_at ON address_aliases(updated_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, in model.NewRun) (*model.Run, error) {
	id := uuid.New().String()
	now := s.now()
	lon, lat := pointArgs(in.InputPoint)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO lookup_runs (id, input_address, input_lon, input_lat, rings_requested, status, provider, llm_enabled, from_cache, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, in.InputAddress, lon, lat, in.RingsRequested, string(model.RunStatusRunning),
		in.Provider, in.AssistEnabled, in.FromCache, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
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

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, c model.CompleteRun) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE lookup_runs SET status = ?, seed_parcel_id = ?, summary = ?, error = ?, completed_at = ?
		 WHERE id = ? AND status = ?`,
		string(c.Status), nullable(c.SeedParcelID), nullable(c.Summary), nullable(c.Error), s.now(),
		runID, string(model.RunStatusRunning),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	var r runRow
	err := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM lookup_runs r WHERE r.id = ?`, runID,
	).Scan(r.dest()...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	run := r.finish()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+parcelColumns+`, rp.ring_number, rp.is_seed, rp.matched_by
		 FROM run_parcels rp JOIN parcels p ON p.parcel_id = rp.parcel_id
		 WHERE rp.run_id = ?
		 ORDER BY rp.ring_number ASC, rp.is_seed DESC, rp.parcel_id ASC`, runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run parcels %s", runID)
	}
	defer rows.Close()

	for rows.Next() {
		var rp model.RunParcel
		var matchedBy string
		p, err := scanParcel(rows, &rp.RingNumber, &rp.IsSeed, &matchedBy)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run parcel")
		}
		rp.Parcel = p
		rp.MatchedBy = model.MatchMethod(matchedBy)
		run.Parcels = append(run.Parcels, rp)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate run parcels")
	}
	run.Recount()
	return &run, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+`, `+parcelCountExpr+`, `+ownerCountExpr+`
		 FROM lookup_runs r ORDER BY r.created_at DESC, r.id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r runRow
		var parcels, owners int
		if err := rows.Scan(r.dest(&parcels, &owners)...); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		run := r.finish()
		run.ParcelCount = parcels
		run.OwnerCount = owners
		runs = append(runs, run)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: iterate runs")
}

func (s *SQLiteStore) GetRecentRunForSeed(ctx context.Context, parcelID string, minRings, maxAgeDays int) (*model.Run, error) {
	var runID string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM lookup_runs
		 WHERE seed_parcel_id = ? AND status IN (?, ?) AND rings_requested >= ? AND created_at >= ?
		 ORDER BY created_at DESC LIMIT 1`,
		parcelID, reusableStatuses[0], reusableStatuses[1], minRings, cutoff(s.now(), maxAgeDays),
	).Scan(&runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: recent run for seed %s", parcelID)
	}
	return s.GetRun(ctx, runID)
}

func (s *SQLiteStore) UpsertParcel(ctx context.Context, p model.Parcel) error {
	geom, err := encodeGeometry(p.Geometry)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO parcels (parcel_id, owner_name, normalized_owner_name, site_address, geometry, source, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(parcel_id) DO UPDATE SET
			owner_name = excluded.owner_name,
			normalized_owner_name = excluded.normalized_owner_name,
			site_address = excluded.site_address,
			geometry = excluded.geometry,
			source = excluded.source,
			updated_at = excluded.updated_at`,
		p.ID, p.OwnerName, nullable(p.NormalizedOwnerName), nullable(p.SiteAddress), geom, p.Source, s.now(),
	)
	return eris.Wrapf(err, "sqlite: upsert parcel %s", p.ID)
}

func (s *SQLiteStore) AddRunMembership(ctx context.Context, m model.Membership) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_parcels (run_id, parcel_id, ring_number, is_seed, matched_by)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, parcel_id) DO UPDATE SET
			ring_number = excluded.ring_number,
			is_seed = excluded.is_seed,
			matched_by = excluded.matched_by`,
		m.RunID, m.ParcelID, m.RingNumber, m.IsSeed, string(m.MatchedBy),
	)
	return eris.Wrapf(err, "sqlite: add membership %s/%s", m.RunID, m.ParcelID)
}

func (s *SQLiteStore) GetParcel(ctx context.Context, parcelID string) (*model.Parcel, error) {
	p, err := scanParcel(s.db.QueryRowContext(ctx,
		`SELECT `+parcelColumns+` FROM parcels p WHERE p.parcel_id = ?`, parcelID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get parcel %s", parcelID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get parcel %s", parcelID)
	}
	return &p, nil
}

func (s *SQLiteStore) ListRecentCachedParcels(ctx context.Context, maxAgeDays, limit int) ([]model.Parcel, error) {
	if limit <= 0 {
		limit = DefaultCachedScanLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+parcelColumns+` FROM parcels p
		 WHERE json_extract(p.geometry, '$.type') = 'Polygon'
		   AND EXISTS (
			SELECT 1 FROM run_parcels rp JOIN lookup_runs r ON r.id = rp.run_id
			WHERE rp.parcel_id = p.parcel_id AND r.status IN (?, ?) AND r.created_at >= ?
		   )
		 ORDER BY p.updated_at DESC LIMIT ?`,
		reusableStatuses[0], reusableStatuses[1], cutoff(s.now(), maxAgeDays), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list cached parcels")
	}
	defer rows.Close()

	var parcels []model.Parcel
	for rows.Next() {
		p, err := scanParcel(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan cached parcel")
		}
		parcels = append(parcels, p)
	}
	return parcels, eris.Wrap(rows.Err(), "sqlite: iterate cached parcels")
}

func (s *SQLiteStore) ResolveAddressAlias(ctx context.Context, address string, maxAgeDays int) (string, error) {
	var parcelID string
	err := s.db.QueryRowContext(ctx,
		`SELECT parcel_id FROM address_aliases WHERE address = ? AND updated_at >= ?`,
		strings.TrimSpace(address), cutoff(s.now(), maxAgeDays),
	).Scan(&parcelID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return parcelID, eris.Wrapf(err, "sqlite: resolve alias %q", address)
}

func (s *SQLiteStore) UpsertAddressAlias(ctx context.Context, address, parcelID string) error {
	address = strings.TrimSpace(address)
	if address == "" || parcelID == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO address_aliases (address, parcel_id, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(address) DO UPDATE SET parcel_id = excluded.parcel_id, updated_at = excluded.updated_at`,
		address, parcelID, s.now(),
	)
	return eris.Wrapf(err, "sqlite: upsert alias %q", address)
}

func (s *SQLiteStore) CleanupExpired(ctx context.Context, retentionDays int) (model.CleanupResult, error) {
	var out model.CleanupResult
	if retentionDays <= 0 {
		return out, nil
	}
	before := cutoff(s.now(), retentionDays)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return out, eris.Wrap(err, "sqlite: begin cleanup")
	}
	defer tx.Rollback() //nolint:errcheck

	steps := []struct {
		query string
		count *int64
	}{
		{`DELETE FROM run_parcels WHERE run_id IN (SELECT id FROM lookup_runs WHERE created_at < ?)`, &out.Memberships},
		{`DELETE FROM lookup_runs WHERE created_at < ?`, &out.Runs},
		{`DELETE FROM parcels WHERE updated_at < ? AND parcel_id NOT IN (SELECT parcel_id FROM run_parcels)`, &out.Parcels},
		{`DELETE FROM address_aliases WHERE updated_at < ?`, &out.Aliases},
	}
	for _, step := range steps {
		res, err := tx.ExecContext(ctx, step.query, before)
		if err != nil {
			return model.CleanupResult{}, eris.Wrap(err, "sqlite: cleanup")
		}
		if *step.count, err = res.RowsAffected(); err != nil {
			return model.CleanupResult{}, eris.Wrap(err, "sqlite: rows affected")
		}
	}
	if err := tx.Commit(); err != nil {
		return model.CleanupResult{}, eris.Wrap(err, "sqlite: commit cleanup")
	}
	return out, nil
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}
