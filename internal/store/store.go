// Package store persists lookup runs, parcels, run memberships and address
// aliases.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/parcelpicker/internal/geometry"
	"github.com/sells-group/parcelpicker/internal/model"
)

// ErrNotFound is returned when a run or parcel does not exist.
var ErrNotFound = eris.New("store: not found")

// Store defines the persistence interface for the lookup engine. All methods
// are safe for concurrent use; each write is atomic on its own.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, in model.NewRun) (*model.Run, error)
	CompleteRun(ctx context.Context, runID string, c model.CompleteRun) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, limit int) ([]model.Run, error)
	// GetRecentRunForSeed returns nil when no reusable run exists.
	GetRecentRunForSeed(ctx context.Context, parcelID string, minRings, maxAgeDays int) (*model.Run, error)

	// Parcels
	UpsertParcel(ctx context.Context, p model.Parcel) error
	AddRunMembership(ctx context.Context, m model.Membership) error
	GetParcel(ctx context.Context, parcelID string) (*model.Parcel, error)
	// ListRecentCachedParcels returns polygon parcels from reusable runs
	// within the window, most recently updated first.
	ListRecentCachedParcels(ctx context.Context, maxAgeDays, limit int) ([]model.Parcel, error)

	// Aliases
	// ResolveAddressAlias returns "" when no fresh alias exists.
	ResolveAddressAlias(ctx context.Context, address string, maxAgeDays int) (string, error)
	UpsertAddressAlias(ctx context.Context, address, parcelID string) error

	// Retention
	CleanupExpired(ctx context.Context, retentionDays int) (model.CleanupResult, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// DefaultListLimit applies when ListRuns is called with a non-positive limit.
const DefaultListLimit = 20

// DefaultCachedScanLimit applies when ListRecentCachedParcels is called with a
// non-positive limit.
const DefaultCachedScanLimit = 500

// ownerExpr is the SQL form of model.Parcel.OwnerKey, shared by both dialects.
const ownerExpr = `UPPER(TRIM(CASE WHEN TRIM(p.normalized_owner_name) <> '' THEN p.normalized_owner_name ELSE p.owner_name END))`

// reusableStatuses lists the statuses a cache hit may reuse.
var reusableStatuses = []string{string(model.RunStatusCompleted), string(model.RunStatusCapped)}

func cutoff(now time.Time, days int) time.Time {
	return now.Add(-time.Duration(days) * 24 * time.Hour)
}

// encodeGeometry returns nil for Absent so the column stays NULL.
func encodeGeometry(g geometry.Geometry) (*string, error) {
	if g.IsAbsent() {
		return nil, nil
	}
	data, err := json.Marshal(g)
	if err != nil {
		return nil, eris.Wrap(err, "store: encode geometry")
	}
	s := string(data)
	return &s, nil
}

func decodeGeometry(s *string) (geometry.Geometry, error) {
	if s == nil {
		return geometry.Absent(), nil
	}
	g, err := geometry.ParseJSON(*s)
	if err != nil {
		return geometry.Absent(), eris.Wrap(err, "store: decode geometry")
	}
	return g, nil
}

type scannable interface {
	Scan(dest ...any) error
}

// runRow holds the nullable columns of a run row during scanning.
type runRow struct {
	run         model.Run
	status      string
	lon, lat    *float64
	seed        *string
	summary     *string
	errText     *string
	completedAt *time.Time
}

func (r *runRow) dest(extra ...any) []any {
	d := []any{
		&r.run.ID, &r.run.InputAddress, &r.lon, &r.lat, &r.run.RingsRequested,
		&r.status, &r.run.Provider, &r.run.AssistEnabled, &r.run.FromCache,
		&r.seed, &r.summary, &r.errText, &r.run.CreatedAt, &r.completedAt,
	}
	return append(d, extra...)
}

func (r *runRow) finish() model.Run {
	run := r.run
	run.Status = model.RunStatus(r.status)
	if r.lon != nil && r.lat != nil {
		run.InputPoint = &model.LonLat{Lon: *r.lon, Lat: *r.lat}
	}
	run.SeedParcelID = deref(r.seed)
	run.Summary = deref(r.summary)
	run.Error = deref(r.errText)
	if r.completedAt != nil {
		t := r.completedAt.UTC()
		run.CompletedAt = &t
	}
	run.CreatedAt = run.CreatedAt.UTC()
	run.Parcels = []model.RunParcel{}
	return run
}

const runColumns = `r.id, r.input_address, r.input_lon, r.input_lat, r.rings_requested,
	r.status, r.provider, r.llm_enabled, r.from_cache,
	r.seed_parcel_id, r.summary, r.error, r.created_at, r.completed_at`

const parcelCountExpr = `(SELECT COUNT(*) FROM run_parcels rp WHERE rp.run_id = r.id)`

const ownerCountExpr = `(SELECT COUNT(DISTINCT ` + ownerExpr + `)
	FROM run_parcels rp JOIN parcels p ON p.parcel_id = rp.parcel_id
	WHERE rp.run_id = r.id AND ` + ownerExpr + ` <> '')`

const parcelColumns = `p.parcel_id, p.owner_name, p.normalized_owner_name, p.site_address, p.geometry, p.source, p.updated_at`

func scanParcel(row scannable, extra ...any) (model.Parcel, error) {
	var p model.Parcel
	var geom, normalized, site *string
	dest := append([]any{&p.ID, &p.OwnerName, &normalized, &site, &geom, &p.Source, &p.UpdatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return p, err
	}
	g, err := decodeGeometry(geom)
	if err != nil {
		return p, err
	}
	p.Geometry = g
	p.NormalizedOwnerName = deref(normalized)
	p.SiteAddress = deref(site)
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func pointArgs(p *model.LonLat) (lon, lat *float64) {
	if p == nil {
		return nil, nil
	}
	return &p.Lon, &p.Lat
}
