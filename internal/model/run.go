package model

import (
	"strings"
	"time"

	"github.com/sells-group/parcelpicker/internal/geometry"
)

// RunStatus represents the lifecycle state of a lookup run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusCapped    RunStatus = "capped"
	RunStatusNotFound  RunStatus = "not_found"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal reports whether the status is final. Terminal runs are never
// mutated again.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusCapped, RunStatusNotFound, RunStatusFailed:
		return true
	default:
		return false
	}
}

// Reusable reports whether a run in this status may serve later cache hits.
func (s RunStatus) Reusable() bool {
	return s == RunStatusCompleted || s == RunStatusCapped
}

// MatchMethod records how a parcel entered a run.
type MatchMethod string

const (
	MatchExactAddress    MatchMethod = "exact_address"
	MatchContainsAddress MatchMethod = "contains_address"
	MatchGeocodePoint    MatchMethod = "geocode_point_intersect"
	MatchPointIntersect  MatchMethod = "point_intersect"
	MatchTouches         MatchMethod = "touches_adjacency"
	MatchCachedLocal     MatchMethod = "cached_local_intersect"
)

// LonLat is a map coordinate in EPSG:4326.
type LonLat struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

// NewRun holds the fields recorded when a run starts.
type NewRun struct {
	InputAddress   string
	InputPoint     *LonLat
	RingsRequested int
	Provider       string
	AssistEnabled  bool
	FromCache      bool
}

// Run is a single lookup request and its outcome.
type Run struct {
	ID             string      `json:"id"`
	InputAddress   string      `json:"input_address"`
	InputPoint     *LonLat     `json:"input_point,omitempty"`
	RingsRequested int         `json:"rings_requested"`
	Status         RunStatus   `json:"status"`
	Provider       string      `json:"provider"`
	AssistEnabled  bool        `json:"llm_enabled"`
	SeedParcelID   string      `json:"seed_parcel_id,omitempty"`
	Summary        string      `json:"summary,omitempty"`
	Error          string      `json:"error,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	CompletedAt    *time.Time  `json:"completed_at,omitempty"`
	FromCache      bool        `json:"from_cache"`
	ParcelCount    int         `json:"parcel_count"`
	OwnerCount     int         `json:"owner_count"`
	Parcels        []RunParcel `json:"parcels"`
}

// Recount derives ParcelCount and OwnerCount from Parcels.
func (r *Run) Recount() {
	r.ParcelCount = len(r.Parcels)
	owners := make(map[string]struct{}, len(r.Parcels))
	for _, p := range r.Parcels {
		if key := p.OwnerKey(); key != "" {
			owners[key] = struct{}{}
		}
	}
	r.OwnerCount = len(owners)
}

// MaxRing returns the deepest ring present, 0 when empty.
func (r *Run) MaxRing() int {
	maxRing := 0
	for _, p := range r.Parcels {
		if p.RingNumber > maxRing {
			maxRing = p.RingNumber
		}
	}
	return maxRing
}

// Seed returns the seed membership, if any.
func (r *Run) Seed() (RunParcel, bool) {
	for _, p := range r.Parcels {
		if p.IsSeed {
			return p, true
		}
	}
	return RunParcel{}, false
}

// CompleteRun holds the single terminal update of a run.
type CompleteRun struct {
	Status       RunStatus
	SeedParcelID string
	Summary      string
	Error        string
}

// Membership ties a parcel to a run at a ring distance.
type Membership struct {
	RunID      string
	ParcelID   string
	RingNumber int
	IsSeed     bool
	MatchedBy  MatchMethod
}

// RunParcel is a parcel as seen from one run.
type RunParcel struct {
	Parcel
	RingNumber int         `json:"ring_number"`
	IsSeed     bool        `json:"is_seed"`
	MatchedBy  MatchMethod `json:"matched_by"`
}

// AddressAlias maps a normalized address to a parcel.
type AddressAlias struct {
	Address   string    `json:"address"`
	ParcelID  string    `json:"parcel_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CleanupResult reports rows removed by retention cleanup.
type CleanupResult struct {
	Runs        int64 `json:"runs"`
	Memberships int64 `json:"memberships"`
	Parcels     int64 `json:"parcels"`
	Aliases     int64 `json:"aliases"`
}

// OwnerKey is the grouping key for unique-owner counts.
func (p Parcel) OwnerKey() string {
	name := p.NormalizedOwnerName
	if strings.TrimSpace(name) == "" {
		name = p.OwnerName
	}
	return strings.ToUpper(strings.TrimSpace(name))
}

// Parcel is a cadastral parcel keyed by its provider-assigned id.
type Parcel struct {
	ID                  string            `json:"parcel_id"`
	OwnerName           string            `json:"owner_name"`
	NormalizedOwnerName string            `json:"normalized_owner_name"`
	SiteAddress         string            `json:"site_address"`
	Geometry            geometry.Geometry `json:"geometry"`
	Source              string            `json:"source"`
	UpdatedAt           time.Time         `json:"updated_at"`
}
