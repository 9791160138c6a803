// Package lookup resolves a seed parcel and expands outward ring by ring
// through touching parcels.
package lookup

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/parcelpicker/internal/assistant"
	"github.com/sells-group/parcelpicker/internal/geometry"
	"github.com/sells-group/parcelpicker/internal/model"
	"github.com/sells-group/parcelpicker/internal/parcel"
	"github.com/sells-group/parcelpicker/internal/resilience"
	"github.com/sells-group/parcelpicker/internal/store"
)

// Input errors. They are returned before any run is created.
var (
	ErrEmptyAddress = parcel.ErrEmptyAddress
	ErrInvalidPoint = eris.New("latitude must be within [-90, 90] and longitude within [-180, 180]")
	ErrInvalidRings = eris.Errorf("rings must be between 0 and %d", MaxRings)
)

const (
	notFoundAddress = "No parcel match found for the provided address."
	notFoundPoint   = "No parcel found at clicked map location."
)

// Provider is the parcel source the runner expands against.
type Provider interface {
	Name() string
	ResolveByAddress(ctx context.Context, budget *resilience.Budget, address string) (parcel.Outcome, error)
	ResolveByPoint(ctx context.Context, budget *resilience.Budget, lon, lat float64) (parcel.Outcome, error)
	QueryAdjacent(ctx context.Context, budget *resilience.Budget, g geometry.Geometry, exclude map[string]struct{}, limit int) ([]model.Parcel, error)
}

// AddressRequest asks for a lookup seeded by a free-text address.
type AddressRequest struct {
	Address      string `json:"address"`
	Rings        int    `json:"rings"`
	UseAssistant bool   `json:"use_llm"`
}

// PointRequest asks for a lookup seeded by a map coordinate.
type PointRequest struct {
	Lat          float64 `json:"lat"`
	Lon          float64 `json:"lon"`
	Rings        int     `json:"rings"`
	UseAssistant bool    `json:"use_llm"`
}

// Runner executes lookups. One Runner serves concurrent runs; each run gets
// its own budget while the provider's throttle is shared.
type Runner struct {
	store     store.Store
	provider  Provider
	assistant assistant.Assistant
	settings  Settings
}

// NewRunner creates a Runner. A nil assistant disables augmentation.
func NewRunner(st store.Store, provider Provider, a assistant.Assistant, settings Settings) *Runner {
	if a == nil {
		a = assistant.Noop{}
	}
	return &Runner{store: st, provider: provider, assistant: a, settings: settings}
}

// Settings returns the limits the runner was built with.
func (r *Runner) Settings() Settings { return r.settings }

// AssistantAvailable reports whether augmentation can be honoured.
func (r *Runner) AssistantAvailable() bool { return r.assistant.Available() }

// ProviderName is the provider tag recorded on runs.
func (r *Runner) ProviderName() string { return r.provider.Name() }

// runInput describes one run independent of how it was seeded.
type runInput struct {
	label    string
	point    *model.LonLat
	rings    int
	assist   bool
	notFound string
	// aliases are normalized addresses mapped to the seed on success.
	aliases []string
	resolve func(ctx context.Context, budget *resilience.Budget) (parcel.Outcome, error)
}

// member is a parcel placed on a ring of the current run.
type member struct {
	parcel model.Parcel
	ring   int
	seed   bool
	by     model.MatchMethod
}

// LookupAddress runs a lookup seeded by an address. Once a run exists the
// returned error is nil and failures are reported through the run status.
func (r *Runner) LookupAddress(ctx context.Context, req AddressRequest) (*model.Run, error) {
	normalized := parcel.NormalizeAddress(req.Address)
	if normalized == "" {
		return nil, ErrEmptyAddress
	}
	if err := validateRings(req.Rings); err != nil {
		return nil, err
	}

	r.expire(ctx)

	in := runInput{
		label:    strings.TrimSpace(req.Address),
		rings:    req.Rings,
		assist:   req.UseAssistant && r.assistant.Available(),
		notFound: notFoundAddress,
		aliases:  []string{normalized},
		resolve: func(ctx context.Context, budget *resilience.Budget) (parcel.Outcome, error) {
			return r.provider.ResolveByAddress(ctx, budget, req.Address)
		},
	}

	if prior := r.priorRunForAddress(ctx, normalized, req.Rings); prior != nil {
		return r.serveCached(ctx, in, prior)
	}
	return r.run(ctx, in)
}

// LookupPoint runs a lookup seeded by a map coordinate.
func (r *Runner) LookupPoint(ctx context.Context, req PointRequest) (*model.Run, error) {
	if !validPoint(req.Lon, req.Lat) {
		return nil, ErrInvalidPoint
	}
	if err := validateRings(req.Rings); err != nil {
		return nil, err
	}

	r.expire(ctx)

	in := runInput{
		label:    fmt.Sprintf("POINT(%.6f, %.6f)", req.Lat, req.Lon),
		point:    &model.LonLat{Lon: req.Lon, Lat: req.Lat},
		rings:    req.Rings,
		assist:   req.UseAssistant && r.assistant.Available(),
		notFound: notFoundPoint,
		resolve: func(ctx context.Context, budget *resilience.Budget) (parcel.Outcome, error) {
			return r.provider.ResolveByPoint(ctx, budget, req.Lon, req.Lat)
		},
	}

	if hit, ok := r.localHit(ctx, req.Lon, req.Lat); ok {
		if prior := r.priorRunForSeed(ctx, hit.ID, req.Rings); prior != nil {
			return r.serveCached(ctx, in, prior)
		}
		zap.L().Info("lookup: local geometry hit", zap.String("parcel_id", hit.ID), zap.String("input", in.label))
		in.resolve = func(context.Context, *resilience.Budget) (parcel.Outcome, error) {
			return parcel.Outcome{Kind: parcel.Found, Parcel: hit, MatchedBy: model.MatchCachedLocal}, nil
		}
	}
	return r.run(ctx, in)
}

func (r *Runner) run(ctx context.Context, in runInput) (*model.Run, error) {
	budget := resilience.NewBudget(r.settings.MaxRequests)
	run, err := r.store.CreateRun(ctx, model.NewRun{
		InputAddress:   in.label,
		InputPoint:     in.point,
		RingsRequested: in.rings,
		Provider:       r.provider.Name(),
		AssistEnabled:  in.assist,
	})
	if err != nil {
		return nil, eris.Wrap(err, "lookup: create run")
	}
	// A created run always reaches a terminal status, even if the caller
	// goes away. Outbound calls keep their per-attempt timeouts.
	ctx = context.WithoutCancel(ctx)

	log := zap.L().With(zap.String("run_id", run.ID), zap.String("input", in.label))
	log.Info("lookup: started", zap.Int("rings", in.rings), zap.Bool("llm", in.assist), zap.Int("budget", budget.Max()))

	start := time.Now()

	out, err := r.execute(ctx, run, in, budget)
	if err != nil {
		log.Error("lookup: failed", zap.Error(err), zap.Int("requests", budget.Used()), zap.Int("budget_remaining", budget.Remaining()))
		return r.fail(ctx, run, err), nil
	}

	log.Info("lookup: completed",
		zap.String("status", string(out.Status)),
		zap.Int("parcels", out.ParcelCount),
		zap.Int("owners", out.OwnerCount),
		zap.Int("requests", budget.Used()),
		zap.Int("budget_remaining", budget.Remaining()),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return out, nil
}

func (r *Runner) execute(ctx context.Context, run *model.Run, in runInput, budget *resilience.Budget) (*model.Run, error) {
	o, err := in.resolve(ctx, budget)
	if err != nil {
		return nil, err
	}
	if !o.Found() {
		if err := r.store.CompleteRun(ctx, run.ID, model.CompleteRun{
			Status: model.RunStatusNotFound,
			Error:  in.notFound,
		}); err != nil {
			return nil, err
		}
		return r.store.GetRun(ctx, run.ID)
	}
	if o.Parcel.ID == "" {
		return nil, parcel.ErrMissingParcelID
	}
	seed := o.Parcel

	members, status, err := r.expand(ctx, budget, member{parcel: seed, ring: 0, seed: true, by: o.MatchedBy}, in.rings)
	if err != nil {
		return nil, err
	}

	r.normalizeOwners(ctx, members, in.assist)

	for _, m := range members {
		if err := r.store.UpsertParcel(ctx, m.parcel); err != nil {
			return nil, err
		}
		if err := r.store.AddRunMembership(ctx, model.Membership{
			RunID:      run.ID,
			ParcelID:   m.parcel.ID,
			RingNumber: m.ring,
			IsSeed:     m.seed,
			MatchedBy:  m.by,
		}); err != nil {
			return nil, err
		}
	}

	stored, err := r.store.GetRun(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	summary := r.summarize(ctx, in, stored)

	if err := r.store.CompleteRun(ctx, run.ID, model.CompleteRun{
		Status:       status,
		SeedParcelID: seed.ID,
		Summary:      summary,
	}); err != nil {
		return nil, err
	}

	r.recordAliases(ctx, append(in.aliases, parcel.NormalizeAddress(seed.SiteAddress)), seed.ID)
	return r.store.GetRun(ctx, run.ID)
}

// expand walks touching parcels breadth-first from the seed. Reaching
// MaxParcels stops the scan immediately; what was found in the partial ring
// is kept.
func (r *Runner) expand(ctx context.Context, budget *resilience.Budget, seed member, rings int) ([]member, model.RunStatus, error) {
	visited := map[string]struct{}{seed.parcel.ID: {}}
	members := []member{seed}
	frontier := []model.Parcel{seed.parcel}
	status := model.RunStatusCompleted

	for ring := 1; ring <= rings; ring++ {
		if len(visited) >= r.settings.MaxParcels {
			status = model.RunStatusCapped
			break
		}
		var next []model.Parcel
	scan:
		for _, base := range frontier {
			neighbours, err := r.provider.QueryAdjacent(ctx, budget, base.Geometry, visited, r.settings.AdjacentLimit)
			if err != nil {
				return nil, "", err
			}
			for _, n := range neighbours {
				if n.ID == "" {
					continue
				}
				if _, seen := visited[n.ID]; seen {
					continue
				}
				visited[n.ID] = struct{}{}
				next = append(next, n)
				if len(visited) >= r.settings.MaxParcels {
					status = model.RunStatusCapped
					break scan
				}
			}
		}
		if len(next) == 0 {
			break
		}
		// visited already rejects repeats, so next is unique by id.
		for _, p := range next {
			members = append(members, member{parcel: p, ring: ring, by: model.MatchTouches})
		}
		frontier = next
		if status == model.RunStatusCapped {
			break
		}
	}
	return members, status, nil
}

// normalizeOwners fills NormalizedOwnerName. With augmentation enabled the
// assistant is consulted at most MaxAssistantNormalizations times per run,
// memoized by the trimmed raw owner.
func (r *Runner) normalizeOwners(ctx context.Context, members []member, assist bool) {
	memo := make(map[string]string)
	calls := 0
	for i := range members {
		p := &members[i].parcel
		fallback := parcel.NormalizeOwner(p.OwnerName)
		p.NormalizedOwnerName = fallback
		if !assist {
			continue
		}

		key := strings.TrimSpace(p.OwnerName)
		if cached, ok := memo[key]; ok {
			p.NormalizedOwnerName = cached
			continue
		}
		if key == "" || calls >= r.settings.MaxAssistantNormalizations {
			continue
		}
		calls++

		candidate, err := r.assistant.NormalizeOwnerName(ctx, key)
		if err != nil {
			zap.L().Warn("lookup: owner normalization fell back", zap.String("owner", key), zap.Error(err))
		}
		value := strings.TrimSpace(candidate)
		if err != nil || value == "" {
			value = fallback
		}
		memo[key] = value
		p.NormalizedOwnerName = value
	}
}

func (r *Runner) summarize(ctx context.Context, in runInput, run *model.Run) string {
	summary := Summary(in.label, run.ParcelCount, run.MaxRing(), run.OwnerCount)
	if !in.assist {
		return summary
	}
	text, err := r.assistant.Summarize(ctx, assistant.SummaryInput{
		InputAddress:   in.label,
		RingsRequested: in.rings,
		ParcelCount:    run.ParcelCount,
		OwnerCount:     run.OwnerCount,
	})
	if err != nil {
		zap.L().Warn("lookup: summary fell back", zap.String("run_id", run.ID), zap.Error(err))
		return summary
	}
	if text = strings.TrimSpace(text); text != "" {
		return text
	}
	return summary
}

// Summary is the deterministic run summary.
func Summary(input string, parcels, maxRing, owners int) string {
	return fmt.Sprintf("Lookup for %s returned %d parcels across rings 0-%d with %d unique owners.",
		input, parcels, maxRing, owners)
}

// fail records err on the run. The returned run always carries the failed
// status, even when the store cannot be reached.
func (r *Runner) fail(ctx context.Context, run *model.Run, cause error) *model.Run {
	msg := cause.Error()
	if err := r.store.CompleteRun(ctx, run.ID, model.CompleteRun{
		Status: model.RunStatusFailed,
		Error:  msg,
	}); err != nil {
		zap.L().Error("lookup: record failure", zap.String("run_id", run.ID), zap.Error(err))
	}

	stored, err := r.store.GetRun(ctx, run.ID)
	if err == nil && stored.Status == model.RunStatusFailed {
		return stored
	}

	out := *run
	now := time.Now().UTC()
	out.Status = model.RunStatusFailed
	out.Error = msg
	out.SeedParcelID = ""
	out.Summary = ""
	out.CompletedAt = &now
	out.Parcels = []model.RunParcel{}
	out.Recount()
	return &out
}

func (r *Runner) recordAliases(ctx context.Context, addresses []string, parcelID string) {
	seen := make(map[string]struct{}, len(addresses))
	for _, a := range addresses {
		if a == "" {
			continue
		}
		if _, dup := seen[a]; dup {
			continue
		}
		seen[a] = struct{}{}
		if err := r.store.UpsertAddressAlias(ctx, a, parcelID); err != nil {
			zap.L().Warn("lookup: record alias", zap.String("address", a), zap.Error(err))
		}
	}
}

// expire purges data older than the retention window. Failures only delay
// the purge.
func (r *Runner) expire(ctx context.Context) {
	res, err := r.store.CleanupExpired(ctx, r.settings.RetentionDays)
	if err != nil {
		zap.L().Warn("lookup: cleanup expired", zap.Error(err))
		return
	}
	if res != (model.CleanupResult{}) {
		zap.L().Info("lookup: expired data removed",
			zap.Int64("runs", res.Runs),
			zap.Int64("memberships", res.Memberships),
			zap.Int64("parcels", res.Parcels),
			zap.Int64("aliases", res.Aliases),
		)
	}
}

func validateRings(rings int) error {
	if rings < 0 || rings > MaxRings {
		return ErrInvalidRings
	}
	return nil
}

func validPoint(lon, lat float64) bool {
	if math.IsNaN(lon) || math.IsNaN(lat) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}
