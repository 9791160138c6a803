package lookup

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/parcelpicker/internal/model"
	"github.com/sells-group/parcelpicker/internal/parcel"
)

// priorRunForAddress follows a fresh alias to a reusable run. Store errors
// are logged and treated as a miss.
func (r *Runner) priorRunForAddress(ctx context.Context, normalized string, rings int) *model.Run {
	parcelID, err := r.store.ResolveAddressAlias(ctx, normalized, r.settings.RetentionDays)
	if err != nil {
		zap.L().Warn("lookup: resolve alias", zap.String("address", normalized), zap.Error(err))
		return nil
	}
	if parcelID == "" {
		return nil
	}
	return r.priorRunForSeed(ctx, parcelID, rings)
}

func (r *Runner) priorRunForSeed(ctx context.Context, parcelID string, rings int) *model.Run {
	prior, err := r.store.GetRecentRunForSeed(ctx, parcelID, rings, r.settings.RetentionDays)
	if err != nil {
		zap.L().Warn("lookup: recent run for seed", zap.String("parcel_id", parcelID), zap.Error(err))
		return nil
	}
	return prior
}

// localHit scans recently cached polygons for one containing the point.
func (r *Runner) localHit(ctx context.Context, lon, lat float64) (model.Parcel, bool) {
	parcels, err := r.store.ListRecentCachedParcels(ctx, r.settings.RetentionDays, r.settings.LocalCacheScanLimit)
	if err != nil {
		zap.L().Warn("lookup: list cached parcels", zap.Error(err))
		return model.Parcel{}, false
	}
	for _, p := range parcels {
		if p.ID != "" && p.Geometry.ContainsPoint(lon, lat) {
			return p, true
		}
	}
	return model.Parcel{}, false
}

// Trim keeps the memberships of prior at or below rings and recounts.
// The returned run shares no slices with prior.
func Trim(prior *model.Run, rings int) model.Run {
	out := *prior
	out.Parcels = make([]model.RunParcel, 0, len(prior.Parcels))
	for _, p := range prior.Parcels {
		if p.RingNumber <= rings {
			out.Parcels = append(out.Parcels, p)
		}
	}
	out.Recount()
	// A deeper prior run covered every requested ring in full.
	if prior.MaxRing() > rings {
		out.Status = model.RunStatusCompleted
	}
	return out
}

// serveCached records a new run whose memberships are the trimmed memberships
// of prior. No provider call is made.
func (r *Runner) serveCached(ctx context.Context, in runInput, prior *model.Run) (*model.Run, error) {
	run, err := r.store.CreateRun(ctx, model.NewRun{
		InputAddress:   in.label,
		InputPoint:     in.point,
		RingsRequested: in.rings,
		Provider:       r.provider.Name(),
		AssistEnabled:  in.assist,
		FromCache:      true,
	})
	if err != nil {
		return nil, eris.Wrap(err, "lookup: create cached run")
	}
	ctx = context.WithoutCancel(ctx)

	log := zap.L().With(zap.String("run_id", run.ID), zap.String("input", in.label))
	log.Info("lookup: served from cache", zap.String("prior_run_id", prior.ID), zap.Int("rings", in.rings))

	trimmed := Trim(prior, in.rings)
	for _, p := range trimmed.Parcels {
		if err := r.store.UpsertParcel(ctx, p.Parcel); err != nil {
			return r.fail(ctx, run, err), nil
		}
		if err := r.store.AddRunMembership(ctx, model.Membership{
			RunID:      run.ID,
			ParcelID:   p.ID,
			RingNumber: p.RingNumber,
			IsSeed:     p.IsSeed,
			MatchedBy:  p.MatchedBy,
		}); err != nil {
			return r.fail(ctx, run, err), nil
		}
	}

	summary := fmt.Sprintf("%s Served from cache (run %s).",
		Summary(in.label, trimmed.ParcelCount, trimmed.MaxRing(), trimmed.OwnerCount), prior.ID)
	if err := r.store.CompleteRun(ctx, run.ID, model.CompleteRun{
		Status:       trimmed.Status,
		SeedParcelID: prior.SeedParcelID,
		Summary:      summary,
	}); err != nil {
		return r.fail(ctx, run, err), nil
	}

	aliases := in.aliases
	if seed, ok := trimmed.Seed(); ok {
		aliases = append(aliases, parcel.NormalizeAddress(seed.SiteAddress))
	}
	r.recordAliases(ctx, aliases, prior.SeedParcelID)

	out, err := r.store.GetRun(ctx, run.ID)
	if err != nil {
		return r.fail(ctx, run, err), nil
	}
	log.Info("lookup: completed",
		zap.String("status", string(out.Status)),
		zap.Int("parcels", out.ParcelCount),
		zap.Int("owners", out.OwnerCount),
		zap.Int("requests", 0),
	)
	return out, nil
}
