// Package parcel resolves seed parcels and their "touches" neighbors against
// the external parcel layer and geocoder.
package parcel

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/parcelpicker/internal/geometry"
	"github.com/sells-group/parcelpicker/internal/model"
	"github.com/sells-group/parcelpicker/internal/resilience"
	"github.com/sells-group/parcelpicker/pkg/arcgis"
	"github.com/sells-group/parcelpicker/pkg/geocode"
)

var (
	// ErrEmptyAddress is returned when an address normalizes to nothing.
	ErrEmptyAddress = eris.New("address must not be empty")
	// ErrMissingParcelID marks a provider match without an identity.
	ErrMissingParcelID = eris.New("provider returned a parcel match without a parcel ID")
)

// maxPageSize is the largest page requested from the layer.
const maxPageSize = 2000

// Layer is the parcel layer query surface.
type Layer interface {
	Query(ctx context.Context, budget *resilience.Budget, q arcgis.Query) ([]arcgis.Feature, error)
	Fields() arcgis.Fields
	Source() string
}

// CacheConfig bounds the in-process caches.
type CacheConfig struct {
	MaxEntries int
	TTL        time.Duration
}

// Client resolves parcels. It is safe for concurrent use; the budget passed
// to each call belongs to the calling run.
type Client struct {
	layer     Layer
	geocoder  geocode.Client
	addresses *Cache[Outcome]
	parcels   *Cache[model.Parcel]
}

// NewClient creates a provider client.
func NewClient(layer Layer, geocoder geocode.Client, cc CacheConfig) *Client {
	return &Client{
		layer:     layer,
		geocoder:  geocoder,
		addresses: NewCache[Outcome](cc.MaxEntries, cc.TTL),
		parcels:   NewCache[model.Parcel](cc.MaxEntries, cc.TTL),
	}
}

// Name is the provider tag recorded on runs.
func (c *Client) Name() string { return c.layer.Source() }

// ResolveByAddress tries an exact address match, then a substring match,
// then geocodes the address and intersects the resulting point.
func (c *Client) ResolveByAddress(ctx context.Context, budget *resilience.Budget, address string) (Outcome, error) {
	cleaned := NormalizeAddress(address)
	if cleaned == "" {
		return notFound(), ErrEmptyAddress
	}

	if o, ok := c.addresses.Get(cleaned); ok {
		zap.L().Debug("parcel: address cache hit", zap.String("address", cleaned), zap.String("parcel_id", o.Parcel.ID))
		// Later queries may have refreshed the record.
		if p, ok := c.parcels.Get(o.Parcel.ID); ok {
			o.Parcel = p
		}
		return o, nil
	}

	field := c.layer.Fields().Address
	strategies := []struct {
		where string
		by    model.MatchMethod
	}{
		{arcgis.ExactAddressWhere(field, cleaned), model.MatchExactAddress},
		{arcgis.ContainsAddressWhere(field, cleaned), model.MatchContainsAddress},
	}
	for _, s := range strategies {
		o, err := c.first(ctx, budget, arcgis.AddressQuery(s.where), s.by)
		if err != nil {
			return notFound(), err
		}
		if o.Found() {
			c.remember(cleaned, o)
			return o, nil
		}
	}

	geo, err := c.geocoder.Geocode(ctx, budget, cleaned)
	if err != nil {
		return notFound(), err
	}
	if !geo.Matched {
		return notFound(), nil
	}

	o, err := c.first(ctx, budget, arcgis.PointQuery(geo.Longitude, geo.Latitude), model.MatchGeocodePoint)
	if err != nil {
		return notFound(), err
	}
	if o.Found() {
		c.remember(cleaned, o)
	}
	return o, nil
}

// ResolveByPoint returns the parcel intersecting (lon, lat), if any.
func (c *Client) ResolveByPoint(ctx context.Context, budget *resilience.Budget, lon, lat float64) (Outcome, error) {
	o, err := c.first(ctx, budget, arcgis.PointQuery(lon, lat), model.MatchPointIntersect)
	if err != nil {
		return notFound(), err
	}
	if o.Found() && o.Parcel.ID != "" {
		c.parcels.Put(o.Parcel.ID, o.Parcel)
	}
	return o, nil
}

// QueryAdjacent returns up to limit parcels touching g, skipping ids in
// exclude and records without an id. Non-polygon geometry yields nothing and
// spends no budget.
func (c *Client) QueryAdjacent(ctx context.Context, budget *resilience.Budget, g geometry.Geometry, exclude map[string]struct{}, limit int) ([]model.Parcel, error) {
	if !g.IsPolygon() || limit <= 0 {
		return nil, nil
	}

	page := min(limit+len(exclude), maxPageSize)
	q, err := arcgis.TouchesQuery(g.Rings(), page)
	if err != nil {
		return nil, err
	}

	features, err := c.layer.Query(ctx, budget, q)
	if err != nil {
		return nil, err
	}

	out := make([]model.Parcel, 0, min(limit, len(features)))
	seen := make(map[string]struct{}, len(features))
	for _, f := range features {
		p := c.toParcel(f)
		if p.ID == "" {
			continue
		}
		if _, skip := exclude[p.ID]; skip {
			continue
		}
		if _, dup := seen[p.ID]; dup {
			continue
		}
		seen[p.ID] = struct{}{}
		c.parcels.Put(p.ID, p)
		out = append(out, p)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Cached returns a parcel seen by this client, if still cached.
func (c *Client) Cached(id string) (model.Parcel, bool) {
	return c.parcels.Get(id)
}

// Stats reports the address and parcel cache counters.
func (c *Client) Stats() map[string]CacheStats {
	return map[string]CacheStats{
		"addresses": c.addresses.Stats(),
		"parcels":   c.parcels.Stats(),
	}
}

func (c *Client) first(ctx context.Context, budget *resilience.Budget, q arcgis.Query, by model.MatchMethod) (Outcome, error) {
	features, err := c.layer.Query(ctx, budget, q)
	if err != nil {
		return notFound(), err
	}
	if len(features) == 0 {
		return notFound(), nil
	}
	return found(c.toParcel(features[0]), by), nil
}

func (c *Client) remember(address string, o Outcome) {
	// Matches without an id never become cache entries.
	if o.Parcel.ID == "" {
		return
	}
	c.addresses.Put(address, o)
	c.parcels.Put(o.Parcel.ID, o.Parcel)
}

func (c *Client) toParcel(f arcgis.Feature) model.Parcel {
	fields := c.layer.Fields()
	shape, err := f.Shape()
	if err != nil {
		zap.L().Warn("parcel: unusable geometry, storing without it",
			zap.String("parcel_id", f.Attr(fields.ID)),
			zap.Error(err),
		)
		shape = geometry.Absent()
	}
	return model.Parcel{
		ID:          f.Attr(fields.ID),
		OwnerName:   f.Attr(fields.Owner),
		SiteAddress: f.Attr(fields.Address),
		Geometry:    shape,
		Source:      c.layer.Source(),
	}
}
