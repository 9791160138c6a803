// Package arcgis queries an ArcGIS MapServer/FeatureServer layer for parcels.
package arcgis

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/parcelpicker/internal/fetcher"
	"github.com/sells-group/parcelpicker/internal/resilience"
)

const (
	// DefaultQueryURL is the Wright County, MN parcel layer.
	DefaultQueryURL = "https://web.co.wright.mn.us/arcgisserver/rest/services/Wright_County_Parcels/MapServer/1/query"
	// DefaultSource tags parcels fetched from the default layer.
	DefaultSource = "wright_county_arcgis"

	wgs84 = "4326"
)

// Fields names the layer attributes holding parcel identity, owner and site address.
type Fields struct {
	ID      string
	Owner   string
	Address string
}

// DefaultFields matches the Wright County layer schema.
var DefaultFields = Fields{ID: "PID", Owner: "OWNNAME", Address: "PHYSADDR"}

func (f Fields) outFields() string {
	return strings.Join([]string{f.ID, f.Owner, f.Address}, ",")
}

// Option configures the client.
type Option func(*Client)

// WithQueryURL overrides the layer query endpoint.
func WithQueryURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.queryURL = u
		}
	}
}

// WithFields overrides the attribute names. Empty names keep their defaults.
func WithFields(f Fields) Option {
	return func(c *Client) {
		if f.ID != "" {
			c.fields.ID = f.ID
		}
		if f.Owner != "" {
			c.fields.Owner = f.Owner
		}
		if f.Address != "" {
			c.fields.Address = f.Address
		}
	}
}

// WithSource overrides the source tag.
func WithSource(s string) Option {
	return func(c *Client) {
		if s != "" {
			c.source = s
		}
	}
}

// Client issues layer queries through the shared retrying transport.
type Client struct {
	getter   fetcher.JSONGetter
	queryURL string
	fields   Fields
	source   string
}

// NewClient creates an ArcGIS layer client.
func NewClient(getter fetcher.JSONGetter, opts ...Option) *Client {
	c := &Client{
		getter:   getter,
		queryURL: DefaultQueryURL,
		fields:   DefaultFields,
		source:   DefaultSource,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fields returns the configured attribute names.
func (c *Client) Fields() Fields { return c.fields }

// Source returns the source tag for parcels from this layer.
func (c *Client) Source() string { return c.source }

// Query is one layer query. Zero-valued spatial fields are omitted.
type Query struct {
	Where        string
	Geometry     string
	GeometryType string
	SpatialRel   string
	// ResultRecordCount caps the page size when positive.
	ResultRecordCount int
}

type queryResponse struct {
	Features []Feature `json:"features"`
	Error    *apiError `json:"error"`
}

type apiError struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details"`
}

// Validate turns an {"error": {...}} body into a classified error.
func (r *queryResponse) Validate() error {
	if r.Error == nil {
		return nil
	}
	msg := r.Error.Message
	if msg == "" {
		msg = "ArcGIS query error"
	}
	if len(r.Error.Details) > 0 {
		msg += " (" + strings.Join(r.Error.Details, "; ") + ")"
	}
	return resilience.ClassifyStatus(eris.Errorf("arcgis: query failed: %s", msg), r.Error.Code)
}

// Query runs q and returns the features in provider order.
func (c *Client) Query(ctx context.Context, budget *resilience.Budget, q Query) ([]Feature, error) {
	var resp queryResponse
	if err := c.getter.GetJSON(ctx, budget, c.queryURL, c.params(q), &resp); err != nil {
		if eris.Is(err, resilience.ErrBudgetExceeded) {
			return nil, err
		}
		return nil, eris.Wrap(err, "arcgis: query")
	}
	return resp.Features, nil
}

func (c *Client) params(q Query) url.Values {
	where := q.Where
	if where == "" {
		where = "1=1"
	}
	v := url.Values{
		"f":              {"json"},
		"where":          {where},
		"outFields":      {c.fields.outFields()},
		"returnGeometry": {"true"},
		"outSR":          {wgs84},
	}
	if q.Geometry != "" {
		v.Set("geometry", q.Geometry)
		v.Set("geometryType", q.GeometryType)
		v.Set("spatialRel", q.SpatialRel)
		v.Set("inSR", wgs84)
	}
	if q.ResultRecordCount > 0 {
		v.Set("resultRecordCount", strconv.Itoa(q.ResultRecordCount))
	}
	return v
}
