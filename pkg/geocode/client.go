// Package geocode translates free-text addresses to coordinates via the
// Census one-line geocoder.
package geocode

import (
	"context"

	"github.com/sells-group/parcelpicker/internal/fetcher"
	"github.com/sells-group/parcelpicker/internal/resilience"
)

// Client geocodes a single free-text address.
type Client interface {
	// Geocode returns Matched=false when the geocoder has no candidate.
	Geocode(ctx context.Context, budget *resilience.Budget, address string) (*Result, error)
}

// Result holds the geocoding output for an address.
type Result struct {
	Latitude       float64
	Longitude      float64
	MatchedAddress string
	Matched        bool
}

// Option configures the geocoder.
type Option func(*geocoder)

// WithBaseURL overrides the Census one-line endpoint.
func WithBaseURL(u string) Option {
	return func(g *geocoder) {
		if u != "" {
			g.baseURL = u
		}
	}
}

// WithBenchmark overrides the Census benchmark name.
func WithBenchmark(b string) Option {
	return func(g *geocoder) {
		if b != "" {
			g.benchmark = b
		}
	}
}

type geocoder struct {
	getter    fetcher.JSONGetter
	baseURL   string
	benchmark string
}

// NewClient creates a Census geocoding Client on top of the shared transport.
func NewClient(getter fetcher.JSONGetter, opts ...Option) Client {
	g := &geocoder{
		getter:    getter,
		baseURL:   censusOneLineURL,
		benchmark: censusBenchmark,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}
