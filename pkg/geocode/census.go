package geocode

import (
	"context"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/parcelpicker/internal/resilience"
)

const (
	censusOneLineURL = "https://geocoding.geo.census.gov/geocoder/locations/onelineaddress"
	censusBenchmark  = "Public_AR_Current"
)

// censusOneLineResponse is the JSON response from the Census single-address API.
type censusOneLineResponse struct {
	Result struct {
		AddressMatches []censusAddressMatch `json:"addressMatches"`
	} `json:"result"`
}

type censusAddressMatch struct {
	Coordinates struct {
		X *float64 `json:"x"` // longitude
		Y *float64 `json:"y"` // latitude
	} `json:"coordinates"`
	MatchedAddress string `json:"matchedAddress"`
}

// Geocode geocodes address using the Census one-line API. Only the first
// match is used.
func (g *geocoder) Geocode(ctx context.Context, budget *resilience.Budget, address string) (*Result, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return &Result{}, nil
	}

	params := url.Values{
		"address":   {address},
		"benchmark": {g.benchmark},
		"format":    {"json"},
	}

	var resp censusOneLineResponse
	if err := g.getter.GetJSON(ctx, budget, g.baseURL, params, &resp); err != nil {
		if eris.Is(err, resilience.ErrBudgetExceeded) {
			return nil, err
		}
		return nil, eris.Wrap(err, "geocode: census request")
	}

	if len(resp.Result.AddressMatches) == 0 {
		return &Result{}, nil
	}

	match := resp.Result.AddressMatches[0]
	if match.Coordinates.X == nil || match.Coordinates.Y == nil {
		return &Result{}, nil
	}
	return &Result{
		Latitude:       *match.Coordinates.Y,
		Longitude:      *match.Coordinates.X,
		MatchedAddress: match.MatchedAddress,
		Matched:        true,
	}, nil
}
