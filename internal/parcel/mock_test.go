package parcel

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/parcelpicker/internal/resilience"
	"github.com/sells-group/parcelpicker/pkg/arcgis"
	"github.com/sells-group/parcelpicker/pkg/geocode"
)

// --- Layer Mock ---

type mockLayer struct {
	mock.Mock
}

func (m *mockLayer) Query(ctx context.Context, budget *resilience.Budget, q arcgis.Query) ([]arcgis.Feature, error) {
	args := m.Called(ctx, budget, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]arcgis.Feature), args.Error(1)
}

func (m *mockLayer) Fields() arcgis.Fields { return arcgis.DefaultFields }

func (m *mockLayer) Source() string { return arcgis.DefaultSource }

// --- Geocoder Mock ---

type mockGeocoder struct {
	mock.Mock
}

func (m *mockGeocoder) Geocode(ctx context.Context, budget *resilience.Budget, address string) (*geocode.Result, error) {
	args := m.Called(ctx, budget, address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*geocode.Result), args.Error(1)
}

func square(x0, y0, size float64) [][][]float64 {
	return [][][]float64{{
		{x0, y0}, {x0, y0 + size}, {x0 + size, y0 + size}, {x0 + size, y0}, {x0, y0},
	}}
}

func feature(id, owner, addr string, rings [][][]float64) arcgis.Feature {
	f := arcgis.Feature{Attributes: map[string]any{"PID": id, "OWNNAME": owner, "PHYSADDR": addr}}
	if rings != nil {
		f.Geometry = &arcgis.EsriGeometry{Rings: rings}
	}
	return f
}

func whereIs(where string) any {
	return mock.MatchedBy(func(q arcgis.Query) bool { return q.Where == where && q.Geometry == "" })
}

func spatial(geometryType string) any {
	return mock.MatchedBy(func(q arcgis.Query) bool { return q.GeometryType == geometryType })
}
