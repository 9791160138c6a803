package export

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/parcelpicker/internal/geometry"
	"github.com/sells-group/parcelpicker/internal/model"
)

func testRun(t *testing.T) *model.Run {
	t.Helper()
	g, err := geometry.FromRings([][][]float64{{{0, 0}, {0, 1}, {1, 1}, {1, 0}, {0, 0}}})
	require.NoError(t, err)
	return &model.Run{
		ID: "abc",
		Parcels: []model.RunParcel{
			{
				Parcel: model.Parcel{
					ID: "P1", OwnerName: "Smith, John", NormalizedOwnerName: "SMITH, JOHN",
					SiteAddress: "123 MAIN ST", Geometry: g, Source: "wright_county_arcgis",
				},
				RingNumber: 0, IsSeed: true, MatchedBy: model.MatchExactAddress,
			},
			{
				Parcel:     model.Parcel{ID: "P2", OwnerName: "Doe Jane", Source: "wright_county_arcgis"},
				RingNumber: 1, MatchedBy: model.MatchTouches,
			},
		},
	}
}

func TestGeoJSON(t *testing.T) {
	data, err := GeoJSON(testRun(t))
	require.NoError(t, err)

	var doc struct {
		Type     string `json:"type"`
		Name     string `json:"name"`
		Features []struct {
			Type     string `json:"type"`
			Geometry struct {
				Type        string        `json:"type"`
				Coordinates [][][]float64 `json:"coordinates"`
			} `json:"geometry"`
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))

	assert.Equal(t, "FeatureCollection", doc.Type)
	assert.Equal(t, "run_abc", doc.Name)
	require.Len(t, doc.Features, 1)

	f := doc.Features[0]
	assert.Equal(t, "Feature", f.Type)
	assert.Equal(t, "Polygon", f.Geometry.Type)
	assert.Len(t, f.Geometry.Coordinates[0], 5)
	assert.Equal(t, "P1", f.Properties["parcel_id"])
	assert.Equal(t, "abc", f.Properties["run_id"])
	assert.Equal(t, true, f.Properties["is_seed"])
	assert.Equal(t, float64(0), f.Properties["ring_number"])
	assert.Equal(t, "exact_address", f.Properties["matched_by"])
}

func TestGeoJSON_EmptyRun(t *testing.T) {
	data, err := GeoJSON(&model.Run{ID: "empty"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"FeatureCollection","name":"run_empty","features":[]}`, string(data))
}

func TestCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, CSV(&buf, testRun(t)))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "run_id,ring_number,is_seed,parcel_id,owner_name,normalized_owner_name,site_address,matched_by,source", lines[0])
	assert.Equal(t, `abc,0,1,P1,"Smith, John","SMITH, JOHN",123 MAIN ST,exact_address,wright_county_arcgis`, lines[1])
	assert.Equal(t, "abc,1,0,P2,Doe Jane,,,touches_adjacency,wright_county_arcgis", lines[2])
}

func TestFilename(t *testing.T) {
	assert.Equal(t, "run_abc.csv", Filename(&model.Run{ID: "abc"}, "csv"))
}
