// Package export renders runs as GeoJSON and CSV.
package export

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/parcelpicker/internal/model"
)

// CSVHeader is the fixed column order of CSV exports.
var CSVHeader = []string{
	"run_id", "ring_number", "is_seed", "parcel_id", "owner_name",
	"normalized_owner_name", "site_address", "matched_by", "source",
}

// FeatureCollection is a GeoJSON FeatureCollection with a name member.
type FeatureCollection struct {
	Type     string             `json:"type"`
	Name     string             `json:"name"`
	Features []*geojson.Feature `json:"features"`
}

// Features converts a run's parcels, in stored order, to a collection named
// run_<id>. Parcels without geometry are left out.
func Features(run *model.Run) *FeatureCollection {
	fc := &FeatureCollection{
		Type:     "FeatureCollection",
		Name:     "run_" + run.ID,
		Features: make([]*geojson.Feature, 0, len(run.Parcels)),
	}
	for _, p := range run.Parcels {
		if p.Geometry.IsAbsent() {
			continue
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:       p.ID,
			Geometry: p.Geometry.Geom(),
			Properties: map[string]any{
				"run_id":                run.ID,
				"ring_number":           p.RingNumber,
				"is_seed":               p.IsSeed,
				"parcel_id":             p.ID,
				"owner_name":            p.OwnerName,
				"normalized_owner_name": p.NormalizedOwnerName,
				"site_address":          p.SiteAddress,
				"matched_by":            string(p.MatchedBy),
				"source":                p.Source,
			},
		})
	}
	return fc
}

// GeoJSON encodes the run as a FeatureCollection.
func GeoJSON(run *model.Run) ([]byte, error) {
	data, err := json.Marshal(Features(run))
	if err != nil {
		return nil, eris.Wrapf(err, "export: geojson run %s", run.ID)
	}
	return data, nil
}

// CSV writes one row per parcel under CSVHeader.
func CSV(w io.Writer, run *model.Run) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return eris.Wrap(err, "export: csv header")
	}
	for _, p := range run.Parcels {
		row := []string{
			run.ID,
			strconv.Itoa(p.RingNumber),
			seedFlag(p.IsSeed),
			p.ID,
			p.OwnerName,
			p.NormalizedOwnerName,
			p.SiteAddress,
			string(p.MatchedBy),
			p.Source,
		}
		if err := cw.Write(row); err != nil {
			return eris.Wrapf(err, "export: csv row %s", p.ID)
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "export: csv flush")
}

// Filename returns the download name for a run export.
func Filename(run *model.Run, ext string) string {
	return "run_" + run.ID + "." + ext
}

func seedFlag(seed bool) string {
	if seed {
		return "1"
	}
	return "0"
}
