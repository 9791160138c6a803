package arcgis

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// SQLEscape doubles single quotes for use inside a where-clause literal.
func SQLEscape(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// ExactAddressWhere matches field case-insensitively against an already
// uppercased address.
func ExactAddressWhere(field, address string) string {
	return "UPPER(" + field + ") = '" + SQLEscape(address) + "'"
}

// ContainsAddressWhere matches any value of field containing address.
func ContainsAddressWhere(field, address string) string {
	return "UPPER(" + field + ") LIKE '%" + SQLEscape(address) + "%'"
}

// AddressQuery builds an attribute-only query.
func AddressQuery(where string) Query {
	return Query{Where: where}
}

// PointQuery finds features intersecting a lon/lat point.
func PointQuery(lon, lat float64) Query {
	return Query{
		Where:        "1=1",
		Geometry:     formatFloat(lon) + "," + formatFloat(lat),
		GeometryType: "esriGeometryPoint",
		SpatialRel:   "esriSpatialRelIntersects",
	}
}

type esriPolygon struct {
	Rings            [][][]float64    `json:"rings"`
	SpatialReference spatialReference `json:"spatialReference"`
}

type spatialReference struct {
	WKID int `json:"wkid"`
}

// TouchesQuery finds features sharing a boundary with the polygon rings.
func TouchesQuery(rings [][][]float64, limit int) (Query, error) {
	if len(rings) == 0 {
		return Query{}, eris.New("arcgis: touches query needs at least one ring")
	}
	data, err := json.Marshal(esriPolygon{Rings: rings, SpatialReference: spatialReference{WKID: 4326}})
	if err != nil {
		return Query{}, eris.Wrap(err, "arcgis: encode polygon")
	}
	return Query{
		Where:             "1=1",
		Geometry:          string(data),
		GeometryType:      "esriGeometryPolygon",
		SpatialRel:        "esriSpatialRelTouches",
		ResultRecordCount: limit,
	}, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
