package arcgis

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/sells-group/parcelpicker/internal/geometry"
)

// Feature is one layer record.
type Feature struct {
	Attributes map[string]any `json:"attributes"`
	Geometry   *EsriGeometry  `json:"geometry"`
}

// EsriGeometry is the native esri JSON shape: rings for polygons, x/y for points.
type EsriGeometry struct {
	Rings [][][]float64 `json:"rings"`
	X     *float64      `json:"x"`
	Y     *float64      `json:"y"`
}

// Attr returns the trimmed string form of an attribute. Missing and null
// values are empty; numbers are formatted without exponent.
func (f Feature) Attr(name string) string {
	v, ok := f.Attributes[name]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return strings.TrimSpace(string(data))
	}
}

// Shape converts the esri geometry. Polygons win over points; anything else
// is Absent.
func (f Feature) Shape() (geometry.Geometry, error) {
	g := f.Geometry
	if g == nil {
		return geometry.Absent(), nil
	}
	if len(g.Rings) > 0 {
		return geometry.FromRings(g.Rings)
	}
	if g.X != nil && g.Y != nil {
		return geometry.NewPoint(*g.X, *g.Y), nil
	}
	return geometry.Absent(), nil
}
