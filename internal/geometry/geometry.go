// Package geometry holds the parcel geometry model and the point-in-polygon
// test used by the local geometric cache. It performs no I/O.
package geometry

import (
	"bytes"
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// Kind discriminates the geometry union.
type Kind int

const (
	// KindAbsent means the provider returned no usable geometry.
	KindAbsent Kind = iota
	// KindPolygon is a polygon made of one or more linear rings.
	KindPolygon
	// KindPoint is a single lon/lat coordinate.
	KindPoint
)

func (k Kind) String() string {
	switch k {
	case KindPolygon:
		return "Polygon"
	case KindPoint:
		return "Point"
	default:
		return "Absent"
	}
}

// Geometry is a tagged union of {Polygon, Point, Absent} in lon/lat (EPSG:4326).
// The zero value is Absent.
type Geometry struct {
	g geom.T
}

// Absent returns the empty geometry.
func Absent() Geometry {
	return Geometry{}
}

// NewPoint returns a point geometry.
func NewPoint(lon, lat float64) Geometry {
	return Geometry{g: geom.NewPointFlat(geom.XY, []float64{lon, lat}).SetSRID(4326)}
}

// FromRings builds a polygon from rings of [lon, lat(, z...)] positions.
// Extra ordinates beyond the first two are dropped. Rings with fewer than
// three positions are skipped; if nothing usable remains the result is Absent.
func FromRings(rings [][][]float64) (Geometry, error) {
	coords := make([][]geom.Coord, 0, len(rings))
	for i, ring := range rings {
		if len(ring) < 3 {
			continue
		}
		rc := make([]geom.Coord, 0, len(ring))
		for _, pos := range ring {
			if len(pos) < 2 {
				return Absent(), eris.Errorf("geometry: ring %d has a position with %d ordinates", i, len(pos))
			}
			rc = append(rc, geom.Coord{pos[0], pos[1]})
		}
		coords = append(coords, rc)
	}
	if len(coords) == 0 {
		return Absent(), nil
	}

	poly, err := geom.NewPolygon(geom.XY).SetCoords(coords)
	if err != nil {
		return Absent(), eris.Wrap(err, "geometry: build polygon")
	}
	return Geometry{g: poly.SetSRID(4326)}, nil
}

// FromGeom wraps a go-geom value. Only *geom.Polygon and *geom.Point are
// accepted; nil yields Absent.
func FromGeom(g geom.T) (Geometry, error) {
	switch v := g.(type) {
	case nil:
		return Absent(), nil
	case *geom.Polygon:
		if v.NumLinearRings() == 0 {
			return Absent(), nil
		}
		return FromRings(toFloatRings(v.Coords()))
	case *geom.Point:
		if v.Empty() {
			return Absent(), nil
		}
		return NewPoint(v.X(), v.Y()), nil
	default:
		return Absent(), eris.Errorf("geometry: unsupported type %T", g)
	}
}

// Kind reports which variant is held.
func (g Geometry) Kind() Kind {
	switch g.g.(type) {
	case *geom.Polygon:
		return KindPolygon
	case *geom.Point:
		return KindPoint
	default:
		return KindAbsent
	}
}

// IsAbsent reports whether no geometry is held.
func (g Geometry) IsAbsent() bool { return g.Kind() == KindAbsent }

// IsPolygon reports whether a polygon is held.
func (g Geometry) IsPolygon() bool { return g.Kind() == KindPolygon }

// Geom exposes the underlying go-geom value (nil when Absent).
func (g Geometry) Geom() geom.T { return g.g }

// Rings returns the polygon rings as [lon, lat] positions, or nil when the
// geometry is not a polygon.
func (g Geometry) Rings() [][][]float64 {
	poly, ok := g.g.(*geom.Polygon)
	if !ok {
		return nil
	}
	return toFloatRings(poly.Coords())
}

// Coord returns the point coordinate. ok is false for non-points.
func (g Geometry) Coord() (lon, lat float64, ok bool) {
	pt, isPoint := g.g.(*geom.Point)
	if !isPoint {
		return 0, 0, false
	}
	return pt.X(), pt.Y(), true
}

// ContainsPoint reports whether (lon, lat) lies inside a polygon geometry,
// with holes subtracted. Points and Absent never contain anything.
func (g Geometry) ContainsPoint(lon, lat float64) bool {
	poly, ok := g.g.(*geom.Polygon)
	if !ok {
		return false
	}
	b := poly.Bounds()
	if lon < b.Min(0) || lon > b.Max(0) || lat < b.Min(1) || lat > b.Max(1) {
		return false
	}
	return PointInRings(poly.Coords(), lon, lat)
}

// MarshalJSON encodes the GeoJSON {type, coordinates} envelope, or null.
func (g Geometry) MarshalJSON() ([]byte, error) {
	if g.g == nil {
		return []byte("null"), nil
	}
	data, err := geojson.Marshal(g.g)
	if err != nil {
		return nil, eris.Wrap(err, "geometry: marshal geojson")
	}
	return data, nil
}

// UnmarshalJSON decodes a GeoJSON Polygon or Point envelope; null and empty
// input decode to Absent.
func (g *Geometry) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*g = Absent()
		return nil
	}

	var t geom.T
	if err := geojson.Unmarshal(trimmed, &t); err != nil {
		return eris.Wrap(err, "geometry: unmarshal geojson")
	}
	decoded, err := FromGeom(t)
	if err != nil {
		return err
	}
	*g = decoded
	return nil
}

// ParseJSON decodes a stored GeoJSON string. An empty string is Absent.
func ParseJSON(s string) (Geometry, error) {
	var g Geometry
	if s == "" {
		return g, nil
	}
	if err := json.Unmarshal([]byte(s), &g); err != nil {
		return Absent(), err
	}
	return g, nil
}

func toFloatRings(coords [][]geom.Coord) [][][]float64 {
	out := make([][][]float64, len(coords))
	for i, ring := range coords {
		out[i] = make([][]float64, len(ring))
		for j, c := range ring {
			out[i][j] = []float64{c.X(), c.Y()}
		}
	}
	return out
}
