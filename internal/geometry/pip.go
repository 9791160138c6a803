package geometry

import "github.com/twpayne/go-geom"

// PointInRings reports whether (x, y) lies inside the area described by rings
// under the even-odd rule. Every ring toggles membership, so a point inside
// the exterior ring and inside one of its holes is outside; multi-part esri
// polygons (several exterior rings) are handled the same way.
//
// Points exactly on an edge may fall either way.
func PointInRings(rings [][]geom.Coord, x, y float64) bool {
	inside := false
	for _, ring := range rings {
		if ringContains(ring, x, y) {
			inside = !inside
		}
	}
	return inside
}

// pointInPolygon is PointInRings over plain [lon, lat] rings.
func pointInPolygon(rings [][][]float64, lon, lat float64) bool {
	coords := make([][]geom.Coord, 0, len(rings))
	for _, ring := range rings {
		rc := make([]geom.Coord, 0, len(ring))
		for _, pos := range ring {
			if len(pos) < 2 {
				continue
			}
			rc = append(rc, geom.Coord{pos[0], pos[1]})
		}
		coords = append(coords, rc)
	}
	return PointInRings(coords, lon, lat)
}

// ringContains is a ray cast toward +x. Closed and open rings both work:
// the closing edge of a closed ring has zero length and never crosses.
func ringContains(ring []geom.Coord, x, y float64) bool {
	n := len(ring)
	if n < 3 {
		return false
	}
	in := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := ring[i][0], ring[i][1]
		xj, yj := ring[j][0], ring[j][1]
		if (yi > y) != (yj > y) && x < (xj-xi)*(y-yi)/(yj-yi)+xi {
			in = !in
		}
	}
	return in
}
