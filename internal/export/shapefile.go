package export

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"

	"github.com/sells-group/parcelpicker/internal/model"
)

// dbfFields are the shapefile attribute columns. DBF names are capped at ten
// characters.
var dbfFields = []shp.Field{
	shp.StringField("RUN_ID", 36),
	shp.NumberField("RING", 2),
	shp.NumberField("IS_SEED", 1),
	shp.StringField("PARCEL_ID", 64),
	shp.StringField("OWNER", 254),
	shp.StringField("OWNER_NORM", 254),
	shp.StringField("SITE_ADDR", 254),
	shp.StringField("MATCHED_BY", 32),
	shp.StringField("SOURCE", 64),
}

// shapefileExts are the files that make up one shapefile.
var shapefileExts = []string{".shp", ".shx", ".dbf"}

// Shapefile writes the run's polygon parcels as run_<id>.shp/.shx/.dbf in dir
// and returns the written paths. Outer rings are written clockwise and holes
// counterclockwise. Parcels without polygon geometry are left out.
func Shapefile(dir string, run *model.Run) ([]string, error) {
	base := filepath.Join(dir, "run_"+run.ID)

	w, err := shp.Create(base+".shp", shp.POLYGON)
	if err != nil {
		return nil, eris.Wrap(err, "export: create shapefile")
	}
	if err := w.SetFields(dbfFields); err != nil {
		w.Close()
		return nil, eris.Wrap(err, "export: shapefile fields")
	}

	for _, p := range run.Parcels {
		if !p.Geometry.IsPolygon() {
			continue
		}
		n := int(w.Write(toShpPolygon(p.Geometry.Rings())))
		values := []any{
			run.ID, p.RingNumber, seedInt(p.IsSeed), p.ID, p.OwnerName,
			p.NormalizedOwnerName, p.SiteAddress, string(p.MatchedBy), p.Source,
		}
		for i, v := range values {
			if s, ok := v.(string); ok {
				v = clip(s, int(dbfFields[i].Size))
			}
			if err := w.WriteAttribute(n, i, v); err != nil {
				w.Close()
				return nil, eris.Wrapf(err, "export: shapefile attribute %s", p.ID)
			}
		}
	}
	w.Close()

	// Some go-shp releases name the table "<base>dbf".
	if _, err := os.Stat(base + "dbf"); err == nil {
		if err := os.Rename(base+"dbf", base+".dbf"); err != nil {
			return nil, eris.Wrap(err, "export: rename dbf")
		}
	}

	paths := make([]string, 0, len(shapefileExts))
	for _, ext := range shapefileExts {
		paths = append(paths, base+ext)
	}
	return paths, nil
}

// ShapefileZip writes the run's shapefile set as a single zip archive.
func ShapefileZip(w io.Writer, run *model.Run) error {
	dir, err := os.MkdirTemp("", "parcelpicker-shp-")
	if err != nil {
		return eris.Wrap(err, "export: shapefile temp dir")
	}
	defer os.RemoveAll(dir) //nolint:errcheck

	paths, err := Shapefile(dir, run)
	if err != nil {
		return err
	}

	zw := zip.NewWriter(w)
	for _, path := range paths {
		if err := addZipFile(zw, path); err != nil {
			_ = zw.Close()
			return err
		}
	}
	return eris.Wrap(zw.Close(), "export: close zip")
}

func addZipFile(zw *zip.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return eris.Wrapf(err, "export: open %s", filepath.Base(path))
	}
	defer f.Close() //nolint:errcheck

	dst, err := zw.Create(filepath.Base(path))
	if err != nil {
		return eris.Wrapf(err, "export: zip entry %s", filepath.Base(path))
	}
	_, err = io.Copy(dst, f)
	return eris.Wrapf(err, "export: zip copy %s", filepath.Base(path))
}

func toShpPolygon(rings [][][]float64) *shp.Polygon {
	parts := make([][]shp.Point, 0, len(rings))
	for i, ring := range rings {
		pts := make([]shp.Point, len(ring))
		for j, c := range ring {
			pts[j] = shp.Point{X: c[0], Y: c[1]}
		}
		// Shapefile outer rings are clockwise (negative signed area).
		if clockwise := signedArea(pts) < 0; clockwise != (i == 0) {
			reverse(pts)
		}
		parts = append(parts, pts)
	}
	poly := shp.Polygon(*shp.NewPolyLine(parts))
	return &poly
}

func signedArea(pts []shp.Point) float64 {
	var a float64
	for i := range pts {
		j := (i + 1) % len(pts)
		a += pts[i].X*pts[j].Y - pts[j].X*pts[i].Y
	}
	return a / 2
}

func reverse(pts []shp.Point) {
	for i, j := 0, len(pts)-1; i < j; i, j = i+1, j-1 {
		pts[i], pts[j] = pts[j], pts[i]
	}
}

func clip(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
