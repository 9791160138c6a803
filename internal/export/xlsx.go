package export

import (
	"io"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/parcelpicker/internal/model"
)

// XLSX writes a workbook with a "parcels" sheet holding the CSV columns and a
// "run" sheet holding the run header.
func XLSX(w io.Writer, run *model.Run) error {
	f := xlsx.NewFile()

	parcels, err := f.AddSheet("parcels")
	if err != nil {
		return eris.Wrap(err, "export: xlsx parcels sheet")
	}
	addStringRow(parcels, CSVHeader...)
	for _, p := range run.Parcels {
		row := parcels.AddRow()
		row.AddCell().SetString(run.ID)
		row.AddCell().SetInt(p.RingNumber)
		row.AddCell().SetInt(seedInt(p.IsSeed))
		for _, v := range []string{p.ID, p.OwnerName, p.NormalizedOwnerName, p.SiteAddress, string(p.MatchedBy), p.Source} {
			row.AddCell().SetString(v)
		}
	}

	meta, err := f.AddSheet("run")
	if err != nil {
		return eris.Wrap(err, "export: xlsx run sheet")
	}
	completed := ""
	if run.CompletedAt != nil {
		completed = run.CompletedAt.UTC().Format(time.RFC3339)
	}
	for _, kv := range [][2]string{
		{"run_id", run.ID},
		{"input_address", run.InputAddress},
		{"status", string(run.Status)},
		{"provider", run.Provider},
		{"seed_parcel_id", run.SeedParcelID},
		{"summary", run.Summary},
		{"error", run.Error},
		{"created_at", run.CreatedAt.UTC().Format(time.RFC3339)},
		{"completed_at", completed},
	} {
		addStringRow(meta, kv[0], kv[1])
	}
	row := meta.AddRow()
	row.AddCell().SetString("rings_requested")
	row.AddCell().SetInt(run.RingsRequested)
	row = meta.AddRow()
	row.AddCell().SetString("parcel_count")
	row.AddCell().SetInt(run.ParcelCount)
	row = meta.AddRow()
	row.AddCell().SetString("owner_count")
	row.AddCell().SetInt(run.OwnerCount)

	return eris.Wrapf(f.Write(w), "export: xlsx run %s", run.ID)
}

func addStringRow(sheet *xlsx.Sheet, values ...string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

func seedInt(seed bool) int {
	if seed {
		return 1
	}
	return 0
}
