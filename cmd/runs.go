package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/parcelpicker/internal/export"
	"github.com/sells-group/parcelpicker/internal/model"
	"github.com/sells-group/parcelpicker/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect lookup run history",
	Long:  "Commands for listing, viewing, exporting and summarizing lookup runs.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent lookup runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("lookup"); err != nil {
			return err
		}
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := st.ListRuns(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show full details of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("lookup"); err != nil {
			return err
		}
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		output, _ := cmd.Flags().GetString("output")
		return encodeOutput(os.Stdout, run, output)
	},
}

// -- runs export --

var runsExportCmd = &cobra.Command{
	Use:   "export <run-id>",
	Short: "Export a run as GeoJSON or CSV",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		format, _ := cmd.Flags().GetString("format")
		out, _ := cmd.Flags().GetString("out")
		ext, ok := exportExts[format]
		if !ok {
			return eris.Errorf("runs export: unsupported format %q (geojson, csv, xlsx, shapefile)", format)
		}

		if err := cfg.Validate("lookup"); err != nil {
			return err
		}
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs export")
		}

		var w io.Writer = os.Stdout
		if out != "" {
			if out == "." {
				out = export.Filename(run, ext)
			}
			f, err := os.Create(out)
			if err != nil {
				return eris.Wrap(err, "runs export: create file")
			}
			defer f.Close() //nolint:errcheck
			w = f
		}

		if err := writeExport(w, run, format); err != nil {
			return err
		}
		if out != "" {
			fmt.Fprintf(os.Stderr, "Wrote %s\n", out)
		}
		return nil
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate run statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("lookup"); err != nil {
			return err
		}
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		since, _ := cmd.Flags().GetDuration("since")
		runs, err := st.ListRuns(ctx, 10000) // high limit for stats
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}

		stats := computeRunStats(runs, since, time.Now())
		formatRunStats(os.Stdout, stats)
		return nil
	},
}

func init() {
	runsListCmd.Flags().Int("limit", store.DefaultListLimit, "max number of runs to display")

	runsShowCmd.Flags().StringP("output", "o", "json", "output format (json, yaml)")

	runsExportCmd.Flags().String("format", "geojson", "export format (geojson, csv, xlsx, shapefile)")
	runsExportCmd.Flags().String("out", "", `output file; "." names it run_<id>.<ext> (default stdout)`)

	runsStatsCmd.Flags().Duration("since", 24*time.Hour, "time window for stats (e.g. 24h, 72h, 168h)")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsExportCmd)
	runsCmd.AddCommand(runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

// exportExts maps export formats to file extensions. Shapefiles are zipped.
var exportExts = map[string]string{
	"geojson":   "geojson",
	"csv":       "csv",
	"xlsx":      "xlsx",
	"shapefile": "zip",
}

func writeExport(w io.Writer, run *model.Run, format string) error {
	switch format {
	case "geojson":
		body, err := export.GeoJSON(run)
		if err != nil {
			return err
		}
		_, err = w.Write(append(body, '\n'))
		return eris.Wrap(err, "runs export: write")
	case "csv":
		return export.CSV(w, run)
	case "xlsx":
		return export.XLSX(w, run)
	case "shapefile":
		return export.ShapefileZip(w, run)
	default:
		return eris.Errorf("runs export: unsupported format %q", format)
	}
}

// runStats holds aggregate statistics computed from a set of runs.
type runStats struct {
	Total      int
	Completed  int
	Capped     int
	NotFound   int
	Failed     int
	Running    int
	FromCache  int
	AvgParcels float64
	AvgDurSecs float64
}

// computeRunStats aggregates runs created within since of now. A zero since
// counts every run.
func computeRunStats(runs []model.Run, since time.Duration, now time.Time) runStats {
	var s runStats

	var totalDur time.Duration
	var durCount, parcels, withParcels int

	for _, r := range runs {
		if since > 0 && r.CreatedAt.Before(now.Add(-since)) {
			continue
		}
		s.Total++
		if r.FromCache {
			s.FromCache++
		}
		switch r.Status {
		case model.RunStatusCompleted:
			s.Completed++
		case model.RunStatusCapped:
			s.Capped++
		case model.RunStatusNotFound:
			s.NotFound++
		case model.RunStatusFailed:
			s.Failed++
		default:
			s.Running++
		}
		if r.Status.Reusable() {
			parcels += r.ParcelCount
			withParcels++
		}
		if r.CompletedAt != nil {
			totalDur += r.CompletedAt.Sub(r.CreatedAt)
			durCount++
		}
	}

	if withParcels > 0 {
		s.AvgParcels = float64(parcels) / float64(withParcels)
	}
	if durCount > 0 {
		s.AvgDurSecs = totalDur.Seconds() / float64(durCount)
	}
	return s
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tINPUT\tRINGS\tSTATUS\tPARCELS\tOWNERS\tCACHED\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t-----\t-----\t------\t-------\t------\t------\t-------")

	for _, r := range runs {
		input := r.InputAddress
		if len(input) > 30 {
			input = input[:27] + "..."
		}
		cached := ""
		if r.FromCache {
			cached = "yes"
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d\t%d\t%s\t%s\n",
			truncateID(r.ID),
			input,
			r.RingsRequested,
			r.Status,
			r.ParcelCount,
			r.OwnerCount,
			cached,
			r.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// formatRunStats writes aggregate stats to w.
func formatRunStats(out io.Writer, s runStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total runs:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Completed:\t%d\n", s.Completed)
	_, _ = fmt.Fprintf(w, "Capped:\t%d\n", s.Capped)
	_, _ = fmt.Fprintf(w, "Not found:\t%d\n", s.NotFound)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.Failed)
	_, _ = fmt.Fprintf(w, "Running:\t%d\n", s.Running)
	_, _ = fmt.Fprintf(w, "From cache:\t%d\n", s.FromCache)
	if s.AvgParcels > 0 {
		_, _ = fmt.Fprintf(w, "Avg parcels:\t%.1f\n", s.AvgParcels)
	}
	if s.AvgDurSecs > 0 {
		_, _ = fmt.Fprintf(w, "Avg duration:\t%.1fs\n", s.AvgDurSecs)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
