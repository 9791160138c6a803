package main

import (
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/parcelpicker/internal/lookup"
	"github.com/sells-group/parcelpicker/internal/model"
)

var lookupCmd = &cobra.Command{
	Use:   "lookup",
	Short: "Run a one-shot parcel lookup",
	Long:  "Resolves a seed parcel, expands to its neighbors and prints the recorded run as JSON.",
}

// -- lookup address --

var lookupAddressCmd = &cobra.Command{
	Use:   "address <address>",
	Short: "Look up parcels around an address",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initLookup(ctx, "lookup")
		if err != nil {
			return err
		}
		defer env.Close()

		rings, _ := cmd.Flags().GetInt("rings")
		assist, _ := cmd.Flags().GetBool("assist")

		run, err := env.Runner.LookupAddress(ctx, lookup.AddressRequest{
			Address:      strings.Join(args, " "),
			Rings:        rings,
			UseAssistant: assist,
		})
		if err != nil {
			return eris.Wrap(err, "lookup address")
		}
		output, _ := cmd.Flags().GetString("output")
		return printRun(os.Stdout, run, output)
	},
}

// -- lookup point --

var lookupPointCmd = &cobra.Command{
	Use:   "point",
	Short: "Look up parcels around a map coordinate",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initLookup(ctx, "lookup")
		if err != nil {
			return err
		}
		defer env.Close()

		lat, _ := cmd.Flags().GetFloat64("lat")
		lon, _ := cmd.Flags().GetFloat64("lon")
		rings, _ := cmd.Flags().GetInt("rings")
		assist, _ := cmd.Flags().GetBool("assist")

		run, err := env.Runner.LookupPoint(ctx, lookup.PointRequest{
			Lat:          lat,
			Lon:          lon,
			Rings:        rings,
			UseAssistant: assist,
		})
		if err != nil {
			return eris.Wrap(err, "lookup point")
		}
		output, _ := cmd.Flags().GetString("output")
		return printRun(os.Stdout, run, output)
	},
}

// printRun writes the run in the given output format. Runs that ended
// failed or not_found are still printed, then reported as an error.
func printRun(w io.Writer, run *model.Run, format string) error {
	if err := encodeOutput(w, run, format); err != nil {
		return err
	}
	switch run.Status {
	case model.RunStatusFailed, model.RunStatusNotFound:
		return eris.Errorf("run %s %s: %s", run.ID, run.Status, run.Error)
	}
	return nil
}

func init() {
	for _, c := range []*cobra.Command{lookupAddressCmd, lookupPointCmd} {
		c.Flags().Int("rings", 0, "neighbor rings to expand (0-2)")
		c.Flags().Bool("assist", false, "use the text assistant for owner names and the summary")
		c.Flags().StringP("output", "o", "json", "output format (json, yaml)")
	}
	lookupPointCmd.Flags().Float64("lat", 0, "latitude")
	lookupPointCmd.Flags().Float64("lon", 0, "longitude")
	_ = lookupPointCmd.MarkFlagRequired("lat")
	_ = lookupPointCmd.MarkFlagRequired("lon")

	lookupCmd.AddCommand(lookupAddressCmd)
	lookupCmd.AddCommand(lookupPointCmd)
	rootCmd.AddCommand(lookupCmd)
}
