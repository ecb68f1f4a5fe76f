// Package aggregate provides the per-hospital aggregation command.
package aggregate

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/tphakala/imaging-churn/internal/cli"
	"github.com/tphakala/imaging-churn/internal/conf"
	"github.com/tphakala/imaging-churn/internal/datastore"
	"github.com/tphakala/imaging-churn/internal/etl"
)

// Command creates the aggregate command.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		input    string
		output   string
		store    bool
		doExport bool
	)

	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Aggregate per-image features into one profile per hospital",
		Long: `Aggregate groups the per-image feature table by hospital and writes the
profile table: churn target, mean intensity, mean contrast, primary modality
and scan count. Profiles can also be stored in the datastore and pushed to the
configured export targets.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			run := cli.StartRun("aggregate", input)

			records, err := etl.ReadImageRecordsFile(input)
			if err != nil {
				return err
			}
			profiles := etl.Aggregate(records)

			if err := etl.WriteFile(output, func(w io.Writer) error {
				return etl.WriteProfiles(w, profiles)
			}); err != nil {
				return err
			}
			run.Records = len(records)
			run.Profiles = len(profiles)

			report := cli.NewReport(cmd.OutOrStdout())
			report.Linef("Aggregated %d scans into %d hospital profiles -> %s", len(records), len(profiles), output)

			var ds datastore.Interface
			if store {
				if ds, err = cli.OpenStore(settings); err != nil {
					return err
				}
				defer ds.Close()
				if err := ds.SaveProfiles(ctx, run.ID, profiles); err != nil {
					return err
				}
				report.Linef("Stored %d profiles (run %s)", len(profiles), run.ID)
			}
			run.Finish(ctx, settings, ds)

			if !doExport {
				return nil
			}
			return cli.ExportFile(ctx, settings, output, report)
		},
	}

	cmd.Flags().StringVarP(&input, "in", "i", settings.Data.FeaturesCSV, "Input feature CSV")
	cmd.Flags().StringVarP(&output, "out", "o", settings.Data.ProfilesCSV, "Output profile CSV")
	cmd.Flags().BoolVar(&store, "store", false, "Save profiles to the configured datastore")
	cmd.Flags().BoolVar(&doExport, "export", false, "Push the profile CSV to the configured export targets")

	return cmd
}
