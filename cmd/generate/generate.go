// Package generate provides the synthetic dataset command.
package generate

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/tphakala/imaging-churn/internal/cli"
	"github.com/tphakala/imaging-churn/internal/conf"
	"github.com/tphakala/imaging-churn/internal/etl"
	"github.com/tphakala/imaging-churn/internal/generator"
)

// Command creates the generate command.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		output string
		cfg    = generator.Config{
			Hospitals:        settings.Generator.Hospitals,
			ScansPerHospital: settings.Generator.ScansPerHospital,
			ChurnRate:        settings.Generator.ChurnRate,
			ImageSize:        settings.Generator.ImageSize,
			Seed:             settings.Generator.Seed,
		}
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a synthetic per-image feature table",
		Long: `Generate builds synthetic scans for a set of hospitals, runs them through the
feature extractor and writes the per-image feature table.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			run := cli.StartRun("generate", "synthetic")

			records, err := generator.Generate(ctx, cfg)
			if err != nil {
				return err
			}
			if err := etl.WriteFile(output, func(w io.Writer) error {
				return etl.WriteImageRecords(w, records)
			}); err != nil {
				return err
			}

			run.Records = len(records)
			ds, err := cli.OpenStore(settings)
			if err != nil {
				cli.GetLogger().Debug("ETL run not recorded, no datastore")
			} else {
				defer ds.Close()
			}
			run.Finish(ctx, settings, ds)

			profiles := etl.Aggregate(records)
			churners := 0
			for _, p := range profiles {
				churners += p.Target
			}
			report := cli.NewReport(cmd.OutOrStdout())
			report.Linef("Generated %d scans for %d hospitals (%d churners) -> %s",
				len(records), len(profiles), churners, output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "out", "o", settings.Data.FeaturesCSV, "Output feature CSV")
	cmd.Flags().IntVar(&cfg.Hospitals, "hospitals", cfg.Hospitals, "Number of hospitals")
	cmd.Flags().IntVar(&cfg.ScansPerHospital, "scans", cfg.ScansPerHospital, "Scans per hospital")
	cmd.Flags().Float64Var(&cfg.ChurnRate, "churn-rate", cfg.ChurnRate, "Fraction of hospitals that churn")
	cmd.Flags().IntVar(&cfg.ImageSize, "image-size", cfg.ImageSize, "Width and height of each synthetic image")
	cmd.Flags().Uint64Var(&cfg.Seed, "seed", cfg.Seed, "Random seed, 0 picks one")
	cmd.Flags().IntVar(&cfg.Workers, "workers", 0, "Concurrent extractions, 0 uses GOMAXPROCS")

	return cmd
}
