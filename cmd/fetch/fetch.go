// Package fetch provides the Orthanc ingestion command.
package fetch

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tphakala/imaging-churn/internal/cli"
	"github.com/tphakala/imaging-churn/internal/conf"
	"github.com/tphakala/imaging-churn/internal/etl"
	"github.com/tphakala/imaging-churn/internal/orthanc"
)

// Command creates the fetch command.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		output  string
		study   string
		url     string
		workers int
	)

	cmd := &cobra.Command{
		Use:   "fetch [instance-id...]",
		Short: "Download instances from Orthanc and extract their features",
		Long: `Fetch lists instances on the configured Orthanc server, or of one study, or
takes instance ids as arguments. Each instance is downloaded, decoded and
written as one feature row. Missing institution names are filled from the
instance tags.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			oc := settings.Orthanc
			if url != "" {
				oc.URL = url
			}
			client, err := orthanc.NewClientFromSettings(oc)
			if err != nil {
				return err
			}

			ids := args
			switch {
			case len(ids) > 0:
			case study != "":
				ids, err = client.ListStudyInstances(ctx, study)
			default:
				ids, err = client.ListInstances(ctx)
			}
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				return fmt.Errorf("no instances to fetch from %s", oc.URL)
			}

			run := cli.StartRun("fetch", oc.URL)
			result, err := orthanc.Fetch(ctx, client, ids, workers)
			if err != nil {
				return err
			}
			if err := etl.WriteFile(output, func(w io.Writer) error {
				return etl.WriteImageRecords(w, result.Records)
			}); err != nil {
				return err
			}

			run.Records = len(result.Records)
			run.Skipped = len(result.Skipped)
			ds, err := cli.OpenStore(settings)
			if err == nil {
				defer ds.Close()
			}
			run.Finish(ctx, settings, ds)

			report := cli.NewReport(cmd.OutOrStdout())
			report.Linef("Fetched %d of %d instances -> %s", len(result.Records), len(ids), output)
			for _, s := range result.Skipped {
				report.Linef("  skipped %s", s.Error())
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "out", "o", settings.Data.FeaturesCSV, "Output feature CSV")
	cmd.Flags().StringVar(&study, "study", "", "Only fetch instances of this Orthanc study id")
	cmd.Flags().StringVar(&url, "url", "", "Override the Orthanc base URL")
	cmd.Flags().IntVar(&workers, "workers", orthanc.DefaultWorkers, "Concurrent downloads")

	return cmd
}
