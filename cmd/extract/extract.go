// Package extract provides the DICOM feature extraction command.
package extract

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tphakala/imaging-churn/internal/cli"
	"github.com/tphakala/imaging-churn/internal/conf"
	"github.com/tphakala/imaging-churn/internal/etl"
	"github.com/tphakala/imaging-churn/internal/features"
)

// Command creates the extract command.
func Command(settings *conf.Settings) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "extract [dicom-dir]",
		Short: "Extract per-image features from a directory of DICOM files",
		Long: `Extract walks the directory for *.dcm and *.dicom files, decodes each one and
writes one feature row per readable image. Unreadable files are skipped and listed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := settings.Data.DicomDir
			if len(args) == 1 {
				dir = args[0]
			}
			return runExtract(cmd, settings, dir, output)
		},
	}

	cmd.Flags().StringVarP(&output, "out", "o", settings.Data.FeaturesCSV, "Output feature CSV")

	return cmd
}

func runExtract(cmd *cobra.Command, settings *conf.Settings, dir, output string) error {
	ctx := cmd.Context()
	run := cli.StartRun("extract", dir)

	paths, err := features.FindDICOMFiles(dir)
	if err != nil {
		return fmt.Errorf("scanning %s: %w", dir, err)
	}
	if len(paths) == 0 {
		return fmt.Errorf("no DICOM files found in %s", dir)
	}

	result, err := features.ExtractFiles(ctx, paths)
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
	report.Linef("Extracted %d of %d files -> %s", len(result.Records), len(paths), output)
	for _, s := range result.Skipped {
		report.Linef("  skipped %s", s.Error())
	}
	return nil
}
