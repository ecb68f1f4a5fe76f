// Package export provides the export command for imaging-churn
package export

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/imaging-churn/internal/cli"
	"github.com/tphakala/imaging-churn/internal/conf"
	exporter "github.com/tphakala/imaging-churn/internal/export"
)

// Command creates and returns the export command
func Command(settings *conf.Settings) *cobra.Command {
	var (
		validateOnly bool
		timeout      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "export [file]",
		Short: "Push a file to the configured export targets",
		Long: `Export copies a file, by default the aggregated profile table, to every
enabled local, FTP and SFTP target. With --validate only connectivity and
write access of the targets are checked.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := settings.Data.ProfilesCSV
			if len(args) == 1 {
				path = args[0]
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			report := cli.NewReport(cmd.OutOrStdout())
			if validateOnly {
				return runValidate(ctx, settings, report)
			}
			return cli.ExportFile(ctx, settings, path, report)
		},
	}

	cmd.Flags().BoolVar(&validateOnly, "validate", false, "Only validate the configured targets")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "Overall deadline")

	return cmd
}

func runValidate(ctx context.Context, settings *conf.Settings, report *cli.Report) error {
	e, err := exporter.NewFromSettings(settings.Export, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	if e.Targets() == 0 {
		return fmt.Errorf("no export targets enabled")
	}
	if err := e.Validate(ctx); err != nil {
		return fmt.Errorf("target validation failed: %w", err)
	}
	report.Linef("All %d export targets are reachable and writable", e.Targets())
	return nil
}
