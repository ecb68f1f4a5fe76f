package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/imaging-churn/cmd/aggregate"
	"github.com/tphakala/imaging-churn/cmd/evaluate"
	"github.com/tphakala/imaging-churn/cmd/export"
	"github.com/tphakala/imaging-churn/cmd/extract"
	"github.com/tphakala/imaging-churn/cmd/fetch"
	"github.com/tphakala/imaging-churn/cmd/generate"
	"github.com/tphakala/imaging-churn/cmd/notify"
	"github.com/tphakala/imaging-churn/cmd/predict"
	"github.com/tphakala/imaging-churn/cmd/serve"
	"github.com/tphakala/imaging-churn/internal/buildinfo"
	"github.com/tphakala/imaging-churn/internal/conf"
	"github.com/tphakala/imaging-churn/internal/logger"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings, info buildinfo.Info) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "imaging-churn",
		Short:         "Hospital churn prediction from DICOM imaging features",
		Version:       info.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	if err := setupFlags(rootCmd, settings); err != nil {
		conf.GetLogger().Warn("failed to bind global flags", logger.Error(err))
	}

	rootCmd.AddCommand(
		generate.Command(settings),
		extract.Command(settings),
		fetch.Command(settings),
		aggregate.Command(settings),
		predict.Command(settings),
		evaluate.Command(settings),
		serve.Command(settings, info),
		export.Command(settings),
		notify.Command(settings),
	)

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	// read by main before the command tree exists
	rootCmd.PersistentFlags().String("config", "", "Path to config.yaml")
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", settings.Debug, "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.Model.Path, "model", settings.Model.Path, "Path to the scoring model file")
	rootCmd.PersistentFlags().StringVar(&settings.Model.Backend, "backend", settings.Model.Backend, "Model backend: lightgbm or tflite")

	for key, flag := range map[string]string{
		"debug":         "debug",
		"model.path":    "model",
		"model.backend": "backend",
	} {
		if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			return fmt.Errorf("error binding flag %s: %w", flag, err)
		}
	}
	return nil
}
