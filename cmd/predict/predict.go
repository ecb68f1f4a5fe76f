// Package predict provides the offline scoring command.
package predict

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/imaging-churn/internal/cli"
	"github.com/tphakala/imaging-churn/internal/conf"
	"github.com/tphakala/imaging-churn/internal/datastore"
	"github.com/tphakala/imaging-churn/internal/errors"
	"github.com/tphakala/imaging-churn/internal/etl"
	"github.com/tphakala/imaging-churn/internal/logger"
	"github.com/tphakala/imaging-churn/internal/scoring"
)

type options struct {
	input    string
	features scoring.Features
	store    bool
	asJSON   bool
}

// scored is one output row.
type scored struct {
	HospitalID string `json:"hospital_id,omitempty"`
	scoring.Prediction
}

// Command creates the predict command.
func Command(settings *conf.Settings) *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Score one profile given as flags, or every row of a profile CSV",
		Long: `Predict loads the configured model and prints the churn probability, risk
flag and risk level. Without --in the profile is taken from --mean, --contrast,
--modality and --scans. Rows that fail validation are reported and skipped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.input == "" {
				for _, name := range []string{"mean", "contrast", "modality", "scans"} {
					if !cmd.Flags().Changed(name) {
						return fmt.Errorf("--%s is required without --in", name)
					}
				}
			}
			return runPredict(cmd, settings, &opts)
		},
	}

	cmd.Flags().StringVarP(&opts.input, "in", "i", "", "Profile CSV to score")
	cmd.Flags().Float64Var(&opts.features.AvgImgMean, "mean", 0, "Average image mean")
	cmd.Flags().Float64Var(&opts.features.AvgImgContrast, "contrast", 0, "Average image contrast")
	cmd.Flags().IntVar(&opts.features.PrimaryModality, "modality", 0, "Primary modality, 0 = CT, 1 = MR")
	cmd.Flags().IntVar(&opts.features.ScanCount, "scans", 0, "Number of scans")
	cmd.Flags().BoolVar(&opts.store, "store", false, "Record predictions in the datastore")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "Print one JSON object per line")

	return cmd
}

func runPredict(cmd *cobra.Command, settings *conf.Settings, opts *options) error {
	ctx := cmd.Context()

	svc, err := scoring.NewServiceFromSettings(settings.Model)
	if err != nil {
		return err
	}
	defer svc.Close()
	if !svc.Ready() {
		return fmt.Errorf("model %s could not be loaded: %w", settings.Model.Path, scoring.ErrNotInitialized)
	}

	var ds datastore.Interface
	if opts.store {
		if ds, err = cli.OpenStore(settings); err != nil {
			return err
		}
		defer ds.Close()
	}

	report := cli.NewReport(cmd.OutOrStdout())
	emit := func(row scored) error {
		if opts.asJSON {
			b, err := json.Marshal(row)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return err
		}
		id := row.HospitalID
		if id == "" {
			id = "-"
		}
		report.Linef("%-12s probability=%.4f risk=%t level=%s", id, row.ChurnProbability, row.IsChurnRisk, row.RiskLevel)
		return nil
	}

	if opts.input == "" {
		pred, err := svc.Predict(ctx, opts.features)
		if err != nil {
			return err
		}
		record(ctx, ds, svc.Backend(), "", opts.features, pred)
		return emit(scored{Prediction: pred})
	}

	profiles, err := etl.ReadProfilesFile(opts.input)
	if err != nil {
		return err
	}
	var failed int
	for _, p := range profiles {
		f := scoring.FromProfile(p)
		pred, err := svc.Predict(ctx, f)
		if err != nil {
			if !errors.IsCategory(err, errors.CategoryValidation) {
				return fmt.Errorf("hospital %s: %w", p.HospitalID, err)
			}
			failed++
			cli.GetLogger().Warn("skipping invalid profile",
				logger.String("hospital_id", p.HospitalID),
				logger.Error(err))
			continue
		}
		record(ctx, ds, svc.Backend(), p.HospitalID, f, pred)
		if err := emit(scored{HospitalID: p.HospitalID, Prediction: pred}); err != nil {
			return err
		}
	}
	if failed > 0 && !opts.asJSON {
		report.Linef("Skipped %d of %d profiles that failed validation", failed, len(profiles))
	}
	return nil
}

// record writes the audit row when a datastore is open.
func record(ctx context.Context, ds datastore.Interface, backend, hospitalID string, f scoring.Features, pred scoring.Prediction) {
	if ds == nil {
		return
	}
	rec := &datastore.PredictionRecord{
		HospitalID:       hospitalID,
		AvgImgMean:       f.AvgImgMean,
		AvgImgContrast:   f.AvgImgContrast,
		PrimaryModality:  f.PrimaryModality,
		ScanCount:        f.ScanCount,
		ChurnProbability: pred.ChurnProbability,
		IsChurnRisk:      pred.IsChurnRisk,
		RiskLevel:        pred.RiskLevel,
		Backend:          backend,
		Source:           "cli",
	}
	if err := ds.SavePrediction(ctx, rec); err != nil {
		cli.GetLogger().Warn("failed to record prediction", logger.Error(err))
	}
}
