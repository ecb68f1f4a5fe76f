// Package evaluate provides the model evaluation command.
package evaluate

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/imaging-churn/internal/cli"
	"github.com/tphakala/imaging-churn/internal/conf"
	"github.com/tphakala/imaging-churn/internal/errors"
	"github.com/tphakala/imaging-churn/internal/etl"
	"github.com/tphakala/imaging-churn/internal/scoring"
)

// Command creates the evaluate command.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		input        string
		testFraction = settings.Evaluation.TestFraction
		seed         = settings.Evaluation.Seed
		all          bool
	)

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Report accuracy and F1 of the loaded model on a labelled profile CSV",
		Long: `Evaluate splits the profile table with a fixed seed, scores the held-out rows
with the configured model and reports accuracy, precision, recall and F1 at
the churn risk cutoff. With --all every row is scored.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			profiles, err := etl.ReadProfilesFile(input)
			if err != nil {
				return err
			}
			rows := profiles
			if !all {
				split, err := etl.TrainTestSplit(profiles, testFraction, seed)
				if err != nil {
					return err
				}
				rows = split.Test
			}

			svc, err := scoring.NewServiceFromSettings(settings.Model)
			if err != nil {
				return err
			}
			defer svc.Close()

			probabilities := make([]float64, 0, len(rows))
			labels := make([]int, 0, len(rows))
			skipped := 0
			for _, p := range rows {
				pred, err := svc.Predict(ctx, scoring.FromProfile(p))
				switch {
				case errors.IsCategory(err, errors.CategoryValidation):
					skipped++
					continue
				case err != nil:
					return fmt.Errorf("hospital %s: %w", p.HospitalID, err)
				}
				probabilities = append(probabilities, pred.ChurnProbability)
				labels = append(labels, p.Target)
			}

			m, err := etl.Evaluate(probabilities, labels, scoring.RiskThreshold)
			if err != nil {
				return err
			}

			r := cli.NewReport(cmd.OutOrStdout())
			r.Linef("Model:      %s (%s)", settings.Model.Path, svc.Backend())
			r.Linef("Samples:    %d of %d profiles (%d skipped)", m.Samples, len(profiles), skipped)
			r.Linef("Accuracy:   %.4f", m.Accuracy)
			r.Linef("Precision:  %.4f", m.Precision)
			r.Linef("Recall:     %.4f", m.Recall)
			r.Linef("F1:         %.4f", m.F1)
			r.Linef("Confusion:  TP=%d FP=%d TN=%d FN=%d",
				m.TruePositives, m.FalsePositives, m.TrueNegatives, m.FalseNegatives)
			return nil
		},
	}

	cmd.Flags().StringVarP(&input, "in", "i", settings.Data.ProfilesCSV, "Labelled profile CSV")
	cmd.Flags().Float64Var(&testFraction, "test-fraction", testFraction, "Held-out fraction")
	cmd.Flags().Uint64Var(&seed, "seed", seed, "Split seed")
	cmd.Flags().BoolVar(&all, "all", false, "Score every row instead of the held-out split")

	return cmd
}
