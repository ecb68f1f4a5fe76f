// Package notify provides a command that sends a test alert.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/imaging-churn/internal/cli"
	"github.com/tphakala/imaging-churn/internal/conf"
	"github.com/tphakala/imaging-churn/internal/notification"
)

// Command returns a cobra command that sends a test notification through the
// configured providers.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		title       string
		message     string
		hospital    string
		probability float64
		scans       int
		timeout     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Send a test notification through the configured providers",
		Long: `Send a test notification through every configured shoutrrr URL.

Examples:
  # Plain message
  imaging-churn notify --message="Hello"

  # A rendered high risk alert
  imaging-churn notify --hospital=HOSP_001 --probability=0.83 --scans=12`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ns := settings.Notification
			ns.Enabled = true
			if title != "" {
				ns.Title = title
			}

			service, err := notification.NewServiceFromSettings(ns, nil)
			if err != nil {
				return err
			}
			if len(ns.URLs) == 0 || service == nil {
				return fmt.Errorf("no notification URLs configured")
			}

			n := &notification.Notification{Title: ns.Title, Message: message}
			if cmd.Flags().Changed("hospital") || cmd.Flags().Changed("probability") {
				n.Message = notification.FormatHighRisk(notification.HighRiskAlert{
					HospitalID:       hospital,
					ChurnProbability: probability,
					ScanCount:        scans,
				})
			}

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			if err := service.Send(ctx, n); err != nil {
				return fmt.Errorf("failed to send notification: %w", err)
			}

			cli.NewReport(cmd.OutOrStdout()).Linef("Notification sent to %d providers", service.Providers())
			return nil
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "Notification title, defaults to the configured title")
	cmd.Flags().StringVar(&message, "message", "This is a test notification", "Notification message")
	cmd.Flags().StringVar(&hospital, "hospital", "", "Render a high risk alert for this hospital")
	cmd.Flags().Float64Var(&probability, "probability", 0.9, "Churn probability of the rendered alert")
	cmd.Flags().IntVar(&scans, "scans", 0, "Scan count of the rendered alert")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Delivery deadline (0 to disable)")

	return cmd
}
