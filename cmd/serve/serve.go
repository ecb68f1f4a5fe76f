// Package serve provides the HTTP prediction API command.
package serve

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tphakala/imaging-churn/internal/api"
	"github.com/tphakala/imaging-churn/internal/buildinfo"
	"github.com/tphakala/imaging-churn/internal/cli"
	"github.com/tphakala/imaging-churn/internal/conf"
	"github.com/tphakala/imaging-churn/internal/logger"
	"github.com/tphakala/imaging-churn/internal/mqtt"
	"github.com/tphakala/imaging-churn/internal/notification"
	"github.com/tphakala/imaging-churn/internal/observability"
	"github.com/tphakala/imaging-churn/internal/scoring"
)

// Command creates the serve command.
func Command(settings *conf.Settings, info buildinfo.Info) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve churn predictions over HTTP",
		Long: `Serve loads the configured model and starts the prediction API. Predictions
are recorded in the datastore, published to MQTT and HIGH risk results are
sent as notifications when those are enabled. SIGHUP reloads the model.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), settings, info)
		},
	}

	cmd.Flags().StringVar(&settings.WebServer.Listen, "listen", settings.WebServer.Listen, "Listen address host:port")

	return cmd
}

func run(ctx context.Context, settings *conf.Settings, info buildinfo.Info) error {
	log := cli.GetLogger().Module("serve")

	m, err := observability.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	svc, err := scoring.NewServiceFromSettings(settings.Model, scoring.WithRecorder(m.Prediction))
	if err != nil {
		return err
	}
	defer svc.Close()
	m.Prediction.SetModelLoaded(svc.Backend(), svc.Ready())

	opts := []api.Option{api.WithMetrics(m), api.WithBuildInfo(info)}

	if ds, err := cli.OpenStore(settings); err != nil {
		log.Warn("datastore unavailable, profiles and audit log disabled", logger.Error(err))
	} else {
		defer ds.Close()
		opts = append(opts, api.WithDatastore(ds))
	}

	if settings.MQTT.Enabled {
		client := mqtt.NewClient(mqtt.ConfigFromSettings(settings), m.MQTT)
		if err := client.Connect(ctx); err != nil {
			log.Warn("MQTT connect failed, predictions will not be published until it recovers",
				logger.String("broker", settings.MQTT.Broker),
				logger.Error(err))
		}
		publisher := mqtt.NewPublisher(client, settings.MQTT.Topic)
		defer publisher.Close()
		opts = append(opts, api.WithPublisher(publisher))
	}

	notifier, err := notification.NewServiceFromSettings(settings.Notification, m.Delivery)
	if err != nil {
		return err
	}
	if notifier != nil {
		opts = append(opts, api.WithNotifier(notifier))
	}

	server, err := api.New(settings, svc, opts...)
	if err != nil {
		return err
	}

	var endpoint *observability.Endpoint
	if settings.Telemetry.Metrics.Enabled {
		if endpoint, err = observability.NewEndpoint(settings, m); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx) })
	if endpoint != nil {
		g.Go(func() error { return endpoint.Run(gctx) })
	}

	g.Go(func() error {
		reloadOnHangup(gctx, settings.Model, svc, m)
		return nil
	})

	return g.Wait()
}

// reloadOnHangup swaps in a freshly loaded model on every SIGHUP. A failed
// load keeps the current model.
func reloadOnHangup(ctx context.Context, settings conf.ModelSettings, svc *scoring.Service, m *observability.Metrics) {
	log := cli.GetLogger().Module("serve")

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
		}

		scorer, err := scoring.LoadScorer(settings)
		if err != nil {
			log.Error("model reload failed, keeping current model", logger.Error(err))
			continue
		}
		if prev := svc.Swap(scorer); prev != nil {
			_ = prev.Close()
		}
		m.Prediction.SetModelLoaded(scorer.Backend(), true)
		log.Info("model reloaded",
			logger.String("backend", scorer.Backend()),
			logger.String("path", settings.Path))
	}
}
