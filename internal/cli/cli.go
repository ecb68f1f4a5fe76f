// Package cli holds helpers shared by the cobra subcommands.
package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/tphakala/imaging-churn/internal/conf"
	"github.com/tphakala/imaging-churn/internal/datastore"
	"github.com/tphakala/imaging-churn/internal/export"
	"github.com/tphakala/imaging-churn/internal/logger"
	"github.com/tphakala/imaging-churn/internal/observability"
)

// NewReport writes human readable reports with digit grouping.
func NewReport(w io.Writer) *Report {
	return &Report{w: w, p: message.NewPrinter(language.English)}
}

// Report writes localized lines to w.
type Report struct {
	w io.Writer
	p *message.Printer
}

// Linef writes one formatted line.
func (r *Report) Linef(format string, args ...any) {
	r.p.Fprintf(r.w, format+"\n", args...)
}

// Sprintf formats without writing.
func (r *Report) Sprintf(format string, args ...any) string {
	return r.p.Sprintf(format, args...)
}

// OpenStore opens the datastore enabled in settings.
func OpenStore(settings *conf.Settings) (datastore.Interface, error) {
	ds, err := datastore.New(settings)
	if err != nil {
		return nil, err
	}
	if err := ds.Open(); err != nil {
		return nil, err
	}
	return ds, nil
}

// Run tracks one ETL invocation for the etl_runs table and ETL metrics.
type Run struct {
	datastore.ETLRun
}

// StartRun stamps a new run with a fresh id.
func StartRun(source, input string) *Run {
	return &Run{ETLRun: datastore.ETLRun{
		ID:        uuid.NewString(),
		Source:    source,
		Input:     input,
		StartedAt: time.Now().UTC(),
	}}
}

// Finish records the run in ds when it is not nil, adds it to the ETL
// metrics and writes the metrics textfile when one is configured. Failures
// are logged and never fail the command.
func (r *Run) Finish(ctx context.Context, settings *conf.Settings, ds datastore.Interface) {
	r.FinishedAt = time.Now().UTC()
	log := GetLogger().With(logger.String("run_id", r.ID), logger.String("source", r.Source))

	if ds != nil {
		if err := ds.SaveRun(ctx, &r.ETLRun); err != nil {
			log.Warn("failed to record ETL run", logger.Error(err))
		}
	}

	path := settings.Telemetry.Metrics.Textfile
	if path == "" {
		return
	}
	m, err := observability.NewMetrics()
	if err != nil {
		log.Warn("failed to create metrics", logger.Error(err))
		return
	}
	m.ETL.RecordRun(r.Source, r.Records, r.Skipped, r.Profiles, r.FinishedAt.Sub(r.StartedAt))
	if err := WriteTextfile(path, m.Registry()); err != nil {
		log.Warn("failed to write metrics textfile", logger.String("path", path), logger.Error(err))
	}
}

// WriteTextfile dumps g in the node_exporter textfile collector format.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("write metrics to %s: %w", path, err)
	}
	return nil
}

// ExportFile pushes path to every enabled export target and reports each
// result. The returned error joins the failed targets.
func ExportFile(ctx context.Context, settings *conf.Settings, path string, report *Report) error {
	exporter, err := export.NewFromSettings(settings.Export, nil)
	if err != nil {
		return err
	}
	defer exporter.Close()

	if exporter.Targets() == 0 {
		return fmt.Errorf("no export targets enabled")
	}

	results, err := exporter.Export(ctx, path)
	for _, r := range results {
		if r.Err != nil {
			report.Linef("Export to %s failed: %v", r.Target, r.Err)
			continue
		}
		report.Linef("Exported %d bytes to %s: %s", r.Bytes, r.Target, r.Location)
	}
	return err
}
