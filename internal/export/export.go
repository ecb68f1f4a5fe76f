// Package export copies produced tables to the configured targets.
package export

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tphakala/imaging-churn/internal/conf"
	"github.com/tphakala/imaging-churn/internal/errors"
	"github.com/tphakala/imaging-churn/internal/export/targets"
	"github.com/tphakala/imaging-churn/internal/logger"
	"github.com/tphakala/imaging-churn/internal/observability/metrics"
)

// Result reports the outcome for one target.
type Result struct {
	Target   string
	Location string
	Bytes    int64
	Duration time.Duration
	Err      error
}

// Exporter stores files on every target concurrently.
type Exporter struct {
	targets []targets.Target
	metrics *metrics.DeliveryMetrics
	log     logger.Logger
}

// New creates an Exporter for ts. m may be nil.
func New(m *metrics.DeliveryMetrics, ts ...targets.Target) *Exporter {
	return &Exporter{targets: ts, metrics: m, log: GetLogger()}
}

// NewFromSettings builds the enabled targets of settings.
func NewFromSettings(settings conf.ExportSettings, m *metrics.DeliveryMetrics) (*Exporter, error) {
	var ts []targets.Target
	for i, tc := range settings.Targets {
		if !tc.Enabled {
			continue
		}
		t, err := NewTarget(tc)
		if err != nil {
			return nil, fmt.Errorf("export target %d: %w", i, err)
		}
		ts = append(ts, t)
	}
	return New(m, ts...), nil
}

// NewTarget creates a target from its configuration.
func NewTarget(tc conf.ExportTarget) (targets.Target, error) {
	settings := targets.Settings(tc.Settings)
	switch strings.ToLower(tc.Type) {
	case "local":
		return targets.NewLocalTarget(settings)
	case "ftp":
		return targets.NewFTPTargetFromSettings(settings)
	case "sftp":
		return targets.NewSFTPTargetFromSettings(settings)
	default:
		return nil, errors.Newf("unsupported export target type %q", tc.Type).
			Component("export").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

// Targets returns the number of configured targets.
func (e *Exporter) Targets() int { return len(e.targets) }

// Export stores path on every target. One result is returned per target in
// configuration order. The error joins all target failures.
func (e *Exporter) Export(ctx context.Context, path string) ([]Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.FileError(err, path, 0)
	}

	results := make([]Result, len(e.targets))
	var mu sync.Mutex
	var errs []error

	g, gctx := errgroup.WithContext(ctx)
	for i, t := range e.targets {
		g.Go(func() error {
			start := time.Now()
			loc, err := t.Store(gctx, path)
			r := Result{Target: t.Name(), Location: loc, Duration: time.Since(start), Err: err}

			status := metrics.StatusSuccess
			if err != nil {
				status = metrics.StatusError
				e.log.Error("export failed",
					logger.String("target", t.Name()),
					logger.Error(err))
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", t.Name(), err))
				mu.Unlock()
			} else {
				r.Bytes = info.Size()
				e.log.Info("export stored",
					logger.String("target", t.Name()),
					logger.String("location", loc),
					logger.Duration("duration", r.Duration))
			}
			if e.metrics != nil {
				e.metrics.RecordExport(t.Name(), status, r.Bytes, r.Duration)
			}
			results[i] = r
			// other targets keep going when one fails
			return nil
		})
	}
	_ = g.Wait()

	if len(errs) > 0 {
		return results, errors.Join(errs...)
	}
	return results, nil
}

// Validate checks every target.
func (e *Exporter) Validate(ctx context.Context) error {
	var errs []error
	for _, t := range e.targets {
		if err := t.Validate(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Close releases targets that hold connections.
func (e *Exporter) Close() error {
	var errs []error
	for _, t := range e.targets {
		if c, ok := t.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
