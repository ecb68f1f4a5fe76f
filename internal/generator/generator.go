// Package generator produces a synthetic labelled per-image feature table.
// Every scan is a random pixel grid run through the real feature extractor,
// so generated rows have exactly the shape of rows extracted from DICOM files.
package generator

import (
	"context"
	"fmt"
	"math/rand/v2"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tphakala/imaging-churn/internal/errors"
	"github.com/tphakala/imaging-churn/internal/features"
	"github.com/tphakala/imaging-churn/internal/logger"
)

// Defaults used when a Config field is zero.
const (
	DefaultHospitals        = 50
	DefaultScansPerHospital = 10
	DefaultChurnRate        = 0.2
	DefaultImageSize        = 512
	DefaultSliceThickness   = "2.5"
	DefaultOutput           = "medical_churn_data.csv"

	// maxPixel is the exclusive upper bound of generated sample values.
	maxPixel = 1000
	// churnerCTBias is the draw above which a churner's scan is forced to CT.
	churnerCTBias = 0.3
)

// Config controls the size and randomness of a generated dataset.
type Config struct {
	Hospitals        int
	ScansPerHospital int
	// ChurnRate is the probability that a hospital is a churner. Unlike the
	// other fields zero is taken literally.
	ChurnRate float64
	ImageSize int
	// Seed makes the output reproducible. Zero picks a random seed.
	Seed uint64
	// Workers bounds concurrent feature extraction. Zero uses GOMAXPROCS.
	Workers int
}

func (c *Config) applyDefaults() {
	if c.Hospitals == 0 {
		c.Hospitals = DefaultHospitals
	}
	if c.ScansPerHospital == 0 {
		c.ScansPerHospital = DefaultScansPerHospital
	}
	if c.ImageSize == 0 {
		c.ImageSize = DefaultImageSize
	}
	if c.Seed == 0 {
		c.Seed = rand.Uint64()
	}
	if c.Workers <= 0 {
		c.Workers = runtime.GOMAXPROCS(0)
	}
}

func (c *Config) validate() error {
	switch {
	case c.Hospitals < 0:
		return fmt.Errorf("hospitals must not be negative, got %d", c.Hospitals)
	case c.ScansPerHospital < 0:
		return fmt.Errorf("scans per hospital must not be negative, got %d", c.ScansPerHospital)
	case c.ChurnRate < 0 || c.ChurnRate > 1:
		return fmt.Errorf("churn rate must be in [0, 1], got %g", c.ChurnRate)
	case c.ImageSize < 0:
		return fmt.Errorf("image size must not be negative, got %d", c.ImageSize)
	}
	return nil
}

// scan is the plan for one synthetic image.
type scan struct {
	hospital string
	modality string
	churner  bool
}

// Generate builds the dataset described by cfg. Rows are ordered by hospital
// then scan. The same Seed always yields the same rows.
func Generate(ctx context.Context, cfg Config) ([]features.ImageRecord, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, errors.New(err).
			Component("generator").
			Category(errors.CategoryValidation).
			Build()
	}

	start := time.Now()
	log := GetLogger()
	plan := planScans(cfg)

	records := make([]features.ImageRecord, len(plan))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)

	for i, s := range plan {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rec, err := synthesize(s, cfg.ImageSize, pixelSource(cfg.Seed, i))
			if err != nil {
				return fmt.Errorf("scan %d of %s: %w", i, s.hospital, err)
			}
			records[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	log.Info("generated synthetic dataset",
		logger.Int("hospitals", cfg.Hospitals),
		logger.Int("rows", len(records)),
		logger.Int64("seed", int64(cfg.Seed)), //nolint:gosec // seed printed for reproduction only
		logger.Duration("duration", time.Since(start)))
	return records, nil
}

// planScans draws hospital churn flags and scan modalities from a single
// sequential stream so the plan does not depend on worker scheduling.
func planScans(cfg Config) []scan {
	rng := rand.New(rand.NewPCG(cfg.Seed, 0))
	modalities := [2]string{features.ModalityCT, features.ModalityMR}

	plan := make([]scan, 0, cfg.Hospitals*cfg.ScansPerHospital)
	for h := range cfg.Hospitals {
		id := fmt.Sprintf("HOSP_%03d", h)
		churner := rng.Float64() < cfg.ChurnRate
		for range cfg.ScansPerHospital {
			var modality string
			if churner && rng.Float64() > churnerCTBias {
				modality = features.ModalityCT
			} else {
				modality = modalities[rng.IntN(2)]
			}
			plan = append(plan, scan{hospital: id, modality: modality, churner: churner})
		}
	}
	return plan
}

// pixelSource gives every scan an independent stream keyed by its index.
func pixelSource(seed uint64, index int) *rand.Rand {
	return rand.New(rand.NewPCG(seed, uint64(index)+1)) //nolint:gosec // index is non-negative
}

func synthesize(s scan, size int, rng *rand.Rand) (features.ImageRecord, error) {
	img := features.NewImage(size, size)
	for i := range img.Pixels {
		img.Pixels[i] = uint16(rng.IntN(maxPixel)) //nolint:gosec // bounded by maxPixel
	}

	rec, err := features.Extract(img, features.Metadata{
		InstitutionName: s.hospital,
		Modality:        s.modality,
		SliceThickness:  DefaultSliceThickness,
	})
	if err != nil {
		return features.ImageRecord{}, err
	}
	if s.churner {
		rec.ChurnLabel = 1
	}
	return rec, nil
}
