package scoring

import (
	"fmt"
	"time"

	"github.com/tphakala/imaging-churn/internal/conf"
	"github.com/tphakala/imaging-churn/internal/errors"
	"github.com/tphakala/imaging-churn/internal/logger"
)

// LoadScorer opens the model described by settings.
func LoadScorer(settings conf.ModelSettings) (Scorer, error) {
	start := time.Now()
	log := GetLogger()

	var (
		scorer Scorer
		err    error
	)
	switch settings.Backend {
	case BackendLightGBM, "":
		var m *LightGBMModel
		if m, err = LoadLightGBMFile(settings.Path); err == nil {
			log.Info("loaded LightGBM model",
				logger.String("path", settings.Path),
				logger.Int("trees", m.NumTrees()))
			scorer = m
		}
	case BackendTFLite:
		var m *TFLiteModel
		if m, err = LoadTFLiteFile(settings.Path, settings.Threads); err == nil {
			log.Info("loaded TensorFlow Lite model",
				logger.String("path", settings.Path),
				logger.Int("threads", settings.Threads))
			scorer = m
		}
	default:
		return nil, errors.New(fmt.Errorf("unsupported model backend %q", settings.Backend)).
			Component("scoring").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if err != nil {
		return nil, err
	}

	log.Debug("model load finished", logger.Duration("duration", time.Since(start)))
	return scorer, nil
}

// NewServiceFromSettings loads the configured model and wraps it in a Service.
// When the model cannot be loaded and settings.Required is false the Service
// is returned without a scorer and the load error is logged.
func NewServiceFromSettings(settings conf.ModelSettings, opts ...Option) (*Service, error) {
	opts = append([]Option{WithCache(settings.CacheTTL)}, opts...)

	scorer, err := LoadScorer(settings)
	if err != nil {
		if settings.Required {
			return nil, err
		}
		GetLogger().Warn("model not loaded, predictions will be unavailable",
			logger.String("path", settings.Path),
			logger.String("backend", settings.Backend),
			logger.Error(err))
		return NewService(nil, opts...), nil
	}
	return NewService(scorer, opts...), nil
}
