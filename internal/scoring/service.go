package scoring

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/tphakala/imaging-churn/internal/errors"
	"github.com/tphakala/imaging-churn/internal/logger"
)

// Decision thresholds. Both comparisons are strict.
const (
	RiskThreshold     = 0.5
	HighRiskThreshold = 0.7
)

// Risk tiers.
const (
	RiskHigh = "HIGH"
	RiskLow  = "LOW"
)

// ErrNotInitialized is returned by Predict when no model is loaded.
var ErrNotInitialized = errors.NewStd("model not initialized")

// Scorer produces a churn probability for a vector laid out in FeatureOrder.
type Scorer interface {
	Score(x []float64) (float64, error)
	Backend() string
	Close() error
}

// Recorder receives prediction telemetry. Implemented by the metrics package.
type Recorder interface {
	RecordPrediction(backend, riskLevel string, duration time.Duration)
	RecordPredictionError(backend, reason string)
	RecordCacheHit()
}

// Prediction is the outcome for one feature vector.
type Prediction struct {
	ChurnProbability float64 `json:"churn_probability"`
	IsChurnRisk      bool    `json:"is_churn_risk"`
	RiskLevel        string  `json:"risk_level"`
}

// Classify applies the decision thresholds to a probability.
func Classify(p float64) Prediction {
	level := RiskLow
	if p > HighRiskThreshold {
		level = RiskHigh
	}
	return Prediction{
		ChurnProbability: p,
		IsChurnRisk:      p > RiskThreshold,
		RiskLevel:        level,
	}
}

// Service wraps a Scorer with validation, caching and telemetry. A Service
// without a scorer answers every prediction with ErrNotInitialized.
type Service struct {
	mu       sync.RWMutex
	scorer   Scorer
	cache    *cache.Cache
	recorder Recorder
	log      logger.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithCache memoizes predictions for ttl. A non-positive ttl disables caching.
func WithCache(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.cache = cache.New(ttl, 2*ttl)
		}
	}
}

// WithRecorder attaches a telemetry sink.
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithLogger overrides the package logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) { s.log = l }
}

// NewService builds a Service around scorer, which may be nil.
func NewService(scorer Scorer, opts ...Option) *Service {
	s := &Service{scorer: scorer, log: GetLogger()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ready reports whether a model is loaded.
func (s *Service) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scorer != nil
}

// Backend returns the loaded model backend or "" when none is loaded.
func (s *Service) Backend() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.scorer == nil {
		return ""
	}
	return s.scorer.Backend()
}

// Swap replaces the scorer and returns the previous one, which the caller
// must close. Cached predictions are dropped.
func (s *Service) Swap(scorer Scorer) Scorer {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.scorer
	s.scorer = scorer
	if s.cache != nil {
		s.cache.Flush()
	}
	return prev
}

// Predict validates f and scores it.
func (s *Service) Predict(ctx context.Context, f Features) (Prediction, error) {
	if err := ctx.Err(); err != nil {
		return Prediction{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := f.Validate(); err != nil {
		s.recordError("validation")
		return Prediction{}, err
	}
	if s.scorer == nil {
		s.recordError("not_initialized")
		return Prediction{}, ErrNotInitialized
	}

	key := f.cacheKey()
	if s.cache != nil {
		if v, ok := s.cache.Get(key); ok {
			if s.recorder != nil {
				s.recorder.RecordCacheHit()
			}
			return v.(Prediction), nil
		}
	}

	start := time.Now()
	p, err := s.scorer.Score(f.Vector())
	if err != nil {
		s.recordError("inference")
		return Prediction{}, errors.New(err).
			Component("scoring").
			Category(errors.CategoryProcessing).
			Context("backend", s.scorer.Backend()).
			Timing("predict", time.Since(start)).
			Build()
	}

	pred := Classify(p)
	if s.cache != nil {
		s.cache.SetDefault(key, pred)
	}
	if s.recorder != nil {
		s.recorder.RecordPrediction(s.scorer.Backend(), pred.RiskLevel, time.Since(start))
	}
	s.log.Debug("prediction",
		logger.Float64("churn_probability", pred.ChurnProbability),
		logger.String("risk_level", pred.RiskLevel))
	return pred, nil
}

// PredictBatch scores every item in order and stops at the first error,
// returning the index of the failing item.
func (s *Service) PredictBatch(ctx context.Context, items []Features) ([]Prediction, error) {
	out := make([]Prediction, 0, len(items))
	for i, f := range items {
		p, err := s.Predict(ctx, f)
		if err != nil {
			return nil, &BatchError{Index: i, Err: err}
		}
		out = append(out, p)
	}
	return out, nil
}

// BatchError locates the failing item of a batch.
type BatchError struct {
	Index int
	Err   error
}

func (e *BatchError) Error() string {
	return "item " + strconv.Itoa(e.Index) + ": " + e.Err.Error()
}

func (e *BatchError) Unwrap() error { return e.Err }

// Close releases the scorer.
func (s *Service) Close() error {
	if prev := s.Swap(nil); prev != nil {
		return prev.Close()
	}
	return nil
}

// recordError must be called with s.mu held.
func (s *Service) recordError(reason string) {
	if s.recorder == nil {
		return
	}
	backend := "none"
	if s.scorer != nil {
		backend = s.scorer.Backend()
	}
	s.recorder.RecordPredictionError(backend, reason)
}
