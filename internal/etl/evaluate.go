package etl

import (
	"math/rand/v2"

	"github.com/tphakala/imaging-churn/internal/errors"
)

// Split is a deterministic train/test partition of profiles.
type Split struct {
	Train []EntityProfile
	Test  []EntityProfile
}

// TrainTestSplit shuffles a copy of profiles with seed and holds out
// ceil(len*testFraction) rows for testing. The input slice is not modified.
func TrainTestSplit(profiles []EntityProfile, testFraction float64, seed uint64) (Split, error) {
	if testFraction <= 0 || testFraction >= 1 {
		return Split{}, errors.Newf("test fraction must be in (0, 1), got %g", testFraction).
			Component("etl").
			Category(errors.CategoryValidation).
			Build()
	}
	if len(profiles) < 2 {
		return Split{}, errors.Newf("need at least 2 profiles to split, got %d", len(profiles)).
			Component("etl").
			Category(errors.CategoryValidation).
			Build()
	}

	shuffled := make([]EntityProfile, len(profiles))
	copy(shuffled, profiles)
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	nTest := int(float64(len(shuffled))*testFraction + 0.999999)
	nTest = min(max(nTest, 1), len(shuffled)-1)

	return Split{Test: shuffled[:nTest], Train: shuffled[nTest:]}, nil
}

// Metrics summarizes binary classification quality at a fixed cutoff.
type Metrics struct {
	Samples        int
	TruePositives  int
	FalsePositives int
	TrueNegatives  int
	FalseNegatives int
	Accuracy       float64
	Precision      float64
	Recall         float64
	F1             float64
}

// Evaluate scores probabilities against 0/1 labels, predicting positive when
// probability > cutoff. Precision, recall and F1 are 0 when undefined.
func Evaluate(probabilities []float64, labels []int, cutoff float64) (Metrics, error) {
	if len(probabilities) != len(labels) {
		return Metrics{}, errors.Newf("got %d probabilities for %d labels", len(probabilities), len(labels)).
			Component("etl").
			Category(errors.CategoryValidation).
			Build()
	}

	m := Metrics{Samples: len(labels)}
	for i, p := range probabilities {
		predicted := p > cutoff
		actual := labels[i] == 1
		switch {
		case predicted && actual:
			m.TruePositives++
		case predicted && !actual:
			m.FalsePositives++
		case !predicted && actual:
			m.FalseNegatives++
		default:
			m.TrueNegatives++
		}
	}

	if m.Samples > 0 {
		m.Accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(m.Samples)
	}
	if d := m.TruePositives + m.FalsePositives; d > 0 {
		m.Precision = float64(m.TruePositives) / float64(d)
	}
	if d := m.TruePositives + m.FalseNegatives; d > 0 {
		m.Recall = float64(m.TruePositives) / float64(d)
	}
	if d := 2*m.TruePositives + m.FalsePositives + m.FalseNegatives; d > 0 {
		m.F1 = float64(2*m.TruePositives) / float64(d)
	}
	return m, nil
}
