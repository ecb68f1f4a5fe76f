package etl

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeProfiles(n int) []EntityProfile {
	out := make([]EntityProfile, n)
	for i := range out {
		out[i] = EntityProfile{HospitalID: fmt.Sprintf("HOSP_%03d", i), ScanCount: 1}
	}
	return out
}

func TestTrainTestSplitDeterministic(t *testing.T) {
	t.Parallel()

	profiles := makeProfiles(50)
	a, err := TrainTestSplit(profiles, 0.2, 42)
	require.NoError(t, err)
	b, err := TrainTestSplit(profiles, 0.2, 42)
	require.NoError(t, err)

	assert.Len(t, a.Test, 10)
	assert.Len(t, a.Train, 40)
	assert.Equal(t, a, b)
	assert.Equal(t, "HOSP_000", profiles[0].HospitalID, "input is not reordered")

	seen := map[string]bool{}
	for _, p := range append(append([]EntityProfile{}, a.Train...), a.Test...) {
		assert.False(t, seen[p.HospitalID], "duplicate %s", p.HospitalID)
		seen[p.HospitalID] = true
	}
	assert.Len(t, seen, 50)
}

func TestTrainTestSplitInvalid(t *testing.T) {
	t.Parallel()

	_, err := TrainTestSplit(makeProfiles(10), 0, 1)
	require.Error(t, err)
	_, err = TrainTestSplit(makeProfiles(10), 1, 1)
	require.Error(t, err)
	_, err = TrainTestSplit(makeProfiles(1), 0.2, 1)
	require.Error(t, err)
}

func TestEvaluate(t *testing.T) {
	t.Parallel()

	probs := []float64{0.9, 0.6, 0.4, 0.2, 0.51}
	labels := []int{1, 0, 1, 0, 1}

	m, err := Evaluate(probs, labels, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 2, m.TruePositives)
	assert.Equal(t, 1, m.FalsePositives)
	assert.Equal(t, 1, m.FalseNegatives)
	assert.Equal(t, 1, m.TrueNegatives)
	assert.InDelta(t, 0.6, m.Accuracy, 1e-12)
	assert.InDelta(t, 2.0/3.0, m.F1, 1e-12)
}

func TestEvaluateCutoffIsStrict(t *testing.T) {
	t.Parallel()

	m, err := Evaluate([]float64{0.5}, []int{1}, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 1, m.FalseNegatives)
	assert.Zero(t, m.F1)
}

func TestEvaluateLengthMismatch(t *testing.T) {
	t.Parallel()

	_, err := Evaluate([]float64{0.1}, nil, 0.5)
	require.Error(t, err)
}
