package scoring

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/imaging-churn/internal/conf"
	"github.com/tphakala/imaging-churn/internal/errors"
	"github.com/tphakala/imaging-churn/internal/etl"
	"github.com/tphakala/imaging-churn/internal/features"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"),
	)
}

// fixedScorer returns a constant probability and counts calls.
type fixedScorer struct {
	mu    sync.Mutex
	p     float64
	calls int
	last  []float64
}

func (f *fixedScorer) Score(x []float64) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = append([]float64(nil), x...)
	return f.p, nil
}
func (f *fixedScorer) Backend() string { return "fixed" }
func (f *fixedScorer) Close() error    { return nil }

type recorder struct {
	mu          sync.Mutex
	predictions []string
	errors      []string
	hits        int
}

func (r *recorder) RecordPrediction(backend, level string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.predictions = append(r.predictions, backend+":"+level)
}

func (r *recorder) RecordPredictionError(backend, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, backend+":"+reason)
}

func (r *recorder) RecordCacheHit() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hits++
}

var validFeatures = Features{AvgImgMean: 500, AvgImgContrast: 280, PrimaryModality: 0, ScanCount: 10}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		p     float64
		risk  bool
		level string
	}{
		{0.8, true, RiskHigh},
		{0.6, true, RiskLow},
		{0.7, true, RiskLow},
		{0.5, false, RiskLow},
		{0.1, false, RiskLow},
		{0.71, true, RiskHigh},
	}
	for _, tt := range tests {
		got := Classify(tt.p)
		assert.Equal(t, tt.risk, got.IsChurnRisk, "p=%v", tt.p)
		assert.Equal(t, tt.level, got.RiskLevel, "p=%v", tt.p)
		assert.InDelta(t, tt.p, got.ChurnProbability, 0)
	}
}

func TestPredictUsesFeatureOrder(t *testing.T) {
	t.Parallel()

	s := &fixedScorer{p: 0.8}
	svc := NewService(s)

	pred, err := svc.Predict(context.Background(), Features{AvgImgMean: 1, AvgImgContrast: 2, PrimaryModality: 1, ScanCount: 4})
	require.NoError(t, err)
	assert.Equal(t, Prediction{ChurnProbability: 0.8, IsChurnRisk: true, RiskLevel: RiskHigh}, pred)
	assert.Equal(t, []float64{1, 2, 1, 4}, s.last)
	assert.Equal(t, [4]string{"avg_img_mean", "avg_img_contrast", "primary_modality", "scan_count"}, FeatureOrder)
}

func TestPredictNotInitialized(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	svc := NewService(nil, WithRecorder(rec))
	assert.False(t, svc.Ready())

	_, err := svc.Predict(context.Background(), validFeatures)
	require.ErrorIs(t, err, ErrNotInitialized)
	assert.Equal(t, []string{"none:not_initialized"}, rec.errors)
}

func TestPredictValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		f    Features
	}{
		{"modality out of range", Features{AvgImgMean: 1, AvgImgContrast: 1, PrimaryModality: 2, ScanCount: 1}},
		{"zero scans", Features{AvgImgMean: 1, AvgImgContrast: 1, PrimaryModality: 0, ScanCount: 0}},
		{"nan mean", Features{AvgImgMean: math.NaN(), AvgImgContrast: 1, PrimaryModality: 0, ScanCount: 1}},
		{"inf contrast", Features{AvgImgMean: 1, AvgImgContrast: math.Inf(1), PrimaryModality: 0, ScanCount: 1}},
	}

	s := &fixedScorer{p: 0.9}
	svc := NewService(s)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Predict(context.Background(), tt.f)
			require.Error(t, err)
			assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
		})
	}
	assert.Zero(t, s.calls, "invalid input never reaches the model")
}

func TestPredictScoresUnknownModalityProfile(t *testing.T) {
	t.Parallel()

	profiles := etl.Aggregate([]features.ImageRecord{
		{HospitalID: "H1", Modality: features.ModalityUnknown, ImgMean: 100, ImgContrast: 10},
		{HospitalID: "H1", Modality: "XA", ImgMean: 200, ImgContrast: 20},
	})
	require.Len(t, profiles, 1)
	require.Equal(t, etl.ModalityCodeUnknown, profiles[0].PrimaryModality)

	s := &fixedScorer{p: 0.8}
	pred, err := NewService(s).Predict(context.Background(), FromProfile(profiles[0]))
	require.NoError(t, err)
	assert.Equal(t, RiskHigh, pred.RiskLevel)
	assert.Equal(t, []float64{150, 15, -1, 2}, s.last)
}

func TestPredictCache(t *testing.T) {
	t.Parallel()

	s := &fixedScorer{p: 0.6}
	rec := &recorder{}
	svc := NewService(s, WithCache(time.Minute), WithRecorder(rec))

	for range 3 {
		pred, err := svc.Predict(context.Background(), validFeatures)
		require.NoError(t, err)
		assert.True(t, pred.IsChurnRisk)
		assert.Equal(t, RiskLow, pred.RiskLevel)
	}
	assert.Equal(t, 1, s.calls)
	assert.Equal(t, 2, rec.hits)
	assert.Equal(t, []string{"fixed:LOW"}, rec.predictions)

	// swapping the model invalidates cached results
	s2 := &fixedScorer{p: 0.9}
	prev := svc.Swap(s2)
	assert.Same(t, s, prev)
	pred, err := svc.Predict(context.Background(), validFeatures)
	require.NoError(t, err)
	assert.Equal(t, RiskHigh, pred.RiskLevel)
}

func TestPredictCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewService(&fixedScorer{p: 0.5}).Predict(ctx, validFeatures)
	require.ErrorIs(t, err, context.Canceled)
}

func TestPredictBatch(t *testing.T) {
	t.Parallel()

	svc := NewService(&fixedScorer{p: 0.3})
	preds, err := svc.PredictBatch(context.Background(), []Features{validFeatures, validFeatures})
	require.NoError(t, err)
	assert.Len(t, preds, 2)

	bad := validFeatures
	bad.ScanCount = 0
	_, err = svc.PredictBatch(context.Background(), []Features{validFeatures, bad})
	var be *BatchError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, 1, be.Index)
}

func TestFromProfile(t *testing.T) {
	t.Parallel()

	f := FromProfile(etl.EntityProfile{HospitalID: "H1", Target: 1, AvgImgMean: 150, AvgImgContrast: 15, PrimaryModality: 0, ScanCount: 2})
	assert.Equal(t, Features{AvgImgMean: 150, AvgImgContrast: 15, PrimaryModality: 0, ScanCount: 2}, f)
}

const testModel = `tree
version=v3
num_class=1
num_tree_per_iteration=1
label_index=0
max_feature_idx=3
objective=binary sigmoid:1
feature_names=avg_img_mean avg_img_contrast primary_modality scan_count
feature_infos=[0:1000] [0:600] [0:1] [1:20]
tree_sizes=400 200

Tree=0
num_leaves=3
num_cat=0
split_feature=2 0
split_gain=10 5
threshold=0.5 400
decision_type=2 2
left_child=1 -1
right_child=-3 -2
leaf_value=-1 0.5 2
leaf_weight=10 10 10
leaf_count=10 10 10
internal_value=0 0
internal_weight=30 20
internal_count=30 20
is_linear=0
shrinkage=1


Tree=1
num_leaves=1
num_cat=0
split_feature=
split_gain=
threshold=
decision_type=
left_child=
right_child=
leaf_value=0.25
leaf_weight=
leaf_count=
internal_value=
internal_weight=
internal_count=
is_linear=0
shrinkage=1


end of trees

feature_importances:
primary_modality=1
avg_img_mean=1

parameters:
[boosting: gbdt]
end of parameters
`

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

func TestLightGBMScore(t *testing.T) {
	t.Parallel()

	m, err := ParseLightGBM(strings.NewReader(testModel))
	require.NoError(t, err)
	assert.Equal(t, 2, m.NumTrees())

	tests := []struct {
		name string
		f    Features
		raw  float64
	}{
		{"CT low mean", Features{AvgImgMean: 300, AvgImgContrast: 1, PrimaryModality: 0, ScanCount: 5}, -0.75},
		{"CT threshold is inclusive", Features{AvgImgMean: 400, AvgImgContrast: 1, PrimaryModality: 0, ScanCount: 5}, -0.75},
		{"CT high mean", Features{AvgImgMean: 500, AvgImgContrast: 1, PrimaryModality: 0, ScanCount: 5}, 0.75},
		{"MR", Features{AvgImgMean: 100, AvgImgContrast: 1, PrimaryModality: 1, ScanCount: 5}, 2.25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.raw, m.Raw(tt.f.Vector()), 1e-12)
			p, err := m.Score(tt.f.Vector())
			require.NoError(t, err)
			assert.InDelta(t, sigmoid(tt.raw), p, 1e-12)
		})
	}
}

func TestLightGBMAverageOutput(t *testing.T) {
	t.Parallel()

	model := strings.Replace(testModel, "objective=binary sigmoid:1\n", "objective=binary sigmoid:1\naverage_output\n", 1)
	m, err := ParseLightGBM(strings.NewReader(model))
	require.NoError(t, err)

	x := Features{AvgImgMean: 100, AvgImgContrast: 1, PrimaryModality: 1, ScanCount: 5}.Vector()
	assert.InDelta(t, 2.25/2, m.Raw(x), 1e-12)
	p, err := m.Score(x)
	require.NoError(t, err)
	assert.InDelta(t, sigmoid(1.125), p, 1e-12)
}

func TestFeaturesVectorFollowsFeatureOrder(t *testing.T) {
	t.Parallel()

	f := Features{AvgImgMean: 11, AvgImgContrast: 22, PrimaryModality: 1, ScanCount: 44}
	byName := map[string]float64{
		"avg_img_mean":     11,
		"avg_img_contrast": 22,
		"primary_modality": 1,
		"scan_count":       44,
	}
	v := f.Vector()
	require.Len(t, v, len(FeatureOrder))
	for i, name := range FeatureOrder {
		assert.Equal(t, byName[name], v[i], name)
	}
}

func TestLightGBMThroughService(t *testing.T) {
	t.Parallel()

	m, err := ParseLightGBM(strings.NewReader(testModel))
	require.NoError(t, err)
	svc := NewService(m)

	pred, err := svc.Predict(context.Background(), Features{AvgImgMean: 100, AvgImgContrast: 1, PrimaryModality: 1, ScanCount: 5})
	require.NoError(t, err)
	assert.True(t, pred.IsChurnRisk)
	assert.Equal(t, RiskHigh, pred.RiskLevel)

	pred, err = svc.Predict(context.Background(), Features{AvgImgMean: 500, AvgImgContrast: 1, PrimaryModality: 0, ScanCount: 5})
	require.NoError(t, err)
	assert.True(t, pred.IsChurnRisk)
	assert.Equal(t, RiskLow, pred.RiskLevel, "sigmoid(0.75) is about 0.68")
}

func TestParseLightGBMErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		model string
	}{
		{"no trees", "tree\nobjective=binary sigmoid:1\nend of trees\n"},
		{"regression objective", strings.Replace(testModel, "objective=binary sigmoid:1", "objective=regression", 1)},
		{"feature order mismatch", strings.Replace(testModel,
			"feature_names=avg_img_mean avg_img_contrast primary_modality scan_count",
			"feature_names=avg_img_contrast avg_img_mean primary_modality scan_count", 1)},
		{"categorical split", strings.Replace(testModel, "decision_type=2 2", "decision_type=1 2", 1)},
		{"leaf count mismatch", strings.Replace(testModel, "leaf_value=-1 0.5 2", "leaf_value=-1 0.5", 1)},
		{"child out of range", strings.Replace(testModel, "right_child=-3 -2", "right_child=-4 -2", 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseLightGBM(strings.NewReader(tt.model))
			require.Error(t, err)
		})
	}
}

func TestLoadScorer(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "churn_model_lgb.txt")
	require.NoError(t, os.WriteFile(path, []byte(testModel), 0o600))

	scorer, err := LoadScorer(conf.ModelSettings{Backend: BackendLightGBM, Path: path})
	require.NoError(t, err)
	assert.Equal(t, BackendLightGBM, scorer.Backend())
	require.NoError(t, scorer.Close())

	_, err = LoadScorer(conf.ModelSettings{Backend: BackendLightGBM, Path: filepath.Join(dir, "missing.txt")})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryModelLoad))

	_, err = LoadScorer(conf.ModelSettings{Backend: "onnx", Path: path})
	require.Error(t, err)
}

func TestNewServiceFromSettingsOptionalModel(t *testing.T) {
	t.Parallel()

	missing := filepath.Join(t.TempDir(), "missing.txt")

	svc, err := NewServiceFromSettings(conf.ModelSettings{Backend: BackendLightGBM, Path: missing})
	require.NoError(t, err)
	assert.False(t, svc.Ready())

	_, err = NewServiceFromSettings(conf.ModelSettings{Backend: BackendLightGBM, Path: missing, Required: true})
	require.Error(t, err)
}
