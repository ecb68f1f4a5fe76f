package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/imaging-churn/internal/buildinfo"
	"github.com/tphakala/imaging-churn/internal/conf"
	"github.com/tphakala/imaging-churn/internal/errors"
	"github.com/tphakala/imaging-churn/internal/etl"
	"github.com/tphakala/imaging-churn/internal/scoring"
)

// constantModel scores every profile sigmoid(2), about 0.88.
const constantModel = `tree
version=v3
num_class=1
max_feature_idx=3
objective=binary sigmoid:1

Tree=0
num_leaves=1
leaf_value=2

end of trees
`

func testSettings(t *testing.T) *conf.Settings {
	t.Helper()
	dir := t.TempDir()
	model := filepath.Join(dir, "model.txt")
	require.NoError(t, os.WriteFile(model, []byte(constantModel), 0o644))

	s := &conf.Settings{}
	s.Model = conf.ModelSettings{Backend: scoring.BackendLightGBM, Path: model}
	s.Data = conf.DataSettings{
		FeaturesCSV: filepath.Join(dir, "features.csv"),
		ProfilesCSV: filepath.Join(dir, "profiles.csv"),
		DicomDir:    filepath.Join(dir, "dicom"),
	}
	s.Evaluation = conf.EvaluationSettings{TestFraction: 0.5, Seed: 42}
	return s
}

func execute(t *testing.T, settings *conf.Settings, args ...string) (string, error) {
	t.Helper()
	root := RootCommand(settings, buildinfo.New("test", "today"))
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := RootCommand(&conf.Settings{}, buildinfo.New("1.2.3", "today"))

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"generate", "extract", "fetch", "aggregate", "predict", "evaluate", "serve", "export", "notify"} {
		assert.Contains(t, names, want)
	}
	assert.Contains(t, root.Version, "1.2.3")
}

func TestPipeline(t *testing.T) {
	settings := testSettings(t)

	out, err := execute(t, settings, "generate", "--hospitals", "4", "--scans", "3", "--image-size", "8", "--seed", "7")
	require.NoError(t, err)
	assert.Contains(t, out, "Generated 12 scans for 4 hospitals")

	out, err = execute(t, settings, "aggregate")
	require.NoError(t, err)
	assert.Contains(t, out, "into 4 hospital profiles")

	profiles, err := etl.ReadProfilesFile(settings.Data.ProfilesCSV)
	require.NoError(t, err)
	require.Len(t, profiles, 4)
	for _, p := range profiles {
		assert.Equal(t, 3, p.ScanCount)
	}

	out, err = execute(t, settings, "predict", "--in", settings.Data.ProfilesCSV, "--json")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	for i, line := range lines {
		var row struct {
			HospitalID string `json:"hospital_id"`
			scoring.Prediction
		}
		require.NoError(t, json.Unmarshal([]byte(line), &row))
		assert.Equal(t, profiles[i].HospitalID, row.HospitalID)
		assert.Equal(t, scoring.RiskHigh, row.RiskLevel)
		assert.True(t, row.IsChurnRisk)
	}

	out, err = execute(t, settings, "evaluate", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "Samples:    4 of 4 profiles")
	assert.Contains(t, out, "F1:")
}

func TestPredictSingleProfile(t *testing.T) {
	settings := testSettings(t)

	out, err := execute(t, settings, "predict", "--mean", "150", "--contrast", "15", "--modality", "0", "--scans", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "level=HIGH")

	_, err = execute(t, settings, "predict", "--mean", "150")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--contrast is required")

	_, err = execute(t, settings, "predict", "--mean", "1", "--contrast", "1", "--modality", "7", "--scans", "1")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestPredictWithoutModel(t *testing.T) {
	settings := testSettings(t)
	settings.Model.Path = filepath.Join(t.TempDir(), "missing.txt")

	_, err := execute(t, settings, "predict", "--mean", "1", "--contrast", "1", "--modality", "0", "--scans", "1")
	require.Error(t, err)
	assert.ErrorIs(t, err, scoring.ErrNotInitialized)
}

func TestExportToLocalTarget(t *testing.T) {
	settings := testSettings(t)
	dest := t.TempDir()
	settings.Export.Targets = []conf.ExportTarget{
		{Type: "local", Enabled: true, Settings: map[string]any{"path": dest}},
	}
	require.NoError(t, os.WriteFile(settings.Data.ProfilesCSV, []byte("hospital_id\n"), 0o644))

	out, err := execute(t, settings, "export")
	require.NoError(t, err)
	assert.Contains(t, out, "Exported 12 bytes to local")

	entries, err := os.ReadDir(dest)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasSuffix(entries[0].Name(), "_profiles.csv"))
}

func TestExportWithoutTargets(t *testing.T) {
	settings := testSettings(t)
	_, err := execute(t, settings, "export", "--validate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no export targets")
}
