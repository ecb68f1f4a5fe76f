package etl

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/imaging-churn/internal/errors"
	"github.com/tphakala/imaging-churn/internal/features"
)

func TestReadImageRecords(t *testing.T) {
	t.Parallel()

	input := strings.Join([]string{
		"hospital_id,modality,slice_thickness,img_mean,img_std,img_contrast,churn_label",
		"HOSP_001,CT,2.5,500.1,288.7,288.7,1",
		"HOSP_002,,,10,1,1,0",
	}, "\n")

	records, err := ReadImageRecords(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, features.ImageRecord{
		HospitalID: "HOSP_001", Modality: "CT", SliceThickness: 2.5,
		ImgMean: 500.1, ImgStd: 288.7, ImgContrast: 288.7, ChurnLabel: 1,
	}, records[0])
	assert.Equal(t, features.ModalityUnknown, records[1].Modality)
	assert.Zero(t, records[1].SliceThickness)
}

func TestReadImageRecordsWithoutLabelColumn(t *testing.T) {
	t.Parallel()

	input := "img_contrast,img_mean,modality,hospital_id\n3,4,MR,H9\n"
	records, err := ReadImageRecords(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "H9", records[0].HospitalID)
	assert.InDelta(t, 4.0, records[0].ImgMean, 1e-12)
	assert.Zero(t, records[0].ChurnLabel)
}

func TestReadImageRecordsErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"missing column", "hospital_id,modality,img_mean\nH1,CT,1\n"},
		{"non numeric mean", "hospital_id,modality,img_mean,img_contrast\nH1,CT,abc,1\n"},
		{"bad label", "hospital_id,modality,img_mean,img_contrast,churn_label\nH1,CT,1,1,3\n"},
		{"missing id", "hospital_id,modality,img_mean,img_contrast\n,CT,1,1\n"},
		{"nan thickness", "hospital_id,modality,slice_thickness,img_mean,img_contrast\nH1,CT,NaN,1,1\n"},
		{"inf thickness", "hospital_id,modality,slice_thickness,img_mean,img_contrast\nH1,CT,Inf,1,1\n"},
		{"negative thickness", "hospital_id,modality,slice_thickness,img_mean,img_contrast\nH1,CT,-3,1,1\n"},
		{"nan mean", "hospital_id,modality,img_mean,img_contrast\nH1,CT,NaN,1\n"},
		{"inf contrast", "hospital_id,modality,img_mean,img_contrast\nH1,CT,1,-Inf\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ReadImageRecords(strings.NewReader(tt.input))
			require.Error(t, err)
		})
	}
}

func TestReadImageRecordsMissingColumnIsValidation(t *testing.T) {
	t.Parallel()

	_, err := ReadImageRecords(strings.NewReader("hospital_id\nH1\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingColumn)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestImageRecordsRoundTrip(t *testing.T) {
	t.Parallel()

	in := []features.ImageRecord{
		{HospitalID: "HOSP_000", Modality: "CT", SliceThickness: 2.5, ImgMean: 499.5, ImgStd: 288.6, ImgContrast: 288.6, ChurnLabel: 1},
		{HospitalID: "HOSP_001", Modality: "MR", ImgMean: 1, ImgStd: 0, ImgContrast: 0},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteImageRecords(&buf, in))
	assert.True(t, strings.HasPrefix(buf.String(), strings.Join(ImageColumns, ",")+"\n"))

	out, err := ReadImageRecords(&buf)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestProfilesFileRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out", "hospital_profiles.csv")
	in := []EntityProfile{
		{HospitalID: "H1", Target: 1, AvgImgMean: 150, AvgImgContrast: 15, PrimaryModality: 0, ScanCount: 2},
		{HospitalID: "H2", Target: 0, AvgImgMean: 1.25, AvgImgContrast: 0.5, PrimaryModality: -1, ScanCount: 1},
	}
	require.NoError(t, WriteFile(path, func(w io.Writer) error { return WriteProfiles(w, in) }))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hospital_id,target,avg_img_mean,avg_img_contrast,primary_modality,scan_count")

	out, err := ReadProfilesFile(path)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file is renamed into place")
}

func TestReadProfilesErrors(t *testing.T) {
	t.Parallel()

	const head = "hospital_id,target,avg_img_mean,avg_img_contrast,primary_modality,scan_count\n"
	tests := map[string]string{
		"zero scan count":       "H1,0,1,1,0,0",
		"target out of range":   "H1,7,1,1,0,2",
		"nan mean":              "H1,0,NaN,1,0,2",
		"inf contrast":          "H1,0,1,Inf,0,2",
		"modality out of range": "H1,0,1,1,5,2",
		"missing id":            ",0,1,1,0,2",
	}

	for name, row := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := ReadProfiles(strings.NewReader(head + row + "\n"))
			require.Error(t, err)
			assert.True(t, errors.IsCategory(err, errors.CategoryValidation), err.Error())
		})
	}
}

func TestReadImageRecordsFileMissing(t *testing.T) {
	t.Parallel()

	_, err := ReadImageRecordsFile(filepath.Join(t.TempDir(), "nope.csv"))
	require.Error(t, err)
}
