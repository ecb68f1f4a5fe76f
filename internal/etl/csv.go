package etl

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tphakala/imaging-churn/internal/errors"
	"github.com/tphakala/imaging-churn/internal/features"
)

// Column layouts of the two tables.
var (
	ImageColumns   = []string{"hospital_id", "modality", "slice_thickness", "img_mean", "img_std", "img_contrast", "churn_label"}
	ProfileColumns = []string{"hospital_id", "target", "avg_img_mean", "avg_img_contrast", "primary_modality", "scan_count"}
)

// ErrMissingColumn is returned when a required header column is absent.
var ErrMissingColumn = errors.NewStd("missing required column")

// header maps column names to positions.
type header map[string]int

func readHeader(r *csv.Reader, required ...string) (header, error) {
	names, err := r.Read()
	if err != nil {
		if err == io.EOF {
			return nil, errors.Newf("empty table: no header row").
				Component("etl").
				Category(errors.CategoryFileParsing).
				Build()
		}
		return nil, parseError(err, 1)
	}

	h := make(header, len(names))
	for i, name := range names {
		h[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	for _, col := range required {
		if _, ok := h[col]; !ok {
			return nil, errors.New(fmt.Errorf("%w: %s", ErrMissingColumn, col)).
				Component("etl").
				Category(errors.CategoryValidation).
				Context("column", col).
				Build()
		}
	}
	return h, nil
}

// get returns the trimmed value of col or "" when the column is absent.
func (h header) get(row []string, col string) string {
	i, ok := h[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func parseError(err error, line int) error {
	return errors.New(fmt.Errorf("line %d: %w", line, err)).
		Component("etl").
		Category(errors.CategoryFileParsing).
		Context("line", line).
		Build()
}

func fieldError(line int, col, value string, err error) error {
	return errors.New(fmt.Errorf("line %d: column %s: invalid value %q: %w", line, col, value, err)).
		Component("etl").
		Category(errors.CategoryValidation).
		Context("line", line).
		Context("column", col).
		Build()
}

func parseFloat(h header, row []string, col string, line int, fallback float64) (float64, error) {
	raw := h.get(row, col)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fieldError(line, col, raw, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fieldError(line, col, raw, fmt.Errorf("value must be finite"))
	}
	return v, nil
}

func parseInt(h header, row []string, col string, line int, fallback int) (int, error) {
	raw := h.get(row, col)
	if raw == "" {
		return fallback, nil
	}
	// tolerate "1.0" written by tools that store labels as floats
	if v, err := strconv.Atoi(raw); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f != float64(int(f)) {
		return 0, fieldError(line, col, raw, fmt.Errorf("not an integer"))
	}
	return int(f), nil
}

// ReadImageRecords parses the per-image feature table. An empty
// slice_thickness is read as 0 and an empty modality as Unknown. A missing
// churn_label column yields unlabelled records.
func ReadImageRecords(r io.Reader) ([]features.ImageRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	h, err := readHeader(cr, "hospital_id", "modality", "img_mean", "img_contrast")
	if err != nil {
		return nil, err
	}

	var records []features.ImageRecord
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, parseError(err, line)
		}

		rec, err := parseImageRow(h, row, line)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func parseImageRow(h header, row []string, line int) (features.ImageRecord, error) {
	rec := features.ImageRecord{
		HospitalID: h.get(row, "hospital_id"),
		Modality:   h.get(row, "modality"),
	}
	if rec.HospitalID == "" {
		return rec, fieldError(line, "hospital_id", "", fmt.Errorf("hospital id is required"))
	}
	if rec.Modality == "" {
		rec.Modality = features.ModalityUnknown
	}

	var err error
	if rec.SliceThickness, err = parseFloat(h, row, "slice_thickness", line, 0); err != nil {
		return rec, err
	}
	if rec.SliceThickness < 0 {
		return rec, fieldError(line, "slice_thickness", h.get(row, "slice_thickness"), fmt.Errorf("slice thickness must not be negative"))
	}
	if rec.ImgMean, err = parseFloat(h, row, "img_mean", line, 0); err != nil {
		return rec, err
	}
	if rec.ImgStd, err = parseFloat(h, row, "img_std", line, 0); err != nil {
		return rec, err
	}
	if rec.ImgContrast, err = parseFloat(h, row, "img_contrast", line, 0); err != nil {
		return rec, err
	}
	if rec.ChurnLabel, err = parseInt(h, row, "churn_label", line, 0); err != nil {
		return rec, err
	}
	if rec.ChurnLabel != 0 && rec.ChurnLabel != 1 {
		return rec, fieldError(line, "churn_label", strconv.Itoa(rec.ChurnLabel), fmt.Errorf("label must be 0 or 1"))
	}
	return rec, nil
}

// WriteImageRecords writes the per-image feature table including its header.
func WriteImageRecords(w io.Writer, records []features.ImageRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ImageColumns); err != nil {
		return err
	}
	for _, rec := range records {
		row := []string{
			rec.HospitalID,
			rec.Modality,
			formatFloat(rec.SliceThickness),
			formatFloat(rec.ImgMean),
			formatFloat(rec.ImgStd),
			formatFloat(rec.ImgContrast),
			strconv.Itoa(rec.ChurnLabel),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadProfiles parses the aggregated per-hospital table.
func ReadProfiles(r io.Reader) ([]EntityProfile, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	h, err := readHeader(cr, "hospital_id", "avg_img_mean", "avg_img_contrast", "primary_modality", "scan_count")
	if err != nil {
		return nil, err
	}

	var profiles []EntityProfile
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, parseError(err, line)
		}

		p := EntityProfile{HospitalID: h.get(row, "hospital_id")}
		if p.HospitalID == "" {
			return nil, fieldError(line, "hospital_id", "", fmt.Errorf("hospital id is required"))
		}
		if p.Target, err = parseInt(h, row, "target", line, 0); err != nil {
			return nil, err
		}
		if p.Target != 0 && p.Target != 1 {
			return nil, fieldError(line, "target", strconv.Itoa(p.Target), fmt.Errorf("target must be 0 or 1"))
		}
		if p.AvgImgMean, err = parseFloat(h, row, "avg_img_mean", line, 0); err != nil {
			return nil, err
		}
		if p.AvgImgContrast, err = parseFloat(h, row, "avg_img_contrast", line, 0); err != nil {
			return nil, err
		}
		if p.PrimaryModality, err = parseInt(h, row, "primary_modality", line, ModalityCodeUnknown); err != nil {
			return nil, err
		}
		switch p.PrimaryModality {
		case ModalityCodeUnknown, ModalityCodeCT, ModalityCodeMR:
		default:
			return nil, fieldError(line, "primary_modality", strconv.Itoa(p.PrimaryModality), fmt.Errorf("modality code must be -1, 0 or 1"))
		}
		if p.ScanCount, err = parseInt(h, row, "scan_count", line, 0); err != nil {
			return nil, err
		}
		if p.ScanCount < 1 {
			return nil, fieldError(line, "scan_count", strconv.Itoa(p.ScanCount), fmt.Errorf("scan count must be positive"))
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}

// WriteProfiles writes the aggregated per-hospital table including its header.
func WriteProfiles(w io.Writer, profiles []EntityProfile) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ProfileColumns); err != nil {
		return err
	}
	for _, p := range profiles {
		row := []string{
			p.HospitalID,
			strconv.Itoa(p.Target),
			formatFloat(p.AvgImgMean),
			formatFloat(p.AvgImgContrast),
			strconv.Itoa(p.PrimaryModality),
			strconv.Itoa(p.ScanCount),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// ReadImageRecordsFile opens path and parses it with ReadImageRecords.
func ReadImageRecordsFile(path string) ([]features.ImageRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.FileError(err, path, 0)
	}
	defer f.Close()
	return ReadImageRecords(f)
}

// ReadProfilesFile opens path and parses it with ReadProfiles.
func ReadProfilesFile(path string) ([]EntityProfile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.FileError(err, path, 0)
	}
	defer f.Close()
	return ReadProfiles(f)
}

// WriteFile writes a table to path through a temporary file and rename, so
// readers never observe a partial table.
func WriteFile(path string, write func(io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.FileError(err, path, 0)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return errors.FileError(err, path, 0)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if err = write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return errors.FileError(err, path, 0)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return errors.FileError(err, path, 0)
	}
	return nil
}
