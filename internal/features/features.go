// Package features computes per-image statistics and metadata for a single scan.
package features

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/tphakala/imaging-churn/internal/errors"
)

// Modality values recognized by the pipeline. Anything else is carried through
// verbatim and encodes as unknown downstream.
const (
	ModalityCT      = "CT"
	ModalityMR      = "MR"
	ModalityUnknown = "Unknown"
)

// UnknownHospital is used when a scan carries no institution name.
const UnknownHospital = "Unknown"

var (
	// ErrInvalidSliceThickness is returned when SliceThickness is present but not a number.
	ErrInvalidSliceThickness = errors.NewStd("slice thickness is not numeric")

	// ErrEmptyImage is returned for an image without samples.
	ErrEmptyImage = errors.NewStd("image has no pixel samples")
)

// ImageRecord is the feature row produced for one scan.
type ImageRecord struct {
	HospitalID     string
	Modality       string
	SliceThickness float64
	ImgMean        float64
	ImgStd         float64
	ImgContrast    float64
	// ChurnLabel is 0 or 1 for labelled training data and 0 otherwise.
	ChurnLabel int
}

// Image is a decoded single-channel pixel grid stored row-major.
type Image struct {
	Rows   int
	Cols   int
	Pixels []uint16
}

// NewImage allocates a zeroed rows x cols image.
func NewImage(rows, cols int) Image {
	return Image{Rows: rows, Cols: cols, Pixels: make([]uint16, rows*cols)}
}

// Metadata holds the raw header values the extractor reads. Empty strings mean
// the attribute was absent.
type Metadata struct {
	InstitutionName string
	Modality        string
	SliceThickness  string
}

// Extract computes the feature row for one decoded image.
func Extract(img Image, meta Metadata) (ImageRecord, error) {
	n := len(img.Pixels)
	if n == 0 {
		return ImageRecord{}, errors.New(ErrEmptyImage).
			Component("features").
			Category(errors.CategoryImageDecode).
			Build()
	}

	thickness, err := parseSliceThickness(meta.SliceThickness)
	if err != nil {
		return ImageRecord{}, err
	}

	var sum float64
	for _, p := range img.Pixels {
		sum += float64(p)
	}
	mean := sum / float64(n)

	return ImageRecord{
		HospitalID:     valueOr(meta.InstitutionName, UnknownHospital),
		Modality:       valueOr(meta.Modality, ModalityUnknown),
		SliceThickness: thickness,
		ImgMean:        mean,
		ImgStd:         populationStd(img.Pixels, mean),
		ImgContrast:    rmsContrast(img.Pixels, mean),
	}, nil
}

func populationStd(pixels []uint16, mean float64) float64 {
	var sq float64
	for _, p := range pixels {
		d := float64(p) - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(pixels)))
}

// rmsContrast is the root-mean-square deviation from the mean. It is
// numerically identical to populationStd, so img_contrast duplicates img_std.
// The formula is kept as-is because trained models consume both columns; a
// different contrast definition (range, Michelson) has not been confirmed.
func rmsContrast(pixels []uint16, mean float64) float64 {
	var sq float64
	for _, p := range pixels {
		d := float64(p) - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(pixels)))
}

func parseSliceThickness(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.New(fmt.Errorf("%w: %q", ErrInvalidSliceThickness, raw)).
			Component("features").
			Category(errors.CategoryValidation).
			Context("field", "SliceThickness").
			Build()
	}
	if v < 0 {
		return 0, errors.New(fmt.Errorf("%w: %q is negative", ErrInvalidSliceThickness, raw)).
			Component("features").
			Category(errors.CategoryValidation).
			Context("field", "SliceThickness").
			Build()
	}
	return v, nil
}

func valueOr(v, fallback string) string {
	if v = strings.TrimSpace(v); v == "" {
		return fallback
	}
	return v
}
