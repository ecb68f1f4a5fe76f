// Package scoring turns hospital profiles into churn risk predictions using a
// pretrained binary classifier.
package scoring

import (
	"fmt"
	"math"

	"github.com/tphakala/imaging-churn/internal/errors"
	"github.com/tphakala/imaging-churn/internal/etl"
)

// FeatureOrder is the column order the model was trained with. Vectors passed
// to a Scorer always follow it.
var FeatureOrder = [4]string{"avg_img_mean", "avg_img_contrast", "primary_modality", "scan_count"}

// Features is the model input for one hospital.
type Features struct {
	AvgImgMean      float64 `json:"avg_img_mean"`
	AvgImgContrast  float64 `json:"avg_img_contrast"`
	PrimaryModality int     `json:"primary_modality"`
	ScanCount       int     `json:"scan_count"`
}

// FromProfile extracts the model features from an aggregated profile.
func FromProfile(p etl.EntityProfile) Features {
	return Features{
		AvgImgMean:      p.AvgImgMean,
		AvgImgContrast:  p.AvgImgContrast,
		PrimaryModality: p.PrimaryModality,
		ScanCount:       p.ScanCount,
	}
}

// Vector returns the features in FeatureOrder.
func (f Features) Vector() []float64 {
	v := make([]float64, len(FeatureOrder))
	for i, name := range FeatureOrder {
		v[i] = f.value(name)
	}
	return v
}

func (f Features) value(name string) float64 {
	switch name {
	case "avg_img_mean":
		return f.AvgImgMean
	case "avg_img_contrast":
		return f.AvgImgContrast
	case "primary_modality":
		return float64(f.PrimaryModality)
	case "scan_count":
		return float64(f.ScanCount)
	}
	panic("scoring: no feature named " + name)
}

// Validate checks that f is a vector the aggregator could have produced.
// Unknown modality (-1) is valid here.
func (f Features) Validate() error {
	var problems []error
	if math.IsNaN(f.AvgImgMean) || math.IsInf(f.AvgImgMean, 0) {
		problems = append(problems, fmt.Errorf("avg_img_mean must be a finite number"))
	}
	if math.IsNaN(f.AvgImgContrast) || math.IsInf(f.AvgImgContrast, 0) {
		problems = append(problems, fmt.Errorf("avg_img_contrast must be a finite number"))
	}
	switch f.PrimaryModality {
	case etl.ModalityCodeUnknown, etl.ModalityCodeCT, etl.ModalityCodeMR:
	default:
		problems = append(problems, fmt.Errorf("primary_modality must be -1, 0 (CT) or 1 (MR), got %d", f.PrimaryModality))
	}
	if f.ScanCount < 1 {
		problems = append(problems, fmt.Errorf("scan_count must be at least 1, got %d", f.ScanCount))
	}
	if len(problems) == 0 {
		return nil
	}
	return errors.New(errors.Join(problems...)).
		Component("scoring").
		Category(errors.CategoryValidation).
		Build()
}

// cacheKey identifies a feature vector exactly.
func (f Features) cacheKey() string {
	return fmt.Sprintf("%x|%x|%d|%d",
		math.Float64bits(f.AvgImgMean), math.Float64bits(f.AvgImgContrast), f.PrimaryModality, f.ScanCount)
}
