// Package etl reads and writes the per-image and per-hospital tables and
// reduces image rows into hospital profiles.
package etl

import (
	"github.com/tphakala/imaging-churn/internal/features"
)

// Encoded modality values. Encoding happens before the mode is taken.
const (
	ModalityCodeUnknown = -1
	ModalityCodeCT      = 0
	ModalityCodeMR      = 1
)

// EntityProfile is one aggregated row per hospital.
type EntityProfile struct {
	HospitalID      string
	Target          int // 1 if any scan in the group is labelled churned
	AvgImgMean      float64
	AvgImgContrast  float64
	PrimaryModality int
	ScanCount       int
}

// EncodeModality maps CT to 0, MR to 1 and anything else to -1.
func EncodeModality(modality string) int {
	switch modality {
	case features.ModalityCT:
		return ModalityCodeCT
	case features.ModalityMR:
		return ModalityCodeMR
	default:
		return ModalityCodeUnknown
	}
}

// group accumulates one hospital's rows in a single pass.
type group struct {
	profile     EntityProfile
	sumMean     float64
	sumContrast float64
	// modality codes in first-seen order with their counts
	codes  []int
	counts map[int]int
}

func (g *group) add(rec features.ImageRecord) {
	g.profile.ScanCount++
	g.profile.Target = max(g.profile.Target, rec.ChurnLabel)
	g.sumMean += rec.ImgMean
	g.sumContrast += rec.ImgContrast

	code := EncodeModality(rec.Modality)
	if _, seen := g.counts[code]; !seen {
		g.codes = append(g.codes, code)
	}
	g.counts[code]++
}

func (g *group) finish() EntityProfile {
	p := g.profile
	n := float64(p.ScanCount)
	p.AvgImgMean = g.sumMean / n
	p.AvgImgContrast = g.sumContrast / n

	// strict > keeps the earliest code on ties
	best := g.codes[0]
	for _, code := range g.codes[1:] {
		if g.counts[code] > g.counts[best] {
			best = code
		}
	}
	p.PrimaryModality = best
	return p
}

// Aggregate groups records by hospital id and reduces each group to one profile.
// Output order is the order in which hospital ids first appear. Every id in
// the input yields exactly one profile.
func Aggregate(records []features.ImageRecord) []EntityProfile {
	index := make(map[string]int)
	var groups []*group

	for _, rec := range records {
		i, ok := index[rec.HospitalID]
		if !ok {
			i = len(groups)
			index[rec.HospitalID] = i
			groups = append(groups, &group{
				profile: EntityProfile{HospitalID: rec.HospitalID},
				counts:  make(map[int]int, 3),
			})
		}
		groups[i].add(rec)
	}

	profiles := make([]EntityProfile, len(groups))
	for i, g := range groups {
		profiles[i] = g.finish()
	}
	return profiles
}
