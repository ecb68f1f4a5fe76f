package etl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/imaging-churn/internal/features"
)

func rec(id, modality string, mean, contrast float64, label int) features.ImageRecord {
	return features.ImageRecord{
		HospitalID:  id,
		Modality:    modality,
		ImgMean:     mean,
		ImgStd:      contrast,
		ImgContrast: contrast,
		ChurnLabel:  label,
	}
}

func TestAggregateSingleHospital(t *testing.T) {
	t.Parallel()

	profiles := Aggregate([]features.ImageRecord{
		rec("H1", "CT", 100, 10, 0),
		rec("H1", "CT", 200, 20, 1),
	})

	require.Len(t, profiles, 1)
	assert.Equal(t, EntityProfile{
		HospitalID:      "H1",
		Target:          1,
		AvgImgMean:      150,
		AvgImgContrast:  15,
		PrimaryModality: ModalityCodeCT,
		ScanCount:       2,
	}, profiles[0])
}

func TestAggregateModalityTieUsesFirstSeen(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		records []features.ImageRecord
		want    int
	}{
		{
			name:    "MR first",
			records: []features.ImageRecord{rec("H2", "MR", 1, 1, 0), rec("H2", "CT", 1, 1, 0)},
			want:    ModalityCodeMR,
		},
		{
			name:    "CT first",
			records: []features.ImageRecord{rec("H2", "CT", 1, 1, 0), rec("H2", "MR", 1, 1, 0)},
			want:    ModalityCodeCT,
		},
		{
			name: "majority beats first seen",
			records: []features.ImageRecord{
				rec("H2", "PT", 1, 1, 0),
				rec("H2", "MR", 1, 1, 0),
				rec("H2", "MR", 1, 1, 0),
			},
			want: ModalityCodeMR,
		},
		{
			name:    "unknown modalities encode as -1",
			records: []features.ImageRecord{rec("H2", "US", 1, 1, 0), rec("H2", "Unknown", 1, 1, 0)},
			want:    ModalityCodeUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			profiles := Aggregate(tt.records)
			require.Len(t, profiles, 1)
			assert.Equal(t, tt.want, profiles[0].PrimaryModality)
		})
	}
}

func TestAggregatePreservesFirstSeenOrder(t *testing.T) {
	t.Parallel()

	profiles := Aggregate([]features.ImageRecord{
		rec("B", "CT", 1, 1, 0),
		rec("A", "MR", 2, 2, 0),
		rec("B", "CT", 3, 3, 0),
		rec("C", "CT", 4, 4, 1),
	})

	ids := make([]string, len(profiles))
	for i, p := range profiles {
		ids[i] = p.HospitalID
	}
	assert.Equal(t, []string{"B", "A", "C"}, ids)
	assert.Equal(t, 2, profiles[0].ScanCount)
	assert.InDelta(t, 2.0, profiles[0].AvgImgMean, 1e-12)
	assert.Equal(t, 1, profiles[2].Target)
}

func TestAggregateInvariants(t *testing.T) {
	t.Parallel()

	records := []features.ImageRecord{
		rec("X", "CT", 10, 5, 0),
		rec("Y", "MR", 20, 6, 0),
		rec("X", "MR", 30, 7, 0),
		rec("Z", "", 40, 8, 1),
		rec("X", "CT", 50, 9, 0),
	}
	profiles := Aggregate(records)

	total := 0
	for _, p := range profiles {
		total += p.ScanCount
		assert.GreaterOrEqual(t, p.ScanCount, 1)
		assert.Contains(t, []int{0, 1}, p.Target)
	}
	assert.Equal(t, len(records), total, "scan counts sum to input rows")
	assert.Len(t, profiles, 3)

	// reordering rows within a group does not change averages
	reversed := make([]features.ImageRecord, len(records))
	for i := range records {
		reversed[len(records)-1-i] = records[i]
	}
	byID := map[string]EntityProfile{}
	for _, p := range Aggregate(reversed) {
		byID[p.HospitalID] = p
	}
	for _, p := range profiles {
		assert.InDelta(t, p.AvgImgMean, byID[p.HospitalID].AvgImgMean, 1e-9)
		assert.InDelta(t, p.AvgImgContrast, byID[p.HospitalID].AvgImgContrast, 1e-9)
		assert.Equal(t, p.Target, byID[p.HospitalID].Target)
	}
}

func TestAggregateEmpty(t *testing.T) {
	t.Parallel()
	assert.Empty(t, Aggregate(nil))
}

func TestEncodeModality(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 0, EncodeModality("CT"))
	assert.Equal(t, 1, EncodeModality("MR"))
	assert.Equal(t, -1, EncodeModality("ct"))
	assert.Equal(t, -1, EncodeModality("Unknown"))
}
