package datastore

import (
	"time"

	"github.com/tphakala/imaging-churn/internal/etl"
)

// HospitalProfile is the stored form of an aggregated profile. HospitalID is
// unique; saving a profile again overwrites it.
type HospitalProfile struct {
	ID              uint    `gorm:"primaryKey" json:"-"`
	HospitalID      string  `gorm:"uniqueIndex;size:128;not null" json:"hospital_id"`
	Target          int     `json:"target"`
	AvgImgMean      float64 `json:"avg_img_mean"`
	AvgImgContrast  float64 `json:"avg_img_contrast"`
	PrimaryModality int     `json:"primary_modality"`
	ScanCount       int     `json:"scan_count"`
	// RunID is the ETL run that last wrote this row.
	RunID     string    `gorm:"size:36;index" json:"run_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName pins the table name.
func (HospitalProfile) TableName() string { return "hospital_profiles" }

// Profile converts back to the ETL type.
func (h HospitalProfile) Profile() etl.EntityProfile {
	return etl.EntityProfile{
		HospitalID:      h.HospitalID,
		Target:          h.Target,
		AvgImgMean:      h.AvgImgMean,
		AvgImgContrast:  h.AvgImgContrast,
		PrimaryModality: h.PrimaryModality,
		ScanCount:       h.ScanCount,
	}
}

func profileRow(p etl.EntityProfile, runID string) HospitalProfile {
	return HospitalProfile{
		HospitalID:      p.HospitalID,
		Target:          p.Target,
		AvgImgMean:      p.AvgImgMean,
		AvgImgContrast:  p.AvgImgContrast,
		PrimaryModality: p.PrimaryModality,
		ScanCount:       p.ScanCount,
		RunID:           runID,
	}
}

// PredictionRecord is an audit row for one prediction.
type PredictionRecord struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	HospitalID       string    `gorm:"size:128;index" json:"hospital_id,omitempty"`
	AvgImgMean       float64   `json:"avg_img_mean"`
	AvgImgContrast   float64   `json:"avg_img_contrast"`
	PrimaryModality  int       `json:"primary_modality"`
	ScanCount        int       `json:"scan_count"`
	ChurnProbability float64   `json:"churn_probability"`
	IsChurnRisk      bool      `json:"is_churn_risk"`
	RiskLevel        string    `gorm:"size:8;index" json:"risk_level"`
	Backend          string    `gorm:"size:32" json:"backend"`
	Source           string    `gorm:"size:16" json:"source"` // "api" or "cli"
	CorrelationID    string    `gorm:"size:36" json:"correlation_id,omitempty"`
	CreatedAt        time.Time `gorm:"index" json:"created_at"`
}

// TableName pins the table name.
func (PredictionRecord) TableName() string { return "prediction_records" }

// PredictionFilter narrows ListPredictions. Zero values match everything.
type PredictionFilter struct {
	HospitalID string
	RiskLevel  string
	Since      time.Time
	Limit      int
	Offset     int
}

// ETLRun records one extract, fetch, generate or aggregate invocation.
type ETLRun struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	Source     string    `gorm:"size:32" json:"source"`
	Input      string    `gorm:"size:512" json:"input"`
	Records    int       `json:"records"`
	Profiles   int       `json:"profiles"`
	Skipped    int       `json:"skipped"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// TableName pins the table name.
func (ETLRun) TableName() string { return "etl_runs" }
