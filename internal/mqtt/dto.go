package mqtt

import "time"

// PredictionEvent is the JSON payload published for each prediction.
type PredictionEvent struct {
	HospitalID       string    `json:"hospital_id,omitempty"`
	AvgImgMean       float64   `json:"avg_img_mean"`
	AvgImgContrast   float64   `json:"avg_img_contrast"`
	PrimaryModality  int       `json:"primary_modality"`
	ScanCount        int       `json:"scan_count"`
	ChurnProbability float64   `json:"churn_probability"`
	IsChurnRisk      bool      `json:"is_churn_risk"`
	RiskLevel        string    `json:"risk_level"`
	Backend          string    `json:"backend,omitempty"`
	CorrelationID    string    `json:"correlation_id,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}
