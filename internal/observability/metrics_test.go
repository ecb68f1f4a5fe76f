package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/imaging-churn/internal/observability/metrics"
)

func family(t *testing.T, m *Metrics, name string) *dto.MetricFamily {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	t.Fatalf("metric family %s not found", name)
	return nil
}

func labelValue(metric *dto.Metric, name string) string {
	for _, l := range metric.GetLabel() {
		if l.GetName() == name {
			return l.GetValue()
		}
	}
	return ""
}

func TestNewMetricsConcurrency(t *testing.T) {
	t.Parallel()

	var wg sync.WaitGroup
	for range 20 {
		wg.Go(func() {
			m, err := NewMetrics()
			if err != nil {
				t.Errorf("NewMetrics failed: %v", err)
				return
			}
			if m.Prediction == nil || m.ETL == nil || m.HTTP == nil || m.MQTT == nil || m.Delivery == nil {
				t.Error("collector missing")
			}
		})
	}
	wg.Wait()
}

func TestPredictionMetrics(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)

	m.Prediction.RecordPrediction("lightgbm", "HIGH", 2*time.Millisecond)
	m.Prediction.RecordPrediction("lightgbm", "HIGH", 3*time.Millisecond)
	m.Prediction.RecordPrediction("lightgbm", "LOW", time.Millisecond)
	m.Prediction.RecordPredictionError("none", "not_initialized")
	m.Prediction.RecordCacheHit()

	f := family(t, m, "churn_predictions_total")
	require.Equal(t, dto.MetricType_COUNTER, f.GetType())
	counts := map[string]float64{}
	for _, metric := range f.GetMetric() {
		counts[labelValue(metric, "risk_level")] = metric.GetCounter().GetValue()
	}
	assert.Equal(t, map[string]float64{"HIGH": 2, "LOW": 1}, counts)

	hist := family(t, m, "churn_prediction_duration_seconds")
	assert.Equal(t, uint64(3), hist.GetMetric()[0].GetHistogram().GetSampleCount())

	errs := family(t, m, "churn_prediction_errors_total")
	assert.Equal(t, "not_initialized", labelValue(errs.GetMetric()[0], "reason"))
}

func TestETLAndDeliveryMetrics(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)

	m.ETL.RecordRun("extract", 10, 2, 3, time.Second)
	m.Delivery.RecordExport("sftp", metrics.StatusSuccess, 1024, time.Second)
	m.Delivery.RecordExport("sftp", metrics.StatusError, 512, time.Second)
	m.Delivery.RecordNotification("slack", metrics.StatusSuccess)

	assert.InDelta(t, 10, family(t, m, "etl_image_records_total").GetMetric()[0].GetCounter().GetValue(), 0)
	assert.InDelta(t, 2, family(t, m, "etl_images_skipped_total").GetMetric()[0].GetCounter().GetValue(), 0)
	assert.InDelta(t, 3, family(t, m, "etl_profiles_total").GetMetric()[0].GetCounter().GetValue(), 0)
	assert.InDelta(t, 1024, family(t, m, "export_bytes_total").GetMetric()[0].GetCounter().GetValue(), 0)
	assert.Len(t, family(t, m, "exports_total").GetMetric(), 2)
}

func TestMetricsHandler(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)
	m.HTTP.RecordHTTPRequest(http.MethodPost, "/predict", http.StatusOK, 5*time.Millisecond)
	m.MQTT.UpdateConnectionStatus(true)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `http_requests_total{method="POST",path="/predict",status_code="200"} 1`)
	assert.Contains(t, string(body), "mqtt_connection_status 1")
}
