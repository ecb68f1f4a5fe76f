package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/imaging-churn/internal/conf"
	"github.com/tphakala/imaging-churn/internal/datastore"
	"github.com/tphakala/imaging-churn/internal/etl"
	"github.com/tphakala/imaging-churn/internal/mqtt"
	"github.com/tphakala/imaging-churn/internal/notification"
	"github.com/tphakala/imaging-churn/internal/observability"
	"github.com/tphakala/imaging-churn/internal/scoring"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"),
	)
}

type fixedScorer struct{ p float64 }

func (f fixedScorer) Score([]float64) (float64, error) { return f.p, nil }
func (f fixedScorer) Backend() string                  { return "fixed" }
func (f fixedScorer) Close() error                     { return nil }

// mockDatastore implements datastore.Interface with testify/mock.
type mockDatastore struct {
	mock.Mock
}

func (m *mockDatastore) Open() error  { return m.Called().Error(0) }
func (m *mockDatastore) Close() error { return m.Called().Error(0) }

func (m *mockDatastore) SaveProfiles(ctx context.Context, runID string, profiles []etl.EntityProfile) error {
	return m.Called(ctx, runID, profiles).Error(0)
}

func (m *mockDatastore) GetProfile(ctx context.Context, hospitalID string) (datastore.HospitalProfile, error) {
	args := m.Called(ctx, hospitalID)
	return args.Get(0).(datastore.HospitalProfile), args.Error(1)
}

func (m *mockDatastore) ListProfiles(ctx context.Context, limit, offset int) ([]datastore.HospitalProfile, error) {
	args := m.Called(ctx, limit, offset)
	return args.Get(0).([]datastore.HospitalProfile), args.Error(1)
}

func (m *mockDatastore) SavePrediction(ctx context.Context, rec *datastore.PredictionRecord) error {
	return m.Called(ctx, rec).Error(0)
}

func (m *mockDatastore) ListPredictions(ctx context.Context, filter datastore.PredictionFilter) ([]datastore.PredictionRecord, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]datastore.PredictionRecord), args.Error(1)
}

func (m *mockDatastore) SaveRun(ctx context.Context, run *datastore.ETLRun) error {
	return m.Called(ctx, run).Error(0)
}

func (m *mockDatastore) GetRun(ctx context.Context, id string) (datastore.ETLRun, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(datastore.ETLRun), args.Error(1)
}

// recordingClient is an mqtt.Client that keeps published payloads.
type recordingClient struct {
	mu       sync.Mutex
	topics   []string
	payloads [][]byte
}

func (r *recordingClient) Connect(context.Context) error { return nil }
func (r *recordingClient) IsConnected() bool             { return true }
func (r *recordingClient) Disconnect()                   {}
func (r *recordingClient) Publish(_ context.Context, topic string, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, topic)
	r.payloads = append(r.payloads, payload)
	return nil
}

type recordingProvider struct {
	mu   sync.Mutex
	sent []*notification.Notification
}

func (p *recordingProvider) GetName() string       { return "recording" }
func (p *recordingProvider) IsEnabled() bool       { return true }
func (p *recordingProvider) ValidateConfig() error { return nil }
func (p *recordingProvider) Send(_ context.Context, n *notification.Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, n)
	return nil
}

func newTestServer(t *testing.T, scorer scoring.Scorer, opts ...Option) *Server {
	t.Helper()
	s, err := New(&conf.Settings{}, scoring.NewService(scorer), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Controller().Shutdown() })
	return s
}

func do(t *testing.T, e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

const validBody = `{"avg_img_mean":150,"avg_img_contrast":15,"primary_modality":0,"scan_count":2}`

func TestRoot(t *testing.T) {
	s := newTestServer(t, nil)
	rec := do(t, s.Echo(), http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"Medical Imaging Churn API is running"}`, rec.Body.String())
}

func TestPredictRiskLevels(t *testing.T) {
	tests := []struct {
		name  string
		p     float64
		risk  bool
		level string
	}{
		{"high", 0.8, true, scoring.RiskHigh},
		{"elevated but low", 0.6, true, scoring.RiskLow},
		{"threshold is exclusive", 0.5, false, scoring.RiskLow},
		{"low", 0.1, false, scoring.RiskLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, fixedScorer{p: tt.p})
			for _, path := range []string{"/predict", "/api/v1/predict"} {
				rec := do(t, s.Echo(), http.MethodPost, path, validBody)
				require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
				got := decode[scoring.Prediction](t, rec)
				assert.InDelta(t, tt.p, got.ChurnProbability, 1e-12)
				assert.Equal(t, tt.risk, got.IsChurnRisk)
				assert.Equal(t, tt.level, got.RiskLevel)
				assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
			}
		})
	}
}

func TestPredictResponseShape(t *testing.T) {
	s := newTestServer(t, fixedScorer{p: 0.8})
	rec := do(t, s.Echo(), http.MethodPost, "/predict", validBody)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"churn_probability":0.8,"is_churn_risk":true,"risk_level":"HIGH"}`, rec.Body.String())
}

func TestPredictValidation(t *testing.T) {
	s := newTestServer(t, fixedScorer{p: 0.8})
	bodies := map[string]string{
		"unknown modality": `{"avg_img_mean":1,"avg_img_contrast":1,"primary_modality":-1,"scan_count":2}`,
		"modality two":     `{"avg_img_mean":1,"avg_img_contrast":1,"primary_modality":2,"scan_count":2}`,
		"zero scans":       `{"avg_img_mean":1,"avg_img_contrast":1,"primary_modality":0,"scan_count":0}`,
		"missing field":    `{"avg_img_mean":1,"primary_modality":0,"scan_count":2}`,
		"malformed":        `{"avg_img_mean":`,
		"fractional count": `{"avg_img_mean":1,"avg_img_contrast":1,"primary_modality":0,"scan_count":1.5}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			rec := do(t, s.Echo(), http.MethodPost, "/api/v1/predict", body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			resp := decode[ErrorResponse](t, rec)
			assert.Equal(t, http.StatusBadRequest, resp.Code)
			assert.NotEmpty(t, resp.Error)
			assert.Equal(t, rec.Header().Get(echo.HeaderXRequestID), resp.CorrelationID)
		})
	}
}

func TestPredictWithoutModel(t *testing.T) {
	s := newTestServer(t, nil)
	rec := do(t, s.Echo(), http.MethodPost, "/predict", validBody)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "Model not initialized", resp.Message)
}

func TestPredictWithoutModelStillValidates(t *testing.T) {
	s := newTestServer(t, nil)
	rec := do(t, s.Echo(), http.MethodPost, "/predict", `{"avg_img_mean":1,"avg_img_contrast":1,"primary_modality":5,"scan_count":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPredictBatch(t *testing.T) {
	s := newTestServer(t, fixedScorer{p: 0.75})

	rec := do(t, s.Echo(), http.MethodPost, "/api/v1/predict/batch", "["+validBody+","+validBody+"]")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	preds := decode[[]scoring.Prediction](t, rec)
	require.Len(t, preds, 2)
	assert.Equal(t, scoring.RiskHigh, preds[1].RiskLevel)

	rec = do(t, s.Echo(), http.MethodPost, "/api/v1/predict/batch", "[]")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	bad := `{"avg_img_mean":1,"avg_img_contrast":1,"primary_modality":3,"scan_count":1}`
	rec = do(t, s.Echo(), http.MethodPost, "/api/v1/predict/batch", "["+validBody+","+bad+"]")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[ErrorResponse](t, rec).Error, "item 1")
}

func TestProfilesWithoutDatastore(t *testing.T) {
	s := newTestServer(t, fixedScorer{p: 0.2})
	for _, path := range []string{"/api/v1/profiles", "/api/v1/profiles/H1", "/api/v1/predictions"} {
		rec := do(t, s.Echo(), http.MethodGet, path, "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}
}

func TestGetProfileCachesAndMapsNotFound(t *testing.T) {
	ds := new(mockDatastore)
	profile := datastore.HospitalProfile{HospitalID: "H1", Target: 1, AvgImgMean: 150, AvgImgContrast: 15, PrimaryModality: 0, ScanCount: 2}
	ds.On("GetProfile", mock.Anything, "H1").Return(profile, nil).Once()
	ds.On("GetProfile", mock.Anything, "missing").
		Return(datastore.HospitalProfile{}, datastore.ErrNotFound).Once()

	s := newTestServer(t, fixedScorer{p: 0.2}, WithDatastore(ds))

	for range 2 {
		rec := do(t, s.Echo(), http.MethodGet, "/api/v1/profiles/H1", "")
		require.Equal(t, http.StatusOK, rec.Code)
		got := decode[datastore.HospitalProfile](t, rec)
		assert.Equal(t, profile.HospitalID, got.HospitalID)
		assert.Equal(t, 2, got.ScanCount)
	}

	rec := do(t, s.Echo(), http.MethodGet, "/api/v1/profiles/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	ds.AssertExpectations(t)
}

func TestPredictProfileReadsCurrentProfile(t *testing.T) {
	ds := new(mockDatastore)
	before := datastore.HospitalProfile{HospitalID: "H1", AvgImgMean: 150, AvgImgContrast: 15, PrimaryModality: 0, ScanCount: 2}
	after := before
	after.ScanCount = 9
	ds.On("GetProfile", mock.Anything, "H1").Return(before, nil).Once()
	ds.On("GetProfile", mock.Anything, "H1").Return(after, nil).Once()
	ds.On("SavePrediction", mock.Anything, mock.MatchedBy(func(r *datastore.PredictionRecord) bool {
		return r.ScanCount == 9
	})).Return(nil).Once()

	s := newTestServer(t, fixedScorer{p: 0.2}, WithDatastore(ds))

	rec := do(t, s.Echo(), http.MethodGet, "/api/v1/profiles/H1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[datastore.HospitalProfile](t, rec).ScanCount)

	rec = do(t, s.Echo(), http.MethodPost, "/api/v1/profiles/H1/predict", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, s.Echo(), http.MethodGet, "/api/v1/profiles/H1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 9, decode[datastore.HospitalProfile](t, rec).ScanCount, "prediction refreshes the cached profile")

	s.Controller().Shutdown()
	ds.AssertExpectations(t)
}

func TestListProfiles(t *testing.T) {
	ds := new(mockDatastore)
	ds.On("ListProfiles", mock.Anything, 10, 5).Return([]datastore.HospitalProfile{{HospitalID: "H1"}}, nil).Once()
	ds.On("ListProfiles", mock.Anything, 0, 0).Return([]datastore.HospitalProfile(nil), nil).Once()

	s := newTestServer(t, nil, WithDatastore(ds))

	rec := do(t, s.Echo(), http.MethodGet, "/api/v1/profiles?limit=10&offset=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]datastore.HospitalProfile](t, rec), 1)

	rec = do(t, s.Echo(), http.MethodGet, "/api/v1/profiles", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = do(t, s.Echo(), http.MethodGet, "/api/v1/profiles?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	ds.AssertExpectations(t)
}

func TestPredictProfileFansOut(t *testing.T) {
	ds := new(mockDatastore)
	ds.On("GetProfile", mock.Anything, "H1").
		Return(datastore.HospitalProfile{HospitalID: "H1", AvgImgMean: 150, AvgImgContrast: 15, PrimaryModality: 0, ScanCount: 2}, nil)
	ds.On("SavePrediction", mock.Anything, mock.MatchedBy(func(r *datastore.PredictionRecord) bool {
		return r.HospitalID == "H1" && r.RiskLevel == scoring.RiskHigh && r.Source == "api" && r.Backend == "fixed" && r.ScanCount == 2
	})).Return(nil).Once()

	client := &recordingClient{}
	provider := &recordingProvider{}
	notifier, err := notification.NewService("", nil, provider)
	require.NoError(t, err)

	s := newTestServer(t, fixedScorer{p: 0.9},
		WithDatastore(ds),
		WithPublisher(mqtt.NewPublisher(client, "churn")),
		WithNotifier(notifier))

	rec := do(t, s.Echo(), http.MethodPost, "/api/v1/profiles/H1/predict", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	s.Controller().Shutdown()

	ds.AssertExpectations(t)

	require.Len(t, client.payloads, 1)
	assert.Equal(t, "churn/predictions", client.topics[0])
	var ev mqtt.PredictionEvent
	require.NoError(t, json.Unmarshal(client.payloads[0], &ev))
	assert.Equal(t, "H1", ev.HospitalID)
	assert.Equal(t, rec.Header().Get(echo.HeaderXRequestID), ev.CorrelationID)

	require.Len(t, provider.sent, 1)
	assert.Contains(t, provider.sent[0].Message, "H1")
}

func TestPredictProfileAcceptsUnknownModality(t *testing.T) {
	ds := new(mockDatastore)
	ds.On("GetProfile", mock.Anything, "H9").
		Return(datastore.HospitalProfile{HospitalID: "H9", AvgImgMean: 90, AvgImgContrast: 9, PrimaryModality: -1, ScanCount: 3}, nil)
	ds.On("SavePrediction", mock.Anything, mock.Anything).Return(nil)

	s := newTestServer(t, fixedScorer{p: 0.3}, WithDatastore(ds))

	rec := do(t, s.Echo(), http.MethodPost, "/api/v1/profiles/H9/predict", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, scoring.RiskLow, decode[scoring.Prediction](t, rec).RiskLevel)
}

func TestLowRiskDoesNotNotify(t *testing.T) {
	provider := &recordingProvider{}
	notifier, err := notification.NewService("", nil, provider)
	require.NoError(t, err)

	s := newTestServer(t, fixedScorer{p: 0.6}, WithNotifier(notifier))
	rec := do(t, s.Echo(), http.MethodPost, "/predict", validBody)
	require.Equal(t, http.StatusOK, rec.Code)
	s.Controller().Shutdown()

	assert.Empty(t, provider.sent)
}

func TestListPredictions(t *testing.T) {
	ds := new(mockDatastore)
	ds.On("ListPredictions", mock.Anything, datastore.PredictionFilter{HospitalID: "H1", RiskLevel: "HIGH", Limit: 5}).
		Return([]datastore.PredictionRecord{{HospitalID: "H1", RiskLevel: "HIGH"}}, nil).Once()

	s := newTestServer(t, nil, WithDatastore(ds))

	rec := do(t, s.Echo(), http.MethodGet, "/api/v1/predictions?hospital_id=H1&risk_level=high&limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decode[[]datastore.PredictionRecord](t, rec), 1)

	for _, q := range []string{"risk_level=MEDIUM", "limit=abc", "since=yesterday"} {
		rec = do(t, s.Echo(), http.MethodGet, "/api/v1/predictions?"+q, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
	ds.AssertExpectations(t)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)
	rec := do(t, s.Echo(), http.MethodGet, "/api/v1/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	h := decode[HealthResponse](t, rec)
	assert.Equal(t, "degraded", h.Status)
	assert.False(t, h.Model.Loaded)
	assert.Positive(t, h.System.NumCPU)

	s = newTestServer(t, fixedScorer{p: 0.1})
	h = decode[HealthResponse](t, do(t, s.Echo(), http.MethodGet, "/api/v1/health", ""))
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, "fixed", h.Model.Backend)
}

func TestMetricsEndpoint(t *testing.T) {
	m, err := observability.NewMetrics()
	require.NoError(t, err)
	s := newTestServer(t, fixedScorer{p: 0.1}, WithMetrics(m))

	require.Equal(t, http.StatusOK, do(t, s.Echo(), http.MethodPost, "/predict", validBody).Code)

	rec := do(t, s.Echo(), http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `http_requests_total{method="POST",path="/predict",status_code="200"} 1`), body)
}

func TestRequestIDPropagation(t *testing.T) {
	s := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(echo.HeaderXRequestID, "abc-123")
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(echo.HeaderXRequestID))
}

func TestServeShutsDownOnCancel(t *testing.T) {
	s := newTestServer(t, fixedScorer{p: 0.1})
	ln, err := newLocalListener()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2e9, 1e7)

	cancel()
	assert.NoError(t, <-done)
	http.DefaultClient.CloseIdleConnections()
}

func TestConfigFromSettings(t *testing.T) {
	settings := &conf.Settings{}
	settings.WebServer.Listen = "127.0.0.1:9000"
	settings.WebServer.BodyLimit = "2M"
	cfg := ConfigFromSettings(settings)
	assert.Equal(t, "127.0.0.1:9000", cfg.Listen)
	assert.Equal(t, "2M", cfg.BodyLimit)
	assert.Equal(t, DefaultReadTimeout, cfg.ReadTimeout)
	require.NoError(t, cfg.Validate())

	cfg.Listen = "nonsense"
	assert.Error(t, cfg.Validate())
}
