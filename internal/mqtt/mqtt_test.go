package mqtt

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/imaging-churn/internal/conf"
	"github.com/tphakala/imaging-churn/internal/errors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type mockClient struct {
	mock.Mock
	mu       sync.Mutex
	payloads [][]byte
}

func (m *mockClient) Connect(ctx context.Context) error { return m.Called(ctx).Error(0) }
func (m *mockClient) IsConnected() bool                 { return m.Called().Bool(0) }
func (m *mockClient) Disconnect()                       { m.Called() }
func (m *mockClient) Publish(ctx context.Context, topic string, payload []byte) error {
	m.mu.Lock()
	m.payloads = append(m.payloads, payload)
	m.mu.Unlock()
	return m.Called(ctx, topic, payload).Error(0)
}

func TestPublisherPublishesJSON(t *testing.T) {
	t.Parallel()

	mc := &mockClient{}
	mc.On("Publish", mock.Anything, "imaging-churn/predictions", mock.Anything).Return(nil).Once()
	mc.On("Disconnect").Return().Once()

	p := NewPublisher(mc, "imaging-churn")
	assert.Equal(t, "imaging-churn/predictions", p.Topic())

	require.NoError(t, p.PublishPrediction(context.Background(), PredictionEvent{
		HospitalID:       "HOSP_001",
		PrimaryModality:  1,
		ScanCount:        3,
		ChurnProbability: 0.8,
		IsChurnRisk:      true,
		RiskLevel:        "HIGH",
	}))
	p.Close()
	mc.AssertExpectations(t)

	require.Len(t, mc.payloads, 1)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(mc.payloads[0], &decoded))
	assert.Equal(t, "HOSP_001", decoded["hospital_id"])
	assert.Equal(t, "HIGH", decoded["risk_level"])
	assert.Equal(t, true, decoded["is_churn_risk"])
	assert.NotEmpty(t, decoded["timestamp"])
}

func TestPublisherPropagatesErrors(t *testing.T) {
	t.Parallel()

	mc := &mockClient{}
	mc.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(assert.AnError)

	err := NewPublisher(mc, "t").PublishPrediction(context.Background(), PredictionEvent{})
	require.ErrorIs(t, err, assert.AnError)
}

func TestClientInvalidBroker(t *testing.T) {
	t.Parallel()

	c := NewClient(Config{Broker: "://nope", ConnectTimeout: time.Second}, nil)
	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
	assert.False(t, c.IsConnected())
}

func TestClientPublishWhileDisconnected(t *testing.T) {
	t.Parallel()

	c := NewClient(DefaultConfig(), nil)
	err := c.Publish(context.Background(), "x", []byte("{}"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryMQTTPublish))
	c.Disconnect()
}

func TestConfigFromSettings(t *testing.T) {
	t.Parallel()

	s := &conf.Settings{}
	s.Main.Name = "churn-node"
	s.MQTT = conf.MQTTSettings{Broker: "tcp://broker:1883", QoS: 2, Retain: true}

	cfg := ConfigFromSettings(s)
	assert.Equal(t, "tcp://broker:1883", cfg.Broker)
	assert.Equal(t, "churn-node", cfg.ClientID)
	assert.Equal(t, "imaging-churn", cfg.Topic)
	assert.Equal(t, byte(2), cfg.QoS)
	assert.True(t, cfg.Retain)
	assert.Equal(t, 10*time.Second, cfg.PublishTimeout)
}
