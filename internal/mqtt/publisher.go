package mqtt

import (
	"context"
	"encoding/json"
	"time"
)

// PredictionsSubtopic is appended to the base topic.
const PredictionsSubtopic = "predictions"

// Publisher serializes prediction events onto one topic.
type Publisher struct {
	client Client
	topic  string
}

// NewPublisher publishes to <baseTopic>/predictions through client.
func NewPublisher(client Client, baseTopic string) *Publisher {
	return &Publisher{client: client, topic: baseTopic + "/" + PredictionsSubtopic}
}

// Topic returns the full topic events are published to.
func (p *Publisher) Topic() string { return p.topic }

// PublishPrediction sends one event. A zero Timestamp is set to now.
func (p *Publisher) PublishPrediction(ctx context.Context, ev PredictionEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.topic, payload)
}

// Close disconnects the underlying client.
func (p *Publisher) Close() {
	p.client.Disconnect()
}
