package api

import (
	"context"
	"time"

	"github.com/tphakala/imaging-churn/internal/datastore"
	"github.com/tphakala/imaging-churn/internal/logger"
	"github.com/tphakala/imaging-churn/internal/mqtt"
	"github.com/tphakala/imaging-churn/internal/notification"
	"github.com/tphakala/imaging-churn/internal/scoring"
)

// fanoutTimeout bounds the side effects of one prediction.
const fanoutTimeout = 10 * time.Second

type predictionEvent struct {
	hospitalID    string
	features      scoring.Features
	prediction    scoring.Prediction
	correlationID string
}

// dispatch records the audit row, publishes to MQTT and sends HIGH risk
// alerts in the background. Failures are logged and never reach the client.
func (c *Controller) dispatch(ev predictionEvent) {
	if c.DS == nil && c.publisher == nil && c.notifier == nil {
		return
	}
	backend := c.Scoring.Backend()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), fanoutTimeout)
		defer cancel()

		log := c.log.With(logger.String("correlation_id", ev.correlationID))

		if c.DS != nil {
			rec := &datastore.PredictionRecord{
				HospitalID:       ev.hospitalID,
				AvgImgMean:       ev.features.AvgImgMean,
				AvgImgContrast:   ev.features.AvgImgContrast,
				PrimaryModality:  ev.features.PrimaryModality,
				ScanCount:        ev.features.ScanCount,
				ChurnProbability: ev.prediction.ChurnProbability,
				IsChurnRisk:      ev.prediction.IsChurnRisk,
				RiskLevel:        ev.prediction.RiskLevel,
				Backend:          backend,
				Source:           "api",
				CorrelationID:    ev.correlationID,
			}
			if err := c.DS.SavePrediction(ctx, rec); err != nil {
				log.Warn("failed to record prediction", logger.Error(err))
			}
		}

		if c.publisher != nil {
			err := c.publisher.PublishPrediction(ctx, mqtt.PredictionEvent{
				HospitalID:       ev.hospitalID,
				AvgImgMean:       ev.features.AvgImgMean,
				AvgImgContrast:   ev.features.AvgImgContrast,
				PrimaryModality:  ev.features.PrimaryModality,
				ScanCount:        ev.features.ScanCount,
				ChurnProbability: ev.prediction.ChurnProbability,
				IsChurnRisk:      ev.prediction.IsChurnRisk,
				RiskLevel:        ev.prediction.RiskLevel,
				Backend:          backend,
				CorrelationID:    ev.correlationID,
			})
			if err != nil {
				log.Warn("failed to publish prediction",
					logger.String("topic", c.publisher.Topic()),
					logger.Error(err))
			}
		}

		if c.notifier != nil && ev.prediction.RiskLevel == scoring.RiskHigh {
			err := c.notifier.NotifyHighRisk(ctx, notification.HighRiskAlert{
				HospitalID:       ev.hospitalID,
				ChurnProbability: ev.prediction.ChurnProbability,
				ScanCount:        ev.features.ScanCount,
				CorrelationID:    ev.correlationID,
			})
			if err != nil {
				log.Warn("failed to send high risk notification", logger.Error(err))
			}
		}
	}()
}
