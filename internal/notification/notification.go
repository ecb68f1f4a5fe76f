// Package notification sends alerts for high churn risk predictions.
package notification

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/tphakala/imaging-churn/internal/conf"
	"github.com/tphakala/imaging-churn/internal/errors"
	"github.com/tphakala/imaging-churn/internal/logger"
	"github.com/tphakala/imaging-churn/internal/observability/metrics"
)

// DefaultTimeout bounds a single provider send.
const DefaultTimeout = 10 * time.Second

// Notification is one message to deliver.
type Notification struct {
	Title   string
	Message string
}

// Provider delivers notifications to one backend.
type Provider interface {
	GetName() string
	IsEnabled() bool
	ValidateConfig() error
	Send(ctx context.Context, n *Notification) error
}

// HighRiskAlert describes a prediction that crossed the high risk threshold.
type HighRiskAlert struct {
	HospitalID       string
	ChurnProbability float64
	ScanCount        int
	CorrelationID    string
}

// Service fans notifications out to every enabled provider.
type Service struct {
	providers []Provider
	title     string
	metrics   *metrics.DeliveryMetrics
	log       logger.Logger
}

// NewService validates providers and keeps the enabled ones. m may be nil.
func NewService(title string, m *metrics.DeliveryMetrics, providers ...Provider) (*Service, error) {
	s := &Service{title: title, metrics: m, log: GetLogger()}
	if s.title == "" {
		s.title = "High churn risk"
	}
	for _, p := range providers {
		if !p.IsEnabled() {
			continue
		}
		if err := p.ValidateConfig(); err != nil {
			return nil, errors.New(fmt.Errorf("provider %s: %w", p.GetName(), err)).
				Component("notification").
				Category(errors.CategoryConfiguration).
				Build()
		}
		s.providers = append(s.providers, p)
	}
	return s, nil
}

// NewServiceFromSettings builds a Service with a shoutrrr provider for the
// configured URLs. It returns nil when notifications are disabled.
func NewServiceFromSettings(settings conf.NotificationSettings, m *metrics.DeliveryMetrics) (*Service, error) {
	if !settings.Enabled {
		return nil, nil
	}
	provider := NewShoutrrrProvider("shoutrrr", true, settings.URLs, DefaultTimeout)
	return NewService(settings.Title, m, provider)
}

// Providers returns the number of active providers.
func (s *Service) Providers() int { return len(s.providers) }

// Send delivers n to every provider. All providers are attempted and the
// errors are joined.
func (s *Service) Send(ctx context.Context, n *Notification) error {
	var errs []error
	for _, p := range s.providers {
		err := p.Send(ctx, n)
		status := metrics.StatusSuccess
		if err != nil {
			status = metrics.StatusError
			s.log.Warn("notification failed",
				logger.String("provider", p.GetName()),
				logger.String("error", redactURLs(err.Error())))
			errs = append(errs, fmt.Errorf("%s: %w", p.GetName(), err))
		}
		if s.metrics != nil {
			s.metrics.RecordNotification(p.GetName(), status)
		}
	}
	if len(errs) > 0 {
		return errors.New(errors.Join(errs...)).
			Component("notification").
			Category(errors.CategoryNotification).
			Build()
	}
	return nil
}

// NotifyHighRisk formats and sends a high risk alert.
func (s *Service) NotifyHighRisk(ctx context.Context, alert HighRiskAlert) error {
	return s.Send(ctx, &Notification{Title: s.title, Message: FormatHighRisk(alert)})
}

// FormatHighRisk renders the alert body.
func FormatHighRisk(alert HighRiskAlert) string {
	var b strings.Builder
	who := alert.HospitalID
	if who == "" {
		who = "unidentified hospital"
	}
	fmt.Fprintf(&b, "Churn risk HIGH for %s: probability %.1f%%", who, alert.ChurnProbability*100)
	if alert.ScanCount > 0 {
		fmt.Fprintf(&b, " over %d scans", alert.ScanCount)
	}
	if alert.CorrelationID != "" {
		fmt.Fprintf(&b, " (request %s)", alert.CorrelationID)
	}
	return b.String()
}

// provider URLs carry tokens, never log them
var urlPattern = regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9+.-]*://[^\s"']+`)

func redactURLs(s string) string {
	return urlPattern.ReplaceAllStringFunc(s, func(u string) string {
		scheme, _, _ := strings.Cut(u, "://")
		return scheme + "://[redacted]"
	})
}
