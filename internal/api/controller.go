package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/patrickmn/go-cache"

	"github.com/tphakala/imaging-churn/internal/buildinfo"
	"github.com/tphakala/imaging-churn/internal/datastore"
	"github.com/tphakala/imaging-churn/internal/logger"
	"github.com/tphakala/imaging-churn/internal/mqtt"
	"github.com/tphakala/imaging-churn/internal/notification"
	"github.com/tphakala/imaging-churn/internal/observability"
	"github.com/tphakala/imaging-churn/internal/scoring"
)

// RootMessage is returned by GET /.
const RootMessage = "Medical Imaging Churn API is running"

// Controller owns the API handlers and their dependencies. Optional
// dependencies left nil disable the matching feature.
type Controller struct {
	Group   *echo.Group
	Scoring *scoring.Service
	DS      datastore.Interface

	publisher    *mqtt.Publisher
	notifier     *notification.Service
	metrics      *observability.Metrics
	build        buildinfo.Info
	profileCache *cache.Cache
	startTime    time.Time
	log          logger.Logger

	// background fan-out of prediction events
	wg sync.WaitGroup
}

// Option is a functional option for configuring the Controller.
type Option func(*Controller)

// WithDatastore enables the profile endpoints and the prediction audit log.
func WithDatastore(ds datastore.Interface) Option {
	return func(c *Controller) { c.DS = ds }
}

// WithPublisher publishes every prediction to MQTT.
func WithPublisher(p *mqtt.Publisher) Option {
	return func(c *Controller) { c.publisher = p }
}

// WithNotifier sends alerts for HIGH risk predictions.
func WithNotifier(n *notification.Service) Option {
	return func(c *Controller) { c.notifier = n }
}

// WithMetrics records HTTP metrics and serves /metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithBuildInfo reports version data on the health endpoint.
func WithBuildInfo(info buildinfo.Info) Option {
	return func(c *Controller) { c.build = info }
}

// NewController registers all routes on e.
func NewController(e *echo.Echo, svc *scoring.Service, opts ...Option) *Controller {
	c := &Controller{
		Scoring:      svc,
		build:        buildinfo.New("", ""),
		profileCache: cache.New(ProfileCacheTTL, 2*ProfileCacheTTL),
		startTime:    time.Now(),
		log:          GetLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.initRoutes(e)
	return c
}

func (c *Controller) initRoutes(e *echo.Echo) {
	if c.metrics != nil {
		e.Use(metricsMiddleware(c.metrics.HTTP))
		e.GET("/metrics", echo.WrapHandler(c.metrics.Handler()))
	}

	e.GET("/", c.Root)
	e.POST("/predict", c.Predict)

	c.Group = e.Group("/api/v1")
	c.Group.POST("/predict", c.Predict)
	c.Group.POST("/predict/batch", c.PredictBatch)
	c.Group.GET("/health", c.Health)

	c.Group.GET("/profiles", c.ListProfiles)
	c.Group.GET("/profiles/:id", c.GetProfile)
	c.Group.POST("/profiles/:id/predict", c.PredictProfile)
	c.Group.GET("/predictions", c.ListPredictions)
}

// Root answers the liveness probe.
func (c *Controller) Root(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]string{"message": RootMessage})
}

// Shutdown waits for in-flight fan-out work.
func (c *Controller) Shutdown() {
	c.wg.Wait()
	c.profileCache.Flush()
}

func (c *Controller) requireDatastore(ctx echo.Context) error {
	if c.DS == nil {
		return c.HandleError(ctx, nil, "Datastore not configured", http.StatusServiceUnavailable)
	}
	return nil
}
