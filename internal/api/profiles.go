package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/imaging-churn/internal/datastore"
	"github.com/tphakala/imaging-churn/internal/errors"
	"github.com/tphakala/imaging-churn/internal/scoring"
)

// queryInt parses an optional non-negative integer query parameter.
func queryInt(ctx echo.Context, name string) (int, error) {
	raw := ctx.QueryParam(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, errors.Newf("%s must be a non-negative integer, got %q", name, raw).
			Component("api").
			Category(errors.CategoryValidation).
			Build()
	}
	return v, nil
}

// ListProfiles returns stored profiles ordered by hospital id.
func (c *Controller) ListProfiles(ctx echo.Context) error {
	if err := c.requireDatastore(ctx); err != nil {
		return err
	}
	limit, err := queryInt(ctx, "limit")
	if err != nil {
		return c.HandleError(ctx, err, "Invalid query", http.StatusBadRequest)
	}
	offset, err := queryInt(ctx, "offset")
	if err != nil {
		return c.HandleError(ctx, err, "Invalid query", http.StatusBadRequest)
	}

	profiles, err := c.DS.ListProfiles(ctx.Request().Context(), limit, offset)
	if err != nil {
		return c.handleServiceError(ctx, err, "Failed to list profiles")
	}
	if profiles == nil {
		profiles = []datastore.HospitalProfile{}
	}
	return ctx.JSON(http.StatusOK, profiles)
}

// loadProfile reads a profile through the in-memory cache. Profiles
// rewritten by another process (aggregate --store) show up on reads after
// ProfileCacheTTL. With fresh set the datastore is always read and the cached
// entry replaced.
func (c *Controller) loadProfile(ctx echo.Context, id string, fresh bool) (datastore.HospitalProfile, error) {
	if !fresh {
		if v, ok := c.profileCache.Get(id); ok {
			return v.(datastore.HospitalProfile), nil
		}
	}
	p, err := c.DS.GetProfile(ctx.Request().Context(), id)
	if err != nil {
		return datastore.HospitalProfile{}, err
	}
	c.profileCache.SetDefault(id, p)
	return p, nil
}

// GetProfile returns one stored profile.
func (c *Controller) GetProfile(ctx echo.Context) error {
	if err := c.requireDatastore(ctx); err != nil {
		return err
	}
	id := strings.TrimSpace(ctx.Param("id"))
	p, err := c.loadProfile(ctx, id, false)
	if err != nil {
		return c.handleServiceError(ctx, err, "Failed to load profile")
	}
	return ctx.JSON(http.StatusOK, p)
}

// PredictProfile scores the current stored profile, bypassing the cache.
func (c *Controller) PredictProfile(ctx echo.Context) error {
	if err := c.requireDatastore(ctx); err != nil {
		return err
	}
	id := strings.TrimSpace(ctx.Param("id"))
	p, err := c.loadProfile(ctx, id, true)
	if err != nil {
		return c.handleServiceError(ctx, err, "Failed to load profile")
	}

	f := scoring.FromProfile(p.Profile())
	pred, err := c.Scoring.Predict(ctx.Request().Context(), f)
	if err != nil {
		return c.handleServiceError(ctx, err, "Prediction failed")
	}

	c.dispatch(predictionEvent{hospitalID: p.HospitalID, features: f, prediction: pred, correlationID: requestID(ctx)})
	return ctx.JSON(http.StatusOK, pred)
}

// ListPredictions returns the audit log newest first. Supported filters are
// hospital_id, risk_level, since (RFC 3339), limit and offset.
func (c *Controller) ListPredictions(ctx echo.Context) error {
	if err := c.requireDatastore(ctx); err != nil {
		return err
	}
	filter := datastore.PredictionFilter{
		HospitalID: ctx.QueryParam("hospital_id"),
		RiskLevel:  strings.ToUpper(ctx.QueryParam("risk_level")),
	}
	if filter.RiskLevel != "" && filter.RiskLevel != scoring.RiskHigh && filter.RiskLevel != scoring.RiskLow {
		return c.HandleError(ctx, nil, "risk_level must be HIGH or LOW", http.StatusBadRequest)
	}
	if raw := ctx.QueryParam("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return c.HandleError(ctx, err, "since must be an RFC 3339 timestamp", http.StatusBadRequest)
		}
		filter.Since = since
	}
	var err error
	if filter.Limit, err = queryInt(ctx, "limit"); err != nil {
		return c.HandleError(ctx, err, "Invalid query", http.StatusBadRequest)
	}
	if filter.Offset, err = queryInt(ctx, "offset"); err != nil {
		return c.HandleError(ctx, err, "Invalid query", http.StatusBadRequest)
	}

	records, err := c.DS.ListPredictions(ctx.Request().Context(), filter)
	if err != nil {
		return c.handleServiceError(ctx, err, "Failed to list predictions")
	}
	if records == nil {
		records = []datastore.PredictionRecord{}
	}
	return ctx.JSON(http.StatusOK, records)
}
