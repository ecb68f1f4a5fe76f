package api

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/imaging-churn/internal/errors"
	"github.com/tphakala/imaging-churn/internal/etl"
	"github.com/tphakala/imaging-churn/internal/scoring"
)

// PredictRequest is the body of POST /predict. All fields are required.
type PredictRequest struct {
	AvgImgMean      *float64 `json:"avg_img_mean"`
	AvgImgContrast  *float64 `json:"avg_img_contrast"`
	PrimaryModality *int     `json:"primary_modality"`
	ScanCount       *int     `json:"scan_count"`
}

// Validate checks presence and ranges and returns the model features.
func (r PredictRequest) Validate() (scoring.Features, error) {
	var problems []error
	missing := func(name string) {
		problems = append(problems, fmt.Errorf("%s is required", name))
	}
	if r.AvgImgMean == nil {
		missing("avg_img_mean")
	}
	if r.AvgImgContrast == nil {
		missing("avg_img_contrast")
	}
	if r.PrimaryModality == nil {
		missing("primary_modality")
	}
	if r.ScanCount == nil {
		missing("scan_count")
	}
	if len(problems) > 0 {
		return scoring.Features{}, errors.New(errors.Join(problems...)).
			Component("api").
			Category(errors.CategoryValidation).
			Build()
	}

	f := scoring.Features{
		AvgImgMean:      *r.AvgImgMean,
		AvgImgContrast:  *r.AvgImgContrast,
		PrimaryModality: *r.PrimaryModality,
		ScanCount:       *r.ScanCount,
	}
	if err := f.Validate(); err != nil {
		return scoring.Features{}, err
	}
	// Clients must name a known modality. Stored profiles may still carry -1.
	if f.PrimaryModality != etl.ModalityCodeCT && f.PrimaryModality != etl.ModalityCodeMR {
		return scoring.Features{}, errors.Newf("primary_modality must be 0 (CT) or 1 (MR), got %d", f.PrimaryModality).
			Component("api").
			Category(errors.CategoryValidation).
			Build()
	}
	return f, nil
}

func bindError(err error) error {
	return errors.New(fmt.Errorf("malformed request body: %w", err)).
		Component("api").
		Category(errors.CategoryValidation).
		Build()
}

// Predict scores one profile.
func (c *Controller) Predict(ctx echo.Context) error {
	var req PredictRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, bindError(err), "Invalid request", http.StatusBadRequest)
	}
	f, err := req.Validate()
	if err != nil {
		return c.HandleError(ctx, err, "Invalid request", http.StatusBadRequest)
	}

	pred, err := c.Scoring.Predict(ctx.Request().Context(), f)
	if err != nil {
		return c.handleServiceError(ctx, err, "Prediction failed")
	}

	c.dispatch(predictionEvent{features: f, prediction: pred, correlationID: requestID(ctx)})
	return ctx.JSON(http.StatusOK, pred)
}

// PredictBatch scores an array of profiles and answers with an array of
// predictions in the same order.
func (c *Controller) PredictBatch(ctx echo.Context) error {
	var reqs []PredictRequest
	if err := ctx.Bind(&reqs); err != nil {
		return c.HandleError(ctx, bindError(err), "Invalid request", http.StatusBadRequest)
	}
	if len(reqs) == 0 {
		return c.HandleError(ctx, nil, "Batch is empty", http.StatusBadRequest)
	}
	if len(reqs) > MaxBatchSize {
		return c.HandleError(ctx, nil, fmt.Sprintf("Batch exceeds %d items", MaxBatchSize), http.StatusBadRequest)
	}

	items := make([]scoring.Features, len(reqs))
	for i, r := range reqs {
		f, err := r.Validate()
		if err != nil {
			return c.HandleError(ctx, &scoring.BatchError{Index: i, Err: err}, "Invalid request", http.StatusBadRequest)
		}
		items[i] = f
	}

	preds, err := c.Scoring.PredictBatch(ctx.Request().Context(), items)
	if err != nil {
		return c.handleServiceError(ctx, err, "Prediction failed")
	}

	id := requestID(ctx)
	for i := range preds {
		c.dispatch(predictionEvent{features: items[i], prediction: preds[i], correlationID: id})
	}
	return ctx.JSON(http.StatusOK, preds)
}
