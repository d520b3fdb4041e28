package eval

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/hashicorp/go-multierror"

	"github.com/weathervane/weathervane/internal/models"
	"github.com/weathervane/weathervane/internal/store"
)

// MaxReportedErrors caps how many row errors an import summary carries.
const MaxReportedErrors = 20

// ImportRow is one evaluation to apply during a bulk import.
type ImportRow struct {
	ForecastID int64
	ActualTemp float64
	Kind       models.EvaluationKind
	Notes      string
}

// ImportSummary reports the outcome of a bulk import. Row failures never
// abort the batch; they are counted and sampled here.
type ImportSummary struct {
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors,omitempty"`
}

func (s *ImportSummary) addError(errs *multierror.Error, err error) *multierror.Error {
	s.Skipped++
	return multierror.Append(errs, err)
}

// ImportRows applies the guarded evaluate logic row by row. Unknown
// forecasts, out-of-range values, and already-evaluated forecasts are
// skipped and recorded, never fatal.
func (e *Evaluator) ImportRows(ctx context.Context, rows []ImportRow) (*ImportSummary, error) {
	summary := &ImportSummary{}
	var errs *multierror.Error

	for i, row := range rows {
		if math.IsNaN(row.ActualTemp) || math.IsInf(row.ActualTemp, 0) {
			errs = summary.addError(errs, fmt.Errorf("row %d: actual temperature is not a number", i+1))
			continue
		}

		kind := row.Kind
		if kind == "" {
			kind = models.EvalManualImport
		}

		_, err := e.Evaluate(ctx, row.ForecastID, row.ActualTemp, kind, row.Notes)
		switch {
		case err == nil:
			summary.Imported++
		case errors.Is(err, store.ErrNotFound):
			errs = summary.addError(errs, fmt.Errorf("row %d: prediction %d not found", i+1, row.ForecastID))
		case errors.Is(err, store.ErrAlreadyEvaluated):
			errs = summary.addError(errs, fmt.Errorf("row %d: prediction %d already evaluated", i+1, row.ForecastID))
		case errors.Is(err, models.ErrValidation):
			errs = summary.addError(errs, fmt.Errorf("row %d: %v", i+1, err))
		default:
			// Backend failure: still per-row, still non-fatal.
			errs = summary.addError(errs, fmt.Errorf("row %d: %v", i+1, err))
		}
	}

	if errs != nil {
		for i, err := range errs.Errors {
			if i >= MaxReportedErrors {
				summary.Errors = append(summary.Errors,
					fmt.Sprintf("... and %d more", len(errs.Errors)-MaxReportedErrors))
				break
			}
			summary.Errors = append(summary.Errors, err.Error())
		}
	}
	return summary, nil
}
