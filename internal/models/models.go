package models

import (
	"errors"
	"time"
)

// ErrValidation marks malformed or out-of-range input. Callers wrap it with
// context via fmt.Errorf("...: %w", ErrValidation).
var ErrValidation = errors.New("validation failed")

// Provenance records how an observation entered the system.
type Provenance string

const (
	ProvenanceActual     Provenance = "actual"
	ProvenanceWeatherAPI Provenance = "weather_api"
	ProvenanceCorrection Provenance = "correction"
	ProvenanceSynthetic  Provenance = "synthetic"
)

// EvaluationKind records which path produced an evaluation.
type EvaluationKind string

const (
	EvalAuto         EvaluationKind = "auto"
	EvalManual       EvaluationKind = "manual"
	EvalManualQuick  EvaluationKind = "manual_quick"
	EvalManualBulk   EvaluationKind = "manual_bulk"
	EvalManualImport EvaluationKind = "manual_import"
)

// PredictionKind distinguishes one-off predictions from multi-day batches.
type PredictionKind string

const (
	PredictionSingle   PredictionKind = "single"
	PredictionMultiDay PredictionKind = "multi_day"
)

// AccuracyCategory buckets an evaluation by absolute error.
type AccuracyCategory string

const (
	AccuracyExcellent AccuracyCategory = "excellent"
	AccuracyGood      AccuracyCategory = "good"
	AccuracyFair      AccuracyCategory = "fair"
	AccuracyPoor      AccuracyCategory = "poor"
	AccuracyVeryPoor  AccuracyCategory = "very_poor"
)

// CategoryForError maps an absolute error in °C onto its accuracy bucket.
// Thresholds are inclusive: an error of exactly 1.0 is still excellent.
func CategoryForError(absErr float64) AccuracyCategory {
	switch {
	case absErr <= 1.0:
		return AccuracyExcellent
	case absErr <= 2.0:
		return AccuracyGood
	case absErr <= 3.0:
		return AccuracyFair
	case absErr <= 5.0:
		return AccuracyPoor
	default:
		return AccuracyVeryPoor
	}
}

// Observation is one measured (or synthetic) set of weather values.
// Observations are append-only: never mutated, never deleted.
type Observation struct {
	ID          int64      `json:"id"`
	Timestamp   time.Time  `json:"timestamp"`
	Temperature float64    `json:"temperature"`
	Humidity    float64    `json:"humidity"`
	Pressure    float64    `json:"pressure"`
	WindSpeed   float64    `json:"wind_speed"`
	CloudCover  float64    `json:"cloud_cover"`
	Provenance  Provenance `json:"provenance"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Forecast is one stored prediction awaiting evaluation. The only mutation
// it ever sees is the AutoEvaluated flag flipping to true.
type Forecast struct {
	ID            int64          `json:"id"`
	CreatedAt     time.Time      `json:"created_at"`
	TargetDate    time.Time      `json:"target_date"`
	PredictedTemp float64        `json:"predicted_temp"`
	Confidence    float64        `json:"confidence"`
	ModelVersion  string         `json:"model_version"`
	Kind          PredictionKind `json:"kind"`
	DaysAhead     int            `json:"days_ahead"`
	AutoEvaluated bool           `json:"auto_evaluated"`
}

// Evaluation is the actual-vs-predicted comparison for exactly one forecast.
// At most one evaluation exists per forecast; records are immutable.
type Evaluation struct {
	ID            int64            `json:"id"`
	ForecastID    int64            `json:"forecast_id"`
	ActualTemp    float64          `json:"actual_temp"`
	PredictedTemp float64          `json:"predicted_temp"`
	AbsoluteError float64          `json:"absolute_error"`
	PercentError  float64          `json:"percent_error"`
	Category      AccuracyCategory `json:"category"`
	Kind          EvaluationKind   `json:"kind"`
	Notes         string           `json:"notes,omitempty"`
	EvaluatedAt   time.Time        `json:"evaluated_at"`
}

// ForecastWithEvaluation is the display join of a forecast and its
// evaluation, if one exists. Not a stored entity.
type ForecastWithEvaluation struct {
	Forecast   Forecast    `json:"forecast"`
	Evaluation *Evaluation `json:"evaluation,omitempty"`
}

// EvaluationExportRow is the flat CSV-export shape: an evaluation joined
// with its forecast's target and creation dates.
type EvaluationExportRow struct {
	Evaluation
	TargetDate        time.Time `json:"target_date"`
	ForecastCreatedAt time.Time `json:"forecast_created_at"`
}

// AccuracyStats aggregates the evaluation ledger for the dashboard.
type AccuracyStats struct {
	Evaluated        int                      `json:"evaluated"`
	Pending          int                      `json:"pending"`
	MAE              float64                  `json:"mae"`
	MeanPercentError float64                  `json:"mean_percent_error"`
	ByCategory       map[AccuracyCategory]int `json:"by_category"`
}
