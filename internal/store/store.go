package store

import (
	"context"
	"errors"
	"time"

	"github.com/weathervane/weathervane/internal/models"
)

var (
	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrAlreadyEvaluated is returned when inserting an evaluation for a
	// forecast that already has one. Both backends enforce this atomically.
	ErrAlreadyEvaluated = errors.New("forecast already evaluated")
)

// ObservationFilter narrows an observation query. Zero values mean
// "no constraint".
type ObservationFilter struct {
	Since      time.Time
	Until      time.Time
	Provenance models.Provenance
	Limit      int
	Descending bool
}

// Store is the uniform persistence contract. One backend is selected at
// startup and never changes for the process lifetime; everything above this
// interface is backend-agnostic.
type Store interface {
	// Observations (append-only).
	InsertObservation(ctx context.Context, obs models.Observation) (int64, error)
	GetObservations(ctx context.Context, f ObservationFilter) ([]models.Observation, error)
	// GetLatestPerDay returns the most recent observation of each calendar
	// day (UTC) for the last `days` days with data, oldest first. This is
	// the training access pattern.
	GetLatestPerDay(ctx context.Context, days int) ([]models.Observation, error)
	CountObservations(ctx context.Context) (int, error)
	// GetClosestObservation returns the observation nearest to target
	// within the tolerance window, or nil if none qualifies.
	GetClosestObservation(ctx context.Context, target time.Time, tolerance time.Duration) (*models.Observation, error)

	// Forecast ledger.
	InsertForecast(ctx context.Context, fc models.Forecast) (int64, error)
	GetForecast(ctx context.Context, id int64) (*models.Forecast, error)
	// ListPendingForecasts returns forecasts due by asOf that have neither
	// an evaluation nor the auto-evaluated flag, oldest target first.
	ListPendingForecasts(ctx context.Context, asOf time.Time) ([]models.Forecast, error)
	// MarkAutoEvaluated flips the flag; a no-op when already set.
	MarkAutoEvaluated(ctx context.Context, id int64) error
	ListRecentForecasts(ctx context.Context, limit int) ([]models.ForecastWithEvaluation, error)
	// ListUnevaluatedForecastsForDay returns unevaluated forecasts whose
	// target date falls within ±24h of day.
	ListUnevaluatedForecastsForDay(ctx context.Context, day time.Time) ([]models.Forecast, error)

	// Evaluations. InsertEvaluation is an atomic check-and-insert:
	// a second evaluation for the same forecast gets ErrAlreadyEvaluated.
	InsertEvaluation(ctx context.Context, ev models.Evaluation) (int64, error)
	GetEvaluationForForecast(ctx context.Context, forecastID int64) (*models.Evaluation, error)
	ListEvaluations(ctx context.Context) ([]models.EvaluationExportRow, error)
	GetAccuracyStats(ctx context.Context) (*models.AccuracyStats, error)

	// Kind identifies the active backend ("sqlite" or "memory").
	Kind() string
	Close() error
}
