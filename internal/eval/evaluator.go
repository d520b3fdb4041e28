// Package eval implements the forecast evaluation lifecycle: the periodic
// auto-sweep that settles due forecasts against stored observations, and the
// manual paths (single, batch-by-date, bulk import) operators use.
package eval

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/weathervane/weathervane/internal/metrics"
	"github.com/weathervane/weathervane/internal/models"
	"github.com/weathervane/weathervane/internal/store"
)

const (
	// MatchTolerance is how far an observation may sit from a forecast's
	// target date and still settle it.
	MatchTolerance = 2 * time.Hour

	// RetrainErrorThreshold: an evaluation worse than this schedules a
	// model retrain via the hook.
	RetrainErrorThreshold = 3.0

	// Plausible physical range for a manually entered actual temperature.
	MinActualTemp = -50.0
	MaxActualTemp = 60.0

	// percentFloor guards the percentage-error denominator near 0 °C.
	percentFloor = 0.1
)

// Evaluator settles forecasts against actual temperatures. Both entry paths
// go through the store's atomic check-and-insert, so a racing auto-sweep and
// manual call cannot both write.
type Evaluator struct {
	store store.Store

	// onLargeError fires after a durable evaluation write whose absolute
	// error exceeds RetrainErrorThreshold. Never blocks the write path.
	onLargeError func(models.Evaluation)
}

func New(st store.Store) *Evaluator {
	return &Evaluator{store: st}
}

// SetRetrainHook installs the large-error policy hook.
func (e *Evaluator) SetRetrainHook(hook func(models.Evaluation)) {
	e.onLargeError = hook
}

// build computes the error metrics for a forecast/actual pair.
func build(fc *models.Forecast, actual float64, kind models.EvaluationKind, notes string, now time.Time) models.Evaluation {
	absErr := math.Abs(actual - fc.PredictedTemp)
	denom := math.Abs(actual)
	if denom < percentFloor {
		denom = percentFloor
	}
	return models.Evaluation{
		ForecastID:    fc.ID,
		ActualTemp:    actual,
		PredictedTemp: fc.PredictedTemp,
		AbsoluteError: absErr,
		PercentError:  absErr / denom * 100,
		Category:      models.CategoryForError(absErr),
		Kind:          kind,
		Notes:         notes,
		EvaluatedAt:   now,
	}
}

func (e *Evaluator) insert(ctx context.Context, ev models.Evaluation) (*models.Evaluation, error) {
	id, err := e.store.InsertEvaluation(ctx, ev)
	if err != nil {
		return nil, err
	}
	ev.ID = id
	metrics.EvaluationsRecorded.WithLabelValues(string(ev.Kind), string(ev.Category)).Inc()

	if e.onLargeError != nil && ev.AbsoluteError > RetrainErrorThreshold {
		e.onLargeError(ev)
	}
	return &ev, nil
}

// AutoEvaluate sweeps forecasts due by now, matching each against the
// closest observation within MatchTolerance. Forecasts with no observation
// in the window stay pending; losing a race to a manual evaluation is a
// skip, not a failure. Returns the number of forecasts settled.
func (e *Evaluator) AutoEvaluate(ctx context.Context, now time.Time) (int, error) {
	started := time.Now()
	defer func() { metrics.SweepDuration.Observe(time.Since(started).Seconds()) }()

	due, err := e.store.ListPendingForecasts(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list pending forecasts: %w", err)
	}

	evaluated := 0
	for i := range due {
		fc := due[i]

		obs, err := e.store.GetClosestObservation(ctx, fc.TargetDate, MatchTolerance)
		if err != nil {
			log.Printf("evaluator: match forecast %d: %v", fc.ID, err)
			continue
		}
		if obs == nil {
			continue
		}

		ev := build(&fc, obs.Temperature, models.EvalAuto, "", now)
		if _, err := e.insert(ctx, ev); err != nil {
			if errors.Is(err, store.ErrAlreadyEvaluated) {
				continue
			}
			log.Printf("evaluator: insert evaluation for forecast %d: %v", fc.ID, err)
			continue
		}

		if err := e.store.MarkAutoEvaluated(ctx, fc.ID); err != nil {
			log.Printf("evaluator: mark forecast %d auto-evaluated: %v", fc.ID, err)
		}
		evaluated++

		log.Printf("evaluator: forecast %d settled: predicted=%.1f°C actual=%.1f°C error=%.1f°C (%s)",
			fc.ID, fc.PredictedTemp, obs.Temperature, ev.AbsoluteError, ev.Category)
	}

	if len(due) > 0 {
		log.Printf("evaluator: sweep settled %d of %d due forecasts", evaluated, len(due))
	}
	return evaluated, nil
}

// Evaluate records a manual evaluation for one forecast.
func (e *Evaluator) Evaluate(ctx context.Context, forecastID int64, actual float64, kind models.EvaluationKind, notes string) (*models.Evaluation, error) {
	if err := validateActual(actual); err != nil {
		return nil, err
	}
	if kind == "" {
		kind = models.EvalManual
	}

	fc, err := e.store.GetForecast(ctx, forecastID)
	if err != nil {
		return nil, err
	}

	return e.insert(ctx, build(fc, actual, kind, notes, time.Now().UTC()))
}

// EvaluateByTargetDate settles every unevaluated forecast targeting the same
// calendar day (±24h) with a single actual reading. Returns the count.
func (e *Evaluator) EvaluateByTargetDate(ctx context.Context, day time.Time, actual float64, kind models.EvaluationKind) (int, error) {
	if err := validateActual(actual); err != nil {
		return 0, err
	}
	if kind == "" {
		kind = models.EvalManualBulk
	}

	forecasts, err := e.store.ListUnevaluatedForecastsForDay(ctx, day)
	if err != nil {
		return 0, fmt.Errorf("list forecasts for day: %w", err)
	}

	now := time.Now().UTC()
	evaluated := 0
	for i := range forecasts {
		fc := forecasts[i]
		if _, err := e.insert(ctx, build(&fc, actual, kind, "", now)); err != nil {
			if errors.Is(err, store.ErrAlreadyEvaluated) {
				continue
			}
			log.Printf("evaluator: by-date insert forecast %d: %v", fc.ID, err)
			continue
		}
		evaluated++
	}
	return evaluated, nil
}

func validateActual(actual float64) error {
	if math.IsNaN(actual) || math.IsInf(actual, 0) {
		return fmt.Errorf("actual temperature is not a number: %w", models.ErrValidation)
	}
	if actual < MinActualTemp || actual > MaxActualTemp {
		return fmt.Errorf("actual temperature %.1f outside plausible range [%.0f, %.0f]: %w",
			actual, MinActualTemp, MaxActualTemp, models.ErrValidation)
	}
	return nil
}
