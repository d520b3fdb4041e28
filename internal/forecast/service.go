// Package forecast drives the prediction side of the ledger: training the
// model from stored observations and recording new forecasts.
package forecast

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/weathervane/weathervane/internal/metrics"
	"github.com/weathervane/weathervane/internal/models"
	"github.com/weathervane/weathervane/internal/predictor"
	"github.com/weathervane/weathervane/internal/store"
)

const (
	// trainingWindowDays bounds how much history a training pass loads,
	// one observation per day.
	trainingWindowDays = 365

	// recentWindow is how much history backs a prediction request.
	recentWindow = 7 * 24 * time.Hour
)

type Service struct {
	store store.Store
	pred  *predictor.Predictor
}

func NewService(st store.Store, pred *predictor.Predictor) *Service {
	return &Service{store: st, pred: pred}
}

// Train loads the daily training set and refits the model.
func (s *Service) Train(ctx context.Context) (*predictor.TrainingResult, error) {
	observations, err := s.store.GetLatestPerDay(ctx, trainingWindowDays)
	if err != nil {
		metrics.TrainingRuns.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("load training observations: %w", err)
	}

	result, err := s.pred.Train(ctx, observations)
	if err != nil {
		metrics.TrainingRuns.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.TrainingRuns.WithLabelValues("ok").Inc()

	log.Printf("forecast: trained model %s on %d samples (mean=%.2f°C stddev=%.2f°C)",
		result.ModelVersion, result.Samples, result.Norm.Mean, result.Norm.StdDev)
	return result, nil
}

// Ready reports whether a trained model is available.
func (s *Service) Ready() bool { return s.pred.Ready() }

func (s *Service) recentObservations(ctx context.Context) ([]models.Observation, error) {
	return s.store.GetObservations(ctx, store.ObservationFilter{
		Since: time.Now().UTC().Add(-recentWindow),
	})
}

// PredictOne records a single forecast for the target date.
func (s *Service) PredictOne(ctx context.Context, target time.Time) (*models.Forecast, error) {
	recent, err := s.recentObservations(ctx)
	if err != nil {
		return nil, fmt.Errorf("load recent observations: %w", err)
	}

	pred, err := s.pred.Predict(ctx, recent, target)
	if err != nil {
		return nil, err
	}

	return s.record(ctx, target, pred, models.PredictionSingle)
}

// PredictBatch records one forecast per day for the given horizon,
// starting tomorrow.
func (s *Service) PredictBatch(ctx context.Context, days int) ([]models.Forecast, error) {
	recent, err := s.recentObservations(ctx)
	if err != nil {
		return nil, fmt.Errorf("load recent observations: %w", err)
	}

	now := time.Now().UTC()
	predictions, err := s.pred.PredictSeries(ctx, recent, now, days)
	if err != nil {
		return nil, err
	}

	forecasts := make([]models.Forecast, 0, len(predictions))
	for i, pred := range predictions {
		p := pred
		fc, err := s.record(ctx, now.AddDate(0, 0, i+1), &p, models.PredictionMultiDay)
		if err != nil {
			return forecasts, err
		}
		forecasts = append(forecasts, *fc)
	}
	return forecasts, nil
}

func (s *Service) record(ctx context.Context, target time.Time, pred *predictor.Prediction, kind models.PredictionKind) (*models.Forecast, error) {
	fc := models.Forecast{
		CreatedAt:     time.Now().UTC(),
		TargetDate:    target.UTC(),
		PredictedTemp: pred.Temperature,
		Confidence:    pred.Confidence,
		ModelVersion:  pred.ModelVersion,
		Kind:          kind,
		DaysAhead:     pred.DaysAhead,
	}

	id, err := s.store.InsertForecast(ctx, fc)
	if err != nil {
		return nil, fmt.Errorf("record forecast: %w", err)
	}
	fc.ID = id
	metrics.ForecastsRecorded.WithLabelValues(string(kind)).Inc()
	return &fc, nil
}
