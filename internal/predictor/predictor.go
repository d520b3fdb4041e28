// Package predictor wraps the regression model behind a small adapter:
// train on historical observations, predict a temperature for a target date.
// The model is a least-squares linear fit of temperature against time with
// the labels normalized to zero mean and unit variance, matching the
// behavior of the original regression over date ordinals.
package predictor

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/weathervane/weathervane/internal/models"
)

var (
	// ErrInsufficientData: fewer usable observations than MinObservations.
	ErrInsufficientData = errors.New("not enough observations to train")

	// ErrModelNotReady: predict called before any successful training.
	ErrModelNotReady = errors.New("model not trained yet")

	// ErrNoHistory: predict called with no recent observations.
	ErrNoHistory = errors.New("no observation history")
)

// MinObservations is the minimum usable training set size.
const MinObservations = 10

// Normalization holds the mean/stddev pair used to scale labels into the
// model and invert predictions back to °C.
type Normalization struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
}

// TrainingResult summarizes one training pass.
type TrainingResult struct {
	Samples      int           `json:"samples"`
	ModelVersion string        `json:"model_version"`
	Norm         Normalization `json:"normalization"`
	TrainedAt    time.Time     `json:"trained_at"`
}

// Prediction is one predicted temperature with its confidence.
type Prediction struct {
	Temperature  float64 `json:"predicted_temp"`
	Confidence   float64 `json:"confidence"`
	ModelVersion string  `json:"model_version"`
	DaysAhead    int     `json:"days_ahead"`
}

// Predictor holds the trained coefficients. Safe for concurrent use;
// training blocks predictions for its (short) duration.
type Predictor struct {
	mu sync.Mutex

	trained   bool
	slope     float64 // per day, on the normalized label scale
	intercept float64
	base      time.Time // feature origin: timestamp of the first sample
	norm      Normalization
	version   string

	now func() time.Time
}

func New() *Predictor {
	return &Predictor{now: time.Now}
}

// Train fits the model on the given observations. Observations with a
// non-finite temperature are dropped before the threshold check.
func (p *Predictor) Train(ctx context.Context, observations []models.Observation) (*TrainingResult, error) {
	var usable []models.Observation
	for _, obs := range observations {
		if math.IsNaN(obs.Temperature) || math.IsInf(obs.Temperature, 0) {
			continue
		}
		usable = append(usable, obs)
	}
	if len(usable) < MinObservations {
		return nil, ErrInsufficientData
	}

	base := usable[0].Timestamp
	for _, obs := range usable[1:] {
		if obs.Timestamp.Before(base) {
			base = obs.Timestamp
		}
	}

	// Label normalization: mean and population stddev of the temperatures.
	var sum float64
	for _, obs := range usable {
		sum += obs.Temperature
	}
	mean := sum / float64(len(usable))

	var sqSum float64
	for _, obs := range usable {
		d := obs.Temperature - mean
		sqSum += d * d
	}
	std := math.Sqrt(sqSum / float64(len(usable)))
	if std < 1e-9 {
		std = 1 // constant series; normalization becomes a plain shift
	}

	// Ordinary least squares on (days since base, normalized temperature).
	n := float64(len(usable))
	var sx, sy, sxx, sxy float64
	for _, obs := range usable {
		x := obs.Timestamp.Sub(base).Hours() / 24
		y := (obs.Temperature - mean) / std
		sx += x
		sy += y
		sxx += x * x
		sxy += x * y
	}
	denom := n*sxx - sx*sx
	var slope, intercept float64
	if denom != 0 {
		slope = (n*sxy - sx*sy) / denom
		intercept = (sy - slope*sx) / n
	} else {
		// All samples share one timestamp; fall back to the mean.
		intercept = sy / n
	}

	result := &TrainingResult{
		Samples:      len(usable),
		ModelVersion: uuid.NewString(),
		Norm:         Normalization{Mean: mean, StdDev: std},
		TrainedAt:    p.now().UTC(),
	}

	p.mu.Lock()
	p.trained = true
	p.slope = slope
	p.intercept = intercept
	p.base = base
	p.norm = result.Norm
	p.version = result.ModelVersion
	p.mu.Unlock()

	return result, nil
}

// Predict returns the temperature forecast for the target timestamp.
// The recent observations are the caller's evidence that history exists;
// an empty slice is a precondition failure, not an empty result.
func (p *Predictor) Predict(ctx context.Context, recent []models.Observation, target time.Time) (*Prediction, error) {
	if len(recent) == 0 {
		return nil, ErrNoHistory
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.trained {
		return nil, ErrModelNotReady
	}

	x := target.Sub(p.base).Hours() / 24
	normalized := p.slope*x + p.intercept
	temperature := normalized*p.norm.StdDev + p.norm.Mean

	daysAhead := daysBetween(p.now(), target)
	return &Prediction{
		Temperature:  temperature,
		Confidence:   confidenceFor(daysAhead),
		ModelVersion: p.version,
		DaysAhead:    daysAhead,
	}, nil
}

// PredictSeries produces one prediction per day for the given horizon,
// starting the day after from.
func (p *Predictor) PredictSeries(ctx context.Context, recent []models.Observation, from time.Time, days int) ([]Prediction, error) {
	predictions := make([]Prediction, 0, days)
	for i := 1; i <= days; i++ {
		pred, err := p.Predict(ctx, recent, from.AddDate(0, 0, i))
		if err != nil {
			return nil, err
		}
		predictions = append(predictions, *pred)
	}
	return predictions, nil
}

// Ready reports whether a training pass has completed.
func (p *Predictor) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.trained
}

// Normalization returns the parameters of the last training pass.
func (p *Predictor) Normalization() Normalization {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.norm
}

// confidenceFor decays linearly with forecast distance, clamped to
// (0, 0.95]. Same-day and past targets get the maximum.
func confidenceFor(daysAhead int) float64 {
	if daysAhead < 0 {
		daysAhead = 0
	}
	c := 0.95 - 0.07*float64(daysAhead)
	if c < 0.25 {
		c = 0.25
	}
	return c
}

func daysBetween(now, target time.Time) int {
	diff := target.Sub(now).Hours() / 24
	if diff <= 0 {
		return 0
	}
	return int(math.Ceil(diff))
}
