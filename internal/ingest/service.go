// Package ingest appends observations to the store: manual operator entries,
// readings pulled from the external weather feed, and synthetic seed data.
package ingest

import (
	"context"
	"fmt"
	"log"
	"math"
	"math/rand"
	"time"

	"github.com/weathervane/weathervane/internal/metrics"
	"github.com/weathervane/weathervane/internal/models"
	"github.com/weathervane/weathervane/internal/store"
)

// Default values for optional observation fields.
const (
	DefaultHumidity   = 50.0
	DefaultPressure   = 1013.25
	DefaultWindSpeed  = 5.0
	DefaultCloudCover = 50.0
)

// ObservationInput carries an observation to append. Nil optional fields
// take defaults; a nil timestamp means "now".
type ObservationInput struct {
	Temperature *float64
	Humidity    *float64
	Pressure    *float64
	WindSpeed   *float64
	CloudCover  *float64
	Timestamp   *time.Time
	Provenance  models.Provenance
}

type Service struct {
	store store.Store
	feed  *FeedClient
}

func NewService(st store.Store, feed *FeedClient) *Service {
	return &Service{store: st, feed: feed}
}

// Add validates and appends one observation. Temperature is the only
// required field and must be a finite number.
func (s *Service) Add(ctx context.Context, in ObservationInput) (*models.Observation, error) {
	if in.Temperature == nil {
		return nil, fmt.Errorf("temperature is required: %w", models.ErrValidation)
	}
	if math.IsNaN(*in.Temperature) || math.IsInf(*in.Temperature, 0) {
		return nil, fmt.Errorf("temperature must be a finite number: %w", models.ErrValidation)
	}

	obs := models.Observation{
		Timestamp:   time.Now().UTC(),
		Temperature: *in.Temperature,
		Humidity:    DefaultHumidity,
		Pressure:    DefaultPressure,
		WindSpeed:   DefaultWindSpeed,
		CloudCover:  DefaultCloudCover,
		Provenance:  models.ProvenanceActual,
	}
	if in.Timestamp != nil {
		obs.Timestamp = in.Timestamp.UTC()
	}
	if in.Humidity != nil {
		obs.Humidity = *in.Humidity
	}
	if in.Pressure != nil {
		obs.Pressure = *in.Pressure
	}
	if in.WindSpeed != nil {
		obs.WindSpeed = *in.WindSpeed
	}
	if in.CloudCover != nil {
		obs.CloudCover = *in.CloudCover
	}
	if in.Provenance != "" {
		obs.Provenance = in.Provenance
	}

	id, err := s.store.InsertObservation(ctx, obs)
	if err != nil {
		return nil, fmt.Errorf("insert observation: %w", err)
	}
	obs.ID = id
	metrics.ObservationsIngested.WithLabelValues(string(obs.Provenance)).Inc()
	return &obs, nil
}

// FetchAndStore pulls current conditions from the feed and appends them.
// A feed failure must not corrupt state or surface as an error: the caller
// gets a simulated reading (tagged synthetic) instead.
func (s *Service) FetchAndStore(ctx context.Context) (*models.Observation, error) {
	reading, err := s.feed.FetchCurrent(ctx)
	provenance := models.ProvenanceWeatherAPI
	if err != nil {
		log.Printf("ingest: weather feed failed, using simulated reading: %v", err)
		metrics.FeedFallbacks.Inc()
		r := Simulate(time.Now().UTC())
		reading = &r
		provenance = models.ProvenanceSynthetic
	}

	return s.Add(ctx, ObservationInput{
		Temperature: &reading.Temperature,
		Humidity:    &reading.Humidity,
		Pressure:    &reading.Pressure,
		WindSpeed:   &reading.WindSpeed,
		CloudCover:  &reading.CloudCover,
		Timestamp:   &reading.Time,
		Provenance:  provenance,
	})
}

// Simulate produces a plausible reading from an annual and diurnal sine
// cycle plus jitter. Used when the feed is unreachable and for seeding.
func Simulate(now time.Time) Reading {
	dayOfYear := float64(now.YearDay())
	hour := float64(now.Hour()) + float64(now.Minute())/60

	seasonal := 15 + 10*math.Sin(2*math.Pi*(dayOfYear-105)/365)
	diurnal := 4 * math.Sin(2*math.Pi*(hour-9)/24)
	jitter := rand.NormFloat64() * 1.5

	return Reading{
		Time:        now,
		Temperature: seasonal + diurnal + jitter,
		Humidity:    clamp(60-2*diurnal+rand.NormFloat64()*10, 10, 100),
		Pressure:    1013.25 + rand.NormFloat64()*6,
		WindSpeed:   clamp(8+rand.NormFloat64()*5, 0, 60),
		CloudCover:  clamp(50+rand.NormFloat64()*30, 0, 100),
		Simulated:   true,
	}
}

// SeedSynthetic appends one simulated observation per day for the past
// `days` days, for bootstrapping a fresh install.
func (s *Service) SeedSynthetic(ctx context.Context, days int) (int, error) {
	now := time.Now().UTC()
	seeded := 0
	for i := days; i >= 1; i-- {
		ts := now.AddDate(0, 0, -i)
		r := Simulate(ts)
		if _, err := s.Add(ctx, ObservationInput{
			Temperature: &r.Temperature,
			Humidity:    &r.Humidity,
			Pressure:    &r.Pressure,
			WindSpeed:   &r.WindSpeed,
			CloudCover:  &r.CloudCover,
			Timestamp:   &ts,
			Provenance:  models.ProvenanceSynthetic,
		}); err != nil {
			return seeded, err
		}
		seeded++
	}
	log.Printf("ingest: seeded %d synthetic observations", seeded)
	return seeded, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
