package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
)

const defaultFeedBaseURL = "https://api.open-meteo.com"

// Reading is one current-conditions result from the external weather feed
// (or the simulated fallback).
type Reading struct {
	Time        time.Time
	Temperature float64
	Humidity    float64
	Pressure    float64
	WindSpeed   float64
	CloudCover  float64
	Simulated   bool
}

// FeedClient fetches current conditions from an Open-Meteo style endpoint.
// Transient failures are retried with exponential backoff; a persistently
// failing feed trips the circuit breaker so polls fail fast until it
// half-opens again.
type FeedClient struct {
	baseURL string
	lat     float64
	lon     float64
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

func NewFeedClient(lat, lon float64) *FeedClient {
	return &FeedClient{
		baseURL: defaultFeedBaseURL,
		lat:     lat,
		lon:     lon,
		client:  &http.Client{Timeout: 30 * time.Second},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "weather-feed",
			Timeout: 2 * time.Minute,
		}),
	}
}

// SetBaseURL overrides the feed endpoint, for tests.
func (f *FeedClient) SetBaseURL(url string) { f.baseURL = url }

type currentResponse struct {
	Current struct {
		Time        string  `json:"time"`
		Temperature float64 `json:"temperature_2m"`
		Humidity    float64 `json:"relative_humidity_2m"`
		Pressure    float64 `json:"surface_pressure"`
		WindSpeed   float64 `json:"wind_speed_10m"`
		CloudCover  float64 `json:"cloud_cover"`
	} `json:"current"`
}

func (f *FeedClient) FetchCurrent(ctx context.Context) (*Reading, error) {
	url := fmt.Sprintf("%s/v1/forecast?latitude=%.4f&longitude=%.4f&current=temperature_2m,relative_humidity_2m,surface_pressure,wind_speed_10m,cloud_cover",
		f.baseURL, f.lat, f.lon)

	result, err := f.breaker.Execute(func() (any, error) {
		var body []byte
		operation := func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return backoff.Permanent(fmt.Errorf("build request: %w", err))
			}
			resp, err := f.client.Do(req)
			if err != nil {
				return fmt.Errorf("fetch current: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return fmt.Errorf("feed unavailable: status %d", resp.StatusCode)
			}
			if resp.StatusCode != http.StatusOK {
				b, _ := io.ReadAll(resp.Body)
				return backoff.Permanent(fmt.Errorf("fetch current: status %d: %s", resp.StatusCode, string(b)))
			}

			body, err = io.ReadAll(resp.Body)
			if err != nil {
				return backoff.Permanent(fmt.Errorf("read body: %w", err))
			}
			return nil
		}

		bo := backoff.NewExponentialBackOff()
		bo.MaxElapsedTime = 30 * time.Second
		if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
			return nil, err
		}

		var data currentResponse
		if err := json.Unmarshal(body, &data); err != nil {
			return nil, fmt.Errorf("parse feed response: %w", err)
		}
		return &data, nil
	})
	if err != nil {
		return nil, err
	}

	data := result.(*currentResponse)
	observedAt := time.Now().UTC()
	if t, err := time.Parse("2006-01-02T15:04", data.Current.Time); err == nil {
		observedAt = t.UTC()
	}

	return &Reading{
		Time:        observedAt,
		Temperature: data.Current.Temperature,
		Humidity:    data.Current.Humidity,
		Pressure:    data.Current.Pressure,
		WindSpeed:   data.Current.WindSpeed,
		CloudCover:  data.Current.CloudCover,
	}, nil
}
