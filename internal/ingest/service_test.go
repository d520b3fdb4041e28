package ingest

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/weathervane/weathervane/internal/models"
	"github.com/weathervane/weathervane/internal/store"
)

func setupStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewMemory(filepath.Join(t.TempDir(), "snapshot.json"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return st
}

func f64(v float64) *float64 { return &v }

func TestAddAppliesDefaults(t *testing.T) {
	st := setupStore(t)
	svc := NewService(st, nil)

	obs, err := svc.Add(context.Background(), ObservationInput{Temperature: f64(21.5)})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if obs.Temperature != 21.5 {
		t.Errorf("Temperature = %.1f, want 21.5", obs.Temperature)
	}
	if obs.Humidity != DefaultHumidity {
		t.Errorf("Humidity = %.1f, want default %.1f", obs.Humidity, DefaultHumidity)
	}
	if obs.Pressure != DefaultPressure {
		t.Errorf("Pressure = %.2f, want default %.2f", obs.Pressure, DefaultPressure)
	}
	if obs.Provenance != models.ProvenanceActual {
		t.Errorf("Provenance = %q, want actual", obs.Provenance)
	}
	if obs.ID == 0 {
		t.Error("observation should have an assigned ID")
	}
}

func TestAddKeepsExplicitValues(t *testing.T) {
	st := setupStore(t)
	svc := NewService(st, nil)

	ts := time.Date(2026, 8, 5, 9, 0, 0, 0, time.UTC)
	obs, err := svc.Add(context.Background(), ObservationInput{
		Temperature: f64(10),
		Humidity:    f64(80),
		Pressure:    f64(1001),
		WindSpeed:   f64(12),
		CloudCover:  f64(90),
		Timestamp:   &ts,
		Provenance:  models.ProvenanceCorrection,
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if obs.Humidity != 80 || obs.Pressure != 1001 || obs.WindSpeed != 12 || obs.CloudCover != 90 {
		t.Errorf("explicit fields overwritten: %+v", obs)
	}
	if !obs.Timestamp.Equal(ts) {
		t.Errorf("Timestamp = %v, want %v", obs.Timestamp, ts)
	}
	if obs.Provenance != models.ProvenanceCorrection {
		t.Errorf("Provenance = %q, want correction", obs.Provenance)
	}
}

func TestAddRejectsBadTemperature(t *testing.T) {
	st := setupStore(t)
	svc := NewService(st, nil)
	ctx := context.Background()

	if _, err := svc.Add(ctx, ObservationInput{}); !errors.Is(err, models.ErrValidation) {
		t.Errorf("missing temperature err = %v, want ErrValidation", err)
	}
	if _, err := svc.Add(ctx, ObservationInput{Temperature: f64(math.NaN())}); !errors.Is(err, models.ErrValidation) {
		t.Errorf("NaN temperature err = %v, want ErrValidation", err)
	}

	count, err := st.CountObservations(ctx)
	if err != nil {
		t.Fatalf("CountObservations: %v", err)
	}
	if count != 0 {
		t.Errorf("count = %d, rejected inputs must not be stored", count)
	}
}

func TestFetchAndStoreParsesFeed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"current":{"time":"2026-08-05T14:00","temperature_2m":23.4,"relative_humidity_2m":48,"surface_pressure":1009.5,"wind_speed_10m":11.2,"cloud_cover":25}}`))
	}))
	defer server.Close()

	st := setupStore(t)
	feed := NewFeedClient(52.2297, 21.0122)
	feed.SetBaseURL(server.URL)
	svc := NewService(st, feed)

	obs, err := svc.FetchAndStore(context.Background())
	if err != nil {
		t.Fatalf("FetchAndStore: %v", err)
	}
	if obs.Temperature != 23.4 {
		t.Errorf("Temperature = %.1f, want 23.4", obs.Temperature)
	}
	if obs.Humidity != 48 {
		t.Errorf("Humidity = %.1f, want 48", obs.Humidity)
	}
	if obs.Provenance != models.ProvenanceWeatherAPI {
		t.Errorf("Provenance = %q, want weather_api", obs.Provenance)
	}
	want := time.Date(2026, 8, 5, 14, 0, 0, 0, time.UTC)
	if !obs.Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want %v", obs.Timestamp, want)
	}
}

func TestFetchAndStoreFallsBackToSimulated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer server.Close()

	st := setupStore(t)
	feed := NewFeedClient(52.2297, 21.0122)
	feed.SetBaseURL(server.URL)
	svc := NewService(st, feed)

	obs, err := svc.FetchAndStore(context.Background())
	if err != nil {
		t.Fatalf("FetchAndStore must not surface feed errors, got %v", err)
	}
	if obs.Provenance != models.ProvenanceSynthetic {
		t.Errorf("Provenance = %q, want synthetic", obs.Provenance)
	}
	if obs.Temperature < -40 || obs.Temperature > 50 {
		t.Errorf("simulated temperature %.1f outside plausible bounds", obs.Temperature)
	}

	count, err := st.CountObservations(context.Background())
	if err != nil {
		t.Fatalf("CountObservations: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, fallback reading should be stored", count)
	}
}

func TestSimulateStaysPlausible(t *testing.T) {
	for month := time.January; month <= time.December; month++ {
		for _, hour := range []int{3, 14} {
			now := time.Date(2026, month, 15, hour, 0, 0, 0, time.UTC)
			r := Simulate(now)
			if !r.Simulated {
				t.Fatal("Simulate must mark the reading")
			}
			if r.Temperature < -30 || r.Temperature > 45 {
				t.Errorf("%v: temperature %.1f outside plausible bounds", now, r.Temperature)
			}
			if r.Humidity < 10 || r.Humidity > 100 {
				t.Errorf("%v: humidity %.1f outside [10,100]", now, r.Humidity)
			}
			if r.CloudCover < 0 || r.CloudCover > 100 {
				t.Errorf("%v: cloud cover %.1f outside [0,100]", now, r.CloudCover)
			}
		}
	}
}

func TestSeedSynthetic(t *testing.T) {
	st := setupStore(t)
	svc := NewService(st, nil)
	ctx := context.Background()

	seeded, err := svc.SeedSynthetic(ctx, 14)
	if err != nil {
		t.Fatalf("SeedSynthetic: %v", err)
	}
	if seeded != 14 {
		t.Errorf("seeded = %d, want 14", seeded)
	}

	observations, err := st.GetObservations(ctx, store.ObservationFilter{Provenance: models.ProvenanceSynthetic})
	if err != nil {
		t.Fatalf("GetObservations: %v", err)
	}
	if len(observations) != 14 {
		t.Fatalf("stored = %d, want 14", len(observations))
	}
	for i := 1; i < len(observations); i++ {
		if !observations[i].Timestamp.After(observations[i-1].Timestamp) {
			t.Fatal("seeded observations should span distinct ascending days")
		}
	}
}
