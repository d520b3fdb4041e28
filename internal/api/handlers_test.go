package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/weathervane/weathervane/internal/eval"
	"github.com/weathervane/weathervane/internal/forecast"
	"github.com/weathervane/weathervane/internal/ingest"
	"github.com/weathervane/weathervane/internal/models"
	"github.com/weathervane/weathervane/internal/predictor"
	"github.com/weathervane/weathervane/internal/store"
)

func setupServer(t *testing.T) (*Server, store.Store) {
	t.Helper()
	st, err := store.NewMemory(filepath.Join(t.TempDir(), "snapshot.json"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	pred := predictor.New()
	forecaster := forecast.NewService(st, pred)
	evaluator := eval.New(st)
	ingestor := ingest.NewService(st, nil)

	return NewServer(st, ingestor, forecaster, evaluator, "0"), st
}

func doJSON(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func seedDailyHistory(t *testing.T, st store.Store, days int) {
	t.Helper()
	now := time.Now().UTC()
	for i := days; i >= 1; i-- {
		_, err := st.InsertObservation(context.Background(), models.Observation{
			Timestamp:   now.AddDate(0, 0, -i),
			Temperature: 15 + 0.2*float64(days-i),
			Provenance:  models.ProvenanceActual,
		})
		if err != nil {
			t.Fatalf("seed observation: %v", err)
		}
	}
}

func TestAddObservationEndpoint(t *testing.T) {
	srv, _ := setupServer(t)
	handler := srv.Handler()

	rec := doJSON(t, handler, http.MethodPost, "/api/observations", `{"temperature": 21.5}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body)
	}

	var obs models.Observation
	if err := json.Unmarshal(rec.Body.Bytes(), &obs); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if obs.Temperature != 21.5 {
		t.Errorf("Temperature = %.1f, want 21.5", obs.Temperature)
	}
	if obs.Humidity != ingest.DefaultHumidity {
		t.Errorf("Humidity = %.1f, want the default", obs.Humidity)
	}

	// Missing temperature fails validation.
	rec = doJSON(t, handler, http.MethodPost, "/api/observations", `{"humidity": 50}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing temperature status = %d, want 400", rec.Code)
	}

	// Out-of-range optional field fails validation.
	rec = doJSON(t, handler, http.MethodPost, "/api/observations", `{"temperature": 20, "humidity": 140}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad humidity status = %d, want 400", rec.Code)
	}
}

func TestListObservationsEndpoint(t *testing.T) {
	srv, st := setupServer(t)
	handler := srv.Handler()
	seedDailyHistory(t, st, 5)

	rec := doJSON(t, handler, http.MethodGet, "/api/observations?limit=3", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}
	var observations []models.Observation
	if err := json.Unmarshal(rec.Body.Bytes(), &observations); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(observations) != 3 {
		t.Errorf("len = %d, want 3", len(observations))
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/observations?limit=bogus", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", rec.Code)
	}
}

func TestTrainAndPredictFlow(t *testing.T) {
	srv, st := setupServer(t)
	handler := srv.Handler()

	// Prediction before training is a client error with guidance.
	rec := doJSON(t, handler, http.MethodPost, "/api/predict", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("predict before train status = %d, want 400: %s", rec.Code, rec.Body)
	}

	// Training without data reports the precondition.
	rec = doJSON(t, handler, http.MethodPost, "/api/train", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("train without data status = %d, want 400: %s", rec.Code, rec.Body)
	}
	if !strings.Contains(rec.Body.String(), "add more data") {
		t.Errorf("train error should tell the caller what to do, got %s", rec.Body)
	}

	seedDailyHistory(t, st, 15)

	rec = doJSON(t, handler, http.MethodPost, "/api/train", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("train status = %d, want 200: %s", rec.Code, rec.Body)
	}
	var trained trainResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &trained); err != nil {
		t.Fatalf("decode train response: %v", err)
	}
	if trained.Samples != 15 || trained.ModelVersion == "" {
		t.Errorf("train response = %+v", trained)
	}

	target := time.Now().UTC().AddDate(0, 0, 3).Format(dateLayout)
	rec = doJSON(t, handler, http.MethodPost, "/api/predict", fmt.Sprintf(`{"target_date": %q}`, target))
	if rec.Code != http.StatusCreated {
		t.Fatalf("predict status = %d, want 201: %s", rec.Code, rec.Body)
	}
	var fc models.Forecast
	if err := json.Unmarshal(rec.Body.Bytes(), &fc); err != nil {
		t.Fatalf("decode forecast: %v", err)
	}
	if fc.ID == 0 || fc.Kind != models.PredictionSingle {
		t.Errorf("forecast = %+v", fc)
	}
	if fc.ModelVersion != trained.ModelVersion {
		t.Errorf("forecast model %q, want %q", fc.ModelVersion, trained.ModelVersion)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/predict/batch", `{"days": 7}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("batch status = %d, want 201: %s", rec.Code, rec.Body)
	}
	var batch []models.Forecast
	if err := json.Unmarshal(rec.Body.Bytes(), &batch); err != nil {
		t.Fatalf("decode batch: %v", err)
	}
	if len(batch) != 7 {
		t.Fatalf("len(batch) = %d, want 7", len(batch))
	}
	for i, b := range batch {
		if b.Kind != models.PredictionMultiDay {
			t.Errorf("batch[%d].Kind = %q, want multi_day", i, b.Kind)
		}
		if b.DaysAhead != i+1 {
			t.Errorf("batch[%d].DaysAhead = %d, want %d", i, b.DaysAhead, i+1)
		}
	}

	// The ledger now holds all eight forecasts.
	rec = doJSON(t, handler, http.MethodGet, "/api/predictions", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("predictions status = %d: %s", rec.Code, rec.Body)
	}
	var listed []models.ForecastWithEvaluation
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode predictions: %v", err)
	}
	if len(listed) != 8 {
		t.Errorf("len(listed) = %d, want 8", len(listed))
	}
}

func TestEvaluateEndpoints(t *testing.T) {
	srv, st := setupServer(t)
	handler := srv.Handler()

	target := time.Now().UTC().AddDate(0, 0, -1)
	fcID, err := st.InsertForecast(context.Background(), models.Forecast{
		CreatedAt:     target.Add(-24 * time.Hour),
		TargetDate:    target,
		PredictedTemp: 18,
		Confidence:    0.88,
		Kind:          models.PredictionSingle,
		DaysAhead:     1,
	})
	if err != nil {
		t.Fatalf("InsertForecast: %v", err)
	}

	rec := doJSON(t, handler, http.MethodPost, "/api/evaluate",
		fmt.Sprintf(`{"prediction_id": %d, "actual_temp": 19.2, "notes": "station reading"}`, fcID))
	if rec.Code != http.StatusCreated {
		t.Fatalf("evaluate status = %d, want 201: %s", rec.Code, rec.Body)
	}
	var evaluation models.Evaluation
	if err := json.Unmarshal(rec.Body.Bytes(), &evaluation); err != nil {
		t.Fatalf("decode evaluation: %v", err)
	}
	if evaluation.Category != models.AccuracyGood {
		t.Errorf("Category = %q, want good", evaluation.Category)
	}

	// Second evaluation conflicts.
	rec = doJSON(t, handler, http.MethodPost, "/api/evaluate",
		fmt.Sprintf(`{"prediction_id": %d, "actual_temp": 20}`, fcID))
	if rec.Code != http.StatusConflict {
		t.Errorf("second evaluate status = %d, want 409", rec.Code)
	}

	// Unknown forecast is a 404.
	rec = doJSON(t, handler, http.MethodPost, "/api/evaluate", `{"prediction_id": 9999, "actual_temp": 20}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown forecast status = %d, want 404", rec.Code)
	}

	// Implausible actual is a 400.
	rec = doJSON(t, handler, http.MethodPost, "/api/evaluate",
		fmt.Sprintf(`{"prediction_id": %d, "actual_temp": 120}`, fcID))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("implausible actual status = %d, want 400", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stats status = %d: %s", rec.Code, rec.Body)
	}
	var stats models.AccuracyStats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Evaluated != 1 || stats.Pending != 0 {
		t.Errorf("stats = %+v, want 1 evaluated", stats)
	}
}

func TestEvaluateByDateEndpoint(t *testing.T) {
	srv, st := setupServer(t)
	handler := srv.Handler()

	day := time.Now().UTC().Truncate(24 * time.Hour).AddDate(0, 0, -2)
	for i := 0; i < 3; i++ {
		_, err := st.InsertForecast(context.Background(), models.Forecast{
			CreatedAt:     day.Add(-24 * time.Hour),
			TargetDate:    day.Add(time.Duration(i*6) * time.Hour),
			PredictedTemp: 14,
			Kind:          models.PredictionMultiDay,
		})
		if err != nil {
			t.Fatalf("InsertForecast: %v", err)
		}
	}

	body := fmt.Sprintf(`{"target_date": %q, "actual_temp": 15.5}`, day.Format(dateLayout))
	rec := doJSON(t, handler, http.MethodPost, "/api/evaluate/by-date", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var resp evaluateByDateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Evaluated != 3 {
		t.Errorf("Evaluated = %d, want 3", resp.Evaluated)
	}
}

func TestImportExportEndpoints(t *testing.T) {
	srv, st := setupServer(t)
	handler := srv.Handler()

	target := time.Date(2026, 8, 10, 12, 0, 0, 0, time.UTC)
	fcID, err := st.InsertForecast(context.Background(), models.Forecast{
		CreatedAt:     target.Add(-24 * time.Hour),
		TargetDate:    target,
		PredictedTemp: 22,
		Kind:          models.PredictionSingle,
	})
	if err != nil {
		t.Fatalf("InsertForecast: %v", err)
	}

	csvBody := fmt.Sprintf("prediction_id,actual_temp\n%d,23.1\n", fcID)
	req := httptest.NewRequest(http.MethodPost, "/api/evaluations/import", strings.NewReader(csvBody))
	req.Header.Set("Content-Type", "text/csv")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("import status = %d: %s", rec.Code, rec.Body)
	}
	var summary eval.ImportSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.Imported != 1 || summary.Skipped != 0 {
		t.Errorf("summary = %+v, want 1 imported", summary)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/evaluations/export", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("export status = %d: %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("Content-Type = %q, want text/csv", ct)
	}
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("export lines = %d, want header + 1 row", len(lines))
	}
	if !strings.HasPrefix(lines[0], "prediction_id,target_date") {
		t.Errorf("export header = %q", lines[0])
	}
	if !strings.Contains(lines[1], "23.10") {
		t.Errorf("export row = %q, want the imported actual", lines[1])
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, st := setupServer(t)
	handler := srv.Handler()
	seedDailyHistory(t, st, 2)

	rec := doJSON(t, handler, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var health healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Status != "ok" || health.Backend != "memory" || health.Observations != 2 {
		t.Errorf("health = %+v", health)
	}
	if health.ModelReady {
		t.Error("ModelReady should be false before training")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := setupServer(t)
	handler := srv.Handler()

	rec := doJSON(t, handler, http.MethodDelete, "/api/observations", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodGet, "/api/train", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("train GET status = %d, want 405", rec.Code)
	}
}
