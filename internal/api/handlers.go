package api

import (
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/weathervane/weathervane/internal/evalcsv"
	"github.com/weathervane/weathervane/internal/ingest"
	"github.com/weathervane/weathervane/internal/models"
	"github.com/weathervane/weathervane/internal/store"
)

const dateLayout = "2006-01-02"

type observationRequest struct {
	Temperature *float64   `json:"temperature" validate:"required"`
	Humidity    *float64   `json:"humidity" validate:"omitempty,gte=0,lte=100"`
	Pressure    *float64   `json:"pressure" validate:"omitempty,gte=800,lte=1200"`
	WindSpeed   *float64   `json:"wind_speed" validate:"omitempty,gte=0,lte=150"`
	CloudCover  *float64   `json:"cloud_cover" validate:"omitempty,gte=0,lte=100"`
	Timestamp   *time.Time `json:"timestamp"`
}

func (s *Server) handleObservations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listObservations(w, r)
	case http.MethodPost:
		s.addObservation(w, r)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) addObservation(w http.ResponseWriter, r *http.Request) {
	var req observationRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, err)
		return
	}

	obs, err := s.ingestor.Add(r.Context(), ingest.ObservationInput{
		Temperature: req.Temperature,
		Humidity:    req.Humidity,
		Pressure:    req.Pressure,
		WindSpeed:   req.WindSpeed,
		CloudCover:  req.CloudCover,
		Timestamp:   req.Timestamp,
		Provenance:  models.ProvenanceActual,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, obs)
}

func (s *Server) listObservations(w http.ResponseWriter, r *http.Request) {
	var filter store.ObservationFilter

	q := r.URL.Query()
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, fmt.Errorf("bad since %q: %w", v, models.ErrValidation))
			return
		}
		filter.Since = t
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, fmt.Errorf("bad until %q: %w", v, models.ErrValidation))
			return
		}
		filter.Until = t
	}
	if v := q.Get("provenance"); v != "" {
		filter.Provenance = models.Provenance(v)
	}
	filter.Limit = 100
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, fmt.Errorf("bad limit %q: %w", v, models.ErrValidation))
			return
		}
		filter.Limit = n
	}
	filter.Descending = true

	observations, err := s.store.GetObservations(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, observations)
}

func (s *Server) handleWeatherFetch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	obs, err := s.ingestor.FetchAndStore(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, obs)
}

type trainResponse struct {
	Samples      int       `json:"samples"`
	ModelVersion string    `json:"model_version"`
	TrainedAt    time.Time `json:"trained_at"`
}

func (s *Server) handleTrain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	result, err := s.forecaster.Train(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trainResponse{
		Samples:      result.Samples,
		ModelVersion: result.ModelVersion,
		TrainedAt:    result.TrainedAt,
	})
}

type predictRequest struct {
	TargetDate string `json:"target_date"`
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req predictRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	// Default target is tomorrow.
	target := time.Now().UTC().AddDate(0, 0, 1)
	if req.TargetDate != "" {
		t, err := time.Parse(dateLayout, req.TargetDate)
		if err != nil {
			writeError(w, fmt.Errorf("bad target_date %q, want YYYY-MM-DD: %w", req.TargetDate, models.ErrValidation))
			return
		}
		target = t
	}

	fc, err := s.forecaster.PredictOne(r.Context(), target)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, fc)
}

type predictBatchRequest struct {
	Days int `json:"days" validate:"omitempty,gte=1,lte=90"`
}

func (s *Server) handlePredictBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req predictBatchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, err)
		return
	}
	if req.Days == 0 {
		req.Days = 30
	}

	forecasts, err := s.forecaster.PredictBatch(r.Context(), req.Days)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, forecasts)
}

func (s *Server) handlePredictions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			writeError(w, fmt.Errorf("bad limit %q: %w", v, models.ErrValidation))
			return
		}
		limit = n
	}

	rows, err := s.store.ListRecentForecasts(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

type evaluateRequest struct {
	PredictionID int64   `json:"prediction_id" validate:"required,gt=0"`
	ActualTemp   float64 `json:"actual_temp"`
	Notes        string  `json:"notes" validate:"omitempty,max=500"`
	Quick        bool    `json:"quick"`
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req evaluateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, err)
		return
	}

	kind := models.EvalManual
	if req.Quick {
		kind = models.EvalManualQuick
	}

	ev, err := s.evaluator.Evaluate(r.Context(), req.PredictionID, req.ActualTemp, kind, req.Notes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

type evaluateByDateRequest struct {
	TargetDate string  `json:"target_date" validate:"required"`
	ActualTemp float64 `json:"actual_temp"`
}

type evaluateByDateResponse struct {
	Evaluated int `json:"evaluated"`
}

func (s *Server) handleEvaluateByDate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req evaluateByDateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, err)
		return
	}

	day, err := time.Parse(dateLayout, req.TargetDate)
	if err != nil {
		writeError(w, fmt.Errorf("bad target_date %q, want YYYY-MM-DD: %w", req.TargetDate, models.ErrValidation))
		return
	}

	count, err := s.evaluator.EvaluateByTargetDate(r.Context(), day, req.ActualTemp, models.EvalManualBulk)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, evaluateByDateResponse{Evaluated: count})
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	summary, err := evalcsv.Import(r.Context(), s.evaluator, r.Body)
	if err != nil {
		writeError(w, fmt.Errorf("%v: %w", err, models.ErrValidation))
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	rows, err := s.store.ListEvaluations(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="evaluations.csv"`)
	if err := evalcsv.Export(w, rows); err != nil {
		// Headers are already written; all we can do is log.
		log.Printf("api: export: %v", err)
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	stats, err := s.store.GetAccuracyStats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type healthResponse struct {
	Status       string `json:"status"`
	Backend      string `json:"backend"`
	Observations int    `json:"observations"`
	ModelReady   bool   `json:"model_ready"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	count, err := s.store.CountObservations(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{
			Status:  "error",
			Backend: s.store.Kind(),
		})
		return
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:       "ok",
		Backend:      s.store.Kind(),
		Observations: count,
		ModelReady:   s.forecaster.Ready(),
	})
}
