// Package api exposes the JSON surface over the store, predictor, and
// evaluator.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/weathervane/weathervane/internal/eval"
	"github.com/weathervane/weathervane/internal/forecast"
	"github.com/weathervane/weathervane/internal/ingest"
	"github.com/weathervane/weathervane/internal/models"
	"github.com/weathervane/weathervane/internal/predictor"
	"github.com/weathervane/weathervane/internal/store"
)

type Server struct {
	store      store.Store
	ingestor   *ingest.Service
	forecaster *forecast.Service
	evaluator  *eval.Evaluator
	port       string
	validate   *validator.Validate
}

func NewServer(st store.Store, ing *ingest.Service, fc *forecast.Service, ev *eval.Evaluator, port string) *Server {
	return &Server{
		store:      st,
		ingestor:   ing,
		forecaster: fc,
		evaluator:  ev,
		port:       port,
		validate:   validator.New(),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/observations", s.handleObservations)
	mux.HandleFunc("/api/weather/fetch", s.handleWeatherFetch)
	mux.HandleFunc("/api/train", s.handleTrain)
	mux.HandleFunc("/api/predict", s.handlePredict)
	mux.HandleFunc("/api/predict/batch", s.handlePredictBatch)
	mux.HandleFunc("/api/predictions", s.handlePredictions)
	mux.HandleFunc("/api/evaluate", s.handleEvaluate)
	mux.HandleFunc("/api/evaluate/by-date", s.handleEvaluateByDate)
	mux.HandleFunc("/api/evaluations/import", s.handleImport)
	mux.HandleFunc("/api/evaluations/export", s.handleExport)
	mux.HandleFunc("/api/stats", s.handleStats)
	return mux
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:    ":" + s.port,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Printf("api: listening on :%s", s.port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: write response: %v", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps domain errors onto HTTP statuses. Validation problems and
// predictor preconditions are the client's to fix; everything else is ours.
func writeError(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors

	status := http.StatusInternalServerError
	msg := err.Error()
	switch {
	case errors.As(err, &verrs), errors.Is(err, models.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrAlreadyEvaluated):
		status = http.StatusConflict
	case errors.Is(err, predictor.ErrInsufficientData):
		status = http.StatusBadRequest
		msg = "not enough observations to train, add more data first"
	case errors.Is(err, predictor.ErrModelNotReady):
		status = http.StatusBadRequest
		msg = "model not trained yet, call /api/train first"
	case errors.Is(err, predictor.ErrNoHistory):
		status = http.StatusBadRequest
		msg = "no recent observations to predict from"
	default:
		log.Printf("api: internal error: %v", err)
		msg = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Join(models.ErrValidation, err)
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
}
