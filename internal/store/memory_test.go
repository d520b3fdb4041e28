package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/weathervane/weathervane/internal/models"
)

func TestMemorySnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "snapshot.json")

	st, err := NewMemory(path)
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}

	target := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	obsID := mustInsertObs(t, st, target, 18.5, models.ProvenanceActual)
	fcID := mustInsertForecast(t, st, target, 17)
	evID, err := st.InsertEvaluation(ctx, evaluationFor(fcID, 18.5, 17))
	if err != nil {
		t.Fatalf("InsertEvaluation: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	restored, err := NewMemory(path)
	if err != nil {
		t.Fatalf("NewMemory restore: %v", err)
	}

	observations, err := restored.GetObservations(ctx, ObservationFilter{})
	if err != nil {
		t.Fatalf("GetObservations: %v", err)
	}
	if len(observations) != 1 || observations[0].ID != obsID || observations[0].Temperature != 18.5 {
		t.Errorf("restored observations = %+v", observations)
	}

	fc, err := restored.GetForecast(ctx, fcID)
	if err != nil {
		t.Fatalf("GetForecast: %v", err)
	}
	if fc.PredictedTemp != 17 {
		t.Errorf("restored PredictedTemp = %.1f, want 17", fc.PredictedTemp)
	}

	ev, err := restored.GetEvaluationForForecast(ctx, fcID)
	if err != nil {
		t.Fatalf("GetEvaluationForForecast: %v", err)
	}
	if ev.ID != evID || ev.ActualTemp != 18.5 {
		t.Errorf("restored evaluation = %+v", ev)
	}

	// ID counters continue past restored records.
	nextObs := mustInsertObs(t, restored, target.Add(time.Hour), 19, models.ProvenanceActual)
	if nextObs <= obsID {
		t.Errorf("next observation ID = %d, want > %d", nextObs, obsID)
	}
}

func TestMemoryMissingSnapshotStartsFresh(t *testing.T) {
	st, err := NewMemory(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	count, err := st.CountObservations(context.Background())
	if err != nil {
		t.Fatalf("CountObservations: %v", err)
	}
	if count != 0 {
		t.Errorf("count = %d, want 0", count)
	}
}

func TestMemoryCorruptSnapshotFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write corrupt snapshot: %v", err)
	}
	if _, err := NewMemory(path); err == nil {
		t.Fatal("expected error for corrupt snapshot")
	}
}
