package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/weathervane/weathervane/internal/models"
)

// Memory is the fallback backend: everything lives in process memory and the
// full state is written to a snapshot file on every mutation so a restart
// can reconstruct it losslessly.
type Memory struct {
	mu   sync.RWMutex
	path string

	observations []models.Observation
	forecasts    map[int64]*models.Forecast
	evaluations  map[int64]*models.Evaluation // keyed by forecast ID

	nextObsID      int64
	nextForecastID int64
	nextEvalID     int64
}

type snapshot struct {
	SavedAt      time.Time            `json:"saved_at"`
	Observations []models.Observation `json:"observations"`
	Forecasts    []models.Forecast    `json:"forecasts"`
	Evaluations  []models.Evaluation  `json:"evaluations"`
}

// NewMemory creates the in-memory backend, restoring state from the
// snapshot file if one exists.
func NewMemory(path string) (*Memory, error) {
	m := &Memory{
		path:           path,
		forecasts:      make(map[int64]*models.Forecast),
		evaluations:    make(map[int64]*models.Evaluation),
		nextObsID:      1,
		nextForecastID: 1,
		nextEvalID:     1,
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", path, err)
	}

	m.observations = snap.Observations
	for i := range snap.Forecasts {
		fc := snap.Forecasts[i]
		m.forecasts[fc.ID] = &fc
		if fc.ID >= m.nextForecastID {
			m.nextForecastID = fc.ID + 1
		}
	}
	for i := range snap.Evaluations {
		ev := snap.Evaluations[i]
		m.evaluations[ev.ForecastID] = &ev
		if ev.ID >= m.nextEvalID {
			m.nextEvalID = ev.ID + 1
		}
	}
	for _, obs := range m.observations {
		if obs.ID >= m.nextObsID {
			m.nextObsID = obs.ID + 1
		}
	}

	log.Printf("store: restored snapshot from %s (%d observations, %d forecasts, %d evaluations, saved %s)",
		path, len(m.observations), len(m.forecasts), len(m.evaluations), snap.SavedAt.Format(time.RFC3339))
	return m, nil
}

func (m *Memory) Kind() string { return "memory" }

// Close flushes a final snapshot.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked()
}

// Save persists the current state; used by the scheduler's resync job.
func (m *Memory) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked()
}

// saveLocked writes the snapshot atomically (temp file + rename).
// Callers must hold the write lock.
func (m *Memory) saveLocked() error {
	snap := snapshot{
		SavedAt:      time.Now().UTC(),
		Observations: m.observations,
	}
	for _, fc := range m.forecasts {
		snap.Forecasts = append(snap.Forecasts, *fc)
	}
	for _, ev := range m.evaluations {
		snap.Evaluations = append(snap.Evaluations, *ev)
	}
	sort.Slice(snap.Forecasts, func(i, j int) bool { return snap.Forecasts[i].ID < snap.Forecasts[j].ID })
	sort.Slice(snap.Evaluations, func(i, j int) bool { return snap.Evaluations[i].ID < snap.Evaluations[j].ID })

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	if dir := filepath.Dir(m.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create snapshot dir: %w", err)
		}
	}

	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

func (m *Memory) persist() {
	if err := m.saveLocked(); err != nil {
		log.Printf("store: snapshot save failed: %v", err)
	}
}

func (m *Memory) InsertObservation(ctx context.Context, obs models.Observation) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	obs.ID = m.nextObsID
	m.nextObsID++
	if obs.CreatedAt.IsZero() {
		obs.CreatedAt = time.Now().UTC()
	}
	obs.Timestamp = obs.Timestamp.UTC()
	m.observations = append(m.observations, obs)
	m.persist()
	return obs.ID, nil
}

func (m *Memory) GetObservations(ctx context.Context, f ObservationFilter) ([]models.Observation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []models.Observation
	for _, obs := range m.observations {
		if !f.Since.IsZero() && obs.Timestamp.Before(f.Since) {
			continue
		}
		if !f.Until.IsZero() && obs.Timestamp.After(f.Until) {
			continue
		}
		if f.Provenance != "" && obs.Provenance != f.Provenance {
			continue
		}
		matched = append(matched, obs)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if f.Descending {
			return matched[i].Timestamp.After(matched[j].Timestamp)
		}
		return matched[i].Timestamp.Before(matched[j].Timestamp)
	})

	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, nil
}

func (m *Memory) GetLatestPerDay(ctx context.Context, days int) ([]models.Observation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	latest := make(map[string]models.Observation)
	for _, obs := range m.observations {
		day := obs.Timestamp.UTC().Format("2006-01-02")
		if cur, ok := latest[day]; !ok || obs.Timestamp.After(cur.Timestamp) {
			latest[day] = obs
		}
	}

	var result []models.Observation
	for _, obs := range latest {
		result = append(result, obs)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Timestamp.Before(result[j].Timestamp) })

	if days > 0 && len(result) > days {
		result = result[len(result)-days:]
	}
	return result, nil
}

func (m *Memory) CountObservations(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.observations), nil
}

func (m *Memory) GetClosestObservation(ctx context.Context, target time.Time, tolerance time.Duration) (*models.Observation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best *models.Observation
	var bestDist time.Duration
	for i := range m.observations {
		obs := m.observations[i]
		dist := obs.Timestamp.Sub(target)
		if dist < 0 {
			dist = -dist
		}
		if dist > tolerance {
			continue
		}
		if best == nil || dist < bestDist {
			o := obs
			best = &o
			bestDist = dist
		}
	}
	return best, nil
}

func (m *Memory) InsertForecast(ctx context.Context, fc models.Forecast) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fc.ID = m.nextForecastID
	m.nextForecastID++
	fc.CreatedAt = fc.CreatedAt.UTC()
	fc.TargetDate = fc.TargetDate.UTC()
	m.forecasts[fc.ID] = &fc
	m.persist()
	return fc.ID, nil
}

func (m *Memory) GetForecast(ctx context.Context, id int64) (*models.Forecast, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	fc, ok := m.forecasts[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *fc
	return &copied, nil
}

func (m *Memory) ListPendingForecasts(ctx context.Context, asOf time.Time) ([]models.Forecast, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var pending []models.Forecast
	for _, fc := range m.forecasts {
		if fc.TargetDate.After(asOf) || fc.AutoEvaluated {
			continue
		}
		if _, evaluated := m.evaluations[fc.ID]; evaluated {
			continue
		}
		pending = append(pending, *fc)
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].TargetDate.Equal(pending[j].TargetDate) {
			return pending[i].ID < pending[j].ID
		}
		return pending[i].TargetDate.Before(pending[j].TargetDate)
	})
	return pending, nil
}

func (m *Memory) MarkAutoEvaluated(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	fc, ok := m.forecasts[id]
	if !ok {
		return ErrNotFound
	}
	if fc.AutoEvaluated {
		return nil
	}
	fc.AutoEvaluated = true
	m.persist()
	return nil
}

func (m *Memory) ListRecentForecasts(ctx context.Context, limit int) ([]models.ForecastWithEvaluation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var all []models.ForecastWithEvaluation
	for _, fc := range m.forecasts {
		item := models.ForecastWithEvaluation{Forecast: *fc}
		if ev, ok := m.evaluations[fc.ID]; ok {
			copied := *ev
			item.Evaluation = &copied
		}
		all = append(all, item)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Forecast.CreatedAt.Equal(all[j].Forecast.CreatedAt) {
			return all[i].Forecast.ID > all[j].Forecast.ID
		}
		return all[i].Forecast.CreatedAt.After(all[j].Forecast.CreatedAt)
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (m *Memory) ListUnevaluatedForecastsForDay(ctx context.Context, day time.Time) ([]models.Forecast, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	start := day.Add(-24 * time.Hour)
	end := day.Add(24 * time.Hour)

	var matched []models.Forecast
	for _, fc := range m.forecasts {
		if fc.TargetDate.Before(start) || fc.TargetDate.After(end) {
			continue
		}
		if _, evaluated := m.evaluations[fc.ID]; evaluated {
			continue
		}
		matched = append(matched, *fc)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].TargetDate.Equal(matched[j].TargetDate) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].TargetDate.Before(matched[j].TargetDate)
	})
	return matched, nil
}

// InsertEvaluation performs the check and the insert under one write lock,
// so concurrent attempts for the same forecast cannot both succeed.
func (m *Memory) InsertEvaluation(ctx context.Context, ev models.Evaluation) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.evaluations[ev.ForecastID]; exists {
		return 0, ErrAlreadyEvaluated
	}
	if _, ok := m.forecasts[ev.ForecastID]; !ok {
		return 0, ErrNotFound
	}

	ev.ID = m.nextEvalID
	m.nextEvalID++
	ev.EvaluatedAt = ev.EvaluatedAt.UTC()
	m.evaluations[ev.ForecastID] = &ev
	m.persist()
	return ev.ID, nil
}

func (m *Memory) GetEvaluationForForecast(ctx context.Context, forecastID int64) (*models.Evaluation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ev, ok := m.evaluations[forecastID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *ev
	return &copied, nil
}

func (m *Memory) ListEvaluations(ctx context.Context) ([]models.EvaluationExportRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var rows []models.EvaluationExportRow
	for _, ev := range m.evaluations {
		fc, ok := m.forecasts[ev.ForecastID]
		if !ok {
			continue
		}
		rows = append(rows, models.EvaluationExportRow{
			Evaluation:        *ev,
			TargetDate:        fc.TargetDate,
			ForecastCreatedAt: fc.CreatedAt,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	return rows, nil
}

func (m *Memory) GetAccuracyStats(ctx context.Context) (*models.AccuracyStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &models.AccuracyStats{ByCategory: make(map[models.AccuracyCategory]int)}
	var absSum, pctSum float64
	for _, ev := range m.evaluations {
		stats.Evaluated++
		absSum += ev.AbsoluteError
		pctSum += ev.PercentError
		stats.ByCategory[ev.Category]++
	}
	if stats.Evaluated > 0 {
		stats.MAE = absSum / float64(stats.Evaluated)
		stats.MeanPercentError = pctSum / float64(stats.Evaluated)
	}
	for id := range m.forecasts {
		if _, evaluated := m.evaluations[id]; !evaluated {
			stats.Pending++
		}
	}
	return stats, nil
}
