package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/weathervane/weathervane/internal/models"
)

// SQLite is the durable backend.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db}
}

func (s *SQLite) Kind() string { return "sqlite" }

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) InsertObservation(ctx context.Context, obs models.Observation) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO observations (timestamp, temperature, humidity, pressure, wind_speed, cloud_cover, provenance, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, obs.Timestamp.UTC(), obs.Temperature, obs.Humidity, obs.Pressure, obs.WindSpeed, obs.CloudCover, obs.Provenance, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const observationColumns = `id, timestamp, temperature, humidity, pressure, wind_speed, cloud_cover, provenance, created_at`

func scanObservation(scanner interface{ Scan(...any) error }) (models.Observation, error) {
	var obs models.Observation
	err := scanner.Scan(&obs.ID, &obs.Timestamp, &obs.Temperature, &obs.Humidity, &obs.Pressure,
		&obs.WindSpeed, &obs.CloudCover, &obs.Provenance, &obs.CreatedAt)
	return obs, err
}

func (s *SQLite) GetObservations(ctx context.Context, f ObservationFilter) ([]models.Observation, error) {
	query := `SELECT ` + observationColumns + ` FROM observations WHERE 1=1`
	var args []any

	if !f.Since.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, f.Since.UTC())
	}
	if !f.Until.IsZero() {
		query += ` AND timestamp <= ?`
		args = append(args, f.Until.UTC())
	}
	if f.Provenance != "" {
		query += ` AND provenance = ?`
		args = append(args, f.Provenance)
	}
	if f.Descending {
		query += ` ORDER BY timestamp DESC, id DESC`
	} else {
		query += ` ORDER BY timestamp ASC, id ASC`
	}
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var observations []models.Observation
	for rows.Next() {
		obs, err := scanObservation(rows)
		if err != nil {
			return nil, err
		}
		observations = append(observations, obs)
	}
	return observations, rows.Err()
}

func (s *SQLite) GetLatestPerDay(ctx context.Context, days int) ([]models.Observation, error) {
	rows, err := s.db.QueryContext(ctx, `
		WITH ranked AS (
			SELECT `+observationColumns+`,
			       ROW_NUMBER() OVER (
			           PARTITION BY SUBSTR(timestamp, 1, 10)
			           ORDER BY timestamp DESC, id DESC
			       ) AS rn
			FROM observations
		)
		SELECT `+observationColumns+` FROM ranked
		WHERE rn = 1
		ORDER BY timestamp DESC
		LIMIT ?
	`, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var observations []models.Observation
	for rows.Next() {
		obs, err := scanObservation(rows)
		if err != nil {
			return nil, err
		}
		observations = append(observations, obs)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Query is newest-first for the LIMIT; callers train oldest-first.
	for i, j := 0, len(observations)-1; i < j; i, j = i+1, j-1 {
		observations[i], observations[j] = observations[j], observations[i]
	}
	return observations, nil
}

func (s *SQLite) CountObservations(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM observations`).Scan(&count)
	return count, err
}

func (s *SQLite) GetClosestObservation(ctx context.Context, target time.Time, tolerance time.Duration) (*models.Observation, error) {
	start := target.Add(-tolerance).UTC()
	end := target.Add(tolerance).UTC()

	row := s.db.QueryRowContext(ctx, `
		SELECT `+observationColumns+`
		FROM observations
		WHERE timestamp >= ? AND timestamp <= ?
		ORDER BY ABS(strftime('%s', substr(timestamp, 1, 19)) - ?)
		LIMIT 1
	`, start, end, target.UTC().Unix())

	obs, err := scanObservation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &obs, nil
}

func (s *SQLite) InsertForecast(ctx context.Context, fc models.Forecast) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO forecasts (created_at, target_date, predicted_temp, confidence, model_version, kind, days_ahead, auto_evaluated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, fc.CreatedAt.UTC(), fc.TargetDate.UTC(), fc.PredictedTemp, fc.Confidence, fc.ModelVersion, fc.Kind, fc.DaysAhead, fc.AutoEvaluated)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const forecastColumns = `id, created_at, target_date, predicted_temp, confidence, model_version, kind, days_ahead, auto_evaluated`

func scanForecast(scanner interface{ Scan(...any) error }) (models.Forecast, error) {
	var fc models.Forecast
	var version sql.NullString
	err := scanner.Scan(&fc.ID, &fc.CreatedAt, &fc.TargetDate, &fc.PredictedTemp, &fc.Confidence,
		&version, &fc.Kind, &fc.DaysAhead, &fc.AutoEvaluated)
	fc.ModelVersion = version.String
	return fc, err
}

func (s *SQLite) GetForecast(ctx context.Context, id int64) (*models.Forecast, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+forecastColumns+` FROM forecasts WHERE id = ?`, id)
	fc, err := scanForecast(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &fc, nil
}

func (s *SQLite) ListPendingForecasts(ctx context.Context, asOf time.Time) ([]models.Forecast, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.id, f.created_at, f.target_date, f.predicted_temp, f.confidence, f.model_version, f.kind, f.days_ahead, f.auto_evaluated
		FROM forecasts f
		LEFT JOIN evaluations e ON e.forecast_id = f.id
		WHERE f.target_date <= ? AND f.auto_evaluated = FALSE AND e.id IS NULL
		ORDER BY f.target_date ASC, f.id ASC
	`, asOf.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var forecasts []models.Forecast
	for rows.Next() {
		fc, err := scanForecast(rows)
		if err != nil {
			return nil, err
		}
		forecasts = append(forecasts, fc)
	}
	return forecasts, rows.Err()
}

func (s *SQLite) MarkAutoEvaluated(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE forecasts SET auto_evaluated = TRUE WHERE id = ?`, id)
	return err
}

func (s *SQLite) ListRecentForecasts(ctx context.Context, limit int) ([]models.ForecastWithEvaluation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.id, f.created_at, f.target_date, f.predicted_temp, f.confidence, f.model_version, f.kind, f.days_ahead, f.auto_evaluated,
		       e.id, e.actual_temp, e.predicted_temp, e.absolute_error, e.percent_error, e.category, e.kind, e.notes, e.evaluated_at
		FROM forecasts f
		LEFT JOIN evaluations e ON e.forecast_id = f.id
		ORDER BY f.created_at DESC, f.id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []models.ForecastWithEvaluation
	for rows.Next() {
		var fc models.Forecast
		var version sql.NullString
		var evID sql.NullInt64
		var actual, predicted, absErr, pctErr sql.NullFloat64
		var category, kind, notes sql.NullString
		var evaluatedAt sql.NullTime

		if err := rows.Scan(&fc.ID, &fc.CreatedAt, &fc.TargetDate, &fc.PredictedTemp, &fc.Confidence,
			&version, &fc.Kind, &fc.DaysAhead, &fc.AutoEvaluated,
			&evID, &actual, &predicted, &absErr, &pctErr, &category, &kind, &notes, &evaluatedAt); err != nil {
			return nil, err
		}
		fc.ModelVersion = version.String

		item := models.ForecastWithEvaluation{Forecast: fc}
		if evID.Valid {
			item.Evaluation = &models.Evaluation{
				ID:            evID.Int64,
				ForecastID:    fc.ID,
				ActualTemp:    actual.Float64,
				PredictedTemp: predicted.Float64,
				AbsoluteError: absErr.Float64,
				PercentError:  pctErr.Float64,
				Category:      models.AccuracyCategory(category.String),
				Kind:          models.EvaluationKind(kind.String),
				Notes:         notes.String,
				EvaluatedAt:   evaluatedAt.Time,
			}
		}
		results = append(results, item)
	}
	return results, rows.Err()
}

func (s *SQLite) ListUnevaluatedForecastsForDay(ctx context.Context, day time.Time) ([]models.Forecast, error) {
	start := day.Add(-24 * time.Hour).UTC()
	end := day.Add(24 * time.Hour).UTC()

	rows, err := s.db.QueryContext(ctx, `
		SELECT f.id, f.created_at, f.target_date, f.predicted_temp, f.confidence, f.model_version, f.kind, f.days_ahead, f.auto_evaluated
		FROM forecasts f
		LEFT JOIN evaluations e ON e.forecast_id = f.id
		WHERE f.target_date >= ? AND f.target_date <= ? AND e.id IS NULL
		ORDER BY f.target_date ASC, f.id ASC
	`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var forecasts []models.Forecast
	for rows.Next() {
		fc, err := scanForecast(rows)
		if err != nil {
			return nil, err
		}
		forecasts = append(forecasts, fc)
	}
	return forecasts, rows.Err()
}

// InsertEvaluation relies on the UNIQUE(forecast_id) constraint so the
// check and the insert are a single atomic statement. A conflicting insert
// affects zero rows and maps to ErrAlreadyEvaluated.
func (s *SQLite) InsertEvaluation(ctx context.Context, ev models.Evaluation) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO evaluations (forecast_id, actual_temp, predicted_temp, absolute_error, percent_error, category, kind, notes, evaluated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(forecast_id) DO NOTHING
	`, ev.ForecastID, ev.ActualTemp, ev.PredictedTemp, ev.AbsoluteError, ev.PercentError, ev.Category, ev.Kind, ev.Notes, ev.EvaluatedAt.UTC())
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if affected == 0 {
		return 0, ErrAlreadyEvaluated
	}
	return res.LastInsertId()
}

func (s *SQLite) GetEvaluationForForecast(ctx context.Context, forecastID int64) (*models.Evaluation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, forecast_id, actual_temp, predicted_temp, absolute_error, percent_error, category, kind, notes, evaluated_at
		FROM evaluations
		WHERE forecast_id = ?
	`, forecastID)

	var ev models.Evaluation
	var notes sql.NullString
	err := row.Scan(&ev.ID, &ev.ForecastID, &ev.ActualTemp, &ev.PredictedTemp, &ev.AbsoluteError,
		&ev.PercentError, &ev.Category, &ev.Kind, &notes, &ev.EvaluatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	ev.Notes = notes.String
	return &ev, nil
}

func (s *SQLite) ListEvaluations(ctx context.Context) ([]models.EvaluationExportRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.forecast_id, e.actual_temp, e.predicted_temp, e.absolute_error, e.percent_error,
		       e.category, e.kind, e.notes, e.evaluated_at, f.target_date, f.created_at
		FROM evaluations e
		JOIN forecasts f ON f.id = e.forecast_id
		ORDER BY e.id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []models.EvaluationExportRow
	for rows.Next() {
		var r models.EvaluationExportRow
		var notes sql.NullString
		if err := rows.Scan(&r.ID, &r.ForecastID, &r.ActualTemp, &r.PredictedTemp, &r.AbsoluteError,
			&r.PercentError, &r.Category, &r.Kind, &notes, &r.EvaluatedAt, &r.TargetDate, &r.ForecastCreatedAt); err != nil {
			return nil, err
		}
		r.Notes = notes.String
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *SQLite) GetAccuracyStats(ctx context.Context) (*models.AccuracyStats, error) {
	stats := &models.AccuracyStats{ByCategory: make(map[models.AccuracyCategory]int)}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(AVG(absolute_error), 0), COALESCE(AVG(percent_error), 0)
		FROM evaluations
	`).Scan(&stats.Evaluated, &stats.MAE, &stats.MeanPercentError)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT category, COUNT(*) FROM evaluations GROUP BY category`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var category models.AccuracyCategory
		var count int
		if err := rows.Scan(&category, &count); err != nil {
			return nil, err
		}
		stats.ByCategory[category] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM forecasts f
		LEFT JOIN evaluations e ON e.forecast_id = f.id
		WHERE e.id IS NULL
	`).Scan(&stats.Pending)
	if err != nil {
		return nil, fmt.Errorf("count pending: %w", err)
	}

	return stats, nil
}
