// Package evalcsv maps the evaluation ledger to and from flat CSV rows.
package evalcsv

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/weathervane/weathervane/internal/eval"
	"github.com/weathervane/weathervane/internal/models"
)

// Export column order is stable; importers and spreadsheets rely on it.
var exportHeader = []string{
	"prediction_id", "target_date", "predicted_temp", "actual_temp",
	"absolute_error", "percent_error", "category", "kind", "notes",
	"evaluated_at", "forecast_created_at",
}

// Export writes one CSV row per evaluation, joined with its forecast dates.
func Export(w io.Writer, rows []models.EvaluationExportRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for _, r := range rows {
		record := []string{
			strconv.FormatInt(r.ForecastID, 10),
			r.TargetDate.UTC().Format(time.RFC3339),
			strconv.FormatFloat(r.PredictedTemp, 'f', 2, 64),
			strconv.FormatFloat(r.ActualTemp, 'f', 2, 64),
			strconv.FormatFloat(r.AbsoluteError, 'f', 2, 64),
			strconv.FormatFloat(r.PercentError, 'f', 2, 64),
			string(r.Category),
			string(r.Kind),
			r.Notes,
			r.EvaluatedAt.UTC().Format(time.RFC3339),
			r.ForecastCreatedAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// Import parses CSV rows and applies them through the evaluator's bulk
// path. The header must name prediction_id and actual_temp; kind and notes
// are optional. Malformed rows are skipped and counted, matching the
// evaluator's row-failure policy; only an unparseable stream is fatal.
func Import(ctx context.Context, ev *eval.Evaluator, r io.Reader) (*eval.ImportSummary, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[name] = i
	}
	idCol, ok := cols["prediction_id"]
	if !ok {
		return nil, fmt.Errorf("missing required column prediction_id")
	}
	actualCol, ok := cols["actual_temp"]
	if !ok {
		return nil, fmt.Errorf("missing required column actual_temp")
	}
	kindCol, hasKind := cols["kind"]
	notesCol, hasNotes := cols["notes"]

	var rows []eval.ImportRow
	var parseFailures []string
	line := 1
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", line+1, err)
		}
		line++

		field := func(i int) string {
			if i < len(record) {
				return record[i]
			}
			return ""
		}

		id, err := strconv.ParseInt(field(idCol), 10, 64)
		if err != nil {
			parseFailures = append(parseFailures, fmt.Sprintf("row %d: bad prediction_id %q", line, field(idCol)))
			continue
		}
		actual, err := strconv.ParseFloat(field(actualCol), 64)
		if err != nil {
			parseFailures = append(parseFailures, fmt.Sprintf("row %d: bad actual_temp %q", line, field(actualCol)))
			continue
		}

		row := eval.ImportRow{ForecastID: id, ActualTemp: actual}
		if hasKind {
			row.Kind = models.EvaluationKind(field(kindCol))
		}
		if hasNotes {
			row.Notes = field(notesCol)
		}
		rows = append(rows, row)
	}

	summary, err := ev.ImportRows(ctx, rows)
	if err != nil {
		return nil, err
	}

	summary.Skipped += len(parseFailures)
	for _, msg := range parseFailures {
		if len(summary.Errors) >= eval.MaxReportedErrors {
			break
		}
		summary.Errors = append(summary.Errors, msg)
	}
	return summary, nil
}
