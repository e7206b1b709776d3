package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/miradorstack/mirador-sentry/internal/models"
	"github.com/miradorstack/mirador-sentry/internal/utils"
)

// InsertMetrics stores a batch of samples in one transaction.
func (s *SQLiteStore) InsertMetrics(ctx context.Context, points []models.MetricPoint) error {
	if len(points) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO metrics (service, metric, ts, value) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range points {
		if _, err := stmt.ExecContext(ctx, p.Service, p.Metric, toUnix(p.Timestamp), p.Value); err != nil {
			return fmt.Errorf("insert metric %s:%s: %w", p.Service, p.Metric, err)
		}
	}
	return tx.Commit()
}

// InsertLogs stores a batch of log entries in one transaction.
func (s *SQLiteStore) InsertLogs(ctx context.Context, entries []models.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO logs (service, level, ts, request_id, message, latency_ms, context)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		var ctxJSON sql.NullString
		if len(e.Context) > 0 {
			data, err := json.Marshal(e.Context)
			if err != nil {
				return fmt.Errorf("encode log context: %w", err)
			}
			ctxJSON = sql.NullString{String: string(data), Valid: true}
		}
		var latency sql.NullFloat64
		if e.LatencyMs != nil {
			latency = sql.NullFloat64{Float64: *e.LatencyMs, Valid: true}
		}
		var requestID sql.NullString
		if e.RequestID != "" {
			requestID = sql.NullString{String: e.RequestID, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, e.Service, e.Level, toUnix(e.Timestamp), requestID, e.Message, latency, ctxJSON); err != nil {
			return fmt.Errorf("insert log for %s: %w", e.Service, err)
		}
	}
	return tx.Commit()
}

// SeriesFor returns the newest limit points of a series, oldest first.
func (s *SQLiteStore) SeriesFor(ctx context.Context, service, metric string, limit int) ([]models.MetricPoint, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT ts, value FROM metrics
		WHERE service = ? AND metric = ?
		ORDER BY ts DESC, id DESC LIMIT ?`, service, metric, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query series: %w", err)
	}
	points, err := scanPoints(rows, service, metric)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(points)-1; i < j; i, j = i+1, j-1 {
		points[i], points[j] = points[j], points[i]
	}
	return points, nil
}

// MetricWindow returns points inside the padded window, oldest first.
func (s *SQLiteStore) MetricWindow(ctx context.Context, service, metric string, start, end time.Time, padding time.Duration, limit int) ([]models.MetricPoint, error) {
	from, to := utils.PaddedWindow(start, end, padding)
	rows, err := s.db.QueryContext(ctx, `SELECT ts, value FROM metrics
		WHERE service = ? AND metric = ? AND ts BETWEEN ? AND ?
		ORDER BY ts ASC, id ASC LIMIT ?`, service, metric, toUnix(from), toUnix(to), sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query metric window: %w", err)
	}
	return scanPoints(rows, service, metric)
}

func scanPoints(rows *sql.Rows, service, metric string) ([]models.MetricPoint, error) {
	defer rows.Close()
	points := make([]models.MetricPoint, 0)
	for rows.Next() {
		var ts int64
		var value float64
		if err := rows.Scan(&ts, &value); err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		points = append(points, models.MetricPoint{Service: service, Metric: metric, Timestamp: fromUnix(ts), Value: value})
	}
	return points, rows.Err()
}

// DistinctServices lists services with at least one metric sample.
func (s *SQLiteStore) DistinctServices(ctx context.Context) ([]string, error) {
	return s.queryStrings(ctx, `SELECT DISTINCT service FROM metrics ORDER BY service`)
}

// DistinctMetrics lists metric names recorded for service.
func (s *SQLiteStore) DistinctMetrics(ctx context.Context, service string) ([]string, error) {
	return s.queryStrings(ctx, `SELECT DISTINCT metric FROM metrics WHERE service = ? ORDER BY metric`, service)
}

func (s *SQLiteStore) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query catalog: %w", err)
	}
	defer rows.Close()
	out := make([]string, 0)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan catalog: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// LogWindow returns log entries inside the padded window, oldest first.
func (s *SQLiteStore) LogWindow(ctx context.Context, service string, start, end time.Time, padding time.Duration, limit int) ([]models.LogEntry, error) {
	from, to := utils.PaddedWindow(start, end, padding)
	rows, err := s.db.QueryContext(ctx, `SELECT service, level, ts, request_id, message, latency_ms, context FROM logs
		WHERE service = ? AND ts BETWEEN ? AND ?
		ORDER BY ts ASC, id ASC LIMIT ?`, service, toUnix(from), toUnix(to), sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query log window: %w", err)
	}
	defer rows.Close()

	entries := make([]models.LogEntry, 0)
	for rows.Next() {
		var (
			e         models.LogEntry
			ts        int64
			requestID sql.NullString
			latency   sql.NullFloat64
			ctxJSON   sql.NullString
		)
		if err := rows.Scan(&e.Service, &e.Level, &ts, &requestID, &e.Message, &latency, &ctxJSON); err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		e.Timestamp = fromUnix(ts)
		e.RequestID = requestID.String
		if latency.Valid {
			v := latency.Float64
			e.LatencyMs = &v
		}
		if ctxJSON.Valid && ctxJSON.String != "" {
			// a malformed context is kept as raw text so keyword matching still sees it
			if err := json.Unmarshal([]byte(ctxJSON.String), &e.Context); err != nil {
				e.Context = map[string]any{"raw": ctxJSON.String}
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
