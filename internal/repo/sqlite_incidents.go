package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/miradorstack/mirador-sentry/internal/models"
)

const incidentColumns = `id, incident_key, service, metric, severity, detected_at, updated_at,
	window_start, window_end, baseline, observed, detector, summary, status`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIncident(row rowScanner) (models.Incident, error) {
	var (
		inc                                           models.Incident
		status                                        string
		detectedAt, updatedAt, windowStart, windowEnd int64
	)
	err := row.Scan(&inc.ID, &inc.Key, &inc.Service, &inc.Metric, &inc.Severity,
		&detectedAt, &updatedAt, &windowStart, &windowEnd,
		&inc.Baseline, &inc.Observed, &inc.Detector, &inc.Summary, &status)
	if err != nil {
		return models.Incident{}, err
	}
	inc.DetectedAt = fromUnix(detectedAt)
	inc.UpdatedAt = fromUnix(updatedAt)
	inc.WindowStart = fromUnix(windowStart)
	inc.WindowEnd = fromUnix(windowEnd)
	inc.Status = models.IncidentStatus(status)
	return inc, nil
}

// FindOpen returns the open incident for key, if any.
func (s *SQLiteStore) FindOpen(ctx context.Context, key string) (models.Incident, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+incidentColumns+` FROM incidents
		WHERE incident_key = ? AND status = ?`, key, string(models.StatusOpen))
	inc, err := scanIncident(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Incident{}, false, nil
	}
	if err != nil {
		return models.Incident{}, false, fmt.Errorf("find open incident: %w", err)
	}
	return inc, true, nil
}

// Insert stores a new incident and returns it with its assigned id.
func (s *SQLiteStore) Insert(ctx context.Context, inc models.Incident) (models.Incident, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO incidents
		(incident_key, service, metric, severity, detected_at, updated_at, window_start, window_end,
		 baseline, observed, detector, summary, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inc.Key, inc.Service, inc.Metric, inc.Severity,
		toUnix(inc.DetectedAt), toUnix(inc.UpdatedAt), toUnix(inc.WindowStart), toUnix(inc.WindowEnd),
		inc.Baseline, inc.Observed, inc.Detector, inc.Summary, string(inc.Status))
	if err != nil {
		return models.Incident{}, fmt.Errorf("insert incident: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.Incident{}, fmt.Errorf("incident id: %w", err)
	}
	inc.ID = id
	return inc, nil
}

// Update writes every mutable column in one statement.
func (s *SQLiteStore) Update(ctx context.Context, inc models.Incident) error {
	res, err := s.db.ExecContext(ctx, `UPDATE incidents SET
		severity = ?, updated_at = ?, window_start = ?, window_end = ?,
		baseline = ?, observed = ?, detector = ?, summary = ?, status = ?
		WHERE id = ?`,
		inc.Severity, toUnix(inc.UpdatedAt), toUnix(inc.WindowStart), toUnix(inc.WindowEnd),
		inc.Baseline, inc.Observed, inc.Detector, inc.Summary, string(inc.Status), inc.ID)
	if err != nil {
		return fmt.Errorf("update incident %d: %w", inc.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update incident %d: no such row", inc.ID)
	}
	return nil
}

// Get looks up an incident by id.
func (s *SQLiteStore) Get(ctx context.Context, id int64) (models.Incident, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE id = ?`, id)
	inc, err := scanIncident(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Incident{}, false, nil
	}
	if err != nil {
		return models.Incident{}, false, fmt.Errorf("get incident %d: %w", id, err)
	}
	return inc, true, nil
}

// ListOpen returns open incidents by severity desc, detected_at desc.
func (s *SQLiteStore) ListOpen(ctx context.Context, limit int) ([]models.Incident, error) {
	return s.listIncidents(ctx, `SELECT `+incidentColumns+` FROM incidents
		WHERE status = ? ORDER BY severity DESC, detected_at DESC, id DESC LIMIT ?`,
		string(models.StatusOpen), sqlLimit(limit))
}

// ListRecent returns incidents of any status by detected_at desc.
func (s *SQLiteStore) ListRecent(ctx context.Context, limit int) ([]models.Incident, error) {
	return s.listIncidents(ctx, `SELECT `+incidentColumns+` FROM incidents
		ORDER BY detected_at DESC, id DESC LIMIT ?`, sqlLimit(limit))
}

func (s *SQLiteStore) listIncidents(ctx context.Context, query string, args ...any) ([]models.Incident, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()
	out := make([]models.Incident, 0)
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}

// TrackedPairs returns every distinct (service, metric) with at least one incident.
func (s *SQLiteStore) TrackedPairs(ctx context.Context) ([]models.ServicePair, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT service, metric FROM incidents ORDER BY service, metric`)
	if err != nil {
		return nil, fmt.Errorf("tracked pairs: %w", err)
	}
	defer rows.Close()
	out := make([]models.ServicePair, 0)
	for rows.Next() {
		var p models.ServicePair
		if err := rows.Scan(&p.Service, &p.Metric); err != nil {
			return nil, fmt.Errorf("scan pair: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
