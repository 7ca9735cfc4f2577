package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/aimms/backend/internal/domain"
)

type AlertRepo struct {
	db *sql.DB
}

func NewAlertRepo(db *sql.DB) *AlertRepo {
	return &AlertRepo{db: db}
}

// Save inserts a new alert and returns it with its assigned ID. A second
// ACTIVE alert with the same message is rejected with ErrDuplicateActiveAlert.
func (r *AlertRepo) Save(ctx context.Context, a *domain.Alert) (*domain.Alert, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO alerts
		(type, severity, status, message, explanation, confidence_score, timestamp)
		VALUES (?,?,?,?,?,?,?)`,
		string(a.Type), string(a.Severity), string(a.Status), a.Message,
		a.Explanation, a.ConfidenceScore, formatTime(a.Timestamp),
	)
	if err != nil {
		if violates(err, "alerts.message") {
			return nil, ErrDuplicateActiveAlert
		}
		return nil, fmt.Errorf("insert alert: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	saved := *a
	saved.ID = id
	return &saved, nil
}

// FindByStatus returns alerts in the given status, newest first.
func (r *AlertRepo) FindByStatus(ctx context.Context, status domain.AlertStatus) ([]domain.Alert, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT * FROM alerts WHERE status = ? ORDER BY timestamp DESC, id DESC", string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	alerts := []domain.Alert{}
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		alerts = append(alerts, *a)
	}
	return alerts, rows.Err()
}

func (r *AlertRepo) GetByID(ctx context.Context, id int64) (*domain.Alert, error) {
	row := r.db.QueryRowContext(ctx, "SELECT * FROM alerts WHERE id = ?", id)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

// Resolve moves an ACTIVE alert to RESOLVED. Resolving an already resolved
// alert is a no-op that returns the stored alert.
func (r *AlertRepo) Resolve(ctx context.Context, id int64) (*domain.Alert, error) {
	_, err := r.db.ExecContext(ctx,
		"UPDATE alerts SET status = ? WHERE id = ? AND status = ?",
		string(domain.AlertStatusResolved), id, string(domain.AlertStatusActive),
	)
	if err != nil {
		return nil, fmt.Errorf("resolve alert: %w", err)
	}
	return r.GetByID(ctx, id)
}

// CountByStatus returns the number of alerts per status.
func (r *AlertRepo) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM alerts GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	m := make(map[string]int)
	for rows.Next() {
		var k string
		var v int
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		m[k] = v
	}
	return m, rows.Err()
}

// --- helpers ---

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (*domain.Alert, error) {
	var a domain.Alert
	var typ, sev, status, ts string

	err := row.Scan(
		&a.ID, &typ, &sev, &status, &a.Message, &a.Explanation,
		&a.ConfidenceScore, &ts,
	)
	if err != nil {
		return nil, err
	}

	a.Type = domain.AlertType(typ)
	a.Severity = domain.Severity(sev)
	a.Status = domain.AlertStatus(status)
	a.Timestamp = parseTime(ts)
	return &a, nil
}
