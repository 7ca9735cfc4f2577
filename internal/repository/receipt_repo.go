package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aimms/backend/internal/domain"
)

type ReceiptRepo struct {
	db *sql.DB
}

func NewReceiptRepo(db *sql.DB) *ReceiptRepo {
	return &ReceiptRepo{db: db}
}

func (r *ReceiptRepo) Insert(ctx context.Context, rc *domain.Receipt) error {
	var total any
	if rc.TotalAmount.Valid {
		total = rc.TotalAmount.Decimal.String()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO receipts
		(id, user_id, merchant, total_amount, receipt_date, extracted_text,
		 ocr_confidence, processed, file_hash, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		rc.ID, rc.UserID, rc.Merchant, total, formatNullableTime(rc.ReceiptDate),
		rc.ExtractedText, rc.OCRConfidence, rc.Processed, rc.FileHash,
		formatTime(rc.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert receipt: %w", err)
	}
	return nil
}

// ListByUser returns receipts for a user, newest first. userID 0 lists all.
func (r *ReceiptRepo) ListByUser(ctx context.Context, userID int64) ([]domain.Receipt, error) {
	q := "SELECT * FROM receipts"
	var args []any
	if userID > 0 {
		q += " WHERE user_id = ?"
		args = append(args, userID)
	}
	q += " ORDER BY created_at DESC"

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	receipts := []domain.Receipt{}
	for rows.Next() {
		rc, err := scanReceipt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		receipts = append(receipts, *rc)
	}
	return receipts, rows.Err()
}

// FindByHash returns the earliest receipt stored for an upload with the given
// sha256, or ErrNotFound.
func (r *ReceiptRepo) FindByHash(ctx context.Context, hash string) (*domain.Receipt, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT * FROM receipts WHERE file_hash = ? ORDER BY created_at LIMIT 1", hash)
	rc, err := scanReceipt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find receipt by hash: %w", err)
	}
	return rc, nil
}

// SpendByUser sums receipt totals per user for receipts dated in [from, to).
// Receipts without a parsed date count at their creation time.
func (r *ReceiptRepo) SpendByUser(ctx context.Context, from, to time.Time) (map[int64]decimal.Decimal, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id, total_amount FROM receipts
		WHERE total_amount IS NOT NULL
		  AND COALESCE(receipt_date, created_at) >= ?
		  AND COALESCE(receipt_date, created_at) < ?`,
		formatTime(from), formatTime(to),
	)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	spend := make(map[int64]decimal.Decimal)
	for rows.Next() {
		var userID int64
		var amount string
		if err := rows.Scan(&userID, &amount); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		d, err := decimal.NewFromString(amount)
		if err != nil {
			continue
		}
		spend[userID] = spend[userID].Add(d)
	}
	return spend, rows.Err()
}

// --- helpers ---

func formatNullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func scanReceipt(row rowScanner) (*domain.Receipt, error) {
	var rc domain.Receipt
	var totalNull, dateNull sql.NullString
	var createdAt string

	err := row.Scan(
		&rc.ID, &rc.UserID, &rc.Merchant, &totalNull, &dateNull, &rc.ExtractedText,
		&rc.OCRConfidence, &rc.Processed, &rc.FileHash, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	if totalNull.Valid {
		if d, err := decimal.NewFromString(totalNull.String); err == nil {
			rc.TotalAmount = decimal.NewNullDecimal(d)
		}
	}
	if dateNull.Valid {
		t := parseTime(dateNull.String)
		rc.ReceiptDate = &t
	}
	rc.CreatedAt = parseTime(createdAt)
	return &rc, nil
}
