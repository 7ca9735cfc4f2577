package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/aimms/backend/internal/domain"
)

type BudgetRepo struct {
	db *sql.DB
}

func NewBudgetRepo(db *sql.DB) *BudgetRepo {
	return &BudgetRepo{db: db}
}

func (r *BudgetRepo) Insert(ctx context.Context, b *domain.Budget) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO budgets (id, user_id, category, monthly_limit, created_at)
		VALUES (?,?,?,?,?)`,
		b.ID, b.UserID, b.Category, b.MonthlyLimit.String(), formatTime(b.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert budget: %w", err)
	}
	return nil
}

// List returns budgets for a user; userID 0 lists all.
func (r *BudgetRepo) List(ctx context.Context, userID int64) ([]domain.Budget, error) {
	q := "SELECT * FROM budgets"
	var args []any
	if userID > 0 {
		q += " WHERE user_id = ?"
		args = append(args, userID)
	}
	q += " ORDER BY user_id, category"

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	budgets := []domain.Budget{}
	for rows.Next() {
		var b domain.Budget
		var limit, createdAt string
		if err := rows.Scan(&b.ID, &b.UserID, &b.Category, &limit, &createdAt); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		b.MonthlyLimit, err = decimal.NewFromString(limit)
		if err != nil {
			return nil, fmt.Errorf("budget %s limit: %w", b.ID, err)
		}
		b.CreatedAt = parseTime(createdAt)
		budgets = append(budgets, b)
	}
	return budgets, rows.Err()
}
