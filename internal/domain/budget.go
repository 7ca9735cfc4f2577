package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Budget is a monthly spending limit for one user.
type Budget struct {
	ID           string          `json:"id"`
	UserID       int64           `json:"userId"`
	Category     string          `json:"category"`
	MonthlyLimit decimal.Decimal `json:"monthlyLimit"`
	CreatedAt    time.Time       `json:"createdAt"`
}
