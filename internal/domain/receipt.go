package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Receipt struct {
	ID            string              `json:"id"`
	UserID        int64               `json:"userId"`
	Merchant      string              `json:"merchant"`
	TotalAmount   decimal.NullDecimal `json:"totalAmount"`
	ReceiptDate   *time.Time          `json:"receiptDate,omitempty"`
	ExtractedText string              `json:"extractedText"`
	OCRConfidence float64             `json:"ocrConfidence"`
	Processed     bool                `json:"processed"`
	FileHash      string              `json:"fileHash"`
	CreatedAt     time.Time           `json:"createdAt"`
}
