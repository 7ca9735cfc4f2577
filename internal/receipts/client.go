// Package receipts forwards uploaded receipt images to the OCR model
// service and persists what it extracts.
package receipts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var ErrExtractionFailed = errors.New("receipt extraction failed")

// maxResponseBytes caps how much of the OCR response is read.
const maxResponseBytes = 4 << 20

// ReceiptData is the OCR service's extraction result.
type ReceiptData struct {
	MerchantName string              `json:"merchant_name"`
	TotalAmount  decimal.NullDecimal `json:"total_amount"`
	Date         string              `json:"date,omitempty"`
	RawText      RawText             `json:"raw_text"`
	TaxAmount    decimal.NullDecimal `json:"tax_amount"`
	BillNumber   string              `json:"bill_number,omitempty"`
	Time         string              `json:"time,omitempty"`
}

// RawText holds the service's raw_text field. A JSON string is kept as is;
// any other value is kept as its JSON text.
type RawText string

func (r *RawText) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*r = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*r = RawText(s)
		return nil
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, b); err != nil {
		return err
	}
	*r = RawText(compact.String())
	return nil
}

// Client calls the OCR model service.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the service at baseURL. timeout bounds
// each extraction call end to end.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Extract uploads data as the multipart part "file" and decodes the result.
func (c *Client) Extract(ctx context.Context, filename string, data []byte) (*ReceiptData, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("write form file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/extract/receipt", &body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrExtractionFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d: %s", ErrExtractionFailed, resp.StatusCode, snippet(raw))
	}

	// The service reports model failures as 200 {"error": "..."}.
	var envelope struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrExtractionFailed, err)
	}
	if envelope.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrExtractionFailed, envelope.Error)
	}

	var out ReceiptData
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: decode receipt: %v", ErrExtractionFailed, err)
	}
	return &out, nil
}

func snippet(b []byte) string {
	const max = 200
	s := strings.TrimSpace(string(b))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
