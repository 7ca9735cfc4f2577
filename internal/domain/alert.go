package domain

import "time"

type AlertType string

const (
	AlertTypeFinancial AlertType = "FINANCIAL"
	AlertTypeSystem    AlertType = "SYSTEM"
	AlertTypeModel     AlertType = "MODEL"
)

type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

type AlertStatus string

const (
	AlertStatusActive   AlertStatus = "ACTIVE"
	AlertStatusResolved AlertStatus = "RESOLVED"
)

// ParseAlertStatus maps a query value to a known status.
func ParseAlertStatus(s string) (AlertStatus, bool) {
	switch AlertStatus(s) {
	case AlertStatusActive, AlertStatusResolved:
		return AlertStatus(s), true
	}
	return "", false
}

// Alert is a detection raised by the alert engine. Message is the
// deduplication key among ACTIVE alerts.
type Alert struct {
	ID              int64       `json:"id"`
	Type            AlertType   `json:"type"`
	Severity        Severity    `json:"severity"`
	Status          AlertStatus `json:"status"`
	Message         string      `json:"message"`
	Explanation     string      `json:"aiExplanation"`
	ConfidenceScore int         `json:"confidenceScore"`
	Timestamp       time.Time   `json:"timestamp"`
}
