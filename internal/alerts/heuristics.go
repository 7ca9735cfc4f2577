package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shopspring/decimal"

	"github.com/aimms/backend/internal/domain"
)

// Catalog messages. Messages are dedup keys, so they stay fixed per condition.
const (
	MsgLatencySpike      = "Unusual API Latency Pattern"
	MsgMemoryPressure    = "Host Memory Pressure Detected"
	MsgModelConfidence   = "Categorization Model Confidence Drop"
	MsgExtractionQuality = "Receipt Extraction Quality Drop"
	overspendMsgFormat   = "Projected Overspending Detected for %d Users"
)

const (
	overspendConfidence  = 89
	latencyConfidence    = 92
	memoryConfidence     = 80
	extractionConfidence = 76

	defaultLatencySamples = 20
)

// RandomHeuristic fires when a random draw exceeds Threshold. It reproduces
// the placeholder behavior used before real signals were wired in.
type RandomHeuristic struct {
	name      string
	threshold float64
	candidate Candidate
	draw      func() float64
}

func NewRandomHeuristic(name string, threshold float64, c Candidate, draw func() float64) *RandomHeuristic {
	return &RandomHeuristic{name: name, threshold: threshold, candidate: c, draw: draw}
}

func (h *RandomHeuristic) Name() string { return h.name }

func (h *RandomHeuristic) Evaluate(ctx context.Context) (*Candidate, error) {
	if h.draw() > h.threshold {
		c := h.candidate
		return &c, nil
	}
	return nil, nil
}

// RandomBattery returns the financial, system and model placeholders with
// their reference firing rates (30%, 15%, 5% per cycle).
func RandomBattery(draw func() float64) []Heuristic {
	return []Heuristic{
		NewRandomHeuristic("financial-risk", 0.7, Candidate{
			Type:     domain.AlertTypeFinancial,
			Severity: domain.SeverityHigh,
			Message:  fmt.Sprintf(overspendMsgFormat, 12),
			Explanation: "AI analysis of spending velocity indicates that 12 users are on track to exceed " +
				"their 'Food & Dining' budgets by Day 25. Recommended action: Send cautionary push notification.",
			Confidence: overspendConfidence,
		}, draw),
		NewRandomHeuristic("system-health", 0.85, Candidate{
			Type:     domain.AlertTypeSystem,
			Severity: domain.SeverityMedium,
			Message:  MsgLatencySpike,
			Explanation: "Anomaly detection algorithms noticed a 45% increase in response time for " +
				"/transactions/create endpoint between 02:00 and 02:15 UTC.",
			Confidence: latencyConfidence,
		}, draw),
		NewRandomHeuristic("model-performance", 0.95, Candidate{
			Type:     domain.AlertTypeModel,
			Severity: domain.SeverityLow,
			Message:  MsgModelConfidence,
			Explanation: "The transaction categorization model's average confidence score has dropped " +
				"from 94% to 87% over the last 24 hours. Retraining may be required.",
			Confidence: extractionConfidence,
		}, draw),
	}
}

// --- financial risk ---

type BudgetLister interface {
	List(ctx context.Context, userID int64) ([]domain.Budget, error)
}

type SpendReader interface {
	SpendByUser(ctx context.Context, from, to time.Time) (map[int64]decimal.Decimal, error)
}

// OverspendHeuristic projects each user's month-end spend from the burn rate
// so far and fires when any user is on track to exceed their budgets.
type OverspendHeuristic struct {
	budgets BudgetLister
	spend   SpendReader
	now     func() time.Time
}

func NewOverspendHeuristic(budgets BudgetLister, spend SpendReader, now func() time.Time) *OverspendHeuristic {
	if now == nil {
		now = time.Now
	}
	return &OverspendHeuristic{budgets: budgets, spend: spend, now: now}
}

func (h *OverspendHeuristic) Name() string { return "financial-risk" }

func (h *OverspendHeuristic) Evaluate(ctx context.Context) (*Candidate, error) {
	budgets, err := h.budgets.List(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}
	if len(budgets) == 0 {
		return nil, nil
	}

	limits := make(map[int64]decimal.Decimal)
	for _, b := range budgets {
		limits[b.UserID] = limits[b.UserID].Add(b.MonthlyLimit)
	}

	now := h.now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	monthEnd := monthStart.AddDate(0, 1, 0)
	daysInMonth := decimal.NewFromInt(int64(monthEnd.AddDate(0, 0, -1).Day()))
	daysElapsed := decimal.NewFromInt(int64(now.Day()))

	spend, err := h.spend.SpendByUser(ctx, monthStart, monthEnd)
	if err != nil {
		return nil, fmt.Errorf("read spend: %w", err)
	}

	atRisk := 0
	worst := decimal.Zero
	for userID, limit := range limits {
		spent, ok := spend[userID]
		if !ok || !limit.IsPositive() {
			continue
		}
		projected := spent.Mul(daysInMonth).Div(daysElapsed)
		if projected.GreaterThan(limit) {
			atRisk++
			if over := projected.Sub(limit); over.GreaterThan(worst) {
				worst = over
			}
		}
	}
	if atRisk == 0 {
		return nil, nil
	}

	return &Candidate{
		Type:     domain.AlertTypeFinancial,
		Severity: domain.SeverityHigh,
		Message:  fmt.Sprintf(overspendMsgFormat, atRisk),
		Explanation: fmt.Sprintf(
			"Spending velocity on day %s of %s indicates that %d users are on track to exceed their "+
				"monthly budgets (largest projected overrun: %s). Recommended action: Send cautionary push notification.",
			daysElapsed, daysInMonth, atRisk, worst.StringFixed(2)),
		Confidence: overspendConfidence,
	}, nil
}

// --- system health ---

type LatencySource interface {
	Len() int
	Percentile(p float64) time.Duration
}

// SystemHealthHeuristic watches request latency and host memory.
type SystemHealthHeuristic struct {
	latency          LatencySource
	latencyThreshold time.Duration
	minSamples       int
	memThresholdPct  float64
	memUsedPct       func(ctx context.Context) (float64, error)
}

// NewSystemHealthHeuristic builds the heuristic. memThresholdPct <= 0
// disables the host memory check.
func NewSystemHealthHeuristic(latency LatencySource, latencyThreshold time.Duration, memThresholdPct float64) *SystemHealthHeuristic {
	return &SystemHealthHeuristic{
		latency:          latency,
		latencyThreshold: latencyThreshold,
		minSamples:       defaultLatencySamples,
		memThresholdPct:  memThresholdPct,
		memUsedPct:       hostMemoryUsedPct,
	}
}

func hostMemoryUsedPct(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

func (h *SystemHealthHeuristic) Name() string { return "system-health" }

func (h *SystemHealthHeuristic) Evaluate(ctx context.Context) (*Candidate, error) {
	if h.latency != nil && h.latency.Len() >= h.minSamples {
		p95 := h.latency.Percentile(95)
		if p95 > h.latencyThreshold {
			return &Candidate{
				Type:     domain.AlertTypeSystem,
				Severity: domain.SeverityMedium,
				Message:  MsgLatencySpike,
				Explanation: fmt.Sprintf(
					"p95 response time over the last %d requests is %s, above the %s threshold.",
					h.latency.Len(), p95.Round(time.Millisecond), h.latencyThreshold),
				Confidence: latencyConfidence,
			}, nil
		}
	}

	if h.memThresholdPct <= 0 {
		return nil, nil
	}
	used, err := h.memUsedPct(ctx)
	if err != nil {
		return nil, fmt.Errorf("read host memory: %w", err)
	}
	if used <= h.memThresholdPct {
		return nil, nil
	}
	return &Candidate{
		Type:     domain.AlertTypeSystem,
		Severity: domain.SeverityMedium,
		Message:  MsgMemoryPressure,
		Explanation: fmt.Sprintf(
			"Host memory usage is %.1f%%, above the %.0f%% threshold. Request latency may degrade.",
			used, h.memThresholdPct),
		Confidence: memoryConfidence,
	}, nil
}

// --- model performance ---

type OutcomeSource interface {
	FailureRatio() (float64, int)
}

// ExtractionQualityHeuristic fires when too many recent extraction calls failed.
type ExtractionQualityHeuristic struct {
	outcomes   OutcomeSource
	maxRatio   float64
	minSamples int
}

func NewExtractionQualityHeuristic(outcomes OutcomeSource, maxRatio float64, minSamples int) *ExtractionQualityHeuristic {
	return &ExtractionQualityHeuristic{outcomes: outcomes, maxRatio: maxRatio, minSamples: minSamples}
}

func (h *ExtractionQualityHeuristic) Name() string { return "model-performance" }

func (h *ExtractionQualityHeuristic) Evaluate(ctx context.Context) (*Candidate, error) {
	ratio, n := h.outcomes.FailureRatio()
	if n < h.minSamples || ratio <= h.maxRatio {
		return nil, nil
	}
	return &Candidate{
		Type:     domain.AlertTypeModel,
		Severity: domain.SeverityLow,
		Message:  MsgExtractionQuality,
		Explanation: fmt.Sprintf(
			"%.0f%% of the last %d receipt extractions failed. The OCR model service may need attention or retraining.",
			ratio*100, n),
		Confidence: extractionConfidence,
	}, nil
}
