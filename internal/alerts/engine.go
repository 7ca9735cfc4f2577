// Package alerts runs the recurring analysis cycle: a fixed battery of
// independent heuristics whose detections become persisted alerts, with at
// most one ACTIVE alert per message.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aimms/backend/internal/domain"
	"github.com/aimms/backend/internal/repository"
)

// Candidate is the content of an alert a heuristic wants raised.
type Candidate struct {
	Type        domain.AlertType
	Severity    domain.Severity
	Message     string
	Explanation string
	Confidence  int
}

// Heuristic is one detection routine. Evaluate returns nil, nil when it
// does not fire.
type Heuristic interface {
	Name() string
	Evaluate(ctx context.Context) (*Candidate, error)
}

// Store is the alert persistence the engine needs.
type Store interface {
	Save(ctx context.Context, a *domain.Alert) (*domain.Alert, error)
	FindByStatus(ctx context.Context, status domain.AlertStatus) ([]domain.Alert, error)
}

// CycleResult summarises one analysis cycle.
type CycleResult struct {
	Evaluated  int            `json:"evaluated"`
	Fired      int            `json:"fired"`
	Created    int            `json:"created"`
	Suppressed int            `json:"suppressed"`
	Failed     int            `json:"failed"`
	Alerts     []domain.Alert `json:"alerts"`
}

// Engine evaluates heuristics and turns detections into alerts.
type Engine struct {
	store      Store
	heuristics []Heuristic
	log        *zap.SugaredLogger
	timeout    time.Duration
	now        func() time.Time
	onCreate   func(domain.Alert)

	// mu makes read-active/compare/insert one critical section per engine.
	mu sync.Mutex
}

type Option func(*Engine)

// WithHeuristicTimeout caps each heuristic's evaluation. Zero disables the cap.
func WithHeuristicTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// WithClock overrides the time source used for alert timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithOnCreate registers a callback invoked with every newly stored alert.
func WithOnCreate(fn func(domain.Alert)) Option {
	return func(e *Engine) { e.onCreate = fn }
}

// NewEngine creates an engine over the given store and heuristic battery.
func NewEngine(store Store, heuristics []Heuristic, log *zap.SugaredLogger, opts ...Option) *Engine {
	e := &Engine{
		store:      store,
		heuristics: heuristics,
		log:        log,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunCycle evaluates every heuristic once. A failing heuristic or a failed
// insert is logged and counted; the remaining heuristics still run.
func (e *Engine) RunCycle(ctx context.Context) CycleResult {
	e.log.Infow("starting analysis cycle", "heuristics", len(e.heuristics))

	res := CycleResult{Alerts: []domain.Alert{}}
	for _, h := range e.heuristics {
		res.Evaluated++

		cand, err := e.evaluate(ctx, h)
		if err != nil {
			res.Failed++
			e.log.Warnw("heuristic failed", "heuristic", h.Name(), "error", err)
			continue
		}
		if cand == nil {
			continue
		}
		res.Fired++

		alert, created, err := e.CreateAlert(ctx, *cand)
		if err != nil {
			res.Failed++
			e.log.Errorw("create alert failed", "heuristic", h.Name(), "message", cand.Message, "error", err)
			continue
		}
		if !created {
			res.Suppressed++
			continue
		}
		res.Created++
		res.Alerts = append(res.Alerts, *alert)
	}

	e.log.Infow("analysis cycle finished",
		"evaluated", res.Evaluated, "fired", res.Fired, "created", res.Created,
		"suppressed", res.Suppressed, "failed", res.Failed)
	return res
}

func (e *Engine) evaluate(ctx context.Context, h Heuristic) (*Candidate, error) {
	hctx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	type result struct {
		cand *Candidate
		err  error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		c, err := h.Evaluate(hctx)
		done <- result{cand: c, err: err}
	}()

	select {
	case r := <-done:
		return r.cand, r.err
	case <-hctx.Done():
		return nil, fmt.Errorf("evaluate %s: %w", h.Name(), hctx.Err())
	}
}

// CreateAlert stores c as a new ACTIVE alert unless an ACTIVE alert with the
// same message exists, in which case it returns created=false and no error.
func (e *Engine) CreateAlert(ctx context.Context, c Candidate) (*domain.Alert, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	active, err := e.store.FindByStatus(ctx, domain.AlertStatusActive)
	if err != nil {
		return nil, false, fmt.Errorf("find active alerts: %w", err)
	}
	for _, a := range active {
		if a.Message == c.Message {
			e.log.Debugw("duplicate alert suppressed", "message", c.Message, "existing_id", a.ID)
			return nil, false, nil
		}
	}

	alert := &domain.Alert{
		Type:            c.Type,
		Severity:        c.Severity,
		Status:          domain.AlertStatusActive,
		Message:         c.Message,
		Explanation:     c.Explanation,
		ConfidenceScore: clampConfidence(c.Confidence),
		Timestamp:       e.now(),
	}

	saved, err := e.store.Save(ctx, alert)
	if errors.Is(err, repository.ErrDuplicateActiveAlert) {
		// Another writer won the race; the storage index kept the invariant.
		e.log.Debugw("duplicate alert rejected by store", "message", c.Message)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("save alert: %w", err)
	}

	e.log.Infow("new alert generated",
		"id", saved.ID, "type", saved.Type, "severity", saved.Severity, "message", saved.Message)
	if e.onCreate != nil {
		e.onCreate(*saved)
	}
	return saved, true, nil
}

func clampConfidence(c int) int {
	switch {
	case c < 0:
		return 0
	case c > 100:
		return 100
	default:
		return c
	}
}
