package alerts

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Scheduler runs the engine's analysis cycle at a fixed rate. Cycles never
// overlap: a tick or trigger arriving while a cycle runs is skipped.
type Scheduler struct {
	engine   *Engine
	interval time.Duration
	log      *zap.SugaredLogger

	running sync.Mutex // held for the duration of a cycle

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	last   *CycleResult
}

// NewScheduler creates a scheduler; it does nothing until Start.
func NewScheduler(engine *Engine, interval time.Duration, log *zap.SugaredLogger) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Scheduler{
		engine:   engine,
		interval: interval,
		log:      log,
	}
}

// Start begins the analysis loop. The first cycle runs immediately.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	s.log.Infow("alert scheduler started", "interval", s.interval)
	go s.loop(ctx, done)
}

// Stop halts the loop and waits for an in-flight cycle to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.log.Info("alert scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Trigger(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Trigger(ctx)
		}
	}
}

// Trigger runs one cycle now unless one is already running. ran reports
// whether this call executed the cycle.
func (s *Scheduler) Trigger(ctx context.Context) (res CycleResult, ran bool) {
	if !s.running.TryLock() {
		s.log.Warn("analysis cycle still running, skipping")
		return CycleResult{}, false
	}
	defer s.running.Unlock()

	res = s.engine.RunCycle(ctx)

	s.mu.Lock()
	s.last = &res
	s.mu.Unlock()
	return res, true
}

// LastResult returns the most recent completed cycle, if any.
func (s *Scheduler) LastResult() (CycleResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return CycleResult{}, false
	}
	return *s.last, true
}
