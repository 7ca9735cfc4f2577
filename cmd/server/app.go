package main

import (
	"database/sql"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/aimms/backend/internal/alerts"
	"github.com/aimms/backend/internal/api"
	"github.com/aimms/backend/internal/config"
	"github.com/aimms/backend/internal/logging"
	"github.com/aimms/backend/internal/receipts"
	"github.com/aimms/backend/internal/repository"
	"github.com/aimms/backend/internal/telemetry"
)

const (
	latencyWindowSize = 500
	outcomeWindowSize = 50
)

// app holds the wired service graph shared by the serve and analyze commands.
type app struct {
	cfg *config.Config
	log *zap.SugaredLogger
	db  *sql.DB

	alertRepo   *repository.AlertRepo
	userRepo    *repository.UserRepo
	budgetRepo  *repository.BudgetRepo
	receiptRepo *repository.ReceiptRepo

	latency  *telemetry.LatencyWindow
	outcomes *telemetry.OutcomeWindow

	hub        *api.Hub
	engine     *alerts.Engine
	scheduler  *alerts.Scheduler
	receiptSvc *receipts.Service
}

func newApp(cfgPath string) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(log.Desugar())

	log.Infow("initializing database", "path", cfg.Database.Path)
	db, err := repository.InitDB(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("init db: %w", err)
	}

	a := &app{
		cfg:         cfg,
		log:         log,
		db:          db,
		alertRepo:   repository.NewAlertRepo(db),
		userRepo:    repository.NewUserRepo(db),
		budgetRepo:  repository.NewBudgetRepo(db),
		receiptRepo: repository.NewReceiptRepo(db),
		latency:     telemetry.NewLatencyWindow(latencyWindowSize),
		outcomes:    telemetry.NewOutcomeWindow(outcomeWindowSize),
		hub:         api.NewHub(log.Named("stream")),
	}

	a.engine = alerts.NewEngine(a.alertRepo, a.heuristics(), log.Named("alerts"),
		alerts.WithHeuristicTimeout(cfg.Alerts.HeuristicTimeout),
		alerts.WithOnCreate(a.hub.BroadcastAlert),
	)
	a.scheduler = alerts.NewScheduler(a.engine, cfg.Alerts.Interval, log.Named("scheduler"))

	policy, err := receipts.ParseMissingUserPolicy(cfg.Receipts.MissingUserPolicy)
	if err != nil {
		db.Close()
		return nil, err
	}
	a.receiptSvc, err = receipts.NewService(
		receipts.NewClient(cfg.ModelService.URL, cfg.ModelService.Timeout),
		a.userRepo, a.receiptRepo, a.outcomes, log.Named("receipts"),
		receipts.Options{
			DefaultUserID: cfg.Receipts.DefaultUserID,
			MissingUser:   policy,
			CacheSize:     cfg.Receipts.CacheSize,
		},
	)
	if err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) heuristics() []alerts.Heuristic {
	ac := a.cfg.Alerts
	if ac.Mode == config.ModeRandom {
		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		return alerts.RandomBattery(rng.Float64)
	}
	return []alerts.Heuristic{
		alerts.NewOverspendHeuristic(a.budgetRepo, a.receiptRepo, time.Now),
		alerts.NewSystemHealthHeuristic(a.latency, ac.LatencyThreshold, ac.MemoryThresholdPct),
		alerts.NewExtractionQualityHeuristic(a.outcomes, ac.ExtractionFailureRatio, ac.ExtractionMinSamples),
	}
}

func (a *app) router() http.Handler {
	return api.NewRouter(api.Deps{
		Alerts:    a.alertRepo,
		Users:     a.userRepo,
		Budgets:   a.budgetRepo,
		Receipts:  a.receiptRepo,
		Scheduler: a.scheduler,
		Ingest:    a.receiptSvc,
		Hub:       a.hub,
		Latency:   a.latency,
		Log:       a.log.Named("api"),
	})
}

func (a *app) close() {
	a.db.Close()
	a.log.Sync()
}
