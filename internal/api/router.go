package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/aimms/backend/internal/alerts"
	"github.com/aimms/backend/internal/receipts"
	"github.com/aimms/backend/internal/repository"
)

// LatencyRecorder receives the duration of every served request.
type LatencyRecorder interface {
	Record(d time.Duration)
}

// Deps are the services the router exposes.
type Deps struct {
	Alerts    *repository.AlertRepo
	Users     *repository.UserRepo
	Budgets   *repository.BudgetRepo
	Receipts  *repository.ReceiptRepo
	Scheduler *alerts.Scheduler
	Ingest    *receipts.Service
	Hub       *Hub
	Latency   LatencyRecorder
	Log       *zap.SugaredLogger
}

// NewRouter creates the Chi router with all API routes mounted.
func NewRouter(d Deps) http.Handler {
	if d.Log == nil {
		d.Log = zap.NewNop().Sugar()
	}
	h := &Handlers{
		alertRepo:   d.Alerts,
		userRepo:    d.Users,
		budgetRepo:  d.Budgets,
		receiptRepo: d.Receipts,
		scheduler:   d.Scheduler,
		receiptSvc:  d.Ingest,
		hub:         d.Hub,
		log:         d.Log,
	}

	r := chi.NewRouter()

	// Middleware.
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.SetHeader("Content-Type", "application/json"))

	r.Route("/api", func(r chi.Router) {
		// Long-lived, kept out of the latency window.
		r.Get("/alerts/stream", h.hub.HandleWS)

		r.Group(func(r chi.Router) {
			if d.Latency != nil {
				r.Use(recordLatency(d.Latency))
			}

			// Receipt OCR.
			r.Post("/ocr/upload", h.UploadReceipt)
			r.Get("/receipts", h.ListReceipts)

			// Alerts.
			r.Get("/alerts", h.ListAlerts)
			r.Get("/alerts/active", h.ListActiveAlerts)
			r.Post("/alerts/analyze", h.TriggerAnalysis)
			r.Get("/alerts/{id}", h.GetAlert)
			r.Put("/alerts/{id}/resolve", h.ResolveAlert)

			// Users.
			r.Post("/users", h.CreateUser)
			r.Get("/users", h.ListUsers)
			r.Get("/users/next-id", h.NextUserID)

			// Budgets.
			r.Post("/budgets", h.CreateBudget)
			r.Get("/budgets", h.ListBudgets)

			// Dashboard.
			r.Get("/dashboard", h.GetDashboard)
		})
	})

	return r
}

func recordLatency(rec LatencyRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			rec.Record(time.Since(start))
		})
	}
}
