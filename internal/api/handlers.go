package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/aimms/backend/internal/alerts"
	"github.com/aimms/backend/internal/domain"
	"github.com/aimms/backend/internal/receipts"
	"github.com/aimms/backend/internal/repository"
)

// maxUploadBytes bounds a receipt image upload.
const maxUploadBytes = 32 << 20

// Handlers groups all HTTP handler methods and their dependencies.
type Handlers struct {
	alertRepo   *repository.AlertRepo
	userRepo    *repository.UserRepo
	budgetRepo  *repository.BudgetRepo
	receiptRepo *repository.ReceiptRepo
	scheduler   *alerts.Scheduler
	receiptSvc  *receipts.Service
	hub         *Hub
	log         *zap.SugaredLogger
}

// --- helpers ---

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Warnw("encode response", "error", err)
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}

func parseIntDefault(s string, def int64) int64 {
	if s == "" {
		return def
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v < 1 {
		return def
	}
	return v
}

func alertID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

// --- UploadReceipt ---

// UploadReceipt answers any failure with a bodyless 400, which is what
// the dashboard's upload widget expects.
func (h *Handlers) UploadReceipt(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	file, hdr, err := r.FormFile("file")
	if err != nil {
		h.log.Infow("upload rejected", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.log.Infow("upload read failed", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	result, err := h.receiptSvc.Ingest(r.Context(), hdr.Filename, data)
	if err != nil {
		h.log.Warnw("receipt ingestion failed", "file", hdr.Filename, "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// --- Alerts ---

func (h *Handlers) ListAlerts(w http.ResponseWriter, r *http.Request) {
	status := domain.AlertStatusActive
	if s := r.URL.Query().Get("status"); s != "" {
		var ok bool
		status, ok = domain.ParseAlertStatus(strings.ToUpper(s))
		if !ok {
			h.writeError(w, http.StatusBadRequest, "status must be ACTIVE or RESOLVED")
			return
		}
	}

	list, err := h.alertRepo.FindByStatus(r.Context(), status)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, list)
}

func (h *Handlers) ListActiveAlerts(w http.ResponseWriter, r *http.Request) {
	list, err := h.alertRepo.FindByStatus(r.Context(), domain.AlertStatusActive)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, list)
}

func (h *Handlers) GetAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := alertID(r)
	if !ok {
		h.writeError(w, http.StatusBadRequest, "invalid alert id")
		return
	}

	a, err := h.alertRepo.GetByID(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "alert not found")
		return
	}
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, a)
}

func (h *Handlers) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := alertID(r)
	if !ok {
		h.writeError(w, http.StatusBadRequest, "invalid alert id")
		return
	}

	a, err := h.alertRepo.Resolve(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "alert not found")
		return
	}
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.log.Infow("alert resolved", "id", a.ID, "message", a.Message)
	h.writeJSON(w, http.StatusOK, a)
}

// TriggerAnalysis runs one analysis cycle now. It answers 409 while a
// scheduled cycle is still running. The cycle outlives a disconnected client.
func (h *Handlers) TriggerAnalysis(w http.ResponseWriter, r *http.Request) {
	res, ran := h.scheduler.Trigger(context.WithoutCancel(r.Context()))
	if !ran {
		h.writeError(w, http.StatusConflict, "analysis cycle already running")
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

// --- Users ---

type createUserRequest struct {
	UserID int64  `json:"userId"`
	Name   string `json:"name"`
	Email  string `json:"email"`
}

func (h *Handlers) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	if req.Name == "" || req.Email == "" {
		h.writeError(w, http.StatusBadRequest, "name and email are required")
		return
	}
	if req.UserID < 0 {
		h.writeError(w, http.StatusBadRequest, "userId must be positive")
		return
	}

	u, err := h.userRepo.CreateWithNextID(r.Context(), &domain.User{
		ID:    req.UserID,
		Name:  req.Name,
		Email: req.Email,
	})
	switch {
	case errors.Is(err, repository.ErrDuplicateEmail):
		h.writeError(w, http.StatusConflict, "email already registered")
		return
	case errors.Is(err, repository.ErrIDConflict):
		h.writeError(w, http.StatusConflict, "userId already taken")
		return
	case err != nil:
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusCreated, u)
}

func (h *Handlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.userRepo.List(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, users)
}

func (h *Handlers) NextUserID(w http.ResponseWriter, r *http.Request) {
	next, err := h.userRepo.NextID(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"nextId": next})
}

// --- Budgets ---

type createBudgetRequest struct {
	UserID       int64           `json:"userId"`
	Category     string          `json:"category"`
	MonthlyLimit decimal.Decimal `json:"monthlyLimit"`
}

func (h *Handlers) CreateBudget(w http.ResponseWriter, r *http.Request) {
	var req createBudgetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	req.Category = strings.TrimSpace(req.Category)
	if req.Category == "" || !req.MonthlyLimit.IsPositive() {
		h.writeError(w, http.StatusBadRequest, "category and a positive monthlyLimit are required")
		return
	}

	if _, err := h.userRepo.GetByID(r.Context(), req.UserID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			h.writeError(w, http.StatusBadRequest, "unknown userId")
			return
		}
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	b := &domain.Budget{
		ID:           uuid.NewString(),
		UserID:       req.UserID,
		Category:     req.Category,
		MonthlyLimit: req.MonthlyLimit,
		CreatedAt:    time.Now(),
	}
	if err := h.budgetRepo.Insert(r.Context(), b); err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusCreated, b)
}

func (h *Handlers) ListBudgets(w http.ResponseWriter, r *http.Request) {
	budgets, err := h.budgetRepo.List(r.Context(), parseIntDefault(r.URL.Query().Get("userId"), 0))
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, budgets)
}

// --- Receipts ---

func (h *Handlers) ListReceipts(w http.ResponseWriter, r *http.Request) {
	list, err := h.receiptRepo.ListByUser(r.Context(), parseIntDefault(r.URL.Query().Get("userId"), 0))
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, list)
}

// --- GetDashboard ---

func (h *Handlers) GetDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	users, err := h.userRepo.Count(ctx)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	byStatus, err := h.alertRepo.CountByStatus(ctx)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := map[string]any{
		"users":             users,
		"alerts_by_status":  byStatus,
		"stream_clients":    h.hub.ClientCount(),
		"last_analysis_run": nil,
	}
	if last, ok := h.scheduler.LastResult(); ok {
		resp["last_analysis_run"] = last
	}
	h.writeJSON(w, http.StatusOK, resp)
}
