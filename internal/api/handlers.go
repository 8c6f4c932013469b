package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/trogers1052/eod-ingest-service/internal/database"
	"github.com/trogers1052/eod-ingest-service/internal/gate"
	"github.com/trogers1052/eod-ingest-service/internal/models"
	"github.com/trogers1052/eod-ingest-service/internal/pipeline"
)

const (
	defaultRunsLimit   = 20
	defaultPricesLimit = 30
	maxLimit           = 1000
)

// Ingester starts gated batches
type Ingester interface {
	IngestToday(ctx context.Context, trigger string) (*pipeline.Result, error)
	IngestRange(ctx context.Context, trigger, fromToken, toToken string) (*pipeline.Result, error)
	Backfill(ctx context.Context) (*pipeline.Result, error)
}

// Repository is the read side of the warehouse
type Repository interface {
	Ping(ctx context.Context) error
	ListIngestRuns(ctx context.Context, limit int) ([]*models.IngestRun, error)
	GetIngestRun(ctx context.Context, id string) (*models.IngestRun, error)
	GetPriceDataByTicker(ctx context.Context, ticker string, limit int) ([]*models.PriceDataDaily, error)
	GetPriceDataRange(ctx context.Context, ticker string, startDate, endDate time.Time) ([]*models.PriceDataDaily, error)
	ListHolidays(ctx context.Context, market string, from, to time.Time) ([]*models.Holiday, error)
}

// Reconciler runs an on-demand reconciliation
type Reconciler interface {
	Reconcile(ctx context.Context) (*models.ReconcileResult, error)
}

// IngestRequest is the body of POST /api/v1/ingest
type IngestRequest struct {
	From string `json:"from" validate:"required,datetoken"`
	To   string `json:"to" validate:"omitempty,datetoken"`
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	ingester   Ingester
	repo       Repository
	reconciler Reconciler
	market     string
	validate   *validator.Validate
	logger     *slog.Logger
}

// NewHandler creates a new Handler
func NewHandler(ingester Ingester, repo Repository, reconciler Reconciler, market string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		ingester:   ingester,
		repo:       repo,
		reconciler: reconciler,
		market:     market,
		validate:   newValidator(),
		logger:     logger,
	}
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterValidation("datetoken", func(fl validator.FieldLevel) bool {
		s := strings.TrimSpace(fl.Field().String())
		if strings.EqualFold(s, models.TodayToken) {
			return true
		}
		_, err := models.ParseTradingDate(s)
		return err == nil
	})
	return v
}

// Today handles GET /today
func (h *Handler) Today(w http.ResponseWriter, r *http.Request) {
	res, err := h.ingester.IngestToday(r.Context(), pipeline.TriggerToday)
	if err != nil {
		h.batchError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, singleStatus(res))
}

// BackfillDate handles GET /backfill/{date}
func (h *Handler) BackfillDate(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["date"]
	if err := h.validate.Var(token, "datetoken"); err != nil {
		http.Error(w, "date must be YYYYMMDD or today", http.StatusBadRequest)
		return
	}

	res, err := h.ingester.IngestRange(r.Context(), pipeline.TriggerBackfill, token, token)
	if err != nil {
		h.batchError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, singleStatus(res))
}

// Backfill handles GET /backfill
func (h *Handler) Backfill(w http.ResponseWriter, r *http.Request) {
	res, err := h.ingester.Backfill(r.Context())
	if err != nil {
		h.batchError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res.Statuses)
}

// Ingest handles GET and POST /api/v1/ingest
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if r.Method == http.MethodPost {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
	} else {
		req.From = r.URL.Query().Get("from")
		req.To = r.URL.Query().Get("to")
	}

	if err := h.validate.Struct(req); err != nil {
		http.Error(w, "from is required and dates must be YYYYMMDD or today", http.StatusBadRequest)
		return
	}
	if req.To == "" {
		req.To = req.From
	}

	res, err := h.ingester.IngestRange(r.Context(), pipeline.TriggerRange, req.From, req.To)
	if err != nil {
		h.batchError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// ListRuns handles GET /api/v1/runs
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, defaultRunsLimit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	runs, err := h.repo.ListIngestRuns(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []*models.IngestRun{}
	}
	respondJSON(w, http.StatusOK, runs)
}

// GetRun handles GET /api/v1/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := uuid.Parse(id); err != nil {
		http.Error(w, fmt.Sprintf("%v: %s", database.ErrRunNotFound, id), http.StatusNotFound)
		return
	}

	run, err := h.repo.GetIngestRun(r.Context(), id)
	if errors.Is(err, database.ErrRunNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, run)
}

// Reconcile handles POST /api/v1/reconcile
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	res, err := h.reconciler.Reconcile(r.Context())
	if err != nil {
		h.logger.Error("Manual reconcile failed", slog.Any("error", err))
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// GetPrices handles GET /api/v1/prices/{ticker}
func (h *Handler) GetPrices(w http.ResponseWriter, r *http.Request) {
	ticker := strings.ToUpper(mux.Vars(r)["ticker"])
	if err := h.validate.Var(ticker, "required,alphanum,max=16"); err != nil {
		http.Error(w, "invalid ticker", http.StatusBadRequest)
		return
	}

	q := r.URL.Query()
	var (
		prices []*models.PriceDataDaily
		err    error
	)
	if q.Get("from") != "" || q.Get("to") != "" {
		from, to, perr := parseDateRange(q.Get("from"), q.Get("to"))
		if perr != nil {
			http.Error(w, perr.Error(), http.StatusBadRequest)
			return
		}
		prices, err = h.repo.GetPriceDataRange(r.Context(), ticker, from.Time(), to.Time())
	} else {
		limit, lerr := parseLimit(r, defaultPricesLimit)
		if lerr != nil {
			http.Error(w, lerr.Error(), http.StatusBadRequest)
			return
		}
		prices, err = h.repo.GetPriceDataByTicker(r.Context(), ticker, limit)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if prices == nil {
		prices = []*models.PriceDataDaily{}
	}
	respondJSON(w, http.StatusOK, prices)
}

// ListHolidays handles GET /api/v1/holidays
func (h *Handler) ListHolidays(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, to, err := parseDateRange(q.Get("from"), q.Get("to"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	holidays, err := h.repo.ListHolidays(r.Context(), h.market, from.Time(), to.Time())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if holidays == nil {
		holidays = []*models.Holiday{}
	}
	respondJSON(w, http.StatusOK, holidays)
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "database": err.Error()})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handler) batchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, gate.ErrBusy):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, gate.ErrUnavailable):
		h.logger.Error("Batch gate unavailable", slog.Any("error", err))
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	h.logger.Warn("Rejected batch request", slog.Any("error", err))
	http.Error(w, err.Error(), http.StatusBadRequest)
}

// singleStatus collapses a one-date batch to its status record
func singleStatus(res *pipeline.Result) any {
	if len(res.Statuses) == 1 {
		return res.Statuses[0]
	}
	return res.Statuses
}

func parseLimit(r *http.Request, def int) (int, error) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 || n > maxLimit {
		return 0, errors.New("limit must be between 1 and 1000")
	}
	return n, nil
}

func parseDateRange(fromStr, toStr string) (models.TradingDate, models.TradingDate, error) {
	from, err := models.ParseTradingDate(fromStr)
	if err != nil {
		return models.TradingDate{}, models.TradingDate{}, err
	}
	if toStr == "" {
		return from, from, nil
	}
	to, err := models.ParseTradingDate(toStr)
	if err != nil {
		return models.TradingDate{}, models.TradingDate{}, err
	}
	if to.Before(from) {
		from, to = to, from
	}
	return from, to, nil
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
