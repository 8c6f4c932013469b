package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trogers1052/eod-ingest-service/internal/database"
	"github.com/trogers1052/eod-ingest-service/internal/gate"
	"github.com/trogers1052/eod-ingest-service/internal/logging"
	"github.com/trogers1052/eod-ingest-service/internal/models"
	"github.com/trogers1052/eod-ingest-service/internal/pipeline"
)

type rangeCall struct {
	trigger, from, to string
}

type fakeIngester struct {
	err      error
	result   *pipeline.Result
	today    []string
	ranges   []rangeCall
	backfill int
}

func (f *fakeIngester) IngestToday(_ context.Context, trigger string) (*pipeline.Result, error) {
	f.today = append(f.today, trigger)
	return f.result, f.err
}

func (f *fakeIngester) IngestRange(_ context.Context, trigger, from, to string) (*pipeline.Result, error) {
	f.ranges = append(f.ranges, rangeCall{trigger, from, to})
	return f.result, f.err
}

func (f *fakeIngester) Backfill(context.Context) (*pipeline.Result, error) {
	f.backfill++
	return f.result, f.err
}

type fakeRepo struct {
	pingErr  error
	runs     map[string]*models.IngestRun
	prices   []*models.PriceDataDaily
	holidays []*models.Holiday

	lastLimit    int
	lastTicker   string
	lastFrom     time.Time
	lastTo       time.Time
	lastMarket   string
	rangeQueried bool
}

func (f *fakeRepo) Ping(context.Context) error { return f.pingErr }

func (f *fakeRepo) ListIngestRuns(_ context.Context, limit int) ([]*models.IngestRun, error) {
	f.lastLimit = limit
	var out []*models.IngestRun
	for _, r := range f.runs {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeRepo) GetIngestRun(_ context.Context, id string) (*models.IngestRun, error) {
	if r, ok := f.runs[id]; ok {
		return r, nil
	}
	return nil, fmt.Errorf("%w: %s", database.ErrRunNotFound, id)
}

func (f *fakeRepo) GetPriceDataByTicker(_ context.Context, ticker string, limit int) ([]*models.PriceDataDaily, error) {
	f.lastTicker, f.lastLimit = ticker, limit
	return f.prices, nil
}

func (f *fakeRepo) GetPriceDataRange(_ context.Context, ticker string, from, to time.Time) ([]*models.PriceDataDaily, error) {
	f.lastTicker, f.lastFrom, f.lastTo, f.rangeQueried = ticker, from, to, true
	return f.prices, nil
}

func (f *fakeRepo) ListHolidays(_ context.Context, market string, from, to time.Time) ([]*models.Holiday, error) {
	f.lastMarket, f.lastFrom, f.lastTo = market, from, to
	return f.holidays, nil
}

type fakeReconciler struct {
	result *models.ReconcileResult
	err    error
	calls  int
}

func (f *fakeReconciler) Reconcile(context.Context) (*models.ReconcileResult, error) {
	f.calls++
	return f.result, f.err
}

func successResult(keys ...string) *pipeline.Result {
	res := &pipeline.Result{RunID: "run-1", Notified: true}
	for _, k := range keys {
		d, _ := models.ParseTradingDate(k)
		res.Statuses = append(res.Statuses, models.NewDownloadStatus(d, models.StatusSuccess, "Downloading - "+k))
	}
	return res
}

func newTestServer(ing *fakeIngester, repo *fakeRepo, rec *fakeReconciler) http.Handler {
	h := NewHandler(ing, repo, rec, "ASX", logging.Discard())
	return SetupRoutes(h, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("# metrics"))
	}))
}

func do(t *testing.T, srv http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	return rr
}

func TestHealthCheck(t *testing.T) {
	repo := &fakeRepo{}
	srv := newTestServer(&fakeIngester{}, repo, &fakeReconciler{})

	rr := do(t, srv, "GET", "/health", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "healthy")

	repo.pingErr = errors.New("connection refused")
	rr = do(t, srv, "GET", "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "unhealthy")
}

func TestToday_ReturnsSingleStatus(t *testing.T) {
	ing := &fakeIngester{result: successResult("20240105")}
	srv := newTestServer(ing, &fakeRepo{}, &fakeReconciler{})

	rr := do(t, srv, "GET", "/today", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var status models.DownloadStatus
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	assert.Equal(t, "20240105", status.Date)
	assert.Equal(t, "SUCCESS", status.Status)
	assert.Equal(t, 1, status.Code)
	assert.Equal(t, []string{pipeline.TriggerToday}, ing.today)
}

func TestToday_BusyReturnsConflict(t *testing.T) {
	ing := &fakeIngester{err: gate.ErrBusy}
	srv := newTestServer(ing, &fakeRepo{}, &fakeReconciler{})

	rr := do(t, srv, "GET", "/today", "")
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestBackfillDate(t *testing.T) {
	ing := &fakeIngester{result: successResult("20240105")}
	srv := newTestServer(ing, &fakeRepo{}, &fakeReconciler{})

	rr := do(t, srv, "GET", "/backfill/20240105", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, ing.ranges, 1)
	assert.Equal(t, rangeCall{pipeline.TriggerBackfill, "20240105", "20240105"}, ing.ranges[0])
}

func TestBackfillDate_AcceptsToday(t *testing.T) {
	ing := &fakeIngester{result: successResult("20240105")}
	srv := newTestServer(ing, &fakeRepo{}, &fakeReconciler{})

	rr := do(t, srv, "GET", "/backfill/today", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "today", ing.ranges[0].from)
}

func TestBackfillDate_InvalidDate(t *testing.T) {
	ing := &fakeIngester{}
	srv := newTestServer(ing, &fakeRepo{}, &fakeReconciler{})

	for _, bad := range []string{"2024-01-05", "20241305", "yesterday"} {
		rr := do(t, srv, "GET", "/backfill/"+bad, "")
		assert.Equal(t, http.StatusBadRequest, rr.Code, bad)
	}
	assert.Empty(t, ing.ranges)
}

func TestBackfill_ReturnsAllStatuses(t *testing.T) {
	ing := &fakeIngester{result: successResult("20240105", "20240104")}
	srv := newTestServer(ing, &fakeRepo{}, &fakeReconciler{})

	rr := do(t, srv, "GET", "/backfill", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var statuses []models.DownloadStatus
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &statuses))
	assert.Len(t, statuses, 2)
	assert.Equal(t, 1, ing.backfill)
}

func TestIngest_Get(t *testing.T) {
	ing := &fakeIngester{result: successResult("20240105", "20240104")}
	srv := newTestServer(ing, &fakeRepo{}, &fakeReconciler{})

	rr := do(t, srv, "GET", "/api/v1/ingest?from=20240104&to=20240105", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, rangeCall{pipeline.TriggerRange, "20240104", "20240105"}, ing.ranges[0])

	var res pipeline.Result
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.Equal(t, "run-1", res.RunID)
	assert.Len(t, res.Statuses, 2)
}

func TestIngest_PostDefaultsToFrom(t *testing.T) {
	ing := &fakeIngester{result: successResult("20240105")}
	srv := newTestServer(ing, &fakeRepo{}, &fakeReconciler{})

	rr := do(t, srv, "POST", "/api/v1/ingest", `{"from":"20240105"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, rangeCall{pipeline.TriggerRange, "20240105", "20240105"}, ing.ranges[0])
}

func TestIngest_Validation(t *testing.T) {
	ing := &fakeIngester{}
	srv := newTestServer(ing, &fakeRepo{}, &fakeReconciler{})

	assert.Equal(t, http.StatusBadRequest, do(t, srv, "GET", "/api/v1/ingest", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, srv, "GET", "/api/v1/ingest?from=20240105&to=nope", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, srv, "POST", "/api/v1/ingest", `{"to":"20240105"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, srv, "POST", "/api/v1/ingest", `not json`).Code)
	assert.Empty(t, ing.ranges)
}

func TestIngest_BusyReturnsConflict(t *testing.T) {
	ing := &fakeIngester{err: fmt.Errorf("start batch: %w", gate.ErrBusy)}
	srv := newTestServer(ing, &fakeRepo{}, &fakeReconciler{})

	rr := do(t, srv, "POST", "/api/v1/ingest", `{"from":"today"}`)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

const runID = "6f1c2d3e-4b5a-4c7d-8e9f-0a1b2c3d4e5f"

func TestIngest_GateUnavailableIsServiceUnavailable(t *testing.T) {
	ing := &fakeIngester{err: fmt.Errorf("%w: failed to acquire batch lock: dial tcp: connection refused", gate.ErrUnavailable)}
	srv := newTestServer(ing, &fakeRepo{}, &fakeReconciler{})

	assert.Equal(t, http.StatusServiceUnavailable, do(t, srv, "GET", "/today", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, srv, "POST", "/api/v1/ingest", `{"from":"20240105"}`).Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, srv, "GET", "/backfill", "").Code)
}

func TestIngest_BadTokenFromServiceIsBadRequest(t *testing.T) {
	ing := &fakeIngester{err: errors.New("invalid from date: bad")}
	srv := newTestServer(ing, &fakeRepo{}, &fakeReconciler{})

	assert.Equal(t, http.StatusBadRequest, do(t, srv, "GET", "/api/v1/ingest?from=20240105", "").Code)
}

func TestRuns(t *testing.T) {
	run := &models.IngestRun{ID: runID, Trigger: pipeline.TriggerToday, FromDate: "20240105", ToDate: "20240105"}
	repo := &fakeRepo{runs: map[string]*models.IngestRun{runID: run}}
	srv := newTestServer(&fakeIngester{}, repo, &fakeReconciler{})

	rr := do(t, srv, "GET", "/api/v1/runs", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, defaultRunsLimit, repo.lastLimit)

	rr = do(t, srv, "GET", "/api/v1/runs?limit=5", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 5, repo.lastLimit)

	assert.Equal(t, http.StatusBadRequest, do(t, srv, "GET", "/api/v1/runs?limit=0", "").Code)

	rr = do(t, srv, "GET", "/api/v1/runs/"+runID, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"id":"`+runID+`"`)

	assert.Equal(t, http.StatusNotFound, do(t, srv, "GET", "/api/v1/runs/1b4e28ba-2fa1-11d2-883f-0016d3cca427", "").Code)
}

func TestGetRun_MalformedIDIsNotFound(t *testing.T) {
	repo := &countingRepo{fakeRepo: &fakeRepo{}}
	h := NewHandler(&fakeIngester{}, repo, &fakeReconciler{}, "ASX", logging.Discard())
	srv := SetupRoutes(h, nil)

	for _, id := range []string{"abc", "123", "not-a-uuid"} {
		rr := do(t, srv, "GET", "/api/v1/runs/"+id, "")
		assert.Equal(t, http.StatusNotFound, rr.Code, id)
	}
	assert.Zero(t, repo.getCalls, "malformed ids never reach the database")
}

type countingRepo struct {
	*fakeRepo
	getCalls int
}

func (c *countingRepo) GetIngestRun(ctx context.Context, id string) (*models.IngestRun, error) {
	c.getCalls++
	return c.fakeRepo.GetIngestRun(ctx, id)
}

func TestRuns_EmptyListIsArray(t *testing.T) {
	srv := newTestServer(&fakeIngester{}, &fakeRepo{}, &fakeReconciler{})

	rr := do(t, srv, "GET", "/api/v1/runs", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())
}

func TestReconcile(t *testing.T) {
	rec := &fakeReconciler{result: &models.ReconcileResult{Artifacts: 2, AlreadyLoaded: 1, Inserted: []string{"b.txt"}, Rows: 10}}
	srv := newTestServer(&fakeIngester{}, &fakeRepo{}, rec)

	rr := do(t, srv, "POST", "/api/v1/reconcile", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, rec.calls)
	assert.Contains(t, rr.Body.String(), "b.txt")

	rec.err = models.NewError(models.KindWarehouse, "list source files", errors.New("down"))
	rr = do(t, srv, "POST", "/api/v1/reconcile", "")
	assert.Equal(t, http.StatusBadGateway, rr.Code)
}

func TestGetPrices(t *testing.T) {
	repo := &fakeRepo{prices: []*models.PriceDataDaily{{
		Ticker: "BHP",
		Date:   time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC),
		Close:  decimal.RequireFromString("45.50"),
		Volume: 1000,
	}}}
	srv := newTestServer(&fakeIngester{}, repo, &fakeReconciler{})

	rr := do(t, srv, "GET", "/api/v1/prices/bhp", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "BHP", repo.lastTicker)
	assert.Equal(t, defaultPricesLimit, repo.lastLimit)
	assert.False(t, repo.rangeQueried)
	assert.Contains(t, rr.Body.String(), `"ticker":"BHP"`)

	rr = do(t, srv, "GET", "/api/v1/prices/BHP?from=20240105&to=20240101", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, repo.rangeQueried)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), repo.lastFrom)
	assert.Equal(t, time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), repo.lastTo)

	assert.Equal(t, http.StatusBadRequest, do(t, srv, "GET", "/api/v1/prices/BHP?from=bad", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, srv, "GET", "/api/v1/prices/B-HP", "").Code)
}

func TestListHolidays(t *testing.T) {
	repo := &fakeRepo{holidays: []*models.Holiday{{
		Date:   time.Date(2024, 1, 26, 0, 0, 0, 0, time.UTC),
		Name:   "Australia Day",
		Market: "ASX",
	}}}
	srv := newTestServer(&fakeIngester{}, repo, &fakeReconciler{})

	rr := do(t, srv, "GET", "/api/v1/holidays?from=20240101&to=20241231", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ASX", repo.lastMarket)
	assert.Contains(t, rr.Body.String(), "Australia Day")

	assert.Equal(t, http.StatusBadRequest, do(t, srv, "GET", "/api/v1/holidays", "").Code)
}

func TestMetricsRoute(t *testing.T) {
	srv := newTestServer(&fakeIngester{}, &fakeRepo{}, &fakeReconciler{})

	rr := do(t, srv, "GET", "/metrics", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "# metrics", rr.Body.String())
}
