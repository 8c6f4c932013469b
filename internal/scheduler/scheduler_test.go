package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trogers1052/eod-ingest-service/internal/gate"
	"github.com/trogers1052/eod-ingest-service/internal/logging"
	"github.com/trogers1052/eod-ingest-service/internal/models"
	"github.com/trogers1052/eod-ingest-service/internal/pipeline"
)

type fakeIngester struct {
	calls   atomic.Int32
	trigger atomic.Value
	err     error
}

func (f *fakeIngester) IngestToday(_ context.Context, trigger string) (*pipeline.Result, error) {
	f.calls.Add(1)
	f.trigger.Store(trigger)
	if f.err != nil {
		return nil, f.err
	}
	return &pipeline.Result{RunID: "run-1"}, nil
}

type fakeReconciler struct {
	calls atomic.Int32
}

func (f *fakeReconciler) Reconcile(context.Context) (*models.ReconcileResult, error) {
	f.calls.Add(1)
	return &models.ReconcileResult{}, nil
}

func TestRegisterAll(t *testing.T) {
	s := NewScheduler(context.Background(), &fakeIngester{}, &fakeReconciler{}, time.UTC, logging.Discard())

	require.NoError(t, s.RegisterAll("0 30 19 * * 1-5", "0 0 * * * *"))
	assert.Len(t, s.Cron.Entries(), 2)
}

func TestRegisterAllSkipsEmpty(t *testing.T) {
	s := NewScheduler(context.Background(), &fakeIngester{}, nil, time.UTC, logging.Discard())

	require.NoError(t, s.RegisterAll("0 30 19 * * 1-5", "0 0 * * * *"))
	assert.Len(t, s.Cron.Entries(), 1, "reconcile needs a reconciler")

	s2 := NewScheduler(context.Background(), &fakeIngester{}, &fakeReconciler{}, time.UTC, logging.Discard())
	require.NoError(t, s2.RegisterAll("", ""))
	assert.Empty(t, s2.Cron.Entries())
}

func TestRegisterAllRejectsBadExpression(t *testing.T) {
	s := NewScheduler(context.Background(), &fakeIngester{}, nil, time.UTC, logging.Discard())

	err := s.RegisterAll("every evening", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "register daily ingest")
}

func TestRunDailyNow(t *testing.T) {
	ing := &fakeIngester{}
	s := NewScheduler(context.Background(), ing, nil, time.UTC, logging.Discard())

	s.RunDailyNow()
	assert.Equal(t, int32(1), ing.calls.Load())
	assert.Equal(t, pipeline.TriggerScheduled, ing.trigger.Load())
}

func TestDailyIngestToleratesBusyGate(t *testing.T) {
	ing := &fakeIngester{err: gate.ErrBusy}
	s := NewScheduler(context.Background(), ing, nil, time.UTC, logging.Discard())

	assert.NotPanics(t, s.RunDailyNow)

	ing.err = errors.New("boom")
	assert.NotPanics(t, s.RunDailyNow)
	assert.Equal(t, int32(2), ing.calls.Load())
}

func TestSchedulerFiresJobs(t *testing.T) {
	rec := &fakeReconciler{}
	s := NewScheduler(context.Background(), &fakeIngester{}, rec, time.UTC, logging.Discard())
	require.NoError(t, s.RegisterAll("", "* * * * * *"))

	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool { return rec.calls.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
}
