package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/trogers1052/eod-ingest-service/internal/gate"
	"github.com/trogers1052/eod-ingest-service/internal/models"
	"github.com/trogers1052/eod-ingest-service/internal/pipeline"
)

// Ingester runs today's batch
type Ingester interface {
	IngestToday(ctx context.Context, trigger string) (*pipeline.Result, error)
}

// Reconciler loads stored artifacts into the warehouse
type Reconciler interface {
	Reconcile(ctx context.Context) (*models.ReconcileResult, error)
}

// Scheduler manages the daily ingestion and periodic reconcile jobs
type Scheduler struct {
	Cron       *cron.Cron
	Ingester   Ingester
	Reconciler Reconciler
	Ctx        context.Context
	logger     *slog.Logger
}

// NewScheduler creates a Scheduler whose cron expressions (with seconds) are evaluated in loc
func NewScheduler(ctx context.Context, ing Ingester, rec Reconciler, loc *time.Location, logger *slog.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		Cron:       cron.New(cron.WithSeconds(), cron.WithLocation(loc)),
		Ingester:   ing,
		Reconciler: rec,
		Ctx:        ctx,
		logger:     logger,
	}
}

// RegisterAll registers the jobs. An empty expression leaves that job out.
func (s *Scheduler) RegisterAll(dailyCron, reconcileCron string) error {
	if dailyCron != "" {
		if _, err := s.Cron.AddFunc(dailyCron, s.dailyIngest); err != nil {
			return fmt.Errorf("register daily ingest: %w", err)
		}
	}
	if reconcileCron != "" && s.Reconciler != nil {
		if _, err := s.Cron.AddFunc(reconcileCron, s.reconcile); err != nil {
			return fmt.Errorf("register reconcile: %w", err)
		}
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	s.logger.Info("Scheduler started", slog.Int("jobs", len(s.Cron.Entries())))
}

// Stop stops the scheduler and waits for running jobs
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	s.logger.Info("Scheduler stopped")
}

// RunDailyNow executes the daily job immediately
func (s *Scheduler) RunDailyNow() {
	s.dailyIngest()
}

func (s *Scheduler) dailyIngest() {
	s.logger.Info("Running scheduled ingestion")
	res, err := s.Ingester.IngestToday(s.Ctx, pipeline.TriggerScheduled)
	if errors.Is(err, gate.ErrBusy) {
		s.logger.Warn("Scheduled ingestion skipped, a batch is already running")
		return
	}
	if err != nil {
		s.logger.Error("Scheduled ingestion failed", slog.Any("error", err))
		return
	}
	s.logger.Info("Scheduled ingestion finished",
		slog.String("run_id", res.RunID),
		slog.Bool("aborted", res.Aborted))
}

func (s *Scheduler) reconcile() {
	if _, err := s.Reconciler.Reconcile(s.Ctx); err != nil {
		s.logger.Error("Scheduled reconcile failed", slog.Any("error", err))
	}
}
