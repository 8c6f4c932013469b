package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/trogers1052/eod-ingest-service/internal/gate"
	"github.com/trogers1052/eod-ingest-service/internal/models"
)

// BatchRunner executes one batch
type BatchRunner interface {
	Execute(ctx context.Context, trigger string, dates []models.TradingDate) *Result
}

// Service turns trigger requests into gated batches
type Service struct {
	runner        BatchRunner
	gate          gate.Gate
	loc           *time.Location
	backfillStart models.TradingDate
	logger        *slog.Logger
	now           func() time.Time
}

// NewService creates a Service. "today" is evaluated in loc; backfills run
// from backfillStart up to today.
func NewService(runner BatchRunner, g gate.Gate, loc *time.Location, backfillStart models.TradingDate, logger *slog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		runner:        runner,
		gate:          g,
		loc:           loc,
		backfillStart: backfillStart,
		logger:        logger,
		now:           time.Now,
	}
}

// Today returns the current date in the portal's time zone
func (s *Service) Today() models.TradingDate {
	return models.NewTradingDate(s.now().In(s.loc))
}

// ResolveDate parses a YYYYMMDD date or the "today" token
func (s *Service) ResolveDate(token string) (models.TradingDate, error) {
	return models.ResolveDateToken(token, s.now(), s.loc)
}

// Ingest runs dates as one batch unless another batch holds the gate, in
// which case it returns gate.ErrBusy. The batch is not cancelled with ctx.
func (s *Service) Ingest(ctx context.Context, trigger string, dates []models.TradingDate) (*Result, error) {
	release, err := s.gate.TryAcquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return s.runner.Execute(context.WithoutCancel(ctx), trigger, dates), nil
}

// IngestToday fetches today's file
func (s *Service) IngestToday(ctx context.Context, trigger string) (*Result, error) {
	return s.Ingest(ctx, trigger, []models.TradingDate{s.Today()})
}

// IngestRange resolves two date tokens and fetches every date between them, newest first
func (s *Service) IngestRange(ctx context.Context, trigger, fromToken, toToken string) (*Result, error) {
	from, err := s.ResolveDate(fromToken)
	if err != nil {
		return nil, fmt.Errorf("invalid from date: %w", err)
	}
	to, err := s.ResolveDate(toToken)
	if err != nil {
		return nil, fmt.Errorf("invalid to date: %w", err)
	}
	return s.Ingest(ctx, trigger, models.DateRange(from, to))
}

// Backfill fetches everything from the configured start date up to today
func (s *Service) Backfill(ctx context.Context) (*Result, error) {
	today := s.Today()
	if today.Before(s.backfillStart) {
		return nil, fmt.Errorf("backfill start %s is in the future", s.backfillStart)
	}
	s.logger.Info("Starting backfill",
		slog.String("from", s.backfillStart.Key()),
		slog.String("to", today.Key()))
	return s.Ingest(ctx, TriggerBackfill, models.DateRange(s.backfillStart, today))
}
