package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"

	"github.com/trogers1052/eod-ingest-service/internal/metrics"
	"github.com/trogers1052/eod-ingest-service/internal/models"
)

// ProcessorConfig describes where artifacts land and how long to wait for them
type ProcessorConfig struct {
	Feed        string
	Prefix      string
	DownloadDir string
	Wait        FileWaiter
	// DownloadInterval spaces consecutive download triggers; zero disables pacing
	DownloadInterval time.Duration
}

// Processor decides and carries out the work for a single trading date
type Processor struct {
	cfg     ProcessorConfig
	store   ArtifactStore
	limiter *rate.Limiter
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewProcessor creates a processor writing to store
func NewProcessor(cfg ProcessorConfig, store ArtifactStore, m *metrics.Metrics, logger *slog.Logger) *Processor {
	if cfg.Feed == "" {
		cfg.Feed = models.DefaultFeedName
	}
	if cfg.Wait.Timeout <= 0 {
		cfg.Wait = DefaultFileWaiter()
	}
	limit := rate.Inf
	if cfg.DownloadInterval > 0 {
		limit = rate.Every(cfg.DownloadInterval)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		cfg:     cfg,
		store:   store,
		limiter: rate.NewLimiter(limit, 1),
		metrics: m,
		logger:  logger,
	}
}

// Process evaluates weekend, holiday and existence in that order and only
// fetches when none of them apply. It always returns exactly one status.
func (p *Processor) Process(ctx context.Context, sess Session, holidays models.HolidaySet, date models.TradingDate) models.DownloadStatus {
	status, _ := p.processDate(ctx, sess, holidays, date)
	return status
}

// processDate is Process that also returns the error behind an ERROR status
func (p *Processor) processDate(ctx context.Context, sess Session, holidays models.HolidaySet, date models.TradingDate) (models.DownloadStatus, error) {
	status, err := p.process(ctx, sess, holidays, date)
	p.metrics.DateProcessed(status.Status)

	level := slog.LevelInfo
	if status.Is(models.StatusError) {
		level = slog.LevelWarn
	}
	p.logger.Log(ctx, level, "Processed date",
		slog.String("date", status.Date),
		slog.String("status", status.Status),
		slog.String("msg", status.Message))
	return status, err
}

func (p *Processor) process(ctx context.Context, sess Session, holidays models.HolidaySet, date models.TradingDate) (models.DownloadStatus, error) {
	if date.IsWeekend() {
		return models.NewDownloadStatus(date, models.StatusSkippedWeekend,
			fmt.Sprintf("Skipped Downloading(Weekend) - %s", date.Key())), nil
	}
	if holidays.Contains(date) {
		return models.NewDownloadStatus(date, models.StatusSkippedHoliday,
			fmt.Sprintf("Skipped Downloading(Holiday) - %s", date.Key())), nil
	}

	key := p.ArtifactKey(date)
	exists, err := p.store.Exists(ctx, key)
	if err != nil {
		return models.NewDownloadStatus(date, models.StatusError, err.Error()), err
	}
	if exists {
		return models.NewDownloadStatus(date, models.StatusSkippedExists,
			fmt.Sprintf("Skipped Downloading(Exists) - %s", date.Key())), nil
	}

	return p.fetch(ctx, sess, date, key)
}

func (p *Processor) fetch(ctx context.Context, sess Session, date models.TradingDate, key string) (models.DownloadStatus, error) {
	local := p.LocalPath(date)
	// A leftover from an earlier run would satisfy the wait without a new download.
	p.removeLocal(local)
	defer p.removeLocal(local)

	if err := p.limiter.Wait(ctx); err != nil {
		return models.NewDownloadStatus(date, models.StatusError,
			fmt.Sprintf("Error Downloading - %s: %v", date.Key(), err)), err
	}
	if err := sess.RequestDownload(ctx, date); err != nil {
		return models.NewDownloadStatus(date, models.StatusError,
			fmt.Sprintf("Error Downloading - %s: %v", date.Key(), err)), err
	}
	if err := p.cfg.Wait.WaitForFile(ctx, local); err != nil {
		p.logger.Debug("Local artifact missing", slog.String("path", local), slog.Any("error", err))
		return models.NewDownloadStatus(date, models.StatusError,
			fmt.Sprintf("Error Downloading - local copy missing - %s", date.Key())), err
	}
	if err := p.store.Write(ctx, key, local); err != nil {
		return models.NewDownloadStatus(date, models.StatusError, err.Error()), err
	}
	return models.NewDownloadStatus(date, models.StatusSuccess,
		fmt.Sprintf("Downloading - %s", date.Key())), nil
}

// ArtifactKey is the object key for date
func (p *Processor) ArtifactKey(date models.TradingDate) string {
	return models.ArtifactKey(p.cfg.Prefix, p.cfg.Feed, date)
}

// LocalPath is where the browser drops the file for date
func (p *Processor) LocalPath(date models.TradingDate) string {
	return filepath.Join(p.cfg.DownloadDir, models.ArtifactFileName(p.cfg.Feed, date))
}

func (p *Processor) removeLocal(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		p.logger.Warn("Failed to remove local artifact", slog.String("path", path), slog.Any("error", err))
	}
}
