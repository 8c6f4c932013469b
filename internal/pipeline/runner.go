package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/trogers1052/eod-ingest-service/internal/metrics"
	"github.com/trogers1052/eod-ingest-service/internal/models"
)

// Abort messages for batches that never reach per-date processing
const (
	MsgCalendarFailed   = "Failed to load holiday calendar"
	MsgSecretFailed     = "Failed to retrieve portal credentials"
	MsgSessionFailed    = "Failed to start browser session"
	MsgLoginFailed      = "Failed to login"
	MsgNavigationFailed = "Failed to navigate to download page"
)

// MsgSessionLost marks the dates left unprocessed when the browser session
// dies part way through a batch
const MsgSessionLost = "Browser session lost"

// RunnerConfig holds the portal account and artifact layout
type RunnerConfig struct {
	User           string
	PasswordSecret string
	Processor      ProcessorConfig
}

// Deps are the collaborators of a Runner. Reconciler, Notifier and Recorder are optional.
type Deps struct {
	Sessions   SessionOpener
	Store      ArtifactStore
	Holidays   HolidayOracle
	Secrets    SecretSource
	Reconciler Reconciler
	Notifier   Notifier
	Recorder   RunRecorder
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Result is everything a batch produced
type Result struct {
	RunID     string                  `json:"run_id"`
	Aborted   bool                    `json:"aborted"`
	Statuses  []models.DownloadStatus `json:"statuses"`
	Reconcile *models.ReconcileResult `json:"reconcile,omitempty"`
	Notified  bool                    `json:"notified"`
}

// Runner drives one browser session across a batch of dates
type Runner struct {
	cfg       RunnerConfig
	deps      Deps
	processor *Processor
	logger    *slog.Logger
	now       func() time.Time
}

// NewRunner validates deps and builds a Runner
func NewRunner(cfg RunnerConfig, deps Deps) (*Runner, error) {
	var errs []error
	if deps.Sessions == nil {
		errs = append(errs, errors.New("session opener is required"))
	}
	if deps.Store == nil {
		errs = append(errs, errors.New("artifact store is required"))
	}
	if deps.Holidays == nil {
		errs = append(errs, errors.New("holiday oracle is required"))
	}
	if deps.Secrets == nil {
		errs = append(errs, errors.New("secret source is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	return &Runner{
		cfg:       cfg,
		deps:      deps,
		processor: NewProcessor(cfg.Processor, deps.Store, deps.Metrics, deps.Logger),
		logger:    deps.Logger,
		now:       time.Now,
	}, nil
}

// Run processes dates in the order given and returns one status per date,
// or a single ERROR status when the session could not be set up.
func (r *Runner) Run(ctx context.Context, dates []models.TradingDate) []models.DownloadStatus {
	return r.Execute(ctx, TriggerRange, dates).Statuses
}

// Execute runs a batch, then reconciles the warehouse, publishes the
// completion event and records the run.
func (r *Runner) Execute(ctx context.Context, trigger string, dates []models.TradingDate) *Result {
	res := &Result{RunID: uuid.NewString()}
	logger := r.logger.With(slog.String("run_id", res.RunID), slog.String("trigger", trigger))
	if len(dates) == 0 {
		logger.Warn("Batch requested with no dates")
		res.Statuses = []models.DownloadStatus{}
		return res
	}

	started := r.now()
	from, to := bounds(dates)
	run := &models.IngestRun{
		ID:        res.RunID,
		Trigger:   trigger,
		FromDate:  from.Key(),
		ToDate:    to.Key(),
		StartedAt: started.UTC(),
	}
	// post-batch steps run even when the caller has gone away
	bg := context.WithoutCancel(ctx)
	r.recordStart(bg, logger, run)

	logger.Info("Starting batch",
		slog.String("from", run.FromDate),
		slog.String("to", run.ToDate),
		slog.Int("dates", len(dates)))

	statuses, abortErr := r.ingest(ctx, logger, dates, from, to)
	res.Statuses = statuses
	res.Aborted = abortErr != nil

	if !res.Aborted && r.deps.Reconciler != nil {
		rec, err := r.deps.Reconciler.Reconcile(bg)
		if err != nil {
			logger.Error("Reconciliation failed", slog.Any("error", err))
		}
		res.Reconcile = rec
	}

	res.Notified = r.notify(bg, logger, res, abortErr)

	finished := r.now()
	run.Statuses = statuses
	run.Aborted = res.Aborted
	run.Tally()
	finishedUTC := finished.UTC()
	run.FinishedAt = &finishedUTC
	r.recordFinish(bg, logger, run)

	outcome := "completed"
	if res.Aborted {
		outcome = "aborted"
	}
	elapsed := finished.Sub(started)
	r.deps.Metrics.BatchFinished(outcome, elapsed)
	logger.Info("Batch finished",
		slog.String("outcome", outcome),
		slog.Int("succeeded", run.Succeeded),
		slog.Int("failed", run.Failed),
		slog.Int("skipped", run.Skipped),
		slog.Duration("elapsed", elapsed))
	return res
}

// ingest owns the session lifecycle. A non-nil error means the batch was
// aborted. Before the first date that leaves a single failure record; a
// session lost mid-batch keeps the statuses so far and fails the rest.
func (r *Runner) ingest(ctx context.Context, logger *slog.Logger, dates []models.TradingDate, from, to models.TradingDate) ([]models.DownloadStatus, error) {
	abort := func(msg string, err error) ([]models.DownloadStatus, error) {
		logger.Error(msg, slog.Any("error", err))
		return []models.DownloadStatus{
			models.NewDownloadStatus(dates[0], models.StatusError, fmt.Sprintf("%s: %v", msg, err)),
		}, err
	}

	holidays, err := r.deps.Holidays.HolidaysInRange(ctx, from, to)
	if err != nil {
		return abort(MsgCalendarFailed, err)
	}
	password, err := r.deps.Secrets.Get(ctx, r.cfg.PasswordSecret)
	if err != nil {
		return abort(MsgSecretFailed, err)
	}

	sess, err := r.deps.Sessions.Open(ctx)
	if err != nil {
		return abort(MsgSessionFailed, err)
	}
	defer func() {
		if err := sess.Close(); err != nil {
			logger.Warn("Failed to close browser session", slog.Any("error", err))
		}
	}()

	if err := sess.Login(ctx, r.cfg.User, password); err != nil {
		return abort(MsgLoginFailed, err)
	}
	if err := sess.NavigateToDownloadSurface(ctx); err != nil {
		return abort(MsgNavigationFailed, err)
	}

	statuses := make([]models.DownloadStatus, 0, len(dates))
	for i, date := range dates {
		status, err := r.processor.processDate(ctx, sess, holidays, date)
		statuses = append(statuses, status)
		if err == nil || !models.IsSessionLifecycle(err) {
			continue
		}
		logger.Error(MsgSessionLost, slog.String("date", date.Key()), slog.Any("error", err))
		msg := fmt.Sprintf("%s: %v", MsgSessionLost, err)
		for _, rest := range dates[i+1:] {
			statuses = append(statuses, models.NewDownloadStatus(rest, models.StatusError, msg))
		}
		return statuses, err
	}
	return statuses, nil
}

func (r *Runner) notify(ctx context.Context, logger *slog.Logger, res *Result, abortErr error) bool {
	if r.deps.Notifier == nil {
		return false
	}
	event := models.CompletionEvent{
		EventType: models.EventTypeBatchCompleted,
		RunID:     res.RunID,
		Aborted:   res.Aborted,
		Dates:     len(res.Statuses),
		Counts:    models.StatusCounts(res.Statuses),
		Timestamp: r.now().UTC(),
	}
	if abortErr != nil {
		event.Error = abortErr.Error()
	}
	if !r.deps.Notifier.Publish(ctx, event) {
		r.deps.Metrics.NotifyFailed()
		logger.Warn("Completion event not published")
		return false
	}
	return true
}

func (r *Runner) recordStart(ctx context.Context, logger *slog.Logger, run *models.IngestRun) {
	if r.deps.Recorder == nil {
		return
	}
	if err := r.deps.Recorder.CreateIngestRun(ctx, run); err != nil {
		logger.Warn("Failed to record run start", slog.Any("error", err))
	}
}

func (r *Runner) recordFinish(ctx context.Context, logger *slog.Logger, run *models.IngestRun) {
	if r.deps.Recorder == nil {
		return
	}
	if err := r.deps.Recorder.FinishIngestRun(ctx, run); err != nil {
		logger.Warn("Failed to record run result", slog.Any("error", err))
	}
}

func bounds(dates []models.TradingDate) (from, to models.TradingDate) {
	from, to = dates[0], dates[0]
	for _, d := range dates[1:] {
		if d.Before(from) {
			from = d
		}
		if to.Before(d) {
			to = d
		}
	}
	return from, to
}
