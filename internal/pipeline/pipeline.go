// Package pipeline holds the per-date skip policy and the batch loop that
// drives one browser session across a range of trading dates.
package pipeline

import (
	"context"

	"github.com/trogers1052/eod-ingest-service/internal/models"
)

// Batch triggers recorded on each run
const (
	TriggerToday     = "today"
	TriggerBackfill  = "backfill"
	TriggerRange     = "range"
	TriggerScheduled = "scheduled"
)

// Session is one authenticated portal session
type Session interface {
	Login(ctx context.Context, user, password string) error
	NavigateToDownloadSurface(ctx context.Context) error
	RequestDownload(ctx context.Context, date models.TradingDate) error
	Close() error
}

// SessionOpener starts a new portal session
type SessionOpener interface {
	Open(ctx context.Context) (Session, error)
}

// SessionOpenerFunc adapts a function to SessionOpener
type SessionOpenerFunc func(ctx context.Context) (Session, error)

// Open calls f(ctx)
func (f SessionOpenerFunc) Open(ctx context.Context) (Session, error) {
	return f(ctx)
}

// ArtifactStore is the subset of the object store the processor needs
type ArtifactStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	Write(ctx context.Context, key, localPath string) error
}

// HolidayOracle supplies the non-trading days of a range
type HolidayOracle interface {
	HolidaysInRange(ctx context.Context, from, to models.TradingDate) (models.HolidaySet, error)
}

// SecretSource resolves a secret by name
type SecretSource interface {
	Get(ctx context.Context, name string) (string, error)
}

// Reconciler brings the warehouse in line with the artifact store
type Reconciler interface {
	Reconcile(ctx context.Context) (*models.ReconcileResult, error)
}

// Notifier publishes the completion event. It never returns an error.
type Notifier interface {
	Publish(ctx context.Context, event models.CompletionEvent) bool
}

// RunRecorder persists batch history
type RunRecorder interface {
	CreateIngestRun(ctx context.Context, run *models.IngestRun) error
	FinishIngestRun(ctx context.Context, run *models.IngestRun) error
}
