// Package reconcile loads stored artifacts that the warehouse has not seen yet.
//
// The artifact store is authoritative. Reconciliation only ever adds rows:
// files present in the warehouse but gone from the store are left alone.
package reconcile

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/trogers1052/eod-ingest-service/internal/metrics"
	"github.com/trogers1052/eod-ingest-service/internal/models"
)

// ArtifactSource lists and reads stored artifacts
type ArtifactSource interface {
	ListByPrefix(ctx context.Context, prefix string) ([]string, error)
	Read(ctx context.Context, key string) ([]byte, error)
}

// Warehouse is the price table the artifacts are projected into
type Warehouse interface {
	ListSourceFiles(ctx context.Context) ([]string, error)
	InsertPriceDataBatch(ctx context.Context, prices []*models.PriceDataDaily) error
	DeletePriceDataBySourceFile(ctx context.Context, sourceFile string) (int64, error)
}

// Reconciler computes artifacts minus warehouse files and inserts the difference
type Reconciler struct {
	store     ArtifactSource
	warehouse Warehouse
	prefix    string
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time

	mu sync.Mutex
}

// New creates a Reconciler for artifacts stored under prefix
func New(store ArtifactSource, warehouse Warehouse, prefix string, m *metrics.Metrics, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		store:     store,
		warehouse: warehouse,
		prefix:    prefix,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// Reconcile runs one pass. Only failing to list either side is returned as an
// error; a file that cannot be loaded is logged, reported in the result and skipped.
func (r *Reconciler) Reconcile(ctx context.Context) (*models.ReconcileResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys, err := r.store.ListByPrefix(ctx, r.prefix)
	if err != nil {
		return nil, models.NewError(models.KindStore, "list artifacts", err)
	}
	loadedNames, err := r.warehouse.ListSourceFiles(ctx)
	if err != nil {
		return nil, models.NewError(models.KindWarehouse, "list source files", err)
	}
	loaded := make(map[string]struct{}, len(loadedNames))
	for _, name := range loadedNames {
		loaded[name] = struct{}{}
	}

	sort.Strings(keys)
	res := &models.ReconcileResult{Inserted: []string{}}
	for _, key := range keys {
		name := models.SourceFileName(key)
		if _, ok := models.DateFromArtifactName(name); !ok {
			r.logger.Debug("Ignoring non-artifact object", slog.String("key", key))
			continue
		}
		res.Artifacts++
		if _, ok := loaded[name]; ok {
			res.AlreadyLoaded++
			continue
		}

		n, err := r.load(ctx, key, name)
		r.metrics.FileReconciled(err == nil, n)
		if err != nil {
			r.logger.Error("Failed to load artifact into warehouse",
				slog.String("key", key), slog.Any("error", err))
			res.Failed = append(res.Failed, name)
			continue
		}
		res.Inserted = append(res.Inserted, name)
		res.Rows += n
	}

	r.logger.Info("Reconciliation finished",
		slog.Int("artifacts", res.Artifacts),
		slog.Int("already_loaded", res.AlreadyLoaded),
		slog.Int("inserted", len(res.Inserted)),
		slog.Int("rows", res.Rows),
		slog.Int("failed", len(res.Failed)))
	return res, nil
}

func (r *Reconciler) load(ctx context.Context, key, name string) (int, error) {
	data, err := r.store.Read(ctx, key)
	if err != nil {
		return 0, err
	}
	rows, err := ParseArtifact(bytes.NewReader(data), name, r.now().UTC())
	if err != nil {
		return 0, models.NewError(models.KindWarehouse, "parse "+name, err)
	}
	if len(rows) == 0 {
		return 0, models.NewError(models.KindWarehouse, "parse "+name, errors.New("no rows"))
	}
	if err := r.warehouse.InsertPriceDataBatch(ctx, rows); err != nil {
		return 0, models.NewError(models.KindWarehouse, "insert "+name, err)
	}
	return len(rows), nil
}
