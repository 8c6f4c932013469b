package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/trogers1052/eod-ingest-service/internal/models"
)

// ErrRunNotFound is returned when no ingest run has the requested id
var ErrRunNotFound = errors.New("ingest run not found")

const ingestRunColumns = `id, trigger_source, from_date, to_date, aborted, succeeded, failed, skipped, statuses, started_at, finished_at`

// CreateIngestRun records the start of a batch
func (db *DB) CreateIngestRun(ctx context.Context, run *models.IngestRun) error {
	from, to, err := runBounds(run)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO ingest_runs (id, trigger_source, from_date, to_date, started_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := db.conn.ExecContext(ctx, query, run.ID, run.Trigger, from, to, run.StartedAt); err != nil {
		return fmt.Errorf("failed to create ingest run: %w", err)
	}
	return nil
}

// FinishIngestRun stores a batch's outcome
func (db *DB) FinishIngestRun(ctx context.Context, run *models.IngestRun) error {
	statuses, err := json.Marshal(run.Statuses)
	if err != nil {
		return fmt.Errorf("failed to encode statuses: %w", err)
	}
	query := `
		UPDATE ingest_runs
		SET aborted = $2, succeeded = $3, failed = $4, skipped = $5, statuses = $6, finished_at = $7
		WHERE id = $1
	`
	result, err := db.conn.ExecContext(ctx, query,
		run.ID, run.Aborted, run.Succeeded, run.Failed, run.Skipped, string(statuses), run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to finish ingest run: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, run.ID)
	}
	return nil
}

// GetIngestRun retrieves one run by id
func (db *DB) GetIngestRun(ctx context.Context, id string) (*models.IngestRun, error) {
	query := `SELECT ` + ingestRunColumns + ` FROM ingest_runs WHERE id = $1`
	run, err := scanIngestRun(db.conn.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ingest run: %w", err)
	}
	return run, nil
}

// ListIngestRuns returns the most recent runs first
func (db *DB) ListIngestRuns(ctx context.Context, limit int) ([]*models.IngestRun, error) {
	query := `SELECT ` + ingestRunColumns + ` FROM ingest_runs ORDER BY started_at DESC LIMIT $1`
	rows, err := db.conn.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list ingest runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.IngestRun
	for rows.Next() {
		run, err := scanIngestRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ingest run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIngestRun(row rowScanner) (*models.IngestRun, error) {
	var (
		run        models.IngestRun
		from, to   time.Time
		statuses   []byte
		finishedAt sql.NullTime
	)
	err := row.Scan(
		&run.ID, &run.Trigger, &from, &to, &run.Aborted,
		&run.Succeeded, &run.Failed, &run.Skipped, &statuses, &run.StartedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}

	run.FromDate = models.NewTradingDate(from).Key()
	run.ToDate = models.NewTradingDate(to).Key()
	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}
	run.Statuses = []models.DownloadStatus{}
	if len(statuses) > 0 {
		if err := json.Unmarshal(statuses, &run.Statuses); err != nil {
			return nil, fmt.Errorf("failed to decode statuses: %w", err)
		}
	}
	return &run, nil
}

func runBounds(run *models.IngestRun) (time.Time, time.Time, error) {
	from, err := models.ParseTradingDate(run.FromDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid run start date: %w", err)
	}
	to, err := models.ParseTradingDate(run.ToDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid run end date: %w", err)
	}
	return from.Time(), to.Time(), nil
}
