package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/trogers1052/eod-ingest-service/internal/models"
)

const priceDataColumns = `id, ticker, date, open, high, low, close, volume, source_file, ingested_at`

// InsertPriceDataBatch inserts one artifact's rows in a single transaction.
// A (ticker, date) that already exists is overwritten.
func (db *DB) InsertPriceDataBatch(ctx context.Context, prices []*models.PriceDataDaily) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO price_data_daily (ticker, date, open, high, low, close, volume, source_file, ingested_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (ticker, date) DO UPDATE SET
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			volume = EXCLUDED.volume,
			source_file = EXCLUDED.source_file,
			ingested_at = EXCLUDED.ingested_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, p := range prices {
		ingestedAt := p.IngestedAt
		if ingestedAt.IsZero() {
			ingestedAt = now
		}
		_, err := stmt.ExecContext(ctx, p.Ticker, p.Date, p.Open, p.High, p.Low, p.Close, p.Volume, p.SourceFile, ingestedAt)
		if err != nil {
			return fmt.Errorf("failed to insert price data for %s: %w", p.Ticker, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListSourceFiles returns every distinct artifact name present in the warehouse
func (db *DB) ListSourceFiles(ctx context.Context) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT DISTINCT source_file FROM price_data_daily ORDER BY source_file`)
	if err != nil {
		return nil, fmt.Errorf("failed to list source files: %w", err)
	}
	defer rows.Close()

	var files []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, fmt.Errorf("failed to scan source file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// GetPriceDataByTicker retrieves the latest rows for a ticker, newest first
func (db *DB) GetPriceDataByTicker(ctx context.Context, ticker string, limit int) ([]*models.PriceDataDaily, error) {
	query := `
		SELECT ` + priceDataColumns + `
		FROM price_data_daily
		WHERE ticker = $1
		ORDER BY date DESC
		LIMIT $2
	`
	rows, err := db.conn.QueryContext(ctx, query, ticker, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get price data: %w", err)
	}
	return scanPriceData(rows)
}

// GetPriceDataRange retrieves rows for a ticker within a date range, oldest first
func (db *DB) GetPriceDataRange(ctx context.Context, ticker string, startDate, endDate time.Time) ([]*models.PriceDataDaily, error) {
	query := `
		SELECT ` + priceDataColumns + `
		FROM price_data_daily
		WHERE ticker = $1 AND date >= $2 AND date <= $3
		ORDER BY date ASC
	`
	rows, err := db.conn.QueryContext(ctx, query, ticker, startDate, endDate)
	if err != nil {
		return nil, fmt.Errorf("failed to get price data range: %w", err)
	}
	return scanPriceData(rows)
}

// DeletePriceDataBySourceFile removes every row loaded from one artifact
func (db *DB) DeletePriceDataBySourceFile(ctx context.Context, sourceFile string) (int64, error) {
	result, err := db.conn.ExecContext(ctx, `DELETE FROM price_data_daily WHERE source_file = $1`, sourceFile)
	if err != nil {
		return 0, fmt.Errorf("failed to delete price data for %s: %w", sourceFile, err)
	}
	return result.RowsAffected()
}

func scanPriceData(rows *sql.Rows) ([]*models.PriceDataDaily, error) {
	defer rows.Close()

	var prices []*models.PriceDataDaily
	for rows.Next() {
		var p models.PriceDataDaily
		err := rows.Scan(
			&p.ID, &p.Ticker, &p.Date, &p.Open, &p.High, &p.Low, &p.Close, &p.Volume, &p.SourceFile, &p.IngestedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan price data: %w", err)
		}
		prices = append(prices, &p)
	}
	return prices, rows.Err()
}
