package database

import (
	"context"
	"fmt"
	"time"

	"github.com/trogers1052/eod-ingest-service/internal/models"
)

// ListHolidays returns a market's holidays between from and to inclusive
func (db *DB) ListHolidays(ctx context.Context, market string, from, to time.Time) ([]*models.Holiday, error) {
	query := `
		SELECT market, date, name, created_at
		FROM market_holidays
		WHERE market = $1 AND date >= $2 AND date <= $3
		ORDER BY date ASC
	`
	rows, err := db.conn.QueryContext(ctx, query, market, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list holidays: %w", err)
	}
	defer rows.Close()

	var holidays []*models.Holiday
	for rows.Next() {
		var h models.Holiday
		if err := rows.Scan(&h.Market, &h.Date, &h.Name, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan holiday: %w", err)
		}
		holidays = append(holidays, &h)
	}
	return holidays, rows.Err()
}

// UpsertHoliday creates or renames a holiday
func (db *DB) UpsertHoliday(ctx context.Context, h *models.Holiday) error {
	query := `
		INSERT INTO market_holidays (market, date, name, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (market, date) DO UPDATE SET name = EXCLUDED.name
	`
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now().UTC()
	}
	if _, err := db.conn.ExecContext(ctx, query, h.Market, h.Date, h.Name, h.CreatedAt); err != nil {
		return fmt.Errorf("failed to upsert holiday %s: %w", h.Date.Format("2006-01-02"), err)
	}
	return nil
}

// ListCalendarYears returns the years whose holidays are complete for a market
func (db *DB) ListCalendarYears(ctx context.Context, market string) ([]int, error) {
	query := `SELECT year FROM market_calendar_years WHERE market = $1 ORDER BY year ASC`
	rows, err := db.conn.QueryContext(ctx, query, market)
	if err != nil {
		return nil, fmt.Errorf("failed to list calendar years: %w", err)
	}
	defer rows.Close()

	var years []int
	for rows.Next() {
		var y int
		if err := rows.Scan(&y); err != nil {
			return nil, fmt.Errorf("failed to scan calendar year: %w", err)
		}
		years = append(years, y)
	}
	return years, rows.Err()
}

// MarkCalendarYear records that a market's holidays for year are complete
func (db *DB) MarkCalendarYear(ctx context.Context, market string, year int) error {
	query := `
		INSERT INTO market_calendar_years (market, year)
		VALUES ($1, $2)
		ON CONFLICT (market, year) DO NOTHING
	`
	if _, err := db.conn.ExecContext(ctx, query, market, year); err != nil {
		return fmt.Errorf("failed to mark calendar year %d: %w", year, err)
	}
	return nil
}
