// Package calendar supplies non-trading dates to the ingestion pipeline.
//
// A batch loads its holiday set once, before any date is processed. A
// calendar covers whole years; asking either oracle about a year it does not
// cover is an error, so an outdated calendar fails the batch instead of
// letting the skip policy treat real holidays as trading days.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/trogers1052/eod-ingest-service/internal/models"
)

// HolidayRepository is the database surface used by DBOracle
type HolidayRepository interface {
	ListHolidays(ctx context.Context, market string, from, to time.Time) ([]*models.Holiday, error)
	ListCalendarYears(ctx context.Context, market string) ([]int, error)
}

// DBOracle reads holidays from the market_holidays table
type DBOracle struct {
	repo   HolidayRepository
	market string
}

// NewDBOracle creates an oracle for market backed by repo
func NewDBOracle(repo HolidayRepository, market string) *DBOracle {
	return &DBOracle{repo: repo, market: market}
}

// HolidaysInRange returns the holidays between from and to inclusive
func (o *DBOracle) HolidaysInRange(ctx context.Context, from, to models.TradingDate) (models.HolidaySet, error) {
	if to.Before(from) {
		from, to = to, from
	}
	years, err := o.repo.ListCalendarYears(ctx, o.market)
	if err != nil {
		return nil, models.NewError(models.KindCalendar, "list calendar years", err)
	}
	if err := CheckCoverage(years, from, to); err != nil {
		return nil, models.NewError(models.KindCalendar, o.market, err)
	}

	holidays, err := o.repo.ListHolidays(ctx, o.market, from.Time(), to.Time())
	if err != nil {
		return nil, models.NewError(models.KindCalendar, "list holidays", err)
	}
	set := make(models.HolidaySet, len(holidays))
	for _, h := range holidays {
		set[models.NewTradingDate(h.Date).Key()] = struct{}{}
	}
	return set, nil
}

// HolidayWriter stores a calendar in the database
type HolidayWriter interface {
	UpsertHoliday(ctx context.Context, h *models.Holiday) error
	MarkCalendarYear(ctx context.Context, market string, year int) error
}

// Seed writes cal's holidays for market, then marks its years covered.
// A failure part way leaves the years unmarked.
func Seed(ctx context.Context, w HolidayWriter, cal *Calendar, market string) error {
	if cal.Market != "" && cal.Market != market {
		return fmt.Errorf("holiday file is for market %s, not %s", cal.Market, market)
	}
	for _, h := range cal.Holidays {
		h.Market = market
		if err := w.UpsertHoliday(ctx, h); err != nil {
			return err
		}
	}
	for _, y := range cal.Years {
		if err := w.MarkCalendarYear(ctx, market, y); err != nil {
			return err
		}
	}
	return nil
}

// File is the YAML layout read by FileOracle. Years lists every year whose
// holidays are complete in the file.
type File struct {
	Market   string      `yaml:"market"`
	Years    []int       `yaml:"years"`
	Holidays []FileEntry `yaml:"holidays"`
}

// FileEntry is one holiday line. Date accepts YYYYMMDD or YYYY-MM-DD.
type FileEntry struct {
	Date string `yaml:"date"`
	Name string `yaml:"name"`
}

// Calendar is a decoded holiday file
type Calendar struct {
	Market   string
	Years    []int
	Holidays []*models.Holiday
}

// FileOracle reads holidays from a YAML file on every call so edits apply to the next batch
type FileOracle struct {
	path string
}

// NewFileOracle creates an oracle reading path
func NewFileOracle(path string) *FileOracle {
	return &FileOracle{path: path}
}

// HolidaysInRange returns the holidays in the file between from and to inclusive
func (o *FileOracle) HolidaysInRange(_ context.Context, from, to models.TradingDate) (models.HolidaySet, error) {
	if to.Before(from) {
		from, to = to, from
	}
	data, err := os.ReadFile(o.path)
	if err != nil {
		return nil, models.NewError(models.KindCalendar, "read "+o.path, err)
	}
	cal, err := ParseFile(data)
	if err != nil {
		return nil, models.NewError(models.KindCalendar, "parse "+o.path, err)
	}
	if err := CheckCoverage(cal.Years, from, to); err != nil {
		return nil, models.NewError(models.KindCalendar, o.path, err)
	}

	set := make(models.HolidaySet)
	for _, h := range cal.Holidays {
		d := models.NewTradingDate(h.Date)
		if d.Before(from) || to.Before(d) {
			continue
		}
		set[d.Key()] = struct{}{}
	}
	return set, nil
}

// ParseFile decodes a holiday YAML document. Every holiday must fall in a
// declared year.
func ParseFile(data []byte) (*Calendar, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to decode holiday file: %w", err)
	}
	if len(f.Years) == 0 {
		return nil, errors.New("holiday file declares no covered years")
	}

	years := slices.Clone(f.Years)
	slices.Sort(years)
	cal := &Calendar{
		Market:   f.Market,
		Years:    slices.Compact(years),
		Holidays: make([]*models.Holiday, 0, len(f.Holidays)),
	}
	for i, e := range f.Holidays {
		d, err := parseEntryDate(e.Date)
		if err != nil {
			return nil, fmt.Errorf("holiday %d: %w", i+1, err)
		}
		if !slices.Contains(cal.Years, d.Time().Year()) {
			return nil, fmt.Errorf("holiday %d: %s is outside the declared years", i+1, d.Key())
		}
		cal.Holidays = append(cal.Holidays, &models.Holiday{Date: d.Time(), Name: e.Name, Market: f.Market})
	}
	return cal, nil
}

// CheckCoverage fails unless every year from from to to is in years
func CheckCoverage(years []int, from, to models.TradingDate) error {
	if to.Before(from) {
		from, to = to, from
	}
	var missing []string
	for y := from.Time().Year(); y <= to.Time().Year(); y++ {
		if !slices.Contains(years, y) {
			missing = append(missing, fmt.Sprint(y))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("holiday calendar does not cover %s", strings.Join(missing, ", "))
	}
	return nil
}

func parseEntryDate(s string) (models.TradingDate, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return models.NewTradingDate(t), nil
	}
	return models.ParseTradingDate(s)
}
