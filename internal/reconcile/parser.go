package reconcile

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/trogers1052/eod-ingest-service/internal/models"
)

// artifact columns, in file order
const (
	colTicker = iota
	colDate
	colOpen
	colHigh
	colLow
	colClose
	colVolume
	numColumns
)

// ParseArtifact maps the headerless "ticker,date,open,high,low,close,volume"
// lines of an EOD file to warehouse rows stamped with their provenance.
func ParseArtifact(r io.Reader, sourceFile string, ingestedAt time.Time) ([]*models.PriceDataDaily, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = numColumns
	reader.TrimLeadingSpace = true
	reader.ReuseRecord = true

	var rows []*models.PriceDataDaily
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", sourceFile, err)
		}
		line, _ := reader.FieldPos(0)

		row, err := parseRecord(record)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", sourceFile, line, err)
		}
		row.SourceFile = sourceFile
		row.IngestedAt = ingestedAt
		rows = append(rows, row)
	}
	return rows, nil
}

func parseRecord(record []string) (*models.PriceDataDaily, error) {
	ticker := strings.ToUpper(strings.TrimSpace(record[colTicker]))
	if ticker == "" {
		return nil, errors.New("empty ticker")
	}

	date, err := models.ParseTradingDate(strings.TrimSpace(record[colDate]))
	if err != nil {
		return nil, err
	}

	var prices [4]decimal.Decimal
	for i, col := range []int{colOpen, colHigh, colLow, colClose} {
		prices[i], err = decimal.NewFromString(strings.TrimSpace(record[col]))
		if err != nil {
			return nil, fmt.Errorf("invalid price %q: %w", record[col], err)
		}
	}

	// volumes are whole shares but some files carry a trailing ".0"
	volume, err := decimal.NewFromString(strings.TrimSpace(record[colVolume]))
	if err != nil {
		return nil, fmt.Errorf("invalid volume %q: %w", record[colVolume], err)
	}

	return &models.PriceDataDaily{
		Ticker: ticker,
		Date:   date.Time(),
		Open:   prices[0],
		High:   prices[1],
		Low:    prices[2],
		Close:  prices[3],
		Volume: volume.IntPart(),
	}, nil
}
