package marketdata

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Quote is one daily OHLCV row.
type Quote struct {
	Date   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Table holds the quote history for one symbol, sorted by date ascending.
type Table struct {
	Symbol string
	Rows   []Quote
}

var requiredColumns = []string{"date", "open", "high", "low", "close", "volume"}

// LoadCSV reads an OHLCV CSV file. The header must contain date, open, high,
// low, close and volume columns; extra columns are ignored.
func LoadCSV(path, symbol string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("marketdata: open %s: %w", path, err)
	}
	defer f.Close()
	return Parse(f, symbol)
}

// Parse reads OHLCV rows from r. Rows are sorted by date ascending regardless
// of file order.
func Parse(r io.Reader, symbol string) (*Table, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("marketdata: read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, need := range requiredColumns {
		if _, ok := col[need]; !ok {
			return nil, fmt.Errorf("marketdata: missing column %q", need)
		}
	}

	var rows []Quote
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("marketdata: line %d: %w", line, err)
		}
		q, err := parseQuote(rec, col)
		if err != nil {
			return nil, fmt.Errorf("marketdata: line %d: %w", line, err)
		}
		rows = append(rows, q)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("marketdata: no quote rows")
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].Date.Before(rows[j].Date) })
	return &Table{Symbol: symbol, Rows: rows}, nil
}

func parseQuote(rec []string, col map[string]int) (Quote, error) {
	date, err := time.Parse("2006-01-02", strings.TrimSpace(rec[col["date"]]))
	if err != nil {
		return Quote{}, fmt.Errorf("parse date: %w", err)
	}
	q := Quote{Date: date}
	for name, dst := range map[string]*float64{
		"open":   &q.Open,
		"high":   &q.High,
		"low":    &q.Low,
		"close":  &q.Close,
		"volume": &q.Volume,
	} {
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[col[name]]), 64)
		if err != nil {
			return Quote{}, fmt.Errorf("parse %s: %w", name, err)
		}
		*dst = v
	}
	return q, nil
}
