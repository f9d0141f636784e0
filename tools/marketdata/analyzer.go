package marketdata

import (
	"context"
	"sync"
)

// StatsAnalyzer loads a quote table lazily and renders its summary block.
// Loading on first use keeps a missing or malformed CSV from failing process
// startup; the error surfaces as a failed analysis step instead.
type StatsAnalyzer struct {
	path   string
	symbol string

	once  sync.Once
	table *Table
	err   error
}

func NewStatsAnalyzer(csvPath, symbol string) *StatsAnalyzer {
	return &StatsAnalyzer{path: csvPath, symbol: symbol}
}

// Analyze returns the rendered summary statistics for the configured symbol.
// The statistics do not depend on the question; the answer model downstream
// interprets them against it.
func (a *StatsAnalyzer) Analyze(ctx context.Context, _ string) (string, error) {
	a.once.Do(func() {
		a.table, a.err = LoadCSV(a.path, a.symbol)
	})
	if a.err != nil {
		return "", a.err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	summary, err := Compute(a.table)
	if err != nil {
		return "", err
	}
	return summary.Render(), nil
}
