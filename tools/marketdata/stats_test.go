package marketdata

import (
	"context"
	"math"
	"strings"
	"testing"
)

const tinyCSV = `Date,Open,High,Low,Close,Volume
2024-03-04,100,101,99,100,1000
2024-03-06,109,111,108,99,3000
2024-03-05,100,111,108,110,2000
`

func TestParseSortsByDate(t *testing.T) {
	table, err := Parse(strings.NewReader(tinyCSV), "TEST")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(table.Rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(table.Rows))
	}
	for i := 1; i < len(table.Rows); i++ {
		if !table.Rows[i-1].Date.Before(table.Rows[i].Date) {
			t.Fatalf("rows not sorted ascending at %d", i)
		}
	}
	if table.Rows[2].Close != 99 {
		t.Fatalf("expected last close 99, got %v", table.Rows[2].Close)
	}
}

func TestParseMissingColumn(t *testing.T) {
	_, err := Parse(strings.NewReader("Date,Open,High,Low,Close\n2024-01-02,1,1,1,1\n"), "TEST")
	if err == nil {
		t.Fatal("expected error for missing volume column")
	}
}

func TestParseBadRow(t *testing.T) {
	csv := "Date,Open,High,Low,Close,Volume\n2024-01-02,1,1,1,not-a-number,10\n"
	_, err := Parse(strings.NewReader(csv), "TEST")
	if err == nil {
		t.Fatal("expected error for malformed close")
	}
}

func TestComputeSummary(t *testing.T) {
	table, err := Parse(strings.NewReader(tinyCSV), "TEST")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	s, err := Compute(table)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if s.LatestClose != 99 {
		t.Errorf("latest close: got %v want 99", s.LatestClose)
	}
	if s.PeriodHigh != 111 {
		t.Errorf("period high: got %v want 111", s.PeriodHigh)
	}
	if s.PeriodLow != 99 {
		t.Errorf("period low: got %v want 99", s.PeriodLow)
	}
	if math.Abs(s.TotalReturn-(-0.01)) > 1e-9 {
		t.Errorf("total return: got %v want -0.01", s.TotalReturn)
	}
	// closes 100 -> 110 -> 99: peak 110, trough 99
	if math.Abs(s.MaxDrawdown-(-0.1)) > 1e-9 {
		t.Errorf("max drawdown: got %v want -0.1", s.MaxDrawdown)
	}
	// log returns ln(1.1), ln(0.9); sample stddev * sqrt(252)
	if math.Abs(s.AnnualVol-2.2525) > 1e-3 {
		t.Errorf("annual vol: got %v want ~2.2525", s.AnnualVol)
	}
	if s.AvgVolume != 2000 {
		t.Errorf("avg volume: got %v want 2000", s.AvgVolume)
	}
}

func TestRenderDeterministic(t *testing.T) {
	table, err := Parse(strings.NewReader(tinyCSV), "TEST")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	s, err := Compute(table)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	a, b := s.Render(), s.Render()
	if a != b {
		t.Fatal("Render is not deterministic")
	}
	for _, want := range []string{
		"symbol: TEST",
		"period: 2024-03-04 to 2024-03-06 (3 trading days)",
		"total return: -1.00%",
		"max drawdown: -10.00%",
		"average daily volume: 2000",
	} {
		if !strings.Contains(a, want) {
			t.Errorf("rendered summary missing %q:\n%s", want, a)
		}
	}
}

func TestStatsAnalyzer(t *testing.T) {
	a := NewStatsAnalyzer("testdata/msft.csv", "MSFT")
	out, err := a.Analyze(context.Background(), "how did the stock do?")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !strings.Contains(out, "symbol: MSFT") {
		t.Errorf("summary missing symbol line:\n%s", out)
	}
	if !strings.Contains(out, "latest close: 393.87") {
		t.Errorf("summary missing latest close:\n%s", out)
	}
}

func TestStatsAnalyzerMissingFile(t *testing.T) {
	a := NewStatsAnalyzer("testdata/does-not-exist.csv", "MSFT")
	if _, err := a.Analyze(context.Background(), ""); err == nil {
		t.Fatal("expected error for missing csv")
	}
	// error is sticky across calls
	if _, err := a.Analyze(context.Background(), ""); err == nil {
		t.Fatal("expected sticky error on second call")
	}
}
