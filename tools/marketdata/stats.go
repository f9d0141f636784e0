package marketdata

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// tradingDaysPerYear scales daily volatility to an annual figure.
const tradingDaysPerYear = 252

// Summary is the deterministic statistics block computed over a quote table.
// The same table always renders the same text.
type Summary struct {
	Symbol      string
	From        time.Time
	To          time.Time
	Days        int
	LatestClose float64
	PeriodHigh  float64
	PeriodLow   float64
	TotalReturn float64
	AnnualVol   float64
	MaxDrawdown float64
	AvgVolume   float64
}

// Compute derives summary statistics from t. Rows must be sorted by date
// ascending, which Parse guarantees.
func Compute(t *Table) (Summary, error) {
	if t == nil || len(t.Rows) == 0 {
		return Summary{}, fmt.Errorf("marketdata: empty quote table")
	}
	rows := t.Rows
	first, last := rows[0], rows[len(rows)-1]

	high, low := rows[0].High, rows[0].Low
	var volSum float64
	for _, q := range rows {
		if q.High > high {
			high = q.High
		}
		if q.Low < low {
			low = q.Low
		}
		volSum += q.Volume
	}

	var totalReturn float64
	if first.Close > 0 {
		totalReturn = (last.Close - first.Close) / first.Close
	}

	return Summary{
		Symbol:      t.Symbol,
		From:        first.Date,
		To:          last.Date,
		Days:        len(rows),
		LatestClose: last.Close,
		PeriodHigh:  high,
		PeriodLow:   low,
		TotalReturn: totalReturn,
		AnnualVol:   annualVolatility(rows),
		MaxDrawdown: maxDrawdown(rows),
		AvgVolume:   volSum / float64(len(rows)),
	}, nil
}

// annualVolatility is the sample standard deviation of daily log returns
// scaled by sqrt(252). Fewer than three rows yield zero.
func annualVolatility(rows []Quote) float64 {
	var rets []float64
	for i := 1; i < len(rows); i++ {
		if rows[i-1].Close > 0 && rows[i].Close > 0 {
			rets = append(rets, math.Log(rows[i].Close/rows[i-1].Close))
		}
	}
	if len(rets) < 2 {
		return 0
	}
	var mean float64
	for _, r := range rets {
		mean += r
	}
	mean /= float64(len(rets))
	var ss float64
	for _, r := range rets {
		d := r - mean
		ss += d * d
	}
	return math.Sqrt(ss/float64(len(rets)-1)) * math.Sqrt(tradingDaysPerYear)
}

// maxDrawdown is the largest peak-to-trough decline on closes, as a negative
// fraction (0 when closes never fall below a prior peak).
func maxDrawdown(rows []Quote) float64 {
	peak := rows[0].Close
	var mdd float64
	for _, q := range rows {
		if q.Close > peak {
			peak = q.Close
		}
		if peak > 0 {
			dd := (q.Close - peak) / peak
			if dd < mdd {
				mdd = dd
			}
		}
	}
	return mdd
}

// Render formats the summary as the plain text block fed to the answer model.
func (s Summary) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "symbol: %s\n", s.Symbol)
	fmt.Fprintf(&b, "period: %s to %s (%d trading days)\n",
		s.From.Format("2006-01-02"), s.To.Format("2006-01-02"), s.Days)
	fmt.Fprintf(&b, "latest close: %.2f\n", s.LatestClose)
	fmt.Fprintf(&b, "period high: %.2f\n", s.PeriodHigh)
	fmt.Fprintf(&b, "period low: %.2f\n", s.PeriodLow)
	fmt.Fprintf(&b, "total return: %+.2f%%\n", s.TotalReturn*100)
	fmt.Fprintf(&b, "annualized volatility: %.2f%%\n", s.AnnualVol*100)
	fmt.Fprintf(&b, "max drawdown: %.2f%%\n", s.MaxDrawdown*100)
	fmt.Fprintf(&b, "average daily volume: %.0f", s.AvgVolume)
	return b.String()
}
