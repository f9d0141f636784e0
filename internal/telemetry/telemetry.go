package telemetry

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/roundtablehq/roundtable/config"
)

// Telemetry keeps in-process run metrics and LLM cost accounting. Everything
// is held in memory; the Prometheus counters exposed by the HTTP server are
// maintained separately by the server itself.
type Telemetry struct {
	config      config.TelemetryConfig
	logger      *log.Logger
	mu          sync.RWMutex
	metrics     *Metrics
	costTracker *CostTracker
}

// Metrics holds aggregate counters over answer runs and pipelines.
type Metrics struct {
	TotalRuns      int64
	SuccessfulRuns int64
	FallbackRuns   int64
	AverageRunTime time.Duration

	PipelineRuns         map[string]int64
	PipelineSuccessRates map[string]float64
	PipelineAverageTimes map[string]time.Duration

	LLMRequests   map[string]int64
	LLMTokensUsed map[string]int64
}

// CostTracker accumulates LLM spend per model.
type CostTracker struct {
	ModelCosts  map[string]float64
	TotalCost   float64
	TotalTokens int64
}

// RunEvent is one complete answer run.
type RunEvent struct {
	ID         string
	Question   string
	Pipeline   string
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	Iterations int
	UnitsSpent float64
	Fallback   bool
	Success    bool
}

// PipelineEvent is one pipeline execution inside a run.
type PipelineEvent struct {
	Pipeline string
	Duration time.Duration
	Success  bool
	Error    string
}

func NewTelemetry(cfg config.TelemetryConfig) *Telemetry {
	return &Telemetry{
		config: cfg,
		logger: log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		metrics: &Metrics{
			PipelineRuns:         make(map[string]int64),
			PipelineSuccessRates: make(map[string]float64),
			PipelineAverageTimes: make(map[string]time.Duration),
			LLMRequests:          make(map[string]int64),
			LLMTokensUsed:        make(map[string]int64),
		},
		costTracker: &CostTracker{
			ModelCosts: make(map[string]float64),
		},
	}
}

// RecordRunEvent records one finished answer run.
func (t *Telemetry) RecordRunEvent(ctx context.Context, event RunEvent) {
	if t == nil || !t.config.Enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.TotalRuns++
	if event.Success {
		t.metrics.SuccessfulRuns++
	}
	if event.Fallback {
		t.metrics.FallbackRuns++
	}

	if t.metrics.TotalRuns == 1 {
		t.metrics.AverageRunTime = event.Duration
	} else {
		total := t.metrics.AverageRunTime * time.Duration(t.metrics.TotalRuns-1)
		t.metrics.AverageRunTime = (total + event.Duration) / time.Duration(t.metrics.TotalRuns)
	}

	t.logger.Printf("Run Event: ID=%s, Pipeline=%s, Fallback=%t, Iterations=%d, Units=%.1f, Duration=%v",
		event.ID, event.Pipeline, event.Fallback, event.Iterations, event.UnitsSpent, event.Duration)
}

// RecordPipelineEvent records one pipeline execution.
func (t *Telemetry) RecordPipelineEvent(ctx context.Context, event PipelineEvent) {
	if t == nil || !t.config.Enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.PipelineRuns[event.Pipeline]++
	runs := t.metrics.PipelineRuns[event.Pipeline]

	success := t.metrics.PipelineSuccessRates[event.Pipeline] * float64(runs-1)
	if event.Success {
		success += 1.0
	}
	t.metrics.PipelineSuccessRates[event.Pipeline] = success / float64(runs)

	if runs == 1 {
		t.metrics.PipelineAverageTimes[event.Pipeline] = event.Duration
	} else {
		total := t.metrics.PipelineAverageTimes[event.Pipeline] * time.Duration(runs-1)
		t.metrics.PipelineAverageTimes[event.Pipeline] = (total + event.Duration) / time.Duration(runs)
	}
}

// RecordLLMUsage records one completed LLM call.
func (t *Telemetry) RecordLLMUsage(model string, inputTokens, outputTokens int64, cost float64) {
	if t == nil || !t.config.Enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.LLMRequests[model]++
	t.metrics.LLMTokensUsed[model] += inputTokens + outputTokens

	if t.config.CostTracking {
		t.costTracker.ModelCosts[model] += cost
		t.costTracker.TotalCost += cost
		t.costTracker.TotalTokens += inputTokens + outputTokens
	}
}

// GetMetrics returns a copy of the current metrics.
func (t *Telemetry) GetMetrics() Metrics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	metrics := *t.metrics
	metrics.PipelineRuns = make(map[string]int64, len(t.metrics.PipelineRuns))
	metrics.PipelineSuccessRates = make(map[string]float64, len(t.metrics.PipelineSuccessRates))
	metrics.PipelineAverageTimes = make(map[string]time.Duration, len(t.metrics.PipelineAverageTimes))
	metrics.LLMRequests = make(map[string]int64, len(t.metrics.LLMRequests))
	metrics.LLMTokensUsed = make(map[string]int64, len(t.metrics.LLMTokensUsed))

	for k, v := range t.metrics.PipelineRuns {
		metrics.PipelineRuns[k] = v
	}
	for k, v := range t.metrics.PipelineSuccessRates {
		metrics.PipelineSuccessRates[k] = v
	}
	for k, v := range t.metrics.PipelineAverageTimes {
		metrics.PipelineAverageTimes[k] = v
	}
	for k, v := range t.metrics.LLMRequests {
		metrics.LLMRequests[k] = v
	}
	for k, v := range t.metrics.LLMTokensUsed {
		metrics.LLMTokensUsed[k] = v
	}

	return metrics
}

// CostSummary is a snapshot of accumulated LLM spend.
type CostSummary struct {
	TotalCost   float64
	TotalTokens int64
	ModelCosts  map[string]float64
}

// GetCostSummary returns a copy of the accumulated costs.
func (t *Telemetry) GetCostSummary() CostSummary {
	t.mu.RLock()
	defer t.mu.RUnlock()

	summary := CostSummary{
		TotalCost:   t.costTracker.TotalCost,
		TotalTokens: t.costTracker.TotalTokens,
		ModelCosts:  make(map[string]float64, len(t.costTracker.ModelCosts)),
	}
	for k, v := range t.costTracker.ModelCosts {
		summary.ModelCosts[k] = v
	}
	return summary
}

// Shutdown logs a final report.
func (t *Telemetry) Shutdown() {
	if t == nil || !t.config.Enabled {
		return
	}

	metrics := t.GetMetrics()
	costs := t.GetCostSummary()

	t.logger.Printf("Final Report: Runs=%d (success=%d fallback=%d), AvgTime=%v, Cost=$%.4f, Tokens=%d",
		metrics.TotalRuns, metrics.SuccessfulRuns, metrics.FallbackRuns,
		metrics.AverageRunTime, costs.TotalCost, costs.TotalTokens)
}
