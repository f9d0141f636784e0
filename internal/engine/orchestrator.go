package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/roundtablehq/roundtable/config"
	"github.com/roundtablehq/roundtable/internal/budget"
	"github.com/roundtablehq/roundtable/internal/telemetry"
	"github.com/roundtablehq/roundtable/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// State of the orchestrator loop.
type State string

const (
	StateRouting    State = "ROUTING"
	StateExecuting  State = "EXECUTING"
	StateEvaluating State = "EVALUATING"
	StateFiltering  State = "FILTERING"
	StateDone       State = "DONE"
)

var tracer trace.Tracer = otel.Tracer("roundtable/internal/engine")

// Orchestrator ties Controller, pipeline execution, Evaluator and Filter
// into the routing loop. Its Answer contract is total: every call returns an
// answer, real or fallback, and never an error.
type Orchestrator struct {
	engineCfg config.EngineConfig
	budgetCfg config.BudgetConfig
	logger    *log.Logger
	telemetry *telemetry.Telemetry

	pipelines  []*Pipeline
	controller Controller
	evaluator  Evaluator
	filter     Filter

	// Concurrency control over pipeline fan-out
	semaphore chan struct{}
}

func NewOrchestrator(cfg *config.Config, pipelines []*Pipeline, controller Controller, evaluator Evaluator, filter Filter, tel *telemetry.Telemetry, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.New(log.Writer(), "[ENGINE] ", log.LstdFlags)
	}
	if tel == nil {
		tel = telemetry.NewTelemetry(config.TelemetryConfig{})
	}
	maxConcurrent := cfg.Engine.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = len(pipelines)
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Orchestrator{
		engineCfg:  cfg.Engine,
		budgetCfg:  cfg.Budget,
		logger:     logger,
		telemetry:  tel,
		pipelines:  pipelines,
		controller: controller,
		evaluator:  evaluator,
		filter:     filter,
		semaphore:  make(chan struct{}, maxConcurrent),
	}
}

// Pipelines returns the registered pipelines in registration order.
func (o *Orchestrator) Pipelines() []*Pipeline { return o.pipelines }

// Answer routes the query through the loop and returns the selected answer.
// It never returns an error: a run that produces nothing usable ends with
// the fallback response, and a panic anywhere in the loop is confined here.
func (o *Orchestrator) Answer(ctx context.Context, q models.Query) (answer models.Answer) {
	start := time.Now()
	runID := uuid.New().String()

	ctx, span := tracer.Start(ctx, "engine.answer",
		trace.WithAttributes(attribute.String("run.id", runID)))
	defer span.End()

	event := telemetry.RunEvent{ID: runID, Question: q.Text, StartTime: start}
	defer func() {
		event.EndTime = time.Now()
		event.Duration = event.EndTime.Sub(event.StartTime)
		event.Pipeline = answer.Pipeline
		event.Fallback = answer.Fallback
		event.Iterations = answer.Iterations
		event.UnitsSpent = answer.UnitsSpent
		event.Success = !answer.Fallback
		o.telemetry.RecordRunEvent(ctx, event)
	}()

	defer func() {
		if r := recover(); r != nil {
			o.logger.Printf("run %s panicked: %v", runID, r)
			span.RecordError(fmt.Errorf("panic: %v", r))
			span.SetStatus(codes.Error, "panic")
			answer = models.Answer{Text: FallbackText, Fallback: true, Duration: time.Since(start)}
		}
	}()

	if o.budgetCfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.budgetCfg.Timeout)
		defer cancel()
	}

	b := o.allocateBudget()
	o.logger.Printf("run %s question=%q budget=%.0f units", runID, q.Text, b.Remaining())

	answer = o.run(ctx, runID, q, b)

	usage := b.Usage()
	answer.UnitsSpent = usage.Spent
	answer.Duration = time.Since(start)

	span.SetAttributes(
		attribute.String("answer.pipeline", answer.Pipeline),
		attribute.Bool("answer.fallback", answer.Fallback),
		attribute.Int("answer.iterations", answer.Iterations),
		attribute.Float64("budget.spent", usage.Spent),
	)
	span.SetStatus(codes.Ok, "completed")
	o.logger.Printf("run %s done pipeline=%q fallback=%t spent=%.0f in %v",
		runID, answer.Pipeline, answer.Fallback, usage.Spent, answer.Duration)
	return answer
}

func (o *Orchestrator) allocateBudget() *budget.Budget {
	if o.budgetCfg.Timeout > 0 {
		return budget.AllocateWithin(o.budgetCfg.Units, o.budgetCfg.Timeout)
	}
	return budget.Allocate(o.budgetCfg.Units)
}

func (o *Orchestrator) maxIterations() int {
	if o.budgetCfg.MaxIterations < 1 {
		return 1
	}
	return o.budgetCfg.MaxIterations
}

// run drives the ROUTING -> EXECUTING -> EVALUATING -> FILTERING loop until
// the filter accepts a candidate, the controller has nothing left to route,
// or the budget runs out. Whatever ends the loop, the best ok candidate seen
// so far (or the fallback) comes back.
func (o *Orchestrator) run(ctx context.Context, runID string, q models.Query, b *budget.Budget) models.Answer {
	var (
		state      = StateRouting
		prior      []Iteration
		route      Route
		candidates []Candidate
		ranked     []Candidate
		best       *Candidate
		iterations int
	)

	for state != StateDone {
		switch state {
		case StateRouting:
			routeCtx, routeSpan := tracer.Start(ctx, "engine.route")
			r, err := o.controller.Route(routeCtx, q, o.pipelines, b, prior)
			if err != nil {
				routeSpan.RecordError(err)
				routeSpan.SetStatus(codes.Error, err.Error())
				routeSpan.End()
				if iterations > 0 {
					o.logger.Printf("run %s controller failed after %d iteration(s): %v", runID, iterations, err)
					return o.finish(best, iterations)
				}
				o.logger.Printf("run %s controller failed, selecting all pipelines: %v", runID, err)
				r = Route{Pipelines: o.pipelines, Query: q}
			} else {
				routeSpan.SetStatus(codes.Ok, "completed")
				routeSpan.End()
			}
			if r.Done || len(r.Pipelines) == 0 {
				if !r.Done {
					o.logger.Printf("run %s: %v", runID, ErrNoCandidates)
				}
				return o.finish(best, iterations)
			}
			route = r
			iterations++
			o.logger.Printf("run %s iteration %d routing %d pipeline(s)", runID, iterations, len(route.Pipelines))
			state = StateExecuting

		case StateExecuting:
			execCtx, execSpan := tracer.Start(ctx, "engine.execute",
				trace.WithAttributes(attribute.Int("pipelines.selected", len(route.Pipelines))))
			candidates = o.execute(execCtx, route, b)
			execSpan.SetAttributes(attribute.Int("candidates", len(candidates)))
			execSpan.SetStatus(codes.Ok, "completed")
			execSpan.End()
			state = StateEvaluating

		case StateEvaluating:
			evalCtx, evalSpan := tracer.Start(ctx, "engine.evaluate")
			rk, err := o.evaluator.Evaluate(evalCtx, route.Query, candidates)
			if err != nil {
				evalSpan.RecordError(err)
				evalSpan.SetStatus(codes.Error, err.Error())
				o.logger.Printf("run %s evaluator failed, using heuristic scores: %v", runID, err)
				rk = scoreHeuristic(candidates)
			} else {
				evalSpan.SetStatus(codes.Ok, "completed")
			}
			evalSpan.End()
			ranked = rk
			for i := range ranked {
				if usable(ranked[i]) {
					if best == nil || ranked[i].Score >= best.Score {
						top := ranked[i]
						best = &top
					}
					break
				}
			}
			state = StateFiltering

		case StateFiltering:
			filterCtx, filterSpan := tracer.Start(ctx, "engine.filter")
			decision, err := o.filter.Select(filterCtx, route.Query, ranked)
			if err != nil {
				filterSpan.RecordError(err)
				filterSpan.SetStatus(codes.Error, err.Error())
				filterSpan.End()
				o.logger.Printf("run %s filter failed, finishing with best so far: %v", runID, err)
				return o.finish(best, iterations)
			}
			filterSpan.SetStatus(codes.Ok, "completed")
			filterSpan.End()

			if decision.Answer != nil {
				sel := *decision.Answer
				return models.Answer{
					Text:       sel.Message.Content,
					Pipeline:   sel.Pipeline,
					Score:      sel.Score,
					Iterations: iterations,
				}
			}

			prior = append(prior, Iteration{Candidates: ranked, Continue: decision.Retry})
			if decision.Retry && iterations < o.maxIterations() && !b.IsExpired() {
				o.logger.Printf("run %s nothing selected, routing again", runID)
				state = StateRouting
				continue
			}
			return o.finish(best, iterations)
		}
	}
	return o.finish(best, iterations)
}

// execute runs the routed pipelines concurrently and returns candidates in
// route order regardless of completion order. Each launch reserves the
// pipeline price plus the pipeline's declared working allowance out of the
// shared budget, in priority order, so when units run short it is the
// lowest-priority pipelines that go unfunded; an unfunded pipeline still
// yields an error-status candidate. The reservation is the pipeline's own
// pool: it keeps a pipeline that paid for its launch runnable even when the
// launch drained the shared budget, and a pipeline overspending its pool
// cannot stall a sibling.
func (o *Orchestrator) execute(ctx context.Context, route Route, b *budget.Budget) []Candidate {
	candidates := make([]Candidate, len(route.Pipelines))
	var wg sync.WaitGroup

	for i, p := range route.Pipelines {
		candidates[i] = Candidate{Pipeline: p.Name()}

		if b.IsExpired() {
			candidates[i].Message = errorMessage(StepPipeline, &PipelineError{Pipeline: p.Name(), Err: ErrBudgetExpired})
			continue
		}
		reserved := b.Derive(o.budgetCfg.PipelineCost + p.Allowance())

		wg.Add(1)
		go func(i int, p *Pipeline, run *budget.Budget) {
			defer wg.Done()

			select {
			case o.semaphore <- struct{}{}:
				defer func() { <-o.semaphore }()
			case <-ctx.Done():
				candidates[i].Message = errorMessage(StepPipeline, &PipelineError{Pipeline: p.Name(), Err: ctx.Err()})
				return
			}

			pctx, pspan := tracer.Start(ctx, "engine.pipeline",
				trace.WithAttributes(attribute.String("pipeline.name", p.Name())))
			start := time.Now()
			msg, err := p.Run(pctx, route.Query, run)
			if err != nil {
				pspan.RecordError(err)
				pspan.SetStatus(codes.Error, err.Error())
				msg = errorMessage(StepPipeline, err)
			} else if msg.Status == StatusError {
				pspan.SetStatus(codes.Error, msg.Content)
			} else {
				pspan.SetStatus(codes.Ok, "completed")
			}
			pspan.End()

			candidates[i].Message = msg
			o.telemetry.RecordPipelineEvent(pctx, telemetry.PipelineEvent{
				Pipeline: p.Name(),
				Duration: time.Since(start),
				Success:  msg.Status == StatusOK,
				Error:    errText(msg),
			})
		}(i, p, reserved)
	}

	wg.Wait()
	return candidates
}

// finish ends the loop with the best ok candidate seen across iterations, or
// the canned fallback when there is none.
func (o *Orchestrator) finish(best *Candidate, iterations int) models.Answer {
	if best != nil {
		return models.Answer{
			Text:       best.Message.Content,
			Pipeline:   best.Pipeline,
			Score:      best.Score,
			Iterations: iterations,
		}
	}
	return models.Answer{
		Text:       FallbackText,
		Fallback:   true,
		Iterations: iterations,
	}
}

func errText(msg Message) string {
	if msg.Status == StatusError {
		return msg.Content
	}
	return ""
}
