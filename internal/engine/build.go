package engine

import (
	"context"
	"fmt"
	"log"

	"github.com/roundtablehq/roundtable/config"
	"github.com/roundtablehq/roundtable/corpus"
	"github.com/roundtablehq/roundtable/internal/telemetry"
	"github.com/roundtablehq/roundtable/models"
	"github.com/roundtablehq/roundtable/provider"
	"github.com/roundtablehq/roundtable/tools/marketdata"
	"github.com/roundtablehq/roundtable/tools/web_fetch"
	"github.com/roundtablehq/roundtable/tools/web_search"
)

const fetchMaxChars = 2000

// meteredLLM wraps the provider so every completion records token usage and
// cost with telemetry.
type meteredLLM struct {
	prov provider.Provider
	tel  *telemetry.Telemetry
}

func (m meteredLLM) Complete(ctx context.Context, model, system string, turns []models.Turn) (string, error) {
	reply, in, out, err := m.prov.CompleteWithTokens(ctx, model, system, turns)
	if err != nil {
		return "", err
	}
	m.tel.RecordLLMUsage(model, in, out, m.prov.CalculateCost(model, in, out))
	return reply, nil
}

// fetchAdapter narrows the chromedp fetcher to the PageFetcher contract.
type fetchAdapter struct {
	f *web_fetch.Fetch
}

func (a fetchAdapter) Fetch(ctx context.Context, url string) (string, error) {
	res, err := a.f.Exec(ctx, url)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// hybridRetriever swaps plain cosine retrieval for the fused
// similarity+keyword ranking.
type hybridRetriever struct {
	index *corpus.Index
}

func (h hybridRetriever) TopK(ctx context.Context, query string, k int) ([]corpus.Hit, error) {
	return h.index.SearchHybrid(ctx, query, k)
}

// BuildPipelines assembles the three concrete pipelines from configuration:
// documents (similarity retrieval over the corpus), websearch (two search
// sources with optional page-fetch enrichment) and marketdata (quote table
// statistics). Each ends in an answer step grounded on its context.
func BuildPipelines(cfg *config.Config, prov provider.Provider, index *corpus.Index, tel *telemetry.Telemetry) ([]*Pipeline, error) {
	llm := meteredLLM{prov: prov, tel: tel}
	company := cfg.General.Company

	var retriever Retriever = index
	if cfg.Retrieval.Hybrid {
		retriever = hybridRetriever{index: index}
	}
	documents := NewPipeline("documents",
		"Searches the indexed company document corpus (filings, reports, transcripts) and answers from the most similar passages.",
		Group{NewRetrieveStep(retriever, prov.CountTokens, cfg.Retrieval.TopK, cfg.Retrieval.ContextTokenLimit)},
		Group{NewAnswerStep(llm, cfg.LLM.ChatModel, company, StepRetrieve)},
	)

	primary, err := web_search.NewSource(web_search.Provider(cfg.Search.Primary), searchKeyFor(cfg, cfg.Search.Primary), cfg.Search.Timeout)
	if err != nil {
		return nil, fmt.Errorf("primary search source: %w", err)
	}
	secondary, err := web_search.NewSource(web_search.Provider(cfg.Search.Secondary), searchKeyFor(cfg, cfg.Search.Secondary), cfg.Search.Timeout)
	if err != nil {
		return nil, fmt.Errorf("secondary search source: %w", err)
	}
	groups := []Group{
		{
			NewSearchStep(StepSearchPrimary, primary, cfg.Search.MaxResults),
			NewSearchStep(StepSearchSecondary, secondary, cfg.Search.MaxResults),
		},
	}
	var extras []StepKey
	allowance := 0.0
	if cfg.Search.FetchTop > 0 {
		fetcher := fetchAdapter{f: web_fetch.New(cfg.Search.Timeout, fetchMaxChars)}
		groups = append(groups, Group{NewFetchStep(fetcher, StepSearchPrimary, cfg.Search.FetchTop)})
		extras = append(extras, StepFetch)
		allowance = float64(cfg.Search.FetchTop)
	}
	groups = append(groups,
		Group{NewAggregateStep([]StepKey{StepSearchPrimary, StepSearchSecondary}, extras...)},
		Group{NewAnswerStep(llm, cfg.LLM.ChatModel, company, StepAggregate)},
	)
	websearch := NewPipeline("websearch",
		"Runs live web searches against two providers and answers from the aggregated result snippets.",
		groups...,
	).WithAllowance(allowance)

	analyzer := marketdata.NewStatsAnalyzer(cfg.MarketData.CSVPath, cfg.MarketData.Symbol)
	market := NewPipeline("marketdata",
		"Computes summary statistics over the company's historical market data (price, volume, volatility) and answers from them.",
		Group{NewTableStep(analyzer)},
		Group{NewAnswerStep(llm, cfg.LLM.ChatModel, company, StepTable)},
	)

	return []*Pipeline{documents, websearch, market}, nil
}

func searchKeyFor(cfg *config.Config, name string) string {
	switch name {
	case "brave":
		return cfg.Search.BraveAPIKey
	case "serper":
		return cfg.Search.SerperAPIKey
	}
	return ""
}

// New assembles a ready orchestrator with the controller, evaluator and
// filter named in configuration.
func New(cfg *config.Config, prov provider.Provider, index *corpus.Index, tel *telemetry.Telemetry, logger *log.Logger) (*Orchestrator, error) {
	pipelines, err := BuildPipelines(cfg, prov, index, tel)
	if err != nil {
		return nil, err
	}

	llm := meteredLLM{prov: prov, tel: tel}
	company := cfg.General.Company

	var controller Controller
	switch cfg.Engine.Controller {
	case "", "baseline":
		controller = BaselineController{}
	case "llm":
		controller = NewLLMController(llm, cfg.LLM.RoutingModel, company, cfg.Engine.Threshold, cfg.Engine.HistoryTurns, logger)
	default:
		return nil, fmt.Errorf("unknown controller %q", cfg.Engine.Controller)
	}

	var evaluator Evaluator
	switch cfg.Engine.Evaluator {
	case "", "heuristic":
		evaluator = HeuristicEvaluator{}
	case "llm":
		evaluator = NewLLMEvaluator(llm, cfg.LLM.RoutingModel, company, logger)
	default:
		return nil, fmt.Errorf("unknown evaluator %q", cfg.Engine.Evaluator)
	}

	var filter Filter
	switch cfg.Engine.Filter {
	case "", "top":
		filter = TopFilter{}
	case "threshold":
		filter = ThresholdFilter{Threshold: cfg.Engine.Threshold / 10}
	case "report":
		filter = NewReportFilter(llm, cfg.LLM.ChatModel, company, logger)
	default:
		return nil, fmt.Errorf("unknown filter %q", cfg.Engine.Filter)
	}

	return NewOrchestrator(cfg, pipelines, controller, evaluator, filter, tel, logger), nil
}
