package engine

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"

	"github.com/roundtablehq/roundtable/internal/budget"
	"github.com/roundtablehq/roundtable/models"
)

// BaselineController selects every registered pipeline on the first
// iteration for broad recall and terminates on the next, regardless of
// outcome.
type BaselineController struct{}

func (BaselineController) Route(ctx context.Context, q models.Query, pipelines []*Pipeline, b *budget.Budget, prior []Iteration) (Route, error) {
	if len(prior) > 0 {
		return Route{Query: q, Done: true}, nil
	}
	return Route{Pipelines: pipelines, Query: q}, nil
}

// LLMController reformulates follow-up questions into standalone ones and
// scores each pipeline descriptor against the query with the routing model.
// Pipelines scoring at or above the threshold run, highest score first; ties
// keep registration order. On later iterations it re-routes only pipelines
// whose last candidate was error-status. Any LLM failure degrades to
// selecting every pipeline so routing stays total.
type LLMController struct {
	llm          Completer
	model        string
	company      string
	threshold    float64
	historyTurns int
	logger       *log.Logger
}

func NewLLMController(llm Completer, model, company string, threshold float64, historyTurns int, logger *log.Logger) *LLMController {
	if logger == nil {
		logger = log.New(log.Writer(), "[ROUTE] ", log.LstdFlags)
	}
	return &LLMController{
		llm:          llm,
		model:        model,
		company:      company,
		threshold:    threshold,
		historyTurns: historyTurns,
		logger:       logger,
	}
}

func (c *LLMController) Route(ctx context.Context, q models.Query, pipelines []*Pipeline, b *budget.Budget, prior []Iteration) (Route, error) {
	if len(prior) > 0 {
		retry := failedPipelines(prior[len(prior)-1], pipelines)
		if len(retry) == 0 {
			return Route{Query: q, Done: true}, nil
		}
		return Route{Pipelines: retry, Query: q}, nil
	}

	query := c.reformulate(ctx, q)

	var sb strings.Builder
	for _, p := range pipelines {
		d := p.Descriptor()
		fmt.Fprintf(&sb, "- %s: %s\n", d.Name, d.Description)
	}
	system := fmt.Sprintf(routeSystemPrompt, c.company, sb.String())
	reply, err := c.llm.Complete(ctx, c.model, system, []models.Turn{{Role: models.RoleUser, Content: query.Text}})
	if err != nil {
		c.logger.Printf("routing failed, selecting all pipelines: %v", err)
		return Route{Pipelines: pipelines, Query: query}, nil
	}

	scores := parseScores(reply)
	type scored struct {
		pipeline *Pipeline
		score    float64
	}
	var selected []scored
	for _, p := range pipelines {
		s, ok := scores[p.Name()]
		if !ok || s < c.threshold {
			continue
		}
		selected = append(selected, scored{pipeline: p, score: s})
	}
	sort.SliceStable(selected, func(i, j int) bool { return selected[i].score > selected[j].score })

	out := make([]*Pipeline, len(selected))
	for i, s := range selected {
		out[i] = s.pipeline
	}
	return Route{Pipelines: out, Query: query}, nil
}

// reformulate rewrites a follow-up question as a standalone one using the
// tail of the conversation. Failures keep the original query.
func (c *LLMController) reformulate(ctx context.Context, q models.Query) models.Query {
	if len(q.History) == 0 {
		return q
	}
	history := q.History
	if c.historyTurns > 0 && len(history) > c.historyTurns {
		history = history[len(history)-c.historyTurns:]
	}
	turns := make([]models.Turn, 0, len(history)+1)
	turns = append(turns, history...)
	turns = append(turns, models.Turn{Role: models.RoleUser, Content: q.Text})

	rewritten, err := c.llm.Complete(ctx, c.model, reformulateSystemPrompt, turns)
	if err != nil {
		c.logger.Printf("reformulation failed, keeping original query: %v", err)
		return q
	}
	if s := strings.TrimSpace(rewritten); s != "" {
		return models.NewQuery(s, q.History)
	}
	return q
}

// failedPipelines returns the registered pipelines whose candidate in the
// last iteration had error status, in registration order.
func failedPipelines(last Iteration, pipelines []*Pipeline) []*Pipeline {
	failed := make(map[string]bool, len(last.Candidates))
	for _, cand := range last.Candidates {
		if cand.Message.Status == StatusError {
			failed[cand.Pipeline] = true
		}
	}
	var out []*Pipeline
	for _, p := range pipelines {
		if failed[p.Name()] {
			out = append(out, p)
		}
	}
	return out
}

// parseScores reads "name;score" lines, ignoring anything malformed.
func parseScores(reply string) map[string]float64 {
	scores := make(map[string]float64)
	for _, line := range strings.Split(reply, "\n") {
		name, raw, ok := strings.Cut(line, ";")
		if !ok {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			continue
		}
		name = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(name), "-"))
		if name == "" {
			continue
		}
		scores[name] = v
	}
	return scores
}
