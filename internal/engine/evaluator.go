package engine

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"

	"github.com/roundtablehq/roundtable/models"
)

// rankCandidates sorts descending by score. At equal score an ok candidate
// ranks ahead of an error one; otherwise the stable sort preserves the
// Controller's priority order, so ranking never depends on completion order.
func rankCandidates(ranked []Candidate) {
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Message.Status == StatusOK && ranked[j].Message.Status != StatusOK
	})
}

// HeuristicEvaluator scores candidates without any model call: ok with
// content scores 1, ok without content 0.5, error 0.
type HeuristicEvaluator struct{}

func (HeuristicEvaluator) Evaluate(ctx context.Context, q models.Query, candidates []Candidate) ([]Candidate, error) {
	return scoreHeuristic(candidates), nil
}

func scoreHeuristic(candidates []Candidate) []Candidate {
	ranked := make([]Candidate, len(candidates))
	copy(ranked, candidates)
	for i := range ranked {
		ranked[i].Score = heuristicScore(ranked[i].Message)
	}
	rankCandidates(ranked)
	return ranked
}

func heuristicScore(msg Message) float64 {
	switch {
	case msg.Status == StatusError:
		return 0
	case strings.TrimSpace(msg.Content) != "" || len(msg.Results) > 0:
		return 1
	default:
		return 0.5
	}
}

// LLMEvaluator grades each ok candidate 0 to 10 with the routing model and
// normalizes to 0..1. Error candidates are pinned to 0 so they can never
// outrank an ok one. A failed grading call falls back to the heuristic score
// for that candidate.
type LLMEvaluator struct {
	llm     Completer
	model   string
	company string
	logger  *log.Logger
}

func NewLLMEvaluator(llm Completer, model, company string, logger *log.Logger) *LLMEvaluator {
	if logger == nil {
		logger = log.New(log.Writer(), "[EVAL] ", log.LstdFlags)
	}
	return &LLMEvaluator{llm: llm, model: model, company: company, logger: logger}
}

const gradeContentLimit = 2000

func (e *LLMEvaluator) Evaluate(ctx context.Context, q models.Query, candidates []Candidate) ([]Candidate, error) {
	ranked := make([]Candidate, len(candidates))
	copy(ranked, candidates)
	for i := range ranked {
		if ranked[i].Message.Status != StatusOK {
			ranked[i].Score = 0
			continue
		}
		ranked[i].Score = e.grade(ctx, q.Text, ranked[i])
	}
	rankCandidates(ranked)
	return ranked, nil
}

func (e *LLMEvaluator) grade(ctx context.Context, question string, cand Candidate) float64 {
	content := cand.Message.Content
	if len(content) > gradeContentLimit {
		content = content[:gradeContentLimit]
	}
	system := fmt.Sprintf(gradeSystemPrompt, e.company)
	user := fmt.Sprintf("Question: %s\n\nCandidate answer from %s:\n%s", question, cand.Pipeline, content)
	reply, err := e.llm.Complete(ctx, e.model, system, []models.Turn{{Role: models.RoleUser, Content: user}})
	if err != nil {
		e.logger.Printf("grading %s failed, using heuristic score: %v", cand.Pipeline, err)
		return heuristicScore(cand.Message)
	}
	score, ok := parseGrade(reply)
	if !ok {
		e.logger.Printf("grading %s returned no number, using heuristic score", cand.Pipeline)
		return heuristicScore(cand.Message)
	}
	return score / 10
}

// parseGrade finds the first numeric token in the reply and clamps it to
// 0..10.
func parseGrade(reply string) (float64, bool) {
	for _, field := range strings.Fields(reply) {
		v, err := strconv.ParseFloat(strings.Trim(field, ".,"), 64)
		if err != nil {
			continue
		}
		if v < 0 {
			v = 0
		}
		if v > 10 {
			v = 10
		}
		return v, true
	}
	return 0, false
}
