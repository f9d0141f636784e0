package engine

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/roundtablehq/roundtable/models"
)

// FallbackText is the canned response returned when no pipeline produced a
// usable answer.
const FallbackText = "insufficient information"

// TopFilter selects the highest-ranked ok candidate. With none available it
// asks the orchestrator for another iteration.
type TopFilter struct{}

func (TopFilter) Select(ctx context.Context, q models.Query, ranked []Candidate) (Decision, error) {
	for i := range ranked {
		if usable(ranked[i]) {
			return Decision{Answer: &ranked[i]}, nil
		}
	}
	return Decision{Retry: true}, nil
}

// ThresholdFilter selects every ok candidate scoring at or above Threshold
// and merges them into one answer, best first. Scores are on the evaluator's
// 0..1 scale.
type ThresholdFilter struct {
	Threshold float64
}

func (f ThresholdFilter) Select(ctx context.Context, q models.Query, ranked []Candidate) (Decision, error) {
	var picked []Candidate
	for _, cand := range ranked {
		if usable(cand) && cand.Score >= f.Threshold {
			picked = append(picked, cand)
		}
	}
	if len(picked) == 0 {
		return Decision{Retry: true}, nil
	}
	if len(picked) == 1 {
		return Decision{Answer: &picked[0]}, nil
	}
	merged := mergeCandidates(picked)
	return Decision{Answer: &merged}, nil
}

// ReportFilter asks the chat model to merge every ok candidate into one
// analyst-style answer. If synthesis fails it degrades to the top ok
// candidate.
type ReportFilter struct {
	llm     Completer
	model   string
	company string
	logger  *log.Logger
}

func NewReportFilter(llm Completer, model, company string, logger *log.Logger) *ReportFilter {
	if logger == nil {
		logger = log.New(log.Writer(), "[FILTER] ", log.LstdFlags)
	}
	return &ReportFilter{llm: llm, model: model, company: company, logger: logger}
}

func (f *ReportFilter) Select(ctx context.Context, q models.Query, ranked []Candidate) (Decision, error) {
	var picked []Candidate
	for _, cand := range ranked {
		if usable(cand) {
			picked = append(picked, cand)
		}
	}
	if len(picked) == 0 {
		return Decision{Retry: true}, nil
	}
	if len(picked) == 1 {
		return Decision{Answer: &picked[0]}, nil
	}

	var notes strings.Builder
	for _, cand := range picked {
		fmt.Fprintf(&notes, "# %s\n%s\n\n", cand.Pipeline, cand.Message.Content)
	}
	system := fmt.Sprintf(reportSystemPrompt, f.company, notes.String())
	reply, err := f.llm.Complete(ctx, f.model, system, []models.Turn{{Role: models.RoleUser, Content: q.Text}})
	if err != nil {
		f.logger.Printf("report synthesis failed, returning top candidate: %v", err)
		return Decision{Answer: &picked[0]}, nil
	}
	report := strings.TrimSpace(reply)
	if report == "" {
		return Decision{Answer: &picked[0]}, nil
	}

	merged := Candidate{
		Pipeline: joinNames(picked),
		Message:  Message{Step: StepAnswer, Status: StatusOK, Content: report},
		Score:    picked[0].Score,
	}
	return Decision{Answer: &merged}, nil
}

// usable reports whether a candidate may be selected: ok status and a
// non-empty payload. Error candidates are never selected here, whatever the
// ranking looks like.
func usable(cand Candidate) bool {
	return cand.Message.Status == StatusOK && strings.TrimSpace(cand.Message.Content) != ""
}

func mergeCandidates(picked []Candidate) Candidate {
	var b strings.Builder
	for i, cand := range picked {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%s] %s", cand.Pipeline, cand.Message.Content)
	}
	return Candidate{
		Pipeline: joinNames(picked),
		Message:  Message{Step: StepAnswer, Status: StatusOK, Content: b.String()},
		Score:    picked[0].Score,
	}
}

func joinNames(picked []Candidate) string {
	names := make([]string, len(picked))
	for i, cand := range picked {
		names[i] = cand.Pipeline
	}
	return strings.Join(names, "+")
}
