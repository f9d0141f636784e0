package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/roundtablehq/roundtable/internal/budget"
	"github.com/roundtablehq/roundtable/models"
)

// Completer is the LLM as the engine sees it.
type Completer interface {
	Complete(ctx context.Context, model, system string, turns []models.Turn) (string, error)
}

// AnswerStep asks the LLM to answer the question grounded on the context
// blocks produced by earlier steps. A rate limit or timeout from the
// provider surfaces as an error-status message, not a pipeline abort.
type AnswerStep struct {
	llm     Completer
	model   string
	company string
	from    []StepKey
}

func NewAnswerStep(llm Completer, model, company string, from ...StepKey) *AnswerStep {
	return &AnswerStep{llm: llm, model: model, company: company, from: from}
}

func (s *AnswerStep) Key() StepKey { return StepAnswer }

func (s *AnswerStep) Execute(ctx context.Context, q models.Query, ec *Context, b *budget.Budget) (Message, error) {
	var blocks []string
	for _, key := range s.from {
		msg, ok := ec.Get(key)
		if !ok || msg.Status != StatusOK || strings.TrimSpace(msg.Content) == "" {
			continue
		}
		blocks = append(blocks, msg.Content)
	}
	if len(blocks) == 0 {
		return Message{}, fmt.Errorf("answer: no grounded context available")
	}

	system := fmt.Sprintf(answerSystemPrompt, s.company, strings.Join(blocks, "\n\n"))
	turns := make([]models.Turn, 0, len(q.History)+1)
	turns = append(turns, q.History...)
	turns = append(turns, models.Turn{Role: models.RoleUser, Content: q.Text})

	reply, err := s.llm.Complete(ctx, s.model, system, turns)
	if err != nil {
		return Message{}, fmt.Errorf("answer: %w", err)
	}
	return Message{Step: StepAnswer, Status: StatusOK, Content: strings.TrimSpace(reply)}, nil
}
