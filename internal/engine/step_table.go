package engine

import (
	"context"
	"fmt"

	"github.com/roundtablehq/roundtable/internal/budget"
	"github.com/roundtablehq/roundtable/models"
)

// TableAnalyzer runs the tabular analysis for one question and returns a
// text block of findings.
type TableAnalyzer interface {
	Analyze(ctx context.Context, question string) (string, error)
}

// TableStep produces the market data statistics block the answer step is
// grounded on.
type TableStep struct {
	analyzer TableAnalyzer
}

func NewTableStep(analyzer TableAnalyzer) *TableStep {
	return &TableStep{analyzer: analyzer}
}

func (s *TableStep) Key() StepKey { return StepTable }

func (s *TableStep) Execute(ctx context.Context, q models.Query, ec *Context, b *budget.Budget) (Message, error) {
	text, err := s.analyzer.Analyze(ctx, q.Text)
	if err != nil {
		return Message{}, fmt.Errorf("table analysis: %w", err)
	}
	return Message{Step: StepTable, Status: StatusOK, Content: text}, nil
}
