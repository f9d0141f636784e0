package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/roundtablehq/roundtable/internal/budget"
	"github.com/roundtablehq/roundtable/models"
)

// AggregateStep concatenates the result lists of the search steps in source
// order, rendering each hit as "{title} {snippet}" separated by blank lines.
// A source whose message is missing or error-status contributes nothing;
// each source's internal ranking is preserved. Extra keys (page fetch
// output) are appended as text blocks after the snippets.
type AggregateStep struct {
	sources []StepKey
	extras  []StepKey
}

func NewAggregateStep(sources []StepKey, extras ...StepKey) *AggregateStep {
	return &AggregateStep{sources: sources, extras: extras}
}

func (s *AggregateStep) Key() StepKey { return StepAggregate }

func (s *AggregateStep) Execute(ctx context.Context, q models.Query, ec *Context, b *budget.Budget) (Message, error) {
	var parts []string
	for _, key := range s.sources {
		msg, ok := ec.Get(key)
		if !ok || msg.Status != StatusOK {
			continue
		}
		for _, r := range msg.Results {
			parts = append(parts, fmt.Sprintf("%s %s", r.Title, r.Snippet))
		}
	}
	for _, key := range s.extras {
		msg, ok := ec.Get(key)
		if !ok || msg.Status != StatusOK || msg.Content == "" {
			continue
		}
		parts = append(parts, msg.Content)
	}
	return Message{Step: StepAggregate, Status: StatusOK, Content: strings.Join(parts, "\n\n")}, nil
}
