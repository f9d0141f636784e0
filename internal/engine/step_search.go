package engine

import (
	"context"
	"fmt"

	"github.com/roundtablehq/roundtable/internal/budget"
	"github.com/roundtablehq/roundtable/models"
)

// SearchSource is one web search backend as a search step sees it.
type SearchSource interface {
	Name() string
	Search(ctx context.Context, q string, k int) ([]models.SearchResult, error)
}

// SearchStep queries one web search source. A source failure becomes an
// error-status message, which the aggregation step downstream treats as an
// empty result list.
type SearchStep struct {
	key    StepKey
	source SearchSource
	k      int
}

func NewSearchStep(key StepKey, source SearchSource, k int) *SearchStep {
	return &SearchStep{key: key, source: source, k: k}
}

func (s *SearchStep) Key() StepKey { return s.key }

func (s *SearchStep) Execute(ctx context.Context, q models.Query, ec *Context, b *budget.Budget) (Message, error) {
	results, err := s.source.Search(ctx, q.Text, s.k)
	if err != nil {
		return Message{}, fmt.Errorf("search %s: %w", s.source.Name(), err)
	}
	return Message{Step: s.key, Status: StatusOK, Results: results}, nil
}
