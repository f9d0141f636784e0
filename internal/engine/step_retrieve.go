package engine

import (
	"context"
	"fmt"

	"github.com/roundtablehq/roundtable/corpus"
	"github.com/roundtablehq/roundtable/internal/budget"
	"github.com/roundtablehq/roundtable/models"
)

// Retriever is the document index as the retrieve step sees it.
type Retriever interface {
	TopK(ctx context.Context, query string, k int) ([]corpus.Hit, error)
}

// RetrieveStep embeds the query, pulls the top-K most similar chunks and
// assembles them into a token-limited context block. The token counter must
// be the answer model's own tokenizer so the limit matches what the LLM
// actually sees.
type RetrieveStep struct {
	retriever Retriever
	count     func(string) int
	topK      int
	limit     int
}

func NewRetrieveStep(r Retriever, count func(string) int, topK, limit int) *RetrieveStep {
	return &RetrieveStep{retriever: r, count: count, topK: topK, limit: limit}
}

func (s *RetrieveStep) Key() StepKey { return StepRetrieve }

func (s *RetrieveStep) Execute(ctx context.Context, q models.Query, ec *Context, b *budget.Budget) (Message, error) {
	hits, err := s.retriever.TopK(ctx, q.Text, s.topK)
	if err != nil {
		return Message{}, fmt.Errorf("retrieve: %w", err)
	}
	block := corpus.BuildContext(hits, s.count, s.limit)
	return Message{Step: StepRetrieve, Status: StatusOK, Content: block}, nil
}
