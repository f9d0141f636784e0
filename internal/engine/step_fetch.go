package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/roundtablehq/roundtable/internal/budget"
	"github.com/roundtablehq/roundtable/internal/helpers"
	"github.com/roundtablehq/roundtable/models"
)

// PageFetcher renders one URL and returns its readable text.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// FetchStep enriches the search context by fetching the top result pages of
// one search step. Pages are funded from a child budget carved out of the
// budget the step runs under, one unit per page, and the carve always leaves
// at least one unit behind so the steps after this one stay runnable:
// enrichment is the first thing to degrade when units run short. Results
// pointing at the same canonical URL are fetched once. The step never fails:
// pages that cannot be fetched are skipped and an empty ok message is a
// valid outcome.
type FetchStep struct {
	fetcher PageFetcher
	from    StepKey
	top     int
}

func NewFetchStep(fetcher PageFetcher, from StepKey, top int) *FetchStep {
	return &FetchStep{fetcher: fetcher, from: from, top: top}
}

func (s *FetchStep) Key() StepKey { return StepFetch }

func (s *FetchStep) Execute(ctx context.Context, q models.Query, ec *Context, b *budget.Budget) (Message, error) {
	msg, ok := ec.Get(s.from)
	if !ok || msg.Status != StatusOK || len(msg.Results) == 0 {
		return Message{Step: StepFetch, Status: StatusOK}, nil
	}

	share := float64(s.top)
	if headroom := b.Remaining() - 1; share > headroom {
		share = headroom
	}
	if share <= 0 {
		return Message{Step: StepFetch, Status: StatusOK}, nil
	}
	child := b.Derive(share)
	var parts []string
	seen := make(map[string]struct{}, s.top)
	attempts := 0
	for _, r := range msg.Results {
		if attempts >= s.top {
			break
		}
		key := r.URL
		if canon, err := helpers.CanonicalURL(r.URL); err == nil {
			key = canon
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if err := child.Consume(1); err != nil {
			break
		}
		attempts++
		text, err := s.fetcher.Fetch(ctx, r.URL)
		if err != nil || text == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s\n%s", r.Title, text))
	}
	return Message{Step: StepFetch, Status: StatusOK, Content: strings.Join(parts, "\n\n")}, nil
}
