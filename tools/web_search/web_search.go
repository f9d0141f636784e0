package web_search

import (
	"context"
	"errors"
	"time"

	"github.com/roundtablehq/roundtable/models"
	"github.com/roundtablehq/roundtable/tools/web_search/brave"
	"github.com/roundtablehq/roundtable/tools/web_search/serper"
)

// Source is one web search backend. A failing source returns an error; the
// aggregation step downstream treats that as an empty result list.
type Source interface {
	Name() string
	Search(ctx context.Context, q string, k int) ([]models.SearchResult, error)
}

type Provider string

const (
	BraveProvider  Provider = "brave"
	SerperProvider Provider = "serper"
)

var ErrUnsupportedProvider = errors.New("unsupported search provider")

// NewSource builds the named search backend.
func NewSource(provider Provider, apiKey string, timeout time.Duration) (Source, error) {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	switch provider {
	case BraveProvider:
		return brave.New(apiKey, timeout), nil
	case SerperProvider:
		return serper.New(apiKey, timeout), nil
	default:
		return nil, ErrUnsupportedProvider
	}
}
