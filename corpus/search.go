package corpus

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/blevesearch/bleve"
)

const rrfK = 60 // reciprocal-rank-fusion constant

// TopK embeds the query and returns the k most similar chunks by descending
// cosine similarity. Equal scores break by original insertion order, so the
// ranking is deterministic run to run.
func (ix *Index) TopK(ctx context.Context, query string, k int) ([]Hit, error) {
	vecs, err := ix.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors", len(vecs))
	}
	return ix.TopKVector(vecs[0], k), nil
}

// TopKVector ranks chunks against an already-computed query vector.
func (ix *Index) TopKVector(q []float32, k int) []Hit {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if k <= 0 || len(ix.chunks) == 0 {
		return nil
	}
	scored := make([]Hit, 0, len(ix.chunks))
	for i, c := range ix.chunks {
		scored = append(scored, Hit{Chunk: c, Score: cosine(q, ix.vectors[i])})
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Chunk.Ord < scored[j].Chunk.Ord
	})
	if k > len(scored) {
		k = len(scored)
	}
	scored = scored[:k]
	for i := range scored {
		scored[i].Rank = i + 1
	}
	return scored
}

// BM25Search runs a keyword query against the bleve index.
func (ix *Index) BM25Search(query string, k int) ([]Hit, error) {
	q := bleve.NewQueryStringQuery(query)
	req := bleve.NewSearchRequestOptions(q, k, 0, false)
	res, err := ix.bleve.Search(req)
	if err != nil {
		return nil, fmt.Errorf("bm25: %w", err)
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	byID := make(map[string]Chunk, len(ix.chunks))
	for _, c := range ix.chunks {
		byID[c.ID] = c
	}
	out := make([]Hit, 0, len(res.Hits))
	for i, h := range res.Hits {
		c, ok := byID[h.ID]
		if !ok {
			continue
		}
		out = append(out, Hit{Chunk: c, Score: h.Score, Rank: i + 1})
	}
	return out, nil
}

// SearchHybrid fuses vector and BM25 rankings with reciprocal rank fusion.
func (ix *Index) SearchHybrid(ctx context.Context, query string, k int) ([]Hit, error) {
	vecHits, err := ix.TopK(ctx, query, k)
	if err != nil {
		return nil, err
	}
	kwHits, err := ix.BM25Search(query, k)
	if err != nil {
		return nil, err
	}
	return FuseRRF(vecHits, kwHits, k), nil
}

// FuseRRF merges two rankings by reciprocal rank; ties break by insertion
// order like everywhere else.
func FuseRRF(a, b []Hit, k int) []Hit {
	type agg struct {
		hit   Hit
		score float64
	}
	m := map[string]*agg{}
	add := func(list []Hit) {
		for _, h := range list {
			x, ok := m[h.Chunk.ID]
			if !ok {
				x = &agg{hit: h}
				m[h.Chunk.ID] = x
			}
			x.score += 1.0 / float64(rrfK+h.Rank)
		}
	}
	add(a)
	add(b)
	fused := make([]Hit, 0, len(m))
	for _, v := range m {
		h := v.hit
		h.Score = v.score
		fused = append(fused, h)
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].Score != fused[j].Score {
			return fused[i].Score > fused[j].Score
		}
		return fused[i].Chunk.Ord < fused[j].Chunk.Ord
	})
	if k > 0 && k < len(fused) {
		fused = fused[:k]
	}
	for i := range fused {
		fused[i].Rank = i + 1
	}
	return fused
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		ai := float64(a[i])
		bi := float64(b[i])
		dot += ai * bi
		na += ai * ai
		nb += bi * bi
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
