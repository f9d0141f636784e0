package corpus

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/blevesearch/bleve"
	"github.com/panjf2000/ants/v2"
)

// Embedder is the vector provider the index consumes. provider.Provider
// satisfies it.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Chunk is one indexed slice of a source document. Ord is the global
// insertion order, assigned at chunking time before any concurrent work, so
// similarity ties always break the same way.
type Chunk struct {
	ID   string `json:"id"`
	Doc  string `json:"doc"`
	Seq  int    `json:"seq"`
	Ord  int    `json:"ord"`
	Text string `json:"text"`
}

// Hit is a retrieved chunk with its similarity (or fused) score.
type Hit struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
	Rank  int     `json:"rank"`
}

// Document is raw input to ingestion.
type Document struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// Config sizes chunking and the ingestion pool.
type Config struct {
	ChunkTokens  int
	ChunkOverlap int
	Workers      int
}

func (c Config) withDefaults() Config {
	if c.ChunkTokens <= 0 {
		c.ChunkTokens = 256
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkTokens {
		c.ChunkOverlap = 20
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	return c
}

// Index holds the document corpus: chunk metadata and vectors in insertion
// order plus a BM25 index over the same chunks.
type Index struct {
	mu       sync.RWMutex
	ingestMu sync.Mutex // serializes AddDocuments so ords stay contiguous
	bleve    bleve.Index
	chunks   []Chunk
	vectors  [][]float32
	embedder Embedder
	tok      Tokenizer
	cfg      Config
	logger   *log.Logger
}

// New creates an empty in-memory index.
func New(embedder Embedder, tok Tokenizer, cfg Config, logger *log.Logger) (*Index, error) {
	if embedder == nil {
		return nil, fmt.Errorf("corpus: embedder required")
	}
	if tok == nil {
		tok = NewTokenizer("")
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[CORPUS] ", log.LstdFlags)
	}
	bi, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("bleve: %w", err)
	}
	return &Index{
		bleve:    bi,
		embedder: embedder,
		tok:      tok,
		cfg:      cfg.withDefaults(),
		logger:   logger,
	}, nil
}

// Len returns the number of indexed chunks.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.chunks)
}

const embedBatch = 64

// AddDocuments chunks every document in order, embeds the chunks through a
// bounded worker pool and indexes them. Chunk order (and therefore the
// similarity tie-break) is fixed before any concurrent work starts, so two
// ingestions of the same documents produce identical indexes regardless of
// embedding completion order.
func (ix *Index) AddDocuments(ctx context.Context, docs []Document) error {
	ix.ingestMu.Lock()
	defer ix.ingestMu.Unlock()

	ix.mu.RLock()
	base := len(ix.chunks)
	ix.mu.RUnlock()

	var pending []Chunk
	for _, d := range docs {
		parts := SplitTokens(ix.tok, d.Text, ix.cfg.ChunkTokens, ix.cfg.ChunkOverlap)
		for seq, text := range parts {
			ord := base + len(pending)
			pending = append(pending, Chunk{
				ID:   fmt.Sprintf("%s#%04d", d.Name, seq),
				Doc:  d.Name,
				Seq:  seq,
				Ord:  ord,
				Text: text,
			})
		}
	}
	if len(pending) == 0 {
		return nil
	}

	vecs := make([][]float32, len(pending))
	pool, err := ants.NewPool(ix.cfg.Workers)
	if err != nil {
		return fmt.Errorf("pool: %w", err)
	}
	defer pool.Release()

	var wg sync.WaitGroup
	var errMu sync.Mutex
	var firstErr error
	setErr := func(err error) {
		errMu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		errMu.Unlock()
	}

	for start := 0; start < len(pending); start += embedBatch {
		end := start + embedBatch
		if end > len(pending) {
			end = len(pending)
		}
		wg.Add(1)
		task := func() {
			defer wg.Done()
			texts := make([]string, 0, end-start)
			for _, c := range pending[start:end] {
				texts = append(texts, c.Text)
			}
			batch, err := ix.embedder.Embed(ctx, texts)
			if err != nil {
				setErr(fmt.Errorf("embed batch %d..%d: %w", start, end, err))
				return
			}
			copy(vecs[start:end], batch)
		}
		if err := pool.Submit(task); err != nil {
			wg.Done()
			setErr(fmt.Errorf("submit: %w", err))
			break
		}
	}
	wg.Wait()
	if firstErr != nil {
		return firstErr
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	for i, c := range pending {
		if err := ix.bleve.Index(c.ID, c); err != nil {
			return fmt.Errorf("index %s: %w", c.ID, err)
		}
		ix.chunks = append(ix.chunks, c)
		ix.vectors = append(ix.vectors, vecs[i])
	}
	ix.logger.Printf("indexed %d chunks from %d documents (total %d)", len(pending), len(docs), len(ix.chunks))
	return nil
}
