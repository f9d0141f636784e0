package corpus

import (
	"encoding/json"
	"fmt"
	"os"
)

// snapshot is the on-disk form of an index: chunks plus vectors, in order.
// BM25 state is rebuilt on load by re-indexing the chunks.
type snapshot struct {
	Chunks  []Chunk     `json:"chunks"`
	Vectors [][]float32 `json:"vectors"`
}

// Save writes the index contents to path so `index` can run once and serve
// restarts skip re-embedding.
func (ix *Index) Save(path string) error {
	ix.mu.RLock()
	snap := snapshot{Chunks: ix.chunks, Vectors: ix.vectors}
	ix.mu.RUnlock()

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return os.Rename(tmp, path)
}

// Load fills a fresh index from a previously saved snapshot. Loading into an
// index that already holds chunks is refused: the keyword index accretes and
// would keep documents the snapshot does not have.
func (ix *Index) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if len(snap.Chunks) != len(snap.Vectors) {
		return fmt.Errorf("snapshot corrupt: %d chunks vs %d vectors", len(snap.Chunks), len(snap.Vectors))
	}

	ix.ingestMu.Lock()
	defer ix.ingestMu.Unlock()
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if len(ix.chunks) > 0 {
		return fmt.Errorf("load snapshot: index already holds %d chunks", len(ix.chunks))
	}
	for _, c := range snap.Chunks {
		if err := ix.bleve.Index(c.ID, c); err != nil {
			return fmt.Errorf("reindex %s: %w", c.ID, err)
		}
	}
	ix.chunks = snap.Chunks
	ix.vectors = snap.Vectors
	ix.logger.Printf("loaded %d chunks from %s", len(ix.chunks), path)
	return nil
}
