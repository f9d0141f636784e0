package corpus

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer turns text into token ids and back. Chunk boundaries are token
// boundaries so a chunk re-encoded later costs what the chunker measured.
type Tokenizer interface {
	Encode(text string) []int
	Decode(tokens []int) string
	Count(text string) int
}

type tiktokenTokenizer struct {
	enc *tiktoken.Tiktoken
}

func (t tiktokenTokenizer) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

func (t tiktokenTokenizer) Decode(tokens []int) string {
	return t.enc.Decode(tokens)
}

func (t tiktokenTokenizer) Count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

// NewTokenizer loads the named tiktoken encoding. When the BPE vocabulary
// cannot be loaded (offline deployments) it falls back to whitespace
// tokenization: counts become approximate but chunking stays functional.
func NewTokenizer(encoding string) Tokenizer {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return newWordTokenizer()
	}
	return tiktokenTokenizer{enc: enc}
}

type wordTok struct {
	mu      sync.Mutex
	vocab   map[string]int
	reverse []string
}

func newWordTokenizer() *wordTok {
	return &wordTok{vocab: make(map[string]int)}
}

func (w *wordTok) Encode(text string) []int {
	w.mu.Lock()
	defer w.mu.Unlock()
	fields := strings.Fields(text)
	out := make([]int, 0, len(fields))
	for _, f := range fields {
		id, ok := w.vocab[f]
		if !ok {
			id = len(w.reverse)
			w.vocab[f] = id
			w.reverse = append(w.reverse, f)
		}
		out = append(out, id)
	}
	return out
}

func (w *wordTok) Decode(tokens []int) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	parts := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t >= 0 && t < len(w.reverse) {
			parts = append(parts, w.reverse[t])
		}
	}
	return strings.Join(parts, " ")
}

func (w *wordTok) Count(text string) int {
	return len(strings.Fields(text))
}
