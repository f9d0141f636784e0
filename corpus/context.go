package corpus

import "strings"

// BuildContext joins hit texts in ranked order, blank-line separated, stopping
// before the first chunk whose addition would push the running token count
// (separator included, measured by count) past limit. Chunks are never
// truncated mid-text, and the included set is always a prefix of hits.
func BuildContext(hits []Hit, count func(string) int, limit int) string {
	if limit <= 0 || count == nil {
		return ""
	}
	var b strings.Builder
	total := 0
	for _, h := range hits {
		cost := count(h.Chunk.Text + "\n\n")
		if total+cost > limit {
			break
		}
		total += cost
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(h.Chunk.Text)
	}
	return b.String()
}
