package corpus

// SplitTokens slices text into chunks of at most maxTokens tokens with the
// given overlap between consecutive chunks. Boundaries are token boundaries,
// so no chunk ever exceeds maxTokens as measured by the same tokenizer.
func SplitTokens(tok Tokenizer, text string, maxTokens, overlap int) []string {
	if maxTokens <= 0 {
		return nil
	}
	if overlap < 0 || overlap >= maxTokens {
		overlap = 0
	}
	ids := tok.Encode(text)
	if len(ids) == 0 {
		return nil
	}
	step := maxTokens - overlap
	var out []string
	for start := 0; start < len(ids); start += step {
		end := start + maxTokens
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, tok.Decode(ids[start:end]))
		if end == len(ids) {
			break
		}
	}
	return out
}
