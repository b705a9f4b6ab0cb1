package agent

import "regexp"

// sentenceRE matches runs of sentence terminators in Chinese and
// English, including newlines.
var sentenceRE = regexp.MustCompile(`[。！？\n.!?]+`)

// sentenceBatcher turns a stream of text deltas into whole sentences.
// Incomplete tails stay buffered until the next terminator or flush.
type sentenceBatcher struct {
	buf string
}

// feed appends a delta and returns any now-complete sentences,
// terminators included.
func (b *sentenceBatcher) feed(delta string) []string {
	b.buf += delta
	locs := sentenceRE.FindAllStringIndex(b.buf, -1)
	if len(locs) == 0 {
		return nil
	}

	var out []string
	prev := 0
	for _, loc := range locs {
		out = append(out, b.buf[prev:loc[1]])
		prev = loc[1]
	}
	b.buf = b.buf[prev:]
	return out
}

// flush returns whatever is still buffered.
func (b *sentenceBatcher) flush() string {
	s := b.buf
	b.buf = ""
	return s
}

// batchText splits text into chunks of at most maxChars runes,
// preferring sentence boundaries. Oversized sentences are hard-split.
func batchText(text string, maxChars int) []string {
	if text == "" {
		return nil
	}

	var sentences []string
	prev := 0
	for _, loc := range sentenceRE.FindAllStringIndex(text, -1) {
		sentences = append(sentences, text[prev:loc[1]])
		prev = loc[1]
	}
	if prev < len(text) {
		sentences = append(sentences, text[prev:])
	}

	var batches []string
	var current []rune
	for _, s := range sentences {
		runes := []rune(s)
		if len(current)+len(runes) > maxChars && len(current) > 0 {
			batches = append(batches, string(current))
			current = nil
		}
		for len(runes) > maxChars {
			batches = append(batches, string(runes[:maxChars]))
			runes = runes[maxChars:]
		}
		current = append(current, runes...)
	}
	if len(current) > 0 {
		batches = append(batches, string(current))
	}
	return batches
}
