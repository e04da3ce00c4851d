package services

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"conversepdf/internal/apperr"
)

// Chunker splits document text into overlapping passages of at most
// chunkSize runes, preferring paragraph and sentence boundaries.
type Chunker struct {
	chunkSize      int
	overlap        int
	sentenceRegex  *regexp.Regexp
	paragraphRegex *regexp.Regexp
}

type segment struct {
	text      string
	paraStart bool
}

// NewChunker validates the configuration. chunkSize must be positive and
// strictly greater than overlap, which must not be negative.
func NewChunker(chunkSize, overlap int) (*Chunker, error) {
	if chunkSize <= 0 {
		return nil, apperr.Errorf(apperr.KindInvalidConfiguration, "chunker", "chunk size must be positive, got %d", chunkSize)
	}
	if overlap < 0 || overlap >= chunkSize {
		return nil, apperr.Errorf(apperr.KindInvalidConfiguration, "chunker", "overlap must be in [0, %d), got %d", chunkSize, overlap)
	}
	return &Chunker{
		chunkSize:      chunkSize,
		overlap:        overlap,
		sentenceRegex:  regexp.MustCompile(`[.!?]+\s+`),
		paragraphRegex: regexp.MustCompile(`\n\s*\n`),
	}, nil
}

// SplitText is a one-shot helper around NewChunker and Split.
func SplitText(text string, chunkSize, overlap int) ([]string, error) {
	c, err := NewChunker(chunkSize, overlap)
	if err != nil {
		return nil, err
	}
	return c.Split(text), nil
}

// ChunkSize returns the configured maximum chunk length in runes.
func (c *Chunker) ChunkSize() int { return c.chunkSize }

// Overlap returns the configured overlap in runes.
func (c *Chunker) Overlap() int { return c.overlap }

// Split returns the ordered chunks of text. Whitespace-only input yields none.
func (c *Chunker) Split(text string) []string {
	segments := c.segments(text)
	if len(segments) == 0 {
		return nil
	}

	var chunks []string
	var current strings.Builder
	currentLen := 0

	for _, seg := range segments {
		sep := " "
		if seg.paraStart {
			sep = "\n\n"
		}
		segLen := utf8.RuneCountInString(seg.text)

		if currentLen == 0 {
			current.WriteString(seg.text)
			currentLen = segLen
			continue
		}
		if currentLen+len(sep)+segLen <= c.chunkSize {
			current.WriteString(sep)
			current.WriteString(seg.text)
			currentLen += len(sep) + segLen
			continue
		}

		prev := current.String()
		chunks = append(chunks, prev)

		current.Reset()
		currentLen = 0
		tail := c.overlapTail(prev, c.chunkSize-segLen-len(sep))
		if tail != "" {
			current.WriteString(tail)
			current.WriteString(sep)
			currentLen = utf8.RuneCountInString(tail) + len(sep)
		}
		current.WriteString(seg.text)
		currentLen += segLen
	}

	if currentLen > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

// segments breaks text into paragraph-tagged sentences, each short enough
// to leave room for the overlap carried into the next chunk.
func (c *Chunker) segments(text string) []segment {
	limit := c.chunkSize - c.overlap - 2
	if limit < 1 {
		limit = c.chunkSize - c.overlap
	}

	var out []segment
	for _, paragraph := range c.paragraphRegex.Split(text, -1) {
		paragraph = strings.Join(strings.Fields(paragraph), " ")
		if paragraph == "" {
			continue
		}
		first := true
		for _, sentence := range c.sentences(paragraph) {
			for _, piece := range hardSplit(sentence, limit) {
				out = append(out, segment{text: piece, paraStart: first})
				first = false
			}
		}
	}
	return out
}

func (c *Chunker) sentences(paragraph string) []string {
	var out []string
	start := 0
	for _, m := range c.sentenceRegex.FindAllStringIndex(paragraph, -1) {
		if s := strings.TrimSpace(paragraph[start:m[1]]); s != "" {
			out = append(out, s)
		}
		start = m[1]
	}
	if s := strings.TrimSpace(paragraph[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

// hardSplit cuts s into pieces of at most limit runes, at the last space in
// the second half of the window when there is one.
func hardSplit(s string, limit int) []string {
	runes := []rune(s)
	if len(runes) <= limit {
		return []string{s}
	}

	var out []string
	for len(runes) > limit {
		cut := limit
		for i := limit - 1; i > 0 && i >= limit/2; i-- {
			if unicode.IsSpace(runes[i]) {
				cut = i
				break
			}
		}
		if piece := strings.TrimSpace(string(runes[:cut])); piece != "" {
			out = append(out, piece)
		}
		runes = []rune(strings.TrimLeftFunc(string(runes[cut:]), unicode.IsSpace))
	}
	if len(runes) > 0 {
		out = append(out, string(runes))
	}
	return out
}

// overlapTail returns a suffix of prev of at most min(overlap, budget) runes,
// starting at a word boundary when the window contains one.
func (c *Chunker) overlapTail(prev string, budget int) string {
	n := c.overlap
	if budget < n {
		n = budget
	}
	if n <= 0 {
		return ""
	}

	runes := []rune(prev)
	if n >= len(runes) {
		return prev
	}

	tail := runes[len(runes)-n:]
	if !unicode.IsSpace(runes[len(runes)-n-1]) {
		for i, r := range tail {
			if unicode.IsSpace(r) {
				if i < len(tail)-1 {
					tail = tail[i+1:]
				}
				break
			}
		}
	}
	return strings.TrimLeftFunc(string(tail), unicode.IsSpace)
}
