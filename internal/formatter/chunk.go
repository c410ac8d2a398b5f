package formatter

import (
	"strings"
	"unicode/utf8"
)

// splitDelimiters are tried in order; the first one found in the window wins.
var splitDelimiters = []string{"\n\n", "\n", " "}

// ChunkMessage splits text into chunks of at most limit bytes. Text that fits
// is returned unchanged as a single chunk, and empty text yields one empty
// chunk. A chunk ends at the last paragraph break, line break or space
// inside the window; the delimiter stays at the end of the chunk, so joining
// the chunks reproduces text exactly. Without a delimiter the cut falls on
// the last rune boundary at or before limit. A single rune wider than limit
// is emitted whole rather than split.
func ChunkMessage(text string, limit int) []string {
	if limit < 1 {
		limit = 1
	}
	if len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	rest := text
	for len(rest) > limit {
		cut := splitPoint(rest, limit)
		chunks = append(chunks, rest[:cut])
		rest = rest[cut:]
	}
	if rest != "" {
		chunks = append(chunks, rest)
	}
	return chunks
}

func splitPoint(s string, limit int) int {
	window := s[:limit]
	for _, d := range splitDelimiters {
		if idx := strings.LastIndex(window, d); idx > 0 {
			return idx + len(d)
		}
	}

	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	if cut == 0 {
		_, size := utf8.DecodeRuneInString(s)
		cut = size
	}
	return cut
}
