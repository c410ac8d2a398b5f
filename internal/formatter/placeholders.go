package formatter

import (
	"strconv"
	"strings"
)

// markerCandidates are non-printable control bytes that never appear in
// rendered chat text. Tab, newline, vertical tab, form feed and carriage
// return are excluded.
var markerCandidates = func() []byte {
	var out []byte
	for b := byte(0x01); b <= 0x08; b++ {
		out = append(out, b)
	}
	for b := byte(0x0e); b <= 0x1f; b++ {
		out = append(out, b)
	}
	return out
}()

// protector extracts spans that later passes must not touch and swaps them
// for opaque tokens. Tokens are built from a marker byte that does not occur
// anywhere in the input, so a token can never collide with user text.
type protector struct {
	marker byte
	spans  []string
}

// newProtector picks a marker absent from text. When every candidate occurs
// in text, the first candidate is removed from text so it becomes free.
func newProtector(text string) (*protector, string) {
	for _, b := range markerCandidates {
		if strings.IndexByte(text, b) < 0 {
			return &protector{marker: b}, text
		}
	}
	b := markerCandidates[0]
	return &protector{marker: b}, strings.ReplaceAll(text, string(b), "")
}

func (p *protector) token(i int) string {
	m := string(p.marker)
	return m + strconv.Itoa(i) + m
}

// protect stores span and returns the token that stands in for it.
func (p *protector) protect(span string) string {
	p.spans = append(p.spans, span)
	return p.token(len(p.spans) - 1)
}

// restore reinserts spans newest first, so a span whose content holds an
// older token gets that token resolved on a later step.
func (p *protector) restore(s string) string {
	for i := len(p.spans) - 1; i >= 0; i-- {
		s = strings.Replace(s, p.token(i), p.spans[i], 1)
	}
	return s
}
