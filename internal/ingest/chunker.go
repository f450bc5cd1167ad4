package ingest

import (
	"strings"
)

// ChunkerOptions bound chunk size in characters. Overlap carries the tail
// of the previous chunk into the next one so answers spanning a chunk
// boundary still retrieve coherent context.
type ChunkerOptions struct {
	MaxChars     int
	OverlapChars int
}

func (o ChunkerOptions) withDefaults() ChunkerOptions {
	if o.MaxChars <= 0 {
		o.MaxChars = 1000
	}
	// Overlap must leave room for new content within the budget.
	if o.OverlapChars < 0 || o.OverlapChars > o.MaxChars/2 {
		o.OverlapChars = 0
	}
	return o
}

// SplitDocument breaks a markdown document into paragraph-aligned chunks of
// at most MaxChars. Paragraphs are packed together; a paragraph larger than
// the budget is hard-split. YAML frontmatter is dropped.
func SplitDocument(text string, opts ChunkerOptions) []string {
	opts = opts.withDefaults()
	text = stripFrontmatter(text)

	var chunks []string
	var cur strings.Builder
	seedLen := 0 // bytes of overlap seed at the head of cur

	// emit closes the current chunk and seeds the next one with the tail
	// of the emitted text.
	emit := func() {
		s := strings.TrimSpace(cur.String())
		cur.Reset()
		seedLen = 0
		if s == "" {
			return
		}
		chunks = append(chunks, s)
		if opts.OverlapChars > 0 {
			cur.WriteString(tailRunes(s, opts.OverlapChars))
			cur.WriteString("\n\n")
			seedLen = cur.Len()
		}
	}

	for _, para := range splitParagraphs(text) {
		for len(para) > opts.MaxChars {
			if cur.Len() > seedLen {
				emit()
			}
			if cur.Len() >= opts.MaxChars {
				// The seed alone fills the budget; drop it so the
				// split always makes progress.
				cur.Reset()
				seedLen = 0
			}
			cut := cutPoint(para, opts.MaxChars-cur.Len())
			cur.WriteString(para[:cut])
			emit()
			para = strings.TrimSpace(para[cut:])
		}
		if cur.Len()+len(para)+2 > opts.MaxChars {
			if cur.Len() > seedLen {
				emit()
			}
			if cur.Len()+len(para)+2 > opts.MaxChars {
				// Even the seed alone does not leave room; drop it.
				cur.Reset()
				seedLen = 0
			}
		}
		if cur.Len() > seedLen {
			cur.WriteString("\n\n")
		}
		cur.WriteString(para)
	}
	if cur.Len() > seedLen {
		if s := strings.TrimSpace(cur.String()); s != "" {
			chunks = append(chunks, s)
		}
	}
	return chunks
}

func splitParagraphs(text string) []string {
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// cutPoint finds a split position at most max bytes in, preferring a space
// so words survive intact, and never splitting a multi-byte rune.
func cutPoint(s string, max int) int {
	if max >= len(s) {
		return len(s)
	}
	if idx := strings.LastIndexByte(s[:max], ' '); idx > max/2 {
		return idx
	}
	cut := max
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	if cut == 0 {
		// No rune boundary within the budget; invalid UTF-8. Split
		// mid-sequence rather than stall.
		cut = max
	}
	return cut
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

func tailRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	start := len(s) - n
	for start < len(s) && !isRuneStart(s[start]) {
		start++
	}
	return s[start:]
}

func stripFrontmatter(text string) string {
	if !strings.HasPrefix(text, "---\n") && !strings.HasPrefix(text, "---\r\n") {
		return text
	}
	rest := text[3:]
	idx := strings.Index(rest, "\n---")
	if idx < 0 {
		return text
	}
	after := rest[idx+len("\n---"):]
	if nl := strings.IndexByte(after, '\n'); nl >= 0 {
		return after[nl+1:]
	}
	return ""
}
