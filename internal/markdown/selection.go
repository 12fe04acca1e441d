package markdown

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Selection is a user selection expressed against one markdown snapshot.
type Selection struct {
	Text          string `json:"text"`
	StartOffset   int    `json:"startOffset"`
	EndOffset     int    `json:"endOffset"`
	ContextBefore string `json:"contextBefore,omitempty"`
	ContextAfter  string `json:"contextAfter,omitempty"`
}

// Range is a half-open rune range.
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Edit replaces the runes in [StartOffset, EndOffset) of one markdown
// snapshot with NewContent. An empty range is an insertion.
type Edit struct {
	StartOffset int    `json:"startOffset"`
	EndOffset   int    `json:"endOffset"`
	NewContent  string `json:"newContent"`
}

// FindSelection locates search in md. An exact match is tried first, then a
// match with whitespace runs collapsed. Without a hint the first occurrence
// wins; with one, the occurrence starting closest to *hint (earlier on ties).
func FindSelection(md, search string, hint *int) (Range, bool) {
	occ := occurrences(md, search)
	if len(occ) == 0 {
		return Range{}, false
	}
	if hint == nil {
		return occ[0], true
	}
	return closest(occ, *hint), true
}

// ResolveSelection maps a possibly stale selection onto md. Offsets that still
// address the selected text are used as is. Otherwise the text is searched
// for, preferring the occurrence nearest the old start offset, then the one
// whose surroundings match the recorded context, then the first.
func ResolveSelection(md string, sel Selection) (Range, bool) {
	if sel.Text == "" {
		return Range{}, false
	}
	n := utf8.RuneCountInString(md)
	if 0 <= sel.StartOffset && sel.StartOffset < sel.EndOffset && sel.EndOffset <= n &&
		Slice(md, sel.StartOffset, sel.EndOffset) == sel.Text {
		return Range{Start: sel.StartOffset, End: sel.EndOffset}, true
	}
	occ := occurrences(md, sel.Text)
	switch {
	case len(occ) == 0:
		return Range{}, false
	case len(occ) == 1:
		return occ[0], true
	case sel.StartOffset < sel.EndOffset && sel.StartOffset >= 0:
		return closest(occ, sel.StartOffset), true
	case sel.ContextBefore != "" || sel.ContextAfter != "":
		runes := []rune(md)
		best, bestScore := occ[0], -1
		for _, r := range occ {
			score := suffixMatch(runes[:r.Start], []rune(sel.ContextBefore)) +
				prefixMatch(runes[r.End:], []rune(sel.ContextAfter))
			if score > bestScore {
				best, bestScore = r, score
			}
		}
		return best, true
	default:
		return occ[0], true
	}
}

func closest(occ []Range, hint int) Range {
	best := occ[0]
	for _, r := range occ[1:] {
		if abs(r.Start-hint) < abs(best.Start-hint) {
			best = r
		}
	}
	return best
}

// occurrences returns every match of search in md. Exact matches take
// precedence; whitespace-insensitive matches are only reported when there
// is no exact one.
func occurrences(md, search string) []Range {
	if search == "" {
		return nil
	}
	var out []Range
	width := utf8.RuneCountInString(search)
	for from := 0; from < len(md); {
		i := strings.Index(md[from:], search)
		if i < 0 {
			break
		}
		start := utf8.RuneCountInString(md[:from+i])
		out = append(out, Range{Start: start, End: start + width})
		_, size := utf8.DecodeRuneInString(md[from+i:])
		from += i + size
	}
	if len(out) > 0 {
		return out
	}
	return normalizedOccurrences(md, search)
}

// normalizedOccurrences matches with whitespace runs collapsed and maps the
// result back to the original string by counting non-whitespace runes.
func normalizedOccurrences(md, search string) []Range {
	needle := []rune(collapse(strings.TrimSpace(search)))
	want := countNonSpace(needle)
	if want == 0 {
		return nil
	}
	hay := []rune(collapse(md))
	orig := []rune(md)

	// nonSpace[k] is the index in orig of the k-th non-whitespace rune.
	var nonSpace []int
	for i, r := range orig {
		if !unicode.IsSpace(r) {
			nonSpace = append(nonSpace, i)
		}
	}

	var out []Range
	seen := 0
	for i := 0; i+len(needle) <= len(hay); i++ {
		if i > 0 && !unicode.IsSpace(hay[i-1]) {
			seen++
		}
		if !equalRunes(hay[i:i+len(needle)], needle) {
			continue
		}
		out = append(out, Range{Start: nonSpace[seen], End: nonSpace[seen+want-1] + 1})
	}
	return out
}

func collapse(s string) string {
	var sb strings.Builder
	space := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			if !space {
				sb.WriteRune(' ')
			}
			space = true
			continue
		}
		space = false
		sb.WriteRune(r)
	}
	return sb.String()
}

func countNonSpace(rs []rune) int {
	n := 0
	for _, r := range rs {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}

func equalRunes(a, b []rune) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func suffixMatch(text, ctx []rune) int {
	n := 0
	for n < len(text) && n < len(ctx) && text[len(text)-1-n] == ctx[len(ctx)-1-n] {
		n++
	}
	return n
}

func prefixMatch(text, ctx []rune) int {
	n := 0
	for n < len(text) && n < len(ctx) && text[n] == ctx[n] {
		n++
	}
	return n
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// Slice returns the runes of s in [start, end), clamped to s.
func Slice(s string, start, end int) string {
	rs := []rune(s)
	start = min(max(start, 0), len(rs))
	end = min(max(end, start), len(rs))
	return string(rs[start:end])
}

// Splice replaces the runes of s in [start, end) with repl.
func Splice(s string, start, end int, repl string) string {
	rs := []rune(s)
	return string(rs[:start]) + repl + string(rs[end:])
}

// RuneLen is utf8.RuneCountInString.
func RuneLen(s string) int { return utf8.RuneCountInString(s) }
