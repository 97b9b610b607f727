package compression

import (
	"regexp"
	"strings"
)

var (
	inlineSpaceRegex   = regexp.MustCompile(`([^ \t\n])[ \t]{2,}`)
	trailingSpaceRegex = regexp.MustCompile(`[ \t]+\n`)
	blankRunRegex      = regexp.MustCompile(`\n{3,}`)

	htmlCommentRegex = regexp.MustCompile(`(?s)<!--.*?-->`)
	emphasisRegex    = regexp.MustCompile(`(\*\*|__)([^*_\n]+?)(\*\*|__)`)
	fillerRegex      = regexp.MustCompile(`(?i)\b(?:it is important to note that|please note that|as a matter of fact|in order to|basically|actually|really|very|just|simply|quite|essentially|obviously)\b ?`)

	articleRegex       = regexp.MustCompile(`(?i)\b(?:the|an|a)\b ?`)
	blankLineRegex     = regexp.MustCompile(`\n[ \t]*\n+`)
	parentheticalRegex = regexp.MustCompile(` ?\([^()\n]{1,80}\)`)
)

// fillerReplacement keeps "in order to" meaningful.
var fillerReplacement = map[string]string{"in order to": "to"}

// pass transforms one prose segment.
type pass func(string) string

// passesFor returns the prose passes of s in their fixed order.
func passesFor(s Strategy) []pass {
	if s.Level == 0 {
		return nil
	}
	ps := []pass{whitespace}
	if s.SymbolSystems {
		ps = append(ps, func(t string) string { return apply(symbolTable, t) })
	}
	if s.Abbreviations {
		ps = append(ps, func(t string) string { return apply(abbreviationTable, t) })
	}
	if s.Structural == StructuralAggressive || s.Structural == StructuralMaximal {
		ps = append(ps, aggressive)
	}
	if s.Structural == StructuralMaximal {
		ps = append(ps, maximal)
	}
	return ps
}

// whitespace collapses runs of inline blanks, strips blanks before line
// breaks and limits blank lines to one. Leading indentation is kept, and so
// is a blank at the end of the segment: it separates prose from the span
// that follows.
func whitespace(t string) string {
	t = inlineSpaceRegex.ReplaceAllString(t, "$1 ")
	t = trailingSpaceRegex.ReplaceAllString(t, "\n")
	return blankRunRegex.ReplaceAllString(t, "\n\n")
}

// aggressive drops filler phrases, emphasis markers, HTML comments and
// repeated lines.
func aggressive(t string) string {
	t = htmlCommentRegex.ReplaceAllString(t, "")
	t = emphasisRegex.ReplaceAllString(t, "$2")
	t = fillerRegex.ReplaceAllStringFunc(t, func(m string) string {
		key := strings.ToLower(strings.TrimSpace(m))
		if r, ok := fillerReplacement[key]; ok {
			return r + m[len(strings.TrimRight(m, " ")):]
		}
		return ""
	})
	return dedupeLines(t)
}

// maximal drops articles, blank lines and short parenthetical asides.
func maximal(t string) string {
	t = articleRegex.ReplaceAllString(t, "")
	t = parentheticalRegex.ReplaceAllString(t, "")
	return blankLineRegex.ReplaceAllString(t, "\n")
}

// dedupeLines removes non-blank lines that repeat an earlier line.
func dedupeLines(t string) string {
	lines := strings.Split(t, "\n")
	seen := make(map[string]bool, len(lines))
	out := lines[:0]
	for _, l := range lines {
		key := strings.TrimSpace(l)
		if key != "" {
			if seen[key] {
				continue
			}
			seen[key] = true
		}
		out = append(out, l)
	}
	return strings.Join(out, "\n")
}

// run applies the passes of s to every prose segment and reassembles the
// content. Trailing blanks are dropped only at the end of the content.
func run(segs []segment, s Strategy) string {
	ps := passesFor(s)
	out := make([]segment, len(segs))
	for i, seg := range segs {
		if seg.kind == prose {
			for _, p := range ps {
				seg.text = p(seg.text)
			}
			if len(ps) > 0 && i == len(segs)-1 {
				seg.text = strings.TrimRight(seg.text, " \t")
			}
		}
		out[i] = seg
	}
	return join(out)
}
