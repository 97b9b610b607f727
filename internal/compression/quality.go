package compression

import (
	"strings"
	"unicode"
)

// Preservation score weights.
const (
	termWeight      = 0.5
	codeWeight      = 0.3
	referenceWeight = 0.2
)

// Preservation breaks a preservation score into its parts.
type Preservation struct {
	TermRetention      float64 `json:"term_retention"`
	CodeFidelity       float64 `json:"code_fidelity"`
	ReferenceIntegrity float64 `json:"reference_integrity"`
}

// Score is the weighted preservation score.
func (p Preservation) Score() float64 {
	return termWeight*p.TermRetention + codeWeight*p.CodeFidelity + referenceWeight*p.ReferenceIntegrity
}

// Measure compares compressed against original.
func Measure(original, compressed string) Preservation {
	origSegs := split(original)
	compSegs := split(compressed)
	return Preservation{
		TermRetention:      termRetention(proseOf(origSegs), proseOf(compSegs)),
		CodeFidelity:       retained(spans(origSegs, codeSpan), spans(compSegs, codeSpan)),
		ReferenceIntegrity: retained(spans(origSegs, referenceSpan), spans(compSegs, referenceSpan)),
	}
}

// proseOf joins the prose of segs. Code and references are scored on
// their own.
func proseOf(segs []segment) string {
	return strings.Join(spans(segs, prose), " ")
}

// termRetention is the share of the original's key terms found in the
// compressed text, after both are expanded through the substitution
// tables. No key terms means nothing to lose.
func termRetention(original, compressed string) float64 {
	want := extractKeywords(canonical(original))
	if len(want) == 0 {
		return 1
	}
	have := extractKeywords(canonical(compressed))
	kept := 0
	for w := range want {
		if have[w] {
			kept++
		}
	}
	return float64(kept) / float64(len(want))
}

// canonical expands abbreviations then symbols, undoing the passes in
// reverse order.
func canonical(text string) string {
	return expand(symbolTable, expand(abbreviationTable, text))
}

// retained is the share of want (with multiplicity) found exactly in have.
func retained(want, have []string) float64 {
	if len(want) == 0 {
		return 1
	}
	avail := make(map[string]int, len(have))
	for _, h := range have {
		avail[h]++
	}
	kept := 0
	for _, w := range want {
		if avail[w] > 0 {
			avail[w]--
			kept++
		}
	}
	return float64(kept) / float64(len(want))
}

// extractKeywords extracts important keywords (filtering common words)
func extractKeywords(text string) map[string]bool {
	words := extractWords(text)
	keywords := make(map[string]bool)
	for word := range words {
		if !stopWords[word] && len(word) > 3 {
			keywords[word] = true
		}
	}
	return keywords
}

// extractWords extracts all words from text
func extractWords(text string) map[string]bool {
	words := make(map[string]bool)

	var current strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			current.WriteRune(r)
		} else if current.Len() > 0 {
			words[current.String()] = true
			current.Reset()
		}
	}

	if current.Len() > 0 {
		words[current.String()] = true
	}

	return words
}

// stopWords carry no meaning of their own. Filler words the aggressive pass
// removes are included.
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true,
	"but": true, "in": true, "on": true, "at": true, "to": true,
	"for": true, "of": true, "with": true, "by": true, "from": true,
	"is": true, "are": true, "was": true, "were": true, "be": true,
	"been": true, "being": true, "have": true, "has": true, "had": true,
	"do": true, "does": true, "did": true, "will": true, "would": true,
	"should": true, "could": true, "may": true, "might": true, "must": true,
	"can": true, "this": true, "that": true, "these": true, "those": true,
	"it": true, "its": true, "as": true, "which": true, "who": true,
	"when": true, "where": true, "why": true, "how": true,
	"without": true, "than": true, "then": true, "there": true, "their": true,
	"into": true, "also": true, "some": true, "such": true, "only": true,
	"basically": true, "actually": true, "really": true, "very": true,
	"just": true, "simply": true, "quite": true, "essentially": true,
	"obviously": true, "important": true, "note": true, "please": true,
	"order": true, "matter": true, "fact": true,
}
