package compression

import (
	"regexp"
	"strings"
)

// substitution replaces a whole word or phrase with a shorter form. Every
// table is one-to-one, so the reverse mapping is exact.
type substitution struct {
	long  string
	short string

	forward *regexp.Regexp
	reverse *regexp.Regexp
}

// Symbol substitutions, level 2 and up. Order matters: longer phrases that
// contain shorter ones come first.
var symbolTable = newTable([][2]string{
	{"leads to", "→"},
	{"results in", "⇒"},
	{"greater than or equal to", "≥"},
	{"less than or equal to", "≤"},
	{"greater than", ">"},
	{"less than", "<"},
	{"not equal to", "≠"},
	{"approximately", "≈"},
	{"therefore", "∴"},
	{"because", "∵"},
	{"without", "w/o"},
	{"with", "w/"},
	{"and", "&"},
	{"increase", "↑"},
	{"decrease", "↓"},
})

// Abbreviations, level 3 and up.
var abbreviationTable = newTable([][2]string{
	{"for example", "e.g."},
	{"configuration", "cfg"},
	{"implementation", "impl"},
	{"application", "app"},
	{"database", "db"},
	{"environment", "env"},
	{"repository", "repo"},
	{"directory", "dir"},
	{"documentation", "docs"},
	{"performance", "perf"},
	{"authentication", "authn"},
	{"authorization", "authz"},
	{"function", "fn"},
	{"parameter", "param"},
	{"arguments", "args"},
	{"request", "req"},
	{"response", "resp"},
	{"message", "msg"},
	{"information", "info"},
	{"development", "dev"},
	{"production", "prod"},
	{"dependencies", "deps"},
	{"dependency", "dep"},
	{"reference", "ref"},
	{"temporary", "tmp"},
	{"maximum", "max"},
	{"minimum", "min"},
	{"specification", "spec"},
	{"variable", "var"},
	{"error", "err"},
})

func newTable(pairs [][2]string) []substitution {
	out := make([]substitution, len(pairs))
	for i, p := range pairs {
		out[i] = substitution{
			long:    p[0],
			short:   p[1],
			forward: wordRegex(p[0]),
			reverse: wordRegex(p[1]),
		}
	}
	return out
}

// wordRegex matches s as a whole token, case-insensitively, with s itself
// in group 1. Sides where s starts or ends with a word character use a word
// boundary; symbol sides must touch whitespace, punctuation or the text edge.
func wordRegex(s string) *regexp.Regexp {
	pattern := `(` + strings.ReplaceAll(regexp.QuoteMeta(s), " ", `\s+`) + `)`
	if isWordByte(s[0]) {
		pattern = `\b` + pattern
	} else {
		pattern = `(?:^|[\s(\[])` + pattern
	}
	if isWordByte(s[len(s)-1]) {
		pattern += `\b`
	} else {
		pattern += `(?:$|[\s.,;:!?)\]])`
	}
	return regexp.MustCompile(`(?i)` + pattern)
}

func isWordByte(b byte) bool {
	return b == '_' || b >= '0' && b <= '9' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}

// apply runs every forward substitution of table over text.
func apply(table []substitution, text string) string {
	for _, s := range table {
		text = replaceToken(s.forward, text, s.short)
	}
	return text
}

// expand runs every reverse substitution of table over text, in reverse
// table order.
func expand(table []substitution, text string) string {
	for i := len(table) - 1; i >= 0; i-- {
		s := table[i]
		text = replaceToken(s.reverse, text, s.long)
	}
	return text
}

// replaceToken replaces group 1 of every match of re with repl. Boundary
// characters the pattern consumed around the token are kept.
func replaceToken(re *regexp.Regexp, text, repl string) string {
	locs := re.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		return text
	}
	var b strings.Builder
	last := 0
	for _, loc := range locs {
		b.WriteString(text[last:loc[2]])
		b.WriteString(repl)
		last = loc[3]
	}
	b.WriteString(text[last:])
	return b.String()
}
