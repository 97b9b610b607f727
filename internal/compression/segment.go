package compression

import (
	"regexp"
	"strings"
)

// segmentKind tells prose from the spans passes must not touch.
type segmentKind int

const (
	prose segmentKind = iota
	codeSpan
	referenceSpan
)

type segment struct {
	kind segmentKind
	text string
}

// Protected span patterns, tried in this order at each position.
var (
	fencedCodeRegex = regexp.MustCompile("(?s)```.*?(?:```|$)")
	inlineCodeRegex = regexp.MustCompile("`[^`\n]+`")
	mdLinkRegex     = regexp.MustCompile(`!?\[[^\]\n]*\]\([^)\s]*\)`)
	urlRegex        = regexp.MustCompile(`\b(?:https?|ftp|file)://[^\s<>()\[\]"'` + "`" + `]+`)
	filePathRegex   = regexp.MustCompile(`(?:~|\.{1,2})?(?:/[\w.@+-]+){2,}/?|\b[\w.-]+/[\w./-]*[\w-]+\.[A-Za-z0-9]{1,8}\b|\b[\w-]+\.(?:go|py|js|ts|tsx|jsx|rs|java|rb|c|h|cpp|hpp|cs|sh|md|yaml|yml|toml|json|sql|proto|mod|sum|txt|lock)\b`)

	protectedSpanRegex = regexp.MustCompile(strings.Join([]string{
		fencedCodeRegex.String(),
		inlineCodeRegex.String(),
		mdLinkRegex.String(),
		urlRegex.String(),
		filePathRegex.String(),
	}, "|"))
)

// split cuts content into prose and protected spans. Joining the texts of
// the result yields content.
func split(content string) []segment {
	var out []segment
	last := 0
	for _, loc := range protectedSpanRegex.FindAllStringIndex(content, -1) {
		if loc[0] > last {
			out = append(out, segment{kind: prose, text: content[last:loc[0]]})
		}
		span := content[loc[0]:loc[1]]
		kind := referenceSpan
		if strings.HasPrefix(span, "`") {
			kind = codeSpan
		}
		out = append(out, segment{kind: kind, text: span})
		last = loc[1]
	}
	if last < len(content) {
		out = append(out, segment{kind: prose, text: content[last:]})
	}
	return out
}

func join(segs []segment) string {
	var b strings.Builder
	for _, s := range segs {
		b.WriteString(s.text)
	}
	return b.String()
}

// spans returns the texts of segments of kind k.
func spans(segs []segment, k segmentKind) []string {
	var out []string
	for _, s := range segs {
		if s.kind == k {
			out = append(out, s.text)
		}
	}
	return out
}
