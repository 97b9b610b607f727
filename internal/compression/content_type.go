package compression

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/ctxrouter/internal/fingerprint"
)

// ContentKind is the broad shape of a payload. Learned compression
// effectiveness is tracked per kind and level.
type ContentKind string

const (
	// KindCode represents code content (Go, Python, JS, etc.)
	KindCode ContentKind = "code"
	// KindMarkdown represents markdown documentation
	KindMarkdown ContentKind = "markdown"
	// KindConversation represents dialog/conversation
	KindConversation ContentKind = "conversation"
	// KindMixed represents markdown with code blocks
	KindMixed ContentKind = "mixed"
	// KindPlain represents plain text
	KindPlain ContentKind = "plain"
)

var (
	// Code markers
	codeBackticksRegex = regexp.MustCompile("```[a-z]*\n")
	funcKeywordRegex   = regexp.MustCompile(`\b(func|function|def|class|interface|struct|impl)\b`)
	braceSemiRegex     = regexp.MustCompile(`[{};]`)
	indentedCodeRegex  = regexp.MustCompile(`(?m)^    \w+`)

	// Markdown markers
	headerRegex     = regexp.MustCompile(`(?m)^#{1,6}\s+.+$`)
	listRegex       = regexp.MustCompile(`(?m)^[\s]*[-*+]\s+`)
	numberedRegex   = regexp.MustCompile(`(?m)^[\s]*\d+\.\s+`)
	boldItalicRegex = regexp.MustCompile(`(\*\*|__)`)

	// Conversation markers
	conversationRegex = regexp.MustCompile(`(?m)^(Human|Assistant|User|Bot|AI):\s+`)
)

// Fingerprint is the learning fingerprint for compressing kind at level.
func Fingerprint(kind ContentKind, level int) string {
	return fingerprint.Join("compress", string(kind), strconv.Itoa(level))
}

// DetectKind identifies the primary content kind. Clear markers win; ambiguous
// content falls back to a statistical score.
func DetectKind(content string) ContentKind {
	if strings.TrimSpace(content) == "" {
		return KindPlain
	}

	hasMarkdown := hasMarkdownMarkers(content)
	hasCode := strings.Contains(content, "```") || hasCodeMarkers(content)

	switch {
	case hasMarkdown && hasCode:
		return KindMixed
	case hasCode:
		return KindCode
	case hasMarkdown:
		return KindMarkdown
	case hasConversationMarkers(content):
		return KindConversation
	}
	return detectByStatistics(content)
}

func hasCodeMarkers(content string) bool {
	if codeBackticksRegex.MatchString(content) || funcKeywordRegex.MatchString(content) {
		return true
	}

	// At least 3 indented lines suggests code
	if indentedCodeRegex.MatchString(content) {
		indented := 0
		for _, line := range strings.Split(content, "\n") {
			if strings.HasPrefix(line, "    ") {
				indented++
			}
		}
		if indented >= 3 {
			return true
		}
	}

	braces := len(braceSemiRegex.FindAllString(content, -1))
	return float64(braces)/float64(len(content)) > 0.03
}

func hasMarkdownMarkers(content string) bool {
	if headerRegex.MatchString(content) {
		return true
	}
	if listRegex.MatchString(content) || numberedRegex.MatchString(content) {
		return true
	}
	if mdLinkRegex.MatchString(content) {
		return true
	}
	return len(boldItalicRegex.FindAllString(content, -1)) >= 2
}

// hasConversationMarkers wants at least two turns.
func hasConversationMarkers(content string) bool {
	return len(conversationRegex.FindAllString(content, -1)) >= 2
}

// detectByStatistics scores ambiguous content. Plain text has a base score
// of 1 and ties keep the earlier kind.
func detectByStatistics(content string) ContentKind {
	scores := []struct {
		kind  ContentKind
		score float64
	}{
		{KindPlain, 1.0},
		{KindCode, scoreAsCode(content)},
		{KindMarkdown, scoreAsMarkdown(content)},
		{KindConversation, float64(len(conversationRegex.FindAllString(content, -1))) * 5},
	}

	best := scores[0]
	for _, s := range scores[1:] {
		if s.score > best.score {
			best = s
		}
	}
	return best.kind
}

func scoreAsCode(content string) float64 {
	score := 0.0

	braces := len(braceSemiRegex.FindAllString(content, -1))
	score += float64(braces) / float64(len(content)) * 100

	score += float64(len(funcKeywordRegex.FindAllString(content, -1))) * 2

	lines := strings.Split(content, "\n")
	indented := 0
	for _, line := range lines {
		if len(line) > 0 && (line[0] == ' ' || line[0] == '\t') {
			indented++
		}
	}
	score += float64(indented) / float64(len(lines)) * 10

	return score
}

func scoreAsMarkdown(content string) float64 {
	score := float64(len(headerRegex.FindAllString(content, -1))) * 3
	score += float64(len(listRegex.FindAllString(content, -1))) * 2
	score += float64(len(numberedRegex.FindAllString(content, -1))) * 2
	score += float64(len(mdLinkRegex.FindAllString(content, -1))) * 2
	score += float64(len(boldItalicRegex.FindAllString(content, -1))) * 0.5
	return score
}
