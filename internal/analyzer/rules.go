package analyzer

import (
	"regexp"
)

// categoryRule maps a pattern to a category. Rules are evaluated in order and
// the first match wins.
type categoryRule struct {
	regex    *regexp.Regexp
	category Category
}

// capabilityRule adds a capability when its pattern matches the intent.
type capabilityRule struct {
	regex      *regexp.Regexp
	capability Capability
}

// categoryRules is ordered so that build verbs shadow the generic write verbs
// ("implement and update" is a build) and fixes shadow tests ("fix failing test").
var categoryRules = []categoryRule{
	{regexp.MustCompile(`(?i)\b(?:build\w*|implement\w*|create\w*|scaffold\w*|generate\w*)\b`), CategoryBuild},
	{regexp.MustCompile(`(?i)\b(?:fix\w*|debug\w*|troubleshoot\w*|investigat\w*|diagnos\w*|analy[sz]\w*)\b`), CategoryAnalyze},
	{regexp.MustCompile(`(?i)\b(?:refactor\w*|restructur\w*|clean\s*up|cleanup|simplif\w*)\b`), CategoryRefactor},
	{regexp.MustCompile(`(?i)\b(?:tests?|testing|verify|coverage)\b`), CategoryTest},
	{regexp.MustCompile(`(?i)\b(?:write|edit\w*|updat\w*|modif\w*|rename\w*)\b`), CategoryWrite},
}

// readKindRule applies to the request kind only. An explicit read kind is
// final; the intent text cannot turn it into another category.
var readKindRule = categoryRule{
	regexp.MustCompile(`(?i)^\s*(?:read\w*|view\w*|show\w*|list\w*|search\w*|grep|find)\s*$`),
	CategoryRead,
}

// baseScore is the complexity floor of each category.
var baseScore = map[Category]float64{
	CategoryRead:     0.0,
	CategoryWrite:    0.1,
	CategoryTest:     0.1,
	CategoryAnalyze:  0.2,
	CategoryRefactor: 0.2,
	CategoryBuild:    0.2,
}

// categoryCapabilities are needed by every request of a category.
var categoryCapabilities = map[Category][]Capability{
	CategoryBuild:    {CapGeneration},
	CategoryWrite:    {CapGeneration},
	CategoryAnalyze:  {CapAnalysis},
	CategoryRefactor: {CapRefactoring},
	CategoryTest:     {CapTesting},
}

var intelligencePattern = regexp.MustCompile(`(?i)\b(?:analy[sz]\w*|design\w*|architect\w*|investigat\w*|evaluat\w*|trade-?offs?|root\s+cause|strateg\w*|assess\w*)\b`)

var capabilityRules = []capabilityRule{
	{regexp.MustCompile(`(?i)\b(?:ui|ux|dashboards?|components?|frontend|front-end|css|layout|pages?|views?)\b`), CapFrontend},
	{regexp.MustCompile(`(?i)\b(?:apis?|servers?|database\w*|db|endpoints?|backend|back-end|sql|queries)\b`), CapBackend},
	{regexp.MustCompile(`(?i)\b(?:security|secure|vulnerab\w*|auth\w*|xss|csrf|injection|secrets?)\b`), CapSecurity},
	{regexp.MustCompile(`(?i)\b(?:performance|perf|cach(?:e|es|ed|ing)|optimi[sz]\w*|latency|slow|bottleneck\w*)\b`), CapPerformance},
	{regexp.MustCompile(`(?i)\b(?:docs?|documentation|readme|document\w*|changelog)\b`), CapDocumentation},
	{regexp.MustCompile(`(?i)\b(?:architect\w*|design\w*|system\s+design)\b`), CapArchitecture},
}

// matchKind classifies the request kind: the category rules first, then the
// read rule.
func matchKind(kind string) (Category, bool) {
	if c, ok := matchCategory(kind); ok {
		return c, true
	}
	if readKindRule.regex.MatchString(kind) {
		return readKindRule.category, true
	}
	return "", false
}

func matchCategory(s string) (Category, bool) {
	if s == "" {
		return "", false
	}
	for _, r := range categoryRules {
		if r.regex.MatchString(s) {
			return r.category, true
		}
	}
	return "", false
}
