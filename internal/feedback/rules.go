package feedback

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Feedback kinds reviewers can submit.
const (
	KindFalsePositive = "false_positive"
	KindConfirmed     = "confirmed"
	KindSeverity      = "severity"
	KindOther         = "other"
)

// Rule actions.
const (
	ActionExclude = "exclude"
	ActionInclude = "include"
)

// Rule types.
const (
	TypeKeyword = "keyword"
	TypeRegex   = "regex"
)

const (
	minTermRunes = 2
	maxTermRunes = 20

	// KeywordConfidence is assigned to terms extracted from reviewer text.
	KeywordConfidence = 0.9
)

var (
	directiveRe = regexp.MustCompile(`(关键词|关键字|排除|规则)[:：]\s*(.+)`)
	quotedRe    = regexp.MustCompile(`[“"《](.+?)[”"》]`)
	splitRe     = regexp.MustCompile(`[，,、;；\s]+`)
)

// RuleCandidate is one pattern mined from free-form reviewer feedback.
type RuleCandidate struct {
	Pattern    string
	RuleType   string
	Action     string
	Confidence float64
}

// ExtractRuleCandidates mines keyword rules out of reviewer feedback text.
// Terms come from explicit directives ("关键词：xx，yy") and from quoted
// spans; each surviving term becomes one keyword rule. judgment false
// (mention was a false positive) yields exclude rules, true yields include.
func ExtractRuleCandidates(text string, judgment bool) []RuleCandidate {
	action := ActionInclude
	if !judgment {
		action = ActionExclude
	}

	var terms []string
	for _, m := range directiveRe.FindAllStringSubmatch(text, -1) {
		terms = append(terms, splitRe.Split(m[2], -1)...)
	}
	for _, m := range quotedRe.FindAllStringSubmatch(text, -1) {
		terms = append(terms, m[1])
	}

	seen := make(map[string]struct{})
	var out []RuleCandidate
	for _, term := range terms {
		term = strings.TrimSpace(term)
		n := utf8.RuneCountInString(term)
		if n < minTermRunes || n > maxTermRunes {
			continue
		}
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}
		out = append(out, RuleCandidate{
			Pattern:    term,
			RuleType:   TypeKeyword,
			Action:     action,
			Confidence: KeywordConfidence,
		})
	}
	return out
}

// MatchRule reports whether a rule pattern hits the given text. Keyword rules
// are plain substring checks; regex rules that fail to compile never match
// (the caller logs the compile error once).
func MatchRule(ruleType, pattern, text string) (bool, error) {
	switch ruleType {
	case TypeRegex:
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false, err
		}
		return re.MatchString(text), nil
	default:
		return strings.Contains(text, pattern), nil
	}
}
