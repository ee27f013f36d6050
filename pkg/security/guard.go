package security

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxQuestionBytes bounds a user question.
const MaxQuestionBytes = 8 * 1024

// Category is the kind of a rejected question.
type Category string

const (
	CategorySystemOverride Category = "system_override"
	CategoryRoleHijacking  Category = "role_hijacking"
	CategoryDelimiter      Category = "delimiter_injection"
	CategoryStatement      Category = "embedded_statement"
)

// Finding describes why a question was rejected.
type Finding struct {
	Category Category `json:"category"`
	Pattern  string   `json:"pattern"`
}

type guardPattern struct {
	re       *regexp.Regexp
	category Category
	name     string
}

var guardPatterns = []guardPattern{
	{regexp.MustCompile(`(?i)ignore\s+(all\s+)?(the\s+)?(previous|prior|above)\s+instructions?`), CategorySystemOverride, "ignore previous instructions"},
	{regexp.MustCompile(`(?i)disregard\s+(your\s+|all\s+)?(instructions?|rules)`), CategorySystemOverride, "disregard instructions"},
	{regexp.MustCompile(`(?i)(reveal|print|show)\s+(me\s+)?(your|the)\s+(system\s+prompt|instructions)`), CategorySystemOverride, "reveal system prompt"},
	{regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an|in)\b`), CategoryRoleHijacking, "you are now"},
	{regexp.MustCompile(`(?i)pretend\s+(to\s+be|you\s+are)`), CategoryRoleHijacking, "pretend to be"},
	{regexp.MustCompile(`(?i)\b(developer|dan|jailbreak)\s+mode\b`), CategoryRoleHijacking, "jailbreak mode"},
	{regexp.MustCompile(`(?i)<\|?(im_start|im_end|system|endoftext)\|?>`), CategoryDelimiter, "chat template token"},
	{regexp.MustCompile(`(?im)^\s*(system|assistant)\s*:`), CategoryDelimiter, "role prefix"},
	{regexp.MustCompile(`(?i);\s*(drop|delete|truncate|alter|insert|update|grant)\s+`), CategoryStatement, "chained write statement"},
}

// QuestionGuard screens user questions before they reach the router.
type QuestionGuard struct {
	maxBytes int
}

// NewQuestionGuard creates a guard. maxBytes <= 0 uses MaxQuestionBytes.
func NewQuestionGuard(maxBytes int) *QuestionGuard {
	if maxBytes <= 0 {
		maxBytes = MaxQuestionBytes
	}
	return &QuestionGuard{maxBytes: maxBytes}
}

// Check returns the normalized question or an *APIError.
func (g *QuestionGuard) Check(question string) (string, *Finding, error) {
	if !utf8.ValidString(question) {
		return "", nil, &APIError{Code: CodeInvalidInput, Message: "question is not valid UTF-8"}
	}
	if len(question) > g.maxBytes {
		return "", nil, &APIError{Code: CodeInvalidInput, Message: fmt.Sprintf("question exceeds %d bytes", g.maxBytes)}
	}
	q := strings.TrimSpace(stripInvisible(question))
	if q == "" {
		return "", nil, &APIError{Code: CodeInvalidInput, Message: "question is empty"}
	}
	for _, p := range guardPatterns {
		if p.re.MatchString(q) {
			f := &Finding{Category: p.category, Pattern: p.name}
			return "", f, &APIError{Code: CodeRejectedPrompt, Message: "question rejected: " + p.name}
		}
	}
	return q, nil, nil
}

// stripInvisible drops zero-width and other format characters.
func stripInvisible(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.Is(unicode.Cf, r) {
			return -1
		}
		return r
	}, s)
}
