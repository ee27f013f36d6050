package router

import (
	"context"
	"regexp"
	"strings"

	"github.com/aixgo-dev/datapilot/capability"
)

var (
	greetingRe = regexp.MustCompile(`(?i)^(hi|hello|hey|howdy|greetings|good (morning|afternoon|evening)|thanks|thank you|help|what can you do)\b[\s\w,]{0,20}[!.?]*$`)
	schemaRe   = regexp.MustCompile(`(?i)^(what|which|list|show|describe)( me)?( all)?( of)?( the)?( available)? (tables?|columns?|fields|schema|datasets?)\b|\b(what|which) (tables|columns|fields|datasets) (are|do|does|exist|is|can)\b|\bthe schema\b`)
	vagueRe    = regexp.MustCompile(`(?i)^(tell me about|what about|describe|explain|what is in) (the |your |this )?(data|database|warehouse|dataset)\W*$`)
	mlRe       = regexp.MustCompile(`(?i)\b(machine learning|bqml|automl|ml models?)\b|\b((re)?train(ing)?|fit(ting)?|build(ing)?|create|deploy|evaluat(e|ing)|fine-?tun(e|ing)|score with|run inference (with|on|using))\s+(\w+\s+){0,3}models?\b|\bmodels? (training|inference|evaluation|accuracy)\b`)
	searchRe   = regexp.MustCompile(`(?i)\b(search (the )?(web|internet|online)|web search|google (it|for|search)|search online|look (it |this |that )?up online|on the (web|internet)|latest news|current (events|news|information)|news about)\b`)
	docsRe     = regexp.MustCompile(`(?i)\b(define|definition|meaning of|kpis?|formula|business rules?|glossary|documentation|docs|how (is|are) \w+( \w+)? (calculated|defined|measured)|what does \w+( \w+)? mean)\b`)
	analysisRe = regexp.MustCompile(`(?i)\b(analy[sz]e|analysis|compute|calculate|growth|trends?|correlat\w*|regression|forecast\w*|predict\w*|statistic\w*|distribution|outliers?|anomal\w*|clusters?|plot|chart|graph|visuali[sz]e|month-over-month|year-over-year|percent(age)? change|variance|std|standard deviation|median)\b`)
	dataRe     = regexp.MustCompile(`(?i)\b(show|list|how many|count|total|sum|average|avg|top|bottom|max(imum)?|min(imum)?|highest|lowest|most|least|number of|per|group(ed)? by|revenue|sales|orders?|customers?|products?|rows?|records?|select|query|data)\b`)
	followRe   = regexp.MustCompile(`(?i)\b(this|that|these|those|the previous|the last|the above|the same) (data|result|results|numbers|table|rows|query|output)\b|^(now|also|next)\b`)
	recallRe   = regexp.MustCompile(`(?i)\b(show|repeat|display|give)\b.*\b(again|previous result|last result|same result)\b`)
	splitRe    = regexp.MustCompile(`(?i)\s*(?:[,;.]\s*(?:and\s+)?then|\s+and\s+then|\s+then)\s+`)
	wordRe     = regexp.MustCompile(`\w+`)
	leadVerbRe = regexp.MustCompile(`(?i)^(please\s+)?(show( me)?|get( me)?|give me|fetch|display|retrieve|pull|find)\s+`)
)

// MentionsML reports whether question explicitly asks for model or ML work.
func MentionsML(question string) bool {
	return mlRe.MatchString(question)
}

// RuleClassifier is the deterministic keyword classifier.
type RuleClassifier struct{}

// NewRuleClassifier creates a rule classifier.
func NewRuleClassifier() *RuleClassifier { return &RuleClassifier{} }

// Classify implements Classifier. It never fails.
func (c *RuleClassifier) Classify(_ context.Context, question string, tc TurnContext) (*Plan, error) {
	q := strings.TrimSpace(question)
	plan := &Plan{Classifier: "rules"}

	switch {
	case q == "" || greetingRe.MatchString(q):
		plan.Answer = greetingAnswer(tc)
		plan.Reason = "Greeting or help request; no capabilities were needed."
	case MentionsML(q):
		plan.Steps = []Step{{Capability: capability.ML, Question: q}}
		plan.Reason = "The question explicitly asks for model work."
	case searchRe.MatchString(q):
		plan.Steps = []Step{{Capability: capability.Search, Question: q}}
		plan.Reason = "The question asks for current information from the web."
	case schemaRe.MatchString(q) && !analysisRe.MatchString(q):
		plan.Answer = schemaAnswer(tc, strings.Contains(strings.ToLower(q), "column") || strings.Contains(strings.ToLower(q), "field") || strings.Contains(strings.ToLower(q), "schema"))
		plan.Reason = schemaReason(tc)
	case vagueRe.MatchString(q):
		plan.Answer = greetingAnswer(tc)
		plan.Reason = "The question was too broad to query; described the available data instead."
	case tc.HasDBOutput && recallRe.MatchString(q):
		plan.Steps = []Step{{Capability: capability.Analysis, Question: capability.NoAnalysis}}
		plan.Reason = "Reused the last query result."
	default:
		plan.Steps = dataSteps(q, tc)
		if docsRe.MatchString(q) {
			plan.Steps = append([]Step{{Capability: capability.Docs, Question: q}}, plan.Steps...)
		}
		if len(plan.Steps) == 0 {
			plan.Answer = clarifyAnswer(tc)
			plan.Reason = "The question did not match any capability."
		}
	}

	if err := plan.Validate(q, tc); err != nil {
		// Rules only produce valid plans; keep the turn alive regardless.
		return &Plan{Intent: IntentDirectAnswer, Answer: clarifyAnswer(tc), Reason: err.Error(), Classifier: "rules"}, nil
	}
	return plan, nil
}

// dataSteps plans the SQL and analysis chain for q.
func dataSteps(q string, tc TurnContext) []Step {
	if first, rest, ok := splitCompound(q); ok {
		if analysisRe.MatchString(rest) {
			return []Step{
				{Capability: capability.SQL, Question: subject(first)},
				{Capability: capability.Analysis, Question: rest},
			}
		}
		return []Step{{Capability: capability.SQL, Question: q}}
	}

	wantsData := dataRe.MatchString(q) || mentionsTable(q, tc.Tables)
	if analysisRe.MatchString(q) {
		switch {
		case tc.HasQueryResult && followRe.MatchString(q):
			return []Step{{Capability: capability.Analysis, Question: q}}
		case wantsData:
			return []Step{
				{Capability: capability.SQL, Question: q},
				{Capability: capability.Analysis, Question: q},
			}
		case tc.HasQueryResult:
			return []Step{{Capability: capability.Analysis, Question: q}}
		default:
			return []Step{
				{Capability: capability.SQL, Question: q},
				{Capability: capability.Analysis, Question: q},
			}
		}
	}
	if wantsData {
		return []Step{{Capability: capability.SQL, Question: q}}
	}
	return nil
}

// splitCompound splits "X, then Y" into its two parts.
func splitCompound(q string) (first, rest string, ok bool) {
	loc := splitRe.FindStringIndex(q)
	if loc == nil || loc[0] == 0 || loc[1] >= len(q) {
		return "", "", false
	}
	first = strings.TrimSpace(q[:loc[0]])
	rest = strings.TrimRight(strings.TrimSpace(q[loc[1]:]), ".?!")
	if first == "" || rest == "" {
		return "", "", false
	}
	return first, rest, true
}

// subject strips a leading command verb: "Show total sales" -> "total sales".
func subject(s string) string {
	out := leadVerbRe.ReplaceAllString(strings.TrimSpace(s), "")
	if out == "" {
		return s
	}
	return out
}

// mentionsTable reports whether q names one of tables as a whole word.
// Qualified names such as "sales.orders" match as a substring.
func mentionsTable(q string, tables []string) bool {
	if len(tables) == 0 {
		return false
	}
	lower := strings.ToLower(q)
	words := make(map[string]struct{})
	for _, w := range wordRe.FindAllString(lower, -1) {
		words[w] = struct{}{}
	}
	for _, t := range tables {
		t = strings.ToLower(t)
		if t == "" {
			continue
		}
		if _, ok := words[t]; ok {
			return true
		}
		if wordRe.FindString(t) != t && strings.Contains(lower, t) {
			return true
		}
	}
	return false
}
