// Package compose renders the final markdown answer of a turn.
//
// The output has exactly the top-level sections "## Result" and
// "## Explanation", plus "## Graph" when a capability produced a renderable
// artifact. Headings inside capability output are demoted so no other
// top-level section can appear.
package compose

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/aixgo-dev/datapilot/capability"
)

// Section headings.
const (
	ResultHeading      = "## Result"
	ExplanationHeading = "## Explanation"
	GraphHeading       = "## Graph"
)

// Step is one capability invocation of the turn, in invocation order.
type Step struct {
	Capability string
	Question   string
	Result     *capability.Result
	Err        error
}

// Input is everything the composer needs for one turn.
type Input struct {
	// Direct is the capability-free answer, when no capability was dispatched.
	Direct string
	// Reason explains why the direct answer needed no capability.
	Reason string
	Steps  []Step
	// Err is the error that failed the turn, if any.
	Err error
}

var labels = map[string]string{
	capability.SQL:      "Data retrieval",
	capability.Analysis: "Data analysis",
	capability.ML:       "Machine learning",
	capability.Docs:     "Documentation lookup",
	capability.Search:   "Web search",
}

// Label returns the human name of a capability.
func Label(name string) string {
	if l, ok := labels[name]; ok {
		return l
	}
	return name
}

// Compose renders in as markdown.
func Compose(in Input) string {
	var b strings.Builder

	b.WriteString(ResultHeading + "\n\n")
	b.WriteString(demote(summary(in)))
	b.WriteString("\n\n" + ExplanationHeading + "\n\n")
	b.WriteString(explanation(in))

	if graph := graphs(in.Steps); graph != "" {
		b.WriteString("\n\n" + GraphHeading + "\n\n")
		b.WriteString(graph)
	}
	b.WriteString("\n")
	return b.String()
}

func summary(in Input) string {
	if in.Err != nil {
		return fmt.Sprintf("The request could not be completed: %s", failureText(in.Err))
	}
	if len(in.Steps) == 0 {
		return strings.TrimSpace(in.Direct)
	}

	// The last useful result of the chain answers the question; documentation
	// and unavailable notices only stand in when nothing else produced output.
	var fallback []string
	for i := len(in.Steps) - 1; i >= 0; i-- {
		s := in.Steps[i]
		if s.Err != nil || s.Result.Empty() {
			continue
		}
		if s.Result.Unavailable || s.Capability == capability.Docs {
			fallback = append([]string{s.Result.Text}, fallback...)
			continue
		}
		return strings.TrimSpace(s.Result.Text)
	}
	for _, s := range in.Steps {
		var ue *capability.UnavailableError
		if errors.As(s.Err, &ue) {
			fallback = append(fallback, unavailableText(ue))
		}
	}
	if len(fallback) == 0 {
		return "No capability returned a result."
	}
	return strings.TrimSpace(strings.Join(fallback, "\n\n"))
}

func explanation(in Input) string {
	if len(in.Steps) == 0 {
		reason := in.Reason
		if reason == "" {
			reason = "The question was answered directly; no capabilities were invoked."
		}
		return reason
	}

	var b strings.Builder
	for i, s := range in.Steps {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "%d. **%s** (`%s`)", i+1, Label(s.Capability), s.Capability)
		if s.Question != "" {
			fmt.Fprintf(&b, " was asked: %q", s.Question)
		}
		b.WriteString("\n\n")

		var ue *capability.UnavailableError
		switch {
		case errors.As(s.Err, &ue):
			b.WriteString(indent(unavailableText(ue)))
		case s.Err != nil:
			b.WriteString(indent("Failed: " + failureText(s.Err)))
		case s.Result.Empty():
			b.WriteString(indent("Returned no output."))
		case s.Result.Unavailable:
			b.WriteString(indent(s.Result.Text))
		case s.Capability == capability.Analysis && s.Question == capability.NoAnalysis:
			b.WriteString(indent("Reused the previous result without a new call:\n\n" + demote(s.Result.Text)))
		default:
			b.WriteString(indent(demote(s.Result.Text)))
		}
	}
	if in.Err != nil && !stepFailed(in.Steps) {
		fmt.Fprintf(&b, "\n\nThe turn stopped: %s", failureText(in.Err))
	}
	return b.String()
}

func stepFailed(steps []Step) bool {
	for _, s := range steps {
		if s.Err != nil {
			return true
		}
	}
	return false
}

func unavailableText(e *capability.UnavailableError) string {
	text := fmt.Sprintf("%s is not enabled", Label(e.Capability))
	if e.Reason != "" {
		text += ": " + e.Reason
	}
	return text + "."
}

func failureText(err error) string {
	var up *capability.UpstreamFailure
	if errors.As(err, &up) {
		msg := fmt.Sprintf("%s failed", Label(up.Capability))
		if up.Attempts > 1 {
			msg += fmt.Sprintf(" after %d attempts", up.Attempts)
		}
		if up.Retryable {
			msg += " (temporary, try again)"
		}
		return msg + ": " + up.Err.Error()
	}
	return err.Error()
}

func graphs(steps []Step) string {
	var parts []string
	for _, s := range steps {
		if s.Err != nil || s.Result == nil {
			continue
		}
		for _, a := range s.Result.Artifacts {
			if g := renderArtifact(a); g != "" {
				parts = append(parts, g)
			}
		}
	}
	return strings.Join(parts, "\n\n")
}

func renderArtifact(a capability.Artifact) string {
	name := a.Name
	if name == "" {
		name = "chart"
	}
	switch {
	case strings.HasPrefix(a.MIMEType, "image/") && a.URI != "":
		return fmt.Sprintf("![%s](%s)", name, a.URI)
	case strings.HasPrefix(a.MIMEType, "image/") && a.Content != "":
		return fmt.Sprintf("![%s](data:%s;base64,%s)", name, a.MIMEType, a.Content)
	case strings.Contains(a.MIMEType, "vega"):
		return "```vega-lite\n" + strings.TrimSpace(a.Content) + "\n```"
	case a.URI != "":
		return fmt.Sprintf("[%s](%s)", name, a.URI)
	default:
		return ""
	}
}

var headingRe = regexp.MustCompile(`(?m)^#{1,2}\s`)

// demote turns level one and two headings into level three.
func demote(text string) string {
	return headingRe.ReplaceAllString(text, "### ")
}

func indent(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	for i, l := range lines {
		if l != "" {
			lines[i] = "   " + l
		}
	}
	return strings.Join(lines, "\n")
}
