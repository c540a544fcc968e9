// Package classify turns an inbound GitHub event into a workflow-trigger
// decision. It is pure: no I/O, no hidden state, one outcome per input.
package classify

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
)

// Workflows the dispatcher can launch, and whether each one resumes prior
// work (and therefore needs an explicit job id for continuity).
var workflows = map[string]bool{
	"adw_plan":            false,
	"adw_build":           true,
	"adw_test":            false,
	"adw_plan_build":      false,
	"adw_plan_build_test": false,
}

// workflowPrefix is the cheap pre-filter before token matching.
const workflowPrefix = "adw_"

var (
	jobIDPattern     = regexp.MustCompile(`(?i)\b(?:job[-_]id|adw[-_]id)\s*:?\s*([A-Za-z0-9][A-Za-z0-9_-]*)`)
	candidatePattern = regexp.MustCompile(`adw_[a-z_]+`)
	tokenPatterns    = compileTokenPatterns()
)

func compileTokenPatterns() map[string]*regexp.Regexp {
	patterns := make(map[string]*regexp.Regexp, len(workflows))
	for name := range workflows {
		patterns[name] = regexp.MustCompile(`\b` + regexp.QuoteMeta(name) + `\b`)
	}
	return patterns
}

// Event is the slice of a webhook payload the classifier looks at.
type Event struct {
	Type        string
	Action      string
	IssueNumber int
	Body        string
}

// Result is the classifier's verdict. Workflow is empty when the event is
// ignored; Reason always says which rule fired.
type Result struct {
	Workflow string
	JobID    string
	Reason   string
}

// Matched reports whether a workflow should be launched.
func (r Result) Matched() bool {
	return r.Workflow != ""
}

// Classifier applies the trigger rules under a configured bot marker.
type Classifier struct {
	BotMarker string
}

// Known reports whether name is a launchable workflow.
func Known(name string) bool {
	_, ok := workflows[name]
	return ok
}

// Names returns the known workflow names, longest first so that token
// matching prefers adw_plan_build_test over its prefixes.
func Names() []string {
	names := make([]string, 0, len(workflows))
	for name := range workflows {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})
	return names
}

// RequiresJobID reports whether the workflow resumes prior work and must
// arrive with an explicit job id.
func RequiresJobID(name string) bool {
	return workflows[name]
}

// Classify applies the rules in order: bot-loop suppression, eligibility,
// token match, continuity requirement.
func (c Classifier) Classify(ev Event) Result {
	// Rule 1: never react to our own comments.
	if c.BotMarker != "" && strings.Contains(ev.Body, c.BotMarker) {
		return Result{Reason: "bot comment suppressed to prevent webhook loop"}
	}

	// Rule 2: only two event/action pairs can trigger.
	var reasonVerb string
	switch {
	case ev.Type == "issues" && ev.Action == "opened":
		reasonVerb = "New issue"
	case ev.Type == "issue_comment" && ev.Action == "created":
		reasonVerb = "Comment"
	default:
		return Result{Reason: fmt.Sprintf("not a triggering event (event=%s, action=%s)", ev.Type, ev.Action)}
	}
	if ev.IssueNumber <= 0 {
		return Result{Reason: "payload has no issue number"}
	}

	// Rule 3: scan the content for a workflow token.
	if !strings.Contains(strings.ToLower(ev.Body), workflowPrefix) {
		return Result{Reason: fmt.Sprintf("no %s workflow token in content", workflowPrefix)}
	}
	workflow := matchWorkflow(ev.Body)
	if workflow == "" {
		return Result{Reason: unknownTokenReason(ev.Body)}
	}
	jobID := extractJobID(ev.Body)

	// Rule 4: resume-style workflows need continuity context.
	if RequiresJobID(workflow) && jobID == "" {
		return Result{Reason: fmt.Sprintf("%s resumes prior work and requires an explicit job id", workflow)}
	}

	return Result{
		Workflow: workflow,
		JobID:    jobID,
		Reason:   fmt.Sprintf("%s with %s workflow", reasonVerb, workflow),
	}
}

func matchWorkflow(body string) string {
	lowered := strings.ToLower(body)
	for _, name := range Names() {
		if tokenPatterns[name].MatchString(lowered) {
			return name
		}
	}
	return ""
}

func extractJobID(body string) string {
	m := jobIDPattern.FindStringSubmatch(body)
	if len(m) != 2 {
		return ""
	}
	return m[1]
}

// unknownTokenReason names the closest known workflow when the content
// carries the adw_ prefix but no recognizable token, so typos in issue
// bodies get a useful ignore reason.
func unknownTokenReason(body string) string {
	candidate := candidatePattern.FindString(strings.ToLower(body))
	if candidate == "" {
		return fmt.Sprintf("no %s workflow token in content", workflowPrefix)
	}

	metric := metrics.NewJaroWinkler()
	best := ""
	bestScore := 0.0
	for _, name := range Names() {
		if score := strutil.Similarity(candidate, name, metric); score > bestScore {
			best = name
			bestScore = score
		}
	}
	if best == "" {
		return fmt.Sprintf("unknown workflow token %q", candidate)
	}
	return fmt.Sprintf("unknown workflow token %q (closest known workflow: %s)", candidate, best)
}
