package planner

import (
	"log"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/sallandpioneers/forgeflow/internal/remote"
)

// Resolver orders a set of issues so that every issue comes after its
// prerequisites. Dependencies come from an explicit plan document when one
// exists, otherwise from prerequisite sections parsed out of issue
// descriptions.
type Resolver struct {
	keywordIssues map[string]int // concept keyword -> iid of the issue introducing it
	logger        *log.Logger
}

// NewResolver creates a resolver. keywordIssues is project-specific
// configuration mapping foundational concepts to canonical issues.
func NewResolver(keywordIssues map[string]int, logger *log.Logger) *Resolver {
	return &Resolver{
		keywordIssues: keywordIssues,
		logger:        logger,
	}
}

// Resolve produces the implementation order. Closed issues are filtered out
// after ordering so that filtering does not perturb the relative order of
// the remaining issues.
func (r *Resolver) Resolve(issues []*remote.Issue, plan *Plan) []*remote.Issue {
	var ordered []*remote.Issue
	if plan != nil && len(plan.Order) > 0 {
		ordered = r.applyPlanOrder(issues, plan)
	} else {
		graph := r.BuildGraph(issues)
		var cycled []int
		ordered, cycled = topoSort(issues, graph)
		if len(cycled) > 0 && r.logger != nil {
			r.logger.Printf("dependency cycle involving issues %v, falling back to discovery order for them", cycled)
		}
	}

	result := make([]*remote.Issue, 0, len(ordered))
	for _, issue := range ordered {
		if !issue.Closed() {
			result = append(result, issue)
		}
	}
	return result
}

// applyPlanOrder emits issues in the plan's explicit order; issues absent
// from the plan are appended afterward in discovery order, never dropped.
func (r *Resolver) applyPlanOrder(issues []*remote.Issue, plan *Plan) []*remote.Issue {
	byIID := make(map[int]*remote.Issue, len(issues))
	for _, issue := range issues {
		byIID[issue.IID] = issue
	}

	seen := make(map[int]bool, len(plan.Order))
	result := make([]*remote.Issue, 0, len(issues))
	for _, iid := range plan.Order {
		if issue, ok := byIID[iid]; ok && !seen[iid] {
			result = append(result, issue)
			seen[iid] = true
		}
	}
	for _, issue := range issues {
		if !seen[issue.IID] {
			result = append(result, issue)
		}
	}
	return result
}

// BuildGraph extracts the prerequisite map from issue descriptions
func (r *Resolver) BuildGraph(issues []*remote.Issue) map[int][]int {
	known := make(map[int]bool, len(issues))
	for _, issue := range issues {
		known[issue.IID] = true
	}

	graph := make(map[int][]int, len(issues))
	for _, issue := range issues {
		deps := r.ParsePrerequisites(issue.Description)

		var valid []int
		seen := make(map[int]bool)
		for _, dep := range deps {
			if dep != issue.IID && known[dep] && !seen[dep] {
				valid = append(valid, dep)
				seen[dep] = true
			}
		}
		graph[issue.IID] = valid
	}
	return graph
}

// Prerequisite section headings, English and Dutch
var prereqHeadings = []string{
	"prerequisites",
	"requirements",
	"depends on",
	"vereisten",
	"randvoorwaarden",
	"afhankelijkheden",
}

// Explicit "no prerequisites" markers
var noneMarkers = []string{"none", "geen", "n/a", "n.v.t."}

var issueRefPattern = regexp.MustCompile(`(?i)(?:#|issue\s+)(\d+)`)

// ParsePrerequisites extracts prerequisite issue ids from a description.
// Explicit numeric references take precedence; the keyword table is only
// consulted when no explicit reference is present.
func (r *Resolver) ParsePrerequisites(description string) []int {
	section := findPrereqSection(description)
	if section == "" {
		return nil
	}

	lower := strings.ToLower(strings.TrimSpace(section))
	for _, marker := range noneMarkers {
		if strings.HasPrefix(lower, marker) {
			return nil
		}
	}

	var deps []int
	for _, match := range issueRefPattern.FindAllStringSubmatch(section, -1) {
		if iid, err := strconv.Atoi(match[1]); err == nil {
			deps = append(deps, iid)
		}
	}
	if len(deps) > 0 {
		return deps
	}

	// Fall back to the keyword heuristic for free-text mentions
	var keywords []string
	for keyword := range r.keywordIssues {
		keywords = append(keywords, keyword)
	}
	sort.Strings(keywords)

	for _, keyword := range keywords {
		if strings.Contains(lower, strings.ToLower(keyword)) {
			deps = append(deps, r.keywordIssues[keyword])
		}
	}
	return deps
}

// findPrereqSection returns the text between a prerequisites heading and
// the next heading (or end of description)
func findPrereqSection(description string) string {
	lines := strings.Split(description, "\n")

	start := -1
	for i, line := range lines {
		if isPrereqHeading(line) {
			start = i + 1
			break
		}
	}
	if start == -1 {
		return ""
	}

	end := len(lines)
	for i := start; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if headingPattern.MatchString(trimmed) && !isPrereqHeading(lines[i]) {
			end = i
			break
		}
	}
	return strings.Join(lines[start:end], "\n")
}

// Markdown headings are "#" runs followed by whitespace. A bare issue
// reference like "#3" on its own line is not a heading and must not
// terminate the section.
var headingPattern = regexp.MustCompile(`^#+\s`)

func isPrereqHeading(line string) bool {
	trimmed := strings.ToLower(strings.TrimSpace(line))
	trimmed = strings.TrimLeft(trimmed, "# ")
	trimmed = strings.TrimSuffix(trimmed, ":")
	for _, heading := range prereqHeadings {
		if strings.HasPrefix(trimmed, heading) {
			return true
		}
	}
	return false
}

// topoSort produces a dependency-consistent order via Kahn's algorithm.
// Ties break by ascending iid for determinism. Issues left unreachable by
// a cycle are appended at the end in discovery order: forward progress
// beats strictness, and no issue is ever dropped.
func topoSort(issues []*remote.Issue, graph map[int][]int) ([]*remote.Issue, []int) {
	byIID := make(map[int]*remote.Issue, len(issues))
	for _, issue := range issues {
		byIID[issue.IID] = issue
	}

	inDegree := make(map[int]int, len(issues))
	dependents := make(map[int][]int)
	for _, issue := range issues {
		inDegree[issue.IID] = len(graph[issue.IID])
		for _, dep := range graph[issue.IID] {
			dependents[dep] = append(dependents[dep], issue.IID)
		}
	}

	var ready []int
	for _, issue := range issues {
		if inDegree[issue.IID] == 0 {
			ready = append(ready, issue.IID)
		}
	}
	sort.Ints(ready)

	emitted := make(map[int]bool, len(issues))
	result := make([]*remote.Issue, 0, len(issues))
	for len(ready) > 0 {
		iid := ready[0]
		ready = ready[1:]

		result = append(result, byIID[iid])
		emitted[iid] = true

		var newlyReady []int
		for _, dependent := range dependents[iid] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				newlyReady = append(newlyReady, dependent)
			}
		}
		sort.Ints(newlyReady)
		ready = append(ready, newlyReady...)
	}

	// Cycle members never reached in-degree zero
	var cycled []int
	for _, issue := range issues {
		if !emitted[issue.IID] {
			result = append(result, issue)
			cycled = append(cycled, issue.IID)
		}
	}
	return result, cycled
}
