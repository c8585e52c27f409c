package worker

import (
	"fmt"
	"strings"

	"github.com/sallandpioneers/forgeflow/internal/phase"
)

// Prompts contains the prompt templates used per phase
var Prompts = struct {
	Planning string
	Coding   string
	Testing  string
	Review   string
}{
	Planning: `Create an implementation plan for the backlog below.

%s

Write the plan as JSON with an "order" array of issue ids and a short
"summary". Consider which issues introduce concepts that later issues
build on, and order them first.

Output "PLANNING_COMPLETE" when the plan is written.`,

	Coding: `Implement the following issue on branch %s.

%s

Commit your changes to the branch. Reference the issue in your final
commit ("Closes #%d").

Output "CODING_COMPLETE" when the implementation is committed and pushed.`,

	Testing: `Write and run tests for the implementation on branch %s.

%s

Make sure the test suite actually executes and passes locally before
pushing. Include the test summary in your output.

Output "TESTING_COMPLETE" when tests are committed and pushed.`,

	Review: `Review the changes on branch %s for the following issue.

%s

Check correctness, style and test coverage. Fix anything that would
block a merge.

Output "REVIEW_COMPLETE" when the branch is ready to merge.`,
}

// BuildPrompt renders the template for a phase with its task description
func BuildPrompt(kind phase.Phase, task string, wc Context) string {
	var body string
	switch kind {
	case phase.Planning:
		body = fmt.Sprintf(Prompts.Planning, task)
	case phase.Coding:
		body = fmt.Sprintf(Prompts.Coding, wc.Branch, task, wc.IssueIID)
	case phase.Testing:
		body = fmt.Sprintf(Prompts.Testing, wc.Branch, task)
	case phase.Review:
		body = fmt.Sprintf(Prompts.Review, wc.Branch, task)
	default:
		body = task
	}

	if wc.PlanSummary == "" {
		return body
	}

	var sb strings.Builder
	sb.WriteString(body)
	sb.WriteString("\n\nPlan context:\n")
	sb.WriteString(wc.PlanSummary)
	return sb.String()
}

// FormatIssueTask renders an issue as a task description for a prompt
func FormatIssueTask(iid int, title, description string) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Issue #%d: %s\n\n", iid, title))
	sb.WriteString(description)
	return sb.String()
}
