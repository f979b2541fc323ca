package qa

import (
	"fmt"
	"strings"
)

// CommentMarker is a hidden marker that identifies the status comment of
// the bot in a pull request.
const CommentMarker = "<!-- dionisio:qa -->"

// CheckRunName is the name of the check run reporting the verdict.
const CheckRunName = "Dionisio QA"

const (
	checkRunConclusionSuccess = "success"
	checkRunConclusionFailure = "failure"
)

// Comment renders the status comment for the pull request.
// guidelinesURL is linked in the comment when it is not empty.
func (v *Verdict) Comment(guidelinesURL string) string {
	var sb strings.Builder

	sb.WriteString(CommentMarker)
	sb.WriteString("\n")

	var issues []string
	for _, step := range v.Steps {
		if !step.Passed {
			issues = append(issues, step.Message)
		}
	}

	if len(issues) == 0 && v.ReadyToMerge {
		sb.WriteString("Looks like this PR is ready to merge! 🎉\n")
	} else {
		sb.WriteString("Looks like this PR is not ready to merge, because of the following issues:\n")
		for _, issue := range issues {
			fmt.Fprintf(&sb, "- %s\n", issue)
		}

		if len(issues) == 0 {
			// all checks passed but github did not compute the
			// mergeability yet
			sb.WriteString("- The mergeability of this PR is not known yet\n")
		}

		sb.WriteString("Please fix the issues and try again\n")
	}

	if guidelinesURL != "" {
		fmt.Fprintf(&sb, "If you have any trouble, please check the [PR guidelines](%s)\n", guidelinesURL)
	}

	return sb.String()
}

// CheckRunOutput returns the conclusion, title and markdown summary of the
// check run reporting the verdict.
func (v *Verdict) CheckRunOutput() (conclusion, title, summary string) {
	if v.ReadyToMerge {
		conclusion = checkRunConclusionSuccess
		title = "Everything is fine, ready to merge"
	} else {
		conclusion = checkRunConclusionFailure
		title = "Some checks did not pass"
	}

	var sb strings.Builder

	fmt.Fprintf(&sb, "**Conclusion:** %s\n\n### Steps\n", conclusion)

	for _, step := range v.Steps {
		icon := "✅"
		if !step.Passed {
			icon = "❌"
		}

		fmt.Fprintf(&sb, "- %s **%s**", icon, step.Name)
		if step.Message != "" {
			fmt.Fprintf(&sb, ": %s", step.Message)
		}
		sb.WriteString("\n")
	}

	return conclusion, title, sb.String()
}
