package backport

import (
	"fmt"
	"strings"

	"github.com/dionisio-bot/dionisio/internal/cherrypick"
)

// conflictComment renders the instructions to resolve a cherry-pick conflict
// manually.
func conflictComment(conflict *cherrypick.ConflictError, action, retrigger string) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Sorry, I couldn't %s", action)
	if conflict.Base != "" {
		fmt.Fprintf(&sb, " onto `%s`", conflict.Base)
	}
	sb.WriteString(" because of conflicts. Could you please solve them?\n\n")

	sb.WriteString("You can do so by running the following commands:\n")
	sb.WriteString("```\n")
	sb.WriteString("git fetch\n")
	fmt.Fprintf(&sb, "git checkout %s\n", conflict.Head)
	for _, c := range conflict.Commits {
		fmt.Fprintf(&sb, "git cherry-pick %s\n", c)
	}
	sb.WriteString("# solve the conflicts\n")
	sb.WriteString("git cherry-pick --continue\n")
	sb.WriteString("git push\n")
	sb.WriteString("```\n")

	if retrigger != "" {
		fmt.Fprintf(&sb, "\nAfterwards comment `%s` to continue.\n", retrigger)
	}

	return sb.String()
}

func tagFailedComment(err *Error) string {
	switch err.Kind {
	case KindVersionInvalid:
		return fmt.Sprintf("Could not backport to %s, it is not a valid version", err.Tag)
	case KindPreviousReleaseMissing:
		return fmt.Sprintf("Could not backport to %s, the previous release does not exist", err.Tag)
	default:
		return fmt.Sprintf("Could not backport to %s: %s", err.Tag, err.Err)
	}
}
