package workflow

import (
	"fmt"
	"strings"
)

// Announcement renders the visible stage-transition turn from the state
// alone. It is a pure formatting function: re-running it on an unchanged
// state produces byte-identical output.
func Announcement(state *State) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Stage: %s\n", state.Stage)
	fmt.Fprintf(&b, "Objective: %s\n", state.Stage.Objective())

	if len(state.ShortlistOptions) > 0 {
		b.WriteString("Shortlist:\n")
		for i, opt := range state.ShortlistOptions {
			fmt.Fprintf(&b, "  %d. %s\n", i+1, opt)
		}
	}
	if state.LockedDecision != "" {
		fmt.Fprintf(&b, "Decision: %s\n", state.LockedDecision)
	}
	if state.LastTransitionReason != "" {
		fmt.Fprintf(&b, "Reason: %s\n", state.LastTransitionReason)
	}

	return strings.TrimRight(b.String(), "\n")
}

// Directive is the per-stage instruction appended to every persona's
// system prompt so generated turns push in the stage's direction.
func Directive(state *State) string {
	switch state.Stage {
	case StageBrainstorm:
		return "The group is brainstorming. Contribute new, distinct ideas as short bullet points."
	case StageCluster:
		return "The group is clustering ideas. Build on or combine earlier suggestions instead of adding new ones."
	case StageShortlist:
		return fmt.Sprintf("The group is comparing a shortlist: %s. Argue for or against specific entries.",
			strings.Join(state.ShortlistOptions, "; "))
	case StageDecide:
		return fmt.Sprintf("The group must decide between: %s. State your vote explicitly, e.g. \"I vote for ...\".",
			strings.Join(state.ShortlistOptions, "; "))
	case StageNextAction:
		if state.LockedDecision != "" {
			return fmt.Sprintf("The group decided on %q. Propose the single most concrete next action.",
				state.LockedDecision)
		}
		return "Propose the single most concrete next action for the group's decision."
	default:
		return ""
	}
}
