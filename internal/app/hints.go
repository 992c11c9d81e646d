package app

import (
	"fmt"

	"packlink/internal/types"
)

// PlanHints suggests the next command for a plan that cannot be applied
// cleanly.
func PlanHints(plan types.ResolutionPlan) []string {
	var hints []string
	if required := len(plan.RequiredFailures()); required > 0 && !plan.Settings.PartialApplyUnsafe {
		hints = append(hints, fmt.Sprintf(
			"hint: %d required entries failed; fix them or apply with --partial-apply-unsafe",
			required,
		))
	}
	for i, conflict := range plan.Conflicts {
		hints = append(hints, fmt.Sprintf(
			"hint: conflict %d (%s): run `packlink spec suggest %s --plan %s --conflict %d` to %s",
			i, conflict.Code, plan.ModpackID, plan.ID, i, conflict.Suggestion.Action,
		))
	}
	fallbacks := 0
	for _, item := range plan.Resolved {
		if item.FallbackDistance > 0 {
			fallbacks++
		}
	}
	if fallbacks > 0 {
		hints = append(hints, fmt.Sprintf(
			"hint: %d entries use a fallback game version; pin them in the overrides layer to silence this",
			fallbacks,
		))
	}
	return hints
}
