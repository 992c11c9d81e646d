package app

import (
	"context"
	"sort"
	"strings"

	"packlink/internal/types"
)

// InspectPlan summarizes a stored plan by content type and failure reason.
func (s Service) InspectPlan(ctx context.Context, planID string) (PlanInspection, error) {
	plan, err := s.State.LoadPlan(ctx, strings.TrimSpace(planID))
	if err != nil {
		return PlanInspection{}, err
	}
	groups := summarizeResolved(plan.Resolved)
	var summaries []PlanGroupSummary
	for _, name := range sortedKeys(groups) {
		entries := groups[name]
		sort.Strings(entries)
		summaries = append(summaries, PlanGroupSummary{
			ContentType: name,
			Count:       len(entries),
			Entries:     entries,
		})
	}
	failures := map[types.FailureReason]int{}
	required := 0
	for _, failed := range plan.Failed {
		failures[failed.ReasonCode]++
		if failed.Required {
			required++
		}
	}
	return PlanInspection{
		PlanID:           plan.ID,
		ModpackID:        plan.ModpackID,
		InstanceID:       plan.Target.InstanceID,
		ConfidenceScore:  plan.ConfidenceScore,
		ConfidenceLabel:  plan.ConfidenceLabel,
		Groups:           summaries,
		FailuresByReason: failures,
		RequiredFailures: required,
		Conflicts:        len(plan.Conflicts),
		Hints:            PlanHints(plan),
	}, nil
}

func summarizeResolved(resolved []types.ResolvedEntry) map[string][]string {
	groups := map[string][]string{}
	for _, item := range resolved {
		contentType := string(item.Entry.NormalizedContentType())
		label := resolvedName(item) + " " + item.VersionNumber
		groups[contentType] = append(groups[contentType], strings.TrimSpace(label))
	}
	return groups
}

func sortedKeys[V any](input map[string]V) []string {
	keys := make([]string, 0, len(input))
	for key := range input {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
