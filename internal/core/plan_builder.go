package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog/log"

	"packlink/internal/policies"
	"packlink/internal/types"
)

type PlanInput struct {
	Spec        types.ModpackSpec
	Target      types.InstanceTarget
	ProfileID   string
	Settings    types.ResolutionSettings
	Composition Composition
	Outcome     ResolveOutcome
	CreatedAt   time.Time
}

// BuildPlan runs conflict detection over the resolver output and assembles
// the immutable plan stamped with the spec's updated_at.
func BuildPlan(input PlanInput) types.ResolutionPlan {
	report := DetectConflicts(input.Composition, input.Spec.Layers, input.Outcome.Resolved, input.Target)

	failed := append([]types.FailedEntry{}, input.Outcome.Failed...)
	failed = append(failed, report.Blocked...)
	sort.SliceStable(failed, func(i, j int) bool {
		if failed[i].Required != failed[j].Required {
			return failed[i].Required
		}
		return failed[i].Key < failed[j].Key
	})
	resolved := append([]types.ResolvedEntry{}, report.Resolved...)
	if resolved == nil {
		resolved = []types.ResolvedEntry{}
	}
	warnings := append([]string{}, input.Outcome.Warnings...)

	score := ConfidenceScore(resolved, failed, report.Conflicts, warnings)
	requiredFailures := 0
	for _, item := range failed {
		if item.Required {
			requiredFailures++
		}
	}

	plan := types.ResolutionPlan{
		ModpackID:             input.Spec.ID,
		ModpackUpdatedAtStamp: input.Spec.UpdatedAt,
		Target:                input.Target,
		ProfileID:             input.ProfileID,
		Settings:              input.Settings,
		Resolved:              resolved,
		Failed:                failed,
		Conflicts:             report.Conflicts,
		Warnings:              warnings,
		ConfidenceScore:       score,
		ConfidenceLabel:       ConfidenceLabelFor(score, requiredFailures),
		CreatedAt:             input.CreatedAt.UTC(),
	}
	plan.ID = PlanID(plan)
	return plan
}

// PlanID derives a stable id from the inputs that identify a plan.
func PlanID(plan types.ResolutionPlan) string {
	digest := xxhash.New()
	for _, part := range []string{
		plan.ModpackID,
		plan.ModpackUpdatedAtStamp.UTC().Format(time.RFC3339Nano),
		plan.Target.InstanceID,
		plan.Target.MinecraftVersion,
		strings.ToLower(plan.Target.Loader),
		plan.Target.LoaderVersion,
		plan.ProfileID,
		plan.CreatedAt.UTC().Format(time.RFC3339Nano),
	} {
		_, _ = digest.WriteString(part)
		_, _ = digest.WriteString("\x00")
	}
	return fmt.Sprintf("plan_%016x", digest.Sum64())
}

// Planner runs the read-only resolution pipeline: compose, profile filter,
// resolve, conflict detection and plan assembly.
type Planner struct {
	Compositor LayerCompositor
	Resolver   VersionResolver
}

func NewPlanner(resolver VersionResolver) Planner {
	return Planner{Compositor: NewLayerCompositor(), Resolver: resolver}
}

func (p Planner) Plan(ctx context.Context, spec types.ModpackSpec, target types.InstanceTarget, profileID string, now time.Time) (types.ResolutionPlan, error) {
	settings := policies.NormalizeSettings(spec.Settings)
	comp := p.Compositor.Compose(ctx, spec.Layers)

	profile := SelectProfile(spec, profileID)
	resolvedProfileID := ""
	if profile != nil {
		resolvedProfileID = profile.ID
	}
	entries := ApplyProfile(comp.Entries, profile)

	outcome, err := p.Resolver.Resolve(ctx, entries, target, settings)
	if err != nil {
		return types.ResolutionPlan{}, err
	}

	plan := BuildPlan(PlanInput{
		Spec:        spec,
		Target:      target,
		ProfileID:   resolvedProfileID,
		Settings:    settings,
		Composition: comp,
		Outcome:     outcome,
		CreatedAt:   now,
	})
	log.Ctx(ctx).Info().
		Str("plan_id", plan.ID).
		Str("modpack_id", spec.ID).
		Str("instance_id", target.InstanceID).
		Int("resolved", len(plan.Resolved)).
		Int("failed", len(plan.Failed)).
		Int("conflicts", len(plan.Conflicts)).
		Str("confidence", string(plan.ConfidenceLabel)).
		Msg("plan built")
	return plan, nil
}

// RenderPlanSummary is the human review text for a plan.
func RenderPlanSummary(plan types.ResolutionPlan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Plan %s for modpack %s\n", plan.ID, plan.ModpackID)
	fmt.Fprintf(&b, "Target: %s (%s %s)\n", plan.Target.InstanceID, plan.Target.Loader, plan.Target.MinecraftVersion)
	if plan.ProfileID != "" {
		fmt.Fprintf(&b, "Profile: %s\n", plan.ProfileID)
	}
	fmt.Fprintf(&b, "Confidence: %s (%d)\n", plan.ConfidenceLabel, plan.ConfidenceScore)

	fmt.Fprintf(&b, "\nResolved (%d):\n", len(plan.Resolved))
	for _, item := range plan.Resolved {
		marker := ""
		if item.AddedByDependency {
			marker = " [dependency]"
		}
		fmt.Fprintf(&b, "  + %s %s -> %s%s\n", item.Name, item.VersionNumber, item.Filename, marker)
		fmt.Fprintf(&b, "    %s\n", item.RationaleText)
	}

	if len(plan.Failed) > 0 {
		fmt.Fprintf(&b, "\nFailed (%d):\n", len(plan.Failed))
		for _, item := range plan.Failed {
			requirement := "optional"
			if item.Required {
				requirement = "required"
			}
			fmt.Fprintf(&b, "  ! %s [%s, %s]\n", item.Entry.DisplayName(), item.ReasonCode, requirement)
			fmt.Fprintf(&b, "    %s\n", item.ReasonText)
			fmt.Fprintf(&b, "    hint: %s\n", item.ActionableHint)
		}
	}

	if len(plan.Conflicts) > 0 {
		fmt.Fprintf(&b, "\nConflicts (%d):\n", len(plan.Conflicts))
		for _, item := range plan.Conflicts {
			fmt.Fprintf(&b, "  ~ %s: %s\n", item.Code, item.Message)
			fmt.Fprintf(&b, "    suggestion: %s\n", item.Suggestion.Description)
		}
	}

	if len(plan.Warnings) > 0 {
		fmt.Fprintf(&b, "\nWarnings (%d):\n", len(plan.Warnings))
		for _, warning := range plan.Warnings {
			fmt.Fprintf(&b, "  - %s\n", warning)
		}
	}
	return b.String()
}
