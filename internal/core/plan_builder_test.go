package core

import (
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"packlink/internal/types"
)

var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func TestConfidenceScore(t *testing.T) {
	tests := []struct {
		name      string
		resolved  []types.ResolvedEntry
		failed    []types.FailedEntry
		conflicts int
		warnings  int
		wantScore int
		wantLabel types.ConfidenceLabel
	}{
		{name: "clean plan", wantScore: 100, wantLabel: types.ConfidenceHigh},
		{
			name:      "smart fallback",
			resolved:  []types.ResolvedEntry{{FallbackTier: types.FallbackTierSmart, FallbackDistance: 3}},
			wantScore: 90,
			wantLabel: types.ConfidenceHigh,
		},
		{
			name:      "loose fallback and optional failure",
			resolved:  []types.ResolvedEntry{{FallbackTier: types.FallbackTierLoose, FallbackDistance: 13}},
			failed:    []types.FailedEntry{{Required: false}},
			wantScore: 71,
			wantLabel: types.ConfidenceMedium,
		},
		{
			name:      "noisy plan",
			failed:    []types.FailedEntry{{}, {}},
			conflicts: 3,
			warnings:  5,
			wantScore: 54,
			wantLabel: types.ConfidenceRisky,
		},
		{
			name:      "many optional failures",
			failed:    make([]types.FailedEntry, 10),
			wantScore: 40,
			wantLabel: types.ConfidenceRisky,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conflicts := make([]types.ConflictRecord, tt.conflicts)
			warnings := make([]string, tt.warnings)
			score := ConfidenceScore(tt.resolved, tt.failed, conflicts, warnings)
			assert.Equal(t, tt.wantScore, score)
			assert.Equal(t, tt.wantLabel, ConfidenceLabelFor(score, 0))
		})
	}

	required := make([]types.FailedEntry, 10)
	for i := range required {
		required[i].Required = true
	}
	assert.Equal(t, 0, ConfidenceScore(nil, required, nil, nil))
	assert.Equal(t, types.ConfidenceRisky, ConfidenceLabelFor(95, 1))
}

func TestBuildPlanMergesBlockedEntries(t *testing.T) {
	optional := modEntry("zoomify")
	optional.Required = types.BoolPtr(false)
	spec := types.ModpackSpec{
		ID:        "pack-1",
		UpdatedAt: fixedNow.Add(-time.Hour),
		Layers: []types.Layer{
			{ID: types.LayerTemplateID, EntriesDelta: types.EntriesDelta{Add: []types.Entry{modEntry("sodium")}}},
			{ID: types.LayerUserID, EntriesDelta: types.EntriesDelta{Add: []types.Entry{modEntry("sodium-fork"), optional}}},
		},
	}
	comp := NewLayerCompositor().Compose(t.Context(), spec.Layers)
	outcome := ResolveOutcome{
		Resolved: []types.ResolvedEntry{
			resolvedFor(modEntry("sodium"), "sodium.jar"),
			resolvedFor(modEntry("sodium-fork"), "sodium.jar"),
		},
		Failed: []types.FailedEntry{
			{Key: "modrinth:mods:zoomify", Entry: optional, ReasonCode: types.ReasonNoCompatibleLoader},
		},
	}

	plan := BuildPlan(PlanInput{
		Spec:        spec,
		Target:      testTarget,
		Settings:    types.DefaultResolutionSettings(),
		Composition: comp,
		Outcome:     outcome,
		CreatedAt:   fixedNow,
	})

	require.Len(t, plan.Resolved, 1)
	assert.Equal(t, "modrinth:mods:sodium-fork", plan.Resolved[0].Key)
	require.Len(t, plan.Failed, 2)
	assert.Equal(t, types.ReasonConflictBlocked, plan.Failed[0].ReasonCode)
	assert.False(t, plan.Failed[1].Required)
	require.Len(t, plan.Conflicts, 1)
	assert.Equal(t, types.ConfidenceRisky, plan.ConfidenceLabel)
	assert.Equal(t, 100-16-6-8, plan.ConfidenceScore)
	assert.True(t, plan.ModpackUpdatedAtStamp.Equal(spec.UpdatedAt))
	assert.Regexp(t, `^plan_[0-9a-f]{16}$`, plan.ID)
}

func TestPlanIDIsStable(t *testing.T) {
	plan := types.ResolutionPlan{
		ModpackID:             "pack-1",
		ModpackUpdatedAtStamp: fixedNow,
		Target:                testTarget,
		ProfileID:             "recommended",
		CreatedAt:             fixedNow,
	}
	first := PlanID(plan)
	assert.Equal(t, first, PlanID(plan))

	plan.Target.Loader = "FABRIC"
	assert.Equal(t, first, PlanID(plan))

	plan.CreatedAt = fixedNow.Add(time.Second)
	assert.NotEqual(t, first, PlanID(plan))
}

func TestPlannerAppliesProfile(t *testing.T) {
	iris := modEntry("iris")
	iris.Optional = true
	provider := fakeProvider{versions: map[string][]types.ProviderVersion{
		"sodium": {release("s-1", "0.5.3", []string{"1.20.1"}, "fabric")},
		"iris":   {release("i-1", "1.6.4", []string{"1.20.1"}, "fabric")},
	}}
	spec := types.ModpackSpec{
		ID: "pack-1",
		Layers: []types.Layer{
			{ID: types.LayerTemplateID, EntriesDelta: types.EntriesDelta{Add: []types.Entry{modEntry("sodium"), iris}}},
		},
		Profiles: []types.Profile{
			{ID: "lite", OptionalEntryStates: map[string]bool{"modrinth:mods:iris": false}},
			{ID: types.DefaultProfileID},
		},
	}
	planner := NewPlanner(NewVersionResolver(provider))

	lite, err := planner.Plan(t.Context(), spec, testTarget, "lite", fixedNow)
	require.NoError(t, err)
	assert.Equal(t, "lite", lite.ProfileID)
	assert.Len(t, lite.Resolved, 1)

	full, err := planner.Plan(t.Context(), spec, testTarget, "unknown", fixedNow)
	require.NoError(t, err)
	assert.Equal(t, types.DefaultProfileID, full.ProfileID)
	assert.Len(t, full.Resolved, 2)
	assert.Equal(t, types.ConfidenceHigh, full.ConfidenceLabel)
	assert.Equal(t, types.DependencyModeDetectOnly, full.Settings.DependencyMode)
}

func TestRenderPlanSummary(t *testing.T) {
	plan := types.ResolutionPlan{
		ID:              "plan_fixture",
		ModpackID:       "pack-1",
		Target:          testTarget,
		ProfileID:       "recommended",
		ConfidenceScore: 62,
		ConfidenceLabel: types.ConfidenceRisky,
		Resolved: []types.ResolvedEntry{
			{
				Name:          "Sodium",
				VersionNumber: "0.5.3",
				Filename:      "sodium-fabric-0.5.3.jar",
				RationaleText: "Chosen from Modrinth using exact match (distance 0) with stable channel.",
			},
			{
				Name:              "Fabric API",
				VersionNumber:     "0.92.0",
				Filename:          "fabric-api-0.92.0.jar",
				AddedByDependency: true,
				RationaleText:     "Added because required by 'Sodium' and dependency mode is AutoAdd.",
			},
		},
		Failed: []types.FailedEntry{{
			Entry:          modEntry("modb"),
			ReasonCode:     types.ReasonNoCompatibleLoader,
			ReasonText:     "No Modrinth file supports loader 'fabric'.",
			ActionableHint: "Choose a compatible loader or replace this entry.",
			Required:       true,
		}},
		Conflicts: []types.ConflictRecord{{
			Code:       types.ConflictOverrideWithoutBase,
			Message:    "Override for 'ghost' in layer 'Overrides' has no base entry and is excluded from resolution.",
			Suggestion: types.ConflictSuggestion{Description: "Convert the override into an add in layer 'layer_user'."},
		}},
		Warnings: []string{"Dependency lookup failed for 'Iris': timeout"},
	}

	g := goldie.New(t)
	g.Assert(t, "plan_summary", []byte(RenderPlanSummary(plan)))
}
