package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"packlink/internal/types"
)

func TestCreateSpecDefaultsAndDuplicates(t *testing.T) {
	env := newTestEnv(t, "a", nil)
	ctx := t.Context()

	spec, err := env.svc.CreateSpec(ctx, CreateSpecRequest{ID: "pack-1"})
	require.NoError(t, err)
	assert.Equal(t, "pack-1", spec.Name)
	assert.Len(t, spec.Layers, 3)
	assert.Equal(t, types.DefaultResolutionSettings(), spec.Settings)

	_, err = env.svc.CreateSpec(ctx, CreateSpecRequest{ID: "pack-1"})
	require.Error(t, err)
	assert.Equal(t, errbuilder.CodeAlreadyExists, errbuilder.CodeOf(err))

	generated, err := env.svc.CreateSpec(ctx, CreateSpecRequest{Name: "Generated"})
	require.NoError(t, err)
	assert.Equal(t, "mp_a0001", generated.ID)

	specs, err := env.svc.ListSpecs(ctx)
	require.NoError(t, err)
	assert.Len(t, specs, 2)

	require.NoError(t, env.svc.DeleteSpec(ctx, generated.ID))
	_, err = env.svc.GetSpec(ctx, generated.ID)
	require.Error(t, err)
	assert.Equal(t, errbuilder.CodeNotFound, errbuilder.CodeOf(err))
}

func TestSaveSpecComparesUpdatedAt(t *testing.T) {
	env := newTestEnv(t, "a", nil)
	ctx := t.Context()
	spec, err := env.svc.CreateSpec(ctx, CreateSpecRequest{ID: "pack-1"})
	require.NoError(t, err)
	stale := spec.UpdatedAt

	spec.Description = "first edit"
	saved, err := env.svc.SaveSpec(ctx, SaveSpecRequest{Spec: spec, ExpectedUpdatedAt: &stale})
	require.NoError(t, err)
	assert.True(t, saved.UpdatedAt.After(stale))
	assert.True(t, spec.CreatedAt.Equal(saved.CreatedAt))

	spec.Description = "second edit"
	_, err = env.svc.SaveSpec(ctx, SaveSpecRequest{Spec: spec, ExpectedUpdatedAt: &stale})
	require.Error(t, err)
	assert.Equal(t, errbuilder.CodeFailedPrecondition, errbuilder.CodeOf(err))
	assert.Contains(t, err.Error(), "stale spec")

	stored, err := env.svc.GetSpec(ctx, "pack-1")
	require.NoError(t, err)
	assert.Equal(t, "first edit", stored.Description)
}

func TestNextStampIsStrictlyIncreasing(t *testing.T) {
	prev := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	assert.Equal(t, prev.Add(time.Millisecond), nextStamp(prev, prev))
	assert.Equal(t, prev.Add(time.Millisecond), nextStamp(prev, prev.Add(-time.Hour)))
	assert.Equal(t, prev.Add(time.Second), nextStamp(prev, prev.Add(time.Second)))
	assert.Equal(t, prev, nextStamp(time.Time{}, prev))
}

func TestSetLayerEntriesRejectsFrozenLayer(t *testing.T) {
	env := newTestEnv(t, "a", nil)
	ctx := t.Context()
	spec, err := env.svc.CreateSpec(ctx, CreateSpecRequest{ID: "pack-1"})
	require.NoError(t, err)
	spec.Layers[0].IsFrozen = true
	spec, err = env.svc.SaveSpec(ctx, SaveSpecRequest{Spec: spec})
	require.NoError(t, err)

	_, err = env.svc.SetLayerEntries(ctx, SetLayerEntriesRequest{
		SpecID:  "pack-1",
		LayerID: types.LayerTemplateID,
		Delta:   types.EntriesDelta{Add: []types.Entry{mod("moda")}},
	})
	require.Error(t, err)
	assert.Equal(t, errbuilder.CodeFailedPrecondition, errbuilder.CodeOf(err))
	assert.Contains(t, err.Error(), "layer is frozen")

	_, err = env.svc.SetLayerEntries(ctx, SetLayerEntriesRequest{SpecID: "pack-1", LayerID: "layer_missing"})
	require.Error(t, err)
	assert.Equal(t, errbuilder.CodeNotFound, errbuilder.CodeOf(err))

	stale := spec.UpdatedAt.Add(-time.Minute)
	_, err = env.svc.SetLayerEntries(ctx, SetLayerEntriesRequest{
		SpecID:            "pack-1",
		LayerID:           types.LayerUserID,
		Delta:             types.EntriesDelta{Add: []types.Entry{mod("moda")}},
		ExpectedUpdatedAt: &stale,
	})
	require.Error(t, err)
	assert.Equal(t, errbuilder.CodeFailedPrecondition, errbuilder.CodeOf(err))
}

func TestApplyConflictSuggestionIsIdempotent(t *testing.T) {
	env := newTestEnv(t, "a", nil)
	env.provider.versions["moda"] = []types.ProviderVersion{
		release("moda-v1", "1.0.0", "fabric"),
		release("moda-v2", "2.0.0", "fabric"),
	}
	ctx := t.Context()
	env.createSpec(t, "pack-1", pinned("moda", "moda-v1"), pinned("moda", "moda-v2"))

	plan := env.resolve(t, "pack-1")
	require.Len(t, plan.Conflicts, 1)
	assert.Equal(t, types.ConflictLayerDuplicate, plan.Conflicts[0].Code)

	applied, err := env.svc.ApplyConflictSuggestion(ctx, ApplySuggestionRequest{SpecID: "pack-1", PlanID: plan.ID, ConflictIndex: 0})
	require.NoError(t, err)
	assert.True(t, applied.Changed)
	template := applied.Spec.Layers[applied.Spec.LayerIndex(types.LayerTemplateID)]
	pins := make([]string, 0, len(template.EntriesDelta.Add))
	for _, entry := range template.EntriesDelta.Add {
		pins = append(pins, entry.Pin)
	}
	if diff := cmp.Diff([]string{"moda-v2"}, pins); diff != "" {
		t.Fatalf("template pins mismatch (-want +got):\n%s", diff)
	}

	again, err := env.svc.ApplyConflictSuggestion(ctx, ApplySuggestionRequest{SpecID: "pack-1", PlanID: plan.ID, ConflictIndex: 0})
	require.NoError(t, err)
	assert.False(t, again.Changed)
	assert.True(t, applied.Spec.UpdatedAt.Equal(again.Spec.UpdatedAt))

	_, err = env.svc.ApplyConflictSuggestion(ctx, ApplySuggestionRequest{SpecID: "pack-1", PlanID: plan.ID, ConflictIndex: 3})
	require.Error(t, err)
	assert.Equal(t, errbuilder.CodeInvalidArgument, errbuilder.CodeOf(err))

	resolved := env.resolve(t, "pack-1")
	assert.Empty(t, resolved.Conflicts)
}

func TestUpdateFromInstanceWritesInstanceOverrides(t *testing.T) {
	env := newTestEnv(t, "a", nil)
	env.provider.versions["moda"] = []types.ProviderVersion{release("moda-v1", "1.0.0", "fabric")}
	ctx := t.Context()
	env.createSpec(t, "pack-1", pinned("moda", "moda-v1"))
	env.applySpec(t, "pack-1")
	env.installLocal(t, "inst-1", lockMod("extra", "extra-v1"), lockMod("moda", "moda-v3"))

	preview, err := env.svc.PreviewUpdateFromInstance(ctx, UpdateFromInstanceRequest{SpecID: "pack-1", InstanceID: "inst-1"})
	require.NoError(t, err)
	require.Len(t, preview.Added, 1)
	assert.Equal(t, "extra", preview.Added[0].ProjectID)
	require.Len(t, preview.Changed, 1)
	assert.Equal(t, "moda-v3", preview.Changed[0].Pin)

	spec, err := env.svc.ApplyUpdateFromInstance(ctx, UpdateFromInstanceRequest{SpecID: "pack-1", InstanceID: "inst-1"})
	require.NoError(t, err)
	idx := spec.LayerIndex(types.LayerInstanceOverridesID)
	require.GreaterOrEqual(t, idx, 0)
	layer := spec.Layers[idx]
	assert.Equal(t, "instance:inst-1", layer.Source)
	require.Len(t, layer.EntriesDelta.Add, 1)
	require.Len(t, layer.EntriesDelta.Override, 1)

	after, err := env.svc.PreviewUpdateFromInstance(ctx, UpdateFromInstanceRequest{SpecID: "pack-1", InstanceID: "inst-1"})
	require.NoError(t, err)
	assert.Empty(t, after.Added)
	assert.Empty(t, after.Changed)

	diff, err := env.svc.LayerDiff(ctx, "pack-1", types.LayerInstanceOverridesID)
	require.NoError(t, err)
	assert.Len(t, diff.Added, 1)
	assert.Len(t, diff.Overridden, 1)
}

func TestImportAndValidateSpecFile(t *testing.T) {
	env := newTestEnv(t, "a", nil)
	ctx := t.Context()
	path := filepath.Join(t.TempDir(), "pack.yaml")
	doc := `id: imported
name: Imported Pack
settings:
  global_fallback_mode: smart
  channel_allowance: stable
  allow_cross_minor: true
  prefer_stable: true
  max_fallback_distance: 3
  dependency_mode: detect_only
layers:
  - id: layer_template
    name: Template
    entries_delta:
      add:
        - provider: modrinth
          project_id: moda
        - provider: modrinth
          project_id: moda
  - id: layer_user
    name: User
    entries_delta:
      override:
        - provider: modrinth
          project_id: ghost
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	result, err := env.svc.ValidateSpecFile(ctx, ValidateRequest{Path: path, Target: testTarget})
	require.NoError(t, err)
	assert.Equal(t, "imported", result.SpecID)
	assert.Equal(t, 2, result.Layers)
	assert.Equal(t, 1, result.Entries)
	var codes []types.ConflictCode
	for _, conflict := range result.Conflicts {
		codes = append(codes, conflict.Code)
	}
	assert.ElementsMatch(t, []types.ConflictCode{types.ConflictLayerDuplicate, types.ConflictOverrideWithoutBase}, codes)

	spec, err := env.svc.ImportSpec(ctx, path)
	require.NoError(t, err)
	assert.False(t, spec.UpdatedAt.IsZero())
	stored, err := env.svc.GetSpec(ctx, "imported")
	require.NoError(t, err)
	assert.Equal(t, "Imported Pack", stored.Name)

	_, err = env.svc.ValidateSpecFile(ctx, ValidateRequest{Path: filepath.Join(t.TempDir(), "missing.yaml")})
	require.Error(t, err)
	assert.Equal(t, errbuilder.CodeNotFound, errbuilder.CodeOf(err))
}

func TestInspectPlanGroupsAndHints(t *testing.T) {
	env := newTestEnv(t, "a", nil)
	env.provider.versions["moda"] = []types.ProviderVersion{release("moda-v1", "1.0.0", "fabric")}
	env.provider.versions["modb"] = []types.ProviderVersion{release("modb-v1", "1.0.0", "forge")}
	env.createSpec(t, "pack-1", mod("moda"), mod("modb"))
	plan := env.resolve(t, "pack-1")

	inspection, err := env.svc.InspectPlan(t.Context(), plan.ID)
	require.NoError(t, err)
	assert.Equal(t, "pack-1", inspection.ModpackID)
	assert.Equal(t, "inst-1", inspection.InstanceID)
	require.Len(t, inspection.Groups, 1)
	assert.Equal(t, "mods", inspection.Groups[0].ContentType)
	assert.Equal(t, 1, inspection.Groups[0].Count)
	assert.Equal(t, 1, inspection.RequiredFailures)
	assert.Equal(t, 1, inspection.FailuresByReason[types.ReasonNoCompatibleLoader])
	require.NotEmpty(t, inspection.Hints)
	assert.Contains(t, inspection.Hints[0], "--partial-apply-unsafe")
}
