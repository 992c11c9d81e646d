package integration

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"packlink/internal/adapters"
	"packlink/internal/core"
	"packlink/internal/types"
)

var target = types.InstanceTarget{InstanceID: "inst-1", MinecraftVersion: "1.20.1", Loader: "fabric"}

func TestResolveIntegration(t *testing.T) {
	root := repoRoot(t)
	spec, err := adapters.LoadSpecFile(filepath.Join(root, "fixtures/starter-spec.yaml"))
	require.NoError(t, err)
	require.NoError(t, core.NewSpecValidator().ValidateSpec(t.Context(), spec))

	provider := adapters.NewCatalogFileProvider(filepath.Join(root, "fixtures/catalog.yaml"))
	planner := core.NewPlanner(core.NewVersionResolver(provider))
	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)

	plan, err := planner.Plan(t.Context(), spec, target, "", now)
	require.NoError(t, err)
	require.Len(t, plan.Resolved, 4)
	require.Empty(t, plan.Failed)
	assert.Equal(t, types.ConfidenceHigh, plan.ConfidenceLabel)
	assert.Equal(t, types.DefaultProfileID, plan.ProfileID)

	again, err := planner.Plan(t.Context(), spec, target, "", now)
	require.NoError(t, err)
	assert.Equal(t, plan.ID, again.ID)
	assert.Equal(t, core.RenderPlanSummary(plan), core.RenderPlanSummary(again))
}

func TestResolveIntegrationWrongLoader(t *testing.T) {
	root := repoRoot(t)
	spec, err := adapters.LoadSpecFile(filepath.Join(root, "fixtures/starter-spec.yaml"))
	require.NoError(t, err)
	provider := adapters.NewCatalogFileProvider(filepath.Join(root, "fixtures/catalog.yaml"))
	planner := core.NewPlanner(core.NewVersionResolver(provider))

	forge := target
	forge.Loader = "forge"
	plan, err := planner.Plan(t.Context(), spec, forge, "", time.Now())
	require.NoError(t, err)

	failed := map[string]types.FailureReason{}
	for _, item := range plan.Failed {
		failed[item.Entry.ProjectID] = item.ReasonCode
	}
	assert.Equal(t, types.ReasonNoCompatibleLoader, failed["sodium"])
	assert.Equal(t, types.ReasonNoCompatibleLoader, failed["fabric-api"])
	assert.NotContains(t, failed, "fresh-animations")
	assert.Equal(t, types.ConfidenceRisky, plan.ConfidenceLabel)
}

func repoRoot(t *testing.T) string {
	dir, err := os.Getwd()
	require.NoError(t, err)
	return filepath.Clean(filepath.Join(dir, "..", ".."))
}
