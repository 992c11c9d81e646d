//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"packlink/internal/adapters"
	"packlink/internal/app"
	"packlink/internal/types"
	"packlink/tests/testutil"
)

func TestE2EHTTPCatalogWithTestcontainers(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping testcontainers e2e in short mode")
	}

	ctx := t.Context()
	cdn := testutil.ServeContent(t)
	catalog := testutil.RebaseCatalog(testutil.LoadCatalog(t), cdn.URL)
	endpoint, cleanup := startCatalogServer(ctx, t, catalog)
	t.Cleanup(cleanup)

	svc := testutil.NewService(t, app.Config{
		DataDir:    filepath.Join(t.TempDir(), "data"),
		CatalogURL: endpoint,
		HTTP:       adapters.NewHTTPOptions(10, 1, 100),
	})
	spec := importStarter(t, svc)

	plan, err := svc.Resolve(ctx, app.ResolveRequest{SpecID: spec.ID, Target: testutil.Target})
	require.NoError(t, err)
	require.Empty(t, plan.Failed)
	assert.Equal(t, types.ConfidenceHigh, plan.ConfidenceLabel)
	require.Len(t, plan.Resolved, 4)

	result, err := svc.ApplyPlan(ctx, app.ApplyRequest{PlanID: plan.ID})
	require.NoError(t, err)
	assert.Equal(t, 4, result.AppliedEntries)
	assert.Equal(t, 0, result.FailedEntries)

	report, err := svc.DetectDrift(ctx, testutil.Target.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, types.DriftInSync, report.Status)

	_, err = svc.SetLayerEntries(ctx, app.SetLayerEntriesRequest{
		SpecID:  spec.ID,
		LayerID: types.LayerUserID,
		Delta: types.EntriesDelta{Add: []types.Entry{{
			Provider:    types.ProviderModrinth,
			ContentType: string(types.ContentTypeMods),
			ProjectID:   "does-not-exist",
		}}},
	})
	require.NoError(t, err)
	missing, err := svc.Resolve(ctx, app.ResolveRequest{SpecID: spec.ID, Target: testutil.Target})
	require.NoError(t, err)
	require.Len(t, missing.Failed, 1)
	assert.Equal(t, types.ReasonProjectNotFound, missing.Failed[0].ReasonCode)
	assert.True(t, missing.Failed[0].Required)
	assert.Equal(t, types.ConfidenceRisky, missing.ConfidenceLabel)
}

// startCatalogServer serves catalog as the static JSON layout read by the
// HTTP catalog provider.
func startCatalogServer(ctx context.Context, t *testing.T, catalog types.CatalogFile) (string, func()) {
	t.Helper()
	script, err := buildCatalogServerScript(catalog)
	require.NoError(t, err)
	req := testcontainers.ContainerRequest{
		Image:        "python:3.12-alpine",
		ExposedPorts: []string{"8080/tcp"},
		Cmd:          []string{"python", "-c", script},
		WaitingFor:   wait.ForListeningPort("8080/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "8080/tcp")
	require.NoError(t, err)

	endpoint := fmt.Sprintf("http://%s:%s", host, port.Port())
	cleanup := func() {
		_ = container.Terminate(ctx)
	}
	return endpoint, cleanup
}

func buildCatalogServerScript(catalog types.CatalogFile) (string, error) {
	docs := map[string]interface{}{}
	for _, project := range catalog.Projects {
		provider := string(types.NormalizeProvider(project.Provider))
		docs[fmt.Sprintf("%s/projects/%s.json", provider, strings.ToLower(project.ProjectID))] = project
		for _, version := range project.Versions {
			docs[fmt.Sprintf("%s/versions/%s.json", provider, strings.ToLower(version.VersionID))] = version
		}
	}
	files := map[string]string{}
	for rel, doc := range docs {
		body, err := json.Marshal(doc)
		if err != nil {
			return "", err
		}
		files[rel] = string(body)
	}
	payload, err := json.Marshal(files)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(catalogServerScript, string(payload)), nil
}

const catalogServerScript = `
import json
import os

root = "/srv/catalog"
files = json.loads(%q)
for rel, body in files.items():
    path = os.path.join(root, rel)
    os.makedirs(os.path.dirname(path), exist_ok=True)
    with open(path, "w") as f:
        f.write(body)

os.execvp("python", ["python", "-m", "http.server", "8080", "--directory", root])
`
