// Package testutil provides shared test helpers used across integration,
// e2e, and unit test packages.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"packlink/internal/app"
	"packlink/internal/types"
)

// FixtureCDN is the download host used by fixtures/catalog.yaml.
const FixtureCDN = "https://cdn.example.test"

// Target is the instance every fixture flow resolves against.
var Target = types.InstanceTarget{
	InstanceID:       "inst-1",
	MinecraftVersion: "1.20.1",
	Loader:           "fabric",
}

// RepoRoot returns the absolute path to the repository root by walking
// up from the current working directory. It fails the test if the
// working directory cannot be determined.
func RepoRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	require.NoError(t, err)
	return filepath.Clean(filepath.Join(dir, "..", ".."))
}

// ServeContent starts a CDN that answers every path with "jar:<path>".
func ServeContent(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("jar:" + r.URL.Path))
	}))
	t.Cleanup(server.Close)
	return server
}

// LoadCatalog reads fixtures/catalog.yaml.
func LoadCatalog(t *testing.T) types.CatalogFile {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(RepoRoot(t), "fixtures", "catalog.yaml"))
	require.NoError(t, err)
	var catalog types.CatalogFile
	require.NoError(t, yaml.Unmarshal(data, &catalog))
	return catalog
}

// RebaseCatalog points every download URL in catalog at cdnURL.
func RebaseCatalog(catalog types.CatalogFile, cdnURL string) types.CatalogFile {
	for i := range catalog.Projects {
		for j := range catalog.Projects[i].Versions {
			version := &catalog.Projects[i].Versions[j]
			version.DownloadURL = strings.Replace(version.DownloadURL, FixtureCDN, cdnURL, 1)
		}
	}
	return catalog
}

// StageCatalog writes the fixture catalog, rebased onto cdnURL, as
// dataDir/catalog.yaml.
func StageCatalog(t *testing.T, dataDir string, cdnURL string) string {
	t.Helper()
	catalog := RebaseCatalog(LoadCatalog(t), cdnURL)
	data, err := yaml.Marshal(catalog)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(dataDir, 0o755))
	path := filepath.Join(dataDir, "catalog.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// NewService builds a fully wired service and closes it with the test.
func NewService(t *testing.T, cfg app.Config) app.Service {
	t.Helper()
	require.NoError(t, os.MkdirAll(cfg.DataDir, 0o755))
	svc, closeFn, err := app.NewService(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = closeFn() })
	return svc
}

// SequentialIDs replaces generated ids with prefix0001, prefix0002, ...
func SequentialIDs(prefix string) func() string {
	var mu sync.Mutex
	next := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		next++
		return fmt.Sprintf("%s%04d", prefix, next)
	}
}

// SteppingClock returns a clock that advances by step on every call.
func SteppingClock(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(step)
		return now
	}
}
