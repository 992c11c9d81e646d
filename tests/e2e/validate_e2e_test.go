package e2e

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"packlink/tests/testutil"
)

func TestValidateCommandE2E(t *testing.T) {
	root := testutil.RepoRoot(t)
	dataDir := t.TempDir()

	cmd := exec.Command("go", "run", "./cmd/packlink", "validate",
		"--data-dir", dataDir,
		"--catalog", "fixtures/catalog.yaml",
		"--spec", "fixtures/starter-spec.yaml",
		"--log-level", "error",
	)
	cmd.Dir = root
	cmd.Env = append(os.Environ(), "GO111MODULE=on")
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, string(out))
	require.Contains(t, string(out), "validated: starter (3 layers, 4 entries)")
}

func TestResolveCommandE2E(t *testing.T) {
	root := testutil.RepoRoot(t)
	dataDir := t.TempDir()

	run := func(args ...string) string {
		t.Helper()
		base := []string{"run", "./cmd/packlink", "--data-dir", dataDir, "--catalog", "fixtures/catalog.yaml", "--log-level", "error"}
		cmd := exec.Command("go", append(base, args...)...)
		cmd.Dir = root
		cmd.Env = append(os.Environ(), "GO111MODULE=on")
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
		return string(out)
	}

	run("spec", "import", "fixtures/starter-spec.yaml")
	out := run("resolve", "--spec", "starter", "--instance", "inst-1", "--mc-version", "1.20.1", "--loader", "fabric")
	require.Contains(t, out, "Confidence: High")
	require.FileExists(t, filepath.Join(dataDir, "state.db"))
	require.FileExists(t, filepath.Join(dataDir, "specs", "starter.yaml"))
}
