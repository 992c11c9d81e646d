package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"packlink/internal/types"
)

// ---------- Command tree tests ----------

func TestRootCommandHasSubcommands(t *testing.T) {
	root := newRootCommand()
	names := make([]string, 0, len(root.Commands()))
	for _, cmd := range root.Commands() {
		names = append(names, cmd.Name())
	}
	expected := []string{
		"spec", "validate", "resolve", "inspect", "apply", "rollback",
		"snapshots", "lock", "unlink", "drift", "realign", "prune",
		"friend", "watch", "serve",
	}
	for _, name := range expected {
		assert.Contains(t, names, name, "missing subcommand: %s", name)
	}
}

func TestNestedSubcommands(t *testing.T) {
	root := newRootCommand()
	tests := []struct {
		parent string
		want   []string
	}{
		{
			parent: "spec",
			want:   []string{"create", "import", "list", "show", "delete", "set-layer", "suggest", "diff", "update-from-instance"},
		},
		{
			parent: "friend",
			want:   []string{"create", "join", "leave", "status", "allowlist", "trust", "policy", "reconcile", "resolve", "preview", "debug"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.parent, func(t *testing.T) {
			parent, _, err := root.Find([]string{tt.parent})
			require.NoError(t, err)
			var names []string
			for _, cmd := range parent.Commands() {
				names = append(names, cmd.Name())
			}
			assert.ElementsMatch(t, tt.want, names)
		})
	}
}

func TestRootCommandVersion(t *testing.T) {
	root := newRootCommand()
	assert.Equal(t, "dev", root.Version)
}

func TestRootPersistentFlags(t *testing.T) {
	root := newRootCommand()
	flags := []string{
		"config", "log-level", "data-dir", "instances-dir", "catalog",
		"catalog-url", "http-timeout", "http-retries", "http-retry-delay-ms",
		"snapshot-keep-last", "peer-endpoint",
	}
	for _, name := range flags {
		assert.NotNil(t, root.PersistentFlags().Lookup(name), "missing flag: %s", name)
	}
}

func TestResolveCommandFlags(t *testing.T) {
	cmd := newResolveCommand()
	flags := []string{"spec", "profile", "instance", "mc-version", "loader", "loader-version", "json"}
	for _, name := range flags {
		flag := cmd.Flags().Lookup(name)
		assert.NotNil(t, flag, "missing flag: %s", name)
	}
}

func TestApplyCommandFlags(t *testing.T) {
	cmd := newApplyCommand()
	for _, name := range []string{"plan", "one-time", "partial-apply-unsafe", "json"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), "missing flag: %s", name)
	}
}

func TestPruneCommandDefaultsToDryRun(t *testing.T) {
	cmd := newPruneCommand()
	flag := cmd.Flags().Lookup("dry-run")
	require.NotNil(t, flag)
	assert.Equal(t, "true", flag.DefValue)
}

func TestServeCommandFlags(t *testing.T) {
	cmd := newServeCommand()
	for _, name := range []string{"listen", "instance", "interval", "friend-sync", "no-fs-watch"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), "missing flag: %s", name)
	}
	assert.Nil(t, newWatchCommand().Flags().Lookup("listen"))
}

// ---------- Helper function tests ----------

func TestResolveString(t *testing.T) {
	tests := []struct {
		name     string
		cmd      *cobra.Command
		value    string
		expected string
	}{
		{
			name:     "nil cmd with value returns value",
			cmd:      nil,
			value:    "explicit",
			expected: "explicit",
		},
		{
			name:     "nil cmd empty value returns empty",
			cmd:      nil,
			value:    "",
			expected: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolveString(tt.cmd, tt.value, "test_key", "test-flag")
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestResolveStrings(t *testing.T) {
	got := resolveStrings(nil, []string{"a", "b"}, "test_key", "test-flag")
	assert.Equal(t, []string{"a", "b"}, got)
	assert.Empty(t, resolveStrings(nil, nil, "test_key", "test-flag"))
}

func TestResolveBoolAndInt(t *testing.T) {
	assert.True(t, resolveBool(nil, true, "test_key", "test-flag"))
	assert.False(t, resolveBool(nil, false, "test_key", "test-flag"))
	assert.Equal(t, 42, resolveInt(nil, 42, "test_key", "test-flag"))
}

func TestFlagChanged(t *testing.T) {
	assert.False(t, flagChanged(nil, "anything"), "nil cmd should return false")

	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("myflag", "", "test flag")
	assert.False(t, flagChanged(cmd, "myflag"), "unchanged flag")
	assert.False(t, flagChanged(cmd, "nonexistent"), "nonexistent flag")
	require.NoError(t, cmd.Flags().Set("myflag", "val"))
	assert.True(t, flagChanged(cmd, "myflag"))
}

func TestParseConflictResolution(t *testing.T) {
	tests := []struct {
		name     string
		opts     friendResolveOptions
		want     types.ConflictResolution
		wantErr  bool
		wantCode errbuilder.ErrCode
	}{
		{
			name: "take all theirs",
			opts: friendResolveOptions{TakeAllTheirs: true},
			want: types.ConflictResolution{TakeAllTheirs: true},
		},
		{
			name: "per item choices",
			opts: friendResolveOptions{Items: []string{"c1=keep_mine", " c2 = skip_for_now"}},
			want: types.ConflictResolution{Items: []types.ConflictResolutionItem{
				{ConflictID: "c1", Resolution: types.ResolutionKeepMine},
				{ConflictID: "c2", Resolution: types.ResolutionSkip},
			}},
		},
		{
			name:     "both bulk choices",
			opts:     friendResolveOptions{KeepAllMine: true, TakeAllTheirs: true},
			wantErr:  true,
			wantCode: errbuilder.CodeInvalidArgument,
		},
		{
			name:     "missing separator",
			opts:     friendResolveOptions{Items: []string{"c1"}},
			wantErr:  true,
			wantCode: errbuilder.CodeInvalidArgument,
		},
		{
			name:     "unknown choice",
			opts:     friendResolveOptions{Items: []string{"c1=merge"}},
			wantErr:  true,
			wantCode: errbuilder.CodeInvalidArgument,
		},
		{
			name:     "nothing chosen",
			opts:     friendResolveOptions{},
			wantErr:  true,
			wantCode: errbuilder.CodeInvalidArgument,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseConflictResolution(tt.opts)
			if tt.wantErr {
				require.Error(t, err)
				if diff := cmp.Diff(tt.wantCode, errbuilder.CodeOf(err)); diff != "" {
					t.Fatalf("error code mismatch (-want +got):\n%s", diff)
				}
				return
			}
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("resolution mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

// ---------- Exit code tests ----------

func TestExitCodeForError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{
			name: "invalid argument",
			err: errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg("bad input"),
			expected: 2,
		},
		{
			name: "already exists",
			err: errbuilder.New().
				WithCode(errbuilder.CodeAlreadyExists).
				WithMsg("spec already exists: pack"),
			expected: 2,
		},
		{
			name: "instance busy",
			err: errbuilder.New().
				WithCode(errbuilder.CodeAlreadyExists).
				WithMsg("instance busy: inst-1 is running apply"),
			expected: 4,
		},
		{
			name: "permission denied",
			err: errbuilder.New().
				WithCode(errbuilder.CodePermissionDenied).
				WithMsg("invalid peer token"),
			expected: 3,
		},
		{
			name: "stale plan",
			err: errbuilder.New().
				WithCode(errbuilder.CodeFailedPrecondition).
				WithMsg("stale plan: spec changed since resolve"),
			expected: 4,
		},
		{
			name: "not found",
			err: errbuilder.New().
				WithCode(errbuilder.CodeNotFound).
				WithMsg("plan not found"),
			expected: 5,
		},
		{
			name: "internal error",
			err: errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg("boom"),
			expected: 5,
		},
		{
			name:     "unknown error",
			err:      assert.AnError,
			expected: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := exitCodeForError(tt.err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{
			name: "errbuilder with msg",
			err: errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg("something broke"),
			expected: "something broke",
		},
		{
			name:     "plain error",
			err:      assert.AnError,
			expected: assert.AnError.Error(),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := errorMessage(tt.err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

// ---------- Command runs ----------

const cliSpecYAML = `id: starter
name: Starter Pack
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
          content_type: mods
          project_id: sodium
  - id: layer_user
    name: User Additions
    entries_delta: {}
  - id: layer_overrides
    name: Overrides
    entries_delta: {}
`

type cliFixture struct {
	dataDir string
	specs   string
}

func newCLIFixture(t *testing.T) cliFixture {
	t.Helper()
	cdn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("jar:" + r.URL.Path))
	}))
	t.Cleanup(cdn.Close)

	dir := t.TempDir()
	catalog := fmt.Sprintf(`projects:
  - provider: modrinth
    project_id: sodium
    name: Sodium
    versions:
      - version_id: s-1
        version_number: 0.5.3
        filename: sodium-0.5.3.jar
        download_url: %s/sodium-0.5.3.jar
        game_versions: ["1.20.1"]
        loaders: [fabric]
        channel: release
`, cdn.URL)
	dataDir := filepath.Join(dir, "data")
	require.NoError(t, os.MkdirAll(dataDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "catalog.yaml"), []byte(catalog), 0o644))
	specPath := filepath.Join(dir, "starter.yaml")
	require.NoError(t, os.WriteFile(specPath, []byte(cliSpecYAML), 0o644))
	return cliFixture{dataDir: dataDir, specs: specPath}
}

func (f cliFixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--data-dir", f.dataDir, "--log-level", "error"}, args...))
	err := root.ExecuteContext(t.Context())
	return out.String(), err
}

func TestSpecResolveApplyDriftFlow(t *testing.T) {
	f := newCLIFixture(t)

	out, err := f.run(t, "spec", "import", f.specs)
	require.NoError(t, err)
	assert.Contains(t, out, "imported spec: starter")

	out, err = f.run(t, "validate", "--spec", f.specs)
	require.NoError(t, err)
	assert.Contains(t, out, "validated: starter (3 layers, 1 entries)")

	out, err = f.run(t, "resolve", "--spec", "starter", "--instance", "inst-1",
		"--mc-version", "1.20.1", "--loader", "fabric", "--json")
	require.NoError(t, err)
	var plan types.ResolutionPlan
	require.NoError(t, json.Unmarshal([]byte(out), &plan))
	require.Len(t, plan.Resolved, 1)
	assert.Equal(t, types.ConfidenceHigh, plan.ConfidenceLabel)

	out, err = f.run(t, "inspect", "--plan", plan.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "- mods: 1 entries")

	out, err = f.run(t, "apply", "--plan", plan.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "applied=1")

	out, err = f.run(t, "lock", "--instance", "inst-1")
	require.NoError(t, err)
	assert.Contains(t, out, "sodium-0.5.3.jar")

	out, err = f.run(t, "drift", "--instance", "inst-1")
	require.NoError(t, err)
	assert.Equal(t, "inst-1: in_sync\n", out)

	out, err = f.run(t, "snapshots", "--instance", "inst-1")
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 1)
}

func TestCommandErrorsCarryCodes(t *testing.T) {
	f := newCLIFixture(t)

	_, err := f.run(t, "resolve", "--instance", "inst-1")
	require.Error(t, err)
	assert.Equal(t, 2, exitCodeForError(err))

	_, err = f.run(t, "inspect", "--plan", "plan_missing")
	require.Error(t, err)
	assert.Equal(t, 5, exitCodeForError(err))

	_, err = f.run(t, "spec", "create", "--id", "dup")
	require.NoError(t, err)
	_, err = f.run(t, "spec", "create", "--id", "dup")
	require.Error(t, err)
	assert.Equal(t, 2, exitCodeForError(err))
}
