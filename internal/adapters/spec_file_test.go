package adapters

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

func sampleSpec(id string) types.ModpackSpec {
	stamp := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	layers := types.DefaultLayers()
	layers[0].EntriesDelta.Add = []types.Entry{{
		Provider:    types.ProviderModrinth,
		ContentType: "mods",
		ProjectID:   "sodium",
		Name:        "Sodium",
	}}
	return types.ModpackSpec{
		ID:        id,
		Name:      "Pack " + id,
		Layers:    layers,
		Profiles:  types.DefaultProfiles(),
		Settings:  types.DefaultResolutionSettings(),
		CreatedAt: stamp,
		UpdatedAt: stamp,
	}
}

func TestSpecFileStoreRoundTrip(t *testing.T) {
	store := NewSpecFileStore(filepath.Join(t.TempDir(), "specs"))
	ctx := t.Context()

	want := sampleSpec("pack-1")
	require.NoError(t, store.SaveSpec(ctx, want))
	require.NoError(t, store.SaveSpec(ctx, sampleSpec("pack-0")))

	got, err := store.LoadSpec(ctx, "pack-1")
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected spec (-want +got):\n%s", diff)
	}

	all, err := store.ListSpecs(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "pack-0", all[0].ID)

	require.NoError(t, store.DeleteSpec(ctx, "pack-0"))
	err = store.DeleteSpec(ctx, "pack-0")
	require.Error(t, err)
	assert.Equal(t, errbuilder.CodeNotFound, errbuilder.CodeOf(err))
}

func TestSpecFileStoreErrors(t *testing.T) {
	dir := t.TempDir()
	store := NewSpecFileStore(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("layers: [::"), 0o644))

	tests := []struct {
		name     string
		id       string
		wantCode errbuilder.ErrCode
	}{
		{name: "missing", id: "nope", wantCode: errbuilder.CodeNotFound},
		{name: "invalid yaml", id: "broken", wantCode: errbuilder.CodeInvalidArgument},
		{name: "traversal", id: "../etc", wantCode: errbuilder.CodeInvalidArgument},
		{name: "empty", id: " ", wantCode: errbuilder.CodeInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.LoadSpec(t.Context(), tt.id)
			require.Error(t, err)
			if diff := cmp.Diff(tt.wantCode, errbuilder.CodeOf(err)); diff != "" {
				t.Fatalf("unexpected error code (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSpecFileStoreListMissingDir(t *testing.T) {
	store := NewSpecFileStore(filepath.Join(t.TempDir(), "absent"))
	specs, err := store.ListSpecs(t.Context())
	require.NoError(t, err)
	assert.Empty(t, specs)
}
