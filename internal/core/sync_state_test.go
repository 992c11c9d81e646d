package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"packlink/internal/types"
)

func TestLockSyncKey(t *testing.T) {
	entry := lockEntry("Sodium", "s-1")
	entry.Source = " Modrinth "
	assert.Equal(t, "lock::modrinth::mods::sodium", LockSyncKey(entry))
	assert.Equal(t, "config::config/sodium-options.json", ConfigSyncKey("config/Sodium-Options.json"))
}

func TestLockEntryHashIsCanonical(t *testing.T) {
	a := lockEntry("terralith", "t-1")
	a.TargetWorlds = []string{"b", "a", "a"}
	a.Hashes = map[string]string{"SHA1": " AB CD ", "sha512": "ff"}

	b := lockEntry("terralith", "t-1")
	b.TargetWorlds = []string{"a", "b"}
	b.Hashes = map[string]string{"sha1": "abcd", "sha512": "FF", "md5": ""}

	assert.Equal(t, LockEntryHash(a), LockEntryHash(b))
	assert.Len(t, LockEntryHash(a), 64)

	b.Enabled = false
	assert.NotEqual(t, LockEntryHash(a), LockEntryHash(b))
}

func TestBuildSyncStateFiltersAndOrders(t *testing.T) {
	shader := lockEntry("complementary", "c-1")
	shader.ContentType = "shaderpacks"
	toggles := types.DefaultSyncToggles()
	toggles.ShaderPacks = false

	configs := []types.ConfigFileState{
		{Path: "options.txt", Hash: SHA256Hex([]byte("fov:90"))},
		{Path: "config/Iris.properties", Hash: SHA256Hex([]byte("shaders=on"))},
	}
	state := BuildSyncState([]types.LockEntry{lockEntry("sodium", "s-1"), shader, lockEntry("iris", "i-1")}, configs, toggles)

	require.Len(t, state.LockEntries, 2)
	assert.Equal(t, "iris", state.LockEntries[0].ProjectID)
	assert.Equal(t, "config/Iris.properties", state.ConfigFiles[0].Path)
	assert.Equal(t, ManifestHash(StateManifest(state)), state.StateHash)

	reordered := BuildSyncState([]types.LockEntry{lockEntry("iris", "i-1"), lockEntry("sodium", "s-1")},
		[]types.ConfigFileState{configs[1], configs[0]}, toggles)
	assert.Equal(t, state.StateHash, reordered.StateHash)

	manifest := StateManifest(state)
	require.Len(t, manifest, 4)
	assert.Equal(t, "config::config/iris.properties", manifest[0].Key)
	assert.Equal(t, types.SyncItemLockEntry, manifest[3].Kind)
}

func TestIndexSyncStatePreview(t *testing.T) {
	state := BuildSyncState([]types.LockEntry{lockEntry("sodium", "s-1")},
		[]types.ConfigFileState{{Path: "options.txt", Hash: "h", Content: "fov:90"}}, types.DefaultSyncToggles())

	index := IndexSyncState(state)
	require.Len(t, index, 2)
	assert.Equal(t, "sodium s-1 (sodium-s-1.jar)", index["lock::modrinth::mods::sodium"].Preview())
	assert.Equal(t, "fov:90", index["config::options.txt"].Preview())
}
