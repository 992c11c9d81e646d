package adapters

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"packlink/internal/types"
)

func openStateStore(t *testing.T) *SQLiteStateStore {
	t.Helper()
	store, err := NewSQLiteStateStore(filepath.Join(t.TempDir(), "state", "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStateStorePlans(t *testing.T) {
	store := openStateStore(t)
	ctx := t.Context()
	created := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	plan := types.ResolutionPlan{
		ID:              "plan_0123456789abcdef",
		ModpackID:       "pack-1",
		ConfidenceScore: 90,
		ConfidenceLabel: types.ConfidenceHigh,
		Resolved:        []types.ResolvedEntry{{Key: "modrinth:mods:sodium", VersionID: "s-1"}},
		CreatedAt:       created,
	}
	require.NoError(t, store.SavePlan(ctx, plan))
	plan.ConfidenceScore = 85
	require.NoError(t, store.SavePlan(ctx, plan))

	got, err := store.LoadPlan(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, 85, got.ConfidenceScore)
	assert.True(t, got.CreatedAt.Equal(created))
	require.Len(t, got.Resolved, 1)

	_, err = store.LoadPlan(ctx, "plan_missing")
	require.Error(t, err)
	assert.Equal(t, errbuilder.CodeNotFound, errbuilder.CodeOf(err))
}

func TestSQLiteStateStoreLockSnapshotsNewestFirstAndCapped(t *testing.T) {
	store := openStateStore(t)
	store.Limit = 3
	ctx := t.Context()
	base := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	for i := range 5 {
		require.NoError(t, store.SaveLockSnapshot(ctx, types.LockSnapshot{
			ID:         fmt.Sprintf("locksnap_%d", i),
			InstanceID: "inst-1",
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, store.SaveLockSnapshot(ctx, types.LockSnapshot{ID: "other", InstanceID: "inst-2", CreatedAt: base.Add(time.Hour)}))

	snapshots, err := store.ListLockSnapshots(ctx, "inst-1")
	require.NoError(t, err)
	ids := make([]string, 0, len(snapshots))
	for _, snapshot := range snapshots {
		ids = append(ids, snapshot.ID)
	}
	assert.Equal(t, []string{"locksnap_4", "locksnap_3"}, ids)

	_, err = store.LoadLockSnapshot(ctx, "locksnap_0")
	assert.Equal(t, errbuilder.CodeNotFound, errbuilder.CodeOf(err))
}

func TestSQLiteStateStoreDeleteLockSnapshot(t *testing.T) {
	store := openStateStore(t)
	ctx := t.Context()
	base := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	require.NoError(t, store.SaveLockSnapshot(ctx, types.LockSnapshot{ID: "locksnap_a", InstanceID: "inst-1", CreatedAt: base}))
	require.NoError(t, store.SaveLockSnapshot(ctx, types.LockSnapshot{ID: "locksnap_b", InstanceID: "inst-1", CreatedAt: base.Add(time.Minute)}))

	require.NoError(t, store.DeleteLockSnapshot(ctx, "locksnap_b"))
	require.NoError(t, store.DeleteLockSnapshot(ctx, "locksnap_missing"))

	snapshots, err := store.ListLockSnapshots(ctx, "inst-1")
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
	assert.Equal(t, "locksnap_a", snapshots[0].ID)
}

func TestSQLiteStateStoreLinksAndSessions(t *testing.T) {
	store := openStateStore(t)
	ctx := t.Context()

	_, ok, err := store.LoadLink(ctx, "inst-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.SaveLink(ctx, types.InstanceLinkState{InstanceID: "inst-1", Mode: types.LinkModeLinked, ModpackID: "pack-1"}))
	link, ok, err := store.LoadLink(ctx, "inst-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "pack-1", link.ModpackID)

	session := types.FriendLinkSession{
		InstanceID:     "inst-1",
		GroupID:        "group-1",
		LocalPeerID:    "peer-a",
		TrustedPeerIDs: []string{"peer-b"},
		Sync:           types.DefaultSyncToggles(),
	}
	require.NoError(t, store.SaveSession(ctx, session))

	byGroup, ok, err := store.FindSessionByGroup(ctx, "group-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "inst-1", byGroup.InstanceID)
	assert.True(t, byGroup.IsTrusted("peer-b"))

	require.NoError(t, store.DeleteSession(ctx, "inst-1"))
	_, ok, err = store.LoadSession(ctx, "inst-1")
	require.NoError(t, err)
	assert.False(t, ok)
}
