package core

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"packlink/internal/types"
)

func modEntry(projectID string) types.Entry {
	return types.Entry{Provider: types.ProviderModrinth, ContentType: "mods", ProjectID: projectID}
}

func TestComposeLaterLayersWin(t *testing.T) {
	sodiumPinned := modEntry("sodium")
	sodiumPinned.Pin = "mc1.20.1-0.5.3"

	layers := []types.Layer{
		{ID: types.LayerTemplateID, Name: "Template", EntriesDelta: types.EntriesDelta{
			Add: []types.Entry{modEntry("sodium"), modEntry("lithium"), modEntry("iris")},
		}},
		{ID: types.LayerUserID, Name: "User", EntriesDelta: types.EntriesDelta{
			Add:    []types.Entry{modEntry("Fabric-API")},
			Remove: []types.Entry{modEntry("iris")},
		}},
		{ID: types.LayerOverridesID, Name: "Overrides", EntriesDelta: types.EntriesDelta{
			Override: []types.Entry{sodiumPinned},
		}},
	}

	comp := NewLayerCompositor().Compose(t.Context(), layers)

	want := []string{"modrinth:mods:fabric-api", "modrinth:mods:lithium", "modrinth:mods:sodium"}
	if diff := cmp.Diff(want, comp.Keys()); diff != "" {
		t.Fatalf("unexpected keys (-want +got):\n%s", diff)
	}
	assert.Equal(t, "mc1.20.1-0.5.3", comp.Entries[2].Pin)
	assert.Equal(t, 2, comp.WinningLayer["modrinth:mods:sodium"])
	assert.Equal(t, 0, comp.WinningLayer["modrinth:mods:lithium"])
	assert.Empty(t, comp.Duplicates)
	assert.Empty(t, comp.OverridesWithoutBase)
}

func TestComposeIsDeterministic(t *testing.T) {
	layers := []types.Layer{
		{ID: types.LayerTemplateID, EntriesDelta: types.EntriesDelta{
			Add: []types.Entry{modEntry("zeta"), modEntry("alpha"), modEntry("mid")},
		}},
		{ID: types.LayerUserID, EntriesDelta: types.EntriesDelta{
			Add: []types.Entry{{Provider: "CurseForge", ContentType: "resourcepack", ProjectID: "Faithful"}},
		}},
	}
	compositor := NewLayerCompositor()
	first := compositor.Compose(t.Context(), layers)
	for range 5 {
		next := compositor.Compose(t.Context(), layers)
		if diff := cmp.Diff(first.Entries, next.Entries); diff != "" {
			t.Fatalf("composition changed between runs (-want +got):\n%s", diff)
		}
	}
	want := []string{
		"curseforge:resourcepacks:faithful",
		"modrinth:mods:alpha",
		"modrinth:mods:mid",
		"modrinth:mods:zeta",
	}
	if diff := cmp.Diff(want, first.Keys()); diff != "" {
		t.Fatalf("unexpected keys (-want +got):\n%s", diff)
	}
}

func TestComposeRecordsOverrideWithoutBase(t *testing.T) {
	layers := []types.Layer{
		{ID: types.LayerTemplateID, EntriesDelta: types.EntriesDelta{Add: []types.Entry{modEntry("sodium")}}},
		{ID: types.LayerOverridesID, EntriesDelta: types.EntriesDelta{Override: []types.Entry{modEntry("ghost")}}},
	}

	comp := NewLayerCompositor().Compose(t.Context(), layers)

	require.Len(t, comp.OverridesWithoutBase, 1)
	orphan := comp.OverridesWithoutBase[0]
	assert.Equal(t, "modrinth:mods:ghost", orphan.Key)
	assert.Equal(t, types.LayerOverridesID, orphan.LayerID)
	assert.Equal(t, 1, orphan.LayerIndex)
	if diff := cmp.Diff([]string{"modrinth:mods:sodium"}, comp.Keys()); diff != "" {
		t.Fatalf("orphan override leaked into entries (-want +got):\n%s", diff)
	}
}

func TestComposeRecordsDuplicatesWithinLayer(t *testing.T) {
	layers := []types.Layer{
		{ID: types.LayerUserID, Name: "User", EntriesDelta: types.EntriesDelta{
			Add:      []types.Entry{modEntry("sodium"), modEntry("SODIUM")},
			Override: []types.Entry{modEntry("sodium")},
		}},
		{ID: types.LayerOverridesID, EntriesDelta: types.EntriesDelta{Add: []types.Entry{modEntry("sodium")}}},
	}

	comp := NewLayerCompositor().Compose(t.Context(), layers)

	want := []DuplicateRecord{{Key: "modrinth:mods:sodium", LayerIndex: 0, LayerID: types.LayerUserID, Count: 3}}
	if diff := cmp.Diff(want, comp.Duplicates); diff != "" {
		t.Fatalf("unexpected duplicates (-want +got):\n%s", diff)
	}
	assert.Len(t, comp.Entries, 1)
}

func TestComposeRemoveThenReAdd(t *testing.T) {
	layers := []types.Layer{
		{ID: "a", EntriesDelta: types.EntriesDelta{Add: []types.Entry{modEntry("sodium")}}},
		{ID: "b", EntriesDelta: types.EntriesDelta{Remove: []types.Entry{modEntry("sodium")}}},
		{ID: "c", EntriesDelta: types.EntriesDelta{Override: []types.Entry{modEntry("sodium")}}},
		{ID: "d", EntriesDelta: types.EntriesDelta{Add: []types.Entry{modEntry("sodium")}}},
	}

	comp := NewLayerCompositor().Compose(t.Context(), layers)

	assert.Equal(t, []string{"modrinth:mods:sodium"}, comp.Keys())
	assert.Equal(t, 3, comp.WinningLayer["modrinth:mods:sodium"])
	require.Len(t, comp.OverridesWithoutBase, 1)
	assert.Equal(t, "c", comp.OverridesWithoutBase[0].LayerID)
}

func TestApplyProfileExcludesDisabledOptionalEntries(t *testing.T) {
	optional := modEntry("iris")
	optional.Optional = true
	unmentioned := modEntry("zoomify")
	unmentioned.Optional = true
	required := modEntry("sodium")

	profile := &types.Profile{ID: "lite", OptionalEntryStates: map[string]bool{
		"modrinth:mods:iris":   false,
		"modrinth:mods:sodium": false,
	}}

	got := ApplyProfile([]types.Entry{optional, required, unmentioned}, profile)
	keys := make([]string, 0, len(got))
	for _, entry := range got {
		keys = append(keys, types.EntryKey(entry))
	}
	if diff := cmp.Diff([]string{"modrinth:mods:sodium", "modrinth:mods:zoomify"}, keys); diff != "" {
		t.Fatalf("unexpected entries (-want +got):\n%s", diff)
	}
	assert.Len(t, ApplyProfile([]types.Entry{optional, required}, nil), 2)
}

func TestSelectProfileFallsBackToRecommended(t *testing.T) {
	spec := types.ModpackSpec{Profiles: types.DefaultProfiles()}

	require.NotNil(t, SelectProfile(spec, "lite"))
	assert.Equal(t, "lite", SelectProfile(spec, "lite").ID)
	assert.Equal(t, types.DefaultProfileID, SelectProfile(spec, "missing").ID)
	assert.Equal(t, types.DefaultProfileID, SelectProfile(spec, "").ID)
	assert.Nil(t, SelectProfile(types.ModpackSpec{}, "lite"))
}

func TestDiffLayers(t *testing.T) {
	changed := modEntry("sodium")
	changed.Pin = "0.5.3"
	notesOnlyName := modEntry("lithium")
	notesOnlyName.Name = "Lithium"

	got := DiffLayers(
		[]types.Entry{modEntry("sodium"), modEntry("lithium"), modEntry("iris")},
		[]types.Entry{changed, notesOnlyName, modEntry("fabric-api")},
	)

	assert.Equal(t, []string{"modrinth:mods:fabric-api"}, entryKeys(got.Added))
	assert.Equal(t, []string{"modrinth:mods:iris"}, entryKeys(got.Removed))
	assert.Equal(t, []string{"modrinth:mods:sodium"}, entryKeys(got.Overridden))
}

func entryKeys(entries []types.Entry) []string {
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		out = append(out, types.EntryKey(entry))
	}
	return out
}
