package core

import (
	"context"
	"sort"

	"github.com/rs/zerolog/log"

	"packlink/internal/types"
)

// DuplicateRecord is an identity added more than once inside a single layer.
type DuplicateRecord struct {
	Key        string
	LayerIndex int
	LayerID    string
	Count      int
}

// OverrideRecord is an override whose identity had no prior entry.
type OverrideRecord struct {
	Key        string
	LayerIndex int
	LayerID    string
	Entry      types.Entry
}

// Composition is the canonical entry set produced from ordered layers.
type Composition struct {
	Entries              []types.Entry
	WinningLayer         map[string]int
	Duplicates           []DuplicateRecord
	OverridesWithoutBase []OverrideRecord
}

// Keys returns the identities of the composed entries in canonical order.
func (c Composition) Keys() []string {
	out := make([]string, 0, len(c.Entries))
	for _, entry := range c.Entries {
		out = append(out, types.EntryKey(entry))
	}
	return out
}

// entryArena holds every entry of every layer once; layers refer to it by
// index so merges compare indices and keys instead of whole entries.
type entryArena struct {
	entries []types.Entry
	keys    []string
}

func (a *entryArena) push(entry types.Entry) int {
	normalized := entry.Normalized()
	a.entries = append(a.entries, normalized)
	a.keys = append(a.keys, types.EntryKey(normalized))
	return len(a.entries) - 1
}

type layerIndex struct {
	add      []int
	remove   []int
	override []int
}

type LayerCompositor struct{}

func NewLayerCompositor() LayerCompositor {
	return LayerCompositor{}
}

// Compose walks layers in order: adds upsert by identity, removes drop the
// identity, overrides replace an existing identity or are recorded as
// overrides without base. Later layers win.
func (c LayerCompositor) Compose(ctx context.Context, layers []types.Layer) Composition {
	arena := &entryArena{}
	indexes := make([]layerIndex, len(layers))
	for i, layer := range layers {
		for _, entry := range layer.EntriesDelta.Add {
			indexes[i].add = append(indexes[i].add, arena.push(entry))
		}
		for _, entry := range layer.EntriesDelta.Remove {
			indexes[i].remove = append(indexes[i].remove, arena.push(entry))
		}
		for _, entry := range layer.EntriesDelta.Override {
			indexes[i].override = append(indexes[i].override, arena.push(entry))
		}
	}

	working := map[string]int{}
	winning := map[string]int{}
	var duplicates []DuplicateRecord
	var orphans []OverrideRecord

	for i, layer := range layers {
		seen := map[string]int{}
		for _, idx := range indexes[i].add {
			key := arena.keys[idx]
			seen[key]++
			working[key] = idx
			winning[key] = i
		}
		for _, idx := range indexes[i].remove {
			key := arena.keys[idx]
			delete(working, key)
			delete(winning, key)
		}
		for _, idx := range indexes[i].override {
			key := arena.keys[idx]
			seen[key]++
			if _, ok := working[key]; !ok {
				orphans = append(orphans, OverrideRecord{
					Key:        key,
					LayerIndex: i,
					LayerID:    layer.ID,
					Entry:      arena.entries[idx],
				})
				continue
			}
			working[key] = idx
			winning[key] = i
		}
		for _, key := range sortedKeys(seen) {
			if seen[key] > 1 {
				duplicates = append(duplicates, DuplicateRecord{
					Key:        key,
					LayerIndex: i,
					LayerID:    layer.ID,
					Count:      seen[key],
				})
			}
		}
	}

	keys := make([]string, 0, len(working))
	for key := range working {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	entries := make([]types.Entry, 0, len(keys))
	for _, key := range keys {
		entries = append(entries, arena.entries[working[key]])
	}

	log.Ctx(ctx).Debug().
		Int("layers", len(layers)).
		Int("entries", len(entries)).
		Int("duplicates", len(duplicates)).
		Int("overrides_without_base", len(orphans)).
		Msg("layers composed")

	return Composition{
		Entries:              entries,
		WinningLayer:         winning,
		Duplicates:           duplicates,
		OverridesWithoutBase: orphans,
	}
}

// ApplyProfile drops optional entries the profile switches off. Entries the
// profile does not mention stay included.
func ApplyProfile(entries []types.Entry, profile *types.Profile) []types.Entry {
	out := make([]types.Entry, 0, len(entries))
	for _, entry := range entries {
		if entry.Optional && profile != nil {
			if enabled, ok := profile.OptionalEntryStates[types.EntryKey(entry)]; ok && !enabled {
				continue
			}
		}
		out = append(out, entry)
	}
	return out
}

// SelectProfile returns the named profile, falling back to the default
// profile, or nil when the spec has neither.
func SelectProfile(spec types.ModpackSpec, profileID string) *types.Profile {
	if profileID != "" {
		if profile, ok := spec.Profile(profileID); ok {
			return &profile
		}
	}
	if profile, ok := spec.Profile(types.DefaultProfileID); ok {
		return &profile
	}
	return nil
}

func sortedKeys[T any](values map[string]T) []string {
	out := make([]string, 0, len(values))
	for key := range values {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
