package core

import (
	"slices"
	"sort"

	"packlink/internal/types"
)

// DiffLayers compares two entry sets by identity. Entries present on both
// sides are reported as overridden only when a user-visible field changed.
func DiffLayers(base []types.Entry, next []types.Entry) types.LayerDiffResult {
	before := indexEntries(base)
	after := indexEntries(next)

	result := types.LayerDiffResult{
		Added:      []types.Entry{},
		Removed:    []types.Entry{},
		Overridden: []types.Entry{},
	}
	for _, key := range sortedKeys(after) {
		old, ok := before[key]
		if !ok {
			result.Added = append(result.Added, after[key])
			continue
		}
		if materiallyDifferent(old, after[key]) {
			result.Overridden = append(result.Overridden, after[key])
		}
	}
	for _, key := range sortedKeys(before) {
		if _, ok := after[key]; !ok {
			result.Removed = append(result.Removed, before[key])
		}
	}
	return result
}

func indexEntries(entries []types.Entry) map[string]types.Entry {
	out := make(map[string]types.Entry, len(entries))
	for _, entry := range entries {
		normalized := entry.Normalized()
		out[types.EntryKey(normalized)] = normalized
	}
	return out
}

func materiallyDifferent(a types.Entry, b types.Entry) bool {
	return a.IsRequired() != b.IsRequired() ||
		a.Pin != b.Pin ||
		a.EffectiveChannelPolicy() != b.EffectiveChannelPolicy() ||
		a.EffectiveFallbackPolicy() != b.EffectiveFallbackPolicy() ||
		a.ReplacementGroup != b.ReplacementGroup ||
		a.Notes != b.Notes ||
		a.DisabledByDefault != b.DisabledByDefault ||
		a.Optional != b.Optional ||
		types.NormalizeTargetScope(string(a.TargetScope)) != types.NormalizeTargetScope(string(b.TargetScope)) ||
		!slices.Equal(sortedCopy(a.TargetWorlds), sortedCopy(b.TargetWorlds))
}

func sortedCopy(values []string) []string {
	out := append([]string(nil), values...)
	sort.Strings(out)
	return out
}
