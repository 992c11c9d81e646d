package core

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"packlink/internal/types"
)

// ConflictReport is the detector output. Entries that lose a file collision
// are moved from Resolved to Blocked.
type ConflictReport struct {
	Conflicts []types.ConflictRecord
	Resolved  []types.ResolvedEntry
	Blocked   []types.FailedEntry
}

func DetectConflicts(comp Composition, layers []types.Layer, resolved []types.ResolvedEntry, target types.InstanceTarget) ConflictReport {
	report := ConflictReport{Conflicts: []types.ConflictRecord{}}

	for _, dup := range comp.Duplicates {
		layerName := layerNameAt(layers, dup.LayerIndex)
		report.Conflicts = append(report.Conflicts, types.ConflictRecord{
			Code:     types.ConflictLayerDuplicate,
			Keys:     []string{dup.Key},
			LayerIDs: []string{dup.LayerID},
			Message:  fmt.Sprintf("Entry '%s' appears %d times in layer '%s'.", dup.Key, dup.Count, layerName),
			Suggestion: types.ConflictSuggestion{
				Action:      types.SuggestionKeepHighestPrecedence,
				KeepKey:     dup.Key,
				KeepLayerID: dup.LayerID,
				Description: fmt.Sprintf("Keep the last occurrence in layer '%s' and remove the rest.", layerName),
			},
		})
	}

	for _, orphan := range comp.OverridesWithoutBase {
		targetLayer := firstEditableLayer(layers, orphan.LayerIndex)
		report.Conflicts = append(report.Conflicts, types.ConflictRecord{
			Code:     types.ConflictOverrideWithoutBase,
			Keys:     []string{orphan.Key},
			LayerIDs: []string{orphan.LayerID},
			Message: fmt.Sprintf("Override for '%s' in layer '%s' has no base entry and is excluded from resolution.",
				orphan.Entry.ProjectID, layerNameAt(layers, orphan.LayerIndex)),
			Suggestion: types.ConflictSuggestion{
				Action:        types.SuggestionConvertToAdd,
				KeepKey:       orphan.Key,
				KeepLayerID:   orphan.LayerID,
				TargetLayerID: targetLayer,
				Description:   fmt.Sprintf("Convert the override into an add in layer '%s'.", targetLayer),
			},
		})
	}

	byFile := map[string][]int{}
	for i, item := range resolved {
		if item.Filename == "" {
			continue
		}
		fileKey := string(item.Entry.NormalizedContentType()) + "/" + strings.ToLower(item.Filename)
		byFile[fileKey] = append(byFile[fileKey], i)
	}
	blocked := map[int]struct{}{}
	for _, fileKey := range sortedKeys(byFile) {
		indexes := byFile[fileKey]
		distinct := map[string]struct{}{}
		for _, idx := range indexes {
			distinct[resolved[idx].Key] = struct{}{}
		}
		if len(distinct) < 2 {
			continue
		}
		sort.SliceStable(indexes, func(a, b int) bool {
			la := layerPrecedence(comp, resolved[indexes[a]].Key)
			lb := layerPrecedence(comp, resolved[indexes[b]].Key)
			if la != lb {
				return la > lb
			}
			return resolved[indexes[a]].Key < resolved[indexes[b]].Key
		})
		winner := resolved[indexes[0]]
		keys := []string{winner.Key}
		var losers []string
		for _, idx := range indexes[1:] {
			loser := resolved[idx]
			keys = append(keys, loser.Key)
			losers = append(losers, loser.Key)
			blocked[idx] = struct{}{}
			report.Blocked = append(report.Blocked, types.FailedEntry{
				Key:                 loser.Key,
				Entry:               loser.Entry,
				ReasonCode:          types.ReasonConflictBlocked,
				ReasonText:          fmt.Sprintf("File '%s' is also provided by '%s', which has higher precedence.", loser.Filename, winner.Name),
				ActionableHint:      "Remove one of the colliding entries or pick a different version.",
				ConstraintsSnapshot: constraintsSnapshot(target),
				Required:            loser.Entry.IsRequired(),
			})
		}
		winnerLayer := ""
		if idx := layerPrecedence(comp, winner.Key); idx >= 0 && idx < len(layers) {
			winnerLayer = layers[idx].ID
		}
		report.Conflicts = append(report.Conflicts, types.ConflictRecord{
			Code:     types.ConflictFileCollision,
			Keys:     keys,
			Filename: winner.Filename,
			Message:  fmt.Sprintf("Multiple resolved entries map to filename '%s'.", strings.ToLower(winner.Filename)),
			Suggestion: types.ConflictSuggestion{
				Action:      types.SuggestionKeepWinner,
				KeepKey:     winner.Key,
				KeepLayerID: winnerLayer,
				RemoveKeys:  losers,
				Description: fmt.Sprintf("Keep '%s' and remove the other entries.", winner.Name),
			},
		})
	}

	for i, item := range resolved {
		if _, ok := blocked[i]; ok {
			continue
		}
		report.Resolved = append(report.Resolved, item)
	}
	return report
}

// layerPrecedence is the winning layer index of an identity; entries added
// by dependency resolution have none and rank lowest.
func layerPrecedence(comp Composition, key string) int {
	if idx, ok := comp.WinningLayer[key]; ok {
		return idx
	}
	return -1
}

func layerNameAt(layers []types.Layer, idx int) string {
	if idx < 0 || idx >= len(layers) {
		return ""
	}
	if layers[idx].Name != "" {
		return layers[idx].Name
	}
	return layers[idx].ID
}

// firstEditableLayer is the first non-frozen layer that is not the template,
// falling back to the layer that holds the override.
func firstEditableLayer(layers []types.Layer, fallback int) string {
	for _, layer := range layers {
		if layer.IsFrozen || layer.ID == types.LayerTemplateID {
			continue
		}
		return layer.ID
	}
	if fallback >= 0 && fallback < len(layers) {
		return layers[fallback].ID
	}
	return ""
}

// ApplyConflictSuggestion mutates the spec according to an auto-fix
// suggestion. It reports false when the fix is already in place.
func ApplyConflictSuggestion(ctx context.Context, spec types.ModpackSpec, record types.ConflictRecord) (types.ModpackSpec, bool, error) {
	out := cloneSpec(spec)
	switch record.Suggestion.Action {
	case types.SuggestionKeepHighestPrecedence:
		return keepLastOccurrence(out, record.Suggestion)
	case types.SuggestionConvertToAdd:
		return convertOverrideToAdd(out, record.Suggestion)
	case types.SuggestionKeepWinner:
		return removeCollisionLosers(ctx, out, record.Suggestion)
	default:
		return spec, false, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("unsupported suggestion action: %s", record.Suggestion.Action))
	}
}

func keepLastOccurrence(spec types.ModpackSpec, suggestion types.ConflictSuggestion) (types.ModpackSpec, bool, error) {
	idx := spec.LayerIndex(suggestion.KeepLayerID)
	if idx < 0 {
		return spec, false, layerNotFound(suggestion.KeepLayerID)
	}
	layer := &spec.Layers[idx]
	count := countKey(layer.EntriesDelta.Add, suggestion.KeepKey) + countKey(layer.EntriesDelta.Override, suggestion.KeepKey)
	if count <= 1 {
		return spec, false, nil
	}
	if layer.IsFrozen {
		return spec, false, frozenLayer(layer.ID)
	}
	winner, ok := lastWithKey(layer.EntriesDelta.Override, suggestion.KeepKey)
	if !ok {
		winner, _ = lastWithKey(layer.EntriesDelta.Add, suggestion.KeepKey)
	}
	layer.EntriesDelta.Override = dropKey(layer.EntriesDelta.Override, suggestion.KeepKey)
	layer.EntriesDelta.Add = append(dropKey(layer.EntriesDelta.Add, suggestion.KeepKey), winner)
	return spec, true, nil
}

func convertOverrideToAdd(spec types.ModpackSpec, suggestion types.ConflictSuggestion) (types.ModpackSpec, bool, error) {
	var entry *types.Entry
	source := -1
	for i := range spec.Layers {
		for _, candidate := range spec.Layers[i].EntriesDelta.Override {
			if types.EntryKey(candidate) == suggestion.KeepKey {
				copied := candidate
				entry = &copied
				source = i
			}
		}
	}
	if entry == nil {
		return spec, false, nil
	}
	targetIdx := spec.LayerIndex(suggestion.TargetLayerID)
	if targetIdx < 0 {
		return spec, false, layerNotFound(suggestion.TargetLayerID)
	}
	if spec.Layers[targetIdx].IsFrozen {
		return spec, false, frozenLayer(spec.Layers[targetIdx].ID)
	}
	if spec.Layers[source].IsFrozen {
		return spec, false, frozenLayer(spec.Layers[source].ID)
	}
	spec.Layers[source].EntriesDelta.Override = dropKey(spec.Layers[source].EntriesDelta.Override, suggestion.KeepKey)
	target := &spec.Layers[targetIdx]
	target.EntriesDelta.Add = append(dropKey(target.EntriesDelta.Add, suggestion.KeepKey), *entry)
	return spec, true, nil
}

func removeCollisionLosers(ctx context.Context, spec types.ModpackSpec, suggestion types.ConflictSuggestion) (types.ModpackSpec, bool, error) {
	comp := NewLayerCompositor().Compose(ctx, spec.Layers)
	present := map[string]types.Entry{}
	for _, entry := range comp.Entries {
		present[types.EntryKey(entry)] = entry
	}
	target := lastEditableLayer(spec.Layers)
	changed := false
	for _, key := range suggestion.RemoveKeys {
		entry, ok := present[key]
		if !ok {
			continue
		}
		if target < 0 {
			return spec, false, frozenLayer("all layers")
		}
		spec.Layers[target].EntriesDelta.Remove = append(spec.Layers[target].EntriesDelta.Remove, types.Entry{
			Provider:    entry.Provider,
			ContentType: entry.ContentType,
			ProjectID:   entry.ProjectID,
		})
		changed = true
	}
	return spec, changed, nil
}

func lastEditableLayer(layers []types.Layer) int {
	for i := len(layers) - 1; i >= 0; i-- {
		if !layers[i].IsFrozen {
			return i
		}
	}
	return -1
}

func countKey(entries []types.Entry, key string) int {
	count := 0
	for _, entry := range entries {
		if types.EntryKey(entry) == key {
			count++
		}
	}
	return count
}

func dropKey(entries []types.Entry, key string) []types.Entry {
	var out []types.Entry
	for _, entry := range entries {
		if types.EntryKey(entry) != key {
			out = append(out, entry)
		}
	}
	return out
}

func lastWithKey(entries []types.Entry, key string) (types.Entry, bool) {
	for i := len(entries) - 1; i >= 0; i-- {
		if types.EntryKey(entries[i]) == key {
			return entries[i], true
		}
	}
	return types.Entry{}, false
}

func cloneSpec(spec types.ModpackSpec) types.ModpackSpec {
	out := spec
	out.Layers = make([]types.Layer, len(spec.Layers))
	for i, layer := range spec.Layers {
		out.Layers[i] = layer
		out.Layers[i].EntriesDelta = types.EntriesDelta{
			Add:      append([]types.Entry(nil), layer.EntriesDelta.Add...),
			Remove:   append([]types.Entry(nil), layer.EntriesDelta.Remove...),
			Override: append([]types.Entry(nil), layer.EntriesDelta.Override...),
		}
	}
	out.Profiles = append([]types.Profile(nil), spec.Profiles...)
	return out
}

func layerNotFound(id string) error {
	return errbuilder.New().
		WithCode(errbuilder.CodeNotFound).
		WithMsg(fmt.Sprintf("layer not found: %s", id))
}

func frozenLayer(id string) error {
	return errbuilder.New().
		WithCode(errbuilder.CodeFailedPrecondition).
		WithMsg(fmt.Sprintf("layer is frozen: %s", id))
}
