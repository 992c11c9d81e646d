package core

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"packlink/internal/types"
)

func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// LockSyncKey is the friend-link identity of a lock entry.
func LockSyncKey(entry types.LockEntry) string {
	return fmt.Sprintf("lock::%s::%s::%s",
		strings.ToLower(strings.TrimSpace(string(entry.Source))),
		strings.ToLower(strings.TrimSpace(entry.ContentType)),
		strings.ToLower(strings.TrimSpace(entry.ProjectID)),
	)
}

func ConfigSyncKey(relPath string) string {
	return "config::" + strings.ToLower(relPath)
}

func normalizeHashValue(value string) string {
	return strings.ToLower(strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, value))
}

// normalizedHashPairs lower-cases algorithms and digests, drops empty ones
// and keeps the smaller digest when two keys collide after normalization.
func normalizedHashPairs(hashes map[string]string) [][2]string {
	dedup := map[string]string{}
	for rawKey, rawValue := range hashes {
		key := strings.ToLower(strings.TrimSpace(rawKey))
		value := normalizeHashValue(rawValue)
		if key == "" || value == "" {
			continue
		}
		if existing, ok := dedup[key]; ok && existing <= value {
			continue
		}
		dedup[key] = value
	}
	out := make([][2]string, 0, len(dedup))
	for _, key := range sortedKeys(dedup) {
		out = append(out, [2]string{key, dedup[key]})
	}
	return out
}

// LockEntryHash is a content hash over the canonical form of a lock entry.
func LockEntryHash(entry types.LockEntry) string {
	worlds := append([]string(nil), entry.TargetWorlds...)
	sort.Strings(worlds)
	worlds = compactStrings(worlds)
	canonical := []any{
		strings.ToLower(strings.TrimSpace(string(entry.Source))),
		strings.ToLower(strings.TrimSpace(entry.ProjectID)),
		strings.TrimSpace(entry.VersionID),
		strings.TrimSpace(entry.Name),
		strings.TrimSpace(entry.VersionNumber),
		strings.TrimSpace(entry.Filename),
		string(types.NormalizeContentType(entry.ContentType)),
		string(types.NormalizeTargetScope(string(entry.TargetScope))),
		worlds,
		entry.Enabled,
		normalizedHashPairs(entry.Hashes),
	}
	raw, err := json.Marshal(canonical)
	if err != nil {
		return ""
	}
	return SHA256Hex(raw)
}

func compactStrings(values []string) []string {
	out := make([]string, 0, len(values))
	for i, value := range values {
		if i > 0 && values[i-1] == value {
			continue
		}
		out = append(out, value)
	}
	return out
}

// StateManifest lists every tracked item of a sync state ordered by key.
func StateManifest(state types.SyncState) []types.ManifestEntry {
	out := make([]types.ManifestEntry, 0, len(state.LockEntries)+len(state.ConfigFiles))
	for _, entry := range state.LockEntries {
		out = append(out, types.ManifestEntry{Key: LockSyncKey(entry), Hash: LockEntryHash(entry), Kind: types.SyncItemLockEntry})
	}
	for _, file := range state.ConfigFiles {
		out = append(out, types.ManifestEntry{Key: ConfigSyncKey(file.Path), Hash: file.Hash, Kind: types.SyncItemConfigFile})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// ManifestHash hashes the canonical serialization of a manifest.
func ManifestHash(manifest []types.ManifestEntry) string {
	tuples := make([][3]string, 0, len(manifest))
	for _, item := range manifest {
		tuples = append(tuples, [3]string{item.Key, item.Hash, string(item.Kind)})
	}
	raw, err := json.Marshal(tuples)
	if err != nil {
		return ""
	}
	return SHA256Hex(raw)
}

// BuildSyncState filters lock entries by the sync toggles, orders both item
// kinds canonically and stamps the state hash.
func BuildSyncState(entries []types.LockEntry, configs []types.ConfigFileState, toggles types.SyncToggles) types.SyncState {
	tracked := make([]types.LockEntry, 0, len(entries))
	for _, entry := range entries {
		if toggles.Tracks(entry.ContentType) {
			tracked = append(tracked, entry)
		}
	}
	sort.SliceStable(tracked, func(i, j int) bool { return LockSyncKey(tracked[i]) < LockSyncKey(tracked[j]) })
	files := append([]types.ConfigFileState{}, configs...)
	sort.SliceStable(files, func(i, j int) bool {
		return strings.ToLower(files[i].Path) < strings.ToLower(files[j].Path)
	})
	state := types.SyncState{LockEntries: tracked, ConfigFiles: files}
	state.StateHash = ManifestHash(StateManifest(state))
	return state
}

// SyncItem is one tracked item of a sync state, keyed by its manifest key.
type SyncItem struct {
	Key    string
	Kind   types.SyncItemKind
	Hash   string
	Lock   *types.LockEntry
	Config *types.ConfigFileState
}

func (i SyncItem) Preview() string {
	switch {
	case i.Lock != nil:
		return fmt.Sprintf("%s %s (%s)", i.Lock.Name, i.Lock.VersionNumber, i.Lock.Filename)
	case i.Config != nil:
		preview := i.Config.Content
		if len(preview) > 240 {
			preview = preview[:240] + "..."
		}
		return preview
	default:
		return ""
	}
}

func IndexSyncState(state types.SyncState) map[string]SyncItem {
	out := make(map[string]SyncItem, len(state.LockEntries)+len(state.ConfigFiles))
	for i := range state.LockEntries {
		entry := state.LockEntries[i]
		out[LockSyncKey(entry)] = SyncItem{Key: LockSyncKey(entry), Kind: types.SyncItemLockEntry, Hash: LockEntryHash(entry), Lock: &entry}
	}
	for i := range state.ConfigFiles {
		file := state.ConfigFiles[i]
		out[ConfigSyncKey(file.Path)] = SyncItem{Key: ConfigSyncKey(file.Path), Kind: types.SyncItemConfigFile, Hash: file.Hash, Config: &file}
	}
	return out
}
