package core

import (
	"time"

	"packlink/internal/types"
)

// DriftInput carries the state needed to classify drift for an instance.
type DriftInput struct {
	InstanceID string
	Link       *types.InstanceLinkState
	Baseline   *types.LockSnapshot
	Current    []types.LockEntry
	CheckedAt  time.Time
}

// DetectDrift compares the current lock entries with the last applied
// baseline by identity.
func DetectDrift(input DriftInput) types.DriftReport {
	report := types.DriftReport{
		InstanceID:     input.InstanceID,
		Added:          []types.DriftItem{},
		Removed:        []types.DriftItem{},
		VersionChanged: []types.DriftItem{},
		CheckedAt:      input.CheckedAt.UTC(),
	}
	if input.Link == nil || input.Link.Mode == types.LinkModeUnlinked {
		report.Status = types.DriftUnlinked
		return report
	}
	if input.Baseline == nil || input.Link.LastLockSnapshotID == "" {
		report.Status = types.DriftNoSnapshot
		return report
	}
	report.BaselineLockSnapshotID = input.Baseline.ID

	added, removed, changed := DiffLock(input.Baseline.Entries, input.Current)
	report.Added = added
	report.Removed = removed
	report.VersionChanged = changed
	if len(added)+len(removed)+len(changed) > 0 {
		report.Status = types.DriftDrifted
	} else {
		report.Status = types.DriftInSync
	}
	return report
}

// DiffLock diffs two lock entry sets by identity. Version changes compare
// version ids.
func DiffLock(baseline []types.LockEntry, current []types.LockEntry) (added, removed, changed []types.DriftItem) {
	before := indexLock(baseline)
	after := indexLock(current)
	added = []types.DriftItem{}
	removed = []types.DriftItem{}
	changed = []types.DriftItem{}

	for _, key := range sortedKeys(after) {
		now := after[key]
		old, ok := before[key]
		if !ok {
			added = append(added, types.DriftItem{
				Key:           key,
				Name:          now.Name,
				CurrentID:     now.VersionID,
				CurrentNumber: now.VersionNumber,
			})
			continue
		}
		if old.VersionID != now.VersionID {
			changed = append(changed, types.DriftItem{
				Key:            key,
				Name:           now.Name,
				ExpectedID:     old.VersionID,
				ExpectedNumber: old.VersionNumber,
				CurrentID:      now.VersionID,
				CurrentNumber:  now.VersionNumber,
			})
		}
	}
	for _, key := range sortedKeys(before) {
		if _, ok := after[key]; ok {
			continue
		}
		old := before[key]
		removed = append(removed, types.DriftItem{
			Key:            key,
			Name:           old.Name,
			ExpectedID:     old.VersionID,
			ExpectedNumber: old.VersionNumber,
		})
	}
	return added, removed, changed
}

// SupportedLockEntries keeps entries of known providers, as recorded in lock
// snapshots.
func SupportedLockEntries(entries []types.LockEntry) []types.LockEntry {
	out := make([]types.LockEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.Source.Known() {
			out = append(out, entry)
		}
	}
	return out
}

func indexLock(entries []types.LockEntry) map[string]types.LockEntry {
	out := make(map[string]types.LockEntry, len(entries))
	for _, entry := range entries {
		if !entry.Source.Known() {
			continue
		}
		out[entry.Key()] = entry
	}
	return out
}

// LockEntryFromResolved converts a resolved plan entry into its lockfile
// record. Target worlds only apply to datapacks.
func LockEntryFromResolved(item types.ResolvedEntry) types.LockEntry {
	contentType := item.Entry.NormalizedContentType()
	entry := types.LockEntry{
		Source:        types.NormalizeProvider(item.Entry.Provider),
		ProjectID:     item.Entry.ProjectID,
		VersionID:     item.VersionID,
		Name:          item.Name,
		VersionNumber: item.VersionNumber,
		Filename:      item.Filename,
		ContentType:   string(contentType),
		TargetScope:   types.NormalizeTargetScope(string(item.Entry.TargetScope)),
		Enabled:       !item.Entry.DisabledByDefault,
		Hashes:        copyHashes(item.Hashes),
	}
	if contentType == types.ContentTypeDataPacks {
		entry.TargetWorlds = append([]string(nil), item.Entry.TargetWorlds...)
	}
	return entry
}
