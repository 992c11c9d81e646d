package app

import (
	"sort"
	"strings"
	"time"

	"packlink/internal/types"
)

// BuildPrunePlan splits content snapshots into the ones to keep and the ones
// to delete. A snapshot is kept when it is protected, younger than KeepDays
// or among the KeepLast newest.
func BuildPrunePlan(snapshots []types.InstanceSnapshot, policy types.SnapshotRetentionPolicy, now time.Time) types.SnapshotPrunePlan {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	normalized := normalizeRetentionPolicy(policy)
	protected := normalizeSet(normalized.ProtectIDs)

	keepIDs := map[string]struct{}{}
	for _, snapshot := range snapshots {
		if _, ok := protected[strings.ToLower(snapshot.ID)]; ok {
			keepIDs[snapshot.ID] = struct{}{}
		}
		if normalized.KeepDays > 0 && !snapshot.CreatedAt.IsZero() {
			cutoff := now.AddDate(0, 0, -normalized.KeepDays)
			if !snapshot.CreatedAt.Before(cutoff) {
				keepIDs[snapshot.ID] = struct{}{}
			}
		}
	}

	if normalized.KeepLast > 0 {
		sorted := append([]types.InstanceSnapshot(nil), snapshots...)
		sort.Slice(sorted, func(i, j int) bool {
			if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
				return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
			}
			return sorted[i].ID < sorted[j].ID
		})
		limit := min(normalized.KeepLast, len(sorted))
		for i := 0; i < limit; i++ {
			keepIDs[sorted[i].ID] = struct{}{}
		}
	}

	var keep []types.InstanceSnapshot
	var del []types.InstanceSnapshot
	for _, snapshot := range snapshots {
		if _, ok := keepIDs[snapshot.ID]; ok {
			keep = append(keep, snapshot)
		} else {
			del = append(del, snapshot)
		}
	}
	return types.SnapshotPrunePlan{Keep: keep, Delete: del}
}

func normalizeRetentionPolicy(policy types.SnapshotRetentionPolicy) types.SnapshotRetentionPolicy {
	normalized := policy
	if normalized.KeepLast < 0 {
		normalized.KeepLast = 0
	}
	if normalized.KeepDays < 0 {
		normalized.KeepDays = 0
	}
	return normalized
}

func normalizeSet(values []string) map[string]struct{} {
	set := map[string]struct{}{}
	for _, value := range values {
		key := strings.ToLower(strings.TrimSpace(value))
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	return set
}
