package app

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"packlink/internal/core"
	"packlink/internal/types"
)

// ApplyPlan writes a resolved plan into its target instance. The instance
// content is snapshotted first and restored when a required entry cannot be
// written.
func (s Service) ApplyPlan(ctx context.Context, req ApplyRequest) (types.ModpackApplyResult, error) {
	plan, err := s.planFor(ctx, req)
	if err != nil {
		return types.ModpackApplyResult{}, err
	}
	instanceID := plan.Target.InstanceID
	release, err := s.guard.acquire(ctx, instanceID, "apply")
	if err != nil {
		return types.ModpackApplyResult{}, err
	}
	defer release()

	logger := log.Ctx(ctx).With().
		Str("instance_id", instanceID).
		Str("plan_id", plan.ID).
		Logger()
	ctx = logger.WithContext(ctx)

	result := types.ModpackApplyResult{
		InstanceID: instanceID,
		PlanID:     plan.ID,
		FinalState: types.ApplyStateIdle,
	}

	spec, err := s.Specs.LoadSpec(ctx, plan.ModpackID)
	if err != nil {
		return result, err
	}
	if !spec.UpdatedAt.Equal(plan.ModpackUpdatedAtStamp) {
		return result, errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg(fmt.Sprintf("stale plan: %s was resolved against an older version of %s", plan.ID, spec.ID))
	}

	partial := req.PartialApplyUnsafe || plan.Settings.PartialApplyUnsafe
	if blocking := plan.RequiredFailures(); len(blocking) > 0 && !partial {
		return result, errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg("plan has required failures: " + describeFailures(blocking))
	}

	lock, err := s.Instances.ReadLockfile(ctx, instanceID)
	if err != nil {
		return result, err
	}

	transition(ctx, &result, types.ApplyStateSnapshotting)
	snapshot, err := s.Snapshots.CreateSnapshot(ctx, instanceID, applySnapshotReason)
	if err != nil {
		transition(ctx, &result, types.ApplyStateFailed)
		return result, err
	}
	result.SnapshotID = snapshot.ID

	transition(ctx, &result, types.ApplyStateWriting)
	entries := lock.Entries
	for _, item := range plan.Resolved {
		next, err := s.writeResolved(ctx, instanceID, entries, item)
		if err == nil {
			entries = next
			result.AppliedEntries++
			continue
		}
		required := item.Entry.IsRequired() && !item.AddedByDependency
		failure := types.ApplyFailure{
			Key:      item.Key,
			Name:     resolvedName(item),
			Required: required,
			Message:  err.Error(),
		}
		result.FailedEntries++
		result.Failures = append(result.Failures, failure)
		result.Warnings = append(result.Warnings, fmt.Sprintf("Failed to apply '%s': %v", failure.Name, err))
		if required && !partial {
			logger.Error().Err(err).Str("key", item.Key).Msg("required entry failed; restoring snapshot")
			return s.abortApply(ctx, result, err)
		}
		result.SkippedEntries++
		result.Skipped = append(result.Skipped, item.Key)
	}
	for _, failed := range plan.Failed {
		result.SkippedEntries++
		result.Skipped = append(result.Skipped, failed.Key)
	}

	transition(ctx, &result, types.ApplyStateFinalizing)
	sortLockEntries(entries)
	lock.Entries = entries
	if lock.Version == 0 {
		lock.Version = types.LockfileVersion
	}
	if err := s.Instances.WriteLockfile(ctx, instanceID, lock); err != nil {
		return s.abortApply(ctx, result, err)
	}

	now := timeNow(s.Clock)
	lockSnapshot := types.LockSnapshot{
		ID:                 types.NewLockSnapshotID(now),
		InstanceID:         instanceID,
		PlanID:             plan.ID,
		InstanceSnapshotID: snapshot.ID,
		Reason:             applySnapshotReason,
		CreatedAt:          now,
		Entries:            core.SupportedLockEntries(entries),
	}
	if err := s.State.SaveLockSnapshot(ctx, lockSnapshot); err != nil {
		return s.abortApply(ctx, result, err)
	}
	result.LockSnapshotID = lockSnapshot.ID

	mode := req.LinkMode
	if mode == "" {
		mode = types.LinkModeLinked
	}
	if mode == types.LinkModeLinked {
		link := types.InstanceLinkState{
			InstanceID:          instanceID,
			Mode:                types.LinkModeLinked,
			ModpackID:           plan.ModpackID,
			ProfileID:           plan.ProfileID,
			LastPlanID:          plan.ID,
			LastLockSnapshotID:  lockSnapshot.ID,
			LastAppliedAt:       &now,
			LastConfidenceLabel: plan.ConfidenceLabel,
		}
		if err := s.State.SaveLink(ctx, link); err != nil {
			if delErr := s.State.DeleteLockSnapshot(ctx, lockSnapshot.ID); delErr != nil {
				logger.Warn().Err(delErr).Str("lock_snapshot_id", lockSnapshot.ID).Msg("failed to drop lock snapshot of aborted apply")
			}
			result.LockSnapshotID = ""
			return s.abortApply(ctx, result, err)
		}
	}

	if _, err := s.pruneSnapshots(ctx, instanceID, types.SnapshotRetentionPolicy{
		KeepLast:   s.snapshotKeepLast(),
		ProtectIDs: []string{snapshot.ID},
	}); err != nil {
		result.Warnings = append(result.Warnings, "snapshot pruning failed: "+err.Error())
	}

	if result.FailedEntries == 0 {
		result.Message = fmt.Sprintf("Applied plan '%s' successfully.", plan.ID)
	} else {
		result.Message = fmt.Sprintf("Applied plan '%s' with %d failed entries.", plan.ID, result.FailedEntries)
	}
	transition(ctx, &result, types.ApplyStateIdle)
	return result, nil
}

func (s Service) planFor(ctx context.Context, req ApplyRequest) (types.ResolutionPlan, error) {
	if req.Plan != nil {
		if strings.TrimSpace(req.Plan.ID) == "" || strings.TrimSpace(req.Plan.Target.InstanceID) == "" {
			return types.ResolutionPlan{}, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg("plan id and target instance are required")
		}
		return *req.Plan, nil
	}
	planID := strings.TrimSpace(req.PlanID)
	if planID == "" {
		return types.ResolutionPlan{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("plan id is required")
	}
	return s.State.LoadPlan(ctx, planID)
}

// writeResolved installs one resolved entry and returns the updated lock
// entries. Entries already present at the same version are only toggled.
func (s Service) writeResolved(ctx context.Context, instanceID string, entries []types.LockEntry, item types.ResolvedEntry) ([]types.LockEntry, error) {
	next := core.LockEntryFromResolved(item)
	key := next.Key()
	existingIdx := -1
	for i, entry := range entries {
		if entry.Key() == key {
			existingIdx = i
			break
		}
	}

	if existingIdx >= 0 {
		current := entries[existingIdx]
		if current.VersionID == next.VersionID && current.Filename == next.Filename {
			missing, err := s.Instances.EntryFileMissing(ctx, instanceID, current)
			if err != nil {
				return nil, err
			}
			if !missing {
				if current.Enabled != next.Enabled {
					if err := s.Instances.SetEnabled(ctx, instanceID, current, next.Enabled); err != nil {
						return nil, err
					}
				}
				out := append([]types.LockEntry{}, entries...)
				out[existingIdx] = next
				return out, nil
			}
		}
	}

	if strings.TrimSpace(item.DownloadURL) == "" {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg("missing download url in resolution plan")
	}
	content, err := s.Content.Download(ctx, item.DownloadURL)
	if err != nil {
		return nil, err
	}
	if err := s.Instances.InstallEntry(ctx, instanceID, next, content); err != nil {
		return nil, err
	}

	out := make([]types.LockEntry, 0, len(entries)+1)
	for i, entry := range entries {
		if i != existingIdx {
			out = append(out, entry)
			continue
		}
		if entry.Filename != next.Filename {
			if err := s.Instances.RemoveEntry(ctx, instanceID, entry); err != nil {
				return nil, err
			}
		}
	}
	return append(out, next), nil
}

// abortApply restores the pre-apply snapshot and reports the original error.
func (s Service) abortApply(ctx context.Context, result types.ModpackApplyResult, cause error) (types.ModpackApplyResult, error) {
	transition(ctx, &result, types.ApplyStateFailed)
	result.Message = "Apply failed; instance content restored."
	if result.SnapshotID != "" {
		if _, err := s.Snapshots.RestoreSnapshot(ctx, result.InstanceID, result.SnapshotID); err != nil {
			log.Ctx(ctx).Error().Err(err).Str("snapshot_id", result.SnapshotID).Msg("auto-rollback failed")
			result.Message = "Apply failed and the snapshot could not be restored."
			result.Warnings = append(result.Warnings, "auto-rollback failed: "+err.Error())
			return result, errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg("apply failed and rollback failed").
				WithCause(cause)
		}
		result.RolledBack = true
	}
	return result, cause
}

func transition(ctx context.Context, result *types.ModpackApplyResult, state types.ApplyState) {
	level := zerolog.DebugLevel
	if state == types.ApplyStateFailed {
		level = zerolog.WarnLevel
	}
	log.Ctx(ctx).WithLevel(level).
		Str("from", string(result.FinalState)).
		Str("state", string(state)).
		Msg("apply state")
	result.FinalState = state
}

func describeFailures(failed []types.FailedEntry) string {
	limit := len(failed)
	if limit > 6 {
		limit = 6
	}
	parts := make([]string, 0, limit)
	for _, item := range failed[:limit] {
		parts = append(parts, fmt.Sprintf("%s (%s)", item.Entry.DisplayName(), item.ReasonCode))
	}
	return strings.Join(parts, ", ")
}

func resolvedName(item types.ResolvedEntry) string {
	if strings.TrimSpace(item.Name) != "" {
		return item.Name
	}
	return item.Entry.DisplayName()
}

func sortLockEntries(entries []types.LockEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		left, right := strings.ToLower(entries[i].Name), strings.ToLower(entries[j].Name)
		if left != right {
			return left < right
		}
		return entries[i].Key() < entries[j].Key()
	})
}

func (s Service) snapshotKeepLast() int {
	if s.SnapshotKeepLast > 0 {
		return s.SnapshotKeepLast
	}
	return defaultSnapshotKeepLast
}
