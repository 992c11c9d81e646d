package app

import (
	"context"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"packlink/internal/shared"
	"packlink/internal/types"
)

// PruneSnapshots applies a retention policy to the content snapshots of an
// instance. The snapshot behind the link's last lock snapshot is always
// kept so Rollback keeps a target.
func (s Service) PruneSnapshots(ctx context.Context, req PruneRequest) (types.PruneResult, error) {
	instanceID := strings.TrimSpace(req.InstanceID)
	if err := shared.ValidateIdentifier(instanceID); err != nil {
		return types.PruneResult{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("instance id is invalid").
			WithCause(err)
	}
	policy := types.SnapshotRetentionPolicy{
		KeepLast:   req.KeepLast,
		KeepDays:   req.KeepDays,
		ProtectIDs: req.ProtectIDs,
		DryRun:     req.DryRun,
	}
	if policy.KeepLast <= 0 && policy.KeepDays <= 0 {
		policy.KeepLast = s.snapshotKeepLast()
	}
	if req.DryRun {
		return s.pruneSnapshots(ctx, instanceID, policy)
	}
	release, err := s.guard.acquire(ctx, instanceID, "prune")
	if err != nil {
		return types.PruneResult{}, err
	}
	defer release()
	return s.pruneSnapshots(ctx, instanceID, policy)
}

// pruneSnapshots runs without the guard; ApplyPlan calls it while holding it.
func (s Service) pruneSnapshots(ctx context.Context, instanceID string, policy types.SnapshotRetentionPolicy) (types.PruneResult, error) {
	snapshots, err := s.Snapshots.ListSnapshots(ctx, instanceID)
	if err != nil {
		return types.PruneResult{}, err
	}
	if protectedID := s.linkedSnapshotID(ctx, instanceID); protectedID != "" {
		policy.ProtectIDs = append(append([]string{}, policy.ProtectIDs...), protectedID)
	}
	plan := BuildPrunePlan(snapshots, policy, timeNow(s.Clock))
	if policy.DryRun {
		return types.PruneResult{
			InstanceID:  instanceID,
			KeepCount:   len(plan.Keep),
			DeleteCount: len(plan.Delete),
			DryRun:      true,
		}, nil
	}
	var deleted []string
	for _, snapshot := range plan.Delete {
		if err := s.Snapshots.DeleteSnapshot(ctx, instanceID, snapshot.ID); err != nil {
			return types.PruneResult{}, err
		}
		deleted = append(deleted, snapshot.ID)
	}
	if len(deleted) > 0 {
		log.Ctx(ctx).Debug().
			Str("instance_id", instanceID).
			Strs("deleted", deleted).
			Msg("pruned content snapshots")
	}
	return types.PruneResult{
		InstanceID:  instanceID,
		KeepCount:   len(plan.Keep),
		DeleteCount: len(deleted),
		Deleted:     deleted,
		DryRun:      false,
	}, nil
}

func (s Service) linkedSnapshotID(ctx context.Context, instanceID string) string {
	link, ok, err := s.State.LoadLink(ctx, instanceID)
	if err != nil || !ok || link.LastLockSnapshotID == "" {
		return ""
	}
	snapshot, err := s.State.LoadLockSnapshot(ctx, link.LastLockSnapshotID)
	if err != nil {
		return ""
	}
	return snapshot.InstanceSnapshotID
}
