package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"packlink/internal/shared"
	"packlink/internal/types"
)

// Rollback restores a content snapshot. Without an explicit id it picks the
// snapshot behind the link's last lock snapshot, then the newest one.
// Restoring the same snapshot twice leaves the same content.
func (s Service) Rollback(ctx context.Context, req RollbackRequest) (types.RollbackResult, error) {
	instanceID := strings.TrimSpace(req.InstanceID)
	if err := shared.ValidateIdentifier(instanceID); err != nil {
		return types.RollbackResult{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("instance id is invalid").
			WithCause(err)
	}
	release, err := s.guard.acquire(ctx, instanceID, "rollback")
	if err != nil {
		return types.RollbackResult{}, err
	}
	defer release()
	if s.Process != nil {
		running, err := s.Process.IsRunning(ctx, instanceID)
		if err != nil {
			return types.RollbackResult{}, err
		}
		if running {
			return types.RollbackResult{}, errbuilder.New().
				WithCode(errbuilder.CodeFailedPrecondition).
				WithMsg("instance is running: stop the game before rolling back")
		}
	}

	snapshot, err := s.rollbackTarget(ctx, instanceID, strings.TrimSpace(req.SnapshotID))
	if err != nil {
		return types.RollbackResult{}, err
	}
	restored, err := s.Snapshots.RestoreSnapshot(ctx, instanceID, snapshot.ID)
	if err != nil {
		return types.RollbackResult{}, err
	}
	log.Ctx(ctx).Info().
		Str("instance_id", instanceID).
		Str("snapshot_id", snapshot.ID).
		Int("restored_files", restored).
		Msg("instance rolled back")
	return types.RollbackResult{
		InstanceID:    instanceID,
		SnapshotID:    snapshot.ID,
		CreatedAt:     snapshot.CreatedAt,
		RestoredFiles: restored,
		Message:       fmt.Sprintf("Restored %d files from snapshot %s.", restored, snapshot.ID),
	}, nil
}

func (s Service) rollbackTarget(ctx context.Context, instanceID string, snapshotID string) (types.InstanceSnapshot, error) {
	snapshots, err := s.Snapshots.ListSnapshots(ctx, instanceID)
	if err != nil {
		return types.InstanceSnapshot{}, err
	}
	if len(snapshots) == 0 {
		return types.InstanceSnapshot{}, errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg("snapshot not found: instance " + instanceID + " has no snapshots")
	}
	if snapshotID == "" {
		snapshotID = s.linkedSnapshotID(ctx, instanceID)
	}
	if snapshotID == "" {
		return newestSnapshot(snapshots), nil
	}
	for _, snapshot := range snapshots {
		if snapshot.ID == snapshotID {
			return snapshot, nil
		}
	}
	return types.InstanceSnapshot{}, errbuilder.New().
		WithCode(errbuilder.CodeNotFound).
		WithMsg("snapshot not found: " + snapshotID)
}

func newestSnapshot(snapshots []types.InstanceSnapshot) types.InstanceSnapshot {
	newest := snapshots[0]
	for _, snapshot := range snapshots[1:] {
		if snapshot.CreatedAt.After(newest.CreatedAt) {
			newest = snapshot
		}
	}
	return newest
}

func (s Service) ListSnapshots(ctx context.Context, instanceID string) ([]types.InstanceSnapshot, error) {
	return s.Snapshots.ListSnapshots(ctx, strings.TrimSpace(instanceID))
}

// Unlink stops tracking the instance against its modpack. The last lock
// snapshot stays recorded.
func (s Service) Unlink(ctx context.Context, instanceID string) (types.InstanceLinkState, error) {
	instanceID = strings.TrimSpace(instanceID)
	link, ok, err := s.State.LoadLink(ctx, instanceID)
	if err != nil {
		return types.InstanceLinkState{}, err
	}
	if !ok {
		return types.InstanceLinkState{}, errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg("link not found: " + instanceID)
	}
	link.Mode = types.LinkModeUnlinked
	if err := s.State.SaveLink(ctx, link); err != nil {
		return types.InstanceLinkState{}, err
	}
	return link, nil
}

func (s Service) GetLink(ctx context.Context, instanceID string) (types.InstanceLinkState, bool, error) {
	return s.State.LoadLink(ctx, strings.TrimSpace(instanceID))
}
