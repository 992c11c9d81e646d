package app

import (
	"context"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"packlink/internal/core"
	"packlink/internal/types"
)

// DetectDrift compares the instance lockfile with the lock snapshot recorded
// by the last linked apply.
func (s Service) DetectDrift(ctx context.Context, instanceID string) (types.DriftReport, error) {
	instanceID = strings.TrimSpace(instanceID)
	input := core.DriftInput{InstanceID: instanceID, CheckedAt: timeNow(s.Clock)}
	link, ok, err := s.State.LoadLink(ctx, instanceID)
	if err != nil {
		return types.DriftReport{}, err
	}
	if ok {
		input.Link = &link
		if link.Mode == types.LinkModeLinked && link.LastLockSnapshotID != "" {
			baseline, err := s.State.LoadLockSnapshot(ctx, link.LastLockSnapshotID)
			if err != nil && errbuilder.CodeOf(err) != errbuilder.CodeNotFound {
				return types.DriftReport{}, err
			}
			if err == nil {
				input.Baseline = &baseline
			}
		}
	}
	if input.Baseline != nil {
		lock, err := s.Instances.ReadLockfile(ctx, instanceID)
		if err != nil {
			return types.DriftReport{}, err
		}
		input.Current = lock.Entries
	}
	return core.DetectDrift(input), nil
}

// Realign re-resolves the linked modpack with the link's profile and applies
// the result in linked mode.
func (s Service) Realign(ctx context.Context, req RealignRequest) (types.ModpackApplyResult, error) {
	instanceID := strings.TrimSpace(req.InstanceID)
	link, ok, err := s.State.LoadLink(ctx, instanceID)
	if err != nil {
		return types.ModpackApplyResult{}, err
	}
	if !ok || link.Mode != types.LinkModeLinked {
		return types.ModpackApplyResult{}, errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg("instance is not linked to a modpack: " + instanceID)
	}
	target := req.Target
	target.InstanceID = instanceID
	if strings.TrimSpace(target.MinecraftVersion) == "" && link.LastPlanID != "" {
		if previous, err := s.State.LoadPlan(ctx, link.LastPlanID); err == nil {
			target = previous.Target
		}
	}
	plan, err := s.Resolve(ctx, ResolveRequest{
		SpecID:    link.ModpackID,
		Target:    target,
		ProfileID: link.ProfileID,
	})
	if err != nil {
		return types.ModpackApplyResult{}, err
	}
	return s.ApplyPlan(ctx, ApplyRequest{Plan: &plan, LinkMode: types.LinkModeLinked})
}
