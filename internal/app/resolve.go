package app

import (
	"context"
	"strings"

	assert "github.com/ZanzyTHEbar/assert-lib"
	"github.com/ZanzyTHEbar/errbuilder-go"

	"packlink/internal/shared"
	"packlink/internal/types"
)

// Resolve builds a plan for the spec against the target instance and
// stores it. Resolution never touches the instance.
func (s Service) Resolve(ctx context.Context, req ResolveRequest) (types.ResolutionPlan, error) {
	specID := strings.TrimSpace(req.SpecID)
	if specID == "" {
		return types.ResolutionPlan{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("spec id is required")
	}
	target, err := normalizeTarget(req.Target)
	if err != nil {
		return types.ResolutionPlan{}, err
	}
	spec, err := s.Specs.LoadSpec(ctx, specID)
	if err != nil {
		return types.ResolutionPlan{}, err
	}
	assert.NotEmpty(ctx, spec.ID, "spec id must be set")
	plan, err := s.planner().Plan(ctx, spec, target, strings.TrimSpace(req.ProfileID), timeNow(s.Clock))
	if err != nil {
		return types.ResolutionPlan{}, err
	}
	if err := s.State.SavePlan(ctx, plan); err != nil {
		return types.ResolutionPlan{}, err
	}
	return plan, nil
}

func (s Service) GetPlan(ctx context.Context, planID string) (types.ResolutionPlan, error) {
	return s.State.LoadPlan(ctx, strings.TrimSpace(planID))
}

func normalizeTarget(target types.InstanceTarget) (types.InstanceTarget, error) {
	target.InstanceID = strings.TrimSpace(target.InstanceID)
	target.MinecraftVersion = strings.TrimSpace(target.MinecraftVersion)
	target.Loader = strings.ToLower(strings.TrimSpace(target.Loader))
	target.LoaderVersion = strings.TrimSpace(target.LoaderVersion)
	if err := shared.ValidateIdentifier(target.InstanceID); err != nil {
		return target, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("instance id is invalid").
			WithCause(err)
	}
	if target.MinecraftVersion == "" {
		return target, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("minecraft version is required")
	}
	if target.Loader == "" {
		return target, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("loader is required")
	}
	return target, nil
}
