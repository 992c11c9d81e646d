package app

import (
	"context"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"packlink/internal/adapters"
	"packlink/internal/core"
)

// ValidateSpecFile checks a spec file without storing it and reports the
// layer conflicts that need no provider data.
func (s Service) ValidateSpecFile(ctx context.Context, req ValidateRequest) (ValidateResult, error) {
	specPath := strings.TrimSpace(req.Path)
	if specPath == "" {
		return ValidateResult{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("spec path is required")
	}
	spec, err := adapters.LoadSpecFile(specPath)
	if err != nil {
		return ValidateResult{}, err
	}
	if err := core.NewSpecValidator().ValidateSpec(ctx, spec); err != nil {
		return ValidateResult{}, err
	}
	comp := core.NewLayerCompositor().Compose(ctx, spec.Layers)
	report := core.DetectConflicts(comp, spec.Layers, nil, req.Target)
	return ValidateResult{
		SpecID:    spec.ID,
		Name:      spec.Name,
		Layers:    len(spec.Layers),
		Entries:   len(comp.Entries),
		Conflicts: report.Conflicts,
	}, nil
}
