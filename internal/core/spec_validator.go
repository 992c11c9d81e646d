package core

import (
	"context"
	"fmt"
	"strings"

	assert "github.com/ZanzyTHEbar/assert-lib"
	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"packlink/internal/shared"
	"packlink/internal/types"
)

type SpecValidator struct{}

var validFallbackModes = map[types.FallbackMode]struct{}{
	"":                       {},
	types.FallbackModeStrict: {},
	types.FallbackModeSmart:  {},
	types.FallbackModeLoose:  {},
}

var validChannelAllowances = map[types.ChannelPolicy]struct{}{
	"":                 {},
	types.ChannelStable: {},
	types.ChannelBeta:   {},
	types.ChannelAlpha:  {},
}

var validDependencyModes = map[types.DependencyMode]struct{}{
	"":                             {},
	types.DependencyModeDetectOnly: {},
	types.DependencyModeAutoAdd:    {},
}

var validEntryChannels = map[types.ChannelPolicy]struct{}{
	types.ChannelInherit: {},
	types.ChannelStable:  {},
	types.ChannelBeta:    {},
	types.ChannelAlpha:   {},
}

var validEntryFallbacks = map[types.FallbackPolicy]struct{}{
	types.FallbackInherit: {},
	types.FallbackStrict:  {},
	types.FallbackSmart:   {},
	types.FallbackLoose:   {},
}

func NewSpecValidator() SpecValidator {
	return SpecValidator{}
}

// ValidateSpec checks the structure of a modpack spec before it is saved.
// Unknown providers are allowed: the resolver reports them per entry.
func (v SpecValidator) ValidateSpec(ctx context.Context, spec types.ModpackSpec) error {
	if err := shared.ValidateIdentifier(spec.ID); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("spec id is invalid").
			WithCause(err)
	}
	assert.NotEmpty(ctx, spec.ID, "id must be set")
	if strings.TrimSpace(spec.Name) == "" {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("spec name must not be empty")
	}
	layerIDs := map[string]struct{}{}
	for _, layer := range spec.Layers {
		if strings.TrimSpace(layer.ID) == "" {
			return errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg("layer id must not be empty")
		}
		if _, ok := layerIDs[layer.ID]; ok {
			return errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("duplicate layer id: %s", layer.ID))
		}
		layerIDs[layer.ID] = struct{}{}
		if err := validateDelta(layer); err != nil {
			return err
		}
	}
	profileIDs := map[string]struct{}{}
	for _, profile := range spec.Profiles {
		if strings.TrimSpace(profile.ID) == "" {
			return errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg("profile id must not be empty")
		}
		if _, ok := profileIDs[profile.ID]; ok {
			return errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("duplicate profile id: %s", profile.ID))
		}
		profileIDs[profile.ID] = struct{}{}
	}
	if err := validateSettings(spec.Settings); err != nil {
		return err
	}
	log.Ctx(ctx).Debug().Str("spec", spec.ID).Msg("spec validated")
	return nil
}

func validateDelta(layer types.Layer) error {
	groups := []struct {
		name    string
		entries []types.Entry
	}{
		{name: "add", entries: layer.EntriesDelta.Add},
		{name: "remove", entries: layer.EntriesDelta.Remove},
		{name: "override", entries: layer.EntriesDelta.Override},
	}
	for _, group := range groups {
		for _, entry := range group.entries {
			if err := validateEntry(layer.ID, group.name, entry); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateEntry(layerID string, list string, entry types.Entry) error {
	if strings.TrimSpace(string(entry.Provider)) == "" {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("layer %s %s entry missing provider", layerID, list))
	}
	if strings.TrimSpace(entry.ProjectID) == "" {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("layer %s %s entry missing project_id", layerID, list))
	}
	if _, ok := validEntryChannels[entry.EffectiveChannelPolicy()]; !ok {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("entry %s has invalid channel_policy %s", types.EntryKey(entry), entry.ChannelPolicy))
	}
	if _, ok := validEntryFallbacks[entry.EffectiveFallbackPolicy()]; !ok {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("entry %s has invalid fallback_policy %s", types.EntryKey(entry), entry.FallbackPolicy))
	}
	for _, world := range entry.TargetWorlds {
		if err := shared.ValidateIdentifier(world); err != nil {
			return errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("entry %s has invalid target world %q", types.EntryKey(entry), world))
		}
	}
	return nil
}

func validateSettings(settings types.ResolutionSettings) error {
	if _, ok := validFallbackModes[settings.GlobalFallbackMode]; !ok {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("invalid global_fallback_mode: %s", settings.GlobalFallbackMode))
	}
	if _, ok := validChannelAllowances[settings.ChannelAllowance]; !ok {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("invalid channel_allowance: %s", settings.ChannelAllowance))
	}
	if _, ok := validDependencyModes[settings.DependencyMode]; !ok {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("invalid dependency_mode: %s", settings.DependencyMode))
	}
	if settings.MaxFallbackDistance < 0 {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("max_fallback_distance must not be negative")
	}
	return nil
}
