package types

import "time"

const (
	LayerTemplateID          = "layer_template"
	LayerUserID              = "layer_user"
	LayerOverridesID         = "layer_overrides"
	LayerInstanceOverridesID = "layer_instance_overrides"

	DefaultProfileID = "recommended"
)

type EntriesDelta struct {
	Add      []Entry `yaml:"add,omitempty" json:"add,omitempty"`
	Remove   []Entry `yaml:"remove,omitempty" json:"remove,omitempty"`
	Override []Entry `yaml:"override,omitempty" json:"override,omitempty"`
}

type Layer struct {
	ID           string       `yaml:"id" json:"id"`
	Name         string       `yaml:"name" json:"name"`
	IsFrozen     bool         `yaml:"is_frozen,omitempty" json:"is_frozen,omitempty"`
	Source       string       `yaml:"source,omitempty" json:"source,omitempty"`
	EntriesDelta EntriesDelta `yaml:"entries_delta" json:"entries_delta"`
}

type Profile struct {
	ID                  string          `yaml:"id" json:"id"`
	Name                string          `yaml:"name" json:"name"`
	OptionalEntryStates map[string]bool `yaml:"optional_entry_states,omitempty" json:"optional_entry_states,omitempty"`
}

type FallbackMode string

const (
	FallbackModeStrict FallbackMode = "strict"
	FallbackModeSmart  FallbackMode = "smart"
	FallbackModeLoose  FallbackMode = "loose"
)

type DependencyMode string

const (
	DependencyModeDetectOnly DependencyMode = "detect_only"
	DependencyModeAutoAdd    DependencyMode = "auto_add"
)

type ResolutionSettings struct {
	GlobalFallbackMode  FallbackMode   `yaml:"global_fallback_mode" json:"global_fallback_mode"`
	ChannelAllowance    ChannelPolicy  `yaml:"channel_allowance" json:"channel_allowance"`
	AllowCrossMinor     bool           `yaml:"allow_cross_minor" json:"allow_cross_minor"`
	AllowCrossMajor     bool           `yaml:"allow_cross_major" json:"allow_cross_major"`
	PreferStable        bool           `yaml:"prefer_stable" json:"prefer_stable"`
	MaxFallbackDistance int            `yaml:"max_fallback_distance" json:"max_fallback_distance"`
	DependencyMode      DependencyMode `yaml:"dependency_mode" json:"dependency_mode"`
	PartialApplyUnsafe  bool           `yaml:"partial_apply_unsafe" json:"partial_apply_unsafe"`
}

func DefaultResolutionSettings() ResolutionSettings {
	return ResolutionSettings{
		GlobalFallbackMode:  FallbackModeSmart,
		ChannelAllowance:    ChannelStable,
		AllowCrossMinor:     true,
		AllowCrossMajor:     false,
		PreferStable:        true,
		MaxFallbackDistance: 3,
		DependencyMode:      DependencyModeDetectOnly,
		PartialApplyUnsafe:  false,
	}
}

type ModpackSpec struct {
	ID          string             `yaml:"id" json:"id"`
	Name        string             `yaml:"name" json:"name"`
	Description string             `yaml:"description,omitempty" json:"description,omitempty"`
	Layers      []Layer            `yaml:"layers" json:"layers"`
	Profiles    []Profile          `yaml:"profiles,omitempty" json:"profiles,omitempty"`
	Settings    ResolutionSettings `yaml:"settings" json:"settings"`
	CreatedAt   time.Time          `yaml:"created_at" json:"created_at"`
	UpdatedAt   time.Time          `yaml:"updated_at" json:"updated_at"`
}

func (s ModpackSpec) LayerIndex(id string) int {
	for i, layer := range s.Layers {
		if layer.ID == id {
			return i
		}
	}
	return -1
}

func (s ModpackSpec) Profile(id string) (Profile, bool) {
	for _, profile := range s.Profiles {
		if profile.ID == id {
			return profile, true
		}
	}
	return Profile{}, false
}

func DefaultLayers() []Layer {
	return []Layer{
		{ID: LayerTemplateID, Name: "Template"},
		{ID: LayerUserID, Name: "User Additions"},
		{ID: LayerOverridesID, Name: "Overrides"},
	}
}

func DefaultProfiles() []Profile {
	return []Profile{
		{ID: "lite", Name: "Lite"},
		{ID: "recommended", Name: "Recommended"},
		{ID: "full", Name: "Full"},
	}
}

type LayerDiffResult struct {
	Added      []Entry `yaml:"added" json:"added"`
	Removed    []Entry `yaml:"removed" json:"removed"`
	Overridden []Entry `yaml:"overridden" json:"overridden"`
}
