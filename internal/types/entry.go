package types

import (
	"fmt"
	"strings"
)

type Provider string

const (
	ProviderModrinth   Provider = "modrinth"
	ProviderCurseforge Provider = "curseforge"
)

// NormalizeProvider lowercases and trims a provider name. Unknown providers
// are kept as-is so they survive a round trip through spec files.
func NormalizeProvider(value Provider) Provider {
	return Provider(strings.ToLower(strings.TrimSpace(string(value))))
}

func (p Provider) Known() bool {
	switch NormalizeProvider(p) {
	case ProviderModrinth, ProviderCurseforge:
		return true
	default:
		return false
	}
}

func (p Provider) DisplayName() string {
	switch NormalizeProvider(p) {
	case ProviderModrinth:
		return "Modrinth"
	case ProviderCurseforge:
		return "CurseForge"
	default:
		return string(p)
	}
}

type ContentType string

const (
	ContentTypeMods          ContentType = "mods"
	ContentTypeResourcePacks ContentType = "resourcepacks"
	ContentTypeShaderPacks   ContentType = "shaderpacks"
	ContentTypeDataPacks     ContentType = "datapacks"
)

var AllContentTypes = []ContentType{
	ContentTypeMods,
	ContentTypeResourcePacks,
	ContentTypeShaderPacks,
	ContentTypeDataPacks,
}

func NormalizeContentType(value string) ContentType {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "mods", "mod":
		return ContentTypeMods
	case "resourcepacks", "resourcepack", "texturepacks", "texturepack":
		return ContentTypeResourcePacks
	case "shaderpacks", "shaderpack", "shader", "shaders":
		return ContentTypeShaderPacks
	case "datapacks", "datapack":
		return ContentTypeDataPacks
	default:
		return ContentTypeMods
	}
}

type TargetScope string

const (
	TargetScopeInstance TargetScope = "instance"
	TargetScopeWorld    TargetScope = "world"
)

func NormalizeTargetScope(value string) TargetScope {
	if strings.EqualFold(strings.TrimSpace(value), string(TargetScopeWorld)) {
		return TargetScopeWorld
	}
	return TargetScopeInstance
}

type ChannelPolicy string

const (
	ChannelInherit ChannelPolicy = "inherit"
	ChannelStable  ChannelPolicy = "stable"
	ChannelBeta    ChannelPolicy = "beta"
	ChannelAlpha   ChannelPolicy = "alpha"
)

type FallbackPolicy string

const (
	FallbackInherit FallbackPolicy = "inherit"
	FallbackStrict  FallbackPolicy = "strict"
	FallbackSmart   FallbackPolicy = "smart"
	FallbackLoose   FallbackPolicy = "loose"
)

type Entry struct {
	Provider          Provider       `yaml:"provider" json:"provider"`
	ContentType       string         `yaml:"content_type,omitempty" json:"content_type,omitempty"`
	ProjectID         string         `yaml:"project_id" json:"project_id"`
	Name              string         `yaml:"name,omitempty" json:"name,omitempty"`
	Required          *bool          `yaml:"required,omitempty" json:"required,omitempty"`
	Optional          bool           `yaml:"optional,omitempty" json:"optional,omitempty"`
	DisabledByDefault bool           `yaml:"disabled_by_default,omitempty" json:"disabled_by_default,omitempty"`
	Pin               string         `yaml:"pin,omitempty" json:"pin,omitempty"`
	ChannelPolicy     ChannelPolicy  `yaml:"channel_policy,omitempty" json:"channel_policy,omitempty"`
	FallbackPolicy    FallbackPolicy `yaml:"fallback_policy,omitempty" json:"fallback_policy,omitempty"`
	ReplacementGroup  string         `yaml:"replacement_group,omitempty" json:"replacement_group,omitempty"`
	TargetScope       TargetScope    `yaml:"target_scope,omitempty" json:"target_scope,omitempty"`
	TargetWorlds      []string       `yaml:"target_worlds,omitempty" json:"target_worlds,omitempty"`
	Notes             string         `yaml:"notes,omitempty" json:"notes,omitempty"`
}

// IsRequired reports the required flag, which defaults to true when unset.
func (e Entry) IsRequired() bool {
	if e.Required == nil {
		return true
	}
	return *e.Required
}

func (e Entry) NormalizedContentType() ContentType {
	return NormalizeContentType(e.ContentType)
}

func (e Entry) EffectiveChannelPolicy() ChannelPolicy {
	if strings.TrimSpace(string(e.ChannelPolicy)) == "" {
		return ChannelInherit
	}
	return ChannelPolicy(strings.ToLower(strings.TrimSpace(string(e.ChannelPolicy))))
}

func (e Entry) EffectiveFallbackPolicy() FallbackPolicy {
	if strings.TrimSpace(string(e.FallbackPolicy)) == "" {
		return FallbackInherit
	}
	return FallbackPolicy(strings.ToLower(strings.TrimSpace(string(e.FallbackPolicy))))
}

func (e Entry) DisplayName() string {
	if strings.TrimSpace(e.Name) != "" {
		return strings.TrimSpace(e.Name)
	}
	return strings.TrimSpace(e.ProjectID)
}

// Normalized returns a copy with identity fields and defaults canonicalized.
func (e Entry) Normalized() Entry {
	out := e
	out.Provider = NormalizeProvider(e.Provider)
	out.ContentType = string(e.NormalizedContentType())
	out.ProjectID = strings.TrimSpace(e.ProjectID)
	out.ChannelPolicy = e.EffectiveChannelPolicy()
	out.FallbackPolicy = e.EffectiveFallbackPolicy()
	out.TargetScope = NormalizeTargetScope(string(e.TargetScope))
	if len(e.TargetWorlds) > 0 {
		out.TargetWorlds = append([]string(nil), e.TargetWorlds...)
	}
	return out
}

// EntryKey is the stable identity of an entry: provider, normalized content
// type and lower-cased project id.
func EntryKey(e Entry) string {
	return MakeEntryKey(e.Provider, e.ContentType, e.ProjectID)
}

func MakeEntryKey(provider Provider, contentType string, projectID string) string {
	return fmt.Sprintf("%s:%s:%s",
		NormalizeProvider(provider),
		NormalizeContentType(contentType),
		strings.ToLower(strings.TrimSpace(projectID)),
	)
}

func BoolPtr(value bool) *bool {
	return &value
}
