package types

import "time"

type InstanceTarget struct {
	InstanceID       string `yaml:"instance_id" json:"instance_id"`
	MinecraftVersion string `yaml:"minecraft_version" json:"minecraft_version"`
	Loader           string `yaml:"loader" json:"loader"`
	LoaderVersion    string `yaml:"loader_version,omitempty" json:"loader_version,omitempty"`
}

type FailureReason string

const (
	ReasonNoCompatibleMinecraftVersion FailureReason = "NoCompatibleMinecraftVersion"
	ReasonNoCompatibleLoader           FailureReason = "NoCompatibleLoader"
	ReasonOnlyPrereleaseAvailable      FailureReason = "OnlyPrereleaseAvailable"
	ReasonDependencyMissing            FailureReason = "DependencyMissing"
	ReasonDependencyIncompatible       FailureReason = "DependencyIncompatible"
	ReasonProviderError                FailureReason = "ProviderError"
	ReasonProjectNotFound              FailureReason = "ProjectNotFound"
	ReasonDownloadNotAvailable         FailureReason = "DownloadNotAvailable"
	ReasonConflictBlocked              FailureReason = "ConflictBlocked"
)

type FallbackTier int

const (
	FallbackTierExact FallbackTier = 0
	FallbackTierSmart FallbackTier = 1
	FallbackTierLoose FallbackTier = 2
)

type ResolvedEntry struct {
	Key               string            `yaml:"key" json:"key"`
	Entry             Entry             `yaml:"entry" json:"entry"`
	VersionID         string            `yaml:"version_id" json:"version_id"`
	VersionNumber     string            `yaml:"version_number" json:"version_number"`
	Name              string            `yaml:"name,omitempty" json:"name,omitempty"`
	Filename          string            `yaml:"filename" json:"filename"`
	DownloadURL       string            `yaml:"download_url" json:"download_url"`
	Hashes            map[string]string `yaml:"hashes,omitempty" json:"hashes,omitempty"`
	Channel           string            `yaml:"channel" json:"channel"`
	FallbackDistance  int               `yaml:"fallback_distance" json:"fallback_distance"`
	FallbackTier      FallbackTier      `yaml:"fallback_tier" json:"fallback_tier"`
	AddedByDependency bool              `yaml:"added_by_dependency,omitempty" json:"added_by_dependency,omitempty"`
	DependencyOf      string            `yaml:"dependency_of,omitempty" json:"dependency_of,omitempty"`
	RationaleText     string            `yaml:"rationale_text" json:"rationale_text"`
}

type FailedEntry struct {
	Key                 string        `yaml:"key" json:"key"`
	Entry               Entry         `yaml:"entry" json:"entry"`
	ReasonCode          FailureReason `yaml:"reason_code" json:"reason_code"`
	ReasonText          string        `yaml:"reason_text" json:"reason_text"`
	ActionableHint      string        `yaml:"actionable_hint" json:"actionable_hint"`
	ConstraintsSnapshot string        `yaml:"constraints_snapshot" json:"constraints_snapshot"`
	Required            bool          `yaml:"required" json:"required"`
}

type ConflictCode string

const (
	ConflictLayerDuplicate      ConflictCode = "LAYER_DUPLICATE"
	ConflictOverrideWithoutBase ConflictCode = "OVERRIDE_WITHOUT_BASE"
	ConflictFileCollision       ConflictCode = "FILE_COLLISION"
)

type SuggestionAction string

const (
	SuggestionKeepHighestPrecedence SuggestionAction = "keep_highest_precedence"
	SuggestionConvertToAdd          SuggestionAction = "convert_to_add"
	SuggestionKeepWinner            SuggestionAction = "keep_winner"
)

type ConflictSuggestion struct {
	Action        SuggestionAction `yaml:"action" json:"action"`
	KeepKey       string           `yaml:"keep_key,omitempty" json:"keep_key,omitempty"`
	KeepLayerID   string           `yaml:"keep_layer_id,omitempty" json:"keep_layer_id,omitempty"`
	RemoveKeys    []string         `yaml:"remove_keys,omitempty" json:"remove_keys,omitempty"`
	TargetLayerID string           `yaml:"target_layer_id,omitempty" json:"target_layer_id,omitempty"`
	Description   string           `yaml:"description" json:"description"`
}

type ConflictRecord struct {
	Code       ConflictCode       `yaml:"code" json:"code"`
	Keys       []string           `yaml:"keys" json:"keys"`
	LayerIDs   []string           `yaml:"layer_ids,omitempty" json:"layer_ids,omitempty"`
	Filename   string             `yaml:"filename,omitempty" json:"filename,omitempty"`
	Message    string             `yaml:"message" json:"message"`
	Suggestion ConflictSuggestion `yaml:"suggestion" json:"suggestion"`
}

type ConfidenceLabel string

const (
	ConfidenceHigh   ConfidenceLabel = "High"
	ConfidenceMedium ConfidenceLabel = "Medium"
	ConfidenceRisky  ConfidenceLabel = "Risky"
)

type ResolutionPlan struct {
	ID                    string             `yaml:"id" json:"id"`
	ModpackID             string             `yaml:"modpack_id" json:"modpack_id"`
	ModpackUpdatedAtStamp time.Time          `yaml:"modpack_updated_at_stamp" json:"modpack_updated_at_stamp"`
	Target                InstanceTarget     `yaml:"target" json:"target"`
	ProfileID             string             `yaml:"profile_id,omitempty" json:"profile_id,omitempty"`
	Settings              ResolutionSettings `yaml:"settings" json:"settings"`
	Resolved              []ResolvedEntry    `yaml:"resolved" json:"resolved"`
	Failed                []FailedEntry      `yaml:"failed" json:"failed"`
	Conflicts             []ConflictRecord   `yaml:"conflicts" json:"conflicts"`
	Warnings              []string           `yaml:"warnings" json:"warnings"`
	ConfidenceScore       int                `yaml:"confidence_score" json:"confidence_score"`
	ConfidenceLabel       ConfidenceLabel    `yaml:"confidence_label" json:"confidence_label"`
	CreatedAt             time.Time          `yaml:"created_at" json:"created_at"`
}

func (p ResolutionPlan) RequiredFailures() []FailedEntry {
	var out []FailedEntry
	for _, failed := range p.Failed {
		if failed.Required {
			out = append(out, failed)
		}
	}
	return out
}

type ProviderVersion struct {
	VersionID     string            `yaml:"version_id" json:"version_id"`
	VersionNumber string            `yaml:"version_number" json:"version_number"`
	Name          string            `yaml:"name,omitempty" json:"name,omitempty"`
	Filename      string            `yaml:"filename" json:"filename"`
	DownloadURL   string            `yaml:"download_url" json:"download_url"`
	Hashes        map[string]string `yaml:"hashes,omitempty" json:"hashes,omitempty"`
	GameVersions  []string          `yaml:"game_versions" json:"game_versions"`
	Loaders       []string          `yaml:"loaders" json:"loaders"`
	Channel       string            `yaml:"channel" json:"channel"`
	Dependencies  []string          `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
}

type VersionQuery struct {
	ContentType      ContentType `json:"content_type"`
	MinecraftVersion string      `json:"minecraft_version"`
	Loader           string      `json:"loader"`
}
