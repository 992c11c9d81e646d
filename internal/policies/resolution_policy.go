package policies

import (
	"strconv"
	"strings"

	"packlink/internal/types"
)

// ResolutionPolicy evaluates the resolution settings of a spec against
// individual entries and candidate versions.
type ResolutionPolicy struct {
	Settings types.ResolutionSettings
}

func NewResolutionPolicy(settings types.ResolutionSettings) ResolutionPolicy {
	return ResolutionPolicy{Settings: NormalizeSettings(settings)}
}

// NormalizeSettings fills unset enum fields with their defaults.
func NormalizeSettings(settings types.ResolutionSettings) types.ResolutionSettings {
	out := settings
	switch types.FallbackMode(strings.ToLower(string(out.GlobalFallbackMode))) {
	case types.FallbackModeStrict, types.FallbackModeSmart, types.FallbackModeLoose:
		out.GlobalFallbackMode = types.FallbackMode(strings.ToLower(string(out.GlobalFallbackMode)))
	default:
		out.GlobalFallbackMode = types.FallbackModeSmart
	}
	switch types.ChannelPolicy(strings.ToLower(string(out.ChannelAllowance))) {
	case types.ChannelStable, types.ChannelBeta, types.ChannelAlpha:
		out.ChannelAllowance = types.ChannelPolicy(strings.ToLower(string(out.ChannelAllowance)))
	default:
		out.ChannelAllowance = types.ChannelStable
	}
	switch types.DependencyMode(strings.ToLower(string(out.DependencyMode))) {
	case types.DependencyModeAutoAdd:
		out.DependencyMode = types.DependencyModeAutoAdd
	default:
		out.DependencyMode = types.DependencyModeDetectOnly
	}
	if out.MaxFallbackDistance < 0 {
		out.MaxFallbackDistance = 0
	}
	return out
}

func (p ResolutionPolicy) FallbackMode(entry types.Entry) types.FallbackMode {
	switch entry.EffectiveFallbackPolicy() {
	case types.FallbackStrict:
		return types.FallbackModeStrict
	case types.FallbackSmart:
		return types.FallbackModeSmart
	case types.FallbackLoose:
		return types.FallbackModeLoose
	default:
		return p.Settings.GlobalFallbackMode
	}
}

func (p ResolutionPolicy) ChannelAllowance(entry types.Entry) types.ChannelPolicy {
	switch entry.EffectiveChannelPolicy() {
	case types.ChannelStable, types.ChannelBeta, types.ChannelAlpha:
		return entry.EffectiveChannelPolicy()
	default:
		return p.Settings.ChannelAllowance
	}
}

// AllowedChannelRank is the highest channel rank an entry may install.
func (p ResolutionPolicy) AllowedChannelRank(entry types.Entry) int {
	switch p.ChannelAllowance(entry) {
	case types.ChannelAlpha:
		return 2
	case types.ChannelBeta:
		return 1
	default:
		return 0
	}
}

// ChannelRank orders release channels: 0 stable, 1 beta/pre/rc, 2
// alpha/snapshot. When the provider does not report a channel, it is inferred
// from the version text.
func ChannelRank(channel string, versionText string) int {
	value := strings.ToLower(strings.TrimSpace(channel))
	switch value {
	case "alpha", "snapshot":
		return 2
	case "beta", "pre", "rc":
		return 1
	case "release", "stable":
		return 0
	}
	lower := strings.ToLower(versionText)
	switch {
	case strings.Contains(lower, "alpha") || strings.Contains(lower, "snapshot"):
		return 2
	case strings.Contains(lower, "beta") || strings.Contains(lower, "pre") || strings.Contains(lower, "rc"):
		return 1
	default:
		return 0
	}
}

func ChannelLabel(rank int) string {
	switch rank {
	case 2:
		return "alpha"
	case 1:
		return "beta/rc"
	default:
		return "stable"
	}
}

// TierAllowed reports whether a fallback tier may be used in the given mode.
func TierAllowed(mode types.FallbackMode, tier types.FallbackTier) bool {
	switch mode {
	case types.FallbackModeStrict:
		return tier == types.FallbackTierExact
	case types.FallbackModeLoose:
		return true
	default:
		return tier <= types.FallbackTierSmart
	}
}

func normalizeLoader(value string) string {
	lower := strings.ToLower(strings.TrimSpace(value))
	switch lower {
	case "neo forge", "neo-forge":
		return "neoforge"
	default:
		return lower
	}
}

// LoaderMatches checks a candidate's loader list. Only mods are loader
// specific; an empty loader list matches every loader.
func LoaderMatches(contentType types.ContentType, targetLoader string, loaders []string) bool {
	if contentType != types.ContentTypeMods {
		return true
	}
	if len(loaders) == 0 {
		return true
	}
	target := normalizeLoader(targetLoader)
	if target == "" {
		return true
	}
	for _, loader := range loaders {
		value := normalizeLoader(loader)
		if value == target || value == "minecraft" {
			return true
		}
	}
	return false
}

type gameVersion struct {
	major int
	minor int
	patch int
}

func parseGameVersion(value string) (gameVersion, bool) {
	parts := strings.Split(strings.TrimSpace(value), ".")
	if len(parts) < 2 || len(parts) > 3 {
		return gameVersion{}, false
	}
	nums := make([]int, 3)
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return gameVersion{}, false
		}
		nums[i] = n
	}
	return gameVersion{major: nums[0], minor: nums[1], patch: nums[2]}, true
}

// GameVersionDistance scores how far an advertised game version is from the
// target. Newer versions are never acceptable; ok is false when the version
// is gated by the cross-version settings or beyond the fallback distance.
func (p ResolutionPolicy) GameVersionDistance(target string, advertised string) (int, types.FallbackTier, bool) {
	if strings.TrimSpace(advertised) == strings.TrimSpace(target) {
		return 0, types.FallbackTierExact, true
	}
	want, ok := parseGameVersion(target)
	if !ok {
		return 0, 0, false
	}
	got, ok := parseGameVersion(advertised)
	if !ok {
		return 0, 0, false
	}
	if got.major != want.major && !p.Settings.AllowCrossMajor {
		return 0, 0, false
	}
	if got.major == want.major && got.minor != want.minor && !p.Settings.AllowCrossMinor {
		return 0, 0, false
	}
	if got.major > want.major ||
		(got.major == want.major && got.minor > want.minor) ||
		(got.major == want.major && got.minor == want.minor && got.patch > want.patch) {
		return 0, 0, false
	}
	distance := 100*abs(want.major-got.major) + 10*abs(want.minor-got.minor) + abs(want.patch-got.patch)
	if distance > p.Settings.MaxFallbackDistance {
		return 0, 0, false
	}
	tier := types.FallbackTierLoose
	if got.major == want.major && got.minor == want.minor {
		tier = types.FallbackTierSmart
	}
	return distance, tier, true
}

// BestGameVersionDistance picks the closest advertised game version that the
// fallback mode accepts.
func (p ResolutionPolicy) BestGameVersionDistance(target string, advertised []string, mode types.FallbackMode) (int, types.FallbackTier, bool) {
	found := false
	bestDistance := 0
	bestTier := types.FallbackTierLoose
	for _, value := range advertised {
		distance, tier, ok := p.GameVersionDistance(target, value)
		if !ok {
			continue
		}
		if !found || tier < bestTier || (tier == bestTier && distance < bestDistance) {
			found = true
			bestDistance = distance
			bestTier = tier
		}
	}
	if !found || !TierAllowed(mode, bestTier) {
		return 0, 0, false
	}
	return bestDistance, bestTier, true
}

func abs(value int) int {
	if value < 0 {
		return -value
	}
	return value
}
