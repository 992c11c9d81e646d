package policies

import (
	"path"
	"strings"

	"packlink/internal/shared"
	"packlink/internal/types"
)

const alwaysAllowedConfig = "options.txt"

// DefaultAllowlist is the set of config globs synced for a new session.
func DefaultAllowlist() []string {
	return []string{
		alwaysAllowedConfig,
		"config/**/*.json",
		"config/**/*.toml",
		"config/**/*.properties",
	}
}

// HardExcludedPrefixes are instance folders that never sync as config files.
func HardExcludedPrefixes() []string {
	return []string{
		"saves/",
		"logs/",
		"crash-reports/",
		"screenshots/",
		"resourcepacks/",
		"shaderpacks/",
		"mods/",
	}
}

// NormalizeAllowlist trims and de-duplicates patterns, drops excluded
// folders and always keeps options.txt first. An empty input yields the
// default allowlist.
func NormalizeAllowlist(patterns []string) []string {
	base := patterns
	if len(base) == 0 {
		base = DefaultAllowlist()
	}
	out := make([]string, 0, len(base)+1)
	seen := map[string]struct{}{}
	for _, item := range base {
		trimmed := strings.TrimSpace(strings.ReplaceAll(item, "\\", "/"))
		if trimmed == "" {
			continue
		}
		lower := strings.ToLower(trimmed)
		if isExcluded(lower) {
			continue
		}
		if _, ok := seen[lower]; ok {
			continue
		}
		seen[lower] = struct{}{}
		out = append(out, trimmed)
	}
	if _, ok := seen[alwaysAllowedConfig]; !ok {
		out = append([]string{alwaysAllowedConfig}, out...)
	}
	return out
}

func isExcluded(lowerPath string) bool {
	for _, prefix := range HardExcludedPrefixes() {
		if strings.HasPrefix(lowerPath, prefix) {
			return true
		}
	}
	return false
}

// CleanRelPath normalizes a relative instance path and rejects traversal.
func CleanRelPath(raw string) (string, bool) {
	return shared.CleanRelPath(raw)
}

// AllowlistMatches reports whether an instance-relative path is synced.
func AllowlistMatches(relPath string, allowlist []string) bool {
	clean, ok := CleanRelPath(relPath)
	if !ok {
		return false
	}
	if isExcluded(strings.ToLower(clean)) {
		return false
	}
	if strings.EqualFold(clean, alwaysAllowedConfig) {
		return true
	}
	segments := strings.Split(clean, "/")
	for _, pattern := range allowlist {
		trimmed := strings.TrimSpace(pattern)
		if trimmed == "" {
			continue
		}
		if matchSegments(strings.Split(trimmed, "/"), segments) {
			return true
		}
	}
	return false
}

// matchSegments matches path segments against glob segments where "**"
// spans zero or more whole segments.
func matchSegments(pattern []string, segments []string) bool {
	if len(pattern) == 0 {
		return len(segments) == 0
	}
	if pattern[0] == "**" {
		for skip := 0; skip <= len(segments); skip++ {
			if matchSegments(pattern[1:], segments[skip:]) {
				return true
			}
		}
		return false
	}
	if len(segments) == 0 {
		return false
	}
	ok, err := path.Match(pattern[0], segments[0])
	if err != nil || !ok {
		return false
	}
	return matchSegments(pattern[1:], segments[1:])
}

// NormalizeTrustedPeers de-duplicates peer ids and drops the local peer.
func NormalizeTrustedPeers(ids []string, localPeerID string) []string {
	out := make([]string, 0, len(ids))
	seen := map[string]struct{}{}
	for _, id := range ids {
		trimmed := strings.TrimSpace(id)
		if trimmed == "" || trimmed == localPeerID {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}

// NormalizeMaxAutoChanges clamps the guardrail to at least one change.
func NormalizeMaxAutoChanges(value int) int {
	if value <= 0 {
		return types.DefaultMaxAutoChanges
	}
	return value
}

// GuardrailExceeded reports whether an automatic pass must pause for an
// explicit selection.
func GuardrailExceeded(trustedChanges int, maxAutoChanges int, explicitSelection bool) bool {
	if explicitSelection {
		return false
	}
	return trustedChanges > NormalizeMaxAutoChanges(maxAutoChanges)
}
