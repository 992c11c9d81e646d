package core

import "packlink/internal/types"

const (
	penaltyRequiredFailure = 16
	penaltyOptionalFailure = 6
	penaltyConflict        = 8
	penaltySmartFallback   = 7
	penaltyLooseFallback   = 10
	penaltyDistanceUnit    = 1
	penaltyDependencyAdd   = 2
	penaltyWarning         = 2

	highConfidenceFloor   = 80
	mediumConfidenceFloor = 55
)

// ConfidenceScore rates a plan from 0 to 100. Required failures weigh the
// most, then conflicts and fallback use.
func ConfidenceScore(resolved []types.ResolvedEntry, failed []types.FailedEntry, conflicts []types.ConflictRecord, warnings []string) int {
	score := 100
	for _, item := range failed {
		if item.Required {
			score -= penaltyRequiredFailure
		} else {
			score -= penaltyOptionalFailure
		}
	}
	score -= penaltyConflict * len(conflicts)
	for _, item := range resolved {
		switch item.FallbackTier {
		case types.FallbackTierSmart:
			score -= penaltySmartFallback
		case types.FallbackTierLoose:
			score -= penaltyLooseFallback
		}
		score -= penaltyDistanceUnit * item.FallbackDistance
		if item.AddedByDependency {
			score -= penaltyDependencyAdd
		}
	}
	score -= penaltyWarning * len(warnings)
	return max(0, min(100, score))
}

func ConfidenceLabelFor(score int, requiredFailures int) types.ConfidenceLabel {
	switch {
	case requiredFailures > 0:
		return types.ConfidenceRisky
	case score >= highConfidenceFloor:
		return types.ConfidenceHigh
	case score >= mediumConfidenceFloor:
		return types.ConfidenceMedium
	default:
		return types.ConfidenceRisky
	}
}
