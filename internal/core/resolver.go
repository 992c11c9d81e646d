package core

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"packlink/internal/policies"
	"packlink/internal/ports"
	"packlink/internal/types"
)

const defaultResolveWorkers = 4

// VersionResolver picks one concrete provider version per entry. Failures
// are data in the outcome; only context cancellation returns an error.
type VersionResolver struct {
	Provider ports.ProviderPort
	Workers  int
}

type ResolveOutcome struct {
	Resolved []types.ResolvedEntry
	Failed   []types.FailedEntry
	Warnings []string
}

func NewVersionResolver(provider ports.ProviderPort) VersionResolver {
	return VersionResolver{Provider: provider, Workers: defaultResolveWorkers}
}

type entryResult struct {
	resolved *types.ResolvedEntry
	failed   *types.FailedEntry
}

func (r VersionResolver) Resolve(ctx context.Context, entries []types.Entry, target types.InstanceTarget, settings types.ResolutionSettings) (ResolveOutcome, error) {
	if r.Provider == nil {
		return ResolveOutcome{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("resolver requires a provider port")
	}
	policy := policies.NewResolutionPolicy(settings)
	cache := newVersionCache()

	results := make([]entryResult, len(entries))
	workers := r.Workers
	if workers <= 0 {
		workers = defaultResolveWorkers
	}
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(workers)
	for i, entry := range entries {
		group.Go(func() error {
			resolved, failed, err := r.resolveEntry(groupCtx, policy, cache, entry.Normalized(), target)
			if err != nil {
				return err
			}
			results[i] = entryResult{resolved: resolved, failed: failed}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return ResolveOutcome{}, err
	}

	outcome := ResolveOutcome{
		Resolved: []types.ResolvedEntry{},
		Failed:   []types.FailedEntry{},
		Warnings: []string{},
	}
	for _, result := range results {
		if result.resolved != nil {
			outcome.Resolved = append(outcome.Resolved, *result.resolved)
		}
		if result.failed != nil {
			outcome.Failed = append(outcome.Failed, *result.failed)
		}
	}

	if err := r.resolveDependencies(ctx, policy, cache, target, &outcome); err != nil {
		return ResolveOutcome{}, err
	}

	log.Ctx(ctx).Debug().
		Str("instance_id", target.InstanceID).
		Int("resolved", len(outcome.Resolved)).
		Int("failed", len(outcome.Failed)).
		Msg("entries resolved")
	return outcome, nil
}

type candidate struct {
	version  types.ProviderVersion
	tier     types.FallbackTier
	distance int
	rank     int
}

func (r VersionResolver) resolveEntry(ctx context.Context, policy policies.ResolutionPolicy, cache *versionCache, entry types.Entry, target types.InstanceTarget) (*types.ResolvedEntry, *types.FailedEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	fail := func(code types.FailureReason, text string, hint string) (*types.ResolvedEntry, *types.FailedEntry, error) {
		return nil, newFailure(entry, target, code, text, hint), nil
	}

	if !entry.Provider.Known() {
		return fail(types.ReasonProviderError,
			"Unsupported provider. Expected modrinth or curseforge.",
			"Update entry provider.")
	}

	contentType := entry.NormalizedContentType()
	versions, err := r.Provider.ListVersions(ctx, entry.Provider, entry.ProjectID, types.VersionQuery{
		ContentType:      contentType,
		MinecraftVersion: target.MinecraftVersion,
		Loader:           target.Loader,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		if errbuilder.CodeOf(err) == errbuilder.CodeNotFound {
			return fail(types.ReasonProjectNotFound,
				fmt.Sprintf("Project '%s' was not found on %s.", entry.ProjectID, entry.Provider.DisplayName()),
				"Verify project id and provider.")
		}
		return fail(types.ReasonProviderError,
			fmt.Sprintf("Failed to query %s versions: %v", entry.Provider.DisplayName(), err),
			"Retry or verify project ID/slug.")
	}
	if len(versions) == 0 {
		return fail(types.ReasonProjectNotFound,
			fmt.Sprintf("%s returned no versions for '%s'.", entry.Provider.DisplayName(), entry.ProjectID),
			"Verify project id and provider.")
	}

	pin := strings.TrimSpace(entry.Pin)
	if pin != "" && !isSpecifier(pin) {
		for _, version := range versions {
			if version.VersionID != pin && version.VersionNumber != pin {
				continue
			}
			if strings.TrimSpace(version.DownloadURL) == "" {
				return fail(types.ReasonDownloadNotAvailable,
					fmt.Sprintf("Pinned version '%s' has no downloadable file.", pin),
					"Choose another version or download the file manually.")
			}
			resolved := newResolved(entry, version, types.FallbackTierExact, 0,
				policies.ChannelRank(version.Channel, version.VersionNumber+" "+version.Name))
			resolved.RationaleText = fmt.Sprintf("Pinned version '%s' was selected.", pin)
			return &resolved, nil, nil
		}
		return fail(types.ReasonNoCompatibleMinecraftVersion,
			fmt.Sprintf("Pinned version '%s' is not offered by %s.", pin, entry.Provider.DisplayName()),
			"Remove the pin or update it to an available version.")
	}

	mode := policy.FallbackMode(entry)
	allowedRank := policy.AllowedChannelRank(entry)
	loaderMatched := 0
	prereleaseOnly := 0
	missingDownload := 0
	var candidates []candidate
	for _, version := range versions {
		if pin != "" && !cache.pinMatches(pin, version.VersionID, version.VersionNumber) {
			continue
		}
		if !policies.LoaderMatches(contentType, target.Loader, version.Loaders) {
			continue
		}
		loaderMatched++
		distance, tier, ok := policy.BestGameVersionDistance(target.MinecraftVersion, version.GameVersions, mode)
		if !ok {
			continue
		}
		rank := policies.ChannelRank(version.Channel, version.VersionNumber+" "+version.Name)
		if rank > allowedRank {
			prereleaseOnly++
			continue
		}
		if strings.TrimSpace(version.DownloadURL) == "" || sanitizeFilename(version.Filename) == "" {
			missingDownload++
			continue
		}
		candidates = append(candidates, candidate{version: version, tier: tier, distance: distance, rank: rank})
	}

	if len(candidates) == 0 {
		switch {
		case loaderMatched == 0:
			return fail(types.ReasonNoCompatibleLoader,
				fmt.Sprintf("No %s file supports loader '%s'.", entry.Provider.DisplayName(), target.Loader),
				"Choose a compatible loader or replace this entry.")
		case missingDownload > 0:
			return fail(types.ReasonDownloadNotAvailable,
				fmt.Sprintf("Compatible %s files exist but none can be downloaded.", entry.Provider.DisplayName()),
				"Download the file manually or choose another project.")
		case prereleaseOnly > 0:
			return fail(types.ReasonOnlyPrereleaseAvailable,
				fmt.Sprintf("Only prerelease files match target %s %s.", target.Loader, target.MinecraftVersion),
				"Allow beta or alpha channel for this entry or wait for a stable release.")
		default:
			return fail(types.ReasonNoCompatibleMinecraftVersion,
				fmt.Sprintf("No compatible %s file found for target %s %s.", entry.Provider.DisplayName(), target.Loader, target.MinecraftVersion),
				"Try smart/loose fallback, allow beta channel, or choose a compatible loader/version.")
		}
	}

	sortCandidates(candidates, cache, policy.Settings.PreferStable)
	best := candidates[0]
	resolved := newResolved(entry, best.version, best.tier, best.distance, best.rank)
	resolved.RationaleText = rationaleText(entry.Provider, best.tier, best.distance, best.rank)
	return &resolved, nil, nil
}

// sortCandidates orders by fallback tier, distance, channel rank and newest
// version number. Without prefer_stable the channel does not affect order.
func sortCandidates(candidates []candidate, cache *versionCache, preferStable bool) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.tier != b.tier {
			return a.tier < b.tier
		}
		if a.distance != b.distance {
			return a.distance < b.distance
		}
		if preferStable && a.rank != b.rank {
			return a.rank < b.rank
		}
		return cache.compare(a.version.VersionNumber, b.version.VersionNumber) > 0
	})
}

func (r VersionResolver) resolveDependencies(ctx context.Context, policy policies.ResolutionPolicy, cache *versionCache, target types.InstanceTarget, outcome *ResolveOutcome) error {
	known := map[string]struct{}{}
	for _, item := range outcome.Resolved {
		known[item.Key] = struct{}{}
	}
	for _, item := range outcome.Failed {
		known[item.Key] = struct{}{}
	}

	queue := make([]types.ResolvedEntry, 0, len(outcome.Resolved))
	for _, item := range outcome.Resolved {
		if item.Entry.NormalizedContentType() == types.ContentTypeMods {
			queue = append(queue, item)
		}
	}
	visited := map[string]struct{}{}
	autoAdd := policy.Settings.DependencyMode == types.DependencyModeAutoAdd

	for len(queue) > 0 {
		parent := queue[0]
		queue = queue[1:]
		visitKey := string(parent.Entry.Provider) + ":" + parent.VersionID
		if _, ok := visited[visitKey]; ok {
			continue
		}
		visited[visitKey] = struct{}{}

		deps, err := r.Provider.Dependencies(ctx, parent.Entry.Provider, parent.VersionID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			outcome.Warnings = append(outcome.Warnings,
				fmt.Sprintf("Dependency lookup failed for '%s': %v", parent.Name, err))
			continue
		}
		sort.Strings(deps)
		for _, projectID := range deps {
			depKey := types.MakeEntryKey(parent.Entry.Provider, string(types.ContentTypeMods), projectID)
			if _, ok := known[depKey]; ok {
				continue
			}
			known[depKey] = struct{}{}
			depEntry := types.Entry{
				Provider:    parent.Entry.Provider,
				ContentType: string(types.ContentTypeMods),
				ProjectID:   projectID,
				Required:    types.BoolPtr(true),
				Notes:       fmt.Sprintf("Auto-added dependency for %s", parent.Name),
				TargetScope: types.TargetScopeInstance,
			}.Normalized()
			parentRequired := parent.Entry.IsRequired()

			if !autoAdd {
				failure := newFailure(depEntry, target, types.ReasonDependencyMissing,
					fmt.Sprintf("Required dependency '%s' was not selected for '%s'.", projectID, parent.Name),
					"Enable AutoAdd dependencies, add dependency manually, or mark parent optional.")
				failure.ConstraintsSnapshot = fmt.Sprintf("parent=%s (%s) target=%s %s",
					parent.Name, parent.Entry.Provider, target.Loader, target.MinecraftVersion)
				failure.Required = parentRequired
				outcome.Failed = append(outcome.Failed, *failure)
				continue
			}

			resolved, failed, err := r.resolveEntry(ctx, policy, cache, depEntry, target)
			if err != nil {
				return err
			}
			if failed != nil {
				failed.ReasonCode = types.ReasonDependencyIncompatible
				failed.ReasonText = fmt.Sprintf("Required dependency '%s' for '%s' could not be resolved: %s",
					projectID, parent.Name, failed.ReasonText)
				failed.Required = parentRequired
				outcome.Failed = append(outcome.Failed, *failed)
				continue
			}
			resolved.AddedByDependency = true
			resolved.DependencyOf = parent.Key
			resolved.RationaleText = fmt.Sprintf("Added because required by '%s' and dependency mode is AutoAdd.", parent.Name)
			outcome.Resolved = append(outcome.Resolved, *resolved)
			queue = append(queue, *resolved)
		}
	}
	return nil
}

func newResolved(entry types.Entry, version types.ProviderVersion, tier types.FallbackTier, distance int, rank int) types.ResolvedEntry {
	name := strings.TrimSpace(entry.Name)
	if name == "" {
		name = strings.TrimSpace(version.Name)
	}
	if name == "" {
		name = entry.ProjectID
	}
	return types.ResolvedEntry{
		Key:              types.EntryKey(entry),
		Entry:            entry,
		VersionID:        version.VersionID,
		VersionNumber:    version.VersionNumber,
		Name:             name,
		Filename:         sanitizeFilename(version.Filename),
		DownloadURL:      version.DownloadURL,
		Hashes:           copyHashes(version.Hashes),
		Channel:          policies.ChannelLabel(rank),
		FallbackDistance: distance,
		FallbackTier:     tier,
	}
}

func newFailure(entry types.Entry, target types.InstanceTarget, code types.FailureReason, text string, hint string) *types.FailedEntry {
	return &types.FailedEntry{
		Key:                 types.EntryKey(entry),
		Entry:               entry,
		ReasonCode:          code,
		ReasonText:          text,
		ActionableHint:      hint,
		ConstraintsSnapshot: constraintsSnapshot(target),
		Required:            entry.IsRequired(),
	}
}

func constraintsSnapshot(target types.InstanceTarget) string {
	return fmt.Sprintf("%s + %s", target.Loader, target.MinecraftVersion)
}

func rationaleText(provider types.Provider, tier types.FallbackTier, distance int, rank int) string {
	label := "loose fallback"
	switch tier {
	case types.FallbackTierExact:
		label = "exact match"
	case types.FallbackTierSmart:
		label = "smart fallback"
	}
	return fmt.Sprintf("Chosen from %s using %s (distance %d) with %s channel.",
		provider.DisplayName(), label, distance, policies.ChannelLabel(rank))
}

// sanitizeFilename keeps only the base name so a provider cannot write
// outside the content folder.
func sanitizeFilename(value string) string {
	name := strings.TrimSpace(strings.ReplaceAll(value, "\\", "/"))
	if name == "" {
		return ""
	}
	name = path.Base(name)
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	return name
}

func copyHashes(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
