package app

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"packlink/internal/core"
	"packlink/internal/policies"
	"packlink/internal/shared"
	"packlink/internal/types"
)

const peerFetchWorkers = types.FriendLinkMaxPeers

// peerPass is the read-only half of a reconcile pass.
type peerPass struct {
	session  types.FriendLinkSession
	local    types.SyncState
	reached  []core.PeerSnapshot
	offline  []string
	warnings []string
	decision core.ReconcileDecision
}

// Reconcile pulls peer changes into the instance. Only trusted peers'
// changes are written, conflicts are stored for ResolveConflicts, and an
// automatic pass above the change limit writes nothing.
func (s Service) Reconcile(ctx context.Context, req ReconcileRequest) (types.FriendLinkReconcileResult, error) {
	instanceID, err := validInstanceID(req.InstanceID)
	if err != nil {
		return types.FriendLinkReconcileResult{}, err
	}
	mode := req.Mode
	if mode == "" {
		mode = types.ReconcileManual
	}
	session, ok, err := s.State.LoadSession(ctx, instanceID)
	if err != nil {
		return types.FriendLinkReconcileResult{}, err
	}
	if !ok {
		return types.FriendLinkReconcileResult{
			InstanceID: instanceID,
			Status:     types.ReconcileUnlinked,
			Mode:       mode,
			Actions:    []types.ReconcileAction{},
			Conflicts:  []types.FriendSyncConflict{},
			Warnings:   []string{},
		}, nil
	}

	release, err := s.guard.acquire(ctx, instanceID, "friend-sync")
	if err != nil {
		return types.FriendLinkReconcileResult{}, err
	}
	defer release()

	logger := log.Ctx(ctx).With().Str("instance_id", instanceID).Str("group_id", session.GroupID).Logger()
	ctx = logger.WithContext(ctx)

	pass, err := s.runPeerPass(ctx, session, req.SelectedKeys)
	if err != nil {
		return types.FriendLinkReconcileResult{}, err
	}
	decision := pass.decision
	result := types.FriendLinkReconcileResult{
		InstanceID:     instanceID,
		Mode:           mode,
		Actions:        append([]types.ReconcileAction{}, decision.Actions...),
		Conflicts:      carryConflictIDs(session.PendingConflicts, decision.Conflicts),
		Warnings:       append([]string{}, pass.warnings...),
		LocalStateHash: pass.local.StateHash,
		OfflinePeers:   len(pass.offline),
	}

	if len(decision.Accepted) > 0 {
		snapshotID, err := s.writePeerChanges(ctx, pass.session, decision.Accepted, contentSources(pass))
		result.SnapshotID = snapshotID
		if err != nil {
			result.Status = types.ReconcileError
			result.BlockedReason = "Applying peer changes failed; the instance was restored: " + err.Error()
			result.Actions = markUnapplied(result.Actions)
			s.finishPass(ctx, pass, &result, false)
			return result, err
		}
	}

	missing := 0
	if !decision.GuardrailPaused {
		missing, err = s.resyncMissingFiles(ctx, pass.session, contentSources(pass), &result)
		if err != nil {
			return result, err
		}
	}

	after, err := s.localSyncState(ctx, pass.session)
	if err != nil {
		return result, err
	}
	result.LocalStateHash = after.StateHash
	result.Status = reconcileStatus(pass, decision, mode, missing, after, &result)
	refresh := result.Status == types.ReconcileSynced || result.Status == types.ReconcileInSync
	s.finishPass(ctx, pass, &result, refresh)
	if refresh {
		result.LastGoodHash = after.StateHash
	}
	for _, action := range result.Actions {
		if action.Applied {
			result.ActionsApplied++
		} else {
			result.ActionsPending++
		}
	}
	logger.Info().
		Str("status", string(result.Status)).
		Int("applied", result.ActionsApplied).
		Int("pending", result.ActionsPending).
		Int("conflicts", len(result.Conflicts)).
		Int("offline_peers", result.OfflinePeers).
		Msg("friend link reconcile")
	return result, nil
}

// DriftPreview reports what a reconcile pass would change, without writing.
func (s Service) DriftPreview(ctx context.Context, instanceID string) (types.FriendLinkDriftPreview, error) {
	instanceID, err := validInstanceID(instanceID)
	if err != nil {
		return types.FriendLinkDriftPreview{}, err
	}
	session, ok, err := s.State.LoadSession(ctx, instanceID)
	if err != nil {
		return types.FriendLinkDriftPreview{}, err
	}
	if !ok {
		return types.FriendLinkDriftPreview{}, sessionNotFound(instanceID)
	}
	pass, err := s.runPeerPass(ctx, session, nil)
	if err != nil {
		return types.FriendLinkDriftPreview{}, err
	}
	return core.SummarizePreview(instanceID, pass.decision.Preview, len(pass.offline)), nil
}

// ResolveConflicts settles pending conflicts and runs a reconcile pass.
// take_theirs writes the stored peer value; keep_mine makes the peer value
// the common base so the local value wins on the next pass.
func (s Service) ResolveConflicts(ctx context.Context, req ResolveConflictsRequest) (types.FriendLinkReconcileResult, error) {
	instanceID, err := validInstanceID(req.InstanceID)
	if err != nil {
		return types.FriendLinkReconcileResult{}, err
	}
	session, ok, err := s.State.LoadSession(ctx, instanceID)
	if err != nil {
		return types.FriendLinkReconcileResult{}, err
	}
	if !ok {
		return types.FriendLinkReconcileResult{}, sessionNotFound(instanceID)
	}
	if len(session.PendingConflicts) == 0 {
		return s.Reconcile(ctx, ReconcileRequest{InstanceID: instanceID, Mode: types.ReconcileManual})
	}

	applied, snapshotID, err := s.settleConflicts(ctx, session, req.Resolution)
	if err != nil {
		return types.FriendLinkReconcileResult{}, err
	}
	result, err := s.Reconcile(ctx, ReconcileRequest{InstanceID: instanceID, Mode: types.ReconcileManual})
	if err != nil {
		return result, err
	}
	result.Actions = append(applied, result.Actions...)
	result.ActionsApplied += len(applied)
	if len(applied) > 0 {
		if result.SnapshotID == "" {
			result.SnapshotID = snapshotID
		}
		if result.Status == types.ReconcileInSync {
			result.Status = types.ReconcileSynced
		}
	}
	return result, nil
}

func (s Service) settleConflicts(ctx context.Context, session types.FriendLinkSession, resolution types.ConflictResolution) ([]types.ReconcileAction, string, error) {
	release, err := s.guard.acquire(ctx, session.InstanceID, "friend-resolve")
	if err != nil {
		return nil, "", err
	}
	defer release()

	choices := map[string]types.ConflictResolutionChoice{}
	for _, item := range resolution.Items {
		choices[item.ConflictID] = item.Resolution
	}
	var accepted []core.AcceptedChange
	var actions []types.ReconcileAction
	keepBase := map[string]types.FriendSyncConflict{}
	pending := []types.FriendSyncConflict{}
	for _, conflict := range session.PendingConflicts {
		choice, ok := choices[conflict.ID]
		if !ok {
			switch {
			case resolution.TakeAllTheirs:
				choice = types.ResolutionTakeTheirs
			case resolution.KeepAllMine:
				choice = types.ResolutionKeepMine
			default:
				choice = types.ResolutionSkip
			}
		}
		switch choice {
		case types.ResolutionTakeTheirs:
			change, ok := theirsChange(conflict)
			if !ok {
				pending = append(pending, conflict)
				continue
			}
			accepted = append(accepted, change)
			actions = append(actions, types.ReconcileAction{
				Kind: conflict.Kind, Change: change.Change, Key: conflict.Key, PeerID: conflict.PeerID,
				Applied: true,
				Message: "Took the peer value to resolve a conflict.",
			})
		case types.ResolutionKeepMine:
			keepBase[conflict.Key] = conflict
		default:
			pending = append(pending, conflict)
		}
	}

	snapshotID := ""
	if len(accepted) > 0 {
		peers := make([]types.FriendPeer, 0, len(session.Peers))
		for _, peer := range session.Peers {
			if strings.TrimSpace(peer.Endpoint) != "" && session.IsTrusted(peer.PeerID) {
				peers = append(peers, peer)
			}
		}
		snapshotID, err = s.writePeerChanges(ctx, session, accepted, peers)
		if err != nil {
			return nil, snapshotID, err
		}
	}

	now := timeNow(s.Clock)
	err = s.updateSession(ctx, session.InstanceID, false, func(current *types.FriendLinkSession, _ bool) error {
		current.PendingConflicts = pending
		if len(keepBase) == 0 {
			return nil
		}
		if current.LastGood == nil {
			current.LastGood = &types.LastGoodSnapshot{Manifest: []types.ManifestEntry{}}
		}
		manifest := make([]types.ManifestEntry, 0, len(current.LastGood.Manifest)+len(keepBase))
		for _, item := range current.LastGood.Manifest {
			if _, ok := keepBase[item.Key]; !ok {
				manifest = append(manifest, item)
			}
		}
		for key, conflict := range keepBase {
			manifest = append(manifest, types.ManifestEntry{Key: key, Hash: conflict.TheirsHash, Kind: conflict.Kind})
		}
		sort.Slice(manifest, func(i, j int) bool { return manifest[i].Key < manifest[j].Key })
		current.LastGood.Manifest = manifest
		current.LastGood.UpdatedAt = now
		return nil
	})
	return actions, snapshotID, err
}

func theirsChange(conflict types.FriendSyncConflict) (core.AcceptedChange, bool) {
	change := core.AcceptedChange{Key: conflict.Key, Kind: conflict.Kind, PeerID: conflict.PeerID}
	switch conflict.Kind {
	case types.SyncItemLockEntry:
		change.Lock = conflict.TheirsLock
		switch {
		case conflict.TheirsLock == nil:
			change.Change = types.ChangeRemoved
		case conflict.MineHash == "" || conflict.MineHash == "absent":
			change.Change = types.ChangeAdded
		default:
			change.Change = types.ChangeChanged
		}
		return change, true
	case types.SyncItemConfigFile:
		if conflict.TheirsConfig == nil {
			return change, false
		}
		change.Config = conflict.TheirsConfig
		change.Change = types.ChangeChanged
		return change, true
	default:
		return change, false
	}
}

// runPeerPass collects local state, fetches every peer's state in parallel
// and classifies the differences.
func (s Service) runPeerPass(ctx context.Context, session types.FriendLinkSession, selected []string) (peerPass, error) {
	local, err := s.localSyncState(ctx, session)
	if err != nil {
		return peerPass{}, err
	}
	pass := peerPass{session: session, local: local}

	type fetched struct {
		state types.PeerState
		err   error
	}
	results := make([]fetched, len(session.Peers))
	var g errgroup.Group
	g.SetLimit(peerFetchWorkers)
	for i, peer := range session.Peers {
		g.Go(func() error {
			if strings.TrimSpace(peer.Endpoint) == "" {
				results[i].err = fmt.Errorf("no endpoint known")
				return nil
			}
			state, err := s.Peers.FetchState(ctx, session, peer.Endpoint)
			results[i] = fetched{state: state, err: err}
			return nil
		})
	}
	_ = g.Wait()

	now := timeNow(s.Clock)
	for i := range pass.session.Peers {
		peer := &pass.session.Peers[i]
		if results[i].err != nil {
			peer.Online = false
			pass.offline = append(pass.offline, peer.PeerID)
			pass.warnings = append(pass.warnings, fmt.Sprintf("Peer '%s' is offline or unreachable: %v", displayName(*peer), results[i].err))
			log.Ctx(ctx).Warn().Err(results[i].err).Str("peer_id", peer.PeerID).Msg("peer unreachable")
			continue
		}
		seen := now
		peer.Online = true
		peer.LastSeenAt = &seen
		peer.LastStateHash = results[i].state.State.StateHash
		pass.reached = append(pass.reached, core.PeerSnapshot{
			Peer:    *peer,
			State:   results[i].state.State,
			Trusted: session.IsTrusted(peer.PeerID),
		})
	}

	pass.decision = core.PlanReconcile(core.ReconcileInput{
		Local:          local,
		Baseline:       session.LastGood,
		Peers:          pass.reached,
		Toggles:        session.Sync,
		MaxAutoChanges: session.MaxAutoChanges,
		SelectedKeys:   selected,
		Now:            now,
		NewConflictID:  func() string { return s.newID("conflict_") },
	})
	return pass, nil
}

// localSyncState builds the sync state of the session's instance: tracked
// lock entries plus allowlisted config files.
func (s Service) localSyncState(ctx context.Context, session types.FriendLinkSession) (types.SyncState, error) {
	lock, err := s.Instances.ReadLockfile(ctx, session.InstanceID)
	if err != nil {
		return types.SyncState{}, err
	}
	paths, err := s.Instances.ListConfigFiles(ctx, session.InstanceID)
	if err != nil {
		return types.SyncState{}, err
	}
	allowlist := policies.NormalizeAllowlist(session.Allowlist)
	configs := []types.ConfigFileState{}
	for _, rel := range paths {
		if !policies.AllowlistMatches(rel, allowlist) {
			continue
		}
		file, err := s.Instances.ReadConfigFile(ctx, session.InstanceID, rel)
		if err != nil {
			if errbuilder.CodeOf(err) == errbuilder.CodeNotFound {
				continue
			}
			return types.SyncState{}, err
		}
		configs = append(configs, file)
	}
	return core.BuildSyncState(core.SupportedLockEntries(lock.Entries), configs, session.Sync), nil
}

// writePeerChanges writes accepted changes under a content snapshot and
// restores it when any write fails. Content bytes come from the peer that
// offered the change, falling back to the other trusted peers.
func (s Service) writePeerChanges(ctx context.Context, session types.FriendLinkSession, accepted []core.AcceptedChange, peers []types.FriendPeer) (string, error) {
	instanceID := session.InstanceID
	lock, err := s.Instances.ReadLockfile(ctx, instanceID)
	if err != nil {
		return "", err
	}
	snapshot, err := s.Snapshots.CreateSnapshot(ctx, instanceID, friendSyncSnapshotReason)
	if err != nil {
		return "", err
	}
	rollback := func(cause error) (string, error) {
		if _, err := s.Snapshots.RestoreSnapshot(ctx, instanceID, snapshot.ID); err != nil {
			log.Ctx(ctx).Error().Err(err).Str("snapshot_id", snapshot.ID).Msg("auto-rollback failed")
			return snapshot.ID, errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg("friend sync failed and rollback failed").
				WithCause(cause)
		}
		log.Ctx(ctx).Warn().Err(cause).Str("snapshot_id", snapshot.ID).Msg("friend sync rolled back")
		return snapshot.ID, cause
	}

	before := map[string]types.LockEntry{}
	for _, entry := range lock.Entries {
		before[core.LockSyncKey(entry)] = entry
	}
	for _, change := range accepted {
		switch change.Kind {
		case types.SyncItemLockEntry:
			if err := s.writeLockChange(ctx, session, change, before, peers); err != nil {
				return rollback(err)
			}
		case types.SyncItemConfigFile:
			if change.Config == nil {
				continue
			}
			if hash := core.SHA256Hex([]byte(change.Config.Content)); change.Config.Hash != "" && hash != change.Config.Hash {
				return rollback(errbuilder.New().
					WithCode(errbuilder.CodeFailedPrecondition).
					WithMsg("config content does not match its hash: " + change.Config.Path))
			}
			if err := s.Instances.WriteConfigFile(ctx, instanceID, change.Config.Path, change.Config.Content); err != nil {
				return rollback(err)
			}
		}
	}

	entries, _ := core.ApplyAccepted(lock.Entries, accepted)
	sortLockEntries(entries)
	lock.Entries = entries
	if lock.Version == 0 {
		lock.Version = types.LockfileVersion
	}
	if err := s.Instances.WriteLockfile(ctx, instanceID, lock); err != nil {
		return rollback(err)
	}
	if _, err := s.pruneSnapshots(ctx, instanceID, types.SnapshotRetentionPolicy{
		KeepLast:   s.snapshotKeepLast(),
		ProtectIDs: []string{snapshot.ID},
	}); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("snapshot pruning failed")
	}
	return snapshot.ID, nil
}

func (s Service) writeLockChange(ctx context.Context, session types.FriendLinkSession, change core.AcceptedChange, before map[string]types.LockEntry, peers []types.FriendPeer) error {
	instanceID := session.InstanceID
	old, hadOld := before[change.Key]
	if change.Lock == nil {
		if !hadOld {
			return nil
		}
		return s.Instances.RemoveEntry(ctx, instanceID, old)
	}
	next := *change.Lock
	if hadOld && old.VersionID == next.VersionID && old.Filename == next.Filename {
		missing, err := s.Instances.EntryFileMissing(ctx, instanceID, old)
		if err != nil {
			return err
		}
		if !missing {
			if old.Enabled == next.Enabled {
				return nil
			}
			return s.Instances.SetEnabled(ctx, instanceID, old, next.Enabled)
		}
	}
	if err := s.fetchAndInstall(ctx, session, next, change.Key, preferPeer(peers, change.PeerID)); err != nil {
		return err
	}
	if hadOld && old.Filename != next.Filename {
		return s.Instances.RemoveEntry(ctx, instanceID, old)
	}
	return nil
}

// fetchAndInstall asks each peer in turn for the entry bytes, verifies the
// transfer digest and installs the first good copy.
func (s Service) fetchAndInstall(ctx context.Context, session types.FriendLinkSession, entry types.LockEntry, key string, peers []types.FriendPeer) error {
	var lastErr error
	for _, peer := range peers {
		transfer, err := s.Peers.FetchFile(ctx, session, peer.Endpoint, key)
		if err != nil {
			lastErr = err
			continue
		}
		if !transfer.Found {
			lastErr = fmt.Errorf("peer %s: %s", displayName(peer), transfer.Message)
			continue
		}
		if core.SHA256Hex(transfer.Content) != strings.ToLower(strings.TrimSpace(transfer.SHA256)) {
			lastErr = fmt.Errorf("peer %s: file hash verification failed", displayName(peer))
			continue
		}
		if err := s.Instances.InstallEntry(ctx, session.InstanceID, entry, transfer.Content); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no reachable peer")
	}
	return errbuilder.New().
		WithCode(errbuilder.CodeFailedPrecondition).
		WithMsg(fmt.Sprintf("could not fetch %s from peers", entry.Filename)).
		WithCause(lastErr)
}

// resyncMissingFiles fetches tracked lock entries whose files are absent
// locally. It returns the number still missing.
func (s Service) resyncMissingFiles(ctx context.Context, session types.FriendLinkSession, peers []types.FriendPeer, result *types.FriendLinkReconcileResult) (int, error) {
	lock, err := s.Instances.ReadLockfile(ctx, session.InstanceID)
	if err != nil {
		return 0, err
	}
	failures := 0
	for _, entry := range core.SupportedLockEntries(lock.Entries) {
		if !session.Sync.Tracks(entry.ContentType) {
			continue
		}
		missing, err := s.Instances.EntryFileMissing(ctx, session.InstanceID, entry)
		if err != nil {
			return failures, err
		}
		if !missing {
			continue
		}
		key := core.LockSyncKey(entry)
		if err := s.fetchAndInstall(ctx, session, entry, key, peers); err != nil {
			failures++
			result.Warnings = append(result.Warnings, fmt.Sprintf("Could not sync file for '%s': %v", entry.Name, err))
			continue
		}
		result.Actions = append(result.Actions, types.ReconcileAction{
			Kind: types.SyncItemLockEntry, Change: types.ChangeChanged, Key: key,
			Applied: true,
			Message: fmt.Sprintf("Restored missing file for '%s'.", entry.Name),
		})
	}
	return failures, nil
}

// reconcileStatus picks one outcome: conflicts first, then the guardrail,
// missing files, offline peers, blocked changes, and finally synced or
// in_sync.
func reconcileStatus(pass peerPass, decision core.ReconcileDecision, mode types.ReconcileMode, missing int, after types.SyncState, result *types.FriendLinkReconcileResult) types.ReconcileStatus {
	switch {
	case len(decision.Conflicts) > 0:
		return types.ReconcileConflicted
	case decision.GuardrailPaused:
		result.BlockedReason = fmt.Sprintf("%d incoming changes exceed the auto-apply limit of %d; review them with the drift preview.",
			decision.TrustedChanges, policies.NormalizeMaxAutoChanges(pass.session.MaxAutoChanges))
		return types.ReconcilePausedGuardrail
	case missing > 0:
		result.BlockedReason = fmt.Sprintf("Could not fetch %d content file(s) from peers.", missing)
		return types.ReconcileDegradedMissingFiles
	case len(pass.offline) > 0:
		lastGood := pass.session.LastGood
		if lastGood != nil && lastGood.StateHash == after.StateHash {
			return types.ReconcileDegradedOfflineGood
		}
		if mode == types.ReconcilePrelaunch {
			if lastGood == nil {
				result.BlockedReason = "One or more peers are offline and no last-good snapshot is available."
			} else {
				result.BlockedReason = "One or more peers are offline and local state differs from the last fully-synced snapshot."
			}
			return types.ReconcileBlockedOfflineStale
		}
		return types.ReconcileError
	case decision.BlockedUntrusted > 0:
		result.BlockedReason = fmt.Sprintf("%d change(s) from untrusted peers were not applied.", decision.BlockedUntrusted)
		return types.ReconcileBlockedUntrusted
	}
	for _, action := range result.Actions {
		if action.Applied {
			return types.ReconcileSynced
		}
	}
	return types.ReconcileInSync
}

// finishPass stores peer liveness and pending conflicts, and refreshes the
// last-good manifest when requested.
func (s Service) finishPass(ctx context.Context, pass peerPass, result *types.FriendLinkReconcileResult, refreshLastGood bool) {
	now := timeNow(s.Clock)
	var after types.SyncState
	if refreshLastGood {
		state, err := s.localSyncState(ctx, pass.session)
		if err != nil {
			refreshLastGood = false
		} else {
			after = state
		}
	}
	err := s.updateSession(ctx, pass.session.InstanceID, false, func(session *types.FriendLinkSession, _ bool) error {
		for _, seen := range pass.session.Peers {
			for i := range session.Peers {
				if session.Peers[i].PeerID != seen.PeerID {
					continue
				}
				session.Peers[i].Online = seen.Online
				session.Peers[i].LastSeenAt = seen.LastSeenAt
				session.Peers[i].LastStateHash = seen.LastStateHash
			}
		}
		if result.Status != types.ReconcileError || len(result.Conflicts) > 0 {
			session.PendingConflicts = append([]types.FriendSyncConflict{}, result.Conflicts...)
		}
		if refreshLastGood {
			session.LastGood = &types.LastGoodSnapshot{
				StateHash: after.StateHash,
				Manifest:  core.StateManifest(after),
				UpdatedAt: now,
			}
			if session.LastPeerSyncAt == nil {
				session.LastPeerSyncAt = map[string]time.Time{}
			}
			for _, peer := range pass.reached {
				session.LastPeerSyncAt[peer.Peer.PeerID] = now
			}
		}
		return nil
	})
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to store friend link session")
		result.Warnings = append(result.Warnings, "failed to store session: "+err.Error())
	}
}

// ExportDebugBundle writes the session (without its secret), local state
// and a drift preview to the data directory and returns the file path.
func (s Service) ExportDebugBundle(ctx context.Context, instanceID string) (string, error) {
	instanceID, err := validInstanceID(instanceID)
	if err != nil {
		return "", err
	}
	session, ok, err := s.State.LoadSession(ctx, instanceID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", sessionNotFound(instanceID)
	}
	local, err := s.localSyncState(ctx, session)
	if err != nil {
		return "", err
	}
	bundle := DebugBundle{
		GeneratedAt: timeNow(s.Clock),
		Status:      statusFor(instanceID, &session),
		Session:     session,
		LocalState:  local,
	}
	bundle.Session.SharedSecret = ""
	if preview, err := s.DriftPreview(ctx, instanceID); err == nil {
		bundle.Preview = &preview
	} else {
		log.Ctx(ctx).Warn().Err(err).Msg("debug bundle without drift preview")
	}
	raw, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to encode debug bundle").
			WithCause(err)
	}
	dataDir := s.DataDir
	if strings.TrimSpace(dataDir) == "" {
		dataDir = "."
	}
	path := filepath.Join(dataDir, "friend_link", "debug", fmt.Sprintf("%s_%s.json", instanceID, s.newID("")))
	if err := shared.AtomicWriteFile(path, raw, 0o644); err != nil {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to write debug bundle").
			WithCause(err)
	}
	return path, nil
}

// carryConflictIDs keeps the id of a pending conflict that is detected
// again, so ids handed to ResolveConflicts stay valid across passes.
func carryConflictIDs(pending []types.FriendSyncConflict, detected []types.FriendSyncConflict) []types.FriendSyncConflict {
	ids := map[string]string{}
	for _, conflict := range pending {
		ids[conflict.Key+"|"+conflict.PeerID+"|"+conflict.TheirsHash] = conflict.ID
	}
	out := make([]types.FriendSyncConflict, 0, len(detected))
	for _, conflict := range detected {
		if id, ok := ids[conflict.Key+"|"+conflict.PeerID+"|"+conflict.TheirsHash]; ok {
			conflict.ID = id
		}
		out = append(out, conflict)
	}
	return out
}

func markUnapplied(actions []types.ReconcileAction) []types.ReconcileAction {
	out := make([]types.ReconcileAction, 0, len(actions))
	for _, action := range actions {
		if action.Applied {
			action.Applied = false
			action.Message = "Rolled back: " + action.Message
		}
		out = append(out, action)
	}
	return out
}

// contentSources lists the reachable trusted peers. Content bytes are only
// taken from peers whose changes could be accepted.
func contentSources(pass peerPass) []types.FriendPeer {
	out := make([]types.FriendPeer, 0, len(pass.reached))
	for _, peer := range pass.reached {
		if peer.Trusted {
			out = append(out, peer.Peer)
		}
	}
	return out
}

func preferPeer(peers []types.FriendPeer, peerID string) []types.FriendPeer {
	out := make([]types.FriendPeer, 0, len(peers))
	for _, peer := range peers {
		if peer.PeerID == peerID {
			out = append(out, peer)
		}
	}
	for _, peer := range peers {
		if peer.PeerID != peerID {
			out = append(out, peer)
		}
	}
	return out
}

func displayName(peer types.FriendPeer) string {
	if strings.TrimSpace(peer.DisplayName) != "" {
		return peer.DisplayName
	}
	return peer.PeerID
}
