package core

import (
	"fmt"
	"sort"
	"time"

	"packlink/internal/policies"
	"packlink/internal/types"
)

const absentHash = "absent"

// PeerSnapshot is the state fetched from one reachable peer.
type PeerSnapshot struct {
	Peer    types.FriendPeer
	State   types.SyncState
	Trusted bool
}

type ReconcileInput struct {
	Local          types.SyncState
	Baseline       *types.LastGoodSnapshot
	Peers          []PeerSnapshot
	Toggles        types.SyncToggles
	MaxAutoChanges int
	SelectedKeys   []string
	Now            time.Time
	NewConflictID  func() string
}

// AcceptedChange is a peer change cleared for writing. A nil Lock on a lock
// entry change removes the entry.
type AcceptedChange struct {
	Key    string
	Kind   types.SyncItemKind
	Change types.ChangeKind
	PeerID string
	Lock   *types.LockEntry
	Config *types.ConfigFileState
}

// ReconcileDecision classifies every differing identity across peers.
type ReconcileDecision struct {
	Accepted         []AcceptedChange
	Actions          []types.ReconcileAction
	Conflicts        []types.FriendSyncConflict
	Preview          []types.DriftPreviewItem
	BlockedUntrusted int
	TrustedChanges   int
	GuardrailPaused  bool
}

// PlanReconcile runs the three-way comparison of local state, each peer's
// state and the last-good manifest. Only remote-side changes are candidates;
// local-only changes are left for peers to pull. Changes from untrusted
// peers are never accepted, and an automatic pass above the change limit
// accepts nothing. Trusted peers that disagree on the new value of one
// identity produce conflicts for that identity and nothing is accepted.
func PlanReconcile(input ReconcileInput) ReconcileDecision {
	base := map[string]string{}
	if input.Baseline != nil {
		for _, item := range input.Baseline.Manifest {
			base[item.Key] = item.Hash
		}
	}
	localIndex := IndexSyncState(input.Local)
	decision := ReconcileDecision{}
	conflictSeen := map[string]struct{}{}

	incoming := map[string][]reconcileCandidate{}

	for _, peer := range input.Peers {
		remote := IndexSyncState(filterTracked(peer.State, input.Toggles))
		keys := unionKeys(localIndex, remote)
		for _, key := range keys {
			local, hasLocal := localIndex[key]
			theirs, hasRemote := remote[key]
			localHash, remoteHash := absentHash, absentHash
			if hasLocal {
				localHash = local.Hash
			}
			if hasRemote {
				remoteHash = theirs.Hash
			}
			if localHash == remoteHash {
				continue
			}

			baseHash, hasBase := base[key]
			var localChanged, remoteChanged bool
			if hasBase {
				localChanged = localHash != baseHash
				remoteChanged = remoteHash != baseHash
			} else {
				localChanged = hasLocal
				remoteChanged = hasRemote
			}
			if !remoteChanged {
				continue
			}

			change := changeKind(hasLocal, hasRemote)
			kind := local.Kind
			if hasRemote {
				kind = theirs.Kind
			}
			// Config deletions do not propagate.
			if kind == types.SyncItemConfigFile && !hasRemote {
				continue
			}

			if !peer.Trusted {
				decision.Preview = append(decision.Preview, types.DriftPreviewItem{
					Kind: kind, Change: change, Key: key, PeerID: peer.Peer.PeerID, Conflict: localChanged,
				})
				decision.BlockedUntrusted++
				decision.Actions = append(decision.Actions, blockedAction(kind, change, key, peer.Peer))
				continue
			}

			if localChanged {
				decision.Preview = append(decision.Preview, types.DriftPreviewItem{
					Kind: kind, Change: change, Key: key, PeerID: peer.Peer.PeerID, Trusted: true, Conflict: true,
				})
				if markConflict(conflictSeen, key, remoteHash) {
					decision.Conflicts = append(decision.Conflicts, newSyncConflict(input, key, kind, peer.Peer.PeerID, local, hasLocal, theirs, hasRemote))
				}
				continue
			}

			accepted := AcceptedChange{Key: key, Kind: kind, Change: change, PeerID: peer.Peer.PeerID}
			if hasRemote {
				accepted.Lock = theirs.Lock
				accepted.Config = theirs.Config
			}
			item := reconcileCandidate{
				change: accepted, name: displayPeer(peer.Peer), peerID: peer.Peer.PeerID, remoteHash: remoteHash,
				local: local, hasLocal: hasLocal, theirs: theirs, hasRemote: hasRemote, preview: -1,
			}
			if !sameHashOffered(incoming[key], remoteHash) {
				item.preview = len(decision.Preview)
				decision.Preview = append(decision.Preview, types.DriftPreviewItem{
					Kind: kind, Change: change, Key: key, PeerID: peer.Peer.PeerID, Trusted: true,
				})
			}
			incoming[key] = append(incoming[key], item)
		}
	}

	var candidates []reconcileCandidate
	for _, key := range sortedKeys(incoming) {
		offers := incoming[key]
		if distinctHashes(offers) == 1 {
			candidates = append(candidates, offers[0])
			continue
		}
		for _, offer := range offers {
			if offer.preview >= 0 {
				decision.Preview[offer.preview].Conflict = true
			}
			if markConflict(conflictSeen, key, offer.remoteHash) {
				decision.Conflicts = append(decision.Conflicts, newSyncConflict(input, key, offer.change.Kind, offer.peerID,
					offer.local, offer.hasLocal, offer.theirs, offer.hasRemote))
			}
		}
	}

	decision.TrustedChanges = len(candidates)
	selected := map[string]struct{}{}
	for _, key := range input.SelectedKeys {
		selected[key] = struct{}{}
	}
	explicit := len(selected) > 0
	decision.GuardrailPaused = policies.GuardrailExceeded(len(candidates), input.MaxAutoChanges, explicit)

	for _, item := range candidates {
		_, picked := selected[item.change.Key]
		switch {
		case decision.GuardrailPaused:
			decision.Actions = append(decision.Actions, types.ReconcileAction{
				Kind: item.change.Kind, Change: item.change.Change, Key: item.change.Key, PeerID: item.change.PeerID,
				Message: fmt.Sprintf("Paused: %d incoming changes exceed the auto-apply limit of %d.",
					len(candidates), policies.NormalizeMaxAutoChanges(input.MaxAutoChanges)),
			})
		case explicit && !picked:
			decision.Actions = append(decision.Actions, types.ReconcileAction{
				Kind: item.change.Kind, Change: item.change.Change, Key: item.change.Key, PeerID: item.change.PeerID,
				Message: "Not selected for this pass.",
			})
		default:
			decision.Accepted = append(decision.Accepted, item.change)
			decision.Actions = append(decision.Actions, types.ReconcileAction{
				Kind: item.change.Kind, Change: item.change.Change, Key: item.change.Key, PeerID: item.change.PeerID,
				Applied: true,
				Message: fmt.Sprintf("Applied %s %s from %s", kindLabel(item.change.Kind), item.change.Change, item.name),
			})
		}
	}

	sort.SliceStable(decision.Preview, func(i, j int) bool { return decision.Preview[i].Key < decision.Preview[j].Key })
	return decision
}

// ApplyAccepted folds accepted changes into the lock entries and returns
// the lock entries to persist plus the config files to write.
func ApplyAccepted(allLock []types.LockEntry, accepted []AcceptedChange) ([]types.LockEntry, []types.ConfigFileState) {
	lock := map[string]types.LockEntry{}
	for _, entry := range allLock {
		lock[LockSyncKey(entry)] = entry
	}
	var configs []types.ConfigFileState
	for _, change := range accepted {
		switch change.Kind {
		case types.SyncItemLockEntry:
			if change.Lock == nil {
				delete(lock, change.Key)
				continue
			}
			lock[change.Key] = *change.Lock
		case types.SyncItemConfigFile:
			if change.Config != nil {
				configs = append(configs, *change.Config)
			}
		}
	}
	out := make([]types.LockEntry, 0, len(lock))
	for _, key := range sortedKeys(lock) {
		out = append(out, lock[key])
	}
	return out, configs
}

// SummarizePreview counts preview items by change kind.
func SummarizePreview(instanceID string, items []types.DriftPreviewItem, offline int) types.FriendLinkDriftPreview {
	preview := types.FriendLinkDriftPreview{
		InstanceID:   instanceID,
		Items:        append([]types.DriftPreviewItem{}, items...),
		OfflinePeers: offline,
	}
	for _, item := range items {
		switch item.Change {
		case types.ChangeAdded:
			preview.Added++
		case types.ChangeRemoved:
			preview.Removed++
		case types.ChangeChanged:
			preview.Changed++
		}
	}
	preview.TotalChanges = len(items)
	return preview
}

// reconcileCandidate is one trusted peer's offer for an identity that only
// changed remotely.
type reconcileCandidate struct {
	change     AcceptedChange
	name       string
	peerID     string
	remoteHash string
	local      SyncItem
	hasLocal   bool
	theirs     SyncItem
	hasRemote  bool
	preview    int
}

func sameHashOffered(offers []reconcileCandidate, hash string) bool {
	for _, offer := range offers {
		if offer.remoteHash == hash {
			return true
		}
	}
	return false
}

func distinctHashes(offers []reconcileCandidate) int {
	seen := map[string]struct{}{}
	for _, offer := range offers {
		seen[offer.remoteHash] = struct{}{}
	}
	return len(seen)
}

// markConflict reports whether key has not yet been reported with hash.
func markConflict(seen map[string]struct{}, key string, hash string) bool {
	dedupe := key + "|" + hash
	if _, ok := seen[dedupe]; ok {
		return false
	}
	seen[dedupe] = struct{}{}
	return true
}

func filterTracked(state types.SyncState, toggles types.SyncToggles) types.SyncState {
	out := types.SyncState{StateHash: state.StateHash, ConfigFiles: state.ConfigFiles}
	for _, entry := range state.LockEntries {
		if toggles.Tracks(entry.ContentType) {
			out.LockEntries = append(out.LockEntries, entry)
		}
	}
	return out
}

func unionKeys(a map[string]SyncItem, b map[string]SyncItem) []string {
	set := map[string]struct{}{}
	for key := range a {
		set[key] = struct{}{}
	}
	for key := range b {
		set[key] = struct{}{}
	}
	return sortedKeys(set)
}

func changeKind(hasLocal bool, hasRemote bool) types.ChangeKind {
	switch {
	case !hasLocal:
		return types.ChangeAdded
	case !hasRemote:
		return types.ChangeRemoved
	default:
		return types.ChangeChanged
	}
}

func blockedAction(kind types.SyncItemKind, change types.ChangeKind, key string, peer types.FriendPeer) types.ReconcileAction {
	return types.ReconcileAction{
		Kind:    kind,
		Change:  change,
		Key:     key,
		PeerID:  peer.PeerID,
		Message: fmt.Sprintf("Blocked: peer '%s' is not trusted.", displayPeer(peer)),
	}
}

func newSyncConflict(input ReconcileInput, key string, kind types.SyncItemKind, peerID string, local SyncItem, hasLocal bool, theirs SyncItem, hasRemote bool) types.FriendSyncConflict {
	conflict := types.FriendSyncConflict{
		Kind:       kind,
		Key:        key,
		PeerID:     peerID,
		MineHash:   absentHash,
		TheirsHash: absentHash,
		CreatedAt:  input.Now.UTC(),
	}
	if input.NewConflictID != nil {
		conflict.ID = input.NewConflictID()
	}
	if hasLocal {
		conflict.MineHash = local.Hash
		conflict.MinePreview = local.Preview()
	}
	if hasRemote {
		conflict.TheirsHash = theirs.Hash
		conflict.TheirsPreview = theirs.Preview()
		conflict.TheirsLock = theirs.Lock
		conflict.TheirsConfig = theirs.Config
	}
	return conflict
}

func displayPeer(peer types.FriendPeer) string {
	if peer.DisplayName != "" {
		return peer.DisplayName
	}
	return peer.PeerID
}

func kindLabel(kind types.SyncItemKind) string {
	if kind == types.SyncItemConfigFile {
		return "config file"
	}
	return "lock entry"
}
