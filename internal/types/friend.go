package types

import "time"

const (
	FriendLinkProtocolVersion = 1
	FriendLinkMaxPeers        = 4
	DefaultMaxAutoChanges     = 25
)

type SyncItemKind string

const (
	SyncItemLockEntry  SyncItemKind = "lock_entry"
	SyncItemConfigFile SyncItemKind = "config_file"
)

type ConfigFileState struct {
	Path       string `json:"path"`
	ModifiedAt int64  `json:"modified_at"`
	Hash       string `json:"hash"`
	Content    string `json:"content"`
}

type SyncState struct {
	StateHash   string            `json:"state_hash"`
	LockEntries []LockEntry       `json:"lock_entries"`
	ConfigFiles []ConfigFileState `json:"config_files"`
}

type ManifestEntry struct {
	Key  string       `json:"key"`
	Hash string       `json:"hash"`
	Kind SyncItemKind `json:"kind"`
}

type LastGoodSnapshot struct {
	StateHash string          `json:"state_hash"`
	Manifest  []ManifestEntry `json:"manifest"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type FriendPeer struct {
	PeerID        string     `json:"peer_id"`
	DisplayName   string     `json:"display_name"`
	Endpoint      string     `json:"endpoint"`
	AddedAt       time.Time  `json:"added_at"`
	LastSeenAt    *time.Time `json:"last_seen_at,omitempty"`
	Online        bool       `json:"online"`
	LastStateHash string     `json:"last_state_hash,omitempty"`
}

type FriendSyncConflict struct {
	ID            string           `json:"id"`
	Kind          SyncItemKind     `json:"kind"`
	Key           string           `json:"key"`
	PeerID        string           `json:"peer_id"`
	MineHash      string           `json:"mine_hash"`
	TheirsHash    string           `json:"theirs_hash"`
	MinePreview   string           `json:"mine_preview,omitempty"`
	TheirsPreview string           `json:"theirs_preview,omitempty"`
	TheirsLock    *LockEntry       `json:"theirs_lock,omitempty"`
	TheirsConfig  *ConfigFileState `json:"theirs_config,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}

type SyncToggles struct {
	Mods          bool `json:"sync_mods"`
	ResourcePacks bool `json:"sync_resourcepacks"`
	ShaderPacks   bool `json:"sync_shaderpacks"`
	DataPacks     bool `json:"sync_datapacks"`
}

func DefaultSyncToggles() SyncToggles {
	return SyncToggles{Mods: true, ResourcePacks: true, ShaderPacks: true, DataPacks: true}
}

func (t SyncToggles) Tracks(contentType string) bool {
	switch NormalizeContentType(contentType) {
	case ContentTypeMods:
		return t.Mods
	case ContentTypeResourcePacks:
		return t.ResourcePacks
	case ContentTypeShaderPacks:
		return t.ShaderPacks
	case ContentTypeDataPacks:
		return t.DataPacks
	default:
		return false
	}
}

type FriendLinkSession struct {
	InstanceID       string               `json:"instance_id"`
	GroupID          string               `json:"group_id"`
	LocalPeerID      string               `json:"local_peer_id"`
	DisplayName      string               `json:"display_name"`
	SharedSecret     string               `json:"shared_secret"`
	ProtocolVersion  int                  `json:"protocol_version"`
	ListenerURL      string               `json:"listener_endpoint,omitempty"`
	BootstrapPeerID  string               `json:"bootstrap_peer_id,omitempty"`
	Peers            []FriendPeer         `json:"peers"`
	Allowlist        []string             `json:"allowlist"`
	TrustedPeerIDs   []string             `json:"trusted_peer_ids"`
	MaxAutoChanges   int                  `json:"max_auto_changes"`
	Sync             SyncToggles          `json:"sync"`
	LastGood         *LastGoodSnapshot    `json:"last_good,omitempty"`
	PendingConflicts []FriendSyncConflict `json:"pending_conflicts"`
	LastPeerSyncAt   map[string]time.Time `json:"last_peer_sync_at,omitempty"`
}

func (s FriendLinkSession) IsTrusted(peerID string) bool {
	for _, id := range s.TrustedPeerIDs {
		if id == peerID {
			return true
		}
	}
	return false
}

type FriendLinkInvite struct {
	InviteCode            string    `json:"invite_code"`
	GroupID               string    `json:"group_id"`
	ExpiresAt             time.Time `json:"expires_at"`
	BootstrapPeerEndpoint string    `json:"bootstrap_peer_endpoint"`
	ProtocolVersion       int       `json:"protocol_version"`
}

type FriendLinkPeerStatus struct {
	PeerID      string     `json:"peer_id"`
	DisplayName string     `json:"display_name"`
	Endpoint    string     `json:"endpoint"`
	Online      bool       `json:"online"`
	Trusted     bool       `json:"trusted"`
	LastSeenAt  *time.Time `json:"last_seen_at,omitempty"`
}

type FriendLinkStatus struct {
	InstanceID            string                 `json:"instance_id"`
	Linked                bool                   `json:"linked"`
	GroupID               string                 `json:"group_id,omitempty"`
	LocalPeerID           string                 `json:"local_peer_id,omitempty"`
	DisplayName           string                 `json:"display_name,omitempty"`
	ListenerEndpoint      string                 `json:"listener_endpoint,omitempty"`
	Allowlist             []string               `json:"allowlist"`
	Peers                 []FriendLinkPeerStatus `json:"peers"`
	TrustedPeerIDs        []string               `json:"trusted_peer_ids"`
	MaxAutoChanges        int                    `json:"max_auto_changes"`
	Sync                  SyncToggles            `json:"sync"`
	PendingConflictsCount int                    `json:"pending_conflicts_count"`
	Status                string                 `json:"status"`
	LastGoodHash          string                 `json:"last_good_hash,omitempty"`
}

type ReconcileMode string

const (
	ReconcileManual    ReconcileMode = "manual"
	ReconcilePrelaunch ReconcileMode = "prelaunch"
)

type ReconcileStatus string

const (
	ReconcileInSync               ReconcileStatus = "in_sync"
	ReconcileSynced               ReconcileStatus = "synced"
	ReconcileConflicted           ReconcileStatus = "conflicted"
	ReconcileBlockedUntrusted     ReconcileStatus = "blocked_untrusted"
	ReconcilePausedGuardrail      ReconcileStatus = "paused_guardrail"
	ReconcileDegradedMissingFiles ReconcileStatus = "degraded_missing_files"
	ReconcileDegradedOfflineGood  ReconcileStatus = "degraded_offline_last_good"
	ReconcileBlockedOfflineStale  ReconcileStatus = "blocked_offline_stale"
	ReconcileError                ReconcileStatus = "error"
	ReconcileUnlinked             ReconcileStatus = "unlinked"
)

type ChangeKind string

const (
	ChangeAdded   ChangeKind = "added"
	ChangeRemoved ChangeKind = "removed"
	ChangeChanged ChangeKind = "changed"
)

type ReconcileAction struct {
	Kind    SyncItemKind `json:"kind"`
	Change  ChangeKind   `json:"change"`
	Key     string       `json:"key"`
	PeerID  string       `json:"peer_id"`
	Applied bool         `json:"applied"`
	Message string       `json:"message"`
}

type FriendLinkReconcileResult struct {
	InstanceID     string               `json:"instance_id"`
	Status         ReconcileStatus      `json:"status"`
	Mode           ReconcileMode        `json:"mode"`
	ActionsApplied int                  `json:"actions_applied"`
	ActionsPending int                  `json:"actions_pending"`
	Actions        []ReconcileAction    `json:"actions"`
	Conflicts      []FriendSyncConflict `json:"conflicts"`
	Warnings       []string             `json:"warnings"`
	BlockedReason  string               `json:"blocked_reason,omitempty"`
	LocalStateHash string               `json:"local_state_hash"`
	LastGoodHash   string               `json:"last_good_hash,omitempty"`
	OfflinePeers   int                  `json:"offline_peers"`
	SnapshotID     string               `json:"snapshot_id,omitempty"`
}

type DriftPreviewItem struct {
	Kind     SyncItemKind `json:"kind"`
	Change   ChangeKind   `json:"change"`
	Key      string       `json:"key"`
	PeerID   string       `json:"peer_id"`
	Trusted  bool         `json:"trusted"`
	Conflict bool         `json:"conflict"`
}

type FriendLinkDriftPreview struct {
	InstanceID   string             `json:"instance_id"`
	TotalChanges int                `json:"total_changes"`
	Added        int                `json:"added"`
	Removed      int                `json:"removed"`
	Changed      int                `json:"changed"`
	Items        []DriftPreviewItem `json:"items"`
	OfflinePeers int                `json:"offline_peers"`
}

type ConflictResolutionChoice string

const (
	ResolutionKeepMine   ConflictResolutionChoice = "keep_mine"
	ResolutionTakeTheirs ConflictResolutionChoice = "take_theirs"
	ResolutionSkip       ConflictResolutionChoice = "skip_for_now"
)

type ConflictResolutionItem struct {
	ConflictID string                   `json:"conflict_id"`
	Resolution ConflictResolutionChoice `json:"resolution"`
}

type ConflictResolution struct {
	KeepAllMine   bool                     `json:"keep_all_mine"`
	TakeAllTheirs bool                     `json:"take_all_theirs"`
	Items         []ConflictResolutionItem `json:"items"`
}

// Peer wire payloads.

type HelloPayload struct {
	PeerID      string `json:"peer_id"`
	DisplayName string `json:"display_name"`
	Endpoint    string `json:"endpoint"`
}

type PeerSummary struct {
	PeerID      string `json:"peer_id"`
	DisplayName string `json:"display_name"`
	Endpoint    string `json:"endpoint"`
	Online      bool   `json:"online"`
}

type HelloAck struct {
	PeerID      string        `json:"peer_id"`
	DisplayName string        `json:"display_name"`
	Endpoint    string        `json:"endpoint"`
	Peers       []PeerSummary `json:"peers"`
}

type PeerState struct {
	PeerID      string    `json:"peer_id"`
	DisplayName string    `json:"display_name"`
	State       SyncState `json:"state"`
}

type FileTransfer struct {
	Key     string `json:"key"`
	Found   bool   `json:"found"`
	SHA256  string `json:"sha256,omitempty"`
	Content []byte `json:"content,omitempty"`
	Message string `json:"message,omitempty"`
}
