package app

import (
	"time"

	"packlink/internal/types"
)

const defaultSnapshotKeepLast = types.DefaultSnapshotKeepLast

const applySnapshotReason = "before-apply-modpack-plan"
const friendSyncSnapshotReason = "before-friend-link-sync"

type CreateSpecRequest struct {
	ID          string
	Name        string
	Description string
}

type SaveSpecRequest struct {
	Spec types.ModpackSpec
	// ExpectedUpdatedAt enables the compare-and-swap check when set.
	ExpectedUpdatedAt *time.Time
}

type SetLayerEntriesRequest struct {
	SpecID            string
	LayerID           string
	Delta             types.EntriesDelta
	ExpectedUpdatedAt *time.Time
}

type ApplySuggestionRequest struct {
	SpecID string
	// Conflict is applied as-is when set; otherwise PlanID and
	// ConflictIndex select a conflict recorded on a stored plan.
	Conflict          *types.ConflictRecord
	PlanID            string
	ConflictIndex     int
	ExpectedUpdatedAt *time.Time
}

type ApplySuggestionResult struct {
	Spec    types.ModpackSpec
	Changed bool
}

type ResolveRequest struct {
	SpecID    string
	Target    types.InstanceTarget
	ProfileID string
}

type ApplyRequest struct {
	PlanID             string
	Plan               *types.ResolutionPlan
	LinkMode           types.LinkMode
	PartialApplyUnsafe bool
}

type RollbackRequest struct {
	InstanceID string
	SnapshotID string
}

type RealignRequest struct {
	InstanceID string
	Target     types.InstanceTarget
}

type UpdateFromInstanceRequest struct {
	SpecID            string
	InstanceID        string
	ExpectedUpdatedAt *time.Time
}

type UpdateFromInstancePreview struct {
	SpecID     string        `json:"spec_id"`
	InstanceID string        `json:"instance_id"`
	Added      []types.Entry `json:"added"`
	Changed    []types.Entry `json:"changed"`
}

type PruneRequest struct {
	InstanceID string
	KeepLast   int
	KeepDays   int
	ProtectIDs []string
	DryRun     bool
}

type WatchRequest struct {
	InstanceIDs    []string
	Interval       time.Duration
	FriendSync     bool
	OnDrift        func(types.DriftReport)
	OnReconcile    func(types.FriendLinkReconcileResult)
	OnError        func(instanceID string, err error)
	DisableWatcher bool
}

type CreateSessionRequest struct {
	InstanceID  string
	DisplayName string
}

type JoinSessionRequest struct {
	InstanceID  string
	InviteCode  string
	DisplayName string
}

type SyncPolicyRequest struct {
	InstanceID     string
	MaxAutoChanges *int
	Sync           *types.SyncToggles
}

type ReconcileRequest struct {
	InstanceID   string
	Mode         types.ReconcileMode
	SelectedKeys []string
}

type ResolveConflictsRequest struct {
	InstanceID string
	Resolution types.ConflictResolution
}

// invitePayload is the decoded form of an invite code.
type invitePayload struct {
	GroupID          string    `json:"group_id"`
	BootstrapPeerID  string    `json:"bootstrap_peer_id"`
	BootstrapAddress string    `json:"bootstrap_endpoint"`
	SharedSecret     string    `json:"shared_secret"`
	ExpiresAt        time.Time `json:"expires_at"`
	ProtocolVersion  int       `json:"protocol_version"`
}

type DebugBundle struct {
	GeneratedAt time.Time                     `json:"generated_at"`
	Status      types.FriendLinkStatus        `json:"status"`
	Session     types.FriendLinkSession       `json:"session"`
	LocalState  types.SyncState               `json:"local_state"`
	Preview     *types.FriendLinkDriftPreview `json:"preview,omitempty"`
}

type ValidateRequest struct {
	Path   string
	Target types.InstanceTarget
}

type ValidateResult struct {
	SpecID    string                 `json:"spec_id"`
	Name      string                 `json:"name"`
	Layers    int                    `json:"layers"`
	Entries   int                    `json:"entries"`
	Conflicts []types.ConflictRecord `json:"conflicts"`
}

type PlanGroupSummary struct {
	ContentType string   `json:"content_type"`
	Count       int      `json:"count"`
	Entries     []string `json:"entries"`
}

type PlanInspection struct {
	PlanID           string                      `json:"plan_id"`
	ModpackID        string                      `json:"modpack_id"`
	InstanceID       string                      `json:"instance_id"`
	ConfidenceScore  int                         `json:"confidence_score"`
	ConfidenceLabel  types.ConfidenceLabel       `json:"confidence_label"`
	Groups           []PlanGroupSummary          `json:"groups"`
	FailuresByReason map[types.FailureReason]int `json:"failures_by_reason"`
	RequiredFailures int                         `json:"required_failures"`
	Conflicts        int                         `json:"conflicts"`
	Hints            []string                    `json:"hints,omitempty"`
}
