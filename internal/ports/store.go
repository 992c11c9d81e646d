package ports

import (
	"context"

	"packlink/internal/types"
)

type SpecStorePort interface {
	LoadSpec(ctx context.Context, id string) (types.ModpackSpec, error)
	SaveSpec(ctx context.Context, spec types.ModpackSpec) error
	ListSpecs(ctx context.Context) ([]types.ModpackSpec, error)
	DeleteSpec(ctx context.Context, id string) error
}

// StateStorePort persists plans, lock snapshots, link states and
// friend-link sessions.
type StateStorePort interface {
	SavePlan(ctx context.Context, plan types.ResolutionPlan) error
	LoadPlan(ctx context.Context, id string) (types.ResolutionPlan, error)

	SaveLockSnapshot(ctx context.Context, snapshot types.LockSnapshot) error
	LoadLockSnapshot(ctx context.Context, id string) (types.LockSnapshot, error)
	ListLockSnapshots(ctx context.Context, instanceID string) ([]types.LockSnapshot, error)
	DeleteLockSnapshot(ctx context.Context, id string) error

	SaveLink(ctx context.Context, link types.InstanceLinkState) error
	LoadLink(ctx context.Context, instanceID string) (types.InstanceLinkState, bool, error)

	SaveSession(ctx context.Context, session types.FriendLinkSession) error
	LoadSession(ctx context.Context, instanceID string) (types.FriendLinkSession, bool, error)
	FindSessionByGroup(ctx context.Context, groupID string) (types.FriendLinkSession, bool, error)
	DeleteSession(ctx context.Context, instanceID string) error
}
