package ports

import (
	"context"

	"packlink/internal/types"
)

// InstanceStoragePort exposes the lockfile and content folders of an
// instance. Every write is atomic per file.
type InstanceStoragePort interface {
	ReadLockfile(ctx context.Context, instanceID string) (types.Lockfile, error)
	WriteLockfile(ctx context.Context, instanceID string, lock types.Lockfile) error
	InstallEntry(ctx context.Context, instanceID string, entry types.LockEntry, content []byte) error
	RemoveEntry(ctx context.Context, instanceID string, entry types.LockEntry) error
	SetEnabled(ctx context.Context, instanceID string, entry types.LockEntry, enabled bool) error
	EntryFileMissing(ctx context.Context, instanceID string, entry types.LockEntry) (bool, error)
	ReadEntryFile(ctx context.Context, instanceID string, entry types.LockEntry) ([]byte, error)
	ListConfigFiles(ctx context.Context, instanceID string) ([]string, error)
	ReadConfigFile(ctx context.Context, instanceID string, relPath string) (types.ConfigFileState, error)
	WriteConfigFile(ctx context.Context, instanceID string, relPath string, content string) error
}

// SnapshotPort captures and restores content snapshots covering mods,
// resourcepacks, shaderpacks, per-world datapacks and the lockfile.
type SnapshotPort interface {
	CreateSnapshot(ctx context.Context, instanceID string, reason string) (types.InstanceSnapshot, error)
	RestoreSnapshot(ctx context.Context, instanceID string, snapshotID string) (int, error)
	ListSnapshots(ctx context.Context, instanceID string) ([]types.InstanceSnapshot, error)
	DeleteSnapshot(ctx context.Context, instanceID string, snapshotID string) error
}

// ProcessStatePort reports whether the game process of an instance runs.
type ProcessStatePort interface {
	IsRunning(ctx context.Context, instanceID string) (bool, error)
}

// InstanceLockPort claims an instance for one mutating operation across
// processes. It fails fast with CodeAlreadyExists while another holder
// runs; the returned func releases the claim.
type InstanceLockPort interface {
	TryLock(ctx context.Context, instanceID string, operation string) (func() error, error)
}
