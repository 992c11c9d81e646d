package types

const DefaultSnapshotKeepLast = 10

type SnapshotRetentionPolicy struct {
	KeepLast   int
	KeepDays   int
	ProtectIDs []string
	DryRun     bool
}

type SnapshotPrunePlan struct {
	Keep   []InstanceSnapshot
	Delete []InstanceSnapshot
}

type PruneResult struct {
	InstanceID  string   `json:"instance_id"`
	KeepCount   int      `json:"keep_count"`
	DeleteCount int      `json:"delete_count"`
	Deleted     []string `json:"deleted,omitempty"`
	DryRun      bool     `json:"dry_run"`
}
