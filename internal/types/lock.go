package types

import (
	"fmt"
	"strings"
	"time"
)

const LockfileVersion = 2

type LockEntry struct {
	Source        Provider          `json:"source" yaml:"source"`
	ProjectID     string            `json:"project_id" yaml:"project_id"`
	VersionID     string            `json:"version_id" yaml:"version_id"`
	Name          string            `json:"name" yaml:"name"`
	VersionNumber string            `json:"version_number" yaml:"version_number"`
	Filename      string            `json:"filename" yaml:"filename"`
	ContentType   string            `json:"content_type" yaml:"content_type"`
	TargetScope   TargetScope       `json:"target_scope" yaml:"target_scope"`
	TargetWorlds  []string          `json:"target_worlds,omitempty" yaml:"target_worlds,omitempty"`
	Enabled       bool              `json:"enabled" yaml:"enabled"`
	Hashes        map[string]string `json:"hashes,omitempty" yaml:"hashes,omitempty"`
}

// Key returns the entry identity shared with spec entries.
func (e LockEntry) Key() string {
	return MakeEntryKey(e.Source, e.ContentType, e.ProjectID)
}

// DiskFilename is the on-disk name, with the .disabled suffix for disabled entries.
func (e LockEntry) DiskFilename() string {
	if e.Enabled {
		return e.Filename
	}
	return e.Filename + ".disabled"
}

type Lockfile struct {
	Version int         `json:"version"`
	Entries []LockEntry `json:"entries"`
}

type LinkMode string

const (
	LinkModeLinked   LinkMode = "linked"
	LinkModeUnlinked LinkMode = "unlinked"
)

// NormalizeLinkMode maps "unlinked" and "one_time" to unlinked; everything
// else links.
func NormalizeLinkMode(value string) LinkMode {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "unlinked", "one_time":
		return LinkModeUnlinked
	default:
		return LinkModeLinked
	}
}

type LockSnapshot struct {
	ID                 string      `json:"id"`
	InstanceID         string      `json:"instance_id"`
	PlanID             string      `json:"plan_id,omitempty"`
	InstanceSnapshotID string      `json:"instance_snapshot_id"`
	Reason             string      `json:"reason"`
	CreatedAt          time.Time   `json:"created_at"`
	Entries            []LockEntry `json:"entries"`
}

func NewLockSnapshotID(now time.Time) string {
	return fmt.Sprintf("locksnap_%d", now.UnixMilli())
}

type InstanceSnapshot struct {
	ID         string    `json:"id" yaml:"id"`
	InstanceID string    `json:"instance_id" yaml:"instance_id"`
	Reason     string    `json:"reason" yaml:"reason"`
	CreatedAt  time.Time `json:"created_at" yaml:"created_at"`
	Files      int       `json:"files" yaml:"files"`
}

type InstanceLinkState struct {
	InstanceID          string          `json:"instance_id"`
	Mode                LinkMode        `json:"mode"`
	ModpackID           string          `json:"modpack_id"`
	ProfileID           string          `json:"profile_id,omitempty"`
	LastPlanID          string          `json:"last_plan_id,omitempty"`
	LastLockSnapshotID  string          `json:"last_lock_snapshot_id,omitempty"`
	LastAppliedAt       *time.Time      `json:"last_applied_at,omitempty"`
	LastConfidenceLabel ConfidenceLabel `json:"last_confidence_label,omitempty"`
}

type ApplyState string

const (
	ApplyStateIdle         ApplyState = "idle"
	ApplyStateSnapshotting ApplyState = "snapshotting"
	ApplyStateWriting      ApplyState = "writing"
	ApplyStateFinalizing   ApplyState = "finalizing"
	ApplyStateFailed       ApplyState = "failed"
)

type ApplyFailure struct {
	Key      string `json:"key"`
	Name     string `json:"name"`
	Required bool   `json:"required"`
	Message  string `json:"message"`
}

type ModpackApplyResult struct {
	Message        string         `json:"message"`
	InstanceID     string         `json:"instance_id"`
	AppliedEntries int            `json:"applied_entries"`
	SkippedEntries int            `json:"skipped_entries"`
	FailedEntries  int            `json:"failed_entries"`
	Skipped        []string       `json:"skipped,omitempty"`
	Failures       []ApplyFailure `json:"failures,omitempty"`
	SnapshotID     string         `json:"snapshot_id"`
	PlanID         string         `json:"plan_id"`
	LockSnapshotID string         `json:"lock_snapshot_id,omitempty"`
	RolledBack     bool           `json:"rolled_back"`
	FinalState     ApplyState     `json:"final_state"`
	Warnings       []string       `json:"warnings,omitempty"`
}

type RollbackResult struct {
	InstanceID    string    `json:"instance_id"`
	SnapshotID    string    `json:"snapshot_id"`
	CreatedAt     time.Time `json:"created_at"`
	RestoredFiles int       `json:"restored_files"`
	Message       string    `json:"message"`
}

type DriftStatus string

const (
	DriftInSync     DriftStatus = "in_sync"
	DriftDrifted    DriftStatus = "drifted"
	DriftUnlinked   DriftStatus = "unlinked"
	DriftNoSnapshot DriftStatus = "no_snapshot"
)

type DriftItem struct {
	Key            string `json:"key"`
	Name           string `json:"name"`
	ExpectedID     string `json:"expected_version_id,omitempty"`
	ExpectedNumber string `json:"expected_version_number,omitempty"`
	CurrentID      string `json:"current_version_id,omitempty"`
	CurrentNumber  string `json:"current_version_number,omitempty"`
}

type DriftReport struct {
	InstanceID             string      `json:"instance_id"`
	Status                 DriftStatus `json:"status"`
	Added                  []DriftItem `json:"added"`
	Removed                []DriftItem `json:"removed"`
	VersionChanged         []DriftItem `json:"version_changed"`
	BaselineLockSnapshotID string      `json:"baseline_lock_snapshot_id,omitempty"`
	CheckedAt              time.Time   `json:"checked_at"`
}
