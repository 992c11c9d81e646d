package adapters

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"packlink/internal/ports"
	"packlink/internal/shared"
	"packlink/internal/types"
)

const (
	snapshotsDirName = "snapshots"
	snapshotMetaName = "meta.yaml"
)

// ContentSnapshotStore copies instance content into
// <instance>/.packlink/snapshots/<snapshot id>/ and restores it as a unit.
type ContentSnapshotStore struct {
	Root  string
	Clock func() time.Time
}

func NewContentSnapshotStore(root string) ContentSnapshotStore {
	return ContentSnapshotStore{Root: root, Clock: time.Now}
}

func (s ContentSnapshotStore) CreateSnapshot(ctx context.Context, instanceID string, reason string) (types.InstanceSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return types.InstanceSnapshot{}, err
	}
	root, err := s.instanceDir(instanceID)
	if err != nil {
		return types.InstanceSnapshot{}, err
	}
	snapshot := types.InstanceSnapshot{
		ID:         "snap_" + uuid.NewString(),
		InstanceID: instanceID,
		Reason:     reason,
		CreatedAt:  s.now(),
	}
	dir := filepath.Join(root, stateDirName, snapshotsDirName, snapshot.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return types.InstanceSnapshot{}, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to create snapshot directory").
			WithCause(err)
	}
	rels, err := snapshotContent(root)
	if err != nil {
		_ = os.RemoveAll(dir)
		return types.InstanceSnapshot{}, err
	}
	for _, rel := range rels {
		count, err := copyTree(filepath.Join(root, rel), filepath.Join(dir, rel))
		if err != nil {
			_ = os.RemoveAll(dir)
			return types.InstanceSnapshot{}, errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg("failed to copy instance content").
				WithCause(err)
		}
		snapshot.Files += count
	}
	meta, err := yaml.Marshal(snapshot)
	if err == nil {
		err = shared.AtomicWriteFile(filepath.Join(dir, snapshotMetaName), meta, 0o644)
	}
	if err != nil {
		_ = os.RemoveAll(dir)
		return types.InstanceSnapshot{}, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to write snapshot metadata").
			WithCause(err)
	}
	log.Ctx(ctx).Debug().
		Str("instance_id", instanceID).
		Str("snapshot_id", snapshot.ID).
		Int("files", snapshot.Files).
		Msg("content snapshot created")
	return snapshot, nil
}

// RestoreSnapshot replaces the instance content with the snapshot copy and
// returns the number of restored files. Content absent from the snapshot is
// removed.
func (s ContentSnapshotStore) RestoreSnapshot(ctx context.Context, instanceID string, snapshotID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	root, err := s.instanceDir(instanceID)
	if err != nil {
		return 0, err
	}
	dir, err := s.snapshotDir(root, snapshotID)
	if err != nil {
		return 0, err
	}
	current, err := snapshotContent(root)
	if err != nil {
		return 0, err
	}
	for _, rel := range current {
		if err := os.RemoveAll(filepath.Join(root, rel)); err != nil {
			return 0, errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg("failed to clear instance content").
				WithCause(err)
		}
	}
	saved, err := snapshotContent(dir)
	if err != nil {
		return 0, err
	}
	restored := 0
	for _, rel := range saved {
		count, err := copyTree(filepath.Join(dir, rel), filepath.Join(root, rel))
		if err != nil {
			return restored, errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg("failed to restore instance content").
				WithCause(err)
		}
		restored += count
	}
	log.Ctx(ctx).Info().
		Str("instance_id", instanceID).
		Str("snapshot_id", snapshotID).
		Int("files", restored).
		Msg("content snapshot restored")
	return restored, nil
}

// ListSnapshots returns the snapshots of an instance, newest first.
func (s ContentSnapshotStore) ListSnapshots(ctx context.Context, instanceID string) ([]types.InstanceSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	root, err := s.instanceDir(instanceID)
	if err != nil {
		return nil, err
	}
	base := filepath.Join(root, stateDirName, snapshotsDirName)
	entries, err := os.ReadDir(base)
	if err != nil {
		if os.IsNotExist(err) {
			return []types.InstanceSnapshot{}, nil
		}
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to read snapshots directory").
			WithCause(err)
	}
	snapshots := []types.InstanceSnapshot{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(base, entry.Name(), snapshotMetaName))
		if err != nil {
			continue
		}
		var snapshot types.InstanceSnapshot
		if err := yaml.Unmarshal(data, &snapshot); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("snapshot_id", entry.Name()).Msg("skipping unreadable snapshot")
			continue
		}
		snapshots = append(snapshots, snapshot)
	}
	sort.SliceStable(snapshots, func(i, j int) bool {
		if !snapshots[i].CreatedAt.Equal(snapshots[j].CreatedAt) {
			return snapshots[i].CreatedAt.After(snapshots[j].CreatedAt)
		}
		return snapshots[i].ID > snapshots[j].ID
	})
	return snapshots, nil
}

func (s ContentSnapshotStore) DeleteSnapshot(ctx context.Context, instanceID string, snapshotID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	root, err := s.instanceDir(instanceID)
	if err != nil {
		return err
	}
	dir, err := s.snapshotDir(root, snapshotID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to delete snapshot").
			WithCause(err)
	}
	return nil
}

func (s ContentSnapshotStore) now() time.Time {
	if s.Clock == nil {
		return time.Now().UTC()
	}
	return s.Clock().UTC()
}

func (s ContentSnapshotStore) instanceDir(instanceID string) (string, error) {
	return InstanceFileStorage{Root: s.Root}.instanceDir(instanceID)
}

func (s ContentSnapshotStore) snapshotDir(root string, snapshotID string) (string, error) {
	if err := shared.ValidateIdentifier(snapshotID); err != nil {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("invalid snapshot id").
			WithCause(err)
	}
	dir := filepath.Join(root, stateDirName, snapshotsDirName, snapshotID)
	if ok, _ := shared.FileExists(filepath.Join(dir, snapshotMetaName)); !ok {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg(fmt.Sprintf("snapshot not found: %s", snapshotID))
	}
	return dir, nil
}

// snapshotContent lists the content paths present under root, relative to
// it: the lockfile, content folders and every world's datapacks folder.
func snapshotContent(root string) ([]string, error) {
	candidates := []string{lockfileName}
	for _, contentType := range types.AllContentTypes {
		candidates = append(candidates, string(contentType))
	}
	worlds, err := os.ReadDir(filepath.Join(root, savesDirName))
	if err != nil && !os.IsNotExist(err) {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to read worlds").
			WithCause(err)
	}
	for _, world := range worlds {
		if world.IsDir() {
			candidates = append(candidates, filepath.Join(savesDirName, world.Name(), datapacksName))
		}
	}
	var present []string
	for _, rel := range candidates {
		ok, err := shared.FileExists(filepath.Join(root, rel))
		if err != nil {
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg("failed to stat instance content").
				WithCause(err)
		}
		if ok {
			present = append(present, rel)
		}
	}
	return present, nil
}

// copyTree copies a file or directory and returns the number of files copied.
func copyTree(src string, dst string) (int, error) {
	info, err := os.Stat(src)
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		return 1, copyFile(src, dst, info.Mode())
	}
	count := 0
	err = filepath.WalkDir(src, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if strings.HasPrefix(d.Name(), ".packlink-tmp-") {
			return nil
		}
		fileInfo, err := d.Info()
		if err != nil {
			return err
		}
		count++
		return copyFile(path, target, fileInfo.Mode())
	})
	return count, err
}

func copyFile(src string, dst string, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode.Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

var _ ports.SnapshotPort = ContentSnapshotStore{}
