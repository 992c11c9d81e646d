package adapters

import (
	"context"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"packlink/internal/ports"
	"packlink/internal/shared"
	"packlink/internal/types"
)

const (
	lockfileName  = "lock.json"
	stateDirName  = ".packlink"
	disabledExt   = ".disabled"
	savesDirName  = "saves"
	datapacksName = "datapacks"
)

// configSkipDirs are top-level instance folders never offered as config
// files.
var configSkipDirs = map[string]bool{
	stateDirName:    true,
	savesDirName:    true,
	"logs":          true,
	"crash-reports": true,
	"screenshots":   true,
	"resourcepacks": true,
	"shaderpacks":   true,
	"mods":          true,
	datapacksName:   true,
}

// InstanceFileStorage stores each instance in Root/<instance id>: the
// lockfile, content folders and per-world datapacks.
type InstanceFileStorage struct {
	Root string
}

func NewInstanceFileStorage(root string) InstanceFileStorage {
	return InstanceFileStorage{Root: root}
}

func (s InstanceFileStorage) ReadLockfile(ctx context.Context, instanceID string) (types.Lockfile, error) {
	if err := ctx.Err(); err != nil {
		return types.Lockfile{}, err
	}
	dir, err := s.instanceDir(instanceID)
	if err != nil {
		return types.Lockfile{}, err
	}
	data, err := os.ReadFile(filepath.Join(dir, lockfileName))
	if err != nil {
		if os.IsNotExist(err) {
			return types.Lockfile{Version: types.LockfileVersion, Entries: []types.LockEntry{}}, nil
		}
		return types.Lockfile{}, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to read lockfile").
			WithCause(err)
	}
	var lock types.Lockfile
	if err := json.Unmarshal(data, &lock); err != nil {
		return types.Lockfile{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("failed to parse lockfile").
			WithCause(err)
	}
	if lock.Entries == nil {
		lock.Entries = []types.LockEntry{}
	}
	return lock, nil
}

// WriteLockfile persists entries sorted by display name, then identity.
func (s InstanceFileStorage) WriteLockfile(ctx context.Context, instanceID string, lock types.Lockfile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir, err := s.instanceDir(instanceID)
	if err != nil {
		return err
	}
	entries := append([]types.LockEntry{}, lock.Entries...)
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := strings.ToLower(entries[i].Name), strings.ToLower(entries[j].Name)
		if a != b {
			return a < b
		}
		return entries[i].Key() < entries[j].Key()
	})
	out := types.Lockfile{Version: types.LockfileVersion, Entries: entries}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to encode lockfile").
			WithCause(err)
	}
	if err := shared.AtomicWriteFile(filepath.Join(dir, lockfileName), append(data, '\n'), 0o644); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to write lockfile").
			WithCause(err)
	}
	return nil
}

// InstallEntry verifies content against the entry hashes and writes it to
// every target folder under its on-disk name.
func (s InstanceFileStorage) InstallEntry(ctx context.Context, instanceID string, entry types.LockEntry, content []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := VerifyContentHash(entry.Hashes, content); err != nil {
		return err
	}
	dirs, err := s.entryDirs(instanceID, entry)
	if err != nil {
		return err
	}
	for _, dir := range dirs {
		target := filepath.Join(dir, entry.DiskFilename())
		if err := shared.AtomicWriteFile(target, content, 0o644); err != nil {
			return errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg(fmt.Sprintf("failed to write %s", entry.DiskFilename())).
				WithCause(err)
		}
		if err := removeIfExists(filepath.Join(dir, otherVariant(entry))); err != nil {
			return err
		}
	}
	return nil
}

func (s InstanceFileStorage) RemoveEntry(ctx context.Context, instanceID string, entry types.LockEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dirs, err := s.entryDirs(instanceID, entry)
	if err != nil {
		return err
	}
	for _, dir := range dirs {
		if err := removeIfExists(filepath.Join(dir, entry.Filename)); err != nil {
			return err
		}
		if err := removeIfExists(filepath.Join(dir, entry.Filename+disabledExt)); err != nil {
			return err
		}
	}
	return nil
}

// SetEnabled renames the entry file between its plain and .disabled names.
func (s InstanceFileStorage) SetEnabled(ctx context.Context, instanceID string, entry types.LockEntry, enabled bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dirs, err := s.entryDirs(instanceID, entry)
	if err != nil {
		return err
	}
	from, to := entry.Filename+disabledExt, entry.Filename
	if !enabled {
		from, to = to, from
	}
	for _, dir := range dirs {
		src, dst := filepath.Join(dir, from), filepath.Join(dir, to)
		if ok, _ := shared.FileExists(dst); ok {
			continue
		}
		if err := os.Rename(src, dst); err != nil {
			if os.IsNotExist(err) {
				return errbuilder.New().
					WithCode(errbuilder.CodeNotFound).
					WithMsg(fmt.Sprintf("entry file not found: %s", entry.Filename))
			}
			return errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg("failed to toggle entry").
				WithCause(err)
		}
	}
	return nil
}

func (s InstanceFileStorage) EntryFileMissing(ctx context.Context, instanceID string, entry types.LockEntry) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	dirs, err := s.entryDirs(instanceID, entry)
	if err != nil {
		return false, err
	}
	for _, dir := range dirs {
		ok, err := shared.FileExists(filepath.Join(dir, entry.DiskFilename()))
		if err != nil {
			return false, errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg("failed to stat entry file").
				WithCause(err)
		}
		if !ok {
			return true, nil
		}
	}
	return false, nil
}

func (s InstanceFileStorage) ReadEntryFile(ctx context.Context, instanceID string, entry types.LockEntry) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dirs, err := s.entryDirs(instanceID, entry)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dirs[0], entry.DiskFilename()))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeNotFound).
				WithMsg(fmt.Sprintf("entry file not found: %s", entry.DiskFilename()))
		}
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to read entry file").
			WithCause(err)
	}
	return data, nil
}

// ListConfigFiles lists instance-relative files outside content, world and
// log folders. Callers filter the result with the session allowlist.
func (s InstanceFileStorage) ListConfigFiles(ctx context.Context, instanceID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	root, err := s.instanceDir(instanceID)
	if err != nil {
		return nil, err
	}
	files := []string{}
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if os.IsNotExist(walkErr) && path == root {
				return filepath.SkipDir
			}
			return walkErr
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if !strings.Contains(rel, "/") && configSkipDirs[strings.ToLower(rel)] {
				return filepath.SkipDir
			}
			return nil
		}
		if rel == lockfileName || strings.HasSuffix(d.Name(), disabledExt) {
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to list config files").
			WithCause(err)
	}
	sort.Strings(files)
	return files, nil
}

func (s InstanceFileStorage) ReadConfigFile(ctx context.Context, instanceID string, relPath string) (types.ConfigFileState, error) {
	if err := ctx.Err(); err != nil {
		return types.ConfigFileState{}, err
	}
	path, clean, err := s.configPath(instanceID, relPath)
	if err != nil {
		return types.ConfigFileState{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return types.ConfigFileState{}, errbuilder.New().
				WithCode(errbuilder.CodeNotFound).
				WithMsg(fmt.Sprintf("config file not found: %s", clean))
		}
		return types.ConfigFileState{}, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to stat config file").
			WithCause(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return types.ConfigFileState{}, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to read config file").
			WithCause(err)
	}
	sum := sha256.Sum256(data)
	return types.ConfigFileState{
		Path:       clean,
		ModifiedAt: info.ModTime().UnixMilli(),
		Hash:       hex.EncodeToString(sum[:]),
		Content:    string(data),
	}, nil
}

func (s InstanceFileStorage) WriteConfigFile(ctx context.Context, instanceID string, relPath string, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, clean, err := s.configPath(instanceID, relPath)
	if err != nil {
		return err
	}
	top := strings.ToLower(strings.SplitN(clean, "/", 2)[0])
	if configSkipDirs[top] || clean == lockfileName {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("path is not a config file: %s", clean))
	}
	if err := shared.AtomicWriteFile(path, []byte(content), 0o644); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to write config file").
			WithCause(err)
	}
	return nil
}

// InstanceDir returns the root folder of an instance.
func (s InstanceFileStorage) InstanceDir(instanceID string) (string, error) {
	return s.instanceDir(instanceID)
}

func (s InstanceFileStorage) instanceDir(instanceID string) (string, error) {
	if strings.TrimSpace(s.Root) == "" {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("instances directory is empty")
	}
	if err := shared.ValidateIdentifier(instanceID); err != nil {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("invalid instance id").
			WithCause(err)
	}
	return filepath.Join(s.Root, strings.TrimSpace(instanceID)), nil
}

func (s InstanceFileStorage) configPath(instanceID string, relPath string) (string, string, error) {
	root, err := s.instanceDir(instanceID)
	if err != nil {
		return "", "", err
	}
	clean, ok := shared.CleanRelPath(relPath)
	if !ok {
		return "", "", errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("invalid config path: %q", relPath))
	}
	return filepath.Join(root, filepath.FromSlash(clean)), clean, nil
}

// entryDirs lists the folders an entry lives in. World-scoped datapacks
// live in every target world; other datapacks fall back to the instance
// datapacks folder.
func (s InstanceFileStorage) entryDirs(instanceID string, entry types.LockEntry) ([]string, error) {
	root, err := s.instanceDir(instanceID)
	if err != nil {
		return nil, err
	}
	if err := shared.ValidateIdentifier(entry.Filename); err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("invalid entry filename").
			WithCause(err)
	}
	contentType := types.NormalizeContentType(entry.ContentType)
	if contentType != types.ContentTypeDataPacks || len(entry.TargetWorlds) == 0 {
		return []string{filepath.Join(root, string(contentType))}, nil
	}
	dirs := make([]string, 0, len(entry.TargetWorlds))
	for _, world := range entry.TargetWorlds {
		if err := shared.ValidateIdentifier(world); err != nil {
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg("invalid target world").
				WithCause(err)
		}
		dirs = append(dirs, filepath.Join(root, savesDirName, world, datapacksName))
	}
	return dirs, nil
}

func otherVariant(entry types.LockEntry) string {
	if entry.Enabled {
		return entry.Filename + disabledExt
	}
	return entry.Filename
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to remove file").
			WithCause(err)
	}
	return nil
}

// VerifyContentHash checks content against the strongest known hash in
// hashes. Entries without a known hash pass.
func VerifyContentHash(hashes map[string]string, content []byte) error {
	algorithms := []struct {
		name string
		new  func() hash.Hash
	}{
		{name: "sha512", new: sha512.New},
		{name: "sha256", new: sha256.New},
		{name: "sha1", new: sha1.New},
	}
	for _, algo := range algorithms {
		want := lookupHash(hashes, algo.name)
		if want == "" {
			continue
		}
		h := algo.new()
		h.Write(content)
		got := hex.EncodeToString(h.Sum(nil))
		if !strings.EqualFold(got, want) {
			return errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("%s mismatch", algo.name)).
				WithCause(fmt.Errorf("want=%s got=%s", want, got))
		}
		return nil
	}
	return nil
}

func lookupHash(hashes map[string]string, name string) string {
	for key, value := range hashes {
		if strings.EqualFold(strings.TrimSpace(key), name) {
			return strings.Join(strings.Fields(value), "")
		}
	}
	return ""
}

var _ ports.InstanceStoragePort = InstanceFileStorage{}
