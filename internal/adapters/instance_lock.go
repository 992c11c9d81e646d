package adapters

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"packlink/internal/ports"
)

const busyLockName = "busy.lock"

// InstanceLockFile claims an instance by creating
// <instance>/.packlink/busy.lock, which records the holder's pid and
// operation. A lock left behind by a dead process is reclaimed.
type InstanceLockFile struct {
	Root string
}

func NewInstanceLockFile(root string) InstanceLockFile {
	return InstanceLockFile{Root: root}
}

func (l InstanceLockFile) TryLock(ctx context.Context, instanceID string, operation string) (func() error, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := InstanceFileStorage{Root: l.Root}.instanceDir(instanceID)
	if err != nil {
		return nil, err
	}
	stateDir := filepath.Join(dir, stateDirName)
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, lockIOError(err)
	}
	lockPath := filepath.Join(stateDir, busyLockName)
	body := fmt.Sprintf("%d\n%s\n", os.Getpid(), operation)

	for attempt := 0; attempt < 2; attempt++ {
		err := linkLockFile(stateDir, lockPath, body)
		if err == nil {
			return func() error {
				if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
					return lockIOError(err)
				}
				return nil
			}, nil
		}
		if !os.IsExist(err) {
			return nil, lockIOError(err)
		}
		pid, holder, ok := readLockHolder(lockPath)
		if ok && processAlive(pid) {
			return nil, busyError(instanceID, holder)
		}
		log.Ctx(ctx).Warn().
			Str("instance_id", instanceID).
			Int("pid", pid).
			Msg("reclaiming stale instance lock")
		if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
			return nil, lockIOError(err)
		}
	}
	return nil, busyError(instanceID, "another operation")
}

// linkLockFile writes body to a temp file and hard-links it into place, so
// the lock never becomes visible half-written. The link fails with an
// os.IsExist error when the lock is held.
func linkLockFile(dir string, lockPath string, body string) error {
	tmp, err := os.CreateTemp(dir, ".busy-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)
	if _, err := tmp.WriteString(body); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Link(tmpPath, lockPath)
}

func readLockHolder(lockPath string) (int, string, bool) {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return 0, "", false
	}
	lines := strings.SplitN(strings.TrimSpace(string(data)), "\n", 2)
	pid, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return 0, "", false
	}
	holder := "another operation"
	if len(lines) == 2 && strings.TrimSpace(lines[1]) != "" {
		holder = strings.TrimSpace(lines[1])
	}
	return pid, holder, true
}

func busyError(instanceID string, holder string) error {
	return errbuilder.New().
		WithCode(errbuilder.CodeAlreadyExists).
		WithMsg("instance busy: " + instanceID + " is running " + holder)
}

func lockIOError(err error) error {
	return errbuilder.New().
		WithCode(errbuilder.CodeInternal).
		WithMsg("failed to manage instance lock").
		WithCause(err)
}

var _ ports.InstanceLockPort = InstanceLockFile{}
