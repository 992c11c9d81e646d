package adapters

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"packlink/internal/ports"
)

const pidFileName = "game.pid"

// PIDFileProcessState reports an instance as running while
// <instance>/.packlink/game.pid names a live process. The launcher owns the
// file.
type PIDFileProcessState struct {
	Root string
}

func NewPIDFileProcessState(root string) PIDFileProcessState {
	return PIDFileProcessState{Root: root}
}

func (p PIDFileProcessState) IsRunning(ctx context.Context, instanceID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	dir, err := InstanceFileStorage{Root: p.Root}.instanceDir(instanceID)
	if err != nil {
		return false, err
	}
	data, err := os.ReadFile(filepath.Join(dir, stateDirName, pidFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to read pid file").
			WithCause(err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false, nil
	}
	return processAlive(pid), nil
}

// processAlive checks pid with signal 0. EPERM means the process exists
// under another user.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

var _ ports.ProcessStatePort = PIDFileProcessState{}
