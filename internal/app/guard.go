package app

import (
	"context"
	"sync"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"packlink/internal/ports"
)

// instanceGuard allows one mutating operation per instance at a time.
// Callers fail fast instead of queueing. The busy map answers contention
// inside this process; locks extends the claim to other processes sharing
// the instances directory. sessions serializes friend-link session
// read-modify-write cycles, which also arrive from the listener.
type instanceGuard struct {
	mu       sync.Mutex
	busy     map[string]string
	locks    ports.InstanceLockPort
	sessions sync.Mutex
}

func newInstanceGuard(locks ports.InstanceLockPort) *instanceGuard {
	return &instanceGuard{busy: map[string]string{}, locks: locks}
}

func (g *instanceGuard) acquire(ctx context.Context, instanceID string, operation string) (func(), error) {
	if g == nil {
		return nil, errUninitializedService()
	}
	if err := g.claim(instanceID, operation); err != nil {
		return nil, err
	}
	if g.locks == nil {
		return func() { g.drop(instanceID) }, nil
	}
	unlock, err := g.locks.TryLock(ctx, instanceID, operation)
	if err != nil {
		g.drop(instanceID)
		return nil, err
	}
	return func() {
		if err := unlock(); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("instance_id", instanceID).Msg("failed to release instance lock")
		}
		g.drop(instanceID)
	}, nil
}

func (g *instanceGuard) claim(instanceID string, operation string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if running, ok := g.busy[instanceID]; ok {
		return errbuilder.New().
			WithCode(errbuilder.CodeAlreadyExists).
			WithMsg("instance busy: " + instanceID + " is running " + running)
	}
	g.busy[instanceID] = operation
	return nil
}

func (g *instanceGuard) drop(instanceID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.busy, instanceID)
}

// lockSessions serializes session read-modify-write cycles.
func (g *instanceGuard) lockSessions() (func(), error) {
	if g == nil {
		return nil, errUninitializedService()
	}
	g.sessions.Lock()
	return g.sessions.Unlock, nil
}

func errUninitializedService() error {
	return errbuilder.New().
		WithCode(errbuilder.CodeFailedPrecondition).
		WithMsg("service is not initialized: build it with NewService or NewServiceWithPorts")
}

// holder names the operation holding instanceID in this process.
func (g *instanceGuard) holder(instanceID string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.busy[instanceID]
}
