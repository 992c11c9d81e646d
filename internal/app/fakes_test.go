package app

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/stretchr/testify/require"

	"packlink/internal/adapters"
	"packlink/internal/ports"
	"packlink/internal/types"
)

var testStart = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

var testTarget = types.InstanceTarget{InstanceID: "inst-1", MinecraftVersion: "1.20.1", Loader: "fabric"}

// stepClock advances one second per reading so stamps and snapshot ids
// stay ordered.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type memoryState struct {
	mu        sync.Mutex
	linkErr   error
	plans     map[string]types.ResolutionPlan
	snapshots map[string]types.LockSnapshot
	links     map[string]types.InstanceLinkState
	sessions  map[string]types.FriendLinkSession
}

var _ ports.StateStorePort = (*memoryState)(nil)

func newMemoryState() *memoryState {
	return &memoryState{
		plans:     map[string]types.ResolutionPlan{},
		snapshots: map[string]types.LockSnapshot{},
		links:     map[string]types.InstanceLinkState{},
		sessions:  map[string]types.FriendLinkSession{},
	}
}

func notFound(msg string) error {
	return errbuilder.New().WithCode(errbuilder.CodeNotFound).WithMsg(msg)
}

func (m *memoryState) SavePlan(_ context.Context, plan types.ResolutionPlan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans[plan.ID] = plan
	return nil
}

func (m *memoryState) LoadPlan(_ context.Context, id string) (types.ResolutionPlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	plan, ok := m.plans[id]
	if !ok {
		return types.ResolutionPlan{}, notFound("plan not found: " + id)
	}
	return plan, nil
}

func (m *memoryState) SaveLockSnapshot(_ context.Context, snapshot types.LockSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[snapshot.ID] = snapshot
	return nil
}

func (m *memoryState) LoadLockSnapshot(_ context.Context, id string) (types.LockSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot, ok := m.snapshots[id]
	if !ok {
		return types.LockSnapshot{}, notFound("lock snapshot not found: " + id)
	}
	return snapshot, nil
}

func (m *memoryState) ListLockSnapshots(_ context.Context, instanceID string) ([]types.LockSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.LockSnapshot
	for _, snapshot := range m.snapshots {
		if snapshot.InstanceID == instanceID {
			out = append(out, snapshot)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memoryState) DeleteLockSnapshot(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snapshots, id)
	return nil
}

func (m *memoryState) SaveLink(_ context.Context, link types.InstanceLinkState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.linkErr != nil {
		return m.linkErr
	}
	m.links[link.InstanceID] = link
	return nil
}

func (m *memoryState) LoadLink(_ context.Context, instanceID string) (types.InstanceLinkState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	link, ok := m.links[instanceID]
	return link, ok, nil
}

func (m *memoryState) SaveSession(_ context.Context, session types.FriendLinkSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.InstanceID] = session
	return nil
}

func (m *memoryState) LoadSession(_ context.Context, instanceID string) (types.FriendLinkSession, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[instanceID]
	return session, ok, nil
}

func (m *memoryState) FindSessionByGroup(_ context.Context, groupID string) (types.FriendLinkSession, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, session := range m.sessions {
		if session.GroupID == groupID {
			return session, true, nil
		}
	}
	return types.FriendLinkSession{}, false, nil
}

func (m *memoryState) DeleteSession(_ context.Context, instanceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[instanceID]; !ok {
		return notFound("session not found: " + instanceID)
	}
	delete(m.sessions, instanceID)
	return nil
}

func (m *memoryState) lockSnapshotCount(instanceID string) int {
	snapshots, _ := m.ListLockSnapshots(context.Background(), instanceID)
	return len(snapshots)
}

type fakeProvider struct {
	versions map[string][]types.ProviderVersion
}

func (f *fakeProvider) ListVersions(_ context.Context, _ types.Provider, projectID string, _ types.VersionQuery) ([]types.ProviderVersion, error) {
	versions, ok := f.versions[projectID]
	if !ok {
		return nil, notFound("project not found: " + projectID)
	}
	return versions, nil
}

func (f *fakeProvider) Dependencies(context.Context, types.Provider, string) ([]string, error) {
	return nil, nil
}

func release(id string, number string, loaders ...string) types.ProviderVersion {
	return types.ProviderVersion{
		VersionID:     id,
		VersionNumber: number,
		Name:          id,
		Filename:      id + ".jar",
		DownloadURL:   "https://cdn.example.test/" + id + ".jar",
		GameVersions:  []string{"1.20.1"},
		Loaders:       loaders,
		Channel:       "release",
	}
}

// fakeContent serves "bytes:<url>" for every url unless it is marked as
// failing.
type fakeContent struct {
	mu        sync.Mutex
	failing   map[string]bool
	downloads int
}

func (f *fakeContent) Download(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads++
	if f.failing[url] {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("download failed: " + url)
	}
	return []byte("bytes:" + url), nil
}

func (f *fakeContent) fail(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing == nil {
		f.failing = map[string]bool{}
	}
	f.failing[url] = true
}

func (f *fakeContent) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.downloads
}

type fakeProcess struct {
	running map[string]bool
}

func (f fakeProcess) IsRunning(_ context.Context, instanceID string) (bool, error) {
	return f.running[instanceID], nil
}

// peerNetwork routes transport calls straight into the handler registered
// for an endpoint.
type peerNetwork struct {
	mu       sync.Mutex
	handlers map[string]ports.PeerHandler
	offline  map[string]bool
}

var _ ports.PeerTransportPort = (*peerNetwork)(nil)

func newPeerNetwork() *peerNetwork {
	return &peerNetwork{handlers: map[string]ports.PeerHandler{}, offline: map[string]bool{}}
}

func (n *peerNetwork) register(endpoint string, handler ports.PeerHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[endpoint] = handler
}

func (n *peerNetwork) setOffline(endpoint string, offline bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.offline[endpoint] = offline
}

func (n *peerNetwork) handler(endpoint string) (ports.PeerHandler, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	handler, ok := n.handlers[endpoint]
	if !ok || n.offline[endpoint] {
		return nil, fmt.Errorf("dial %s: connection refused", endpoint)
	}
	return handler, nil
}

func (n *peerNetwork) Hello(ctx context.Context, session types.FriendLinkSession, endpoint string, hello types.HelloPayload) (types.HelloAck, error) {
	handler, err := n.handler(endpoint)
	if err != nil {
		return types.HelloAck{}, err
	}
	return handler.HandleHello(ctx, session.GroupID, hello)
}

func (n *peerNetwork) FetchState(ctx context.Context, session types.FriendLinkSession, endpoint string) (types.PeerState, error) {
	handler, err := n.handler(endpoint)
	if err != nil {
		return types.PeerState{}, err
	}
	return handler.HandleState(ctx, session.GroupID)
}

func (n *peerNetwork) FetchFile(ctx context.Context, session types.FriendLinkSession, endpoint string, key string) (types.FileTransfer, error) {
	handler, err := n.handler(endpoint)
	if err != nil {
		return types.FileTransfer{}, err
	}
	return handler.HandleFile(ctx, session.GroupID, key)
}

type testEnv struct {
	svc       Service
	root      string
	clock     *stepClock
	state     *memoryState
	provider  *fakeProvider
	content   *fakeContent
	instances adapters.InstanceFileStorage
}

// newTestEnv builds a service over real file adapters in a temp dir. name
// prefixes generated ids so several environments can share a peer network.
func newTestEnv(t *testing.T, name string, network *peerNetwork) *testEnv {
	t.Helper()
	root := t.TempDir()
	clock := &stepClock{now: testStart}
	state := newMemoryState()
	provider := &fakeProvider{versions: map[string][]types.ProviderVersion{}}
	content := &fakeContent{}
	instances := adapters.NewInstanceFileStorage(filepath.Join(root, "instances"))
	snapshots := adapters.NewContentSnapshotStore(filepath.Join(root, "instances"))
	snapshots.Clock = clock.Now

	wired := ServicePorts{
		Specs:     adapters.NewSpecFileStore(filepath.Join(root, "specs")),
		State:     state,
		Instances: instances,
		Snapshots: snapshots,
		Process:   fakeProcess{running: map[string]bool{}},
		Provider:  provider,
		Content:   content,
		Locks:     adapters.NewInstanceLockFile(filepath.Join(root, "instances")),
	}
	if network != nil {
		wired.Peers = network
	}
	svc := NewServiceWithPorts(wired)
	svc.Clock = clock.Now
	var mu sync.Mutex
	next := 0
	svc.NewID = func() string {
		mu.Lock()
		defer mu.Unlock()
		next++
		return fmt.Sprintf("%s%04d", name, next)
	}
	svc.DataDir = root
	svc.ResolveWorkers = 1
	if network != nil {
		svc.PeerEndpoint = "http://" + name + ".test:7070"
		network.register(svc.PeerEndpoint, svc.PeerHandler())
	}
	return &testEnv{
		svc:       svc,
		root:      root,
		clock:     clock,
		state:     state,
		provider:  provider,
		content:   content,
		instances: instances,
	}
}

// createSpec stores a spec whose template layer holds entries.
func (e *testEnv) createSpec(t *testing.T, id string, entries ...types.Entry) types.ModpackSpec {
	t.Helper()
	ctx := t.Context()
	spec, err := e.svc.CreateSpec(ctx, CreateSpecRequest{ID: id, Name: "Test Pack"})
	require.NoError(t, err)
	spec, err = e.svc.SetLayerEntries(ctx, SetLayerEntriesRequest{
		SpecID:  id,
		LayerID: types.LayerTemplateID,
		Delta:   types.EntriesDelta{Add: entries},
	})
	require.NoError(t, err)
	return spec
}

func (e *testEnv) resolve(t *testing.T, specID string) types.ResolutionPlan {
	t.Helper()
	plan, err := e.svc.Resolve(t.Context(), ResolveRequest{SpecID: specID, Target: testTarget})
	require.NoError(t, err)
	return plan
}

func (e *testEnv) applySpec(t *testing.T, specID string) types.ModpackApplyResult {
	t.Helper()
	plan := e.resolve(t, specID)
	result, err := e.svc.ApplyPlan(t.Context(), ApplyRequest{PlanID: plan.ID})
	require.NoError(t, err)
	return result
}

func (e *testEnv) contentPath(instanceID string, contentType types.ContentType, filename string) string {
	return filepath.Join(e.instances.Root, instanceID, string(contentType), filename)
}

// installLocal writes a lock entry and its file without going through a
// plan, the way a player adding a mod by hand would.
func (e *testEnv) installLocal(t *testing.T, instanceID string, entries ...types.LockEntry) {
	t.Helper()
	ctx := t.Context()
	lock, err := e.instances.ReadLockfile(ctx, instanceID)
	require.NoError(t, err)
	for _, entry := range entries {
		require.NoError(t, e.instances.InstallEntry(ctx, instanceID, entry, []byte("bytes:"+entry.VersionID)))
		replaced := false
		for i := range lock.Entries {
			if lock.Entries[i].Key() == entry.Key() {
				lock.Entries[i] = entry
				replaced = true
			}
		}
		if !replaced {
			lock.Entries = append(lock.Entries, entry)
		}
	}
	lock.Version = types.LockfileVersion
	require.NoError(t, e.instances.WriteLockfile(ctx, instanceID, lock))
}

func mod(projectID string) types.Entry {
	return types.Entry{Provider: types.ProviderModrinth, ContentType: string(types.ContentTypeMods), ProjectID: projectID}
}

func pinned(projectID string, pin string) types.Entry {
	entry := mod(projectID)
	entry.Pin = pin
	return entry
}

func lockMod(projectID string, versionID string) types.LockEntry {
	return types.LockEntry{
		Source:        types.ProviderModrinth,
		ProjectID:     projectID,
		VersionID:     versionID,
		Name:          projectID,
		VersionNumber: versionID,
		Filename:      versionID + ".jar",
		ContentType:   string(types.ContentTypeMods),
		TargetScope:   types.TargetScopeInstance,
		Enabled:       true,
	}
}
