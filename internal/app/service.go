package app

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"packlink/internal/adapters"
	"packlink/internal/core"
	"packlink/internal/ports"
)

type Service struct {
	Specs     ports.SpecStorePort
	State     ports.StateStorePort
	Instances ports.InstanceStoragePort
	Snapshots ports.SnapshotPort
	Process   ports.ProcessStatePort
	Provider  ports.ProviderPort
	Content   ports.ContentPort
	Peers     ports.PeerTransportPort
	Watcher   ports.ContentWatcherPort
	Clock     func() time.Time
	NewID     func() string

	// DataDir receives debug bundles.
	DataDir          string
	PeerEndpoint     string
	SnapshotKeepLast int
	ResolveWorkers   int

	guard *instanceGuard
}

type Config struct {
	DataDir          string
	InstancesDir     string
	CatalogPath      string
	CatalogURL       string
	HTTP             adapters.HTTPOptions
	SnapshotKeepLast int
	WatchDebounce    time.Duration
	PeerEndpoint     string
}

// NewService wires the file, sqlite and HTTP adapters. The returned close
// function releases the state store.
func NewService(cfg Config) (Service, func() error, error) {
	dataDir := strings.TrimSpace(cfg.DataDir)
	if dataDir == "" {
		dataDir = "."
	}
	instancesDir := strings.TrimSpace(cfg.InstancesDir)
	if instancesDir == "" {
		instancesDir = filepath.Join(dataDir, "instances")
	}
	state, err := adapters.NewSQLiteStateStore(filepath.Join(dataDir, "state.db"))
	if err != nil {
		return Service{}, nil, err
	}

	var provider ports.ProviderPort
	if strings.TrimSpace(cfg.CatalogURL) != "" {
		provider = adapters.NewCatalogHTTPProvider(cfg.CatalogURL, cfg.HTTP)
	} else {
		catalog := strings.TrimSpace(cfg.CatalogPath)
		if catalog == "" {
			catalog = filepath.Join(dataDir, "catalog.yaml")
		}
		provider = adapters.NewCatalogFileProvider(catalog)
	}

	svc := NewServiceWithPorts(ServicePorts{
		Specs:     adapters.NewSpecFileStore(filepath.Join(dataDir, "specs")),
		State:     state,
		Instances: adapters.NewInstanceFileStorage(instancesDir),
		Snapshots: adapters.NewContentSnapshotStore(instancesDir),
		Process:   adapters.NewPIDFileProcessState(instancesDir),
		Provider:  provider,
		Content:   adapters.NewContentDownloader(cfg.HTTP),
		Peers:     adapters.NewPeerHTTPTransport(cfg.HTTP),
		Watcher:   adapters.NewFSNotifyWatcher(instancesDir, cfg.WatchDebounce),
		Locks:     adapters.NewInstanceLockFile(instancesDir),
	})
	svc.DataDir = dataDir
	svc.PeerEndpoint = cfg.PeerEndpoint
	if cfg.SnapshotKeepLast > 0 {
		svc.SnapshotKeepLast = cfg.SnapshotKeepLast
	}
	return svc, state.Close, nil
}

type ServicePorts struct {
	Specs     ports.SpecStorePort
	State     ports.StateStorePort
	Instances ports.InstanceStoragePort
	Snapshots ports.SnapshotPort
	Process   ports.ProcessStatePort
	Provider  ports.ProviderPort
	Content   ports.ContentPort
	Peers     ports.PeerTransportPort
	Watcher   ports.ContentWatcherPort
	Locks     ports.InstanceLockPort
}

func NewServiceWithPorts(p ServicePorts) Service {
	return Service{
		Specs:            p.Specs,
		State:            p.State,
		Instances:        p.Instances,
		Snapshots:        p.Snapshots,
		Process:          p.Process,
		Provider:         p.Provider,
		Content:          p.Content,
		Peers:            p.Peers,
		Watcher:          p.Watcher,
		Clock:            time.Now,
		NewID:            uuid.NewString,
		SnapshotKeepLast: defaultSnapshotKeepLast,
		guard:            newInstanceGuard(p.Locks),
	}
}

func (s Service) planner() core.Planner {
	resolver := core.NewVersionResolver(s.Provider)
	if s.ResolveWorkers > 0 {
		resolver.Workers = s.ResolveWorkers
	}
	return core.NewPlanner(resolver)
}

func (s Service) newID(prefix string) string {
	next := s.NewID
	if next == nil {
		next = uuid.NewString
	}
	return prefix + next()
}

func timeNow(clock func() time.Time) time.Time {
	if clock == nil {
		return time.Now().UTC()
	}
	return clock().UTC()
}
