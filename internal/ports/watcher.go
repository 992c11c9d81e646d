package ports

import "context"

type WatchEvent struct {
	InstanceID string
	Path       string
}

// ContentWatcherPort streams change notifications for instance content
// folders until the context is cancelled.
type ContentWatcherPort interface {
	Watch(ctx context.Context, instanceID string) (<-chan WatchEvent, error)
}
