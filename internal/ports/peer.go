package ports

import (
	"context"

	"packlink/internal/types"
)

// PeerTransportPort talks to other members of a friend-link group.
type PeerTransportPort interface {
	Hello(ctx context.Context, session types.FriendLinkSession, endpoint string, hello types.HelloPayload) (types.HelloAck, error)
	FetchState(ctx context.Context, session types.FriendLinkSession, endpoint string) (types.PeerState, error)
	FetchFile(ctx context.Context, session types.FriendLinkSession, endpoint string, key string) (types.FileTransfer, error)
}

// PeerHandler answers requests arriving at the local peer listener.
type PeerHandler interface {
	SessionForGroup(ctx context.Context, groupID string) (types.FriendLinkSession, error)
	HandleHello(ctx context.Context, groupID string, hello types.HelloPayload) (types.HelloAck, error)
	HandleState(ctx context.Context, groupID string) (types.PeerState, error)
	HandleFile(ctx context.Context, groupID string, key string) (types.FileTransfer, error)
}
