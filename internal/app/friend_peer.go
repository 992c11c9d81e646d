package app

import (
	"context"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"packlink/internal/core"
	"packlink/internal/ports"
	"packlink/internal/types"
)

// peerHandler answers the peer listener on behalf of local sessions.
type peerHandler struct {
	svc Service
}

var _ ports.PeerHandler = peerHandler{}

func (s Service) PeerHandler() ports.PeerHandler {
	return peerHandler{svc: s}
}

func (h peerHandler) SessionForGroup(ctx context.Context, groupID string) (types.FriendLinkSession, error) {
	session, ok, err := h.svc.State.FindSessionByGroup(ctx, strings.TrimSpace(groupID))
	if err != nil {
		return types.FriendLinkSession{}, err
	}
	if !ok {
		return types.FriendLinkSession{}, errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg("friend link group not found: " + groupID)
	}
	return session, nil
}

// HandleHello registers or refreshes the calling peer. New peers start
// untrusted.
func (h peerHandler) HandleHello(ctx context.Context, groupID string, hello types.HelloPayload) (types.HelloAck, error) {
	peerID := strings.TrimSpace(hello.PeerID)
	if peerID == "" {
		return types.HelloAck{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("peer id is required")
	}
	found, err := h.SessionForGroup(ctx, groupID)
	if err != nil {
		return types.HelloAck{}, err
	}
	if peerID == found.LocalPeerID {
		return types.HelloAck{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("peer id collides with the local peer")
	}
	now := timeNow(h.svc.Clock)
	var ack types.HelloAck
	err = h.svc.updateSession(ctx, found.InstanceID, false, func(session *types.FriendLinkSession, _ bool) error {
		if !hasPeer(*session, peerID) && len(session.Peers)+1 >= types.FriendLinkMaxPeers {
			return groupFull()
		}
		upsertPeer(session, types.FriendPeer{
			PeerID:      peerID,
			DisplayName: sanitizeDisplayName(hello.DisplayName, peerID),
			Endpoint:    strings.TrimSpace(hello.Endpoint),
			Online:      true,
		}, now)
		ack = types.HelloAck{
			PeerID:      session.LocalPeerID,
			DisplayName: session.DisplayName,
			Endpoint:    session.ListenerURL,
			Peers:       []types.PeerSummary{},
		}
		for _, peer := range session.Peers {
			if peer.PeerID == peerID {
				continue
			}
			ack.Peers = append(ack.Peers, types.PeerSummary{
				PeerID:      peer.PeerID,
				DisplayName: peer.DisplayName,
				Endpoint:    peer.Endpoint,
				Online:      peer.Online,
			})
		}
		return nil
	})
	if err != nil {
		return types.HelloAck{}, err
	}
	log.Ctx(ctx).Info().
		Str("group_id", groupID).
		Str("peer_id", peerID).
		Msg("peer hello")
	return ack, nil
}

func (h peerHandler) HandleState(ctx context.Context, groupID string) (types.PeerState, error) {
	session, err := h.SessionForGroup(ctx, groupID)
	if err != nil {
		return types.PeerState{}, err
	}
	state, err := h.svc.localSyncState(ctx, session)
	if err != nil {
		return types.PeerState{}, err
	}
	return types.PeerState{
		PeerID:      session.LocalPeerID,
		DisplayName: session.DisplayName,
		State:       state,
	}, nil
}

// HandleFile serves the content bytes of a tracked lock entry.
func (h peerHandler) HandleFile(ctx context.Context, groupID string, key string) (types.FileTransfer, error) {
	session, err := h.SessionForGroup(ctx, groupID)
	if err != nil {
		return types.FileTransfer{}, err
	}
	lock, err := h.svc.Instances.ReadLockfile(ctx, session.InstanceID)
	if err != nil {
		return types.FileTransfer{}, err
	}
	for _, entry := range lock.Entries {
		if core.LockSyncKey(entry) != key || !session.Sync.Tracks(entry.ContentType) {
			continue
		}
		content, err := h.svc.Instances.ReadEntryFile(ctx, session.InstanceID, entry)
		if err != nil {
			if errbuilder.CodeOf(err) == errbuilder.CodeNotFound {
				return types.FileTransfer{Key: key, Message: "file is missing on this peer"}, nil
			}
			return types.FileTransfer{}, err
		}
		return types.FileTransfer{
			Key:     key,
			Found:   true,
			SHA256:  core.SHA256Hex(content),
			Content: content,
		}, nil
	}
	return types.FileTransfer{Key: key, Message: "entry is not tracked by this peer"}, nil
}
