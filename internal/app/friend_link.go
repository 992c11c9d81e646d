package app

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"packlink/internal/policies"
	"packlink/internal/shared"
	"packlink/internal/types"
)

const (
	inviteTTL            = 24 * time.Hour
	maxDisplayNameLength = 48
)

// CreateSession starts hosting a friend-link group for the instance, or
// re-issues an invite for the group it already belongs to.
func (s Service) CreateSession(ctx context.Context, req CreateSessionRequest) (types.FriendLinkInvite, error) {
	instanceID, err := validInstanceID(req.InstanceID)
	if err != nil {
		return types.FriendLinkInvite{}, err
	}
	var session types.FriendLinkSession
	err = s.updateSession(ctx, instanceID, true, func(current *types.FriendLinkSession, exists bool) error {
		if !exists {
			*current = s.newSession(instanceID, req.DisplayName)
			current.GroupID = s.newID("group_")
			secret, err := randomSecret()
			if err != nil {
				return err
			}
			current.SharedSecret = secret
		}
		if endpoint := strings.TrimSpace(s.PeerEndpoint); endpoint != "" {
			current.ListenerURL = endpoint
		}
		if current.ListenerURL == "" {
			return errbuilder.New().
				WithCode(errbuilder.CodeFailedPrecondition).
				WithMsg("peer endpoint is not configured; set listen or peer_endpoint")
		}
		session = *current
		return nil
	})
	if err != nil {
		return types.FriendLinkInvite{}, err
	}
	log.Ctx(ctx).Info().
		Str("instance_id", instanceID).
		Str("group_id", session.GroupID).
		Msg("friend link invite issued")
	return buildInvite(session, timeNow(s.Clock))
}

// JoinSession joins the group behind an invite code. The inviting host is
// trusted; peers learned from it start untrusted.
func (s Service) JoinSession(ctx context.Context, req JoinSessionRequest) (types.FriendLinkStatus, error) {
	instanceID, err := validInstanceID(req.InstanceID)
	if err != nil {
		return types.FriendLinkStatus{}, err
	}
	now := timeNow(s.Clock)
	invite, err := parseInvite(req.InviteCode, now)
	if err != nil {
		return types.FriendLinkStatus{}, err
	}
	endpoint := strings.TrimSpace(s.PeerEndpoint)
	if endpoint == "" {
		return types.FriendLinkStatus{}, errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg("peer endpoint is not configured; set listen or peer_endpoint")
	}

	existing, ok, err := s.State.LoadSession(ctx, instanceID)
	if err != nil {
		return types.FriendLinkStatus{}, err
	}
	session := s.newSession(instanceID, req.DisplayName)
	if ok {
		if existing.GroupID != invite.GroupID {
			return types.FriendLinkStatus{}, errbuilder.New().
				WithCode(errbuilder.CodeFailedPrecondition).
				WithMsg("instance already belongs to group " + existing.GroupID + "; leave it first")
		}
		session = existing
	}
	session.GroupID = invite.GroupID
	session.SharedSecret = invite.SharedSecret
	session.ProtocolVersion = invite.ProtocolVersion
	session.BootstrapPeerID = invite.BootstrapPeerID
	session.ListenerURL = endpoint

	ack, err := s.Peers.Hello(ctx, session, invite.BootstrapAddress, types.HelloPayload{
		PeerID:      session.LocalPeerID,
		DisplayName: session.DisplayName,
		Endpoint:    endpoint,
	})
	if err != nil {
		return types.FriendLinkStatus{}, err
	}
	hostEndpoint := strings.TrimSpace(ack.Endpoint)
	if hostEndpoint == "" {
		hostEndpoint = invite.BootstrapAddress
	}
	upsertPeer(&session, types.FriendPeer{
		PeerID:      ack.PeerID,
		DisplayName: ack.DisplayName,
		Endpoint:    hostEndpoint,
		Online:      true,
	}, now)
	for _, peer := range ack.Peers {
		if peer.PeerID == session.LocalPeerID {
			continue
		}
		upsertPeer(&session, types.FriendPeer{
			PeerID:      peer.PeerID,
			DisplayName: peer.DisplayName,
			Endpoint:    peer.Endpoint,
			Online:      peer.Online,
		}, now)
	}
	if len(session.Peers)+1 > types.FriendLinkMaxPeers {
		return types.FriendLinkStatus{}, groupFull()
	}
	session.TrustedPeerIDs = policies.NormalizeTrustedPeers(append(session.TrustedPeerIDs, ack.PeerID), session.LocalPeerID)

	err = s.updateSession(ctx, instanceID, true, func(current *types.FriendLinkSession, _ bool) error {
		*current = session
		return nil
	})
	if err != nil {
		return types.FriendLinkStatus{}, err
	}
	log.Ctx(ctx).Info().
		Str("instance_id", instanceID).
		Str("group_id", session.GroupID).
		Str("peer_id", ack.PeerID).
		Int("peers", len(session.Peers)).
		Msg("joined friend link group")
	return statusFor(instanceID, &session), nil
}

func (s Service) LeaveSession(ctx context.Context, instanceID string) (types.FriendLinkStatus, error) {
	instanceID, err := validInstanceID(instanceID)
	if err != nil {
		return types.FriendLinkStatus{}, err
	}
	unlock, err := s.guard.lockSessions()
	if err != nil {
		return types.FriendLinkStatus{}, err
	}
	defer unlock()
	if err := s.State.DeleteSession(ctx, instanceID); err != nil && errbuilder.CodeOf(err) != errbuilder.CodeNotFound {
		return types.FriendLinkStatus{}, err
	}
	return statusFor(instanceID, nil), nil
}

func (s Service) FriendStatus(ctx context.Context, instanceID string) (types.FriendLinkStatus, error) {
	instanceID, err := validInstanceID(instanceID)
	if err != nil {
		return types.FriendLinkStatus{}, err
	}
	session, ok, err := s.State.LoadSession(ctx, instanceID)
	if err != nil {
		return types.FriendLinkStatus{}, err
	}
	if !ok {
		return statusFor(instanceID, nil), nil
	}
	return statusFor(instanceID, &session), nil
}

// SetAllowlist replaces the config globs synced with the group.
func (s Service) SetAllowlist(ctx context.Context, instanceID string, patterns []string) (types.FriendLinkStatus, error) {
	return s.editSession(ctx, instanceID, func(session *types.FriendLinkSession) error {
		session.Allowlist = policies.NormalizeAllowlist(patterns)
		return nil
	})
}

// SetTrustedPeers replaces the set of peers whose changes may be applied.
func (s Service) SetTrustedPeers(ctx context.Context, instanceID string, peerIDs []string) (types.FriendLinkStatus, error) {
	return s.editSession(ctx, instanceID, func(session *types.FriendLinkSession) error {
		trusted := policies.NormalizeTrustedPeers(peerIDs, session.LocalPeerID)
		for _, id := range trusted {
			if !hasPeer(*session, id) {
				return errbuilder.New().
					WithCode(errbuilder.CodeInvalidArgument).
					WithMsg("unknown peer: " + id)
			}
		}
		session.TrustedPeerIDs = trusted
		return nil
	})
}

func (s Service) SetSyncPolicy(ctx context.Context, req SyncPolicyRequest) (types.FriendLinkStatus, error) {
	return s.editSession(ctx, req.InstanceID, func(session *types.FriendLinkSession) error {
		if req.MaxAutoChanges != nil {
			if *req.MaxAutoChanges < 1 {
				return errbuilder.New().
					WithCode(errbuilder.CodeInvalidArgument).
					WithMsg("max_auto_changes must be at least 1")
			}
			session.MaxAutoChanges = *req.MaxAutoChanges
		}
		if req.Sync != nil {
			session.Sync = *req.Sync
		}
		return nil
	})
}

func (s Service) editSession(ctx context.Context, instanceID string, edit func(*types.FriendLinkSession) error) (types.FriendLinkStatus, error) {
	instanceID, err := validInstanceID(instanceID)
	if err != nil {
		return types.FriendLinkStatus{}, err
	}
	var updated types.FriendLinkSession
	err = s.updateSession(ctx, instanceID, false, func(session *types.FriendLinkSession, _ bool) error {
		if err := edit(session); err != nil {
			return err
		}
		updated = *session
		return nil
	})
	if err != nil {
		return types.FriendLinkStatus{}, err
	}
	return statusFor(instanceID, &updated), nil
}

// updateSession loads, mutates and saves a session under the session lock.
// Without create, a missing session is a NotFound error.
func (s Service) updateSession(ctx context.Context, instanceID string, create bool, mutate func(*types.FriendLinkSession, bool) error) error {
	unlock, err := s.guard.lockSessions()
	if err != nil {
		return err
	}
	defer unlock()
	session, ok, err := s.State.LoadSession(ctx, instanceID)
	if err != nil {
		return err
	}
	if !ok && !create {
		return sessionNotFound(instanceID)
	}
	if err := mutate(&session, ok); err != nil {
		return err
	}
	return s.State.SaveSession(ctx, session)
}

func (s Service) newSession(instanceID string, displayName string) types.FriendLinkSession {
	peerID := s.newID("peer_")
	return types.FriendLinkSession{
		InstanceID:       instanceID,
		LocalPeerID:      peerID,
		DisplayName:      sanitizeDisplayName(displayName, peerID),
		ProtocolVersion:  types.FriendLinkProtocolVersion,
		Peers:            []types.FriendPeer{},
		Allowlist:        policies.NormalizeAllowlist(nil),
		TrustedPeerIDs:   []string{},
		MaxAutoChanges:   types.DefaultMaxAutoChanges,
		Sync:             types.DefaultSyncToggles(),
		PendingConflicts: []types.FriendSyncConflict{},
		LastPeerSyncAt:   map[string]time.Time{},
	}
}

func buildInvite(session types.FriendLinkSession, now time.Time) (types.FriendLinkInvite, error) {
	payload := invitePayload{
		GroupID:          session.GroupID,
		BootstrapPeerID:  session.LocalPeerID,
		BootstrapAddress: session.ListenerURL,
		SharedSecret:     session.SharedSecret,
		ExpiresAt:        now.Add(inviteTTL),
		ProtocolVersion:  session.ProtocolVersion,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return types.FriendLinkInvite{}, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to encode invite").
			WithCause(err)
	}
	return types.FriendLinkInvite{
		InviteCode:            base64.RawURLEncoding.EncodeToString(raw),
		GroupID:               session.GroupID,
		ExpiresAt:             payload.ExpiresAt,
		BootstrapPeerEndpoint: session.ListenerURL,
		ProtocolVersion:       session.ProtocolVersion,
	}, nil
}

func parseInvite(code string, now time.Time) (invitePayload, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(code), "=")
	if trimmed == "" {
		return invitePayload{}, invalidInvite("invite code is required", nil)
	}
	raw, err := base64.RawURLEncoding.DecodeString(trimmed)
	if err != nil {
		return invitePayload{}, invalidInvite("invite code is not valid base64url", err)
	}
	var payload invitePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return invitePayload{}, invalidInvite("invite code is not valid JSON", err)
	}
	payload.GroupID = strings.TrimSpace(payload.GroupID)
	payload.BootstrapPeerID = strings.TrimSpace(payload.BootstrapPeerID)
	payload.BootstrapAddress = strings.TrimSpace(payload.BootstrapAddress)
	if payload.GroupID == "" || payload.BootstrapPeerID == "" || payload.BootstrapAddress == "" || payload.SharedSecret == "" {
		return invitePayload{}, invalidInvite("invite is missing required fields", nil)
	}
	if payload.ExpiresAt.IsZero() || !now.Before(payload.ExpiresAt) {
		return invitePayload{}, errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg("invite expired at " + payload.ExpiresAt.UTC().Format(time.RFC3339))
	}
	if payload.ProtocolVersion != types.FriendLinkProtocolVersion {
		return invitePayload{}, errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg(fmt.Sprintf("unsupported friend link protocol version %d", payload.ProtocolVersion))
	}
	return payload, nil
}

func invalidInvite(msg string, cause error) error {
	err := errbuilder.New().
		WithCode(errbuilder.CodeInvalidArgument).
		WithMsg(msg)
	if cause != nil {
		return err.WithCause(cause)
	}
	return err
}

func statusFor(instanceID string, session *types.FriendLinkSession) types.FriendLinkStatus {
	if session == nil {
		return types.FriendLinkStatus{
			InstanceID:     instanceID,
			Allowlist:      []string{},
			Peers:          []types.FriendLinkPeerStatus{},
			TrustedPeerIDs: []string{},
			Status:         string(types.ReconcileUnlinked),
		}
	}
	peers := make([]types.FriendLinkPeerStatus, 0, len(session.Peers))
	for _, peer := range session.Peers {
		peers = append(peers, types.FriendLinkPeerStatus{
			PeerID:      peer.PeerID,
			DisplayName: peer.DisplayName,
			Endpoint:    peer.Endpoint,
			Online:      peer.Online,
			Trusted:     session.IsTrusted(peer.PeerID),
			LastSeenAt:  peer.LastSeenAt,
		})
	}
	status := types.FriendLinkStatus{
		InstanceID:            instanceID,
		Linked:                true,
		GroupID:               session.GroupID,
		LocalPeerID:           session.LocalPeerID,
		DisplayName:           session.DisplayName,
		ListenerEndpoint:      session.ListenerURL,
		Allowlist:             append([]string{}, session.Allowlist...),
		Peers:                 peers,
		TrustedPeerIDs:        append([]string{}, session.TrustedPeerIDs...),
		MaxAutoChanges:        policies.NormalizeMaxAutoChanges(session.MaxAutoChanges),
		Sync:                  session.Sync,
		PendingConflictsCount: len(session.PendingConflicts),
		Status:                string(types.ReconcileSynced),
	}
	if len(session.PendingConflicts) > 0 {
		status.Status = string(types.ReconcileConflicted)
	}
	if session.LastGood != nil {
		status.LastGoodHash = session.LastGood.StateHash
	}
	return status
}

func upsertPeer(session *types.FriendLinkSession, peer types.FriendPeer, now time.Time) {
	seen := now
	for i := range session.Peers {
		if session.Peers[i].PeerID != peer.PeerID {
			continue
		}
		if peer.DisplayName != "" {
			session.Peers[i].DisplayName = peer.DisplayName
		}
		if peer.Endpoint != "" {
			session.Peers[i].Endpoint = peer.Endpoint
		}
		session.Peers[i].Online = peer.Online
		if peer.Online {
			session.Peers[i].LastSeenAt = &seen
		}
		return
	}
	peer.AddedAt = now
	if peer.Online {
		peer.LastSeenAt = &seen
	}
	session.Peers = append(session.Peers, peer)
}

func hasPeer(session types.FriendLinkSession, peerID string) bool {
	for _, peer := range session.Peers {
		if peer.PeerID == peerID {
			return true
		}
	}
	return false
}

func sanitizeDisplayName(input string, fallbackSeed string) string {
	name := strings.Join(strings.Fields(input), " ")
	if name == "" {
		seed := strings.TrimPrefix(fallbackSeed, "peer_")
		if len(seed) > 8 {
			seed = seed[:8]
		}
		return "Player-" + seed
	}
	if runes := []rune(name); len(runes) > maxDisplayNameLength {
		name = string(runes[:maxDisplayNameLength])
	}
	return name
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to generate shared secret").
			WithCause(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func validInstanceID(raw string) (string, error) {
	instanceID := strings.TrimSpace(raw)
	if err := shared.ValidateIdentifier(instanceID); err != nil {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("instance id is invalid").
			WithCause(err)
	}
	return instanceID, nil
}

func sessionNotFound(instanceID string) error {
	return errbuilder.New().
		WithCode(errbuilder.CodeNotFound).
		WithMsg("friend link session not found: " + instanceID)
}

func groupFull() error {
	return errbuilder.New().
		WithCode(errbuilder.CodeFailedPrecondition).
		WithMsg(fmt.Sprintf("group is full: maximum group size is %d peers", types.FriendLinkMaxPeers))
}
