package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"packlink/internal/ports"
	"packlink/internal/types"
)

// PeerHTTPTransport calls the listener of another group member. Each
// attempt carries a fresh signed token so retries never trip the replay
// check.
type PeerHTTPTransport struct {
	Clock  func() time.Time
	client retryingClient
}

func NewPeerHTTPTransport(options HTTPOptions) PeerHTTPTransport {
	return PeerHTTPTransport{Clock: time.Now, client: newRetryingClient(options)}
}

func (t PeerHTTPTransport) Hello(ctx context.Context, session types.FriendLinkSession, endpoint string, hello types.HelloPayload) (types.HelloAck, error) {
	payload, err := json.Marshal(hello)
	if err != nil {
		return types.HelloAck{}, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to encode hello").
			WithCause(err)
	}
	var ack types.HelloAck
	if err := t.call(ctx, session, http.MethodPost, peerURL(endpoint, session.GroupID, "hello", nil), payload, &ack); err != nil {
		return types.HelloAck{}, err
	}
	return ack, nil
}

func (t PeerHTTPTransport) FetchState(ctx context.Context, session types.FriendLinkSession, endpoint string) (types.PeerState, error) {
	var state types.PeerState
	if err := t.call(ctx, session, http.MethodGet, peerURL(endpoint, session.GroupID, "state", nil), nil, &state); err != nil {
		return types.PeerState{}, err
	}
	return state, nil
}

func (t PeerHTTPTransport) FetchFile(ctx context.Context, session types.FriendLinkSession, endpoint string, key string) (types.FileTransfer, error) {
	var transfer types.FileTransfer
	query := url.Values{"key": []string{key}}
	if err := t.call(ctx, session, http.MethodGet, peerURL(endpoint, session.GroupID, "files", query), nil, &transfer); err != nil {
		return types.FileTransfer{}, err
	}
	return transfer, nil
}

func (t PeerHTTPTransport) call(ctx context.Context, session types.FriendLinkSession, method string, target string, payload []byte, out interface{}) error {
	if target == "" {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("peer endpoint is empty")
	}
	clock := t.Clock
	if clock == nil {
		clock = time.Now
	}
	body, status, err := t.client.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		token, err := IssuePeerToken(session.SharedSecret, session.LocalPeerID, session.GroupID, clock())
		if err != nil {
			return nil, err
		}
		var reader *bytes.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		var req *http.Request
		if reader != nil {
			req, err = http.NewRequestWithContext(ctx, method, target, reader)
		} else {
			req, err = http.NewRequestWithContext(ctx, method, target, nil)
		}
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return req, nil
	})
	if err != nil {
		return err
	}
	if status != nil {
		return statusError(status, target, "peer request failed")
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("invalid peer response").
			WithCause(err)
	}
	return nil
}

func peerURL(endpoint string, groupID string, action string, query url.Values) string {
	base := strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if base == "" {
		return ""
	}
	target := base + "/v1/groups/" + url.PathEscape(groupID) + "/" + action
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	return target
}

var _ ports.PeerTransportPort = PeerHTTPTransport{}
