package adapters

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/gin-gonic/gin"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"packlink/internal/types"
)

type fakePeerHandler struct {
	mu      sync.Mutex
	session types.FriendLinkSession
	hellos  []types.HelloPayload
	files   map[string]types.FileTransfer
}

func (f *fakePeerHandler) SessionForGroup(_ context.Context, groupID string) (types.FriendLinkSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if groupID != f.session.GroupID {
		return types.FriendLinkSession{}, errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg("session not found")
	}
	return f.session, nil
}

func (f *fakePeerHandler) HandleHello(_ context.Context, _ string, hello types.HelloPayload) (types.HelloAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hellos = append(f.hellos, hello)
	f.session.Peers = append(f.session.Peers, types.FriendPeer{PeerID: hello.PeerID, DisplayName: hello.DisplayName, Endpoint: hello.Endpoint})
	return types.HelloAck{
		PeerID:      f.session.LocalPeerID,
		DisplayName: f.session.DisplayName,
		Peers:       []types.PeerSummary{{PeerID: hello.PeerID, DisplayName: hello.DisplayName, Online: true}},
	}, nil
}

func (f *fakePeerHandler) HandleState(_ context.Context, _ string) (types.PeerState, error) {
	return types.PeerState{PeerID: f.session.LocalPeerID, State: types.SyncState{StateHash: "abc"}}, nil
}

func (f *fakePeerHandler) HandleFile(_ context.Context, _ string, key string) (types.FileTransfer, error) {
	if transfer, ok := f.files[key]; ok {
		return transfer, nil
	}
	return types.FileTransfer{Key: key, Found: false, Message: "unknown key"}, nil
}

func hostSession() types.FriendLinkSession {
	return types.FriendLinkSession{
		InstanceID:   "inst-host",
		GroupID:      "group-1",
		LocalPeerID:  "peer-host",
		DisplayName:  "Host",
		SharedSecret: "s3cret",
	}
}

func newPeerServer(t *testing.T, handler *fakePeerHandler) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	server := httptest.NewServer(NewPeerListener(handler, time.Now).Handler())
	t.Cleanup(server.Close)
	return server
}

func TestPeerTransportAgainstListener(t *testing.T) {
	content := []byte("jar bytes")
	handler := &fakePeerHandler{
		session: hostSession(),
		files: map[string]types.FileTransfer{
			"lock::modrinth::mods::sodium": {Key: "lock::modrinth::mods::sodium", Found: true, SHA256: sha256Hex(content), Content: content},
		},
	}
	server := newPeerServer(t, handler)
	transport := NewPeerHTTPTransport(NewHTTPOptions(5, 1, 1))
	ctx := t.Context()

	joiner := types.FriendLinkSession{GroupID: "group-1", LocalPeerID: "peer-join", SharedSecret: "s3cret"}

	_, err := transport.FetchState(ctx, joiner, server.URL)
	require.Error(t, err)
	assert.Equal(t, errbuilder.CodePermissionDenied, errbuilder.CodeOf(err))

	ack, err := transport.Hello(ctx, joiner, server.URL, types.HelloPayload{PeerID: "peer-join", DisplayName: "Joiner", Endpoint: "http://joiner"})
	require.NoError(t, err)
	assert.Equal(t, "peer-host", ack.PeerID)
	wantHellos := []types.HelloPayload{{PeerID: "peer-join", DisplayName: "Joiner", Endpoint: "http://joiner"}}
	if diff := cmp.Diff(wantHellos, handler.hellos); diff != "" {
		t.Fatalf("unexpected hellos (-want +got):\n%s", diff)
	}

	state, err := transport.FetchState(ctx, joiner, server.URL)
	require.NoError(t, err)
	assert.Equal(t, "abc", state.State.StateHash)

	transfer, err := transport.FetchFile(ctx, joiner, server.URL, "lock::modrinth::mods::sodium")
	require.NoError(t, err)
	assert.True(t, transfer.Found)
	assert.Equal(t, content, transfer.Content)

	missing, err := transport.FetchFile(ctx, joiner, server.URL, "lock::modrinth::mods::ghost")
	require.NoError(t, err)
	assert.False(t, missing.Found)
}

func TestPeerListenerRejections(t *testing.T) {
	handler := &fakePeerHandler{session: hostSession()}
	server := newPeerServer(t, handler)
	transport := NewPeerHTTPTransport(NewHTTPOptions(5, 1, 1))
	hello := types.HelloPayload{PeerID: "peer-join"}

	tests := []struct {
		name    string
		session types.FriendLinkSession
		hello   types.HelloPayload
		want    errbuilder.ErrCode
	}{
		{
			name:    "wrong secret",
			session: types.FriendLinkSession{GroupID: "group-1", LocalPeerID: "peer-join", SharedSecret: "guess"},
			hello:   hello,
			want:    errbuilder.CodePermissionDenied,
		},
		{
			name:    "unknown group",
			session: types.FriendLinkSession{GroupID: "group-9", LocalPeerID: "peer-join", SharedSecret: "s3cret"},
			hello:   hello,
			want:    errbuilder.CodeNotFound,
		},
		{
			name:    "hello for another peer",
			session: types.FriendLinkSession{GroupID: "group-1", LocalPeerID: "peer-join", SharedSecret: "s3cret"},
			hello:   types.HelloPayload{PeerID: "peer-other"},
			want:    errbuilder.CodePermissionDenied,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := transport.Hello(t.Context(), tt.session, server.URL, tt.hello)
			require.Error(t, err)
			assert.Equal(t, tt.want, errbuilder.CodeOf(err))
		})
	}
	assert.Empty(t, handler.hellos)
}

func TestPeerListenerRejectsReplayedToken(t *testing.T) {
	handler := &fakePeerHandler{session: hostSession()}
	handler.session.Peers = []types.FriendPeer{{PeerID: "peer-join"}}
	server := newPeerServer(t, handler)

	token, err := IssuePeerToken("s3cret", "peer-join", "group-1", time.Now())
	require.NoError(t, err)

	send := func() int {
		req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, server.URL+"/v1/groups/group-1/state", nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusOK, send())
	assert.Equal(t, http.StatusUnauthorized, send())
}

func TestPeerURL(t *testing.T) {
	assert.Equal(t, "http://h:1/v1/groups/g%201/state", peerURL("http://h:1/", "g 1", "state", nil))
	assert.Equal(t, "", peerURL("  ", "g", "state", nil))
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
