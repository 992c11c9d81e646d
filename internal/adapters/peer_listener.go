package adapters

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"packlink/internal/ports"
	"packlink/internal/types"
)

const peerIDKey = "peer_id"
const sessionKey = "session"

type peerAPIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type peerErrorEnvelope struct {
	Error peerAPIError `json:"error"`
}

// PeerListener serves the friend-link peer protocol for every group with a
// local session.
type PeerListener struct {
	handler  ports.PeerHandler
	verifier PeerTokenVerifier
	engine   *gin.Engine
	server   *http.Server
}

func NewPeerListener(handler ports.PeerHandler, clock func() time.Time) *PeerListener {
	l := &PeerListener{handler: handler, verifier: NewPeerTokenVerifier(clock)}
	r := gin.New()
	r.Use(gin.Recovery())
	groups := r.Group("/v1/groups/:group")
	groups.Use(l.requireToken())
	{
		groups.POST("/hello", l.hello)
		groups.GET("/state", l.requireMember(), l.state)
		groups.GET("/files", l.requireMember(), l.file)
	}
	l.engine = r
	return l
}

// Handler exposes the router, mainly for httptest.
func (l *PeerListener) Handler() http.Handler {
	return l.engine
}

// Start listens on addr and serves until ctx is cancelled. It returns the
// endpoint peers should use to reach this listener.
func (l *PeerListener) Start(ctx context.Context, addr string) (string, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to start peer listener").
			WithCause(err)
	}
	l.server = &http.Server{Handler: l.engine, ReadHeaderTimeout: 10 * time.Second}
	endpoint := "http://" + listener.Addr().String()
	go func() {
		if err := l.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Ctx(ctx).Error().Err(err).Msg("peer listener stopped")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = l.server.Shutdown(shutdownCtx)
	}()
	log.Ctx(ctx).Info().Str("endpoint", endpoint).Msg("peer listener started")
	return endpoint, nil
}

func (l *PeerListener) requireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			respondPeerError(c, errbuilder.New().
				WithCode(errbuilder.CodePermissionDenied).
				WithMsg("missing peer token"))
			return
		}
		groupID := c.Param("group")
		session, err := l.handler.SessionForGroup(c.Request.Context(), groupID)
		if err != nil {
			respondPeerError(c, err)
			return
		}
		peerID, err := l.verifier.Verify(token, session.SharedSecret, groupID)
		if err != nil {
			log.Ctx(c.Request.Context()).Debug().Err(err).Str("group_id", groupID).Msg("rejected peer request")
			respondPeerError(c, err)
			return
		}
		c.Set(peerIDKey, peerID)
		c.Set(sessionKey, session)
		c.Next()
	}
}

func (l *PeerListener) requireMember() gin.HandlerFunc {
	return func(c *gin.Context) {
		peerID := c.GetString(peerIDKey)
		session, _ := c.Get(sessionKey)
		if s, ok := session.(types.FriendLinkSession); ok && knownPeer(s, peerID) {
			c.Next()
			return
		}
		respondPeerError(c, errbuilder.New().
			WithCode(errbuilder.CodePermissionDenied).
			WithMsg("peer is not a member of this group"))
	}
}

func (l *PeerListener) hello(c *gin.Context) {
	var hello types.HelloPayload
	if err := c.ShouldBindJSON(&hello); err != nil {
		respondPeerError(c, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("invalid hello payload").
			WithCause(err))
		return
	}
	if hello.PeerID != c.GetString(peerIDKey) {
		respondPeerError(c, errbuilder.New().
			WithCode(errbuilder.CodePermissionDenied).
			WithMsg("hello peer id does not match token issuer"))
		return
	}
	ack, err := l.handler.HandleHello(c.Request.Context(), c.Param("group"), hello)
	if err != nil {
		respondPeerError(c, err)
		return
	}
	c.JSON(http.StatusOK, ack)
}

func (l *PeerListener) state(c *gin.Context) {
	state, err := l.handler.HandleState(c.Request.Context(), c.Param("group"))
	if err != nil {
		respondPeerError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (l *PeerListener) file(c *gin.Context) {
	key := strings.TrimSpace(c.Query("key"))
	if key == "" {
		respondPeerError(c, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("key is required"))
		return
	}
	transfer, err := l.handler.HandleFile(c.Request.Context(), c.Param("group"), key)
	if err != nil {
		respondPeerError(c, err)
		return
	}
	c.JSON(http.StatusOK, transfer)
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

func knownPeer(session types.FriendLinkSession, peerID string) bool {
	for _, peer := range session.Peers {
		if peer.PeerID == peerID {
			return true
		}
	}
	return false
}

func respondPeerError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "internal"
	switch errbuilder.CodeOf(err) {
	case errbuilder.CodeInvalidArgument:
		status, code = http.StatusBadRequest, "invalid_argument"
	case errbuilder.CodeNotFound:
		status, code = http.StatusNotFound, "not_found"
	case errbuilder.CodePermissionDenied:
		status, code = http.StatusUnauthorized, "permission_denied"
	case errbuilder.CodeFailedPrecondition, errbuilder.CodeAlreadyExists:
		status, code = http.StatusConflict, "failed_precondition"
	}
	c.AbortWithStatusJSON(status, peerErrorEnvelope{
		Error: peerAPIError{Message: err.Error(), Code: code},
	})
}
