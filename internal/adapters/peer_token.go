package adapters

import (
	"strings"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// PeerClockSkew bounds both token lifetime and tolerated clock drift
// between peers.
const PeerClockSkew = 2 * time.Minute

// PeerClaims authenticate one request between members of a group: the
// issuer is the sending peer, the audience the group.
type PeerClaims struct {
	jwt.RegisteredClaims
}

// IssuePeerToken signs a single-use token with the group shared secret.
func IssuePeerToken(secret string, peerID string, groupID string, now time.Time) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("shared secret is empty")
	}
	claims := PeerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    peerID,
			Audience:  jwt.ClaimStrings{groupID},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(PeerClockSkew)),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to sign peer token").
			WithCause(err)
	}
	return signed, nil
}

// PeerTokenVerifier checks signature, audience, time window and replays.
type PeerTokenVerifier struct {
	Clock  func() time.Time
	nonces *NonceCache
}

func NewPeerTokenVerifier(clock func() time.Time) PeerTokenVerifier {
	if clock == nil {
		clock = time.Now
	}
	return PeerTokenVerifier{Clock: clock, nonces: NewNonceCache()}
}

// Verify returns the sending peer id.
func (v PeerTokenVerifier) Verify(tokenString string, secret string, groupID string) (string, error) {
	now := v.Clock()
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(groupID),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(PeerClockSkew),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	claims := &PeerClaims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	if err != nil || token == nil || !token.Valid {
		return "", errbuilder.New().
			WithCode(errbuilder.CodePermissionDenied).
			WithMsg("invalid peer token").
			WithCause(err)
	}
	if strings.TrimSpace(claims.Issuer) == "" || claims.ID == "" {
		return "", errbuilder.New().
			WithCode(errbuilder.CodePermissionDenied).
			WithMsg("peer token is missing issuer or nonce")
	}
	if !v.nonces.Remember(claims.ID, claims.ExpiresAt.Add(PeerClockSkew), now) {
		return "", errbuilder.New().
			WithCode(errbuilder.CodePermissionDenied).
			WithMsg("peer token replayed")
	}
	return claims.Issuer, nil
}

// NonceCache remembers token ids until they can no longer validate.
type NonceCache struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

func NewNonceCache() *NonceCache {
	return &NonceCache{seen: map[string]time.Time{}}
}

// Remember records id and reports false when it was already seen.
func (c *NonceCache) Remember(id string, until time.Time, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, expiry := range c.seen {
		if now.After(expiry) {
			delete(c.seen, key)
		}
	}
	if _, ok := c.seen[id]; ok {
		return false
	}
	c.seen[id] = until
	return true
}
