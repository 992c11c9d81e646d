package adapters

import (
	"testing"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeerTokenRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	verifier := NewPeerTokenVerifier(func() time.Time { return now })

	token, err := IssuePeerToken("s3cret", "peer-a", "group-1", now)
	require.NoError(t, err)

	peerID, err := verifier.Verify(token, "s3cret", "group-1")
	require.NoError(t, err)
	assert.Equal(t, "peer-a", peerID)

	_, err = verifier.Verify(token, "s3cret", "group-1")
	require.Error(t, err)
	assert.Equal(t, errbuilder.CodePermissionDenied, errbuilder.CodeOf(err))
}

func TestPeerTokenRejections(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	tests := []struct {
		name     string
		issuedAt time.Time
		secret   string
		group    string
	}{
		{name: "wrong secret", issuedAt: now, secret: "other", group: "group-1"},
		{name: "wrong group", issuedAt: now, secret: "s3cret", group: "group-2"},
		{name: "expired", issuedAt: now.Add(-5 * time.Minute), secret: "s3cret", group: "group-1"},
		{name: "issued in the future", issuedAt: now.Add(5 * time.Minute), secret: "s3cret", group: "group-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verifier := NewPeerTokenVerifier(func() time.Time { return now })
			token, err := IssuePeerToken("s3cret", "peer-a", "group-1", tt.issuedAt)
			require.NoError(t, err)

			_, err = verifier.Verify(token, tt.secret, tt.group)
			require.Error(t, err)
			assert.Equal(t, errbuilder.CodePermissionDenied, errbuilder.CodeOf(err))
		})
	}
}

func TestPeerTokenToleratesSmallSkew(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	verifier := NewPeerTokenVerifier(func() time.Time { return now })

	token, err := IssuePeerToken("s3cret", "peer-a", "group-1", now.Add(90*time.Second))
	require.NoError(t, err)
	_, err = verifier.Verify(token, "s3cret", "group-1")
	require.NoError(t, err)
}

func TestNonceCacheForgetsExpiredIDs(t *testing.T) {
	cache := NewNonceCache()
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	assert.True(t, cache.Remember("a", now.Add(time.Minute), now))
	assert.False(t, cache.Remember("a", now.Add(time.Minute), now))
	assert.True(t, cache.Remember("a", now.Add(5*time.Minute), now.Add(2*time.Minute)))
}
