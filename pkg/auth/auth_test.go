package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmptySecretAuthenticatesImmediately(t *testing.T) {
	a := NewSharedSecretAuthenticator(nil)
	decision, challenge := a.OnConnectRequest(nil)
	assert.Equal(t, DecisionAuthenticate, decision)
	assert.Nil(t, challenge)
}

func TestSharedSecretChallengeRoundTrip(t *testing.T) {
	a := NewSharedSecretAuthenticator(DeriveClusterSecret("test-cluster"))

	decision, challenge := a.OnConnectRequest(nil)
	assert.Equal(t, DecisionChallenge, decision)
	assert.NotEmpty(t, challenge)

	response := a.Sign(challenge)
	assert.Equal(t, DecisionAuthenticate, a.OnChallengeResponse(challenge, response))
}

func TestSharedSecretRejectsBadResponse(t *testing.T) {
	a := NewSharedSecretAuthenticator(DeriveClusterSecret("test-cluster"))
	_, challenge := a.OnConnectRequest(nil)

	assert.Equal(t, DecisionReject, a.OnChallengeResponse(challenge, []byte("wrong")))
}

func TestDeriveClusterSecretIsDeterministic(t *testing.T) {
	a := DeriveClusterSecret("cluster-a")
	b := DeriveClusterSecret("cluster-a")
	c := DeriveClusterSecret("cluster-b")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
