package command

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	jose "gopkg.in/square/go-jose.v2"

	"github.com/stretchr/testify/require"

	"github.com/authapp/iamcore/domain"
	"github.com/authapp/iamcore/tokenengine"
)

func TestRevokeToken_NotIdempotent(t *testing.T) {
	d := newTestDispatcher()
	cc := domain.Context{InstanceID: "inst1"}
	ctx := context.Background()

	_, err := d.IssueToken(ctx, cc, "tok1", IssueTokenData{ClientID: "client1", TokenType: domain.TokenAccess, TTL: time.Hour})
	require.NoError(t, err)

	_, err = d.RevokeToken(ctx, cc, "tok1")
	require.NoError(t, err)

	_, err = d.RevokeToken(ctx, cc, "tok1")
	require.Error(t, err)
	require.True(t, domain.IsKind(err, domain.KindPrecondition))
}

func TestIntrospectTokenState(t *testing.T) {
	wm := &tokenState{
		exists: true, clientID: "client1", userID: "user1",
		tokenType: domain.TokenAccess, scope: []string{"openid"},
		issuedAt: time.Now().Add(-time.Minute), expiresAt: time.Now().Add(time.Hour),
	}
	result := IntrospectTokenState(wm, time.Now(), "tok1", "https://issuer.example")
	require.True(t, result.Active)
	require.Equal(t, "client1", result.ClientID)
	require.Equal(t, "tok1", result.JTI)
	require.Equal(t, "https://issuer.example", result.Iss)

	wm.revoked = true
	result = IntrospectTokenState(wm, time.Now(), "tok1", "https://issuer.example")
	require.False(t, result.Active)
}

func TestIssueIDToken_RequiresSigner(t *testing.T) {
	d := newTestDispatcher()
	_, err := d.IssueIDToken(tokenengine.IDTokenClaims{}, "")
	require.Error(t, err)
}

func TestIssueIDToken_SignsAndHashesAccessToken(t *testing.T) {
	d := newTestDispatcher()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	jwk := &jose.JSONWebKey{Key: key, KeyID: "key1", Algorithm: string(jose.RS256), Use: "sig"}
	signer, err := tokenengine.NewSigner(jwk, jose.RS256)
	require.NoError(t, err)
	d.SetIDTokenSigner(signer)

	now := time.Now()
	claims := tokenengine.IDTokenClaims{
		Issuer: "https://issuer.example", Subject: "user1", Audience: []string{"client1"},
		IssuedAt: now.Unix(), Expiry: now.Add(time.Hour).Unix(),
	}
	jws, err := d.IssueIDToken(claims, "sometoken")
	require.NoError(t, err)
	require.NotEmpty(t, jws)

	parsed, err := jose.ParseSigned(jws)
	require.NoError(t, err)
	payload, err := parsed.Verify(&jwk.Key.(*rsa.PrivateKey).PublicKey)
	require.NoError(t, err)
	require.Contains(t, string(payload), `"at_hash"`)
}
