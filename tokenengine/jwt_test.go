package tokenengine_test

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"testing"
	"time"

	jose "gopkg.in/square/go-jose.v2"

	"github.com/stretchr/testify/require"

	"github.com/authapp/iamcore/tokenengine"
)

func testSigner(t *testing.T) (*tokenengine.Signer, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	jwk := &jose.JSONWebKey{Key: key, KeyID: "kid1", Algorithm: string(jose.RS256), Use: "sig"}
	signer, err := tokenengine.NewSigner(jwk, jose.RS256)
	require.NoError(t, err)
	return signer, key
}

func TestSignIDToken_RoundTrips(t *testing.T) {
	signer, key := testSigner(t)
	require.Equal(t, "kid1", signer.KeyID())

	now := time.Now()
	claims := tokenengine.IDTokenClaims{
		Issuer: "https://issuer.example", Subject: "user1", Audience: []string{"client1"},
		IssuedAt: now.Unix(), Expiry: now.Add(time.Hour).Unix(), Nonce: "abc123",
	}
	jws, err := signer.SignIDToken(claims, "access-token-value")
	require.NoError(t, err)

	parsed, err := jose.ParseSigned(jws)
	require.NoError(t, err)
	payload, err := parsed.Verify(&key.PublicKey)
	require.NoError(t, err)

	var got tokenengine.IDTokenClaims
	require.NoError(t, json.Unmarshal(payload, &got))
	require.Equal(t, claims.Subject, got.Subject)
	require.Equal(t, claims.Nonce, got.Nonce)
	require.NotEmpty(t, got.ATHash)
}

func TestSignIDToken_NoAccessTokenLeavesATHashEmpty(t *testing.T) {
	signer, key := testSigner(t)
	jws, err := signer.SignIDToken(tokenengine.IDTokenClaims{Subject: "user1"}, "")
	require.NoError(t, err)

	parsed, err := jose.ParseSigned(jws)
	require.NoError(t, err)
	payload, err := parsed.Verify(&key.PublicKey)
	require.NoError(t, err)

	var got tokenengine.IDTokenClaims
	require.NoError(t, json.Unmarshal(payload, &got))
	require.Empty(t, got.ATHash)
}
