package tokenengine

import (
	"crypto/ecdsa"
	"fmt"
	"time"

	jose "gopkg.in/square/go-jose.v2"
)

// AppleClientSecretTTL is the maximum validity Apple accepts for a
// client_secret JWT: six months.
const AppleClientSecretTTL = 180 * 24 * time.Hour

const appleAudience = "https://appleid.apple.com"

// SignAppleClientSecret synthesizes the client_secret Sign in with Apple
// requires in place of a static shared secret: a JWT signed with the
// developer team's ES256 private key, asserting the team as issuer and
// the OAuth client as subject, per Apple's "Generate and validate tokens"
// guide.
func SignAppleClientSecret(key *ecdsa.PrivateKey, keyID, teamID, clientID string, now time.Time, ttl time.Duration) (string, error) {
	if ttl <= 0 || ttl > AppleClientSecretTTL {
		ttl = AppleClientSecretTTL
	}
	jwk := &jose.JSONWebKey{Key: key, KeyID: keyID, Algorithm: string(jose.ES256), Use: "sig"}
	signer, err := NewSigner(jwk, jose.ES256)
	if err != nil {
		return "", fmt.Errorf("apple client secret signer: %w", err)
	}
	claims := IDTokenClaims{
		Issuer:   teamID,
		Subject:  clientID,
		Audience: []string{appleAudience},
		IssuedAt: now.Unix(),
		Expiry:   now.Add(ttl).Unix(),
	}
	return signer.SignIDToken(claims, "")
}
