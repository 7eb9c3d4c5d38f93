// Package tokenengine signs the ID tokens the token engine issues
// alongside an opaque access/refresh token, and computes their at_hash.
package tokenengine

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"hash"

	jose "gopkg.in/square/go-jose.v2"
)

// hashForSigAlgo maps a JWS signature algorithm to the hash at_hash is
// derived from: the hash algorithm used in the alg header of the ID
// token, per the OIDC core spec's at_hash definition.
var hashForSigAlgo = map[jose.SignatureAlgorithm]func() hash.Hash{
	jose.RS256: sha256.New,
	jose.RS384: sha512.New384,
	jose.RS512: sha512.New,
	jose.ES256: sha256.New,
	jose.ES384: sha512.New384,
	jose.ES512: sha512.New,
}

// IDTokenClaims is the OIDC ID token claim set signed by Signer.
type IDTokenClaims struct {
	Issuer   string   `json:"iss"`
	Subject  string   `json:"sub"`
	Audience []string `json:"aud"`
	Expiry   int64    `json:"exp"`
	IssuedAt int64    `json:"iat"`
	Nonce    string   `json:"nonce,omitempty"`
	ATHash   string   `json:"at_hash,omitempty"`
}

// Signer signs ID tokens with a single JSON Web Key. One Signer per
// active signing key; key rotation is a matter of swapping Signers, not
// mutating one in place.
type Signer struct {
	key    *jose.JSONWebKey
	alg    jose.SignatureAlgorithm
	signer jose.Signer
}

// NewSigner builds a Signer around a JSON Web Key, registering its kid in
// the protected header so verifiers can match it against the instance's
// published JWKS.
func NewSigner(key *jose.JSONWebKey, alg jose.SignatureAlgorithm) (*Signer, error) {
	signer, err := jose.NewSigner(jose.SigningKey{Key: key, Algorithm: alg}, &jose.SignerOptions{})
	if err != nil {
		return nil, fmt.Errorf("new signer: %w", err)
	}
	return &Signer{key: key, alg: alg, signer: signer}, nil
}

// KeyID returns the signer's active key ID, published in the instance's
// JWKS document alongside the public key.
func (s *Signer) KeyID() string { return s.key.KeyID }

// SignIDToken returns the compact JWS serialization of claims, with
// ATHash populated from accessToken if non-empty.
func (s *Signer) SignIDToken(claims IDTokenClaims, accessToken string) (string, error) {
	if accessToken != "" {
		atHash, err := athash(s.alg, accessToken)
		if err != nil {
			return "", err
		}
		claims.ATHash = atHash
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}
	jws, err := s.signer.Sign(payload)
	if err != nil {
		return "", fmt.Errorf("sign id token: %w", err)
	}
	return jws.CompactSerialize()
}

func athash(alg jose.SignatureAlgorithm, accessToken string) (string, error) {
	newHash, ok := hashForSigAlgo[alg]
	if !ok {
		return "", fmt.Errorf("unsupported signature algorithm for at_hash: %s", alg)
	}
	h := newHash()
	h.Write([]byte(accessToken))
	sum := h.Sum(nil)
	return base64.RawURLEncoding.EncodeToString(sum[:len(sum)/2]), nil
}
