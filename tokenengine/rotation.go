package tokenengine

import (
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"sync"
	"time"

	jose "gopkg.in/square/go-jose.v2"
)

// publicJWK strips a signing JSONWebKey down to the public half suitable
// for a JWKS document, the same shape callers publish alongside the
// active signer's key.
func publicJWK(key *jose.JSONWebKey) (*jose.JSONWebKey, error) {
	priv, ok := key.Key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("unsupported signing key type %T", key.Key)
	}
	return &jose.JSONWebKey{Key: &priv.PublicKey, KeyID: key.KeyID, Algorithm: key.Algorithm, Use: key.Use}, nil
}

// KeyRotator holds the currently-active signing key plus enough recently
// retired ones for in-flight ID tokens to keep verifying, generalizing a
// periodic key-swap loop into something IssueIDToken callers can share
// across goroutines without caring about rotation timing.
type KeyRotator struct {
	mu        sync.RWMutex
	active    *Signer
	retired   []*jose.JSONWebKey
	retiredAt []time.Time
	keyBits   int
	retainFor time.Duration
}

// NewKeyRotator wraps an already-built Signer as the initial active key.
// retainFor controls how long a retired key's public half stays in
// VerificationKeys after being superseded — it should cover the longest
// ID token lifetime the instance issues.
func NewKeyRotator(initial *Signer, keyBits int, retainFor time.Duration) *KeyRotator {
	if keyBits <= 0 {
		keyBits = 2048
	}
	if retainFor <= 0 {
		retainFor = time.Hour
	}
	return &KeyRotator{active: initial, keyBits: keyBits, retainFor: retainFor}
}

// Active returns the signer new ID tokens should be signed with.
func (r *KeyRotator) Active() *Signer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// Rotate generates a fresh RSA signing key, retires the current one into
// the verification set, and makes the new key active. keyID should be
// unique per rotation (e.g. a timestamp-derived string) so JWKS consumers
// can tell keys apart.
func (r *KeyRotator) Rotate(keyID string) error {
	key, err := rsa.GenerateKey(rand.Reader, r.keyBits)
	if err != nil {
		return fmt.Errorf("generate rotated signing key: %w", err)
	}
	jwk := &jose.JSONWebKey{Key: key, KeyID: keyID, Algorithm: string(jose.RS256), Use: "sig"}
	signer, err := NewSigner(jwk, jose.RS256)
	if err != nil {
		return fmt.Errorf("build rotated signer: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil {
		pub, err := publicJWK(r.active.key)
		if err != nil {
			return err
		}
		r.retired = append(r.retired, pub)
		r.retiredAt = append(r.retiredAt, time.Now())
	}
	r.active = signer
	r.pruneExpiredLocked()
	return nil
}

// VerificationKeys returns the active key's public half plus any retired
// key still within retainFor, for publishing as the instance's JWKS.
func (r *KeyRotator) VerificationKeys() ([]*jose.JSONWebKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]*jose.JSONWebKey, 0, len(r.retired)+1)
	if r.active != nil {
		pub, err := publicJWK(r.active.key)
		if err != nil {
			return nil, err
		}
		keys = append(keys, pub)
	}
	now := time.Now()
	for i, k := range r.retired {
		if now.Sub(r.retiredAt[i]) < r.retainFor {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (r *KeyRotator) pruneExpiredLocked() {
	live := r.retired[:0]
	liveAt := r.retiredAt[:0]
	now := time.Now()
	for i, k := range r.retired {
		if now.Sub(r.retiredAt[i]) < r.retainFor {
			live = append(live, k)
			liveAt = append(liveAt, r.retiredAt[i])
		}
	}
	r.retired = live
	r.retiredAt = liveAt
}

// StartRotation runs Rotate every interval until done is closed,
// deriving each new key's ID from the rotation time so JWKS consumers can
// order keys without out-of-band coordination. Errors are reported to
// onError rather than aborting the loop, since a single failed rotation
// should not strand the instance on its current key indefinitely.
func (r *KeyRotator) StartRotation(done <-chan struct{}, interval time.Duration, onError func(error)) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case t := <-ticker.C:
				if err := r.Rotate(fmt.Sprintf("rot-%d", t.Unix())); err != nil && onError != nil {
					onError(err)
				}
			}
		}
	}()
}
