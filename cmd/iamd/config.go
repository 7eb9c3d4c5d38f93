package main

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"log/slog"
	"os"
	"time"

	jose "gopkg.in/square/go-jose.v2"

	"github.com/authapp/iamcore/eventstore"
	"github.com/authapp/iamcore/eventstore/memory"
	sqlstore "github.com/authapp/iamcore/eventstore/sql"
	"github.com/authapp/iamcore/tokenengine"
)

// Config is the config format for iamd: a top-level struct with a
// polymorphic Storage field dispatched by a "type" discriminator.
type Config struct {
	Issuer     string     `json:"issuer"`
	Storage    Storage    `json:"storage"`
	Telemetry  Telemetry  `json:"telemetry"`
	Logger     Logger     `json:"logger"`
	Projection Projection `json:"projection"`
	Signing    Signing    `json:"signing"`
	GC         GC         `json:"gc"`
}

// GC tunes the sweeper that expires stalled auth requests and device
// authorizations.
type GC struct {
	Interval string `json:"interval"`
}

func (g GC) interval() (time.Duration, error) {
	if g.Interval == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(g.Interval)
	if err != nil {
		return 0, fmt.Errorf("invalid gc.interval: %w", err)
	}
	return d, nil
}

// Validate checks the fast, cheap invariants before anything is opened.
func (c Config) Validate() error {
	checks := []struct {
		bad    bool
		errMsg string
	}{
		{c.Issuer == "", "no issuer specified in config file"},
		{c.Storage.Config == nil, "no storage supplied in config file"},
		{c.Telemetry.HTTP == "", "must supply a telemetry HTTP address to listen on"},
	}
	for _, check := range checks {
		if check.bad {
			return fmt.Errorf("invalid config: %s", check.errMsg)
		}
	}
	return nil
}

// Telemetry exposes /metrics and /healthz. This is operational surface,
// separate from any future public transport.
type Telemetry struct {
	HTTP string `json:"http"`
}

// Logger configures the ambient log/slog handler.
type Logger struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Projection tunes the projection.Runtime every table runs under.
type Projection struct {
	PollInterval   string `json:"pollInterval"`
	StallThreshold int64  `json:"stallThreshold"`
	StallDuration  string `json:"stallDuration"`
}

func (p Projection) toRuntimeConfig() (pollInterval, stallDuration time.Duration, err error) {
	if p.PollInterval != "" {
		if pollInterval, err = time.ParseDuration(p.PollInterval); err != nil {
			return 0, 0, fmt.Errorf("invalid projection.pollInterval: %w", err)
		}
	}
	if p.StallDuration != "" {
		if stallDuration, err = time.ParseDuration(p.StallDuration); err != nil {
			return 0, 0, fmt.Errorf("invalid projection.stallDuration: %w", err)
		}
	}
	return pollInterval, stallDuration, nil
}

// Signing configures the key the token engine signs ID tokens with.
// KeyFile is a PEM-encoded PKCS#1 or PKCS#8 RSA private key; if empty, a
// fresh 2048-bit key is generated at startup (development only — its
// public key is never published anywhere callers can discover it across
// a restart).
type Signing struct {
	KeyFile string `json:"keyFile"`
	KeyID   string `json:"keyID"`
	// RotationInterval, if set, enables periodic key rotation: a fresh
	// signing key replaces the active one on this cadence, with the
	// retired key's public half kept around for RetainFor so tokens
	// signed just before a rotation still verify.
	RotationInterval string `json:"rotationInterval"`
	RetainFor        string `json:"retainFor"`
}

func (s Signing) rotationConfig() (interval, retainFor time.Duration, err error) {
	if s.RotationInterval == "" {
		return 0, 0, nil
	}
	if interval, err = time.ParseDuration(s.RotationInterval); err != nil {
		return 0, 0, fmt.Errorf("invalid signing.rotationInterval: %w", err)
	}
	if s.RetainFor != "" {
		if retainFor, err = time.ParseDuration(s.RetainFor); err != nil {
			return 0, 0, fmt.Errorf("invalid signing.retainFor: %w", err)
		}
	}
	return interval, retainFor, nil
}

// buildSigner loads (or generates) the RSA signing key and wraps it in a
// tokenengine.Signer.
func (s Signing) buildSigner() (*tokenengine.Signer, error) {
	keyID := s.KeyID
	if keyID == "" {
		keyID = "default"
	}

	var key *rsa.PrivateKey
	if s.KeyFile == "" {
		generated, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, fmt.Errorf("generate signing key: %w", err)
		}
		key = generated
	} else {
		raw, err := os.ReadFile(s.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("read signing key file %s: %w", s.KeyFile, err)
		}
		parsed, err := parseRSAPrivateKeyPEM(raw)
		if err != nil {
			return nil, fmt.Errorf("parse signing key file %s: %w", s.KeyFile, err)
		}
		key = parsed
	}

	jwk := &jose.JSONWebKey{Key: key, KeyID: keyID, Algorithm: string(jose.RS256), Use: "sig"}
	return tokenengine.NewSigner(jwk, jose.RS256)
}

func parseRSAPrivateKeyPEM(raw []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("not a PKCS#1 or PKCS#8 RSA key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("PKCS#8 key is not RSA")
	}
	return key, nil
}

// Storage holds the event store's configuration.
type Storage struct {
	Type   string        `json:"type"`
	Config StorageConfig `json:"config"`
}

// StorageConfig is a configuration that can open an eventstore.Store.
type StorageConfig interface {
	Open(logger *slog.Logger) (eventstore.Store, error)
}

var (
	_ StorageConfig = (*memoryConfig)(nil)
	_ StorageConfig = (*sqlstore.SQLite)(nil)
	_ StorageConfig = (*sqlstore.Postgres)(nil)
)

// memoryConfig opens the in-memory event store, for development and tests.
type memoryConfig struct{}

func (memoryConfig) Open(*slog.Logger) (eventstore.Store, error) { return memory.New(), nil }

var storageBackends = map[string]func() StorageConfig{
	"memory":   func() StorageConfig { return &memoryConfig{} },
	"sqlite":   func() StorageConfig { return &sqlstore.SQLite{} },
	"postgres": func() StorageConfig { return &sqlstore.Postgres{} },
}

// UnmarshalJSON dynamically determines the storage backend from its "type"
// discriminator before decoding the rest into the matching config struct.
func (s *Storage) UnmarshalJSON(b []byte) error {
	var store struct {
		Type   string          `json:"type"`
		Config json.RawMessage `json:"config"`
	}
	if err := json.Unmarshal(b, &store); err != nil {
		return fmt.Errorf("parse storage: %v", err)
	}
	f, ok := storageBackends[store.Type]
	if !ok {
		return fmt.Errorf("unknown storage type %q", store.Type)
	}
	cfg := f()
	if len(store.Config) != 0 {
		if err := json.Unmarshal(store.Config, cfg); err != nil {
			return fmt.Errorf("parse storage config: %v", err)
		}
	}
	*s = Storage{Type: store.Type, Config: cfg}
	return nil
}
