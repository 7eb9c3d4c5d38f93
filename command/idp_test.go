package command

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"testing"

	jose "gopkg.in/square/go-jose.v2"

	"github.com/stretchr/testify/require"

	"github.com/authapp/iamcore/domain"
	"github.com/authapp/iamcore/tokenengine"
)

func appleTestKeyPEM(t *testing.T) (*ecdsa.PrivateKey, []byte) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	return key, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})
}

func TestAddAppleIDP_SynthesizesClientSecretJWT(t *testing.T) {
	d := newTestDispatcher()
	cc := domain.Context{InstanceID: "inst1"}
	ctx := context.Background()
	owner := domain.ResourceOwner{Type: domain.OwnerOrg, ID: "org1"}

	key, keyPEM := appleTestKeyPEM(t)
	_, err := d.AddAppleIDP(ctx, cc, owner, "idp1", AppleIDPData{
		Name: "Apple", TeamID: "TEAM123", ClientID: "com.example.app", KeyID: "KEY456", PrivateKey: keyPEM,
	})
	require.NoError(t, err)

	wm := &idpState{}
	_, err = loadWriteModel(ctx, d.store, cc.InstanceID, domain.AggregateIDP, "idp1", wm)
	require.NoError(t, err)
	require.True(t, wm.exists)
	require.Equal(t, domain.IDPKindApple, wm.kind)

	secret, err := synthesizeAppleClientSecret(AppleIDPData{
		TeamID: "TEAM123", ClientID: "com.example.app", KeyID: "KEY456", PrivateKey: keyPEM,
	})
	require.NoError(t, err)

	parsed, err := jose.ParseSigned(secret)
	require.NoError(t, err)
	payload, err := parsed.Verify(&key.PublicKey)
	require.NoError(t, err)

	var claims tokenengine.IDTokenClaims
	require.NoError(t, json.Unmarshal(payload, &claims))
	require.Equal(t, "TEAM123", claims.Issuer)
	require.Equal(t, "com.example.app", claims.Subject)
	require.Equal(t, []string{"https://appleid.apple.com"}, claims.Audience)
}

func TestSynthesizeAppleClientSecret_BadPEM(t *testing.T) {
	_, err := synthesizeAppleClientSecret(AppleIDPData{PrivateKey: []byte("not pem")})
	require.Error(t, err)
}

func TestAddGoogleIDP_SynthesizesOIDCConfig(t *testing.T) {
	d := newTestDispatcher()
	cc := domain.Context{InstanceID: "inst1"}
	ctx := context.Background()
	owner := domain.ResourceOwner{Type: domain.OwnerOrg, ID: "org1"}

	_, err := d.AddGoogleIDP(ctx, cc, owner, "idp1", GoogleIDPData{
		Name: "Google", ClientID: "gclient", ClientSecret: "gsecret",
	})
	require.NoError(t, err)
}

func TestAddIDP_InstanceVsOrgEventScope(t *testing.T) {
	d := newTestDispatcher()
	cc := domain.Context{InstanceID: "inst1"}
	ctx := context.Background()

	orgOwner := domain.ResourceOwner{Type: domain.OwnerOrg, ID: "org1"}
	_, err := d.AddOIDCIDP(ctx, cc, orgOwner, "idp1", OIDCIDPData{Name: "Okta", Issuer: "https://okta.example.com"})
	require.NoError(t, err)

	instOwner := domain.ResourceOwner{Type: domain.OwnerInstance, ID: "inst1"}
	_, err = d.AddOIDCIDP(ctx, cc, instOwner, "idp2", OIDCIDPData{Name: "Okta instance-wide", Issuer: "https://okta.example.com"})
	require.NoError(t, err)
}

func TestRemoveIDP(t *testing.T) {
	d := newTestDispatcher()
	cc := domain.Context{InstanceID: "inst1"}
	ctx := context.Background()
	owner := domain.ResourceOwner{Type: domain.OwnerOrg, ID: "org1"}

	_, err := d.AddOIDCIDP(ctx, cc, owner, "idp1", OIDCIDPData{Name: "Okta", Issuer: "https://okta.example.com"})
	require.NoError(t, err)

	_, err = d.RemoveIDP(ctx, cc, "idp1")
	require.NoError(t, err)

	_, err = d.ChangeIDP(ctx, cc, "idp1", ChangeIDPData{Name: "renamed"})
	require.Error(t, err)
}
