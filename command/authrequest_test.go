package command

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/authapp/iamcore/domain"
)

func TestAuthRequestFlow_Success(t *testing.T) {
	d := newTestDispatcher()
	cc := domain.Context{InstanceID: "inst1"}
	ctx := context.Background()

	_, err := d.AddAuthRequest(ctx, cc, "org1", "ar1", AddAuthRequestData{
		ClientID: "client1", RedirectURI: "https://app.example.com/callback", ResponseType: "code",
	})
	require.NoError(t, err)

	_, err = d.SelectUser(ctx, cc, "ar1", "user1")
	require.NoError(t, err)

	_, err = d.CheckPassword(ctx, cc, "ar1", true)
	require.NoError(t, err)

	_, err = d.SucceedAuthRequest(ctx, cc, "ar1", RequiredFactors{Password: true})
	require.NoError(t, err)

	_, err = d.FailAuthRequest(ctx, cc, "ar1", "invalid_request")
	require.ErrorIs(t, err, errAlreadyTerminal)
}

func TestSucceedAuthRequest_RequiresSelectedUser(t *testing.T) {
	d := newTestDispatcher()
	cc := domain.Context{InstanceID: "inst1"}
	ctx := context.Background()

	_, err := d.AddAuthRequest(ctx, cc, "org1", "ar1", AddAuthRequestData{
		ClientID: "client1", RedirectURI: "https://app.example.com/callback",
	})
	require.NoError(t, err)

	_, err = d.SucceedAuthRequest(ctx, cc, "ar1", RequiredFactors{})
	require.Error(t, err)
	require.True(t, domain.IsKind(err, domain.KindPrecondition))
}

func TestSucceedAuthRequest_RequiresFactor(t *testing.T) {
	d := newTestDispatcher()
	cc := domain.Context{InstanceID: "inst1"}
	ctx := context.Background()

	_, err := d.AddAuthRequest(ctx, cc, "org1", "ar1", AddAuthRequestData{
		ClientID: "client1", RedirectURI: "https://app.example.com/callback",
	})
	require.NoError(t, err)

	_, err = d.SelectUser(ctx, cc, "ar1", "user1")
	require.NoError(t, err)

	_, err = d.SucceedAuthRequest(ctx, cc, "ar1", RequiredFactors{TOTP: true})
	require.Error(t, err)
	require.True(t, domain.IsKind(err, domain.KindPrecondition))
}

func TestExpireAuthRequest(t *testing.T) {
	d := newTestDispatcher()
	cc := domain.Context{InstanceID: "inst1"}
	ctx := context.Background()

	_, err := d.AddAuthRequest(ctx, cc, "org1", "ar1", AddAuthRequestData{
		ClientID: "client1", RedirectURI: "https://app.example.com/callback", TTL: time.Minute,
	})
	require.NoError(t, err)

	now := time.Now()
	_, err = d.ExpireAuthRequest(ctx, cc, "ar1", now)
	require.NoError(t, err)
	wm := &authRequestState{}
	_, err = loadWriteModel(ctx, d.store, cc.InstanceID, domain.AggregateAuthRequest, "ar1", wm)
	require.NoError(t, err)
	require.False(t, wm.terminal, "not yet past its TTL")

	_, err = d.ExpireAuthRequest(ctx, cc, "ar1", now.Add(2*time.Minute))
	require.NoError(t, err)
	wm = &authRequestState{}
	_, err = loadWriteModel(ctx, d.store, cc.InstanceID, domain.AggregateAuthRequest, "ar1", wm)
	require.NoError(t, err)
	require.True(t, wm.terminal)

	_, err = d.SucceedAuthRequest(ctx, cc, "ar1", RequiredFactors{})
	require.ErrorIs(t, err, errAlreadyTerminal)
}

func TestAuthRequestWithoutTTL_NeverExpires(t *testing.T) {
	d := newTestDispatcher()
	cc := domain.Context{InstanceID: "inst1"}
	ctx := context.Background()

	_, err := d.AddAuthRequest(ctx, cc, "org1", "ar1", AddAuthRequestData{
		ClientID: "client1", RedirectURI: "https://app.example.com/callback",
	})
	require.NoError(t, err)

	_, err = d.ExpireAuthRequest(ctx, cc, "ar1", time.Now().Add(100*365*24*time.Hour))
	require.NoError(t, err)
	wm := &authRequestState{}
	_, err = loadWriteModel(ctx, d.store, cc.InstanceID, domain.AggregateAuthRequest, "ar1", wm)
	require.NoError(t, err)
	require.False(t, wm.terminal)
}

func TestVerifyPKCE_S256(t *testing.T) {
	verifier := "a-fine-verifier-value-that-is-long-enough"
	sum := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])

	require.True(t, VerifyPKCE(challenge, "S256", verifier))
	require.False(t, VerifyPKCE(challenge, "S256", "wrong-verifier"))
}

func TestVerifyPKCE_Plain(t *testing.T) {
	require.True(t, VerifyPKCE("abc", "plain", "abc"))
	require.False(t, VerifyPKCE("abc", "plain", "xyz"))
}

func TestVerifyPKCE_NoChallengeAlwaysPasses(t *testing.T) {
	require.True(t, VerifyPKCE("", "", "anything"))
}
