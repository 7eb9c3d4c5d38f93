package command

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/authapp/iamcore/domain"
)

var userCodePattern = regexp.MustCompile(`^[A-Z2-7]{4}-[A-Z2-7]{4}$`)

func TestAddDeviceAuth_GeneratesCodes(t *testing.T) {
	d := newTestDispatcher()
	cc := domain.Context{InstanceID: "inst1"}
	ctx := context.Background()

	deviceCode, userCode, verificationURIComplete, version, err := d.AddDeviceAuth(ctx, cc, "da1", AddDeviceAuthData{
		ClientID: "client1", VerificationURI: "https://example.com/device",
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), version)
	require.NotEmpty(t, deviceCode)
	require.Regexp(t, userCodePattern, userCode)
	require.Equal(t, "https://example.com/device?user_code="+userCode, verificationURIComplete)
}

func TestApproveDeviceAuth_UserMismatch(t *testing.T) {
	d := newTestDispatcher()
	cc := domain.Context{InstanceID: "inst1", UserID: "user1"}
	ctx := context.Background()

	_, userCode, _, _, err := d.AddDeviceAuth(ctx, cc, "da1", AddDeviceAuthData{
		ClientID: "client1", VerificationURI: "https://example.com/device",
	})
	require.NoError(t, err)

	_, err = d.ApproveDeviceAuth(ctx, cc, "da1", userCode, "someone-else")
	require.Error(t, err)
	require.True(t, domain.IsKind(err, domain.KindPermissionDenied))
}

func TestApproveDeviceAuth_Success(t *testing.T) {
	d := newTestDispatcher()
	cc := domain.Context{InstanceID: "inst1", UserID: "user1"}
	ctx := context.Background()

	_, userCode, _, _, err := d.AddDeviceAuth(ctx, cc, "da1", AddDeviceAuthData{
		ClientID: "client1", VerificationURI: "https://example.com/device",
	})
	require.NoError(t, err)

	_, err = d.ApproveDeviceAuth(ctx, cc, "da1", userCode, "user1")
	require.NoError(t, err)

	_, err = d.DenyDeviceAuth(ctx, cc, "da1")
	require.Error(t, err)
	require.ErrorIs(t, err, errAlreadyTerminal)
}

func TestCancelDeviceAuth_DistinctFromExpired(t *testing.T) {
	d := newTestDispatcher()
	cc := domain.Context{InstanceID: "inst1"}
	ctx := context.Background()

	_, _, _, _, err := d.AddDeviceAuth(ctx, cc, "da1", AddDeviceAuthData{ClientID: "client1", VerificationURI: "https://example.com/device"})
	require.NoError(t, err)
	_, err = d.CancelDeviceAuth(ctx, cc, "da1")
	require.NoError(t, err)

	wm := &deviceAuthState{}
	_, err = loadWriteModel(ctx, d.store, cc.InstanceID, domain.AggregateDeviceAuth, "da1", wm)
	require.NoError(t, err)
	require.Equal(t, deviceAuthCancelled, wm.status)
	require.NotEqual(t, deviceAuthExpired, wm.status)
}

func TestResolveDeviceAuthExchange(t *testing.T) {
	now := time.Now()

	t.Run("unknown device code is invalid_grant", func(t *testing.T) {
		wm := &deviceAuthState{}
		_, errCode := ResolveDeviceAuthExchange(wm, "client1", now)
		require.Equal(t, OAuthInvalidGrant, errCode)
	})

	t.Run("client mismatch is invalid_client", func(t *testing.T) {
		wm := &deviceAuthState{exists: true, status: deviceAuthPending, clientID: "client1"}
		_, errCode := ResolveDeviceAuthExchange(wm, "someone-else", now)
		require.Equal(t, OAuthInvalidClient, errCode)
	})

	t.Run("pending and not expired is authorization_pending", func(t *testing.T) {
		wm := &deviceAuthState{exists: true, status: deviceAuthPending, clientID: "client1", expiresAt: now.Add(time.Minute)}
		_, errCode := ResolveDeviceAuthExchange(wm, "client1", now)
		require.Equal(t, OAuthAuthorizationPending, errCode)
	})

	t.Run("pending past its deadline is expired_token", func(t *testing.T) {
		wm := &deviceAuthState{exists: true, status: deviceAuthPending, clientID: "client1", expiresAt: now.Add(-time.Minute)}
		_, errCode := ResolveDeviceAuthExchange(wm, "client1", now)
		require.Equal(t, OAuthExpiredToken, errCode)
	})

	t.Run("denied is access_denied", func(t *testing.T) {
		wm := &deviceAuthState{exists: true, status: deviceAuthDenied, clientID: "client1"}
		_, errCode := ResolveDeviceAuthExchange(wm, "client1", now)
		require.Equal(t, OAuthAccessDenied, errCode)
	})

	t.Run("cancelled is access_denied", func(t *testing.T) {
		wm := &deviceAuthState{exists: true, status: deviceAuthCancelled, clientID: "client1"}
		_, errCode := ResolveDeviceAuthExchange(wm, "client1", now)
		require.Equal(t, OAuthAccessDenied, errCode)
	})

	t.Run("expired is expired_token", func(t *testing.T) {
		wm := &deviceAuthState{exists: true, status: deviceAuthExpired, clientID: "client1"}
		_, errCode := ResolveDeviceAuthExchange(wm, "client1", now)
		require.Equal(t, OAuthExpiredToken, errCode)
	})

	t.Run("approved returns the user id and no error", func(t *testing.T) {
		wm := &deviceAuthState{exists: true, status: deviceAuthApproved, clientID: "client1", approvedUserID: "user1"}
		userID, errCode := ResolveDeviceAuthExchange(wm, "client1", now)
		require.Empty(t, errCode)
		require.Equal(t, "user1", userID)
	})
}

func TestExpireDeviceAuth(t *testing.T) {
	d := newTestDispatcher()
	cc := domain.Context{InstanceID: "inst1"}
	ctx := context.Background()

	_, _, _, _, err := d.AddDeviceAuth(ctx, cc, "da1", AddDeviceAuthData{
		ClientID: "client1", VerificationURI: "https://example.com/device", TTL: time.Minute,
	})
	require.NoError(t, err)

	now := time.Now()

	_, err = d.ExpireDeviceAuth(ctx, cc, "da1", now)
	require.NoError(t, err)
	wm := &deviceAuthState{}
	_, err = loadWriteModel(ctx, d.store, cc.InstanceID, domain.AggregateDeviceAuth, "da1", wm)
	require.NoError(t, err)
	require.Equal(t, deviceAuthPending, wm.status, "not yet past its TTL")

	_, err = d.ExpireDeviceAuth(ctx, cc, "da1", now.Add(2*time.Minute))
	require.NoError(t, err)
	wm = &deviceAuthState{}
	_, err = loadWriteModel(ctx, d.store, cc.InstanceID, domain.AggregateDeviceAuth, "da1", wm)
	require.NoError(t, err)
	require.Equal(t, deviceAuthExpired, wm.status)
}

func TestAddDeviceAuth_TwoFlowsBothSucceed(t *testing.T) {
	d := newTestDispatcher()
	cc := domain.Context{InstanceID: "inst1"}
	ctx := context.Background()

	_, _, _, _, err := d.AddDeviceAuth(ctx, cc, "da1", AddDeviceAuthData{ClientID: "client1", VerificationURI: "https://example.com/device"})
	require.NoError(t, err)
	_, _, _, _, err = d.AddDeviceAuth(ctx, cc, "da2", AddDeviceAuthData{ClientID: "client1", VerificationURI: "https://example.com/device"})
	require.NoError(t, err)
}
