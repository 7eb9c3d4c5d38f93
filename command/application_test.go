package command

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/authapp/iamcore/domain"
)

func TestAddApplication_RequiresRedirectURI(t *testing.T) {
	d := newTestDispatcher()
	cc := domain.Context{InstanceID: "inst1"}
	ctx := context.Background()

	_, _, err := d.AddApplication(ctx, cc, "org1", "app1", AddApplicationData{Name: "web"})
	require.Error(t, err)
	require.True(t, domain.IsKind(err, domain.KindInvalidInput))
}

func TestRemoveRedirectURI_CannotRemoveLast(t *testing.T) {
	d := newTestDispatcher()
	cc := domain.Context{InstanceID: "inst1"}
	ctx := context.Background()

	_, _, err := d.AddApplication(ctx, cc, "org1", "app1", AddApplicationData{
		Name: "web", RedirectURIs: []string{"https://app.example.com/callback"},
	})
	require.NoError(t, err)

	_, err = d.RemoveApplicationRedirectURI(ctx, cc, "app1", "https://app.example.com/callback")
	require.Error(t, err)
	require.True(t, domain.IsKind(err, domain.KindPrecondition))
}

func TestRemoveRedirectURI_AllowedWithMultiple(t *testing.T) {
	d := newTestDispatcher()
	cc := domain.Context{InstanceID: "inst1"}
	ctx := context.Background()

	_, _, err := d.AddApplication(ctx, cc, "org1", "app1", AddApplicationData{
		Name: "web", RedirectURIs: []string{"https://a.example.com", "https://b.example.com"},
	})
	require.NoError(t, err)

	_, err = d.RemoveApplicationRedirectURI(ctx, cc, "app1", "https://a.example.com")
	require.NoError(t, err)

	_, err = d.RemoveApplicationRedirectURI(ctx, cc, "app1", "https://b.example.com")
	require.Error(t, err)
	require.True(t, domain.IsKind(err, domain.KindPrecondition))
}

func TestChangeApplicationSecret(t *testing.T) {
	d := newTestDispatcher()
	cc := domain.Context{InstanceID: "inst1"}
	ctx := context.Background()

	_, _, err := d.AddApplication(ctx, cc, "org1", "app1", AddApplicationData{
		Name: "web", RedirectURIs: []string{"https://a.example.com"},
	})
	require.NoError(t, err)

	version, err := d.ChangeApplicationSecret(ctx, cc, "app1", ChangeApplicationSecretData{Secret: "s3cr3t"})
	require.NoError(t, err)
	require.Equal(t, int64(2), version)
}

func TestRegistrationConfiguration_Lifecycle(t *testing.T) {
	d := newTestDispatcher()
	cc := domain.Context{InstanceID: "inst1"}
	ctx := context.Background()

	token, _, err := d.AddApplication(ctx, cc, "org1", "app1", AddApplicationData{
		Name: "web", RedirectURIs: []string{"https://a.example.com"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	_, err = d.UpdateApplicationConfiguration(ctx, cc, "app1", RegistrationConfigData{
		RegistrationAccessToken: "wrong-token", Name: "renamed", RedirectURIs: []string{"https://b.example.com"},
	})
	require.Error(t, err)
	require.True(t, domain.IsKind(err, domain.KindPermissionDenied))

	_, err = d.UpdateApplicationConfiguration(ctx, cc, "app1", RegistrationConfigData{
		RegistrationAccessToken: token, Name: "renamed", RedirectURIs: []string{"https://b.example.com"},
	})
	require.NoError(t, err)

	wm := &applicationState{}
	_, err = loadWriteModel(ctx, d.store, cc.InstanceID, domain.AggregateApplication, "app1", wm)
	require.NoError(t, err)
	require.Equal(t, "renamed", wm.name)
	require.Equal(t, []string{"https://b.example.com"}, wm.redirectURIs)

	newToken, _, err := d.RotateRegistrationAccessToken(ctx, cc, "app1", token)
	require.NoError(t, err)
	require.NotEqual(t, token, newToken)

	_, err = d.DeleteApplicationConfiguration(ctx, cc, "app1", token)
	require.Error(t, err, "stale token must be rejected after rotation")

	_, err = d.DeleteApplicationConfiguration(ctx, cc, "app1", newToken)
	require.NoError(t, err)

	_, err = loadWriteModel(ctx, d.store, cc.InstanceID, domain.AggregateApplication, "app1", wm)
	require.NoError(t, err)
	require.Error(t, wm.checkExists())
}
