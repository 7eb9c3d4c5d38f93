package command

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/authapp/iamcore/domain"
)

func TestAddOrg_DuplicateNameInstanceWide(t *testing.T) {
	d := newTestDispatcher()
	cc := domain.Context{InstanceID: "inst1"}
	ctx := context.Background()

	_, err := d.AddOrg(ctx, cc, "org1", AddOrgData{Name: "acme"})
	require.NoError(t, err)

	_, err = d.AddOrg(ctx, cc, "org2", AddOrgData{Name: "acme"})
	require.Error(t, err)
	require.True(t, domain.IsKind(err, domain.KindUniqueConstraintViolation))
}

func TestAddOrgDomain_PrimarySwitch(t *testing.T) {
	d := newTestDispatcher()
	cc := domain.Context{InstanceID: "inst1"}
	ctx := context.Background()

	_, err := d.AddOrg(ctx, cc, "org1", AddOrgData{Name: "acme"})
	require.NoError(t, err)

	_, err = d.AddOrgDomain(ctx, cc, "org1", AddDomainData{Domain: "acme.com", IsPrimary: true})
	require.NoError(t, err)

	_, err = d.AddOrgDomain(ctx, cc, "org1", AddDomainData{Domain: "acme.io", IsPrimary: true})
	require.NoError(t, err)
}

func TestRemoveOrgDomain_CannotRemovePrimary(t *testing.T) {
	d := newTestDispatcher()
	cc := domain.Context{InstanceID: "inst1"}
	ctx := context.Background()

	_, err := d.AddOrg(ctx, cc, "org1", AddOrgData{Name: "acme"})
	require.NoError(t, err)

	_, err = d.AddOrgDomain(ctx, cc, "org1", AddDomainData{Domain: "acme.com", IsPrimary: true})
	require.NoError(t, err)

	_, err = d.RemoveOrgDomain(ctx, cc, "org1", "acme.com")
	require.Error(t, err)
	require.True(t, domain.IsKind(err, domain.KindPrecondition))
}

func TestOrgMember_ChangeIsNoopOnSameRoles(t *testing.T) {
	d := newTestDispatcher()
	cc := domain.Context{InstanceID: "inst1"}
	ctx := context.Background()

	_, err := d.AddOrg(ctx, cc, "org1", AddOrgData{Name: "acme"})
	require.NoError(t, err)

	_, err = d.AddOrgMember(ctx, cc, "org1", AddOrgMemberData{UserID: "user1", Roles: []string{"admin"}})
	require.NoError(t, err)

	version, err := d.ChangeOrgMember(ctx, cc, "org1", AddOrgMemberData{UserID: "user1", Roles: []string{"admin"}})
	require.NoError(t, err)
	require.Equal(t, int64(2), version)
}
