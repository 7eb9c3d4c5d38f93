package command

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/authapp/iamcore/domain"
	"github.com/authapp/iamcore/eventstore/memory"
)

func newTestDispatcher() *Dispatcher {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	return NewDispatcher(memory.New(), logger, nil)
}

func TestAddHumanUser(t *testing.T) {
	d := newTestDispatcher()
	cc := domain.Context{InstanceID: "inst1"}

	version, err := d.AddHumanUser(context.Background(), cc, "org1", "user1", AddHumanUserData{Username: "alice", Email: "alice@example.com"})
	require.NoError(t, err)
	require.Equal(t, int64(1), version)
}

func TestAddHumanUser_DuplicateUsernameSameOrg(t *testing.T) {
	d := newTestDispatcher()
	cc := domain.Context{InstanceID: "inst1"}
	ctx := context.Background()

	_, err := d.AddHumanUser(ctx, cc, "org1", "user1", AddHumanUserData{Username: "bob"})
	require.NoError(t, err)

	_, err = d.AddHumanUser(ctx, cc, "org1", "user2", AddHumanUserData{Username: "bob"})
	require.Error(t, err)
	require.True(t, domain.IsKind(err, domain.KindUniqueConstraintViolation))
}

func TestAddHumanUser_SameUsernameDifferentOrgsAllowed(t *testing.T) {
	d := newTestDispatcher()
	cc := domain.Context{InstanceID: "inst1"}
	ctx := context.Background()

	_, err := d.AddHumanUser(ctx, cc, "org1", "user1", AddHumanUserData{Username: "bob"})
	require.NoError(t, err)

	_, err = d.AddHumanUser(ctx, cc, "org2", "user2", AddHumanUserData{Username: "bob"})
	require.NoError(t, err)
}

func TestDeactivateReactivateUser(t *testing.T) {
	d := newTestDispatcher()
	cc := domain.Context{InstanceID: "inst1"}
	ctx := context.Background()

	_, err := d.AddHumanUser(ctx, cc, "org1", "user1", AddHumanUserData{Username: "carol"})
	require.NoError(t, err)

	_, err = d.DeactivateUser(ctx, cc, "user1")
	require.NoError(t, err)

	_, err = d.DeactivateUser(ctx, cc, "user1")
	require.Error(t, err)
	require.True(t, domain.IsKind(err, domain.KindPrecondition))

	_, err = d.ReactivateUser(ctx, cc, "user1")
	require.NoError(t, err)
}

func TestChangeUsername_NoopWhenUnchanged(t *testing.T) {
	d := newTestDispatcher()
	cc := domain.Context{InstanceID: "inst1"}
	ctx := context.Background()

	_, err := d.AddHumanUser(ctx, cc, "org1", "user1", AddHumanUserData{Username: "dave"})
	require.NoError(t, err)

	version, err := d.ChangeUsername(ctx, cc, "user1", ChangeUsernameData{Username: "dave"})
	require.NoError(t, err)
	require.Equal(t, int64(1), version)
}

func TestChangeUsername_FreesOldClaim(t *testing.T) {
	d := newTestDispatcher()
	cc := domain.Context{InstanceID: "inst1"}
	ctx := context.Background()

	_, err := d.AddHumanUser(ctx, cc, "org1", "user1", AddHumanUserData{Username: "erin"})
	require.NoError(t, err)

	_, err = d.ChangeUsername(ctx, cc, "user1", ChangeUsernameData{Username: "erin2"})
	require.NoError(t, err)

	_, err = d.AddHumanUser(ctx, cc, "org1", "user2", AddHumanUserData{Username: "erin"})
	require.NoError(t, err)
}

func TestRemoveUser_ThenCommandsFailPrecondition(t *testing.T) {
	d := newTestDispatcher()
	cc := domain.Context{InstanceID: "inst1"}
	ctx := context.Background()

	_, err := d.AddHumanUser(ctx, cc, "org1", "user1", AddHumanUserData{Username: "frank"})
	require.NoError(t, err)

	_, err = d.RemoveUser(ctx, cc, "user1")
	require.NoError(t, err)

	_, err = d.ChangeProfile(ctx, cc, "user1", ChangeProfileData{Email: "new@example.com"})
	require.Error(t, err)
	require.True(t, domain.IsKind(err, domain.KindPrecondition))
}
